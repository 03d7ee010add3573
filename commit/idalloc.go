package commit

import (
	"context"
	"encoding/binary"

	"osmcore.dev/idcodec"
	"osmcore.dev/store"
)

const tableIdCounter = "element_id_counter"

func counterKey(kind idcodec.Kind) store.Key { return store.Key{byte(kind)} }

// allocateTypedId draws the next raw id for kind from a per-kind monotonic
// counter and encodes it. Counter state lives in the same transaction as
// the rest of the commit, so an allocation is only durable if the whole
// batch commits.
func allocateTypedId(ctx context.Context, txn store.Txn, kind idcodec.Kind) (idcodec.TypedId, error) {
	raw, err := txn.Read(ctx, tableIdCounter, counterKey(kind))
	var next uint64
	if err == nil {
		next = binary.BigEndian.Uint64(raw) + 1
	} else {
		next = 1
	}

	out := make([]byte, 8)
	binary.BigEndian.PutUint64(out, next)
	if err := txn.Put(ctx, tableIdCounter, counterKey(kind), out); err != nil {
		return 0, err
	}
	return idcodec.Encode(kind, next)
}
