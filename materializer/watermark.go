package materializer

import (
	"context"
	"encoding/binary"

	"osmcore.dev/store"
)

const (
	tableWatermark = "element_spatial_watermark"
)

var watermarkKey = store.Key("hwm")

// ReadWatermark returns the current spatial watermark, 0 if none has ever
// been written.
func ReadWatermark(ctx context.Context, txn store.Txn) (store.SequenceID, error) {
	raw, err := txn.Read(ctx, tableWatermark, watermarkKey)
	if err != nil {
		return 0, nil // absent means "nothing materialized yet"
	}
	return store.SequenceID(binary.BigEndian.Uint64(raw)), nil
}

// AdvanceWatermark writes hwm unconditionally; callers are responsible for
// only ever calling it with a value not less than the current one, since the
// watermark must only ever advance.
func AdvanceWatermark(ctx context.Context, txn store.Txn, hwm store.SequenceID) error {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(hwm))
	return txn.Put(ctx, tableWatermark, watermarkKey, b)
}
