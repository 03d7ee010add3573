// Package idcodec packs an OSM element kind and numeric id into a single
// 64-bit TypedId, and parses the "{id}v{version}" reference strings used
// throughout way/relation bodies. It is pure: no I/O, and no dependency on
// any other package in this module except osmerr for its error kinds.
package idcodec

import (
	"strconv"
	"strings"

	"osmcore.dev/osmerr"
)

// Kind identifies the element type a TypedId belongs to.
type Kind int

const (
	// KindUnknown is never a valid decode result; it marks a reserved TypedId.
	KindUnknown Kind = iota
	KindNode
	KindWay
	KindRelation
)

func (k Kind) String() string {
	switch k {
	case KindNode:
		return "node"
	case KindWay:
		return "way"
	case KindRelation:
		return "relation"
	default:
		return "unknown"
	}
}

// TypedId is a 64-bit value whose high bits select the kind. Nodes occupy
// [1, Budget), ways [Budget, 2*Budget), relations [2*Budget, 3*Budget).
// Numeric ordering of TypedIds therefore partitions by kind, so a range
// scan over one kind is contiguous.
type TypedId uint64

// Budget is the number of ids reserved per kind (2^60), giving each kind a
// ~10^18 id space.
const Budget uint64 = 1 << 60

const (
	nodeBase     uint64 = 0
	wayBase      uint64 = Budget
	relationBase uint64 = 2 * Budget
	maxValid     uint64 = 3 * Budget
)

// Encode packs kind and a raw id into a TypedId. id must be in [1, Budget);
// zero is reserved so TypedId(0) is never a valid value. Returns
// osmerr.IdOverflow if id is out of range.
func Encode(kind Kind, id uint64) (TypedId, error) {
	if id == 0 || id >= Budget {
		return 0, osmerr.Errorf(osmerr.KindIdOverflow, "idcodec.Encode", nil)
	}
	var base uint64
	switch kind {
	case KindNode:
		base = nodeBase
	case KindWay:
		base = wayBase
	case KindRelation:
		base = relationBase
	default:
		return 0, osmerr.Errorf(osmerr.KindBadTypedId, "idcodec.Encode", nil)
	}
	return TypedId(base + id), nil
}

// Decode splits a TypedId back into its kind and raw per-kind id. It is
// total over every value produced by Encode and returns osmerr.BadTypedId
// for reserved-range values (0, or >= maxValid).
func Decode(t TypedId) (Kind, uint64, error) {
	v := uint64(t)
	switch {
	case v == 0 || v >= maxValid:
		return KindUnknown, 0, osmerr.Errorf(osmerr.KindBadTypedId, "idcodec.Decode", nil)
	case v < wayBase:
		return KindNode, v - nodeBase, nil
	case v < relationBase:
		return KindWay, v - wayBase, nil
	default:
		return KindRelation, v - relationBase, nil
	}
}

// ParseRef parses a "{id}v{version}" reference, where id is the raw numeric
// TypedId value (not a per-kind id) and version is a strictly positive
// integer. It rejects negative, zero, or missing parts with
// osmerr.BadReference.
func ParseRef(ref string) (TypedId, int64, error) {
	idx := strings.IndexByte(ref, 'v')
	if idx <= 0 || idx == len(ref)-1 {
		return 0, 0, osmerr.Errorf(osmerr.KindBadReference, "idcodec.ParseRef", nil)
	}
	idPart, versionPart := ref[:idx], ref[idx+1:]

	rawID, err := strconv.ParseUint(idPart, 10, 64)
	if err != nil {
		return 0, 0, osmerr.Errorf(osmerr.KindBadReference, "idcodec.ParseRef", err)
	}
	version, err := strconv.ParseInt(versionPart, 10, 64)
	if err != nil || version <= 0 {
		return 0, 0, osmerr.Errorf(osmerr.KindBadReference, "idcodec.ParseRef", err)
	}

	typedID := TypedId(rawID)
	if _, _, err := Decode(typedID); err != nil {
		return 0, 0, osmerr.Errorf(osmerr.KindBadReference, "idcodec.ParseRef", err)
	}
	return typedID, version, nil
}
