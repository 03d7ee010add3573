package materializer

import (
	"context"
	"encoding/binary"
	"encoding/json"

	"osmcore.dev/geom"
	"osmcore.dev/idcodec"
	"osmcore.dev/store"
)

const (
	tableSpatial    = "element_spatial"
	indexSpatialH3  = "element_spatial_h3"
	h3Resolution    = geom.CellResolution(9)
)

// MaterializedGeometry is the latest materialized geometry of a typed-id
// that still exists and is resolvable. Absent rows mean the element is
// deleted or currently unresolvable.
type MaterializedGeometry struct {
	TypedId    idcodec.TypedId  `json:"typed_id"`
	SequenceId store.SequenceID `json:"sequence_id"`
	Geom       geom.Geometry    `json:"geom"`
}

func spatialKey(id idcodec.TypedId) store.Key {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(id))
	return b
}

func h3IndexKey(cell geom.Cell, id idcodec.TypedId) store.Key {
	b := make([]byte, 16)
	binary.BigEndian.PutUint64(b[0:8], uint64(cell))
	binary.BigEndian.PutUint64(b[8:16], uint64(id))
	return b
}

// GetGeometry returns the current materialized geometry of id, or
// ok==false if there is none.
func GetGeometry(ctx context.Context, snap store.Snapshot, id idcodec.TypedId) (MaterializedGeometry, bool, error) {
	raw, err := snap.Read(ctx, tableSpatial, spatialKey(id))
	if err != nil {
		return MaterializedGeometry{}, false, nil
	}
	var g MaterializedGeometry
	if err := json.Unmarshal(raw, &g); err != nil {
		return MaterializedGeometry{}, false, err
	}
	return g, true, nil
}

// PutGeometry upserts id's materialized geometry and its H3 cell index rows,
// first removing any stale cell entries from a prior materialization.
func PutGeometry(ctx context.Context, txn store.Txn, g MaterializedGeometry) error {
	if err := clearH3Index(ctx, txn, g.TypedId); err != nil {
		return err
	}
	raw, err := json.Marshal(g)
	if err != nil {
		return err
	}
	if err := txn.Put(ctx, tableSpatial, spatialKey(g.TypedId), raw); err != nil {
		return err
	}
	for _, cell := range geom.CellsForEnvelope(g.Geom.Envelope, h3Resolution) {
		if err := txn.IndexPut(ctx, indexSpatialH3, h3IndexKey(cell, g.TypedId), spatialKey(g.TypedId)); err != nil {
			return err
		}
	}
	return nil
}

// DeleteGeometry removes id's materialized geometry row, used when the
// element becomes invisible or unresolvable.
func DeleteGeometry(ctx context.Context, txn store.Txn, id idcodec.TypedId) error {
	if err := clearH3Index(ctx, txn, id); err != nil {
		return err
	}
	return txn.Delete(ctx, tableSpatial, spatialKey(id))
}

func clearH3Index(ctx context.Context, txn store.Txn, id idcodec.TypedId) error {
	existing, ok, err := getWithinTxn(ctx, txn, id)
	if err != nil || !ok {
		return err
	}
	for _, cell := range geom.CellsForEnvelope(existing.Geom.Envelope, h3Resolution) {
		if err := txn.IndexDelete(ctx, indexSpatialH3, h3IndexKey(cell, id), spatialKey(id)); err != nil {
			return err
		}
	}
	return nil
}

func getWithinTxn(ctx context.Context, txn store.Txn, id idcodec.TypedId) (MaterializedGeometry, bool, error) {
	raw, err := txn.Read(ctx, tableSpatial, spatialKey(id))
	if err != nil {
		return MaterializedGeometry{}, false, nil
	}
	var g MaterializedGeometry
	if err := json.Unmarshal(raw, &g); err != nil {
		return MaterializedGeometry{}, false, err
	}
	return g, true, nil
}

// ElementsInCells returns every currently-materialized typed-id indexed
// under any of cells.
func ElementsInCells(ctx context.Context, snap store.Snapshot, cells []geom.Cell) ([]idcodec.TypedId, error) {
	seen := make(map[idcodec.TypedId]bool)
	var out []idcodec.TypedId
	for _, cell := range cells {
		it, err := snap.IndexScan(ctx, indexSpatialH3, store.KeyRange{
			Start: h3IndexKey(cell, 0),
			End:   h3IndexKey(cell+1, 0),
		})
		if err != nil {
			return nil, err
		}
		for {
			key, _, ok, err := it.Next(ctx)
			if err != nil {
				it.Close()
				return nil, err
			}
			if !ok {
				break
			}
			id := idcodec.TypedId(binary.BigEndian.Uint64(key[8:16]))
			if !seen[id] {
				seen[id] = true
				out = append(out, id)
			}
		}
		it.Close()
	}
	return out, nil
}
