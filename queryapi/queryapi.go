// Package queryapi is the read-side surface: element-by-id-at-version,
// current geometry, bbox/h3-cell lookups, member/parent traversal, and
// history, all pinned to a caller-visible watermark so reads never observe
// a torn view of ElementLog/MaterializedGeometry.
package queryapi

import (
	"context"

	"osmcore.dev/elementlog"
	"osmcore.dev/geom"
	"osmcore.dev/idcodec"
	"osmcore.dev/materializer"
	"osmcore.dev/osmerr"
	"osmcore.dev/store"
)

// WatermarkSource supplies the current spatial watermark a caller may pin
// reads to; the materializer Engine implements it via GlobalWatermark.
type WatermarkSource interface {
	GlobalWatermark() store.SequenceID
}

// Config bounds result sizes, returning an explicit TooManyResults error
// rather than silently truncating when a query exceeds MaxResults.
type Config struct {
	MaxResults   int
	H3Resolution geom.CellResolution
}

// API is the plain Go query library; httpapi wraps it with an Echo facade.
type API struct {
	store store.Store
	wm    WatermarkSource
	cfg   Config
}

// New builds an API.
func New(st store.Store, wm WatermarkSource, cfg Config) *API {
	if cfg.MaxResults == 0 {
		cfg.MaxResults = 10000
	}
	return &API{store: st, wm: wm, cfg: cfg}
}

// snapshotAt returns a store.Snapshot at the caller's requested watermark,
// or the engine's current global watermark if at is nil.
func (a *API) snapshotAt(ctx context.Context, at *store.SequenceID) (store.Snapshot, error) {
	hwm := a.wm.GlobalWatermark()
	if at != nil {
		hwm = *at
	}
	return a.store.Snapshot(ctx, hwm)
}

// GetElement returns one version of a typed_id, or its latest if version is
// nil.
func (a *API) GetElement(ctx context.Context, id idcodec.TypedId, version *int64, at *store.SequenceID) (elementlog.ElementVersion, error) {
	snap, err := a.snapshotAt(ctx, at)
	if err != nil {
		return elementlog.ElementVersion{}, err
	}
	txn := snapshotTxn{snap}
	if version == nil {
		return elementlog.GetLatest(ctx, txn, id)
	}
	return elementlog.Get(ctx, txn, id, *version)
}

// GetGeometry returns the current materialized geometry of id, or
// osmerr.NotFound if it is deleted or unresolvable.
func (a *API) GetGeometry(ctx context.Context, id idcodec.TypedId, at *store.SequenceID) (materializer.MaterializedGeometry, error) {
	snap, err := a.snapshotAt(ctx, at)
	if err != nil {
		return materializer.MaterializedGeometry{}, err
	}
	g, ok, err := materializer.GetGeometry(ctx, snap, id)
	if err != nil {
		return materializer.MaterializedGeometry{}, err
	}
	if !ok {
		return materializer.MaterializedGeometry{}, osmerr.Errorf(osmerr.KindNotFound, "queryapi.GetGeometry", nil)
	}
	return g, nil
}

// ElementsInBBox returns every typed_id whose materialized geometry
// intersects bbox, bounded by Config.MaxResults.
func (a *API) ElementsInBBox(ctx context.Context, bbox geom.Envelope, at *store.SequenceID) ([]idcodec.TypedId, error) {
	snap, err := a.snapshotAt(ctx, at)
	if err != nil {
		return nil, err
	}
	cells := geom.CellsForEnvelope(bbox, a.cfg.H3Resolution)
	return a.elementsInCellsBounded(ctx, snap, cells)
}

// ElementsInH3 returns every typed_id currently indexed under any of cells.
func (a *API) ElementsInH3(ctx context.Context, cells []geom.Cell, at *store.SequenceID) ([]idcodec.TypedId, error) {
	snap, err := a.snapshotAt(ctx, at)
	if err != nil {
		return nil, err
	}
	return a.elementsInCellsBounded(ctx, snap, cells)
}

func (a *API) elementsInCellsBounded(ctx context.Context, snap store.Snapshot, cells []geom.Cell) ([]idcodec.TypedId, error) {
	ids, err := materializer.ElementsInCells(ctx, snap, cells)
	if err != nil {
		return nil, err
	}
	if len(ids) > a.cfg.MaxResults {
		return nil, osmerr.Errorf(osmerr.KindTooManyResults, "queryapi.ElementsInCells", nil)
	}
	return ids, nil
}

// ParentsOf returns the ways/relations currently referencing id.
func (a *API) ParentsOf(ctx context.Context, id idcodec.TypedId, at *store.SequenceID) ([]idcodec.TypedId, error) {
	snap, err := a.snapshotAt(ctx, at)
	if err != nil {
		return nil, err
	}
	parents, err := elementlog.ParentsOf(ctx, snapshotTxn{snap}, id)
	if err != nil {
		return nil, err
	}
	if len(parents) > a.cfg.MaxResults {
		return nil, osmerr.Errorf(osmerr.KindTooManyResults, "queryapi.ParentsOf", nil)
	}
	return parents, nil
}

// History returns every version of id ascending.
func (a *API) History(ctx context.Context, id idcodec.TypedId, at *store.SequenceID) ([]elementlog.ElementVersion, error) {
	snap, err := a.snapshotAt(ctx, at)
	if err != nil {
		return nil, err
	}
	history, err := elementlog.History(ctx, snapshotTxn{snap}, id)
	if err != nil {
		return nil, err
	}
	if len(history) > a.cfg.MaxResults {
		return nil, osmerr.Errorf(osmerr.KindTooManyResults, "queryapi.History", nil)
	}
	return history, nil
}
