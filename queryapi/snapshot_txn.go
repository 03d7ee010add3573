package queryapi

import (
	"context"

	"osmcore.dev/osmerr"
	"osmcore.dev/store"
)

// snapshotTxn adapts a read-only store.Snapshot to the store.Txn interface
// so elementlog's read helpers (which take a Txn) can run against a pinned
// watermark snapshot. Only the read methods are ever called through it; the
// write methods exist solely to satisfy the interface and fail loudly if
// mistakenly invoked.
type snapshotTxn struct {
	snap store.Snapshot
}

func (s snapshotTxn) Read(ctx context.Context, table string, key store.Key) ([]byte, error) {
	return s.snap.Read(ctx, table, key)
}

func (s snapshotTxn) Scan(ctx context.Context, table string, r store.KeyRange) (store.Iterator, error) {
	return s.snap.Scan(ctx, table, r)
}

func (s snapshotTxn) IndexScan(ctx context.Context, index string, r store.KeyRange) (store.Iterator, error) {
	return s.snap.IndexScan(ctx, index, r)
}

func (s snapshotTxn) Put(ctx context.Context, table string, key store.Key, value []byte) error {
	return osmerr.Errorf(osmerr.KindUnavailable, "queryapi.snapshotTxn.Put", nil)
}

func (s snapshotTxn) Delete(ctx context.Context, table string, key store.Key) error {
	return osmerr.Errorf(osmerr.KindUnavailable, "queryapi.snapshotTxn.Delete", nil)
}

func (s snapshotTxn) IndexPut(ctx context.Context, index string, indexKey, primaryKey store.Key) error {
	return osmerr.Errorf(osmerr.KindUnavailable, "queryapi.snapshotTxn.IndexPut", nil)
}

func (s snapshotTxn) IndexDelete(ctx context.Context, index string, indexKey, primaryKey store.Key) error {
	return osmerr.Errorf(osmerr.KindUnavailable, "queryapi.snapshotTxn.IndexDelete", nil)
}

func (s snapshotTxn) Lock(ctx context.Context, key store.Key) error {
	return osmerr.Errorf(osmerr.KindUnavailable, "queryapi.snapshotTxn.Lock", nil)
}

func (s snapshotTxn) NextSequence(ctx context.Context, n int) (store.SequenceID, error) {
	return 0, osmerr.Errorf(osmerr.KindUnavailable, "queryapi.snapshotTxn.NextSequence", nil)
}
