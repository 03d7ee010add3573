// Package storebolt implements store.Store over an embedded bbolt database,
// used for the single-node/offline workflow and for fast unit tests that
// would otherwise need a live Postgres instance.
package storebolt

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"

	"osmcore.dev/osmerr"
	"osmcore.dev/store"
)

var (
	metaBucket = []byte("_meta")
	seqKey     = []byte("sequence")
)

func tableBucket(table string) []byte { return []byte("t:" + table) }
func indexBucket(index string) []byte { return []byte("i:" + index) }

// DB opens or creates a bbolt-backed Store. bbolt serializes all writers, so
// Lock is a documented no-op: the single in-flight write transaction already
// gives every Txn exclusive access to the whole keyspace.
type DB struct {
	bolt *bolt.DB
}

// Open opens or creates the database file at path.
func Open(path string) (*DB, error) {
	b, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("storebolt: open %s: %w", path, err)
	}
	if err := b.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(metaBucket)
		return err
	}); err != nil {
		b.Close()
		return nil, fmt.Errorf("storebolt: init meta bucket: %w", err)
	}
	return &DB{bolt: b}, nil
}

func (db *DB) Close() error { return db.bolt.Close() }

func (db *DB) Begin(ctx context.Context) (store.Txn, error) {
	tx, err := db.bolt.Begin(true)
	if err != nil {
		return nil, osmerr.Errorf(osmerr.KindUnavailable, "storebolt.Begin", err)
	}
	return &boltTxn{tx: tx}, nil
}

func (db *DB) Commit(ctx context.Context, txn store.Txn) (store.CommitToken, error) {
	bt, ok := txn.(*boltTxn)
	if !ok {
		return store.CommitToken{}, osmerr.Errorf(osmerr.KindBadReference, "storebolt.Commit", fmt.Errorf("foreign txn type %T", txn))
	}
	if err := bt.tx.Commit(); err != nil {
		return store.CommitToken{}, osmerr.Errorf(osmerr.KindConflict, "storebolt.Commit", err)
	}
	return store.CommitToken{SequenceID: bt.firstSeq}, nil
}

func (db *DB) Rollback(ctx context.Context, txn store.Txn) error {
	bt, ok := txn.(*boltTxn)
	if !ok {
		return osmerr.Errorf(osmerr.KindBadReference, "storebolt.Rollback", fmt.Errorf("foreign txn type %T", txn))
	}
	return bt.tx.Rollback()
}

func (db *DB) Snapshot(ctx context.Context, at store.SequenceID) (store.Snapshot, error) {
	tx, err := db.bolt.Begin(false)
	if err != nil {
		return nil, osmerr.Errorf(osmerr.KindUnavailable, "storebolt.Snapshot", err)
	}
	return &boltSnapshot{tx: tx, at: at}, nil
}

// boltTxn adapts a *bolt.Tx (always writable) to store.Txn. Buckets are
// created lazily on first write so the Store interface never requires an
// explicit schema-creation step.
type boltTxn struct {
	tx       *bolt.Tx
	firstSeq store.SequenceID
}

func (t *boltTxn) bucket(name []byte) (*bolt.Bucket, error) {
	b := t.tx.Bucket(name)
	if b != nil {
		return b, nil
	}
	return t.tx.CreateBucket(name)
}

func (t *boltTxn) Read(ctx context.Context, table string, key store.Key) ([]byte, error) {
	b := t.tx.Bucket(tableBucket(table))
	if b == nil {
		return nil, osmerr.Errorf(osmerr.KindNotFound, "storebolt.Read", nil)
	}
	v := b.Get(key)
	if v == nil {
		return nil, osmerr.Errorf(osmerr.KindNotFound, "storebolt.Read", nil)
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

func (t *boltTxn) Put(ctx context.Context, table string, key store.Key, value []byte) error {
	b, err := t.bucket(tableBucket(table))
	if err != nil {
		return fmt.Errorf("storebolt.Put: %w", err)
	}
	return b.Put(key, value)
}

func (t *boltTxn) Delete(ctx context.Context, table string, key store.Key) error {
	b := t.tx.Bucket(tableBucket(table))
	if b == nil {
		return nil
	}
	return b.Delete(key)
}

func (t *boltTxn) Scan(ctx context.Context, table string, r store.KeyRange) (store.Iterator, error) {
	b := t.tx.Bucket(tableBucket(table))
	if b == nil {
		return emptyIterator{}, nil
	}
	return newCursorIterator(b.Cursor(), r), nil
}

// IndexPut composes the index row key as indexKey || 0x00 || primaryKey so
// IndexScan can range over every primaryKey sharing an indexKey prefix.
func (t *boltTxn) IndexPut(ctx context.Context, index string, indexKey, primaryKey store.Key) error {
	b, err := t.bucket(indexBucket(index))
	if err != nil {
		return fmt.Errorf("storebolt.IndexPut: %w", err)
	}
	return b.Put(composeIndexKey(indexKey, primaryKey), primaryKey)
}

func (t *boltTxn) IndexDelete(ctx context.Context, index string, indexKey, primaryKey store.Key) error {
	b := t.tx.Bucket(indexBucket(index))
	if b == nil {
		return nil
	}
	return b.Delete(composeIndexKey(indexKey, primaryKey))
}

func (t *boltTxn) IndexScan(ctx context.Context, index string, r store.KeyRange) (store.Iterator, error) {
	b := t.tx.Bucket(indexBucket(index))
	if b == nil {
		return emptyIterator{}, nil
	}
	return newCursorIterator(b.Cursor(), r), nil
}

// Lock is a no-op: bbolt permits at most one open write transaction, so
// every boltTxn already has exclusive access to the entire keyspace for its
// lifetime.
func (t *boltTxn) Lock(ctx context.Context, key store.Key) error { return nil }

func (t *boltTxn) NextSequence(ctx context.Context, n int) (store.SequenceID, error) {
	b, err := t.bucket(metaBucket)
	if err != nil {
		return 0, err
	}
	var cur uint64
	if raw := b.Get(seqKey); raw != nil {
		cur = binary.BigEndian.Uint64(raw)
	}
	first := cur + 1
	next := cur + uint64(n)
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, next)
	if err := b.Put(seqKey, buf); err != nil {
		return 0, err
	}
	if t.firstSeq == 0 {
		t.firstSeq = store.SequenceID(first)
	}
	return store.SequenceID(first), nil
}

func composeIndexKey(indexKey, primaryKey store.Key) []byte {
	out := make([]byte, 0, len(indexKey)+1+len(primaryKey))
	out = append(out, indexKey...)
	out = append(out, 0x00)
	out = append(out, primaryKey...)
	return out
}

// boltSnapshot is a read-only view. at is informational only: bbolt's MVCC
// read transactions already pin a consistent view as of the moment they were
// opened, so the backend honors "no reads past at" by construction whenever
// callers open the snapshot promptly after reading the current watermark.
type boltSnapshot struct {
	tx *bolt.Tx
	at store.SequenceID
}

func (s *boltSnapshot) At() store.SequenceID { return s.at }

func (s *boltSnapshot) Read(ctx context.Context, table string, key store.Key) ([]byte, error) {
	b := s.tx.Bucket(tableBucket(table))
	if b == nil {
		return nil, osmerr.Errorf(osmerr.KindNotFound, "storebolt.Snapshot.Read", nil)
	}
	v := b.Get(key)
	if v == nil {
		return nil, osmerr.Errorf(osmerr.KindNotFound, "storebolt.Snapshot.Read", nil)
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

func (s *boltSnapshot) Scan(ctx context.Context, table string, r store.KeyRange) (store.Iterator, error) {
	b := s.tx.Bucket(tableBucket(table))
	if b == nil {
		return emptyIterator{}, nil
	}
	return newCursorIterator(b.Cursor(), r), nil
}

func (s *boltSnapshot) IndexScan(ctx context.Context, index string, r store.KeyRange) (store.Iterator, error) {
	b := s.tx.Bucket(indexBucket(index))
	if b == nil {
		return emptyIterator{}, nil
	}
	return newCursorIterator(b.Cursor(), r), nil
}

// Close releases the underlying read transaction. It is not part of
// store.Snapshot; callers that need to release it early can type-assert.
func (s *boltSnapshot) Close() error { return s.tx.Rollback() }

type cursorIterator struct {
	cur     *bolt.Cursor
	r       store.KeyRange
	started bool
}

func newCursorIterator(cur *bolt.Cursor, r store.KeyRange) *cursorIterator {
	return &cursorIterator{cur: cur, r: r}
}

func (it *cursorIterator) Next(ctx context.Context) (store.Key, []byte, bool, error) {
	var k, v []byte
	if !it.started {
		it.started = true
		if it.r.Start != nil {
			k, v = it.cur.Seek(it.r.Start)
		} else {
			k, v = it.cur.First()
		}
	} else {
		k, v = it.cur.Next()
	}
	if k == nil {
		return nil, nil, false, nil
	}
	if it.r.End != nil && bytes.Compare(k, it.r.End) >= 0 {
		return nil, nil, false, nil
	}
	keyCopy := make([]byte, len(k))
	copy(keyCopy, k)
	valCopy := make([]byte, len(v))
	copy(valCopy, v)
	return keyCopy, valCopy, true, nil
}

func (it *cursorIterator) Close() error { return nil }

type emptyIterator struct{}

func (emptyIterator) Next(ctx context.Context) (store.Key, []byte, bool, error) {
	return nil, nil, false, nil
}
func (emptyIterator) Close() error { return nil }
