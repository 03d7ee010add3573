// Package store defines the abstract transactional key/value substrate
// every other component in this module is written against: an explicit
// Store handle passed through components, with no module-level state.
// Two concrete backends satisfy this interface: storepg (Postgres via
// pgx, for production) and storebolt (embedded bbolt, for the
// single-node/offline workflow and for fast unit tests).
package store

import (
	"context"

	"osmcore.dev/osmerr"
)

// SequenceID is the store's monotonic, unique-per-row commit counter.
type SequenceID uint64

// Key is an opaque, ordered byte key. Backends are responsible for encoding
// whatever structured key a table uses (typed_id+version, sequence_id, ...)
// into an order-preserving byte string.
type Key []byte

// KeyRange is a half-open [Start, End) scan range. A nil End means "to the
// end of the table."
type KeyRange struct {
	Start Key
	End   Key
}

// CommitToken is returned by a successful Commit and carries the
// sequence_id assigned to the transaction's rows.
type CommitToken struct {
	SequenceID SequenceID
}

// Iterator walks the rows of a Scan/IndexScan in key order.
type Iterator interface {
	// Next advances the iterator and reports whether a row was produced.
	Next(ctx context.Context) (key Key, value []byte, ok bool, err error)
	Close() error
}

// Txn is a single serializable transaction. Every method may suspend;
// callers must not hold their own locks across a Txn call.
type Txn interface {
	Read(ctx context.Context, table string, key Key) ([]byte, error)
	Scan(ctx context.Context, table string, r KeyRange) (Iterator, error)
	Put(ctx context.Context, table string, key Key, value []byte) error
	Delete(ctx context.Context, table string, key Key) error

	// IndexPut/IndexDelete/IndexScan operate on a named secondary index.
	// The index key is caller-constructed (e.g. a referenced TypedId for
	// the "members" index); the value is always the primary table key.
	IndexPut(ctx context.Context, index string, indexKey Key, primaryKey Key) error
	IndexDelete(ctx context.Context, index string, indexKey Key, primaryKey Key) error
	IndexScan(ctx context.Context, index string, r KeyRange) (Iterator, error)

	// Lock takes an advisory single-row lock for the duration of the
	// transaction, serializing concurrent critical sections over the same
	// key.
	Lock(ctx context.Context, key Key) error

	// NextSequence draws the next value from the store's monotonic,
	// transaction-scoped commit counter. Every row written in a commit
	// shares one call's worth of sequence ids, assigned contiguously.
	NextSequence(ctx context.Context, n int) (first SequenceID, err error)
}

// Snapshot is a read-only view pinned to a sequence_id high-water-mark; it
// never observes rows committed after At().
type Snapshot interface {
	At() SequenceID
	Read(ctx context.Context, table string, key Key) ([]byte, error)
	Scan(ctx context.Context, table string, r KeyRange) (Iterator, error)
	IndexScan(ctx context.Context, index string, r KeyRange) (Iterator, error)
}

// Store is the top-level handle passed through every component. It is safe
// for concurrent use by many callers.
type Store interface {
	// Begin starts a new transaction. The caller must Commit or Rollback it.
	Begin(ctx context.Context) (Txn, error)
	Commit(ctx context.Context, txn Txn) (CommitToken, error)
	Rollback(ctx context.Context, txn Txn) error

	// Snapshot returns a read-only view at the given sequence_id. Passing
	// the store's current watermark gives callers the latest consistent
	// view.
	Snapshot(ctx context.Context, at SequenceID) (Snapshot, error)

	// Close releases any held resources (connection pools, file handles).
	Close() error
}

// IsConflict reports whether err is (or wraps) a store-level optimistic
// write conflict. CommitPipeline retries on this; callers of Store itself
// must decide their own retry policy.
func IsConflict(err error) bool { return osmerr.Is(err, osmerr.KindConflict) }

// IsUnavailable reports whether err is (or wraps) an infrastructure outage,
// which is never retried locally.
func IsUnavailable(err error) bool { return osmerr.Is(err, osmerr.KindUnavailable) }
