// Package storepg implements store.Store over Postgres via pgx, the
// production backend. It favors a thin generic schema (one row table, one
// index table, one sequence) over per-component SQL so every higher-level
// component can share the same pool and transaction semantics.
package storepg

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"osmcore.dev/osmerr"
	"osmcore.dev/store"
)

const notifyTimeout = 5 * time.Second

// Schema is the generic DDL. storepg.Open applies it on every connect; each
// statement is IF NOT EXISTS, so reapplying it leaves existing data alone.
const Schema = `
CREATE TABLE IF NOT EXISTS kv_rows (
	tbl   text NOT NULL,
	key   bytea NOT NULL,
	value bytea NOT NULL,
	PRIMARY KEY (tbl, key)
);
CREATE TABLE IF NOT EXISTS kv_index (
	idx         text NOT NULL,
	index_key   bytea NOT NULL,
	primary_key bytea NOT NULL,
	PRIMARY KEY (idx, index_key, primary_key)
);
CREATE SEQUENCE IF NOT EXISTS kv_sequence;
`

// DB is a pgxpool-backed Store.
type DB struct {
	pool *pgxpool.Pool
}

// Open connects to Postgres and ensures the generic schema exists.
func Open(ctx context.Context, connString string) (*DB, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("storepg: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("storepg: ping: %w", err)
	}
	if _, err := pool.Exec(ctx, Schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("storepg: apply schema: %w", err)
	}
	return &DB{pool: pool}, nil
}

func (db *DB) Close() error { db.pool.Close(); return nil }

// Pool exposes the underlying pool for components (the LISTEN/NOTIFY
// listener, hot-path ingest) that need raw SQL access alongside the Store
// abstraction.
func (db *DB) Pool() *pgxpool.Pool { return db.pool }

func (db *DB) Begin(ctx context.Context) (store.Txn, error) {
	tx, err := db.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return nil, osmerr.Errorf(osmerr.KindUnavailable, "storepg.Begin", err)
	}
	return &pgTxn{ctx: ctx, tx: tx}, nil
}

func (db *DB) Commit(ctx context.Context, txn store.Txn) (store.CommitToken, error) {
	pt, ok := txn.(*pgTxn)
	if !ok {
		return store.CommitToken{}, osmerr.Errorf(osmerr.KindBadReference, "storepg.Commit", fmt.Errorf("foreign txn type %T", txn))
	}
	if err := pt.tx.Commit(ctx); err != nil {
		if isSerializationFailure(err) {
			return store.CommitToken{}, osmerr.Errorf(osmerr.KindConflict, "storepg.Commit", err)
		}
		return store.CommitToken{}, osmerr.Errorf(osmerr.KindUnavailable, "storepg.Commit", err)
	}
	db.notifyCommit(pt.firstSeq)
	return store.CommitToken{SequenceID: pt.firstSeq}, nil
}

// notifyCommit publishes the committed sequence id on CommitNotifyChannel
// for any CommitListener. Best-effort: a publish failure never fails the
// commit, which has already landed.
func (db *DB) notifyCommit(seq store.SequenceID) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
		defer cancel()
		db.pool.Exec(ctx, `SELECT pg_notify($1, $2)`, CommitNotifyChannel, fmt.Sprint(uint64(seq)))
	}()
}

func (db *DB) Rollback(ctx context.Context, txn store.Txn) error {
	pt, ok := txn.(*pgTxn)
	if !ok {
		return osmerr.Errorf(osmerr.KindBadReference, "storepg.Rollback", fmt.Errorf("foreign txn type %T", txn))
	}
	return pt.tx.Rollback(ctx)
}

func (db *DB) Snapshot(ctx context.Context, at store.SequenceID) (store.Snapshot, error) {
	tx, err := db.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly})
	if err != nil {
		return nil, osmerr.Errorf(osmerr.KindUnavailable, "storepg.Snapshot", err)
	}
	return &pgSnapshot{ctx: ctx, tx: tx, at: at}, nil
}

func isSerializationFailure(err error) bool {
	var pgErr interface{ SQLState() string }
	if ok := asPgError(err, &pgErr); ok {
		return pgErr.SQLState() == "40001" || pgErr.SQLState() == "40P01"
	}
	return false
}

func asPgError(err error, target *interface{ SQLState() string }) bool {
	type sqlStater interface{ SQLState() string }
	for err != nil {
		if s, ok := err.(sqlStater); ok {
			*target = s
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

type pgTxn struct {
	ctx      context.Context
	tx       pgx.Tx
	firstSeq store.SequenceID
}

func (t *pgTxn) Read(ctx context.Context, table string, key store.Key) ([]byte, error) {
	var value []byte
	err := t.tx.QueryRow(ctx, `SELECT value FROM kv_rows WHERE tbl=$1 AND key=$2`, table, []byte(key)).Scan(&value)
	if err == pgx.ErrNoRows {
		return nil, osmerr.Errorf(osmerr.KindNotFound, "storepg.Read", nil)
	}
	if err != nil {
		return nil, osmerr.Errorf(osmerr.KindUnavailable, "storepg.Read", err)
	}
	return value, nil
}

func (t *pgTxn) Put(ctx context.Context, table string, key store.Key, value []byte) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO kv_rows (tbl, key, value) VALUES ($1,$2,$3)
		ON CONFLICT (tbl, key) DO UPDATE SET value = EXCLUDED.value`,
		table, []byte(key), value)
	return err
}

func (t *pgTxn) Delete(ctx context.Context, table string, key store.Key) error {
	_, err := t.tx.Exec(ctx, `DELETE FROM kv_rows WHERE tbl=$1 AND key=$2`, table, []byte(key))
	return err
}

func (t *pgTxn) Scan(ctx context.Context, table string, r store.KeyRange) (store.Iterator, error) {
	rows, err := scanRows(ctx, t.tx, table, r)
	if err != nil {
		return nil, err
	}
	return &rowIterator{rows: rows}, nil
}

func (t *pgTxn) IndexPut(ctx context.Context, index string, indexKey, primaryKey store.Key) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO kv_index (idx, index_key, primary_key) VALUES ($1,$2,$3)
		ON CONFLICT DO NOTHING`, index, []byte(indexKey), []byte(primaryKey))
	return err
}

func (t *pgTxn) IndexDelete(ctx context.Context, index string, indexKey, primaryKey store.Key) error {
	_, err := t.tx.Exec(ctx, `DELETE FROM kv_index WHERE idx=$1 AND index_key=$2 AND primary_key=$3`,
		index, []byte(indexKey), []byte(primaryKey))
	return err
}

func (t *pgTxn) IndexScan(ctx context.Context, index string, r store.KeyRange) (store.Iterator, error) {
	rows, err := scanIndexRows(ctx, t.tx, index, r)
	if err != nil {
		return nil, err
	}
	return &rowIterator{rows: rows, isIndex: true}, nil
}

// Lock takes a Postgres advisory transaction lock keyed by the first 8 bytes
// of key, serializing concurrent commits that touch the same TypedId.
func (t *pgTxn) Lock(ctx context.Context, key store.Key) error {
	_, err := t.tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, lockKeyToInt64(key))
	return err
}

func (t *pgTxn) NextSequence(ctx context.Context, n int) (store.SequenceID, error) {
	var last int64
	err := t.tx.QueryRow(ctx, `SELECT nextval('kv_sequence') FROM generate_series(1,$1) OFFSET $1-1`, n).Scan(&last)
	if err != nil {
		return 0, err
	}
	first := store.SequenceID(last - int64(n) + 1)
	if t.firstSeq == 0 {
		t.firstSeq = first
	}
	return first, nil
}

func lockKeyToInt64(key store.Key) int64 {
	var h int64
	for i, b := range key {
		if i >= 8 {
			break
		}
		h = h<<8 | int64(b)
	}
	return h
}

type pgSnapshot struct {
	ctx context.Context
	tx  pgx.Tx
	at  store.SequenceID
}

func (s *pgSnapshot) At() store.SequenceID { return s.at }

func (s *pgSnapshot) Read(ctx context.Context, table string, key store.Key) ([]byte, error) {
	var value []byte
	err := s.tx.QueryRow(ctx, `SELECT value FROM kv_rows WHERE tbl=$1 AND key=$2`, table, []byte(key)).Scan(&value)
	if err == pgx.ErrNoRows {
		return nil, osmerr.Errorf(osmerr.KindNotFound, "storepg.Snapshot.Read", nil)
	}
	return value, err
}

func (s *pgSnapshot) Scan(ctx context.Context, table string, r store.KeyRange) (store.Iterator, error) {
	rows, err := scanRows(ctx, s.tx, table, r)
	if err != nil {
		return nil, err
	}
	return &rowIterator{rows: rows}, nil
}

func (s *pgSnapshot) IndexScan(ctx context.Context, index string, r store.KeyRange) (store.Iterator, error) {
	rows, err := scanIndexRows(ctx, s.tx, index, r)
	if err != nil {
		return nil, err
	}
	return &rowIterator{rows: rows, isIndex: true}, nil
}

// Close releases the snapshot's read-only transaction.
func (s *pgSnapshot) Close() error { return s.tx.Rollback(s.ctx) }

func scanRows(ctx context.Context, tx pgx.Tx, table string, r store.KeyRange) (pgx.Rows, error) {
	switch {
	case r.Start != nil && r.End != nil:
		return tx.Query(ctx, `SELECT key, value FROM kv_rows WHERE tbl=$1 AND key>=$2 AND key<$3 ORDER BY key`,
			table, []byte(r.Start), []byte(r.End))
	case r.Start != nil:
		return tx.Query(ctx, `SELECT key, value FROM kv_rows WHERE tbl=$1 AND key>=$2 ORDER BY key`, table, []byte(r.Start))
	default:
		return tx.Query(ctx, `SELECT key, value FROM kv_rows WHERE tbl=$1 ORDER BY key`, table)
	}
}

func scanIndexRows(ctx context.Context, tx pgx.Tx, index string, r store.KeyRange) (pgx.Rows, error) {
	switch {
	case r.Start != nil && r.End != nil:
		return tx.Query(ctx, `SELECT index_key, primary_key FROM kv_index WHERE idx=$1 AND index_key>=$2 AND index_key<$3 ORDER BY index_key, primary_key`,
			index, []byte(r.Start), []byte(r.End))
	case r.Start != nil:
		return tx.Query(ctx, `SELECT index_key, primary_key FROM kv_index WHERE idx=$1 AND index_key>=$2 ORDER BY index_key, primary_key`, index, []byte(r.Start))
	default:
		return tx.Query(ctx, `SELECT index_key, primary_key FROM kv_index WHERE idx=$1 ORDER BY index_key, primary_key`, index)
	}
}

// rowIterator adapts pgx.Rows to store.Iterator. For index scans the "value"
// returned is the primary key, matching storebolt's IndexScan contract.
type rowIterator struct {
	rows    pgx.Rows
	isIndex bool
}

func (it *rowIterator) Next(ctx context.Context) (store.Key, []byte, bool, error) {
	if !it.rows.Next() {
		return nil, nil, false, it.rows.Err()
	}
	var k, v []byte
	if err := it.rows.Scan(&k, &v); err != nil {
		return nil, nil, false, err
	}
	return k, v, true, nil
}

func (it *rowIterator) Close() error {
	it.rows.Close()
	return nil
}
