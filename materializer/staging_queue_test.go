package materializer

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"osmcore.dev/idcodec"
	"osmcore.dev/store"
	"osmcore.dev/store/storebolt"
)

func newTestQueue(t *testing.T) (*StagingQueue, store.Store) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	st, err := storebolt.Open(t.TempDir() + "/staging.db")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	return NewStagingQueue(st, rdb, 1), st
}

func TestPutStagingThenClaimAndAck(t *testing.T) {
	q, st := newTestQueue(t)
	ctx := context.Background()

	txn, err := st.Begin(ctx)
	require.NoError(t, err)

	entries := []StagingEntry{
		{TypedId: idcodec.TypedId(1), SourceSequenceId: 1, UpdatedSequenceId: 5},
		{TypedId: idcodec.TypedId(2), SourceSequenceId: 1, UpdatedSequenceId: 5},
	}
	require.NoError(t, PutStaging(ctx, txn, entries))
	_, err = st.Commit(ctx, txn)
	require.NoError(t, err)

	claimed, err := q.Claim(ctx, 0, 10, 100, 0, ^idcodec.TypedId(0), time.Minute)
	require.NoError(t, err)
	require.Len(t, claimed, 2)

	// A second claim attempt before Ack sees the entries already locked.
	claimedAgain, err := q.Claim(ctx, 0, 10, 100, 0, ^idcodec.TypedId(0), time.Minute)
	require.NoError(t, err)
	require.Empty(t, claimedAgain)

	ackTxn, err := st.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, q.Ack(ctx, ackTxn, claimed))
	_, err = st.Commit(ctx, ackTxn)
	require.NoError(t, err)

	depthTxn, err := st.Begin(ctx)
	require.NoError(t, err)
	n, err := Depth(ctx, depthTxn)
	require.NoError(t, err)
	require.Equal(t, 0, n)
	require.NoError(t, st.Rollback(ctx, depthTxn))
}

func TestDepthCountsPendingEntries(t *testing.T) {
	q, st := newTestQueue(t)
	_ = q
	ctx := context.Background()

	txn, err := st.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, PutStaging(ctx, txn, []StagingEntry{
		{TypedId: idcodec.TypedId(10), SourceSequenceId: 1, UpdatedSequenceId: 1},
		{TypedId: idcodec.TypedId(11), SourceSequenceId: 1, UpdatedSequenceId: 1},
		{TypedId: idcodec.TypedId(12), SourceSequenceId: 1, UpdatedSequenceId: 1},
	}))
	_, err = st.Commit(ctx, txn)
	require.NoError(t, err)

	readTxn, err := st.Begin(ctx)
	require.NoError(t, err)
	n, err := Depth(ctx, readTxn)
	require.NoError(t, err)
	require.Equal(t, 3, n)
	require.NoError(t, st.Rollback(ctx, readTxn))
}

func TestAckIgnoresStaleClaimToken(t *testing.T) {
	q, st := newTestQueue(t)
	ctx := context.Background()

	txn, err := st.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, PutStaging(ctx, txn, []StagingEntry{
		{TypedId: idcodec.TypedId(42), SourceSequenceId: 1, UpdatedSequenceId: 5},
	}))
	_, err = st.Commit(ctx, txn)
	require.NoError(t, err)

	// First claim expires immediately; a second claim reclaims the entry
	// with a fresh token before the first claim's holder acks.
	stale, err := q.Claim(ctx, 0, 10, 100, 0, ^idcodec.TypedId(0), -time.Minute)
	require.NoError(t, err)
	require.Len(t, stale, 1)

	fresh, err := q.Claim(ctx, 0, 10, 100, 0, ^idcodec.TypedId(0), time.Minute)
	require.NoError(t, err)
	require.Len(t, fresh, 1)
	require.NotEqual(t, stale[0].ClaimToken, fresh[0].ClaimToken)

	// The stale holder's late ack must not delete the entry the fresh
	// claim is still working on.
	ackTxn, err := st.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, q.Ack(ctx, ackTxn, stale))
	_, err = st.Commit(ctx, ackTxn)
	require.NoError(t, err)

	depthTxn, err := st.Begin(ctx)
	require.NoError(t, err)
	n, err := Depth(ctx, depthTxn)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.NoError(t, st.Rollback(ctx, depthTxn))

	// The fresh claim's ack does delete it.
	ackTxn2, err := st.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, q.Ack(ctx, ackTxn2, fresh))
	_, err = st.Commit(ctx, ackTxn2)
	require.NoError(t, err)

	depthTxn2, err := st.Begin(ctx)
	require.NoError(t, err)
	n, err = Depth(ctx, depthTxn2)
	require.NoError(t, err)
	require.Equal(t, 0, n)
	require.NoError(t, st.Rollback(ctx, depthTxn2))
}

func TestWakeAndWaitForWake(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	require.NoError(t, q.Wake(ctx))
	require.NoError(t, q.WaitForWake(ctx, 0, time.Second))
}

func TestWaitForWakeTimesOutWithoutError(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	require.NoError(t, q.WaitForWake(ctx, 0, 50*time.Millisecond))
}
