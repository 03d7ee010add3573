package materializer

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"osmcore.dev/idcodec"
	"osmcore.dev/store"
)

const (
	tableStaging          = "element_spatial_staging"
	indexStagingSeq       = "element_spatial_staging_by_seq"
	redisProcessingZ      = "materializer:processing"
	redisProcessingTokens = "materializer:processing:tokens"
	redisWakePrefix       = "materializer:wake:"
)

// StagingEntry is a pending recomputation request. It is written durably
// into Store by CommitPipeline inside the commit transaction, then
// claimed by a materializer shard through the Redis-backed visibility-timeout
// layer before being acknowledged (deleted) once drained.
type StagingEntry struct {
	TypedId           idcodec.TypedId  `json:"typed_id"`
	SourceSequenceId  store.SequenceID `json:"source_sequence_id"`
	UpdatedSequenceId store.SequenceID `json:"updated_sequence_id"`
	Depth             int              `json:"depth"`

	// ClaimToken is assigned by StagingQueue.Claim when a shard claims this
	// entry and is unset (zero value) for a durably-written, unclaimed
	// entry. Ack checks it against the current claim before deleting so a
	// late ack from an expired, since-reclaimed claim can't remove an entry
	// another shard is still processing.
	ClaimToken uuid.UUID `json:"claim_token,omitempty"`
}

func stagingKey(id idcodec.TypedId) store.Key {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(id))
	return b
}

func stagingSeqIndexKey(seq store.SequenceID, id idcodec.TypedId) store.Key {
	b := make([]byte, 16)
	binary.BigEndian.PutUint64(b[0:8], uint64(seq))
	binary.BigEndian.PutUint64(b[8:16], uint64(id))
	return b
}

// Depth counts the pending staging entries visible to txn, scanning the
// full by-sequence index. CommitPipeline uses this to enforce
// STAGING_HARD_LIMIT before admitting a new batch.
func Depth(ctx context.Context, txn store.Txn) (int, error) {
	it, err := txn.IndexScan(ctx, indexStagingSeq, store.KeyRange{})
	if err != nil {
		return 0, err
	}
	defer it.Close()

	n := 0
	for {
		_, _, ok, err := it.Next(ctx)
		if err != nil {
			return 0, err
		}
		if !ok {
			break
		}
		n++
	}
	return n, nil
}

// PutStaging upserts a batch of staging entries inside the caller's
// transaction. A later entry for the same typed_id overwrites the earlier
// one's row and replaces its by-sequence index entry rather than
// duplicating them, since only the most recent pending recomputation matters.
func PutStaging(ctx context.Context, txn store.Txn, entries []StagingEntry) error {
	for _, e := range entries {
		if prevRaw, err := txn.Read(ctx, tableStaging, stagingKey(e.TypedId)); err == nil {
			var prev StagingEntry
			if json.Unmarshal(prevRaw, &prev) == nil && prev.UpdatedSequenceId != e.UpdatedSequenceId {
				if err := txn.IndexDelete(ctx, indexStagingSeq, stagingSeqIndexKey(prev.UpdatedSequenceId, e.TypedId), stagingKey(e.TypedId)); err != nil {
					return err
				}
			}
		}
		raw, err := json.Marshal(e)
		if err != nil {
			return err
		}
		if err := txn.Put(ctx, tableStaging, stagingKey(e.TypedId), raw); err != nil {
			return err
		}
		if err := txn.IndexPut(ctx, indexStagingSeq, stagingSeqIndexKey(e.UpdatedSequenceId, e.TypedId), stagingKey(e.TypedId)); err != nil {
			return err
		}
	}
	return nil
}

// StagingQueue coordinates claiming and acknowledging StagingEntries across
// materializer shards. Store holds the durable entries; Redis provides the
// claim/visibility-timeout bookkeeping and a wake channel so idle shards
// don't have to poll Store on a tight interval: BLPop for waiting,
// ZADD/ZRem for the processing set.
type StagingQueue struct {
	store  store.Store
	redis  *redis.Client
	shards int
}

// NewStagingQueue builds a StagingQueue over an already-connected Redis
// client.
func NewStagingQueue(st store.Store, rdb *redis.Client, shards int) *StagingQueue {
	return &StagingQueue{store: st, redis: rdb, shards: shards}
}

// Wake nudges every shard's BLPop so a newly staged entry is picked up
// without waiting for the next poll tick.
func (q *StagingQueue) Wake(ctx context.Context) error {
	for shard := 0; shard < q.shards; shard++ {
		if err := q.redis.RPush(ctx, wakeKey(shard), "1").Err(); err != nil {
			return fmt.Errorf("staging queue: wake shard %d: %w", shard, err)
		}
	}
	return nil
}

func wakeKey(shard int) string { return fmt.Sprintf("%s%d", redisWakePrefix, shard) }

// WaitForWake blocks until a wake signal arrives for shard or timeout
// elapses; it never returns an error on timeout, only on a Redis failure.
func (q *StagingQueue) WaitForWake(ctx context.Context, shard int, timeout time.Duration) error {
	_, err := q.redis.BLPop(ctx, timeout, wakeKey(shard)).Result()
	if err == redis.Nil {
		return nil
	}
	return err
}

// Claim reads up to batchMax staging entries with updated_sequence_id in
// (hwm, hwm+window], restricted to typedIDs in [rangeStart, rangeEnd) (a
// shard's owned partition), and marks them processing in Redis with a
// visibility timeout. Entries already claimed and not yet expired are
// skipped.
func (q *StagingQueue) Claim(ctx context.Context, hwm store.SequenceID, window store.SequenceID, batchMax int, rangeStart, rangeEnd idcodec.TypedId, visibility time.Duration) ([]StagingEntry, error) {
	snap, err := q.store.Snapshot(ctx, hwm)
	if err != nil {
		return nil, err
	}

	it, err := snap.IndexScan(ctx, indexStagingSeq, store.KeyRange{
		Start: stagingSeqIndexKey(hwm+1, 0),
		End:   stagingSeqIndexKey(hwm+window+1, 0),
	})
	if err != nil {
		return nil, err
	}
	defer it.Close()

	deadline := time.Now().Add(visibility)
	var claimed []StagingEntry
	for len(claimed) < batchMax {
		_, primaryKey, ok, err := it.Next(ctx)
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		id := idcodec.TypedId(binary.BigEndian.Uint64(primaryKey))
		if id < rangeStart || id >= rangeEnd {
			continue
		}

		raw, err := snap.Read(ctx, tableStaging, primaryKey)
		if err != nil {
			continue // acknowledged concurrently
		}
		var e StagingEntry
		if err := json.Unmarshal(raw, &e); err != nil {
			continue
		}

		token, claimedNow, err := q.tryClaim(ctx, id, deadline)
		if err != nil {
			return nil, err
		}
		if claimedNow {
			e.ClaimToken = token
			claimed = append(claimed, e)
		}
	}
	return claimed, nil
}

// tryClaim atomically claims id for visibility until deadline, issuing a
// fresh ClaimToken recorded alongside the deadline. An expired claim (or no
// claim at all) is free to reclaim; a live one is left alone.
func (q *StagingQueue) tryClaim(ctx context.Context, id idcodec.TypedId, deadline time.Time) (uuid.UUID, bool, error) {
	member := fmt.Sprintf("%d", id)
	existing, err := q.redis.ZScore(ctx, redisProcessingZ, member).Result()
	if err != nil && err != redis.Nil {
		return uuid.UUID{}, false, err
	}
	if err == nil && existing > float64(time.Now().Unix()) {
		return uuid.UUID{}, false, nil // claimed by another shard, still within its visibility window
	}

	token := uuid.New()
	if err := q.redis.ZAdd(ctx, redisProcessingZ, redis.Z{Score: float64(deadline.Unix()), Member: member}).Err(); err != nil {
		return uuid.UUID{}, false, err
	}
	if err := q.redis.HSet(ctx, redisProcessingTokens, member, token.String()).Err(); err != nil {
		return uuid.UUID{}, false, err
	}
	return token, true, nil
}

// Ack acknowledges (deletes) the claimed entries after a tick's writes have
// committed. An entry whose ClaimToken no longer matches the current claim
// (the visibility timeout expired and another shard already reclaimed it)
// is left alone: deleting it here would drop the still-in-flight reclaim's
// work.
func (q *StagingQueue) Ack(ctx context.Context, txn store.Txn, entries []StagingEntry) error {
	for _, e := range entries {
		member := fmt.Sprintf("%d", e.TypedId)
		current, err := q.redis.HGet(ctx, redisProcessingTokens, member).Result()
		if err != nil && err != redis.Nil {
			return err
		}
		if current != e.ClaimToken.String() {
			continue // claim expired and was reclaimed; not ours to ack anymore
		}

		if err := txn.Delete(ctx, tableStaging, stagingKey(e.TypedId)); err != nil {
			return err
		}
		if err := txn.IndexDelete(ctx, indexStagingSeq, stagingSeqIndexKey(e.UpdatedSequenceId, e.TypedId), stagingKey(e.TypedId)); err != nil {
			return err
		}
		if err := q.redis.ZRem(ctx, redisProcessingZ, member).Err(); err != nil {
			return err
		}
		if err := q.redis.HDel(ctx, redisProcessingTokens, member).Err(); err != nil {
			return err
		}
	}
	return nil
}
