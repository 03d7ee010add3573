// Package materializer implements the SpatialMaterializer: a fleet of
// sharded workers that drain a staging queue of changed TypedIds, recompute
// their geometries in dependency order, and advance a monotonic high-water
// mark that bounds what QueryAPI is allowed to read.
package materializer

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"osmcore.dev/dependency"
	"osmcore.dev/idcodec"
	"osmcore.dev/materializer/shardstate"
	"osmcore.dev/store"
)

// EngineConfig bundles the shard count and per-shard knobs. Shards
// partition the TypedId space into EngineConfig.Shards disjoint ranges so
// at most one goroutine ever materializes a given TypedId concurrently.
type EngineConfig struct {
	Shards            int
	BatchMax          int
	BatchSeqWindow    store.SequenceID
	VisibilityTimeout time.Duration
	PollInterval      time.Duration
	RelationMaxDepth  int
	Build             BuildConfig
}

// Engine supervises one Shard goroutine per partition, using the same
// Run/Stop worker-pool idiom generalized to a fixed set of long-lived
// shard workers rather than a dynamic job queue.
type Engine struct {
	cfg    EngineConfig
	shards []*Shard
	state  *shardstate.Manager
	queue  *StagingQueue
	log    *logrus.Entry
}

// NewEngine builds an Engine and its shards, partitioning the full
// idcodec.TypedId range evenly across cfg.Shards.
func NewEngine(cfg EngineConfig, st store.Store, rdb *redis.Client, log *logrus.Entry) *Engine {
	state := shardstate.New(shardstate.Config{})
	queue := NewStagingQueue(st, rdb, cfg.Shards)
	resolver := dependency.New(cfg.RelationMaxDepth)

	shards := make([]*Shard, 0, cfg.Shards)
	for i := 0; i < cfg.Shards; i++ {
		start, end := partitionRange(i, cfg.Shards)
		shards = append(shards, NewShard(ShardConfig{
			ID:                i,
			RangeStart:        start,
			RangeEnd:          end,
			BatchMax:          cfg.BatchMax,
			BatchSeqWindow:    cfg.BatchSeqWindow,
			VisibilityTimeout: cfg.VisibilityTimeout,
			PollInterval:      cfg.PollInterval,
			Build:             cfg.Build,
		}, st, queue, resolver, state, log))
	}

	return &Engine{cfg: cfg, shards: shards, state: state, queue: queue, log: log}
}

// Wake nudges every shard to check the staging queue immediately rather
// than waiting for its next poll tick. Safe to call from outside the
// engine, e.g. a storepg.CommitListener reacting to a Postgres NOTIFY.
func (e *Engine) Wake(ctx context.Context) error {
	return e.queue.Wake(ctx)
}

// partitionRange divides [0, 3*idcodec.Budget) — the full span a valid
// TypedId can occupy across all three kinds — into n contiguous, disjoint
// ranges and returns the i-th one. Valid TypedIds fill only the lowest 3/16
// of the uint64 space, so partitioning the full space instead would pack
// every real TypedId into shard 0 for any n up to 5, and into the first
// ceil(3n/16) shards for larger n, silently defeating parallelism.
func partitionRange(i, n int) (idcodec.TypedId, idcodec.TypedId) {
	const validSpace = 3 * idcodec.Budget
	span := validSpace / uint64(n)
	start := idcodec.TypedId(uint64(i) * span)
	if i == n-1 {
		return start, idcodec.TypedId(validSpace)
	}
	return start, idcodec.TypedId(uint64(i+1) * span)
}

// Run starts every shard and blocks until every shard has returned, which
// happens once ctx is cancelled or Stop is called. Shard loops only log and
// continue on per-tick errors and their goroutines always return nil, so
// the returned error is always nil.
func (e *Engine) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, shard := range e.shards {
		shard := shard
		g.Go(func() error {
			shard.Run(gctx)
			return nil
		})
	}
	return g.Wait()
}

// Stop halts every shard.
func (e *Engine) Stop() {
	for _, shard := range e.shards {
		shard.Stop()
	}
}

// State exposes the shared shardstate.Manager for the HTTP status handlers.
func (e *Engine) State() *shardstate.Manager { return e.state }

// GlobalWatermark returns the minimum of every shard's local watermark: the
// sequence_id up to which QueryAPI may safely read, since no shard has work
// outstanding below it.
func (e *Engine) GlobalWatermark() store.SequenceID {
	var min store.SequenceID
	first := true
	for _, shard := range e.shards {
		wm := shard.LocalWatermark()
		if first || wm < min {
			min = wm
			first = false
		}
	}
	return min
}
