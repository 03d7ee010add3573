package materializer

import (
	"context"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/sirupsen/logrus"

	"osmcore.dev/dependency"
	"osmcore.dev/idcodec"
	"osmcore.dev/materializer/shardstate"
	"osmcore.dev/store"
)

// ShardConfig configures one materializer shard: the TypedId partition it
// owns and its batch/visibility tuning.
type ShardConfig struct {
	ID               int
	RangeStart       idcodec.TypedId
	RangeEnd         idcodec.TypedId
	BatchMax         int
	BatchSeqWindow   store.SequenceID
	VisibilityTimeout time.Duration
	PollInterval     time.Duration
	Build            BuildConfig
}

// Shard is a single-threaded worker owning a disjoint TypedId range: at
// most one goroutine materializes a given TypedId at a time, with no
// locking needed across shards. Its Run/Stop shape follows a standard
// worker pool idiom, specialized to one shard per goroutine rather than a
// generic job processor.
type Shard struct {
	cfg      ShardConfig
	store    store.Store
	queue    *StagingQueue
	resolver *dependency.Resolver
	state    *shardstate.Manager
	log      *logrus.Entry
	stopCh   chan struct{}

	localWatermark store.SequenceID
}

// NewShard builds a Shard. The caller is responsible for partitioning
// RangeStart/RangeEnd disjointly across all shards in the fleet.
func NewShard(cfg ShardConfig, st store.Store, queue *StagingQueue, resolver *dependency.Resolver, state *shardstate.Manager, log *logrus.Entry) *Shard {
	return &Shard{
		cfg:      cfg,
		store:    st,
		queue:    queue,
		resolver: resolver,
		state:    state,
		log:      log.WithField("shard", cfg.ID),
		stopCh:   make(chan struct{}),
	}
}

// LocalWatermark returns the shard's own advanced watermark, used by the
// Engine to compute the global hwm as the minimum across shards.
func (s *Shard) LocalWatermark() store.SequenceID { return s.localWatermark }

// Run loops calling Tick until ctx is cancelled or Stop is called.
func (s *Shard) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		default:
			if err := s.queue.WaitForWake(ctx, s.cfg.ID, s.cfg.PollInterval); err != nil {
				s.log.WithError(err).Warn("wake wait failed")
			}
			if err := s.Tick(ctx); err != nil {
				s.log.WithError(err).Warn("tick failed")
			}
		}
	}
}

// Stop halts the shard's loop.
func (s *Shard) Stop() { close(s.stopCh) }

// Tick implements one iteration of the shard's processing loop over its
// partition: claim, expand via DependencyResolver, build in dependency
// order, write, advance the local watermark, acknowledge.
func (s *Shard) Tick(ctx context.Context) error {
	tick := s.state.StartTick(s.cfg.ID)
	var entriesSeen int
	var tickErr error
	defer func() { s.state.CompleteTick(tick, entriesSeen, uint64(s.localWatermark), tickErr) }()

	txn, err := s.store.Begin(ctx)
	if err != nil {
		tickErr = err
		return err
	}
	committed := false
	defer func() {
		if !committed {
			_ = s.store.Rollback(ctx, txn)
		}
	}()

	hwm, err := ReadWatermark(ctx, txn)
	if err != nil {
		tickErr = err
		return err
	}

	claimed, err := s.queue.Claim(ctx, hwm, s.cfg.BatchSeqWindow, s.cfg.BatchMax, s.cfg.RangeStart, s.cfg.RangeEnd, s.cfg.VisibilityTimeout)
	if err != nil {
		tickErr = err
		return err
	}
	if len(claimed) == 0 {
		s.localWatermark = hwm
		return nil
	}

	seed := make([]idcodec.TypedId, 0, len(claimed))
	depth := make(map[idcodec.TypedId]int, len(claimed))
	maxBatchSeq := hwm
	for _, e := range claimed {
		seed = append(seed, e.TypedId)
		depth[e.TypedId] = 0
		if e.UpdatedSequenceId > maxBatchSeq {
			maxBatchSeq = e.UpdatedSequenceId
		}
	}

	deps, err := s.resolver.Dependents(ctx, txn, seed, 0)
	if err != nil {
		tickErr = err
		return err
	}
	for id, d := range deps {
		if existing, ok := depth[id]; !ok || d < existing {
			depth[id] = d
		}
	}
	ordered := dependency.Ordered(depth)

	snap, err := s.store.Snapshot(ctx, hwm)
	if err != nil {
		tickErr = err
		return err
	}

	overlay := make(geometryOverlay, len(ordered))
	for _, id := range ordered {
		outcome, err := build(ctx, txn, snap, overlay, s.cfg.Build, id)
		if err != nil {
			tickErr = err
			return err
		}
		if outcome.geometry == nil {
			if err := DeleteGeometry(ctx, txn, id); err != nil {
				tickErr = err
				return err
			}
			overlay[id] = nil
			continue
		}
		g := MaterializedGeometry{
			TypedId:    id,
			SequenceId: outcome.contributingSeq,
			Geom:       *outcome.geometry,
		}
		if err := PutGeometry(ctx, txn, g); err != nil {
			tickErr = err
			return err
		}
		overlay[id] = &g
	}

	if err := AdvanceWatermark(ctx, txn, maxBatchSeq); err != nil {
		tickErr = err
		return err
	}
	if err := s.queue.Ack(ctx, txn, claimed); err != nil {
		tickErr = err
		return err
	}

	if _, err := s.store.Commit(ctx, txn); err != nil {
		tickErr = err
		return err
	}
	committed = true
	s.localWatermark = maxBatchSeq
	entriesSeen = len(claimed)
	s.log.WithFields(logrus.Fields{
		"entries":   humanize.Comma(int64(entriesSeen)),
		"watermark": humanize.Comma(int64(maxBatchSeq)),
	}).Debug("tick materialized")
	return nil
}
