// Package commit implements CommitPipeline: the nine-step protocol that
// validates and atomically applies a batch of element mutations against
// ElementLog and ChangesetManager, then hands the touched typed-ids to the
// SpatialMaterializer via a durable staging queue.
package commit

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"osmcore.dev/changeset"
	"osmcore.dev/elementlog"
	"osmcore.dev/geom"
	"osmcore.dev/idcodec"
	"osmcore.dev/materializer"
	queue "osmcore.dev/notifier"
	"osmcore.dev/osmerr"
	"osmcore.dev/store"
)

// Config bundles CommitPipeline's policy knobs.
type Config struct {
	ReferencePolicy ReferencePolicy
	MaxAttempts     uint64
	InitialInterval time.Duration

	// StagingHardLimit rejects a batch outright once the staging queue
	// depth plus the incoming batch would exceed it. Zero disables the
	// check.
	StagingHardLimit int
}

// Result summarizes a successfully applied commit.
type Result struct {
	ChangesetId  int64
	TypedIds     []idcodec.TypedId
	SequenceFrom store.SequenceID
	SequenceTo   store.SequenceID
}

// Pipeline applies mutation batches. Reserve/RecordCommit run against the
// changeset package's GORM-managed Postgres connection; the rest of the
// batch runs against a store.Store transaction. The two are sequenced, not
// two-phase-committed: the store transaction is begun inside the GORM
// transaction, after Reserve, and only committed once RecordCommit has
// already succeeded within it, so the window in which one could commit
// without the other is the GORM transaction's own commit call at the very
// end (see DESIGN.md).
type Pipeline struct {
	store      store.Store
	db         *gorm.DB
	changesets *changeset.Manager
	publisher  queue.Publisher
	cfg        Config
	log        *logrus.Entry
}

// New builds a Pipeline. publisher may be nil to disable CommitReceipt
// notification.
func New(st store.Store, db *gorm.DB, changesets *changeset.Manager, publisher queue.Publisher, cfg Config, log *logrus.Entry) *Pipeline {
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.InitialInterval == 0 {
		cfg.InitialInterval = 20 * time.Millisecond
	}
	return &Pipeline{store: st, db: db, changesets: changesets, publisher: publisher, cfg: cfg, log: log}
}

// Apply runs the full commit protocol for one mutation batch, retrying on
// store.IsConflict with exponential backoff: on conflict the whole batch
// is retried from the top.
func (p *Pipeline) Apply(ctx context.Context, changesetID int64, mutations []Mutation) (Result, error) {
	var result Result

	op := func() error {
		r, err := p.attempt(ctx, changesetID, mutations)
		if err != nil {
			if store.IsConflict(err) {
				return err
			}
			return backoff.Permanent(err)
		}
		result = r
		return nil
	}

	b := backoff.WithContext(backoff.WithMaxRetries(
		newBackoff(p.cfg.InitialInterval), p.cfg.MaxAttempts), ctx)
	if err := backoff.Retry(op, b); err != nil {
		return Result{}, err
	}

	if p.publisher != nil && len(result.TypedIds) > 0 {
		p.publishReceipt(result)
	}
	return result, nil
}

func newBackoff(initial time.Duration) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = initial
	return b
}

func (p *Pipeline) publishReceipt(r Result) {
	raw := make([]uint64, len(r.TypedIds))
	for i, id := range r.TypedIds {
		raw[i] = uint64(id)
	}
	receipt := queue.CommitReceipt{
		ChangesetID:  r.ChangesetId,
		TypedIds:     raw,
		SequenceFrom: uint64(r.SequenceFrom),
		SequenceTo:   uint64(r.SequenceTo),
		CommittedAt:  time.Now().UnixNano(),
	}
	if err := p.publisher.Publish(receipt); err != nil {
		p.log.WithError(err).Warn("commit receipt publish failed")
	}
}

// attempt runs one full pass of the protocol inside one GORM transaction
// (for changeset bookkeeping) wrapping one Store transaction (for
// ElementLog/staging). A failure before the store commit aborts both; a
// failure of the final GORM commit leaves the store transaction committed.
func (p *Pipeline) attempt(ctx context.Context, changesetID int64, mutations []Mutation) (Result, error) {
	var result Result

	err := p.db.Transaction(func(gtx *gorm.DB) error {
		if err := p.changesets.Reserve(ctx, gtx, changesetID, len(mutations)); err != nil {
			return err
		}

		storeTxn, err := p.store.Begin(ctx)
		if err != nil {
			return err
		}
		committed := false
		defer func() {
			if !committed {
				_ = p.store.Rollback(ctx, storeTxn)
			}
		}()

		var batch []elementlog.ElementVersion
		var touched []idcodec.TypedId
		var envelope geom.Envelope
		var created, modified, deleted int
		now := time.Now().UnixNano()

		for _, m := range mutations {
			switch m.Kind {
			case MutationCreate:
				id, err := allocateTypedId(ctx, storeTxn, m.ElementKind)
				if err != nil {
					return err
				}
				if err := validateRefs(ctx, storeTxn, m.Body, p.cfg.ReferencePolicy); err != nil {
					return err
				}
				v := elementlog.ElementVersion{
					TypedId: id, Version: 1, ChangesetId: changesetID,
					Visible: true, Tags: m.Tags, Body: m.Body, CreatedAt: now, Latest: true,
				}
				fp, err := Fingerprint(id, v.Body, v.Tags, v.Visible)
				if err != nil {
					return err
				}
				v.Fingerprint = fp
				batch = append(batch, v)
				touched = append(touched, id)
				created++
				envelope = envelope.Union(geometryHint(ctx, storeTxn, v.Body))

			case MutationModify:
				prev, err := elementlog.GetLatest(ctx, storeTxn, m.TypedId)
				if err != nil {
					return osmerr.Errorf(osmerr.KindVersionConflict, "commit.Apply", err)
				}
				if prev.Version != m.BaseVersion {
					return osmerr.Errorf(osmerr.KindVersionConflict, "commit.Apply", nil)
				}
				if err := validateRefs(ctx, storeTxn, m.Body, p.cfg.ReferencePolicy); err != nil {
					return err
				}
				fp, err := Fingerprint(m.TypedId, m.Body, m.Tags, true)
				if err != nil {
					return err
				}
				if fp == prev.Fingerprint {
					continue // identical resubmission, no-op
				}
				v := elementlog.ElementVersion{
					TypedId: m.TypedId, Version: prev.Version + 1, ChangesetId: changesetID,
					Visible: true, Tags: m.Tags, Body: m.Body, CreatedAt: now, Fingerprint: fp, Latest: true,
				}
				batch = append(batch, v)
				touched = append(touched, m.TypedId)
				modified++
				envelope = envelope.Union(geometryHint(ctx, storeTxn, v.Body))

			case MutationDelete:
				prev, err := elementlog.GetLatest(ctx, storeTxn, m.TypedId)
				if err != nil {
					return osmerr.Errorf(osmerr.KindVersionConflict, "commit.Apply", err)
				}
				if prev.Version != m.BaseVersion {
					return osmerr.Errorf(osmerr.KindVersionConflict, "commit.Apply", nil)
				}
				v := elementlog.ElementVersion{
					TypedId: m.TypedId, Version: prev.Version + 1, ChangesetId: changesetID,
					Visible: false, CreatedAt: now, Latest: true,
				}
				fp, err := Fingerprint(m.TypedId, v.Body, nil, false)
				if err != nil {
					return err
				}
				v.Fingerprint = fp
				batch = append(batch, v)
				touched = append(touched, m.TypedId)
				deleted++
			}
		}

		if len(batch) == 0 {
			result = Result{ChangesetId: changesetID}
			return nil
		}

		if p.cfg.StagingHardLimit > 0 {
			depth, err := materializer.Depth(ctx, storeTxn)
			if err != nil {
				return err
			}
			if depth+len(batch) > p.cfg.StagingHardLimit {
				return osmerr.Errorf(osmerr.KindOverloaded, "commit.Apply", nil)
			}
		}

		first, err := storeTxn.NextSequence(ctx, len(batch))
		if err != nil {
			return err
		}
		for i := range batch {
			batch[i].SequenceId = first + store.SequenceID(i)
		}

		if err := elementlog.Append(ctx, storeTxn, batch); err != nil {
			return err
		}
		if err := p.changesets.RecordCommit(ctx, gtx, changesetID, created, modified, deleted, envelope); err != nil {
			return err
		}

		maxSeq := batch[len(batch)-1].SequenceId
		staged := make([]materializer.StagingEntry, 0, len(batch))
		for _, v := range batch {
			staged = append(staged, materializer.StagingEntry{
				TypedId: v.TypedId, SourceSequenceId: v.SequenceId,
				UpdatedSequenceId: maxSeq, Depth: 0,
			})
		}
		if err := materializer.PutStaging(ctx, storeTxn, staged); err != nil {
			return err
		}

		if _, err := p.store.Commit(ctx, storeTxn); err != nil {
			return err
		}
		committed = true

		result = Result{ChangesetId: changesetID, TypedIds: touched, SequenceFrom: first, SequenceTo: maxSeq}
		return nil
	})

	return result, err
}
