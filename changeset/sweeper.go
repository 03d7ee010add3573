package changeset

import (
	"context"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/sirupsen/logrus"
)

// Sweeper periodically closes Open changesets that have gone idle or aged
// past their maximum lifetime. It runs as a single background task.
type Sweeper struct {
	mgr      *Manager
	interval time.Duration
	log      *logrus.Entry
	stopCh   chan struct{}
}

// NewSweeper builds a Sweeper that checks for idle/aged changesets every
// interval.
func NewSweeper(mgr *Manager, interval time.Duration, log *logrus.Entry) *Sweeper {
	return &Sweeper{
		mgr:      mgr,
		interval: interval,
		log:      log,
		stopCh:   make(chan struct{}),
	}
}

// Run blocks, sweeping on a ticker until ctx is cancelled or Stop is called.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			if n, err := s.sweepOnce(ctx); err != nil {
				s.log.WithError(err).Warn("changeset sweep failed")
			} else if n > 0 {
				s.log.WithField("closed", humanize.Comma(n)).Info("swept idle/aged changesets")
			}
		}
	}
}

// Stop halts the sweeper's loop.
func (s *Sweeper) Stop() { close(s.stopCh) }

// sweepOnce closes every Open changeset whose idle timeout or max lifetime
// has elapsed. Idempotent: re-running against an already-closed row changes
// nothing.
func (s *Sweeper) sweepOnce(ctx context.Context) (int64, error) {
	now := time.Now()
	idleCutoff := now.Add(-s.mgr.opts.IdleTimeout)
	lifetimeCutoff := now.Add(-s.mgr.opts.MaxLifetime)

	result := s.mgr.db.WithContext(ctx).Model(&Changeset{}).
		Where("closed_at IS NULL AND (updated_at <= ? OR created_at <= ?)", idleCutoff, lifetimeCutoff).
		Update("closed_at", now)
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}
