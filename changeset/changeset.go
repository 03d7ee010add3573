package changeset

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"osmcore.dev/geom"
	"osmcore.dev/osmerr"
)

// Options configures the size and open-window rules a Manager enforces.
type Options struct {
	MaxChangesetSize int
	IdleTimeout      time.Duration
	MaxLifetime      time.Duration
}

// Manager owns changeset lifecycle transitions and the per-commit
// bookkeeping CommitPipeline drives through it.
type Manager struct {
	db   *gorm.DB
	opts Options
}

// New wraps an already-migrated *gorm.DB.
func New(db *gorm.DB, opts Options) *Manager {
	return &Manager{db: db, opts: opts}
}

// OpenChangeset creates a new Open changeset and returns its id. source is
// a free-form editor/importer name, carried through for operator-facing
// listing only; pass "" when the caller doesn't supply one.
func (m *Manager) OpenChangeset(ctx context.Context, userID *int64, tags map[string]string, source string) (int64, error) {
	cs := &Changeset{UserID: userID, Tags: tags, Source: source}
	if err := m.db.WithContext(ctx).Create(cs).Error; err != nil {
		return 0, osmerr.Errorf(osmerr.KindUnavailable, "changeset.OpenChangeset", err)
	}
	return cs.ID, nil
}

// CloseChangeset explicitly transitions a changeset from Open to Closed.
// Idempotent: closing an already-closed changeset is a no-op.
func (m *Manager) CloseChangeset(ctx context.Context, id int64) error {
	now := time.Now()
	err := m.db.WithContext(ctx).Model(&Changeset{}).
		Where("id = ? AND closed_at IS NULL", id).
		Update("closed_at", now).Error
	if err != nil {
		return osmerr.Errorf(osmerr.KindUnavailable, "changeset.CloseChangeset", err)
	}
	return nil
}

// isOpen reports whether cs is open at instant now: closed_at IS NULL and
// both the idle and max-lifetime windows still hold.
func (m *Manager) isOpen(cs *Changeset, now time.Time) bool {
	if cs.ClosedAt != nil {
		return false
	}
	if !cs.UpdatedAt.Add(m.opts.IdleTimeout).After(now) {
		return false
	}
	if !cs.CreatedAt.Add(m.opts.MaxLifetime).After(now) {
		return false
	}
	return true
}

// Reserve validates that changesetID is open and has room for batchSize more
// element versions, inside the caller's transaction. It does not commit the
// size increment; that happens in RecordCommit once the rest of the batch
// has succeeded, so a failed commit never double-charges.
func (m *Manager) Reserve(ctx context.Context, tx *gorm.DB, changesetID int64, batchSize int) error {
	var cs Changeset
	if err := tx.WithContext(ctx).Clauses(clause.Locking{Strength: "UPDATE"}).First(&cs, changesetID).Error; err != nil {
		return osmerr.Errorf(osmerr.KindNotFound, "changeset.Reserve", err)
	}
	if !m.isOpen(&cs, time.Now()) {
		return osmerr.Errorf(osmerr.KindChangesetClosed, "changeset.Reserve", nil)
	}
	if cs.Size+batchSize > m.opts.MaxChangesetSize {
		return osmerr.Errorf(osmerr.KindChangesetOversize, "changeset.Reserve", nil)
	}
	return nil
}

// RecordCommit extends size, one of the three counts, union_bounds, and
// appends an immutable ChangesetBounds row, inside the caller's transaction.
func (m *Manager) RecordCommit(ctx context.Context, tx *gorm.DB, changesetID int64, created, modified, deleted int, env geom.Envelope) error {
	updates := map[string]interface{}{
		"size":         gorm.Expr("size + ?", created+modified+deleted),
		"count_create": gorm.Expr("count_create + ?", created),
		"count_modify": gorm.Expr("count_modify + ?", modified),
		"count_delete": gorm.Expr("count_delete + ?", deleted),
		"updated_at":   time.Now(),
	}
	if env.Valid {
		updates["bounds_min_lon"] = gorm.Expr("LEAST(COALESCE(bounds_min_lon, ?), ?)", env.MinLon, env.MinLon)
		updates["bounds_min_lat"] = gorm.Expr("LEAST(COALESCE(bounds_min_lat, ?), ?)", env.MinLat, env.MinLat)
		updates["bounds_max_lon"] = gorm.Expr("GREATEST(COALESCE(bounds_max_lon, ?), ?)", env.MaxLon, env.MaxLon)
		updates["bounds_max_lat"] = gorm.Expr("GREATEST(COALESCE(bounds_max_lat, ?), ?)", env.MaxLat, env.MaxLat)
	}
	if err := tx.WithContext(ctx).Model(&Changeset{}).Where("id = ?", changesetID).Updates(updates).Error; err != nil {
		return osmerr.Errorf(osmerr.KindUnavailable, "changeset.RecordCommit", err)
	}

	if env.Valid {
		row := ChangesetBounds{
			ChangesetID: changesetID,
			MinLon:      env.MinLon, MinLat: env.MinLat,
			MaxLon: env.MaxLon, MaxLat: env.MaxLat,
			CreatedAt: time.Now(),
		}
		if err := tx.WithContext(ctx).Create(&row).Error; err != nil {
			return osmerr.Errorf(osmerr.KindUnavailable, "changeset.RecordCommit", err)
		}
	}
	return nil
}

// Get returns a changeset's current row.
func (m *Manager) Get(ctx context.Context, id int64) (*Changeset, error) {
	var cs Changeset
	if err := m.db.WithContext(ctx).First(&cs, id).Error; err != nil {
		return nil, osmerr.Errorf(osmerr.KindNotFound, "changeset.Get", err)
	}
	return &cs, nil
}
