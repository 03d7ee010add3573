// Package changeset owns the changeset lifecycle: the open/growing/closed
// state machine, per-changeset size and open-window enforcement, and the
// union bounds aggregated from every commit against it. Changeset metadata
// is comparatively low-volume and relationally shaped, so it is persisted
// through GORM rather than the raw Store abstraction element rows use.
package changeset

import (
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// Tags is a small string map stored as a single JSON column.
type Tags map[string]string

// Scan implements sql.Scanner for Tags.
func (t *Tags) Scan(value interface{}) error {
	if value == nil {
		*t = nil
		return nil
	}
	raw, ok := value.([]byte)
	if !ok {
		s, ok := value.(string)
		if !ok {
			return fmt.Errorf("changeset: unsupported Tags scan type %T", value)
		}
		raw = []byte(s)
	}
	if len(raw) == 0 {
		*t = nil
		return nil
	}
	return json.Unmarshal(raw, t)
}

// Value implements driver.Valuer for Tags.
func (t Tags) Value() (interface{}, error) {
	if t == nil {
		return "{}", nil
	}
	return json.Marshal(t)
}

// Changeset is the GORM-mapped row for a changeset's metadata. Member
// element versions live in elementlog, not here; this row tracks only the
// lifecycle state and aggregate counters.
type Changeset struct {
	ID        int64 `gorm:"primaryKey;autoIncrement"`
	UserID    *int64
	Tags      Tags `gorm:"type:jsonb"`
	// Source is a free-form editor/importer name carried through from the
	// commit request. Operator-facing only; never consulted for policy.
	Source    string
	CreatedAt time.Time
	UpdatedAt time.Time
	ClosedAt  *time.Time

	Size         int
	CountCreate  int
	CountModify  int
	CountDelete  int

	// Union bounds, nil until the first commit records an envelope.
	BoundsMinLon *float64
	BoundsMinLat *float64
	BoundsMaxLon *float64
	BoundsMaxLat *float64
}

func (Changeset) TableName() string { return "changeset" }

// ChangesetBounds is one immutable row per commit, recording the envelope of
// that commit's touched geometries. Rows are never mutated after insert.
type ChangesetBounds struct {
	ID          uint `gorm:"primaryKey;autoIncrement"`
	ChangesetID int64 `gorm:"index"`
	MinLon      float64
	MinLat      float64
	MaxLon      float64
	MaxLat      float64
	CreatedAt   time.Time
}

func (ChangesetBounds) TableName() string { return "changeset_bounds" }

// Open connects to Postgres for the changeset tables.
func Open(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("changeset: open: %w", err)
	}
	return db, nil
}

// Migrate creates or updates the changeset and changeset_bounds tables.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&Changeset{}, &ChangesetBounds{}); err != nil {
		return fmt.Errorf("changeset: migrate: %w", err)
	}
	return nil
}
