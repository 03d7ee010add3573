// Package shardstate tracks the recent tick history of each
// SpatialMaterializer shard: how long a tick took, how many staging
// entries it drained, and the last error if any. It exists purely for
// operational visibility; no component reads it to make a scheduling
// decision.
package shardstate

import "time"

// TickState is a snapshot of one materializer tick. StartTick records it
// with StatusRunning; CompleteTick fills in the outcome.
type TickState struct {
	ShardID     int        `json:"shard_id"`
	Status      Status     `json:"status"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Duration    string     `json:"duration,omitempty"`
	EntriesSeen int        `json:"entries_seen"`
	Watermark   uint64     `json:"watermark"`
	Error       string     `json:"error,omitempty"`
}

// Status is the outcome of a tick.
type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusIdle      Status = "idle"
)

// Stats aggregates tick history across shards.
type Stats struct {
	TotalTicks      int            `json:"total_ticks"`
	ByStatus        map[Status]int `json:"by_status"`
	AverageDuration string         `json:"average_duration,omitempty"`
}
