package shardstate

import (
	"sync"
	"time"
)

// Manager keeps a bounded ring of recent TickStates per shard, guarded by a
// single RWMutex (tick volume is low relative to lock contention cost, so a
// per-shard mutex would be premature).
type Manager struct {
	mu          sync.RWMutex
	byShard     map[int][]*TickState
	maxPerShard int
}

// Config configures a Manager.
type Config struct {
	// MaxPerShard bounds how many recent ticks are retained per shard.
	// Zero defaults to 200.
	MaxPerShard int
}

// New creates a Manager.
func New(cfg Config) *Manager {
	if cfg.MaxPerShard == 0 {
		cfg.MaxPerShard = 200
	}
	return &Manager{
		byShard:     make(map[int][]*TickState),
		maxPerShard: cfg.MaxPerShard,
	}
}

// StartTick records the start of a tick for shardID and returns the state
// object the caller mutates in place via CompleteTick.
func (m *Manager) StartTick(shardID int) *TickState {
	m.mu.Lock()
	defer m.mu.Unlock()

	tick := &TickState{ShardID: shardID, Status: StatusRunning, StartedAt: time.Now()}
	history := append(m.byShard[shardID], tick)
	if len(history) > m.maxPerShard {
		history = history[len(history)-m.maxPerShard:]
	}
	m.byShard[shardID] = history
	return tick
}

// CompleteTick finalizes a previously started tick.
func (m *Manager) CompleteTick(tick *TickState, entriesSeen int, watermark uint64, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	tick.CompletedAt = &now
	tick.Duration = now.Sub(tick.StartedAt).String()
	tick.EntriesSeen = entriesSeen
	tick.Watermark = watermark
	if err != nil {
		tick.Status = StatusFailed
		tick.Error = err.Error()
	} else if entriesSeen == 0 {
		tick.Status = StatusIdle
	} else {
		tick.Status = StatusCompleted
	}
}

// RecentForShard returns shardID's tick history, most recent last.
func (m *Manager) RecentForShard(shardID int) []*TickState {
	m.mu.RLock()
	defer m.mu.RUnlock()

	src := m.byShard[shardID]
	out := make([]*TickState, len(src))
	for i, t := range src {
		cp := *t
		out[i] = &cp
	}
	return out
}

// Stats aggregates tick counts and durations across every shard.
func (m *Manager) Stats() *Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := &Stats{ByStatus: make(map[Status]int)}
	var totalDuration time.Duration
	var completed int

	for _, history := range m.byShard {
		for _, t := range history {
			stats.TotalTicks++
			stats.ByStatus[t.Status]++
			if t.CompletedAt != nil {
				totalDuration += t.CompletedAt.Sub(t.StartedAt)
				completed++
			}
		}
	}
	if completed > 0 {
		stats.AverageDuration = (totalDuration / time.Duration(completed)).String()
	}
	return stats
}
