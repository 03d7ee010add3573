package storepg

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	"osmcore.dev/store"
)

// CommitNotifyChannel is the Postgres NOTIFY channel DB.Commit publishes
// newly committed sequence ids on.
const CommitNotifyChannel = "osmcore_commits"

// CommitEventHandler is called with the sequence_id of a committed batch.
type CommitEventHandler func(store.SequenceID)

// CommitListener subscribes to CommitNotifyChannel and dispatches each
// commit's sequence id to its registered handlers. It lets a shard running
// against the Postgres backend wake promptly instead of relying solely on
// its poll interval.
type CommitListener struct {
	pool     *pgxpool.Pool
	log      *logrus.Entry
	mu       sync.RWMutex
	handlers []CommitEventHandler
	cancel   context.CancelFunc
}

// NewCommitListener builds a listener bound to pool.
func NewCommitListener(pool *pgxpool.Pool, log *logrus.Entry) *CommitListener {
	return &CommitListener{pool: pool, log: log}
}

// OnCommit registers a handler invoked for every observed commit.
func (l *CommitListener) OnCommit(h CommitEventHandler) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.handlers = append(l.handlers, h)
}

// Start begins listening in a background goroutine, reconnecting on error
// until ctx is canceled or Stop is called.
func (l *CommitListener) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	l.cancel = cancel
	go l.loop(ctx)
}

// Stop ends the listen loop.
func (l *CommitListener) Stop() {
	if l.cancel != nil {
		l.cancel()
	}
}

func (l *CommitListener) loop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		if err := l.listen(ctx); err != nil {
			l.log.WithError(err).Warn("commit listener disconnected, retrying")
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
		}
	}
}

func (l *CommitListener) listen(ctx context.Context) error {
	conn, err := l.pool.Acquire(ctx)
	if err != nil {
		return err
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "LISTEN "+CommitNotifyChannel); err != nil {
		return err
	}

	for {
		n, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			return err
		}
		seq, err := strconv.ParseUint(n.Payload, 10, 64)
		if err != nil {
			l.log.WithError(err).Warn("commit listener: unparseable payload")
			continue
		}
		l.dispatch(store.SequenceID(seq))
	}
}

func (l *CommitListener) dispatch(seq store.SequenceID) {
	l.mu.RLock()
	handlers := make([]CommitEventHandler, len(l.handlers))
	copy(handlers, l.handlers)
	l.mu.RUnlock()
	for _, h := range handlers {
		h(seq)
	}
}
