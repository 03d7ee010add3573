package cli

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"osmcore.dev/changeset"
	"osmcore.dev/config"
	"osmcore.dev/materializer"
	"osmcore.dev/notifier"
	"osmcore.dev/store"
	"osmcore.dev/store/storebolt"
	"osmcore.dev/store/storepg"
)

// storeSequenceID converts a plain int64 config value into a store.SequenceID.
func storeSequenceID(n int64) store.SequenceID { return store.SequenceID(n) }

// openStore opens the element/geometry store backend named by cfg.
func openStore(ctx context.Context, cfg config.Config) (store.Store, error) {
	switch cfg.StoreBackend {
	case "pg":
		return storepg.Open(ctx, cfg.PostgresDSN)
	default:
		return storebolt.Open(cfg.BoltPath)
	}
}

// openChangesetManager opens the Postgres-backed changeset ledger and
// migrates it if necessary.
func openChangesetManager(cfg config.Config) (*changeset.Manager, error) {
	db, err := changeset.Open(cfg.ChangesetDSN)
	if err != nil {
		return nil, fmt.Errorf("opening changeset db: %w", err)
	}
	if err := changeset.Migrate(db); err != nil {
		return nil, fmt.Errorf("migrating changeset db: %w", err)
	}
	return changeset.New(db, changeset.Options{
		MaxChangesetSize: cfg.MaxChangesetSize,
		IdleTimeout:      cfg.ChangesetIdleTimeout,
		MaxLifetime:      cfg.ChangesetMaxLifetime,
	}), nil
}

// openRedis opens the client the staging queue uses to coordinate shard
// wakeups and the in-flight processing set.
func openRedis(cfg config.Config) *redis.Client {
	return redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
}

// openPublisher opens the commit-receipt notifier, or returns nil if
// unconfigured, which CommitPipeline treats as "no notification wanted".
func openPublisher(cfg config.Config, log *logrus.Entry) (notifier.Publisher, error) {
	if cfg.RabbitMQURL == "" {
		return nil, nil
	}
	return notifier.NewRabbitMQService(notifier.Config{
		URL:       cfg.RabbitMQURL,
		QueueName: cfg.RabbitMQQueue,
	}, log)
}

// startCommitListener wires a storepg.CommitListener to engine.Wake when st
// is backed by Postgres, so shards wake on a NOTIFY instead of waiting out
// their poll interval. Returns nil (no listener) for any other backend.
func startCommitListener(ctx context.Context, st store.Store, engine *materializer.Engine, log *logrus.Entry) *storepg.CommitListener {
	db, ok := st.(*storepg.DB)
	if !ok {
		return nil
	}
	l := storepg.NewCommitListener(db.Pool(), log)
	l.OnCommit(func(store.SequenceID) {
		if err := engine.Wake(ctx); err != nil {
			log.WithError(err).Warn("commit listener: wake failed")
		}
	})
	l.Start(ctx)
	return l
}
