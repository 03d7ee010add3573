// Package config loads the element store and spatial materializer's
// runtime configuration from flags, environment variables (OSMCORE_ prefix),
// and an optional config file, following viper's standard precedence order.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"

	"osmcore.dev/commit"
	"osmcore.dev/materializer"
)

// Config is the full runtime configuration surface for the daemon.
type Config struct {
	// Store backend
	StoreBackend string // "bolt" or "pg"
	BoltPath     string
	PostgresDSN  string

	// Changeset bookkeeping (Postgres via GORM)
	ChangesetDSN string

	// Redis, for staging queue wake/processing-set coordination
	RedisAddr string

	// RabbitMQ, for commit receipt notification
	RabbitMQURL   string
	RabbitMQQueue string

	// HTTP facade
	HTTPPort int

	MaxChangesetSize     int
	ChangesetIdleTimeout time.Duration
	ChangesetMaxLifetime time.Duration

	ReferencePolicy string // "strict" or "lenient"

	MaterializerShards  int
	BatchMax            int
	BatchSequenceWindow int64
	StagingSoftLimit    int
	StagingHardLimit    int
	VisibilityTimeout   time.Duration
	RelationMaxDepth    int

	MaxQueryResults int
}

// Default returns the configuration in effect before flags, env vars, or a
// config file override any field.
func Default() Config {
	return Config{
		StoreBackend:         "bolt",
		BoltPath:             "osmcore.db",
		RedisAddr:            "localhost:6379",
		HTTPPort:             8080,
		MaxChangesetSize:     10000,
		ChangesetIdleTimeout: time.Hour,
		ChangesetMaxLifetime: 24 * time.Hour,
		ReferencePolicy:      "strict",
		MaterializerShards:   4,
		BatchMax:             500,
		BatchSequenceWindow:  1000,
		StagingSoftLimit:     50000,
		StagingHardLimit:     200000,
		VisibilityTimeout:    30 * time.Second,
		RelationMaxDepth:     8,
		MaxQueryResults:      10000,
	}
}

// Load reads Config from viper, which has already been populated by
// BindFlags + AutomaticEnv + (optionally) a config file, per cli/root.go.
func Load(v *viper.Viper) Config {
	cfg := Default()

	setString(v, "store_backend", &cfg.StoreBackend)
	setString(v, "bolt_path", &cfg.BoltPath)
	setString(v, "postgres_dsn", &cfg.PostgresDSN)
	setString(v, "changeset_dsn", &cfg.ChangesetDSN)
	setString(v, "redis_addr", &cfg.RedisAddr)
	setString(v, "rabbitmq_url", &cfg.RabbitMQURL)
	setString(v, "rabbitmq_queue", &cfg.RabbitMQQueue)
	setString(v, "reference_policy", &cfg.ReferencePolicy)

	setInt(v, "http_port", &cfg.HTTPPort)
	setInt(v, "max_changeset_size", &cfg.MaxChangesetSize)
	setInt(v, "materializer_shards", &cfg.MaterializerShards)
	setInt(v, "batch_max", &cfg.BatchMax)
	setInt(v, "staging_soft_limit", &cfg.StagingSoftLimit)
	setInt(v, "staging_hard_limit", &cfg.StagingHardLimit)
	setInt(v, "relation_max_depth", &cfg.RelationMaxDepth)
	setInt(v, "max_query_results", &cfg.MaxQueryResults)

	if v.IsSet("batch_sequence_window") {
		cfg.BatchSequenceWindow = v.GetInt64("batch_sequence_window")
	}
	setDuration(v, "changeset_idle_timeout", &cfg.ChangesetIdleTimeout)
	setDuration(v, "changeset_max_lifetime", &cfg.ChangesetMaxLifetime)
	setDuration(v, "visibility_timeout", &cfg.VisibilityTimeout)

	return cfg
}

func setString(v *viper.Viper, key string, dst *string) {
	if v.IsSet(key) {
		if s := v.GetString(key); s != "" {
			*dst = s
		}
	}
}

func setInt(v *viper.Viper, key string, dst *int) {
	if v.IsSet(key) {
		if n := v.GetInt(key); n != 0 {
			*dst = n
		}
	}
}

func setDuration(v *viper.Viper, key string, dst *time.Duration) {
	if v.IsSet(key) {
		if d := v.GetDuration(key); d != 0 {
			*dst = d
		}
	}
}

// MaterializerReferencePolicy maps the config string to materializer's enum.
func (c Config) MaterializerReferencePolicy() materializer.ReferencePolicy {
	if c.ReferencePolicy == "lenient" {
		return materializer.PolicyLenient
	}
	return materializer.PolicyStrict
}

// CommitReferencePolicy maps the config string to commit's enum.
func (c Config) CommitReferencePolicy() commit.ReferencePolicy {
	if c.ReferencePolicy == "lenient" {
		return commit.ReferencePolicyAllowDangling
	}
	return commit.ReferencePolicyStrict
}

// Validate reports the first configuration error found, if any.
func (c Config) Validate() error {
	if c.StoreBackend != "bolt" && c.StoreBackend != "pg" {
		return fmt.Errorf("store_backend must be \"bolt\" or \"pg\", got %q", c.StoreBackend)
	}
	if c.StoreBackend == "pg" && c.PostgresDSN == "" {
		return fmt.Errorf("postgres_dsn is required when store_backend is \"pg\"")
	}
	if c.ChangesetDSN == "" {
		return fmt.Errorf("changeset_dsn is required")
	}
	if c.RedisAddr == "" {
		return fmt.Errorf("redis_addr is required")
	}
	if c.MaterializerShards <= 0 {
		return fmt.Errorf("materializer_shards must be positive")
	}
	if c.StagingSoftLimit > c.StagingHardLimit {
		return fmt.Errorf("staging_soft_limit must not exceed staging_hard_limit")
	}
	if c.ReferencePolicy != "strict" && c.ReferencePolicy != "lenient" {
		return fmt.Errorf("reference_policy must be \"strict\" or \"lenient\", got %q", c.ReferencePolicy)
	}
	return nil
}
