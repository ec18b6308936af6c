package config

import (
	"errors"
	"fmt"

	"fabula/pkg/similarity"
)

// Validate checks every field the app relies on before anything connects
// or computes. Called once at startup, right after LoadConfig.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "postgres":
		if c.Database.Primary.DSN == "" {
			return errors.New("database.primary.dsn is required with the postgres driver")
		}
	case "sqlite":
		if c.Database.SQLite.Path == "" {
			return errors.New("database.sqlite.path is required with the sqlite driver")
		}
	default:
		return fmt.Errorf("database.driver must be \"postgres\" or \"sqlite\", got %q", c.Database.Driver)
	}

	if _, err := similarity.ParseMetric(c.Engine.Metric); err != nil {
		return fmt.Errorf("engine.metric: %w", err)
	}
	if c.Engine.MaxPerStory < 0 {
		return errors.New("engine.max_per_story must be zero or positive")
	}
	if c.Engine.SimilarityThreshold < 0 || c.Engine.SimilarityThreshold > 1 {
		return errors.New("engine.similarity_threshold must be within [0, 1]")
	}
	if c.Engine.BatchSize <= 0 {
		return errors.New("engine.batch_size must be a positive integer")
	}
	if c.Engine.Parallelism <= 0 {
		return errors.New("engine.parallelism must be a positive integer")
	}
	if c.Engine.SnapshotVectors && c.VectorDSN() == "" {
		return errors.New("database.vector.dsn or database.primary.dsn is required when engine.snapshot_vectors is true")
	}

	if c.Redis.Address == "" {
		return errors.New("redis.address is required")
	}

	if c.Worker.Concurrency <= 0 {
		return errors.New("worker.concurrency must be a positive integer")
	}
	if len(c.Worker.Queues) == 0 {
		return errors.New("worker.queues must define at least one queue")
	}
	for name, priority := range c.Worker.Queues {
		if name == "" {
			return errors.New("worker.queues contains an empty queue name")
		}
		if priority <= 0 {
			return fmt.Errorf("worker.queues priority for queue '%s' must be positive", name)
		}
	}

	if c.Server.Address == "" {
		return errors.New("server.address is required")
	}

	return nil
}
