package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Log struct {
		Level  string `mapstructure:"level"`
		Format string `mapstructure:"format"` // "text" or "json"
	} `mapstructure:"log"`

	Database struct {
		// Driver selects the primary backend: "postgres" or "sqlite".
		Driver  string `mapstructure:"driver"`
		Primary struct {
			DSN string `mapstructure:"dsn"`
		} `mapstructure:"primary"`
		SQLite struct {
			Path string `mapstructure:"path"`
		} `mapstructure:"sqlite"`
		// Vector DSN for the feature-vector snapshot store; empty reuses
		// the primary DSN.
		Vector struct {
			DSN string `mapstructure:"dsn"`
		} `mapstructure:"vector"`
	} `mapstructure:"database"`

	Engine struct {
		Metric              string  `mapstructure:"metric"`
		MaxPerStory         int     `mapstructure:"max_per_story"`        // 0 keeps every candidate
		SimilarityThreshold float64 `mapstructure:"similarity_threshold"` // score cutoff applied after ranking
		ExcludeSameAuthor   bool    `mapstructure:"exclude_same_author"`
		BatchSize           int     `mapstructure:"batch_size"` // target stories per processing slice
		Parallelism         int     `mapstructure:"parallelism"`
		SnapshotVectors     bool    `mapstructure:"snapshot_vectors"`
	} `mapstructure:"engine"`

	Server struct {
		Address string `mapstructure:"address"`
	} `mapstructure:"server"`

	Redis struct {
		Address  string `mapstructure:"address"`
		Password string `mapstructure:"password"`
		DB       int    `mapstructure:"db"`
	} `mapstructure:"redis"`

	Worker struct {
		Concurrency int            `mapstructure:"concurrency"`
		Queues      map[string]int `mapstructure:"queues"`
	} `mapstructure:"worker"`
}

func LoadConfig() (*Config, error) {
	viper.SetConfigName("fabula")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("$HOME/.config/fabula")
	viper.AddConfigPath("/etc/fabula")

	setDefaults()

	viper.SetEnvPrefix("FABULA")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
	// Bindings for the usual deployment spellings.
	viper.BindEnv("database.primary.dsn", "FABULA_DATABASE_PRIMARY_DSN", "DATABASE_URL")
	viper.BindEnv("redis.address", "FABULA_REDIS_ADDRESS", "REDIS_ADDR")

	if err := viper.ReadInConfig(); err != nil {
		// A missing config file is fine; defaults and env vars carry it.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, err
	}
	return &config, nil
}

func setDefaults() {
	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.format", "text")

	viper.SetDefault("database.driver", "postgres")
	viper.SetDefault("database.sqlite.path", "fabula.db")

	viper.SetDefault("engine.metric", "cosine")
	viper.SetDefault("engine.max_per_story", 10)
	viper.SetDefault("engine.similarity_threshold", 0.0)
	viper.SetDefault("engine.exclude_same_author", false)
	viper.SetDefault("engine.batch_size", 100)
	viper.SetDefault("engine.parallelism", 4)
	viper.SetDefault("engine.snapshot_vectors", false)

	viper.SetDefault("server.address", ":8080")

	viper.SetDefault("redis.address", "127.0.0.1:6379")
	viper.SetDefault("redis.db", 0)

	viper.SetDefault("worker.concurrency", 10)
	viper.SetDefault("worker.queues", map[string]int{"default": 3, "recommendations": 7})
}

// VectorDSN returns the DSN for the vector snapshot store, falling back to
// the primary database.
func (c *Config) VectorDSN() string {
	if c.Database.Vector.DSN != "" {
		return c.Database.Vector.DSN
	}
	return c.Database.Primary.DSN
}
