// Package config defines service configuration structures and loading hooks.
//
// Conventions:
// - Every field carries a koanf tag matching its YAML key and env suffix.
// - New builds a Config populated with defaults; Load layers file and env on top.
// - Validation failures wrap ErrInvalidConfig, source failures wrap ErrLoadConfig.
package config

import (
	"context"
)

// Storage backends understood by the service.
const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
)

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`

	// Addr configures the HTTP listen address, e.g. ":8080".
	Addr string `koanf:"addr"`

	// Store selects the persistence backend: memory or postgres.
	Store string `koanf:"store"`

	// PostgresDSN is used when Store is postgres.
	PostgresDSN string `koanf:"postgres_dsn"`

	// LeaderboardTopN is the number of entries returned when no limit is given.
	LeaderboardTopN int `koanf:"leaderboard_top_n"`

	// MaxLeaderboardLimit caps GET /leaderboard?limit.
	MaxLeaderboardLimit int `koanf:"max_leaderboard_limit"`

	// DedupeSize bounds the in-flight submission guard.
	DedupeSize int `koanf:"dedupe_size"`

	// SubmitRateLimit is the sustained rating submissions per second; 0 disables limiting.
	SubmitRateLimit float64 `koanf:"submit_rate_limit"`
	SubmitRateBurst int     `koanf:"submit_rate_burst"`

	// SeedDemo creates a demo playmaker and sample when the store starts empty.
	SeedDemo bool `koanf:"seed_demo"`

	// BackupDir receives JSON backups when no S3 bucket is configured.
	BackupDir string `koanf:"backup_dir"`

	// BackupIntervalSec schedules periodic backups; 0 disables the scheduler.
	BackupIntervalSec int `koanf:"backup_interval_sec"`

	// S3 destination for backups. Endpoint is optional (MinIO, localstack).
	BackupS3Bucket    string `koanf:"backup_s3_bucket"`
	BackupS3Region    string `koanf:"backup_s3_region"`
	BackupS3Endpoint  string `koanf:"backup_s3_endpoint"`
	BackupS3AccessKey string `koanf:"backup_s3_access_key"`
	BackupS3SecretKey string `koanf:"backup_s3_secret_key"`
	BackupS3Prefix    string `koanf:"backup_s3_prefix"`
}

// New creates a Config populated with defaults. Context is accepted first to
// keep the signature aligned with Load.
func New(_ context.Context) *Config {
	return &Config{
		LogLevel:            "info",
		Addr:                ":9080",
		Store:               StoreMemory,
		LeaderboardTopN:     10,
		MaxLeaderboardLimit: 100,
		DedupeSize:          100_000,
		SubmitRateLimit:     200,
		SubmitRateBurst:     400,
		SeedDemo:            true,
		BackupDir:           "backups",
		BackupS3Region:      "us-east-1",
		BackupS3Prefix:      "backups/",
	}
}

// S3Enabled reports whether backups go to S3 instead of the local directory.
func (c *Config) S3Enabled() bool {
	return c.BackupS3Bucket != ""
}
