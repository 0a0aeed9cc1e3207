package repository

import "time"

// PostgresOption applies a configuration option to the PostgresStore.
type PostgresOption func(*postgresConfig)

type postgresConfig struct {
	maxOpenConns    int
	maxIdleConns    int
	connMaxLifetime time.Duration
	migrate         bool
}

func defaultPostgresConfig() postgresConfig {
	return postgresConfig{
		maxOpenConns:    20,
		maxIdleConns:    5,
		connMaxLifetime: 30 * time.Minute,
		migrate:         true,
	}
}

// WithMaxOpenConns bounds the connection pool.
func WithMaxOpenConns(n int) PostgresOption {
	return func(c *postgresConfig) {
		if n > 0 {
			c.maxOpenConns = n
		}
	}
}

// WithMaxIdleConns sets how many idle connections are kept.
func WithMaxIdleConns(n int) PostgresOption {
	return func(c *postgresConfig) {
		if n >= 0 {
			c.maxIdleConns = n
		}
	}
}

// WithConnMaxLifetime recycles connections older than d.
func WithConnMaxLifetime(d time.Duration) PostgresOption {
	return func(c *postgresConfig) {
		if d > 0 {
			c.connMaxLifetime = d
		}
	}
}

// WithoutMigrations skips schema migrations on open.
func WithoutMigrations() PostgresOption {
	return func(c *postgresConfig) {
		c.migrate = false
	}
}
