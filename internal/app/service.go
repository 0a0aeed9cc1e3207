// Package service provides the core business service that implements
// the dependencies required by the HTTP API.
package service

import (
	"context"
	"runtime"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/okian/ratingmeter/internal/adapters/backup"
	"github.com/okian/ratingmeter/internal/adapters/repository"
	"github.com/okian/ratingmeter/internal/domain/dedupe"
	"github.com/okian/ratingmeter/internal/domain/ranking"
	"github.com/okian/ratingmeter/internal/domain/submission"
	"github.com/okian/ratingmeter/pkg/logger"
	"github.com/okian/ratingmeter/pkg/metrics"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Service implements the API dependencies for the rating game.
type Service struct {
	mu sync.RWMutex

	// Core components
	store     repository.Store
	deduper   dedupe.Deduper
	submitter *submission.Handler
	exporter  *backup.Exporter
	tracer    trace.Tracer

	// Configuration
	dedupeSize     int
	topN           int
	maxLimit       int
	seedDemo       bool
	backupInterval time.Duration
	statsInterval  time.Duration
	now            func() time.Time
	newID          func() string

	// State
	started bool
	cancel  context.CancelFunc
	group   *errgroup.Group

	// Logging
	logger logger.Logger
}

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithDedupeSize sets the size of the in-flight submission guard.
func WithDedupeSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.dedupeSize = size
		}
	}
}

// WithLogger sets a custom logger for the service.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithTopN sets the leaderboard size used when the caller gives none.
func WithTopN(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.topN = n
		}
	}
}

// WithMaxLeaderboardLimit caps caller-supplied leaderboard sizes.
func WithMaxLeaderboardLimit(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxLimit = n
		}
	}
}

// WithSeedDemo enables creating demo data in an empty store on Start.
func WithSeedDemo(enabled bool) Option {
	return func(s *Service) {
		s.seedDemo = enabled
	}
}

// WithBackup sets the exporter used by Backup. A positive interval also
// schedules backups while the service runs.
func WithBackup(e *backup.Exporter, interval time.Duration) Option {
	return func(s *Service) {
		s.exporter = e
		s.backupInterval = interval
	}
}

// WithStatsInterval sets how often the totals gauges are refreshed.
func WithStatsInterval(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.statsInterval = d
		}
	}
}

// WithClock sets the time source for created records.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithIDGenerator sets the id source for created records.
func WithIDGenerator(gen func() string) Option {
	return func(s *Service) {
		if gen != nil {
			s.newID = gen
		}
	}
}

// New constructs a Service over store.
func New(store repository.Store, opts ...Option) *Service {
	s := &Service{
		store:         store,
		dedupeSize:    100_000,
		topN:          ranking.DefaultTopN,
		maxLimit:      100,
		statsInterval: 15 * time.Second,
		now:           func() time.Time { return time.Now().UTC() },
		newID:         uuid.NewString,
		tracer:        otel.Tracer("ratingmeter/service"),
	}

	// Apply all options
	for _, opt := range opts {
		opt(s)
	}

	if s.logger == nil {
		s.logger = logger.Named("service")
	}
	s.deduper = dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(s.dedupeSize))
	s.submitter = submission.NewHandler(store,
		submission.WithDeduper(s.deduper),
		submission.WithClock(s.now),
		submission.WithIDGenerator(s.newID),
	)
	return s
}

// Start seeds demo data if asked to and starts the background loops.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}

	s.logger.Info(ctx, "starting rating service...")

	if s.seedDemo {
		seeded, err := s.SeedDemo(ctx)
		if err != nil {
			return err
		}
		if seeded {
			s.logger.Info(ctx, "demo data created")
		}
	}

	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	g, gctx := errgroup.WithContext(loopCtx)
	g.Go(func() error {
		s.statsLoop(gctx)
		return nil
	})
	if s.exporter != nil && s.backupInterval > 0 {
		g.Go(func() error {
			return s.exporter.Schedule(gctx, s.backupInterval)
		})
	}
	s.cancel = cancel
	s.group = g

	s.started = true
	s.logger.Info(ctx, "rating service started",
		logger.Int("dedupeSize", s.dedupeSize),
		logger.Int("topN", s.topN),
		logger.Duration("backupInterval", s.backupInterval),
	)
	return nil
}

// Stop gracefully shuts down the background loops and closes the store.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return
	}

	s.logger.Info(context.Background(), "stopping rating service...")

	s.cancel()
	if err := s.group.Wait(); err != nil {
		s.logger.Warn(context.Background(), "background loop ended with error", logger.Error(err))
	}

	if err := s.store.Close(); err != nil {
		s.logger.Warn(context.Background(), "closing store", logger.Error(err))
	}

	s.started = false
	s.logger.Info(context.Background(), "rating service stopped")
}

// statsLoop refreshes the gauge metrics until ctx is done.
func (s *Service) statsLoop(ctx context.Context) {
	ticker := time.NewTicker(s.statsInterval)
	defer ticker.Stop()

	s.refreshGauges(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.refreshGauges(ctx)
		}
	}
}

func (s *Service) refreshGauges(ctx context.Context) {
	if c, err := s.store.Counts(ctx); err == nil {
		metrics.UpdateTotals(c.Players, c.Samples, c.Ratings)
	} else if ctx.Err() == nil {
		s.logger.Warn(ctx, "refreshing totals", logger.Error(err))
	}

	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	metrics.UpdateSystemMemoryUsage(ms.Alloc)
	metrics.UpdateSystemGoroutineCount(runtime.NumGoroutine())
	if ms.NumGC > 0 {
		metrics.RecordSystemGCPauseTime(float64(ms.PauseNs[(ms.NumGC+255)%256]) / 1e6)
	}
}

// GetStats returns service statistics for monitoring.
func (s *Service) GetStats(ctx context.Context) map[string]any {
	s.mu.RLock()
	started := s.started
	s.mu.RUnlock()

	stats := map[string]any{
		"started":      started,
		"dedupeSize":   s.dedupeSize,
		"guardEntries": s.deduper.Size(),
		"topN":         s.topN,
	}

	c, err := s.store.Counts(ctx)
	if err != nil {
		stats["error"] = err.Error()
		return stats
	}
	stats["players"] = c.Players
	stats["playmakers"] = c.Playmakers
	stats["samples"] = c.Samples
	stats["ratings"] = c.Ratings
	metrics.UpdateTotals(c.Players, c.Samples, c.Ratings)
	return stats
}
