package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/okian/ratingmeter/internal/adapters/backup"
	"github.com/okian/ratingmeter/internal/adapters/http/api"
	"github.com/okian/ratingmeter/internal/adapters/http/swagger"
	"github.com/okian/ratingmeter/internal/adapters/repository"
	app "github.com/okian/ratingmeter/internal/app"
	"github.com/okian/ratingmeter/internal/config"
	"github.com/okian/ratingmeter/pkg/logger"
)

// HTTP server timeout constants.
const (
	readTimeout       = 10 * time.Second
	writeTimeout      = 10 * time.Second
	idleTimeout       = 60 * time.Second
	readHeaderTimeout = 5 * time.Second
	shutdownTimeout   = 30 * time.Second
)

func main() {
	// Initialize logging
	if err := logger.Init(); err != nil {
		// Use fmt for initialization errors since logger isn't available yet
		os.Stderr.WriteString("failed to initialize logging: " + err.Error() + "\n")
		os.Exit(1)
	}

	// Root context with cancel on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Load configuration (defaults -> optional file -> env)
	cfg, err := config.Load(ctx)
	if err != nil {
		os.Stderr.WriteString("failed to load config: " + err.Error() + "\n")
		os.Exit(1)
	}

	if err := run(ctx, cfg); err != nil {
		logger.Get().Error(ctx, "ratingmeter stopped with error", logger.Error(err))
		os.Exit(1)
	}
}

// run wires the process from cfg and serves until ctx is cancelled.
func run(ctx context.Context, cfg *config.Config) error {
	log := logger.Get()

	// Apply configured log level (fallback to info on invalid input)
	if err := logger.SetLevelString(cfg.LogLevel); err != nil {
		log.Warn(ctx, "invalid log_level; falling back to info", logger.String("log_level", cfg.LogLevel), logger.Error(err))
		_ = logger.SetLevelString("info")
	}

	store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	log.Info(ctx, "store ready", logger.String("store", cfg.Store))

	sink, err := newSink(ctx, cfg)
	if err != nil {
		_ = store.Close()
		return err
	}
	exporter := backup.NewExporter(store, sink, backup.WithLogger(log.Named("backup")))

	svc := app.New(store,
		app.WithLogger(log.Named("service")),
		app.WithDedupeSize(cfg.DedupeSize),
		app.WithTopN(cfg.LeaderboardTopN),
		app.WithMaxLeaderboardLimit(cfg.MaxLeaderboardLimit),
		app.WithSeedDemo(cfg.SeedDemo),
		app.WithBackup(exporter, time.Duration(cfg.BackupIntervalSec)*time.Second),
	)
	if err := svc.Start(ctx); err != nil {
		_ = store.Close()
		return fmt.Errorf("start service: %w", err)
	}
	defer svc.Stop()

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           newRouter(ctx, svc, cfg),
		ReadTimeout:       readTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info(gctx, "starting HTTP server", logger.String("addr", cfg.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info(context.Background(), "shutting down server...")

		// Graceful shutdown with timeout
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown: %w", err)
		}
		log.Info(context.Background(), "server stopped")
		return nil
	})
	return g.Wait()
}

// openStore opens the persistence backend named by cfg.Store.
func openStore(ctx context.Context, cfg *config.Config) (repository.Store, error) {
	switch cfg.Store {
	case config.StoreMemory:
		return repository.NewMemStore(), nil
	case config.StorePostgres:
		return repository.OpenPostgres(ctx, cfg.PostgresDSN)
	default:
		return nil, fmt.Errorf("%w: unknown store %q", config.ErrInvalidConfig, cfg.Store)
	}
}

// newSink picks the S3 sink when a bucket is configured and the local
// directory otherwise.
func newSink(ctx context.Context, cfg *config.Config) (backup.Sink, error) {
	if !cfg.S3Enabled() {
		return backup.FileSink{Dir: cfg.BackupDir}, nil
	}
	sink, err := backup.NewS3Sink(ctx, backup.S3Config{
		Bucket:    cfg.BackupS3Bucket,
		Region:    cfg.BackupS3Region,
		Endpoint:  cfg.BackupS3Endpoint,
		AccessKey: cfg.BackupS3AccessKey,
		SecretKey: cfg.BackupS3SecretKey,
		Prefix:    cfg.BackupS3Prefix,
	})
	if err != nil {
		return nil, fmt.Errorf("backup sink: %w", err)
	}
	return sink, nil
}

// newRouter attaches the API and docs routes.
func newRouter(ctx context.Context, svc *app.Service, cfg *config.Config) http.Handler {
	apiServer := api.NewServer(svc, svc,
		api.WithLogger(logger.Named("api")),
		api.WithSubmitRateLimit(cfg.SubmitRateLimit, cfg.SubmitRateBurst),
	)
	r := apiServer.Router(ctx)
	swagger.Register(ctx, r)
	return r
}
