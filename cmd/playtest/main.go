package main

import (
	"context"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/okian/ratingmeter/internal/playtest"
	"github.com/okian/ratingmeter/pkg/logger"
)

// Default configuration constants.
const (
	defaultPlayers       = 50
	defaultSamples       = 20
	defaultWorkers       = 2 // multiplier for runtime.NumCPU()
	defaultDuplicateRate = 0.1
	defaultTimeout       = 30 * time.Second
	defaultTestTimeout   = 10 * time.Minute
)

func main() {
	app := &cli.App{
		Name:  "playtest",
		Usage: "play a full game against a running ratingmeter server and verify the results",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "url", Value: "http://localhost:9080", Usage: "base URL of the service"},
			&cli.IntFlag{Name: "players", Value: defaultPlayers, Usage: "players to register"},
			&cli.IntFlag{Name: "samples", Value: defaultSamples, Usage: "samples to publish"},
			&cli.IntFlag{Name: "workers", Value: runtime.NumCPU() * defaultWorkers, Usage: "concurrent submitters"},
			&cli.Float64Flag{Name: "duplicates", Value: defaultDuplicateRate, Usage: "share of guesses sent twice"},
			&cli.IntFlag{Name: "top", Value: 0, Usage: "leaderboard size to verify (default: all players)"},
			&cli.DurationFlag{Name: "timeout", Value: defaultTimeout, Usage: "HTTP request timeout"},
			&cli.Uint64Flag{Name: "seed", Usage: "faker seed for a reproducible run"},
			&cli.BoolFlag{Name: "json", Usage: "log as JSON"},
			&cli.BoolFlag{Name: "verbose", Usage: "enable debug logging"},
		},
		Action: run,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := app.RunContext(ctx, os.Args); err != nil {
		os.Stderr.WriteString("play test failed: " + err.Error() + "\n")
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	format := logger.FormatText
	if c.Bool("json") {
		format = logger.FormatJSON
	}
	if err := logger.InitWithOptions(logger.Options{Format: format, Output: os.Stdout}); err != nil {
		return err
	}
	if c.Bool("verbose") {
		_ = logger.SetLevelString("debug")
	}

	ctx, cancel := context.WithTimeout(c.Context, defaultTestTimeout)
	defer cancel()

	_, err := playtest.Run(ctx, &playtest.Config{
		BaseURL:       c.String("url"),
		Players:       c.Int("players"),
		Samples:       c.Int("samples"),
		Workers:       c.Int("workers"),
		DuplicateRate: c.Float64("duplicates"),
		Timeout:       c.Duration("timeout"),
		Seed:          c.Uint64("seed"),
		TopN:          c.Int("top"),
	}, logger.Named("playtest"))
	return err
}
