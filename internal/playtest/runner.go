package playtest

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/okian/ratingmeter/pkg/logger"
)

// job is one guess to submit.
type job struct {
	player   user
	sample   sample
	value    float64
	isRepeat bool
}

// game is the state the run created on the server.
type game struct {
	playmaker user
	players   []user
	samples   []sample
	canonical map[string]float64
}

// Run executes the complete play test against cfg.BaseURL.
func Run(ctx context.Context, cfg *Config, log logger.Logger) (*Stats, error) {
	stats := &Stats{StartTime: time.Now()}
	gen := newGenerator(cfg.Seed)
	c := newClient(cfg.BaseURL, cfg.Timeout)

	log.Info(ctx, "starting play test",
		logger.String("baseURL", cfg.BaseURL),
		logger.Int("players", cfg.Players),
		logger.Int("samples", cfg.Samples),
		logger.Int("workers", cfg.Workers),
		logger.Any("seed", gen.seed))

	if err := c.health(ctx); err != nil {
		return nil, fmt.Errorf("service health check failed: %w", err)
	}

	g, err := setup(ctx, c, gen, cfg)
	if err != nil {
		return nil, fmt.Errorf("setup failed: %w", err)
	}
	stats.Players = len(g.players)
	stats.Samples = len(g.samples)
	log.Info(ctx, "game created", logger.Int("players", stats.Players), logger.Int("samples", stats.Samples))

	if err := submitAll(ctx, c, cfg, planJobs(gen, g, cfg.DuplicateRate), stats); err != nil {
		return nil, fmt.Errorf("submission failed: %w", err)
	}
	log.Info(ctx, "ratings submitted",
		logger.Int("submitted", stats.RatingsSubmitted),
		logger.Int("accepted", stats.RatingsAccepted),
		logger.Int("duplicates", stats.DuplicatesRejected),
		logger.Int("throttled", stats.Throttled),
		logger.Int("failed", stats.Failed))

	if err := verify(ctx, c, cfg, g, stats); err != nil {
		return stats, err
	}

	stats.Duration = time.Since(stats.StartTime)
	log.Info(ctx, "play test passed",
		logger.Int("pointsAwarded", stats.PointsAwarded),
		logger.Int("leaderboardEntries", stats.LeaderboardEntries),
		logger.Duration("duration", stats.Duration))
	return stats, nil
}

// setup registers the playmaker, publishes samples and registers players.
func setup(ctx context.Context, c *client, gen *generator, cfg *Config) (*game, error) {
	g := &game{canonical: make(map[string]float64, cfg.Samples)}

	var err error
	if g.playmaker, err = c.createUser(ctx, gen.username(0)+"_pm", "playmaker"); err != nil {
		return nil, fmt.Errorf("create playmaker: %w", err)
	}
	for i := 0; i < cfg.Samples; i++ {
		canonical := gen.rating()
		s, err := c.createSample(ctx, g.playmaker.ID, gen.sampleName(), gen.description(), canonical)
		if err != nil {
			return nil, fmt.Errorf("create sample %d: %w", i, err)
		}
		g.samples = append(g.samples, s)
		g.canonical[s.ID] = canonical
	}
	for i := 1; i <= cfg.Players; i++ {
		p, err := c.createUser(ctx, gen.username(i), "player")
		if err != nil {
			return nil, fmt.Errorf("create player %d: %w", i, err)
		}
		g.players = append(g.players, p)
	}
	return g, nil
}

// planJobs draws every guess up front; the faker is not safe for
// concurrent use.
func planJobs(gen *generator, g *game, duplicateRate float64) []job {
	jobs := make([]job, 0, len(g.players)*len(g.samples))
	for _, p := range g.players {
		for _, s := range g.samples {
			j := job{player: p, sample: s, value: gen.guess(g.canonical[s.ID])}
			jobs = append(jobs, j)
			if gen.duplicate(duplicateRate) {
				j.value = gen.guess(g.canonical[s.ID])
				j.isRepeat = true
				jobs = append(jobs, j)
			}
		}
	}
	return jobs
}

// submitAll sends the jobs with at most cfg.Workers in flight.
func submitAll(ctx context.Context, c *client, cfg *Config, jobs []job, stats *Stats) error {
	var accepted, duplicates, throttled, failed, points atomic.Int64

	eg, ectx := errgroup.WithContext(ctx)
	eg.SetLimit(max(cfg.Workers, 1))
	for _, j := range jobs {
		eg.Go(func() error {
			res, err := c.submit(ectx, j.player.ID, j.sample.ID, j.value)
			var se *statusError
			switch {
			case err == nil:
				accepted.Add(1)
				points.Add(int64(res.Rating.PointsEarned))
			case errors.As(err, &se) && se.Status == http.StatusConflict:
				duplicates.Add(1)
			case errors.As(err, &se) && se.Status == http.StatusTooManyRequests:
				throttled.Add(1)
			case ectx.Err() != nil:
				return ectx.Err()
			default:
				failed.Add(1)
			}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return err
	}

	stats.RatingsSubmitted = len(jobs)
	stats.RatingsAccepted = int(accepted.Load())
	stats.DuplicatesRejected = int(duplicates.Load())
	stats.Throttled = int(throttled.Load())
	stats.Failed = int(failed.Load())
	stats.PointsAwarded = int(points.Load())
	if stats.Failed > 0 {
		return fmt.Errorf("%d submissions failed", stats.Failed)
	}
	return nil
}
