package playtest

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"sync"

	"golang.org/x/sync/errgroup"
)

// expectedPoints mirrors the server's scoring rule: 10 for an exact guess,
// one point less per half unit of distance, never below 0.
func expectedPoints(canonical, value float64) int {
	d := math.Abs(canonical - value)
	if math.IsNaN(d) || d >= 5 {
		return 0
	}
	return max(0, 10-int(math.Floor(d*2)))
}

// verify checks the ledger of every player and the leaderboard.
func verify(ctx context.Context, c *client, cfg *Config, g *game, stats *Stats) error {
	var (
		mu     sync.Mutex
		points = make(map[string]int, len(g.players))
		total  int
	)

	eg, ectx := errgroup.WithContext(ctx)
	eg.SetLimit(max(cfg.Workers, 1))
	for _, p := range g.players {
		eg.Go(func() error {
			u, err := c.getUser(ectx, p.ID)
			if err != nil {
				return fmt.Errorf("get %s: %w", p.ID, err)
			}
			ratings, err := c.userRatings(ectx, p.ID)
			if err != nil {
				return fmt.Errorf("ratings of %s: %w", p.ID, err)
			}
			if err := checkLedger(u, ratings, g.canonical); err != nil {
				return err
			}
			mu.Lock()
			points[p.ID] = u.Points
			total += u.Points
			mu.Unlock()
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return err
	}
	if total != stats.PointsAwarded {
		return fmt.Errorf("%w: players hold %d points, submissions awarded %d", ErrVerification, total, stats.PointsAwarded)
	}

	topN := cfg.TopN
	if topN < 1 {
		topN = len(g.players)
	}
	lb, err := c.leaderboard(ctx, "", topN)
	if err != nil {
		return fmt.Errorf("leaderboard: %w", err)
	}
	stats.LeaderboardEntries = len(lb.Entries)
	if err := checkLeaderboard(lb.Entries, g.playmaker.ID); err != nil {
		return err
	}

	return checkRanks(ctx, c, cfg, g, points)
}

// checkLedger verifies that a player's total is the sum of their ratings
// and that each rating was scored correctly.
func checkLedger(u user, ratings []rating, canonical map[string]float64) error {
	sum := 0
	seen := make(map[string]bool, len(ratings))
	for _, r := range ratings {
		if seen[r.SampleID] {
			return fmt.Errorf("%w: %s rated %s twice", ErrVerification, u.ID, r.SampleID)
		}
		seen[r.SampleID] = true
		if c, ok := canonical[r.SampleID]; ok {
			if want := expectedPoints(c, r.Value); r.PointsEarned != want {
				return fmt.Errorf("%w: rating %s earned %d, want %d", ErrVerification, r.ID, r.PointsEarned, want)
			}
		}
		sum += r.PointsEarned
	}
	if sum != u.Points {
		return fmt.Errorf("%w: %s has %d points but ratings sum to %d", ErrVerification, u.ID, u.Points, sum)
	}
	return nil
}

// checkLeaderboard verifies ordering, competition ranks and that no
// playmaker is listed.
func checkLeaderboard(entries []entry, playmakerID string) error {
	for i, e := range entries {
		if e.UserID == playmakerID {
			return fmt.Errorf("%w: playmaker listed on the leaderboard", ErrVerification)
		}
		if i == 0 {
			if e.Rank != 1 {
				return fmt.Errorf("%w: leader has rank %d", ErrVerification, e.Rank)
			}
			continue
		}
		prev := entries[i-1]
		switch {
		case e.Points > prev.Points:
			return fmt.Errorf("%w: entry %d has more points than entry %d", ErrVerification, i, i-1)
		case e.Points == prev.Points && e.Rank != prev.Rank:
			return fmt.Errorf("%w: tied entries %d and %d have ranks %d and %d", ErrVerification, i-1, i, prev.Rank, e.Rank)
		case e.Points < prev.Points && e.Rank != i+1:
			return fmt.Errorf("%w: entry %d has rank %d, want %d", ErrVerification, i, e.Rank, i+1)
		}
	}
	return nil
}

// checkRanks verifies /rank for every player and the playmaker. Other
// players may exist on the server, so a player's rank is only bounded below
// by the players of this run that are ahead; ties must share a rank and
// more points must mean a better rank.
func checkRanks(ctx context.Context, c *client, cfg *Config, g *game, points map[string]int) error {
	var (
		mu    sync.Mutex
		ranks = make(map[string]int, len(g.players))
	)
	eg, ectx := errgroup.WithContext(ctx)
	eg.SetLimit(max(cfg.Workers, 1))
	for _, p := range g.players {
		eg.Go(func() error {
			e, err := c.rank(ectx, p.ID)
			if err != nil {
				return fmt.Errorf("rank of %s: %w", p.ID, err)
			}
			mu.Lock()
			ranks[p.ID] = e.Rank
			mu.Unlock()
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return err
	}
	if err := checkRankOrder(points, ranks); err != nil {
		return err
	}

	_, err := c.rank(ctx, g.playmaker.ID)
	var se *statusError
	if !errors.As(err, &se) || se.Status != http.StatusForbidden {
		return fmt.Errorf("%w: playmaker rank lookup returned %v", ErrVerification, err)
	}
	return nil
}

func checkRankOrder(points, ranks map[string]int) error {
	for id, pts := range points {
		ahead := 0
		for other, otherPts := range points {
			switch {
			case otherPts > pts:
				ahead++
				if ranks[other] >= ranks[id] {
					return fmt.Errorf("%w: %s has more points than %s but rank %d >= %d",
						ErrVerification, other, id, ranks[other], ranks[id])
				}
			case otherPts == pts && ranks[other] != ranks[id]:
				return fmt.Errorf("%w: %s and %s tie on %d points with ranks %d and %d",
					ErrVerification, id, other, pts, ranks[id], ranks[other])
			}
		}
		if ranks[id] < ahead+1 {
			return fmt.Errorf("%w: %s has rank %d with %d players ahead", ErrVerification, id, ranks[id], ahead)
		}
	}
	return nil
}
