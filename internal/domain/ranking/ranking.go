// Package ranking orders players by points and assigns competition ranks.
//
// Ties share a rank and the next distinct total skips ahead:
// {20, 20, 15} ranks as 1, 1, 3. Within a tie, entries are listed by
// username so the output is deterministic.
package ranking

import (
	"fmt"
	"sort"

	"github.com/okian/ratingmeter/internal/domain/model"
	"github.com/okian/ratingmeter/internal/domain/types"
)

// DefaultTopN is used when a caller passes a non-positive top N.
const DefaultTopN = 10

// Rank returns at most topN players ordered by points descending, each
// labelled with its competition rank. Playmakers are dropped.
func Rank(standings []model.Standing, topN int) []types.Entry {
	if topN < 1 {
		topN = DefaultTopN
	}
	players := playersOnly(standings)
	sortStandings(players)

	n := min(topN, len(players))
	out := make([]types.Entry, 0, n)
	for i := 0; i < n; i++ {
		rank := i + 1
		if i > 0 && players[i].Points == players[i-1].Points {
			rank = out[i-1].Rank
		}
		out = append(out, types.Entry{
			Rank:     rank,
			UserID:   players[i].UserID,
			Username: players[i].Username,
			Points:   players[i].Points,
		})
	}
	return out
}

// RankOf returns 1 + the number of players with strictly more points than
// userID. It fails with ErrNotFound for unknown users and ErrRoleViolation
// for playmakers.
func RankOf(userID string, standings []model.Standing) (int, error) {
	var self *model.Standing
	for i := range standings {
		if standings[i].UserID == userID {
			self = &standings[i]
			break
		}
	}
	if self == nil {
		return 0, fmt.Errorf("user %s: %w", userID, model.ErrNotFound)
	}
	if self.Role == model.RolePlaymaker {
		return 0, fmt.Errorf("playmakers are not ranked: %w", model.ErrRoleViolation)
	}

	ahead := 0
	for _, s := range standings {
		if s.Role != model.RolePlaymaker && s.Points > self.Points {
			ahead++
		}
	}
	return ahead + 1, nil
}

func playersOnly(standings []model.Standing) []model.Standing {
	out := make([]model.Standing, 0, len(standings))
	for _, s := range standings {
		if s.Role != model.RolePlaymaker {
			out = append(out, s)
		}
	}
	return out
}

// sortStandings orders by points DESC, then username ASC, then id ASC.
func sortStandings(s []model.Standing) {
	sort.Slice(s, func(i, j int) bool {
		if s[i].Points != s[j].Points {
			return s[i].Points > s[j].Points
		}
		if s[i].Username != s[j].Username {
			return s[i].Username < s[j].Username
		}
		return s[i].UserID < s[j].UserID
	})
}
