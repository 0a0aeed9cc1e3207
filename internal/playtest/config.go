// Package playtest drives a running ratingmeter server through a full game
// and checks the ledger and leaderboard afterwards.
package playtest

import (
	"errors"
	"time"
)

// ErrVerification is returned when the server state breaks a game rule.
var ErrVerification = errors.New("verification failed")

// Config holds configuration for a play test.
type Config struct {
	BaseURL       string        // Base URL of the service
	Players       int           // Number of players to register
	Samples       int           // Number of samples to publish
	Workers       int           // Number of concurrent submitters
	DuplicateRate float64       // Share of guesses sent twice
	Timeout       time.Duration // HTTP request timeout
	Seed          uint64        // Faker seed; 0 picks one from the clock
	TopN          int           // Leaderboard size to verify
}

// Stats holds play test statistics.
type Stats struct {
	Players            int
	Samples            int
	RatingsSubmitted   int
	RatingsAccepted    int
	DuplicatesRejected int
	Throttled          int
	Failed             int
	PointsAwarded      int
	LeaderboardEntries int
	StartTime          time.Time
	Duration           time.Duration
}

// Wire shapes of the server's responses.
type (
	user struct {
		ID       string `json:"id"`
		Username string `json:"username"`
		Role     string `json:"role"`
		Points   int    `json:"points"`
	}
	sample struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	}
	rating struct {
		ID           string  `json:"id"`
		UserID       string  `json:"user_id"`
		SampleID     string  `json:"sample_id"`
		Value        float64 `json:"value"`
		PointsEarned int     `json:"points_earned"`
	}
	submitResult struct {
		Rating rating `json:"rating"`
		Total  int    `json:"total_points"`
	}
	entry struct {
		Rank     int    `json:"rank"`
		UserID   string `json:"user_id"`
		Username string `json:"username"`
		Points   int    `json:"points"`
	}
	leaderboard struct {
		Entries         []entry `json:"entries"`
		CurrentUserRank int     `json:"current_user_rank"`
	}
)
