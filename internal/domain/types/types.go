// Package types contains common types used across the application
package types

// Entry represents a leaderboard entry
type Entry struct {
	Rank     int    `json:"rank"`
	UserID   string `json:"user_id"`
	Username string `json:"username"`
	Points   int    `json:"points"`
}

// Leaderboard is the ranked view returned to clients.
// CurrentUserRank is zero when the caller is anonymous or a playmaker.
type Leaderboard struct {
	Entries         []Entry `json:"entries"`
	CurrentUserRank int     `json:"current_user_rank,omitempty"`
}
