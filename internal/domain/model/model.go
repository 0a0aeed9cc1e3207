// Package model contains domain models passed between layers.
package model

import "time"

// Role distinguishes sample publishers from raters.
type Role string

const (
	RolePlaymaker Role = "playmaker"
	RolePlayer    Role = "player"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RolePlaymaker || r == RolePlayer
}

// Rating scale bounds.
const (
	MinRating = 0.0
	MaxRating = 10.0
)

// User is a registered participant. Points only change through the ledger.
type User struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	Role      Role      `json:"role"`
	Points    int       `json:"points"`
	CreatedAt time.Time `json:"created_at"`
}

// IsPlaymaker reports whether the user publishes samples.
func (u User) IsPlaymaker() bool { return u.Role == RolePlaymaker }

// Sample is an immutable reference item with a hidden canonical rating.
type Sample struct {
	ID              string    `json:"id"`
	Name            string    `json:"name"`
	Description     string    `json:"description"`
	CanonicalRating float64   `json:"canonical_rating"`
	CreatedBy       string    `json:"created_by,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

// Rating is a player's immutable guess for a sample.
type Rating struct {
	ID           string    `json:"id"`
	UserID       string    `json:"user_id"`
	SampleID     string    `json:"sample_id"`
	Value        float64   `json:"value"`
	PointsEarned int       `json:"points_earned"`
	CreatedAt    time.Time `json:"created_at"`
}

// Standing is the ranking input for one user.
type Standing struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
	Role     Role   `json:"role"`
	Points   int    `json:"points"`
}

// Dump is the whole game state read at a single point in time.
type Dump struct {
	Users   []User   `json:"users"`
	Samples []Sample `json:"samples"`
	Ratings []Rating `json:"ratings"`
}
