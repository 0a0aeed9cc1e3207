// Package repository persists users, samples and ratings.
//
// Two backends implement Store: MemStore for single-process deployments and
// tests, and PostgresStore. Both keep the rating insert and the point update
// of a submission in one transaction and enforce one rating per
// (user, sample) pair.
package repository

import (
	"context"

	"github.com/okian/ratingmeter/internal/domain/model"
	"github.com/okian/ratingmeter/internal/domain/submission"
)

// Counts summarises the stored population.
type Counts struct {
	Players    int `json:"players"`
	Playmakers int `json:"playmakers"`
	Samples    int `json:"samples"`
	Ratings    int `json:"ratings"`
}

// Store provides read/write access to the game state.
type Store interface {
	// CreateUser stores u. Returns ErrUsernameTaken when the name is in use.
	CreateUser(ctx context.Context, u model.User) error
	GetUser(ctx context.Context, id string) (model.User, error)
	GetUserByUsername(ctx context.Context, username string) (model.User, error)
	// DeleteUser removes the user and every rating they submitted.
	DeleteUser(ctx context.Context, id string) error
	ListUsers(ctx context.Context) ([]model.User, error)
	// IncrementPoints adds delta to the user's total, clamped at zero, and
	// returns the new total.
	IncrementPoints(ctx context.Context, userID string, delta int) (int, error)

	CreateSample(ctx context.Context, s model.Sample) error
	GetSample(ctx context.Context, id string) (model.Sample, error)
	// ListSamples returns every sample, newest first.
	ListSamples(ctx context.Context) ([]model.Sample, error)
	// ListUnratedSamples returns the samples userID has not rated, newest first.
	ListUnratedSamples(ctx context.Context, userID string) ([]model.Sample, error)
	// DeleteSample removes the sample and its ratings and withdraws the
	// points those ratings earned. It returns the removed ratings.
	DeleteSample(ctx context.Context, id string) ([]model.Rating, error)

	// ListRatings returns every rating, newest first.
	ListRatings(ctx context.Context) ([]model.Rating, error)
	ListRatingsByUser(ctx context.Context, userID string) ([]model.Rating, error)
	ListRatingsBySample(ctx context.Context, sampleID string) ([]model.Rating, error)

	// ListStandings returns every user's points, players and playmakers alike.
	ListStandings(ctx context.Context) ([]model.Standing, error)
	Counts(ctx context.Context) (Counts, error)
	// Dump returns users, samples and ratings as of a single moment.
	Dump(ctx context.Context) (model.Dump, error)

	// InTx runs fn in a transaction. fn must only touch the store through tx.
	InTx(ctx context.Context, fn func(ctx context.Context, tx submission.Tx) error) error

	Close() error
}

var (
	_ Store = (*MemStore)(nil)
	_ Store = (*PostgresStore)(nil)
)
