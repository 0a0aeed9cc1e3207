// Package ledger applies point deltas to user totals.
package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/okian/ratingmeter/internal/domain/model"
)

// Incrementer is the storage primitive the ledger relies on. Implementations
// must apply delta atomically and clamp the stored total at zero.
type Incrementer interface {
	IncrementPoints(ctx context.Context, userID string, delta int) (int, error)
}

// Ledger applies point deltas through an Incrementer.
type Ledger struct {
	store Incrementer
}

// New returns a ledger backed by store.
func New(store Incrementer) *Ledger {
	return &Ledger{store: store}
}

// Apply adds delta to the user's total and returns the new total.
// A zero delta still verifies the user exists.
func (l *Ledger) Apply(ctx context.Context, userID string, delta int) (int, error) {
	total, err := l.store.IncrementPoints(ctx, userID, delta)
	switch {
	case err == nil:
	case errors.Is(err, model.ErrNotFound):
		return 0, fmt.Errorf("user %s: %w", userID, err)
	case errors.Is(err, model.ErrPersistence):
		return 0, err
	default:
		return 0, fmt.Errorf("%w: increment points: %w", model.ErrPersistence, err)
	}
	if total < 0 {
		// The store broke its contract; never report a negative balance.
		return 0, fmt.Errorf("%w: negative total %d for user %s", model.ErrPersistence, total, userID)
	}
	return total, nil
}
