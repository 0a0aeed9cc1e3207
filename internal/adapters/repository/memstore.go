package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/okian/ratingmeter/internal/domain/dedupe"
	"github.com/okian/ratingmeter/internal/domain/model"
	"github.com/okian/ratingmeter/internal/domain/submission"
	"github.com/okian/ratingmeter/pkg/metrics"
)

// MemStore is an in-memory Store. A single RWMutex serialises writers;
// transactions hold the write lock for their whole body and undo their
// writes when the body fails.
type MemStore struct {
	mu         sync.RWMutex
	closed     bool
	users      map[string]model.User
	byUsername map[string]string
	samples    map[string]model.Sample
	ratings    map[string]model.Rating
	ratingKeys map[string]string // user/sample -> rating id
}

// NewMemStore constructs an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{
		users:      make(map[string]model.User),
		byUsername: make(map[string]string),
		samples:    make(map[string]model.Sample),
		ratings:    make(map[string]model.Rating),
		ratingKeys: make(map[string]string),
	}
}

func observeWrite(start time.Time) {
	metrics.RecordRepositoryUpdateLatency(float64(time.Since(start).Microseconds()) / 1000)
}

func observeRead(start time.Time) {
	metrics.RecordRepositoryQueryLatency(float64(time.Since(start).Microseconds()) / 1000)
}

func (s *MemStore) CreateUser(_ context.Context, u model.User) error {
	defer observeWrite(time.Now())
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if !u.Role.Valid() {
		return fmt.Errorf("role %q: %w", u.Role, model.ErrInvalidInput)
	}
	if _, taken := s.byUsername[u.Username]; taken {
		return fmt.Errorf("username %q: %w", u.Username, model.ErrUsernameTaken)
	}
	if _, exists := s.users[u.ID]; exists {
		return fmt.Errorf("%w: user id %s already exists", model.ErrPersistence, u.ID)
	}
	s.users[u.ID] = u
	s.byUsername[u.Username] = u.ID
	return nil
}

func (s *MemStore) GetUser(_ context.Context, id string) (model.User, error) {
	defer observeRead(time.Now())
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return model.User{}, fmt.Errorf("user %s: %w", id, model.ErrNotFound)
	}
	return u, nil
}

func (s *MemStore) GetUserByUsername(_ context.Context, username string) (model.User, error) {
	defer observeRead(time.Now())
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byUsername[username]
	if !ok {
		return model.User{}, fmt.Errorf("user %q: %w", username, model.ErrNotFound)
	}
	return s.users[id], nil
}

func (s *MemStore) DeleteUser(_ context.Context, id string) error {
	defer observeWrite(time.Now())
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	u, ok := s.users[id]
	if !ok {
		return fmt.Errorf("user %s: %w", id, model.ErrNotFound)
	}
	for rid, r := range s.ratings {
		if r.UserID == id {
			delete(s.ratings, rid)
			delete(s.ratingKeys, dedupe.Key(r.UserID, r.SampleID))
		}
	}
	delete(s.byUsername, u.Username)
	delete(s.users, id)
	return nil
}

func (s *MemStore) ListUsers(_ context.Context) ([]model.User, error) {
	defer observeRead(time.Now())
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.usersByName(), nil
}

func (s *MemStore) usersByName() []model.User {
	out := make([]model.User, 0, len(s.users))
	for _, u := range s.users {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out
}

// Dump copies users, samples and ratings under one read lock.
func (s *MemStore) Dump(_ context.Context) (model.Dump, error) {
	defer observeRead(time.Now())
	s.mu.RLock()
	defer s.mu.RUnlock()
	return model.Dump{
		Users:   s.usersByName(),
		Samples: s.samplesWhere(func(model.Sample) bool { return true }),
		Ratings: s.ratingsWhere(func(model.Rating) bool { return true }),
	}, nil
}

func (s *MemStore) IncrementPoints(_ context.Context, userID string, delta int) (int, error) {
	defer observeWrite(time.Now())
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrClosed
	}
	total, _, err := s.incrementLocked(userID, delta)
	return total, err
}

// incrementLocked applies delta and returns the new and previous totals.
func (s *MemStore) incrementLocked(userID string, delta int) (int, int, error) {
	u, ok := s.users[userID]
	if !ok {
		return 0, 0, fmt.Errorf("user %s: %w", userID, model.ErrNotFound)
	}
	prev := u.Points
	u.Points = max(prev+delta, 0)
	s.users[userID] = u
	return u.Points, prev, nil
}

func (s *MemStore) CreateSample(_ context.Context, smp model.Sample) error {
	defer observeWrite(time.Now())
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if _, exists := s.samples[smp.ID]; exists {
		return fmt.Errorf("%w: sample id %s already exists", model.ErrPersistence, smp.ID)
	}
	s.samples[smp.ID] = smp
	return nil
}

func (s *MemStore) GetSample(_ context.Context, id string) (model.Sample, error) {
	defer observeRead(time.Now())
	s.mu.RLock()
	defer s.mu.RUnlock()
	smp, ok := s.samples[id]
	if !ok {
		return model.Sample{}, fmt.Errorf("sample %s: %w", id, model.ErrNotFound)
	}
	return smp, nil
}

func (s *MemStore) ListSamples(_ context.Context) ([]model.Sample, error) {
	defer observeRead(time.Now())
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.samplesWhere(func(model.Sample) bool { return true }), nil
}

func (s *MemStore) ListUnratedSamples(_ context.Context, userID string) ([]model.Sample, error) {
	defer observeRead(time.Now())
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.samplesWhere(func(smp model.Sample) bool {
		_, rated := s.ratingKeys[dedupe.Key(userID, smp.ID)]
		return !rated
	}), nil
}

func (s *MemStore) samplesWhere(keep func(model.Sample) bool) []model.Sample {
	out := make([]model.Sample, 0, len(s.samples))
	for _, smp := range s.samples {
		if keep(smp) {
			out = append(out, smp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out
}

func (s *MemStore) DeleteSample(_ context.Context, id string) ([]model.Rating, error) {
	defer observeWrite(time.Now())
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	if _, ok := s.samples[id]; !ok {
		return nil, fmt.Errorf("sample %s: %w", id, model.ErrNotFound)
	}
	removed := s.ratingsWhere(func(r model.Rating) bool { return r.SampleID == id })
	for _, r := range removed {
		delete(s.ratings, r.ID)
		delete(s.ratingKeys, dedupe.Key(r.UserID, r.SampleID))
		// The rater may have been deleted already; nothing to withdraw then.
		_, _, _ = s.incrementLocked(r.UserID, -r.PointsEarned)
	}
	delete(s.samples, id)
	return removed, nil
}

func (s *MemStore) ListRatings(_ context.Context) ([]model.Rating, error) {
	defer observeRead(time.Now())
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ratingsWhere(func(model.Rating) bool { return true }), nil
}

func (s *MemStore) ListRatingsByUser(_ context.Context, userID string) ([]model.Rating, error) {
	defer observeRead(time.Now())
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ratingsWhere(func(r model.Rating) bool { return r.UserID == userID }), nil
}

func (s *MemStore) ListRatingsBySample(_ context.Context, sampleID string) ([]model.Rating, error) {
	defer observeRead(time.Now())
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ratingsWhere(func(r model.Rating) bool { return r.SampleID == sampleID }), nil
}

func (s *MemStore) ratingsWhere(keep func(model.Rating) bool) []model.Rating {
	out := make([]model.Rating, 0)
	for _, r := range s.ratings {
		if keep(r) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out
}

func (s *MemStore) ListStandings(_ context.Context) ([]model.Standing, error) {
	defer observeRead(time.Now())
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Standing, 0, len(s.users))
	for _, u := range s.users {
		out = append(out, model.Standing{UserID: u.ID, Username: u.Username, Role: u.Role, Points: u.Points})
	}
	return out, nil
}

func (s *MemStore) Counts(_ context.Context) (Counts, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c := Counts{Samples: len(s.samples), Ratings: len(s.ratings)}
	for _, u := range s.users {
		if u.IsPlaymaker() {
			c.Playmakers++
		} else {
			c.Players++
		}
	}
	return c, nil
}

func (s *MemStore) InTx(ctx context.Context, fn func(ctx context.Context, tx submission.Tx) error) error {
	defer observeWrite(time.Now())
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	tx := &memTx{s: s}
	if err := fn(ctx, tx); err != nil {
		tx.rollback()
		return err
	}
	return nil
}

// Close marks the store closed; every later write returns ErrClosed.
func (s *MemStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// memTx writes straight into the store and records how to revert each write.
type memTx struct {
	s    *MemStore
	undo []func()
}

func (t *memTx) InsertRating(_ context.Context, r model.Rating) error {
	s := t.s
	key := dedupe.Key(r.UserID, r.SampleID)
	if _, dup := s.ratingKeys[key]; dup {
		return fmt.Errorf("user %s, sample %s: %w", r.UserID, r.SampleID, model.ErrDuplicateRating)
	}
	if _, ok := s.users[r.UserID]; !ok {
		return fmt.Errorf("user %s: %w", r.UserID, model.ErrNotFound)
	}
	if _, ok := s.samples[r.SampleID]; !ok {
		return fmt.Errorf("sample %s: %w", r.SampleID, model.ErrNotFound)
	}
	s.ratings[r.ID] = r
	s.ratingKeys[key] = r.ID
	t.undo = append(t.undo, func() {
		delete(s.ratings, r.ID)
		delete(s.ratingKeys, key)
	})
	return nil
}

func (t *memTx) IncrementPoints(_ context.Context, userID string, delta int) (int, error) {
	total, prev, err := t.s.incrementLocked(userID, delta)
	if err != nil {
		return 0, err
	}
	t.undo = append(t.undo, func() {
		u := t.s.users[userID]
		u.Points = prev
		t.s.users[userID] = u
	})
	return total, nil
}

func (t *memTx) rollback() {
	for i := len(t.undo) - 1; i >= 0; i-- {
		t.undo[i]()
	}
	t.undo = nil
}
