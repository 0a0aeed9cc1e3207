// Package submission validates, scores and records rating guesses.
package submission

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/okian/ratingmeter/internal/domain/dedupe"
	"github.com/okian/ratingmeter/internal/domain/ledger"
	"github.com/okian/ratingmeter/internal/domain/model"
	"github.com/okian/ratingmeter/internal/domain/scoring"
)

// Tx is the transactional view a submission writes through. Both writes
// commit together or not at all.
type Tx interface {
	// InsertRating stores r. It fails with ErrDuplicateRating when the user
	// already rated the sample.
	InsertRating(ctx context.Context, r model.Rating) error
	ledger.Incrementer
}

// Store is what the handler needs from persistence.
type Store interface {
	GetSample(ctx context.Context, id string) (model.Sample, error)
	InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// Result is a stored rating together with the rater's new total.
type Result struct {
	Rating model.Rating `json:"rating"`
	Total  int          `json:"total_points"`
}

// Handler processes rating submissions.
type Handler struct {
	store  Store
	guard  dedupe.Deduper
	now    func() time.Time
	newID  func() string
	tracer trace.Tracer
}

// NewHandler creates a Handler over store.
func NewHandler(store Store, opts ...Option) *Handler {
	h := &Handler{
		store:  store,
		guard:  dedupe.NewInMemoryDeduper(),
		now:    func() time.Time { return time.Now().UTC() },
		newID:  func() string { return uuid.NewString() },
		tracer: otel.Tracer("ratingmeter/submission"),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Submit records user's guess rawValue for sampleID.
//
// Checks run in order: the role (playmakers cannot rate), the sample's
// existence, then the value itself. The rating insert and the point award
// share one transaction; on any failure neither is visible.
func (h *Handler) Submit(ctx context.Context, user model.User, sampleID, rawValue string) (Result, error) {
	ctx, span := h.tracer.Start(ctx, "submission.Submit", trace.WithAttributes(
		attribute.String("user.id", user.ID),
		attribute.String("sample.id", sampleID),
	))
	defer span.End()

	res, err := h.submit(ctx, user, sampleID, rawValue)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Result{}, err
	}
	span.SetAttributes(
		attribute.Int("rating.points", res.Rating.PointsEarned),
		attribute.Int("user.total", res.Total),
	)
	span.SetStatus(codes.Ok, "rating recorded")
	return res, nil
}

func (h *Handler) submit(ctx context.Context, user model.User, sampleID, rawValue string) (Result, error) {
	if user.IsPlaymaker() {
		return Result{}, fmt.Errorf("playmakers cannot submit ratings: %w", model.ErrRoleViolation)
	}

	sample, err := h.store.GetSample(ctx, sampleID)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return Result{}, fmt.Errorf("sample %s: %w", sampleID, model.ErrNotFound)
		}
		return Result{}, persistenceError("get sample", err)
	}

	value, err := ParseRating(rawValue)
	if err != nil {
		return Result{}, err
	}

	key := dedupe.Key(user.ID, sample.ID)
	if h.guard.SeenAndRecord(ctx, key) {
		return Result{}, fmt.Errorf("user %s, sample %s: %w", user.ID, sample.ID, model.ErrDuplicateRating)
	}

	rating := model.Rating{
		ID:           h.newID(),
		UserID:       user.ID,
		SampleID:     sample.ID,
		Value:        value,
		PointsEarned: scoring.Score(sample.CanonicalRating, value),
		CreatedAt:    h.now(),
	}

	var total int
	err = h.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		if err := tx.InsertRating(ctx, rating); err != nil {
			return err
		}
		var err error
		total, err = ledger.New(tx).Apply(ctx, user.ID, rating.PointsEarned)
		return err
	})
	if err != nil {
		// A duplicate stays claimed; anything else may be retried.
		if !errors.Is(err, model.ErrDuplicateRating) {
			h.guard.Unrecord(ctx, key)
		}
		return Result{}, persistenceError("record rating", err)
	}

	return Result{Rating: rating, Total: total}, nil
}

// ParseRating parses a submitted rating. The value must be a finite number
// within [MinRating, MaxRating].
func ParseRating(raw string) (float64, error) {
	v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return 0, fmt.Errorf("rating %q is not a number: %w", raw, model.ErrInvalidInput)
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("rating %q is not finite: %w", raw, model.ErrInvalidInput)
	}
	if v < model.MinRating || v > model.MaxRating {
		return 0, fmt.Errorf("rating %v outside [%v, %v]: %w", v, model.MinRating, model.MaxRating, model.ErrInvalidInput)
	}
	return v, nil
}
