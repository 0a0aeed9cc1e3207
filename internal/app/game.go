package service

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/okian/ratingmeter/internal/adapters/backup"
	"github.com/okian/ratingmeter/internal/domain/model"
	"github.com/okian/ratingmeter/internal/domain/ranking"
	"github.com/okian/ratingmeter/internal/domain/submission"
	"github.com/okian/ratingmeter/internal/domain/types"
	"github.com/okian/ratingmeter/pkg/logger"
	"github.com/okian/ratingmeter/pkg/metrics"
)

// Demo data created by SeedDemo.
const (
	DemoPlaymaker       = "demo_playmaker"
	DemoSampleName      = "Demo Sample 1"
	DemoSampleCanonical = 8.5
)

// NewUser is a registration request.
type NewUser struct {
	Username string     `json:"username" validate:"required,min=3,max=80"`
	Role     model.Role `json:"role" validate:"required,oneof=player playmaker"`
}

// NewSample is a sample publication request. CanonicalRating is a pointer
// so that 0 can be told apart from a missing value.
type NewSample struct {
	Name            string   `json:"name" validate:"required,max=100"`
	Description     string   `json:"description" validate:"max=1000"`
	CanonicalRating *float64 `json:"canonical_rating" validate:"required,gte=0,lte=10"`
}

// Dashboard is the role-specific home view.
type Dashboard struct {
	User    model.User     `json:"user"`
	Samples []model.Sample `json:"samples"`
	Ratings []model.Rating `json:"ratings"`
	Players []model.User   `json:"players,omitempty"`
}

func invalid(err error) error {
	return fmt.Errorf("%w: %s", model.ErrInvalidInput, err.Error())
}

// caller resolves an acting user id.
func (s *Service) caller(ctx context.Context, id string) (model.User, error) {
	if strings.TrimSpace(id) == "" {
		return model.User{}, ErrUnauthenticated
	}
	u, err := s.store.GetUser(ctx, id)
	if errors.Is(err, model.ErrNotFound) {
		return model.User{}, fmt.Errorf("user %s: %w", id, ErrUnauthenticated)
	}
	return u, err
}

func (s *Service) playmaker(ctx context.Context, id string) (model.User, error) {
	u, err := s.caller(ctx, id)
	if err != nil {
		return model.User{}, err
	}
	if !u.IsPlaymaker() {
		return model.User{}, fmt.Errorf("user %s is not a playmaker: %w", id, model.ErrRoleViolation)
	}
	return u, nil
}

// CreateUser registers a user.
func (s *Service) CreateUser(ctx context.Context, in NewUser) (model.User, error) {
	in.Username = strings.TrimSpace(in.Username)
	if err := validate.Struct(in); err != nil {
		return model.User{}, invalid(err)
	}
	u := model.User{ID: s.newID(), Username: in.Username, Role: in.Role, CreatedAt: s.now()}
	if err := s.store.CreateUser(ctx, u); err != nil {
		return model.User{}, err
	}
	return u, nil
}

// GetUser returns a user by id.
func (s *Service) GetUser(ctx context.Context, id string) (model.User, error) {
	return s.store.GetUser(ctx, id)
}

// DeleteUser removes username and its ratings. Only playmakers may do this.
func (s *Service) DeleteUser(ctx context.Context, actorID, username string) error {
	if _, err := s.playmaker(ctx, actorID); err != nil {
		return err
	}
	u, err := s.store.GetUserByUsername(ctx, username)
	if err != nil {
		return err
	}
	if err := s.store.DeleteUser(ctx, u.ID); err != nil {
		return err
	}
	s.logger.Info(ctx, "user deleted", logger.String("username", username), logger.String("by", actorID))
	return nil
}

// CreateSample publishes a sample. Only playmakers may do this.
func (s *Service) CreateSample(ctx context.Context, actorID string, in NewSample) (model.Sample, error) {
	actor, err := s.playmaker(ctx, actorID)
	if err != nil {
		return model.Sample{}, err
	}
	in.Name = strings.TrimSpace(in.Name)
	if err := validate.Struct(in); err != nil {
		return model.Sample{}, invalid(err)
	}
	smp := model.Sample{
		ID:              s.newID(),
		Name:            in.Name,
		Description:     strings.TrimSpace(in.Description),
		CanonicalRating: *in.CanonicalRating,
		CreatedBy:       actor.ID,
		CreatedAt:       s.now(),
	}
	if err := s.store.CreateSample(ctx, smp); err != nil {
		return model.Sample{}, err
	}
	return smp, nil
}

// GetSample returns a sample by id.
func (s *Service) GetSample(ctx context.Context, id string) (model.Sample, error) {
	return s.store.GetSample(ctx, id)
}

// ListSamples returns every sample, newest first.
func (s *Service) ListSamples(ctx context.Context) ([]model.Sample, error) {
	return s.store.ListSamples(ctx)
}

// DeleteSample removes a sample, its ratings and the points they earned.
// Only playmakers may do this.
func (s *Service) DeleteSample(ctx context.Context, actorID, sampleID string) ([]model.Rating, error) {
	if _, err := s.playmaker(ctx, actorID); err != nil {
		return nil, err
	}
	removed, err := s.store.DeleteSample(ctx, sampleID)
	if err != nil {
		return nil, err
	}
	s.logger.Info(ctx, "sample deleted",
		logger.String("sample", sampleID), logger.Int("withdrawnRatings", len(removed)))
	return removed, nil
}

// Dashboard returns the caller's home view. Players see the samples they
// have not rated and their own ratings; playmakers see everything.
func (s *Service) Dashboard(ctx context.Context, userID string) (Dashboard, error) {
	u, err := s.caller(ctx, userID)
	if err != nil {
		return Dashboard{}, err
	}
	d := Dashboard{User: u}
	if u.IsPlaymaker() {
		all, err := s.store.Dump(ctx)
		if err != nil {
			return Dashboard{}, err
		}
		d.Samples, d.Ratings = all.Samples, all.Ratings
		d.Players = make([]model.User, 0, len(all.Users))
		for _, p := range all.Users {
			if !p.IsPlaymaker() {
				d.Players = append(d.Players, p)
			}
		}
		return d, nil
	}
	if d.Samples, err = s.store.ListUnratedSamples(ctx, u.ID); err != nil {
		return Dashboard{}, err
	}
	if d.Ratings, err = s.store.ListRatingsByUser(ctx, u.ID); err != nil {
		return Dashboard{}, err
	}
	return d, nil
}

// SubmitRating scores userID's guess for sampleID and adds the points to
// the user's total.
func (s *Service) SubmitRating(ctx context.Context, userID, sampleID, raw string) (submission.Result, error) {
	start := time.Now()
	res, err := s.submitRating(ctx, userID, sampleID, raw)
	metrics.RecordSubmitLatency(float64(time.Since(start).Microseconds()) / 1000)
	if err != nil {
		metrics.RecordRatingRejected(rejectReason(err))
		return submission.Result{}, err
	}
	metrics.RecordRatingSubmitted(res.Rating.PointsEarned)
	return res, nil
}

func (s *Service) submitRating(ctx context.Context, userID, sampleID, raw string) (submission.Result, error) {
	u, err := s.caller(ctx, userID)
	if err != nil {
		return submission.Result{}, err
	}
	return s.submitter.Submit(ctx, u, sampleID, raw)
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, ErrUnauthenticated):
		return "unauthenticated"
	case errors.Is(err, model.ErrRoleViolation):
		return "role"
	case errors.Is(err, model.ErrNotFound):
		return "not_found"
	case errors.Is(err, model.ErrInvalidInput):
		return "invalid"
	case errors.Is(err, model.ErrDuplicateRating):
		return "duplicate"
	default:
		return "persistence"
	}
}

// RatingsByUser returns userID's ratings, newest first. Players may only
// list their own.
func (s *Service) RatingsByUser(ctx context.Context, actorID, userID string) ([]model.Rating, error) {
	actor, err := s.caller(ctx, actorID)
	if err != nil {
		return nil, err
	}
	if actor.ID != userID && !actor.IsPlaymaker() {
		return nil, fmt.Errorf("user %s may not list ratings of %s: %w", actor.ID, userID, model.ErrRoleViolation)
	}
	if _, err := s.store.GetUser(ctx, userID); err != nil {
		return nil, err
	}
	return s.store.ListRatingsByUser(ctx, userID)
}

// RatingsBySample returns the ratings of sampleID, newest first. Other
// guesses reveal the canonical rating, so a player sees them only after
// rating the sample.
func (s *Service) RatingsBySample(ctx context.Context, actorID, sampleID string) ([]model.Rating, error) {
	actor, err := s.caller(ctx, actorID)
	if err != nil {
		return nil, err
	}
	if _, err := s.store.GetSample(ctx, sampleID); err != nil {
		return nil, err
	}
	ratings, err := s.store.ListRatingsBySample(ctx, sampleID)
	if err != nil {
		return nil, err
	}
	if actor.IsPlaymaker() || slices.ContainsFunc(ratings, func(r model.Rating) bool { return r.UserID == actor.ID }) {
		return ratings, nil
	}
	return nil, fmt.Errorf("user %s has not rated sample %s: %w", actor.ID, sampleID, model.ErrRoleViolation)
}

// Leaderboard returns the top limit players. A non-positive limit means the
// configured default; larger limits are capped. When callerID names a
// player, their rank is included even if they are outside the top.
func (s *Service) Leaderboard(ctx context.Context, limit int, callerID string) (types.Leaderboard, error) {
	ctx, span := s.tracer.Start(ctx, "service.Leaderboard", trace.WithAttributes(
		attribute.Int("limit", limit),
	))
	defer span.End()
	metrics.RecordLeaderboardQuery()

	if limit <= 0 {
		limit = s.topN
	}
	limit = min(limit, s.maxLimit)

	standings, err := s.store.ListStandings(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return types.Leaderboard{}, err
	}

	lb := types.Leaderboard{Entries: ranking.Rank(standings, limit)}
	if callerID != "" {
		// Anonymous, unknown and playmaker callers simply get no rank.
		if r, err := ranking.RankOf(callerID, standings); err == nil {
			lb.CurrentUserRank = r
		}
	}
	span.SetAttributes(attribute.Int("entries", len(lb.Entries)))
	return lb, nil
}

// RankOf returns the leaderboard entry of userID.
func (s *Service) RankOf(ctx context.Context, userID string) (types.Entry, error) {
	ctx, span := s.tracer.Start(ctx, "service.RankOf", trace.WithAttributes(
		attribute.String("user.id", userID),
	))
	defer span.End()

	standings, err := s.store.ListStandings(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return types.Entry{}, err
	}
	rank, err := ranking.RankOf(userID, standings)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return types.Entry{}, err
	}
	e := types.Entry{Rank: rank, UserID: userID}
	for _, st := range standings {
		if st.UserID == userID {
			e.Username = st.Username
			e.Points = st.Points
			break
		}
	}
	return e, nil
}

// Backup exports the game state. Only playmakers may trigger it.
func (s *Service) Backup(ctx context.Context, actorID string) (backup.Result, error) {
	if _, err := s.playmaker(ctx, actorID); err != nil {
		return backup.Result{}, err
	}
	if s.exporter == nil {
		return backup.Result{}, ErrBackupUnavailable
	}
	res, err := s.exporter.Run(ctx)
	if err != nil {
		return backup.Result{}, err
	}
	s.logger.Info(ctx, "backup stored",
		logger.String("location", res.Location), logger.Int("records", res.Records))
	return res, nil
}

// SeedDemo creates a demo playmaker and sample when the store holds no
// users and no samples. It reports whether anything was created.
func (s *Service) SeedDemo(ctx context.Context) (bool, error) {
	c, err := s.store.Counts(ctx)
	if err != nil {
		return false, err
	}
	if c.Players+c.Playmakers+c.Samples > 0 {
		return false, nil
	}
	pm, err := s.CreateUser(ctx, NewUser{Username: DemoPlaymaker, Role: model.RolePlaymaker})
	if err != nil {
		return false, fmt.Errorf("seed playmaker: %w", err)
	}
	canonical := DemoSampleCanonical
	if _, err := s.CreateSample(ctx, pm.ID, NewSample{
		Name:            DemoSampleName,
		Description:     "A demo sample to get started.",
		CanonicalRating: &canonical,
	}); err != nil {
		return false, fmt.Errorf("seed sample: %w", err)
	}
	return true, nil
}
