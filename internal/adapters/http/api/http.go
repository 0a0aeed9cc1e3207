// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/time/rate"

	"github.com/okian/ratingmeter/internal/adapters/backup"
	service "github.com/okian/ratingmeter/internal/app"
	"github.com/okian/ratingmeter/internal/domain/model"
	"github.com/okian/ratingmeter/internal/domain/submission"
	"github.com/okian/ratingmeter/internal/domain/types"
	"github.com/okian/ratingmeter/pkg/logger"
)

// Dependencies required by HTTP handlers. Using an interface bundle keeps
// the handler layer loosely coupled to implementations in other packages.
type Dependencies interface {
	CreateUser(ctx context.Context, in service.NewUser) (model.User, error)
	GetUser(ctx context.Context, id string) (model.User, error)
	DeleteUser(ctx context.Context, actorID, username string) error

	CreateSample(ctx context.Context, actorID string, in service.NewSample) (model.Sample, error)
	GetSample(ctx context.Context, id string) (model.Sample, error)
	ListSamples(ctx context.Context) ([]model.Sample, error)
	DeleteSample(ctx context.Context, actorID, sampleID string) ([]model.Rating, error)

	SubmitRating(ctx context.Context, userID, sampleID, raw string) (submission.Result, error)
	RatingsByUser(ctx context.Context, actorID, userID string) ([]model.Rating, error)
	RatingsBySample(ctx context.Context, actorID, sampleID string) ([]model.Rating, error)
	Dashboard(ctx context.Context, userID string) (service.Dashboard, error)

	Leaderboard(ctx context.Context, limit int, callerID string) (types.Leaderboard, error)
	RankOf(ctx context.Context, userID string) (types.Entry, error)

	Backup(ctx context.Context, actorID string) (backup.Result, error)
}

// Entry mirrors the read shape returned by leaderboard queries.
type Entry = types.Entry

// Server wires HTTP routes for the business API.
type Server struct {
	deps          Dependencies
	healthHandler *HealthHandler
	statsHandler  *StatsHandler
	limiter       *KeyedRateLimiter
	log           logger.Logger
}

// Option applies a configuration option to the Server.
type Option func(*Server)

// WithSubmitRateLimit limits rating submissions per caller to r per second
// with the given burst.
func WithSubmitRateLimit(r float64, burst int) Option {
	return func(s *Server) {
		if r > 0 && burst > 0 {
			s.limiter = NewKeyedRateLimiter(rate.Limit(r), burst)
		}
	}
}

// WithLogger sets the logger used for server-side failures.
func WithLogger(l logger.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.log = l
		}
	}
}

// NewServer creates a new API server with all handlers.
func NewServer(deps Dependencies, statsProvider StatsProvider, opts ...Option) *Server {
	s := &Server{
		deps:          deps,
		healthHandler: NewHealthHandler(),
		statsHandler:  NewStatsHandler(statsProvider),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.log == nil {
		s.log = logger.Named("api")
	}
	return s
}

// Router returns a chi router with the common middleware and every API
// route attached.
func (s *Server) Router(ctx context.Context) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.Recoverer, Identify)
	s.Register(ctx, r)
	return r
}

// Register attaches all HTTP routes to r.
func (s *Server) Register(_ context.Context, r chi.Router) {
	r.Get("/healthz", MetricsMiddleware(s.healthHandler.HandleHealth, "healthz"))
	r.Get("/stats", MetricsMiddleware(s.statsHandler.HandleStats, "stats"))

	r.Post("/users", MetricsMiddleware(s.handleCreateUser, "users"))
	r.Get("/users/{userID}", MetricsMiddleware(s.handleGetUser, "user"))
	r.Delete("/users/{username}", MetricsMiddleware(s.handleDeleteUser, "user"))
	r.Get("/users/{userID}/ratings", MetricsMiddleware(s.handleUserRatings, "user_ratings"))

	r.Get("/dashboard", MetricsMiddleware(s.handleDashboard, "dashboard"))

	r.Post("/samples", MetricsMiddleware(s.handleCreateSample, "samples"))
	r.Get("/samples", MetricsMiddleware(s.handleListSamples, "samples"))
	r.Get("/samples/{sampleID}", MetricsMiddleware(s.handleGetSample, "sample"))
	r.Delete("/samples/{sampleID}", MetricsMiddleware(s.handleDeleteSample, "sample"))
	r.Get("/samples/{sampleID}/ratings", MetricsMiddleware(s.handleSampleRatings, "sample_ratings"))
	r.Post("/samples/{sampleID}/ratings", MetricsMiddleware(s.handleSubmitRating, "submit_rating"))

	r.Get("/leaderboard", MetricsMiddleware(s.handleLeaderboard, "leaderboard"))
	r.Get("/rank/{userID}", MetricsMiddleware(s.handleRank, "rank"))

	r.Post("/backup", MetricsMiddleware(s.handleBackup, "backup"))
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string, err error) {
	msg := http.StatusText(status)
	if err != nil {
		msg = err.Error()
	}
	writeJSON(w, status, errorResponse{Code: code, Message: msg})
}

// fail writes err with the status its kind maps to. Server-side failures
// are logged and their details kept out of the response.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	status, code := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.log.Error(r.Context(), "request failed",
			logger.String("op", op),
			logger.String("request_id", middleware.GetReqID(r.Context())),
			logger.Error(err))
		writeError(w, status, code, nil)
		return
	}
	writeError(w, status, code, err)
}
