package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	service "github.com/okian/ratingmeter/internal/app"
	"github.com/okian/ratingmeter/internal/domain/model"
)

// sampleView is a sample as shown to a caller. The canonical rating is
// only revealed to playmakers.
type sampleView struct {
	ID              string    `json:"id"`
	Name            string    `json:"name"`
	Description     string    `json:"description"`
	CanonicalRating *float64  `json:"canonical_rating,omitempty"`
	CreatedBy       string    `json:"created_by,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

type dashboardView struct {
	User    model.User     `json:"user"`
	Samples []sampleView   `json:"samples"`
	Ratings []model.Rating `json:"ratings"`
	Players []model.User   `json:"players,omitempty"`
}

func viewSample(smp model.Sample, reveal bool) sampleView {
	v := sampleView{
		ID:          smp.ID,
		Name:        smp.Name,
		Description: smp.Description,
		CreatedBy:   smp.CreatedBy,
		CreatedAt:   smp.CreatedAt,
	}
	if reveal {
		c := smp.CanonicalRating
		v.CanonicalRating = &c
	}
	return v
}

func viewSamples(samples []model.Sample, reveal bool) []sampleView {
	out := make([]sampleView, len(samples))
	for i, smp := range samples {
		out[i] = viewSample(smp, reveal)
	}
	return out
}

// callerIsPlaymaker reports whether the identified caller is a playmaker.
func (s *Server) callerIsPlaymaker(r *http.Request) bool {
	id := CallerID(r.Context())
	if id == "" {
		return false
	}
	u, err := s.deps.GetUser(r.Context(), id)
	return err == nil && u.IsPlaymaker()
}

// handleCreateSample handles POST /samples.
func (s *Server) handleCreateSample(w http.ResponseWriter, r *http.Request) {
	const op = "api.create_sample"
	var req service.NewSample
	if err := decodeJSON(r, &req); err != nil {
		s.fail(w, r, op, err)
		return
	}
	smp, err := s.deps.CreateSample(r.Context(), CallerID(r.Context()), req)
	if err != nil {
		s.fail(w, r, op, err)
		return
	}
	writeJSON(w, http.StatusCreated, viewSample(smp, true))
}

// handleListSamples handles GET /samples.
func (s *Server) handleListSamples(w http.ResponseWriter, r *http.Request) {
	samples, err := s.deps.ListSamples(r.Context())
	if err != nil {
		s.fail(w, r, "api.list_samples", err)
		return
	}
	writeJSON(w, http.StatusOK, viewSamples(samples, s.callerIsPlaymaker(r)))
}

// handleGetSample handles GET /samples/{sampleID}.
func (s *Server) handleGetSample(w http.ResponseWriter, r *http.Request) {
	smp, err := s.deps.GetSample(r.Context(), chi.URLParam(r, "sampleID"))
	if err != nil {
		s.fail(w, r, "api.get_sample", err)
		return
	}
	writeJSON(w, http.StatusOK, viewSample(smp, s.callerIsPlaymaker(r)))
}

type deleteSampleResponse struct {
	WithdrawnRatings int `json:"withdrawn_ratings"`
}

// handleDeleteSample handles DELETE /samples/{sampleID}.
func (s *Server) handleDeleteSample(w http.ResponseWriter, r *http.Request) {
	removed, err := s.deps.DeleteSample(r.Context(), CallerID(r.Context()), chi.URLParam(r, "sampleID"))
	if err != nil {
		s.fail(w, r, "api.delete_sample", err)
		return
	}
	writeJSON(w, http.StatusOK, deleteSampleResponse{WithdrawnRatings: len(removed)})
}

// handleSampleRatings handles GET /samples/{sampleID}/ratings.
func (s *Server) handleSampleRatings(w http.ResponseWriter, r *http.Request) {
	ratings, err := s.deps.RatingsBySample(r.Context(), CallerID(r.Context()), chi.URLParam(r, "sampleID"))
	if err != nil {
		s.fail(w, r, "api.sample_ratings", err)
		return
	}
	writeJSON(w, http.StatusOK, ratings)
}

// ratingRequest is the body of POST /samples/{sampleID}/ratings. Value may
// be a JSON number or a string holding one.
type ratingRequest struct {
	Value json.RawMessage `json:"value"`
}

func (req ratingRequest) raw() string {
	v := bytes.TrimSpace(req.Value)
	if len(v) > 0 && v[0] == '"' {
		var s string
		if err := json.Unmarshal(v, &s); err == nil {
			return s
		}
	}
	return string(v)
}

// handleSubmitRating handles POST /samples/{sampleID}/ratings.
func (s *Server) handleSubmitRating(w http.ResponseWriter, r *http.Request) {
	const op = "api.submit_rating"
	if s.limiter != nil && !s.limiter.Allow(limiterKey(r)) {
		s.fail(w, r, op, ErrRateLimited)
		return
	}
	// A broken body is reported only after the caller, role and sample
	// checks pass; the service rejects the empty value it gets instead.
	var req ratingRequest
	bodyErr := decodeJSON(r, &req)
	if bodyErr == nil && len(req.Value) == 0 {
		bodyErr = fmt.Errorf("%w: missing value", ErrBadRequest)
	}
	raw := ""
	if bodyErr == nil {
		raw = req.raw()
	}
	res, err := s.deps.SubmitRating(r.Context(), CallerID(r.Context()), chi.URLParam(r, "sampleID"), raw)
	if err != nil {
		if bodyErr != nil && errors.Is(err, model.ErrInvalidInput) {
			err = bodyErr
		}
		s.fail(w, r, op, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}
