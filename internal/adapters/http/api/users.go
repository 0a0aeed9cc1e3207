package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	service "github.com/okian/ratingmeter/internal/app"
)

// decodeJSON reads a single JSON object from the request body.
func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %s", ErrBadRequest, err.Error())
	}
	return nil
}

// handleCreateUser handles POST /users.
func (s *Server) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	const op = "api.create_user"
	var req service.NewUser
	if err := decodeJSON(r, &req); err != nil {
		s.fail(w, r, op, err)
		return
	}
	u, err := s.deps.CreateUser(r.Context(), req)
	if err != nil {
		s.fail(w, r, op, err)
		return
	}
	writeJSON(w, http.StatusCreated, u)
}

// handleGetUser handles GET /users/{userID}.
func (s *Server) handleGetUser(w http.ResponseWriter, r *http.Request) {
	u, err := s.deps.GetUser(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		s.fail(w, r, "api.get_user", err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

// handleDeleteUser handles DELETE /users/{username}.
func (s *Server) handleDeleteUser(w http.ResponseWriter, r *http.Request) {
	err := s.deps.DeleteUser(r.Context(), CallerID(r.Context()), chi.URLParam(r, "username"))
	if err != nil {
		s.fail(w, r, "api.delete_user", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleUserRatings handles GET /users/{userID}/ratings.
func (s *Server) handleUserRatings(w http.ResponseWriter, r *http.Request) {
	ratings, err := s.deps.RatingsByUser(r.Context(), CallerID(r.Context()), chi.URLParam(r, "userID"))
	if err != nil {
		s.fail(w, r, "api.user_ratings", err)
		return
	}
	writeJSON(w, http.StatusOK, ratings)
}

// handleDashboard handles GET /dashboard.
func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	d, err := s.deps.Dashboard(r.Context(), CallerID(r.Context()))
	if err != nil {
		s.fail(w, r, "api.dashboard", err)
		return
	}
	reveal := d.User.IsPlaymaker()
	writeJSON(w, http.StatusOK, dashboardView{
		User:    d.User,
		Samples: viewSamples(d.Samples, reveal),
		Ratings: d.Ratings,
		Players: d.Players,
	})
}

// handleBackup handles POST /backup.
func (s *Server) handleBackup(w http.ResponseWriter, r *http.Request) {
	res, err := s.deps.Backup(r.Context(), CallerID(r.Context()))
	if err != nil {
		s.fail(w, r, "api.backup", err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}
