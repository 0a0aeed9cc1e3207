package api

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
)

// handleLeaderboard handles GET /leaderboard?limit=N. Without a limit the
// configured default applies.
func (s *Server) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	const op = "api.get_leaderboard"
	n := 0
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		var err error
		n, err = strconv.Atoi(limitStr)
		if err != nil || n < 1 {
			s.fail(w, r, op, fmt.Errorf("%w: limit must be a positive integer", ErrBadRequest))
			return
		}
	}
	lb, err := s.deps.Leaderboard(r.Context(), n, CallerID(r.Context()))
	if err != nil {
		s.fail(w, r, op, err)
		return
	}
	writeJSON(w, http.StatusOK, lb)
}

// handleRank handles GET /rank/{userID}.
func (s *Server) handleRank(w http.ResponseWriter, r *http.Request) {
	entry, err := s.deps.RankOf(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		s.fail(w, r, "api.get_rank", err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}
