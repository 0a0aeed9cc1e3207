package api

import (
	"errors"
	"net/http"

	service "github.com/okian/ratingmeter/internal/app"
	"github.com/okian/ratingmeter/internal/domain/model"
)

// Sentinel kinds for API errors.
var (
	ErrBadRequest  = errors.New("bad request")
	ErrRateLimited = errors.New("too many rating submissions")
)

// statusFor maps an error to its HTTP status and response code.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, ErrBadRequest), errors.Is(err, model.ErrInvalidInput):
		return http.StatusBadRequest, "bad_request"
	case errors.Is(err, service.ErrUnauthenticated):
		return http.StatusUnauthorized, "unauthenticated"
	case errors.Is(err, model.ErrRoleViolation):
		return http.StatusForbidden, "forbidden"
	case errors.Is(err, model.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, model.ErrDuplicateRating):
		return http.StatusConflict, "duplicate_rating"
	case errors.Is(err, model.ErrUsernameTaken):
		return http.StatusConflict, "username_taken"
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests, "rate_limited"
	case errors.Is(err, service.ErrBackupUnavailable):
		return http.StatusServiceUnavailable, "backup_unavailable"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}
