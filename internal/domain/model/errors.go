package model

import "errors"

// Sentinel error kinds shared by the domain, storage and transport layers.
var (
	ErrRoleViolation   = errors.New("operation not permitted for this role")
	ErrNotFound        = errors.New("not found")
	ErrInvalidInput    = errors.New("invalid input")
	ErrPersistence     = errors.New("persistence failure")
	ErrDuplicateRating = errors.New("sample already rated by this user")
	ErrUsernameTaken   = errors.New("username already taken")
)
