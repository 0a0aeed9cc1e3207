package service

import "errors"

var (
	// ErrUnauthenticated is returned when an operation needs a known caller
	// and the caller id is empty or unknown.
	ErrUnauthenticated = errors.New("unknown or missing user identity")
	// ErrBackupUnavailable is returned when no backup sink is configured.
	ErrBackupUnavailable = errors.New("backup is not configured")
)
