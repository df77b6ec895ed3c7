package domain

import (
	"errors"
)

// Sentinel errors - use with errors.Is()
var (
	ErrNotFound     = errors.New("not found")
	ErrValidation   = errors.New("validation failed")
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")

	// ErrStorage indicates the session store failed after its single
	// reconnect-and-retry attempt. Fatal for the turn, not for the process.
	ErrStorage = errors.New("storage unavailable")
)
