// Package domain errors.go contains sentinel errors
package domain

import (
	"errors"
	"fmt"
)

// Sentinel domain-level errors reused by higher layers. Callers classify with
// errors.Is; the more specific errors wrap their category.
var (
	ErrInvalidInput       = errors.New("invalid input")
	ErrNotFound           = errors.New("content not found")
	ErrPasswordRequired   = errors.New("password required")
	ErrForbidden          = errors.New("forbidden")
	ErrStorageUnavailable = errors.New("storage unavailable")
	ErrInternal           = errors.New("internal error")

	ErrInvalidID         = fmt.Errorf("%w: malformed content id", ErrInvalidInput)
	ErrTooLarge          = fmt.Errorf("%w: payload too large", ErrInvalidInput)
	ErrExpiryInvalid     = fmt.Errorf("%w: expiry out of range", ErrInvalidInput)
	ErrUnreadableUpload  = fmt.Errorf("%w: upload could not be read", ErrInvalidInput)
	ErrIncorrectPassword = fmt.Errorf("%w: incorrect password", ErrForbidden)
	ErrNotOwner          = fmt.Errorf("%w: not owner", ErrForbidden)

	// ErrExhausted is returned by record stores when a record exists but has
	// no views left. The gate never surfaces it; it retires the record and
	// reports ErrNotFound.
	ErrExhausted = errors.New("views exhausted")
)
