package dal

import (
	"errors"
	"fmt"
)

// Error taxonomy exposed to callers. Every failure leaving this package
// wraps exactly one of these sentinels; backend-specific error shapes never
// cross the boundary.
var (
	// ErrNotFound indicates the addressed entity does not exist.
	ErrNotFound = errors.New("not found")
	// ErrValidation indicates malformed input or an illegal transition.
	ErrValidation = errors.New("validation failed")
	// ErrDataAccess indicates an opaque backend failure.
	ErrDataAccess = errors.New("data access failure")
	// ErrUnauthorized indicates a missing required session.
	ErrUnauthorized = errors.New("unauthorized")
)

func notFoundErr(op, kind, id string) error {
	return fmt.Errorf("%s %s %q: %w", op, kind, id, ErrNotFound)
}

func validationErr(op string, format string, args ...any) error {
	return fmt.Errorf("%s: %w: %s", op, ErrValidation, fmt.Sprintf(format, args...))
}

// dataAccessErr keeps the backend cause as text only, so callers can match
// ErrDataAccess without depending on the backend's error types.
func dataAccessErr(op, kind, id string, cause error) error {
	return fmt.Errorf("%s %s %q: %w: %v", op, kind, id, ErrDataAccess, cause)
}
