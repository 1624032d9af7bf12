package api

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrNotFound matches responses for targets that no longer exist.
	ErrNotFound = errors.New("not found")
	// ErrValidation matches responses rejecting the request's fields.
	ErrValidation = errors.New("validation failed")
	// ErrUnreachable wraps failures where the server never answered.
	ErrUnreachable = errors.New("server unreachable")
)

// Error is a non-2xx response from the list service.
type Error struct {
	Status  int
	Message string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("list service: %d %s", e.Status, http.StatusText(e.Status))
	}
	return fmt.Sprintf("list service: %d %s", e.Status, e.Message)
}

func (e *Error) Is(target error) bool {
	switch target {
	case ErrNotFound:
		return e.Status == http.StatusNotFound || e.Status == http.StatusGone
	case ErrValidation:
		return e.Status == http.StatusBadRequest || e.Status == http.StatusUnprocessableEntity
	case ErrUnreachable:
		return e.Status == http.StatusBadGateway || e.Status == http.StatusServiceUnavailable ||
			e.Status == http.StatusGatewayTimeout
	}
	return false
}

// IsRetryable reports whether err means the request never took effect
// because the server could not be reached.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrUnreachable)
}
