// Package apperr defines the error taxonomy surfaced to API callers.
// Adapter-level failures (a single source or model task erroring out) are
// never wrapped in these; they are folded into partial results by the
// orchestrator. Only the sentinels here cross the handler boundary.
package apperr

import (
	"errors"
	"fmt"
)

var (
	ErrValidation   = errors.New("validation failed")
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
	ErrRateLimited  = errors.New("rate limit exceeded")
	ErrNotFound     = errors.New("not found")

	// Internal: recovered by the orchestrator, logged, never returned
	// from ExecuteQuery/GetQueryResults as a top-level failure.
	ErrSourceUnavailable = errors.New("source unavailable")
	ErrModelUnavailable  = errors.New("model unavailable")

	// Internal and fatal: the persistence layer could not make progress.
	ErrPersistence = errors.New("persistence error")
)

func Validationf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// HTTPStatus maps a taxonomy error to its response code. Anything outside
// the taxonomy is an internal error.
func HTTPStatus(err error) int {
	switch {
	case errors.Is(err, ErrValidation):
		return 400
	case errors.Is(err, ErrUnauthorized):
		return 401
	case errors.Is(err, ErrForbidden):
		return 403
	case errors.Is(err, ErrNotFound):
		return 404
	case errors.Is(err, ErrRateLimited):
		return 429
	default:
		return 500
	}
}

// Code returns the machine-distinguishable error code for a taxonomy error.
func Code(err error) string {
	switch {
	case errors.Is(err, ErrValidation):
		return "validation_failed"
	case errors.Is(err, ErrUnauthorized):
		return "unauthenticated"
	case errors.Is(err, ErrForbidden):
		return "forbidden"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrRateLimited):
		return "rate_limited"
	default:
		return "internal_error"
	}
}
