package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrRateCapExceeded is returned when the process-wide request cap
	// has been consumed. The current job is rescheduled via backoff.
	ErrRateCapExceeded = errors.New("request cap exceeded")

	// ErrNoEligibleJob is returned by a claim when no pending job is
	// eligible to run.
	ErrNoEligibleJob = errors.New("no eligible job")

	// ErrMissingProfileID is returned when a job payload has no
	// resolvable player identifier.
	ErrMissingProfileID = errors.New("job payload missing profile_id")
)

// APIError is a non-2xx response from the upstream leaderboard API.
// The body is kept for diagnostics.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("upstream API error: status %d: %s", e.StatusCode, e.Body)
}
