package crawler

import (
	"time"

	"relic-crawler/internal/constants"
)

// backoffDelay escalates the retry delay after a failed attempt:
// 2^clamp(attempts, 1, 6) minutes. attempts is the value already
// incremented by the claim, so the first failure waits 2 minutes and
// the ceiling is 64.
func backoffDelay(attempts int) time.Duration {
	exp := attempts
	if exp < constants.BackoffMinExponent {
		exp = constants.BackoffMinExponent
	}
	if exp > constants.BackoffMaxExponent {
		exp = constants.BackoffMaxExponent
	}
	return time.Duration(1<<uint(exp)) * time.Minute
}
