package api

import (
	"sync"
	"time"

	"relic-crawler/internal/domain"
)

// RateLimiter guards the upstream API with a process-wide request cap
// and a fixed inter-request delay. Both are shared across every caller
// in the process, including all workers of the bulk-refresh pool: the
// upstream limit is global to the crawler's address, not per call site.
type RateLimiter struct {
	mu     sync.Mutex
	used   int
	cap    int
	delay  time.Duration
	paceMu sync.Mutex
	sleep  func(time.Duration)
}

func NewRateLimiter(cap int, delay time.Duration) *RateLimiter {
	return newRateLimiter(cap, delay, time.Sleep)
}

func newRateLimiter(cap int, delay time.Duration, sleep func(time.Duration)) *RateLimiter {
	return &RateLimiter{cap: cap, delay: delay, sleep: sleep}
}

// Allow reports whether another request may be issued. It fails with
// ErrRateCapExceeded once the cap has been consumed.
func (l *RateLimiter) Allow() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.used >= l.cap {
		return domain.ErrRateCapExceeded
	}
	return nil
}

// RecordAndPace counts one completed request and suspends the caller
// for the inter-request delay. The pace lock serializes concurrent
// callers so the minimum spacing holds across the whole pool.
func (l *RateLimiter) RecordAndPace() {
	l.mu.Lock()
	l.used++
	l.mu.Unlock()

	l.paceMu.Lock()
	l.sleep(l.delay)
	l.paceMu.Unlock()
}

// Used returns the number of requests consumed so far.
func (l *RateLimiter) Used() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.used
}
