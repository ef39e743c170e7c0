package constants

import "time"

const (
	ExternalAPITimeout = 10 * time.Second
	DatabaseTimeout    = 5 * time.Second
)

const (
	DBMaxOpenConns    = 10
	DBMaxIdleConns    = 5
	DBConnMaxLifetime = 1 * time.Hour
	DBMaxIdleTime     = 10 * time.Minute
)

// Priority bands. Lower is more urgent. Discovery jobs are clamped into
// [DiscoveryPriorityFloor, DiscoveryPriorityCeiling] so newly found
// players cannot crowd out the existing queue.
const (
	SeedPriority             = 10
	DiscoveryPriorityStep    = 5
	DiscoveryPriorityFloor   = 40
	DiscoveryPriorityCeiling = 60
)

// Backoff after a failed attempt: 2^clamp(attempts, MinExponent,
// MaxExponent) minutes, so 2m on the first failure up to 64m.
const (
	BackoffMinExponent = 1
	BackoffMaxExponent = 6
)

// Transient sqlite write conflicts are retried this many extra times
// with a constant pause before the chunk is surfaced as failed.
const (
	ChunkWriteRetries = 3
	ChunkRetryPause   = 250 * time.Millisecond
)

// A lost claim race triggers reselection at most this many times per
// ClaimNext call.
const ClaimReselects = 3
