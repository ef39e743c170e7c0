package domain

import (
	"time"
)

// JobStatus is the lifecycle state of a CrawlJob.
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusInProgress JobStatus = "in_progress"
	JobStatusDone       JobStatus = "done"
	JobStatusFailed     JobStatus = "failed"
)

// JobKindPlayerMatches crawls the recent match history of one player.
const JobKindPlayerMatches = "player_matches"

// Outcome of one participant in one match.
const (
	OutcomeWin     = "win"
	OutcomeLoss    = "loss"
	OutcomeUnknown = "unknown"
)

// JobPayload is the JSON body of a CrawlJob. ProfileID is required,
// Alias is a hint that lets the fetch go through the alias endpoint.
type JobPayload struct {
	ProfileID string `json:"profile_id"`
	Alias     string `json:"alias,omitempty"`
}

type CrawlJob struct {
	ID        int64     `db:"id"`
	Kind      string    `db:"kind"`
	ProfileID string    `db:"profile_id"`
	Payload   string    `db:"payload"` // JSON-encoded JobPayload
	Status    JobStatus `db:"status"`
	Attempts  int       `db:"attempts"`
	Priority  int       `db:"priority"`
	RunAfter  time.Time `db:"run_after"`
	LastError *string   `db:"last_error"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

// CrawlRun is the audit record of one (job, attempt) execution.
type CrawlRun struct {
	ID           int64      `db:"id"`
	JobID        int64      `db:"job_id"`
	StartedAt    time.Time  `db:"started_at"`
	FinishedAt   *time.Time `db:"finished_at"`
	Success      *bool      `db:"success"`
	RequestCount int        `db:"request_count"`
	ErrorMessage *string    `db:"error_message"`
	Notes        *string    `db:"notes"`
}

// Player is one discovered participant. ProfileID is string-encoded to
// avoid precision loss on large upstream ids.
type Player struct {
	ProfileID    string    `db:"profile_id"`
	CurrentAlias string    `db:"current_alias"`
	Country      string    `db:"country"`
	StatgroupID  *int64    `db:"statgroup_id"`
	SteamID64    *string   `db:"steam_id64"`
	XP           *int64    `db:"xp"`
	Level        *int64    `db:"level"`
	LastSeenAt   time.Time `db:"last_seen_at"`
}

type Match struct {
	MatchID          string     `db:"match_id"`
	MatchTypeID      *int64     `db:"match_type_id"`
	MapName          string     `db:"map_name"`
	Description      string     `db:"description"`
	MaxPlayers       *int64     `db:"max_players"`
	CreatorProfileID *string    `db:"creator_profile_id"`
	StartedAt        *time.Time `db:"started_at"`
	CompletedAt      *time.Time `db:"completed_at"`
	DurationSeconds  *int64     `db:"duration_seconds"`
	ObserverTotal    *int64     `db:"observer_total"`
	CrawledAt        time.Time  `db:"crawled_at"`
	SourceAlias      string     `db:"source_alias"`
	OptionsBlob      *string    `db:"options_blob"`
	SlotInfoBlob     *string    `db:"slot_info_blob"`
}

type MatchParticipant struct {
	MatchID      string   `db:"match_id"`
	ProfileID    string   `db:"profile_id"`
	TeamID       *int64   `db:"team_id"`
	RaceID       *int64   `db:"race_id"`
	StatgroupID  *int64   `db:"statgroup_id"`
	AliasAtMatch string   `db:"alias_at_match"`
	Outcome      string   `db:"outcome"`
	OutcomeRaw   *int64   `db:"outcome_raw"`
	Wins         *int64   `db:"wins"`
	Losses       *int64   `db:"losses"`
	Streak       *int64   `db:"streak"`
	Arbitration  *int64   `db:"arbitration"`
	ReportType   *int64   `db:"report_type"`
	OldRating    *float64 `db:"old_rating"`
	NewRating    *float64 `db:"new_rating"`
	RatingDelta  *float64 `db:"rating_delta"`
	IsComputer   bool     `db:"is_computer"`
}

// AliasHistory is one (profile, alias) interval. Upserts widen the
// interval, never narrow it.
type AliasHistory struct {
	ProfileID   string    `db:"profile_id"`
	Alias       string    `db:"alias"`
	FirstSeenAt time.Time `db:"first_seen_at"`
	LastSeenAt  time.Time `db:"last_seen_at"`
}

// RawMatchPayload archives the raw member list of a match (or the full
// match record when no members parsed) for reprocessing.
type RawMatchPayload struct {
	MatchID   string    `db:"match_id"`
	Payload   string    `db:"payload"`
	CrawledAt time.Time `db:"crawled_at"`
}

// NormalizedRows is everything the normalizer extracts from one raw
// match-history payload.
type NormalizedRows struct {
	Matches              []Match
	Participants         []MatchParticipant
	Players              []Player
	AliasHistory         []AliasHistory
	RawPayloads          []RawMatchPayload
	DiscoveredProfileIDs []string
	AliasHints           map[string]string
}
