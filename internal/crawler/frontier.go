package crawler

import (
	"context"

	"relic-crawler/internal/constants"
	"relic-crawler/internal/domain"
	"relic-crawler/internal/repository"

	"github.com/rs/zerolog"
)

// Frontier enqueues newly discovered profile ids as future crawl jobs.
// Discovery jobs sit one priority step below their parent, clamped into
// the discovery band so a burst of new players cannot crowd out the
// queue.
type Frontier struct {
	jobs   *repository.JobRepository
	logger zerolog.Logger
}

func NewFrontier(jobs *repository.JobRepository, logger zerolog.Logger) *Frontier {
	return &Frontier{jobs: jobs, logger: logger}
}

// Expand enqueues one job per discovered profile id with its alias hint
// when one was resolved. A profile that already has a queued job counts
// as success and is skipped. Returns the number of jobs actually
// created.
func (f *Frontier) Expand(ctx context.Context, profileIDs []string, aliasHints map[string]string, parentPriority int) (int, error) {
	priority := clampPriority(parentPriority + constants.DiscoveryPriorityStep)

	enqueued := 0
	for _, profileID := range profileIDs {
		created, err := f.jobs.Enqueue(ctx, domain.JobKindPlayerMatches, profileID, aliasHints[profileID], priority)
		if err != nil {
			return enqueued, err
		}
		if created {
			enqueued++
		}
	}

	if len(profileIDs) > 0 {
		f.logger.Debug().
			Int("discovered", len(profileIDs)).
			Int("enqueued", enqueued).
			Int("priority", priority).
			Msg("frontier expanded")
	}
	return enqueued, nil
}

func clampPriority(priority int) int {
	if priority < constants.DiscoveryPriorityFloor {
		return constants.DiscoveryPriorityFloor
	}
	if priority > constants.DiscoveryPriorityCeiling {
		return constants.DiscoveryPriorityCeiling
	}
	return priority
}
