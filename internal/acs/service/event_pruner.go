package service

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/BrandonDHaskell/Portunus/acsbridge/internal/acs/store"
)

// EventPruner deletes stored access events older than a retention period.
// A retention of 0 disables pruning entirely.
type EventPruner struct {
	store     store.AccessEventStore
	retention time.Duration
	log       zerolog.Logger
}

func NewEventPruner(s store.AccessEventStore, retentionDays int, log zerolog.Logger) *EventPruner {
	return &EventPruner{
		store:     s,
		retention: time.Duration(retentionDays) * 24 * time.Hour,
		log:       log,
	}
}

func (p *EventPruner) Enabled() bool { return p.retention > 0 }

// Prune removes events whose device time is before now minus retention.
func (p *EventPruner) Prune(ctx context.Context) (int64, error) {
	if !p.Enabled() {
		return 0, nil
	}

	cutoff := time.Now().UTC().Add(-p.retention)

	deleted, err := p.store.PruneOlderThan(ctx, cutoff)
	if err != nil {
		return 0, err
	}

	if deleted > 0 {
		p.log.Info().Int64("deleted", deleted).Time("cutoff", cutoff).Msg("access events pruned")
	}

	return deleted, nil
}

// Job schedules Prune. A disabled pruner yields a job with no interval,
// which the scheduler skips.
func (p *EventPruner) Job(interval time.Duration) Job {
	if !p.Enabled() {
		interval = 0
	}

	return Job{
		Name:     "event_prune",
		Interval: interval,
		Run: func(ctx context.Context) error {
			_, err := p.Prune(ctx)
			return err
		},
	}
}
