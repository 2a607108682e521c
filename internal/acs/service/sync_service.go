package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/BrandonDHaskell/Portunus/acsbridge/internal/acs/store"
	"github.com/BrandonDHaskell/Portunus/acsbridge/internal/isapi"
)

// SyncConfig holds the parameters for NewSyncService.
type SyncConfig struct {
	// PageSize is maxResults per poll. Defaults to isapi.DefaultPageSize.
	PageSize int

	// MaxPages bounds one run per device. Defaults to 20.
	MaxPages int

	// Lookback is where a device with no cursor starts. Defaults to 24h.
	Lookback time.Duration

	// Concurrency bounds SyncAll. Defaults to 4.
	Concurrency int

	Mode isapi.Mode
}

// SyncReport summarises one sync run for one device.
type SyncReport struct {
	RunID      string     `json:"runId"`
	DeviceID   string     `json:"deviceId"`
	Since      time.Time  `json:"since"`
	Cursor     time.Time  `json:"cursor"`
	Pages      int        `json:"pages"`
	Fetched    int        `json:"fetched"`
	Received   int        `json:"received"`
	Inserted   int        `json:"inserted"`
	HasMore    bool       `json:"hasMore"`
	Error      string     `json:"error,omitempty"`
	Kind       isapi.Kind `json:"kind,omitempty"`
	StartedAt  time.Time  `json:"startedAt"`
	FinishedAt time.Time  `json:"finishedAt"`
}

// SyncService pulls device event logs into the event store and keeps a
// per-device cursor.
type SyncService struct {
	registry *DeviceRegistry
	events   store.AccessEventStore
	cursors  store.CursorStore
	cfg      SyncConfig
	log      zerolog.Logger
}

func NewSyncService(reg *DeviceRegistry, es store.AccessEventStore, cs store.CursorStore, cfg SyncConfig, log zerolog.Logger) *SyncService {
	if cfg.PageSize <= 0 {
		cfg.PageSize = isapi.DefaultPageSize
	}

	if cfg.MaxPages <= 0 {
		cfg.MaxPages = 20
	}

	if cfg.Lookback <= 0 {
		cfg.Lookback = 24 * time.Hour
	}

	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}

	return &SyncService{registry: reg, events: es, cursors: cs, cfg: cfg, log: log}
}

// SyncDevice polls one device from since, or from its cursor when since is
// nil. Pages are fetched by offset until the device reports no more or
// MaxPages is reached. The cursor only moves forward.
func (s *SyncService) SyncDevice(ctx context.Context, deviceID string, since *time.Time) (SyncReport, error) {
	client, err := s.registry.Client(deviceID)
	if err != nil {
		return SyncReport{}, err
	}

	rep := SyncReport{
		RunID:     uuid.NewString(),
		DeviceID:  deviceID,
		StartedAt: time.Now().UTC(),
	}

	log := s.log.With().Str("device_id", deviceID).Str("run_id", rep.RunID).Logger()

	cur, found, err := s.cursors.GetCursor(ctx, deviceID)
	if err != nil {
		return rep, fmt.Errorf("load cursor: %w", err)
	}

	if !found {
		cur = store.SyncCursor{DeviceID: deviceID}
	}

	switch {
	case since != nil:
		rep.Since = since.UTC()
	case !cur.LastEventAt.IsZero():
		rep.Since = cur.LastEventAt
	default:
		rep.Since = rep.StartedAt.Add(-s.cfg.Lookback)
	}

	newest := cur.LastEventAt
	offset := 0

	var pollErr error

	for rep.Pages < s.cfg.MaxPages {
		res, err := client.Events.Poll(ctx, isapi.Window{
			Since:      rep.Since,
			MaxResults: s.cfg.PageSize,
			Offset:     offset,
			Mode:       s.cfg.Mode,
		})
		if err != nil {
			pollErr = err
			break
		}

		rep.Pages++
		rep.Fetched += res.Fetched
		rep.Received += len(res.Events)

		n, err := s.events.SaveEvents(ctx, deviceID, res.Events, time.Now().UTC())
		if err != nil {
			pollErr = fmt.Errorf("save events: %w", err)
			break
		}

		rep.Inserted += n

		for _, ev := range res.Events {
			if ev.Time.After(newest) {
				newest = ev.Time
			}
		}

		rep.HasMore = res.HasMore && res.Fetched > 0
		if !rep.HasMore {
			break
		}

		offset += res.Fetched
	}

	rep.FinishedAt = time.Now().UTC()
	rep.Cursor = newest.UTC()

	if pollErr != nil {
		rep.Error = pollErr.Error()
		rep.Kind = isapi.KindOf(pollErr)
	}

	cur.LastEventAt = rep.Cursor
	cur.LastRunID = rep.RunID
	cur.LastRunAt = rep.FinishedAt
	cur.LastError = rep.Error

	if err := s.cursors.SaveCursor(ctx, cur); err != nil {
		return rep, errors.Join(pollErr, fmt.Errorf("save cursor: %w", err))
	}

	if pollErr != nil {
		log.Warn().Err(pollErr).Str("kind", string(rep.Kind)).Int("pages", rep.Pages).Msg("event sync failed")
		return rep, pollErr
	}

	ev := log.Info()
	if rep.HasMore {
		ev = log.Warn().Int("max_pages", s.cfg.MaxPages)
	}

	ev.Int("pages", rep.Pages).
		Int("fetched", rep.Fetched).
		Int("inserted", rep.Inserted).
		Bool("has_more", rep.HasMore).
		Time("cursor", rep.Cursor).
		Dur("took", rep.FinishedAt.Sub(rep.StartedAt)).
		Msg("event sync complete")

	return rep, nil
}

// SyncAll syncs every registered device from its cursor. A failing device
// does not stop the others; its report carries the error.
func (s *SyncService) SyncAll(ctx context.Context) []SyncReport {
	ids := s.registry.IDs()
	reports := make([]SyncReport, len(ids))

	var g errgroup.Group
	g.SetLimit(s.cfg.Concurrency)

	for i, id := range ids {
		g.Go(func() error {
			rep, err := s.SyncDevice(ctx, id, nil)
			if err != nil && rep.Error == "" {
				rep.DeviceID = id
				rep.Error = err.Error()
				rep.Kind = isapi.KindOf(err)
			}

			reports[i] = rep

			return nil
		})
	}

	_ = g.Wait()

	return reports
}

// Job runs SyncAll on a schedule.
func (s *SyncService) Job(interval time.Duration) Job {
	return Job{
		Name:     "event_sync",
		Interval: interval,
		Run: func(ctx context.Context) error {
			var failed int

			for _, rep := range s.SyncAll(ctx) {
				if rep.Error != "" {
					failed++
				}
			}

			if failed > 0 {
				return fmt.Errorf("%d device(s) failed to sync", failed)
			}

			return nil
		},
	}
}
