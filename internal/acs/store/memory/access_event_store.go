package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/BrandonDHaskell/Portunus/acsbridge/internal/acs/store"
	"github.com/BrandonDHaskell/Portunus/acsbridge/internal/isapi"
)

// AccessEventStore is an in-memory event log keyed like the sqlite table.
// It is intended for use in tests and dev environments.
type AccessEventStore struct {
	mu     sync.Mutex
	events []store.AccessEventRecord
	keys   map[string]struct{}
}

func NewAccessEventStore() *AccessEventStore {
	return &AccessEventStore{keys: make(map[string]struct{})}
}

func (s *AccessEventStore) SaveEvents(_ context.Context, deviceID string, events []isapi.AccessEvent, receivedAt time.Time) (int, error) {
	if receivedAt.IsZero() {
		receivedAt = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	inserted := 0

	for _, ev := range events {
		key := deviceID + "\x00" + ev.RawEventID
		if _, dup := s.keys[key]; dup {
			continue
		}

		s.keys[key] = struct{}{}
		s.events = append(s.events, store.AccessEventRecord{
			DeviceID:    deviceID,
			ReceivedAt:  receivedAt,
			AccessEvent: ev,
		})
		inserted++
	}

	return inserted, nil
}

func (s *AccessEventStore) ListEvents(_ context.Context, q store.EventQuery) ([]store.AccessEventRecord, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = store.DefaultEventLimit
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var out []store.AccessEventRecord

	for _, rec := range s.events {
		if q.DeviceID != "" && rec.DeviceID != q.DeviceID {
			continue
		}

		if !q.Since.IsZero() && rec.Time.Before(q.Since) {
			continue
		}

		if !q.Until.IsZero() && !rec.Time.Before(q.Until) {
			continue
		}

		out = append(out, rec)
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Time.Before(out[j].Time) })

	if len(out) > limit {
		out = out[:limit]
	}

	return out, nil
}

func (s *AccessEventStore) PruneOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.events[:0]

	var deleted int64

	for _, rec := range s.events {
		if rec.Time.Before(cutoff) {
			delete(s.keys, rec.DeviceID+"\x00"+rec.RawEventID)
			deleted++

			continue
		}

		kept = append(kept, rec)
	}

	s.events = kept

	return deleted, nil
}

// Events returns a copy of all stored events. Test-only helper.
func (s *AccessEventStore) Events() []store.AccessEventRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]store.AccessEventRecord, len(s.events))
	copy(out, s.events)

	return out
}
