package store

import (
	"context"
	"time"

	"github.com/BrandonDHaskell/Portunus/acsbridge/internal/isapi"
)

// AccessEventRecord is one device event as persisted by the bridge.
type AccessEventRecord struct {
	DeviceID   string    `json:"deviceId"`
	ReceivedAt time.Time `json:"receivedAt"`
	isapi.AccessEvent
}

// EventQuery filters ListEvents. Zero values mean "no bound".
type EventQuery struct {
	DeviceID string
	Since    time.Time
	Until    time.Time
	Limit    int
}

// AccessEventStore persists polled events. (device_id, raw_event_id) is
// unique, so re-saving an overlapping page is harmless.
type AccessEventStore interface {
	// SaveEvents inserts events not already stored and returns how many
	// were new.
	SaveEvents(ctx context.Context, deviceID string, events []isapi.AccessEvent, receivedAt time.Time) (int, error)
	// ListEvents returns matches ordered by event time, oldest first.
	ListEvents(ctx context.Context, q EventQuery) ([]AccessEventRecord, error)
	PruneOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

const DefaultEventLimit = 500
