package store

import (
	"context"
	"time"
)

// SyncCursor records how far event sync has progressed for one device.
type SyncCursor struct {
	DeviceID string `json:"deviceId"`

	// LastEventAt is the newest persisted event time. The next poll starts
	// here (inclusive); the unique event key absorbs the overlap.
	LastEventAt time.Time `json:"lastEventAt"`

	LastRunID string    `json:"lastRunId"`
	LastRunAt time.Time `json:"lastRunAt"`
	LastError string    `json:"lastError,omitempty"`
}

type CursorStore interface {
	// GetCursor reports false when the device has never been synced.
	GetCursor(ctx context.Context, deviceID string) (SyncCursor, bool, error)
	SaveCursor(ctx context.Context, c SyncCursor) error
}
