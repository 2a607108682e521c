package store

import (
	"context"
	"errors"
	"time"

	"github.com/BrandonDHaskell/Portunus/acsbridge/internal/isapi"
)

var ErrDeviceNotFound = errors.New("device not found")

// DeviceRecord is the persisted view of a configured device. Credentials are
// never stored.
type DeviceRecord struct {
	DeviceID string `json:"deviceId"`
	Name     string `json:"name"`
	BaseURL  string `json:"baseUrl"`
	Enabled  bool   `json:"enabled"`

	// LastHealth is nil until the first probe.
	LastHealth    *isapi.HealthStatus `json:"lastHealth,omitempty"`
	LastCheckedAt time.Time           `json:"lastCheckedAt"`
}

type DeviceStore interface {
	// UpsertDevice creates or refreshes the descriptor fields. Health fields
	// are left untouched.
	UpsertDevice(ctx context.Context, rec DeviceRecord) error
	GetDevice(ctx context.Context, deviceID string) (DeviceRecord, error)
	ListDevices(ctx context.Context) ([]DeviceRecord, error)
	RecordHealth(ctx context.Context, deviceID string, st isapi.HealthStatus, at time.Time) error
}
