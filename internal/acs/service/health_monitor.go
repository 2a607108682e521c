package service

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/BrandonDHaskell/Portunus/acsbridge/internal/acs/store"
	"github.com/BrandonDHaskell/Portunus/acsbridge/internal/isapi"
)

// HealthPublisher receives every probe outcome, e.g. a gRPC health server.
type HealthPublisher interface {
	SetDeviceHealth(deviceID string, ok bool)
}

// HealthMonitor probes devices, records the outcome and publishes it.
type HealthMonitor struct {
	registry    *DeviceRegistry
	store       store.DeviceStore
	publisher   HealthPublisher
	concurrency int
	log         zerolog.Logger

	mu   sync.Mutex
	last map[string]isapi.HealthStatus
}

// NewHealthMonitor creates a monitor. pub may be nil.
func NewHealthMonitor(reg *DeviceRegistry, st store.DeviceStore, pub HealthPublisher, concurrency int, log zerolog.Logger) *HealthMonitor {
	if concurrency <= 0 {
		concurrency = 4
	}

	return &HealthMonitor{
		registry:    reg,
		store:       st,
		publisher:   pub,
		concurrency: concurrency,
		log:         log,
		last:        make(map[string]isapi.HealthStatus),
	}
}

// CheckDevice probes one device. The only errors are an unknown device and
// a failure to persist the result; an unhealthy device is a normal status.
func (m *HealthMonitor) CheckDevice(ctx context.Context, deviceID string) (isapi.HealthStatus, error) {
	client, err := m.registry.Client(deviceID)
	if err != nil {
		return isapi.HealthStatus{}, err
	}

	st := client.Prober.TestConnection(ctx)
	m.noteTransition(deviceID, st)

	if m.publisher != nil {
		m.publisher.SetDeviceHealth(deviceID, st.OK)
	}

	if err := m.store.RecordHealth(ctx, deviceID, st, time.Now().UTC()); err != nil {
		return st, err
	}

	return st, nil
}

// CheckAll probes every registered device.
func (m *HealthMonitor) CheckAll(ctx context.Context) map[string]isapi.HealthStatus {
	ids := m.registry.IDs()
	results := make([]isapi.HealthStatus, len(ids))

	var g errgroup.Group
	g.SetLimit(m.concurrency)

	for i, id := range ids {
		g.Go(func() error {
			st, err := m.CheckDevice(ctx, id)
			if err != nil {
				m.log.Error().Err(err).Str("device_id", id).Msg("record device health")
			}

			results[i] = st

			return nil
		})
	}

	_ = g.Wait()

	out := make(map[string]isapi.HealthStatus, len(ids))
	for i, id := range ids {
		out[id] = results[i]
	}

	return out
}

func (m *HealthMonitor) Job(interval time.Duration) Job {
	return Job{
		Name:     "health_check",
		Interval: interval,
		Run: func(ctx context.Context) error {
			m.CheckAll(ctx)
			return nil
		},
	}
}

// noteTransition logs only when a device changes state.
func (m *HealthMonitor) noteTransition(deviceID string, st isapi.HealthStatus) {
	m.mu.Lock()
	prev, seen := m.last[deviceID]
	m.last[deviceID] = st
	m.mu.Unlock()

	if seen && prev == st {
		return
	}

	switch {
	case st.OK:
		m.log.Info().Str("device_id", deviceID).Msg("device healthy")
	default:
		m.log.Warn().Str("device_id", deviceID).Str("reason", st.Reason).Msg("device unhealthy")
	}
}
