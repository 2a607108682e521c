package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/BrandonDHaskell/Portunus/acsbridge/internal/acs/store"
	"github.com/BrandonDHaskell/Portunus/acsbridge/internal/isapi"
)

type DeviceStore struct {
	mu      sync.RWMutex
	devices map[string]store.DeviceRecord
}

func NewDeviceStore() *DeviceStore {
	return &DeviceStore{devices: make(map[string]store.DeviceRecord)}
}

func (s *DeviceStore) UpsertDevice(_ context.Context, rec store.DeviceRecord) error {
	rec.DeviceID = strings.TrimSpace(rec.DeviceID)
	if rec.DeviceID == "" {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if prev, ok := s.devices[rec.DeviceID]; ok {
		rec.LastHealth = prev.LastHealth
		rec.LastCheckedAt = prev.LastCheckedAt
	}

	s.devices[rec.DeviceID] = rec

	return nil
}

func (s *DeviceStore) GetDevice(_ context.Context, deviceID string) (store.DeviceRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.devices[deviceID]
	if !ok {
		return store.DeviceRecord{}, store.ErrDeviceNotFound
	}

	return rec, nil
}

func (s *DeviceStore) ListDevices(_ context.Context) ([]store.DeviceRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]store.DeviceRecord, 0, len(s.devices))
	for _, rec := range s.devices {
		out = append(out, rec)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].DeviceID < out[j].DeviceID })

	return out, nil
}

func (s *DeviceStore) RecordHealth(_ context.Context, deviceID string, st isapi.HealthStatus, at time.Time) error {
	if at.IsZero() {
		at = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.devices[deviceID]
	if !ok {
		rec = store.DeviceRecord{DeviceID: deviceID, Enabled: true}
	}

	rec.LastHealth = &st
	rec.LastCheckedAt = at
	s.devices[deviceID] = rec

	return nil
}
