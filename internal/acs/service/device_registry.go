package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/BrandonDHaskell/Portunus/acsbridge/internal/acs/store"
	"github.com/BrandonDHaskell/Portunus/acsbridge/internal/isapi"
)

var (
	ErrInvalidDeviceID = errors.New("device_id is required")
	ErrUnknownDevice   = errors.New("unknown device")
	ErrDuplicateDevice = errors.New("device already registered")
)

// DeviceSpec is one configured terminal.
type DeviceSpec struct {
	ID     string
	Name   string
	Device isapi.Device
}

// DeviceRegistry owns one isapi.Client per configured device. Registration
// happens at startup; lookups are safe for concurrent use afterwards.
type DeviceRegistry struct {
	store     store.DeviceStore
	clientCfg isapi.ClientConfig
	log       zerolog.Logger

	mu      sync.RWMutex
	clients map[string]*isapi.Client
}

func NewDeviceRegistry(st store.DeviceStore, cfg isapi.ClientConfig, log zerolog.Logger) *DeviceRegistry {
	return &DeviceRegistry{
		store:     st,
		clientCfg: cfg,
		log:       log,
		clients:   make(map[string]*isapi.Client),
	}
}

// Register builds the device's client and writes its descriptor to the store.
func (r *DeviceRegistry) Register(ctx context.Context, spec DeviceSpec) error {
	id := strings.TrimSpace(spec.ID)
	if id == "" {
		return ErrInvalidDeviceID
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, dup := r.clients[id]; dup {
		return fmt.Errorf("%w: %s", ErrDuplicateDevice, id)
	}

	name := strings.TrimSpace(spec.Name)
	if name == "" {
		name = id
	}

	rec := store.DeviceRecord{
		DeviceID: id,
		Name:     name,
		BaseURL:  spec.Device.BaseURL(),
		Enabled:  true,
	}
	if err := r.store.UpsertDevice(ctx, rec); err != nil {
		return fmt.Errorf("register device %s: %w", id, err)
	}

	devLog := r.log.With().Str("device_id", id).Logger()

	cfg := r.clientCfg
	cfg.Logger = &devLog

	r.clients[id] = isapi.NewClient(spec.Device, cfg)

	devLog.Info().Str("base_url", rec.BaseURL).Msg("device registered")

	return nil
}

func (r *DeviceRegistry) Client(deviceID string) (*isapi.Client, error) {
	id := strings.TrimSpace(deviceID)
	if id == "" {
		return nil, ErrInvalidDeviceID
	}

	r.mu.RLock()
	c, ok := r.clients[id]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownDevice, id)
	}

	return c, nil
}

// IDs returns registered device IDs in sorted order.
func (r *DeviceRegistry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.clients))
	for id := range r.clients {
		ids = append(ids, id)
	}

	sort.Strings(ids)

	return ids
}

func (r *DeviceRegistry) Devices(ctx context.Context) ([]store.DeviceRecord, error) {
	return r.store.ListDevices(ctx)
}

func (r *DeviceRegistry) Device(ctx context.Context, deviceID string) (store.DeviceRecord, error) {
	if _, err := r.Client(deviceID); err != nil {
		return store.DeviceRecord{}, err
	}

	return r.store.GetDevice(ctx, strings.TrimSpace(deviceID))
}
