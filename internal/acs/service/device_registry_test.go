package service_test

import (
	"context"
	"errors"
	"testing"

	"github.com/BrandonDHaskell/Portunus/acsbridge/internal/acs/service"
	"github.com/BrandonDHaskell/Portunus/acsbridge/internal/acs/store/memory"
	"github.com/BrandonDHaskell/Portunus/acsbridge/internal/isapi"
	"github.com/BrandonDHaskell/Portunus/acsbridge/internal/isapi/isapitest"
)

func TestDeviceRegistry_RegisterWritesStoreRecord(t *testing.T) {
	term := isapitest.New(t)
	reg, ds := newTestRegistry(t, map[string]*isapitest.Terminal{"lobby": term, "dock": isapitest.New(t)})

	rec, err := ds.GetDevice(context.Background(), "lobby")
	if err != nil {
		t.Fatalf("GetDevice: %v", err)
	}

	if rec.BaseURL != term.Device().BaseURL() || !rec.Enabled || rec.Name != "lobby" {
		t.Errorf("unexpected record: %+v", rec)
	}

	ids := reg.IDs()
	if len(ids) != 2 || ids[0] != "dock" || ids[1] != "lobby" {
		t.Errorf("expected sorted IDs [dock lobby], got %v", ids)
	}

	if _, err := reg.Client(" lobby "); err != nil {
		t.Errorf("expected trimmed lookup to succeed: %v", err)
	}
}

func TestDeviceRegistry_Errors(t *testing.T) {
	reg := service.NewDeviceRegistry(memory.NewDeviceStore(), isapi.ClientConfig{}, silentLogger())
	ctx := context.Background()
	dev := isapitest.New(t).Device()

	if err := reg.Register(ctx, service.DeviceSpec{ID: "  ", Device: dev}); !errors.Is(err, service.ErrInvalidDeviceID) {
		t.Errorf("expected ErrInvalidDeviceID, got %v", err)
	}

	if err := reg.Register(ctx, service.DeviceSpec{ID: "lobby", Device: dev}); err != nil {
		t.Fatalf("Register: %v", err)
	}

	if err := reg.Register(ctx, service.DeviceSpec{ID: "lobby", Device: dev}); !errors.Is(err, service.ErrDuplicateDevice) {
		t.Errorf("expected ErrDuplicateDevice, got %v", err)
	}

	if _, err := reg.Client("ghost"); !errors.Is(err, service.ErrUnknownDevice) {
		t.Errorf("expected ErrUnknownDevice, got %v", err)
	}

	if _, err := reg.Device(ctx, "ghost"); !errors.Is(err, service.ErrUnknownDevice) {
		t.Errorf("expected ErrUnknownDevice from Device, got %v", err)
	}
}
