package service_test

import (
	"context"
	"errors"
	"testing"

	"github.com/BrandonDHaskell/Portunus/acsbridge/internal/acs/service"
	"github.com/BrandonDHaskell/Portunus/acsbridge/internal/isapi"
	"github.com/BrandonDHaskell/Portunus/acsbridge/internal/isapi/isapitest"
)

func TestHealthMonitor_CheckDevice_RecordsAndPublishes(t *testing.T) {
	term := isapitest.New(t)
	reg, ds := newTestRegistry(t, map[string]*isapitest.Terminal{"lobby": term})
	pub := newFakePublisher()
	mon := service.NewHealthMonitor(reg, ds, pub, 0, silentLogger())
	ctx := context.Background()

	st, err := mon.CheckDevice(ctx, "lobby")
	if err != nil {
		t.Fatalf("CheckDevice: %v", err)
	}

	if !st.OK {
		t.Fatalf("expected healthy, got %+v", st)
	}

	if ok, seen := pub.get("lobby"); !seen || !ok {
		t.Errorf("expected published healthy, got ok=%v seen=%v", ok, seen)
	}

	rec, err := ds.GetDevice(ctx, "lobby")
	if err != nil {
		t.Fatalf("GetDevice: %v", err)
	}

	if rec.LastHealth == nil || !rec.LastHealth.OK || rec.LastCheckedAt.IsZero() {
		t.Errorf("health not recorded: %+v", rec)
	}

	if term.EventRequestCount() != 1 {
		t.Errorf("expected one probe request, got %d", term.EventRequestCount())
	}
}

func TestHealthMonitor_CheckAll(t *testing.T) {
	good := isapitest.New(t)
	bad := isapitest.New(t)
	bad.SetRejectAuth(true)

	reg, ds := newTestRegistry(t, map[string]*isapitest.Terminal{"good": good, "bad": bad})
	pub := newFakePublisher()
	mon := service.NewHealthMonitor(reg, ds, pub, 2, silentLogger())

	results := mon.CheckAll(context.Background())
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}

	if !results["good"].OK {
		t.Errorf("expected good healthy, got %+v", results["good"])
	}

	if results["bad"].OK || results["bad"].Reason != isapi.ReasonAuthenticationFailed {
		t.Errorf("expected bad auth failure, got %+v", results["bad"])
	}

	if ok, seen := pub.get("bad"); !seen || ok {
		t.Errorf("expected published not serving for bad, got ok=%v seen=%v", ok, seen)
	}
}

func TestHealthMonitor_UnknownDevice(t *testing.T) {
	reg, ds := newTestRegistry(t, nil)
	mon := service.NewHealthMonitor(reg, ds, nil, 1, silentLogger())

	if _, err := mon.CheckDevice(context.Background(), "ghost"); !errors.Is(err, service.ErrUnknownDevice) {
		t.Errorf("expected ErrUnknownDevice, got %v", err)
	}
}
