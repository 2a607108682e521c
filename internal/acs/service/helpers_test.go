package service_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/BrandonDHaskell/Portunus/acsbridge/internal/acs/service"
	"github.com/BrandonDHaskell/Portunus/acsbridge/internal/acs/store/memory"
	"github.com/BrandonDHaskell/Portunus/acsbridge/internal/isapi"
	"github.com/BrandonDHaskell/Portunus/acsbridge/internal/isapi/isapitest"
)

func silentLogger() zerolog.Logger {
	return zerolog.Nop()
}

// newTestRegistry registers one terminal per ID against an in-memory device
// store.
func newTestRegistry(t *testing.T, terms map[string]*isapitest.Terminal) (*service.DeviceRegistry, *memory.DeviceStore) {
	t.Helper()

	ds := memory.NewDeviceStore()
	reg := service.NewDeviceRegistry(ds, isapi.ClientConfig{}, silentLogger())

	for id, term := range terms {
		if err := reg.Register(context.Background(), service.DeviceSpec{ID: id, Name: id, Device: term.Device()}); err != nil {
			t.Fatalf("Register %s: %v", id, err)
		}
	}

	return reg, ds
}

// recentEvents returns n fingerprint events a minute apart, ending
// five minutes ago, with serials starting at 1.
func recentEvents(n int) []isapitest.Event {
	end := time.Now().UTC().Add(-5 * time.Minute).Truncate(time.Second)

	evs := make([]isapitest.Event, 0, n)
	for i := 0; i < n; i++ {
		evs = append(evs, isapitest.Event{
			SerialNo:   int64(i + 1),
			Major:      isapi.MajorEvent,
			Minor:      isapi.MinorFingerprintVerify,
			EmployeeNo: "1001",
			Time:       end.Add(-time.Duration(n-1-i) * time.Minute),
		})
	}

	return evs
}

type fakePublisher struct {
	mu     sync.Mutex
	status map[string]bool
}

func newFakePublisher() *fakePublisher {
	return &fakePublisher{status: make(map[string]bool)}
}

func (p *fakePublisher) SetDeviceHealth(deviceID string, ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.status[deviceID] = ok
}

func (p *fakePublisher) get(deviceID string) (bool, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	ok, seen := p.status[deviceID]

	return ok, seen
}
