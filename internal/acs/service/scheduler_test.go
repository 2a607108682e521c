package service_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/BrandonDHaskell/Portunus/acsbridge/internal/acs/service"
	"github.com/BrandonDHaskell/Portunus/acsbridge/internal/acs/store/memory"
	"github.com/BrandonDHaskell/Portunus/acsbridge/internal/isapi"
)

// ── Scheduler ────────────────────────────────────────────────────────────────

func TestScheduler_RunsImmediatelyAndOnInterval(t *testing.T) {
	var runs atomic.Int32

	sched := service.NewScheduler(silentLogger(), service.Job{
		Name:     "count",
		Interval: 20 * time.Millisecond,
		Run: func(context.Context) error {
			runs.Add(1)
			return nil
		},
	})

	sched.Start(context.Background())

	deadline := time.Now().Add(2 * time.Second)
	for runs.Load() < 3 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	sched.Stop()

	if got := runs.Load(); got < 3 {
		t.Errorf("expected at least 3 runs, got %d", got)
	}

	stopped := runs.Load()
	time.Sleep(50 * time.Millisecond)

	if runs.Load() != stopped {
		t.Error("job ran after Stop")
	}
}

func TestScheduler_DisabledJobsAndIdempotentStop(t *testing.T) {
	var runs atomic.Int32

	sched := service.NewScheduler(silentLogger(), service.Job{
		Name: "disabled",
		Run: func(context.Context) error {
			runs.Add(1)
			return nil
		},
	})

	// Stop before Start returns immediately.
	sched.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	sched.Start(ctx)
	cancel()

	sched.Stop()
	sched.Stop()

	if runs.Load() != 0 {
		t.Errorf("disabled job ran %d times", runs.Load())
	}
}

// ── EventPruner ──────────────────────────────────────────────────────────────

func TestEventPruner_DisabledWhenRetentionZero(t *testing.T) {
	p := service.NewEventPruner(memory.NewAccessEventStore(), 0, silentLogger())

	if p.Enabled() {
		t.Error("expected pruner disabled")
	}

	if job := p.Job(time.Hour); job.Interval != 0 {
		t.Errorf("expected disabled job, got interval %s", job.Interval)
	}
}

func TestEventPruner_PrunesOldEvents(t *testing.T) {
	es := memory.NewAccessEventStore()
	ctx := context.Background()
	now := time.Now().UTC()

	if _, err := es.SaveEvents(ctx, "lobby", []isapi.AccessEvent{
		{RawEventID: "old", Time: now.AddDate(0, 0, -40)},
		{RawEventID: "recent", Time: now.AddDate(0, 0, -1)},
	}, now); err != nil {
		t.Fatalf("SaveEvents: %v", err)
	}

	p := service.NewEventPruner(es, 30, silentLogger())

	deleted, err := p.Prune(ctx)
	if err != nil {
		t.Fatalf("Prune: %v", err)
	}

	if deleted != 1 {
		t.Errorf("expected 1 pruned, got %d", deleted)
	}

	left := es.Events()
	if len(left) != 1 || left[0].RawEventID != "recent" {
		t.Errorf("unexpected survivors: %+v", left)
	}
}
