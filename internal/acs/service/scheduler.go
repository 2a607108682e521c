package service

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Job is a periodic task. A zero Interval disables it.
type Job struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context) error
}

// Scheduler runs each job immediately on Start and then on its interval,
// until the context is cancelled or Stop is called. A slow run delays the
// next tick of the same job only.
type Scheduler struct {
	jobs []Job
	log  zerolog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func NewScheduler(log zerolog.Logger, jobs ...Job) *Scheduler {
	return &Scheduler{jobs: jobs, log: log}
}

// Start launches the job loops. Calling Start twice is a no-op.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.done != nil {
		return
	}

	s.done = make(chan struct{})
	ctx, s.cancel = context.WithCancel(ctx)

	var g errgroup.Group

	for _, job := range s.jobs {
		if job.Interval <= 0 || job.Run == nil {
			s.log.Info().Str("job", job.Name).Msg("job disabled")
			continue
		}

		g.Go(func() error {
			s.loop(ctx, job)
			return nil
		})

		s.log.Info().Str("job", job.Name).Dur("interval", job.Interval).Msg("job started")
	}

	go func() {
		_ = g.Wait()
		close(s.done)
	}()
}

// Stop signals every job to exit and waits for them. Safe to call more than
// once, and before Start.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.mu.Unlock()

	if cancel == nil {
		return
	}

	cancel()
	<-done
}

func (s *Scheduler) loop(ctx context.Context, job Job) {
	s.run(ctx, job)

	ticker := time.NewTicker(job.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.run(ctx, job)
		}
	}
}

func (s *Scheduler) run(ctx context.Context, job Job) {
	start := time.Now()

	if err := job.Run(ctx); err != nil {
		if ctx.Err() != nil {
			return
		}

		s.log.Warn().Err(err).Str("job", job.Name).Dur("took", time.Since(start)).Msg("job run failed")

		return
	}

	s.log.Debug().Str("job", job.Name).Dur("took", time.Since(start)).Msg("job run complete")
}
