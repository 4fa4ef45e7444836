// Package scheduler runs a task on a fixed cadence for the lifetime of a
// process. The scheduler owns the timer; each run owns its own context and
// whatever resources the task opens, so a failing run cannot stop the loop.
package scheduler

import (
	"context"
	"runtime/debug"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/robertarktes/vehicle-rentals/internal/observability"
)

// Task is one unit of recurring work.
type Task func(ctx context.Context) error

type Scheduler struct {
	name         string
	task         Task
	interval     time.Duration
	initialDelay time.Duration
	logger       observability.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	running bool
}

func New(name string, task Task, interval, initialDelay time.Duration, logger observability.Logger) *Scheduler {
	return &Scheduler{
		name:         name,
		task:         task,
		interval:     interval,
		initialDelay: initialDelay,
		logger:       logger.WithField("scheduler", name),
	}
}

// Start launches the loop in the background. It is a no-op if the loop is
// already running.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	s.running = true

	go func() {
		defer close(s.done)
		s.Run(ctx)
	}()
}

// Stop prevents further runs and waits for an in-flight run to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	cancel, done := s.cancel, s.done
	s.running = false
	s.mu.Unlock()

	cancel()
	<-done
}

// Run blocks until ctx is cancelled. The first run happens after the
// initial delay; the next one is scheduled only once the previous run has
// returned, so runs never overlap.
func (s *Scheduler) Run(ctx context.Context) {
	s.logger.WithFields(map[string]interface{}{
		"interval":      s.interval.String(),
		"initial_delay": s.initialDelay.String(),
	}).Info("scheduler started")

	timer := time.NewTimer(s.initialDelay)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopped")
			return
		case <-timer.C:
			s.RunOnce(ctx)
			timer.Reset(s.interval)
		}
	}
}

// RunOnce executes the task a single time. The task runs on a context that
// keeps ctx's values but not its cancellation, so stopping the scheduler
// does not abort a run that is already committing.
func (s *Scheduler) RunOnce(ctx context.Context) {
	if err := s.safeRun(context.WithoutCancel(ctx)); err != nil {
		s.logger.WithError(err).Error("scheduled run failed")
	}
}

func (s *Scheduler) safeRun(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Newf("panic in %s: %v", s.name, r)
			s.logger.WithField("stack", string(debug.Stack())).Error("recovered panic in scheduled run")
		}
	}()
	return s.task(ctx)
}
