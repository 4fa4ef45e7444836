package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/robertarktes/vehicle-rentals/internal/observability"
	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLogger(t *testing.T) (observability.Logger, *logtest.Hook) {
	t.Helper()
	log, hook := logtest.NewNullLogger()
	return observability.NewLogrusLogger(log), hook
}

func TestScheduler_FiresImmediatelyThenPeriodically(t *testing.T) {
	log, _ := newTestLogger(t)
	var calls atomic.Int32

	s := New("test", func(ctx context.Context) error {
		calls.Add(1)
		return nil
	}, 30*time.Millisecond, 0, log)

	ctx, cancel := context.WithTimeout(context.Background(), 110*time.Millisecond)
	defer cancel()
	s.Run(ctx)

	assert.GreaterOrEqual(t, calls.Load(), int32(3))
}

func TestScheduler_RespectsInitialDelay(t *testing.T) {
	log, _ := newTestLogger(t)
	var calls atomic.Int32

	s := New("test", func(ctx context.Context) error {
		calls.Add(1)
		return nil
	}, time.Hour, time.Hour, log)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	s.Run(ctx)

	assert.Equal(t, int32(0), calls.Load())
}

func TestScheduler_ErrorsAndPanicsDoNotStopLoop(t *testing.T) {
	log, hook := newTestLogger(t)
	var calls atomic.Int32

	s := New("test", func(ctx context.Context) error {
		n := calls.Add(1)
		switch n {
		case 1:
			return errors.New("store unavailable")
		case 2:
			panic("boom")
		}
		return nil
	}, 20*time.Millisecond, 0, log)

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()
	s.Run(ctx)

	assert.GreaterOrEqual(t, calls.Load(), int32(3))

	var errorEntries int
	for _, e := range hook.AllEntries() {
		if e.Level == logrus.ErrorLevel {
			errorEntries++
		}
	}
	assert.GreaterOrEqual(t, errorEntries, 2)
}

func TestScheduler_RunsNeverOverlap(t *testing.T) {
	log, _ := newTestLogger(t)
	var inFlight, maxInFlight atomic.Int32

	s := New("test", func(ctx context.Context) error {
		n := inFlight.Add(1)
		for {
			m := maxInFlight.Load()
			if n <= m || maxInFlight.CompareAndSwap(m, n) {
				break
			}
		}
		time.Sleep(25 * time.Millisecond)
		inFlight.Add(-1)
		return nil
	}, time.Millisecond, 0, log)

	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Millisecond)
	defer cancel()
	s.Run(ctx)

	assert.Equal(t, int32(1), maxInFlight.Load())
}

func TestScheduler_StopWaitsForInFlightRun(t *testing.T) {
	log, _ := newTestLogger(t)
	started := make(chan struct{})
	var finished, sawCancel atomic.Bool

	s := New("test", func(ctx context.Context) error {
		close(started)
		time.Sleep(50 * time.Millisecond)
		if ctx.Err() != nil {
			sawCancel.Store(true)
		}
		finished.Store(true)
		return nil
	}, time.Hour, 0, log)

	s.Start(context.Background())
	<-started
	s.Stop()

	assert.True(t, finished.Load(), "stop returned before the run finished")
	assert.False(t, sawCancel.Load(), "in-flight run observed cancellation")
}

func TestScheduler_StopBeforeStartIsNoop(t *testing.T) {
	log, _ := newTestLogger(t)
	s := New("test", func(ctx context.Context) error { return nil }, time.Hour, time.Hour, log)
	s.Stop()

	s.Start(context.Background())
	s.Start(context.Background())

	done := make(chan struct{})
	go func() {
		s.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		require.FailNow(t, "scheduler did not stop")
	}
}
