package loadport

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/sweeney/e84-loadport/internal/gpio"
	"github.com/sweeney/e84-loadport/internal/logger"
)

var epoch = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock { return &fakeClock{t: epoch} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// sleepRecorder is a SleepFunc that returns immediately unless ctx is done.
type sleepRecorder struct {
	mu    sync.Mutex
	calls []time.Duration
}

func (s *sleepRecorder) Sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.calls = append(s.calls, d)
	s.mu.Unlock()
	return ctx.Err()
}

func (s *sleepRecorder) Calls() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.calls...)
}

func quietLogger() logger.Logger {
	return logger.NewSlogWriter(io.Discard, logger.DebugLevel, false, false)
}

// on returns a snapshot with the named inputs asserted and the rest low.
func on(names ...gpio.PinName) Inputs {
	levels := make(map[gpio.PinName]bool, len(gpio.SignalInputs))
	for _, name := range gpio.SignalInputs {
		levels[name] = false
	}
	for _, name := range names {
		levels[name] = true
	}
	return NewInputs(levels)
}

func kinds(events []Event) []EventKind {
	out := make([]EventKind, 0, len(events))
	for _, ev := range events {
		out = append(out, ev.Kind)
	}
	return out
}

func hasKind(events []Event, kind EventKind) bool {
	for _, ev := range events {
		if ev.Kind == kind {
			return true
		}
	}
	return false
}
