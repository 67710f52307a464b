// Package relay decouples controller event handlers from slow sinks. The
// controller delivers events on its drive goroutine; a Relay queues them and
// hands them to the sink from its own goroutine, dropping when the queue is
// full so the drive loop never blocks on the network.
package relay

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/sweeney/e84-loadport/internal/loadport"
	"github.com/sweeney/e84-loadport/internal/logger"
)

// DefaultSize is the queue length used when New is given a size < 1.
const DefaultSize = 64

// Sink consumes relayed events. Errors are logged and the event discarded.
type Sink func(loadport.Event) error

// Relay is a bounded queue in front of a Sink.
type Relay struct {
	name  string
	sink  Sink
	log   logger.Logger
	queue chan loadport.Event
	done  chan struct{}

	mu     sync.RWMutex // guards closed against Handle
	closed bool

	delivered atomic.Uint64
	dropped   atomic.Uint64
	failed    atomic.Uint64
}

// New creates a Relay and starts its consumer goroutine.
func New(name string, size int, sink Sink, log logger.Logger) *Relay {
	if size < 1 {
		size = DefaultSize
	}
	r := &Relay{
		name:  name,
		sink:  sink,
		log:   log.With("component", "relay", "sink", name),
		queue: make(chan loadport.Event, size),
		done:  make(chan struct{}),
	}
	go r.run()
	return r
}

// Handle enqueues ev without blocking. It has the loadport.Handler
// signature so it can be passed to Controller.Subscribe.
func (r *Relay) Handle(ev loadport.Event) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return
	}
	select {
	case r.queue <- ev:
	default:
		if n := r.dropped.Add(1); n == 1 || n%100 == 0 {
			r.log.Warn("queue full, dropping event", "kind", ev.Kind, "dropped", n)
		}
	}
}

// Close stops accepting events and waits until the queued ones are
// delivered or ctx is done.
func (r *Relay) Close(ctx context.Context) error {
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		close(r.queue)
	}
	r.mu.Unlock()

	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stats returns delivered, dropped and failed counts.
func (r *Relay) Stats() (delivered, dropped, failed uint64) {
	return r.delivered.Load(), r.dropped.Load(), r.failed.Load()
}

func (r *Relay) run() {
	defer close(r.done)
	for ev := range r.queue {
		r.deliver(ev)
	}
	r.log.Debug("relay drained")
}

func (r *Relay) deliver(ev loadport.Event) {
	defer func() {
		if p := recover(); p != nil {
			r.failed.Add(1)
			r.log.Error("sink panicked", "kind", ev.Kind, "panic", p)
		}
	}()
	if err := r.sink(ev); err != nil {
		r.failed.Add(1)
		r.log.Warn("sink failed", "kind", ev.Kind, "error", err)
		return
	}
	r.delivered.Add(1)
}
