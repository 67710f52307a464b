package loadport

import (
	"sync/atomic"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/sweeney/e84-loadport/internal/logger"
)

// Handler receives controller events. Handlers run on the drive goroutine
// and must not block or call Start, Stop or Reset.
type Handler func(Event)

// Emitter delivers events to subscribed handlers.
type Emitter struct {
	handlers *xsync.MapOf[uint64, Handler]
	nextID   atomic.Uint64
	log      logger.Logger
}

// NewEmitter creates an Emitter with no subscribers.
func NewEmitter(log logger.Logger) *Emitter {
	return &Emitter{
		handlers: xsync.NewMapOf[uint64, Handler](),
		log:      log.With("component", "emitter"),
	}
}

// Subscribe registers h and returns a function that removes it. The returned
// function is safe to call more than once.
func (e *Emitter) Subscribe(h Handler) (unsubscribe func()) {
	id := e.nextID.Add(1)
	e.handlers.Store(id, h)
	return func() { e.handlers.Delete(id) }
}

// Len returns the number of subscribers.
func (e *Emitter) Len() int { return e.handlers.Size() }

// Emit delivers ev to every subscriber. A panicking handler is logged and
// does not affect the others.
func (e *Emitter) Emit(ev Event) {
	e.handlers.Range(func(id uint64, h Handler) bool {
		e.deliver(id, h, ev)
		return true
	})
}

func (e *Emitter) deliver(id uint64, h Handler, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Error("event handler panicked", "subscriber", id, "kind", ev.Kind, "panic", r)
		}
	}()
	h(ev)
}
