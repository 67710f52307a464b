package mqtt

import (
	"sync"

	"github.com/sweeney/e84-loadport/internal/loadport"
)

// FakePublisher records published events for test assertions. Fields may be
// read directly once publishing goroutines have finished.
type FakePublisher struct {
	mu sync.Mutex

	// Events contains all controller events that were published.
	Events []loadport.Event

	// Payloads contains the JSON payloads that were published.
	Payloads [][]byte

	// Acquisitions contains the acquisition commands, in order.
	Acquisitions []string

	// SystemEvents contains all system events that were published.
	SystemEvents []SystemEvent

	// SystemPayloads contains the JSON payloads for system events.
	SystemPayloads [][]byte

	// PublishError, if set, will be returned by Publish.
	PublishError error

	// PublishSystemError, if set, will be returned by PublishSystem.
	PublishSystemError error

	// Closed tracks if Close was called.
	Closed bool

	// Connected controls the return value of IsConnected.
	Connected bool
}

// NewFakePublisher creates a FakePublisher for testing.
func NewFakePublisher() *FakePublisher {
	return &FakePublisher{}
}

// Publish records the controller event and its acquisition command.
func (f *FakePublisher) Publish(event loadport.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.PublishError != nil {
		return f.PublishError
	}

	payload, err := FormatPayload(event)
	if err != nil {
		return err
	}
	f.Events = append(f.Events, event)
	f.Payloads = append(f.Payloads, payload)

	if cmd, ok := AcquisitionCommand(event.Kind); ok {
		f.Acquisitions = append(f.Acquisitions, cmd)
	}
	return nil
}

// PublishSystem records the system event.
func (f *FakePublisher) PublishSystem(event SystemEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.PublishSystemError != nil {
		return f.PublishSystemError
	}

	payload, err := FormatSystemPayload(event)
	if err != nil {
		return err
	}
	f.SystemEvents = append(f.SystemEvents, event)
	f.SystemPayloads = append(f.SystemPayloads, payload)
	return nil
}

// Close marks the publisher as closed.
func (f *FakePublisher) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Closed = true
	return nil
}

// IsConnected reports whether the fake publisher is "connected".
func (f *FakePublisher) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Connected
}

// EventKinds returns the kinds of the published controller events.
func (f *FakePublisher) EventKinds() []loadport.EventKind {
	f.mu.Lock()
	defer f.mu.Unlock()
	kinds := make([]loadport.EventKind, 0, len(f.Events))
	for _, ev := range f.Events {
		kinds = append(kinds, ev.Kind)
	}
	return kinds
}

// SystemEventNames returns the names of the published system events.
func (f *FakePublisher) SystemEventNames() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	names := make([]string, 0, len(f.SystemEvents))
	for _, ev := range f.SystemEvents {
		names = append(names, ev.Event)
	}
	return names
}

// Reset clears recorded events.
func (f *FakePublisher) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Events = nil
	f.Payloads = nil
	f.Acquisitions = nil
	f.SystemEvents = nil
	f.SystemPayloads = nil
	f.Closed = false
	f.PublishError = nil
	f.PublishSystemError = nil
	f.Connected = false
}

var (
	_ Publisher        = (*FakePublisher)(nil)
	_ ConnectionStatus = (*FakePublisher)(nil)
)
