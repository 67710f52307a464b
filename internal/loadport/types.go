// Package loadport implements the E84 load-port handshake controller: the
// debounced input sampler, the timeout manager, the handshake state machine
// and the drive loop that runs them against two signal banks.
//
// All bank I/O and state mutation happen on a single drive goroutine.
// Subscribers observe the controller through events and Status snapshots.
package loadport

import (
	"encoding/json"
	"sort"
	"time"

	"github.com/sweeney/e84-loadport/internal/gpio"
)

// State is the handshake state.
type State string

const (
	StateIdle      State = "idle"
	StateWaitTrReq State = "wait_tr_req"
	StateWaitBusy  State = "wait_busy"
	StateWaitLReq  State = "wait_l_req"
	StateWaitUReq  State = "wait_u_req"
	StateWaitCompt State = "wait_compt"
	StateWaitDone  State = "wait_done"
)

// States lists every handshake state in handshake order.
var States = []State{
	StateIdle,
	StateWaitTrReq,
	StateWaitBusy,
	StateWaitLReq,
	StateWaitUReq,
	StateWaitCompt,
	StateWaitDone,
}

// EventKind identifies the type of an Event.
type EventKind string

const (
	EventStateChanged        EventKind = "state_changed"
	EventWarning             EventKind = "warning"
	EventFatalError          EventKind = "fatal_error"
	EventAllKeysSet          EventKind = "all_keys_set"
	EventDataCollectionStart EventKind = "data_collection_start"
	EventDataCollectionStop  EventKind = "data_collection_stop"
)

// Reason qualifies an event. Warnings carry the abort cause; the
// StateChanged that returns a finished transfer to idle carries
// ReasonCompleted.
type Reason string

const (
	ReasonTimeout     Reason = "timeout"
	ReasonInterrupted Reason = "interrupted"
	ReasonCompleted   Reason = "completed"
)

// Event is a notification emitted by the controller. State is the handshake
// state at the time the event was produced; Message carries the warning or
// fault text.
type Event struct {
	Kind    EventKind `json:"kind"`
	State   State     `json:"state"`
	Reason  Reason    `json:"reason,omitempty"`
	Message string    `json:"message,omitempty"`
	Time    time.Time `json:"time"`
}

// Inputs is an immutable snapshot of the handshake input levels, taken once
// per cycle. true means asserted.
type Inputs struct {
	levels map[gpio.PinName]bool
}

// NewInputs copies levels into a snapshot.
func NewInputs(levels map[gpio.PinName]bool) Inputs {
	cp := make(map[gpio.PinName]bool, len(levels))
	for name, on := range levels {
		cp[name] = on
	}
	return Inputs{levels: cp}
}

// On reports whether the named input is asserted. Unknown names read as
// de-asserted.
func (in Inputs) On(name gpio.PinName) bool {
	return in.levels[name]
}

// Map returns a copy of the snapshot.
func (in Inputs) Map() map[gpio.PinName]bool {
	cp := make(map[gpio.PinName]bool, len(in.levels))
	for name, on := range in.levels {
		cp[name] = on
	}
	return cp
}

// Names returns the input names in the snapshot, sorted.
func (in Inputs) Names() []gpio.PinName {
	names := make([]gpio.PinName, 0, len(in.levels))
	for name := range in.levels {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })
	return names
}

// MarshalJSON renders the snapshot as a name → level object.
func (in Inputs) MarshalJSON() ([]byte, error) {
	if in.levels == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(in.levels)
}

// Keys holds the settled levels of KEY_0, KEY_1 and KEY_2.
type Keys [3]bool

// Any reports whether at least one key is set, i.e. a FOUP is present.
func (k Keys) Any() bool { return k[0] || k[1] || k[2] }

// All reports whether all three keys are set.
func (k Keys) All() bool { return k[0] && k[1] && k[2] }

// Count returns the number of keys set.
func (k Keys) Count() int {
	n := 0
	for _, on := range k {
		if on {
			n++
		}
	}
	return n
}

func keysFrom(levels map[gpio.PinName]bool) Keys {
	var k Keys
	for i, name := range gpio.KeyInputs {
		k[i] = levels[name]
	}
	return k
}

// Status is a point-in-time diagnostic snapshot of the controller.
type Status struct {
	Running     bool      `json:"running"`
	State       State     `json:"state"`
	FoupPresent bool      `json:"foup_present"`
	Inputs      Inputs    `json:"inputs"`
	Keys        Keys      `json:"keys"`
	KeysAllSet  bool      `json:"keys_all_set"`
	Updated     time.Time `json:"updated"`
}
