package gpio

import (
	"fmt"
	"sync"
)

// Write records one SetOutput call on a Fake.
type Write struct {
	Name PinName
	On   bool
}

// Fake is an in-memory Bank for tests and simulation. It is safe for
// concurrent use: tests drive inputs from their own goroutine while the
// controller's drive loop reads them.
type Fake struct {
	mu sync.Mutex

	inNames  []PinName
	outNames []PinName

	levels  map[PinName]bool
	outputs map[PinName]bool
	writes  []Write

	// script holds input changes consumed one per ReadAllInputs call.
	script []map[PinName]bool
	index  int
	reads  int

	readErr  error
	writeErr error
	closed   bool
}

// NewFake creates a Fake exposing the given pins. All levels start
// de-asserted.
func NewFake(inputs, outputs []PinName) *Fake {
	f := &Fake{
		inNames:  append([]PinName(nil), inputs...),
		outNames: append([]PinName(nil), outputs...),
		levels:   make(map[PinName]bool, len(inputs)),
		outputs:  make(map[PinName]bool, len(outputs)),
	}
	for _, name := range inputs {
		f.levels[name] = false
	}
	for _, name := range outputs {
		f.outputs[name] = false
	}
	return f
}

// NewSignalFake creates a Fake with the E84 handshake pins.
func NewSignalFake() *Fake { return NewFake(SignalInputs, SignalOutputs) }

// NewInfoFake creates a Fake with the presence keys and status LEDs.
func NewInfoFake() *Fake { return NewFake(KeyInputs, LEDOutputs) }

// SetInput sets the level of one input.
func (f *Fake) SetInput(name PinName, on bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.levels[name] = on
}

// SetInputs sets several inputs at once; unnamed inputs keep their level.
func (f *Fake) SetInputs(levels map[PinName]bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for name, on := range levels {
		f.levels[name] = on
	}
}

// Script queues input changes. Each ReadAllInputs call applies the next
// entry before reading; once the script is exhausted the last applied levels
// persist.
func (f *Fake) Script(changes ...map[PinName]bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.script = append(f.script, changes...)
}

// SetReadError makes subsequent reads fail with err (nil clears it).
func (f *Fake) SetReadError(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.readErr = err
}

// SetWriteError makes subsequent writes fail with err (nil clears it).
func (f *Fake) SetWriteError(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writeErr = err
}

// Output returns the level last written to an output.
func (f *Fake) Output(name PinName) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.outputs[name]
}

// Writes returns a copy of every SetOutput call so far.
func (f *Fake) Writes() []Write {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Write(nil), f.writes...)
}

// Reads returns how many times ReadAllInputs was called.
func (f *Fake) Reads() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reads
}

// Closed reports whether Close was called.
func (f *Fake) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// ReadInput returns the current level of one input.
func (f *Fake) ReadInput(name PinName) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.readErr != nil {
		return false, f.readErr
	}
	on, ok := f.levels[name]
	if !ok {
		return false, fmt.Errorf("%w: input %s", ErrUnknownPin, name)
	}
	return on, nil
}

// ReadAllInputs applies the next scripted change, if any, and returns all
// input levels.
func (f *Fake) ReadAllInputs() (map[PinName]bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reads++
	if f.readErr != nil {
		return nil, f.readErr
	}
	if f.index < len(f.script) {
		for name, on := range f.script[f.index] {
			f.levels[name] = on
		}
		f.index++
	}
	levels := make(map[PinName]bool, len(f.levels))
	for name, on := range f.levels {
		levels[name] = on
	}
	return levels, nil
}

// SetOutput records and applies one output write.
func (f *Fake) SetOutput(name PinName, on bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.writeErr != nil {
		return f.writeErr
	}
	if _, ok := f.outputs[name]; !ok {
		return fmt.Errorf("%w: output %s", ErrUnknownPin, name)
	}
	f.outputs[name] = on
	f.writes = append(f.writes, Write{Name: name, On: on})
	return nil
}

// SetAllOutputs drives every output.
func (f *Fake) SetAllOutputs(on bool) error {
	for _, name := range f.Outputs() {
		if err := f.SetOutput(name, on); err != nil {
			return err
		}
	}
	return nil
}

func (f *Fake) Inputs() []PinName  { return append([]PinName(nil), f.inNames...) }
func (f *Fake) Outputs() []PinName { return append([]PinName(nil), f.outNames...) }

// Close marks the bank as closed.
func (f *Fake) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

var _ Bank = (*Fake)(nil)
