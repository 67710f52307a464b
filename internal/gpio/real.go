//go:build linux

package gpio

import (
	"errors"
	"fmt"

	"github.com/warthog618/go-gpiocdev"
)

// Consumer is the label attached to requested lines, visible in gpioinfo.
const Consumer = "e84-loadport"

// ChipBank is a Bank backed by lines of one GPIO character device.
//
// All lines are requested active-low: the load port board drives and senses
// every signal through inverting opto-couplers, so electrical low means
// asserted.
type ChipBank struct {
	chip     *gpiocdev.Chip
	inputs   map[PinName]*gpiocdev.Line
	outputs  map[PinName]*gpiocdev.Line
	inNames  []PinName
	outNames []PinName
}

// NewChipBank requests the given input and output lines on chipName
// (e.g. "gpiochip0"). Outputs start de-asserted.
func NewChipBank(chipName string, inputs, outputs map[PinName]int, bias Bias) (*ChipBank, error) {
	chip, err := gpiocdev.NewChip(chipName)
	if err != nil {
		return nil, fmt.Errorf("open gpio chip %s: %w", chipName, err)
	}

	b := &ChipBank{
		chip:     chip,
		inputs:   make(map[PinName]*gpiocdev.Line, len(inputs)),
		outputs:  make(map[PinName]*gpiocdev.Line, len(outputs)),
		inNames:  sortedNames(inputs),
		outNames: sortedNames(outputs),
	}

	var biasOpt gpiocdev.LineReqOption = gpiocdev.WithPullUp
	if bias == BiasPullDown {
		biasOpt = gpiocdev.WithPullDown
	}

	for _, name := range b.inNames {
		line, err := chip.RequestLine(inputs[name], gpiocdev.AsInput, gpiocdev.AsActiveLow, biasOpt, gpiocdev.WithConsumer(Consumer))
		if err != nil {
			b.Close()
			return nil, fmt.Errorf("request input %s (line %d): %w", name, inputs[name], err)
		}
		b.inputs[name] = line
	}

	for _, name := range b.outNames {
		line, err := chip.RequestLine(outputs[name], gpiocdev.AsOutput(0), gpiocdev.AsActiveLow, gpiocdev.WithConsumer(Consumer))
		if err != nil {
			b.Close()
			return nil, fmt.Errorf("request output %s (line %d): %w", name, outputs[name], err)
		}
		b.outputs[name] = line
	}

	return b, nil
}

// ReadInput returns the logical level of one input.
func (b *ChipBank) ReadInput(name PinName) (bool, error) {
	line, ok := b.inputs[name]
	if !ok {
		return false, fmt.Errorf("%w: input %s", ErrUnknownPin, name)
	}
	v, err := line.Value()
	if err != nil {
		return false, fmt.Errorf("read %s: %w", name, err)
	}
	return v == 1, nil
}

// ReadAllInputs returns the logical level of every input.
func (b *ChipBank) ReadAllInputs() (map[PinName]bool, error) {
	levels := make(map[PinName]bool, len(b.inNames))
	for _, name := range b.inNames {
		on, err := b.ReadInput(name)
		if err != nil {
			return nil, err
		}
		levels[name] = on
	}
	return levels, nil
}

// SetOutput drives one output.
func (b *ChipBank) SetOutput(name PinName, on bool) error {
	line, ok := b.outputs[name]
	if !ok {
		return fmt.Errorf("%w: output %s", ErrUnknownPin, name)
	}
	v := 0
	if on {
		v = 1
	}
	if err := line.SetValue(v); err != nil {
		return fmt.Errorf("set %s=%v: %w", name, on, err)
	}
	return nil
}

// SetAllOutputs drives every output.
func (b *ChipBank) SetAllOutputs(on bool) error {
	for _, name := range b.outNames {
		if err := b.SetOutput(name, on); err != nil {
			return err
		}
	}
	return nil
}

// Inputs returns the input names in sorted order.
func (b *ChipBank) Inputs() []PinName { return append([]PinName(nil), b.inNames...) }

// Outputs returns the output names in sorted order.
func (b *ChipBank) Outputs() []PinName { return append([]PinName(nil), b.outNames...) }

// Close releases GPIO resources.
// Lines are reconfigured as pulled-down inputs before release so the board
// does not see driven outputs while the daemon is down.
func (b *ChipBank) Close() error {
	var errs []error

	release := func(name PinName, line *gpiocdev.Line) {
		if err := line.Reconfigure(gpiocdev.AsInput, gpiocdev.WithPullDown); err != nil {
			errs = append(errs, fmt.Errorf("reconfigure %s: %w", name, err))
		}
		if err := line.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", name, err))
		}
	}

	for name, line := range b.outputs {
		release(name, line)
	}
	for name, line := range b.inputs {
		release(name, line)
	}
	b.outputs = map[PinName]*gpiocdev.Line{}
	b.inputs = map[PinName]*gpiocdev.Line{}

	if b.chip != nil {
		if err := b.chip.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close chip: %w", err))
		}
		b.chip = nil
	}

	return joinCloseErrors(errs)
}

// joinCloseErrors keeps every release failure inspectable with errors.Is.
func joinCloseErrors(errs []error) error {
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("gpio close: %w", err)
	}
	return nil
}
