//go:build !linux

package gpio

import "errors"

var errUnsupported = errors.New("gpio: not supported on this platform (requires Linux)")

// ChipBank is not available on non-Linux platforms.
type ChipBank struct{}

// NewChipBank returns an error on non-Linux platforms.
func NewChipBank(chipName string, inputs, outputs map[PinName]int, bias Bias) (*ChipBank, error) {
	return nil, errUnsupported
}

func (b *ChipBank) ReadInput(name PinName) (bool, error)     { return false, errUnsupported }
func (b *ChipBank) ReadAllInputs() (map[PinName]bool, error) { return nil, errUnsupported }
func (b *ChipBank) SetOutput(name PinName, on bool) error    { return errUnsupported }
func (b *ChipBank) SetAllOutputs(on bool) error              { return errUnsupported }
func (b *ChipBank) Inputs() []PinName                        { return nil }
func (b *ChipBank) Outputs() []PinName                       { return nil }
func (b *ChipBank) Close() error                             { return nil }
