// Package gpio provides named-pin access to the load port's discrete I/O.
// The real implementation uses the Linux GPIO character device.
// The fake implementation allows testing and simulation without hardware.
package gpio

import (
	"errors"
	"fmt"
	"sort"
)

// PinName is the logical name of a signal, e.g. "CS_0" or "PLACED_LED".
type PinName string

// E84 handshake inputs, driven by the vehicle.
const (
	PinGO    PinName = "GO"
	PinCS0   PinName = "CS_0"
	PinValid PinName = "VALID"
	PinTRReq PinName = "TR_REQ"
	PinBusy  PinName = "BUSY"
	PinCompt PinName = "COMPT"
)

// E84 handshake outputs, driven by the load port.
const (
	PinReady  PinName = "READY"
	PinLReq   PinName = "L_REQ"
	PinUReq   PinName = "U_REQ"
	PinHOAvbl PinName = "HO_AVBL"
	PinES     PinName = "ES"
)

// FOUP presence keys.
const (
	PinKey0 PinName = "KEY_0"
	PinKey1 PinName = "KEY_1"
	PinKey2 PinName = "KEY_2"
)

// Status LEDs.
const (
	PinCodeLED   PinName = "CODE_LED"
	PinChargeLED PinName = "CHARGE_LED"
	PinPlacedLED PinName = "PLACED_LED"
	PinLoadLED   PinName = "LOAD_LED"
	PinUnloadLED PinName = "UNLOAD_LED"
	PinSensorLED PinName = "SENSOR_LED"
	PinAlarmLED  PinName = "ALARM_LED"
)

// Pin groups in wiring order.
var (
	SignalInputs  = []PinName{PinGO, PinCS0, PinValid, PinTRReq, PinBusy, PinCompt}
	SignalOutputs = []PinName{PinReady, PinLReq, PinUReq, PinHOAvbl, PinES}
	KeyInputs     = []PinName{PinKey0, PinKey1, PinKey2}
	LEDOutputs    = []PinName{PinCodeLED, PinChargeLED, PinPlacedLED, PinLoadLED, PinUnloadLED, PinSensorLED, PinAlarmLED}
)

// Default pin assignments (BCM numbering) of the reference load port board.
var (
	DefaultSignalInputPins = map[PinName]int{
		PinGO: 22, PinCS0: 9, PinValid: 10, PinTRReq: 5, PinBusy: 6, PinCompt: 13,
	}
	DefaultSignalOutputPins = map[PinName]int{
		PinReady: 4, PinLReq: 2, PinUReq: 3, PinHOAvbl: 17, PinES: 27,
	}
	DefaultKeyPins = map[PinName]int{
		PinKey0: 21, PinKey1: 20, PinKey2: 16,
	}
	DefaultLEDPins = map[PinName]int{
		PinCodeLED: 18, PinChargeLED: 7, PinPlacedLED: 8, PinLoadLED: 25,
		PinUnloadLED: 24, PinSensorLED: 23, PinAlarmLED: 12,
	}
)

// ErrUnknownPin is returned when a name is not part of a bank.
var ErrUnknownPin = errors.New("gpio: unknown pin")

// Bias selects the input line bias.
type Bias int

const (
	BiasPullUp Bias = iota + 1
	BiasPullDown
)

func (b Bias) String() string {
	switch b {
	case BiasPullUp:
		return "pull-up"
	case BiasPullDown:
		return "pull-down"
	}
	return fmt.Sprintf("Bias(%d)", int(b))
}

// ParseBias accepts "pull-up" or "pull-down".
func ParseBias(s string) (Bias, error) {
	switch s {
	case "pull-up":
		return BiasPullUp, nil
	case "pull-down":
		return BiasPullDown, nil
	}
	return 0, fmt.Errorf("gpio: unknown bias %q", s)
}

// Bank reads and writes one group of named pins.
//
// Levels are logical: true means asserted. Active-low wiring is normalised by
// the implementation, callers never see raw electrical levels.
type Bank interface {
	// ReadInput returns the logical level of one input.
	ReadInput(name PinName) (bool, error)
	// ReadAllInputs returns the logical level of every input of the bank.
	ReadAllInputs() (map[PinName]bool, error)
	// SetOutput drives one output.
	SetOutput(name PinName, on bool) error
	// SetAllOutputs drives every output of the bank.
	SetAllOutputs(on bool) error
	// Inputs lists the configured input names.
	Inputs() []PinName
	// Outputs lists the configured output names.
	Outputs() []PinName
	// Close releases the underlying resources.
	Close() error
}

func sortedNames[V any](m map[PinName]V) []PinName {
	names := make([]PinName, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })
	return names
}
