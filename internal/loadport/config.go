package loadport

import (
	"fmt"
	"time"

	"github.com/sweeney/e84-loadport/internal/gpio"
)

// Default timing.
const (
	DefaultRefreshInterval  = 200 * time.Millisecond
	DefaultDebounceInterval = 200 * time.Millisecond
	DefaultShortTimeout     = 2 * time.Second
	DefaultLongTimeout      = 60 * time.Second
)

// Config holds the pin mappings of the four pin groups and the controller
// timing. Pin numbers are line offsets on the GPIO chip.
type Config struct {
	SignalInputs  map[gpio.PinName]int
	SignalOutputs map[gpio.PinName]int
	KeyInputs     map[gpio.PinName]int
	LEDOutputs    map[gpio.PinName]int

	RefreshInterval  time.Duration
	DebounceInterval time.Duration
	ShortTimeout     time.Duration
	LongTimeout      time.Duration
}

// DefaultConfig returns the documented default wiring and timing.
func DefaultConfig() Config {
	return Config{
		SignalInputs:     copyPins(gpio.DefaultSignalInputPins),
		SignalOutputs:    copyPins(gpio.DefaultSignalOutputPins),
		KeyInputs:        copyPins(gpio.DefaultKeyPins),
		LEDOutputs:       copyPins(gpio.DefaultLEDPins),
		RefreshInterval:  DefaultRefreshInterval,
		DebounceInterval: DefaultDebounceInterval,
		ShortTimeout:     DefaultShortTimeout,
		LongTimeout:      DefaultLongTimeout,
	}
}

// WithDefaults returns a copy of c where empty groups, negative pin numbers
// and non-positive durations are replaced by their defaults. A group that
// is present but lacks a required name is left alone so Validate rejects it.
func (c Config) WithDefaults() Config {
	d := DefaultConfig()
	out := Config{
		SignalInputs:     mergePins(c.SignalInputs, d.SignalInputs),
		SignalOutputs:    mergePins(c.SignalOutputs, d.SignalOutputs),
		KeyInputs:        mergePins(c.KeyInputs, d.KeyInputs),
		LEDOutputs:       mergePins(c.LEDOutputs, d.LEDOutputs),
		RefreshInterval:  orDefault(c.RefreshInterval, d.RefreshInterval),
		DebounceInterval: orDefault(c.DebounceInterval, d.DebounceInterval),
		ShortTimeout:     orDefault(c.ShortTimeout, d.ShortTimeout),
		LongTimeout:      orDefault(c.LongTimeout, d.LongTimeout),
	}
	return out
}

// Validate checks that every pin the controller drives or reads resolves to
// exactly one line. All errors wrap ErrConfig.
func (c Config) Validate() error {
	groups := []struct {
		label    string
		pins     map[gpio.PinName]int
		required []gpio.PinName
	}{
		{"signal inputs", c.SignalInputs, gpio.SignalInputs},
		{"signal outputs", c.SignalOutputs, gpio.SignalOutputs},
		{"key inputs", c.KeyInputs, gpio.KeyInputs},
		{"led outputs", c.LEDOutputs, gpio.LEDOutputs},
	}

	owner := make(map[int]gpio.PinName)
	for _, g := range groups {
		known := make(map[gpio.PinName]bool, len(g.required))
		for _, name := range g.required {
			known[name] = true
			if _, ok := g.pins[name]; !ok {
				return fmt.Errorf("%w: %s: missing pin for %s", ErrConfig, g.label, name)
			}
		}
		for name, pin := range g.pins {
			if !known[name] {
				return fmt.Errorf("%w: %s: unknown pin name %s", ErrConfig, g.label, name)
			}
			if pin < 0 {
				return fmt.Errorf("%w: %s: invalid pin %d for %s", ErrConfig, g.label, pin, name)
			}
			if other, dup := owner[pin]; dup {
				return fmt.Errorf("%w: pin %d assigned to both %s and %s", ErrConfig, pin, other, name)
			}
			owner[pin] = name
		}
	}

	if c.RefreshInterval <= 0 {
		return fmt.Errorf("%w: refresh interval must be positive", ErrConfig)
	}
	if c.DebounceInterval < 0 {
		return fmt.Errorf("%w: debounce interval must not be negative", ErrConfig)
	}
	if c.ShortTimeout <= 0 || c.LongTimeout <= 0 {
		return fmt.Errorf("%w: timeouts must be positive", ErrConfig)
	}
	return nil
}

// StopTimeout is how long Stop waits for the drive loop to exit.
func (c Config) StopTimeout() time.Duration {
	d := 2*c.RefreshInterval + c.DebounceInterval
	if d < time.Second {
		return time.Second
	}
	return d
}

func copyPins(m map[gpio.PinName]int) map[gpio.PinName]int {
	cp := make(map[gpio.PinName]int, len(m))
	for name, pin := range m {
		cp[name] = pin
	}
	return cp
}

func mergePins(m, defaults map[gpio.PinName]int) map[gpio.PinName]int {
	if len(m) == 0 {
		return copyPins(defaults)
	}
	out := copyPins(m)
	for name, pin := range out {
		if def, ok := defaults[name]; ok && pin < 0 {
			out[name] = def
		}
	}
	return out
}

func orDefault(d, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return d
}
