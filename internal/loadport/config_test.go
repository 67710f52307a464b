package loadport

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sweeney/e84-loadport/internal/gpio"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 200*time.Millisecond, cfg.RefreshInterval)
	assert.Equal(t, 200*time.Millisecond, cfg.DebounceInterval)
	assert.Equal(t, 2*time.Second, cfg.ShortTimeout)
	assert.Equal(t, 60*time.Second, cfg.LongTimeout)
	assert.Equal(t, 22, cfg.SignalInputs[gpio.PinGO])
}

func TestWithDefaultsFillsGaps(t *testing.T) {
	cfg := Config{
		SignalOutputs: map[gpio.PinName]int{
			gpio.PinReady: 14, gpio.PinLReq: 15, gpio.PinUReq: -1, gpio.PinHOAvbl: 17, gpio.PinES: 27,
		},
		LongTimeout: 30 * time.Second,
	}.WithDefaults()

	require.NoError(t, cfg.Validate())
	assert.Equal(t, gpio.DefaultSignalInputPins, cfg.SignalInputs)
	assert.Equal(t, 14, cfg.SignalOutputs[gpio.PinReady])
	assert.Equal(t, 3, cfg.SignalOutputs[gpio.PinUReq], "invalid pin falls back to default")
	assert.Equal(t, DefaultRefreshInterval, cfg.RefreshInterval)
	assert.Equal(t, 30*time.Second, cfg.LongTimeout)
}

func TestWithDefaultsDoesNotMutateDefaults(t *testing.T) {
	cfg := Config{}.WithDefaults()
	cfg.KeyInputs[gpio.PinKey0] = 99
	assert.Equal(t, 21, gpio.DefaultKeyPins[gpio.PinKey0])
}

func TestValidateErrors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"missing name", func(c *Config) { delete(c.KeyInputs, gpio.PinKey2) }, "missing pin for KEY_2"},
		{"unknown name", func(c *Config) { c.LEDOutputs["BUZZER"] = 30 }, "unknown pin name BUZZER"},
		{"negative pin", func(c *Config) { c.SignalInputs[gpio.PinBusy] = -4 }, "invalid pin -4"},
		{"duplicate pin", func(c *Config) { c.LEDOutputs[gpio.PinAlarmLED] = 22 }, "pin 22 assigned to both"},
		{"zero refresh", func(c *Config) { c.RefreshInterval = 0 }, "refresh interval"},
		{"zero timeout", func(c *Config) { c.ShortTimeout = 0 }, "timeouts must be positive"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.ErrorIs(t, err, ErrConfig)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestStopTimeoutBound(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, time.Second, cfg.StopTimeout())

	cfg.RefreshInterval = time.Second
	cfg.DebounceInterval = 500 * time.Millisecond
	assert.Equal(t, 2500*time.Millisecond, cfg.StopTimeout())
}
