package loadport

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sweeney/e84-loadport/internal/gpio"
)

type samplerRig struct {
	s      *Sampler
	sig    *gpio.Fake
	info   *gpio.Fake
	sleeps *sleepRecorder
}

func newSamplerRig() *samplerRig {
	r := &samplerRig{
		sig:    gpio.NewSignalFake(),
		info:   gpio.NewInfoFake(),
		sleeps: &sleepRecorder{},
	}
	r.s = NewSampler(r.sig, r.info, DefaultDebounceInterval, r.sleeps.Sleep, quietLogger())
	return r
}

func (r *samplerRig) sample(t *testing.T) Sample {
	t.Helper()
	s, err := r.s.Sample(context.Background())
	require.NoError(t, err)
	return s
}

func TestSamplerFirstSamplePrimesWithoutWaiting(t *testing.T) {
	r := newSamplerRig()
	r.info.SetInput(gpio.PinKey1, true)

	s := r.sample(t)
	assert.Equal(t, Keys{false, true, false}, s.Keys)
	assert.True(t, s.FoupPresent)
	assert.Empty(t, r.sleeps.Calls())
}

func TestSamplerSignalSnapshot(t *testing.T) {
	r := newSamplerRig()
	r.sig.SetInputs(map[gpio.PinName]bool{gpio.PinGO: true, gpio.PinValid: true})

	s := r.sample(t)
	assert.True(t, s.Inputs.On(gpio.PinGO))
	assert.True(t, s.Inputs.On(gpio.PinValid))
	assert.False(t, s.Inputs.On(gpio.PinCS0))
	assert.ElementsMatch(t, gpio.SignalInputs, s.Inputs.Names())

	// The snapshot does not alias the bank.
	r.sig.SetInput(gpio.PinGO, false)
	assert.True(t, s.Inputs.On(gpio.PinGO))
}

func TestSamplerDebounceConfirmsChange(t *testing.T) {
	r := newSamplerRig()
	r.sample(t)

	r.info.Script(
		map[gpio.PinName]bool{gpio.PinKey0: true},
		map[gpio.PinName]bool{},
	)
	s := r.sample(t)

	assert.Equal(t, []time.Duration{DefaultDebounceInterval}, r.sleeps.Calls())
	assert.Equal(t, Keys{true, false, false}, s.Keys)
	assert.True(t, s.FoupPresent)
}

func TestSamplerDebounceRejectsGlitch(t *testing.T) {
	r := newSamplerRig()
	r.sample(t)

	r.info.Script(
		map[gpio.PinName]bool{gpio.PinKey2: true},
		map[gpio.PinName]bool{gpio.PinKey2: false},
	)
	s := r.sample(t)

	assert.Len(t, r.sleeps.Calls(), 1)
	assert.Equal(t, Keys{}, s.Keys)
	assert.False(t, s.FoupPresent)
}

func TestSamplerNoWaitWhenKeysStable(t *testing.T) {
	r := newSamplerRig()
	r.info.SetInput(gpio.PinKey0, true)

	for i := 0; i < 5; i++ {
		r.sample(t)
	}
	assert.Empty(t, r.sleeps.Calls())
	assert.Equal(t, 5, r.info.Reads())
}

func TestSamplerAllKeysSetOncePerTransition(t *testing.T) {
	r := newSamplerRig()
	r.sample(t)

	r.info.SetInputs(map[gpio.PinName]bool{gpio.PinKey0: true, gpio.PinKey1: true, gpio.PinKey2: true})
	assert.True(t, r.sample(t).AllKeysSet)
	assert.True(t, r.s.KeysAllSet())

	for i := 0; i < 3; i++ {
		assert.False(t, r.sample(t).AllKeysSet, "cycle %d", i)
	}
	assert.True(t, r.s.KeysAllSet())

	r.info.SetInput(gpio.PinKey1, false)
	assert.False(t, r.sample(t).AllKeysSet)
	assert.False(t, r.s.KeysAllSet())

	r.info.SetInput(gpio.PinKey1, true)
	assert.True(t, r.sample(t).AllKeysSet)
}

func TestSamplerResetClearsAllKeysFlag(t *testing.T) {
	r := newSamplerRig()
	r.info.SetInputs(map[gpio.PinName]bool{gpio.PinKey0: true, gpio.PinKey1: true, gpio.PinKey2: true})
	assert.True(t, r.sample(t).AllKeysSet)

	r.s.Reset()
	assert.False(t, r.s.KeysAllSet())
	assert.True(t, r.sample(t).AllKeysSet)
	assert.Empty(t, r.sleeps.Calls())
}

func TestSamplerStatusOutputs(t *testing.T) {
	tests := []struct {
		name                   string
		keys                   Keys
		placed, avail, alarmOn bool
	}{
		{"none", Keys{}, false, true, false},
		{"partial", Keys{true, false, true}, true, false, true},
		{"all", Keys{true, true, true}, true, true, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newSamplerRig()
			for i, name := range gpio.KeyInputs {
				r.info.SetInput(name, tt.keys[i])
			}
			r.sample(t)

			assert.Equal(t, tt.placed, r.info.Output(gpio.PinPlacedLED), "PLACED_LED")
			assert.Equal(t, tt.alarmOn, r.info.Output(gpio.PinAlarmLED), "ALARM_LED")
			assert.Equal(t, tt.avail, r.sig.Output(gpio.PinHOAvbl), "HO_AVBL")
			assert.Equal(t, tt.avail, r.sig.Output(gpio.PinES), "ES")
		})
	}
}

func TestSamplerSensorLEDFollowsGo(t *testing.T) {
	r := newSamplerRig()

	r.sample(t)
	assert.False(t, r.info.Output(gpio.PinSensorLED))

	r.sig.SetInput(gpio.PinGO, true)
	r.sample(t)
	assert.True(t, r.info.Output(gpio.PinSensorLED))
}

func TestSamplerCodeLEDBlink(t *testing.T) {
	r := newSamplerRig()

	var levels []bool
	for i := 0; i < 21; i++ {
		r.sample(t)
		levels = append(levels, r.info.Output(gpio.PinCodeLED))
	}

	// On from the 5th cycle, off from the 10th, and the counter wraps
	// after 11 so the next period starts on cycle 12.
	for i, lit := range levels {
		cycle := i + 1
		want := (cycle >= 5 && cycle < 10) || (cycle >= 16 && cycle < 21)
		assert.Equal(t, want, lit, "cycle %d", cycle)
	}
}

func TestSamplerCancelledDuringDebounce(t *testing.T) {
	r := newSamplerRig()
	r.s.sleep = Sleep
	r.sample(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r.info.SetInput(gpio.PinKey0, true)

	_, err := r.s.Sample(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, Keys{}, r.s.Settled())
}

func TestSamplerReadErrors(t *testing.T) {
	r := newSamplerRig()
	r.sig.SetReadError(errors.New("chip gone"))
	_, err := r.s.Sample(context.Background())
	assert.ErrorContains(t, err, "chip gone")

	r = newSamplerRig()
	r.info.SetReadError(errors.New("chip gone"))
	_, err = r.s.Sample(context.Background())
	assert.ErrorContains(t, err, "read key inputs")

	r = newSamplerRig()
	r.info.SetWriteError(errors.New("line busy"))
	_, err = r.s.Sample(context.Background())
	assert.ErrorContains(t, err, "PLACED_LED")
}
