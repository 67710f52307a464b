package loadport

import (
	"context"
	"fmt"
	"time"

	"github.com/sweeney/e84-loadport/internal/gpio"
	"github.com/sweeney/e84-loadport/internal/logger"
)

// SleepFunc blocks for d or until ctx is done, returning ctx.Err() in the
// latter case.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Sleep is the default SleepFunc.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Sample is the result of one sampling cycle.
type Sample struct {
	Inputs      Inputs
	Keys        Keys
	FoupPresent bool
	// AllKeysSet is true only on the cycle where the keys went from
	// not-all-set to all-set.
	AllKeysSet bool
}

const (
	blinkOn  = 5
	blinkOff = 10
)

// Sampler reads both banks once per cycle, debounces the presence keys and
// drives the presence LEDs, HO_AVBL and ES.
type Sampler struct {
	signals  gpio.Bank
	info     gpio.Bank
	debounce time.Duration
	sleep    SleepFunc
	log      logger.Logger

	settled Keys
	primed  bool
	allSet  bool
	blink   int
}

// NewSampler creates a Sampler. The first Sample primes the settled keys
// without waiting.
func NewSampler(signals, info gpio.Bank, debounce time.Duration, sleep SleepFunc, log logger.Logger) *Sampler {
	if sleep == nil {
		sleep = Sleep
	}
	return &Sampler{
		signals:  signals,
		info:     info,
		debounce: debounce,
		sleep:    sleep,
		log:      log.With("component", "sampler"),
	}
}

// Sample reads the handshake inputs and the settled keys, then writes the
// status outputs. A cancelled ctx during the debounce wait returns ctx.Err().
func (s *Sampler) Sample(ctx context.Context) (Sample, error) {
	raw, err := s.signals.ReadAllInputs()
	if err != nil {
		return Sample{}, fmt.Errorf("read signal inputs: %w", err)
	}
	in := make(map[gpio.PinName]bool, len(gpio.SignalInputs))
	for _, name := range gpio.SignalInputs {
		in[name] = raw[name]
	}

	keys, err := s.readKeys()
	if err != nil {
		return Sample{}, err
	}

	switch {
	case !s.primed:
		s.primed = true
		s.settle(keys)
	case keys != s.settled:
		if err := s.sleep(ctx, s.debounce); err != nil {
			return Sample{}, err
		}
		if keys, err = s.readKeys(); err != nil {
			return Sample{}, err
		}
		s.settle(keys)
	}

	edge := false
	if s.settled.All() {
		edge = !s.allSet
		s.allSet = true
	} else {
		s.allSet = false
	}

	if err := s.drive(in[gpio.PinGO]); err != nil {
		return Sample{}, err
	}

	return Sample{
		Inputs:      NewInputs(in),
		Keys:        s.settled,
		FoupPresent: s.settled.Any(),
		AllKeysSet:  edge,
	}, nil
}

// Settled returns the last settled keys.
func (s *Sampler) Settled() Keys { return s.settled }

// KeysAllSet reports the sticky all-keys flag.
func (s *Sampler) KeysAllSet() bool { return s.allSet }

// Reset clears the all-keys flag and makes the next Sample prime again.
func (s *Sampler) Reset() {
	s.primed = false
	s.allSet = false
	s.blink = 0
}

func (s *Sampler) readKeys() (Keys, error) {
	levels, err := s.info.ReadAllInputs()
	if err != nil {
		return Keys{}, fmt.Errorf("read key inputs: %w", err)
	}
	return keysFrom(levels), nil
}

func (s *Sampler) settle(keys Keys) {
	was := s.settled.Any()
	s.settled = keys
	switch now := keys.Any(); {
	case now && !was:
		s.log.Info("foup placed", "keys", keys.Count())
	case !now && was:
		s.log.Info("foup removed")
	}
	if keys.Any() && !keys.All() {
		s.log.Debug("foup seated partially", "keys", keys.Count())
	}
}

// drive writes the outputs that follow the sampled state rather than the
// handshake.
func (s *Sampler) drive(goOn bool) error {
	placed, avail, alarm := false, true, false
	switch {
	case s.settled.All():
		placed = true
	case s.settled.Any():
		placed, avail, alarm = true, false, true
	}

	writes := []struct {
		bank gpio.Bank
		name gpio.PinName
		on   bool
	}{
		{s.info, gpio.PinPlacedLED, placed},
		{s.info, gpio.PinAlarmLED, alarm},
		{s.signals, gpio.PinHOAvbl, avail},
		{s.signals, gpio.PinES, avail},
		{s.info, gpio.PinSensorLED, goOn},
	}
	for _, w := range writes {
		if err := w.bank.SetOutput(w.name, w.on); err != nil {
			return fmt.Errorf("set %s: %w", w.name, err)
		}
	}
	if s.blink > blinkOff {
		s.blink = 0
	}
	s.blink++
	switch s.blink {
	case blinkOn:
		return s.setInfo(gpio.PinCodeLED, true)
	case blinkOff:
		return s.setInfo(gpio.PinCodeLED, false)
	}
	return nil
}

func (s *Sampler) setInfo(name gpio.PinName, on bool) error {
	if err := s.info.SetOutput(name, on); err != nil {
		return fmt.Errorf("set %s: %w", name, err)
	}
	return nil
}
