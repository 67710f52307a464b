package loadport

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sweeney/e84-loadport/internal/gpio"
	"github.com/sweeney/e84-loadport/internal/logger"
)

// SelfTestStep is how long SelfTest holds each output level.
const SelfTestStep = time.Second

// Option configures a Controller.
type Option func(*Controller)

// WithClock sets the time source used for timeouts and event timestamps.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

// WithSleep replaces the blocking wait used between cycles, for debouncing
// and by SelfTest.
func WithSleep(sleep SleepFunc) Option {
	return func(c *Controller) { c.sleep = sleep }
}

// WithLogger sets the logger.
func WithLogger(log logger.Logger) Option {
	return func(c *Controller) { c.log = log }
}

// Controller runs the sampler and the state machine on a fixed period in a
// dedicated goroutine.
type Controller struct {
	cfg     Config
	signals gpio.Bank
	info    gpio.Bank
	now     func() time.Time
	sleep   SleepFunc
	log     logger.Logger

	emitter *Emitter
	timeout *Timeout
	sampler *Sampler
	machine *Machine

	// mu serialises Start, Stop, Reset and SelfTest.
	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	running atomic.Bool
	resets  chan chan error

	statusMu sync.RWMutex
	status   Status
}

// New creates a stopped controller. Missing configuration falls back to the
// defaults; unresolved pin names are reported as ErrConfig.
func New(cfg Config, signals, info gpio.Bank, opts ...Option) (*Controller, error) {
	c := &Controller{
		cfg:     cfg.WithDefaults(),
		signals: signals,
		info:    info,
		now:     time.Now,
		sleep:   Sleep,
		log:     logger.GetLogger(),
		resets:  make(chan chan error),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = c.log.With("component", "controller")

	if err := c.validate(); err != nil {
		return nil, err
	}

	c.emitter = NewEmitter(c.log)
	c.timeout = NewTimeout(c.now)
	c.sampler = NewSampler(signals, info, c.cfg.DebounceInterval, c.sleep, c.log)
	c.machine = NewMachine(signals, info, c.timeout, c.cfg.ShortTimeout, c.cfg.LongTimeout, c.now, c.log)
	c.status = Status{State: StateIdle, Updated: c.now()}
	return c, nil
}

// Config returns the effective configuration.
func (c *Controller) Config() Config { return c.cfg }

// Subscribe registers a handler for controller events.
func (c *Controller) Subscribe(h Handler) (unsubscribe func()) {
	return c.emitter.Subscribe(h)
}

// IsRunning reports whether the drive loop is running.
func (c *Controller) IsRunning() bool { return c.running.Load() }

// Status returns the latest diagnostic snapshot.
func (c *Controller) Status() Status {
	c.statusMu.RLock()
	st := c.status
	c.statusMu.RUnlock()
	st.Running = c.IsRunning()
	return st
}

// Start launches the drive loop. It is a no-op when already running.
func (c *Controller) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running.Load() {
		return nil
	}
	c.reap()
	if err := c.validate(); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.done = make(chan struct{})
	c.running.Store(true)
	go c.run(ctx, c.done)

	c.log.Info("controller started", "refresh", c.cfg.RefreshInterval, "debounce", c.cfg.DebounceInterval)
	return nil
}

// Stop cancels the drive loop and waits for it to exit. After Stop returns
// nil no further bank I/O happens. It is a no-op when not running.
func (c *Controller) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cancel == nil {
		return nil
	}
	c.cancel()

	select {
	case <-c.done:
	case <-time.After(c.cfg.StopTimeout()):
		c.log.Error("drive loop did not stop", "waited", c.cfg.StopTimeout())
		return ErrStopTimeout
	}
	c.cancel, c.done = nil, nil
	c.timeout.Disarm()
	c.log.Info("controller stopped")
	return nil
}

// Reset returns the handshake to idle, safes the outputs and clears the
// all-keys flag. While running, the drive goroutine performs the reset at
// the start of its next cycle. A loop that stopped on a fault is joined
// first, so the reset never overlaps its final emits.
func (c *Controller) Reset() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running.Load() {
		reply := make(chan error, 1)
		select {
		case c.resets <- reply:
			return <-reply
		case <-c.done:
		}
	}
	c.reap()
	return c.reset()
}

// SelfTest drives every output of both banks off, then on, then back to the
// safe state. The controller must be stopped.
func (c *Controller) SelfTest(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running.Load() {
		return ErrRunning
	}
	c.reap()
	c.log.Info("output self-test")

	for _, on := range []bool{false, true} {
		for _, bank := range []gpio.Bank{c.signals, c.info} {
			if err := bank.SetAllOutputs(on); err != nil {
				return fmt.Errorf("self-test: %w", err)
			}
		}
		if err := c.sleep(ctx, SelfTestStep); err != nil {
			_ = c.safe()
			return err
		}
	}
	return c.safe()
}

func (c *Controller) safe() error {
	for _, bank := range []gpio.Bank{c.signals, c.info} {
		if err := bank.SetAllOutputs(false); err != nil {
			return fmt.Errorf("self-test: %w", err)
		}
	}
	return c.reset()
}

// reap waits for a loop that stopped on its own after a fault and releases
// its context.
func (c *Controller) reap() {
	if c.cancel == nil {
		return
	}
	c.cancel()
	<-c.done
	c.cancel, c.done = nil, nil
}

func (c *Controller) reset() error {
	c.sampler.Reset()
	if err := c.machine.Reset(); err != nil {
		return fmt.Errorf("reset: %w", err)
	}
	c.statusMu.Lock()
	c.status.State = StateIdle
	c.status.KeysAllSet = false
	c.status.Updated = c.now()
	c.statusMu.Unlock()
	c.log.Info("controller reset")
	return nil
}

func (c *Controller) validate() error {
	if c.signals == nil || c.info == nil {
		return fmt.Errorf("%w: signal banks are required", ErrConfig)
	}
	if err := c.cfg.Validate(); err != nil {
		return err
	}
	checks := []struct {
		label string
		have  []gpio.PinName
		want  []gpio.PinName
	}{
		{"signal inputs", c.signals.Inputs(), gpio.SignalInputs},
		{"signal outputs", c.signals.Outputs(), gpio.SignalOutputs},
		{"key inputs", c.info.Inputs(), gpio.KeyInputs},
		{"led outputs", c.info.Outputs(), gpio.LEDOutputs},
	}
	for _, chk := range checks {
		have := make(map[gpio.PinName]bool, len(chk.have))
		for _, name := range chk.have {
			have[name] = true
		}
		for _, name := range chk.want {
			if !have[name] {
				return fmt.Errorf("%w: %s: %s not resolved by bank", ErrConfig, chk.label, name)
			}
		}
	}
	return nil
}

func (c *Controller) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	defer c.running.Store(false)

	for ctx.Err() == nil {
		start := c.now()

		select {
		case reply := <-c.resets:
			reply <- c.reset()
		default:
		}

		if err := c.cycle(ctx); err != nil {
			if ctx.Err() != nil && errors.Is(err, context.Canceled) {
				return
			}
			c.running.Store(false)
			c.fault(err)
			return
		}

		wait := c.cfg.RefreshInterval - c.now().Sub(start)
		if wait < 0 {
			wait = 0
		}
		if err := c.sleep(ctx, wait); err != nil {
			return
		}
	}
}

func (c *Controller) cycle(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: panic: %v", ErrCycleFault, r)
		}
	}()

	sample, err := c.sampler.Sample(ctx)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return err
		}
		return fmt.Errorf("%w: %w", ErrCycleFault, err)
	}

	events, tickErr := c.machine.Tick(sample.Inputs, sample.FoupPresent)
	if sample.AllKeysSet {
		c.log.Info("all keys set")
		events = append([]Event{{Kind: EventAllKeysSet, State: c.machine.State(), Time: c.now()}}, events...)
	}

	c.statusMu.Lock()
	c.status = Status{
		State:       c.machine.State(),
		FoupPresent: sample.FoupPresent,
		Inputs:      sample.Inputs,
		Keys:        sample.Keys,
		KeysAllSet:  c.sampler.KeysAllSet(),
		Updated:     c.now(),
	}
	c.statusMu.Unlock()

	for _, ev := range events {
		c.emitter.Emit(ev)
	}
	if tickErr != nil {
		return fmt.Errorf("%w: %w", ErrCycleFault, tickErr)
	}
	return nil
}

func (c *Controller) fault(err error) {
	c.log.Error("drive loop stopped on fault", "error", err)
	c.emitter.Emit(Event{
		Kind:    EventFatalError,
		State:   c.machine.State(),
		Message: err.Error(),
		Time:    c.now(),
	})
}
