package loadport

import (
	"fmt"
	"time"

	"github.com/sweeney/e84-loadport/internal/gpio"
	"github.com/sweeney/e84-loadport/internal/logger"
)

// interruptSignals lists, per wait state, the inputs that must stay asserted
// for the handshake to continue.
var interruptSignals = map[State][]gpio.PinName{
	StateWaitTrReq: {gpio.PinCS0, gpio.PinValid},
	StateWaitBusy:  {gpio.PinCS0, gpio.PinValid, gpio.PinTRReq},
	StateWaitLReq:  {gpio.PinCS0, gpio.PinValid, gpio.PinTRReq, gpio.PinBusy},
	StateWaitUReq:  {gpio.PinCS0, gpio.PinValid, gpio.PinTRReq, gpio.PinBusy},
	StateWaitCompt: {gpio.PinCS0, gpio.PinValid},
}

// Machine is the E84 handshake state machine. Tick evaluates one cycle from
// the sampled inputs; it never blocks. Machine is owned by the drive
// goroutine.
type Machine struct {
	signals gpio.Bank
	info    gpio.Bank
	timeout *Timeout
	short   time.Duration
	long    time.Duration
	now     func() time.Time
	log     logger.Logger

	state    State
	reported State

	// reason attached to the next StateChanged
	pending Reason
	events  []Event
}

// NewMachine creates a Machine in the idle state.
func NewMachine(signals, info gpio.Bank, timeout *Timeout, short, long time.Duration, now func() time.Time, log logger.Logger) *Machine {
	if now == nil {
		now = time.Now
	}
	return &Machine{
		signals: signals,
		info:    info,
		timeout: timeout,
		short:   short,
		long:    long,
		now:     now,
		log:     log.With("component", "machine"),
		state:   StateIdle,
	}
}

// State returns the current handshake state.
func (m *Machine) State() State { return m.state }

// Tick advances the handshake by at most one transition and returns the
// events it produced. Interruption is checked before timeout, and timeout
// before progress. A returned error is an output write failure; the events
// produced before it are still returned.
func (m *Machine) Tick(in Inputs, foupPresent bool) ([]Event, error) {
	m.events = nil

	err := m.step(in, foupPresent)
	if m.state != m.reported {
		m.reported = m.state
		m.emit(EventStateChanged, m.pending, "")
	}
	m.pending = ""
	return m.events, err
}

// Reset safes the handshake outputs, disarms the timeout and returns to
// idle. The next Tick reports idle, even if the machine was already idle.
func (m *Machine) Reset() error {
	m.timeout.Disarm()
	m.state = StateIdle
	m.reported = ""
	m.pending = ""
	return m.clearOutputs()
}

func (m *Machine) step(in Inputs, foup bool) error {
	if m.state == StateIdle {
		return m.idle(in, foup)
	}

	for _, name := range interruptSignals[m.state] {
		if !in.On(name) {
			return m.abort(ReasonInterrupted, fmt.Sprintf("handshake interrupted in %s: %s dropped", m.state, name))
		}
	}
	if m.timeout.Expired() {
		return m.abort(ReasonTimeout, fmt.Sprintf("handshake timeout in %s", m.state))
	}

	switch m.state {
	case StateWaitTrReq:
		if in.On(gpio.PinTRReq) {
			if err := m.setSignal(gpio.PinReady, true); err != nil {
				return err
			}
			m.timeout.Arm(m.short)
			m.state = StateWaitBusy
		}
	case StateWaitBusy:
		if in.On(gpio.PinBusy) {
			m.timeout.Arm(m.long)
			if foup {
				m.state = StateWaitUReq
			} else {
				m.state = StateWaitLReq
			}
		}
	case StateWaitLReq:
		if foup {
			return m.toCompt(gpio.PinLReq)
		}
	case StateWaitUReq:
		if !foup {
			return m.toCompt(gpio.PinUReq)
		}
	case StateWaitCompt:
		if in.On(gpio.PinCompt) {
			if err := m.setSignal(gpio.PinReady, false); err != nil {
				return err
			}
			m.timeout.Arm(m.short)
			m.state = StateWaitDone
			if !foup {
				m.emit(EventDataCollectionStop, "", "")
			}
		}
	case StateWaitDone:
		if !in.On(gpio.PinCS0) && !in.On(gpio.PinValid) && !in.On(gpio.PinCompt) {
			if err := m.setInfo(gpio.PinLoadLED, false); err != nil {
				return err
			}
			if err := m.setInfo(gpio.PinUnloadLED, false); err != nil {
				return err
			}
			m.timeout.Disarm()
			m.state = StateIdle
			m.pending = ReasonCompleted
			m.log.Info("transfer over")
		}
	}
	return nil
}

func (m *Machine) idle(in Inputs, foup bool) error {
	if !in.On(gpio.PinGO) || !in.On(gpio.PinCS0) || !in.On(gpio.PinValid) {
		return nil
	}

	req, led, kind := gpio.PinLReq, gpio.PinLoadLED, "load"
	if foup {
		req, led, kind = gpio.PinUReq, gpio.PinUnloadLED, "unload"
	}
	if err := m.setSignal(req, true); err != nil {
		return err
	}
	if err := m.setInfo(led, true); err != nil {
		return err
	}
	m.timeout.Arm(m.short)
	m.state = StateWaitTrReq
	m.log.Info("handshake started", "transfer", kind)
	if foup {
		m.emit(EventDataCollectionStart, "", "")
	}
	return nil
}

func (m *Machine) toCompt(req gpio.PinName) error {
	if err := m.setSignal(req, false); err != nil {
		return err
	}
	m.timeout.Arm(m.long)
	m.state = StateWaitCompt
	return nil
}

func (m *Machine) abort(reason Reason, msg string) error {
	m.log.Warn("handshake aborted", "state", m.state, "reason", msg)
	m.emit(EventWarning, reason, msg)
	m.timeout.Disarm()
	m.state = StateIdle
	return m.clearOutputs()
}

func (m *Machine) clearOutputs() error {
	for _, name := range []gpio.PinName{gpio.PinLReq, gpio.PinUReq, gpio.PinReady} {
		if err := m.setSignal(name, false); err != nil {
			return err
		}
	}
	for _, name := range []gpio.PinName{gpio.PinLoadLED, gpio.PinUnloadLED} {
		if err := m.setInfo(name, false); err != nil {
			return err
		}
	}
	return nil
}

func (m *Machine) emit(kind EventKind, reason Reason, msg string) {
	m.events = append(m.events, Event{Kind: kind, State: m.state, Reason: reason, Message: msg, Time: m.now()})
}

func (m *Machine) setSignal(name gpio.PinName, on bool) error {
	if err := m.signals.SetOutput(name, on); err != nil {
		return fmt.Errorf("set %s: %w", name, err)
	}
	return nil
}

func (m *Machine) setInfo(name gpio.PinName, on bool) error {
	if err := m.info.SetOutput(name, on); err != nil {
		return fmt.Errorf("set %s: %w", name, err)
	}
	return nil
}
