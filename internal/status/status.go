// Package status provides a thread-safe status tracker for the e84-loadport
// daemon. It is read by the HTTP handlers and the heartbeat.
package status

import (
	"sync"
	"time"

	"github.com/sweeney/e84-loadport/internal/loadport"
)

// NetworkInfo contains network state as reported by the host.
type NetworkInfo struct {
	Type       string
	IP         string
	Status     string
	Gateway    string
	WifiStatus string
	SSID       string
}

// Config contains daemon configuration for display.
type Config struct {
	Chip           string
	Simulated      bool
	RefreshMs      int64
	DebounceMs     int64
	ShortTimeoutMs int64
	LongTimeoutMs  int64
	HeartbeatMs    int64
	Broker         string
	RedisAddr      string
	HTTPAddr       string
}

// Counts tracks controller events since startup.
type Counts struct {
	Handshakes        int
	Transfers         int
	Timeouts          int
	Interruptions     int
	Faults            int
	AcquisitionStarts int
	AcquisitionStops  int
	AllKeysSet        int
}

// Snapshot is a point-in-time view of daemon state.
// It is a value type, safe to use after the lock is released.
type Snapshot struct {
	Controller     loadport.Status
	Counts         Counts
	LastWarning    string
	LastFault      string
	StartTime      time.Time
	Now            time.Time
	MQTTConnected  bool
	RedisConnected bool
	Network        *NetworkInfo
	Config         Config
}

// Uptime returns the duration since the daemon started.
func (s Snapshot) Uptime() time.Duration {
	return s.Now.Sub(s.StartTime)
}

// Tracker holds mutable daemon state behind an RWMutex.
type Tracker struct {
	mu   sync.RWMutex
	snap Snapshot
	now  func() time.Time
}

// NewTracker creates a Tracker with the given start time and config.
func NewTracker(startTime time.Time, cfg Config) *Tracker {
	return &Tracker{
		snap: Snapshot{
			Controller: loadport.Status{State: loadport.StateIdle},
			StartTime:  startTime,
			Config:     cfg,
		},
		now: time.Now,
	}
}

// Update stores the latest controller status.
func (t *Tracker) Update(st loadport.Status) {
	t.mu.Lock()
	t.snap.Controller = st
	t.mu.Unlock()
}

// Observe counts a controller event. It has the loadport.Handler signature
// and only takes the lock briefly, so it can subscribe directly.
func (t *Tracker) Observe(ev loadport.Event) {
	t.mu.Lock()
	defer t.mu.Unlock()

	c := &t.snap.Counts
	switch ev.Kind {
	case loadport.EventStateChanged:
		switch {
		case ev.State == loadport.StateWaitTrReq:
			c.Handshakes++
		case ev.Reason == loadport.ReasonCompleted:
			c.Transfers++
		}
	case loadport.EventWarning:
		switch ev.Reason {
		case loadport.ReasonTimeout:
			c.Timeouts++
		case loadport.ReasonInterrupted:
			c.Interruptions++
		}
		t.snap.LastWarning = ev.Message
	case loadport.EventFatalError:
		c.Faults++
		t.snap.LastFault = ev.Message
		t.snap.Controller.Running = false
	case loadport.EventDataCollectionStart:
		c.AcquisitionStarts++
	case loadport.EventDataCollectionStop:
		c.AcquisitionStops++
	case loadport.EventAllKeysSet:
		c.AllKeysSet++
	}
}

// SetMQTTConnected sets the MQTT connection status.
func (t *Tracker) SetMQTTConnected(connected bool) {
	t.mu.Lock()
	t.snap.MQTTConnected = connected
	t.mu.Unlock()
}

// SetRedisConnected sets the Redis connection status.
func (t *Tracker) SetRedisConnected(connected bool) {
	t.mu.Lock()
	t.snap.RedisConnected = connected
	t.mu.Unlock()
}

// SetNetwork sets the network info.
func (t *Tracker) SetNetwork(info *NetworkInfo) {
	t.mu.Lock()
	t.snap.Network = info
	t.mu.Unlock()
}

// Snapshot returns a point-in-time copy of the daemon state.
// The Now field is set to the current time at the moment of the call.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	s := t.snap
	t.mu.RUnlock()
	s.Now = t.now()
	return s
}
