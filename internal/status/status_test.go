package status

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/sweeney/e84-loadport/internal/gpio"
	"github.com/sweeney/e84-loadport/internal/loadport"
)

func stateChanged(s loadport.State) loadport.Event {
	return loadport.Event{Kind: loadport.EventStateChanged, State: s}
}

func TestNewTracker(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	cfg := Config{RefreshMs: 200, DebounceMs: 200, Broker: "tcp://localhost:1883"}
	tr := NewTracker(start, cfg)

	snap := tr.Snapshot()
	if snap.Controller.State != loadport.StateIdle {
		t.Errorf("State: got %q, want idle", snap.Controller.State)
	}
	if snap.Controller.Running {
		t.Error("expected Running=false initially")
	}
	if snap.StartTime != start {
		t.Errorf("StartTime: got %v, want %v", snap.StartTime, start)
	}
	if snap.Config.RefreshMs != 200 {
		t.Errorf("Config.RefreshMs: got %d, want 200", snap.Config.RefreshMs)
	}
	if snap.MQTTConnected || snap.RedisConnected {
		t.Error("expected links disconnected initially")
	}
}

func TestTrackerUpdate(t *testing.T) {
	tr := NewTracker(time.Now(), Config{})
	tr.Update(loadport.Status{
		Running:     true,
		State:       loadport.StateWaitBusy,
		FoupPresent: true,
		Keys:        loadport.Keys{true, false, false},
	})

	snap := tr.Snapshot()
	if !snap.Controller.Running {
		t.Error("expected Running=true")
	}
	if snap.Controller.State != loadport.StateWaitBusy {
		t.Errorf("State: got %q, want wait_busy", snap.Controller.State)
	}
	if !snap.Controller.FoupPresent {
		t.Error("expected FoupPresent=true")
	}
}

func TestObserveLoadCycle(t *testing.T) {
	tr := NewTracker(time.Now(), Config{})

	for _, s := range []loadport.State{
		loadport.StateWaitTrReq,
		loadport.StateWaitBusy,
		loadport.StateWaitLReq,
		loadport.StateWaitCompt,
		loadport.StateWaitDone,
	} {
		tr.Observe(stateChanged(s))
	}
	tr.Observe(loadport.Event{Kind: loadport.EventStateChanged, State: loadport.StateIdle, Reason: loadport.ReasonCompleted})
	tr.Observe(loadport.Event{Kind: loadport.EventDataCollectionStart})
	tr.Observe(loadport.Event{Kind: loadport.EventDataCollectionStop})

	c := tr.Snapshot().Counts
	if c.Handshakes != 1 {
		t.Errorf("Handshakes: got %d, want 1", c.Handshakes)
	}
	if c.Transfers != 1 {
		t.Errorf("Transfers: got %d, want 1", c.Transfers)
	}
	if c.AcquisitionStarts != 1 || c.AcquisitionStops != 1 {
		t.Errorf("Acquisition: got %d/%d, want 1/1", c.AcquisitionStarts, c.AcquisitionStops)
	}
}

func TestObserveAbortIsNotTransfer(t *testing.T) {
	tr := NewTracker(time.Now(), Config{})

	tr.Observe(stateChanged(loadport.StateWaitTrReq))
	tr.Observe(loadport.Event{Kind: loadport.EventWarning, Reason: loadport.ReasonInterrupted, Message: "handshake interrupted in wait_tr_req: VALID dropped"})
	tr.Observe(stateChanged(loadport.StateIdle))

	snap := tr.Snapshot()
	if snap.Counts.Transfers != 0 {
		t.Errorf("Transfers: got %d, want 0", snap.Counts.Transfers)
	}
	if snap.Counts.Interruptions != 1 {
		t.Errorf("Interruptions: got %d, want 1", snap.Counts.Interruptions)
	}
	if snap.LastWarning == "" {
		t.Error("expected LastWarning to be set")
	}
}

func TestObserveTimeoutWarning(t *testing.T) {
	tr := NewTracker(time.Now(), Config{})
	tr.Observe(loadport.Event{Kind: loadport.EventWarning, Reason: loadport.ReasonTimeout, Message: "handshake timeout in wait_busy"})

	c := tr.Snapshot().Counts
	if c.Timeouts != 1 {
		t.Errorf("Timeouts: got %d, want 1", c.Timeouts)
	}
	if c.Interruptions != 0 {
		t.Errorf("Interruptions: got %d, want 0", c.Interruptions)
	}
}

func TestObserveFatalError(t *testing.T) {
	tr := NewTracker(time.Now(), Config{})
	tr.Update(loadport.Status{Running: true, State: loadport.StateIdle})
	tr.Observe(loadport.Event{Kind: loadport.EventFatalError, Message: "read failed"})

	snap := tr.Snapshot()
	if snap.Counts.Faults != 1 {
		t.Errorf("Faults: got %d, want 1", snap.Counts.Faults)
	}
	if snap.LastFault != "read failed" {
		t.Errorf("LastFault: got %q", snap.LastFault)
	}
	if snap.Controller.Running {
		t.Error("expected Running=false after fatal error")
	}
}

func TestObserveIgnoresUpdateRace(t *testing.T) {
	tr := NewTracker(time.Now(), Config{})
	tr.Observe(stateChanged(loadport.StateWaitDone))
	// A status poll may land before the state change is observed.
	tr.Update(loadport.Status{Running: true, State: loadport.StateIdle})
	tr.Observe(loadport.Event{Kind: loadport.EventStateChanged, State: loadport.StateIdle, Reason: loadport.ReasonCompleted})

	if got := tr.Snapshot().Counts.Transfers; got != 1 {
		t.Errorf("Transfers: got %d, want 1", got)
	}
}

func TestObserveWaitDoneTimeoutIsNotTransfer(t *testing.T) {
	tr := NewTracker(time.Now(), Config{})
	tr.Observe(stateChanged(loadport.StateWaitTrReq))
	tr.Observe(stateChanged(loadport.StateWaitDone))
	tr.Observe(loadport.Event{Kind: loadport.EventWarning, Reason: loadport.ReasonTimeout, Message: "handshake timeout in wait_done"})
	tr.Observe(stateChanged(loadport.StateIdle))

	c := tr.Snapshot().Counts
	if c.Transfers != 0 {
		t.Errorf("Transfers: got %d, want 0", c.Transfers)
	}
	if c.Timeouts != 1 {
		t.Errorf("Timeouts: got %d, want 1", c.Timeouts)
	}
}

func TestObserveWarningWithoutReason(t *testing.T) {
	tr := NewTracker(time.Now(), Config{})
	tr.Observe(loadport.Event{Kind: loadport.EventWarning, Message: "timeout mentioned but not a timeout"})

	snap := tr.Snapshot()
	if snap.Counts.Timeouts != 0 || snap.Counts.Interruptions != 0 {
		t.Errorf("counts: got %d/%d, want 0/0", snap.Counts.Timeouts, snap.Counts.Interruptions)
	}
	if snap.LastWarning == "" {
		t.Error("expected LastWarning to be set")
	}
}

func TestSetConnections(t *testing.T) {
	tr := NewTracker(time.Now(), Config{})

	tr.SetMQTTConnected(true)
	tr.SetRedisConnected(true)
	snap := tr.Snapshot()
	if !snap.MQTTConnected || !snap.RedisConnected {
		t.Error("expected both links connected")
	}

	tr.SetMQTTConnected(false)
	if tr.Snapshot().MQTTConnected {
		t.Error("expected MQTTConnected=false")
	}
}

func TestSetNetwork(t *testing.T) {
	tr := NewTracker(time.Now(), Config{})

	if tr.Snapshot().Network != nil {
		t.Error("expected nil Network initially")
	}

	tr.SetNetwork(&NetworkInfo{Type: "wifi", IP: "192.168.1.42", Status: "connected"})

	snap := tr.Snapshot()
	if snap.Network == nil {
		t.Fatal("expected non-nil Network")
	}
	if snap.Network.IP != "192.168.1.42" {
		t.Errorf("Network.IP: got %q, want %q", snap.Network.IP, "192.168.1.42")
	}
}

func TestSnapshotUptime(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	snap := Snapshot{
		StartTime: start,
		Now:       start.Add(15 * time.Minute),
	}

	if snap.Uptime() != 15*time.Minute {
		t.Errorf("Uptime: got %v, want 15m", snap.Uptime())
	}
}

func TestSnapshotIsCopy(t *testing.T) {
	tr := NewTracker(time.Now(), Config{})
	tr.Update(loadport.Status{State: loadport.StateWaitBusy})

	snap1 := tr.Snapshot()
	tr.Update(loadport.Status{State: loadport.StateWaitCompt})

	if snap1.Controller.State != loadport.StateWaitBusy {
		t.Error("snapshot should be a copy; State was modified")
	}
}

func TestTrackerConcurrentAccess(t *testing.T) {
	tr := NewTracker(time.Now(), Config{})

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				tr.Observe(stateChanged(loadport.StateWaitTrReq))
			}
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				_ = tr.Snapshot()
			}
		}()
	}
	wg.Wait()

	if got := tr.Snapshot().Counts.Handshakes; got != 400 {
		t.Errorf("Handshakes: got %d, want 400", got)
	}
}

func TestFormatJSON(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	snap := Snapshot{
		Controller: loadport.Status{
			Running:     true,
			State:       loadport.StateWaitLReq,
			FoupPresent: true,
			Inputs:      loadport.NewInputs(map[gpio.PinName]bool{gpio.PinGO: true, gpio.PinValid: true}),
			Keys:        loadport.Keys{true, true, false},
		},
		Counts:        Counts{Handshakes: 5, Transfers: 4, Timeouts: 1},
		StartTime:     start,
		Now:           start.Add(15 * time.Minute),
		MQTTConnected: true,
		Config:        Config{RefreshMs: 200, DebounceMs: 200, HeartbeatMs: 900000, Broker: "tcp://localhost:1883", HTTPAddr: ":8080"},
	}

	data := FormatJSON(snap)

	var parsed StatusJSON
	if err := json.Unmarshal(data, &parsed); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}

	if parsed.Status.State != "wait_l_req" {
		t.Errorf("State: got %q, want wait_l_req", parsed.Status.State)
	}
	if !parsed.Status.Running {
		t.Error("expected Running=true")
	}
	if !parsed.Status.FoupPresent {
		t.Error("expected FoupPresent=true")
	}
	if parsed.Status.Keys != [3]bool{true, true, false} {
		t.Errorf("Keys: got %v", parsed.Status.Keys)
	}
	if !parsed.Status.Inputs[gpio.PinValid] {
		t.Error("expected VALID asserted in inputs")
	}
	if parsed.Status.UptimeSeconds != 900 {
		t.Errorf("UptimeSeconds: got %d, want 900", parsed.Status.UptimeSeconds)
	}
	if !parsed.Status.MQTT.Connected {
		t.Error("expected MQTT.Connected=true")
	}
	if parsed.Status.MQTT.Addr != "tcp://localhost:1883" {
		t.Errorf("MQTT.Addr: got %q", parsed.Status.MQTT.Addr)
	}
	if parsed.Status.Counts.Handshakes != 5 {
		t.Errorf("Counts.Handshakes: got %d, want 5", parsed.Status.Counts.Handshakes)
	}
	if parsed.Status.Config.HTTPAddr != ":8080" {
		t.Errorf("Config.HTTPAddr: got %q", parsed.Status.Config.HTTPAddr)
	}
	// Event and Reason should be omitted
	if parsed.Status.Event != "" {
		t.Errorf("expected empty Event for web format, got %q", parsed.Status.Event)
	}
	if parsed.Status.Reason != "" {
		t.Errorf("expected empty Reason for web format, got %q", parsed.Status.Reason)
	}
}

func TestFormatJSONUnknownState(t *testing.T) {
	snap := Snapshot{
		StartTime: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		Now:       time.Date(2026, 1, 1, 0, 0, 1, 0, time.UTC),
	}

	var parsed StatusJSON
	if err := json.Unmarshal(FormatJSON(snap), &parsed); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}

	if parsed.Status.State != "UNKNOWN" {
		t.Errorf("State: got %q, want UNKNOWN", parsed.Status.State)
	}
	if parsed.Status.Network != nil {
		t.Error("expected Network omitted")
	}
}

func TestFormatStatusEvent(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	snap := Snapshot{
		Controller: loadport.Status{State: loadport.StateIdle, Running: true},
		StartTime:  start,
		Now:        start.Add(15 * time.Minute),
		Network:    &NetworkInfo{Type: "ethernet", IP: "10.0.0.5"},
	}

	data := FormatStatusEvent(snap, "SHUTDOWN", "SIGTERM")

	var parsed StatusJSON
	if err := json.Unmarshal(data, &parsed); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}

	if parsed.Status.Event != "SHUTDOWN" {
		t.Errorf("Event: got %q, want SHUTDOWN", parsed.Status.Event)
	}
	if parsed.Status.Reason != "SIGTERM" {
		t.Errorf("Reason: got %q, want SIGTERM", parsed.Status.Reason)
	}
	if parsed.Status.State != "idle" {
		t.Errorf("State: got %q, want idle", parsed.Status.State)
	}
	if parsed.Status.Network == nil || parsed.Status.Network.IP != "10.0.0.5" {
		t.Errorf("Network: got %+v", parsed.Status.Network)
	}
}
