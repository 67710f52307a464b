package status

import (
	"encoding/json"
	"time"

	"github.com/sweeney/e84-loadport/internal/gpio"
)

// StatusJSON is the top-level JSON envelope for status output.
type StatusJSON struct {
	Status StatusInner `json:"status"`
}

// StatusInner contains the status details.
type StatusInner struct {
	Event         string                `json:"event,omitempty"`
	Reason        string                `json:"reason,omitempty"`
	Running       bool                  `json:"running"`
	State         string                `json:"state"`
	FoupPresent   bool                  `json:"foup_present"`
	Keys          [3]bool               `json:"keys"`
	KeysAllSet    bool                  `json:"keys_all_set"`
	Inputs        map[gpio.PinName]bool `json:"inputs"`
	LastWarning   string                `json:"last_warning,omitempty"`
	LastFault     string                `json:"last_fault,omitempty"`
	UptimeSeconds int64                 `json:"uptime_seconds"`
	StartTime     string                `json:"start_time"`
	Timestamp     string                `json:"timestamp"`
	MQTT          LinkStatus            `json:"mqtt"`
	Redis         LinkStatus            `json:"redis"`
	Counts        CountsJSON            `json:"event_counts"`
	Network       *NetworkJSON          `json:"network,omitempty"`
	Config        ConfigJSON            `json:"config"`
}

// LinkStatus reports a broker connection.
type LinkStatus struct {
	Connected bool   `json:"connected"`
	Addr      string `json:"addr"`
}

// CountsJSON is the JSON representation of event counts.
type CountsJSON struct {
	Handshakes        int `json:"handshakes"`
	Transfers         int `json:"transfers"`
	Timeouts          int `json:"timeouts"`
	Interruptions     int `json:"interruptions"`
	Faults            int `json:"faults"`
	AcquisitionStarts int `json:"acquisition_starts"`
	AcquisitionStops  int `json:"acquisition_stops"`
	AllKeysSet        int `json:"all_keys_set"`
}

// NetworkJSON is the JSON representation of network info.
type NetworkJSON struct {
	Type       string `json:"type"`
	IP         string `json:"ip"`
	Status     string `json:"status"`
	Gateway    string `json:"gateway"`
	WifiStatus string `json:"wifi_status"`
	SSID       string `json:"ssid"`
}

// ConfigJSON is the JSON representation of daemon config.
type ConfigJSON struct {
	Chip           string `json:"chip,omitempty"`
	Simulated      bool   `json:"simulated"`
	RefreshMs      int64  `json:"refresh_ms"`
	DebounceMs     int64  `json:"debounce_ms"`
	ShortTimeoutMs int64  `json:"short_timeout_ms"`
	LongTimeoutMs  int64  `json:"long_timeout_ms"`
	HeartbeatMs    int64  `json:"heartbeat_ms"`
	HTTPAddr       string `json:"http_addr,omitempty"`
}

func buildInner(snap Snapshot) StatusInner {
	ctl := snap.Controller
	state := string(ctl.State)
	if state == "" {
		state = "UNKNOWN"
	}

	return StatusInner{
		Running:       ctl.Running,
		State:         state,
		FoupPresent:   ctl.FoupPresent,
		Keys:          ctl.Keys,
		KeysAllSet:    ctl.KeysAllSet,
		Inputs:        ctl.Inputs.Map(),
		LastWarning:   snap.LastWarning,
		LastFault:     snap.LastFault,
		UptimeSeconds: int64(snap.Uptime().Truncate(time.Second).Seconds()),
		StartTime:     snap.StartTime.UTC().Format(time.RFC3339),
		Timestamp:     snap.Now.UTC().Format(time.RFC3339),
		MQTT:          LinkStatus{Connected: snap.MQTTConnected, Addr: snap.Config.Broker},
		Redis:         LinkStatus{Connected: snap.RedisConnected, Addr: snap.Config.RedisAddr},
		Counts: CountsJSON{
			Handshakes:        snap.Counts.Handshakes,
			Transfers:         snap.Counts.Transfers,
			Timeouts:          snap.Counts.Timeouts,
			Interruptions:     snap.Counts.Interruptions,
			Faults:            snap.Counts.Faults,
			AcquisitionStarts: snap.Counts.AcquisitionStarts,
			AcquisitionStops:  snap.Counts.AcquisitionStops,
			AllKeysSet:        snap.Counts.AllKeysSet,
		},
		Network: buildNetwork(snap.Network),
		Config: ConfigJSON{
			Chip:           snap.Config.Chip,
			Simulated:      snap.Config.Simulated,
			RefreshMs:      snap.Config.RefreshMs,
			DebounceMs:     snap.Config.DebounceMs,
			ShortTimeoutMs: snap.Config.ShortTimeoutMs,
			LongTimeoutMs:  snap.Config.LongTimeoutMs,
			HeartbeatMs:    snap.Config.HeartbeatMs,
			HTTPAddr:       snap.Config.HTTPAddr,
		},
	}
}

func buildNetwork(n *NetworkInfo) *NetworkJSON {
	if n == nil {
		return nil
	}
	return &NetworkJSON{
		Type:       n.Type,
		IP:         n.IP,
		Status:     n.Status,
		Gateway:    n.Gateway,
		WifiStatus: n.WifiStatus,
		SSID:       n.SSID,
	}
}

// FormatJSON returns the JSON status for the web endpoint (no event/reason).
func FormatJSON(snap Snapshot) []byte {
	data, _ := json.MarshalIndent(StatusJSON{Status: buildInner(snap)}, "", "  ")
	return data
}

// FormatStatusEvent returns the JSON status for an MQTT system event.
func FormatStatusEvent(snap Snapshot, event, reason string) []byte {
	inner := buildInner(snap)
	inner.Event = event
	inner.Reason = reason

	data, _ := json.Marshal(StatusJSON{Status: inner})
	return data
}
