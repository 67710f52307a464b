// Package mqtt publishes load-port events, acquisition triggers and system
// lifecycle events to an MQTT broker, with a fake for tests.
package mqtt

import (
	"encoding/json"
	"time"

	"github.com/sweeney/e84-loadport/internal/loadport"
)

// DefaultTopicPrefix is prepended to every topic.
const DefaultTopicPrefix = "loadport"

// Topics holds the fully qualified topic names.
type Topics struct {
	// Events carries every controller event.
	Events string
	// Acquisition carries START/STOP commands for the data acquisition
	// subsystem.
	Acquisition string
	// System carries STARTUP, SHUTDOWN, HEARTBEAT and RECONNECTED.
	System string
}

// NewTopics derives the topic names from prefix.
func NewTopics(prefix string) Topics {
	if prefix == "" {
		prefix = DefaultTopicPrefix
	}
	return Topics{
		Events:      prefix + "/events",
		Acquisition: prefix + "/acquisition",
		System:      prefix + "/system",
	}
}

// Publisher publishes events to MQTT.
type Publisher interface {
	// Publish sends a controller event. Data collection events are also
	// sent to the acquisition topic.
	// Returns error if publishing fails (should not crash the process).
	Publish(event loadport.Event) error

	// PublishSystem sends a system lifecycle event to the broker.
	PublishSystem(event SystemEvent) error

	// Close disconnects from the broker.
	Close() error
}

// ConnectionStatus reports whether the MQTT connection is active.
type ConnectionStatus interface {
	IsConnected() bool
}

// SystemEvent represents a system lifecycle event (e.g., startup, shutdown, heartbeat).
type SystemEvent struct {
	Timestamp  time.Time
	Event      string // e.g., "STARTUP", "SHUTDOWN", "HEARTBEAT"
	Reason     string // e.g., "SIGTERM", "SIGINT" (shutdown only)
	RawPayload []byte // Pre-formatted JSON payload; if set, FormatSystemPayload returns it directly
	Retained   bool   // Whether the message should be retained by the broker
}

// Payload is the message published for a controller event.
type Payload struct {
	LoadPort EventPayload `json:"loadport"`
}

// EventPayload contains the controller event details.
type EventPayload struct {
	Timestamp string `json:"timestamp"`
	Event     string `json:"event"`
	State     string `json:"state"`
	Reason    string `json:"reason,omitempty"`
	Message   string `json:"message,omitempty"`
}

// FormatPayload creates the JSON payload for a controller event.
func FormatPayload(event loadport.Event) ([]byte, error) {
	payload := Payload{
		LoadPort: EventPayload{
			Timestamp: event.Time.UTC().Format(time.RFC3339),
			Event:     string(event.Kind),
			State:     string(event.State),
			Reason:    string(event.Reason),
			Message:   event.Message,
		},
	}
	return json.Marshal(payload)
}

// Acquisition commands.
const (
	AcquisitionStart = "START"
	AcquisitionStop  = "STOP"
)

// AcquisitionCommand maps a data collection event to its command.
func AcquisitionCommand(kind loadport.EventKind) (string, bool) {
	switch kind {
	case loadport.EventDataCollectionStart:
		return AcquisitionStart, true
	case loadport.EventDataCollectionStop:
		return AcquisitionStop, true
	default:
		return "", false
	}
}

// AcquisitionPayload is the message published on the acquisition topic.
type AcquisitionPayload struct {
	Acquisition AcquisitionInner `json:"acquisition"`
}

type AcquisitionInner struct {
	Timestamp string `json:"timestamp"`
	Command   string `json:"command"`
}

// FormatAcquisitionPayload creates the acquisition trigger for event. ok is
// false for events that are not data collection boundaries.
func FormatAcquisitionPayload(event loadport.Event) (payload []byte, ok bool, err error) {
	cmd, ok := AcquisitionCommand(event.Kind)
	if !ok {
		return nil, false, nil
	}
	payload, err = json.Marshal(AcquisitionPayload{
		Acquisition: AcquisitionInner{
			Timestamp: event.Time.UTC().Format(time.RFC3339),
			Command:   cmd,
		},
	})
	return payload, true, err
}

// SystemPayload represents the MQTT message payload for system events.
// Used for simple events (LWT, RECONNECTED) that don't carry a full status snapshot.
type SystemPayload struct {
	System SystemPayloadInner `json:"system"`
}

// SystemPayloadInner contains the system event details.
type SystemPayloadInner struct {
	Timestamp string `json:"timestamp"`
	Event     string `json:"event"`
	Reason    string `json:"reason,omitempty"`
}

// FormatSystemPayload creates the JSON payload for a system event.
// If event.RawPayload is set, it is returned directly (used for full status snapshots).
func FormatSystemPayload(event SystemEvent) ([]byte, error) {
	if event.RawPayload != nil {
		return event.RawPayload, nil
	}

	payload := SystemPayload{
		System: SystemPayloadInner{
			Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
			Event:     event.Event,
			Reason:    event.Reason,
		},
	}
	return json.Marshal(payload)
}
