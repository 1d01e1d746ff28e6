// Package mqtt provides MQTT publishing with abstraction for testing.
package mqtt

import (
	"encoding/json"
	"math"
	"time"

	"github.com/sweeney/shot-sensor/internal/logic"
)

// TopicPrefix is the root of every topic the daemon publishes on.
const TopicPrefix = "nbi/shot-sensor"

// TopicSystem is the MQTT topic for system lifecycle events.
const TopicSystem = TopicPrefix + "/system"

// ShotTopic returns the topic shot events for device are published on.
func ShotTopic(device string) string {
	return TopicPrefix + "/" + device + "/shot"
}

// Publisher publishes events to MQTT.
type Publisher interface {
	// Publish sends a shot event for device to the broker.
	// Returns error if publishing fails (should not crash the process).
	Publish(device string, event logic.Event) error

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

// Payload represents the MQTT message payload structure.
type Payload struct {
	Shot ShotPayload `json:"shot"`
}

// ShotPayload contains the shot event details.
type ShotPayload struct {
	Device    string  `json:"device"`
	Timestamp string  `json:"timestamp"`
	Unix      float64 `json:"unix"`
	Mode      string  `json:"mode"`
	Count     int     `json:"count"`
}

// FormatPayload creates the JSON payload for a shot event.
func FormatPayload(device string, event logic.Event) ([]byte, error) {
	unix := logic.Seconds(event.Timestamp)
	if math.IsNaN(unix) {
		unix = 0
	}
	payload := Payload{
		Shot: ShotPayload{
			Device:    device,
			Timestamp: event.Timestamp.UTC().Format(time.RFC3339Nano),
			Unix:      unix,
			Mode:      event.Mode.String(),
			Count:     event.Count,
		},
	}
	return json.Marshal(payload)
}

// SystemPayload represents the MQTT message payload for system events.
// Used for simple events (LWT, RECONNECTED) that don't carry a full status snapshot.
type SystemPayload struct {
	System SystemPayloadInner `json:"system"`
}

// SystemPayloadInner contains the system event details.
type SystemPayloadInner struct {
	Timestamp string `json:"timestamp,omitempty"`
	Event     string `json:"event"`
	Reason    string `json:"reason,omitempty"`
}

// FormatSystemPayload creates the JSON payload for a system event.
// If event.RawPayload is set, it is returned directly (used for full status snapshots).
func FormatSystemPayload(event SystemEvent) ([]byte, error) {
	if event.RawPayload != nil {
		return event.RawPayload, nil
	}

	inner := SystemPayloadInner{
		Event:  event.Event,
		Reason: event.Reason,
	}
	if !event.Timestamp.IsZero() {
		inner.Timestamp = event.Timestamp.UTC().Format(time.RFC3339)
	}
	return json.Marshal(SystemPayload{System: inner})
}
