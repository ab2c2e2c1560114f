// Package mqtt provides MQTT publishing with abstraction for testing.
package mqtt

import (
	"encoding/json"
	"time"

	"github.com/sosodev/duration"

	"github.com/sweeney/pir-sensor/internal/logic"
)

// Topic is the MQTT topic for motion monitor events.
const Topic = "sensor/pir/events"

// TopicSystem is the MQTT topic for system lifecycle events.
const TopicSystem = "sensor/pir/system"

// Publisher publishes events to MQTT.
type Publisher interface {
	// Publish sends a monitor event to the broker.
	// Returns error if publishing fails (should not crash the process).
	Publish(event logic.Event) error

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
	BootID     string // identifies this process run; empty omits the field
	RawPayload []byte // Pre-formatted JSON payload; if set, FormatSystemPayload returns it directly
	Retained   bool   // Whether the message should be retained by the broker
}

// Payload represents the MQTT message payload structure.
type Payload struct {
	PIR PIRPayload `json:"pir"`
}

// PIRPayload contains the monitor event details.
// Held fields are set for LEVEL_CHANGED and MOTION; Summary for SUMMARY.
type PIRPayload struct {
	Timestamp string          `json:"timestamp"`
	Event     string          `json:"event"`
	Level     string          `json:"level"`
	HeldMs    *int64          `json:"held_ms,omitempty"`
	Held      string          `json:"held,omitempty"`
	Summary   *SummaryPayload `json:"summary,omitempty"`
}

// SummaryPayload carries duty-cycle totals since the previous summary.
type SummaryPayload struct {
	HighMs    int64   `json:"high_ms"`
	LowMs     int64   `json:"low_ms"`
	High      string  `json:"high"`
	Low       string  `json:"low"`
	DutyCycle float64 `json:"duty_cycle"`
}

// ISODuration renders d as an ISO 8601 duration, e.g. PT0.3S.
func ISODuration(d time.Duration) string {
	return duration.Format(d)
}

// NewPayload builds the payload for a monitor event.
func NewPayload(event logic.Event) Payload {
	p := PIRPayload{
		Timestamp: event.Timestamp.UTC().Format(time.RFC3339Nano),
		Event:     string(event.Type),
		Level:     string(event.Level),
	}
	if event.Type == logic.EventSummary {
		p.Summary = &SummaryPayload{
			HighMs:    event.High.Milliseconds(),
			LowMs:     event.Low.Milliseconds(),
			High:      ISODuration(event.High),
			Low:       ISODuration(event.Low),
			DutyCycle: event.DutyCycle(),
		}
	} else {
		ms := event.Held.Milliseconds()
		p.HeldMs = &ms
		p.Held = ISODuration(event.Held)
	}
	return Payload{PIR: p}
}

// FormatPayload creates the JSON payload for a monitor event.
func FormatPayload(event logic.Event) ([]byte, error) {
	return json.Marshal(NewPayload(event))
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
	BootID    string `json:"boot_id,omitempty"`
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
		BootID: event.BootID,
	}
	// A zero timestamp is omitted: the will is registered at connect time
	// and would otherwise carry a stale time when the broker publishes it.
	if !event.Timestamp.IsZero() {
		inner.Timestamp = event.Timestamp.UTC().Format(time.RFC3339)
	}
	return json.Marshal(SystemPayload{System: inner})
}
