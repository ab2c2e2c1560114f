package status

import (
	"encoding/json"
	"time"
)

// StatusJSON is the top-level JSON envelope for status output.
type StatusJSON struct {
	Status StatusInner `json:"status"`
}

// StatusInner contains the status details.
type StatusInner struct {
	Event         string       `json:"event,omitempty"`
	Reason        string       `json:"reason,omitempty"`
	BootID        string       `json:"boot_id,omitempty"`
	Level         string       `json:"level"`
	LevelSince    string       `json:"level_since,omitempty"`
	LastMotion    string       `json:"last_motion,omitempty"`
	Ready         bool         `json:"ready"`
	UptimeSeconds int64        `json:"uptime_seconds"`
	StartTime     string       `json:"start_time"`
	Timestamp     string       `json:"timestamp"`
	MQTT          MQTTStatus   `json:"mqtt"`
	Counts        CountsJSON   `json:"event_counts"`
	Summary       *SummaryJSON `json:"last_summary,omitempty"`
	Network       *NetworkJSON `json:"network,omitempty"`
	Config        ConfigJSON   `json:"config"`
}

// MQTTStatus reports MQTT connection state.
type MQTTStatus struct {
	Connected bool   `json:"connected"`
	Broker    string `json:"broker"`
}

// CountsJSON is the JSON representation of event counts.
type CountsJSON struct {
	High       int `json:"high"`
	Low        int `json:"low"`
	Motion     int `json:"motion"`
	Suppressed int `json:"suppressed"`
	Summaries  int `json:"summaries"`
}

// SummaryJSON is the most recent duty-cycle summary.
type SummaryJSON struct {
	Timestamp string  `json:"timestamp"`
	HighMs    int64   `json:"high_ms"`
	LowMs     int64   `json:"low_ms"`
	DutyCycle float64 `json:"duty_cycle"`
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
	Pin         int    `json:"pin"`
	Backend     string `json:"gpio_backend"`
	WarmupMs    int64  `json:"warmup_ms"`
	SampleMs    int64  `json:"sample_ms"`
	MinHighMs   int64  `json:"min_high_ms"`
	CooldownMs  int64  `json:"cooldown_ms"`
	SummaryMs   int64  `json:"summary_ms"`
	HeartbeatMs int64  `json:"heartbeat_ms"`
	Broker      string `json:"broker"`
	HTTPAddr    string `json:"http_addr"`
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func buildInner(snap Snapshot) StatusInner {
	level := string(snap.Level)
	if !snap.Ready || level == "" {
		level = "UNKNOWN"
	}

	inner := StatusInner{
		BootID:        snap.BootID,
		Level:         level,
		LevelSince:    formatTime(snap.Since),
		LastMotion:    formatTime(snap.LastMotion),
		Ready:         snap.Ready,
		UptimeSeconds: int64(snap.Uptime().Truncate(time.Second).Seconds()),
		StartTime:     snap.StartTime.UTC().Format(time.RFC3339),
		Timestamp:     snap.Now.UTC().Format(time.RFC3339),
		MQTT:          MQTTStatus{Connected: snap.MQTTConnected, Broker: snap.Config.Broker},
		Counts: CountsJSON{
			High:       snap.Counts.High,
			Low:        snap.Counts.Low,
			Motion:     snap.Counts.Motion,
			Suppressed: snap.Counts.Suppressed,
			Summaries:  snap.Counts.Summaries,
		},
		Config: ConfigJSON{
			Pin:         snap.Config.Pin,
			Backend:     snap.Config.Backend,
			WarmupMs:    snap.Config.WarmupMs,
			SampleMs:    snap.Config.SampleMs,
			MinHighMs:   snap.Config.MinHighMs,
			CooldownMs:  snap.Config.CooldownMs,
			SummaryMs:   snap.Config.SummaryMs,
			HeartbeatMs: snap.Config.HeartbeatMs,
			Broker:      snap.Config.Broker,
			HTTPAddr:    snap.Config.HTTPAddr,
		},
	}
	if s := snap.LastSummary; s != nil {
		inner.Summary = &SummaryJSON{
			Timestamp: formatTime(s.Timestamp),
			HighMs:    s.High.Milliseconds(),
			LowMs:     s.Low.Milliseconds(),
			DutyCycle: s.DutyCycle(),
		}
	}
	if snap.Network != nil {
		inner.Network = &NetworkJSON{
			Type:       snap.Network.Type,
			IP:         snap.Network.IP,
			Status:     snap.Network.Status,
			Gateway:    snap.Network.Gateway,
			WifiStatus: snap.Network.WifiStatus,
			SSID:       snap.Network.SSID,
		}
	}
	return inner
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
