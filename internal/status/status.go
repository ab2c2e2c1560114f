// Package status provides a thread-safe status tracker for the pir-sensor daemon.
// It is read by the HTTP handlers and by MQTT system events.
package status

import (
	"sync"
	"time"

	"github.com/sweeney/pir-sensor/internal/logic"
)

// NetworkInfo contains network state as reported by pi-helper.
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
	Pin         int
	Backend     string
	WarmupMs    int64
	SampleMs    int64
	MinHighMs   int64
	CooldownMs  int64
	SummaryMs   int64
	HeartbeatMs int64
	Broker      string
	HTTPAddr    string
}

// Snapshot is a point-in-time view of daemon state.
// It is a value type, safe to use after the lock is released.
type Snapshot struct {
	Ready         bool // warm-up finished and the monitor is running
	Level         logic.Level
	Since         time.Time
	LastMotion    time.Time
	LastSummary   *logic.Event
	Counts        logic.Counts
	StartTime     time.Time
	Now           time.Time
	BootID        string
	MQTTConnected bool
	Network       *NetworkInfo
	Config        Config
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

// NewTracker creates a Tracker with the given start time, config and boot id.
func NewTracker(startTime time.Time, cfg Config, bootID string) *Tracker {
	return &Tracker{
		snap: Snapshot{
			StartTime: startTime,
			Config:    cfg,
			BootID:    bootID,
		},
		now: time.Now,
	}
}

// Update copies the monitor statistics and marks the tracker ready.
// Called from runLoop on every tick.
func (t *Tracker) Update(stats logic.Stats) {
	t.mu.Lock()
	t.snap.Ready = true
	t.snap.Level = stats.Level
	t.snap.Since = stats.Since
	t.snap.LastMotion = stats.LastMotion
	t.snap.LastSummary = stats.LastSummary
	t.snap.Counts = stats.Counts
	t.mu.Unlock()
}

// SetMQTTConnected sets the MQTT connection status.
func (t *Tracker) SetMQTTConnected(connected bool) {
	t.mu.Lock()
	t.snap.MQTTConnected = connected
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
	if s.LastSummary != nil {
		e := *s.LastSummary
		s.LastSummary = &e
	}
	s.Now = t.now()
	return s
}
