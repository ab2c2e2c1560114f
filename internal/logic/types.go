// Package logic contains the pure motion-monitor state machine for a PIR sensor.
// This package has NO external dependencies (no GPIO, MQTT, OS, or time.Sleep).
// Time is always injectable via time.Time parameters.
package logic

import (
	"errors"
	"time"
)

// Level is the logical level of the sensor output.
type Level string

const (
	LevelHigh Level = "HIGH"
	LevelLow  Level = "LOW"
)

// LevelOf converts a raw reading (true = HIGH) into a Level.
func LevelOf(high bool) Level {
	if high {
		return LevelHigh
	}
	return LevelLow
}

// EventType identifies what a monitor event reports.
type EventType string

const (
	EventLevelChanged EventType = "LEVEL_CHANGED"
	EventMotion       EventType = "MOTION"
	EventSummary      EventType = "SUMMARY"
)

// Event is emitted by Monitor.Process.
//
// LEVEL_CHANGED sets Level to the new level and Held to how long the previous
// level lasted. MOTION sets Held to how long the level has been HIGH.
// SUMMARY sets High and Low to the time accumulated since the prior summary.
type Event struct {
	Timestamp time.Time
	Type      EventType
	Level     Level
	Held      time.Duration
	High      time.Duration
	Low       time.Duration
}

// DutyCycle returns the fraction of summarized time spent HIGH.
// Zero when nothing has been accumulated.
func (e Event) DutyCycle() float64 {
	total := e.High + e.Low
	if total <= 0 {
		return 0
	}
	return float64(e.High) / float64(total)
}

// Config holds the monitor's timing thresholds. They are fixed for the
// monitor's lifetime.
type Config struct {
	// SampleInterval is credited to the HIGH or LOW accumulator on every tick.
	SampleInterval time.Duration
	// MinHigh is how long the level must stay HIGH before it counts as motion.
	MinHigh time.Duration
	// Cooldown is the minimum time between two MOTION events.
	Cooldown time.Duration
	// SummaryInterval is how often a SUMMARY event is emitted.
	SummaryInterval time.Duration
}

// ErrNegativeDuration is returned by NewMonitor for a negative Config field.
var ErrNegativeDuration = errors.New("negative duration")

// Input represents a single sample of the sensor.
type Input struct {
	Level Level
	Time  time.Time
}

// Counts tracks cumulative event totals since startup. Summaries do not reset it.
type Counts struct {
	High       int // LEVEL_CHANGED to HIGH
	Low        int // LEVEL_CHANGED to LOW
	Motion     int
	Suppressed int // qualifying HIGH runs swallowed by the cooldown
	Summaries  int
}

// Stats is a read-only view of the monitor for status reporting.
type Stats struct {
	Level       Level
	Since       time.Time
	LastMotion  time.Time // zero if no motion yet
	LastSummary *Event    // nil until the first summary
	Counts      Counts
}

// HeartbeatData contains information for a heartbeat event.
type HeartbeatData struct {
	Timestamp time.Time
	Uptime    time.Duration
	Counts    Counts
}
