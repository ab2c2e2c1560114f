package logic

import (
	"fmt"
	"time"
)

// Monitor detects debounced motion from a binary sensor level and keeps
// duty-cycle statistics. It is not safe for concurrent use.
type Monitor struct {
	cfg Config

	lastLevel  Level
	stateSince time.Time

	// highStart is meaningful only while armed: the level went HIGH and no
	// MOTION has been considered for this run yet.
	highStart time.Time
	armed     bool

	lastTrigger time.Time
	triggered   bool

	highAccum   time.Duration
	lowAccum    time.Duration
	lastSummary time.Time

	startTime     time.Time
	lastHeartbeat time.Time
	counts        Counts
	summary       *Event
}

// NewMonitor creates a monitor whose previous level is initial, observed at
// start. A HIGH initial level is not armed: motion needs a LOW to HIGH edge.
func NewMonitor(cfg Config, initial Level, start time.Time) (*Monitor, error) {
	for _, f := range []struct {
		name string
		d    time.Duration
	}{
		{"sample interval", cfg.SampleInterval},
		{"min high", cfg.MinHigh},
		{"cooldown", cfg.Cooldown},
		{"summary interval", cfg.SummaryInterval},
	} {
		if f.d < 0 {
			return nil, fmt.Errorf("%s %v: %w", f.name, f.d, ErrNegativeDuration)
		}
	}
	if initial != LevelHigh {
		initial = LevelLow
	}
	return &Monitor{
		cfg:           cfg,
		lastLevel:     initial,
		stateSince:    start,
		lastSummary:   start,
		startTime:     start,
		lastHeartbeat: start,
	}, nil
}

// Process takes the level read on this tick and returns the events it causes,
// in order: LEVEL_CHANGED, MOTION, SUMMARY.
//
// Timestamps must be non-decreasing. Out-of-order input is not rejected;
// durations are computed as given and may come out negative.
func (m *Monitor) Process(input Input) []Event {
	now := input.Time
	level := input.Level
	if level != LevelHigh {
		level = LevelLow
	}

	var events []Event

	if level == LevelHigh {
		m.highAccum += m.cfg.SampleInterval
	} else {
		m.lowAccum += m.cfg.SampleInterval
	}

	if level != m.lastLevel {
		events = append(events, Event{
			Timestamp: now,
			Type:      EventLevelChanged,
			Level:     level,
			Held:      now.Sub(m.stateSince),
		})
		m.stateSince = now
		m.lastLevel = level
		if level == LevelHigh {
			m.highStart = now
			m.armed = true
			m.counts.High++
		} else {
			m.armed = false
			m.counts.Low++
		}
	}

	if m.armed && now.Sub(m.highStart) >= m.cfg.MinHigh {
		if !m.triggered || now.Sub(m.lastTrigger) >= m.cfg.Cooldown {
			events = append(events, Event{
				Timestamp: now,
				Type:      EventMotion,
				Level:     LevelHigh,
				Held:      now.Sub(m.highStart),
			})
			m.lastTrigger = now
			m.triggered = true
			m.counts.Motion++
		} else {
			m.counts.Suppressed++
		}
		// Re-arms only on the next LOW to HIGH edge, even when suppressed.
		m.armed = false
	}

	if now.Sub(m.lastSummary) >= m.cfg.SummaryInterval {
		e := Event{
			Timestamp: now,
			Type:      EventSummary,
			Level:     level,
			High:      m.highAccum,
			Low:       m.lowAccum,
		}
		events = append(events, e)
		m.summary = &e
		m.highAccum = 0
		m.lowAccum = 0
		m.lastSummary = now
		m.counts.Summaries++
	}

	return events
}

// Level returns the level seen on the most recent tick.
func (m *Monitor) Level() Level {
	return m.lastLevel
}

// Counts returns a copy of the cumulative event counts.
func (m *Monitor) Counts() Counts {
	return m.counts
}

// Stats returns a snapshot of the monitor for status reporting.
func (m *Monitor) Stats() Stats {
	s := Stats{
		Level:  m.lastLevel,
		Since:  m.stateSince,
		Counts: m.counts,
	}
	if m.triggered {
		s.LastMotion = m.lastTrigger
	}
	if m.summary != nil {
		e := *m.summary
		s.LastSummary = &e
	}
	return s
}

// CheckHeartbeat returns heartbeat data if the interval has elapsed since the
// last heartbeat (or startup). Returns nil if the interval has not elapsed,
// or if interval is <= 0 (disabled).
func (m *Monitor) CheckHeartbeat(now time.Time, interval time.Duration) *HeartbeatData {
	if interval <= 0 {
		return nil
	}
	if now.Sub(m.lastHeartbeat) < interval {
		return nil
	}
	m.lastHeartbeat = now
	return &HeartbeatData{
		Timestamp: now,
		Uptime:    now.Sub(m.startTime),
		Counts:    m.counts,
	}
}
