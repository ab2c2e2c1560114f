// Package metrics exposes motion monitor counters in Prometheus text format.
package metrics

import (
	"fmt"
	"io"
	"math"
	"sync/atomic"

	"github.com/VictoriaMetrics/metrics"

	"github.com/sweeney/pir-sensor/internal/logic"
)

// Recorder owns a private metrics set so several recorders (tests, mostly)
// can coexist in one process.
type Recorder struct {
	set *metrics.Set

	toHigh     *metrics.Counter
	toLow      *metrics.Counter
	motion     *metrics.Counter
	summaries  *metrics.Counter
	readErrors *metrics.Counter
	heldHigh   *metrics.Summary

	dutyCycle atomic.Uint64 // float64 bits of the last summary's duty cycle
	level     atomic.Int32  // 1 HIGH, 0 LOW
}

// NewRecorder creates a recorder with all series registered.
func NewRecorder() *Recorder {
	s := metrics.NewSet()
	r := &Recorder{
		set:        s,
		toHigh:     s.NewCounter(`pir_level_changes_total{level="HIGH"}`),
		toLow:      s.NewCounter(`pir_level_changes_total{level="LOW"}`),
		motion:     s.NewCounter("pir_motion_events_total"),
		summaries:  s.NewCounter("pir_summaries_total"),
		readErrors: s.NewCounter("pir_gpio_read_errors_total"),
		heldHigh:   s.NewSummary("pir_motion_held_seconds"),
	}
	s.NewGauge("pir_duty_cycle_ratio", func() float64 {
		return math.Float64frombits(r.dutyCycle.Load())
	})
	s.NewGauge("pir_level", func() float64 {
		return float64(r.level.Load())
	})
	return r
}

// Observe records a batch of monitor events.
func (r *Recorder) Observe(events []logic.Event) {
	for _, e := range events {
		switch e.Type {
		case logic.EventLevelChanged:
			if e.Level == logic.LevelHigh {
				r.toHigh.Inc()
				r.level.Store(1)
			} else {
				r.toLow.Inc()
				r.level.Store(0)
			}
		case logic.EventMotion:
			r.motion.Inc()
			r.heldHigh.Update(e.Held.Seconds())
		case logic.EventSummary:
			r.summaries.Inc()
			r.dutyCycle.Store(math.Float64bits(e.DutyCycle()))
		}
	}
}

// SetLevel sets the level gauge directly. Used for the initial reading,
// which produces no LEVEL_CHANGED event.
func (r *Recorder) SetLevel(level logic.Level) {
	if level == logic.LevelHigh {
		r.level.Store(1)
	} else {
		r.level.Store(0)
	}
}

// ReadError counts a failed sensor read.
func (r *Recorder) ReadError() {
	r.readErrors.Inc()
}

// PublishError counts a failed delivery to the named sink.
func (r *Recorder) PublishError(sink string) {
	r.set.GetOrCreateCounter(fmt.Sprintf(`pir_publish_errors_total{sink=%q}`, sink)).Inc()
}

// WritePrometheus writes all series in Prometheus text exposition format.
func (r *Recorder) WritePrometheus(w io.Writer) {
	r.set.WritePrometheus(w)
}
