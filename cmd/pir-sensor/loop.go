package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/sweeney/pir-sensor/internal/gpio"
	"github.com/sweeney/pir-sensor/internal/logic"
	"github.com/sweeney/pir-sensor/internal/metrics"
	"github.com/sweeney/pir-sensor/internal/mqtt"
	"github.com/sweeney/pir-sensor/internal/sink"
	"github.com/sweeney/pir-sensor/internal/status"
)

// loop drives the monitor from the sampling ticker. Everything time related
// is injected so tests can run it against a fake clock.
type loop struct {
	reader     gpio.Reader
	publisher  mqtt.Publisher
	mqttStatus mqtt.ConnectionStatus // may be nil
	sinks      sink.Fanout
	metrics    *metrics.Recorder // may be nil
	tracker    *status.Tracker   // may be nil
	log        *zap.Logger

	cfg       logic.Config
	heartbeat time.Duration
	bootID    string

	now    func() time.Time
	warmup <-chan time.Time
	tick   <-chan time.Time
	sig    <-chan os.Signal

	monitor  *logic.Monitor
	dispatch *dispatcher // nil without sinks
}

// run waits out the warm-up, then processes ticks until a signal arrives.
func (l *loop) run(ctx context.Context) error {
	if len(l.sinks) > 0 {
		l.dispatch = newDispatcher(l.sinks, sinkQueueSize, l.log, l.publishError)
		l.dispatch.start(ctx)
		defer l.dispatch.close()
	}

	select {
	case s := <-l.sig:
		l.shutdown(s)
		return nil
	case <-l.warmup:
	}

	for {
		select {
		case s := <-l.sig:
			l.shutdown(s)
			return nil
		case <-l.tick:
			if err := l.step(); err != nil {
				return err
			}
		}
	}
}

func (l *loop) step() error {
	t := l.now()
	high, err := l.reader.Read()
	if err != nil {
		l.log.Warn("gpio read error", zap.Error(err))
		if l.metrics != nil {
			l.metrics.ReadError()
		}
		return nil
	}
	level := logic.LevelOf(high)

	if l.monitor == nil {
		m, err := logic.NewMonitor(l.cfg, level, t)
		if err != nil {
			return fmt.Errorf("create monitor: %w", err)
		}
		l.monitor = m
		if l.metrics != nil {
			l.metrics.SetLevel(level)
		}
		l.log.Info("ready", zap.String("level", string(level)))
		l.updateTracker()
		return nil
	}

	events := l.monitor.Process(logic.Input{Level: level, Time: t})
	for _, e := range events {
		l.logEvent(e)
		if err := l.publisher.Publish(e); err != nil {
			l.log.Warn("mqtt publish error", zap.String("event", string(e.Type)), zap.Error(err))
			l.publishError("mqtt")
		}
		if l.dispatch != nil {
			l.dispatch.submit(e)
		}
	}
	if l.metrics != nil {
		l.metrics.Observe(events)
	}

	if hb := l.monitor.CheckHeartbeat(t, l.heartbeat); hb != nil {
		l.log.Info("heartbeat",
			zap.Duration("uptime", hb.Uptime),
			zap.Int("motion", hb.Counts.Motion),
			zap.Int("suppressed", hb.Counts.Suppressed),
			zap.Int("high", hb.Counts.High),
			zap.Int("low", hb.Counts.Low),
		)
		event := mqtt.SystemEvent{
			Timestamp: hb.Timestamp,
			Event:     "HEARTBEAT",
			BootID:    l.bootID,
		}
		if l.tracker != nil {
			// Refresh network info for heartbeat
			if net := readNetworkInfo(); net != nil {
				l.tracker.SetNetwork(net)
			}
			l.updateTracker()
			event.RawPayload = status.FormatStatusEvent(l.tracker.Snapshot(), "HEARTBEAT", "")
		}
		if err := l.publisher.PublishSystem(event); err != nil {
			l.log.Warn("heartbeat publish error", zap.Error(err))
		}
	}

	l.updateTracker()
	return nil
}

func (l *loop) logEvent(e logic.Event) {
	switch e.Type {
	case logic.EventLevelChanged:
		l.log.Info(fmt.Sprintf("-> %s (prev %.2fs)", e.Level, e.Held.Seconds()),
			zap.String("event", string(e.Type)),
			zap.String("level", string(e.Level)),
			zap.Duration("held", e.Held),
		)
	case logic.EventMotion:
		l.log.Info(fmt.Sprintf("MOTION event (held high %.2fs)", e.Held.Seconds()),
			zap.String("event", string(e.Type)),
			zap.Duration("held", e.Held),
		)
	case logic.EventSummary:
		l.log.Info(fmt.Sprintf("SUMMARY HIGH %.1fs (%.1f%%), LOW %.1fs",
			e.High.Seconds(), e.DutyCycle()*100, e.Low.Seconds()),
			zap.String("event", string(e.Type)),
			zap.Duration("high", e.High),
			zap.Duration("low", e.Low),
			zap.Float64("duty_cycle", e.DutyCycle()),
		)
	}
}

func (l *loop) publishError(sinkName string) {
	if l.metrics != nil {
		l.metrics.PublishError(sinkName)
	}
}

func (l *loop) updateTracker() {
	if l.tracker == nil {
		return
	}
	if l.monitor != nil {
		l.tracker.Update(l.monitor.Stats())
	}
	if l.mqttStatus != nil {
		l.tracker.SetMQTTConnected(l.mqttStatus.IsConnected())
	}
}

func (l *loop) shutdown(s os.Signal) {
	l.log.Info("shutting down", zap.Stringer("signal", s))
	name := signalName(s)
	event := mqtt.SystemEvent{
		Timestamp: l.now(),
		Event:     "SHUTDOWN",
		Reason:    name,
		BootID:    l.bootID,
		Retained:  true,
	}
	if l.tracker != nil {
		l.updateTracker()
		event.RawPayload = status.FormatStatusEvent(l.tracker.Snapshot(), "SHUTDOWN", name)
	}
	if err := l.publisher.PublishSystem(event); err != nil {
		l.log.Warn("publish shutdown event", zap.Error(err))
	}
}

func signalName(s os.Signal) string {
	switch s {
	case syscall.SIGINT:
		return "SIGINT"
	case syscall.SIGTERM:
		return "SIGTERM"
	}
	return "UNKNOWN"
}

// watch prints the raw level on every tick until a signal arrives.
func watch(reader gpio.Reader, w io.Writer, tick <-chan time.Time, sig <-chan os.Signal) error {
	for {
		select {
		case <-sig:
			return nil
		case <-tick:
			high, err := reader.Read()
			if err != nil {
				return fmt.Errorf("read gpio: %w", err)
			}
			v := 0
			if high {
				v = 1
			}
			fmt.Fprintln(w, v)
		}
	}
}
