package main

import (
	"bytes"
	"context"
	"errors"
	"flag"
	"io"
	"os"
	"strings"
	"sync"
	"syscall"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/sweeney/pir-sensor/internal/gpio"
	"github.com/sweeney/pir-sensor/internal/logic"
	"github.com/sweeney/pir-sensor/internal/metrics"
	"github.com/sweeney/pir-sensor/internal/mqtt"
	"github.com/sweeney/pir-sensor/internal/sink"
	"github.com/sweeney/pir-sensor/internal/status"
)

// TestEnvVarNames verifies the env var constants match what pi-helper writes
// to /run/pi-helper.env. If pi-helper changes its var names, this test fails
// and we update the constants, not the other way around.
func TestEnvVarNames(t *testing.T) {
	want := map[string]string{
		"NETWORK_TYPE":        envNetworkType,
		"NETWORK_IP":          envNetworkIP,
		"NETWORK_STATUS":      envNetworkStatus,
		"NETWORK_GATEWAY":     envNetworkGateway,
		"NETWORK_WIFI_STATUS": envNetworkWifiStatus,
		"NETWORK_WIFI_SSID":   envNetworkWifiSSID,
	}
	for canonical, got := range want {
		if got != canonical {
			t.Errorf("env var constant: got %q, want %q", got, canonical)
		}
	}
}

func TestReadNetworkInfoAllSet(t *testing.T) {
	t.Setenv(envNetworkType, "wifi")
	t.Setenv(envNetworkIP, "192.168.1.100")
	t.Setenv(envNetworkStatus, "connected")
	t.Setenv(envNetworkGateway, "192.168.1.1")
	t.Setenv(envNetworkWifiStatus, "connected")
	t.Setenv(envNetworkWifiSSID, "MyNetwork")

	info := readNetworkInfo()
	if info == nil {
		t.Fatal("expected non-nil NetworkInfo")
	}
	want := status.NetworkInfo{
		Type:       "wifi",
		IP:         "192.168.1.100",
		Status:     "connected",
		Gateway:    "192.168.1.1",
		WifiStatus: "connected",
		SSID:       "MyNetwork",
	}
	if *info != want {
		t.Errorf("got %+v, want %+v", *info, want)
	}
}

func TestReadNetworkInfoNoneSet(t *testing.T) {
	t.Setenv(envNetworkStatus, "")
	if info := readNetworkInfo(); info != nil {
		t.Errorf("expected nil when NETWORK_STATUS is unset, got %+v", info)
	}
}

func TestReadNetworkInfoPartial(t *testing.T) {
	t.Setenv(envNetworkStatus, "connected")

	info := readNetworkInfo()
	if info == nil {
		t.Fatal("expected non-nil NetworkInfo when NETWORK_STATUS is set")
	}
	if info.Status != "connected" {
		t.Errorf("Status: got %q, want connected", info.Status)
	}
	if info.IP != "" || info.SSID != "" {
		t.Errorf("unset fields should be empty, got %+v", info)
	}
}

func TestParseFlagsDefaults(t *testing.T) {
	o, err := parseFlags(flag.NewFlagSet("test", flag.ContinueOnError), nil)
	if err != nil {
		t.Fatalf("parseFlags: %v", err)
	}
	if o.pin != 23 {
		t.Errorf("pin: got %d, want 23", o.pin)
	}
	if o.warmup != 30*time.Second {
		t.Errorf("warmup: got %v, want 30s", o.warmup)
	}
	if o.sample != 100*time.Millisecond {
		t.Errorf("sample: got %v, want 100ms", o.sample)
	}
	if o.minHigh != 300*time.Millisecond {
		t.Errorf("min-high: got %v, want 300ms", o.minHigh)
	}
	if o.cooldown != 2*time.Second {
		t.Errorf("cooldown: got %v, want 2s", o.cooldown)
	}
	if o.summary != 60*time.Second {
		t.Errorf("summary: got %v, want 60s", o.summary)
	}
	if o.backend != gpio.BackendCdev {
		t.Errorf("gpio-backend: got %q, want cdev", o.backend)
	}
}

func TestParseFlagsEnvFallback(t *testing.T) {
	t.Setenv("PIR_PIN", "17")
	t.Setenv("PIR_COOLDOWN", "5s")
	t.Setenv("PIR_WEBHOOK_ALL", "true")
	t.Setenv("PIR_MIN_HIGH", "bogus")

	o, err := parseFlags(flag.NewFlagSet("test", flag.ContinueOnError), []string{"--cooldown", "1s"})
	if err != nil {
		t.Fatalf("parseFlags: %v", err)
	}
	if o.pin != 17 {
		t.Errorf("pin: got %d, want 17 from env", o.pin)
	}
	if o.cooldown != time.Second {
		t.Errorf("cooldown: got %v, want flag value 1s", o.cooldown)
	}
	if !o.webhookAll {
		t.Error("webhook-all: got false, want true from env")
	}
	if o.minHigh != 300*time.Millisecond {
		t.Errorf("min-high: got %v, want default for unparseable env", o.minHigh)
	}
}

func TestSignalName(t *testing.T) {
	if got := signalName(syscall.SIGINT); got != "SIGINT" {
		t.Errorf("got %q, want SIGINT", got)
	}
	if got := signalName(syscall.SIGTERM); got != "SIGTERM" {
		t.Errorf("got %q, want SIGTERM", got)
	}
	if got := signalName(syscall.SIGHUP); got != "UNKNOWN" {
		t.Errorf("got %q, want UNKNOWN", got)
	}
}

// --- loop tests ---

var t0 = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

// fakeClock returns a function that yields start, start+step, start+2*step, ...
// on successive calls. Only called from the loop goroutine.
func fakeClock(start time.Time, step time.Duration) func() time.Time {
	n := 0
	return func() time.Time {
		t := start.Add(time.Duration(n) * step)
		n++
		return t
	}
}

// levels builds a sample script from a string of 0s and 1s.
func levels(s string) []bool {
	out := make([]bool, 0, len(s))
	for _, c := range s {
		out = append(out, c == '1')
	}
	return out
}

// faultReader wraps a FakeReader and returns errors for a range of Read() calls.
type faultReader struct {
	inner      *gpio.FakeReader
	call       int
	faultStart int // first failing call (inclusive)
	faultEnd   int // last failing call (exclusive)
	reads      int
}

func (r *faultReader) Read() (bool, error) {
	i := r.call
	r.call++
	if i >= r.faultStart && i < r.faultEnd {
		return false, errors.New("gpio fault")
	}
	r.reads++
	return r.inner.Read()
}

func (r *faultReader) Close() error { return r.inner.Close() }

type recordingSink struct {
	events []logic.Event
	err    error
}

func (s *recordingSink) Name() string { return "recorder" }

func (s *recordingSink) Send(_ context.Context, e logic.Event) error {
	s.events = append(s.events, e)
	return s.err
}

func (s *recordingSink) Close() error { return nil }

func testConfig() logic.Config {
	return logic.Config{
		SampleInterval:  100 * time.Millisecond,
		MinHigh:         300 * time.Millisecond,
		Cooldown:        2 * time.Second,
		SummaryInterval: time.Minute,
	}
}

func newTestLoop(t *testing.T, reader gpio.Reader, pub *mqtt.FakePublisher) *loop {
	t.Helper()
	warm := make(chan time.Time)
	close(warm)
	return &loop{
		reader:     reader,
		publisher:  pub,
		mqttStatus: pub,
		metrics:    metrics.NewRecorder(),
		tracker:    status.NewTracker(t0, status.Config{}, "boot-1"),
		log:        zaptest.NewLogger(t),
		cfg:        testConfig(),
		bootID:     "boot-1",
		now:        fakeClock(t0, 100*time.Millisecond),
		warmup:     warm,
	}
}

// drive runs the loop for nTicks, then delivers sig and waits for it to return.
func drive(t *testing.T, l *loop, nTicks int, sig os.Signal) error {
	t.Helper()
	tick := make(chan time.Time)
	sigCh := make(chan os.Signal, 1)
	l.tick = tick
	l.sig = sigCh

	errCh := make(chan error, 1)
	go func() {
		errCh <- l.run(context.Background())
	}()

	for i := 0; i < nTicks; i++ {
		tick <- time.Time{}
	}
	sigCh <- sig

	select {
	case err := <-errCh:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("loop did not return after signal")
		return nil
	}
}

func scrape(r *metrics.Recorder) string {
	var buf bytes.Buffer
	r.WritePrometheus(&buf)
	return buf.String()
}

func TestLoopNoEventsWhenStable(t *testing.T) {
	pub := mqtt.NewFakePublisher()
	l := newTestLoop(t, gpio.NewFakeReader(levels("00000")), pub)

	if err := drive(t, l, 5, syscall.SIGTERM); err != nil {
		t.Fatalf("run returned error: %v", err)
	}
	if len(pub.Events) != 0 {
		t.Errorf("expected 0 events, got %d: %+v", len(pub.Events), pub.Events)
	}
	if len(pub.SystemEvents) != 1 || pub.SystemEvents[0].Event != "SHUTDOWN" {
		t.Fatalf("expected single SHUTDOWN, got %+v", pub.SystemEvents)
	}
	if pub.SystemEvents[0].Reason != "SIGTERM" {
		t.Errorf("reason: got %q, want SIGTERM", pub.SystemEvents[0].Reason)
	}
	if !pub.SystemEvents[0].Retained {
		t.Error("SHUTDOWN should be retained")
	}
}

func TestLoopMotion(t *testing.T) {
	// Initial read LOW at t0, HIGH from +100ms to +600ms, LOW at +700ms.
	pub := mqtt.NewFakePublisher()
	l := newTestLoop(t, gpio.NewFakeReader(levels("01111110")), pub)

	if err := drive(t, l, 8, syscall.SIGINT); err != nil {
		t.Fatalf("run returned error: %v", err)
	}

	var got []logic.EventType
	for _, e := range pub.Events {
		got = append(got, e.Type)
	}
	want := []logic.EventType{logic.EventLevelChanged, logic.EventMotion, logic.EventLevelChanged}
	if len(got) != len(want) {
		t.Fatalf("events: got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("events: got %v, want %v", got, want)
		}
	}

	motion := pub.Events[1]
	if motion.Held != 300*time.Millisecond {
		t.Errorf("motion held: got %v, want 300ms", motion.Held)
	}
	if !motion.Timestamp.Equal(t0.Add(400 * time.Millisecond)) {
		t.Errorf("motion timestamp: got %v", motion.Timestamp)
	}
	low := pub.Events[2]
	if low.Level != logic.LevelLow || low.Held != 600*time.Millisecond {
		t.Errorf("LOW change: got level %s held %v, want LOW held 600ms", low.Level, low.Held)
	}

	snap := l.tracker.Snapshot()
	if snap.Counts.Motion != 1 {
		t.Errorf("tracker motion count: got %d, want 1", snap.Counts.Motion)
	}
	if !snap.LastMotion.Equal(t0.Add(400 * time.Millisecond)) {
		t.Errorf("tracker last motion: got %v", snap.LastMotion)
	}
	if !strings.Contains(scrape(l.metrics), "pir_motion_events_total 1") {
		t.Error("motion not recorded in metrics")
	}
}

func TestLoopInitialHighDoesNotTrigger(t *testing.T) {
	pub := mqtt.NewFakePublisher()
	l := newTestLoop(t, gpio.NewFakeReader(levels("1111111111")), pub)

	if err := drive(t, l, 10, syscall.SIGTERM); err != nil {
		t.Fatalf("run returned error: %v", err)
	}
	if len(pub.Events) != 0 {
		t.Errorf("expected no events for HIGH from the start, got %+v", pub.Events)
	}
	if !strings.Contains(scrape(l.metrics), "pir_level 1") {
		t.Errorf("level gauge not seeded from the initial read:\n%s", scrape(l.metrics))
	}
}

func TestLoopSummary(t *testing.T) {
	pub := mqtt.NewFakePublisher()
	l := newTestLoop(t, gpio.NewFakeReader(levels("0")), pub)
	l.cfg.SummaryInterval = 500 * time.Millisecond

	// Initial read at t0, then ticks at +100..+500ms.
	if err := drive(t, l, 6, syscall.SIGTERM); err != nil {
		t.Fatalf("run returned error: %v", err)
	}
	summaries := pub.EventsOfType(logic.EventSummary)
	if len(summaries) != 1 {
		t.Fatalf("expected 1 summary, got %d", len(summaries))
	}
	s := summaries[0]
	if s.High != 0 || s.Low != 500*time.Millisecond {
		t.Errorf("summary: got high %v low %v, want 0 and 500ms", s.High, s.Low)
	}
	if snap := l.tracker.Snapshot(); snap.LastSummary == nil {
		t.Error("tracker has no last summary")
	}
}

func TestLoopShutdownDuringWarmup(t *testing.T) {
	pub := mqtt.NewFakePublisher()
	reader := &faultReader{inner: gpio.NewFakeReader(levels("0"))}
	l := newTestLoop(t, reader, pub)
	l.warmup = make(chan time.Time) // never fires

	if err := drive(t, l, 0, syscall.SIGINT); err != nil {
		t.Fatalf("run returned error: %v", err)
	}
	if reader.call != 0 {
		t.Errorf("sensor read %d times during warm-up, want 0", reader.call)
	}
	if len(pub.SystemEvents) != 1 || pub.SystemEvents[0].Reason != "SIGINT" {
		t.Fatalf("expected SHUTDOWN/SIGINT, got %+v", pub.SystemEvents)
	}
	if l.tracker.Snapshot().Ready {
		t.Error("tracker should not be ready before warm-up ends")
	}
}

func TestLoopReadErrorsSkipTick(t *testing.T) {
	pub := mqtt.NewFakePublisher()
	reader := &faultReader{
		inner:      gpio.NewFakeReader(levels("01111")),
		faultStart: 2,
		faultEnd:   4,
	}
	l := newTestLoop(t, reader, pub)

	if err := drive(t, l, 7, syscall.SIGTERM); err != nil {
		t.Fatalf("run returned error: %v", err)
	}
	if reader.reads != 5 {
		t.Errorf("successful reads: got %d, want 5", reader.reads)
	}
	if !strings.Contains(scrape(l.metrics), "pir_gpio_read_errors_total 2") {
		t.Errorf("read errors not counted:\n%s", scrape(l.metrics))
	}
	// HIGH at tick 1 (+100ms); motion once 300ms have passed, ticks 2-3 lost.
	if n := len(pub.EventsOfType(logic.EventMotion)); n != 1 {
		t.Errorf("motion events: got %d, want 1", n)
	}
}

func TestLoopPublishErrorNotFatal(t *testing.T) {
	pub := mqtt.NewFakePublisher()
	pub.PublishError = errors.New("broker down")
	l := newTestLoop(t, gpio.NewFakeReader(levels("01111")), pub)

	if err := drive(t, l, 5, syscall.SIGTERM); err != nil {
		t.Fatalf("run returned error: %v", err)
	}
	out := scrape(l.metrics)
	if !strings.Contains(out, `pir_publish_errors_total{sink="mqtt"} 2`) {
		t.Errorf("publish errors not counted:\n%s", out)
	}
	if len(pub.SystemEvents) != 1 {
		t.Errorf("SHUTDOWN should still be published, got %+v", pub.SystemEvents)
	}
}

func TestLoopSinks(t *testing.T) {
	pub := mqtt.NewFakePublisher()
	good := &recordingSink{}
	bad := &recordingSink{err: errors.New("nope")}
	l := newTestLoop(t, gpio.NewFakeReader(levels("01111")), pub)
	l.sinks = sink.Fanout{good, bad}

	if err := drive(t, l, 5, syscall.SIGTERM); err != nil {
		t.Fatalf("run returned error: %v", err)
	}
	if len(good.events) != 2 || len(bad.events) != 2 {
		t.Errorf("sinks: got %d and %d events, want 2 each", len(good.events), len(bad.events))
	}
	if !strings.Contains(scrape(l.metrics), `pir_publish_errors_total{sink="recorder"} 2`) {
		t.Errorf("sink errors not counted:\n%s", scrape(l.metrics))
	}
}

// blockingSink holds every Send until release is closed.
type blockingSink struct {
	release chan struct{}
	mu      sync.Mutex
	events  []logic.Event
}

func (s *blockingSink) Name() string { return "slow" }

func (s *blockingSink) Send(ctx context.Context, e logic.Event) error {
	select {
	case <-s.release:
	case <-ctx.Done():
		return ctx.Err()
	}
	s.mu.Lock()
	s.events = append(s.events, e)
	s.mu.Unlock()
	return nil
}

func (s *blockingSink) Close() error { return nil }

func TestLoopSlowSinkDoesNotStallSampling(t *testing.T) {
	pub := mqtt.NewFakePublisher()
	slow := &blockingSink{release: make(chan struct{})}
	l := newTestLoop(t, gpio.NewFakeReader(levels("011111100")), pub)
	l.sinks = sink.Fanout{slow}

	tick := make(chan time.Time)
	sig := make(chan os.Signal, 1)
	l.tick = tick
	l.sig = sig
	errCh := make(chan error, 1)
	go func() { errCh <- l.run(context.Background()) }()

	// Each send on the unbuffered tick channel returns only once the loop is
	// back in select, so the previous tick has been fully processed.
	for i := 0; i < 9; i++ {
		select {
		case tick <- time.Time{}:
		case <-time.After(2 * time.Second):
			t.Fatalf("tick %d not accepted while the sink is blocked", i)
		}
	}
	if n := len(pub.EventsOfType(logic.EventLevelChanged)); n != 2 {
		t.Errorf("level changes processed while sink blocked: got %d, want 2", n)
	}
	if n := len(pub.EventsOfType(logic.EventMotion)); n != 1 {
		t.Errorf("motion events processed while sink blocked: got %d, want 1", n)
	}

	close(slow.release)
	sig <- syscall.SIGTERM
	if err := <-errCh; err != nil {
		t.Fatalf("run returned error: %v", err)
	}
	// Shutdown drains the queue before run returns.
	slow.mu.Lock()
	defer slow.mu.Unlock()
	if len(slow.events) != 3 {
		t.Errorf("slow sink got %d events after drain, want 3", len(slow.events))
	}
}

func TestDispatcherDropsWhenFull(t *testing.T) {
	slow := &blockingSink{release: make(chan struct{})}
	var failed []string
	d := newDispatcher(sink.Fanout{slow}, 1, zaptest.NewLogger(t), func(name string) {
		failed = append(failed, name)
	})

	// Not started: the queue holds one event and rejects the next.
	if !d.submit(logic.Event{Type: logic.EventMotion}) {
		t.Fatal("first submit rejected")
	}
	if d.submit(logic.Event{Type: logic.EventMotion}) {
		t.Fatal("second submit accepted by a full queue")
	}
	if len(failed) != 1 || failed[0] != "queue" {
		t.Errorf("drop not reported: %v", failed)
	}

	close(slow.release)
	d.start(context.Background())
	d.close()
	if len(slow.events) != 1 {
		t.Errorf("delivered %d events, want 1", len(slow.events))
	}
}

func TestLoopHeartbeat(t *testing.T) {
	pub := mqtt.NewFakePublisher()
	pub.Connected = true
	l := newTestLoop(t, gpio.NewFakeReader(levels("0")), pub)
	l.heartbeat = 300 * time.Millisecond

	// Monitor created at t0; heartbeat due at +300ms, next at +600ms.
	if err := drive(t, l, 6, syscall.SIGTERM); err != nil {
		t.Fatalf("run returned error: %v", err)
	}
	if len(pub.SystemEvents) != 2 {
		t.Fatalf("expected HEARTBEAT and SHUTDOWN, got %+v", pub.SystemEvents)
	}
	hb := pub.SystemEvents[0]
	if hb.Event != "HEARTBEAT" {
		t.Fatalf("first system event: got %q, want HEARTBEAT", hb.Event)
	}
	if !hb.Timestamp.Equal(t0.Add(300 * time.Millisecond)) {
		t.Errorf("heartbeat timestamp: got %v", hb.Timestamp)
	}
	payload := string(pub.SystemPayloads[0])
	for _, want := range []string{`"event":"HEARTBEAT"`, `"boot_id":"boot-1"`, `"connected":true`} {
		if !strings.Contains(payload, want) {
			t.Errorf("heartbeat payload missing %s: %s", want, payload)
		}
	}
}

func TestLoopTrackerReadyAfterFirstRead(t *testing.T) {
	pub := mqtt.NewFakePublisher()
	l := newTestLoop(t, gpio.NewFakeReader(levels("1")), pub)

	if err := drive(t, l, 1, syscall.SIGTERM); err != nil {
		t.Fatalf("run returned error: %v", err)
	}
	snap := l.tracker.Snapshot()
	if !snap.Ready {
		t.Error("tracker not ready after first read")
	}
	if snap.Level != logic.LevelHigh {
		t.Errorf("level: got %s, want HIGH", snap.Level)
	}
	if !strings.Contains(string(pub.SystemPayloads[0]), `"level":"HIGH"`) {
		t.Errorf("shutdown payload: %s", pub.SystemPayloads[0])
	}
}

func TestWatch(t *testing.T) {
	reader := gpio.NewFakeReader(levels("0110"))
	var out bytes.Buffer
	tick := make(chan time.Time)
	sig := make(chan os.Signal, 1)

	errCh := make(chan error, 1)
	go func() { errCh <- watch(reader, &out, tick, sig) }()
	for i := 0; i < 4; i++ {
		tick <- time.Time{}
	}
	sig <- syscall.SIGINT

	if err := <-errCh; err != nil {
		t.Fatalf("watch: %v", err)
	}
	if got := out.String(); got != "0\n1\n1\n0\n" {
		t.Errorf("output: got %q", got)
	}
}

func TestWatchReadError(t *testing.T) {
	reader := gpio.NewFakeReader(levels("0"))
	reader.ReadError = errors.New("gone")
	tick := make(chan time.Time, 1)
	tick <- time.Time{}

	if err := watch(reader, io.Discard, tick, make(chan os.Signal)); err == nil {
		t.Fatal("expected error")
	}
}

func TestRealMainExitCodes(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want int
	}{
		{"negative min-high", []string{"--min-high", "-1s"}, 1},
		{"zero sample", []string{"--sample", "0s"}, 1},
		{"bad http auth", []string{"--http-auth", "admin"}, 1},
		{"unknown flag", []string{"--no-such-flag"}, 2},
		{"help", []string{"-h"}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := realMain(tt.args); got != tt.want {
				t.Errorf("exit code: got %d, want %d", got, tt.want)
			}
		})
	}
}
