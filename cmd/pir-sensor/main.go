// Command pir-sensor samples a PIR motion sensor on a GPIO pin and reports
// debounced motion, level changes and duty-cycle summaries.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sweeney/pir-sensor/internal/gpio"
	"github.com/sweeney/pir-sensor/internal/logger"
	"github.com/sweeney/pir-sensor/internal/logic"
	"github.com/sweeney/pir-sensor/internal/metrics"
	"github.com/sweeney/pir-sensor/internal/mqtt"
	"github.com/sweeney/pir-sensor/internal/sink"
	"github.com/sweeney/pir-sensor/internal/status"
	"github.com/sweeney/pir-sensor/internal/web"
)

type options struct {
	pin         int
	backend     string
	warmup      time.Duration
	sample      time.Duration
	minHigh     time.Duration
	cooldown    time.Duration
	summary     time.Duration
	heartbeat   time.Duration
	broker      string
	mqttUser    string
	mqttPass    string
	httpAddr    string
	httpAuth    string
	redisAddr   string
	redisPass   string
	redisDB     int
	redisStream string
	redisMaxLen int64
	webhook     string
	webhookAll  bool
	logLevel    string
	logFormat   string
	printState  bool
	watch       bool
}

func parseFlags(fs *flag.FlagSet, args []string) (options, error) {
	var o options
	fs.IntVar(&o.pin, "pin", envInt("PIR_PIN", gpio.DefaultPin), "BCM pin number the PIR output is wired to")
	fs.StringVar(&o.backend, "gpio-backend", envString("PIR_GPIO_BACKEND", gpio.BackendCdev), "GPIO backend: cdev or periph")
	fs.DurationVar(&o.warmup, "warmup", envDuration("PIR_WARMUP", 30*time.Second), "Sensor warm-up delay before monitoring starts")
	fs.DurationVar(&o.sample, "sample", envDuration("PIR_SAMPLE", 100*time.Millisecond), "Sampling interval")
	fs.DurationVar(&o.minHigh, "min-high", envDuration("PIR_MIN_HIGH", 300*time.Millisecond), "Minimum HIGH duration counted as motion")
	fs.DurationVar(&o.cooldown, "cooldown", envDuration("PIR_COOLDOWN", 2*time.Second), "Minimum time between motion events")
	fs.DurationVar(&o.summary, "summary", envDuration("PIR_SUMMARY", 60*time.Second), "Duty-cycle summary interval")
	fs.DurationVar(&o.heartbeat, "heartbeat", envDuration("PIR_HEARTBEAT", 15*time.Minute), "Heartbeat interval (0 to disable)")
	fs.StringVar(&o.broker, "broker", envString("PIR_BROKER", "tcp://192.168.1.200:1883"), "MQTT broker address (empty to disable)")
	fs.StringVar(&o.mqttUser, "mqtt-user", envString("PIR_MQTT_USER", ""), "MQTT username")
	fs.StringVar(&o.mqttPass, "mqtt-password", envString("PIR_MQTT_PASSWORD", ""), "MQTT password")
	fs.StringVar(&o.httpAddr, "http", envString("PIR_HTTP", ":8080"), "HTTP status address (empty to disable)")
	fs.StringVar(&o.httpAuth, "http-auth", envString("PIR_HTTP_AUTH", ""), "Basic auth for the status server as user:bcrypt-hash")
	fs.StringVar(&o.redisAddr, "redis-addr", envString("PIR_REDIS_ADDR", ""), "Redis address for the event stream (empty to disable)")
	fs.StringVar(&o.redisPass, "redis-password", envString("PIR_REDIS_PASSWORD", ""), "Redis password")
	fs.IntVar(&o.redisDB, "redis-db", envInt("PIR_REDIS_DB", 0), "Redis database")
	fs.StringVar(&o.redisStream, "redis-stream", envString("PIR_REDIS_STREAM", sink.DefaultStream), "Redis stream key")
	fs.Int64Var(&o.redisMaxLen, "redis-maxlen", int64(envInt("PIR_REDIS_MAXLEN", 10000)), "Approximate stream length cap (0 for unbounded)")
	fs.StringVar(&o.webhook, "webhook", envString("PIR_WEBHOOK", ""), "URL to POST motion events to (empty to disable)")
	fs.BoolVar(&o.webhookAll, "webhook-all", envBool("PIR_WEBHOOK_ALL", false), "POST every event to the webhook, not just MOTION")
	fs.StringVar(&o.logLevel, "log-level", envString("PIR_LOG_LEVEL", "info"), "Log level: debug, info, warn, error")
	fs.StringVar(&o.logFormat, "log-format", envString("PIR_LOG_FORMAT", "console"), "Log format: console or json")
	fs.BoolVar(&o.printState, "print-state", false, "Print the current level and exit")
	fs.BoolVar(&o.watch, "watch", false, "Print the raw level every 200ms until interrupted")

	if err := fs.Parse(args); err != nil {
		return o, err
	}
	return o, nil
}

func main() {
	os.Exit(realMain(os.Args[1:]))
}

// realMain returns the process exit code. Deferred calls run before main
// exits, so the logger is always flushed.
func realMain(args []string) int {
	o, err := parseFlags(flag.NewFlagSet("pir-sensor", flag.ContinueOnError), args)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	log, err := logger.New(o.logLevel, o.logFormat, "pir-sensor")
	if err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		return 1
	}
	defer log.Sync()

	if err := run(o, log); err != nil {
		log.Error("fatal", zap.Error(err))
		return 1
	}
	return 0
}

func run(o options, log *zap.Logger) error {
	cfg := logic.Config{
		SampleInterval:  o.sample,
		MinHigh:         o.minHigh,
		Cooldown:        o.cooldown,
		SummaryInterval: o.summary,
	}
	// Validate before touching hardware.
	if _, err := logic.NewMonitor(cfg, logic.LevelLow, time.Now()); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if o.sample <= 0 {
		return errors.New("config: sample interval must be positive")
	}
	creds, err := web.ParseCredentials(o.httpAuth)
	if err != nil {
		return err
	}

	reader, err := gpio.NewReader(o.backend, o.pin)
	if err != nil {
		return fmt.Errorf("init gpio: %w", err)
	}
	defer reader.Close()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	if o.printState {
		high, err := reader.Read()
		if err != nil {
			return fmt.Errorf("read gpio: %w", err)
		}
		fmt.Printf("GPIO%d: %s\n", o.pin, logic.LevelOf(high))
		return nil
	}
	if o.watch {
		ticker := time.NewTicker(200 * time.Millisecond)
		defer ticker.Stop()
		return watch(reader, os.Stdout, ticker.C, sigCh)
	}

	bootID := uuid.NewString()
	log = log.With(zap.String("boot_id", bootID))

	var publisher mqtt.Publisher = noopPublisher{}
	var mqttStatus mqtt.ConnectionStatus
	if o.broker != "" {
		p, err := mqtt.NewRealPublisher(mqtt.Options{
			Broker:   o.broker,
			ClientID: "pir-sensor-" + bootID[:8],
			Username: o.mqttUser,
			Password: o.mqttPass,
			BootID:   bootID,
		}, log)
		if err != nil {
			return fmt.Errorf("init mqtt: %w", err)
		}
		defer p.Close()
		publisher, mqttStatus = p, p
	}

	var sinks sink.Fanout
	if o.redisAddr != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		rs, err := sink.NewRedisStream(ctx, o.redisAddr, o.redisPass, o.redisDB, o.redisStream, o.redisMaxLen)
		cancel()
		if err != nil {
			return fmt.Errorf("init redis: %w", err)
		}
		sinks = append(sinks, rs)
		log.Info("redis stream enabled", zap.String("addr", o.redisAddr), zap.String("stream", o.redisStream))
	}
	if o.webhook != "" {
		sinks = append(sinks, sink.NewWebhook(o.webhook, o.webhookAll))
		log.Info("webhook enabled", zap.String("url", o.webhook), zap.Bool("all_events", o.webhookAll))
	}
	defer func() {
		if err := sinks.Close(); err != nil {
			log.Warn("close sinks", zap.Error(err))
		}
	}()

	recorder := metrics.NewRecorder()

	// Tracker exists before STARTUP so the snapshot is available.
	tracker := status.NewTracker(time.Now(), status.Config{
		Pin:         o.pin,
		Backend:     o.backend,
		WarmupMs:    o.warmup.Milliseconds(),
		SampleMs:    o.sample.Milliseconds(),
		MinHighMs:   o.minHigh.Milliseconds(),
		CooldownMs:  o.cooldown.Milliseconds(),
		SummaryMs:   o.summary.Milliseconds(),
		HeartbeatMs: o.heartbeat.Milliseconds(),
		Broker:      o.broker,
		HTTPAddr:    o.httpAddr,
	}, bootID)
	if net := readNetworkInfo(); net != nil {
		tracker.SetNetwork(net)
	}
	if mqttStatus != nil {
		tracker.SetMQTTConnected(mqttStatus.IsConnected())
	}

	snap := tracker.Snapshot()
	startup := mqtt.SystemEvent{
		Timestamp:  snap.Now,
		Event:      "STARTUP",
		BootID:     bootID,
		Retained:   true,
		RawPayload: status.FormatStatusEvent(snap, "STARTUP", ""),
	}
	if err := publisher.PublishSystem(startup); err != nil {
		log.Warn("publish startup event", zap.Error(err))
	}

	if o.httpAddr != "" {
		srv := web.New(o.httpAddr, tracker, recorder, creds)
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("http server", zap.Error(err))
			}
		}()
		defer srv.Shutdown(context.Background())
		log.Info("http status server listening", zap.String("addr", o.httpAddr), zap.Bool("auth", creds != nil))
	}

	log.Info("started",
		zap.Int("pin", o.pin),
		zap.String("gpio_backend", o.backend),
		zap.Duration("sample", o.sample),
		zap.Duration("min_high", o.minHigh),
		zap.Duration("cooldown", o.cooldown),
		zap.Duration("summary", o.summary),
		zap.Duration("heartbeat", o.heartbeat),
		zap.String("broker", o.broker),
	)
	log.Info("warming up", zap.Duration("warmup", o.warmup))

	ticker := time.NewTicker(o.sample)
	defer ticker.Stop()

	l := &loop{
		reader:     reader,
		publisher:  publisher,
		mqttStatus: mqttStatus,
		sinks:      sinks,
		metrics:    recorder,
		tracker:    tracker,
		log:        log,
		cfg:        cfg,
		heartbeat:  o.heartbeat,
		bootID:     bootID,
		now:        time.Now,
		warmup:     time.After(o.warmup),
		tick:       ticker.C,
		sig:        sigCh,
	}
	return l.run(context.Background())
}

// noopPublisher stands in when MQTT is disabled.
type noopPublisher struct{}

func (noopPublisher) Publish(logic.Event) error            { return nil }
func (noopPublisher) PublishSystem(mqtt.SystemEvent) error { return nil }
func (noopPublisher) Close() error                         { return nil }

func envString(key, def string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return def
}

func envDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envBool(key string, def bool) bool {
	switch strings.ToLower(os.Getenv(key)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	}
	return def
}

// pi-helper env var names (written to /run/pi-helper.env).
const (
	envNetworkType       = "NETWORK_TYPE"
	envNetworkIP         = "NETWORK_IP"
	envNetworkStatus     = "NETWORK_STATUS"
	envNetworkGateway    = "NETWORK_GATEWAY"
	envNetworkWifiStatus = "NETWORK_WIFI_STATUS"
	envNetworkWifiSSID   = "NETWORK_WIFI_SSID"
)

func readNetworkInfo() *status.NetworkInfo {
	s := os.Getenv(envNetworkStatus)
	if s == "" {
		return nil
	}
	return &status.NetworkInfo{
		Type:       os.Getenv(envNetworkType),
		IP:         os.Getenv(envNetworkIP),
		Status:     s,
		Gateway:    os.Getenv(envNetworkGateway),
		WifiStatus: os.Getenv(envNetworkWifiStatus),
		SSID:       os.Getenv(envNetworkWifiSSID),
	}
}
