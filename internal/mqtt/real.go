package mqtt

import (
	"fmt"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sweeney/pir-sensor/internal/logic"
)

// Options configures a RealPublisher.
type Options struct {
	Broker         string
	ClientID       string // empty generates pir-sensor-<random>
	Username       string
	Password       string
	BootID         string // stamped on simple system payloads (LWT, RECONNECTED)
	BufferSize     int    // messages kept while disconnected; 0 uses 256
	ConnectTimeout time.Duration
	PublishTimeout time.Duration
}

const defaultBufferSize = 256

// RealPublisher publishes to an actual MQTT broker. Messages published while
// the connection is down are buffered and replayed, oldest first, once it is
// re-established.
type RealPublisher struct {
	client  paho.Client
	log     *zap.Logger
	bootID  string
	timeout time.Duration
	now     func() time.Time

	mu        sync.Mutex
	buf       *ringBuffer
	connected bool // at least one successful connect
	replaying bool // buffered messages are being replayed; keep buffering
	gen       int  // incremented on every connect
}

// willPayload is the last-will message. It has no timestamp because the
// broker publishes it long after it is registered.
func willPayload(bootID string) ([]byte, error) {
	return FormatSystemPayload(SystemEvent{
		Event:  "SHUTDOWN",
		Reason: "MQTT_DISCONNECT",
		BootID: bootID,
	})
}

// NewRealPublisher creates a publisher and starts connecting to the broker.
// If the broker does not answer within ConnectTimeout the publisher is still
// returned: paho keeps retrying in the background and messages are buffered.
func NewRealPublisher(o Options, log *zap.Logger) (*RealPublisher, error) {
	if o.ClientID == "" {
		o.ClientID = "pir-sensor-" + uuid.NewString()[:8]
	}
	if o.BufferSize <= 0 {
		o.BufferSize = defaultBufferSize
	}
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = 10 * time.Second
	}
	if o.PublishTimeout <= 0 {
		o.PublishTimeout = 5 * time.Second
	}

	p := &RealPublisher{
		log:     log.With(zap.String("component", "mqtt")),
		bootID:  o.BootID,
		timeout: o.PublishTimeout,
		now:     time.Now,
		buf:     newRingBuffer(o.BufferSize),
	}

	will, err := willPayload(o.BootID)
	if err != nil {
		return nil, fmt.Errorf("format will payload: %w", err)
	}

	opts := paho.NewClientOptions().
		AddBroker(o.Broker).
		SetClientID(o.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetMaxReconnectInterval(time.Minute).
		SetWill(TopicSystem, string(will), 1, true).
		SetOnConnectHandler(p.onConnect).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			p.log.Warn("connection lost", zap.Error(err))
		})
	if o.Username != "" {
		opts.SetUsername(o.Username)
		opts.SetPassword(o.Password)
	}

	p.client = paho.NewClient(opts)
	token := p.client.Connect()
	if !token.WaitTimeout(o.ConnectTimeout) {
		p.log.Warn("broker not reachable yet, buffering until connected",
			zap.String("broker", o.Broker), zap.Duration("timeout", o.ConnectTimeout))
		return p, nil
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connect to broker: %w", err)
	}
	return p, nil
}

// onConnect replays buffered messages. After a reconnect (not the first
// connect) it also announces RECONNECTED. Publishes made while the replay is
// running are buffered behind it so the broker sees them in order.
func (p *RealPublisher) onConnect(_ paho.Client) {
	p.mu.Lock()
	reconnect := p.connected
	p.connected = true
	p.replaying = true
	p.gen++
	gen := p.gen
	n := p.buf.len()
	p.mu.Unlock()

	p.log.Info("connected", zap.Int("buffered", n), zap.Bool("reconnect", reconnect))

	// Handlers must not block the paho router.
	go p.replay(gen, reconnect)
}

// replay drains the buffer until it stays empty, then lets publishes go
// straight to the broker again.
func (p *RealPublisher) replay(gen int, announce bool) {
	for {
		p.mu.Lock()
		if gen != p.gen {
			// A newer connect owns the buffer.
			p.mu.Unlock()
			return
		}
		msgs := p.buf.drainAll()
		if len(msgs) == 0 {
			if !announce {
				p.replaying = false
				p.mu.Unlock()
				return
			}
			announce = false
			if rc, err := p.reconnectedMsg(); err == nil {
				msgs = append(msgs, rc)
			}
		}
		p.mu.Unlock()

		for i, m := range msgs {
			if err := p.send(m); err != nil {
				p.log.Warn("replay failed", zap.String("topic", m.topic), zap.Error(err))
				if !p.client.IsConnectionOpen() {
					p.requeue(gen, msgs[i:])
					return
				}
			}
		}
	}
}

func (p *RealPublisher) reconnectedMsg() (bufferedMsg, error) {
	payload, err := FormatSystemPayload(SystemEvent{
		Timestamp: p.now(),
		Event:     "RECONNECTED",
		BootID:    p.bootID,
	})
	if err != nil {
		return bufferedMsg{}, err
	}
	return bufferedMsg{topic: TopicSystem, payload: payload, qos: 1}, nil
}

// requeue puts unsent messages back in front of anything buffered since,
// for the next connect to replay.
func (p *RealPublisher) requeue(gen int, unsent []bufferedMsg) {
	p.mu.Lock()
	defer p.mu.Unlock()
	later := p.buf.drainAll()
	for _, m := range unsent {
		p.buf.push(m)
	}
	for _, m := range later {
		p.buf.push(m)
	}
	switch {
	case gen == p.gen:
		p.replaying = false
	case !p.replaying:
		// The newer connect already finished its replay.
		p.replaying = true
		go p.replay(p.gen, false)
	}
}

// enqueue publishes msg now, or buffers it behind older messages that are
// still waiting for a connection or a replay.
func (p *RealPublisher) enqueue(msg bufferedMsg) error {
	p.mu.Lock()
	if p.replaying || p.buf.len() > 0 || !p.client.IsConnectionOpen() {
		if p.buf.push(msg) {
			p.log.Warn("buffer full, dropping oldest", zap.Int("capacity", p.buf.capacity))
		}
		p.mu.Unlock()
		return nil
	}
	p.mu.Unlock()
	return p.send(msg)
}

func (p *RealPublisher) send(msg bufferedMsg) error {
	token := p.client.Publish(msg.topic, msg.qos, msg.retained, msg.payload)
	if !token.WaitTimeout(p.timeout) {
		return fmt.Errorf("publish %s: timeout", msg.topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish %s: %w", msg.topic, err)
	}
	return nil
}

// Publish sends a monitor event to the broker.
func (p *RealPublisher) Publish(event logic.Event) error {
	payload, err := FormatPayload(event)
	if err != nil {
		return fmt.Errorf("format payload: %w", err)
	}
	// QoS 0 (at-most-once), not retained
	return p.enqueue(bufferedMsg{topic: Topic, payload: payload})
}

// PublishSystem sends a system lifecycle event to the broker.
func (p *RealPublisher) PublishSystem(event SystemEvent) error {
	if event.BootID == "" {
		event.BootID = p.bootID
	}
	payload, err := FormatSystemPayload(event)
	if err != nil {
		return fmt.Errorf("format system payload: %w", err)
	}
	// QoS 1 (at-least-once) for lifecycle events
	return p.enqueue(bufferedMsg{topic: TopicSystem, payload: payload, qos: 1, retained: event.Retained})
}

// Buffered returns the number of messages waiting for a connection.
func (p *RealPublisher) Buffered() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.buf.len()
}

// IsConnected reports whether the broker connection is currently open.
func (p *RealPublisher) IsConnected() bool {
	return p.client.IsConnectionOpen()
}

// Close disconnects from the broker.
func (p *RealPublisher) Close() error {
	p.client.Disconnect(1000) // 1 second timeout
	return nil
}
