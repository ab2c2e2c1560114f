package sink

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/sweeney/pir-sensor/internal/logic"
)

// DefaultStream is the Redis stream key used when none is configured.
const DefaultStream = "pir:events"

// RedisStream appends events to a Redis stream with XADD.
type RedisStream struct {
	client *redis.Client
	stream string
	maxLen int64
}

// NewRedisStream connects to addr and verifies the connection with PING.
// maxLen caps the stream approximately; 0 leaves it unbounded.
func NewRedisStream(ctx context.Context, addr, password string, db int, stream string, maxLen int64) (*RedisStream, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", addr, err)
	}
	return newRedisStream(client, stream, maxLen), nil
}

func newRedisStream(client *redis.Client, stream string, maxLen int64) *RedisStream {
	if stream == "" {
		stream = DefaultStream
	}
	return &RedisStream{client: client, stream: stream, maxLen: maxLen}
}

// Name implements Sink.
func (r *RedisStream) Name() string { return "redis" }

// Send implements Sink.
func (r *RedisStream) Send(ctx context.Context, event logic.Event) error {
	_, err := r.client.XAdd(ctx, &redis.XAddArgs{
		Stream: r.stream,
		MaxLen: r.maxLen,
		Approx: r.maxLen > 0,
		Values: streamValues(event),
	}).Result()
	if err != nil {
		return fmt.Errorf("xadd %s: %w", r.stream, err)
	}
	return nil
}

// Close implements Sink.
func (r *RedisStream) Close() error {
	return r.client.Close()
}

func streamValues(e logic.Event) map[string]interface{} {
	v := map[string]interface{}{
		"event":     string(e.Type),
		"level":     string(e.Level),
		"timestamp": e.Timestamp.UTC().Format(time.RFC3339Nano),
	}
	if e.Type == logic.EventSummary {
		v["high_ms"] = strconv.FormatInt(e.High.Milliseconds(), 10)
		v["low_ms"] = strconv.FormatInt(e.Low.Milliseconds(), 10)
		v["duty_cycle"] = strconv.FormatFloat(e.DutyCycle(), 'f', 4, 64)
	} else {
		v["held_ms"] = strconv.FormatInt(e.Held.Milliseconds(), 10)
	}
	return v
}
