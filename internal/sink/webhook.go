package sink

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/sweeney/pir-sensor/internal/logic"
	"github.com/sweeney/pir-sensor/internal/mqtt"
)

// Webhook POSTs events as JSON (the MQTT payload shape) to a URL.
// By default only MOTION events are sent.
type Webhook struct {
	client *resty.Client
	url    string
	all    bool
}

// NewWebhook creates a webhook sink. all sends every event type instead of
// only MOTION.
func NewWebhook(url string, all bool) *Webhook {
	client := resty.New().
		SetTimeout(5 * time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(2 * time.Second).
		AddRetryCondition(retryable).
		SetHeader("Content-Type", "application/json").
		SetHeader("User-Agent", "pir-sensor")
	return &Webhook{client: client, url: url, all: all}
}

// retryable retries transport errors and 5xx responses. A 4xx means the
// receiver rejected the payload and will keep doing so.
func retryable(resp *resty.Response, err error) bool {
	if err != nil {
		return true
	}
	return resp != nil && resp.StatusCode() >= http.StatusInternalServerError
}

// Name implements Sink.
func (w *Webhook) Name() string { return "webhook" }

// Send implements Sink.
func (w *Webhook) Send(ctx context.Context, event logic.Event) error {
	if !w.all && event.Type != logic.EventMotion {
		return nil
	}
	resp, err := w.client.R().
		SetContext(ctx).
		SetBody(mqtt.NewPayload(event)).
		Post(w.url)
	if err != nil {
		return fmt.Errorf("post %s: %w", w.url, err)
	}
	if resp.IsError() {
		return fmt.Errorf("post %s: status %d", w.url, resp.StatusCode())
	}
	return nil
}

// Close implements Sink.
func (w *Webhook) Close() error { return nil }
