package main

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sweeney/pir-sensor/internal/logic"
	"github.com/sweeney/pir-sensor/internal/sink"
)

// sinkTimeout bounds a single event delivery to the optional sinks.
const sinkTimeout = 5 * time.Second

// sinkQueueSize is how many events may wait for slow sinks before new ones
// are dropped.
const sinkQueueSize = 256

// dispatcher delivers events to the sinks on its own goroutine so a slow
// Redis or webhook never stalls sampling.
type dispatcher struct {
	sinks   sink.Fanout
	log     *zap.Logger
	onError func(sinkName string)

	queue chan logic.Event
	wg    sync.WaitGroup

	mu      sync.Mutex
	dropped int
}

func newDispatcher(sinks sink.Fanout, size int, log *zap.Logger, onError func(string)) *dispatcher {
	return &dispatcher{
		sinks:   sinks,
		log:     log,
		onError: onError,
		queue:   make(chan logic.Event, size),
	}
}

// start launches the delivery goroutine.
func (d *dispatcher) start(ctx context.Context) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		for e := range d.queue {
			d.deliver(ctx, e)
		}
	}()
}

func (d *dispatcher) deliver(ctx context.Context, e logic.Event) {
	sctx, cancel := context.WithTimeout(ctx, sinkTimeout)
	err := d.sinks.Send(sctx, e)
	cancel()
	if err == nil {
		return
	}
	d.log.Warn("sink error", zap.String("event", string(e.Type)), zap.Error(err))
	if d.onError != nil {
		for _, name := range sink.Failed(err) {
			d.onError(name)
		}
	}
}

// submit queues e without blocking. It reports false if the queue was full
// and the event was dropped.
func (d *dispatcher) submit(e logic.Event) bool {
	select {
	case d.queue <- e:
		return true
	default:
	}
	d.mu.Lock()
	d.dropped++
	n := d.dropped
	d.mu.Unlock()
	d.log.Warn("sink queue full, dropping event", zap.String("event", string(e.Type)), zap.Int("dropped", n))
	if d.onError != nil {
		d.onError("queue")
	}
	return false
}

// close stops accepting events and waits until the queued ones are delivered.
func (d *dispatcher) close() {
	close(d.queue)
	d.wg.Wait()
}
