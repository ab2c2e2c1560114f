// Package sink delivers monitor events to optional downstream consumers
// besides MQTT: a Redis stream and an HTTP webhook.
package sink

import (
	"context"
	"errors"
	"fmt"

	"github.com/sweeney/pir-sensor/internal/logic"
)

// Sink receives monitor events.
type Sink interface {
	// Name identifies the sink in logs and metrics.
	Name() string
	Send(ctx context.Context, event logic.Event) error
	Close() error
}

// Fanout sends every event to each sink in order.
type Fanout []Sink

// Send delivers event to all sinks. One failing sink does not stop the
// others; the returned error joins every failure.
func (f Fanout) Send(ctx context.Context, event logic.Event) error {
	var errs []error
	for _, s := range f {
		if err := s.Send(ctx, event); err != nil {
			errs = append(errs, &Error{Sink: s.Name(), Err: err})
		}
	}
	return errors.Join(errs...)
}

// Close closes all sinks.
func (f Fanout) Close() error {
	var errs []error
	for _, s := range f {
		if err := s.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", s.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// Error records which sink failed.
type Error struct {
	Sink string
	Err  error
}

func (e *Error) Error() string { return e.Sink + ": " + e.Err.Error() }

func (e *Error) Unwrap() error { return e.Err }

// Failed lists the sinks named in an error returned by Fanout.Send.
func Failed(err error) []string {
	if err == nil {
		return nil
	}
	var errs []error
	if j, ok := err.(interface{ Unwrap() []error }); ok {
		errs = j.Unwrap()
	} else {
		errs = []error{err}
	}
	var names []string
	for _, e := range errs {
		var se *Error
		if errors.As(e, &se) {
			names = append(names, se.Sink)
		}
	}
	return names
}
