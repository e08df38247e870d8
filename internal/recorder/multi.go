package recorder

import (
	"context"
	"errors"

	"github.com/signalsfoundry/platoon-coordinator/model"
)

// Sink receives maneuver events.
type Sink interface {
	Record(ctx context.Context, ev model.ManeuverEvent)
}

// Closer is implemented by sinks that hold resources.
type Closer interface {
	Close() error
}

// MultiSink forwards every event to each of its sinks in order.
type MultiSink []Sink

// Multi builds a MultiSink, dropping nil entries.
func Multi(sinks ...Sink) MultiSink {
	out := make(MultiSink, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			out = append(out, s)
		}
	}
	return out
}

func (m MultiSink) Record(ctx context.Context, ev model.ManeuverEvent) {
	for _, s := range m {
		s.Record(ctx, ev)
	}
}

// Close closes every sink that implements Closer and joins the errors.
func (m MultiSink) Close() error {
	var errs []error
	for _, s := range m {
		if c, ok := s.(Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}
