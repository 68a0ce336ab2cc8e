package events

import "context"

// Sink receives domain events after they have taken effect.
type Sink interface {
	Publish(ctx context.Context, envs ...Envelope) error
	Close() error
}

// NopSink drops every event. Used when no broker is configured.
type NopSink struct{}

func (NopSink) Publish(context.Context, ...Envelope) error { return nil }

func (NopSink) Close() error { return nil }
