package engine

import (
	"context"

	"github.com/go-go-golems/loom/pkg/events"
)

// Config holds engine-level configuration shared by all provider adapters.
type Config struct {
	// EventSinks receive streaming events during inference
	EventSinks []events.EventSink
}

type Option func(*Config) error

// WithSink adds an event sink to receive events during inference.
func WithSink(sink events.EventSink) Option {
	return func(c *Config) error {
		c.EventSinks = append(c.EventSinks, sink)
		return nil
	}
}

func NewConfig(options ...Option) (*Config, error) {
	c := &Config{}
	for _, option := range options {
		if err := option(c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// PublishEvent delivers an event to the config sinks and to any sinks carried
// by the context. Sink errors never interrupt a running stream.
func (c *Config) PublishEvent(ctx context.Context, event events.Event) {
	for _, sink := range c.EventSinks {
		_ = sink.PublishEvent(event)
	}
	events.PublishEventToContext(ctx, event)
}
