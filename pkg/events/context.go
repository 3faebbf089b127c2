package events

import (
	"context"

	"github.com/rs/zerolog/log"
)

type sinksKey struct{}

// WithEventSinks returns a context carrying the given sinks in addition to any
// already attached. Code that holds only a context (the tool loop, tests) can
// publish events without access to the engine configuration.
func WithEventSinks(ctx context.Context, sinks ...EventSink) context.Context {
	if len(sinks) == 0 {
		return ctx
	}
	existing := sinksFromContext(ctx)
	combined := make([]EventSink, 0, len(existing)+len(sinks))
	combined = append(combined, existing...)
	combined = append(combined, sinks...)
	return context.WithValue(ctx, sinksKey{}, combined)
}

func sinksFromContext(ctx context.Context) []EventSink {
	sinks, _ := ctx.Value(sinksKey{}).([]EventSink)
	return sinks
}

// PublishEventToContext delivers the event to every sink attached to the
// context. Sink errors are ignored so a broken subscriber cannot stall a
// running stream; no attached sinks is a no-op.
func PublishEventToContext(ctx context.Context, event Event) {
	sinks := sinksFromContext(ctx)
	if len(sinks) == 0 {
		log.Trace().Str("event_type", string(event.Type())).Msg("no event sinks in context")
		return
	}
	for _, sink := range sinks {
		_ = sink.PublishEvent(event)
	}
}
