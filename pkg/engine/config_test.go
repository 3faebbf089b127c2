package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/loom/pkg/events"
)

type capturingSink struct {
	events []events.Event
}

func (s *capturingSink) PublishEvent(e events.Event) error {
	s.events = append(s.events, e)
	return nil
}

func TestPublishEventReachesConfigAndContextSinks(t *testing.T) {
	configSink := &capturingSink{}
	contextSink := &capturingSink{}

	config, err := NewConfig(WithSink(configSink))
	require.NoError(t, err)

	ctx := events.WithEventSinks(context.Background(), contextSink)
	config.PublishEvent(ctx, events.NewStartEvent(events.EventMetadata{}))

	require.Len(t, configSink.events, 1)
	require.Len(t, contextSink.events, 1)
	assert.Equal(t, events.EventTypeStart, configSink.events[0].Type())
	assert.Equal(t, events.EventTypeStart, contextSink.events[0].Type())
}

func TestPublishEventWithoutContextSinks(t *testing.T) {
	configSink := &capturingSink{}
	config, err := NewConfig(WithSink(configSink))
	require.NoError(t, err)

	config.PublishEvent(context.Background(), events.NewFinalEvent(events.EventMetadata{}, "done"))
	require.Len(t, configSink.events, 1)
}
