package claude

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/loom/pkg/events"
	"github.com/go-go-golems/loom/pkg/providers/claude/api"
)

func addAll(t *testing.T, cbm *contentBlockMerger, evts ...api.StreamingEvent) []events.Event {
	t.Helper()
	var out []events.Event
	for _, ev := range evts {
		published, err := cbm.Add(ev)
		require.NoError(t, err)
		out = append(out, published...)
	}
	return out
}

func eventTypes(evts []events.Event) []events.EventType {
	var out []events.EventType
	for _, ev := range evts {
		out = append(out, ev.Type())
	}
	return out
}

func TestMergerConcatenatesTextDeltas(t *testing.T) {
	cbm := newContentBlockMerger(events.EventMetadata{}, false)

	published := addAll(t, cbm,
		api.StreamingEvent{Type: api.ContentBlockStartType, Index: 0,
			ContentBlock: &api.ContentBlock{Type: api.TextContentType}},
		api.StreamingEvent{Type: api.ContentBlockDeltaType, Index: 0,
			Delta: &api.Delta{Type: api.TextDeltaType, Text: "Hello "}},
		api.StreamingEvent{Type: api.ContentBlockDeltaType, Index: 0,
			Delta: &api.Delta{Type: api.TextDeltaType, Text: "world"}},
		api.StreamingEvent{Type: api.ContentBlockStopType, Index: 0},
	)

	assert.Equal(t, "Hello world", cbm.Text())
	require.Len(t, published, 2)
	last, ok := events.ToTypedEvent[events.EventPartialCompletion](published[1])
	require.True(t, ok)
	assert.Equal(t, "world", last.Delta)
	assert.Equal(t, "Hello world", last.Completion)
}

func TestMergerBuffersToolUseFragments(t *testing.T) {
	cbm := newContentBlockMerger(events.EventMetadata{}, false)

	published := addAll(t, cbm,
		api.StreamingEvent{Type: api.ContentBlockStartType, Index: 0,
			ContentBlock: &api.ContentBlock{Type: api.TextContentType}},
		api.StreamingEvent{Type: api.ContentBlockDeltaType, Index: 0,
			Delta: &api.Delta{Type: api.TextDeltaType, Text: "Let me check."}},
		api.StreamingEvent{Type: api.ContentBlockStopType, Index: 0},
		api.StreamingEvent{Type: api.ContentBlockStartType, Index: 1,
			ContentBlock: &api.ContentBlock{Type: api.ToolUseContentType, ID: "toolu_1", Name: "get_weather"}},
		api.StreamingEvent{Type: api.ContentBlockDeltaType, Index: 1,
			Delta: &api.Delta{Type: api.InputJSONDeltaType, PartialJSON: `{"location":`}},
		api.StreamingEvent{Type: api.ContentBlockDeltaType, Index: 1,
			Delta: &api.Delta{Type: api.InputJSONDeltaType, PartialJSON: `"SF"}`}},
		api.StreamingEvent{Type: api.ContentBlockStopType, Index: 1},
	)

	calls := cbm.ToolCalls()
	require.Len(t, calls, 1)
	assert.Equal(t, "toolu_1", calls[0].ID)
	assert.Equal(t, "get_weather", calls[0].Name)
	assert.JSONEq(t, `{"location":"SF"}`, string(calls[0].Arguments))
	assert.Equal(t, "Let me check.", calls[0].PrecedingText)

	// last published event is the assembled tool call
	toolEvent, ok := events.ToTypedEvent[events.EventToolCall](published[len(published)-1])
	require.True(t, ok)
	assert.Equal(t, `{"location":"SF"}`, toolEvent.ToolCall.Input)
}

func TestMergerThinkingLifecycle(t *testing.T) {
	cbm := newContentBlockMerger(events.EventMetadata{}, true)

	published := addAll(t, cbm,
		api.StreamingEvent{Type: api.ContentBlockStartType, Index: 0,
			ContentBlock: &api.ContentBlock{Type: api.ThinkingContentType}},
		api.StreamingEvent{Type: api.ContentBlockDeltaType, Index: 0,
			Delta: &api.Delta{Type: api.ThinkingDeltaType, Thinking: "step 1. "}},
		api.StreamingEvent{Type: api.ContentBlockDeltaType, Index: 0,
			Delta: &api.Delta{Type: api.ThinkingDeltaType, Thinking: "step 2."}},
		api.StreamingEvent{Type: api.ContentBlockStopType, Index: 0},
	)

	types := eventTypes(published)
	assert.Equal(t, []events.EventType{
		events.EventTypeThinkingStart,
		events.EventTypePartialThinking,
		events.EventTypePartialThinking,
		events.EventTypeThinkingFinal,
	}, types)

	result := cbm.Thinking()
	require.NotNil(t, result)
	assert.Equal(t, "step 1. step 2.", result.Text)
	assert.Equal(t, "present", string(result.Status))
}

func TestMergerSynthesizesThinkingFinalWhenTextBegins(t *testing.T) {
	cbm := newContentBlockMerger(events.EventMetadata{}, true)

	// thinking deltas followed directly by a text delta, no explicit stop
	published := addAll(t, cbm,
		api.StreamingEvent{Type: api.ContentBlockDeltaType, Index: 0,
			Delta: &api.Delta{Type: api.ThinkingDeltaType, Thinking: "hmm"}},
		api.StreamingEvent{Type: api.ContentBlockDeltaType, Index: 1,
			Delta: &api.Delta{Type: api.TextDeltaType, Text: "Answer."}},
	)

	types := eventTypes(published)
	assert.Equal(t, []events.EventType{
		events.EventTypeThinkingStart,
		events.EventTypePartialThinking,
		events.EventTypeThinkingFinal,
		events.EventTypePartialCompletion,
	}, types)

	result := cbm.Thinking()
	require.NotNil(t, result)
	assert.Equal(t, "present", string(result.Status))
	assert.Equal(t, "hmm", result.Text)
}

func TestMergerRequestedThinkingNeverArrived(t *testing.T) {
	cbm := newContentBlockMerger(events.EventMetadata{}, true)

	addAll(t, cbm,
		api.StreamingEvent{Type: api.ContentBlockDeltaType, Index: 0,
			Delta: &api.Delta{Type: api.TextDeltaType, Text: "Just an answer."}},
	)

	published := cbm.Finish()
	require.Len(t, published, 1)
	final, ok := events.ToTypedEvent[events.EventThinkingFinal](published[0])
	require.True(t, ok)
	assert.Equal(t, events.ThinkingStatusUnavailable, final.Status)

	result := cbm.Thinking()
	require.NotNil(t, result)
	assert.Equal(t, "unavailable", string(result.Status))
	assert.Empty(t, result.Text)
}

func TestMergerStopReasonAndUsage(t *testing.T) {
	cbm := newContentBlockMerger(events.EventMetadata{}, false)

	addAll(t, cbm,
		api.StreamingEvent{Type: api.MessageStartType,
			Message: &api.MessageResponse{Usage: api.Usage{InputTokens: 10}}},
		api.StreamingEvent{Type: api.ContentBlockDeltaType, Index: 0,
			Delta: &api.Delta{Type: api.TextDeltaType, Text: "hi"}},
		api.StreamingEvent{Type: api.MessageDeltaType,
			Delta: &api.Delta{StopReason: "end_turn"},
			Usage: &api.Usage{OutputTokens: 5}},
		api.StreamingEvent{Type: api.MessageStopType},
	)

	assert.Equal(t, "end_turn", cbm.StopReason())
	require.NotNil(t, cbm.Usage())
	assert.Equal(t, 10, cbm.Usage().InputTokens)
	assert.Equal(t, 5, cbm.Usage().OutputTokens)
}

func TestMergerErrorEvent(t *testing.T) {
	cbm := newContentBlockMerger(events.EventMetadata{}, false)
	_, err := cbm.Add(api.StreamingEvent{Type: api.ErrorType,
		Error: &api.ErrorDetail{Type: "overloaded_error", Message: "Overloaded"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Overloaded")
}
