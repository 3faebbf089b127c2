package claude

import (
	"encoding/json"
	"time"

	"github.com/pkg/errors"

	"github.com/go-go-golems/loom/pkg/conversation"
	"github.com/go-go-golems/loom/pkg/engine"
	"github.com/go-go-golems/loom/pkg/events"
	"github.com/go-go-golems/loom/pkg/providers/claude/api"
)

type blockState struct {
	blockType api.ContentBlockType
	id        string
	name      string
	jsonBuf   string
}

// contentBlockMerger folds the Messages API stream back into one response.
// It tracks content blocks by index, concatenates text deltas, buffers
// input_json_delta fragments per tool-use block until the block stops, and
// owns the thinking lifecycle: one thinking-started before the first
// thinking-partial, one thinking-complete on transition to text, tool use or
// stream end.
type contentBlockMerger struct {
	metadata          events.EventMetadata
	thinkingRequested bool
	createdAt         time.Time

	blocks map[int]*blockState

	text              string
	thinkingText      string
	thinkingOpen      bool
	thinkingStartedAt time.Time
	thinkingResult    *engine.ThinkingResult

	toolCalls  []engine.ToolCallRequest
	usage      *events.Usage
	stopReason string
}

func newContentBlockMerger(metadata events.EventMetadata, thinkingRequested bool) *contentBlockMerger {
	return &contentBlockMerger{
		metadata:          metadata,
		thinkingRequested: thinkingRequested,
		createdAt:         time.Now(),
		blocks:            make(map[int]*blockState),
	}
}

func (cbm *contentBlockMerger) Text() string                         { return cbm.text }
func (cbm *contentBlockMerger) ToolCalls() []engine.ToolCallRequest  { return cbm.toolCalls }
func (cbm *contentBlockMerger) Thinking() *engine.ThinkingResult     { return cbm.thinkingResult }
func (cbm *contentBlockMerger) Usage() *events.Usage                 { return cbm.usage }
func (cbm *contentBlockMerger) StopReason() string                   { return cbm.stopReason }

func (cbm *contentBlockMerger) openThinking() []events.Event {
	if cbm.thinkingOpen || cbm.thinkingResult != nil {
		return nil
	}
	cbm.thinkingOpen = true
	cbm.thinkingStartedAt = time.Now()
	return []events.Event{events.NewThinkingStartEvent(cbm.metadata)}
}

func (cbm *contentBlockMerger) closeThinking(status events.ThinkingStatus) []events.Event {
	if !cbm.thinkingOpen {
		return nil
	}
	cbm.thinkingOpen = false
	elapsed := time.Since(cbm.thinkingStartedAt).Seconds()
	cbm.thinkingResult = &engine.ThinkingResult{
		Text:           cbm.thinkingText,
		ElapsedSeconds: elapsed,
		Status:         conversation.ThinkingStatus(status),
	}
	return []events.Event{events.NewThinkingFinalEvent(cbm.metadata, cbm.thinkingText, elapsed, status)}
}

// Add processes one streaming event and returns the chat events to publish
// for it, in order.
func (cbm *contentBlockMerger) Add(event api.StreamingEvent) ([]events.Event, error) {
	switch event.Type {
	case api.PingType:
		return nil, nil

	case api.MessageStartType:
		if event.Message != nil {
			cbm.usage = &events.Usage{
				InputTokens:  event.Message.Usage.InputTokens,
				OutputTokens: event.Message.Usage.OutputTokens,
			}
		}
		return nil, nil

	case api.ContentBlockStartType:
		if event.ContentBlock == nil {
			return nil, errors.New("content_block_start event must have a content block")
		}
		cbm.blocks[event.Index] = &blockState{
			blockType: event.ContentBlock.Type,
			id:        event.ContentBlock.ID,
			name:      event.ContentBlock.Name,
		}
		switch event.ContentBlock.Type {
		case api.ThinkingContentType:
			return cbm.openThinking(), nil
		case api.TextContentType, api.ToolUseContentType:
			return cbm.closeThinking(events.ThinkingStatusPresent), nil
		}
		return nil, nil

	case api.ContentBlockDeltaType:
		if event.Delta == nil {
			return nil, errors.New("content_block_delta event must have a delta")
		}
		return cbm.addDelta(event.Index, event.Delta)

	case api.ContentBlockStopType:
		block := cbm.blocks[event.Index]
		if block == nil {
			return nil, nil
		}
		switch block.blockType {
		case api.ThinkingContentType:
			return cbm.closeThinking(events.ThinkingStatusPresent), nil
		case api.ToolUseContentType:
			return cbm.finishToolUse(block), nil
		}
		return nil, nil

	case api.MessageDeltaType:
		if event.Delta != nil && event.Delta.StopReason != "" {
			cbm.stopReason = event.Delta.StopReason
		}
		if event.Usage != nil {
			if cbm.usage == nil {
				cbm.usage = &events.Usage{}
			}
			if event.Usage.InputTokens > 0 {
				cbm.usage.InputTokens = event.Usage.InputTokens
			}
			if event.Usage.OutputTokens > 0 {
				cbm.usage.OutputTokens = event.Usage.OutputTokens
			}
		}
		return nil, nil

	case api.MessageStopType:
		return nil, nil

	case api.ErrorType:
		if event.Error == nil {
			return nil, errors.New("error event must have an error")
		}
		return nil, errors.New(event.Error.Message)

	default:
		// unknown event types are skipped, not fatal
		return nil, nil
	}
}

func (cbm *contentBlockMerger) addDelta(index int, delta *api.Delta) ([]events.Event, error) {
	switch delta.Type {
	case api.TextDeltaType:
		// a provider may jump straight from thinking deltas to text without
		// an explicit stop; synthesize the thinking-complete here
		out := cbm.closeThinking(events.ThinkingStatusPresent)
		cbm.text += delta.Text
		out = append(out, events.NewPartialCompletionEvent(cbm.metadata, delta.Text, cbm.text))
		return out, nil

	case api.ThinkingDeltaType:
		out := cbm.openThinking()
		cbm.thinkingText += delta.Thinking
		out = append(out, events.NewThinkingPartialEvent(cbm.metadata, delta.Thinking, cbm.thinkingText))
		return out, nil

	case api.InputJSONDeltaType:
		if block := cbm.blocks[index]; block != nil {
			block.jsonBuf += delta.PartialJSON
		}
		return nil, nil

	case api.SignatureDeltaType:
		return nil, nil

	default:
		return nil, nil
	}
}

func (cbm *contentBlockMerger) finishToolUse(block *blockState) []events.Event {
	args := block.jsonBuf
	if args == "" {
		args = "{}"
	}
	cbm.toolCalls = append(cbm.toolCalls, engine.ToolCallRequest{
		ID:            block.id,
		Name:          block.name,
		Arguments:     json.RawMessage(args),
		PrecedingText: cbm.text,
	})
	return []events.Event{events.NewToolCallEvent(cbm.metadata, events.ToolCall{
		ID:    block.id,
		Name:  block.name,
		Input: args,
	}, cbm.text)}
}

// Finish closes the thinking lifecycle at stream end. A turn that requested
// thinking but never received any reports status "unavailable", not "none".
func (cbm *contentBlockMerger) Finish() []events.Event {
	if cbm.thinkingOpen {
		return cbm.closeThinking(events.ThinkingStatusPresent)
	}
	if cbm.thinkingRequested && cbm.thinkingResult == nil {
		elapsed := time.Since(cbm.createdAt).Seconds()
		cbm.thinkingResult = &engine.ThinkingResult{
			ElapsedSeconds: elapsed,
			Status:         conversation.ThinkingStatusUnavailable,
		}
		return []events.Event{
			events.NewThinkingFinalEvent(cbm.metadata, "", elapsed, events.ThinkingStatusUnavailable),
		}
	}
	return nil
}
