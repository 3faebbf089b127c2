package cohere

import (
	"context"
	"encoding/json"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/loom/pkg/conversation"
	"github.com/go-go-golems/loom/pkg/engine"
	"github.com/go-go-golems/loom/pkg/events"
)

// Engine streams responses from the Cohere v2 chat API. Tool calls open with
// a fully-formed tool-call-start event, stream argument fragments keyed by
// the call id, and close with a tool-call-end; the accumulator buffers per
// call until then.
type Engine struct {
	credential engine.Credential
	config     *engine.Config
}

func NewEngine(credential engine.Credential, options ...engine.Option) (*Engine, error) {
	config, err := engine.NewConfig(options...)
	if err != nil {
		return nil, err
	}
	return &Engine{
		credential: credential,
		config:     config,
	}, nil
}

var _ engine.Engine = (*Engine)(nil)

func (e *Engine) buildRequest(req *engine.Request) *chatRequest {
	msgs := make([]chatMessage, 0, len(req.Messages)+1)
	if req.SystemPrompt != "" {
		msgs = append(msgs, chatMessage{Role: "system", Content: req.SystemPrompt})
	}
	for _, m := range req.Messages {
		switch m.Role {
		case conversation.RoleUser:
			msgs = append(msgs, chatMessage{Role: "user", Content: m.Text})
		case conversation.RoleAssistant:
			msgs = append(msgs, chatMessage{Role: "assistant", Content: m.Text})
		case conversation.RoleSystem:
			msgs = append(msgs, chatMessage{Role: "system", Content: m.Text})
		case conversation.RoleToolCall:
			if m.ToolCall == nil {
				continue
			}
			msgs = append(msgs, chatMessage{
				Role: "assistant",
				ToolCalls: []toolCall{{
					ID:   m.ToolCall.ID,
					Type: "function",
					Function: functionSpec{
						Name:      m.ToolCall.Name,
						Arguments: string(m.ToolCall.Arguments),
					},
				}},
			})
		case conversation.RoleToolResponse:
			if m.ToolResponse == nil {
				continue
			}
			msgs = append(msgs, chatMessage{
				Role:       "tool",
				Content:    m.ToolResponse.Output,
				ToolCallID: m.ToolResponse.CallID,
			})
		}
	}

	cr := &chatRequest{
		Model:       req.Model,
		Messages:    msgs,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		Stream:      true,
	}
	for _, t := range req.Tools {
		cr.Tools = append(cr.Tools, tool{
			Type: "function",
			Function: toolFunction{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			},
		})
	}
	return cr
}

// RunInference streams one chat turn.
func (e *Engine) RunInference(ctx context.Context, req *engine.Request) (*engine.Response, error) {
	log.Debug().
		Int("num_messages", len(req.Messages)).
		Str("model", req.Model).
		Msg("cohere inference started")

	c := newClient(e.credential.APIKey, e.credential.BaseURL)
	cr := e.buildRequest(req)

	metadata := req.Metadata
	metadata.Model = req.Model
	metadata.Temperature = req.Temperature

	e.config.PublishEvent(ctx, events.NewStartEvent(metadata))

	stream, err := c.streamChat(ctx, cr)
	if err != nil {
		log.Error().Err(err).Msg("cohere streaming request failed")
		e.config.PublishEvent(ctx, events.NewErrorEvent(metadata, err))
		return nil, err
	}

	acc := newCallAccumulator(metadata)

	for {
		select {
		case <-ctx.Done():
			log.Debug().Msg("cohere streaming cancelled by context")
			e.config.PublishEvent(ctx, events.NewInterruptEvent(metadata, acc.text))
			return nil, ctx.Err()

		case event, ok := <-stream:
			if !ok {
				goto streamingComplete
			}
			evts, err := acc.add(event)
			if err != nil {
				log.Error().Err(err).Msg("cohere stream reported an error")
				e.config.PublishEvent(ctx, events.NewErrorEvent(metadata, err))
				return nil, err
			}
			for _, ev := range evts {
				e.config.PublishEvent(ctx, ev)
			}
		}
	}

streamingComplete:
	if acc.usage != nil {
		metadata.Usage = acc.usage
	}
	if acc.stopReason != "" {
		sr := acc.stopReason
		metadata.StopReason = &sr
	}

	if acc.text == "" && len(acc.toolCalls) == 0 {
		err := errors.New("empty response")
		e.config.PublishEvent(ctx, events.NewErrorEvent(metadata, err))
		return nil, err
	}

	log.Debug().
		Int("final_text_length", len(acc.text)).
		Int("tool_call_count", len(acc.toolCalls)).
		Msg("cohere streaming complete")

	if len(acc.toolCalls) == 0 {
		e.config.PublishEvent(ctx, events.NewFinalEvent(metadata, acc.text))
	}

	return &engine.Response{
		Text:       acc.text,
		ToolCalls:  acc.toolCalls,
		Usage:      acc.usage,
		StopReason: acc.stopReason,
	}, nil
}

type openCall struct {
	id      string
	name    string
	argsBuf string
}

// callAccumulator folds the event stream into text and completed tool calls.
// Argument fragments are buffered per call id; a call becomes usable only
// when its end event arrives with (or after) a complete argument payload.
type callAccumulator struct {
	metadata events.EventMetadata

	text       string
	open       map[string]*openCall
	currentID  string
	toolCalls  []engine.ToolCallRequest
	usage      *events.Usage
	stopReason string
}

func newCallAccumulator(metadata events.EventMetadata) *callAccumulator {
	return &callAccumulator{
		metadata: metadata,
		open:     make(map[string]*openCall),
	}
}

func (a *callAccumulator) add(event streamEvent) ([]events.Event, error) {
	switch event.Type {
	case eventMessageStart, eventContentStart, eventContentEnd, eventToolPlanDelta:
		return nil, nil

	case eventContentDelta:
		if event.Delta == nil || event.Delta.Message == nil || event.Delta.Message.Content == nil {
			return nil, nil
		}
		delta := event.Delta.Message.Content.Text
		if delta == "" {
			return nil, nil
		}
		a.text += delta
		return []events.Event{events.NewPartialCompletionEvent(a.metadata, delta, a.text)}, nil

	case eventToolCallStart:
		tc := deltaToolCall(event)
		if tc == nil || tc.ID == "" {
			return nil, nil
		}
		a.open[tc.ID] = &openCall{
			id:      tc.ID,
			name:    tc.Function.Name,
			argsBuf: tc.Function.Arguments,
		}
		a.currentID = tc.ID
		return nil, nil

	case eventToolCallDelta:
		tc := deltaToolCall(event)
		if tc == nil {
			return nil, nil
		}
		call := a.resolveCall(tc.ID)
		if call == nil {
			log.Debug().Str("call_id", tc.ID).Msg("fragment for unknown tool call, skipping")
			return nil, nil
		}
		call.argsBuf += tc.Function.Arguments
		return nil, nil

	case eventToolCallEnd:
		tc := deltaToolCall(event)
		var id string
		if tc != nil {
			id = tc.ID
		}
		call := a.resolveCall(id)
		if call == nil {
			return nil, nil
		}
		// the end event may itself carry the complete argument string
		if tc != nil && tc.Function.Arguments != "" && json.Valid([]byte(tc.Function.Arguments)) {
			call.argsBuf = tc.Function.Arguments
		}
		args := call.argsBuf
		if args == "" {
			args = "{}"
		}
		a.toolCalls = append(a.toolCalls, engine.ToolCallRequest{
			ID:            call.id,
			Name:          call.name,
			Arguments:     json.RawMessage(args),
			PrecedingText: a.text,
		})
		delete(a.open, call.id)
		if a.currentID == call.id {
			a.currentID = ""
		}
		return []events.Event{events.NewToolCallEvent(a.metadata, events.ToolCall{
			ID:    call.id,
			Name:  call.name,
			Input: args,
		}, a.text)}, nil

	case eventMessageEnd:
		if event.Delta != nil {
			if event.Delta.FinishReason != "" {
				a.stopReason = event.Delta.FinishReason
			}
			if event.Delta.Usage != nil {
				a.usage = &events.Usage{
					InputTokens:  event.Delta.Usage.Tokens.InputTokens,
					OutputTokens: event.Delta.Usage.Tokens.OutputTokens,
				}
			}
		}
		return nil, nil

	case eventError:
		if event.Error != nil {
			return nil, errors.New(event.Error.Message)
		}
		return nil, errors.New("cohere stream error")

	default:
		return nil, nil
	}
}

// resolveCall finds the open call for an id, falling back to the call opened
// most recently when fragments arrive without one.
func (a *callAccumulator) resolveCall(id string) *openCall {
	if id != "" {
		return a.open[id]
	}
	if a.currentID != "" {
		return a.open[a.currentID]
	}
	return nil
}

func deltaToolCall(event streamEvent) *toolCall {
	if event.Delta == nil || event.Delta.Message == nil {
		return nil
	}
	return event.Delta.Message.ToolCalls
}
