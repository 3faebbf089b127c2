package claude

import (
	"context"
	"encoding/json"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/loom/pkg/conversation"
	"github.com/go-go-golems/loom/pkg/engine"
	"github.com/go-go-golems/loom/pkg/events"
	"github.com/go-go-golems/loom/pkg/providers/claude/api"
)

const defaultMaxTokens = 4096

// Engine streams responses from the Anthropic Messages API.
type Engine struct {
	credential   engine.Credential
	config       *engine.Config
	capabilities *engine.CapabilityTable
}

func NewEngine(credential engine.Credential, options ...engine.Option) (*Engine, error) {
	config, err := engine.NewConfig(options...)
	if err != nil {
		return nil, err
	}
	return &Engine{
		credential:   credential,
		config:       config,
		capabilities: engine.DefaultCapabilities(),
	}, nil
}

var _ engine.Engine = (*Engine)(nil)

func textContent(text string) json.RawMessage {
	b, _ := json.Marshal(text)
	return b
}

func blockContent(blocks ...interface{}) json.RawMessage {
	b, _ := json.Marshal(blocks)
	return b
}

func (e *Engine) buildRequest(req *engine.Request) *api.MessageRequest {
	msgs := make([]api.Message, 0, len(req.Messages))
	for _, m := range req.Messages {
		switch m.Role {
		case conversation.RoleUser:
			msgs = append(msgs, api.Message{Role: "user", Content: textContent(m.Text)})
		case conversation.RoleAssistant:
			msgs = append(msgs, api.Message{Role: "assistant", Content: textContent(m.Text)})
		case conversation.RoleSystem:
			// system text rides in the request's system field for claude;
			// mid-conversation system messages become user turns
			msgs = append(msgs, api.Message{Role: "user", Content: textContent(m.Text)})
		case conversation.RoleToolCall:
			if m.ToolCall == nil {
				continue
			}
			var blocks []interface{}
			if m.Text != "" {
				blocks = append(blocks, api.TextBlock{Type: "text", Text: m.Text})
			}
			blocks = append(blocks, api.ToolUseBlock{
				Type:  "tool_use",
				ID:    m.ToolCall.ID,
				Name:  m.ToolCall.Name,
				Input: m.ToolCall.Arguments,
			})
			msgs = append(msgs, api.Message{Role: "assistant", Content: blockContent(blocks...)})
		case conversation.RoleToolResponse:
			if m.ToolResponse == nil {
				continue
			}
			msgs = append(msgs, api.Message{Role: "user", Content: blockContent(api.ToolResultBlock{
				Type:      "tool_result",
				ToolUseID: m.ToolResponse.CallID,
				Content:   m.ToolResponse.Output,
			})})
		}
	}

	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = defaultMaxTokens
	}

	mr := &api.MessageRequest{
		Model:       req.Model,
		Messages:    msgs,
		MaxTokens:   maxTokens,
		Stream:      true,
		System:      req.SystemPrompt,
		Temperature: req.Temperature,
	}

	for _, tool := range req.Tools {
		schema, _ := json.Marshal(tool.Parameters)
		mr.Tools = append(mr.Tools, api.Tool{
			Name:        tool.Name,
			Description: tool.Description,
			InputSchema: schema,
		})
	}

	resolved := e.capabilities.Lookup("claude", req.Model).Resolve(req.Thinking)
	if resolved.Kind == engine.BudgetTokens && resolved.Tokens > 0 {
		mr.Thinking = &api.ThinkingConfig{
			Type:         "enabled",
			BudgetTokens: resolved.Tokens,
		}
		// extended thinking rejects explicit temperature
		mr.Temperature = nil
		if mr.MaxTokens <= resolved.Tokens {
			mr.MaxTokens = resolved.Tokens + defaultMaxTokens
		}
	}

	return mr
}

// RunInference streams one Messages turn, folding content blocks back
// together through the content block merger.
func (e *Engine) RunInference(ctx context.Context, req *engine.Request) (*engine.Response, error) {
	log.Debug().
		Int("num_messages", len(req.Messages)).
		Str("model", req.Model).
		Msg("claude inference started")

	client := api.NewClient(e.credential.APIKey, e.credential.BaseURL)
	mr := e.buildRequest(req)

	metadata := req.Metadata
	metadata.Model = mr.Model
	metadata.Temperature = mr.Temperature

	e.config.PublishEvent(ctx, events.NewStartEvent(metadata))

	stream, err := client.StreamMessage(ctx, mr)
	if err != nil {
		log.Error().Err(err).Msg("claude streaming request failed")
		e.config.PublishEvent(ctx, events.NewErrorEvent(metadata, err))
		return nil, err
	}

	merger := newContentBlockMerger(metadata, mr.Thinking != nil)

	for {
		select {
		case <-ctx.Done():
			log.Debug().Msg("claude streaming cancelled by context")
			e.config.PublishEvent(ctx, events.NewInterruptEvent(metadata, merger.Text()))
			return nil, ctx.Err()

		case event, ok := <-stream:
			if !ok {
				goto streamingComplete
			}
			evts, err := merger.Add(event)
			if err != nil {
				log.Error().Err(err).Msg("claude stream reported an error")
				e.config.PublishEvent(ctx, events.NewErrorEvent(metadata, err))
				return nil, err
			}
			for _, ev := range evts {
				e.config.PublishEvent(ctx, ev)
			}
		}
	}

streamingComplete:
	for _, ev := range merger.Finish() {
		e.config.PublishEvent(ctx, ev)
	}

	if merger.Usage() != nil {
		metadata.Usage = merger.Usage()
	}
	if sr := merger.StopReason(); sr != "" {
		metadata.StopReason = &sr
	}

	if merger.Text() == "" && len(merger.ToolCalls()) == 0 {
		err := errors.New("empty response")
		e.config.PublishEvent(ctx, events.NewErrorEvent(metadata, err))
		return nil, err
	}

	log.Debug().
		Int("final_text_length", len(merger.Text())).
		Int("tool_call_count", len(merger.ToolCalls())).
		Msg("claude streaming complete")

	if len(merger.ToolCalls()) == 0 {
		e.config.PublishEvent(ctx, events.NewFinalEvent(metadata, merger.Text()))
	}

	return &engine.Response{
		Text:       merger.Text(),
		ToolCalls:  merger.ToolCalls(),
		Thinking:   merger.Thinking(),
		Usage:      merger.Usage(),
		StopReason: merger.StopReason(),
	}, nil
}
