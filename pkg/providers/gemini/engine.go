package gemini

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/loom/pkg/conversation"
	"github.com/go-go-golems/loom/pkg/engine"
	"github.com/go-go-golems/loom/pkg/events"
)

// Engine streams responses from the Gemini generateContent API. Unlike the
// other providers, tool calls arrive as whole functionCall parts and
// reasoning arrives as thought-flagged text parts.
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

func (e *Engine) buildRequest(req *engine.Request) *generateRequest {
	var contents []content
	for _, m := range req.Messages {
		switch m.Role {
		case conversation.RoleUser, conversation.RoleSystem:
			contents = append(contents, content{Role: "user", Parts: []part{{Text: m.Text}}})
		case conversation.RoleAssistant:
			contents = append(contents, content{Role: "model", Parts: []part{{Text: m.Text}}})
		case conversation.RoleToolCall:
			if m.ToolCall == nil {
				continue
			}
			var parts []part
			if m.Text != "" {
				parts = append(parts, part{Text: m.Text})
			}
			parts = append(parts, part{FunctionCall: &functionCall{
				Name: m.ToolCall.Name,
				Args: m.ToolCall.Arguments,
			}})
			contents = append(contents, content{Role: "model", Parts: parts})
		case conversation.RoleToolResponse:
			if m.ToolResponse == nil {
				continue
			}
			contents = append(contents, content{Role: "user", Parts: []part{{
				FunctionResponse: &functionResponse{
					Name:     m.ToolResponse.CallID,
					Response: map[string]interface{}{"output": m.ToolResponse.Output},
				},
			}}})
		}
	}

	gr := &generateRequest{Contents: contents}
	if req.SystemPrompt != "" {
		gr.SystemInstruction = &content{Parts: []part{{Text: req.SystemPrompt}}}
	}

	if len(req.Tools) > 0 {
		decl := toolDeclaration{}
		for _, tool := range req.Tools {
			decl.FunctionDeclarations = append(decl.FunctionDeclarations, functionDeclaration{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  tool.Parameters,
			})
		}
		gr.Tools = []toolDeclaration{decl}
	}

	cfg := &generationConfig{
		Temperature:     req.Temperature,
		MaxOutputTokens: req.MaxTokens,
	}
	resolved := e.capabilities.Lookup("gemini", req.Model).Resolve(req.Thinking)
	if resolved.Kind == engine.BudgetTokens {
		cfg.ThinkingConfig = &thinkingConfig{
			ThinkingBudget:  resolved.Tokens,
			IncludeThoughts: resolved.Tokens > 0,
		}
	}
	gr.GenerationConfig = cfg

	return gr
}

// RunInference streams one generateContent turn.
func (e *Engine) RunInference(ctx context.Context, req *engine.Request) (*engine.Response, error) {
	log.Debug().
		Int("num_messages", len(req.Messages)).
		Str("model", req.Model).
		Msg("gemini inference started")

	c := newClient(e.credential.APIKey, e.credential.BaseURL)
	gr := e.buildRequest(req)

	metadata := req.Metadata
	metadata.Model = req.Model
	metadata.Temperature = req.Temperature

	e.config.PublishEvent(ctx, events.NewStartEvent(metadata))

	stream, err := c.streamGenerateContent(ctx, req.Model, gr)
	if err != nil {
		log.Error().Err(err).Msg("gemini streaming request failed")
		e.config.PublishEvent(ctx, events.NewErrorEvent(metadata, err))
		return nil, err
	}

	thinkingRequested := gr.GenerationConfig.ThinkingConfig != nil &&
		gr.GenerationConfig.ThinkingConfig.IncludeThoughts
	acc := newAccumulator(metadata, thinkingRequested)

	for {
		select {
		case <-ctx.Done():
			log.Debug().Msg("gemini streaming cancelled by context")
			e.config.PublishEvent(ctx, events.NewInterruptEvent(metadata, acc.text))
			return nil, ctx.Err()

		case chunk, ok := <-stream:
			if !ok {
				goto streamingComplete
			}
			evts, err := acc.add(chunk)
			if err != nil {
				log.Error().Err(err).Msg("gemini stream reported an error")
				e.config.PublishEvent(ctx, events.NewErrorEvent(metadata, err))
				return nil, err
			}
			for _, ev := range evts {
				e.config.PublishEvent(ctx, ev)
			}
		}
	}

streamingComplete:
	for _, ev := range acc.finish() {
		e.config.PublishEvent(ctx, ev)
	}

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
		Msg("gemini streaming complete")

	if len(acc.toolCalls) == 0 {
		e.config.PublishEvent(ctx, events.NewFinalEvent(metadata, acc.text))
	}

	return &engine.Response{
		Text:       acc.text,
		ToolCalls:  acc.toolCalls,
		Thinking:   acc.thinkingResult,
		Usage:      acc.usage,
		StopReason: acc.stopReason,
	}, nil
}

// accumulator folds stream chunks into text, thought and tool-call state,
// owning the thinking lifecycle the same way the other adapters do.
type accumulator struct {
	metadata          events.EventMetadata
	thinkingRequested bool
	createdAt         time.Time

	text              string
	thinkingText      string
	thinkingOpen      bool
	thinkingStartedAt time.Time
	thinkingResult    *engine.ThinkingResult

	toolCalls  []engine.ToolCallRequest
	usage      *events.Usage
	stopReason string
}

func newAccumulator(metadata events.EventMetadata, thinkingRequested bool) *accumulator {
	return &accumulator{
		metadata:          metadata,
		thinkingRequested: thinkingRequested,
		createdAt:         time.Now(),
	}
}

func (a *accumulator) openThinking() []events.Event {
	if a.thinkingOpen || a.thinkingResult != nil {
		return nil
	}
	a.thinkingOpen = true
	a.thinkingStartedAt = time.Now()
	return []events.Event{events.NewThinkingStartEvent(a.metadata)}
}

func (a *accumulator) closeThinking() []events.Event {
	if !a.thinkingOpen {
		return nil
	}
	a.thinkingOpen = false
	elapsed := time.Since(a.thinkingStartedAt).Seconds()
	a.thinkingResult = &engine.ThinkingResult{
		Text:           a.thinkingText,
		ElapsedSeconds: elapsed,
		Status:         conversation.ThinkingStatusPresent,
	}
	return []events.Event{events.NewThinkingFinalEvent(
		a.metadata, a.thinkingText, elapsed, events.ThinkingStatusPresent)}
}

func (a *accumulator) add(chunk streamChunk) ([]events.Event, error) {
	if chunk.Error != nil {
		return nil, errors.New(chunk.Error.Message)
	}

	var out []events.Event
	if chunk.UsageMetadata != nil {
		a.usage = &events.Usage{
			InputTokens:  chunk.UsageMetadata.PromptTokenCount,
			OutputTokens: chunk.UsageMetadata.CandidatesTokenCount,
		}
	}

	for _, cand := range chunk.Candidates {
		if cand.FinishReason != "" {
			a.stopReason = cand.FinishReason
		}
		if cand.Content == nil {
			continue
		}
		for _, p := range cand.Content.Parts {
			switch {
			case p.Thought && p.Text != "":
				out = append(out, a.openThinking()...)
				a.thinkingText += p.Text
				out = append(out, events.NewThinkingPartialEvent(a.metadata, p.Text, a.thinkingText))

			case p.FunctionCall != nil:
				out = append(out, a.closeThinking()...)
				args := p.FunctionCall.Args
				if len(args) == 0 {
					args = json.RawMessage("{}")
				}
				// the API does not assign call ids; synthesize one so the
				// response can be paired with its tool result
				id := fmt.Sprintf("%s-%s", p.FunctionCall.Name, uuid.New().String()[:8])
				a.toolCalls = append(a.toolCalls, engine.ToolCallRequest{
					ID:            id,
					Name:          p.FunctionCall.Name,
					Arguments:     args,
					PrecedingText: a.text,
				})
				out = append(out, events.NewToolCallEvent(a.metadata, events.ToolCall{
					ID:    id,
					Name:  p.FunctionCall.Name,
					Input: string(args),
				}, a.text))

			case p.Text != "":
				out = append(out, a.closeThinking()...)
				a.text += p.Text
				out = append(out, events.NewPartialCompletionEvent(a.metadata, p.Text, a.text))
			}
		}
	}
	return out, nil
}

func (a *accumulator) finish() []events.Event {
	if a.thinkingOpen {
		return a.closeThinking()
	}
	if a.thinkingRequested && a.thinkingResult == nil {
		elapsed := time.Since(a.createdAt).Seconds()
		a.thinkingResult = &engine.ThinkingResult{
			ElapsedSeconds: elapsed,
			Status:         conversation.ThinkingStatusUnavailable,
		}
		return []events.Event{events.NewThinkingFinalEvent(
			a.metadata, "", elapsed, events.ThinkingStatusUnavailable)}
	}
	return nil
}
