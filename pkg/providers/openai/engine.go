package openai

import (
	"context"
	"encoding/json"
	"io"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	go_openai "github.com/sashabaranov/go-openai"

	"github.com/go-go-golems/loom/pkg/conversation"
	"github.com/go-go-golems/loom/pkg/engine"
	"github.com/go-go-golems/loom/pkg/events"
)

// Engine streams chat completions from the OpenAI API, or from any
// OpenAI-compatible gateway when the credential carries a base URL.
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

func (e *Engine) makeClient() *go_openai.Client {
	cfg := go_openai.DefaultConfig(e.credential.APIKey)
	if e.credential.BaseURL != "" {
		cfg.BaseURL = e.credential.BaseURL
	}
	return go_openai.NewClientWithConfig(cfg)
}

func isReasoningModel(model string) bool {
	m := strings.ToLower(strings.TrimSpace(model))
	return strings.HasPrefix(m, "o1") || strings.HasPrefix(m, "o3") ||
		strings.HasPrefix(m, "o4") || strings.HasPrefix(m, "gpt-5")
}

func (e *Engine) buildRequest(req *engine.Request) (*go_openai.ChatCompletionRequest, engine.ThinkingBudget) {
	msgs := make([]go_openai.ChatCompletionMessage, 0, len(req.Messages)+1)
	if req.SystemPrompt != "" {
		msgs = append(msgs, go_openai.ChatCompletionMessage{
			Role:    go_openai.ChatMessageRoleSystem,
			Content: req.SystemPrompt,
		})
	}
	for _, m := range req.Messages {
		switch m.Role {
		case conversation.RoleUser:
			msgs = append(msgs, go_openai.ChatCompletionMessage{
				Role:    go_openai.ChatMessageRoleUser,
				Content: m.Text,
			})
		case conversation.RoleAssistant:
			msgs = append(msgs, go_openai.ChatCompletionMessage{
				Role:    go_openai.ChatMessageRoleAssistant,
				Content: m.Text,
			})
		case conversation.RoleSystem:
			msgs = append(msgs, go_openai.ChatCompletionMessage{
				Role:    go_openai.ChatMessageRoleSystem,
				Content: m.Text,
			})
		case conversation.RoleToolCall:
			if m.ToolCall == nil {
				continue
			}
			msgs = append(msgs, go_openai.ChatCompletionMessage{
				Role:    go_openai.ChatMessageRoleAssistant,
				Content: m.Text,
				ToolCalls: []go_openai.ToolCall{{
					ID:   m.ToolCall.ID,
					Type: go_openai.ToolTypeFunction,
					Function: go_openai.FunctionCall{
						Name:      m.ToolCall.Name,
						Arguments: string(m.ToolCall.Arguments),
					},
				}},
			})
		case conversation.RoleToolResponse:
			if m.ToolResponse == nil {
				continue
			}
			msgs = append(msgs, go_openai.ChatCompletionMessage{
				Role:       go_openai.ChatMessageRoleTool,
				Content:    m.ToolResponse.Output,
				ToolCallID: m.ToolResponse.CallID,
			})
		}
	}

	ccr := &go_openai.ChatCompletionRequest{
		Model:    req.Model,
		Messages: msgs,
		Stream:   true,
		StreamOptions: &go_openai.StreamOptions{
			IncludeUsage: true,
		},
	}

	for _, tool := range req.Tools {
		ccr.Tools = append(ccr.Tools, go_openai.Tool{
			Type: go_openai.ToolTypeFunction,
			Function: &go_openai.FunctionDefinition{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  tool.Parameters,
			},
		})
	}

	resolved := e.capabilities.Lookup("openai", req.Model).Resolve(req.Thinking)
	if resolved.Kind == engine.BudgetEffort {
		ccr.ReasoningEffort = resolved.Effort
	}

	// reasoning models reject sampling parameters
	if req.Temperature != nil && !isReasoningModel(req.Model) {
		ccr.Temperature = float32(*req.Temperature)
	}

	return ccr, resolved
}

// RunInference streams one chat completion, publishing partial events as
// chunks arrive and reassembling index-keyed tool-call fragments.
func (e *Engine) RunInference(ctx context.Context, req *engine.Request) (*engine.Response, error) {
	log.Debug().
		Int("num_messages", len(req.Messages)).
		Str("model", req.Model).
		Msg("openai inference started")

	client := e.makeClient()
	ccr, resolved := e.buildRequest(req)

	metadata := req.Metadata
	metadata.Model = ccr.Model
	if req.Temperature != nil {
		metadata.Temperature = req.Temperature
	}

	e.config.PublishEvent(ctx, events.NewStartEvent(metadata))

	// the chat completions API reasons server-side without streaming the
	// rationale, so a requested budget yields thinking events with an
	// "unavailable" status
	thinkingRequested := resolved.Kind == engine.BudgetEffort
	var thinkingStarted time.Time
	if thinkingRequested {
		thinkingStarted = time.Now()
		e.config.PublishEvent(ctx, events.NewThinkingStartEvent(metadata))
	}

	stream, err := client.CreateChatCompletionStream(ctx, *ccr)
	if err != nil {
		log.Error().Err(err).Msg("openai streaming request failed")
		e.config.PublishEvent(ctx, events.NewErrorEvent(metadata, err))
		return nil, err
	}
	defer func() {
		_ = stream.Close()
	}()

	message := ""
	merger := newToolCallMerger()
	var usage *events.Usage
	var stopReason string
	thinkingClosed := !thinkingRequested

	closeThinking := func() *engine.ThinkingResult {
		if thinkingClosed {
			return nil
		}
		thinkingClosed = true
		elapsed := time.Since(thinkingStarted).Seconds()
		e.config.PublishEvent(ctx, events.NewThinkingFinalEvent(
			metadata, "", elapsed, events.ThinkingStatusUnavailable))
		return &engine.ThinkingResult{
			ElapsedSeconds: elapsed,
			Status:         conversation.ThinkingStatusUnavailable,
		}
	}
	var thinking *engine.ThinkingResult

	for {
		select {
		case <-ctx.Done():
			log.Debug().Msg("openai streaming cancelled by context")
			e.config.PublishEvent(ctx, events.NewInterruptEvent(metadata, message))
			return nil, ctx.Err()
		default:
		}

		response, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			log.Error().Err(err).Msg("openai stream receive failed")
			e.config.PublishEvent(ctx, events.NewErrorEvent(metadata, err))
			return nil, err
		}

		if response.Usage != nil {
			usage = &events.Usage{
				InputTokens:  response.Usage.PromptTokens,
				OutputTokens: response.Usage.CompletionTokens,
			}
		}

		if len(response.Choices) == 0 {
			continue
		}
		choice := response.Choices[0]
		if choice.FinishReason != "" {
			stopReason = string(choice.FinishReason)
		}

		if delta := choice.Delta.Content; delta != "" {
			if t := closeThinking(); t != nil {
				thinking = t
			}
			message += delta
			e.config.PublishEvent(ctx, events.NewPartialCompletionEvent(metadata, delta, message))
		}

		if len(choice.Delta.ToolCalls) > 0 {
			if t := closeThinking(); t != nil {
				thinking = t
			}
			merger.addToolCalls(choice.Delta.ToolCalls)
		}
	}

	if t := closeThinking(); t != nil {
		thinking = t
	}

	if usage != nil {
		metadata.Usage = usage
	}
	if stopReason != "" {
		metadata.StopReason = &stopReason
	}

	mergedToolCalls := merger.getToolCalls()
	log.Debug().
		Int("final_text_length", len(message)).
		Int("tool_call_count", len(mergedToolCalls)).
		Msg("openai streaming complete")

	if len(mergedToolCalls) == 0 && message == "" {
		err := errors.New("empty response")
		e.config.PublishEvent(ctx, events.NewErrorEvent(metadata, err))
		return nil, err
	}

	ret := &engine.Response{
		Text:       message,
		Thinking:   thinking,
		Usage:      usage,
		StopReason: stopReason,
	}

	for _, tc := range mergedToolCalls {
		e.config.PublishEvent(ctx, events.NewToolCallEvent(metadata, events.ToolCall{
			ID:    tc.ID,
			Name:  tc.Function.Name,
			Input: tc.Function.Arguments,
		}, message))
		ret.ToolCalls = append(ret.ToolCalls, engine.ToolCallRequest{
			ID:            tc.ID,
			Name:          tc.Function.Name,
			Arguments:     json.RawMessage(tc.Function.Arguments),
			PrecedingText: message,
		})
	}

	if len(mergedToolCalls) == 0 {
		e.config.PublishEvent(ctx, events.NewFinalEvent(metadata, message))
	}

	return ret, nil
}
