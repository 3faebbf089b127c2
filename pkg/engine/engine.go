package engine

import (
	"context"
	"encoding/json"

	"github.com/go-go-golems/loom/pkg/conversation"
	"github.com/go-go-golems/loom/pkg/events"
	"github.com/go-go-golems/loom/pkg/tools"
)

// Engine processes one inference request against a provider and streams
// events to the configured sinks while doing so. Implementations are
// stateless across calls; all per-turn state lives in the Request.
type Engine interface {
	// RunInference reads the provider's response incrementally, publishing
	// partial events as they arrive, and returns the assembled result.
	RunInference(ctx context.Context, req *Request) (*Response, error)
}

// Credential identifies the account and endpoint a provider engine talks to.
// BaseURL overrides the provider's default endpoint, which is how
// OpenAI-compatible gateways are reached.
type Credential struct {
	APIKey  string
	BaseURL string
}

// Request is the complete input for one streaming turn.
type Request struct {
	Messages     conversation.Conversation
	Model        string
	SystemPrompt string
	Tools        []*tools.Definition
	Thinking     ThinkingBudget
	Temperature  *float64
	MaxTokens    int

	// Metadata is stamped onto every event emitted for this turn.
	Metadata events.EventMetadata
}

// ToolCallRequest is a fully-assembled tool call extracted from the stream.
// Arguments is syntactically complete JSON; fragment accumulation happens
// inside the adapter, never here.
type ToolCallRequest struct {
	ID            string
	Name          string
	Arguments     json.RawMessage
	PrecedingText string
}

// ThinkingResult carries the reasoning text accumulated during the turn.
// Status is "unavailable" when reasoning was requested but the provider
// withheld the text.
type ThinkingResult struct {
	Text           string
	ElapsedSeconds float64
	Status         conversation.ThinkingStatus
}

// Response is the assembled outcome of one turn.
type Response struct {
	Text       string
	ToolCalls  []ToolCallRequest
	Thinking   *ThinkingResult
	Usage      *events.Usage
	StopReason string
}

// HasToolCalls reports whether the model requested tool execution this turn.
func (r *Response) HasToolCalls() bool {
	return len(r.ToolCalls) > 0
}
