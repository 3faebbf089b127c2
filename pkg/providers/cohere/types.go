package cohere

import "encoding/json"

// Wire types for the v2 chat streaming API.

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Tools       []tool        `json:"tools,omitempty"`
	Temperature *float64      `json:"temperature,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Stream      bool          `json:"stream"`
}

type chatMessage struct {
	Role       string          `json:"role"`
	Content    string          `json:"content,omitempty"`
	ToolCalls  []toolCall      `json:"tool_calls,omitempty"`
	ToolCallID string          `json:"tool_call_id,omitempty"`
	ToolPlan   json.RawMessage `json:"tool_plan,omitempty"`
}

type tool struct {
	Type     string       `json:"type"`
	Function toolFunction `json:"function"`
}

type toolFunction struct {
	Name        string      `json:"name"`
	Description string      `json:"description,omitempty"`
	Parameters  interface{} `json:"parameters,omitempty"`
}

type toolCall struct {
	ID       string       `json:"id,omitempty"`
	Type     string       `json:"type,omitempty"`
	Function functionSpec `json:"function"`
}

type functionSpec struct {
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`
}

// streamEvent is one SSE event off the chat stream. The provider opens a
// tool call with a fully-formed tool-call-start (id and name), streams
// argument fragments keyed by that id, and closes with a tool-call-end that
// may carry the complete argument string.
type streamEvent struct {
	Type  string       `json:"type"`
	Delta *eventDelta  `json:"delta,omitempty"`
	Error *errorDetail `json:"error,omitempty"`
}

type eventDelta struct {
	Message      *deltaMessage `json:"message,omitempty"`
	FinishReason string        `json:"finish_reason,omitempty"`
	Usage        *usageInfo    `json:"usage,omitempty"`
}

type deltaMessage struct {
	Content   *deltaContent `json:"content,omitempty"`
	ToolCalls *toolCall     `json:"tool_calls,omitempty"`
	ToolPlan  string        `json:"tool_plan,omitempty"`
}

type deltaContent struct {
	Text string `json:"text,omitempty"`
}

type usageInfo struct {
	Tokens struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"tokens"`
}

type errorDetail struct {
	Message string `json:"message"`
}

const (
	eventMessageStart  = "message-start"
	eventContentStart  = "content-start"
	eventContentDelta  = "content-delta"
	eventContentEnd    = "content-end"
	eventToolPlanDelta = "tool-plan-delta"
	eventToolCallStart = "tool-call-start"
	eventToolCallDelta = "tool-call-delta"
	eventToolCallEnd   = "tool-call-end"
	eventMessageEnd    = "message-end"
	eventError         = "error"
)
