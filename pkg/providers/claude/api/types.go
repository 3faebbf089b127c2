package api

import (
	"encoding/json"

	"github.com/rs/zerolog"
)

// MessageRequest is the Messages API request payload.
type MessageRequest struct {
	Model         string          `json:"model"`
	Messages      []Message       `json:"messages"`
	MaxTokens     int             `json:"max_tokens"`
	StopSequences []string        `json:"stop_sequences,omitempty"`
	Stream        bool            `json:"stream"`
	System        string          `json:"system,omitempty"`
	Temperature   *float64        `json:"temperature,omitempty"`
	Tools         []Tool          `json:"tools,omitempty"`
	Thinking      *ThinkingConfig `json:"thinking,omitempty"`
}

// ThinkingConfig enables extended thinking with a token budget.
type ThinkingConfig struct {
	Type         string `json:"type"`
	BudgetTokens int    `json:"budget_tokens"`
}

// Tool describes a callable tool in the request.
type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"input_schema"`
}

// Message is one conversation entry. Content is either a plain string or an
// array of content blocks.
type Message struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
}

type TextBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type ToolUseBlock struct {
	Type  string          `json:"type"`
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input"`
}

type ToolResultBlock struct {
	Type      string `json:"type"`
	ToolUseID string `json:"tool_use_id"`
	Content   string `json:"content"`
}

type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type MessageResponse struct {
	ID         string `json:"id"`
	Type       string `json:"type"`
	Role       string `json:"role"`
	Model      string `json:"model"`
	StopReason string `json:"stop_reason,omitempty"`
	Usage      Usage  `json:"usage"`
}

type ErrorResponse struct {
	Type  string      `json:"type"`
	Error ErrorDetail `json:"error"`
}

type ErrorDetail struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type StreamingEventType string

const (
	PingType              StreamingEventType = "ping"
	MessageStartType      StreamingEventType = "message_start"
	ContentBlockStartType StreamingEventType = "content_block_start"
	ContentBlockDeltaType StreamingEventType = "content_block_delta"
	ContentBlockStopType  StreamingEventType = "content_block_stop"
	MessageDeltaType      StreamingEventType = "message_delta"
	MessageStopType       StreamingEventType = "message_stop"
	ErrorType             StreamingEventType = "error"
)

type DeltaType string

const (
	TextDeltaType      DeltaType = "text_delta"
	InputJSONDeltaType DeltaType = "input_json_delta"
	ThinkingDeltaType  DeltaType = "thinking_delta"
	SignatureDeltaType DeltaType = "signature_delta"
)

type ContentBlockType string

const (
	TextContentType     ContentBlockType = "text"
	ToolUseContentType  ContentBlockType = "tool_use"
	ThinkingContentType ContentBlockType = "thinking"
)

// ContentBlock is the block announced by a content_block_start event.
type ContentBlock struct {
	Type ContentBlockType `json:"type"`
	ID   string           `json:"id,omitempty"`
	Name string           `json:"name,omitempty"`
	Text string           `json:"text,omitempty"`
}

// Delta carries the incremental payload of a content_block_delta or
// message_delta event.
type Delta struct {
	Type        DeltaType `json:"type"`
	Text        string    `json:"text,omitempty"`
	PartialJSON string    `json:"partial_json,omitempty"`
	Thinking    string    `json:"thinking,omitempty"`
	StopReason  string    `json:"stop_reason,omitempty"`
}

// StreamingEvent is one parsed SSE event from the Messages API stream.
type StreamingEvent struct {
	Type         StreamingEventType `json:"type"`
	Message      *MessageResponse   `json:"message,omitempty"`
	Index        int                `json:"index,omitempty"`
	ContentBlock *ContentBlock      `json:"content_block,omitempty"`
	Delta        *Delta             `json:"delta,omitempty"`
	Usage        *Usage             `json:"usage,omitempty"`
	Error        *ErrorDetail       `json:"error,omitempty"`
}

func (s StreamingEvent) MarshalZerologObject(e *zerolog.Event) {
	e.Str("type", string(s.Type))
	if s.Index != 0 {
		e.Int("index", s.Index)
	}
	if s.ContentBlock != nil {
		e.Str("block_type", string(s.ContentBlock.Type))
	}
	if s.Delta != nil {
		e.Str("delta_type", string(s.Delta.Type))
	}
	if s.Error != nil {
		e.Str("error_type", s.Error.Type).Str("error_message", s.Error.Message)
	}
}

var _ zerolog.LogObjectMarshaler = StreamingEvent{}
