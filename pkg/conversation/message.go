package conversation

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

type Role string

const (
	RoleUser         Role = "user"
	RoleAssistant    Role = "assistant"
	RoleToolCall     Role = "tool_call"
	RoleToolResponse Role = "tool_response"
	RoleSystem       Role = "system"
)

// ThinkingStatus reports whether a message carries reasoning text. A model
// that reasoned but whose provider withheld the text reports "unavailable".
type ThinkingStatus string

const (
	ThinkingStatusNone        ThinkingStatus = "none"
	ThinkingStatusPresent     ThinkingStatus = "present"
	ThinkingStatusUnavailable ThinkingStatus = "unavailable"
)

// ToolCallData is the payload carried by a tool_call message.
type ToolCallData struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// ToolResponseData is the payload carried by a tool_response message.
type ToolResponseData struct {
	CallID string `json:"callId"`
	Output string `json:"output"`
}

// Message is an immutable value record. Edits produce new Message instances;
// nothing in this package mutates a Message after construction.
type Message struct {
	ID          string    `json:"id"`
	Role        Role      `json:"role"`
	Text        string    `json:"text"`
	Attachments []string  `json:"attachments,omitempty"`
	Model       string    `json:"model,omitempty"`
	Time        time.Time `json:"time,omitempty"`

	ToolCall     *ToolCallData     `json:"toolCall,omitempty"`
	ToolResponse *ToolResponseData `json:"toolResponse,omitempty"`

	Thinking         string         `json:"thinking,omitempty"`
	ThinkingSeconds  float64        `json:"thinkingSeconds,omitempty"`
	ThinkingStatus   ThinkingStatus `json:"thinkingStatus,omitempty"`
}

type MessageOption func(*Message)

func WithID(id string) MessageOption {
	return func(m *Message) {
		m.ID = id
	}
}

func WithTime(t time.Time) MessageOption {
	return func(m *Message) {
		m.Time = t
	}
}

func WithModel(model string) MessageOption {
	return func(m *Message) {
		m.Model = model
	}
}

func WithAttachments(refs ...string) MessageOption {
	return func(m *Message) {
		m.Attachments = append(m.Attachments, refs...)
	}
}

func WithThinking(text string, seconds float64, status ThinkingStatus) MessageOption {
	return func(m *Message) {
		m.Thinking = text
		m.ThinkingSeconds = seconds
		m.ThinkingStatus = status
	}
}

func NewMessage(role Role, text string, options ...MessageOption) Message {
	ret := Message{
		ID:   uuid.New().String(),
		Role: role,
		Text: text,
		Time: time.Now(),
	}
	for _, option := range options {
		option(&ret)
	}
	return ret
}

// NewToolCallMessage records a model's request to invoke a tool. precedingText
// is the assistant text streamed before the call in the same turn.
func NewToolCallMessage(callID, name string, arguments json.RawMessage, precedingText string, options ...MessageOption) Message {
	msg := NewMessage(RoleToolCall, precedingText, options...)
	msg.ToolCall = &ToolCallData{ID: callID, Name: name, Arguments: arguments}
	return msg
}

// NewToolResponseMessage records the output fed back to the model for a call.
func NewToolResponseMessage(callID, output string, options ...MessageOption) Message {
	msg := NewMessage(RoleToolResponse, output, options...)
	msg.ToolResponse = &ToolResponseData{CallID: callID, Output: output}
	return msg
}

// IsZero reports whether the message is the zero value. Variants created by
// migration from a flat list that started with non-user messages hold a zero
// user message, which projection skips.
func (m Message) IsZero() bool {
	return m.ID == "" && m.Text == "" && m.Role == ""
}

func (m Message) View() string {
	return fmt.Sprintf("[%s]: %s", m.Role, strings.TrimRight(m.Text, "\n"))
}

// Conversation is a flat, ordered projection of messages, the form consumed
// by provider adapters.
type Conversation []Message
