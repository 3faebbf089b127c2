package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
)

// Result is the outcome of a single tool execution. A failed execution is a
// Result with Error set, never a panic: the model gets the error text fed
// back as a tool response and can react to it.
type Result struct {
	CallID   string        `json:"callId"`
	Text     string        `json:"text"`
	Details  interface{}   `json:"details,omitempty"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration"`
}

func (r Result) IsError() bool {
	return r.Error != ""
}

// Output returns the text the model should see for this result.
func (r Result) Output() string {
	if r.IsError() {
		return fmt.Sprintf("Error: %s", r.Error)
	}
	return r.Text
}

// Executor runs tool calls against a registry, optionally restricted to the
// enabled-tools list of the current turn. Unknown or disabled identifiers
// produce an error Result.
type Executor struct {
	registry Registry
	timeout  time.Duration
}

type ExecutorOption func(*Executor)

func WithTimeout(timeout time.Duration) ExecutorOption {
	return func(e *Executor) {
		e.timeout = timeout
	}
}

func NewExecutor(registry Registry, options ...ExecutorOption) *Executor {
	ret := &Executor{registry: registry}
	for _, option := range options {
		option(ret)
	}
	return ret
}

// Execute looks up name, invokes the tool with args and renders its return
// value as text. enabled restricts the callable set for this turn; a nil
// enabled list allows every registered tool.
func (e *Executor) Execute(ctx context.Context, callID, name string, args json.RawMessage, enabled []string) Result {
	start := time.Now()

	errResult := func(format string, a ...interface{}) Result {
		return Result{
			CallID:   callID,
			Error:    fmt.Sprintf(format, a...),
			Duration: time.Since(start),
		}
	}

	if enabled != nil && !contains(enabled, name) {
		log.Warn().Str("tool", name).Msg("model requested a disabled tool")
		return errResult("tool not enabled: %s", name)
	}

	def, err := e.registry.Get(name)
	if err != nil {
		log.Warn().Str("tool", name).Msg("model requested an unknown tool")
		return errResult("unknown tool: %s", name)
	}

	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	log.Debug().
		Str("tool", name).
		Str("call_id", callID).
		Int("args_len", len(args)).
		Msg("executing tool")

	value, err := def.Func.Invoke(ctx, args)
	if err != nil {
		return errResult("%s", err.Error())
	}

	text, err := renderResult(value)
	if err != nil {
		return errResult("could not serialize tool result: %s", err.Error())
	}

	return Result{
		CallID:   callID,
		Text:     text,
		Details:  value,
		Duration: time.Since(start),
	}
}

func renderResult(value interface{}) (string, error) {
	switch v := value.(type) {
	case nil:
		return "", nil
	case string:
		return v, nil
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return "", err
		}
		return string(b), nil
	}
}

func contains(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}
