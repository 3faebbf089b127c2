package toolloop

import (
	"context"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/loom/pkg/conversation"
	"github.com/go-go-golems/loom/pkg/engine"
	"github.com/go-go-golems/loom/pkg/events"
	"github.com/go-go-golems/loom/pkg/tools"
)

// DefaultMaxIterations caps how many tool rounds one turn may run.
const DefaultMaxIterations = 5

// ErrMaxIterations terminates a turn whose model keeps requesting tools.
// The message is fixed so callers can recognize the outcome.
var ErrMaxIterations = errors.New("maximum tool iterations reached")

// PersistHook receives every message the loop produces, in order, before the
// next inference round starts. Callers use it to append messages to their
// conversation tree as they appear rather than after the turn finishes.
type PersistHook func(ctx context.Context, msg conversation.Message)

// Loop drives the tool-calling workflow: run inference, execute requested
// tools, feed results back, repeat until the model answers with text or the
// iteration ceiling is hit. The loop is single-threaded per turn and never
// retries a failed inference call; failures terminate the turn and the
// caller decides whether to resubmit.
type Loop struct {
	eng           engine.Engine
	registry      tools.Registry
	executor      *tools.Executor
	maxIterations int
	enabledTools  []string
	persistHook   PersistHook
}

type Option func(*Loop)

func New(opts ...Option) *Loop {
	l := &Loop{
		maxIterations: DefaultMaxIterations,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(l)
		}
	}
	if l.executor == nil && l.registry != nil {
		l.executor = tools.NewExecutor(l.registry)
	}
	return l
}

func WithEngine(eng engine.Engine) Option {
	return func(l *Loop) { l.eng = eng }
}

func WithRegistry(reg tools.Registry) Option {
	return func(l *Loop) { l.registry = reg }
}

func WithExecutor(exec *tools.Executor) Option {
	return func(l *Loop) { l.executor = exec }
}

func WithMaxIterations(n int) Option {
	return func(l *Loop) { l.maxIterations = n }
}

// WithEnabledTools restricts which registered tools the model may call this
// turn. Unset means every registered tool.
func WithEnabledTools(names []string) Option {
	return func(l *Loop) { l.enabledTools = names }
}

func WithPersistHook(h PersistHook) Option {
	return func(l *Loop) { l.persistHook = h }
}

// Result is the outcome of a completed turn.
type Result struct {
	// Text is the model's final answer.
	Text string
	// Responses holds every message produced during the turn, in order:
	// tool_call/tool_response pairs followed by the final assistant message.
	Responses conversation.Conversation
	// Iterations counts the tool rounds that ran before the final answer.
	Iterations int
	Thinking   *engine.ThinkingResult
	Usage      *events.Usage
}

func (l *Loop) persist(ctx context.Context, msg conversation.Message) {
	if l.persistHook != nil {
		l.persistHook(ctx, msg)
	}
}

// Run executes one turn. The request's message list is treated as immutable;
// the loop appends to its own working copy.
func (l *Loop) Run(ctx context.Context, req *engine.Request) (*Result, error) {
	if l.eng == nil {
		return nil, errors.New("tool loop engine is nil")
	}
	if l.registry == nil {
		return nil, errors.New("tool loop registry is nil")
	}
	executor := l.executor
	if executor == nil {
		executor = tools.NewExecutor(l.registry)
	}
	maxIterations := l.maxIterations
	if maxIterations <= 0 {
		maxIterations = DefaultMaxIterations
	}

	working := append(conversation.Conversation{}, req.Messages...)
	var produced conversation.Conversation

	var defs []*tools.Definition
	if l.enabledTools == nil {
		defs = l.registry.List()
	} else {
		for _, name := range l.enabledTools {
			if def, err := l.registry.Get(name); err == nil {
				defs = append(defs, def)
			}
		}
	}

	for iteration := 0; iteration < maxIterations; iteration++ {
		round := *req
		round.Messages = working
		round.Tools = defs

		log.Debug().
			Int("iteration", iteration).
			Int("num_messages", len(working)).
			Msg("tool loop requesting inference")

		resp, err := l.eng.RunInference(ctx, &round)
		if err != nil {
			// a failed inference call ends the turn, no internal retry
			return nil, err
		}

		if !resp.HasToolCalls() {
			final := l.buildFinalMessage(req, resp)
			l.persist(ctx, final)
			produced = append(produced, final)
			return &Result{
				Text:       resp.Text,
				Responses:  produced,
				Iterations: iteration,
				Thinking:   resp.Thinking,
				Usage:      resp.Usage,
			}, nil
		}

		for _, call := range resp.ToolCalls {
			callMsg := conversation.NewToolCallMessage(
				call.ID, call.Name, call.Arguments, call.PrecedingText,
				conversation.WithModel(req.Model))
			l.persist(ctx, callMsg)
			produced = append(produced, callMsg)
			working = append(working, callMsg)

			events.PublishEventToContext(ctx, events.NewToolCallExecuteEvent(
				req.Metadata, events.ToolCall{
					ID:    call.ID,
					Name:  call.Name,
					Input: string(call.Arguments),
				}))

			result := executor.Execute(ctx, call.ID, call.Name, call.Arguments, l.enabledTools)
			if result.IsError() {
				// tool failures are not fatal: the model sees the error text
				// and can react to it
				log.Warn().
					Str("tool", call.Name).
					Str("error", result.Error).
					Msg("tool execution failed, folding error into conversation")
			}

			events.PublishEventToContext(ctx, events.NewToolCallExecutionResultEvent(
				req.Metadata, events.ToolResult{
					ID:     call.ID,
					Result: result.Output(),
				}))

			respMsg := conversation.NewToolResponseMessage(call.ID, result.Output())
			l.persist(ctx, respMsg)
			produced = append(produced, respMsg)
			working = append(working, respMsg)
		}
	}

	log.Warn().Int("max_iterations", maxIterations).Msg("tool loop ceiling reached")
	return nil, ErrMaxIterations
}

func (l *Loop) buildFinalMessage(req *engine.Request, resp *engine.Response) conversation.Message {
	opts := []conversation.MessageOption{conversation.WithModel(req.Model)}
	if resp.Thinking != nil {
		opts = append(opts, conversation.WithThinking(
			resp.Thinking.Text,
			resp.Thinking.ElapsedSeconds,
			resp.Thinking.Status))
	}
	return conversation.NewMessage(conversation.RoleAssistant, resp.Text, opts...)
}
