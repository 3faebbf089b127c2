package engine

import (
	"strings"
)

// BudgetKind tags a requested thinking budget.
type BudgetKind int

const (
	// BudgetDefault lets the capability table decide.
	BudgetDefault BudgetKind = iota
	// BudgetEffort names a discrete effort level.
	BudgetEffort
	// BudgetTokens requests a numeric reasoning token budget.
	BudgetTokens
	// BudgetOff disables reasoning where the model allows it.
	BudgetOff
)

// ThinkingBudget is the caller's reasoning preference for one turn. The zero
// value means "no preference".
type ThinkingBudget struct {
	Kind   BudgetKind
	Effort string
	Tokens int
}

// CapabilityKind classifies how a model exposes reasoning control.
type CapabilityKind int

const (
	// Unsupported models ignore thinking budgets entirely.
	Unsupported CapabilityKind = iota
	// DiscreteEffort models take one of an ordered list of named levels.
	DiscreteEffort
	// ContinuousBudget models take a numeric token budget within a range.
	ContinuousBudget
)

// Capability describes the reasoning controls of one (provider, model) pair.
type Capability struct {
	Kind CapabilityKind

	// discrete-effort models
	Levels       []string
	DefaultLevel string

	// continuous-budget models
	MinTokens     int
	MaxTokens     int
	DefaultTokens int
	ZeroDisables  bool
}

// CapabilityTable maps provider name and model id prefix to a Capability.
// It is a pure lookup consulted before building a request; the streaming
// state machine never touches it.
type CapabilityTable struct {
	entries map[string]map[string]Capability
}

func NewCapabilityTable() *CapabilityTable {
	return &CapabilityTable{
		entries: make(map[string]map[string]Capability),
	}
}

func (t *CapabilityTable) Register(provider, modelPrefix string, c Capability) {
	if t.entries[provider] == nil {
		t.entries[provider] = make(map[string]Capability)
	}
	t.entries[provider][modelPrefix] = c
}

// Lookup finds the capability for a model by longest-prefix match on the
// model id. Unknown models are Unsupported.
func (t *CapabilityTable) Lookup(provider, model string) Capability {
	models := t.entries[provider]
	best := Capability{Kind: Unsupported}
	bestLen := -1
	for prefix, c := range models {
		if strings.HasPrefix(model, prefix) && len(prefix) > bestLen {
			best = c
			bestLen = len(prefix)
		}
	}
	return best
}

// DefaultCapabilities returns the built-in table for the supported providers.
func DefaultCapabilities() *CapabilityTable {
	t := NewCapabilityTable()

	effort := Capability{
		Kind:         DiscreteEffort,
		Levels:       []string{"low", "medium", "high"},
		DefaultLevel: "medium",
	}
	t.Register("openai", "o1", effort)
	t.Register("openai", "o3", effort)
	t.Register("openai", "o4-mini", effort)
	t.Register("openai", "gpt-5", effort)

	claudeBudget := Capability{
		Kind:          ContinuousBudget,
		MinTokens:     1024,
		MaxTokens:     64000,
		DefaultTokens: 8192,
	}
	t.Register("claude", "claude-3-7-sonnet", claudeBudget)
	t.Register("claude", "claude-sonnet-4", claudeBudget)
	t.Register("claude", "claude-opus-4", claudeBudget)

	t.Register("gemini", "gemini-2.5", Capability{
		Kind:          ContinuousBudget,
		MinTokens:     0,
		MaxTokens:     24576,
		DefaultTokens: 8192,
		ZeroDisables:  true,
	})

	return t
}

// Resolve turns the caller's preference into the budget actually sent.
// It clamps numeric budgets into the model's range, maps unknown effort
// levels to the default, and collapses everything to "off" for unsupported
// models.
func (c Capability) Resolve(requested ThinkingBudget) ThinkingBudget {
	switch c.Kind {
	case Unsupported:
		return ThinkingBudget{Kind: BudgetOff}

	case DiscreteEffort:
		if requested.Kind == BudgetOff {
			return requested
		}
		level := requested.Effort
		if requested.Kind != BudgetEffort || !containsLevel(c.Levels, level) {
			level = c.DefaultLevel
		}
		return ThinkingBudget{Kind: BudgetEffort, Effort: level}

	case ContinuousBudget:
		if requested.Kind == BudgetOff {
			if c.ZeroDisables {
				return ThinkingBudget{Kind: BudgetTokens, Tokens: 0}
			}
			return ThinkingBudget{Kind: BudgetOff}
		}
		tokens := requested.Tokens
		if requested.Kind != BudgetTokens {
			tokens = c.DefaultTokens
		}
		if tokens < c.MinTokens {
			tokens = c.MinTokens
		}
		if tokens > c.MaxTokens {
			tokens = c.MaxTokens
		}
		return ThinkingBudget{Kind: BudgetTokens, Tokens: tokens}
	}
	return ThinkingBudget{Kind: BudgetOff}
}

func containsLevel(levels []string, level string) bool {
	for _, l := range levels {
		if l == level {
			return true
		}
	}
	return false
}
