package openai

import (
	"testing"

	go_openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intPtr(i int) *int { return &i }

func TestToolCallMergerConcatenatesFragments(t *testing.T) {
	merger := newToolCallMerger()

	merger.addToolCalls([]go_openai.ToolCall{{
		Index: intPtr(0),
		ID:    "call_1",
		Function: go_openai.FunctionCall{
			Name:      "get_weather",
			Arguments: `{"location":`,
		},
	}})
	merger.addToolCalls([]go_openai.ToolCall{{
		Index:    intPtr(0),
		Function: go_openai.FunctionCall{Arguments: `"SF"`},
	}})
	merger.addToolCalls([]go_openai.ToolCall{{
		Index:    intPtr(0),
		Function: go_openai.FunctionCall{Arguments: `}`},
	}})

	calls := merger.getToolCalls()
	require.Len(t, calls, 1)
	assert.Equal(t, "call_1", calls[0].ID)
	assert.Equal(t, "get_weather", calls[0].Function.Name)
	assert.Equal(t, `{"location":"SF"}`, calls[0].Function.Arguments)
}

func TestToolCallMergerInterleavedIndices(t *testing.T) {
	merger := newToolCallMerger()

	merger.addToolCalls([]go_openai.ToolCall{
		{Index: intPtr(0), ID: "a", Function: go_openai.FunctionCall{Name: "first", Arguments: `{"x"`}},
		{Index: intPtr(1), ID: "b", Function: go_openai.FunctionCall{Name: "second", Arguments: `{"y"`}},
	})
	merger.addToolCalls([]go_openai.ToolCall{
		{Index: intPtr(1), Function: go_openai.FunctionCall{Arguments: `:2}`}},
		{Index: intPtr(0), Function: go_openai.FunctionCall{Arguments: `:1}`}},
	})

	calls := merger.getToolCalls()
	require.Len(t, calls, 2)
	assert.Equal(t, `{"x":1}`, calls[0].Function.Arguments)
	assert.Equal(t, "a", calls[0].ID)
	assert.Equal(t, `{"y":2}`, calls[1].Function.Arguments)
	assert.Equal(t, "b", calls[1].ID)
}

func TestToolCallMergerMissingIndexDefaultsToZero(t *testing.T) {
	merger := newToolCallMerger()
	merger.addToolCalls([]go_openai.ToolCall{{
		ID:       "c",
		Function: go_openai.FunctionCall{Name: "tool", Arguments: `{`},
	}})
	merger.addToolCalls([]go_openai.ToolCall{{
		Function: go_openai.FunctionCall{Arguments: `}`},
	}})

	calls := merger.getToolCalls()
	require.Len(t, calls, 1)
	assert.Equal(t, `{}`, calls[0].Function.Arguments)
}

func TestIsReasoningModel(t *testing.T) {
	assert.True(t, isReasoningModel("o3-mini"))
	assert.True(t, isReasoningModel("o4-mini-2025-04-16"))
	assert.True(t, isReasoningModel("gpt-5"))
	assert.False(t, isReasoningModel("gpt-4o"))
}
