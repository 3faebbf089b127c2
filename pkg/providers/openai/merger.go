package openai

import (
	"sort"

	go_openai "github.com/sashabaranov/go-openai"
)

// toolCallMerger accumulates streamed tool-call fragments keyed by index.
// OpenAI sends the id and name on the first fragment of a call and streams
// the argument string incrementally; concatenation per index reassembles the
// complete call.
type toolCallMerger struct {
	toolCalls map[int]go_openai.ToolCall
}

func newToolCallMerger() *toolCallMerger {
	return &toolCallMerger{
		toolCalls: make(map[int]go_openai.ToolCall),
	}
}

func (tcm *toolCallMerger) addToolCalls(toolCalls []go_openai.ToolCall) {
	for _, call := range toolCalls {
		index := 0
		if call.Index != nil {
			index = *call.Index
		}
		if existing, found := tcm.toolCalls[index]; found {
			if call.ID != "" {
				existing.ID = call.ID
			}
			existing.Function.Name += call.Function.Name
			existing.Function.Arguments += call.Function.Arguments
			tcm.toolCalls[index] = existing
		} else {
			tcm.toolCalls[index] = call
		}
	}
}

func (tcm *toolCallMerger) getToolCalls() []go_openai.ToolCall {
	indices := make([]int, 0, len(tcm.toolCalls))
	for index := range tcm.toolCalls {
		indices = append(indices, index)
	}
	sort.Ints(indices)

	result := make([]go_openai.ToolCall, 0, len(indices))
	for _, index := range indices {
		result = append(result, tcm.toolCalls[index])
	}
	return result
}
