package tools

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type weatherInput struct {
	Location string `json:"location"`
	Unit     string `json:"unit,omitempty"`
}

type weatherOutput struct {
	Location string  `json:"location"`
	TempC    float64 `json:"tempC"`
}

func getWeather(input weatherInput) (weatherOutput, error) {
	if input.Location == "" {
		return weatherOutput{}, errors.New("location is required")
	}
	return weatherOutput{Location: input.Location, TempC: 21.5}, nil
}

func TestNewToolFromFunc(t *testing.T) {
	def, err := NewToolFromFunc("get_weather", "Get the current weather", getWeather)
	require.NoError(t, err)
	assert.Equal(t, "get_weather", def.Name)
	require.NotNil(t, def.Parameters)
	assert.Equal(t, "object", def.Parameters.Type)

	b, err := json.Marshal(def.Parameters)
	require.NoError(t, err)
	assert.Contains(t, string(b), "location")
}

func TestNewToolFromFuncWithContext(t *testing.T) {
	fn := func(ctx context.Context, input weatherInput) (string, error) {
		return "sunny in " + input.Location, nil
	}
	def, err := NewToolFromFunc("forecast", "Get a forecast", fn)
	require.NoError(t, err)

	out, err := def.Func.Invoke(context.Background(), []byte(`{"location":"SF"}`))
	require.NoError(t, err)
	assert.Equal(t, "sunny in SF", out)
}

func TestNewToolFromFuncRejectsBadSignatures(t *testing.T) {
	_, err := NewToolFromFunc("bad", "", "not a function")
	require.Error(t, err)

	_, err = NewToolFromFunc("bad", "", func(a, b weatherInput) string { return "" })
	require.Error(t, err)

	_, err = NewToolFromFunc("bad", "", func(weatherInput) (string, string) { return "", "" })
	require.Error(t, err)
}

func TestExecutorRunsRegisteredTool(t *testing.T) {
	registry := NewInMemoryRegistry()
	def, err := NewToolFromFunc("get_weather", "Get the current weather", getWeather)
	require.NoError(t, err)
	require.NoError(t, registry.Register(def))

	executor := NewExecutor(registry)
	result := executor.Execute(context.Background(), "call-1", "get_weather",
		json.RawMessage(`{"location":"SF"}`), nil)

	require.False(t, result.IsError())
	assert.Equal(t, "call-1", result.CallID)
	assert.Contains(t, result.Text, `"location":"SF"`)
}

func TestExecutorUnknownToolIsErrorResult(t *testing.T) {
	executor := NewExecutor(NewInMemoryRegistry())
	result := executor.Execute(context.Background(), "call-1", "nope", nil, nil)

	require.True(t, result.IsError())
	assert.Contains(t, result.Error, "unknown tool")
	assert.Contains(t, result.Output(), "Error:")
}

func TestExecutorDisabledToolIsErrorResult(t *testing.T) {
	registry := NewInMemoryRegistry()
	def, err := NewToolFromFunc("get_weather", "Get the current weather", getWeather)
	require.NoError(t, err)
	require.NoError(t, registry.Register(def))

	executor := NewExecutor(registry)
	result := executor.Execute(context.Background(), "call-1", "get_weather",
		json.RawMessage(`{"location":"SF"}`), []string{"other_tool"})

	require.True(t, result.IsError())
	assert.Contains(t, result.Error, "not enabled")
}

func TestExecutorToolErrorIsFoldedIntoResult(t *testing.T) {
	registry := NewInMemoryRegistry()
	def, err := NewToolFromFunc("get_weather", "Get the current weather", getWeather)
	require.NoError(t, err)
	require.NoError(t, registry.Register(def))

	executor := NewExecutor(registry)
	result := executor.Execute(context.Background(), "call-1", "get_weather",
		json.RawMessage(`{}`), nil)

	require.True(t, result.IsError())
	assert.Contains(t, result.Error, "location is required")
}

func TestExecutorStringResultPassedThrough(t *testing.T) {
	registry := NewInMemoryRegistry()
	def, err := NewToolFromFunc("echo", "Echo the input", func(input weatherInput) (string, error) {
		return input.Location, nil
	})
	require.NoError(t, err)
	require.NoError(t, registry.Register(def))

	executor := NewExecutor(registry)
	result := executor.Execute(context.Background(), "c", "echo",
		json.RawMessage(`{"location":"hello"}`), nil)
	require.False(t, result.IsError())
	assert.Equal(t, "hello", result.Text)
}

func TestRegistryBasics(t *testing.T) {
	registry := NewInMemoryRegistry()
	def, err := NewToolFromFunc("a", "", func() (string, error) { return "ok", nil })
	require.NoError(t, err)

	require.NoError(t, registry.Register(def))
	assert.True(t, registry.Has("a"))
	assert.Equal(t, 1, registry.Count())

	got, err := registry.Get("a")
	require.NoError(t, err)
	assert.Equal(t, "a", got.Name)

	require.NoError(t, registry.Unregister("a"))
	assert.False(t, registry.Has("a"))
	require.Error(t, registry.Unregister("a"))
}
