package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chenapple/thesaurus-management/internal/llm"
	"github.com/chenapple/thesaurus-management/internal/llm/llmtest"
	"github.com/chenapple/thesaurus-management/internal/tools"
)

func echoTool() tools.Tool {
	return tools.NewFuncTool("echo", "Echo back input arguments.",
		tools.Schema(map[string]tools.Property{"text": {Type: "string"}}, "text"),
		func(_ context.Context, args json.RawMessage) (tools.ToolResult, error) {
			return tools.ToolResult{Content: string(args)}, nil
		})
}

func testDefinition(registry *tools.Registry) Definition {
	return Definition{
		Name:      "tester",
		Role:      "a test analyst",
		Goal:      "answer questions",
		Backstory: "you test things",
		Tools:     registry,
	}
}

type eventRecorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *eventRecorder) handle(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *eventRecorder) types() []EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]EventType, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Type)
	}
	return out
}

func TestAgent_ToolRoundTrip(t *testing.T) {
	provider := llmtest.Sequence(
		func(context.Context, *llm.Request) (*llm.Response, error) {
			return &llm.Response{
				Text: "let me check",
				ToolCalls: []llm.ToolCall{
					{ID: "call_1", Name: "echo", Arguments: json.RawMessage(`{"text":"hello"}`)},
					{ID: "call_2", Name: "missing", Arguments: json.RawMessage(`{}`)},
					{ID: "call_3", Name: "echo", Arguments: json.RawMessage(`{"text":"again"}`)},
				},
				FinishReason: llm.FinishToolCalls,
			}, nil
		},
		llmtest.Text("done"),
	)

	registry := tools.NewRegistry().MustRegister(echoTool())
	recorder := &eventRecorder{}
	a := New(testDefinition(registry), provider, WithEventHandler(recorder.handle))

	result, err := a.Execute(context.Background(), Task{
		Description:    "Say hello",
		ExpectedOutput: "a greeting",
		Context:        map[string]any{"country": "US"},
	})
	require.NoError(t, err)
	require.NotNil(t, result)

	assert.True(t, result.Success)
	assert.Equal(t, "done", result.Output)
	assert.Equal(t, 2, result.Iterations)
	assert.Equal(t, []string{"echo", "missing"}, result.ToolsUsed)
	assert.False(t, result.Truncated)

	requests := provider.Requests()
	require.Len(t, requests, 2)

	first := requests[0]
	require.Len(t, first.Messages, 3)
	assert.Equal(t, llm.RoleSystem, first.Messages[0].Role)
	system := first.Messages[0].Text()
	assert.Contains(t, system, "You are a test analyst.")
	assert.Contains(t, system, "- echo: Echo back input arguments.")
	assert.Contains(t, system, "## Expected output\na greeting")
	assert.True(t, strings.HasPrefix(first.Messages[1].Text(), "Reference context:\n"))
	assert.Contains(t, first.Messages[1].Text(), `"country": "US"`)
	assert.Equal(t, "Say hello", first.Messages[2].Text())
	require.Len(t, first.Tools, 1)
	assert.Equal(t, 0.7, first.Temperature)

	// Every tool call has its result in history before the next model call
	second := requests[1]
	require.Len(t, second.Messages, 7)
	assistant := second.Messages[3]
	assert.Equal(t, llm.RoleAssistant, assistant.Role)
	assert.Equal(t, "let me check", assistant.Text())
	assert.Len(t, assistant.ToolCalls(), 3)

	var results []llm.ToolResult
	for _, m := range second.Messages[4:] {
		require.Equal(t, llm.RoleTool, m.Role)
		results = append(results, m.Blocks[0].(llm.ToolResultBlock).Result)
	}
	assert.Equal(t, "call_1", results[0].ToolCallID)
	assert.JSONEq(t, `{"text":"hello"}`, results[0].Content)
	assert.Equal(t, `Tool "missing" not found`, results[1].Error)
	assert.Equal(t, "call_3", results[2].ToolCallID)

	assert.Equal(t, []EventType{
		EventThinkingStart, EventThinkingEnd,
		EventToolCallStart, EventToolCallEnd,
		EventToolCallStart, EventToolCallEnd,
		EventToolCallStart, EventToolCallEnd,
		EventThinkingStart, EventThinkingEnd,
		EventTaskComplete,
	}, recorder.types())

	state := a.State()
	assert.Equal(t, StateCompleted, state.Status)
	assert.Equal(t, 2, state.Iteration)
	assert.Nil(t, state.CurrentTool)
}

func TestAgent_MaxIterations(t *testing.T) {
	provider := llmtest.New(func(context.Context, *llm.Request) (*llm.Response, error) {
		return &llm.Response{
			Text:         "still looking",
			ToolCalls:    []llm.ToolCall{{ID: "c", Name: "echo", Arguments: json.RawMessage(`{"text":"x"}`)}},
			FinishReason: llm.FinishToolCalls,
		}, nil
	})

	def := testDefinition(tools.NewRegistry().MustRegister(echoTool()))
	def.MaxIterations = 3
	a := New(def, provider)

	result, err := a.Execute(context.Background(), Task{Description: "loop forever"})
	require.NoError(t, err)

	assert.Equal(t, 3, provider.Calls())
	assert.False(t, result.Success)
	assert.Equal(t, "max iterations (3) reached without completion", result.Error)
	assert.ErrorIs(t, result.Err, ErrMaxIterations)
	assert.Equal(t, "still looking", result.Output)
	assert.Equal(t, 3, result.Iterations)
	assert.Equal(t, []string{"echo"}, result.ToolsUsed)
	assert.Equal(t, StateError, a.State().Status)
}

func TestAgent_DefaultMaxIterations(t *testing.T) {
	provider := llmtest.New(llmtest.ToolCall("c", "echo", map[string]string{"text": "x"}))
	a := New(testDefinition(tools.NewRegistry().MustRegister(echoTool())), provider)

	result, err := a.Execute(context.Background(), Task{Description: "loop"})
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, 10, provider.Calls())
}

func TestAgent_CancelledBeforeStart(t *testing.T) {
	provider := llmtest.New(llmtest.Text("never"))
	a := New(testDefinition(nil), provider)

	ctx, cancel := context.WithCancelCause(context.Background())
	cancel(fmt.Errorf("analysis stopped: %w", context.Canceled))

	result, err := a.Execute(ctx, Task{Description: "x"})
	assert.Nil(t, result)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCancelled)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Contains(t, err.Error(), "analysis stopped")
	assert.Equal(t, 0, provider.Calls())
}

func TestAgent_CancelledBetweenIterations(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stopper := tools.NewFuncTool("stop", "cancels the run", tools.Schema(nil),
		func(context.Context, json.RawMessage) (tools.ToolResult, error) {
			cancel()
			return tools.ToolResult{Content: "ok"}, nil
		})

	provider := llmtest.Sequence(
		llmtest.ToolCall("c1", "stop", map[string]any{}),
		llmtest.Text("unreachable"),
	)
	a := New(testDefinition(tools.NewRegistry().MustRegister(stopper)), provider)

	_, err := a.Execute(ctx, Task{Description: "x"})
	require.ErrorIs(t, err, ErrCancelled)
	assert.Equal(t, 1, provider.Calls())
}

func TestAgent_CancelledDuringProviderCall(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	provider := llmtest.New(func(ctx context.Context, req *llm.Request) (*llm.Response, error) {
		cancel()
		<-ctx.Done()
		return nil, fmt.Errorf("request aborted: %w", ctx.Err())
	})
	a := New(testDefinition(nil), provider)

	result, err := a.Execute(ctx, Task{Description: "x"})
	assert.Nil(t, result)
	assert.ErrorIs(t, err, ErrCancelled)
}

func TestAgent_ProviderError(t *testing.T) {
	apiErr := llm.ClassifyHTTPError("openai", 429, "")
	provider := llmtest.Sequence(
		llmtest.ToolCall("c1", "echo", map[string]string{"text": "a"}),
		llmtest.Fail(apiErr),
	)
	recorder := &eventRecorder{}
	a := New(testDefinition(tools.NewRegistry().MustRegister(echoTool())), provider, WithEventHandler(recorder.handle))

	result, err := a.Execute(context.Background(), Task{Description: "x"})
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, 2, result.Iterations)
	assert.Equal(t, []string{"echo"}, result.ToolsUsed)
	assert.Contains(t, result.Error, "LLM call failed at iteration 2")

	var target *llm.APIError
	require.True(t, errors.As(result.Err, &target))
	assert.Equal(t, llm.CategoryRateLimit, target.Category)

	events := recorder.types()
	assert.Equal(t, EventError, events[len(events)-1])
}

func TestAgent_FinishError(t *testing.T) {
	provider := llmtest.New(func(context.Context, *llm.Request) (*llm.Response, error) {
		return &llm.Response{FinishReason: llm.FinishError}, nil
	})
	a := New(testDefinition(nil), provider)

	result, err := a.Execute(context.Background(), Task{Description: "x"})
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "error finish reason")
}

func TestAgent_TruncatedAnswer(t *testing.T) {
	a := New(testDefinition(nil), llmtest.New(llmtest.Truncated(`{"partial": tr`)))

	result, err := a.Execute(context.Background(), Task{Description: "x"})
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.True(t, result.Truncated)
	assert.Equal(t, `{"partial": tr`, result.Output)
	assert.Equal(t, 1, result.Iterations)
}

func TestAgent_Streaming(t *testing.T) {
	provider := llmtest.New(llmtest.Text("a streamed answer"))
	provider.ChunkSize = 5

	var mu sync.Mutex
	var deltas []string
	a := New(testDefinition(nil), provider, WithStreaming(), WithEventHandler(func(e Event) {
		if e.Type == EventTextDelta {
			mu.Lock()
			deltas = append(deltas, e.Content)
			mu.Unlock()
			assert.Equal(t, "tester", e.Agent)
		}
	}))

	result, err := a.Execute(context.Background(), Task{Description: "x"})
	require.NoError(t, err)
	assert.Equal(t, "a streamed answer", result.Output)
	assert.Equal(t, 1, provider.StreamedCalls())
	assert.Equal(t, "a streamed answer", strings.Join(deltas, ""))
	assert.Len(t, deltas, 4)
}

func TestAgent_NoToolsAndFreshState(t *testing.T) {
	provider := llmtest.New(llmtest.Text("ok"))
	def := testDefinition(nil)
	def.Temperature = Temperature(0.3)
	def.Model = "custom-model"
	a := New(def, provider)
	assert.Equal(t, StateIdle, a.State().Status)

	for i := 0; i < 2; i++ {
		result, err := a.Execute(context.Background(), Task{Description: "x"})
		require.NoError(t, err)
		assert.Equal(t, 1, result.Iterations)
	}

	req := provider.Requests()[1]
	assert.Len(t, req.Messages, 2)
	assert.Empty(t, req.Tools)
	assert.Equal(t, 0.3, req.Temperature)
	assert.Equal(t, "custom-model", req.Model)
	assert.Contains(t, req.Messages[0].Text(), "(no tools available)")
}

func TestDefinition_ZeroTemperatureKept(t *testing.T) {
	provider := llmtest.New(llmtest.Text("ok"))
	def := testDefinition(nil)
	def.Temperature = Temperature(0)

	_, err := New(def, provider).Execute(context.Background(), Task{Description: "x"})
	require.NoError(t, err)
	assert.Equal(t, 0.0, provider.Requests()[0].Temperature)
}
