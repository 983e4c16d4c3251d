package agent

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/chenapple/thesaurus-management/internal/llm"
	"github.com/chenapple/thesaurus-management/internal/tools"
)

const (
	defaultMaxIterations = 10
	defaultTemperature   = 0.7
)

var (
	// ErrCancelled is returned when the caller cancels a running task.
	// It is not a task failure; the returned error also wraps the context cause.
	ErrCancelled = errors.New("agent task cancelled")

	// ErrMaxIterations is carried in Result.Err when the loop ran out of iterations.
	ErrMaxIterations = errors.New("max iterations reached")
)

// Definition describes one agent: who it is and what it can use
type Definition struct {
	// Name identifies the agent in events and logs
	Name string

	Role      string
	Goal      string
	Backstory string

	// Tools available to the agent; nil means none
	Tools *tools.Registry

	// Model overrides the provider's configured model when set
	Model string

	// MaxIterations bounds the number of model calls per task
	// Default: 10
	MaxIterations int

	// Temperature for every model call; nil uses the default, 0 is kept
	// Default: 0.7
	Temperature *float64

	// MaxTokens is the output ceiling; 0 uses the provider table
	MaxTokens int
}

func (d Definition) withDefaults() Definition {
	if d.MaxIterations <= 0 {
		d.MaxIterations = defaultMaxIterations
	}
	if d.Temperature == nil {
		d.Temperature = Temperature(defaultTemperature)
	}
	return d
}

// Temperature returns a Definition temperature of v
func Temperature(v float64) *float64 {
	return &v
}

// Task is one unit of work handed to an agent
type Task struct {
	// Description is sent as the user message
	Description string

	// ExpectedOutput is described in the system prompt when set
	ExpectedOutput string

	// Context is sent as a JSON reference block before the task when non-empty
	Context map[string]any
}

// Result represents the outcome of a task execution
type Result struct {
	Success bool   `json:"success"`
	Output  string `json:"output"`
	Error   string `json:"error,omitempty"`

	// ToolsUsed lists distinct tool names in first-use order
	ToolsUsed []string `json:"tools_used"`

	// Iterations is the number of model calls made
	Iterations int `json:"iterations"`

	// Truncated is set when the final answer hit the output-token ceiling
	Truncated bool `json:"truncated,omitempty"`

	// Err is the underlying failure, if any
	Err error `json:"-"`
}

// State is the lifecycle position of an agent
type State string

const (
	StateIdle          State = "idle"
	StateThinking      State = "thinking"
	StateExecutingTool State = "executing_tool"
	StateCompleted     State = "completed"
	StateError         State = "error"
)

// RunState is the working state of one task execution
type RunState struct {
	Messages    []llm.Message
	Iteration   int
	Status      State
	CurrentTool *llm.ToolCall
}

// EventType names an agent lifecycle event
type EventType string

const (
	EventThinkingStart EventType = "thinking_start"
	EventThinkingEnd   EventType = "thinking_end"
	EventToolCallStart EventType = "tool_call_start"
	EventToolCallEnd   EventType = "tool_call_end"
	EventTextDelta     EventType = "text_delta"
	EventTaskComplete  EventType = "task_complete"
	EventError         EventType = "error"
)

// Event is delivered to an EventHandler as the agent works
type Event struct {
	Type      EventType
	Agent     string
	Iteration int
	Time      time.Time

	// Content is the model text for thinking_end and the fragment for text_delta
	Content string

	// ToolName, Arguments and ToolResult are set for tool_call_* events
	ToolName   string
	Arguments  json.RawMessage
	ToolResult *llm.ToolResult

	// Result is set for task_complete
	Result *Result

	// Error is set for error events
	Error string
}

// EventHandler receives agent events. It is called synchronously from the agent loop.
type EventHandler func(Event)
