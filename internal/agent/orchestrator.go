package agent

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/chenapple/thesaurus-management/internal/llm"
	"github.com/chenapple/thesaurus-management/internal/tools"
	"github.com/chenapple/thesaurus-management/pkg/log"
)

// Orchestrator manages the reason-act loop for one task execution
type Orchestrator struct {
	provider  llm.Provider
	executor  *tools.Executor
	def       Definition
	toolDefs  []llm.ToolDefinition
	handler   EventHandler
	streaming bool

	mu    sync.Mutex
	state RunState
}

// NewOrchestrator creates a new orchestrator
func NewOrchestrator(provider llm.Provider, def Definition, handler EventHandler, streaming bool) *Orchestrator {
	def = def.withDefaults()
	return &Orchestrator{
		provider:  provider,
		executor:  tools.NewExecutor(def.Tools),
		def:       def,
		toolDefs:  def.Tools.Definitions(),
		handler:   handler,
		streaming: streaming,
		state:     RunState{Status: StateIdle},
	}
}

// Run executes the agent loop.
//
// Provider failures, error finish reasons and iteration exhaustion come back as a Result with
// Success=false and a nil error. The only Go error is cancellation, which wraps ErrCancelled.
func (o *Orchestrator) Run(ctx context.Context, task Task) (*Result, error) {
	o.mu.Lock()
	o.state = RunState{
		Messages: initialMessages(o.def, task, o.toolDefs),
		Status:   StateIdle,
	}
	o.mu.Unlock()

	var toolsUsed []string
	seen := make(map[string]bool)

	for o.iteration() < o.def.MaxIterations {
		if ctx.Err() != nil {
			return nil, o.cancelled(ctx)
		}

		iteration := o.beginIteration()
		o.emit(Event{Type: EventThinkingStart, Iteration: iteration})

		resp, err := o.call(ctx, iteration)
		if err != nil {
			if ctx.Err() != nil {
				return nil, o.cancelled(ctx)
			}
			return o.fail(iteration, toolsUsed, fmt.Errorf("LLM call failed at iteration %d: %w", iteration, err)), nil
		}
		o.emit(Event{Type: EventThinkingEnd, Iteration: iteration, Content: resp.Text})

		switch {
		case resp.FinishReason == llm.FinishToolCalls && len(resp.ToolCalls) > 0:
			o.appendMessage(llm.NewToolUseMessage(resp.Text, resp.ToolCalls))

			for _, call := range resp.ToolCalls {
				if !seen[call.Name] {
					seen[call.Name] = true
					toolsUsed = append(toolsUsed, call.Name)
				}
				o.appendMessage(llm.NewToolResultMessage(o.executeTool(ctx, iteration, call)))
			}

		case resp.FinishReason == llm.FinishError:
			return o.fail(iteration, toolsUsed, errors.New("model stopped with an error finish reason (content filtered or blocked)")), nil

		default:
			o.setStatus(StateCompleted)
			result := &Result{
				Success:    true,
				Output:     resp.Text,
				ToolsUsed:  toolsUsed,
				Iterations: iteration,
				Truncated:  resp.FinishReason == llm.FinishLength,
			}
			if result.Truncated {
				log.Warn("Agent %s answer truncated by the output-token ceiling", o.def.Name)
			}
			o.emit(Event{Type: EventTaskComplete, Iteration: iteration, Result: result})
			return result, nil
		}
	}

	o.setStatus(StateError)
	msg := fmt.Sprintf("max iterations (%d) reached without completion", o.def.MaxIterations)
	result := &Result{
		Success:    false,
		Output:     o.lastAssistantText(),
		Error:      msg,
		ToolsUsed:  toolsUsed,
		Iterations: o.iteration(),
		Err:        ErrMaxIterations,
	}
	log.Warn("Agent %s: %s", o.def.Name, msg)
	o.emit(Event{Type: EventTaskComplete, Iteration: result.Iterations, Result: result})
	return result, nil
}

// State returns a copy of the current run state
func (o *Orchestrator) State() RunState {
	o.mu.Lock()
	defer o.mu.Unlock()

	s := o.state
	s.Messages = append([]llm.Message(nil), o.state.Messages...)
	if o.state.CurrentTool != nil {
		tc := *o.state.CurrentTool
		s.CurrentTool = &tc
	}
	return s
}

func (o *Orchestrator) call(ctx context.Context, iteration int) (*llm.Response, error) {
	o.mu.Lock()
	messages := append([]llm.Message(nil), o.state.Messages...)
	o.mu.Unlock()

	req := &llm.Request{
		Model:       o.def.Model,
		Messages:    messages,
		Tools:       o.toolDefs,
		Temperature: *o.def.Temperature,
		MaxTokens:   o.def.MaxTokens,
	}
	if !o.streaming {
		return o.provider.Chat(ctx, req)
	}
	return o.provider.ChatStream(ctx, req, func(delta string) {
		o.emit(Event{Type: EventTextDelta, Iteration: iteration, Content: delta})
	})
}

func (o *Orchestrator) executeTool(ctx context.Context, iteration int, call llm.ToolCall) llm.ToolResult {
	o.mu.Lock()
	o.state.Status = StateExecutingTool
	tc := call
	o.state.CurrentTool = &tc
	o.mu.Unlock()

	o.emit(Event{Type: EventToolCallStart, Iteration: iteration, ToolName: call.Name, Arguments: call.Arguments})

	result := o.executor.Execute(ctx, call)
	log.Info("Tool %s executed: error=%v", call.Name, result.IsError())

	o.mu.Lock()
	o.state.CurrentTool = nil
	o.mu.Unlock()

	o.emit(Event{Type: EventToolCallEnd, Iteration: iteration, ToolName: call.Name, ToolResult: &result})
	return result
}

func (o *Orchestrator) fail(iteration int, toolsUsed []string, err error) *Result {
	o.setStatus(StateError)
	log.Error("Agent %s failed: %v", o.def.Name, err)
	o.emit(Event{Type: EventError, Iteration: iteration, Error: err.Error()})
	return &Result{
		Success:    false,
		Error:      err.Error(),
		ToolsUsed:  toolsUsed,
		Iterations: iteration,
		Err:        err,
	}
}

func (o *Orchestrator) cancelled(ctx context.Context) error {
	o.setStatus(StateError)
	err := fmt.Errorf("%w: %w", ErrCancelled, context.Cause(ctx))
	o.emit(Event{Type: EventError, Iteration: o.iteration(), Error: err.Error()})
	return err
}

func (o *Orchestrator) emit(e Event) {
	if o.handler == nil {
		return
	}
	e.Agent = o.def.Name
	e.Time = time.Now()
	o.handler(e)
}

func (o *Orchestrator) iteration() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state.Iteration
}

func (o *Orchestrator) beginIteration() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.state.Iteration++
	o.state.Status = StateThinking
	return o.state.Iteration
}

func (o *Orchestrator) setStatus(s State) {
	o.mu.Lock()
	o.state.Status = s
	o.mu.Unlock()
}

func (o *Orchestrator) appendMessage(m llm.Message) {
	o.mu.Lock()
	o.state.Messages = append(o.state.Messages, m)
	o.mu.Unlock()
}

func (o *Orchestrator) lastAssistantText() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	for i := len(o.state.Messages) - 1; i >= 0; i-- {
		if o.state.Messages[i].Role == llm.RoleAssistant {
			return o.state.Messages[i].Text()
		}
	}
	return ""
}
