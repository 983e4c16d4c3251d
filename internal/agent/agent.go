package agent

import (
	"context"
	"sync"

	"github.com/chenapple/thesaurus-management/internal/llm"
)

// Agent runs tasks for one Definition against a model provider.
// Executions are independent; each gets a fresh RunState.
type Agent struct {
	def       Definition
	provider  llm.Provider
	handler   EventHandler
	streaming bool

	mu      sync.Mutex
	current *Orchestrator
}

// Option configures an Agent
type Option func(*Agent)

// WithEventHandler delivers lifecycle events to h
func WithEventHandler(h EventHandler) Option {
	return func(a *Agent) {
		a.handler = h
	}
}

// WithStreaming makes the agent use streamed model calls and emit text_delta events
func WithStreaming() Option {
	return func(a *Agent) {
		a.streaming = true
	}
}

// New creates an agent
func New(def Definition, provider llm.Provider, opts ...Option) *Agent {
	a := &Agent{
		def:      def.withDefaults(),
		provider: provider,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Name returns the agent name
func (a *Agent) Name() string {
	return a.def.Name
}

// Definition returns the agent definition with defaults applied
func (a *Agent) Definition() Definition {
	return a.def
}

// Execute runs the task to completion.
// See Orchestrator.Run for the result and error contract.
func (a *Agent) Execute(ctx context.Context, task Task) (*Result, error) {
	orchestrator := NewOrchestrator(a.provider, a.def, a.handler, a.streaming)

	a.mu.Lock()
	a.current = orchestrator
	a.mu.Unlock()

	return orchestrator.Run(ctx, task)
}

// State returns the state of the latest execution
func (a *Agent) State() RunState {
	a.mu.Lock()
	current := a.current
	a.mu.Unlock()

	if current == nil {
		return RunState{Status: StateIdle}
	}
	return current.State()
}
