package tools

import (
	"context"
	"fmt"
	"runtime/debug"

	"golang.org/x/sync/errgroup"

	"github.com/chenapple/thesaurus-management/internal/llm"
	"github.com/chenapple/thesaurus-management/pkg/log"
)

// Executor runs model-requested tool calls against a Registry.
// Failures never escape as Go errors or panics; they become error-carrying results
// so the model can see them and react.
type Executor struct {
	registry *Registry
}

// NewExecutor creates an executor over registry. A nil registry knows no tools.
func NewExecutor(registry *Registry) *Executor {
	return &Executor{registry: registry}
}

// Execute runs a single tool call.
func (e *Executor) Execute(ctx context.Context, call llm.ToolCall) (result llm.ToolResult) {
	result = llm.ToolResult{ToolCallID: call.ID, Name: call.Name}

	var tool Tool
	var exists bool
	if e.registry != nil {
		tool, exists = e.registry.Get(call.Name)
	}
	if !exists {
		result.Error = fmt.Sprintf("Tool %q not found", call.Name)
		return result
	}

	defer func() {
		if r := recover(); r != nil {
			log.Error("Tool %s panicked: %v\n%s", call.Name, r, debug.Stack())
			result.Content = ""
			result.Error = fmt.Sprintf("Tool execution error: %v", r)
		}
	}()

	out, err := tool.Execute(ctx, call.Arguments)
	if err != nil {
		result.Error = fmt.Sprintf("Tool execution error: %v", err)
		return result
	}
	if out.IsError {
		result.Error = out.Content
		if result.Error == "" {
			result.Error = "tool reported an error"
		}
		return result
	}

	result.Content = out.Content
	return result
}

// ExecuteAll runs calls one after another in request order.
func (e *Executor) ExecuteAll(ctx context.Context, calls []llm.ToolCall) []llm.ToolResult {
	results := make([]llm.ToolResult, len(calls))
	for i, call := range calls {
		results[i] = e.Execute(ctx, call)
	}
	return results
}

// ExecuteAllParallel runs calls concurrently; results keep request order.
func (e *Executor) ExecuteAllParallel(ctx context.Context, calls []llm.ToolCall) []llm.ToolResult {
	results := make([]llm.ToolResult, len(calls))

	var g errgroup.Group
	for i, call := range calls {
		g.Go(func() error {
			results[i] = e.Execute(ctx, call)
			return nil
		})
	}
	_ = g.Wait()
	return results
}
