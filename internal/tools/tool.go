package tools

import (
	"context"
	"encoding/json"
)

// ToolResult represents the result of a tool execution
type ToolResult struct {
	Content string `json:"content"`
	IsError bool   `json:"is_error,omitempty"`
}

// Tool defines the interface for tools that can be called by an agent
type Tool interface {
	// Name returns the unique name of the tool
	Name() string

	// Description returns a description of what the tool does
	Description() string

	// Parameters returns the JSON Schema for the tool's parameters
	Parameters() json.RawMessage

	// Execute runs the tool with the given arguments and returns the result
	Execute(ctx context.Context, args json.RawMessage) (ToolResult, error)
}

// FuncTool adapts a plain function into a Tool.
type FuncTool struct {
	name        string
	description string
	parameters  json.RawMessage
	fn          func(ctx context.Context, args json.RawMessage) (ToolResult, error)
}

// NewFuncTool creates a tool backed by fn. parameters is usually built with Schema.
func NewFuncTool(name, description string, parameters json.RawMessage, fn func(ctx context.Context, args json.RawMessage) (ToolResult, error)) *FuncTool {
	return &FuncTool{
		name:        name,
		description: description,
		parameters:  parameters,
		fn:          fn,
	}
}

func (t *FuncTool) Name() string { return t.name }

func (t *FuncTool) Description() string { return t.description }

func (t *FuncTool) Parameters() json.RawMessage { return t.parameters }

func (t *FuncTool) Execute(ctx context.Context, args json.RawMessage) (ToolResult, error) {
	return t.fn(ctx, args)
}
