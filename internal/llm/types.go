package llm

import (
	"encoding/json"
	"strings"
)

// Role is the author of a message in a conversation.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// FinishReason describes why a model call ended.
//
// FinishLength means the answer was truncated by the output-token ceiling.
// Callers treat it as a usable but incomplete answer, not an error.
type FinishReason string

const (
	FinishStop      FinishReason = "stop"
	FinishToolCalls FinishReason = "tool_calls"
	FinishLength    FinishReason = "length"
	FinishError     FinishReason = "error"
)

// Block is one typed piece of message content.
// The set of implementations is closed: TextBlock, ToolUseBlock and ToolResultBlock.
type Block interface {
	isBlock()
}

// TextBlock carries plain text.
type TextBlock struct {
	Text string
}

// ToolUseBlock records a tool invocation requested by the model.
type ToolUseBlock struct {
	Call ToolCall
}

// ToolResultBlock carries the outcome of one tool invocation back to the model.
type ToolResultBlock struct {
	Result ToolResult
}

func (TextBlock) isBlock()       {}
func (ToolUseBlock) isBlock()    {}
func (ToolResultBlock) isBlock() {}

// Message is one turn of a conversation.
// Content holds plain text; Blocks, when set, take precedence and hold ordered typed content.
type Message struct {
	Role    Role
	Content string
	Blocks  []Block
}

// Text returns the concatenated text of the message.
func (m Message) Text() string {
	if len(m.Blocks) == 0 {
		return m.Content
	}
	var sb strings.Builder
	for _, b := range m.Blocks {
		if tb, ok := b.(TextBlock); ok {
			sb.WriteString(tb.Text)
		}
	}
	return sb.String()
}

// ToolCalls returns the tool-use blocks of the message in order.
func (m Message) ToolCalls() []ToolCall {
	var calls []ToolCall
	for _, b := range m.Blocks {
		if tu, ok := b.(ToolUseBlock); ok {
			calls = append(calls, tu.Call)
		}
	}
	return calls
}

// NewTextMessage creates a plain text message.
func NewTextMessage(role Role, text string) Message {
	return Message{Role: role, Content: text}
}

// NewToolUseMessage creates the assistant message that requests the given tool calls.
func NewToolUseMessage(text string, calls []ToolCall) Message {
	blocks := make([]Block, 0, len(calls)+1)
	if text != "" {
		blocks = append(blocks, TextBlock{Text: text})
	}
	for _, c := range calls {
		blocks = append(blocks, ToolUseBlock{Call: c})
	}
	return Message{Role: RoleAssistant, Blocks: blocks}
}

// NewToolResultMessage creates the tool message carrying one tool result.
func NewToolResultMessage(result ToolResult) Message {
	return Message{Role: RoleTool, Blocks: []Block{ToolResultBlock{Result: result}}}
}

// ToolCall is a model-requested invocation.
// Arguments is always a JSON object; truncated payloads are repaired before they get here.
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// ToolResult is the outcome of executing one ToolCall.
// Exactly one of Content or Error is meaningful.
type ToolResult struct {
	ToolCallID string `json:"tool_call_id"`
	Name       string `json:"name"`
	Content    string `json:"content,omitempty"`
	Error      string `json:"error,omitempty"`
}

// IsError reports whether the tool failed.
func (r ToolResult) IsError() bool {
	return r.Error != ""
}

// Text renders the result the way it is shown to the model.
func (r ToolResult) Text() string {
	if r.IsError() {
		return "Error: " + r.Error
	}
	return r.Content
}

// ToolDefinition describes a tool to the model.
// Parameters is a JSON schema object: {"type":"object","properties":{...},"required":[...]}.
type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

// Request is a provider-agnostic chat request.
type Request struct {
	Model       string
	Messages    []Message
	Tools       []ToolDefinition
	Temperature float64
	MaxTokens   int
}

// Usage represents token usage statistics
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Response is a provider-agnostic chat response.
type Response struct {
	Text         string
	ToolCalls    []ToolCall
	FinishReason FinishReason
	Usage        Usage
}
