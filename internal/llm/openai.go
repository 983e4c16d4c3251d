package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/chenapple/thesaurus-management/pkg/log"
)

// OpenAICompat talks to any backend exposing the OpenAI chat-completions API
// (OpenAI, DeepSeek, Qwen compatible mode, OpenRouter, ...).
type OpenAICompat struct {
	config    *Config
	transport *httpTransport
}

// NewOpenAICompat creates an adapter for an OpenAI-compatible endpoint.
func NewOpenAICompat(config *Config) *OpenAICompat {
	return &OpenAICompat{
		config:    config,
		transport: newHTTPTransport(config, config.GetHeaders()),
	}
}

func (p *OpenAICompat) Name() string {
	return p.config.Provider
}

// Chat sends a non-streaming chat completion request.
func (p *OpenAICompat) Chat(ctx context.Context, req *Request) (*Response, error) {
	body := p.buildRequest(req, false)

	var resp openai.ChatCompletionResponse
	if err := p.transport.postJSON(ctx, "/chat/completions", body, &resp); err != nil {
		return nil, err
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("no choices in response")
	}

	choice := resp.Choices[0]
	out := &Response{
		Text: choice.Message.Content,
		Usage: Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
	}
	for _, tc := range choice.Message.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: RepairArguments(tc.Function.Arguments),
		})
	}
	out.FinishReason = mapOpenAIFinishReason(choice.FinishReason, len(out.ToolCalls) > 0)
	return out, nil
}

// streamEnvelope catches error objects sent inside the event stream.
type streamEnvelope struct {
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

type partialToolCall struct {
	id   string
	name string
	args strings.Builder
}

// ChatStream sends a streaming request and aggregates the deltas.
// The stream ends at the [DONE] sentinel; malformed chunks are skipped.
func (p *OpenAICompat) ChatStream(ctx context.Context, req *Request, onDelta func(string)) (*Response, error) {
	body := p.buildRequest(req, true)

	resp, err := p.transport.post(ctx, "/chat/completions", body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var (
		text         strings.Builder
		finish       openai.FinishReason
		usage        Usage
		toolCalls    = make(map[int]*partialToolCall)
		streamErrMsg string
	)

	err = readSSE(resp.Body, func(data string) error {
		if data == sseDoneSentinel {
			return errStopStream
		}

		var env streamEnvelope
		if json.Unmarshal([]byte(data), &env) == nil && env.Error != nil {
			streamErrMsg = env.Error.Message
			return errStopStream
		}

		var chunk openai.ChatCompletionStreamResponse
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			log.Warn("Skipping malformed stream chunk from %s: %v", p.Name(), err)
			return nil
		}
		if chunk.Usage != nil {
			usage = Usage{
				PromptTokens:     chunk.Usage.PromptTokens,
				CompletionTokens: chunk.Usage.CompletionTokens,
				TotalTokens:      chunk.Usage.TotalTokens,
			}
		}
		for _, choice := range chunk.Choices {
			if choice.Delta.Content != "" {
				text.WriteString(choice.Delta.Content)
				if onDelta != nil {
					onDelta(choice.Delta.Content)
				}
			}
			for i, tc := range choice.Delta.ToolCalls {
				idx := i
				if tc.Index != nil {
					idx = *tc.Index
				}
				acc, ok := toolCalls[idx]
				if !ok {
					acc = &partialToolCall{}
					toolCalls[idx] = acc
				}
				if tc.ID != "" {
					acc.id = tc.ID
				}
				if tc.Function.Name != "" {
					acc.name = tc.Function.Name
				}
				acc.args.WriteString(tc.Function.Arguments)
			}
			if choice.FinishReason != "" && choice.FinishReason != openai.FinishReasonNull {
				finish = choice.FinishReason
			}
		}
		return nil
	})
	if err != nil {
		return nil, classifyTransportError(ctx, p.Name(), err)
	}
	if streamErrMsg != "" {
		return nil, ClassifyHTTPError(p.Name(), 0, streamErrMsg)
	}

	out := &Response{Text: text.String(), Usage: usage}
	indexes := make([]int, 0, len(toolCalls))
	for idx := range toolCalls {
		indexes = append(indexes, idx)
	}
	sort.Ints(indexes)
	for _, idx := range indexes {
		acc := toolCalls[idx]
		if acc.name == "" {
			continue
		}
		out.ToolCalls = append(out.ToolCalls, ToolCall{
			ID:        acc.id,
			Name:      acc.name,
			Arguments: RepairArguments(acc.args.String()),
		})
	}
	out.FinishReason = mapOpenAIFinishReason(finish, len(out.ToolCalls) > 0)
	return out, nil
}

func (p *OpenAICompat) buildRequest(req *Request, stream bool) openai.ChatCompletionRequest {
	r := withDefaults(req, p.config)

	body := openai.ChatCompletionRequest{
		Model:       r.Model,
		Messages:    toOpenAIMessages(r.Messages),
		MaxTokens:   r.MaxTokens,
		Temperature: float32(r.Temperature),
		Stream:      stream,
	}
	// the client omits a zero temperature from the body
	if body.Temperature == 0 {
		body.Temperature = math.SmallestNonzeroFloat32
	}
	if len(r.Tools) > 0 {
		body.Tools = toOpenAITools(r.Tools)
		body.ToolChoice = "auto"
	}
	return body
}

func toOpenAITools(defs []ToolDefinition) []openai.Tool {
	out := make([]openai.Tool, 0, len(defs))
	for _, d := range defs {
		out = append(out, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        d.Name,
				Description: d.Description,
				Parameters:  d.Parameters,
			},
		})
	}
	return out
}

// toOpenAIMessages flattens block content into the chat-completions shape:
// tool uses ride on the assistant message, each tool result is its own "tool" message.
func toOpenAIMessages(msgs []Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(msgs))
	for _, m := range msgs {
		if len(m.Blocks) == 0 {
			out = append(out, openai.ChatCompletionMessage{
				Role:    string(m.Role),
				Content: m.Content,
			})
			continue
		}

		current := openai.ChatCompletionMessage{Role: string(m.Role)}
		var text strings.Builder
		var results []openai.ChatCompletionMessage
		for _, b := range m.Blocks {
			switch b := b.(type) {
			case TextBlock:
				text.WriteString(b.Text)
			case ToolUseBlock:
				current.ToolCalls = append(current.ToolCalls, openai.ToolCall{
					ID:   b.Call.ID,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      b.Call.Name,
						Arguments: string(b.Call.Arguments),
					},
				})
			case ToolResultBlock:
				results = append(results, openai.ChatCompletionMessage{
					Role:       openai.ChatMessageRoleTool,
					Content:    b.Result.Text(),
					ToolCallID: b.Result.ToolCallID,
				})
			}
		}
		current.Content = text.String()
		if current.Content != "" || len(current.ToolCalls) > 0 {
			out = append(out, current)
		}
		out = append(out, results...)
	}
	return out
}

func mapOpenAIFinishReason(reason openai.FinishReason, hasToolCalls bool) FinishReason {
	if hasToolCalls {
		return FinishToolCalls
	}
	switch reason {
	case openai.FinishReasonToolCalls, openai.FinishReasonFunctionCall:
		return FinishToolCalls
	case openai.FinishReasonLength:
		return FinishLength
	case openai.FinishReasonContentFilter:
		return FinishError
	default:
		return FinishStop
	}
}
