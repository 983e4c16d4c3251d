package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"google.golang.org/genai"

	"github.com/chenapple/thesaurus-management/pkg/log"
)

const (
	geminiRoleUser     = "user"
	geminiRoleModel    = "model"
	geminiRoleFunction = "function"
)

// Gemini talks to the Gemini generateContent REST API.
type Gemini struct {
	config    *Config
	transport *httpTransport
}

// NewGemini creates an adapter for the Gemini API.
func NewGemini(config *Config) *Gemini {
	headers := map[string]string{
		"Content-Type":   "application/json",
		"x-goog-api-key": config.APIKey,
	}
	return &Gemini{
		config:    config,
		transport: newHTTPTransport(config, headers),
	}
}

func (g *Gemini) Name() string {
	return ProviderGemini
}

type geminiFunctionDeclaration struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

type geminiTool struct {
	FunctionDeclarations []geminiFunctionDeclaration `json:"functionDeclarations"`
}

type geminiGenerationConfig struct {
	Temperature     float64 `json:"temperature"`
	MaxOutputTokens int     `json:"maxOutputTokens,omitempty"`
}

type geminiRequest struct {
	Contents          []*genai.Content       `json:"contents"`
	SystemInstruction *genai.Content         `json:"systemInstruction,omitempty"`
	Tools             []geminiTool           `json:"tools,omitempty"`
	GenerationConfig  geminiGenerationConfig `json:"generationConfig"`
}

// Chat sends a non-streaming generateContent request.
func (g *Gemini) Chat(ctx context.Context, req *Request) (*Response, error) {
	r := withDefaults(req, g.config)
	path := fmt.Sprintf("/models/%s:generateContent", r.Model)

	var resp genai.GenerateContentResponse
	if err := g.transport.postJSON(ctx, path, g.buildRequest(&r), &resp); err != nil {
		return nil, err
	}
	if len(resp.Candidates) == 0 {
		return nil, fmt.Errorf("no candidates in response")
	}

	acc := &geminiAccumulator{}
	acc.add(&resp, nil)
	return acc.response(), nil
}

// ChatStream sends a streamGenerateContent request over SSE.
// The stream ends on the first chunk that carries a finish reason.
func (g *Gemini) ChatStream(ctx context.Context, req *Request, onDelta func(string)) (*Response, error) {
	r := withDefaults(req, g.config)
	path := fmt.Sprintf("/models/%s:streamGenerateContent?alt=sse", r.Model)

	resp, err := g.transport.post(ctx, path, g.buildRequest(&r))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	acc := &geminiAccumulator{}
	err = readSSE(resp.Body, func(data string) error {
		var chunk genai.GenerateContentResponse
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			log.Warn("Skipping malformed stream chunk from gemini: %v", err)
			return nil
		}
		if acc.add(&chunk, onDelta) {
			return errStopStream
		}
		return nil
	})
	if err != nil {
		return nil, classifyTransportError(ctx, g.Name(), err)
	}
	return acc.response(), nil
}

func (g *Gemini) buildRequest(r *Request) *geminiRequest {
	body := &geminiRequest{
		GenerationConfig: geminiGenerationConfig{
			Temperature:     r.Temperature,
			MaxOutputTokens: r.MaxTokens,
		},
	}

	var system []string
	for _, m := range r.Messages {
		if m.Role == RoleSystem {
			if text := m.Text(); text != "" {
				system = append(system, text)
			}
			continue
		}
		if content := toGeminiContent(m); content != nil {
			body.Contents = append(body.Contents, content)
		}
	}
	if len(system) > 0 {
		body.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: strings.Join(system, "\n\n")}},
		}
	}

	if len(r.Tools) > 0 {
		decls := make([]geminiFunctionDeclaration, 0, len(r.Tools))
		for _, t := range r.Tools {
			decls = append(decls, geminiFunctionDeclaration{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			})
		}
		body.Tools = []geminiTool{{FunctionDeclarations: decls}}
	}
	return body
}

func toGeminiContent(m Message) *genai.Content {
	content := &genai.Content{Role: geminiRoleUser}
	switch m.Role {
	case RoleAssistant:
		content.Role = geminiRoleModel
	case RoleTool:
		content.Role = geminiRoleFunction
	}

	if len(m.Blocks) == 0 {
		if m.Content == "" {
			return nil
		}
		content.Parts = []*genai.Part{{Text: m.Content}}
		return content
	}

	for _, b := range m.Blocks {
		switch b := b.(type) {
		case TextBlock:
			if b.Text != "" {
				content.Parts = append(content.Parts, &genai.Part{Text: b.Text})
			}
		case ToolUseBlock:
			var args map[string]any
			if err := json.Unmarshal(b.Call.Arguments, &args); err != nil {
				args = map[string]any{}
			}
			content.Parts = append(content.Parts, &genai.Part{
				FunctionCall: &genai.FunctionCall{Name: b.Call.Name, Args: args},
			})
		case ToolResultBlock:
			response := map[string]any{"result": b.Result.Content}
			if b.Result.IsError() {
				response = map[string]any{"error": b.Result.Error}
			}
			content.Parts = append(content.Parts, &genai.Part{
				FunctionResponse: &genai.FunctionResponse{Name: b.Result.Name, Response: response},
			})
		}
	}
	if len(content.Parts) == 0 {
		return nil
	}
	return content
}

// geminiAccumulator folds one or more response chunks into a Response.
type geminiAccumulator struct {
	text      strings.Builder
	toolCalls []ToolCall
	finish    genai.FinishReason
	usage     Usage
}

// add merges a chunk and reports whether it carried a finish reason.
func (a *geminiAccumulator) add(resp *genai.GenerateContentResponse, onDelta func(string)) bool {
	if resp.UsageMetadata != nil {
		a.usage = Usage{
			PromptTokens:     int(resp.UsageMetadata.PromptTokenCount),
			CompletionTokens: int(resp.UsageMetadata.CandidatesTokenCount),
			TotalTokens:      int(resp.UsageMetadata.TotalTokenCount),
		}
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0] == nil {
		return false
	}

	candidate := resp.Candidates[0]
	if candidate.Content != nil {
		for _, part := range candidate.Content.Parts {
			if part == nil || part.Thought {
				continue
			}
			if part.Text != "" {
				a.text.WriteString(part.Text)
				if onDelta != nil {
					onDelta(part.Text)
				}
			}
			if part.FunctionCall != nil {
				a.toolCalls = append(a.toolCalls, geminiToolCall(part.FunctionCall))
			}
		}
	}
	if candidate.FinishReason != "" && candidate.FinishReason != genai.FinishReasonUnspecified {
		a.finish = candidate.FinishReason
		return true
	}
	return false
}

func (a *geminiAccumulator) response() *Response {
	return &Response{
		Text:         a.text.String(),
		ToolCalls:    a.toolCalls,
		FinishReason: mapGeminiFinishReason(a.finish, len(a.toolCalls) > 0),
		Usage:        a.usage,
	}
}

func geminiToolCall(fc *genai.FunctionCall) ToolCall {
	id := fc.ID
	if id == "" {
		id = fmt.Sprintf("%s_%s", fc.Name, uuid.NewString())
	}
	args := emptyArguments
	if len(fc.Args) > 0 {
		if b, err := json.Marshal(fc.Args); err == nil {
			args = b
		}
	}
	return ToolCall{ID: id, Name: fc.Name, Arguments: args}
}

func mapGeminiFinishReason(reason genai.FinishReason, hasToolCalls bool) FinishReason {
	if hasToolCalls {
		return FinishToolCalls
	}
	switch reason {
	case "", genai.FinishReasonStop:
		return FinishStop
	case genai.FinishReasonMaxTokens:
		return FinishLength
	default:
		return FinishError
	}
}
