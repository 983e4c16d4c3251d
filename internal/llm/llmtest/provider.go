// Package llmtest provides scripted providers for tests.
package llmtest

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/chenapple/thesaurus-management/internal/llm"
)

// Handler produces the response for one request.
type Handler func(ctx context.Context, req *llm.Request) (*llm.Response, error)

// Provider is an llm.Provider driven by a Handler.
// ChatStream replays the response text to onDelta in fixed-size chunks.
type Provider struct {
	ProviderName string
	Handler      Handler
	ChunkSize    int

	mu       sync.Mutex
	requests []*llm.Request
	streamed int
}

// New creates a provider that answers every request with handler.
func New(handler Handler) *Provider {
	return &Provider{ProviderName: "scripted", Handler: handler, ChunkSize: 8}
}

// Sequence creates a provider that returns the given steps in order and fails once they run out.
func Sequence(steps ...Handler) *Provider {
	var mu sync.Mutex
	next := 0
	return New(func(ctx context.Context, req *llm.Request) (*llm.Response, error) {
		mu.Lock()
		i := next
		next++
		mu.Unlock()
		if i >= len(steps) {
			return nil, fmt.Errorf("scripted provider exhausted after %d calls", len(steps))
		}
		return steps[i](ctx, req)
	})
}

func (p *Provider) Name() string {
	return p.ProviderName
}

func (p *Provider) Chat(ctx context.Context, req *llm.Request) (*llm.Response, error) {
	p.record(req, false)
	if err := ctx.Err(); err != nil {
		return nil, context.Cause(ctx)
	}
	return p.Handler(ctx, req)
}

func (p *Provider) ChatStream(ctx context.Context, req *llm.Request, onDelta func(string)) (*llm.Response, error) {
	p.record(req, true)
	if err := ctx.Err(); err != nil {
		return nil, context.Cause(ctx)
	}
	resp, err := p.Handler(ctx, req)
	if err != nil || resp == nil || onDelta == nil {
		return resp, err
	}

	size := p.ChunkSize
	if size <= 0 {
		size = len(resp.Text)
	}
	runes := []rune(resp.Text)
	for start := 0; start < len(runes); start += size {
		end := min(start+size, len(runes))
		onDelta(string(runes[start:end]))
	}
	return resp, nil
}

// Requests returns copies of the requests received so far.
func (p *Provider) Requests() []*llm.Request {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*llm.Request(nil), p.requests...)
}

// Calls returns the number of requests received.
func (p *Provider) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.requests)
}

// StreamedCalls returns how many requests used ChatStream.
func (p *Provider) StreamedCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.streamed
}

func (p *Provider) record(req *llm.Request, stream bool) {
	cp := *req
	cp.Messages = append([]llm.Message(nil), req.Messages...)

	p.mu.Lock()
	defer p.mu.Unlock()
	p.requests = append(p.requests, &cp)
	if stream {
		p.streamed++
	}
}

// Text returns a handler answering with plain text.
func Text(text string) Handler {
	return func(context.Context, *llm.Request) (*llm.Response, error) {
		return &llm.Response{Text: text, FinishReason: llm.FinishStop}, nil
	}
}

// Truncated returns a handler answering with text cut by the token ceiling.
func Truncated(text string) Handler {
	return func(context.Context, *llm.Request) (*llm.Response, error) {
		return &llm.Response{Text: text, FinishReason: llm.FinishLength}, nil
	}
}

// Fail returns a handler failing with err.
func Fail(err error) Handler {
	return func(context.Context, *llm.Request) (*llm.Response, error) {
		return nil, err
	}
}

// ToolCall returns a handler requesting one tool call with the given arguments.
func ToolCall(id, name string, args any) Handler {
	raw, err := json.Marshal(args)
	if err != nil {
		panic(err)
	}
	return func(context.Context, *llm.Request) (*llm.Response, error) {
		return &llm.Response{
			ToolCalls:    []llm.ToolCall{{ID: id, Name: name, Arguments: raw}},
			FinishReason: llm.FinishToolCalls,
		}, nil
	}
}
