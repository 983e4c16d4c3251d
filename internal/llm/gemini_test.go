package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGemini_Chat(t *testing.T) {
	var captured map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/models/test-model:generateContent", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("x-goog-api-key"))
		assert.Empty(t, r.Header.Get("Authorization"))

		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &captured))

		_, _ = w.Write([]byte(`{
			"candidates": [{
				"content": {"role": "model", "parts": [{"text": "Hi "}, {"text": "there"}]},
				"finishReason": "STOP"
			}],
			"usageMetadata": {"promptTokenCount": 3, "candidatesTokenCount": 2, "totalTokenCount": 5}
		}`))
	}))
	defer server.Close()

	g := NewGemini(newTestConfig(ProviderGemini, server.URL))
	resp, err := g.Chat(context.Background(), &Request{
		Messages: []Message{
			NewTextMessage(RoleSystem, "Be brief."),
			NewTextMessage(RoleSystem, "Answer in English."),
			NewTextMessage(RoleUser, "Hello"),
			NewTextMessage(RoleAssistant, "Hey"),
			NewTextMessage(RoleUser, "Again"),
		},
		Tools: []ToolDefinition{{
			Name:        "lookup",
			Description: "Look up a term",
			Parameters:  json.RawMessage(`{"type":"object","properties":{"term":{"type":"string"}}}`),
		}},
	})
	require.NoError(t, err)
	assert.Equal(t, "Hi there", resp.Text)
	assert.Equal(t, FinishStop, resp.FinishReason)
	assert.Equal(t, 5, resp.Usage.TotalTokens)

	system := captured["systemInstruction"].(map[string]any)
	parts := system["parts"].([]any)
	assert.Equal(t, "Be brief.\n\nAnswer in English.", parts[0].(map[string]any)["text"])

	contents := captured["contents"].([]any)
	require.Len(t, contents, 3)
	assert.Equal(t, "user", contents[0].(map[string]any)["role"])
	assert.Equal(t, "model", contents[1].(map[string]any)["role"])

	tools := captured["tools"].([]any)
	decls := tools[0].(map[string]any)["functionDeclarations"].([]any)
	assert.Equal(t, "lookup", decls[0].(map[string]any)["name"])

	genConfig := captured["generationConfig"].(map[string]any)
	assert.EqualValues(t, 1000, genConfig["maxOutputTokens"])
}

func TestGemini_ToolRoundTrip(t *testing.T) {
	var captured map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &captured))
		_, _ = w.Write([]byte(`{
			"candidates": [{
				"content": {"role": "model", "parts": [{"functionCall": {"name": "lookup", "args": {"term": "shoes"}}}]},
				"finishReason": "STOP"
			}]
		}`))
	}))
	defer server.Close()

	g := NewGemini(newTestConfig(ProviderGemini, server.URL))
	resp, err := g.Chat(context.Background(), &Request{
		Messages: []Message{
			NewTextMessage(RoleUser, "go"),
			NewToolUseMessage("", []ToolCall{{ID: "c1", Name: "lookup", Arguments: json.RawMessage(`{"term":"a"}`)}}),
			NewToolResultMessage(ToolResult{ToolCallID: "c1", Name: "lookup", Content: "3 rows"}),
			NewToolResultMessage(ToolResult{ToolCallID: "c2", Name: "lookup", Error: "bad term"}),
		},
	})
	require.NoError(t, err)

	assert.Equal(t, FinishToolCalls, resp.FinishReason)
	require.Len(t, resp.ToolCalls, 1)
	assert.Equal(t, "lookup", resp.ToolCalls[0].Name)
	assert.True(t, strings.HasPrefix(resp.ToolCalls[0].ID, "lookup_"))
	assert.JSONEq(t, `{"term":"shoes"}`, string(resp.ToolCalls[0].Arguments))

	contents := captured["contents"].([]any)
	require.Len(t, contents, 4)

	call := contents[1].(map[string]any)
	assert.Equal(t, "model", call["role"])
	fc := call["parts"].([]any)[0].(map[string]any)["functionCall"].(map[string]any)
	assert.Equal(t, "lookup", fc["name"])
	assert.Equal(t, map[string]any{"term": "a"}, fc["args"])

	result := contents[2].(map[string]any)
	assert.Equal(t, "function", result["role"])
	fr := result["parts"].([]any)[0].(map[string]any)["functionResponse"].(map[string]any)
	assert.Equal(t, map[string]any{"result": "3 rows"}, fr["response"])

	failed := contents[3].(map[string]any)["parts"].([]any)[0].(map[string]any)["functionResponse"].(map[string]any)
	assert.Equal(t, map[string]any{"error": "bad term"}, failed["response"])
}

func TestGemini_ChatStream(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/models/test-model:streamGenerateContent", r.URL.Path)
		assert.Equal(t, "sse", r.URL.Query().Get("alt"))

		w.Header().Set("Content-Type", "text/event-stream")
		chunks := []string{
			`{"candidates":[{"content":{"role":"model","parts":[{"text":"{\"a\":"}]}}]}`,
			`{broken`,
			`{"candidates":[{"content":{"role":"model","parts":[{"text":"1}"}]},"finishReason":"MAX_TOKENS"}]}`,
			`{"candidates":[{"content":{"role":"model","parts":[{"text":"after finish"}]}}]}`,
		}
		for _, c := range chunks {
			_, _ = fmt.Fprintf(w, "data: %s\r\n\r\n", c)
			w.(http.Flusher).Flush()
		}
	}))
	defer server.Close()

	g := NewGemini(newTestConfig(ProviderGemini, server.URL))
	var deltas []string
	resp, err := g.ChatStream(context.Background(), &Request{
		Messages: []Message{NewTextMessage(RoleUser, "json please")},
	}, func(s string) { deltas = append(deltas, s) })
	require.NoError(t, err)
	assert.Equal(t, []string{`{"a":`, `1}`}, deltas)
	assert.Equal(t, `{"a":1}`, resp.Text)
	assert.Equal(t, FinishLength, resp.FinishReason)
}

func TestMapGeminiFinishReason(t *testing.T) {
	assert.Equal(t, FinishStop, mapGeminiFinishReason("", false))
	assert.Equal(t, FinishStop, mapGeminiFinishReason("STOP", false))
	assert.Equal(t, FinishLength, mapGeminiFinishReason("MAX_TOKENS", false))
	assert.Equal(t, FinishError, mapGeminiFinishReason("SAFETY", false))
	assert.Equal(t, FinishError, mapGeminiFinishReason("RECITATION", false))
	assert.Equal(t, FinishToolCalls, mapGeminiFinishReason("STOP", true))
}

func TestGemini_HTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"code":400,"message":"API key not valid. Please pass a valid API key.","status":"INVALID_ARGUMENT"}}`))
	}))
	defer server.Close()

	g := NewGemini(newTestConfig(ProviderGemini, server.URL))
	_, err := g.Chat(context.Background(), &Request{Messages: []Message{NewTextMessage(RoleUser, "hi")}})
	require.Error(t, err)
	assert.True(t, IsCategory(err, CategoryAuth))
}
