package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const maxErrorBodyBytes = 64 * 1024

// httpTransport performs JSON POST requests against a provider endpoint
// Thread-safe for concurrent use
type httpTransport struct {
	provider   string
	baseURL    string
	headers    map[string]string
	httpClient *http.Client
}

func newHTTPTransport(config *Config, headers map[string]string) *httpTransport {
	return &httpTransport{
		provider: config.Provider,
		baseURL:  config.APIURL,
		headers:  headers,
		httpClient: &http.Client{
			Timeout: time.Duration(config.Timeout) * time.Second,
		},
	}
}

// post sends payload to baseURL+path and returns the open response on 2xx.
// The caller owns and must close the body.
func (t *httpTransport) post(ctx context.Context, path string, payload any) (*http.Response, error) {
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+path, bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	for key, value := range t.headers {
		req.Header.Set(key, value)
	}

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return nil, classifyTransportError(ctx, t.provider, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		return nil, ClassifyHTTPError(t.provider, resp.StatusCode, string(body))
	}
	return resp, nil
}

// postJSON sends payload and decodes a JSON response into out.
func (t *httpTransport) postJSON(ctx context.Context, path string, payload any, out any) error {
	resp, err := t.post(ctx, path, payload)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return classifyTransportError(ctx, t.provider, err)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}
