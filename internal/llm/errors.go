package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"regexp"
)

// ErrorCategory is a coarse classification of a provider failure.
type ErrorCategory string

const (
	CategoryAuth          ErrorCategory = "auth"
	CategoryRateLimit     ErrorCategory = "rate_limit"
	CategoryTimeout       ErrorCategory = "timeout"
	CategoryNetwork       ErrorCategory = "network"
	CategoryContentFilter ErrorCategory = "content_filter"
	CategoryServer        ErrorCategory = "server"
	CategoryModel         ErrorCategory = "model"
	CategoryRequest       ErrorCategory = "request"
	CategoryUnknown       ErrorCategory = "unknown"
)

// APIError is a failed provider call.
// Message is a human-readable description; Body keeps the raw response for logs.
type APIError struct {
	Provider   string
	StatusCode int
	Category   ErrorCategory
	Message    string
	Body       string
	Cause      error
}

func (e *APIError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s: %s (status %d)", e.Provider, e.Message, e.StatusCode)
	}
	return fmt.Sprintf("%s: %s", e.Provider, e.Message)
}

func (e *APIError) Unwrap() error {
	return e.Cause
}

// Transient reports whether retrying later may succeed.
func (e *APIError) Transient() bool {
	switch e.Category {
	case CategoryRateLimit, CategoryTimeout, CategoryNetwork, CategoryServer:
		return true
	}
	return false
}

// IsCategory reports whether err is an APIError of the given category.
func IsCategory(err error, category ErrorCategory) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Category == category
	}
	return false
}

type errorPattern struct {
	pattern  *regexp.Regexp
	category ErrorCategory
	message  string
}

// Body patterns are checked before status codes: providers often return 400 for quota problems.
var errorPatterns = []errorPattern{
	{regexp.MustCompile(`(?i)invalid.?api.?key`), CategoryAuth, "API key is invalid, check the configuration"},
	{regexp.MustCompile(`(?i)api.?key.*not.*valid`), CategoryAuth, "API key is invalid, check the configuration"},
	{regexp.MustCompile(`(?i)authentication`), CategoryAuth, "API key authentication failed, check the configuration"},
	{regexp.MustCompile(`(?i)unauthorized`), CategoryAuth, "API key is not authorized, check the configuration"},
	{regexp.MustCompile(`(?i)auth.*fail`), CategoryAuth, "API key authentication failed, check the configuration"},

	{regexp.MustCompile(`(?i)rate.?limit`), CategoryRateLimit, "too many requests, retry later"},
	{regexp.MustCompile(`(?i)quota`), CategoryRateLimit, "API quota exhausted, check the account balance"},
	{regexp.MustCompile(`(?i)insufficient.*balance`), CategoryRateLimit, "API account balance is insufficient"},
	{regexp.MustCompile(`(?i)exceeded`), CategoryRateLimit, "API usage limit exceeded, check the quota"},

	{regexp.MustCompile(`(?i)network`), CategoryNetwork, "network connection failed"},
	{regexp.MustCompile(`(?i)timeout`), CategoryTimeout, "request timed out, retry"},
	{regexp.MustCompile(`(?i)timed?\s*out`), CategoryTimeout, "request timed out, retry"},
	{regexp.MustCompile(`(?i)ECONNREFUSED|connection.*refused`), CategoryNetwork, "cannot connect to the model service"},
	{regexp.MustCompile(`(?i)ENOTFOUND|no such host`), CategoryNetwork, "cannot reach the model service"},

	{regexp.MustCompile(`(?i)content.?filter`), CategoryContentFilter, "content was filtered by the safety policy"},
	{regexp.MustCompile(`(?i)blocked`), CategoryContentFilter, "request was blocked, adjust the content and retry"},
	{regexp.MustCompile(`(?i)too.?long`), CategoryContentFilter, "input is too long, reduce the data and retry"},
	{regexp.MustCompile(`(?i)token.?limit`), CategoryContentFilter, "input is too long, reduce the data and retry"},

	{regexp.MustCompile(`(?i)server.*error`), CategoryServer, "model service internal error, retry later"},
	{regexp.MustCompile(`(?i)internal.*error`), CategoryServer, "model service internal error, retry later"},
	{regexp.MustCompile(`(?i)service.*unavailable`), CategoryServer, "model service is temporarily unavailable"},
	{regexp.MustCompile(`(?i)overloaded`), CategoryServer, "model service is overloaded, retry later"},

	{regexp.MustCompile(`(?i)model.*not.*found`), CategoryModel, "the configured model is not available"},
	{regexp.MustCompile(`(?i)invalid.*model`), CategoryModel, "the configured model is invalid"},
}

var statusMessages = map[int]struct {
	category ErrorCategory
	message  string
}{
	400: {CategoryRequest, "invalid request parameters"},
	401: {CategoryAuth, "API key is invalid or expired"},
	403: {CategoryAuth, "API key lacks the required permission"},
	404: {CategoryModel, "API endpoint or model not found"},
	429: {CategoryRateLimit, "too many requests, retry later"},
	500: {CategoryServer, "model service internal error, retry later"},
	502: {CategoryServer, "model service is temporarily unavailable"},
	503: {CategoryServer, "model service is busy, retry later"},
	504: {CategoryTimeout, "request timed out, retry later"},
}

// ClassifyHTTPError builds an APIError from a non-2xx response.
func ClassifyHTTPError(provider string, status int, body string) *APIError {
	apiErr := &APIError{
		Provider:   provider,
		StatusCode: status,
		Body:       body,
	}

	for _, p := range errorPatterns {
		if p.pattern.MatchString(body) {
			apiErr.Category = p.category
			apiErr.Message = p.message
			return apiErr
		}
	}

	if m, ok := statusMessages[status]; ok {
		apiErr.Category = m.category
		apiErr.Message = m.message
		return apiErr
	}

	switch {
	case status >= 500:
		apiErr.Category = CategoryServer
		apiErr.Message = "model service is temporarily unavailable"
	case status >= 400:
		apiErr.Category = CategoryRequest
		apiErr.Message = "request failed, check the configuration"
	default:
		apiErr.Category = CategoryUnknown
		apiErr.Message = "unexpected response from the model service"
	}
	return apiErr
}

// classifyTransportError wraps a failed round trip.
// Context cancellation is returned as-is so callers can tell it apart from failures.
func classifyTransportError(ctx context.Context, provider string, err error) error {
	if ctx.Err() != nil {
		return fmt.Errorf("%s request aborted: %w", provider, context.Cause(ctx))
	}
	if errors.Is(err, context.Canceled) {
		return err
	}

	apiErr := &APIError{Provider: provider, Cause: err}
	var netErr net.Error
	switch {
	case os.IsTimeout(err), errors.Is(err, context.DeadlineExceeded):
		apiErr.Category = CategoryTimeout
		apiErr.Message = "request timed out, retry"
	case errors.As(err, &netErr) && netErr.Timeout():
		apiErr.Category = CategoryTimeout
		apiErr.Message = "request timed out, retry"
	default:
		apiErr.Category = CategoryNetwork
		apiErr.Message = "network request failed"
	}
	return apiErr
}
