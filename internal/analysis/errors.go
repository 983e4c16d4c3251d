package analysis

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/chenapple/thesaurus-management/internal/agent"
	"github.com/chenapple/thesaurus-management/internal/llm"
)

type ErrorType int

const (
	ErrProvider ErrorType = iota
	ErrStructuredOutput
	ErrCancelled
	ErrAllTargetsFailed
	ErrValidation
	ErrConfig
	ErrUnknown
)

// AnalysisError is the error type surfaced by the coordinator
type AnalysisError struct {
	Type    ErrorType
	Message string
	Context map[string]any
	Cause   error
}

func NewError(errorType ErrorType, message string) *AnalysisError {
	return &AnalysisError{
		Type:    errorType,
		Message: message,
		Context: make(map[string]any),
	}
}

func NewErrorWithCause(errorType ErrorType, message string, cause error) *AnalysisError {
	return &AnalysisError{
		Type:    errorType,
		Message: message,
		Context: make(map[string]any),
		Cause:   cause,
	}
}

func (e *AnalysisError) Error() string {
	var parts []string
	parts = append(parts, fmt.Sprintf("[%s] %s", e.Type.String(), e.Message))

	if len(e.Context) > 0 {
		keys := make([]string, 0, len(e.Context))
		for k := range e.Context {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		var ctxParts []string
		for _, k := range keys {
			ctxParts = append(ctxParts, fmt.Sprintf("%s=%v", k, e.Context[k]))
		}
		parts = append(parts, fmt.Sprintf("context: %s", strings.Join(ctxParts, ", ")))
	}

	if e.Cause != nil {
		parts = append(parts, fmt.Sprintf("cause: %v", e.Cause))
	}

	return strings.Join(parts, " | ")
}

func (e *AnalysisError) Unwrap() error {
	return e.Cause
}

func (e *AnalysisError) WithContext(key string, value any) *AnalysisError {
	e.Context[key] = value
	return e
}

// Advice returns human-readable guidance for the error
func (e *AnalysisError) Advice() string {
	switch e.Type {
	case ErrProvider:
		var apiErr *llm.APIError
		if errors.As(e.Cause, &apiErr) {
			switch apiErr.Category {
			case llm.CategoryAuth:
				return "Check that the API key is correct and has access to the configured model"
			case llm.CategoryRateLimit:
				return "The provider is rate limiting requests; wait a moment, then retry the failed targets"
			case llm.CategoryTimeout:
				return "The model took too long to answer; retry the failed targets or reduce the sample size"
			case llm.CategoryContentFilter:
				return "The provider blocked the content; review the search terms of the failed target"
			}
		}
		return "Check network connectivity and the provider status, then retry the failed targets"
	case ErrStructuredOutput:
		return "The model answer was not valid JSON; retry the target or use a model with a larger output limit"
	case ErrCancelled:
		return "The analysis was stopped; completed targets were kept and the rest can be resumed"
	case ErrAllTargetsFailed:
		return "Every target failed; check the provider configuration and the per-target errors in the log"
	case ErrValidation:
		return "Check the input data: every record needs a country and numeric performance fields"
	case ErrConfig:
		return "Check that configuration files or environment variables are set correctly"
	default:
		return "Please review detailed error information and check relevant configuration"
	}
}

func (t ErrorType) String() string {
	switch t {
	case ErrProvider:
		return "Provider"
	case ErrStructuredOutput:
		return "StructuredOutput"
	case ErrCancelled:
		return "Cancelled"
	case ErrAllTargetsFailed:
		return "AllTargetsFailed"
	case ErrValidation:
		return "Validation"
	case ErrConfig:
		return "Config"
	default:
		return "Unknown"
	}
}

func IsErrorType(err error, errorType ErrorType) bool {
	var aErr *AnalysisError
	if errors.As(err, &aErr) {
		return aErr.Type == errorType
	}
	return false
}

// classify wraps a per-target failure into an AnalysisError
func classify(err error, country string) *AnalysisError {
	var aErr *AnalysisError
	if errors.As(err, &aErr) {
		return aErr
	}

	var structured *StructuredOutputError
	var apiErr *llm.APIError
	switch {
	case errors.Is(err, agent.ErrCancelled):
		return NewErrorWithCause(ErrCancelled, "analysis cancelled", err).WithContext("country", country)
	case errors.As(err, &structured):
		return NewErrorWithCause(ErrStructuredOutput, "model returned unusable output", err).WithContext("country", country)
	case errors.As(err, &apiErr):
		return NewErrorWithCause(ErrProvider, apiErr.Message, err).WithContext("country", country)
	default:
		return NewErrorWithCause(ErrUnknown, "target analysis failed", err).WithContext("country", country)
	}
}

// failureHint names the likely cause of a target failure for logs
func failureHint(err error) string {
	msg := strings.ToLower(err.Error())
	switch {
	case llm.IsCategory(err, llm.CategoryTimeout) || strings.Contains(msg, "timeout"):
		return "request timed out; the model may be overloaded or the input too large"
	case llm.IsCategory(err, llm.CategoryRateLimit) || strings.Contains(msg, "rate"):
		return "provider rate limit hit; wait before retrying"
	case strings.Contains(msg, "token") || strings.Contains(msg, "context"):
		return "input may exceed the model context window; try a smaller sample size"
	default:
		return ""
	}
}
