package analysis

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chenapple/thesaurus-management/internal/agent"
	"github.com/chenapple/thesaurus-management/internal/llm"
)

func TestAnalysisError(t *testing.T) {
	cause := errors.New("boom")
	err := NewErrorWithCause(ErrProvider, "request failed", cause).
		WithContext("country", "DE").
		WithContext("attempt", 2)

	assert.Equal(t, "[Provider] request failed | context: attempt=2, country=DE | cause: boom", err.Error())
	assert.ErrorIs(t, err, cause)
	assert.True(t, IsErrorType(err, ErrProvider))
	assert.True(t, IsErrorType(fmt.Errorf("wrapped: %w", err), ErrProvider))
	assert.False(t, IsErrorType(err, ErrConfig))
	assert.False(t, IsErrorType(cause, ErrProvider))
}

func TestClassify(t *testing.T) {
	apiErr := &llm.APIError{Provider: "openai", StatusCode: 401, Category: llm.CategoryAuth, Message: "invalid api key"}

	tests := []struct {
		name string
		err  error
		want ErrorType
	}{
		{"cancelled", fmt.Errorf("%w: %w", agent.ErrCancelled, context.Canceled), ErrCancelled},
		{"structured", &StructuredOutputError{Snippet: "x", Err: ErrNoJSONObject}, ErrStructuredOutput},
		{"provider", fmt.Errorf("agent: %w", apiErr), ErrProvider},
		{"other", errors.New("disk full"), ErrUnknown},
		{"already classified", NewError(ErrValidation, "bad input"), ErrValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := classify(tt.err, "US")
			assert.Equal(t, tt.want, got.Type)
			assert.ErrorIs(t, got, tt.err)
		})
	}

	got := classify(apiErr, "US")
	assert.Equal(t, "invalid api key", got.Message)
	assert.Equal(t, "US", got.Context["country"])
	assert.Contains(t, got.Advice(), "API key")
}

func TestAdvice(t *testing.T) {
	for _, typ := range []ErrorType{ErrProvider, ErrStructuredOutput, ErrCancelled, ErrAllTargetsFailed, ErrValidation, ErrConfig, ErrUnknown} {
		assert.NotEmpty(t, NewError(typ, "x").Advice(), typ.String())
	}
}

func TestFailureHint(t *testing.T) {
	assert.Contains(t, failureHint(&llm.APIError{Category: llm.CategoryTimeout, Message: "slow"}), "timed out")
	assert.Contains(t, failureHint(errors.New("429 rate limited")), "rate limit")
	assert.Contains(t, failureHint(errors.New("maximum context length exceeded")), "context window")
	assert.Empty(t, failureHint(errors.New("boom")))
}

func TestRunGuard_SupersedesPreviousRun(t *testing.T) {
	g := NewRunGuard()
	assert.False(t, g.Active())

	first, releaseFirst := g.Acquire(context.Background())
	assert.True(t, g.Active())

	second, releaseSecond := g.Acquire(context.Background())
	require.Error(t, first.Err())
	assert.ErrorIs(t, context.Cause(first), ErrSuperseded)
	assert.ErrorIs(t, context.Cause(first), context.Canceled)
	assert.NoError(t, second.Err())

	// The superseded run ending must not release the new one
	releaseFirst()
	assert.True(t, g.Active())
	assert.NoError(t, second.Err())

	releaseSecond()
	assert.False(t, g.Active())
	assert.Error(t, second.Err())
}

func TestRunGuard_Stop(t *testing.T) {
	g := NewRunGuard()
	assert.False(t, g.Stop())

	ctx, release := g.Acquire(context.Background())
	defer release()

	assert.True(t, g.Stop())
	assert.ErrorIs(t, context.Cause(ctx), ErrStopped)
	assert.False(t, g.Active())
	assert.False(t, g.Stop())
}
