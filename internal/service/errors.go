package service

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/chenapple/thesaurus-management/internal/analysis"
	"github.com/chenapple/thesaurus-management/pkg/log"
)

type ErrorType int

const (
	ErrNotFound ErrorType = iota
	ErrValidation
	ErrInput
	ErrStorage
	ErrBusy
	ErrUnknown
)

type ServiceError struct {
	Type    ErrorType
	Message string
	Context map[string]any
	Cause   error
}

func NewError(errorType ErrorType, message string) *ServiceError {
	return &ServiceError{
		Type:    errorType,
		Message: message,
		Context: make(map[string]any),
	}
}

func NewErrorWithCause(errorType ErrorType, message string, cause error) *ServiceError {
	return &ServiceError{
		Type:    errorType,
		Message: message,
		Context: make(map[string]any),
		Cause:   cause,
	}
}

func (e *ServiceError) Error() string {
	var parts []string
	parts = append(parts, fmt.Sprintf("[%s] %s", e.Type.String(), e.Message))

	if len(e.Context) > 0 {
		keys := make([]string, 0, len(e.Context))
		for k := range e.Context {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		ctxParts := make([]string, 0, len(keys))
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

func (e *ServiceError) Unwrap() error {
	return e.Cause
}

func (e *ServiceError) WithContext(key string, value any) *ServiceError {
	e.Context[key] = value
	return e
}

func (t ErrorType) String() string {
	switch t {
	case ErrNotFound:
		return "NotFound"
	case ErrValidation:
		return "Validation"
	case ErrInput:
		return "Input"
	case ErrStorage:
		return "Storage"
	case ErrBusy:
		return "Busy"
	default:
		return "Unknown"
	}
}

type ErrorHandler interface {
	Handle(err error) bool
	GetAdvice(err error) string
}

type DefaultErrorHandler struct{}

func NewDefaultErrorHandler() ErrorHandler {
	return &DefaultErrorHandler{}
}

// Handle logs err with advice. It reports whether err was a known error type.
func (h *DefaultErrorHandler) Handle(err error) bool {
	if err == nil {
		return true
	}
	var svcErr *ServiceError
	var aErr *analysis.AnalysisError
	if !errors.As(err, &svcErr) && !errors.As(err, &aErr) {
		log.Error("Unknown Error: %v", err)
		return false
	}

	log.Error("Error Detail: %v\n advice: %s", err, h.GetAdvice(err))
	return true
}

// GetAdvice returns error handling advice
func (h *DefaultErrorHandler) GetAdvice(err error) string {
	var svcErr *ServiceError
	if errors.As(err, &svcErr) {
		switch svcErr.Type {
		case ErrNotFound:
			return "Please check the session id; sessions are removed after the retention period"
		case ErrValidation:
			return "Please verify the request parameters"
		case ErrInput:
			return "Please check that the terms file exists and is a JSON array or CSV export of search terms"
		case ErrStorage:
			return "Please check that the database path is writable and the disk is not full"
		case ErrBusy:
			return "Another analysis is running; stop it or wait for it to finish"
		}
	}
	var aErr *analysis.AnalysisError
	if errors.As(err, &aErr) {
		return aErr.Advice()
	}
	return "Please review detailed error information and check relevant configuration and files"
}

func IsErrorType(err error, errorType ErrorType) bool {
	var svcErr *ServiceError
	if errors.As(err, &svcErr) {
		return svcErr.Type == errorType
	}
	return false
}

func WrapError(err error, errorType ErrorType, message string) *ServiceError {
	return NewErrorWithCause(errorType, message, err)
}

func SafeExecute(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = NewError(ErrUnknown, fmt.Sprintf("runtime error: %v", r))
		}
	}()

	return fn()
}
