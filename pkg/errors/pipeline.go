package errors

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrorCode represents a classified analysis stage failure.
type ErrorCode string

const (
	ErrTimeout          ErrorCode = "timeout"
	ErrRateLimit        ErrorCode = "rate_limit"
	ErrModelUnavailable ErrorCode = "model_unavailable"
	ErrContextCancelled ErrorCode = "context_cancelled"
	ErrParseError       ErrorCode = "parse_error"
	ErrEmptyContent     ErrorCode = "empty_content"
	ErrNotConfigured    ErrorCode = "not_configured"
	ErrProcessingError  ErrorCode = "processing_error"
)

// PipelineError is a structured error for a failed analysis stage.
type PipelineError struct {
	Code     ErrorCode
	Stage    string
	Message  string
	Duration time.Duration
	Timeout  time.Duration
	Cause    error
}

func (e *PipelineError) Error() string {
	if e.Timeout > 0 && e.Duration > 0 {
		return fmt.Sprintf("%s: %s timed out after %s (limit: %s)", e.Code, e.Stage, e.Duration.Truncate(time.Second), e.Timeout.Truncate(time.Second))
	}
	if e.Stage != "" {
		return fmt.Sprintf("%s: %s: %s", e.Code, e.Stage, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *PipelineError) Unwrap() error {
	return e.Cause
}

// ClassifyError inspects an error and returns a *PipelineError with the appropriate code.
// Sentinels from this package are matched first, then context errors, then
// message patterns. Anything else is ErrProcessingError.
func ClassifyError(err error, stage string) *PipelineError {
	if err == nil {
		return nil
	}

	pe := &PipelineError{
		Stage:   stage,
		Cause:   err,
		Message: err.Error(),
	}

	switch {
	case errors.Is(err, ErrAIUnavailable):
		pe.Code = ErrNotConfigured
		return pe
	case errors.Is(err, ErrUpstreamRateLimited):
		pe.Code = ErrRateLimit
		return pe
	case errors.Is(err, ErrInvalidAIResponse):
		pe.Code = ErrParseError
		return pe
	case errors.Is(err, context.DeadlineExceeded):
		pe.Code = ErrTimeout
		pe.Message = "operation timed out"
		return pe
	case errors.Is(err, context.Canceled):
		pe.Code = ErrContextCancelled
		pe.Message = "operation cancelled"
		return pe
	}

	lower := strings.ToLower(pe.Message)

	if strings.Contains(lower, "empty content") || strings.Contains(lower, "content is empty") || strings.Contains(lower, "no content") {
		pe.Code = ErrEmptyContent
		return pe
	}

	if IsRateLimitMessage(lower) {
		pe.Code = ErrRateLimit
		return pe
	}

	if strings.Contains(lower, "connection refused") || strings.Contains(lower, "unavailable") || strings.Contains(lower, "503") || strings.Contains(lower, "no such host") {
		pe.Code = ErrModelUnavailable
		return pe
	}

	pe.Code = ErrProcessingError
	return pe
}

// IsRateLimitMessage reports whether an upstream error message reads like a
// rate limit or exhausted quota.
func IsRateLimitMessage(msg string) bool {
	lower := strings.ToLower(msg)
	return strings.Contains(lower, "rate limit") ||
		strings.Contains(lower, "429") ||
		strings.Contains(lower, "too many requests") ||
		strings.Contains(lower, "quota exceeded") ||
		strings.Contains(lower, "resource_exhausted")
}

// IsTimeout returns true if the error is a timeout error.
func IsTimeout(err error) bool {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Code == ErrTimeout
	}
	return false
}

// IsErrorRetryable returns true if the error is likely transient and worth retrying.
func IsErrorRetryable(err error) bool {
	var pe *PipelineError
	if errors.As(err, &pe) {
		if info, ok := ErrorCodeRegistry[pe.Code]; ok {
			return info.Retryable
		}
		return false
	}
	return false
}
