package models

import (
	"context"
	"errors"
	"time"
)

const (
	CodeEmptyInput    = "EMPTY_INPUT"
	CodeNoUsableInput = "NO_USABLE_INPUT"
	CodeInvalidInput  = "INVALID_INPUT"
	CodeDataQuality   = "DATA_QUALITY"
	CodeInvalidMetric = "INVALID_METRIC"
	CodeQueueFull     = "QUEUE_FULL"
	CodeTimeout       = "TIMEOUT"
	CodeNotFound      = "NOT_FOUND"
	CodeUnauthorized  = "UNAUTHORIZED"
	CodeRateLimited   = "RATE_LIMIT_EXCEEDED"
	CodeInternal      = "INTERNAL"
)

type APIResponse struct {
	Success bool          `json:"success"`
	Data    any           `json:"data"`
	Error   *APIError     `json:"error"`
	Meta    *ResponseMeta `json:"meta"`
}

type APIError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details"`
}

func (e *APIError) Error() string { return e.Code + ": " + e.Message }

type ResponseMeta struct {
	RequestID      string    `json:"request_id"`
	Timestamp      time.Time `json:"timestamp"`
	ProcessingTime float64   `json:"processing_time"`
	Version        string    `json:"version"`
}

// ErrorCode maps a pipeline error onto its public code.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrEmptyInput):
		return CodeEmptyInput
	case errors.Is(err, ErrNoUsableInput):
		var failures ModalityFailures
		if errors.As(err, &failures) && failures.TimedOut() {
			return CodeTimeout
		}
		return CodeNoUsableInput
	case errors.Is(err, context.DeadlineExceeded):
		return CodeTimeout
	case errors.Is(err, ErrDataQuality):
		return CodeDataQuality
	case errors.Is(err, ErrInvalidMetric):
		return CodeInvalidMetric
	case errors.Is(err, ErrQueueFull):
		return CodeQueueFull
	case errors.Is(err, ErrJobNotFound):
		return CodeNotFound
	default:
		return CodeInternal
	}
}

func NewAPIError(code, message string) *APIError {
	return &APIError{Code: code, Message: message, Details: map[string]any{}}
}
