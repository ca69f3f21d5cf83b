// Package errors defines the sentinel errors shared by the question-answering
// pipeline and maps them to HTTP status codes and machine-readable kinds.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrInvalidInput      = errors.New("invalid input")
	ErrNoContent         = errors.New("no content")
	ErrDimensionMismatch = errors.New("dimension mismatch")
	ErrEmbeddingProvider = errors.New("embedding provider error")
	ErrGeneration        = errors.New("generation error")
	ErrDocumentFetch     = errors.New("document fetch failed")
	ErrDocumentNotFound  = errors.New("document not found")
	ErrExtraction        = errors.New("text extraction failed")
	ErrRateLimited       = errors.New("rate limit exceeded")
	ErrUnauthorized      = errors.New("unauthorized")
	ErrInternal          = errors.New("internal error")
	ErrTimeout           = errors.New("operation timed out")
)

type AppError struct {
	Err        error
	Message    string
	StatusCode int
}

func (e *AppError) Error() string {
	return fmt.Sprintf("%s: %s", e.Err.Error(), e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func New(sentinel error, statusCode int, message string) *AppError {
	return &AppError{
		Err:        sentinel,
		Message:    message,
		StatusCode: statusCode,
	}
}

func Newf(sentinel error, statusCode int, format string, args ...any) *AppError {
	return &AppError{
		Err:        sentinel,
		Message:    fmt.Sprintf(format, args...),
		StatusCode: statusCode,
	}
}

// Wrap builds an AppError for sentinel whose message carries cause. The
// cause stays reachable through errors.Is / errors.As.
func Wrap(sentinel error, statusCode int, cause error, message string) *AppError {
	return &AppError{
		Err:        fmt.Errorf("%w: %w", sentinel, cause),
		Message:    message,
		StatusCode: statusCode,
	}
}

func HTTPStatusCode(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.StatusCode
	}

	switch {
	case errors.Is(err, ErrInvalidInput),
		errors.Is(err, ErrNoContent),
		errors.Is(err, ErrDocumentFetch),
		errors.Is(err, ErrDocumentNotFound),
		errors.Is(err, ErrExtraction):
		return http.StatusBadRequest
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, ErrEmbeddingProvider), errors.Is(err, ErrGeneration):
		return http.StatusBadGateway
	case errors.Is(err, ErrTimeout):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// Kind returns the machine-readable error kind reported to API clients.
func Kind(err error) string {
	switch {
	case errors.Is(err, ErrNoContent):
		return "no_content"
	case errors.Is(err, ErrInvalidInput):
		return "invalid_input"
	case errors.Is(err, ErrDimensionMismatch):
		return "dimension_mismatch"
	case errors.Is(err, ErrEmbeddingProvider):
		return "embedding_provider"
	case errors.Is(err, ErrGeneration):
		return "generation"
	case errors.Is(err, ErrDocumentNotFound):
		return "document_not_found"
	case errors.Is(err, ErrDocumentFetch):
		return "document_fetch"
	case errors.Is(err, ErrExtraction):
		return "extraction"
	case errors.Is(err, ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	default:
		return "internal"
	}
}

// IsClientError reports whether err is caused by the caller's input rather
// than an internal or backend fault.
func IsClientError(err error) bool {
	code := HTTPStatusCode(err)
	return code >= 400 && code < 500
}
