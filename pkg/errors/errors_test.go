package errors

import (
	"context"
	"fmt"
	"net/http"
	"testing"
)

func TestHTTPStatusCodeAndKind(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		kind   string
	}{
		{"invalid input", ErrInvalidInput, http.StatusBadRequest, "invalid_input"},
		{"no content wrapped", fmt.Errorf("chunking: %w", ErrNoContent), http.StatusBadRequest, "no_content"},
		{"not found", ErrDocumentNotFound, http.StatusBadRequest, "document_not_found"},
		{"extraction", ErrExtraction, http.StatusBadRequest, "extraction"},
		{"embedding", ErrEmbeddingProvider, http.StatusBadGateway, "embedding_provider"},
		{"generation", ErrGeneration, http.StatusBadGateway, "generation"},
		{"timeout", ErrTimeout, http.StatusGatewayTimeout, "timeout"},
		{"unknown", context.Canceled, http.StatusInternalServerError, "internal"},
		{"app error overrides", New(ErrGeneration, http.StatusServiceUnavailable, "down"), http.StatusServiceUnavailable, "generation"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := HTTPStatusCode(tt.err); got != tt.status {
				t.Errorf("HTTPStatusCode = %d, want %d", got, tt.status)
			}
			if got := Kind(tt.err); got != tt.kind {
				t.Errorf("Kind = %q, want %q", got, tt.kind)
			}
		})
	}
}

func TestWrapKeepsCause(t *testing.T) {
	cause := fmt.Errorf("connection refused")
	err := Wrap(ErrEmbeddingProvider, http.StatusBadGateway, cause, "embedding batch failed")
	if Kind(err) != "embedding_provider" {
		t.Fatal("expected wrapped sentinel to be reachable")
	}
	if IsClientError(err) {
		t.Error("backend failures must not be classified as client errors")
	}
}
