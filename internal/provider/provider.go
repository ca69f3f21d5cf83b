// Package provider abstracts the embedding and text-generation backends the
// question-answering pipeline talks to, and selects one backend pair per
// request.
package provider

import "context"

// Embedding is a fixed-length vector representation of one text.
type Embedding []float32

// Embedder maps texts to embeddings. All embeddings produced by one Embedder
// have the same dimension.
type Embedder interface {
	// Embed embeds texts in one logical batch; the result is positionally
	// aligned with texts.
	Embed(ctx context.Context, texts []string) ([]Embedding, error)
	// EmbedOne embeds a single query string.
	EmbedOne(ctx context.Context, text string) (Embedding, error)
	// Name identifies the backend for logs and metrics.
	Name() string
}

// Generator produces a completion for a prompt.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
	Name() string
}

// Backend tags which backend a Selection resolved to.
type Backend string

const (
	// BackendPrimary is keyed by the caller-supplied credential.
	BackendPrimary Backend = "primary"
	// BackendDefault is keyed by the service's own credential.
	BackendDefault Backend = "default"
)

// Selection is the immutable backend choice for one request.
type Selection struct {
	Backend   Backend
	Embedder  Embedder
	Generator Generator
	// Reason explains why Backend was chosen (metric label friendly).
	Reason string
}
