// Package index holds an ephemeral, in-memory cosine-similarity index over
// the chunk embeddings of a single document.
package index

import (
	"container/heap"
	"fmt"
	"math"

	"github.com/Adithya-Monish-Kumar-K/Document-QA-Platform/internal/provider"
	"github.com/Adithya-Monish-Kumar-K/Document-QA-Platform/internal/qa/chunker"
	apperrors "github.com/Adithya-Monish-Kumar-K/Document-QA-Platform/pkg/errors"
)

// DefaultK is used when Query is called with k <= 0.
const DefaultK = 7

// Result is one chunk returned by Query with its cosine similarity.
type Result struct {
	Chunk chunker.Chunk
	Score float64
}

// Index is immutable after Build and safe for concurrent Query calls.
type Index struct {
	chunks  []chunker.Chunk
	vectors [][]float64
	dim     int
}

// Build indexes chunks with their positionally aligned embeddings. Vectors
// are L2-normalized so that a query reduces to a dot product.
func Build(chunks []chunker.Chunk, embeddings []provider.Embedding) (*Index, error) {
	if len(chunks) != len(embeddings) {
		return nil, fmt.Errorf("%w: %d chunks but %d embeddings", apperrors.ErrDimensionMismatch, len(chunks), len(embeddings))
	}
	if len(chunks) == 0 {
		return nil, fmt.Errorf("%w: nothing to index", apperrors.ErrNoContent)
	}
	dim := len(embeddings[0])
	vectors := make([][]float64, len(embeddings))
	for i, e := range embeddings {
		if len(e) == 0 || len(e) != dim {
			return nil, fmt.Errorf("%w: embedding %d has dimension %d, want %d", apperrors.ErrDimensionMismatch, i, len(e), dim)
		}
		vectors[i] = normalize(e)
	}
	return &Index{
		chunks:  append([]chunker.Chunk(nil), chunks...),
		vectors: vectors,
		dim:     dim,
	}, nil
}

// Len returns the number of indexed chunks.
func (idx *Index) Len() int { return len(idx.chunks) }

// Dimension returns the embedding dimension of the index.
func (idx *Index) Dimension() int { return idx.dim }

// Query returns up to k chunks nearest to q, most similar first. Equal
// scores are ordered by lower chunk ID.
func (idx *Index) Query(q provider.Embedding, k int) ([]Result, error) {
	if len(q) != idx.dim {
		return nil, fmt.Errorf("%w: query has dimension %d, index has %d", apperrors.ErrDimensionMismatch, len(q), idx.dim)
	}
	if k <= 0 {
		k = DefaultK
	}
	qv := normalize(q)

	h := &resultHeap{}
	for i, v := range idx.vectors {
		heap.Push(h, Result{Chunk: idx.chunks[i], Score: dot(qv, v)})
		if h.Len() > k {
			heap.Pop(h)
		}
	}
	out := make([]Result, h.Len())
	for i := len(out) - 1; i >= 0; i-- {
		out[i] = heap.Pop(h).(Result)
	}
	return out, nil
}

func normalize(e provider.Embedding) []float64 {
	v := make([]float64, len(e))
	var norm float64
	for i, x := range e {
		v[i] = float64(x)
		norm += v[i] * v[i]
	}
	if norm == 0 {
		return v
	}
	inv := 1 / math.Sqrt(norm)
	for i := range v {
		v[i] *= inv
	}
	return v
}

func dot(a, b []float64) float64 {
	var s float64
	for i := range a {
		s += a[i] * b[i]
	}
	return s
}

// resultHeap is a min-heap on (Score, -ID): the root is the worst result
// kept so far.
type resultHeap []Result

func (h resultHeap) Len() int { return len(h) }

func (h resultHeap) Less(i, j int) bool {
	if h[i].Score != h[j].Score {
		return h[i].Score < h[j].Score
	}
	return h[i].Chunk.ID > h[j].Chunk.ID
}

func (h resultHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *resultHeap) Push(x any) {
	*h = append(*h, x.(Result))
}

func (h *resultHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
