// Package chunker splits document text into fixed-size, overlapping
// character windows that serve as the unit of retrieval.
package chunker

import (
	"fmt"
	"strings"

	apperrors "github.com/Adithya-Monish-Kumar-K/Document-QA-Platform/pkg/errors"
)

// Chunk is a contiguous window of the source text. StartOffset and the
// window length are measured in characters (runes), not bytes.
type Chunk struct {
	ID          int    `json:"id"`
	Text        string `json:"text"`
	StartOffset int    `json:"start_offset"`
}

// Len returns the chunk length in characters.
func (c Chunk) Len() int {
	return len([]rune(c.Text))
}

// End returns the exclusive end offset of the chunk in the source text.
func (c Chunk) End() int {
	return c.StartOffset + c.Len()
}

// Split cuts text into chunks of exactly chunkSize characters, except the
// last which may be shorter. Consecutive chunks share overlap characters.
// Whitespace-only text yields ErrNoContent.
func Split(text string, chunkSize, overlap int) ([]Chunk, error) {
	if chunkSize <= 0 {
		return nil, fmt.Errorf("%w: chunk size must be positive, got %d", apperrors.ErrInvalidInput, chunkSize)
	}
	if overlap < 0 || overlap >= chunkSize {
		return nil, fmt.Errorf("%w: overlap %d must be in [0, %d)", apperrors.ErrInvalidInput, overlap, chunkSize)
	}
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("%w: document text is empty", apperrors.ErrNoContent)
	}

	runes := []rune(text)
	stride := chunkSize - overlap
	chunks := make([]Chunk, 0, len(runes)/stride+1)
	for start := 0; ; start += stride {
		end := start + chunkSize
		if end > len(runes) {
			end = len(runes)
		}
		chunks = append(chunks, Chunk{
			ID:          len(chunks),
			Text:        string(runes[start:end]),
			StartOffset: start,
		})
		if end == len(runes) {
			break
		}
	}
	if len(chunks) == 0 {
		return nil, fmt.Errorf("%w: no chunks produced", apperrors.ErrNoContent)
	}
	return chunks, nil
}

// Texts returns the chunk texts in order.
func Texts(chunks []Chunk) []string {
	out := make([]string, len(chunks))
	for i, c := range chunks {
		out[i] = c.Text
	}
	return out
}
