// Package fuser retrieves passages for every expanded query and merges them
// into one deduplicated, deterministically ordered context.
package fuser

import (
	"context"
	"fmt"
	"sort"

	"github.com/Adithya-Monish-Kumar-K/Document-QA-Platform/internal/provider"
	"github.com/Adithya-Monish-Kumar-K/Document-QA-Platform/internal/qa/chunker"
	"github.com/Adithya-Monish-Kumar-K/Document-QA-Platform/internal/qa/index"
	apperrors "github.com/Adithya-Monish-Kumar-K/Document-QA-Platform/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Document-QA-Platform/pkg/logger"
)

// DefaultMaxContextChars bounds the total text handed to the generator.
const DefaultMaxContextChars = 12000

// Passage is a retrieved chunk with the best rank it reached and the query
// that produced that rank.
type Passage struct {
	Chunk chunker.Chunk
	Query string
	Rank  int
	Score float64
}

// Fuser merges per-query retrieval results.
type Fuser struct {
	maxContextChars int
}

// New creates a Fuser. maxContextChars <= 0 selects DefaultMaxContextChars.
func New(maxContextChars int) *Fuser {
	if maxContextChars <= 0 {
		maxContextChars = DefaultMaxContextChars
	}
	return &Fuser{maxContextChars: maxContextChars}
}

// Retrieve embeds each query, takes its top k chunks from idx and fuses the
// results. A chunk keeps the lowest rank seen across queries; passages are
// ordered by that rank, ties by chunk ID, then trimmed to the context
// budget (the first passage is always kept).
//
// A failed embedding for an alternative query is skipped. Failure of the
// original query (queries[0]) fails the retrieval.
func (f *Fuser) Retrieve(ctx context.Context, queries []string, idx *index.Index, emb provider.Embedder, k int) ([]Passage, error) {
	if len(queries) == 0 {
		return nil, fmt.Errorf("%w: no queries to retrieve", apperrors.ErrInvalidInput)
	}
	log := logger.FromContext(ctx).With("component", "retrieval-fuser")

	best := make(map[int]Passage)
	for qi, q := range queries {
		vec, err := emb.EmbedOne(ctx, q)
		if err != nil {
			if qi == 0 || ctx.Err() != nil {
				return nil, fmt.Errorf("embedding query: %w", err)
			}
			log.Warn("skipping expanded query", "query", q, "error", err)
			continue
		}
		results, err := idx.Query(vec, k)
		if err != nil {
			return nil, fmt.Errorf("querying index: %w", err)
		}
		for rank, r := range results {
			p, ok := best[r.Chunk.ID]
			if ok && p.Rank <= rank {
				continue
			}
			best[r.Chunk.ID] = Passage{Chunk: r.Chunk, Query: q, Rank: rank, Score: r.Score}
		}
	}

	fused := make([]Passage, 0, len(best))
	for _, p := range best {
		fused = append(fused, p)
	}
	sort.Slice(fused, func(i, j int) bool {
		if fused[i].Rank != fused[j].Rank {
			return fused[i].Rank < fused[j].Rank
		}
		return fused[i].Chunk.ID < fused[j].Chunk.ID
	})
	return f.bound(fused), nil
}

func (f *Fuser) bound(passages []Passage) []Passage {
	total := 0
	for i, p := range passages {
		total += p.Chunk.Len()
		if i > 0 && total > f.maxContextChars {
			return passages[:i]
		}
	}
	return passages
}
