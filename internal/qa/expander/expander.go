// Package expander widens retrieval recall by asking the language model for
// alternative phrasings of a question.
package expander

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/Document-QA-Platform/internal/provider"
	"github.com/Adithya-Monish-Kumar-K/Document-QA-Platform/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/Document-QA-Platform/pkg/metrics"
)

// DefaultMaxQueries bounds the expanded set, original question included.
const DefaultMaxQueries = 4

const promptTemplate = `You help search a document. Rewrite the question below into %d alternative search queries that could find the passages answering it.
Use different wording, synonyms, or split it into simpler sub-questions.
Return one query per line with no numbering, no explanations and no blank lines.

Question: %s`

var listMarker = regexp.MustCompile(`^\s*(?:[-*•]+|\(?\d+[.):])\s*`)

// Expanded is an ordered set of retrieval queries. The first element is
// always the original question.
type Expanded []string

// Expander turns one question into 1..MaxQueries retrieval queries.
type Expander struct {
	maxQueries int
	metrics    *metrics.Metrics
	logger     *slog.Logger
}

// New creates an Expander. maxQueries <= 0 selects DefaultMaxQueries.
func New(maxQueries int, m *metrics.Metrics) *Expander {
	if maxQueries <= 0 {
		maxQueries = DefaultMaxQueries
	}
	return &Expander{
		maxQueries: maxQueries,
		metrics:    m,
		logger:     slog.Default().With("component", "query-expander"),
	}
}

// Expand asks gen for alternative queries. It never fails: on a generation
// error, or when only one query is allowed, it returns just the question.
func (e *Expander) Expand(ctx context.Context, gen provider.Generator, question string) Expanded {
	question = strings.TrimSpace(question)
	if e.maxQueries == 1 {
		return Expanded{question}
	}

	done := e.metrics.TrackGeneration("expand")
	raw, err := gen.Generate(ctx, fmt.Sprintf(promptTemplate, e.maxQueries-1, question))
	done()
	if err != nil {
		e.metrics.ExpansionFallback()
		logger.FromContext(ctx).Warn("query expansion failed, using original question",
			"component", "query-expander",
			"generator", gen.Name(),
			"error", err,
		)
		return Expanded{question}
	}

	out := Parse(raw, question, e.maxQueries)
	if len(out) == 1 {
		e.logger.Debug("expansion produced no alternatives", "question", question)
	}
	return out
}

// Parse splits a model response into queries: one per line, list markers
// and surrounding quotes stripped, blank and duplicate lines dropped
// (case-insensitively). The original question is placed first and the
// result holds at most max entries.
func Parse(raw, question string, max int) Expanded {
	if max <= 0 {
		max = DefaultMaxQueries
	}
	out := Expanded{question}
	seen := map[string]bool{strings.ToLower(question): true}
	for _, line := range strings.Split(raw, "\n") {
		if len(out) >= max {
			break
		}
		q := listMarker.ReplaceAllString(line, "")
		q = strings.Trim(strings.TrimSpace(q), "\"'`")
		q = strings.TrimSpace(q)
		if q == "" {
			continue
		}
		key := strings.ToLower(q)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, q)
	}
	return out
}
