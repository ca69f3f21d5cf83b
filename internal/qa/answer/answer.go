// Package answer builds the grounded answering prompt and extracts the final
// answer from the model's structured response.
package answer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/Document-QA-Platform/internal/provider"
	"github.com/Adithya-Monish-Kumar-K/Document-QA-Platform/internal/qa/fuser"
	apperrors "github.com/Adithya-Monish-Kumar-K/Document-QA-Platform/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Document-QA-Platform/pkg/metrics"
)

// NotFoundAnswer is returned when the context does not contain the answer.
const NotFoundAnswer = "I could not find the answer to that question in the document."

const promptTemplate = `You are an expert assistant who makes complicated documents easy to understand.
Answer the question using only the context below.

First think step by step inside <reasoning></reasoning> tags:
1. Identify the key entities and concepts in the question.
2. Locate the parts of the context that are directly relevant to them.
3. Combine the relevant information into one answer.

Then give the final answer inside <final_answer></final_answer> tags, following these rules:
- Answer the question directly without adding extra information.
- Keep the answer as short as possible and in simple English.
- If the answer is not in the context, reply exactly: "%s"

---
CONTEXT:
%s
---

QUESTION:
%s`

var (
	reasoningBlock   = regexp.MustCompile(`(?is)<reasoning>(.*?)(?:</reasoning>|$)`)
	finalAnswerOpen  = regexp.MustCompile(`(?i)<final_answer>`)
	finalAnswerClose = regexp.MustCompile(`(?i)</final_answer>`)
	finalAnswerLabel = regexp.MustCompile(`(?i)final answer(?: in simple english)?\s*:`)
)

// Response is a parsed model reply.
type Response struct {
	Reasoning   string
	FinalAnswer string
}

// ParseResponse extracts the final answer from raw. It prefers the last
// <final_answer> block (the closing tag may be missing at the end), then
// the text after a "FINAL ANSWER:" label, then the whole reply with the
// reasoning removed. Empty or not-found replies yield NotFoundAnswer.
func ParseResponse(raw string) Response {
	var resp Response
	if m := reasoningBlock.FindStringSubmatch(raw); m != nil {
		resp.Reasoning = strings.TrimSpace(m[1])
	}

	var final string
	if locs := finalAnswerOpen.FindAllStringIndex(raw, -1); len(locs) > 0 {
		final = raw[locs[len(locs)-1][1]:]
		if loc := finalAnswerClose.FindStringIndex(final); loc != nil {
			final = final[:loc[0]]
		}
	} else if locs := finalAnswerLabel.FindAllStringIndex(raw, -1); len(locs) > 0 {
		final = raw[locs[len(locs)-1][1]:]
	} else {
		final = reasoningBlock.ReplaceAllString(raw, "")
	}

	final = strings.TrimSpace(final)
	switch {
	case final == "":
		final = NotFoundAnswer
	case strings.Contains(strings.ToLower(final), strings.ToLower(NotFoundAnswer)):
		final = NotFoundAnswer
	}
	resp.FinalAnswer = final
	return resp
}

// BuildPrompt renders the answering prompt for question over passages, in
// the order given.
func BuildPrompt(question string, passages []fuser.Passage) string {
	var b strings.Builder
	for i, p := range passages {
		if i > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(p.Chunk.Text)
	}
	return fmt.Sprintf(promptTemplate, NotFoundAnswer, b.String(), question)
}

// Answerer produces grounded answers.
type Answerer struct {
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// New creates an Answerer.
func New(m *metrics.Metrics) *Answerer {
	return &Answerer{
		metrics: m,
		logger:  slog.Default().With("component", "answer-generator"),
	}
}

// Answer asks gen to answer question from passages. With no passages the
// model is not called and NotFoundAnswer is returned.
func (a *Answerer) Answer(ctx context.Context, gen provider.Generator, question string, passages []fuser.Passage) (string, error) {
	if len(passages) == 0 {
		return NotFoundAnswer, nil
	}
	done := a.metrics.TrackGeneration("answer")
	raw, err := gen.Generate(ctx, BuildPrompt(question, passages))
	done()
	if err != nil {
		if errors.Is(err, apperrors.ErrGeneration) {
			return "", fmt.Errorf("answering question: %w", err)
		}
		return "", apperrors.Wrap(apperrors.ErrGeneration, http.StatusBadGateway, err, "answering question")
	}
	resp := ParseResponse(raw)
	a.logger.Debug("answer generated",
		"generator", gen.Name(),
		"passages", len(passages),
		"reasoning_chars", len(resp.Reasoning),
	)
	return resp.FinalAnswer, nil
}
