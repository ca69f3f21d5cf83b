// Package pipeline orchestrates one question-answering request: chunking,
// backend selection, indexing and the concurrent per-question
// expand/retrieve/answer flow.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Adithya-Monish-Kumar-K/Document-QA-Platform/internal/document"
	"github.com/Adithya-Monish-Kumar-K/Document-QA-Platform/internal/provider"
	"github.com/Adithya-Monish-Kumar-K/Document-QA-Platform/internal/qa/answer"
	"github.com/Adithya-Monish-Kumar-K/Document-QA-Platform/internal/qa/cache"
	"github.com/Adithya-Monish-Kumar-K/Document-QA-Platform/internal/qa/chunker"
	"github.com/Adithya-Monish-Kumar-K/Document-QA-Platform/internal/qa/expander"
	"github.com/Adithya-Monish-Kumar-K/Document-QA-Platform/internal/qa/fuser"
	"github.com/Adithya-Monish-Kumar-K/Document-QA-Platform/internal/qa/index"
	"github.com/Adithya-Monish-Kumar-K/Document-QA-Platform/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/Document-QA-Platform/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Document-QA-Platform/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/Document-QA-Platform/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/Document-QA-Platform/pkg/tracing"
)

// ErrorAnswer replaces the answer of a question that failed under the
// isolate failure policy.
const ErrorAnswer = "An error occurred while answering this question."

// Question outcomes, used as metric labels.
const (
	OutcomeAnswered = "answered"
	OutcomeNotFound = "not_found"
	OutcomeFailed   = "failed"
)

// Selector resolves the backend pair for a request credential. Select may
// fall back to the service's own backend; SelectPrimary never does.
type Selector interface {
	Select(ctx context.Context, credential string) provider.Selection
	SelectPrimary(ctx context.Context, credential string) (provider.Selection, error)
}

// Fetcher loads the raw bytes of a document reference.
type Fetcher interface {
	Fetch(ctx context.Context, ref string) ([]byte, error)
}

// Request is a pipeline run over already extracted text. A non-nil
// Selection is used as is instead of resolving Credential.
type Request struct {
	Text       string
	Questions  []string
	Credential string
	Selection  *provider.Selection
}

// AnswerRecord is the outcome of one question.
type AnswerRecord struct {
	QuestionIndex int
	Question      string
	Answer        string
	Err           error
}

// Result holds the answers of a run in question order.
type Result struct {
	Answers []string
	Records []AnswerRecord
	Backend provider.Backend
	Reason  string
	Chunks  int
}

// Failed returns the number of questions answered with ErrorAnswer.
func (r *Result) Failed() int {
	n := 0
	for _, rec := range r.Records {
		if rec.Err != nil {
			n++
		}
	}
	return n
}

// NotFound returns the number of questions the document could not answer.
func (r *Result) NotFound() int {
	n := 0
	for _, rec := range r.Records {
		if rec.Err == nil && rec.Answer == answer.NotFoundAnswer {
			n++
		}
	}
	return n
}

// DocumentRequest is a full request naming a document by URL or path.
// RequirePrimary makes Credential the caller's proof of access: it must be
// accepted by the primary backend before any cached or computed answer is
// returned, and the request never falls back to the service's own backend.
type DocumentRequest struct {
	Document       string
	Questions      []string
	Credential     string
	RequirePrimary bool
}

// Response is the outcome of Answer. Result is nil when the answers came
// from the cache or from a concurrent identical request.
type Response struct {
	Answers  []string
	CacheHit bool
	Result   *Result
}

// Deps are the collaborators of a Pipeline. Cache and Metrics may be nil.
type Deps struct {
	Selector  Selector
	Fetcher   Fetcher
	Extractor document.Extractor
	Cache     *cache.AnswerCache
	Metrics   *metrics.Metrics
	Tracing   bool
}

// Pipeline answers questions about documents.
type Pipeline struct {
	cfg       config.PipelineConfig
	selector  Selector
	fetcher   Fetcher
	extractor document.Extractor
	cache     *cache.AnswerCache
	expander  *expander.Expander
	fuser     *fuser.Fuser
	answerer  *answer.Answerer
	metrics   *metrics.Metrics
	tracing   bool
	logger    *slog.Logger
}

// New creates a Pipeline.
func New(cfg config.PipelineConfig, deps Deps) *Pipeline {
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = 10
	}
	if cfg.FailurePolicy == "" {
		cfg.FailurePolicy = config.FailureIsolate
	}
	return &Pipeline{
		cfg:       cfg,
		selector:  deps.Selector,
		fetcher:   deps.Fetcher,
		extractor: deps.Extractor,
		cache:     deps.Cache,
		expander:  expander.New(cfg.MaxQueries, deps.Metrics),
		fuser:     fuser.New(cfg.MaxContextChars),
		answerer:  answer.New(deps.Metrics),
		metrics:   deps.Metrics,
		tracing:   deps.Tracing,
		logger:    slog.Default().With("component", "qa-pipeline"),
	}
}

// Answer fetches and extracts the document, runs the pipeline and caches
// the answers. Concurrent identical requests share one run, which outlives
// any single caller giving up; each caller still returns when its own ctx
// is done.
func (p *Pipeline) Answer(ctx context.Context, req DocumentRequest) (*Response, error) {
	if err := validateQuestions(req.Questions); err != nil {
		return nil, err
	}
	if strings.TrimSpace(req.Document) == "" {
		return nil, apperrors.New(apperrors.ErrInvalidInput, http.StatusBadRequest, "documents is required")
	}

	var selection *provider.Selection
	if req.RequirePrimary {
		sel, err := p.selector.SelectPrimary(ctx, req.Credential)
		if err != nil {
			return nil, p.contextOr(ctx, err)
		}
		selection = &sel
	}

	var result *Result
	answers, hit, err := p.cache.GetOrCompute(ctx, req.Document, req.Questions, func(ctx context.Context) ([]string, bool, error) {
		if p.cfg.RequestTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, p.cfg.RequestTimeout)
			defer cancel()
		}
		data, err := p.fetcher.Fetch(ctx, req.Document)
		if err != nil {
			return nil, false, p.contextOr(ctx, err)
		}
		text, err := p.extractor.Extract(data)
		if err != nil {
			return nil, false, err
		}
		res, err := p.Run(ctx, Request{Text: text, Questions: req.Questions, Credential: req.Credential, Selection: selection})
		if err != nil {
			return nil, false, err
		}
		result = res
		return res.Answers, res.Failed() == 0, nil
	})
	if err != nil {
		return nil, p.contextOr(ctx, err)
	}
	if hit {
		p.logger.Debug("answers served from cache", "questions", len(answers))
	}
	return &Response{Answers: answers, CacheHit: hit, Result: result}, nil
}

// Run answers req.Questions over req.Text. Answers are returned in question
// order. Cancellation or timeout of ctx fails the whole run with ErrTimeout.
func (p *Pipeline) Run(ctx context.Context, req Request) (*Result, error) {
	start := time.Now()
	res, err := p.run(ctx, req)
	status := "ok"
	if err != nil {
		status = apperrors.Kind(err)
	}
	p.metrics.ObserveRun(status, time.Since(start).Seconds())
	return res, err
}

func (p *Pipeline) run(ctx context.Context, req Request) (*Result, error) {
	if err := validateQuestions(req.Questions); err != nil {
		return nil, err
	}
	if p.cfg.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.RequestTimeout)
		defer cancel()
	}
	log := logger.FromContext(ctx).With("component", "qa-pipeline")

	if p.tracing {
		var root *tracing.Span
		ctx, root = tracing.StartSpan(ctx, "qa.run", logger.RequestID(ctx))
		root.SetAttr("questions", len(req.Questions))
		defer func() {
			root.End()
			root.Log(log)
		}()
	}

	_, span := tracing.StartChildSpan(ctx, "chunk")
	chunks, err := chunker.Split(req.Text, p.cfg.ChunkSize, p.cfg.ChunkOverlap)
	span.SetAttr("chunks", len(chunks))
	span.SetError(err)
	span.End()
	if err != nil {
		return nil, fmt.Errorf("chunking document: %w", err)
	}
	p.metrics.ObserveChunks(len(chunks))

	var sel provider.Selection
	sctx, span := tracing.StartChildSpan(ctx, "select")
	if req.Selection != nil {
		sel = *req.Selection
	} else {
		sel = p.selector.Select(sctx, req.Credential)
	}
	span.SetAttr("backend", string(sel.Backend))
	span.SetAttr("reason", sel.Reason)
	span.End()

	ectx, span := tracing.StartChildSpan(ctx, "embed")
	embeddings, err := sel.Embedder.Embed(ectx, chunker.Texts(chunks))
	span.SetError(err)
	span.End()
	if err != nil {
		return nil, p.contextOr(ctx, asEmbeddingError(err))
	}

	idx, err := index.Build(chunks, embeddings)
	if err != nil {
		return nil, fmt.Errorf("building index: %w", err)
	}
	log.Info("document indexed",
		"chunks", len(chunks),
		"backend", sel.Backend,
		"embedder", sel.Embedder.Name(),
	)

	records := make([]AnswerRecord, len(req.Questions))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.MaxConcurrency)
	for i, q := range req.Questions {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			rec := AnswerRecord{QuestionIndex: i, Question: q}
			if strings.TrimSpace(q) == "" {
				rec.Err = apperrors.New(apperrors.ErrInvalidInput, http.StatusBadRequest, "question is blank")
				rec.Answer = ErrorAnswer
				records[i] = rec
				p.metrics.ObserveQuestion(OutcomeFailed)
				return nil
			}

			rec.Answer, rec.Err = p.answerOne(gctx, sel, idx, i, q)
			if rec.Err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				if p.cfg.FailurePolicy == config.FailureAbort {
					return fmt.Errorf("question %d: %w", i, rec.Err)
				}
				log.Warn("question failed", "index", i, "error", rec.Err)
				rec.Answer = ErrorAnswer
				p.metrics.ObserveQuestion(OutcomeFailed)
			} else if rec.Answer == answer.NotFoundAnswer {
				p.metrics.ObserveQuestion(OutcomeNotFound)
			} else {
				p.metrics.ObserveQuestion(OutcomeAnswered)
			}
			records[i] = rec
			return nil
		})
	}
	waitErr := g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, timeoutError(err)
	}
	if waitErr != nil {
		return nil, waitErr
	}

	answers := make([]string, len(records))
	for i, rec := range records {
		answers[i] = rec.Answer
	}
	res := &Result{
		Answers: answers,
		Records: records,
		Backend: sel.Backend,
		Reason:  sel.Reason,
		Chunks:  len(chunks),
	}
	log.Info("questions answered",
		"questions", len(answers),
		"failed", res.Failed(),
		"not_found", res.NotFound(),
	)
	return res, nil
}

func (p *Pipeline) answerOne(ctx context.Context, sel provider.Selection, idx *index.Index, i int, question string) (string, error) {
	ctx, span := tracing.StartChildSpan(ctx, "question")
	span.SetAttr("index", i)
	defer span.End()

	queries := p.expander.Expand(ctx, sel.Generator, question)
	span.SetAttr("queries", len(queries))

	passages, err := p.fuser.Retrieve(ctx, queries, idx, sel.Embedder, p.cfg.TopK)
	if err != nil {
		span.SetError(err)
		return "", fmt.Errorf("retrieving passages: %w", err)
	}
	span.SetAttr("passages", len(passages))
	p.metrics.ObserveFused(len(passages))

	ans, err := p.answerer.Answer(ctx, sel.Generator, question, passages)
	span.SetError(err)
	return ans, err
}

// contextOr reports a done context as a timeout, otherwise err.
func (p *Pipeline) contextOr(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return timeoutError(ctxErr)
	}
	return err
}

func validateQuestions(questions []string) error {
	if len(questions) == 0 {
		return apperrors.New(apperrors.ErrInvalidInput, http.StatusBadRequest, "at least one question is required")
	}
	return nil
}

func timeoutError(err error) error {
	msg := "request timed out"
	if errors.Is(err, context.Canceled) {
		msg = "request was cancelled"
	}
	return apperrors.Wrap(apperrors.ErrTimeout, http.StatusGatewayTimeout, err, msg)
}

func asEmbeddingError(err error) error {
	if errors.Is(err, apperrors.ErrEmbeddingProvider) || errors.Is(err, apperrors.ErrDimensionMismatch) {
		return fmt.Errorf("embedding document: %w", err)
	}
	return apperrors.Wrap(apperrors.ErrEmbeddingProvider, http.StatusBadGateway, err, "embedding document")
}
