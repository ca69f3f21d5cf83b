// Package handler serves the question-answering HTTP API.
package handler

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Document-QA-Platform/internal/analytics"
	gwmw "github.com/Adithya-Monish-Kumar-K/Document-QA-Platform/internal/gateway/middleware"
	"github.com/Adithya-Monish-Kumar-K/Document-QA-Platform/internal/qa/cache"
	"github.com/Adithya-Monish-Kumar-K/Document-QA-Platform/internal/qa/pipeline"
	apperrors "github.com/Adithya-Monish-Kumar-K/Document-QA-Platform/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Document-QA-Platform/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/Document-QA-Platform/pkg/middleware"
)

const (
	defaultMaxQuestions = 100
	maxBodyBytes        = 1 << 20
)

// Answerer runs the question-answering pipeline.
type Answerer interface {
	Answer(ctx context.Context, req pipeline.DocumentRequest) (*pipeline.Response, error)
}

// RunRequest is the body of a run request.
type RunRequest struct {
	Documents string   `json:"documents"`
	Questions []string `json:"questions"`
}

// RunResponse holds one answer per question, in question order.
type RunResponse struct {
	Answers []string `json:"answers"`
}

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Kind   string `json:"kind"`
	Detail string `json:"detail"`
}

// Handler serves the run, root and cache endpoints. Every run request is
// reported to the analytics collector, successful or not.
type Handler struct {
	answerer     Answerer
	cache        *cache.AnswerCache
	collector    *analytics.Collector
	maxQuestions int
	logger       *slog.Logger
}

// New creates a Handler. cache and collector may be nil.
func New(answerer Answerer, answerCache *cache.AnswerCache, collector *analytics.Collector, maxQuestions int) *Handler {
	if maxQuestions <= 0 {
		maxQuestions = defaultMaxQuestions
	}
	return &Handler{
		answerer:     answerer,
		cache:        answerCache,
		collector:    collector,
		maxQuestions: maxQuestions,
		logger:       slog.Default().With("component", "qa-handler"),
	}
}

// Run answers the questions of a RunRequest about its document.
func (h *Handler) Run(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	log := logger.FromContext(ctx)

	req, err := decodeRunRequest(w, r, h.maxQuestions)
	if err != nil {
		h.writeError(w, err)
		return
	}

	resp, err := h.answerer.Answer(ctx, pipeline.DocumentRequest{
		Document:       req.Documents,
		Questions:      req.Questions,
		Credential:     gwmw.CredentialFrom(ctx),
		RequirePrimary: gwmw.ProviderKeyPending(ctx),
	})
	latencyMs := time.Since(start).Milliseconds()
	event := analytics.QAEvent{
		RequestID:    middleware.GetRequestID(ctx),
		DocumentHash: documentHash(req.Documents),
		Questions:    len(req.Questions),
		LatencyMs:    latencyMs,
		Timestamp:    time.Now().UTC(),
	}

	if err != nil {
		if apperrors.IsClientError(err) {
			log.Warn("request rejected", "kind", apperrors.Kind(err), "error", err)
		} else {
			log.Error("question answering failed", "kind", apperrors.Kind(err), "error", err)
		}
		event.Type = analytics.EventFailed
		event.ErrorKind = apperrors.Kind(err)
		h.collector.Track(event)
		h.writeError(w, err)
		return
	}

	event.Type = analytics.EventAnswered
	event.CacheHit = resp.CacheHit
	if resp.CacheHit {
		event.Type = analytics.EventCacheHit
	}
	if res := resp.Result; res != nil {
		event.Failed = res.Failed()
		event.NotFound = res.NotFound()
		event.Backend = string(res.Backend)
		event.Reason = res.Reason
		event.Chunks = res.Chunks
	}
	h.collector.Track(event)

	log.Info("questions answered",
		"questions", len(req.Questions),
		"failed", event.Failed,
		"backend", event.Backend,
		"cache_hit", resp.CacheHit,
		"latency_ms", latencyMs,
	)
	h.writeJSON(w, http.StatusOK, RunResponse{Answers: resp.Answers})
}

func decodeRunRequest(w http.ResponseWriter, r *http.Request, maxQuestions int) (*RunRequest, error) {
	var req RunRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, apperrors.Newf(apperrors.ErrInvalidInput, http.StatusRequestEntityTooLarge, "request body exceeds %d bytes", tooLarge.Limit)
		}
		return nil, apperrors.Wrap(apperrors.ErrInvalidInput, http.StatusBadRequest, err, "request body must be JSON with documents and questions")
	}
	if strings.TrimSpace(req.Documents) == "" {
		return nil, apperrors.New(apperrors.ErrInvalidInput, http.StatusBadRequest, "documents is required")
	}
	if len(req.Questions) == 0 {
		return nil, apperrors.New(apperrors.ErrInvalidInput, http.StatusBadRequest, "at least one question is required")
	}
	if len(req.Questions) > maxQuestions {
		return nil, apperrors.Newf(apperrors.ErrInvalidInput, http.StatusBadRequest, "at most %d questions are allowed, got %d", maxQuestions, len(req.Questions))
	}
	return &req, nil
}

// Root reports that the API is up.
func (h *Handler) Root(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "API is running"})
}

// CacheStats reports the answer cache hit and miss counters since start-up,
// or {"status":"disabled"} when caching is off.
func (h *Handler) CacheStats(w http.ResponseWriter, r *http.Request) {
	if h.cache == nil {
		h.writeJSON(w, http.StatusOK, map[string]string{"status": "disabled"})
		return
	}

	hits, misses := h.cache.Stats()
	total := hits + misses
	var hitRate float64
	if total > 0 {
		hitRate = float64(hits) / float64(total) * 100
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"hits":     hits,
		"misses":   misses,
		"total":    total,
		"hit_rate": fmt.Sprintf("%.1f%%", hitRate),
	})
}

// CacheInvalidate drops every cached answer list. It answers 503 when
// caching is off.
func (h *Handler) CacheInvalidate(w http.ResponseWriter, r *http.Request) {
	if h.cache == nil {
		h.writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: errorDetail{Kind: "unavailable", Detail: "caching is disabled"}})
		return
	}

	if err := h.cache.Invalidate(r.Context()); err != nil {
		h.logger.Error("cache invalidation failed", "error", err)
		h.writeError(w, apperrors.Wrap(apperrors.ErrInternal, http.StatusInternalServerError, err, "cache invalidation failed"))
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]string{"status": "invalidated"})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to write response", "error", err)
	}
}

// writeError reports err with its status and kind. Internal failures get a
// generic detail so backend messages are not leaked.
func (h *Handler) writeError(w http.ResponseWriter, err error) {
	status := apperrors.HTTPStatusCode(err)
	detail := "internal error"
	var appErr *apperrors.AppError
	if status < http.StatusInternalServerError || errors.As(err, &appErr) {
		detail = errorMessage(err)
	}
	h.writeJSON(w, status, errorBody{Error: errorDetail{Kind: apperrors.Kind(err), Detail: detail}})
}

func errorMessage(err error) string {
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) && appErr.Message != "" {
		return appErr.Message
	}
	return err.Error()
}

func documentHash(document string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(document)))
	return hex.EncodeToString(sum[:8])
}
