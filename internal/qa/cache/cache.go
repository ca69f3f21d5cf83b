package cache

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/Adithya-Monish-Kumar-K/Document-QA-Platform/pkg/metrics"
)

const keyPrefix = "qa:"

// AnswerCache caches answer lists and collapses concurrent identical
// requests into one computation. A nil *AnswerCache disables caching but
// still runs the computation.
type AnswerCache struct {
	store   Store
	ttl     time.Duration
	group   singleflight.Group
	metrics *metrics.Metrics
	logger  *slog.Logger
	hits    atomic.Int64
	misses  atomic.Int64
}

// New creates an AnswerCache over store with the given entry TTL.
func New(store Store, ttl time.Duration, m *metrics.Metrics) *AnswerCache {
	return &AnswerCache{
		store:   store,
		ttl:     ttl,
		metrics: m,
		logger:  slog.Default().With("component", "answer-cache"),
	}
}

type cachedAnswers struct {
	Answers  []string  `json:"answers"`
	StoredAt time.Time `json:"stored_at"`
}

// Get returns the cached answers for (document, questions). Store failures
// count as misses.
func (c *AnswerCache) Get(ctx context.Context, document string, questions []string) ([]string, bool) {
	if c == nil {
		return nil, false
	}
	key := BuildKey(document, questions)
	data, err := c.store.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, ErrMiss) {
			c.logger.Error("cache get failed", "key", key, "error", err)
		}
		c.miss()
		return nil, false
	}
	var entry cachedAnswers
	if err := json.Unmarshal(data, &entry); err != nil || len(entry.Answers) != len(questions) {
		c.logger.Error("cache entry unusable", "key", key, "error", err)
		c.miss()
		return nil, false
	}
	c.hits.Add(1)
	c.metrics.CacheResult(true)
	c.logger.Debug("cache hit", "key", key)
	return entry.Answers, true
}

// Set stores answers. Failures are logged and otherwise ignored.
func (c *AnswerCache) Set(ctx context.Context, document string, questions []string, answers []string) {
	if c == nil {
		return
	}
	key := BuildKey(document, questions)
	data, err := json.Marshal(cachedAnswers{Answers: answers, StoredAt: time.Now().UTC()})
	if err != nil {
		c.logger.Error("cache marshal failed", "key", key, "error", err)
		return
	}
	if err := c.store.Set(ctx, key, data, c.ttl); err != nil {
		c.logger.Error("cache set failed", "key", key, "error", err)
	}
}

// ComputeFunc produces the answers of a request and reports whether they
// may be cached.
type ComputeFunc func(ctx context.Context) (answers []string, cacheable bool, err error)

// GetOrCompute returns cached answers, or runs computeFn once for all
// concurrent callers asking the same (document, questions) and caches a
// cacheable result. The boolean reports a cache hit.
//
// The shared run keeps the values of the first caller's ctx but not its
// cancellation, so one caller going away does not fail the others; computeFn
// bounds its own run time. Every caller stops waiting when its own ctx is
// done and gets ctx.Err().
func (c *AnswerCache) GetOrCompute(
	ctx context.Context,
	document string,
	questions []string,
	computeFn ComputeFunc,
) ([]string, bool, error) {
	if c == nil {
		answers, _, err := computeFn(ctx)
		return answers, false, err
	}
	if answers, ok := c.Get(ctx, document, questions); ok {
		return answers, true, nil
	}
	key := BuildKey(document, questions)
	shared := context.WithoutCancel(ctx)
	ch := c.group.DoChan(key, func() (interface{}, error) {
		answers, cacheable, err := computeFn(shared)
		if err != nil {
			return nil, err
		}
		if cacheable {
			c.Set(shared, document, questions, answers)
		}
		return answers, nil
	})
	select {
	case <-ctx.Done():
		c.logger.Debug("caller left in-flight computation", "key", key, "error", ctx.Err())
		return nil, false, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, false, res.Err
		}
		if res.Shared {
			c.logger.Debug("joined in-flight computation", "key", key)
		}
		answers := res.Val.([]string)
		return append([]string(nil), answers...), false, nil
	}
}

// Invalidate removes every cached answer list.
func (c *AnswerCache) Invalidate(ctx context.Context) error {
	if c == nil {
		return nil
	}
	deleted, err := c.store.DeletePrefix(ctx, keyPrefix)
	if err != nil {
		return fmt.Errorf("invalidating cache: %w", err)
	}
	c.logger.Info("cache invalidate", "keys_deleted", deleted)
	return nil
}

// Stats returns the lookup counters since start-up.
func (c *AnswerCache) Stats() (hits, misses int64) {
	if c == nil {
		return 0, 0
	}
	return c.hits.Load(), c.misses.Load()
}

func (c *AnswerCache) miss() {
	c.misses.Add(1)
	c.metrics.CacheResult(false)
}

// BuildKey derives the cache key of a request. Questions are order
// sensitive since answers are positional. The caller's credential is not
// part of the key. Every field is length-prefixed so no two distinct
// requests share a key.
func BuildKey(document string, questions []string) string {
	h := sha256.New()
	var n [binary.MaxVarintLen64]byte
	field := func(s string) {
		h.Write(n[:binary.PutUvarint(n[:], uint64(len(s)))])
		h.Write([]byte(s))
	}
	field(strings.TrimSpace(document))
	h.Write(n[:binary.PutUvarint(n[:], uint64(len(questions)))])
	for _, q := range questions {
		field(strings.TrimSpace(q))
	}
	return fmt.Sprintf("%s%x", keyPrefix, h.Sum(nil)[:16])
}
