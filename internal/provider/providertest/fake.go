// Package providertest provides deterministic in-memory Embedder and
// Generator implementations for tests.
package providertest

import (
	"context"
	"errors"
	"hash/fnv"
	"math"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode"

	openai "github.com/sashabaranov/go-openai"

	"github.com/Adithya-Monish-Kumar-K/Document-QA-Platform/internal/provider"
)

// Dim is the dimension of HashEmbedder vectors.
const Dim = 64

// HashEmbedder embeds text as an L2-normalized bag of hashed lowercase words,
// so texts sharing words are similar.
type HashEmbedder struct {
	Label string
	// Err, when set, is returned by every call.
	Err error
	// FailOn makes EmbedOne fail for the listed texts.
	FailOn map[string]error

	calls atomic.Int64
}

func (e *HashEmbedder) Name() string {
	if e.Label == "" {
		return "hash"
	}
	return e.Label
}

// Calls returns the number of Embed/EmbedOne invocations.
func (e *HashEmbedder) Calls() int64 { return e.calls.Load() }

func (e *HashEmbedder) Embed(ctx context.Context, texts []string) ([]provider.Embedding, error) {
	e.calls.Add(1)
	if e.Err != nil {
		return nil, e.Err
	}
	out := make([]provider.Embedding, len(texts))
	for i, t := range texts {
		out[i] = HashVector(t)
	}
	return out, nil
}

func (e *HashEmbedder) EmbedOne(ctx context.Context, text string) (provider.Embedding, error) {
	e.calls.Add(1)
	if e.Err != nil {
		return nil, e.Err
	}
	if err, ok := e.FailOn[text]; ok {
		return nil, err
	}
	return HashVector(text), nil
}

// HashVector returns the HashEmbedder vector of text.
func HashVector(text string) provider.Embedding {
	v := make(provider.Embedding, Dim)
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, w := range words {
		h := fnv.New32a()
		h.Write([]byte(w))
		v[h.Sum32()%Dim]++
	}
	var norm float64
	for _, x := range v {
		norm += float64(x) * float64(x)
	}
	if norm > 0 {
		inv := float32(1 / math.Sqrt(norm))
		for i := range v {
			v[i] *= inv
		}
	}
	return v
}

// Generator is a scriptable Generator. Respond computes the reply; when nil
// the generator echoes a fixed answer. It tracks the peak number of
// concurrent calls.
type Generator struct {
	Label   string
	Respond func(ctx context.Context, prompt string) (string, error)
	// Delay is applied to every call (respecting ctx).
	Delay time.Duration

	mu       sync.Mutex
	inFlight int
	peak     int
	prompts  []string
}

func (g *Generator) Name() string {
	if g.Label == "" {
		return "scripted"
	}
	return g.Label
}

func (g *Generator) Generate(ctx context.Context, prompt string) (string, error) {
	g.mu.Lock()
	g.inFlight++
	if g.inFlight > g.peak {
		g.peak = g.inFlight
	}
	g.prompts = append(g.prompts, prompt)
	g.mu.Unlock()
	defer func() {
		g.mu.Lock()
		g.inFlight--
		g.mu.Unlock()
	}()

	if g.Delay > 0 {
		select {
		case <-time.After(g.Delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if g.Respond == nil {
		return "<final_answer>ok</final_answer>", nil
	}
	return g.Respond(ctx, prompt)
}

// Peak returns the highest number of simultaneous Generate calls observed.
func (g *Generator) Peak() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.peak
}

// Prompts returns a copy of every prompt received.
func (g *Generator) Prompts() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.prompts...)
}

// ErrUnavailable is a canned backend failure.
var ErrUnavailable = errors.New("backend unavailable")

// ErrUnauthorized is a canned backend rejection of the API key, shaped like
// the client library's error so provider.IsAuthError recognizes it.
var ErrUnauthorized error = &openai.APIError{HTTPStatusCode: 401, Message: "Incorrect API key provided"}
