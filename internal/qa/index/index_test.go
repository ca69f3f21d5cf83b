package index

import (
	"errors"
	"math"
	"math/rand"
	"sync"
	"testing"

	"github.com/Adithya-Monish-Kumar-K/Document-QA-Platform/internal/provider"
	"github.com/Adithya-Monish-Kumar-K/Document-QA-Platform/internal/qa/chunker"
	apperrors "github.com/Adithya-Monish-Kumar-K/Document-QA-Platform/pkg/errors"
)

func makeChunks(n int) []chunker.Chunk {
	out := make([]chunker.Chunk, n)
	for i := range out {
		out[i] = chunker.Chunk{ID: i, Text: "chunk", StartOffset: i * 10}
	}
	return out
}

func TestQueryNearestFirst(t *testing.T) {
	chunks := makeChunks(3)
	embs := []provider.Embedding{{1, 0}, {0, 1}, {1, 1}}
	idx, err := Build(chunks, embs)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	res, err := idx.Query(provider.Embedding{2, 0.1}, 3)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	want := []int{0, 2, 1}
	for i, r := range res {
		if r.Chunk.ID != want[i] {
			t.Errorf("result %d = chunk %d, want %d", i, r.Chunk.ID, want[i])
		}
	}
	if res[0].Score < res[1].Score || res[1].Score < res[2].Score {
		t.Errorf("scores not descending: %v", res)
	}
}

func TestQueryTiesByLowerID(t *testing.T) {
	chunks := makeChunks(5)
	embs := make([]provider.Embedding, 5)
	for i := range embs {
		embs[i] = provider.Embedding{1, 1}
	}
	idx, err := Build(chunks, embs)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	res, _ := idx.Query(provider.Embedding{1, 1}, 3)
	for i, r := range res {
		if r.Chunk.ID != i {
			t.Errorf("tie result %d = chunk %d, want %d", i, r.Chunk.ID, i)
		}
	}
}

func TestQueryCompleteness(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	const n = 12
	embs := make([]provider.Embedding, n)
	for i := range embs {
		embs[i] = provider.Embedding{rng.Float32(), rng.Float32(), rng.Float32()}
	}
	idx, err := Build(makeChunks(n), embs)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	for _, k := range []int{n, n + 5, 100} {
		res, err := idx.Query(provider.Embedding{0.3, 0.2, 0.9}, k)
		if err != nil {
			t.Fatalf("Query: %v", err)
		}
		if len(res) != n {
			t.Errorf("k=%d: got %d results, want all %d", k, len(res), n)
		}
		seen := map[int]bool{}
		for _, r := range res {
			seen[r.Chunk.ID] = true
		}
		if len(seen) != n {
			t.Errorf("k=%d: results not distinct", k)
		}
	}
}

func TestQueryDefaultK(t *testing.T) {
	embs := make([]provider.Embedding, 20)
	for i := range embs {
		embs[i] = provider.Embedding{float32(i + 1), 1}
	}
	idx, _ := Build(makeChunks(20), embs)
	res, _ := idx.Query(provider.Embedding{1, 0}, 0)
	if len(res) != DefaultK {
		t.Errorf("got %d results, want %d", len(res), DefaultK)
	}
}

func TestZeroVectorScoresZero(t *testing.T) {
	idx, err := Build(makeChunks(2), []provider.Embedding{{0, 0}, {1, 0}})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	res, _ := idx.Query(provider.Embedding{1, 0}, 2)
	if res[0].Chunk.ID != 1 || res[1].Score != 0 {
		t.Errorf("unexpected results %+v", res)
	}
	if math.IsNaN(res[1].Score) {
		t.Error("zero vector produced NaN")
	}
}

func TestBuildErrors(t *testing.T) {
	tests := []struct {
		name   string
		chunks []chunker.Chunk
		embs   []provider.Embedding
		want   error
	}{
		{"count mismatch", makeChunks(2), []provider.Embedding{{1}}, apperrors.ErrDimensionMismatch},
		{"dimension differs", makeChunks(2), []provider.Embedding{{1, 0}, {1}}, apperrors.ErrDimensionMismatch},
		{"empty embedding", makeChunks(1), []provider.Embedding{{}}, apperrors.ErrDimensionMismatch},
		{"no chunks", nil, nil, apperrors.ErrNoContent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Build(tt.chunks, tt.embs)
			if !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestQueryDimensionMismatch(t *testing.T) {
	idx, _ := Build(makeChunks(1), []provider.Embedding{{1, 0}})
	if _, err := idx.Query(provider.Embedding{1, 0, 0}, 1); !errors.Is(err, apperrors.ErrDimensionMismatch) {
		t.Errorf("err = %v, want ErrDimensionMismatch", err)
	}
}

func TestConcurrentQueries(t *testing.T) {
	embs := make([]provider.Embedding, 50)
	for i := range embs {
		embs[i] = provider.Embedding{float32(i), float32(50 - i)}
	}
	idx, _ := Build(makeChunks(50), embs)
	want, _ := idx.Query(provider.Embedding{1, 2}, 5)

	var wg sync.WaitGroup
	for g := 0; g < 16; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := idx.Query(provider.Embedding{1, 2}, 5)
			if err != nil {
				t.Error(err)
				return
			}
			for i := range got {
				if got[i].Chunk.ID != want[i].Chunk.ID {
					t.Errorf("concurrent query diverged at %d", i)
					return
				}
			}
		}()
	}
	wg.Wait()
}
