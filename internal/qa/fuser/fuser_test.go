package fuser

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/Adithya-Monish-Kumar-K/Document-QA-Platform/internal/provider/providertest"
	"github.com/Adithya-Monish-Kumar-K/Document-QA-Platform/internal/qa/chunker"
	"github.com/Adithya-Monish-Kumar-K/Document-QA-Platform/internal/qa/index"
)

var corpus = []string{
	"the grace period for premium payment is thirty days",
	"maternity expenses are covered after two years",
	"cataract surgery has a waiting period of two years",
	"organ donor expenses are covered for harvesting",
	"no claim discount of five percent on renewal",
}

func buildIndex(t *testing.T) (*index.Index, *providertest.HashEmbedder) {
	t.Helper()
	emb := &providertest.HashEmbedder{}
	chunks := make([]chunker.Chunk, len(corpus))
	for i, text := range corpus {
		chunks[i] = chunker.Chunk{ID: i, Text: text}
	}
	vecs, err := emb.Embed(context.Background(), corpus)
	if err != nil {
		t.Fatal(err)
	}
	idx, err := index.Build(chunks, vecs)
	if err != nil {
		t.Fatal(err)
	}
	return idx, emb
}

func TestRetrieveDedupesByBestRank(t *testing.T) {
	idx, emb := buildIndex(t)
	queries := []string{"grace period premium", "waiting period cataract", "grace period premium payment"}

	got, err := New(0).Retrieve(context.Background(), queries, idx, emb, 2)
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}

	seen := map[int]bool{}
	for i, p := range got {
		if seen[p.Chunk.ID] {
			t.Errorf("chunk %d returned twice", p.Chunk.ID)
		}
		seen[p.Chunk.ID] = true
		if i > 0 {
			prev := got[i-1]
			if prev.Rank > p.Rank || (prev.Rank == p.Rank && prev.Chunk.ID > p.Chunk.ID) {
				t.Errorf("passages out of order at %d: %+v then %+v", i, prev, p)
			}
		}
	}
	if got[0].Rank != 0 || got[0].Chunk.ID != 0 {
		t.Errorf("first passage = chunk %d rank %d, want chunk 0 rank 0", got[0].Chunk.ID, got[0].Rank)
	}
	if !seen[2] {
		t.Error("cataract passage missing from fused context")
	}
}

func TestRetrieveDeterministic(t *testing.T) {
	idx, emb := buildIndex(t)
	queries := []string{"expenses covered", "two years", "discount renewal"}
	f := New(0)

	first, _ := f.Retrieve(context.Background(), queries, idx, emb, 3)
	for i := 0; i < 5; i++ {
		again, _ := f.Retrieve(context.Background(), queries, idx, emb, 3)
		if len(again) != len(first) {
			t.Fatalf("run %d: %d passages, want %d", i, len(again), len(first))
		}
		for j := range again {
			if again[j].Chunk.ID != first[j].Chunk.ID {
				t.Fatalf("run %d: order differs at %d", i, j)
			}
		}
	}
}

func TestRetrieveContextBudget(t *testing.T) {
	idx, emb := buildIndex(t)
	queries := []string{"period", "expenses", "discount"}

	got, err := New(60).Retrieve(context.Background(), queries, idx, emb, 5)
	if err != nil {
		t.Fatal(err)
	}
	total := 0
	for _, p := range got {
		total += p.Chunk.Len()
	}
	if len(got) == 0 || (len(got) > 1 && total > 60) {
		t.Errorf("budget not honoured: %d passages, %d chars", len(got), total)
	}

	got, _ = New(1).Retrieve(context.Background(), queries, idx, emb, 5)
	if len(got) != 1 {
		t.Errorf("tiny budget kept %d passages, want exactly 1", len(got))
	}
}

func TestRetrieveSkipsFailedAlternative(t *testing.T) {
	idx, _ := buildIndex(t)
	emb := &providertest.HashEmbedder{FailOn: map[string]error{"broken": providertest.ErrUnavailable}}

	got, err := New(0).Retrieve(context.Background(), []string{"grace period", "broken"}, idx, emb, 2)
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	for _, p := range got {
		if p.Query == "broken" {
			t.Error("passage attributed to a failed query")
		}
	}
}

func TestRetrieveFailsOnOriginal(t *testing.T) {
	idx, _ := buildIndex(t)
	emb := &providertest.HashEmbedder{FailOn: map[string]error{"grace period": providertest.ErrUnavailable}}

	_, err := New(0).Retrieve(context.Background(), []string{"grace period", "other"}, idx, emb, 2)
	if !errors.Is(err, providertest.ErrUnavailable) {
		t.Errorf("err = %v, want wrapped ErrUnavailable", err)
	}
}

func TestRetrieveAttributesQuery(t *testing.T) {
	idx, emb := buildIndex(t)
	got, _ := New(0).Retrieve(context.Background(), []string{"zzz", "organ donor harvesting"}, idx, emb, 1)
	var found bool
	for _, p := range got {
		if p.Chunk.ID == 3 {
			found = true
			if !strings.Contains(p.Query, "organ") {
				t.Errorf("chunk 3 attributed to %q", p.Query)
			}
		}
	}
	if !found {
		t.Error("organ donor passage not retrieved")
	}
}
