package memory

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/haasonsaas/agentos/pkg/models"
)

func TestNormalize(t *testing.T) {
	cands := []candidate{
		{chunk: &models.Chunk{ID: "a"}, score: 2},
		{chunk: &models.Chunk{ID: "b"}, score: 6},
		{chunk: &models.Chunk{ID: "c"}, score: 4},
	}
	norm := normalize(cands)
	if norm["a"] != 0 || norm["b"] != 1 || norm["c"] != 0.5 {
		t.Errorf("unexpected normalization %v", norm)
	}

	// Identical scores normalize to 1 rather than dividing by zero.
	same := normalize([]candidate{
		{chunk: &models.Chunk{ID: "x"}, score: 3},
		{chunk: &models.Chunk{ID: "y"}, score: 3},
	})
	if same["x"] != 1 || same["y"] != 1 {
		t.Errorf("flat list should normalize to 1, got %v", same)
	}
}

func TestJaccard(t *testing.T) {
	if sim := jaccard("deploy the service", "deploy the service"); sim != 1 {
		t.Errorf("identical texts should score 1, got %v", sim)
	}
	if sim := jaccard("alpha beta", "gamma delta"); sim != 0 {
		t.Errorf("disjoint texts should score 0, got %v", sim)
	}
	sim := jaccard("alpha beta gamma", "beta gamma delta")
	if math.Abs(sim-0.5) > 1e-9 {
		t.Errorf("expected 0.5 overlap, got %v", sim)
	}
}

func TestCosine(t *testing.T) {
	if c := cosine([]float32{1, 0}, []float32{1, 0}); math.Abs(c-1) > 1e-9 {
		t.Errorf("parallel vectors should score 1, got %v", c)
	}
	if c := cosine([]float32{1, 0}, []float32{0, 1}); c != 0 {
		t.Errorf("orthogonal vectors should score 0, got %v", c)
	}
	if c := cosine([]float32{1, 0}, []float32{1}); c != 0 {
		t.Errorf("mismatched lengths should score 0, got %v", c)
	}
}

func TestMMRSelect_PenalizesDuplicates(t *testing.T) {
	cands := []candidate{
		{chunk: &models.Chunk{ID: "a", Content: "deploy service to production cluster"}, score: 1.0},
		{chunk: &models.Chunk{ID: "b", Content: "deploy service to production cluster"}, score: 0.95},
		{chunk: &models.Chunk{ID: "c", Content: "quarterly budget review notes"}, score: 0.5},
	}
	selected := mmrSelect(cands, 0.5, 2)
	if len(selected) != 2 {
		t.Fatalf("expected 2 selections, got %d", len(selected))
	}
	if selected[0].chunk.ID != "a" || selected[1].chunk.ID != "c" {
		t.Errorf("near-duplicate should be displaced by diverse result, got %s then %s",
			selected[0].chunk.ID, selected[1].chunk.ID)
	}
}

func TestSearch_HybridRanking(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	s.Upsert(ctx, []*models.Chunk{
		{
			AgentID:    "coder",
			Content:    "release checklist for the payment service",
			Importance: 0.9,
			Embedding:  []float32{1, 0, 0},
		},
		{
			AgentID:    "coder",
			Content:    "notes about office plants",
			Importance: 0.2,
			Embedding:  []float32{0, 1, 0},
		},
	})

	results, err := s.Search(ctx, SearchOptions{
		AgentID:   "coder",
		Query:     "payment release",
		Embedding: []float32{1, 0, 0},
		Limit:     2,
	})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(results) == 0 {
		t.Fatal("expected results")
	}
	if results[0].Chunk.Content != "release checklist for the payment service" {
		t.Errorf("unexpected top result %q", results[0].Chunk.Content)
	}
}

func TestSearch_BM25OnlyWithoutEmbedding(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	s.Upsert(ctx, []*models.Chunk{
		{AgentID: "coder", Content: "kubernetes upgrade plan"},
	})

	results, err := s.Search(ctx, SearchOptions{AgentID: "coder", Query: "kubernetes"})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
}

func TestSearch_FiltersApply(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	old := time.Now().UTC().Add(-90 * 24 * time.Hour)
	s.Upsert(ctx, []*models.Chunk{
		{AgentID: "coder", Content: "minor trivia about logging", Importance: 0.1},
		{AgentID: "coder", Content: "critical decision about logging", Importance: 0.9},
		{AgentID: "coder", Content: "ancient logging discussion", Importance: 0.9, CreatedAt: old},
	})

	results, err := s.Search(ctx, SearchOptions{
		AgentID:       "coder",
		Query:         "logging",
		MinImportance: 0.5,
		DateFrom:      time.Now().UTC().Add(-30 * 24 * time.Hour),
	})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 filtered result, got %d", len(results))
	}
	if results[0].Chunk.Content != "critical decision about logging" {
		t.Errorf("unexpected result %q", results[0].Chunk.Content)
	}
}

func TestSearch_TemporalDecayPrefersRecent(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	// Identical content pins the BM25 leg; only decay separates them.
	old := time.Now().UTC().Add(-120 * 24 * time.Hour)
	s.Upsert(ctx, []*models.Chunk{
		{AgentID: "coder", Content: "incident report database outage", CreatedAt: old},
		{AgentID: "coder", Content: "incident report database outage"},
	})

	results, err := s.Search(ctx, SearchOptions{AgentID: "coder", Query: "incident database outage", Limit: 2})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].Chunk.CreatedAt.Before(results[1].Chunk.CreatedAt) {
		t.Error("recent chunk should outrank the four-month-old one")
	}
}
