package memory

import (
	"context"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/haasonsaas/agentos/pkg/models"
)

// Search defaults.
const (
	defaultLimit        = 10
	defaultAlpha        = 0.7
	defaultBeta         = 0.3
	defaultHalfLifeDays = 30.0
	defaultLambda       = 0.7
	candidateFactor     = 4
)

// SearchOptions parameterize a hybrid search.
type SearchOptions struct {
	AgentID string
	Query   string

	// Embedding, when present, enables the vector leg of the search.
	Embedding []float32

	// Limit bounds the result count. <= 0 uses 10.
	Limit int

	// Alpha and Beta weight the vector and BM25 legs. Both zero uses
	// the 0.7/0.3 defaults.
	Alpha, Beta float64

	// HalfLifeDays controls temporal decay. <= 0 uses 30.
	HalfLifeDays float64

	// Lambda trades relevance against diversity in MMR. <= 0 uses 0.7.
	Lambda float64

	// Filters, applied after fusion.
	MinImportance float64
	DateFrom      time.Time
	DateTo        time.Time
}

// Result is one scored search hit.
type Result struct {
	Chunk *models.Chunk
	Score float64
}

// Search runs the hybrid retrieval pipeline: BM25 and vector candidate
// lists, min-max normalization, weighted fusion, temporal decay, filters,
// and greedy MMR selection.
func (s *Store) Search(ctx context.Context, opts SearchOptions) ([]*Result, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = defaultLimit
	}
	alpha, beta := opts.Alpha, opts.Beta
	if alpha == 0 && beta == 0 {
		alpha, beta = defaultAlpha, defaultBeta
	}
	halfLife := opts.HalfLifeDays
	if halfLife <= 0 {
		halfLife = defaultHalfLifeDays
	}
	lambda := opts.Lambda
	if lambda <= 0 {
		lambda = defaultLambda
	}

	pool := limit * candidateFactor

	bm25, err := s.bm25Candidates(ctx, opts.AgentID, opts.Query, pool)
	if err != nil {
		return nil, err
	}
	var vector []candidate
	if len(opts.Embedding) > 0 {
		vector, err = s.vectorCandidates(ctx, opts.AgentID, opts.Embedding, pool)
		if err != nil {
			return nil, err
		}
	}

	bm25Norm := normalize(bm25)
	vectorNorm := normalize(vector)

	// Fuse by chunk ID; a chunk found by only one leg scores zero on
	// the other.
	chunks := make(map[string]*models.Chunk)
	fused := make(map[string]float64)
	for id, score := range vectorNorm {
		fused[id] += alpha * score
	}
	for id, score := range bm25Norm {
		fused[id] += beta * score
	}
	for _, c := range bm25 {
		chunks[c.chunk.ID] = c.chunk
	}
	for _, c := range vector {
		chunks[c.chunk.ID] = c.chunk
	}

	now := time.Now().UTC()
	var pooled []candidate
	for id, score := range fused {
		chunk := chunks[id]
		if chunk.Importance < opts.MinImportance {
			continue
		}
		if !opts.DateFrom.IsZero() && chunk.CreatedAt.Before(opts.DateFrom) {
			continue
		}
		if !opts.DateTo.IsZero() && chunk.CreatedAt.After(opts.DateTo) {
			continue
		}
		days := now.Sub(chunk.CreatedAt).Hours() / 24
		decayed := score * math.Pow(2, -days/halfLife)
		pooled = append(pooled, candidate{chunk: chunk, score: decayed})
	}
	sortCandidates(pooled)

	selected := mmrSelect(pooled, lambda, limit)
	out := make([]*Result, len(selected))
	for i, c := range selected {
		out[i] = &Result{Chunk: c.chunk, Score: c.score}
	}
	return out, nil
}

// normalize min-max scales scores to [0,1] within one candidate list.
func normalize(cands []candidate) map[string]float64 {
	out := make(map[string]float64, len(cands))
	if len(cands) == 0 {
		return out
	}
	lo, hi := cands[0].score, cands[0].score
	for _, c := range cands[1:] {
		if c.score < lo {
			lo = c.score
		}
		if c.score > hi {
			hi = c.score
		}
	}
	for _, c := range cands {
		if hi == lo {
			out[c.chunk.ID] = 1
		} else {
			out[c.chunk.ID] = (c.score - lo) / (hi - lo)
		}
	}
	return out
}

// mmrSelect greedily picks candidates maximizing
// lambda*relevance - (1-lambda)*maxSim(selected, candidate), with
// Jaccard word overlap as similarity.
func mmrSelect(cands []candidate, lambda float64, k int) []candidate {
	var selected []candidate
	remaining := append([]candidate(nil), cands...)

	for len(selected) < k && len(remaining) > 0 {
		bestIdx, bestScore := -1, math.Inf(-1)
		for i, c := range remaining {
			maxSim := 0.0
			for _, s := range selected {
				if sim := jaccard(c.chunk.Content, s.chunk.Content); sim > maxSim {
					maxSim = sim
				}
			}
			mmr := lambda*c.score - (1-lambda)*maxSim
			if mmr > bestScore {
				bestIdx, bestScore = i, mmr
			}
		}
		selected = append(selected, remaining[bestIdx])
		remaining = append(remaining[:bestIdx], remaining[bestIdx+1:]...)
	}
	return selected
}

// jaccard computes word-set overlap between two texts.
func jaccard(a, b string) float64 {
	setA := wordSet(a)
	setB := wordSet(b)
	if len(setA) == 0 || len(setB) == 0 {
		return 0
	}
	inter := 0
	for w := range setA {
		if setB[w] {
			inter++
		}
	}
	union := len(setA) + len(setB) - inter
	return float64(inter) / float64(union)
}

func wordSet(text string) map[string]bool {
	out := make(map[string]bool)
	for _, w := range strings.Fields(strings.ToLower(text)) {
		out[strings.Trim(w, ".,;:!?\"'()[]{}")] = true
	}
	delete(out, "")
	return out
}

// cosine computes cosine similarity between equal-length vectors.
func cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

func sortCandidates(cands []candidate) {
	sort.SliceStable(cands, func(i, j int) bool {
		return cands[i].score > cands[j].score
	})
}
