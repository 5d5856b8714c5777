// Package diversity re-ranks relevance-ordered candidates with Maximal
// Marginal Relevance (MMR), trading relevance against redundancy:
//
//	MMR(c) = lambda * Relevance(c) - (1-lambda) * max_{s in S} Similarity(c, s)
//
// lambda = 1 reduces exactly to pure relevance ranking, lambda = 0 to pure
// diversity ranking.
package diversity

import (
	engerrors "github.com/adalundhe/engram/core/errors"
	"github.com/adalundhe/engram/core/embedding"
	"github.com/adalundhe/engram/core/retrieval"
)

// DefaultLambda is the standard trade-off: 70% relevance, 30% diversity.
const DefaultLambda = 0.7

// Maximizer selects a diverse subset of ranked candidates.
type Maximizer struct {
	lambda float64
}

// New creates a maximizer. Out-of-range lambda is a configuration error
// surfaced at construction time, never clamped at call time.
func New(lambda float64) (*Maximizer, error) {
	if lambda < 0.0 || lambda > 1.0 {
		return nil, engerrors.Newf(engerrors.TierConfig, "diversity.new",
			"lambda must be in [0.0, 1.0], got %v", lambda)
	}
	return &Maximizer{lambda: lambda}, nil
}

// Lambda returns the configured trade-off parameter.
func (m *Maximizer) Lambda() float64 {
	return m.lambda
}

// Rerank selects up to limit episodes from the relevance-ranked candidates,
// ordered by selection. Empty candidates or limit = 0 return an empty slice
// without error. Each selected episode's Adjusted score is its MMR value at
// selection time.
func (m *Maximizer) Rerank(candidates []retrieval.ScoredEpisode, limit int) []retrieval.ScoredEpisode {
	if len(candidates) == 0 || limit <= 0 {
		return nil
	}
	if limit > len(candidates) {
		limit = len(candidates)
	}

	// lambda = 1: the penalty term vanishes, so the result is exactly the
	// input relevance order.
	if m.lambda == 1.0 {
		selected := make([]retrieval.ScoredEpisode, limit)
		copy(selected, candidates[:limit])
		for i := range selected {
			selected[i].Adjusted = selected[i].Relevance
		}
		return selected
	}

	selected := make([]retrieval.ScoredEpisode, 0, limit)
	remaining := make([]retrieval.ScoredEpisode, len(candidates))
	copy(remaining, candidates)

	// maxSim[i] tracks each remaining candidate's highest similarity to
	// the selected set, updated incrementally after every pick.
	maxSim := make([]float64, len(remaining))

	for len(selected) < limit && len(remaining) > 0 {
		bestIdx := 0
		bestScore := m.mmrScore(remaining[0], maxSim[0])

		for i := 1; i < len(remaining); i++ {
			score := m.mmrScore(remaining[i], maxSim[i])
			if betterPick(score, remaining[i], bestScore, remaining[bestIdx]) {
				bestIdx = i
				bestScore = score
			}
		}

		pick := remaining[bestIdx]
		pick.Adjusted = bestScore
		selected = append(selected, pick)

		remaining = append(remaining[:bestIdx], remaining[bestIdx+1:]...)
		maxSim = append(maxSim[:bestIdx], maxSim[bestIdx+1:]...)

		for i := range remaining {
			sim := pairSimilarity(remaining[i], pick)
			if sim > maxSim[i] {
				maxSim[i] = sim
			}
		}
	}

	return selected
}

// mmrScore computes the marginal relevance of a candidate given its highest
// similarity to the selected set.
func (m *Maximizer) mmrScore(c retrieval.ScoredEpisode, maxSimilarity float64) float64 {
	return m.lambda*c.Relevance - (1.0-m.lambda)*maxSimilarity
}

// betterPick is the total order over picks: higher MMR wins, ties fall back
// to higher relevance, then to the smaller episode ID, so selection is
// deterministic for identical inputs.
func betterPick(score float64, c retrieval.ScoredEpisode, bestScore float64, best retrieval.ScoredEpisode) bool {
	if score != bestScore {
		return score > bestScore
	}
	if c.Relevance != best.Relevance {
		return c.Relevance > best.Relevance
	}
	return c.ID.String() < best.ID.String()
}

// pairSimilarity is embedding cosine similarity between two candidates, 0
// when either vector is absent.
func pairSimilarity(a, b retrieval.ScoredEpisode) float64 {
	if a.Episode == nil || b.Episode == nil {
		return 0
	}
	return embedding.CosineSimilarity(a.Episode.Embedding, b.Episode.Embedding)
}

// Score measures how diverse a selection is: the average pairwise
// dissimilarity, 1.0 for a set with no embedding overlap. Single-element
// and empty selections score 1.0.
func Score(selected []retrieval.ScoredEpisode) float64 {
	if len(selected) < 2 {
		return 1.0
	}

	var total float64
	var pairs int
	for i := 0; i < len(selected); i++ {
		for j := i + 1; j < len(selected); j++ {
			total += 1.0 - pairSimilarity(selected[i], selected[j])
			pairs++
		}
	}
	return total / float64(pairs)
}
