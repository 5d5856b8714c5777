package retrieval

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/adalundhe/engram/core/embedding"
	"github.com/adalundhe/engram/core/episode"
)

// DefaultTemporalHorizon is the age at which temporal proximity bottoms out.
const DefaultTemporalHorizon = 30 * 24 * time.Hour

// Weights blends the four scoring levels. They must sum to 1.0.
type Weights struct {
	Domain    float64 `yaml:"domain"`
	TaskType  float64 `yaml:"task_type"`
	Temporal  float64 `yaml:"temporal"`
	Embedding float64 `yaml:"embedding"`
}

// DefaultWeights returns the standard blend: coarse signals dominate,
// embedding similarity refines.
func DefaultWeights() Weights {
	return Weights{
		Domain:    0.30,
		TaskType:  0.30,
		Temporal:  0.30,
		Embedding: 0.10,
	}
}

// Validate checks that the weights form a convex combination.
func (w Weights) Validate() error {
	for name, v := range map[string]float64{
		"domain": w.Domain, "task_type": w.TaskType,
		"temporal": w.Temporal, "embedding": w.Embedding,
	} {
		if v < 0 {
			return fmt.Errorf("weight %s must not be negative, got %v", name, v)
		}
	}
	sum := w.Domain + w.TaskType + w.Temporal + w.Embedding
	if sum < 0.999 || sum > 1.001 {
		return fmt.Errorf("weights must sum to 1.0, got %v", sum)
	}
	return nil
}

// Scorer applies the 4-level relevance formula:
//
//	score = w.Domain*domain + w.TaskType*task + w.Temporal*temporal(beta) + w.Embedding*similarity
//
// Both retrieval strategies share one scorer so the flat-scan fallback ranks
// identically to the hierarchical path.
type Scorer struct {
	weights Weights

	// partialCredit is the domain/task score on mismatch.
	partialCredit float64

	// horizon is the age at which temporal proximity reaches zero.
	horizon time.Duration
}

// NewScorer builds a scorer. Invalid weights are a configuration error.
func NewScorer(weights Weights, partialCredit float64, horizon time.Duration) (*Scorer, error) {
	if err := weights.Validate(); err != nil {
		return nil, err
	}
	if partialCredit < 0 || partialCredit > 1 {
		return nil, fmt.Errorf("partial credit must be in [0.0, 1.0], got %v", partialCredit)
	}
	if horizon <= 0 {
		horizon = DefaultTemporalHorizon
	}
	return &Scorer{weights: weights, partialCredit: partialCredit, horizon: horizon}, nil
}

// Score computes the blended relevance for one episode. textScores supplies
// normalized full-text match scores for free-text queries without a vector;
// nil disables the text channel.
func (s *Scorer) Score(q *Query, ep *episode.Episode, textScores map[uuid.UUID]float64) ScoredEpisode {
	ref := q.ReferenceTime()

	domainScore := s.matchScore(q.Domain, ep.Domain)
	taskScore := s.matchScore(q.TaskType, ep.TaskType)
	temporalScore := s.temporalScore(q.TemporalBias, ep.StartTime, ref)
	similarityScore := s.similarityScore(q, ep, textScores)

	relevance := s.weights.Domain*domainScore +
		s.weights.TaskType*taskScore +
		s.weights.Temporal*temporalScore +
		s.weights.Embedding*similarityScore

	return ScoredEpisode{
		Episode:     ep,
		ID:          ep.ID,
		Relevance:   relevance,
		Adjusted:    relevance,
		LevelScores: [4]float64{domainScore, taskScore, temporalScore, similarityScore},
	}
}

// matchScore is 1.0 on exact match, partial credit on mismatch, and neutral
// 0.5 when the query leaves the filter empty.
func (s *Scorer) matchScore(want, got string) float64 {
	if want == "" {
		return 0.5
	}
	if want == got {
		return 1.0
	}
	return s.partialCredit
}

// temporalScore decays linearly with time distance from the reference,
// scaled by beta. beta = 0 disables temporal weighting entirely.
func (s *Scorer) temporalScore(beta float64, start, ref time.Time) float64 {
	if beta == 0 {
		return 0
	}

	distance := ref.Sub(start)
	if distance < 0 {
		distance = -distance
	}

	proximity := 1.0 - min(float64(distance)/float64(s.horizon), 1.0)
	return beta * proximity
}

// similarityScore is embedding cosine when the query carries a vector, the
// full-text match score when it carries only text, and 0 otherwise. A
// missing episode embedding contributes 0; the other terms are never
// re-normalized around it.
func (s *Scorer) similarityScore(q *Query, ep *episode.Episode, textScores map[uuid.UUID]float64) float64 {
	if len(q.Vector) > 0 {
		if !ep.HasEmbedding() {
			return 0
		}
		return embedding.NormalizedCosine(q.Vector, ep.Embedding)
	}

	if textScores != nil {
		return textScores[ep.ID]
	}
	return 0
}
