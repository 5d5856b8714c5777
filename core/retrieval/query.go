// Package retrieval implements coarse-to-fine episode retrieval: a 4-level
// hierarchical scoring pass over the spatiotemporal index, a legacy
// flat-scan fallback over the durable store, and the strategy interface the
// facade selects between.
package retrieval

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/adalundhe/engram/core/episode"
	engerrors "github.com/adalundhe/engram/core/errors"
)

// Query specifies one retrieval request. Queries are immutable once issued:
// the engine never mutates a caller's query.
type Query struct {
	// Domain and TaskType are optional hard filters.
	Domain   string
	TaskType string

	// Text is the free-text query. Used for full-text matching when no
	// vector is supplied.
	Text string

	// Vector is the optional pre-computed query embedding.
	Vector []float32

	// Since and Until bound the episode start time (optional).
	Since time.Time
	Until time.Time

	// RefTime anchors temporal proximity. Zero means "now".
	RefTime time.Time

	// Limit is the maximum number of results.
	Limit int

	// Lambda is the MMR diversity trade-off in [0, 1].
	Lambda float64

	// TemporalBias is the recency bias beta in [0, 1].
	TemporalBias float64
}

// Validate rejects malformed queries before any work begins.
func (q *Query) Validate() error {
	if q.Limit < 0 {
		return engerrors.Newf(engerrors.TierLogic, "query.validate",
			"%w: limit must not be negative, got %d", engerrors.ErrInvalidQuery, q.Limit)
	}
	if q.Lambda < 0.0 || q.Lambda > 1.0 {
		return engerrors.Newf(engerrors.TierLogic, "query.validate",
			"%w: lambda must be in [0.0, 1.0], got %v", engerrors.ErrInvalidQuery, q.Lambda)
	}
	if q.TemporalBias < 0.0 || q.TemporalBias > 1.0 {
		return engerrors.Newf(engerrors.TierLogic, "query.validate",
			"%w: temporal_bias must be in [0.0, 1.0], got %v", engerrors.ErrInvalidQuery, q.TemporalBias)
	}
	if !q.Since.IsZero() && !q.Until.IsZero() && q.Until.Before(q.Since) {
		return engerrors.Newf(engerrors.TierLogic, "query.validate",
			"%w: until precedes since", engerrors.ErrInvalidQuery)
	}
	return nil
}

// HasHardFilters reports whether the query constrains the coarse candidate
// set at all. Without hard filters retrieval degrades to a bounded full
// scan, which the result signals via CoarseSkipped.
func (q *Query) HasHardFilters() bool {
	return q.Domain != "" || q.TaskType != "" || !q.Since.IsZero() || !q.Until.IsZero()
}

// ReferenceTime returns the temporal anchor for scoring.
func (q *Query) ReferenceTime() time.Time {
	if q.RefTime.IsZero() {
		return time.Now().UTC()
	}
	return q.RefTime
}

// ScoredEpisode pairs an episode with its relevance scores. LevelScores
// holds the per-level breakdown: domain, task type, temporal, similarity.
type ScoredEpisode struct {
	Episode *episode.Episode
	ID      uuid.UUID

	// Relevance is the combined score from the 4-level formula, in [0, 1].
	Relevance float64

	// Adjusted is the diversity-adjusted score set by the MMR re-ranker.
	// Equal to Relevance until re-ranking runs.
	Adjusted float64

	LevelScores [4]float64
}

// Result is an ordered retrieval outcome plus the markers callers need to
// tell "no results" from "degraded" from "coarse filtering skipped".
type Result struct {
	Episodes []ScoredEpisode

	// Strategy names the path that actually served the request.
	Strategy string

	// CoarseSkipped is set when no hard filters were supplied and the
	// engine fell back to a bounded full scan.
	CoarseSkipped bool

	// Partial is set when the time budget expired and the result is
	// best-effort.
	Partial bool

	// Degraded mirrors the coordinator's degraded flag at serve time:
	// hierarchical coverage may be incomplete.
	Degraded bool
}

func (r *Result) String() string {
	return fmt.Sprintf("retrieval result: %d episodes via %s", len(r.Episodes), r.Strategy)
}
