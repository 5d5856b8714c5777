package retrieval

import (
	"context"
	"log/slog"
	"sort"

	"github.com/google/uuid"

	"github.com/adalundhe/engram/core/episode"
	"github.com/adalundhe/engram/core/index"
	"github.com/adalundhe/engram/core/search"
)

// DefaultMaxClusters bounds how many time buckets are scored before
// narrowing.
const DefaultMaxClusters = 5

// DefaultClusterCap bounds candidates taken from a single bucket.
const DefaultClusterCap = 200

// EpisodeLoader resolves an episode ID to its full record, consulting the
// cache before the durable store.
type EpisodeLoader func(ctx context.Context, id uuid.UUID) (*episode.Episode, error)

// HierarchicalRetriever narrows candidates through the spatiotemporal index
// level by level, then scores the survivors with the full formula.
//
// Levels: (1) domain filter, (2) task-type filter, (3) temporal bucket
// selection with recency bias, (4) fine-grained similarity scoring. The
// first three are hash lookups against the index; only level 4 touches full
// episode records.
type HierarchicalRetriever struct {
	index  *index.Spatiotemporal
	load   EpisodeLoader
	text   *search.TextIndex // optional, nil disables free-text scoring
	scorer *Scorer

	maxClusters int
	clusterCap  int

	logger *slog.Logger
}

// HierarchicalConfig configures the retriever.
type HierarchicalConfig struct {
	Index       *index.Spatiotemporal
	Load        EpisodeLoader
	TextIndex   *search.TextIndex
	Scorer      *Scorer
	MaxClusters int
	ClusterCap  int
	Logger      *slog.Logger
}

// NewHierarchicalRetriever builds a retriever over the given index.
func NewHierarchicalRetriever(cfg HierarchicalConfig) *HierarchicalRetriever {
	maxClusters := cfg.MaxClusters
	if maxClusters <= 0 {
		maxClusters = DefaultMaxClusters
	}
	clusterCap := cfg.ClusterCap
	if clusterCap <= 0 {
		clusterCap = DefaultClusterCap
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &HierarchicalRetriever{
		index:       cfg.Index,
		load:        cfg.Load,
		text:        cfg.TextIndex,
		scorer:      cfg.Scorer,
		maxClusters: maxClusters,
		clusterCap:  clusterCap,
		logger:      logger,
	}
}

// Name identifies this strategy in results and logs.
func (h *HierarchicalRetriever) Name() string {
	return "hierarchical"
}

// Retrieve runs the 4-level pass. An empty candidate set returns an empty
// result, not an error. Cancellation mid-scoring returns the best-effort
// partial ranking with Partial set.
func (h *HierarchicalRetriever) Retrieve(ctx context.Context, q *Query) (*Result, error) {
	result := &Result{
		Strategy:      h.Name(),
		CoarseSkipped: !q.HasHardFilters(),
	}

	// Levels 1-2: domain and task-type hash lookups; level 3: bucket
	// grouping, newest first.
	groups := h.index.QueryGrouped(index.Filter{
		Domain:   q.Domain,
		TaskType: q.TaskType,
		Since:    q.Since,
		Until:    q.Until,
	})
	if len(groups) == 0 {
		return result, nil
	}

	candidates := h.narrow(groups)
	h.logger.Debug("hierarchical narrowing complete",
		"buckets", len(groups),
		"candidates", len(candidates),
		"coarse_skipped", result.CoarseSkipped,
	)

	textScores, err := h.textScores(ctx, q, len(candidates))
	if err != nil {
		return nil, err
	}

	// Level 4: full scoring over the narrowed set.
	scored := make([]ScoredEpisode, 0, len(candidates))
	for _, id := range candidates {
		if ctx.Err() != nil {
			result.Partial = true
			break
		}

		ep, err := h.load(ctx, id)
		if err != nil {
			// An indexed ID missing from the store is an inconsistency to
			// surface in logs but never a reason to fail the whole query.
			h.logger.Warn("indexed episode not loadable", "episode_id", id, "error", err)
			continue
		}
		scored = append(scored, h.scorer.Score(q, ep, textScores))
	}

	SortByRelevance(scored)
	result.Episodes = scored
	return result, nil
}

// narrow applies the level-3 budget: newest buckets first, each capped, up
// to maxClusters buckets worth of candidates.
func (h *HierarchicalRetriever) narrow(groups []index.BucketGroup) []uuid.UUID {
	budget := h.maxClusters * h.clusterCap
	candidates := make([]uuid.UUID, 0, min(budget, 256))

	for i, group := range groups {
		if i >= h.maxClusters && len(candidates) > 0 {
			break
		}
		ids := group.IDs
		if len(ids) > h.clusterCap {
			ids = ids[:h.clusterCap]
		}
		for _, id := range ids {
			if len(candidates) >= budget {
				return candidates
			}
			candidates = append(candidates, id)
		}
	}
	return candidates
}

// textScores runs the full-text channel for vectorless free-text queries.
func (h *HierarchicalRetriever) textScores(ctx context.Context, q *Query, candidateCount int) (map[uuid.UUID]float64, error) {
	if h.text == nil || q.Text == "" || len(q.Vector) > 0 {
		return nil, nil
	}

	limit := max(candidateCount, 100)
	matches, err := h.text.Search(ctx, q.Text, limit)
	if err != nil {
		return nil, err
	}

	scores := make(map[uuid.UUID]float64, len(matches))
	for _, m := range matches {
		scores[m.ID] = m.Score
	}
	return scores, nil
}

// SortByRelevance orders episodes by descending relevance with a stable,
// total tie-break on episode ID so identical inputs always produce identical
// output.
func SortByRelevance(scored []ScoredEpisode) {
	sort.Slice(scored, func(i, j int) bool {
		if scored[i].Relevance != scored[j].Relevance {
			return scored[i].Relevance > scored[j].Relevance
		}
		return scored[i].ID.String() < scored[j].ID.String()
	})
}
