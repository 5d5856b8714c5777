package retrieval

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"

	"github.com/adalundhe/engram/core/episode"
	"github.com/adalundhe/engram/core/search"
	"github.com/adalundhe/engram/core/storage"
)

// Strategy is the capability both retrieval paths implement. The facade
// selects one by configuration and falls back from hierarchical to flat
// scan on error, recording which strategy actually served each request.
type Strategy interface {
	Name() string
	Retrieve(ctx context.Context, q *Query) (*Result, error)
}

// errScanStopped signals deliberate early termination of a store scan.
var errScanStopped = errors.New("scan stopped")

// FlatScanStrategy is the legacy retrieval path: a restartable full scan of
// the durable store with the same scoring formula as the hierarchical path.
// It is the correctness fallback - every episode matching the query's hard
// filters is considered, no index required.
type FlatScanStrategy struct {
	store  storage.DurableStore
	text   *search.TextIndex // optional
	scorer *Scorer
	logger *slog.Logger
}

// FlatScanConfig configures the flat-scan strategy.
type FlatScanConfig struct {
	Store     storage.DurableStore
	TextIndex *search.TextIndex
	Scorer    *Scorer
	Logger    *slog.Logger
}

// NewFlatScanStrategy builds the fallback strategy.
func NewFlatScanStrategy(cfg FlatScanConfig) *FlatScanStrategy {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &FlatScanStrategy{
		store:  cfg.Store,
		text:   cfg.TextIndex,
		scorer: cfg.Scorer,
		logger: logger,
	}
}

// Name identifies this strategy in results and logs.
func (f *FlatScanStrategy) Name() string {
	return "flat_scan"
}

// Retrieve scans every stored episode, filters by the query's hard filters,
// and scores the survivors. Cancellation stops the scan and returns the
// partial ranking.
func (f *FlatScanStrategy) Retrieve(ctx context.Context, q *Query) (*Result, error) {
	result := &Result{
		Strategy:      f.Name(),
		CoarseSkipped: !q.HasHardFilters(),
	}

	textScores, err := f.textScores(ctx, q)
	if err != nil {
		return nil, err
	}

	var scored []ScoredEpisode
	err = f.store.ScanAll(ctx, func(ep *episode.Episode) error {
		if ctx.Err() != nil {
			result.Partial = true
			return errScanStopped
		}
		if !matchesHardFilters(q, ep) {
			return nil
		}
		scored = append(scored, f.scorer.Score(q, ep, textScores))
		return nil
	})
	if err != nil && !errors.Is(err, errScanStopped) {
		return nil, err
	}

	SortByRelevance(scored)
	result.Episodes = scored
	return result, nil
}

func (f *FlatScanStrategy) textScores(ctx context.Context, q *Query) (map[uuid.UUID]float64, error) {
	if f.text == nil || q.Text == "" || len(q.Vector) > 0 {
		return nil, nil
	}

	matches, err := f.text.Search(ctx, q.Text, search.DefaultDocCacheSize)
	if err != nil {
		// The text index is an enrichment here, not a correctness
		// dependency: the flat scan proceeds without text scores.
		f.logger.Warn("flat scan text search failed", "error", err)
		return nil, nil
	}

	scores := make(map[uuid.UUID]float64, len(matches))
	for _, m := range matches {
		scores[m.ID] = m.Score
	}
	return scores, nil
}

// matchesHardFilters applies the query's domain, task-type, and time-window
// filters with AND semantics.
func matchesHardFilters(q *Query, ep *episode.Episode) bool {
	if q.Domain != "" && ep.Domain != q.Domain {
		return false
	}
	if q.TaskType != "" && ep.TaskType != q.TaskType {
		return false
	}
	if !q.Since.IsZero() && ep.StartTime.Before(q.Since) {
		return false
	}
	if !q.Until.IsZero() && !ep.StartTime.Before(q.Until) {
		return false
	}
	return true
}
