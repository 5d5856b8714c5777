// Package search provides full-text episode matching for retrieval queries
// that carry free text but no embedding vector. It wraps an in-memory Bleve
// index; text scores are normalized to [0, 1] so they can stand in for the
// embedding similarity term.
package search

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/blevesearch/bleve/v2"
	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/adalundhe/engram/core/episode"
)

// DefaultDocCacheSize bounds the number of indexed documents kept for
// retrieval without a store round trip.
const DefaultDocCacheSize = 10000

// Match is a scored full-text hit.
type Match struct {
	ID    uuid.UUID
	Score float64
}

// TextIndex indexes episode text for free-text retrieval.
type TextIndex struct {
	index bleve.Index
	mu    sync.RWMutex

	// docCache keeps recently indexed descriptions, bounded by LRU
	// eviction to prevent unbounded memory growth.
	docCache *lru.Cache[string, string]

	indexed  atomic.Int64
	searches atomic.Int64
}

type textDocument struct {
	Description string `json:"description"`
	Domain      string `json:"domain"`
	TaskType    string `json:"task_type"`
}

// NewTextIndex creates an in-memory text index. cacheSize <= 0 uses the
// default.
func NewTextIndex(cacheSize int) (*TextIndex, error) {
	if cacheSize <= 0 {
		cacheSize = DefaultDocCacheSize
	}

	index, err := bleve.NewMemOnly(bleve.NewIndexMapping())
	if err != nil {
		return nil, fmt.Errorf("failed to create text index: %w", err)
	}

	docCache, err := lru.New[string, string](cacheSize)
	if err != nil {
		index.Close()
		return nil, err
	}

	return &TextIndex{index: index, docCache: docCache}, nil
}

// IndexEpisode adds or replaces the episode's text document.
func (t *TextIndex) IndexEpisode(ctx context.Context, ep *episode.Episode) error {
	if ep == nil {
		return fmt.Errorf("episode cannot be nil")
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	doc := textDocument{
		Description: ep.Description,
		Domain:      ep.Domain,
		TaskType:    ep.TaskType,
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.index.Index(ep.ID.String(), doc); err != nil {
		return fmt.Errorf("failed to index episode %s: %w", ep.ID, err)
	}
	t.docCache.Add(ep.ID.String(), ep.Description)
	t.indexed.Add(1)
	return nil
}

// Remove deletes the episode's document. Absent documents are a no-op.
func (t *TextIndex) Remove(id uuid.UUID) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.docCache.Remove(id.String())
	return t.index.Delete(id.String())
}

// Search returns up to limit matches for the query text, scores normalized
// to [0, 1] relative to the best hit.
func (t *TextIndex) Search(ctx context.Context, text string, limit int) ([]Match, error) {
	if text == "" || limit <= 0 {
		return nil, nil
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	t.searches.Add(1)

	req := bleve.NewSearchRequest(bleve.NewMatchQuery(text))
	req.Size = limit

	t.mu.RLock()
	result, err := t.index.Search(req)
	t.mu.RUnlock()
	if err != nil {
		return nil, fmt.Errorf("text search failed: %w", err)
	}

	if len(result.Hits) == 0 {
		return nil, nil
	}

	maxScore := result.Hits[0].Score
	matches := make([]Match, 0, len(result.Hits))
	for _, hit := range result.Hits {
		id, err := uuid.Parse(hit.ID)
		if err != nil {
			continue
		}
		score := 0.0
		if maxScore > 0 {
			score = hit.Score / maxScore
		}
		matches = append(matches, Match{ID: id, Score: score})
	}
	return matches, nil
}

// CachedDescription returns the cached description text for an episode.
func (t *TextIndex) CachedDescription(id uuid.UUID) (string, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.docCache.Get(id.String())
}

// Len returns the number of documents currently held in the doc cache.
func (t *TextIndex) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.docCache.Len()
}

// Close releases the index.
func (t *TextIndex) Close() error {
	return t.index.Close()
}
