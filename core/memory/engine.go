// Package memory assembles the durable store, cache, indexes, coordinator,
// and retrieval strategies into the single engine surface callers use.
package memory

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/adalundhe/engram/core/cache"
	"github.com/adalundhe/engram/core/config"
	"github.com/adalundhe/engram/core/consistency"
	"github.com/adalundhe/engram/core/diversity"
	"github.com/adalundhe/engram/core/embedding"
	"github.com/adalundhe/engram/core/episode"
	engerrors "github.com/adalundhe/engram/core/errors"
	"github.com/adalundhe/engram/core/index"
	"github.com/adalundhe/engram/core/retrieval"
	"github.com/adalundhe/engram/core/search"
	"github.com/adalundhe/engram/core/storage"
)

const (
	// DefaultLimit applies when a query leaves Limit at zero.
	DefaultLimit = 10

	// DefaultQueryCacheSize bounds the memoized query results.
	DefaultQueryCacheSize = 512

	// DefaultTextCacheSize bounds the full-text doc cache.
	DefaultTextCacheSize = 10000
)

// Engine is the retrieval engine facade. All writes flow through the
// consistency coordinator; all reads flow through a strategy plus the MMR
// re-ranker.
type Engine struct {
	cfg *config.Config

	store     storage.DurableStore
	cache     *cache.EpisodeCache
	spatial   *index.Spatiotemporal // nil when the index is disabled
	textIndex *search.TextIndex

	coordinator  *consistency.Coordinator
	hierarchical retrieval.Strategy // nil when the index is disabled
	flatScan     retrieval.Strategy
	maximizer    *diversity.Maximizer

	// embedder, when set, fills in missing episode embeddings at write
	// time from the description text.
	embedder embedding.Embedder

	// queryCache memoizes results for queries with an explicit RefTime.
	// Queries anchored at "now" are never cached: their scores drift.
	queryCache *lru.Cache[string, *retrieval.Result]

	// Construction-time overrides, applied after the defaults are built.
	strategyOverride retrieval.Strategy
	indexerOverride  consistency.Indexer

	fallbacks        atomic.Int64
	queryCacheHits   atomic.Int64
	queryCacheMisses atomic.Int64

	logger *slog.Logger
}

// Option customizes engine construction.
type Option func(*Engine)

// WithEmbedder sets the embedder used to backfill episode embeddings when a
// stored episode lacks one.
func WithEmbedder(e embedding.Embedder) Option {
	return func(eng *Engine) { eng.embedder = e }
}

// WithLogger sets the engine logger.
func WithLogger(l *slog.Logger) Option {
	return func(eng *Engine) { eng.logger = l }
}

// WithHierarchicalStrategy replaces the built-in hierarchical retriever with
// a custom strategy. The flat scan remains the fallback.
func WithHierarchicalStrategy(s retrieval.Strategy) Option {
	return func(eng *Engine) { eng.strategyOverride = s }
}

// WithIndexer replaces the spatiotemporal index on the coordinator's write
// path.
func WithIndexer(ix consistency.Indexer) Option {
	return func(eng *Engine) { eng.indexerOverride = ix }
}

// NewEngine builds an engine from validated configuration. Construction
// fails on any invalid knob; nothing is range-checked later.
func NewEngine(cfg *config.Config, opts ...Option) (*Engine, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, engerrors.New(engerrors.TierConfig, "engine.new", err)
	}

	eng := &Engine{
		cfg:    cfg,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(eng)
	}

	store, err := storage.NewSQLiteStore(storage.SQLiteConfig{Path: cfg.Storage.Path})
	if err != nil {
		return nil, err
	}
	eng.store = store

	epCache, err := cache.NewEpisodeCache(&cache.Config{
		NumCounters: cfg.Cache.NumCounters,
		MaxCost:     cfg.Cache.MaxCost,
		TTL:         cfg.Cache.TTL,
	})
	if err != nil {
		store.Close()
		return nil, err
	}
	eng.cache = epCache

	textIndex, err := search.NewTextIndex(DefaultTextCacheSize)
	if err != nil {
		epCache.Close()
		store.Close()
		return nil, err
	}
	eng.textIndex = textIndex

	scorer, err := retrieval.NewScorer(retrieval.DefaultWeights(),
		cfg.Retrieval.PartialCredit, retrieval.DefaultTemporalHorizon)
	if err != nil {
		eng.closeParts()
		return nil, err
	}

	maximizer, err := diversity.New(cfg.Retrieval.Lambda)
	if err != nil {
		eng.closeParts()
		return nil, err
	}
	eng.maximizer = maximizer

	queryCache, err := lru.New[string, *retrieval.Result](DefaultQueryCacheSize)
	if err != nil {
		eng.closeParts()
		return nil, err
	}
	eng.queryCache = queryCache

	var indexer consistency.Indexer
	if cfg.Index.Enabled {
		eng.spatial = index.NewSpatiotemporal()
		indexer = eng.spatial
		eng.hierarchical = retrieval.NewHierarchicalRetriever(retrieval.HierarchicalConfig{
			Index:       eng.spatial,
			Load:        eng.loadEpisode,
			TextIndex:   textIndex,
			Scorer:      scorer,
			MaxClusters: cfg.Retrieval.MaxClusters,
			ClusterCap:  cfg.Retrieval.ClusterCap,
			Logger:      eng.logger,
		})
	}
	if eng.strategyOverride != nil {
		eng.hierarchical = eng.strategyOverride
	}
	if eng.indexerOverride != nil {
		indexer = eng.indexerOverride
	}

	eng.flatScan = retrieval.NewFlatScanStrategy(retrieval.FlatScanConfig{
		Store:     store,
		TextIndex: textIndex,
		Scorer:    scorer,
		Logger:    eng.logger,
	})

	retryPolicy := engerrors.DefaultIndexWritePolicy()
	if cfg.Index.WriteRetries > 0 {
		retryPolicy.MaxAttempts = cfg.Index.WriteRetries
	}
	if cfg.Index.WriteBackoff > 0 {
		retryPolicy.InitialDelay = cfg.Index.WriteBackoff
	}

	eng.coordinator = consistency.NewCoordinator(consistency.Config{
		Store:               store,
		Cache:               cacheAdapter{epCache},
		Index:               indexer,
		TextIndex:           textIndex,
		IndexRetryPolicy:    retryPolicy,
		MaxConcurrentWrites: cfg.Consistency.MaxConcurrentWrites,
		Logger:              eng.logger,
	})

	// Rehydrate the in-memory indexes from what survived the last run.
	if err := eng.rehydrate(context.Background()); err != nil {
		eng.closeParts()
		return nil, err
	}

	return eng, nil
}

// rehydrate replays the durable store into the spatiotemporal and text
// indexes on startup.
func (e *Engine) rehydrate(ctx context.Context) error {
	count := 0
	err := e.store.ScanAll(ctx, func(ep *episode.Episode) error {
		if e.spatial != nil {
			if err := e.spatial.Insert(ep); err != nil {
				return err
			}
		}
		if err := e.textIndex.IndexEpisode(ctx, ep); err != nil {
			return err
		}
		count++
		return nil
	})
	if err != nil {
		return engerrors.New(engerrors.TierTransient, "engine.rehydrate", err)
	}
	if count > 0 {
		e.logger.Info("rehydrated indexes", "episodes", count)
	}
	return nil
}

// NewQuery returns a query seeded with the engine's configured tuning.
func (e *Engine) NewQuery() *retrieval.Query {
	return &retrieval.Query{
		Limit:        DefaultLimit,
		Lambda:       e.cfg.Retrieval.Lambda,
		TemporalBias: e.cfg.Retrieval.TemporalBias,
	}
}

// Retrieve answers a query: validate, pick a strategy, score, re-rank for
// diversity, truncate. Hierarchical retrieval falls back to the flat scan
// on failure or while the coordinator is degraded; every fallback is
// counted and logged.
func (e *Engine) Retrieve(ctx context.Context, q *retrieval.Query) (*retrieval.Result, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	if dim := e.cfg.Retrieval.EmbeddingDimension; dim > 0 && len(q.Vector) > 0 && len(q.Vector) != dim {
		return nil, engerrors.Newf(engerrors.TierLogic, "engine.retrieve",
			"%w: query vector has %d dimensions, expected %d",
			engerrors.ErrDimensionMismatch, len(q.Vector), dim)
	}

	limit := q.Limit
	if limit == 0 {
		limit = DefaultLimit
	}

	cacheKey, cacheable := e.queryKey(q)
	if cacheable {
		if cached, ok := e.queryCache.Get(cacheKey); ok {
			e.queryCacheHits.Add(1)
			return cached, nil
		}
		e.queryCacheMisses.Add(1)
	}

	result, err := e.runStrategy(ctx, q)
	if err != nil {
		return nil, err
	}

	maximizer := e.maximizer
	if q.Lambda != maximizer.Lambda() {
		// Validate already bounded Lambda, so this cannot fail.
		maximizer, _ = diversity.New(q.Lambda)
	}
	result.Episodes = maximizer.Rerank(result.Episodes, limit)

	if cacheable && !result.Partial {
		e.queryCache.Add(cacheKey, result)
	}
	return result, nil
}

// runStrategy selects and executes a retrieval strategy.
func (e *Engine) runStrategy(ctx context.Context, q *retrieval.Query) (*retrieval.Result, error) {
	degraded := e.coordinator.Degraded()

	if e.hierarchical != nil && !degraded {
		result, err := e.hierarchical.Retrieve(ctx, q)
		if err == nil {
			return result, nil
		}
		if ctx.Err() != nil {
			return nil, err
		}
		e.fallbacks.Add(1)
		e.logger.Warn("hierarchical retrieval failed, falling back to flat scan",
			"error", err)
	} else if e.hierarchical != nil && degraded {
		// The index is missing episodes; only the flat scan is complete.
		e.fallbacks.Add(1)
	}

	result, err := e.flatScan.Retrieve(ctx, q)
	if err != nil {
		return nil, err
	}
	result.Degraded = degraded
	return result, nil
}

// StoreEpisode writes an episode through the coordinator. A missing
// embedding is backfilled from the description when an embedder is
// configured. The receipt is meaningful even on error: a degraded write is
// durable and flat-scan retrievable.
func (e *Engine) StoreEpisode(ctx context.Context, ep *episode.Episode) (*consistency.WriteReceipt, error) {
	if e.embedder != nil && !ep.HasEmbedding() && ep.Description != "" {
		vec, err := e.embedder.Embed(ctx, ep.Description)
		if err != nil {
			e.logger.Warn("embedding failed, storing without vector",
				"episode_id", ep.ID, "error", err)
		} else {
			ep.Embedding = vec
		}
	}

	receipt, err := e.coordinator.StoreEpisode(ctx, ep)
	e.queryCache.Purge()
	return receipt, err
}

// DeleteEpisode cascades a delete across all stores and drops memoized
// query results.
func (e *Engine) DeleteEpisode(ctx context.Context, id uuid.UUID) error {
	err := e.coordinator.DeleteEpisode(ctx, id)
	e.queryCache.Purge()
	return err
}

// Episode loads one episode, cache first.
func (e *Engine) Episode(ctx context.Context, id uuid.UUID) (*episode.Episode, error) {
	return e.loadEpisode(ctx, id)
}

func (e *Engine) loadEpisode(ctx context.Context, id uuid.UUID) (*episode.Episode, error) {
	if ep, ok := e.cache.Get(id); ok {
		return ep, nil
	}
	ep, err := e.store.Read(ctx, id)
	if err != nil {
		return nil, err
	}
	e.cache.Put(ep, 0)
	return ep, nil
}

// Relate records a typed relationship between two stored episodes.
func (e *Engine) Relate(ctx context.Context, rel *episode.Relationship) error {
	return e.coordinator.Relate(ctx, rel)
}

// Relationships returns all edges touching the given episode, in either
// direction.
func (e *Engine) Relationships(ctx context.Context, id uuid.UUID) ([]*episode.Relationship, error) {
	return e.store.Relationships(ctx, id)
}

// RebuildIndex rescans the durable store into the hierarchical index,
// clearing degraded mode on success.
func (e *Engine) RebuildIndex(ctx context.Context) error {
	err := e.coordinator.RebuildIndex(ctx)
	e.queryCache.Purge()
	return err
}

// Degraded reports whether hierarchical index coverage is incomplete.
func (e *Engine) Degraded() bool {
	return e.coordinator.Degraded()
}

// Stats is a snapshot of engine-wide counters.
type Stats struct {
	Coordinator      consistency.Stats `json:"coordinator"`
	Cache            cache.Stats       `json:"cache"`
	Index            *index.Stats      `json:"index,omitempty"`
	Fallbacks        int64             `json:"fallbacks"`
	QueryCacheHits   int64             `json:"query_cache_hits"`
	QueryCacheMisses int64             `json:"query_cache_misses"`
}

// Stats returns engine counters.
func (e *Engine) Stats() Stats {
	s := Stats{
		Coordinator:      e.coordinator.Stats(),
		Cache:            e.cache.Stats(),
		Fallbacks:        e.fallbacks.Load(),
		QueryCacheHits:   e.queryCacheHits.Load(),
		QueryCacheMisses: e.queryCacheMisses.Load(),
	}
	if e.spatial != nil {
		idx := e.spatial.Stats()
		s.Index = &idx
	}
	return s
}

// Close releases all engine resources.
func (e *Engine) Close() error {
	return e.closeParts()
}

func (e *Engine) closeParts() error {
	var firstErr error
	if e.textIndex != nil {
		if err := e.textIndex.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if e.cache != nil {
		e.cache.Close()
	}
	if e.store != nil {
		if err := e.store.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// queryKey derives a stable cache key for a query. Only queries with an
// explicit reference time are cacheable; "now"-anchored scores change
// between calls.
func (e *Engine) queryKey(q *retrieval.Query) (string, bool) {
	if q.RefTime.IsZero() {
		return "", false
	}

	h := sha256.New()
	// Free-form fields are length-prefixed so field boundaries cannot be
	// forged by embedding the separator in a value.
	for _, s := range []string{q.Domain, q.TaskType, q.Text} {
		fmt.Fprintf(h, "%d:%s|", len(s), s)
	}
	fmt.Fprintf(h, "%d|%v|%v|%d|%d|%d",
		q.Limit, q.Lambda, q.TemporalBias,
		q.Since.UnixNano(), q.Until.UnixNano(), q.RefTime.UnixNano())
	for _, v := range q.Vector {
		fmt.Fprintf(h, "|%v", v)
	}
	return hex.EncodeToString(h.Sum(nil)), true
}

// cacheAdapter bridges the episode cache to the coordinator's Cache
// contract. The concrete cache never fails a Put; the contract allows
// failure so it stays injectable.
type cacheAdapter struct {
	c *cache.EpisodeCache
}

func (a cacheAdapter) Put(ep *episode.Episode, ttl time.Duration) error {
	a.c.Put(ep, ttl)
	return nil
}

func (a cacheAdapter) Invalidate(id uuid.UUID) {
	a.c.Invalidate(id)
}
