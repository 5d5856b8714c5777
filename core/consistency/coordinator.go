// Package consistency coordinates episode writes across the durable store,
// the cache, and the spatiotemporal index, and defines the bounded
// inconsistency window when the three cannot complete atomically.
//
// Per-write state machine: Pending -> DurablyWritten -> Cached -> Indexed ->
// Committed. Only the durable write is all-or-nothing; a cache failure is
// self-healing (store fallback on miss) and an index failure after durable
// success surfaces as degraded mode, never a silent drop.
//
// Lock ordering is fixed system-wide: durable store, then cache, then
// index. No code path holds two resource locks simultaneously - each store
// is touched in sequence, and the index writer lock is held only for the
// in-memory splice, never across I/O.
package consistency

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/adalundhe/engram/core/episode"
	engerrors "github.com/adalundhe/engram/core/errors"
	"github.com/adalundhe/engram/core/storage"
)

// WriteState tracks how far a write progressed.
type WriteState int

const (
	StatePending WriteState = iota
	StateDurablyWritten
	StateCached
	StateIndexed
	StateCommitted
)

// String returns the state name.
func (ws WriteState) String() string {
	switch ws {
	case StatePending:
		return "pending"
	case StateDurablyWritten:
		return "durably_written"
	case StateCached:
		return "cached"
	case StateIndexed:
		return "indexed"
	case StateCommitted:
		return "committed"
	default:
		return "unknown"
	}
}

// WriteReceipt reports the outcome of one store operation. Callers use it
// to distinguish a fully committed write from one that is durable but
// degraded.
type WriteReceipt struct {
	State         WriteState
	CacheOK       bool
	Indexed       bool
	Degraded      bool
	IndexAttempts int
}

// Cache is the coordinator's view of the episode cache. A Put error is
// tolerated; a miss is never an error.
type Cache interface {
	Put(ep *episode.Episode, ttl time.Duration) error
	Invalidate(id uuid.UUID)
}

// Indexer is the coordinator's view of the spatiotemporal index. Only the
// coordinator mutates it.
type Indexer interface {
	Insert(ep *episode.Episode) error
	Remove(id uuid.UUID) bool
}

// TextIndexer is the optional full-text index kept in step with writes.
type TextIndexer interface {
	IndexEpisode(ctx context.Context, ep *episode.Episode) error
	Remove(id uuid.UUID) error
}

// Config configures the coordinator.
type Config struct {
	Store     storage.DurableStore
	Cache     Cache       // optional
	Index     Indexer     // nil when the hierarchical index is disabled
	TextIndex TextIndexer // optional

	// IndexRetryPolicy bounds index insertion retries after a durable
	// write succeeds.
	IndexRetryPolicy *engerrors.RetryPolicy

	// MaxConcurrentWrites bounds concurrent writers so bursts of episode
	// completions cannot starve readers or exhaust store connections.
	MaxConcurrentWrites int

	Logger *slog.Logger
}

// Stats is a snapshot of coordinator counters.
type Stats struct {
	Writes        int64 `json:"writes"`
	WriteFailures int64 `json:"write_failures"`
	CacheFailures int64 `json:"cache_failures"`
	IndexFailures int64 `json:"index_failures"`
	Deletes       int64 `json:"deletes"`
	Degraded      bool  `json:"degraded"`
}

// Coordinator is the single writer for the index and the owner of the
// cross-store write discipline.
type Coordinator struct {
	store     storage.DurableStore
	cache     Cache
	index     Indexer
	textIndex TextIndexer

	retryPolicy *engerrors.RetryPolicy
	permits     chan struct{}

	degraded atomic.Bool

	writes        atomic.Int64
	writeFailures atomic.Int64
	cacheFailures atomic.Int64
	indexFailures atomic.Int64
	deletes       atomic.Int64

	logger *slog.Logger
}

// DefaultMaxConcurrentWrites bounds writers when the config leaves it zero.
const DefaultMaxConcurrentWrites = 16

// NewCoordinator builds a coordinator.
func NewCoordinator(cfg Config) *Coordinator {
	maxWrites := cfg.MaxConcurrentWrites
	if maxWrites <= 0 {
		maxWrites = DefaultMaxConcurrentWrites
	}
	policy := cfg.IndexRetryPolicy
	if policy == nil {
		policy = engerrors.DefaultIndexWritePolicy()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Coordinator{
		store:       cfg.Store,
		cache:       cfg.Cache,
		index:       cfg.Index,
		textIndex:   cfg.TextIndex,
		retryPolicy: policy,
		permits:     make(chan struct{}, maxWrites),
		logger:      logger,
	}
}

// StoreEpisode runs the write state machine. The returned receipt is valid
// even when err is non-nil: a degraded write is durable and flat-scan
// retrievable, just absent from the hierarchical index.
func (c *Coordinator) StoreEpisode(ctx context.Context, ep *episode.Episode) (*WriteReceipt, error) {
	receipt := &WriteReceipt{State: StatePending}

	if err := ep.Validate(); err != nil {
		c.writeFailures.Add(1)
		return receipt, engerrors.New(engerrors.TierLogic, "coordinator.store", err)
	}

	// Backpressure: writers block here, not inside any store's lock
	// domain.
	select {
	case c.permits <- struct{}{}:
		defer func() { <-c.permits }()
	case <-ctx.Done():
		return receipt, ctx.Err()
	}

	// Step 1: durable write. The only all-or-nothing step.
	if err := c.store.Write(ctx, ep); err != nil {
		c.writeFailures.Add(1)
		return receipt, err
	}
	receipt.State = StateDurablyWritten
	c.writes.Add(1)

	// Step 2: cache write. Failure is a warning; the episode self-heals
	// via durable-store fallback on the next cache miss.
	if c.cache != nil {
		if err := c.cache.Put(ep, 0); err != nil {
			c.cacheFailures.Add(1)
			c.logger.Warn("cache write failed, continuing",
				"episode_id", ep.ID, "error", err)
		} else {
			receipt.CacheOK = true
		}
	}
	receipt.State = StateCached

	// Step 3: index write. Retried with backoff; persistent failure flags
	// degraded mode because a stored-but-unindexed episode is unreachable
	// via hierarchical retrieval.
	if c.index != nil {
		if err := c.insertIndexed(ctx, ep, receipt); err != nil {
			return receipt, err
		}
	}
	receipt.State = StateIndexed

	// Step 4: text index. Enrichment only; failure is logged, never
	// propagated.
	if c.textIndex != nil {
		if err := c.textIndex.IndexEpisode(ctx, ep); err != nil {
			c.logger.Warn("text index write failed, continuing",
				"episode_id", ep.ID, "error", err)
		}
	}

	receipt.State = StateCommitted
	return receipt, nil
}

// insertIndexed retries the index insert per policy, flagging degraded mode
// on exhaustion.
func (c *Coordinator) insertIndexed(ctx context.Context, ep *episode.Episode, receipt *WriteReceipt) error {
	err := engerrors.Retry(ctx, c.retryPolicy, func() error {
		receipt.IndexAttempts++
		if insertErr := c.index.Insert(ep); insertErr != nil {
			return engerrors.New(engerrors.TierConsistency, "coordinator.index", insertErr)
		}
		return nil
	})
	if err == nil {
		receipt.Indexed = true
		return nil
	}

	c.indexFailures.Add(1)
	c.degraded.Store(true)
	receipt.Degraded = true
	c.logger.Error("index write failed after retries, entering degraded mode",
		"episode_id", ep.ID,
		"attempts", receipt.IndexAttempts,
		"error", err,
	)

	return engerrors.Newf(engerrors.TierConsistency, "coordinator.store",
		"episode %s stored but not indexed: %w", ep.ID, engerrors.ErrDegraded)
}

// DeleteEpisode cascades a deletion across durable store, cache, and
// indexes, in that order. Cache and index misses are normal during a
// cascade; only the durable store reports an absent episode.
func (c *Coordinator) DeleteEpisode(ctx context.Context, id uuid.UUID) error {
	durableErr := c.store.Delete(ctx, id)
	if durableErr != nil && !errors.Is(durableErr, engerrors.ErrNotFound) {
		return durableErr
	}

	if c.cache != nil {
		c.cache.Invalidate(id)
	}
	if c.index != nil {
		c.index.Remove(id)
	}
	if c.textIndex != nil {
		if err := c.textIndex.Remove(id); err != nil {
			c.logger.Warn("text index removal failed", "episode_id", id, "error", err)
		}
	}

	if durableErr == nil {
		c.deletes.Add(1)
	}
	return durableErr
}

// Relate persists a relationship edge. Referential integrity is enforced by
// the durable store; edges cascade when either endpoint is deleted.
func (c *Coordinator) Relate(ctx context.Context, rel *episode.Relationship) error {
	if err := rel.Validate(); err != nil {
		return engerrors.New(engerrors.TierLogic, "coordinator.relate", err)
	}
	return c.store.WriteRelationship(ctx, rel)
}

// RebuildIndex rescans the durable store into the index, repairing the
// coverage gap that caused degraded mode. On success the degraded flag
// clears.
func (c *Coordinator) RebuildIndex(ctx context.Context) error {
	if c.index == nil {
		return engerrors.New(engerrors.TierConfig, "coordinator.rebuild", engerrors.ErrIndexDisabled)
	}

	count := 0
	err := c.store.ScanAll(ctx, func(ep *episode.Episode) error {
		if err := c.index.Insert(ep); err != nil {
			return engerrors.New(engerrors.TierConsistency, "coordinator.rebuild", err)
		}
		count++
		return nil
	})
	if err != nil {
		return err
	}

	c.degraded.Store(false)
	c.logger.Info("index rebuilt", "episodes", count)
	return nil
}

// Degraded reports whether any episode is durably stored but unindexed.
// While true, hierarchical retrieval coverage is incomplete and the flat
// scan remains the correctness path.
func (c *Coordinator) Degraded() bool {
	return c.degraded.Load()
}

// Stats returns a snapshot of coordinator counters.
func (c *Coordinator) Stats() Stats {
	return Stats{
		Writes:        c.writes.Load(),
		WriteFailures: c.writeFailures.Load(),
		CacheFailures: c.cacheFailures.Load(),
		IndexFailures: c.indexFailures.Load(),
		Deletes:       c.deletes.Load(),
		Degraded:      c.degraded.Load(),
	}
}
