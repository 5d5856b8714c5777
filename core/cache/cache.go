// Package cache provides the fast episode read path. A miss is never an
// error, only a signal to fall through to the durable store; the cache is a
// time-limited, invalidatable copy and holds no canonical state.
package cache

import (
	"sync/atomic"
	"time"

	"github.com/dgraph-io/ristretto"
	"github.com/google/uuid"

	"github.com/adalundhe/engram/core/episode"
)

const (
	defaultNumCounters = 1e6
	defaultMaxCost     = 1 << 27 // 128MB
	defaultBufferItems = 64
	defaultTTL         = 5 * time.Minute

	// baseEpisodeCost approximates the fixed per-episode overhead used for
	// cache cost accounting, on top of the embedding bytes.
	baseEpisodeCost = 512
)

// EpisodeCache caches episodes by ID with TTL expiry.
type EpisodeCache struct {
	cache *ristretto.Cache
	ttl   time.Duration

	hits        atomic.Int64
	misses      atomic.Int64
	puts        atomic.Int64
	invalidates atomic.Int64
}

// Config configures the episode cache.
type Config struct {
	NumCounters int64
	MaxCost     int64
	BufferItems int64
	TTL         time.Duration
}

// Stats is a snapshot of cache counters.
type Stats struct {
	Hits        int64 `json:"hits"`
	Misses      int64 `json:"misses"`
	Puts        int64 `json:"puts"`
	Invalidates int64 `json:"invalidates"`
}

// NewEpisodeCache creates an episode cache with the given configuration.
func NewEpisodeCache(cfg *Config) (*EpisodeCache, error) {
	applied := applyDefaults(cfg)

	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: applied.NumCounters,
		MaxCost:     applied.MaxCost,
		BufferItems: applied.BufferItems,
	})
	if err != nil {
		return nil, err
	}

	return &EpisodeCache{cache: cache, ttl: applied.TTL}, nil
}

func applyDefaults(cfg *Config) *Config {
	applied := &Config{
		NumCounters: defaultNumCounters,
		MaxCost:     defaultMaxCost,
		BufferItems: defaultBufferItems,
		TTL:         defaultTTL,
	}
	if cfg == nil {
		return applied
	}
	if cfg.NumCounters > 0 {
		applied.NumCounters = cfg.NumCounters
	}
	if cfg.MaxCost > 0 {
		applied.MaxCost = cfg.MaxCost
	}
	if cfg.BufferItems > 0 {
		applied.BufferItems = cfg.BufferItems
	}
	if cfg.TTL > 0 {
		applied.TTL = cfg.TTL
	}
	return applied
}

// Get returns the cached episode for an ID, or (nil, false) on a miss.
func (c *EpisodeCache) Get(id uuid.UUID) (*episode.Episode, bool) {
	value, found := c.cache.Get(id.String())
	if !found {
		c.misses.Add(1)
		return nil, false
	}

	ep, ok := value.(*episode.Episode)
	if !ok {
		c.misses.Add(1)
		return nil, false
	}

	c.hits.Add(1)
	return ep, true
}

// Put stores an episode copy for the configured TTL. A zero ttl argument
// uses the cache default.
func (c *EpisodeCache) Put(ep *episode.Episode, ttl time.Duration) {
	if ep == nil {
		return
	}
	if ttl <= 0 {
		ttl = c.ttl
	}

	cost := int64(baseEpisodeCost + 4*len(ep.Embedding) + len(ep.Description))
	c.cache.SetWithTTL(ep.ID.String(), ep.Clone(), cost, ttl)
	c.puts.Add(1)
}

// Invalidate drops an episode from the cache. Missing entries are a no-op.
func (c *EpisodeCache) Invalidate(id uuid.UUID) {
	c.cache.Del(id.String())
	c.invalidates.Add(1)
}

// Wait blocks until buffered writes are applied. Used by tests; ristretto
// applies sets asynchronously.
func (c *EpisodeCache) Wait() {
	c.cache.Wait()
}

// Stats returns a snapshot of the counters.
func (c *EpisodeCache) Stats() Stats {
	return Stats{
		Hits:        c.hits.Load(),
		Misses:      c.misses.Load(),
		Puts:        c.puts.Load(),
		Invalidates: c.invalidates.Load(),
	}
}

// Close releases the cache.
func (c *EpisodeCache) Close() {
	c.cache.Close()
}
