// Package config loads and validates the retrieval engine configuration.
// All numeric knobs are range-checked at load time: invalid configuration is
// a startup error, never a runtime surprise.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration for the engine.
type Config struct {
	Storage     StorageConfig     `yaml:"storage"`
	Cache       CacheConfig       `yaml:"cache"`
	Index       IndexConfig       `yaml:"index"`
	Retrieval   RetrievalConfig   `yaml:"retrieval"`
	Consistency ConsistencyConfig `yaml:"consistency"`
}

// StorageConfig configures the durable SQLite store.
type StorageConfig struct {
	// Path to the SQLite database file.
	Path string `yaml:"path"`
}

// CacheConfig configures the episode read cache.
type CacheConfig struct {
	// MaxCost is the maximum cache cost in bytes.
	MaxCost int64 `yaml:"max_cost"`

	// NumCounters sizes the admission policy frequency sketch.
	NumCounters int64 `yaml:"num_counters"`

	// TTL is how long a cached episode stays valid.
	TTL time.Duration `yaml:"ttl"`
}

// IndexConfig configures the spatiotemporal index.
type IndexConfig struct {
	// Enabled toggles the hierarchical index. When false, all retrieval
	// uses the flat-scan path.
	Enabled bool `yaml:"enabled"`

	// WriteRetries bounds index insertion retries after a successful
	// durable write.
	WriteRetries int `yaml:"write_retries"`

	// WriteBackoff is the initial backoff between index write retries.
	WriteBackoff time.Duration `yaml:"write_backoff"`
}

// RetrievalConfig configures scoring and re-ranking.
type RetrievalConfig struct {
	// Lambda is the MMR diversity trade-off in [0, 1]: 1 is pure
	// relevance, 0 is pure diversity.
	Lambda float64 `yaml:"lambda"`

	// TemporalBias is the recency bias beta in [0, 1]: 0 disables
	// temporal weighting.
	TemporalBias float64 `yaml:"temporal_bias"`

	// MaxClusters bounds how many time buckets the hierarchical retriever
	// scores before narrowing.
	MaxClusters int `yaml:"max_clusters"`

	// ClusterCap bounds candidates per bucket during narrowing.
	ClusterCap int `yaml:"cluster_cap"`

	// PartialCredit is the domain/task score on mismatch.
	PartialCredit float64 `yaml:"partial_credit"`

	// EmbeddingDimension is the expected query vector dimension. Zero
	// disables the check.
	EmbeddingDimension int `yaml:"embedding_dimension"`
}

// ConsistencyConfig configures the write coordinator.
type ConsistencyConfig struct {
	// MaxConcurrentWrites bounds concurrent store_episode operations so
	// write bursts cannot starve readers or exhaust store connections.
	MaxConcurrentWrites int `yaml:"max_concurrent_writes"`
}

// Default returns the configuration used when no file is supplied.
func Default() *Config {
	return &Config{
		Storage: StorageConfig{
			Path: ".engram/episodes.db",
		},
		Cache: CacheConfig{
			MaxCost:     1 << 27, // 128MB
			NumCounters: 1e6,
			TTL:         5 * time.Minute,
		},
		Index: IndexConfig{
			Enabled:      true,
			WriteRetries: 3,
			WriteBackoff: 50 * time.Millisecond,
		},
		Retrieval: RetrievalConfig{
			Lambda:        0.7,
			TemporalBias:  0.3,
			MaxClusters:   5,
			ClusterCap:    200,
			PartialCredit: 0.0,
		},
		Consistency: ConsistencyConfig{
			MaxConcurrentWrites: 16,
		},
	}
}

// Load reads a YAML config file, applies defaults for zero values, and
// validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate range-checks every knob. Out-of-range values are configuration
// errors surfaced before the engine starts.
func (c *Config) Validate() error {
	if c.Retrieval.Lambda < 0.0 || c.Retrieval.Lambda > 1.0 {
		return fmt.Errorf("retrieval.lambda must be in [0.0, 1.0], got %v", c.Retrieval.Lambda)
	}
	if c.Retrieval.TemporalBias < 0.0 || c.Retrieval.TemporalBias > 1.0 {
		return fmt.Errorf("retrieval.temporal_bias must be in [0.0, 1.0], got %v", c.Retrieval.TemporalBias)
	}
	if c.Retrieval.PartialCredit < 0.0 || c.Retrieval.PartialCredit > 1.0 {
		return fmt.Errorf("retrieval.partial_credit must be in [0.0, 1.0], got %v", c.Retrieval.PartialCredit)
	}
	if c.Retrieval.MaxClusters <= 0 {
		return fmt.Errorf("retrieval.max_clusters must be positive, got %d", c.Retrieval.MaxClusters)
	}
	if c.Retrieval.ClusterCap <= 0 {
		return fmt.Errorf("retrieval.cluster_cap must be positive, got %d", c.Retrieval.ClusterCap)
	}
	if c.Retrieval.EmbeddingDimension < 0 {
		return fmt.Errorf("retrieval.embedding_dimension must not be negative, got %d", c.Retrieval.EmbeddingDimension)
	}
	if c.Index.WriteRetries < 0 {
		return fmt.Errorf("index.write_retries must not be negative, got %d", c.Index.WriteRetries)
	}
	if c.Index.WriteBackoff < 0 {
		return fmt.Errorf("index.write_backoff must not be negative, got %v", c.Index.WriteBackoff)
	}
	if c.Consistency.MaxConcurrentWrites <= 0 {
		return fmt.Errorf("consistency.max_concurrent_writes must be positive, got %d", c.Consistency.MaxConcurrentWrites)
	}
	if c.Cache.TTL < 0 {
		return fmt.Errorf("cache.ttl must not be negative, got %v", c.Cache.TTL)
	}
	return nil
}
