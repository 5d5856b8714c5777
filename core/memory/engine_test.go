package memory

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adalundhe/engram/core/config"
	"github.com/adalundhe/engram/core/embedding"
	"github.com/adalundhe/engram/core/episode"
	engerrors "github.com/adalundhe/engram/core/errors"
	"github.com/adalundhe/engram/core/retrieval"
)

// =============================================================================
// Test Fixture
// =============================================================================

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Storage.Path = filepath.Join(t.TempDir(), "episodes.db")
	return cfg
}

func newTestEngine(t *testing.T, cfg *config.Config) *Engine {
	t.Helper()
	if cfg == nil {
		cfg = testConfig(t)
	}
	eng, err := NewEngine(cfg)
	require.NoError(t, err, "NewEngine")
	t.Cleanup(func() { eng.Close() })
	return eng
}

func storeCompleted(t *testing.T, eng *Engine, domain, taskType, description string) *episode.Episode {
	t.Helper()
	ep := episode.New(domain, taskType, description)
	ep.Complete(episode.OutcomeSuccess, 1.0)
	_, err := eng.StoreEpisode(context.Background(), ep)
	require.NoError(t, err, "StoreEpisode")
	return ep
}

// =============================================================================
// Engine Lifecycle Tests
// =============================================================================

func TestNewEngine_RejectsInvalidConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.Retrieval.Lambda = 1.5

	_, err := NewEngine(cfg)
	require.Error(t, err)
	assert.Equal(t, engerrors.TierConfig, engerrors.TierOf(err))
}

func TestEngine_RehydratesIndexesOnStartup(t *testing.T) {
	cfg := testConfig(t)

	eng, err := NewEngine(cfg)
	require.NoError(t, err)
	ep := storeCompleted(t, eng, "backend", "refactor", "first run episode")
	require.NoError(t, eng.Close())

	// A fresh engine over the same database must serve the episode through
	// the hierarchical path.
	reopened := newTestEngine(t, cfg)

	q := reopened.NewQuery()
	q.Domain = "backend"
	result, err := reopened.Retrieve(context.Background(), q)
	require.NoError(t, err)

	require.Len(t, result.Episodes, 1)
	assert.Equal(t, ep.ID, result.Episodes[0].ID)
	assert.Equal(t, "hierarchical", result.Strategy)
}

func TestEngine_NewQuerySeedsConfiguredTuning(t *testing.T) {
	cfg := testConfig(t)
	cfg.Retrieval.Lambda = 0.4
	cfg.Retrieval.TemporalBias = 0.2
	eng := newTestEngine(t, cfg)

	q := eng.NewQuery()
	assert.Equal(t, 0.4, q.Lambda)
	assert.Equal(t, 0.2, q.TemporalBias)
	assert.Equal(t, DefaultLimit, q.Limit)
}

// =============================================================================
// Retrieval Tests
// =============================================================================

func TestEngine_StoreAndRetrieve(t *testing.T) {
	eng := newTestEngine(t, nil)
	ctx := context.Background()

	ep := storeCompleted(t, eng, "backend", "refactor", "split the billing service")
	storeCompleted(t, eng, "frontend", "feature", "added SSO login")

	q := eng.NewQuery()
	q.Domain = "backend"
	result, err := eng.Retrieve(ctx, q)
	require.NoError(t, err)

	require.Len(t, result.Episodes, 1)
	assert.Equal(t, ep.ID, result.Episodes[0].ID)
	assert.Equal(t, "hierarchical", result.Strategy)
	assert.False(t, result.Degraded)
}

func TestEngine_RetrieveValidatesQuery(t *testing.T) {
	eng := newTestEngine(t, nil)

	q := eng.NewQuery()
	q.Lambda = 2.0
	_, err := eng.Retrieve(context.Background(), q)
	assert.True(t, errors.Is(err, engerrors.ErrInvalidQuery))
}

func TestEngine_RetrieveChecksVectorDimension(t *testing.T) {
	cfg := testConfig(t)
	cfg.Retrieval.EmbeddingDimension = 4
	eng := newTestEngine(t, cfg)

	q := eng.NewQuery()
	q.Vector = []float32{1, 0} // wrong dimension
	_, err := eng.Retrieve(context.Background(), q)
	assert.True(t, errors.Is(err, engerrors.ErrDimensionMismatch))

	q.Vector = []float32{1, 0, 0, 0}
	_, err = eng.Retrieve(context.Background(), q)
	assert.NoError(t, err, "matching dimension passes")
}

func TestEngine_RetrieveAppliesLimit(t *testing.T) {
	eng := newTestEngine(t, nil)

	for i := 0; i < 6; i++ {
		storeCompleted(t, eng, "backend", "refactor", "episode")
	}

	q := eng.NewQuery()
	q.Domain = "backend"
	q.Limit = 3
	result, err := eng.Retrieve(context.Background(), q)
	require.NoError(t, err)
	assert.Len(t, result.Episodes, 3)
}

func TestEngine_FlatScanWhenIndexDisabled(t *testing.T) {
	cfg := testConfig(t)
	cfg.Index.Enabled = false
	eng := newTestEngine(t, cfg)

	ep := storeCompleted(t, eng, "backend", "refactor", "no index here")

	q := eng.NewQuery()
	q.Domain = "backend"
	result, err := eng.Retrieve(context.Background(), q)
	require.NoError(t, err)

	assert.Equal(t, "flat_scan", result.Strategy)
	require.Len(t, result.Episodes, 1)
	assert.Equal(t, ep.ID, result.Episodes[0].ID)
}

func TestEngine_StrategiesAgreeOnResults(t *testing.T) {
	// The flat scan is the correctness reference: both strategies must
	// return the same episode set for the same hard filters.
	indexed := testConfig(t)
	flat := testConfig(t)
	flat.Index.Enabled = false

	ref := time.Now().UTC()
	episodes := []*episode.Episode{}
	for i := 0; i < 5; i++ {
		ep := episode.New("backend", "refactor", "shared corpus episode")
		ep.Complete(episode.OutcomeSuccess, 1.0)
		episodes = append(episodes, ep)
	}

	collect := func(cfg *config.Config) map[uuid.UUID]bool {
		eng := newTestEngine(t, cfg)
		for _, ep := range episodes {
			_, err := eng.StoreEpisode(context.Background(), ep.Clone())
			require.NoError(t, err)
		}
		q := eng.NewQuery()
		q.Domain = "backend"
		q.RefTime = ref
		q.Limit = 10
		result, err := eng.Retrieve(context.Background(), q)
		require.NoError(t, err)

		ids := make(map[uuid.UUID]bool, len(result.Episodes))
		for _, scored := range result.Episodes {
			ids[scored.ID] = true
		}
		return ids
	}

	assert.Equal(t, collect(flat), collect(indexed),
		"hierarchical and flat-scan must agree on the result set")
}

func TestEngine_FreeTextRetrieval(t *testing.T) {
	eng := newTestEngine(t, nil)

	match := storeCompleted(t, eng, "backend", "migration", "database migration rolled back after deadlock")
	storeCompleted(t, eng, "backend", "refactor", "renamed logging helpers")

	q := eng.NewQuery()
	q.Domain = "backend"
	q.Text = "database migration deadlock"
	q.TemporalBias = 0

	result, err := eng.Retrieve(context.Background(), q)
	require.NoError(t, err)
	require.NotEmpty(t, result.Episodes)
	assert.Equal(t, match.ID, result.Episodes[0].ID, "full-text match ranks first")
}

// =============================================================================
// Query Cache Tests
// =============================================================================

func TestEngine_QueryCacheHitsWithExplicitRefTime(t *testing.T) {
	eng := newTestEngine(t, nil)
	storeCompleted(t, eng, "backend", "refactor", "cached query target")

	q := eng.NewQuery()
	q.Domain = "backend"
	q.RefTime = time.Now().UTC()

	_, err := eng.Retrieve(context.Background(), q)
	require.NoError(t, err)
	_, err = eng.Retrieve(context.Background(), q)
	require.NoError(t, err)

	stats := eng.Stats()
	assert.Equal(t, int64(1), stats.QueryCacheHits)
	assert.Equal(t, int64(1), stats.QueryCacheMisses)
}

func TestEngine_QueryCacheSkipsNowAnchoredQueries(t *testing.T) {
	eng := newTestEngine(t, nil)
	storeCompleted(t, eng, "backend", "refactor", "uncacheable")

	q := eng.NewQuery()
	q.Domain = "backend" // RefTime zero

	_, err := eng.Retrieve(context.Background(), q)
	require.NoError(t, err)
	_, err = eng.Retrieve(context.Background(), q)
	require.NoError(t, err)

	stats := eng.Stats()
	assert.Equal(t, int64(0), stats.QueryCacheHits)
	assert.Equal(t, int64(0), stats.QueryCacheMisses)
}

func TestEngine_WritesInvalidateQueryCache(t *testing.T) {
	eng := newTestEngine(t, nil)
	storeCompleted(t, eng, "backend", "refactor", "first")

	q := eng.NewQuery()
	q.Domain = "backend"
	q.RefTime = time.Now().UTC()

	first, err := eng.Retrieve(context.Background(), q)
	require.NoError(t, err)
	require.Len(t, first.Episodes, 1)

	// A new write must purge the memoized result.
	storeCompleted(t, eng, "backend", "refactor", "second")

	second, err := eng.Retrieve(context.Background(), q)
	require.NoError(t, err)
	assert.Len(t, second.Episodes, 2, "stale cached results must not survive a write")
}

// =============================================================================
// Write Path Tests
// =============================================================================

func TestEngine_EmbedderBackfillsMissingVector(t *testing.T) {
	cfg := testConfig(t)
	eng, err := NewEngine(cfg, WithEmbedder(embedding.NewHashingEmbedder(64)))
	require.NoError(t, err)
	t.Cleanup(func() { eng.Close() })

	ep := episode.New("backend", "refactor", "embed this description")
	ep.Complete(episode.OutcomeSuccess, 1.0)
	_, err = eng.StoreEpisode(context.Background(), ep)
	require.NoError(t, err)

	stored, err := eng.Episode(context.Background(), ep.ID)
	require.NoError(t, err)
	assert.Len(t, stored.Embedding, 64, "missing embeddings are backfilled at write time")
}

func TestEngine_DeleteEpisode(t *testing.T) {
	eng := newTestEngine(t, nil)
	ctx := context.Background()
	ep := storeCompleted(t, eng, "backend", "refactor", "short lived")

	require.NoError(t, eng.DeleteEpisode(ctx, ep.ID))

	_, err := eng.Episode(ctx, ep.ID)
	assert.True(t, errors.Is(err, engerrors.ErrNotFound))

	q := eng.NewQuery()
	q.Domain = "backend"
	result, err := eng.Retrieve(ctx, q)
	require.NoError(t, err)
	assert.Empty(t, result.Episodes, "deleted episodes must not be retrievable")
}

func TestEngine_DeleteAbsentEpisode(t *testing.T) {
	eng := newTestEngine(t, nil)
	err := eng.DeleteEpisode(context.Background(), uuid.New())
	assert.True(t, errors.Is(err, engerrors.ErrNotFound))
}

func TestEngine_RelateAndRelationships(t *testing.T) {
	eng := newTestEngine(t, nil)
	ctx := context.Background()

	a := storeCompleted(t, eng, "backend", "incident", "deploy broke checkout")
	b := storeCompleted(t, eng, "backend", "rollback", "rolled back the deploy")

	rel := episode.NewRelationship(b.ID, a.ID, episode.RelationCausedBy)
	require.NoError(t, eng.Relate(ctx, rel))

	rels, err := eng.Relationships(ctx, a.ID)
	require.NoError(t, err)
	require.Len(t, rels, 1)
	assert.Equal(t, episode.RelationCausedBy, rels[0].Type)

	// Deleting an endpoint cascades the edge away.
	require.NoError(t, eng.DeleteEpisode(ctx, b.ID))
	rels, err = eng.Relationships(ctx, a.ID)
	require.NoError(t, err)
	assert.Empty(t, rels)
}

// =============================================================================
// Fallback and Degraded-Mode Tests
// =============================================================================

// failingStrategy always errors, forcing the engine onto the flat scan.
type failingStrategy struct{}

func (failingStrategy) Name() string { return "failing" }

func (failingStrategy) Retrieve(context.Context, *retrieval.Query) (*retrieval.Result, error) {
	return nil, errors.New("index backend unavailable")
}

// brokenIndexer rejects every insert, driving the coordinator into degraded
// mode on the first write.
type brokenIndexer struct{}

func (brokenIndexer) Insert(*episode.Episode) error { return errors.New("index full") }

func (brokenIndexer) Remove(uuid.UUID) bool { return false }

func TestEngine_HierarchicalErrorFallsBackToFlatScan(t *testing.T) {
	cfg := testConfig(t)
	eng, err := NewEngine(cfg, WithHierarchicalStrategy(failingStrategy{}))
	require.NoError(t, err)
	t.Cleanup(func() { eng.Close() })

	ep := storeCompleted(t, eng, "backend", "refactor", "served despite index failure")

	q := eng.NewQuery()
	q.Domain = "backend"
	result, err := eng.Retrieve(context.Background(), q)
	require.NoError(t, err, "a failing hierarchical path must not fail the query")

	assert.Equal(t, "flat_scan", result.Strategy)
	require.Len(t, result.Episodes, 1)
	assert.Equal(t, ep.ID, result.Episodes[0].ID)
	assert.False(t, result.Degraded)
	assert.Equal(t, int64(1), eng.Stats().Fallbacks, "every fallback is counted")
}

func TestEngine_DegradedModeRoutesToFlatScan(t *testing.T) {
	cfg := testConfig(t)
	cfg.Index.WriteRetries = 1
	cfg.Index.WriteBackoff = time.Millisecond
	eng, err := NewEngine(cfg, WithIndexer(brokenIndexer{}))
	require.NoError(t, err)
	t.Cleanup(func() { eng.Close() })

	ep := episode.New("backend", "refactor", "stored but never indexed")
	ep.Complete(episode.OutcomeSuccess, 1.0)
	receipt, err := eng.StoreEpisode(context.Background(), ep)
	require.Error(t, err, "exhausted index retries surface to the writer")
	assert.True(t, errors.Is(err, engerrors.ErrDegraded))
	assert.True(t, receipt.Degraded)
	require.True(t, eng.Degraded())

	// The write is durable, so the flat scan serves it; the result is
	// marked degraded and the detour is counted.
	q := eng.NewQuery()
	q.Domain = "backend"
	result, err := eng.Retrieve(context.Background(), q)
	require.NoError(t, err)

	assert.Equal(t, "flat_scan", result.Strategy)
	assert.True(t, result.Degraded, "served results must carry the degraded marker")
	require.Len(t, result.Episodes, 1)
	assert.Equal(t, ep.ID, result.Episodes[0].ID)
	assert.Equal(t, int64(1), eng.Stats().Fallbacks)
}

// =============================================================================
// Query Key Tests
// =============================================================================

func TestEngine_QueryKeySeparatesFreeFormFields(t *testing.T) {
	eng := newTestEngine(t, nil)
	ref := time.Now().UTC()

	a := &retrieval.Query{Domain: "a", TaskType: "b|x", RefTime: ref}
	b := &retrieval.Query{Domain: "a|b", TaskType: "x", RefTime: ref}

	keyA, ok := eng.queryKey(a)
	require.True(t, ok)
	keyB, ok := eng.queryKey(b)
	require.True(t, ok)
	assert.NotEqual(t, keyA, keyB, "separator characters in values must not merge keys")
}

// =============================================================================
// Stats Tests
// =============================================================================

func TestEngine_Stats(t *testing.T) {
	eng := newTestEngine(t, nil)
	storeCompleted(t, eng, "backend", "refactor", "counted")

	stats := eng.Stats()
	assert.Equal(t, int64(1), stats.Coordinator.Writes)
	require.NotNil(t, stats.Index)
	assert.Equal(t, 1, stats.Index.Entries)
	assert.False(t, stats.Coordinator.Degraded)
}
