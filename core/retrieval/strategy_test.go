package retrieval

import (
	"context"
	"sort"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adalundhe/engram/core/episode"
	engerrors "github.com/adalundhe/engram/core/errors"
)

// =============================================================================
// Fake Store
// =============================================================================

// fakeStore is an in-memory DurableStore for strategy tests.
type fakeStore struct {
	episodes map[uuid.UUID]*episode.Episode
}

func newFakeStore() *fakeStore {
	return &fakeStore{episodes: make(map[uuid.UUID]*episode.Episode)}
}

func (s *fakeStore) Write(_ context.Context, ep *episode.Episode) error {
	s.episodes[ep.ID] = ep
	return nil
}

func (s *fakeStore) Read(_ context.Context, id uuid.UUID) (*episode.Episode, error) {
	ep, ok := s.episodes[id]
	if !ok {
		return nil, engerrors.New(engerrors.TierLogic, "fake.read", engerrors.ErrNotFound)
	}
	return ep, nil
}

func (s *fakeStore) Delete(_ context.Context, id uuid.UUID) error {
	if _, ok := s.episodes[id]; !ok {
		return engerrors.New(engerrors.TierLogic, "fake.delete", engerrors.ErrNotFound)
	}
	delete(s.episodes, id)
	return nil
}

func (s *fakeStore) ScanAll(ctx context.Context, fn func(*episode.Episode) error) error {
	ids := make([]uuid.UUID, 0, len(s.episodes))
	for id := range s.episodes {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })
	for _, id := range ids {
		if err := fn(s.episodes[id]); err != nil {
			return err
		}
	}
	return nil
}

func (s *fakeStore) WriteRelationship(context.Context, *episode.Relationship) error { return nil }
func (s *fakeStore) Relationships(context.Context, uuid.UUID) ([]*episode.Relationship, error) {
	return nil, nil
}
func (s *fakeStore) DeleteRelationship(context.Context, uuid.UUID, uuid.UUID, episode.RelationType) error {
	return nil
}
func (s *fakeStore) Close() error { return nil }

// =============================================================================
// Flat Scan Strategy Tests
// =============================================================================

func newFlatScan(t *testing.T, store *fakeStore) *FlatScanStrategy {
	t.Helper()
	scorer, err := NewScorer(DefaultWeights(), 0, DefaultTemporalHorizon)
	require.NoError(t, err)
	return NewFlatScanStrategy(FlatScanConfig{Store: store, Scorer: scorer})
}

func TestFlatScan_HardFiltersANDSemantics(t *testing.T) {
	store := newFakeStore()
	ctx := context.Background()
	now := time.Now().UTC()

	match := &episode.Episode{ID: uuid.New(), Domain: "backend", TaskType: "refactor", StartTime: now.Add(-time.Hour)}
	wrongTask := &episode.Episode{ID: uuid.New(), Domain: "backend", TaskType: "feature", StartTime: now.Add(-time.Hour)}
	wrongDomain := &episode.Episode{ID: uuid.New(), Domain: "frontend", TaskType: "refactor", StartTime: now.Add(-time.Hour)}
	tooOld := &episode.Episode{ID: uuid.New(), Domain: "backend", TaskType: "refactor", StartTime: now.Add(-100 * 24 * time.Hour)}
	for _, ep := range []*episode.Episode{match, wrongTask, wrongDomain, tooOld} {
		require.NoError(t, store.Write(ctx, ep))
	}

	result, err := newFlatScan(t, store).Retrieve(ctx, &Query{
		Domain:   "backend",
		TaskType: "refactor",
		Since:    now.Add(-7 * 24 * time.Hour),
	})
	require.NoError(t, err)

	require.Len(t, result.Episodes, 1, "all filters combine with AND")
	assert.Equal(t, match.ID, result.Episodes[0].ID)
	assert.Equal(t, "flat_scan", result.Strategy)
}

func TestFlatScan_NoFiltersScansEverything(t *testing.T) {
	store := newFakeStore()
	ctx := context.Background()
	now := time.Now().UTC()

	for i := 0; i < 4; i++ {
		ep := &episode.Episode{ID: uuid.New(), Domain: "backend", TaskType: "refactor", StartTime: now}
		require.NoError(t, store.Write(ctx, ep))
	}

	result, err := newFlatScan(t, store).Retrieve(ctx, &Query{})
	require.NoError(t, err)
	assert.Len(t, result.Episodes, 4)
	assert.True(t, result.CoarseSkipped)
}

func TestFlatScan_EmptyStore(t *testing.T) {
	result, err := newFlatScan(t, newFakeStore()).Retrieve(context.Background(), &Query{Domain: "backend"})
	require.NoError(t, err)
	assert.Empty(t, result.Episodes)
}

func TestFlatScan_CancelledContext(t *testing.T) {
	store := newFakeStore()
	now := time.Now().UTC()
	for i := 0; i < 3; i++ {
		ep := &episode.Episode{ID: uuid.New(), Domain: "backend", TaskType: "refactor", StartTime: now}
		require.NoError(t, store.Write(context.Background(), ep))
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := newFlatScan(t, store).Retrieve(ctx, &Query{Domain: "backend"})
	require.NoError(t, err)
	assert.True(t, result.Partial)
}

func TestFlatScan_OrdersByRelevance(t *testing.T) {
	store := newFakeStore()
	ctx := context.Background()
	ref := time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)

	recent := &episode.Episode{ID: uuid.New(), Domain: "backend", TaskType: "refactor", StartTime: ref.Add(-time.Hour)}
	old := &episode.Episode{ID: uuid.New(), Domain: "backend", TaskType: "refactor", StartTime: ref.Add(-25 * 24 * time.Hour)}
	require.NoError(t, store.Write(ctx, recent))
	require.NoError(t, store.Write(ctx, old))

	result, err := newFlatScan(t, store).Retrieve(ctx, &Query{
		Domain:       "backend",
		RefTime:      ref,
		TemporalBias: 1.0,
	})
	require.NoError(t, err)
	require.Len(t, result.Episodes, 2)

	assert.Equal(t, recent.ID, result.Episodes[0].ID, "temporal bias ranks the recent episode first")
	assert.Greater(t, result.Episodes[0].Relevance, result.Episodes[1].Relevance)
}
