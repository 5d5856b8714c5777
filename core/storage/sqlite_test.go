package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adalundhe/engram/core/episode"
	engerrors "github.com/adalundhe/engram/core/errors"
)

// =============================================================================
// SQLite Store Unit Tests
// =============================================================================

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(SQLiteConfig{
		Path: filepath.Join(t.TempDir(), "episodes.db"),
	})
	require.NoError(t, err, "NewSQLiteStore")
	t.Cleanup(func() { store.Close() })
	return store
}

func storedEpisode() *episode.Episode {
	ep := episode.New("backend", "refactor", "split the billing service")
	ep.Complete(episode.OutcomeSuccess, 0.8)
	ep.Context = map[string]string{"ticket": "ENG-421"}
	ep.Metadata = map[string]string{"source": "ci"}
	ep.Embedding = []float32{0.1, -0.5, 0.9}
	return ep
}

func TestSQLiteStore_WriteReadRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	ep := storedEpisode()

	require.NoError(t, store.Write(ctx, ep))

	got, err := store.Read(ctx, ep.ID)
	require.NoError(t, err)

	assert.Equal(t, ep.ID, got.ID)
	assert.Equal(t, ep.Domain, got.Domain)
	assert.Equal(t, ep.TaskType, got.TaskType)
	assert.Equal(t, ep.Description, got.Description)
	assert.Equal(t, ep.Outcome, got.Outcome)
	assert.Equal(t, ep.Reward, got.Reward)
	assert.Equal(t, ep.Context, got.Context)
	assert.Equal(t, ep.Metadata, got.Metadata)
	assert.Equal(t, ep.Embedding, got.Embedding)
	assert.True(t, ep.StartTime.Equal(got.StartTime), "start time survives the round trip")
	assert.True(t, ep.EndTime.Equal(got.EndTime), "end time survives the round trip")
}

func TestSQLiteStore_WriteReplacesExisting(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	ep := storedEpisode()

	require.NoError(t, store.Write(ctx, ep))
	ep.Description = "updated description"
	require.NoError(t, store.Write(ctx, ep))

	got, err := store.Read(ctx, ep.ID)
	require.NoError(t, err)
	assert.Equal(t, "updated description", got.Description)
}

func TestSQLiteStore_WriteRejectsInvalid(t *testing.T) {
	store := newTestStore(t)

	err := store.Write(context.Background(), &episode.Episode{ID: uuid.New()})
	require.Error(t, err)
	assert.Equal(t, engerrors.TierLogic, engerrors.TierOf(err))
}

func TestSQLiteStore_ReadNotFound(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Read(context.Background(), uuid.New())
	assert.True(t, errors.Is(err, engerrors.ErrNotFound))
}

func TestSQLiteStore_Delete(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	ep := storedEpisode()
	require.NoError(t, store.Write(ctx, ep))

	require.NoError(t, store.Delete(ctx, ep.ID))

	_, err := store.Read(ctx, ep.ID)
	assert.True(t, errors.Is(err, engerrors.ErrNotFound))
}

func TestSQLiteStore_DeleteNotFound(t *testing.T) {
	store := newTestStore(t)

	err := store.Delete(context.Background(), uuid.New())
	assert.True(t, errors.Is(err, engerrors.ErrNotFound))
}

func TestSQLiteStore_ScanAll(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	want := map[uuid.UUID]bool{}
	for i := 0; i < 5; i++ {
		ep := storedEpisode()
		require.NoError(t, store.Write(ctx, ep))
		want[ep.ID] = true
	}

	seen := map[uuid.UUID]bool{}
	err := store.ScanAll(ctx, func(ep *episode.Episode) error {
		seen[ep.ID] = true
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, want, seen)
}

func TestSQLiteStore_ScanAllPropagatesCallbackError(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.Write(ctx, storedEpisode()))

	sentinel := errors.New("stop")
	err := store.ScanAll(ctx, func(*episode.Episode) error { return sentinel })
	assert.True(t, errors.Is(err, sentinel))
}

func TestSQLiteStore_Persistence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "episodes.db")
	ctx := context.Background()
	ep := storedEpisode()

	store, err := NewSQLiteStore(SQLiteConfig{Path: path})
	require.NoError(t, err)
	require.NoError(t, store.Write(ctx, ep))
	require.NoError(t, store.Close())

	// Reopen and verify the episode survived.
	reopened, err := NewSQLiteStore(SQLiteConfig{Path: path})
	require.NoError(t, err)
	defer reopened.Close()

	got, err := reopened.Read(ctx, ep.ID)
	require.NoError(t, err)
	assert.Equal(t, ep.Description, got.Description)
}

// =============================================================================
// Relationship Tests
// =============================================================================

func TestSQLiteStore_Relationships(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	a, b := storedEpisode(), storedEpisode()
	require.NoError(t, store.Write(ctx, a))
	require.NoError(t, store.Write(ctx, b))

	rel := episode.NewRelationship(a.ID, b.ID, episode.RelationCausedBy)
	require.NoError(t, store.WriteRelationship(ctx, rel))

	// Both endpoints see the edge.
	fromSide, err := store.Relationships(ctx, a.ID)
	require.NoError(t, err)
	require.Len(t, fromSide, 1)
	assert.Equal(t, episode.RelationCausedBy, fromSide[0].Type)

	toSide, err := store.Relationships(ctx, b.ID)
	require.NoError(t, err)
	assert.Len(t, toSide, 1)
}

func TestSQLiteStore_RelationshipRejectsUnknownEndpoint(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	a := storedEpisode()
	require.NoError(t, store.Write(ctx, a))

	rel := episode.NewRelationship(a.ID, uuid.New(), episode.RelationRelatedTo)
	err := store.WriteRelationship(ctx, rel)
	assert.Error(t, err, "foreign keys reject edges to unknown episodes")
}

func TestSQLiteStore_DeleteCascadesRelationships(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	a, b, c := storedEpisode(), storedEpisode(), storedEpisode()
	for _, ep := range []*episode.Episode{a, b, c} {
		require.NoError(t, store.Write(ctx, ep))
	}
	require.NoError(t, store.WriteRelationship(ctx, episode.NewRelationship(a.ID, b.ID, episode.RelationCausedBy)))
	require.NoError(t, store.WriteRelationship(ctx, episode.NewRelationship(b.ID, c.ID, episode.RelationFollows)))

	// Deleting b removes every edge touching it, in both directions.
	require.NoError(t, store.Delete(ctx, b.ID))

	aRels, err := store.Relationships(ctx, a.ID)
	require.NoError(t, err)
	assert.Empty(t, aRels, "edge a->b should be gone")

	cRels, err := store.Relationships(ctx, c.ID)
	require.NoError(t, err)
	assert.Empty(t, cRels, "edge b->c should be gone")
}

func TestSQLiteStore_ForeignKeysHoldOnEveryPooledConnection(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	a, b := storedEpisode(), storedEpisode()
	require.NoError(t, store.Write(ctx, a))
	require.NoError(t, store.Write(ctx, b))
	require.NoError(t, store.WriteRelationship(ctx, episode.NewRelationship(a.ID, b.ID, episode.RelationCausedBy)))

	// Delete from inside a scan callback: the open scan pins one pooled
	// connection, so the delete runs on a second one. The cascade must
	// fire there too.
	deleted := false
	err := store.ScanAll(ctx, func(ep *episode.Episode) error {
		if !deleted {
			deleted = true
			return store.Delete(ctx, a.ID)
		}
		return nil
	})
	require.NoError(t, err)

	rels, err := store.Relationships(ctx, b.ID)
	require.NoError(t, err)
	assert.Empty(t, rels, "cascade must remove the edge on every connection")

	// Endpoint checks must also hold off the primary connection.
	err = store.ScanAll(ctx, func(ep *episode.Episode) error {
		dangling := episode.NewRelationship(b.ID, uuid.New(), episode.RelationRelatedTo)
		return store.WriteRelationship(ctx, dangling)
	})
	assert.Error(t, err, "dangling edge rejected even on a second connection")
}

func TestSQLiteStore_DeleteRelationship(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	a, b := storedEpisode(), storedEpisode()
	require.NoError(t, store.Write(ctx, a))
	require.NoError(t, store.Write(ctx, b))
	require.NoError(t, store.WriteRelationship(ctx, episode.NewRelationship(a.ID, b.ID, episode.RelationSimilarTo)))

	require.NoError(t, store.DeleteRelationship(ctx, a.ID, b.ID, episode.RelationSimilarTo))

	rels, err := store.Relationships(ctx, a.ID)
	require.NoError(t, err)
	assert.Empty(t, rels)

	// Deleting an absent edge is a no-op.
	assert.NoError(t, store.DeleteRelationship(ctx, a.ID, b.ID, episode.RelationSimilarTo))
}
