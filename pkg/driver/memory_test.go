package driver

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/graphmend/graphmend/pkg/types"
)

func seed(t *testing.T, store *MemoryStore, id, label, name string) {
	t.Helper()
	err := store.UpsertEntity(context.Background(), &types.Entity{
		ID: id, Label: label,
		Properties: map[string]interface{}{"name": name},
	})
	require.NoError(t, err)
}

func TestMemoryStoreUpsertVersioning(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	seed(t, store, "a", "Unit", "one")
	e, err := store.GetEntity(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, int64(1), e.Version)

	seed(t, store, "a", "Unit", "one again")
	e, err = store.GetEntity(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, int64(2), e.Version)
}

func TestMemoryStoreGetEntityNotFound(t *testing.T) {
	store := NewMemoryStore()
	_, err := store.GetEntity(context.Background(), "nope")
	assert.True(t, types.IsNotFound(err))
}

func TestMemoryStoreRelationshipRequiresEndpoints(t *testing.T) {
	store := NewMemoryStore()
	seed(t, store, "a", "Unit", "one")
	err := store.UpsertRelationship(context.Background(), &types.Relationship{
		ID: "r1", Type: "KNOWS", SourceID: "a", TargetID: "ghost",
	})
	assert.True(t, types.IsNotFound(err))
}

func TestMemoryStoreApplyMerge(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	seed(t, store, "a", "Unit", "one")
	seed(t, store, "b", "Unit", "one ")
	seed(t, store, "x", "Faction", "templars")
	require.NoError(t, store.UpsertRelationship(ctx, &types.Relationship{
		ID: "r1", Type: "BELONGS_TO", SourceID: "b", TargetID: "x",
	}))

	stats, err := store.ApplyMerge(ctx, MergeOp{
		CanonicalID: "a",
		MemberIDs:   []string{"a", "b"},
		Properties:  map[string]interface{}{"name": "one", "points": int64(150)},
		Rewrites: []types.RelationshipRewriteRule{
			{RelationshipID: "r1", Type: "BELONGS_TO", Endpoint: "source", FromID: "b", ToID: "a"},
		},
		ExpectedVersions: map[string]int64{"a": 1, "b": 1},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Rewired)
	assert.Equal(t, 1, stats.DeletedMembers)

	_, err = store.GetEntity(ctx, "b")
	assert.True(t, types.IsNotFound(err))

	a, err := store.GetEntity(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, int64(150), a.Properties["points"])
	assert.Equal(t, int64(2), a.Version)

	rels, err := store.RelationshipsFor(ctx, "a")
	require.NoError(t, err)
	require.Len(t, rels, 1)
	assert.Equal(t, "a", rels[0].SourceID)
}

func TestMemoryStoreApplyMergeDetachesUncoveredEdges(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	seed(t, store, "a", "Unit", "one")
	seed(t, store, "b", "Unit", "one ")
	seed(t, store, "x", "Faction", "templars")
	require.NoError(t, store.UpsertRelationship(ctx, &types.Relationship{
		ID: "r1", Type: "BELONGS_TO", SourceID: "b", TargetID: "x",
	}))
	// Written after the rewrite rules were drafted, so no rule covers it.
	require.NoError(t, store.UpsertRelationship(ctx, &types.Relationship{
		ID: "r2", Type: "SIGHTED_AT", SourceID: "x", TargetID: "b",
	}))

	_, err := store.ApplyMerge(ctx, MergeOp{
		CanonicalID: "a",
		MemberIDs:   []string{"a", "b"},
		Rewrites: []types.RelationshipRewriteRule{
			{RelationshipID: "r1", Type: "BELONGS_TO", Endpoint: "source", FromID: "b", ToID: "a"},
		},
	})
	require.NoError(t, err)

	// The uncovered edge went down with its member; every surviving
	// relationship still has two live endpoints.
	_, relationships, err := store.ExportAll(ctx)
	require.NoError(t, err)
	require.Len(t, relationships, 1)
	assert.Equal(t, "r1", relationships[0].ID)
	for _, r := range relationships {
		_, err := store.GetEntity(ctx, r.SourceID)
		assert.NoError(t, err)
		_, err = store.GetEntity(ctx, r.TargetID)
		assert.NoError(t, err)
	}
}

func TestMemoryStoreApplyMergeVersionConflict(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	seed(t, store, "a", "Unit", "one")
	seed(t, store, "b", "Unit", "one ")
	// Concurrent writer bumps b after versions were captured.
	seed(t, store, "b", "Unit", "changed")

	_, err := store.ApplyMerge(ctx, MergeOp{
		CanonicalID:      "a",
		MemberIDs:        []string{"a", "b"},
		ExpectedVersions: map[string]int64{"a": 1, "b": 1},
	})
	require.Error(t, err)
	assert.True(t, types.IsConflict(err))

	// The conflicted merge left everything in place.
	_, err = store.GetEntity(ctx, "b")
	assert.NoError(t, err)
}

func TestMemoryStoreApplyMergeMissingMember(t *testing.T) {
	store := NewMemoryStore()
	seed(t, store, "a", "Unit", "one")
	_, err := store.ApplyMerge(context.Background(), MergeOp{
		CanonicalID: "a",
		MemberIDs:   []string{"a", "gone"},
	})
	assert.True(t, types.IsNotFound(err))
}

func TestMemoryStoreVectorSearch(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, store.UpsertEntity(ctx, &types.Entity{
		ID: "a", Label: "Unit",
		Properties: map[string]interface{}{"name": "alpha"},
		Embedding:  []float32{1, 0},
	}))
	require.NoError(t, store.UpsertEntity(ctx, &types.Entity{
		ID: "b", Label: "Unit",
		Properties: map[string]interface{}{"name": "beta"},
		Embedding:  []float32{0, 1},
	}))

	ok, err := store.HasVectorIndex(ctx, "Unit")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.HasVectorIndex(ctx, "Faction")
	require.NoError(t, err)
	assert.False(t, ok)

	hits, err := store.SearchByVector(ctx, "Unit", []float32{1, 0}, 1)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "a", hits[0].Entity.ID)
	assert.InDelta(t, 1.0, hits[0].Score, 1e-9)
}

func TestMemoryStoreTextSearch(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	seed(t, store, "a", "Unit", "Gladiator Lancer")
	seed(t, store, "b", "Character", "High Marshal Helbrecht")

	hits, err := store.SearchText(ctx, []string{"marshal"}, nil, 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "b", hits[0].Entity.ID)

	hits, err = store.SearchText(ctx, []string{"marshal"}, []string{"Unit"}, 10)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestMemoryStoreExportImportRoundtrip(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	seed(t, store, "a", "Unit", "one")
	seed(t, store, "b", "Unit", "two")
	require.NoError(t, store.UpsertRelationship(ctx, &types.Relationship{
		ID: "r1", Type: "KNOWS", SourceID: "a", TargetID: "b",
	}))

	entities, relationships, err := store.ExportAll(ctx)
	require.NoError(t, err)
	assert.Len(t, entities, 2)
	assert.Len(t, relationships, 1)

	restored := NewMemoryStore()
	require.NoError(t, restored.ImportAll(ctx, entities, relationships))
	got, _, err := restored.ExportAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, entities, got)
}

func TestMemoryStoreMergeLabels(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	seed(t, store, "a", "person", "one")
	seed(t, store, "b", "Persons", "two")
	seed(t, store, "c", "Person", "three")

	n, err := store.MergeLabels(ctx, "Person", []string{"person", "Persons"})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	labels, err := store.Labels(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"Person"}, labels)
}
