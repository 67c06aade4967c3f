package graphstore_test

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ob-labs/personamem-go/pkg/graphstore"
)

func TestUpsertEntityIdempotent(t *testing.T) {
	g := graphstore.New()
	mem1, mem2 := uuid.New(), uuid.New()

	id1, err := g.UpsertEntity("p1", "  Alice  ", "person", mem1, 0.6)
	require.NoError(t, err)
	id2, err := g.UpsertEntity("p1", "alice", "person", mem2, 0.9)
	require.NoError(t, err)

	assert.Equal(t, id1, id2, "same canonical name and type must merge into one entity")

	results, err := g.SearchEntities("p1", "alice", graphstore.SearchOptions{Limit: 10})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, float32(0.9), results[0].Confidence)
	assert.ElementsMatch(t, []uuid.UUID{mem1, mem2}, results[0].Mentions)
}

func TestUpsertRelationshipSmoothing(t *testing.T) {
	g := graphstore.New()
	mem := uuid.New()
	alice, _ := g.UpsertEntity("p1", "Alice", "person", mem, 0.9)
	acme, _ := g.UpsertEntity("p1", "Acme", "org", mem, 0.9)

	_, err := g.UpsertRelationship("p1", alice, acme, "works_at", 0.8, mem)
	require.NoError(t, err)
	_, err = g.UpsertRelationship("p1", alice, acme, "works_at", 1.0, mem)
	require.NoError(t, err)

	related, err := g.FindRelated("p1", alice, graphstore.TraversalOptions{MaxDepth: 1})
	require.NoError(t, err)
	require.Len(t, related, 1)
	assert.InDelta(t, 0.6*(0.7*0.8+0.3*1.0), related[0].Score, 1e-5)
}

func TestFindRelatedMultiHop(t *testing.T) {
	g := graphstore.New()
	mem := uuid.New()
	alice, _ := g.UpsertEntity("p1", "Alice", "person", mem, 0.9)
	acme, _ := g.UpsertEntity("p1", "Acme", "org", mem, 0.9)
	paris, _ := g.UpsertEntity("p1", "Paris", "place", mem, 0.9)

	_, err := g.UpsertRelationship("p1", alice, acme, "works_at", 1.0, mem)
	require.NoError(t, err)
	_, err = g.UpsertRelationship("p1", acme, paris, "hq_in", 1.0, mem)
	require.NoError(t, err)

	related, err := g.FindRelated("p1", alice, graphstore.TraversalOptions{MaxDepth: 2})
	require.NoError(t, err)
	require.Len(t, related, 2)

	byID := map[uuid.UUID]graphstore.Related{}
	for _, r := range related {
		byID[r.EntityID] = r
	}
	assert.Equal(t, 1, byID[acme].Depth)
	assert.Equal(t, 2, byID[paris].Depth)
	assert.Less(t, byID[paris].Score, byID[acme].Score)
}

func TestCleanupOrphanedEntitiesCascades(t *testing.T) {
	g := graphstore.New()
	mem := uuid.New()
	alice, _ := g.UpsertEntity("p1", "Alice", "person", mem, 0.9)
	acme, _ := g.UpsertEntity("p1", "Acme", "org", mem, 0.9)
	_, err := g.UpsertRelationship("p1", alice, acme, "works_at", 1.0, mem)
	require.NoError(t, err)

	g.RemoveMentionsForMemory("p1", mem)
	require.NoError(t, g.CleanupOrphanedEntities("p1"))

	results, err := g.SearchEntities("p1", "", graphstore.SearchOptions{Limit: 10})
	require.NoError(t, err)
	assert.Empty(t, results)

	related, err := g.FindRelated("p1", alice, graphstore.TraversalOptions{MaxDepth: 2})
	assert.ErrorIs(t, err, graphstore.ErrNotFound)
	assert.Empty(t, related)
}

func TestPersonaIsolation(t *testing.T) {
	g := graphstore.New()
	mem := uuid.New()
	_, err := g.UpsertEntity("p1", "Secret", "fact", mem, 0.9)
	require.NoError(t, err)

	results, err := g.SearchEntities("p2", "secret", graphstore.SearchOptions{Limit: 10})
	require.NoError(t, err)
	assert.Empty(t, results)
}
