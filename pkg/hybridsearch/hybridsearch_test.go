package hybridsearch_test

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ob-labs/personamem-go/pkg/graphstore"
	"github.com/ob-labs/personamem-go/pkg/hybridsearch"
	"github.com/ob-labs/personamem-go/pkg/vectorstore"
)

type fakeVectorStore struct {
	hits    []vectorstore.SearchHit
	vectors map[uuid.UUID][]float32
	metas   map[uuid.UUID]vectorstore.Metadata
}

func (f *fakeVectorStore) Search(query []float32, opts vectorstore.SearchOptions) ([]vectorstore.SearchHit, error) {
	return f.hits, nil
}

func (f *fakeVectorStore) GetVector(id uuid.UUID) ([]float32, vectorstore.Metadata, error) {
	vec, ok := f.vectors[id]
	if !ok {
		return nil, vectorstore.Metadata{}, vectorstore.ErrNotFound
	}
	return vec, f.metas[id], nil
}

type fakeGraphStore struct {
	mentions map[uuid.UUID][]uuid.UUID
	related  map[uuid.UUID][]graphstore.Related
	entities map[uuid.UUID]graphstore.Entity
}

func (f *fakeGraphStore) MentionsOf(personaID string, memoryID uuid.UUID) []uuid.UUID {
	return f.mentions[memoryID]
}

func (f *fakeGraphStore) FindRelated(personaID string, entityID uuid.UUID, opts graphstore.TraversalOptions) ([]graphstore.Related, error) {
	return f.related[entityID], nil
}

func (f *fakeGraphStore) Entities(personaID string, entityIDs []uuid.UUID) []graphstore.Entity {
	out := make([]graphstore.Entity, 0, len(entityIDs))
	for _, id := range entityIDs {
		if e, ok := f.entities[id]; ok {
			out = append(out, e)
		}
	}
	return out
}

func TestSearchWithoutGraphExpansionEqualsVectorOrder(t *testing.T) {
	mem1, mem2 := uuid.New(), uuid.New()
	vs := &fakeVectorStore{hits: []vectorstore.SearchHit{
		{ID: mem1, Similarity: 0.9, Metadata: vectorstore.Metadata{Importance: 0.5}},
		{ID: mem2, Similarity: 0.7, Metadata: vectorstore.Metadata{Importance: 0.5}},
	}}
	gs := &fakeGraphStore{}

	out, err := hybridsearch.Search(context.Background(), "p1", []float32{1, 0}, vs, gs, hybridsearch.Options{Limit: 10})
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, mem1, out[0].MemoryID)
	assert.Equal(t, mem2, out[1].MemoryID)
}

func TestSearchGraphExpansionMarksExpandedAndBoosted(t *testing.T) {
	memAlice, memParis := uuid.New(), uuid.New()
	alice, acme, paris := uuid.New(), uuid.New(), uuid.New()

	vs := &fakeVectorStore{
		hits: []vectorstore.SearchHit{
			{ID: memAlice, Similarity: 0.9, Metadata: vectorstore.Metadata{Importance: 0.5, MemoryType: "fact"}},
		},
		vectors: map[uuid.UUID][]float32{memParis: {0.8, 0.2}},
		metas:   map[uuid.UUID]vectorstore.Metadata{memParis: {Importance: 0.5, MemoryType: "fact"}},
	}
	gs := &fakeGraphStore{
		mentions: map[uuid.UUID][]uuid.UUID{memAlice: {alice, acme}},
		related: map[uuid.UUID][]graphstore.Related{
			alice: {{EntityID: acme, Depth: 1, Score: 0.6}, {EntityID: paris, Depth: 2, Score: 0.36}},
			acme:  {{EntityID: paris, Depth: 1, Score: 0.6}},
		},
		entities: map[uuid.UUID]graphstore.Entity{
			alice: {ID: alice, Mentions: []uuid.UUID{memAlice}},
			acme:  {ID: acme, Mentions: []uuid.UUID{memAlice}},
			paris: {ID: paris, Mentions: []uuid.UUID{memParis}},
		},
	}

	out, err := hybridsearch.Search(context.Background(), "p1", []float32{1, 0}, vs, gs, hybridsearch.Options{
		Limit: 10, UseGraphExpansion: true, GraphDepth: 2, GraphWeight: 0.3,
	})
	require.NoError(t, err)
	require.Len(t, out, 2)

	byID := map[uuid.UUID]hybridsearch.Candidate{}
	for _, c := range out {
		byID[c.MemoryID] = c
	}
	assert.True(t, byID[memAlice].GraphBoosted)
	assert.True(t, byID[memParis].GraphExpanded)
	assert.Greater(t, byID[memParis].VecScore, float32(0))
}

func TestSearchFiltersByMemoryType(t *testing.T) {
	mem := uuid.New()
	vs := &fakeVectorStore{hits: []vectorstore.SearchHit{
		{ID: mem, Similarity: 0.9, Metadata: vectorstore.Metadata{Importance: 0.5, MemoryType: "fact"}},
	}}
	gs := &fakeGraphStore{}

	out, err := hybridsearch.Search(context.Background(), "p1", []float32{1, 0}, vs, gs, hybridsearch.Options{
		Limit: 10, MemoryTypes: []string{"conversation"},
	})
	require.NoError(t, err)
	assert.Empty(t, out)
}
