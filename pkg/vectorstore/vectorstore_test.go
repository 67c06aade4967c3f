package vectorstore_test

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ob-labs/personamem-go/pkg/vectorstore"
)

func newStore(indexThreshold int) *vectorstore.Store {
	return vectorstore.New(vectorstore.Config{
		MaxMemoryMB:    4,
		Dimensions:     4,
		M:              8,
		EfConstruction: 64,
		EfSearch:       32,
		Metric:         vectorstore.MetricCosine,
		IndexThreshold: indexThreshold,
	})
}

func TestAddAndSearchSelfRetrieval(t *testing.T) {
	s := newStore(100)
	id := uuid.New()
	require.NoError(t, s.AddVector(id, []float32{1, 0, 0, 0}, vectorstore.Metadata{PersonaID: "p1", MemoryType: "fact"}))

	hits, err := s.Search([]float32{1, 0, 0, 0}, vectorstore.SearchOptions{
		Limit: 5, Filters: vectorstore.Filters{PersonaID: "p1"},
	})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, id, hits[0].ID)
	assert.GreaterOrEqual(t, hits[0].Similarity, float32(0.99))
}

func TestDuplicateID(t *testing.T) {
	s := newStore(100)
	id := uuid.New()
	require.NoError(t, s.AddVector(id, []float32{1, 0, 0, 0}, vectorstore.Metadata{}))
	err := s.AddVector(id, []float32{0, 1, 0, 0}, vectorstore.Metadata{})
	assert.ErrorIs(t, err, vectorstore.ErrDuplicateID)
}

func TestDimensionMismatch(t *testing.T) {
	s := newStore(100)
	err := s.AddVector(uuid.New(), []float32{1, 0}, vectorstore.Metadata{})
	assert.ErrorIs(t, err, vectorstore.ErrDimensionMismatch)
}

func TestDeleteThenSearchNeverReturns(t *testing.T) {
	s := newStore(100)
	id := uuid.New()
	require.NoError(t, s.AddVector(id, []float32{1, 0, 0, 0}, vectorstore.Metadata{PersonaID: "p1"}))
	require.NoError(t, s.DeleteVector(id))

	hits, err := s.Search([]float32{1, 0, 0, 0}, vectorstore.SearchOptions{Limit: 5})
	require.NoError(t, err)
	for _, h := range hits {
		assert.NotEqual(t, id, h.ID)
	}

	_, _, err = s.GetVector(id)
	assert.ErrorIs(t, err, vectorstore.ErrNotFound)
}

func TestIsolationByPersonaFilter(t *testing.T) {
	s := newStore(100)
	require.NoError(t, s.AddVector(uuid.New(), []float32{1, 0, 0, 0}, vectorstore.Metadata{PersonaID: "p1"}))

	hits, err := s.Search([]float32{1, 0, 0, 0}, vectorstore.SearchOptions{
		Limit: 5, Filters: vectorstore.Filters{PersonaID: "p2"},
	})
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestIndexThresholdPromotesBacklog(t *testing.T) {
	s := newStore(5)
	var ids []uuid.UUID
	for i := 0; i < 6; i++ {
		id := uuid.New()
		ids = append(ids, id)
		v := make([]float32, 4)
		v[i%4] = 1
		require.NoError(t, s.AddVector(id, v, vectorstore.Metadata{PersonaID: "p1"}))
	}

	stats := s.Stats()
	assert.True(t, stats.UsesIndex)
	assert.Equal(t, 6, stats.Index.ActiveNodes+stats.Index.DeletedNodes)
}

func TestLinearFallbackBelowThreshold(t *testing.T) {
	s := newStore(1000)
	id := uuid.New()
	require.NoError(t, s.AddVector(id, []float32{1, 0, 0, 0}, vectorstore.Metadata{PersonaID: "p1"}))

	hits, err := s.Search([]float32{1, 0, 0, 0}, vectorstore.SearchOptions{Limit: 1, UseIndex: true})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, id, hits[0].ID)
}
