package sqlite_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ob-labs/personamem-go/pkg/metadatastore"
	"github.com/ob-labs/personamem-go/pkg/metadatastore/sqlite"
)

func newTestClient(t *testing.T) *sqlite.Client {
	t.Helper()
	c, err := sqlite.NewClient(sqlite.Config{DBPath: filepath.Join(t.TempDir(), "metadata.db")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestInsertGetDeleteVectorMetadata(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()
	id := uuid.New()
	persona := uuid.New()

	record := metadatastore.Record{
		ID: id, Dimensions: 4, PersonaID: persona, ContentType: "text/plain",
		Tags: []string{"a", "b"}, CreatedAt: 1000,
		CustomMetadata: metadatastore.CustomMetadata{
			OriginalContent: "hello", MemoryType: "fact", Importance: 0.5, Timestamp: 1000,
		},
	}
	require.NoError(t, c.InsertVectorMetadata(ctx, record))

	got, err := c.GetVectorMetadata(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, record.ID, got.ID)
	assert.Equal(t, record.PersonaID, got.PersonaID)
	assert.Equal(t, record.Tags, got.Tags)
	assert.Equal(t, "hello", got.CustomMetadata.OriginalContent)

	require.NoError(t, c.DeleteVectorMetadata(ctx, id))
	_, err = c.GetVectorMetadata(ctx, id)
	assert.ErrorIs(t, err, metadatastore.ErrNotFound)
}

func TestSearchVectorMetadataByPersona(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()
	p1, p2 := uuid.New(), uuid.New()

	require.NoError(t, c.InsertVectorMetadata(ctx, metadatastore.Record{ID: uuid.New(), PersonaID: p1, CreatedAt: 1}))
	require.NoError(t, c.InsertVectorMetadata(ctx, metadatastore.Record{ID: uuid.New(), PersonaID: p1, CreatedAt: 2}))
	require.NoError(t, c.InsertVectorMetadata(ctx, metadatastore.Record{ID: uuid.New(), PersonaID: p2, CreatedAt: 3}))

	results, err := c.SearchVectorMetadata(ctx, metadatastore.SearchOptions{PersonaID: p1})
	require.NoError(t, err)
	assert.Len(t, results, 2)
}

func TestPersonaCRUD(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()
	id := uuid.New()

	p := metadatastore.Persona{
		ID: id, UserID: "user-1", MaxMemorySize: 100, MemoryDecayTime: 3600000,
		EmbeddingProvider: "openai", EmbeddingModel: "text-embedding-3-small",
		MemoryRetrievalThreshold: 0.5, Active: true, CreatedAt: 1, UpdatedAt: 1,
	}
	require.NoError(t, c.InsertPersona(ctx, p))

	got, err := c.GetPersonaByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, p.UserID, got.UserID)
	assert.Equal(t, p.MaxMemorySize, got.MaxMemorySize)
	assert.True(t, got.Active)

	got.MaxMemorySize = 200
	require.NoError(t, c.UpdatePersona(ctx, got))
	updated, err := c.GetPersonaByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 200, updated.MaxMemorySize)

	require.NoError(t, c.DeletePersona(ctx, id))
	list, err := c.ListPersonas(ctx, "user-1", false)
	require.NoError(t, err)
	assert.Empty(t, list)

	listAll, err := c.ListPersonas(ctx, "user-1", true)
	require.NoError(t, err)
	assert.Len(t, listAll, 1)
}
