package memory_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ob-labs/personamem-go/pkg/embedder"
	"github.com/ob-labs/personamem-go/pkg/graphextract"
	"github.com/ob-labs/personamem-go/pkg/memory"
	"github.com/ob-labs/personamem-go/pkg/metadatastore"
	"github.com/ob-labs/personamem-go/pkg/metadatastore/sqlite"
)

// fakeEmbedder returns a deterministic vector per text so identical
// inputs always map to the same vector.
type fakeEmbedder struct {
	dims int
	err  error
}

func (f *fakeEmbedder) Embed(_ context.Context, text string, _ embedder.Options) (embedder.Result, error) {
	if f.err != nil {
		return embedder.Result{}, f.err
	}
	return embedder.Result{Vector: textVector(text, f.dims), Model: "fake-embedder"}, nil
}

func (f *fakeEmbedder) EmbedBatch(ctx context.Context, texts []string, opts embedder.Options) ([]embedder.Result, error) {
	out := make([]embedder.Result, len(texts))
	for i, t := range texts {
		r, err := f.Embed(ctx, t, opts)
		if err != nil {
			return nil, err
		}
		out[i] = r
	}
	return out, nil
}

func (f *fakeEmbedder) HealthCheck(context.Context) (embedder.Health, error) {
	return embedder.Health{Status: "ok", Dimensions: f.dims}, nil
}

func (f *fakeEmbedder) Dimensions() int { return f.dims }
func (f *fakeEmbedder) Close() error    { return nil }

// textVector hashes text into a stable low-dimensional direction so
// cosine similarity of identical text is 1. Distinct texts get distinct
// vectors, but since every component is non-negative their cosine
// similarity is still fairly high, not near 0.
func textVector(text string, dims int) []float32 {
	v := make([]float32, dims)
	var h uint32 = 2166136261
	for i := 0; i < len(text); i++ {
		h ^= uint32(text[i])
		h *= 16777619
	}
	for i := range v {
		h ^= h << 13
		h ^= h >> 17
		h ^= h << 5
		v[i] = float32(h%1000) / 1000.0
	}
	v[0] += 1.0 // bias so no vector is ever all-zero
	return v
}

type fakeExtractor struct {
	result graphextract.Result
	err    error
}

func (f *fakeExtractor) Extract(context.Context, string, graphextract.Context) (graphextract.Result, error) {
	if f.err != nil {
		return graphextract.Result{}, f.err
	}
	return f.result, nil
}

func (f *fakeExtractor) Close() error { return nil }

func newTestClient(t *testing.T, extractor graphextract.Extractor) (*memory.Client, metadatastore.Store) {
	t.Helper()
	store, err := sqlite.NewClient(sqlite.Config{DBPath: filepath.Join(t.TempDir(), "metadata.db")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	cfg := memory.Config{
		Embedder:      memory.EmbedderConfig{Provider: "fake", Model: "fake-embedder", Dimensions: 8},
		VectorStore:   memory.VectorStoreConfig{MaxMemoryMB: 4, Dimensions: 8, M: 8, EfConstruction: 64, EfSearch: 32, Metric: "cosine", IndexThreshold: 1000},
		MetadataStore: memory.MetadataStoreConfig{Provider: "sqlite"},
		Defaults:      memory.PersonaDefaults{MaxMemorySize: 100, MemoryDecayTime: 3_600_000, MemoryRetrievalThreshold: 0.1},
	}
	c, err := memory.New(cfg, &fakeEmbedder{dims: 8}, extractor, store)
	require.NoError(t, err)
	return c, store
}

func TestAddMemoryThenSelfRetrieval(t *testing.T) {
	c, _ := newTestClient(t, nil)
	ctx := context.Background()

	persona, err := c.CreatePersona(ctx, "user-1", memory.PersonaConfig{})
	require.NoError(t, err)

	_, err = c.AddMemory(ctx, persona.ID, "the sky is blue", memory.MemoryTypeFact)
	require.NoError(t, err)

	hits, err := c.RetrieveRelevantMemories(ctx, persona.ID, "the sky is blue", memory.RetrieveOptions{Limit: 5})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.GreaterOrEqual(t, hits[0].Similarity, float32(0.99))
	assert.Equal(t, "the sky is blue", hits[0].Content)
}

func TestAddMemoryUnknownPersonaIsNotFound(t *testing.T) {
	c, _ := newTestClient(t, nil)
	ctx := context.Background()

	_, err := c.AddMemory(ctx, uuid.New(), "hello", memory.MemoryTypeFact)
	assert.ErrorIs(t, err, memory.ErrNotFound)
}

func TestAddMemoryRejectsUnknownType(t *testing.T) {
	c, _ := newTestClient(t, nil)
	ctx := context.Background()
	persona, err := c.CreatePersona(ctx, "user-1", memory.PersonaConfig{})
	require.NoError(t, err)

	_, err = c.AddMemory(ctx, persona.ID, "hello", "not-a-real-type")
	assert.ErrorIs(t, err, memory.ErrValidation)
}

func TestAddMemoryRejectsEmptyContent(t *testing.T) {
	c, _ := newTestClient(t, nil)
	ctx := context.Background()
	persona, err := c.CreatePersona(ctx, "user-1", memory.PersonaConfig{})
	require.NoError(t, err)

	_, err = c.AddMemory(ctx, persona.ID, "   ", memory.MemoryTypeFact)
	assert.ErrorIs(t, err, memory.ErrValidation)
}

func TestCreatePersonaValidatesRanges(t *testing.T) {
	c, _ := newTestClient(t, nil)
	ctx := context.Background()

	_, err := c.CreatePersona(ctx, "user-1", memory.PersonaConfig{MaxMemorySize: 3})
	assert.ErrorIs(t, err, memory.ErrValidation)

	_, err = c.CreatePersona(ctx, "user-1", memory.PersonaConfig{MemoryDecayTime: 10})
	assert.ErrorIs(t, err, memory.ErrValidation)
}

func TestEnforceMemoryLimitsEvictsLowestScoring(t *testing.T) {
	c, store := newTestClient(t, nil)
	ctx := context.Background()

	persona, err := c.CreatePersona(ctx, "user-1", memory.PersonaConfig{MaxMemorySize: 10})
	require.NoError(t, err)

	for i := 0; i < 12; i++ {
		_, err := c.AddMemory(ctx, persona.ID, uuid.New().String(), memory.MemoryTypeFact, memory.WithImportance(float32(i)/20))
		require.NoError(t, err)
	}

	require.NoError(t, c.EnforceMemoryLimits(ctx, persona.ID))

	records, err := store.SearchVectorMetadata(ctx, metadatastore.SearchOptions{PersonaID: persona.ID})
	require.NoError(t, err)
	assert.LessOrEqual(t, len(records), 10)
}

func TestUpdatePersonaConfigRejectsOutOfRange(t *testing.T) {
	c, _ := newTestClient(t, nil)
	ctx := context.Background()
	persona, err := c.CreatePersona(ctx, "user-1", memory.PersonaConfig{})
	require.NoError(t, err)

	tooBig := 20000
	err = c.UpdatePersonaConfig(ctx, persona.ID, memory.PersonaConfigUpdate{MaxMemorySize: &tooBig})
	assert.ErrorIs(t, err, memory.ErrValidation)
}

func TestGetMemoryRejectsCrossPersonaAccess(t *testing.T) {
	c, _ := newTestClient(t, nil)
	ctx := context.Background()

	p1, err := c.CreatePersona(ctx, "user-1", memory.PersonaConfig{})
	require.NoError(t, err)
	p2, err := c.CreatePersona(ctx, "user-2", memory.PersonaConfig{})
	require.NoError(t, err)

	memID, err := c.AddMemory(ctx, p1.ID, "p1's secret", memory.MemoryTypeFact)
	require.NoError(t, err)

	_, err = c.GetMemory(ctx, p2.ID, memID)
	assert.ErrorIs(t, err, memory.ErrNotFound)

	got, err := c.GetMemory(ctx, p1.ID, memID)
	require.NoError(t, err)
	assert.Equal(t, "p1's secret", got.Content)
}

func TestAddConversationExchangeAndHistory(t *testing.T) {
	c, _ := newTestClient(t, nil)
	ctx := context.Background()
	persona, err := c.CreatePersona(ctx, "user-1", memory.PersonaConfig{})
	require.NoError(t, err)

	convID, err := c.AddConversationExchange(ctx, persona.ID, "what's the weather", "it is sunny", uuid.Nil)
	require.NoError(t, err)

	history, err := c.GetConversationHistory(ctx, persona.ID, convID, 10)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, memory.SpeakerUser, history[0].Speaker)
	assert.Equal(t, memory.SpeakerAssistant, history[1].Speaker)
}

func TestGraphExtractionFailureDoesNotFailAddMemory(t *testing.T) {
	c, _ := newTestClient(t, &fakeExtractor{err: assert.AnError})
	ctx := context.Background()
	persona, err := c.CreatePersona(ctx, "user-1", memory.PersonaConfig{})
	require.NoError(t, err)

	memID, err := c.AddMemory(ctx, persona.ID, "Alice works at Acme", memory.MemoryTypeFact)
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, memID)
}

func TestGraphExtractionPopulatesGraphStore(t *testing.T) {
	extractor := &fakeExtractor{result: graphextract.Result{
		Entities: []graphextract.ExtractedEntity{
			{Name: "Alice", Type: "person", Confidence: 0.9},
			{Name: "Acme", Type: "organization", Confidence: 0.9},
		},
		Relationships: []graphextract.ExtractedRelationship{
			{Source: "Alice", Target: "Acme", Type: "works_at", Strength: 0.8},
		},
	}}
	c, _ := newTestClient(t, extractor)
	ctx := context.Background()
	persona, err := c.CreatePersona(ctx, "user-1", memory.PersonaConfig{})
	require.NoError(t, err)

	_, err = c.AddMemory(ctx, persona.ID, "Alice works at Acme", memory.MemoryTypeFact)
	require.NoError(t, err)

	hits, err := c.RetrieveRelevantMemories(ctx, persona.ID, "Alice works at Acme", memory.RetrieveOptions{Limit: 5, UseGraphExpansion: true})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.True(t, hits[0].GraphBoosted, "extracted entities must link the memory back through the graph")
}

func TestCleanupExpiredMemoriesKeepsUndecayedEntries(t *testing.T) {
	c, store := newTestClient(t, nil)
	ctx := context.Background()
	persona, err := c.CreatePersona(ctx, "user-1", memory.PersonaConfig{MemoryDecayTime: 60_000})
	require.NoError(t, err)

	_, err = c.AddMemory(ctx, persona.ID, "ephemeral fact", memory.MemoryTypeFact)
	require.NoError(t, err)

	require.NoError(t, c.CleanupExpiredMemories(ctx))

	records, err := store.SearchVectorMetadata(ctx, metadatastore.SearchOptions{PersonaID: persona.ID})
	require.NoError(t, err)
	assert.Len(t, records, 1) // not yet decayed: CreatedAt is "now", cutoff is 60s in the past
}

func TestReloadMemoriesFromDatabaseRebuildsVectorStore(t *testing.T) {
	c, _ := newTestClient(t, nil)
	ctx := context.Background()
	persona, err := c.CreatePersona(ctx, "user-1", memory.PersonaConfig{})
	require.NoError(t, err)

	_, err = c.AddMemory(ctx, persona.ID, "reload me", memory.MemoryTypeFact)
	require.NoError(t, err)

	before := c.Stats()
	require.NoError(t, c.ReloadMemoriesFromDatabase(ctx))
	after := c.Stats()
	assert.Equal(t, before.Count, after.Count)
}

func TestDedupSkipsNearIdenticalContent(t *testing.T) {
	c, store := newTestClient(t, nil)
	ctx := context.Background()
	persona, err := c.CreatePersona(ctx, "user-1", memory.PersonaConfig{})
	require.NoError(t, err)

	first, err := c.AddMemory(ctx, persona.ID, "duplicate content", memory.MemoryTypeFact, memory.WithDedup())
	require.NoError(t, err)

	second, err := c.AddMemory(ctx, persona.ID, "duplicate content", memory.MemoryTypeFact, memory.WithDedup())
	require.NoError(t, err)
	assert.Equal(t, first, second)

	records, err := store.SearchVectorMetadata(ctx, metadatastore.SearchOptions{PersonaID: persona.ID})
	require.NoError(t, err)
	assert.Len(t, records, 1)
}
