package memory

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ob-labs/personamem-go/pkg/embedder"
	"github.com/ob-labs/personamem-go/pkg/metadatastore"
	"github.com/ob-labs/personamem-go/pkg/metadatastore/sqlite"
)

type stubEmbedder struct{ dims int }

func (s *stubEmbedder) Embed(_ context.Context, text string, _ embedder.Options) (embedder.Result, error) {
	v := make([]float32, s.dims)
	v[0] = 1
	if len(text) > 0 {
		v[1] = float32(text[0]) / 255
	}
	return embedder.Result{Vector: v, Model: "stub"}, nil
}

func (s *stubEmbedder) EmbedBatch(ctx context.Context, texts []string, opts embedder.Options) ([]embedder.Result, error) {
	out := make([]embedder.Result, len(texts))
	for i, t := range texts {
		out[i], _ = s.Embed(ctx, t, opts)
	}
	return out, nil
}

func (s *stubEmbedder) HealthCheck(context.Context) (embedder.Health, error) {
	return embedder.Health{Status: "ok", Dimensions: s.dims}, nil
}
func (s *stubEmbedder) Dimensions() int { return s.dims }
func (s *stubEmbedder) Close() error    { return nil }

// TestCleanupExpiredMemoriesHonorsDecayTime drives the clock through
// an unexported hook so decay can be asserted deterministically,
// mirroring spec scenario S3: advance past createdAt+decayTime and
// confirm the memory is swept on the next cleanup pass.
func TestCleanupExpiredMemoriesHonorsDecayTime(t *testing.T) {
	store, err := sqlite.NewClient(sqlite.Config{DBPath: filepath.Join(t.TempDir(), "metadata.db")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	cfg := Config{
		Embedder:      EmbedderConfig{Provider: "stub", Dimensions: 4},
		VectorStore:   VectorStoreConfig{MaxMemoryMB: 4, Dimensions: 4, M: 8, EfConstruction: 64, EfSearch: 32, Metric: "cosine", IndexThreshold: 1000},
		MetadataStore: MetadataStoreConfig{Provider: "sqlite"},
		Defaults:      PersonaDefaults{MaxMemorySize: 100, MemoryDecayTime: 70_000, MemoryRetrievalThreshold: 0.1},
	}
	c, err := New(cfg, &stubEmbedder{dims: 4}, nil, store)
	require.NoError(t, err)

	var clock int64
	c.nowFunc = func() int64 { return clock }

	ctx := context.Background()
	persona, err := c.CreatePersona(ctx, "user-1", PersonaConfig{})
	require.NoError(t, err)

	_, err = c.AddMemory(ctx, persona.ID, "short-lived fact", MemoryTypeFact)
	require.NoError(t, err)

	require.NoError(t, c.CleanupExpiredMemories(ctx))
	records, err := store.SearchVectorMetadata(ctx, metadatastore.SearchOptions{PersonaID: persona.ID})
	require.NoError(t, err)
	require.Len(t, records, 1, "memory must survive before decayTime elapses")

	clock = 70_001 // advance the clock past createdAt(0) + decayTime(70_000)
	require.NoError(t, c.CleanupExpiredMemories(ctx))

	records, err = store.SearchVectorMetadata(ctx, metadatastore.SearchOptions{PersonaID: persona.ID})
	require.NoError(t, err)
	require.Empty(t, records, "memory must be swept once its decay time has elapsed")
}
