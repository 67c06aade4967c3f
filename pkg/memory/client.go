package memory

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/ob-labs/personamem-go/pkg/embedder"
	"github.com/ob-labs/personamem-go/pkg/graphextract"
	"github.com/ob-labs/personamem-go/pkg/graphstore"
	"github.com/ob-labs/personamem-go/pkg/hybridsearch"
	"github.com/ob-labs/personamem-go/pkg/metadatastore"
	"github.com/ob-labs/personamem-go/pkg/vectorstore"
)

// Closed set of memory types, per spec.md §6.
const (
	MemoryTypeConversation = "conversation"
	MemoryTypeFact         = "fact"
	MemoryTypePreference   = "preference"
	MemoryTypeContext      = "context"
	MemoryTypeSystem       = "system"
)

var validMemoryTypes = map[string]bool{
	MemoryTypeConversation: true,
	MemoryTypeFact:         true,
	MemoryTypePreference:   true,
	MemoryTypeContext:      true,
	MemoryTypeSystem:       true,
}

// Speaker tags.
const (
	SpeakerUser      = "user"
	SpeakerAssistant = "assistant"
)

// Client orchestrates the persona memory lifecycle: ingestion,
// retrieval, capacity enforcement, and decay cleanup, per spec.md §4.6.
type Client struct {
	cfg       Config
	embedder  embedder.Provider
	extractor graphextract.Extractor // nil disables graph extraction
	metadata  metadatastore.Store

	vectorStore *vectorstore.Store
	graphStore  *graphstore.Store
	guard       *personaGuard

	mu            sync.Mutex
	knownPersonas map[uuid.UUID]struct{}

	nowFunc func() int64
}

// New builds a Client. emb and meta are required; extractor may be nil
// to disable graph extraction entirely.
func New(cfg Config, emb embedder.Provider, extractor graphextract.Extractor, meta metadatastore.Store) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	metric := vectorstore.MetricCosine
	if cfg.VectorStore.Metric == string(vectorstore.MetricEuclidean) {
		metric = vectorstore.MetricEuclidean
	}

	return &Client{
		cfg:       cfg,
		embedder:  emb,
		extractor: extractor,
		metadata:  meta,
		vectorStore: vectorstore.New(vectorstore.Config{
			MaxMemoryMB:    cfg.VectorStore.MaxMemoryMB,
			Dimensions:     cfg.VectorStore.Dimensions,
			M:              cfg.VectorStore.M,
			EfConstruction: cfg.VectorStore.EfConstruction,
			EfSearch:       cfg.VectorStore.EfSearch,
			Metric:         metric,
			IndexThreshold: cfg.VectorStore.IndexThreshold,
		}),
		graphStore:    graphstore.New(),
		guard:         newPersonaGuard(),
		knownPersonas: make(map[uuid.UUID]struct{}),
		nowFunc:       func() int64 { return time.Now().UnixMilli() },
	}, nil
}

// PersonaConfig are the caller-supplied fields for CreatePersona; zero
// values fall back to Config.Defaults.
type PersonaConfig struct {
	MaxMemorySize            int
	MemoryDecayTime          int64
	MemoryRetrievalThreshold float32
}

// CreatePersona validates cfg against defaults and persists a new persona.
func (c *Client) CreatePersona(ctx context.Context, userID string, cfg PersonaConfig) (metadatastore.Persona, error) {
	maxMemorySize := cfg.MaxMemorySize
	if maxMemorySize == 0 {
		maxMemorySize = c.cfg.Defaults.MaxMemorySize
	}
	decayTime := cfg.MemoryDecayTime
	if decayTime == 0 {
		decayTime = c.cfg.Defaults.MemoryDecayTime
	}
	threshold := cfg.MemoryRetrievalThreshold
	if threshold == 0 {
		threshold = c.cfg.Defaults.MemoryRetrievalThreshold
	}

	if maxMemorySize < 10 || maxMemorySize > 10000 {
		return metadatastore.Persona{}, newMemoryError("CreatePersona", fmt.Errorf("%w: max_memory_size out of [10, 10000]", ErrValidation))
	}
	if decayTime < 60_000 || decayTime > 31_536_000_000 {
		return metadatastore.Persona{}, newMemoryError("CreatePersona", fmt.Errorf("%w: memory_decay_time out of [60000, 31536000000]", ErrValidation))
	}

	now := c.nowFunc()
	persona := metadatastore.Persona{
		ID:                       uuid.New(),
		UserID:                   userID,
		MaxMemorySize:            maxMemorySize,
		MemoryDecayTime:          decayTime,
		EmbeddingProvider:        c.cfg.Embedder.Provider,
		EmbeddingModel:           c.cfg.Embedder.Model,
		MemoryRetrievalThreshold: threshold,
		Active:                   true,
		CreatedAt:                now,
		UpdatedAt:                now,
	}
	if err := c.metadata.InsertPersona(ctx, persona); err != nil {
		return metadatastore.Persona{}, wrapStorage("CreatePersona", err)
	}
	c.trackPersona(persona.ID)
	return persona, nil
}

// PersonaConfigUpdate carries optional field updates for UpdatePersonaConfig.
type PersonaConfigUpdate struct {
	MaxMemorySize            *int
	MemoryDecayTime          *int64
	MemoryRetrievalThreshold *float32
}

// UpdatePersonaConfig updates maxMemorySize/memoryDecayTime/
// memoryRetrievalThreshold on an existing persona. Capacity and decay
// re-enforcement is lazy: it happens on the next AddMemory/
// CleanupExpiredMemories call, not eagerly here.
func (c *Client) UpdatePersonaConfig(ctx context.Context, personaID uuid.UUID, update PersonaConfigUpdate) error {
	persona, err := c.metadata.GetPersonaByID(ctx, personaID)
	if err != nil {
		if errors.Is(err, metadatastore.ErrNotFound) {
			return newMemoryError("UpdatePersonaConfig", ErrNotFound)
		}
		return wrapStorage("UpdatePersonaConfig", err)
	}

	if update.MaxMemorySize != nil {
		if *update.MaxMemorySize < 10 || *update.MaxMemorySize > 10000 {
			return newMemoryError("UpdatePersonaConfig", fmt.Errorf("%w: max_memory_size out of [10, 10000]", ErrValidation))
		}
		persona.MaxMemorySize = *update.MaxMemorySize
	}
	if update.MemoryDecayTime != nil {
		if *update.MemoryDecayTime < 60_000 || *update.MemoryDecayTime > 31_536_000_000 {
			return newMemoryError("UpdatePersonaConfig", fmt.Errorf("%w: memory_decay_time out of [60000, 31536000000]", ErrValidation))
		}
		persona.MemoryDecayTime = *update.MemoryDecayTime
	}
	if update.MemoryRetrievalThreshold != nil {
		persona.MemoryRetrievalThreshold = *update.MemoryRetrievalThreshold
	}
	persona.UpdatedAt = c.nowFunc()

	if err := c.metadata.UpdatePersona(ctx, persona); err != nil {
		return wrapStorage("UpdatePersonaConfig", err)
	}
	return nil
}

type addOptions struct {
	ConversationID uuid.UUID
	Speaker        string
	Importance     float32
	Context        map[string]interface{}
	dedup          bool
}

// AddOption configures one AddMemory call.
type AddOption func(*addOptions)

// WithConversationID groups the memory under an existing conversation.
func WithConversationID(id uuid.UUID) AddOption {
	return func(o *addOptions) { o.ConversationID = id }
}

// WithSpeaker tags the memory's speaker ("user" or "assistant").
func WithSpeaker(speaker string) AddOption {
	return func(o *addOptions) { o.Speaker = speaker }
}

// WithImportance overrides the default importance (0.5).
func WithImportance(importance float32) AddOption {
	return func(o *addOptions) { o.Importance = importance }
}

// WithContext attaches a free-form context object to the memory.
func WithContext(ctx map[string]interface{}) AddOption {
	return func(o *addOptions) { o.Context = ctx }
}

// WithDedup opts this call into the similarity-based duplicate
// pre-check (see dedup.go), overriding Config.Dedup.Enabled for this
// call only.
func WithDedup() AddOption {
	return func(o *addOptions) { o.dedup = true }
}

// AddMemory embeds content, indexes it, persists its metadata, and
// best-effort extracts graph content — spec.md §4.6's ingestion
// sequence, with compensating rollback on a metadata-persist failure.
func (c *Client) AddMemory(ctx context.Context, personaID uuid.UUID, content string, memType string, opts ...AddOption) (uuid.UUID, error) {
	if !validMemoryTypes[memType] {
		return uuid.Nil, newMemoryError("AddMemory", fmt.Errorf("%w: unknown memory type %q", ErrValidation, memType))
	}
	if strings.TrimSpace(content) == "" {
		return uuid.Nil, newMemoryError("AddMemory", fmt.Errorf("%w: content must not be empty", ErrValidation))
	}

	options := addOptions{Importance: 0.5}
	for _, opt := range opts {
		opt(&options)
	}
	if options.Importance < 0 || options.Importance > 1 {
		return uuid.Nil, newMemoryError("AddMemory", fmt.Errorf("%w: importance must be in [0, 1]", ErrValidation))
	}

	var memID uuid.UUID
	err := c.guard.withLock(personaID, func() error {
		persona, err := c.metadata.GetPersonaByID(ctx, personaID)
		if err != nil {
			if errors.Is(err, metadatastore.ErrNotFound) {
				return newMemoryError("AddMemory", ErrNotFound)
			}
			return wrapStorage("AddMemory", err)
		}

		result, err := c.embedder.Embed(ctx, content, embedder.Options{Model: persona.EmbeddingModel})
		if err != nil {
			return wrapProvider("AddMemory", "embedder", err)
		}

		personaKey := personaID.String()

		if options.dedup || c.cfg.Dedup.Enabled {
			threshold := c.cfg.Dedup.Threshold
			if threshold == 0 {
				threshold = 0.95
			}
			if isDup, existingID, dedupErr := checkDuplicate(c.vectorStore, personaKey, result.Vector, threshold); dedupErr == nil && isDup {
				memID = existingID
				return nil
			}
		}

		memID = uuid.New()
		now := c.nowFunc()

		meta := vectorstore.Metadata{
			PersonaID:      personaKey,
			ConversationID: uuidOrEmpty(options.ConversationID),
			Speaker:        options.Speaker,
			MemoryType:     memType,
			Importance:     options.Importance,
			CreatedAt:      now,
			IsActive:       true,
		}
		if err := c.vectorStore.AddVector(memID, result.Vector, meta); err != nil {
			switch {
			case errors.Is(err, vectorstore.ErrFull):
				return newMemoryError("AddMemory", ErrCapacityExhausted)
			case errors.Is(err, vectorstore.ErrDimensionMismatch):
				return newMemoryError("AddMemory", ErrDimensionMismatch)
			case errors.Is(err, vectorstore.ErrDuplicateID):
				return newMemoryError("AddMemory", ErrDuplicateID)
			default:
				return newMemoryError("AddMemory", err)
			}
		}

		record := metadatastore.Record{
			ID:          memID,
			Dimensions:  uint(len(result.Vector)),
			PersonaID:   personaID,
			ContentType: "text/plain",
			CreatedAt:   now,
			CustomMetadata: metadatastore.CustomMetadata{
				OriginalContent:   content,
				MemoryType:        memType,
				Importance:        options.Importance,
				ConversationID:    options.ConversationID,
				Speaker:           options.Speaker,
				Timestamp:         now,
				EmbeddingProvider: c.cfg.Embedder.Provider,
				EmbeddingModel:    result.Model,
				Context:           options.Context,
			},
		}
		if err := c.metadata.InsertVectorMetadata(ctx, record); err != nil {
			_ = c.vectorStore.DeleteVector(memID) // best-effort compensating rollback, per spec.md §5/§7
			return wrapStorage("AddMemory", err)
		}

		c.trackPersona(personaID)

		if c.extractor != nil {
			if extractErr := c.extractGraph(ctx, personaKey, memID, content); extractErr != nil {
				log.Printf("memory: graph extraction failed for persona %s memory %s: %v", personaKey, memID, extractErr)
			}
		}

		if limitErr := c.enforceMemoryLimitsLocked(ctx, persona); limitErr != nil {
			log.Printf("memory: enforce memory limits failed for persona %s: %v", personaKey, limitErr)
		}
		return nil
	})
	if err != nil {
		return uuid.Nil, err
	}
	return memID, nil
}

func (c *Client) extractGraph(ctx context.Context, personaKey string, memID uuid.UUID, content string) error {
	result, err := c.extractor.Extract(ctx, content, graphextract.Context{PersonaID: personaKey, MemoryID: memID.String()})
	if err != nil {
		return err
	}

	byName := make(map[string]uuid.UUID, len(result.Entities))
	for _, e := range result.Entities {
		id, upsertErr := c.graphStore.UpsertEntity(personaKey, e.Name, e.Type, memID, float32(e.Confidence))
		if upsertErr != nil {
			continue
		}
		byName[normalizeEntityName(e.Name)] = id
	}
	for _, r := range result.Relationships {
		src, ok1 := byName[normalizeEntityName(r.Source)]
		dst, ok2 := byName[normalizeEntityName(r.Target)]
		if !ok1 || !ok2 {
			continue // relationship referencing an entity outside this extraction's own list
		}
		_, _ = c.graphStore.UpsertRelationship(personaKey, src, dst, r.Type, float32(r.Strength), memID)
	}
	return nil
}

func normalizeEntityName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// RetrieveOptions configures one RetrieveRelevantMemories call.
type RetrieveOptions struct {
	Limit             int
	Threshold         float32 // 0 falls back to the persona's memoryRetrievalThreshold
	MemoryTypes       []string
	MaxAge            time.Duration
	UseGraphExpansion bool
	GraphDepth        int
	GraphWeight       float32
}

// RetrievedMemory is one memory enriched with its original content.
type RetrievedMemory struct {
	ID             uuid.UUID
	Content        string
	Similarity     float32 // raw vector cosine/euclidean similarity
	Score          float32 // fused hybrid-search score
	MemoryType     string
	Importance     float32
	ConversationID uuid.UUID
	Speaker        string
	CreatedAt      int64
	GraphExpanded  bool
	GraphBoosted   bool
}

// RetrieveRelevantMemories embeds query, runs hybrid search, and
// enriches each hit with its original content from the metadata store.
func (c *Client) RetrieveRelevantMemories(ctx context.Context, personaID uuid.UUID, query string, opts RetrieveOptions) ([]RetrievedMemory, error) {
	persona, err := c.metadata.GetPersonaByID(ctx, personaID)
	if err != nil {
		if errors.Is(err, metadatastore.ErrNotFound) {
			return nil, newMemoryError("RetrieveRelevantMemories", ErrNotFound)
		}
		return nil, wrapStorage("RetrieveRelevantMemories", err)
	}

	result, err := c.embedder.Embed(ctx, query, embedder.Options{Model: persona.EmbeddingModel})
	if err != nil {
		return nil, wrapProvider("RetrieveRelevantMemories", "embedder", err)
	}

	threshold := opts.Threshold
	if threshold == 0 {
		threshold = persona.MemoryRetrievalThreshold
	}
	graphWeight := opts.GraphWeight
	if graphWeight == 0 && opts.UseGraphExpansion {
		graphWeight = 0.3
	}

	candidates, err := hybridsearch.Search(ctx, personaID.String(), result.Vector, c.vectorStore, c.graphStore, hybridsearch.Options{
		Limit:             opts.Limit,
		Threshold:         threshold,
		MemoryTypes:       opts.MemoryTypes,
		MaxAgeMillis:      opts.MaxAge.Milliseconds(),
		NowMillis:         c.nowFunc(),
		UseGraphExpansion: opts.UseGraphExpansion,
		GraphDepth:        opts.GraphDepth,
		GraphWeight:       graphWeight,
	})
	if err != nil {
		return nil, newMemoryError("RetrieveRelevantMemories", err)
	}

	out := make([]RetrievedMemory, 0, len(candidates))
	for _, cand := range candidates {
		record, err := c.metadata.GetVectorMetadata(ctx, cand.MemoryID)
		if err != nil {
			continue // metadata vanished since the vector search snapshot; drop rather than fail
		}
		out = append(out, RetrievedMemory{
			ID:             cand.MemoryID,
			Content:        record.CustomMetadata.OriginalContent,
			Similarity:     cand.VecScore,
			Score:          cand.Final,
			MemoryType:     record.CustomMetadata.MemoryType,
			Importance:     record.CustomMetadata.Importance,
			ConversationID: record.CustomMetadata.ConversationID,
			Speaker:        record.CustomMetadata.Speaker,
			CreatedAt:      record.CreatedAt,
			GraphExpanded:  cand.GraphExpanded,
			GraphBoosted:   cand.GraphBoosted,
		})
	}
	return out, nil
}

// EnforceMemoryLimits evicts the lowest-scoring surplus memories for
// personaID when its count exceeds maxMemorySize.
func (c *Client) EnforceMemoryLimits(ctx context.Context, personaID uuid.UUID) error {
	persona, err := c.metadata.GetPersonaByID(ctx, personaID)
	if err != nil {
		if errors.Is(err, metadatastore.ErrNotFound) {
			return newMemoryError("EnforceMemoryLimits", ErrNotFound)
		}
		return wrapStorage("EnforceMemoryLimits", err)
	}
	return c.enforceMemoryLimitsLocked(ctx, persona)
}

func (c *Client) enforceMemoryLimitsLocked(ctx context.Context, persona metadatastore.Persona) error {
	records, err := c.metadata.SearchVectorMetadata(ctx, metadatastore.SearchOptions{PersonaID: persona.ID})
	if err != nil {
		return wrapStorage("EnforceMemoryLimits", err)
	}
	surplus := len(records) - persona.MaxMemorySize
	if surplus <= 0 {
		return nil
	}

	now := c.nowFunc()
	type scoredRecord struct {
		record metadatastore.Record
		score  float64
	}
	scored := make([]scoredRecord, len(records))
	for i, r := range records {
		ageDays := float64(now-r.CreatedAt) / 86_400_000.0
		ageTerm := 1 - ageDays/30
		if ageTerm < 0 {
			ageTerm = 0
		}
		if ageTerm > 1 {
			ageTerm = 1
		}
		scored[i] = scoredRecord{record: r, score: float64(r.CustomMetadata.Importance) + 0.3*ageTerm}
	}
	sort.Slice(scored, func(i, j int) bool { return scored[i].score < scored[j].score })

	personaKey := persona.ID.String()
	for i := 0; i < surplus; i++ {
		if err := c.removeMemory(ctx, personaKey, scored[i].record.ID); err != nil {
			log.Printf("memory: eviction failed to remove memory %s: %v", scored[i].record.ID, err)
		}
	}
	return nil
}

func (c *Client) removeMemory(ctx context.Context, personaKey string, memID uuid.UUID) error {
	_ = c.vectorStore.DeleteVector(memID)
	err := c.metadata.DeleteVectorMetadata(ctx, memID)
	c.graphStore.RemoveMentionsForMemory(personaKey, memID)
	return err
}

// CleanupExpiredMemories sweeps every known persona for memories past
// their decay time, then cleans up entities left with zero mentions.
func (c *Client) CleanupExpiredMemories(ctx context.Context) error {
	c.mu.Lock()
	personas := make([]uuid.UUID, 0, len(c.knownPersonas))
	for id := range c.knownPersonas {
		personas = append(personas, id)
	}
	c.mu.Unlock()

	now := c.nowFunc()
	for _, personaID := range personas {
		persona, err := c.metadata.GetPersonaByID(ctx, personaID)
		if err != nil {
			continue // persona removed since it was last seen; nothing to clean
		}
		cutoff := now - persona.MemoryDecayTime
		records, err := c.metadata.SearchVectorMetadata(ctx, metadatastore.SearchOptions{PersonaID: personaID})
		if err != nil {
			log.Printf("memory: cleanup could not list memories for persona %s: %v", personaID, err)
			continue
		}
		personaKey := personaID.String()
		for _, r := range records {
			if r.CreatedAt < cutoff {
				if err := c.removeMemory(ctx, personaKey, r.ID); err != nil {
					log.Printf("memory: cleanup failed to remove memory %s: %v", r.ID, err)
				}
			}
		}
		if err := c.graphStore.CleanupOrphanedEntities(personaKey); err != nil {
			log.Printf("memory: cleanup orphaned entities failed for persona %s: %v", personaKey, err)
		}
	}
	return nil
}

// ReloadMemoriesFromDatabase re-embeds every persisted memory and
// replays it into the vector store, in batches of 50 with bounded
// concurrent re-embedding. Used on cold start to reconstruct the
// memory-resident HNSW index from the durable metadata store.
func (c *Client) ReloadMemoriesFromDatabase(ctx context.Context) error {
	const batchSize = 50
	offset := 0
	for {
		records, err := c.metadata.SearchVectorMetadata(ctx, metadatastore.SearchOptions{Limit: batchSize, Offset: offset})
		if err != nil {
			return wrapStorage("ReloadMemoriesFromDatabase", err)
		}
		if len(records) == 0 {
			break
		}

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(8)
		for _, rec := range records {
			rec := rec
			g.Go(func() error {
				result, embedErr := c.embedder.Embed(gctx, rec.CustomMetadata.OriginalContent, embedder.Options{Model: rec.CustomMetadata.EmbeddingModel})
				if embedErr != nil {
					return wrapProvider("ReloadMemoriesFromDatabase", "embedder", embedErr)
				}
				meta := vectorstore.Metadata{
					PersonaID:      rec.PersonaID.String(),
					ConversationID: uuidOrEmpty(rec.CustomMetadata.ConversationID),
					Speaker:        rec.CustomMetadata.Speaker,
					MemoryType:     rec.CustomMetadata.MemoryType,
					Importance:     rec.CustomMetadata.Importance,
					CreatedAt:      rec.CreatedAt,
					IsActive:       true,
				}
				if addErr := c.vectorStore.AddVector(rec.ID, result.Vector, meta); addErr != nil {
					if errors.Is(addErr, vectorstore.ErrDuplicateID) {
						return nil // already reloaded, e.g. a retried batch
					}
					return newMemoryError("ReloadMemoriesFromDatabase", addErr)
				}
				c.trackPersona(rec.PersonaID)
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}
		offset += batchSize
	}
	return nil
}

// AddConversationExchange adds a user/assistant turn pair as two
// ordered conversation-type memories, generating a conversation ID
// when conversationID is uuid.Nil.
func (c *Client) AddConversationExchange(ctx context.Context, personaID uuid.UUID, userMsg, assistantMsg string, conversationID uuid.UUID) (uuid.UUID, error) {
	if conversationID == uuid.Nil {
		conversationID = uuid.New()
	}
	if _, err := c.AddMemory(ctx, personaID, userMsg, MemoryTypeConversation, WithConversationID(conversationID), WithSpeaker(SpeakerUser)); err != nil {
		return uuid.Nil, err
	}
	if _, err := c.AddMemory(ctx, personaID, assistantMsg, MemoryTypeConversation, WithConversationID(conversationID), WithSpeaker(SpeakerAssistant)); err != nil {
		return uuid.Nil, err
	}
	return conversationID, nil
}

// GetConversationHistory returns a conversation's memories ordered by
// timestamp ascending, truncated to limit (0 means unlimited).
func (c *Client) GetConversationHistory(ctx context.Context, personaID, conversationID uuid.UUID, limit int) ([]RetrievedMemory, error) {
	records, err := c.metadata.SearchVectorMetadata(ctx, metadatastore.SearchOptions{PersonaID: personaID})
	if err != nil {
		return nil, wrapStorage("GetConversationHistory", err)
	}

	filtered := make([]metadatastore.Record, 0, len(records))
	for _, r := range records {
		if r.CustomMetadata.ConversationID == conversationID && r.CustomMetadata.MemoryType == MemoryTypeConversation {
			filtered = append(filtered, r)
		}
	}
	sort.Slice(filtered, func(i, j int) bool { return filtered[i].CustomMetadata.Timestamp < filtered[j].CustomMetadata.Timestamp })
	if limit > 0 && len(filtered) > limit {
		filtered = filtered[:limit]
	}

	out := make([]RetrievedMemory, len(filtered))
	for i, r := range filtered {
		out[i] = RetrievedMemory{
			ID: r.ID, Content: r.CustomMetadata.OriginalContent, MemoryType: r.CustomMetadata.MemoryType,
			Importance: r.CustomMetadata.Importance, ConversationID: r.CustomMetadata.ConversationID,
			Speaker: r.CustomMetadata.Speaker, CreatedAt: r.CreatedAt,
		}
	}
	return out, nil
}

// GetMemory returns a single persona-scoped memory.
func (c *Client) GetMemory(ctx context.Context, personaID, memoryID uuid.UUID) (RetrievedMemory, error) {
	record, err := c.metadata.GetVectorMetadata(ctx, memoryID)
	if err != nil {
		if errors.Is(err, metadatastore.ErrNotFound) {
			return RetrievedMemory{}, newMemoryError("GetMemory", ErrNotFound)
		}
		return RetrievedMemory{}, wrapStorage("GetMemory", err)
	}
	if record.PersonaID != personaID {
		// Unauthorized collapses to NotFound at the boundary, per spec.md §7.
		return RetrievedMemory{}, newMemoryError("GetMemory", ErrNotFound)
	}
	return RetrievedMemory{
		ID: record.ID, Content: record.CustomMetadata.OriginalContent, MemoryType: record.CustomMetadata.MemoryType,
		Importance: record.CustomMetadata.Importance, ConversationID: record.CustomMetadata.ConversationID,
		Speaker: record.CustomMetadata.Speaker, CreatedAt: record.CreatedAt,
	}, nil
}

// GetAllMemories lists a persona's memories, paginated.
func (c *Client) GetAllMemories(ctx context.Context, personaID uuid.UUID, limit, offset int) ([]RetrievedMemory, error) {
	records, err := c.metadata.SearchVectorMetadata(ctx, metadatastore.SearchOptions{PersonaID: personaID, Limit: limit, Offset: offset})
	if err != nil {
		return nil, wrapStorage("GetAllMemories", err)
	}
	out := make([]RetrievedMemory, len(records))
	for i, r := range records {
		out[i] = RetrievedMemory{
			ID: r.ID, Content: r.CustomMetadata.OriginalContent, MemoryType: r.CustomMetadata.MemoryType,
			Importance: r.CustomMetadata.Importance, ConversationID: r.CustomMetadata.ConversationID,
			Speaker: r.CustomMetadata.Speaker, CreatedAt: r.CreatedAt,
		}
	}
	return out, nil
}

// Stats exposes vector store/index introspection for operational visibility.
func (c *Client) Stats() vectorstore.Stats {
	return c.vectorStore.Stats()
}

func (c *Client) trackPersona(id uuid.UUID) {
	c.mu.Lock()
	c.knownPersonas[id] = struct{}{}
	c.mu.Unlock()
}

func uuidOrEmpty(id uuid.UUID) string {
	if id == uuid.Nil {
		return ""
	}
	return id.String()
}
