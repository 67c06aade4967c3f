// Package vectorstore composes the vector arena and HNSW index behind
// stable external (UUID) identifiers, with an index-threshold-gated
// linear-scan fallback during warmup.
package vectorstore

import (
	"errors"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/ob-labs/personamem-go/pkg/arena"
	"github.com/ob-labs/personamem-go/pkg/hnsw"
)

var (
	ErrFull              = errors.New("vectorstore: full")
	ErrDimensionMismatch = errors.New("vectorstore: dimension mismatch")
	ErrDuplicateID       = errors.New("vectorstore: duplicate id")
	ErrNotFound          = errors.New("vectorstore: not found")
)

// Metric selects the similarity metric reported to callers.
type Metric string

const (
	MetricCosine    Metric = "cosine"
	MetricEuclidean Metric = "euclidean"
)

// Metadata mirrors the inline arena record, keyed by external fields a
// caller may filter on.
type Metadata struct {
	PersonaID      string
	ConversationID string
	Speaker        string
	MemoryType     string
	Importance     float32
	CreatedAt      int64
	IsActive       bool
}

// Config configures a Store at construction; all fields are immutable
// after New.
type Config struct {
	MaxMemoryMB    int
	Dimensions     int
	M              int
	EfConstruction int
	EfSearch       int
	Metric         Metric
	IndexThreshold int
}

// Filters restricts Search to matching candidates.
type Filters struct {
	PersonaID      string
	MemoryType     string
	TimestampAfter int64
}

func (f Filters) matches(m Metadata) bool {
	if f.PersonaID != "" && m.PersonaID != f.PersonaID {
		return false
	}
	if f.MemoryType != "" && m.MemoryType != f.MemoryType {
		return false
	}
	if f.TimestampAfter != 0 && m.CreatedAt < f.TimestampAfter {
		return false
	}
	return true
}

// SearchOptions configures a Search call.
type SearchOptions struct {
	Limit     int
	Threshold float32
	Filters   Filters
	UseIndex  bool
}

// SearchHit is one result from Search.
type SearchHit struct {
	ID         uuid.UUID
	Similarity float32
	Metadata   Metadata
}

// Store composes arena + hnsw behind UUID identifiers.
type Store struct {
	mu             sync.RWMutex
	arena          *arena.Arena
	index          *hnsw.Index
	metric         Metric
	indexThreshold int
	useHNSW        bool

	idToSlot map[uuid.UUID]int
	slotToID map[int]uuid.UUID
	backlog  []int // slots inserted before the index threshold was crossed
}

// New builds a Store per Config.
func New(cfg Config) *Store {
	dist := hnsw.CosineDistance
	if cfg.Metric == MetricEuclidean {
		dist = hnsw.EuclideanDistance
	}
	threshold := cfg.IndexThreshold
	if threshold <= 0 {
		threshold = 100
	}
	return &Store{
		arena: arena.New(cfg.MaxMemoryMB, cfg.Dimensions),
		index: hnsw.New(cfg.Dimensions, hnsw.Params{
			M: cfg.M, EfConstruction: cfg.EfConstruction, EfSearch: cfg.EfSearch, Dist: dist,
		}),
		metric:         cfg.Metric,
		indexThreshold: threshold,
	}
}

func (s *Store) init() {
	if s.idToSlot == nil {
		s.idToSlot = make(map[uuid.UUID]int)
		s.slotToID = make(map[int]uuid.UUID)
	}
}

// AddVector allocates a slot, writes the vector and metadata, and
// either inserts into HNSW immediately or defers to the warmup
// backlog below the index threshold.
func (s *Store) AddVector(id uuid.UUID, vector []float32, meta Metadata) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.init()

	if _, exists := s.idToSlot[id]; exists {
		return ErrDuplicateID
	}
	if len(vector) != s.arena.Dim() {
		return ErrDimensionMismatch
	}

	slot, err := s.arena.Allocate()
	if err != nil {
		return ErrFull
	}
	s.index.Remove(slot) // clear any stale tombstone left by a prior occupant of this slot

	if err := s.arena.Write(slot, vector, arena.Metadata(meta)); err != nil {
		s.arena.Free(slot)
		return err
	}

	s.idToSlot[id] = slot
	s.slotToID[slot] = id

	if s.useHNSW {
		return s.index.Insert(slot, vector)
	}

	s.backlog = append(s.backlog, slot)
	if len(s.idToSlot) >= s.indexThreshold {
		s.promoteToHNSWLocked()
	}
	return nil
}

func (s *Store) promoteToHNSWLocked() {
	for _, slot := range s.backlog {
		vec, _, err := s.arena.Read(slot)
		if err != nil {
			continue // freed before promotion; nothing to insert
		}
		_ = s.index.Insert(slot, vec)
	}
	s.backlog = nil
	s.useHNSW = true
}

// GetVector returns the vector and metadata for id.
func (s *Store) GetVector(id uuid.UUID) ([]float32, Metadata, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	slot, ok := s.idToSlot[id]
	if !ok {
		return nil, Metadata{}, ErrNotFound
	}
	vec, meta, err := s.arena.Read(slot)
	if err != nil {
		return nil, Metadata{}, ErrNotFound
	}
	return vec, Metadata(meta), nil
}

// DeleteVector tombstones in HNSW, frees the arena slot, and removes
// the ID mappings.
func (s *Store) DeleteVector(id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	slot, ok := s.idToSlot[id]
	if !ok {
		return ErrNotFound
	}
	_ = s.index.Delete(slot) // ErrNotFound (ignored) for a slot never promoted into HNSW
	for i, b := range s.backlog {
		if b == slot {
			s.backlog = append(s.backlog[:i], s.backlog[i+1:]...)
			break
		}
	}
	_ = s.arena.Free(slot)
	delete(s.idToSlot, id)
	delete(s.slotToID, slot)
	return nil
}

// Search runs a k-NN query, preferring HNSW once the index threshold
// has been crossed and useIndex is true, falling back to a linear
// scan otherwise.
func (s *Store) Search(query []float32, opts SearchOptions) ([]SearchHit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(query) != s.arena.Dim() {
		return nil, ErrDimensionMismatch
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = 10
	}

	if opts.UseIndex && s.useHNSW {
		return s.searchIndexedLocked(query, limit, opts)
	}
	return s.searchLinearLocked(query, limit, opts)
}

func (s *Store) searchIndexedLocked(query []float32, limit int, opts SearchOptions) ([]SearchHit, error) {
	results, err := s.index.Search(query, limit*4, s.index.EfSearch())
	if err != nil {
		return nil, err
	}
	hits := make([]SearchHit, 0, len(results))
	for _, r := range results {
		id, ok := s.slotToID[r.ID]
		if !ok {
			continue
		}
		_, meta, err := s.arena.Read(r.ID)
		if err != nil {
			continue
		}
		if !opts.Filters.matches(Metadata(meta)) {
			continue
		}
		sim := similarityFromDistance(s.metric, r.Distance)
		if sim < opts.Threshold {
			continue
		}
		hits = append(hits, SearchHit{ID: id, Similarity: sim, Metadata: Metadata(meta)})
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].Similarity > hits[j].Similarity })
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

func (s *Store) searchLinearLocked(query []float32, limit int, opts SearchOptions) ([]SearchHit, error) {
	dist := hnsw.CosineDistance
	if s.metric == MetricEuclidean {
		dist = hnsw.EuclideanDistance
	}
	hits := make([]SearchHit, 0, len(s.idToSlot))
	for id, slot := range s.idToSlot {
		vec, meta, err := s.arena.Read(slot)
		if err != nil {
			continue
		}
		if !opts.Filters.matches(Metadata(meta)) {
			continue
		}
		d := dist(query, vec)
		sim := similarityFromDistance(s.metric, d)
		if sim < opts.Threshold {
			continue
		}
		hits = append(hits, SearchHit{ID: id, Similarity: sim, Metadata: Metadata(meta)})
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].Similarity > hits[j].Similarity })
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

func similarityFromDistance(metric Metric, d float32) float32 {
	if metric == MetricEuclidean {
		return 1 / (1 + d)
	}
	// cosine distance is 1 - cosine similarity for unit vectors.
	sim := 1 - d/2
	if sim < -1 {
		sim = -1
	}
	if sim > 1 {
		sim = 1
	}
	return sim
}

// Count returns the number of live vectors.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.idToSlot)
}

// Stats exposes combined arena/index introspection.
type Stats struct {
	Capacity  int
	Count     int
	UsesIndex bool
	Index     hnsw.Stats
}

func (s *Store) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Stats{
		Capacity:  s.arena.Capacity(),
		Count:     len(s.idToSlot),
		UsesIndex: s.useHNSW,
		Index:     s.index.Stats(),
	}
}
