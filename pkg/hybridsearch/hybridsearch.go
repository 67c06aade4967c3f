// Package hybridsearch fuses vector similarity search with knowledge
// graph expansion into a single ranked candidate list.
package hybridsearch

import (
	"context"
	"math"
	"sort"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/ob-labs/personamem-go/pkg/graphstore"
	"github.com/ob-labs/personamem-go/pkg/vectorstore"
)

// maxExpansionEntities bounds how many graph-expansion entities (by
// score) are consulted for mentioned memories, matching the "bounded
// to top 50" language in the fusion algorithm.
const maxExpansionEntities = 50

// VectorSearcher is the subset of vectorstore.Store hybrid search
// depends on.
type VectorSearcher interface {
	Search(query []float32, opts vectorstore.SearchOptions) ([]vectorstore.SearchHit, error)
	GetVector(id uuid.UUID) ([]float32, vectorstore.Metadata, error)
}

// GraphExpander is the subset of graphstore.Store hybrid search
// depends on.
type GraphExpander interface {
	MentionsOf(personaID string, memoryID uuid.UUID) []uuid.UUID
	FindRelated(personaID string, entityID uuid.UUID, opts graphstore.TraversalOptions) ([]graphstore.Related, error)
	Entities(personaID string, entityIDs []uuid.UUID) []graphstore.Entity
}

// Options configures one hybrid search call.
type Options struct {
	Limit             int
	Threshold         float32
	MemoryTypes       []string
	MaxAgeMillis      int64
	NowMillis         int64
	UseGraphExpansion bool
	GraphDepth        int
	GraphWeight       float32
}

// Candidate is one ranked hybrid-search result. It carries no original
// content — enriching from the Metadata Store is the Memory Manager's
// responsibility (step 8 of the algorithm).
type Candidate struct {
	MemoryID      uuid.UUID
	VecScore      float32
	GraphScore    float32
	Final         float32
	GraphExpanded bool
	GraphBoosted  bool
	Metadata      vectorstore.Metadata
}

// Search runs the eight-step hybrid search algorithm: vector search,
// optional graph-expansion seeding and bounded BFS, single-formula
// score fusion, filtering, and truncation to Limit.
func Search(ctx context.Context, personaID string, queryVec []float32, vs VectorSearcher, gs GraphExpander, opts Options) ([]Candidate, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 10
	}

	vHits, err := vs.Search(queryVec, vectorstore.SearchOptions{
		Limit:     limit * 2,
		Threshold: opts.Threshold,
		UseIndex:  true,
		Filters:   vectorstore.Filters{PersonaID: personaID},
	})
	if err != nil {
		return nil, err
	}

	candidates := make(map[uuid.UUID]*Candidate, len(vHits))
	for _, h := range vHits {
		candidates[h.ID] = &Candidate{MemoryID: h.ID, VecScore: h.Similarity, Metadata: h.Metadata}
	}

	if opts.UseGraphExpansion {
		if err := expandViaGraph(ctx, personaID, queryVec, vs, gs, opts, candidates); err != nil {
			return nil, err
		}
	}

	out := make([]Candidate, 0, len(candidates))
	for _, c := range candidates {
		importance := c.Metadata.Importance
		if importance == 0 {
			importance = 0.5
		}
		bonus := float32(0)
		if c.GraphExpanded || c.GraphBoosted {
			bonus = 0.05
		}
		vecScore := c.VecScore
		if vecScore < 0 {
			vecScore = 0
		}
		c.Final = (1-opts.GraphWeight)*vecScore + opts.GraphWeight*c.GraphScore + 0.1*importance + bonus

		if !matchesMemoryType(c.Metadata.MemoryType, opts.MemoryTypes) {
			continue
		}
		if opts.MaxAgeMillis > 0 {
			cutoff := opts.NowMillis - opts.MaxAgeMillis
			if c.Metadata.CreatedAt < cutoff {
				continue
			}
		}
		out = append(out, *c)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Final != out[j].Final {
			return out[i].Final > out[j].Final
		}
		return out[i].MemoryID.String() < out[j].MemoryID.String()
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func matchesMemoryType(memoryType string, allowed []string) bool {
	if len(allowed) == 0 {
		return true
	}
	for _, t := range allowed {
		if t == memoryType {
			return true
		}
	}
	return false
}

func expandViaGraph(ctx context.Context, personaID string, queryVec []float32, vs VectorSearcher, gs GraphExpander, opts Options, candidates map[uuid.UUID]*Candidate) error {
	seedSet := make(map[uuid.UUID]bool)
	for memID := range candidates {
		for _, e := range gs.MentionsOf(personaID, memID) {
			seedSet[e] = true
		}
	}
	if len(seedSet) == 0 {
		return nil
	}

	entityScores := make(map[uuid.UUID]float32, len(seedSet))
	for seed := range seedSet {
		entityScores[seed] = 1.0 // a seed is directly mentioned by a vector hit
	}

	depth := opts.GraphDepth
	if depth <= 0 {
		depth = 2
	}
	for seed := range seedSet {
		related, err := gs.FindRelated(personaID, seed, graphstore.TraversalOptions{MaxDepth: depth})
		if err != nil {
			continue // an entity vanishing mid-traversal is not fatal to the search
		}
		for _, r := range related {
			if cur, ok := entityScores[r.EntityID]; !ok || r.Score > cur {
				entityScores[r.EntityID] = r.Score
			}
		}
	}

	type scoredEntity struct {
		id    uuid.UUID
		score float32
	}
	ranked := make([]scoredEntity, 0, len(entityScores))
	for id, score := range entityScores {
		ranked = append(ranked, scoredEntity{id: id, score: score})
	}
	sort.Slice(ranked, func(i, j int) bool { return ranked[i].score > ranked[j].score })
	if len(ranked) > maxExpansionEntities {
		ranked = ranked[:maxExpansionEntities]
	}

	// mentionedMemories maps memory -> best entity score mentioning it.
	mentionedMemories := make(map[uuid.UUID]float32)
	graphEntities := make([]uuid.UUID, len(ranked))
	for i, r := range ranked {
		graphEntities[i] = r.id
	}
	for _, e := range gs.Entities(personaID, graphEntities) {
		score := entityScores[e.ID]
		for _, memID := range e.Mentions {
			if cur, exists := mentionedMemories[memID]; !exists || score > cur {
				mentionedMemories[memID] = score
			}
		}
	}

	var (
		mu      sync.Mutex
		toFetch []uuid.UUID
	)
	for memID, score := range mentionedMemories {
		if c, inV := candidates[memID]; inV {
			c.GraphBoosted = true
			if score > c.GraphScore {
				c.GraphScore = score
			}
			continue
		}
		toFetch = append(toFetch, memID)
		mu.Lock()
		candidates[memID] = &Candidate{MemoryID: memID, GraphScore: score, GraphExpanded: true}
		mu.Unlock()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for _, memID := range toFetch {
		memID := memID
		g.Go(func() error {
			select {
			case <-gctx.Done():
				return gctx.Err()
			default:
			}
			vec, meta, err := vs.GetVector(memID)
			if err != nil {
				mu.Lock()
				delete(candidates, memID) // no longer resolvable; drop rather than fail the whole search
				mu.Unlock()
				return nil
			}
			sim := cosineSimilarity(queryVec, vec)
			mu.Lock()
			if c, ok := candidates[memID]; ok {
				c.VecScore = sim
				c.Metadata = meta
			}
			mu.Unlock()
			return nil
		})
	}
	return g.Wait()
}

func cosineSimilarity(a, b []float32) float32 {
	var dot, na, nb float32
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0
	}
	sim := dot / float32(math.Sqrt(float64(na))*math.Sqrt(float64(nb)))
	if sim > 1 {
		sim = 1
	}
	if sim < -1 {
		sim = -1
	}
	return sim
}
