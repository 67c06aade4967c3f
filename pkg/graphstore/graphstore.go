// Package graphstore implements the per-persona in-memory knowledge
// graph: entities, relationships, an adjacency index, and bounded BFS
// traversal for graph expansion during hybrid search.
package graphstore

import (
	"errors"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("graphstore: not found")

const relatedDecay = 0.6

// Entity is one node in a persona's knowledge graph.
type Entity struct {
	ID            uuid.UUID
	PersonaID     string
	CanonicalName string
	DisplayName   string
	Type          string
	Confidence    float32
	Mentions      []uuid.UUID
	Embedding     []float32
}

// Relationship is a directed, typed edge between two entities.
type Relationship struct {
	ID         uuid.UUID
	PersonaID  string
	Source     uuid.UUID
	Target     uuid.UUID
	Type       string
	Strength   float32
	Provenance []uuid.UUID
}

type adjacencyEdge struct {
	neighbor uuid.UUID
	relType  string
	strength float32
	relID    uuid.UUID
}

type entityKey struct {
	canonicalName string
	entityType    string
}

type relKey struct {
	src uuid.UUID
	dst uuid.UUID
	typ string
}

type personaGraph struct {
	entities      map[uuid.UUID]*Entity
	entityIndex   map[entityKey]uuid.UUID
	relationships map[uuid.UUID]*Relationship
	relIndex      map[relKey]uuid.UUID
	adjacency     map[uuid.UUID][]adjacencyEdge
	mentions      map[uuid.UUID]map[uuid.UUID]bool // memoryID -> set of entityID
}

func newPersonaGraph() *personaGraph {
	return &personaGraph{
		entities:      make(map[uuid.UUID]*Entity),
		entityIndex:   make(map[entityKey]uuid.UUID),
		relationships: make(map[uuid.UUID]*Relationship),
		relIndex:      make(map[relKey]uuid.UUID),
		adjacency:     make(map[uuid.UUID][]adjacencyEdge),
		mentions:      make(map[uuid.UUID]map[uuid.UUID]bool),
	}
}

// Store owns the per-persona knowledge graphs.
type Store struct {
	mu       sync.RWMutex
	personas map[string]*personaGraph
}

// New builds an empty graph store.
func New() *Store {
	return &Store{personas: make(map[string]*personaGraph)}
}

func (s *Store) graphFor(personaID string) *personaGraph {
	g, ok := s.personas[personaID]
	if !ok {
		g = newPersonaGraph()
		s.personas[personaID] = g
	}
	return g
}

func canonicalize(name string) string {
	fields := strings.Fields(strings.ToLower(strings.TrimSpace(name)))
	return strings.Join(fields, " ")
}

// UpsertEntity canonicalizes name and merges into an existing entity
// sharing (canonicalName, type), raising confidence to the max and
// appending the mention; otherwise creates a new entity. Repeating an
// upsert with the same canonical name and type is a no-op on entity
// count.
func (s *Store) UpsertEntity(personaID, name, entityType string, memoryID uuid.UUID, confidence float32) (uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g := s.graphFor(personaID)

	key := entityKey{canonicalName: canonicalize(name), entityType: entityType}
	if id, ok := g.entityIndex[key]; ok {
		e := g.entities[id]
		if confidence > e.Confidence {
			e.Confidence = confidence
		}
		addMentionLocked(g, e, id, memoryID)
		return id, nil
	}

	id := uuid.New()
	e := &Entity{
		ID:            id,
		PersonaID:     personaID,
		CanonicalName: key.canonicalName,
		DisplayName:   name,
		Type:          entityType,
		Confidence:    confidence,
	}
	g.entities[id] = e
	g.entityIndex[key] = id
	addMentionLocked(g, e, id, memoryID)
	return id, nil
}

func addMentionLocked(g *personaGraph, e *Entity, entityID, memoryID uuid.UUID) {
	for _, m := range e.Mentions {
		if m == memoryID {
			return
		}
	}
	e.Mentions = append(e.Mentions, memoryID)
	set, ok := g.mentions[memoryID]
	if !ok {
		set = make(map[uuid.UUID]bool)
		g.mentions[memoryID] = set
	}
	set[entityID] = true
}

// UpsertRelationship merges into an existing (src, dst, type) triple
// via exponential smoothing of strength (s' = 0.7*s + 0.3*strength)
// and appends provenance; otherwise creates a new relationship and
// indexes it in both entities' adjacency lists.
func (s *Store) UpsertRelationship(personaID string, src, dst uuid.UUID, relType string, strength float32, memoryID uuid.UUID) (uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g := s.graphFor(personaID)

	key := relKey{src: src, dst: dst, typ: relType}
	if id, ok := g.relIndex[key]; ok {
		r := g.relationships[id]
		r.Strength = 0.7*r.Strength + 0.3*strength
		r.Provenance = appendUnique(r.Provenance, memoryID)
		updateAdjacencyStrengthLocked(g, id, r.Strength)
		return id, nil
	}

	id := uuid.New()
	r := &Relationship{
		ID: id, PersonaID: personaID, Source: src, Target: dst,
		Type: relType, Strength: strength, Provenance: []uuid.UUID{memoryID},
	}
	g.relationships[id] = r
	g.relIndex[key] = id
	g.adjacency[src] = append(g.adjacency[src], adjacencyEdge{neighbor: dst, relType: relType, strength: strength, relID: id})
	g.adjacency[dst] = append(g.adjacency[dst], adjacencyEdge{neighbor: src, relType: relType, strength: strength, relID: id})
	return id, nil
}

func updateAdjacencyStrengthLocked(g *personaGraph, relID uuid.UUID, strength float32) {
	r := g.relationships[relID]
	for _, side := range [2]uuid.UUID{r.Source, r.Target} {
		edges := g.adjacency[side]
		for i := range edges {
			if edges[i].relID == relID {
				edges[i].strength = strength
			}
		}
	}
}

func appendUnique(ids []uuid.UUID, id uuid.UUID) []uuid.UUID {
	for _, existing := range ids {
		if existing == id {
			return ids
		}
	}
	return append(ids, id)
}

// SearchOptions constrains SearchEntities.
type SearchOptions struct {
	Limit         int
	EntityTypes   []string
	MinConfidence float32
}

// SearchEntities performs a substring match against the canonical
// name, filtered by type and confidence.
func (s *Store) SearchEntities(personaID, query string, opts SearchOptions) ([]Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	g := s.personas[personaID]
	if g == nil {
		return nil, nil
	}
	needle := canonicalize(query)
	typeSet := toSet(opts.EntityTypes)

	var out []Entity
	for _, e := range g.entities {
		if len(typeSet) > 0 && !typeSet[e.Type] {
			continue
		}
		if e.Confidence < opts.MinConfidence {
			continue
		}
		if needle != "" && !strings.Contains(e.CanonicalName, needle) {
			continue
		}
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Confidence > out[j].Confidence })
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out, nil
}

func toSet(items []string) map[string]bool {
	if len(items) == 0 {
		return nil
	}
	set := make(map[string]bool, len(items))
	for _, it := range items {
		set[it] = true
	}
	return set
}

// TraversalOptions constrains FindRelated.
type TraversalOptions struct {
	MaxDepth          int
	MinStrength       float32
	EntityTypes       []string
	RelationshipTypes []string
	Limit             int
}

// Related is one bounded-BFS hit from FindRelated.
type Related struct {
	EntityID uuid.UUID
	Depth    int
	Score    float32
}

const maxVisitedFanoutProduct = 10000

// FindRelated runs a bounded BFS from entityID, accumulating
// score = strength * decay^depth for each reached entity (decay =
// 0.6), stopping at maxDepth (clamped to 5) or once
// visitedCount * averageFanout exceeds 10000. Results are ordered by
// score descending, tie-broken by smaller depth then entity ID.
func (s *Store) FindRelated(personaID string, entityID uuid.UUID, opts TraversalOptions) ([]Related, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	g := s.personas[personaID]
	if g == nil {
		return nil, nil
	}
	if _, ok := g.entities[entityID]; !ok {
		return nil, ErrNotFound
	}

	maxDepth := opts.MaxDepth
	if maxDepth <= 0 || maxDepth > 5 {
		maxDepth = 5
	}
	relTypeSet := toSet(opts.RelationshipTypes)
	entityTypeSet := toSet(opts.EntityTypes)

	type frontierItem struct {
		id    uuid.UUID
		depth int
	}

	best := make(map[uuid.UUID]Related)
	visited := map[uuid.UUID]bool{entityID: true}
	queue := []frontierItem{{id: entityID, depth: 0}}
	var totalEdgesExplored int

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if cur.depth >= maxDepth {
			continue
		}
		edges := g.adjacency[cur.id]
		totalEdgesExplored += len(edges)
		if len(visited) > 0 {
			avgFanout := float64(totalEdgesExplored) / float64(len(visited))
			if float64(len(visited))*avgFanout > maxVisitedFanoutProduct {
				break
			}
		}
		for _, edge := range edges {
			if edge.neighbor == entityID {
				continue
			}
			if edge.strength < opts.MinStrength {
				continue
			}
			if len(relTypeSet) > 0 && !relTypeSet[edge.relType] {
				continue
			}
			neighbor, ok := g.entities[edge.neighbor]
			if !ok {
				continue
			}
			if len(entityTypeSet) > 0 && !entityTypeSet[neighbor.Type] {
				continue
			}
			depth := cur.depth + 1
			score := edge.strength * pow60(depth)
			if existing, ok := best[edge.neighbor]; !ok || score > existing.Score {
				best[edge.neighbor] = Related{EntityID: edge.neighbor, Depth: depth, Score: score}
			}
			if !visited[edge.neighbor] {
				visited[edge.neighbor] = true
				queue = append(queue, frontierItem{id: edge.neighbor, depth: depth})
			}
		}
	}

	out := make([]Related, 0, len(best))
	for _, r := range best {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		if out[i].Depth != out[j].Depth {
			return out[i].Depth < out[j].Depth
		}
		return out[i].EntityID.String() < out[j].EntityID.String()
	})
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out, nil
}

func pow60(depth int) float32 {
	result := float32(1)
	for i := 0; i < depth; i++ {
		result *= relatedDecay
	}
	return result
}

// GraphContext is the subgraph returned by GetGraphContext.
type GraphContext struct {
	Entities      []Entity
	Relationships []Relationship
}

// ContextOptions constrains GetGraphContext.
type ContextOptions struct {
	IncludeRelationships bool
	MaxRelationships     int
	RelationshipDepth    int
}

// GetGraphContext returns the given entities, plus relationships among
// them (and their relationshipDepth-bounded neighborhood) when
// requested.
func (s *Store) GetGraphContext(personaID string, entityIDs []uuid.UUID, opts ContextOptions) (GraphContext, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	g := s.personas[personaID]
	if g == nil {
		return GraphContext{}, nil
	}

	set := make(map[uuid.UUID]bool, len(entityIDs))
	var entities []Entity
	for _, id := range entityIDs {
		e, ok := g.entities[id]
		if !ok {
			continue
		}
		set[id] = true
		entities = append(entities, *e)
	}
	ctx := GraphContext{Entities: entities}
	if !opts.IncludeRelationships {
		return ctx, nil
	}

	depth := opts.RelationshipDepth
	if depth <= 0 {
		depth = 1
	}
	expanded := make(map[uuid.UUID]bool, len(set))
	for id := range set {
		expanded[id] = true
	}
	if depth > 1 {
		for id := range set {
			related, _ := s.findRelatedLocked(g, id, TraversalOptions{MaxDepth: depth - 1})
			for _, r := range related {
				expanded[r.EntityID] = true
			}
		}
	}

	var rels []Relationship
	for _, r := range g.relationships {
		if expanded[r.Source] && expanded[r.Target] {
			rels = append(rels, *r)
		}
	}
	sort.Slice(rels, func(i, j int) bool { return rels[i].Strength > rels[j].Strength })
	if opts.MaxRelationships > 0 && len(rels) > opts.MaxRelationships {
		rels = rels[:opts.MaxRelationships]
	}
	ctx.Relationships = rels
	return ctx, nil
}

// findRelatedLocked is a simplified depth-bounded BFS for callers that
// already hold the read lock (GetGraphContext). Unlike FindRelated it
// applies no strength, type or limit filters, and records each entity
// once, at the depth where it is first reached.
func (s *Store) findRelatedLocked(g *personaGraph, entityID uuid.UUID, opts TraversalOptions) ([]Related, error) {
	if _, ok := g.entities[entityID]; !ok {
		return nil, ErrNotFound
	}
	maxDepth := opts.MaxDepth
	if maxDepth <= 0 || maxDepth > 5 {
		maxDepth = 5
	}
	type frontierItem struct {
		id    uuid.UUID
		depth int
	}
	visited := map[uuid.UUID]bool{entityID: true}
	queue := []frontierItem{{id: entityID, depth: 0}}
	var out []Related
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if cur.depth >= maxDepth {
			continue
		}
		for _, edge := range g.adjacency[cur.id] {
			if visited[edge.neighbor] {
				continue
			}
			visited[edge.neighbor] = true
			depth := cur.depth + 1
			out = append(out, Related{EntityID: edge.neighbor, Depth: depth, Score: edge.strength * pow60(depth)})
			queue = append(queue, frontierItem{id: edge.neighbor, depth: depth})
		}
	}
	return out, nil
}

// RemoveMentionsForMemory drops memoryID from every entity's mentions
// and deletes any entity left with zero mentions, cascading to
// incident relationships and adjacency edges.
func (s *Store) RemoveMentionsForMemory(personaID string, memoryID uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g := s.personas[personaID]
	if g == nil {
		return
	}
	entityIDs := g.mentions[memoryID]
	delete(g.mentions, memoryID)
	for entityID := range entityIDs {
		e, ok := g.entities[entityID]
		if !ok {
			continue
		}
		e.Mentions = removeUUID(e.Mentions, memoryID)
		if len(e.Mentions) == 0 {
			deleteEntityLocked(g, entityID)
		}
	}
}

// CleanupOrphanedEntities deletes any entity whose mentions list is
// empty, cascading to incident relationships and adjacency.
func (s *Store) CleanupOrphanedEntities(personaID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	g := s.personas[personaID]
	if g == nil {
		return nil
	}
	for id, e := range g.entities {
		if len(e.Mentions) == 0 {
			deleteEntityLocked(g, id)
		}
	}
	return nil
}

func deleteEntityLocked(g *personaGraph, entityID uuid.UUID) {
	e, ok := g.entities[entityID]
	if !ok {
		return
	}
	delete(g.entities, entityID)
	delete(g.entityIndex, entityKey{canonicalName: e.CanonicalName, entityType: e.Type})

	for _, edge := range g.adjacency[entityID] {
		delete(g.relationships, edge.relID)
		g.adjacency[edge.neighbor] = removeAdjacencyTo(g.adjacency[edge.neighbor], entityID)
	}
	delete(g.adjacency, entityID)
	for key := range g.relIndex {
		if key.src == entityID || key.dst == entityID {
			delete(g.relIndex, key)
		}
	}
}

func removeAdjacencyTo(edges []adjacencyEdge, target uuid.UUID) []adjacencyEdge {
	out := edges[:0]
	for _, e := range edges {
		if e.neighbor != target {
			out = append(out, e)
		}
	}
	return out
}

func removeUUID(ids []uuid.UUID, target uuid.UUID) []uuid.UUID {
	out := ids[:0]
	for _, id := range ids {
		if id != target {
			out = append(out, id)
		}
	}
	return out
}

// MentionsOf returns the set of entity IDs mentioned by memoryID.
func (s *Store) MentionsOf(personaID string, memoryID uuid.UUID) []uuid.UUID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	g := s.personas[personaID]
	if g == nil {
		return nil
	}
	set := g.mentions[memoryID]
	out := make([]uuid.UUID, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	return out
}

// Entities returns entities from a persona's graph (used to fetch
// mentioned-memory lookups during hybrid search's graph expansion).
func (s *Store) Entities(personaID string, entityIDs []uuid.UUID) []Entity {
	s.mu.RLock()
	defer s.mu.RUnlock()
	g := s.personas[personaID]
	if g == nil {
		return nil
	}
	out := make([]Entity, 0, len(entityIDs))
	for _, id := range entityIDs {
		if e, ok := g.entities[id]; ok {
			out = append(out, *e)
		}
	}
	return out
}
