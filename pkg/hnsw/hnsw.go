// Package hnsw implements a Hierarchical Navigable Small World
// proximity graph over integer slot IDs, adapted from the arena/index
// split used elsewhere in the retrieved corpus for approximate
// nearest-neighbor search.
package hnsw

import (
	"container/heap"
	"errors"
	"math"
	"math/rand"
	"sort"
	"sync"
)

var (
	ErrDimensionMismatch = errors.New("hnsw: dimension mismatch")
	ErrNotFound          = errors.New("hnsw: node not found")
)

// DistanceFunc computes a distance between two vectors of equal
// dimension; smaller is closer. Selected once at construction — no
// per-call string dispatch.
type DistanceFunc func(a, b []float32) float32

// CosineDistance is 1 - cosine similarity.
func CosineDistance(a, b []float32) float32 {
	var dot, na, nb float32
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 1
	}
	return 1 - dot/(float32(math.Sqrt(float64(na)))*float32(math.Sqrt(float64(nb))))
}

// EuclideanDistance is the L2 distance.
func EuclideanDistance(a, b []float32) float32 {
	var sum float32
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return float32(math.Sqrt(float64(sum)))
}

type node struct {
	id        int
	vector    []float32
	level     int
	neighbors [][]int
	deleted   bool
}

// Params configures an Index at construction.
type Params struct {
	M              int
	EfConstruction int
	EfSearch       int
	Dist           DistanceFunc
	Seed           int64
}

// Index is a multi-layer HNSW proximity graph.
type Index struct {
	mu             sync.RWMutex
	dim            int
	m              int
	mMax0          int
	efConstruction int
	efSearch       int
	ml             float64
	dist           DistanceFunc
	nodes          map[int]*node
	entryPoint     int
	hasEntry       bool
	topLevel       int
	rng            *rand.Rand
}

// New builds an Index for vectors of the given dimension.
func New(dim int, p Params) *Index {
	m := p.M
	if m <= 0 {
		m = 16
	}
	ef := p.EfConstruction
	if ef <= 0 {
		ef = 200
	}
	efSearch := p.EfSearch
	if efSearch <= 0 {
		efSearch = 50
	}
	dist := p.Dist
	if dist == nil {
		dist = CosineDistance
	}
	seed := p.Seed
	if seed == 0 {
		seed = 1
	}
	return &Index{
		dim:            dim,
		m:              m,
		mMax0:          2 * m,
		efConstruction: ef,
		efSearch:       efSearch,
		ml:             1 / math.Log(float64(m)),
		dist:           dist,
		nodes:          make(map[int]*node),
		rng:            rand.New(rand.NewSource(seed)),
	}
}

// EfSearch returns the configured default search width.
func (idx *Index) EfSearch() int { return idx.efSearch }

func (idx *Index) selectLevel() int {
	u := idx.rng.Float64()
	if u <= 0 {
		u = 1e-12
	}
	level := int(math.Floor(-math.Log(u) * idx.ml))
	if level > 16 {
		level = 16
	}
	return level
}

// Insert adds vector under id, assigning a geometric layer and wiring
// it into the proximity graph via beam search plus heuristic neighbor
// selection. id must not already be present — callers that reuse a
// tombstoned slot ID must Remove it first.
func (idx *Index) Insert(id int, vector []float32) error {
	if len(vector) != idx.dim {
		return ErrDimensionMismatch
	}
	idx.mu.Lock()
	defer idx.mu.Unlock()

	level := idx.selectLevel()
	n := &node{id: id, vector: vector, level: level, neighbors: make([][]int, level+1)}
	idx.nodes[id] = n

	if !idx.hasEntry {
		idx.entryPoint = id
		idx.hasEntry = true
		idx.topLevel = level
		return nil
	}

	cur := idx.entryPoint
	curDist := idx.distTo(cur, vector)
	for l := idx.topLevel; l > level; l-- {
		cur, curDist = idx.greedyClosest(cur, curDist, vector, l)
	}

	entryPoints := []candidate{{id: cur, dist: curDist}}
	top := idx.topLevel
	if level < top {
		top = level
	}
	for l := top; l >= 0; l-- {
		candidates := idx.searchLayer(vector, entryPoints, idx.efConstruction, l)
		maxDeg := idx.m
		if l == 0 {
			maxDeg = idx.mMax0
		}
		selected := idx.selectNeighborsHeuristic(vector, candidates, maxDeg)

		neighborIDs := make([]int, len(selected))
		for i, c := range selected {
			neighborIDs[i] = c.id
		}
		n.neighbors[l] = neighborIDs

		for _, c := range selected {
			idx.addConnection(c.id, id, l, maxDeg)
		}
		entryPoints = candidates
	}

	if level > idx.topLevel {
		idx.topLevel = level
		idx.entryPoint = id
	}
	return nil
}

// Result is one k-NN hit.
type Result struct {
	ID       int
	Distance float32
}

// Search returns up to k nearest live (non-tombstoned) neighbors of
// query, using a beam of width max(ef, k) at layer 0.
func (idx *Index) Search(query []float32, k, ef int) ([]Result, error) {
	if len(query) != idx.dim {
		return nil, ErrDimensionMismatch
	}
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	if !idx.hasEntry || len(idx.nodes) == 0 {
		return nil, nil
	}
	if ef < k {
		ef = k
	}

	cur := idx.entryPoint
	curDist := idx.distTo(cur, query)
	for l := idx.topLevel; l >= 1; l-- {
		cur, curDist = idx.greedyClosest(cur, curDist, query, l)
	}

	candidates := idx.searchLayer(query, []candidate{{id: cur, dist: curDist}}, ef, 0)
	if len(candidates) > k {
		candidates = candidates[:k]
	}
	out := make([]Result, len(candidates))
	for i, c := range candidates {
		out[i] = Result{ID: c.id, Distance: c.dist}
	}
	return out, nil
}

// Delete tombstones id: future searches skip it but it remains
// traversable for graph connectivity. If it was the entry point, the
// highest-layer surviving node is promoted.
func (idx *Index) Delete(id int) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	n, ok := idx.nodes[id]
	if !ok {
		return ErrNotFound
	}
	n.deleted = true
	if idx.entryPoint == id {
		idx.promoteEntryPointLocked()
	}
	return nil
}

// Remove fully purges a tombstoned node's edges, allowing its slot ID
// to be reinserted fresh. Removing a non-tombstoned node is a no-op.
func (idx *Index) Remove(id int) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	n, ok := idx.nodes[id]
	if !ok || !n.deleted {
		return
	}
	delete(idx.nodes, id)
	for _, other := range idx.nodes {
		for l := range other.neighbors {
			other.neighbors[l] = removeID(other.neighbors[l], id)
		}
	}
	if idx.entryPoint == id {
		idx.promoteEntryPointLocked()
	}
}

func removeID(ids []int, target int) []int {
	out := ids[:0]
	for _, id := range ids {
		if id != target {
			out = append(out, id)
		}
	}
	return out
}

func (idx *Index) promoteEntryPointLocked() {
	best, bestLevel := -1, -1
	for id, n := range idx.nodes {
		if n.deleted {
			continue
		}
		if n.level > bestLevel {
			bestLevel, best = n.level, id
		}
	}
	if best == -1 {
		idx.hasEntry = false
		idx.entryPoint = 0
		idx.topLevel = 0
		return
	}
	idx.entryPoint = best
	idx.topLevel = bestLevel
}

// ActiveCount returns the number of non-tombstoned nodes.
func (idx *Index) ActiveCount() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	n := 0
	for _, nd := range idx.nodes {
		if !nd.deleted {
			n++
		}
	}
	return n
}

// Stats reports index-wide introspection counters.
type Stats struct {
	TotalNodes     int
	ActiveNodes    int
	DeletedNodes   int
	TotalEdges     int
	MaxLevel       int
	EntryPoint     int
	M              int
	EfConstruction int
}

func (idx *Index) Stats() Stats {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	s := Stats{M: idx.m, EfConstruction: idx.efConstruction, EntryPoint: idx.entryPoint, MaxLevel: idx.topLevel}
	for _, n := range idx.nodes {
		s.TotalNodes++
		if n.deleted {
			s.DeletedNodes++
		} else {
			s.ActiveNodes++
		}
		for _, layer := range n.neighbors {
			s.TotalEdges += len(layer)
		}
	}
	return s
}

func (idx *Index) distTo(id int, query []float32) float32 {
	return idx.dist(query, idx.nodes[id].vector)
}

func (idx *Index) greedyClosest(cur int, curDist float32, query []float32, layer int) (int, float32) {
	for {
		n := idx.nodes[cur]
		if n == nil || layer > n.level {
			return cur, curDist
		}
		improved := false
		for _, neighborID := range n.neighbors[layer] {
			nb := idx.nodes[neighborID]
			if nb == nil {
				continue
			}
			d := idx.dist(query, nb.vector)
			if d < curDist {
				curDist, cur, improved = d, neighborID, true
			}
		}
		if !improved {
			return cur, curDist
		}
	}
}

// selectNeighborsHeuristic accepts a candidate only if no
// already-selected neighbor is strictly closer to it than the query
// point is, preserving diverse connectivity instead of plain
// nearest-M selection; it then fills any remaining slots with the
// closest leftover candidates.
func (idx *Index) selectNeighborsHeuristic(query []float32, candidates []candidate, maxDeg int) []candidate {
	sorted := make([]candidate, len(candidates))
	copy(sorted, candidates)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].dist < sorted[j].dist })

	selected := make([]candidate, 0, maxDeg)
	for _, c := range sorted {
		if len(selected) >= maxDeg {
			break
		}
		cNode := idx.nodes[c.id]
		good := true
		for _, s := range selected {
			sNode := idx.nodes[s.id]
			if idx.dist(cNode.vector, sNode.vector) < c.dist {
				good = false
				break
			}
		}
		if good {
			selected = append(selected, c)
		}
	}
	if len(selected) < maxDeg {
		chosen := make(map[int]bool, len(selected))
		for _, s := range selected {
			chosen[s.id] = true
		}
		for _, c := range sorted {
			if len(selected) >= maxDeg {
				break
			}
			if !chosen[c.id] {
				selected = append(selected, c)
				chosen[c.id] = true
			}
		}
	}
	return selected
}

func (idx *Index) addConnection(neighborID, newID, layer, maxDeg int) {
	n := idx.nodes[neighborID]
	if n == nil || layer > n.level {
		return
	}
	n.neighbors[layer] = append(n.neighbors[layer], newID)
	if len(n.neighbors[layer]) <= maxDeg {
		return
	}
	cands := make([]candidate, 0, len(n.neighbors[layer]))
	for _, nb := range n.neighbors[layer] {
		nbNode := idx.nodes[nb]
		if nbNode == nil {
			continue
		}
		cands = append(cands, candidate{id: nb, dist: idx.dist(n.vector, nbNode.vector)})
	}
	pruned := idx.selectNeighborsHeuristic(n.vector, cands, maxDeg)
	newList := make([]int, len(pruned))
	for i, p := range pruned {
		newList[i] = p.id
	}
	n.neighbors[layer] = newList
}

type candidate struct {
	id   int
	dist float32
}

type minHeap []candidate

func (h minHeap) Len() int            { return len(h) }
func (h minHeap) Less(i, j int) bool  { return h[i].dist < h[j].dist }
func (h minHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *minHeap) Push(x interface{}) { *h = append(*h, x.(candidate)) }
func (h *minHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

type maxHeap []candidate

func (h maxHeap) Len() int            { return len(h) }
func (h maxHeap) Less(i, j int) bool  { return h[i].dist > h[j].dist }
func (h maxHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *maxHeap) Push(x interface{}) { *h = append(*h, x.(candidate)) }
func (h *maxHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// searchLayer runs a bounded-beam search at layer, returning up to ef
// live candidates sorted ascending by distance. Tombstoned nodes are
// traversed (their edges provide connectivity) but never enter the
// result set.
func (idx *Index) searchLayer(query []float32, entryPoints []candidate, ef int, layer int) []candidate {
	visited := make(map[int]bool, ef*2)
	candidates := &minHeap{}
	results := &maxHeap{}
	heap.Init(candidates)
	heap.Init(results)

	for _, ep := range entryPoints {
		visited[ep.id] = true
		heap.Push(candidates, ep)
		if n := idx.nodes[ep.id]; n != nil && !n.deleted {
			heap.Push(results, ep)
		}
	}

	for candidates.Len() > 0 {
		c := heap.Pop(candidates).(candidate)
		if results.Len() >= ef {
			worst := (*results)[0]
			if c.dist > worst.dist {
				break
			}
		}
		n := idx.nodes[c.id]
		if n == nil || layer > n.level {
			continue
		}
		for _, neighborID := range n.neighbors[layer] {
			if visited[neighborID] {
				continue
			}
			visited[neighborID] = true
			nb := idx.nodes[neighborID]
			if nb == nil {
				continue
			}
			d := idx.dist(query, nb.vector)
			if results.Len() < ef {
				heap.Push(candidates, candidate{id: neighborID, dist: d})
				if !nb.deleted {
					heap.Push(results, candidate{id: neighborID, dist: d})
				}
				continue
			}
			worst := (*results)[0]
			if d < worst.dist {
				heap.Push(candidates, candidate{id: neighborID, dist: d})
				if !nb.deleted {
					heap.Push(results, candidate{id: neighborID, dist: d})
					heap.Pop(results)
				}
			}
		}
	}

	out := make([]candidate, results.Len())
	copy(out, *results)
	sort.Slice(out, func(i, j int) bool { return out[i].dist < out[j].dist })
	return out
}
