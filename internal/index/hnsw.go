package index

import (
	"container/heap"
	"fmt"
	"math"
	"math/rand/v2"
	"sort"
)

// HNSWConfig tunes the graph.
type HNSWConfig struct {
	M              int    // links per node above layer 0 (layer 0 gets 2*M)
	EFConstruction int    // candidate list size while inserting
	EFSearch       int    // candidate list size while searching
	ExactBelow     int    // scan every node when Len() is at most this (0 = EFSearch)
	Seed           uint64 // level generator seed
}

// DefaultHNSWConfig returns the settings used when the config leaves them zero.
func DefaultHNSWConfig() HNSWConfig {
	return HNSWConfig{M: 16, EFConstruction: 200, EFSearch: 64, Seed: 42}
}

func (c *HNSWConfig) applyDefaults() {
	d := DefaultHNSWConfig()
	if c.M < 2 {
		c.M = d.M
	}
	if c.EFConstruction <= 0 {
		c.EFConstruction = d.EFConstruction
	}
	if c.EFSearch <= 0 {
		c.EFSearch = d.EFSearch
	}
	if c.ExactBelow <= 0 {
		c.ExactBelow = c.EFSearch
	}
}

type node struct {
	id      string
	vec     []float32
	links   [][]int32 // per layer
	deleted bool
}

// HNSW is a hierarchical navigable small world graph.
// Removal tombstones a node; the graph is compacted once half of it is dead.
type HNSW struct {
	cfg      HNSWConfig
	dim      int
	ml       float64
	rng      *rand.Rand
	nodes    []*node
	ids      map[string]int32
	entry    int32
	maxLevel int
	dead     int
}

// NewHNSW creates an empty graph for vectors of length dim.
func NewHNSW(dim int, cfg HNSWConfig) *HNSW {
	cfg.applyDefaults()
	h := &HNSW{cfg: cfg, dim: dim, ml: 1 / math.Log(float64(cfg.M))}
	h.reset()
	return h
}

func (h *HNSW) reset() {
	h.rng = rand.New(rand.NewPCG(h.cfg.Seed, h.cfg.Seed^0x9e3779b97f4a7c15))
	h.nodes = nil
	h.ids = make(map[string]int32)
	h.entry = -1
	h.maxLevel = -1
	h.dead = 0
}

// Len returns the number of live vectors.
func (h *HNSW) Len() int { return len(h.ids) }

// Dim returns the vector dimension.
func (h *HNSW) Dim() int { return h.dim }

// Insert adds or replaces a vector.
func (h *HNSW) Insert(id string, vector []float32) error {
	if err := checkDim(h.dim, vector); err != nil {
		return fmt.Errorf("insert %s: %w", id, err)
	}
	v, err := Normalize(vector)
	if err != nil {
		return fmt.Errorf("insert %s: %w", id, err)
	}
	if _, ok := h.ids[id]; ok {
		h.Remove(id)
	}
	h.insert(id, v)
	return nil
}

func (h *HNSW) insert(id string, v []float32) {
	level := h.randomLevel()
	idx := int32(len(h.nodes))
	n := &node{id: id, vec: v, links: make([][]int32, level+1)}
	h.nodes = append(h.nodes, n)
	h.ids[id] = idx

	if h.entry < 0 {
		h.entry = idx
		h.maxLevel = level
		return
	}

	ep := candidate{node: h.entry, sim: Dot(v, h.nodes[h.entry].vec)}
	for l := h.maxLevel; l > level; l-- {
		ep = h.greedy(v, ep, l)
	}
	eps := []candidate{ep}
	for l := min(level, h.maxLevel); l >= 0; l-- {
		found := h.searchLayer(v, eps, h.cfg.EFConstruction, l)
		neighbors := h.selectNeighbors(found, h.cfg.M)
		n.links[l] = make([]int32, 0, len(neighbors))
		for _, c := range neighbors {
			n.links[l] = append(n.links[l], c.node)
			h.link(c.node, idx, l)
		}
		eps = found
	}
	if level > h.maxLevel {
		h.maxLevel = level
		h.entry = idx
	}
}

// link adds a back-edge from src to dst, pruning src's list to capacity.
func (h *HNSW) link(src, dst int32, level int) {
	s := h.nodes[src]
	s.links[level] = append(s.links[level], dst)
	limit := h.cfg.M
	if level == 0 {
		limit = 2 * h.cfg.M
	}
	if len(s.links[level]) <= limit {
		return
	}
	cands := make([]candidate, len(s.links[level]))
	for i, nb := range s.links[level] {
		cands[i] = candidate{node: nb, sim: Dot(s.vec, h.nodes[nb].vec)}
	}
	sort.Slice(cands, func(i, j int) bool { return cands[i].sim > cands[j].sim })
	kept := h.selectNeighbors(cands, limit)
	s.links[level] = s.links[level][:0]
	for _, c := range kept {
		s.links[level] = append(s.links[level], c.node)
	}
}

// selectNeighbors applies the diversity heuristic and backfills with the
// closest pruned candidates. cands must be sorted most similar first.
func (h *HNSW) selectNeighbors(cands []candidate, m int) []candidate {
	if len(cands) <= m {
		return cands
	}
	selected := make([]candidate, 0, m)
	var pruned []candidate
	for _, c := range cands {
		if len(selected) >= m {
			break
		}
		keep := true
		for _, s := range selected {
			if Dot(h.nodes[c.node].vec, h.nodes[s.node].vec) > c.sim {
				keep = false
				break
			}
		}
		if keep {
			selected = append(selected, c)
		} else {
			pruned = append(pruned, c)
		}
	}
	for _, c := range pruned {
		if len(selected) >= m {
			break
		}
		selected = append(selected, c)
	}
	return selected
}

func (h *HNSW) greedy(q []float32, ep candidate, level int) candidate {
	for changed := true; changed; {
		changed = false
		for _, nb := range h.nodes[ep.node].links[level] {
			if s := Dot(q, h.nodes[nb].vec); s > ep.sim {
				ep = candidate{node: nb, sim: s}
				changed = true
			}
		}
	}
	return ep
}

// searchLayer returns up to ef candidates on level, most similar first.
// Tombstoned nodes are traversed and returned; callers filter them.
func (h *HNSW) searchLayer(q []float32, eps []candidate, ef, level int) []candidate {
	visited := make(map[int32]struct{}, ef*4)
	cand := &nearest{}
	res := &furthest{}
	for _, ep := range eps {
		if _, ok := visited[ep.node]; ok {
			continue
		}
		visited[ep.node] = struct{}{}
		heap.Push(cand, ep)
		heap.Push(res, ep)
		if res.Len() > ef {
			heap.Pop(res)
		}
	}
	for cand.Len() > 0 {
		c := heap.Pop(cand).(candidate)
		if res.Len() >= ef && c.sim < res.worst() {
			break
		}
		n := h.nodes[c.node]
		if level >= len(n.links) {
			continue
		}
		for _, nb := range n.links[level] {
			if _, ok := visited[nb]; ok {
				continue
			}
			visited[nb] = struct{}{}
			s := Dot(q, h.nodes[nb].vec)
			if res.Len() < ef || s > res.worst() {
				heap.Push(cand, candidate{node: nb, sim: s})
				heap.Push(res, candidate{node: nb, sim: s})
				if res.Len() > ef {
					heap.Pop(res)
				}
			}
		}
	}
	out := make([]candidate, res.Len())
	for i := len(out) - 1; i >= 0; i-- {
		out[i] = heap.Pop(res).(candidate)
	}
	return out
}

func (h *HNSW) randomLevel() int {
	u := h.rng.Float64()
	for u == 0 {
		u = h.rng.Float64()
	}
	return int(math.Floor(-math.Log(u) * h.ml))
}

// Remove tombstones id.
func (h *HNSW) Remove(id string) {
	idx, ok := h.ids[id]
	if !ok {
		return
	}
	delete(h.ids, id)
	h.nodes[idx].deleted = true
	h.dead++
	if len(h.ids) == 0 {
		h.reset()
		return
	}
	if h.dead > len(h.ids) {
		h.compact()
	}
}

// compact rebuilds the graph from live nodes in id order.
func (h *HNSW) compact() {
	live := h.Entries()
	h.reset()
	for _, e := range live {
		h.insert(e.ID, e.Vector)
	}
}

// Search returns the k most similar live vectors.
func (h *HNSW) Search(query []float32, k int) ([]Match, error) {
	if err := checkDim(h.dim, query); err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}
	if k <= 0 || len(h.ids) == 0 {
		return []Match{}, nil
	}
	q, err := Normalize(query)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}
	if len(h.ids) <= h.cfg.ExactBelow {
		return h.scan(q, k), nil
	}

	ep := candidate{node: h.entry, sim: Dot(q, h.nodes[h.entry].vec)}
	for l := h.maxLevel; l > 0; l-- {
		ep = h.greedy(q, ep, l)
	}
	ef := max(h.cfg.EFSearch, k) + h.dead
	found := h.searchLayer(q, []candidate{ep}, ef, 0)

	out := make([]Match, 0, min(k, len(found)))
	for _, c := range found {
		n := h.nodes[c.node]
		if n.deleted {
			continue
		}
		out = append(out, Match{ID: n.id, Similarity: c.sim})
	}
	sortMatches(out)
	if len(out) > k {
		out = out[:k]
	}
	return out, nil
}

func (h *HNSW) scan(q []float32, k int) []Match {
	out := make([]Match, 0, len(h.ids))
	for id, idx := range h.ids {
		out = append(out, Match{ID: id, Similarity: Dot(q, h.nodes[idx].vec)})
	}
	sortMatches(out)
	if len(out) > k {
		out = out[:k]
	}
	return out
}

// Entries returns every live vector ordered by id.
func (h *HNSW) Entries() []Entry {
	out := make([]Entry, 0, len(h.ids))
	for id, idx := range h.ids {
		out = append(out, Entry{ID: id, Vector: h.nodes[idx].vec})
	}
	sortEntries(out)
	return out
}
