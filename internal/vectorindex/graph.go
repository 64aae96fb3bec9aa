package vectorindex

import (
	"container/heap"

	"github.com/openclaw/memento/internal/vectorops"
)

// graph is a small navigable-small-world index: each node links to its M
// nearest neighbours among nodes inserted before it, giving greedy search a
// shortcut over the full brute-force scan once the corpus is large enough
// that scanning every vector per query gets expensive (spec §4.7's optional
// backend, activated at N >= GraphActivationThreshold).
//
// This is a deliberately small reimplementation of the single-layer case of
// github.com/hupe1980/vecgo/hnsw's Node{Connections,Vector,ID} shape — one
// layer rather than a hierarchy, since spec §4.7 only asks for graph search
// to beat brute force above T elements, not for HNSW's full multi-layer
// routing. ef (search-time candidate list size) and m (neighbours per node)
// mirror vecgo's Options.EF/Options.M naming.
type graph struct {
	ids  []string
	vecs [][]float32
	// neighbours[i] holds the indices (into ids/vecs) of node i's M nearest
	// neighbours among already-inserted nodes, kept mutual by also back-
	// inserting i into each neighbour's list.
	neighbours [][]uint32

	m  int
	ef int
}

const (
	graphM  = 16
	graphEF = 64
)

func buildGraph(ids []string, vecs [][]float32) *graph {
	g := &graph{
		ids:        ids,
		vecs:       vecs,
		neighbours: make([][]uint32, len(ids)),
		m:          graphM,
		ef:         graphEF,
	}
	for i := range ids {
		g.insert(uint32(i))
	}
	return g
}

type candHeap struct {
	idx   []uint32
	dist  []float32
	order bool // true = min-heap (smallest dist on top), false = max-heap
}

func (h candHeap) Len() int { return len(h.idx) }
func (h candHeap) Less(i, j int) bool {
	if h.order {
		return h.dist[i] < h.dist[j]
	}
	return h.dist[i] > h.dist[j]
}
func (h candHeap) Swap(i, j int) {
	h.idx[i], h.idx[j] = h.idx[j], h.idx[i]
	h.dist[i], h.dist[j] = h.dist[j], h.dist[i]
}
func (h *candHeap) Push(x any) {
	p := x.([2]float64)
	h.idx = append(h.idx, uint32(p[0]))
	h.dist = append(h.dist, float32(p[1]))
}
func (h *candHeap) Pop() any {
	n := len(h.idx)
	i, d := h.idx[n-1], h.dist[n-1]
	h.idx = h.idx[:n-1]
	h.dist = h.dist[:n-1]
	return [2]float64{float64(i), float64(d)}
}

// dist is 1 - cosine, so smaller is closer (vectors are unit-normalised, so
// cosine == dot per vectorops.Dot).
func (g *graph) dist(a, b []float32) float32 {
	return 1 - float32(vectorops.Dot(a, b))
}

// insert greedily connects new node id to its m nearest already-present
// nodes, then back-links each of those neighbours to id, trimming their
// list back to m if it overflows (keeping the closest m by distance).
func (g *graph) insert(id uint32) {
	if id == 0 {
		g.neighbours[id] = nil
		return
	}
	candidates := g.searchLayer(g.vecs[id], int(id), g.ef)
	limit := g.m
	if len(candidates) < limit {
		limit = len(candidates)
	}
	nn := make([]uint32, 0, limit)
	for i := 0; i < limit; i++ {
		nn = append(nn, candidates[i].idx)
	}
	g.neighbours[id] = nn

	for _, n := range nn {
		g.neighbours[n] = g.trimmedInsert(g.neighbours[n], id, n)
	}
}

type scoredIdx struct {
	idx uint32
	d   float32
}

func (g *graph) trimmedInsert(list []uint32, add, owner uint32) []uint32 {
	for _, existing := range list {
		if existing == add {
			return list
		}
	}
	list = append(list, add)
	if len(list) <= g.m {
		return list
	}
	scored := make([]scoredIdx, len(list))
	for i, n := range list {
		scored[i] = scoredIdx{idx: n, d: g.dist(g.vecs[owner], g.vecs[n])}
	}
	sortByDist(scored)
	out := make([]uint32, g.m)
	for i := 0; i < g.m; i++ {
		out[i] = scored[i].idx
	}
	return out
}

func sortByDist(s []scoredIdx) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j].d < s[j-1].d; j-- {
			s[j], s[j-1] = s[j-1], s[j]
		}
	}
}

// searchLayer performs a greedy beam search over already-inserted nodes
// [0, upperExclusive), starting from node 0, returning up to ef nearest
// candidates to query ordered by ascending distance.
func (g *graph) searchLayer(query []float32, upperExclusive int, ef int) []scoredIdx {
	if upperExclusive <= 0 {
		return nil
	}
	visited := make(map[uint32]bool, ef*2)
	entry := uint32(0)
	visited[entry] = true

	candidates := &candHeap{order: true}
	heap.Push(candidates, [2]float64{float64(entry), float64(g.dist(query, g.vecs[entry]))})
	results := &candHeap{order: false}
	heap.Push(results, [2]float64{float64(entry), float64(g.dist(query, g.vecs[entry]))})

	for candidates.Len() > 0 {
		c := heap.Pop(candidates).([2]float64)
		cIdx, cDist := uint32(c[0]), float32(c[1])

		if results.Len() >= ef {
			worst := results.dist[0]
			if cDist > worst {
				break
			}
		}

		for _, neigh := range g.neighbours[cIdx] {
			if int(neigh) >= upperExclusive || visited[neigh] {
				continue
			}
			visited[neigh] = true
			d := g.dist(query, g.vecs[neigh])
			if results.Len() < ef {
				heap.Push(candidates, [2]float64{float64(neigh), float64(d)})
				heap.Push(results, [2]float64{float64(neigh), float64(d)})
			} else if d < results.dist[0] {
				heap.Push(candidates, [2]float64{float64(neigh), float64(d)})
				heap.Push(results, [2]float64{float64(neigh), float64(d)})
				heap.Pop(results)
			}
		}
	}

	out := make([]scoredIdx, results.Len())
	for i := range out {
		r := heap.Pop(results).([2]float64)
		out[len(out)-1-i] = scoredIdx{idx: uint32(r[0]), d: float32(r[1])}
	}
	return out
}

// search answers a top-n query via the graph, returning ok=false if fewer
// than n candidates could be found (caller falls back to brute force).
func (g *graph) search(query []float32, n int) ([]Candidate, bool) {
	ef := g.ef
	if ef < n {
		ef = n
	}
	found := g.searchLayer(query, len(g.ids), ef)
	if len(found) < n {
		return nil, false
	}
	out := make([]Candidate, n)
	for i := 0; i < n; i++ {
		out[i] = Candidate{ID: g.ids[found[i].idx], Score: float64(1 - found[i].d)}
	}
	return out, true
}
