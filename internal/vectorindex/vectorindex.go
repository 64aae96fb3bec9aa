// Package vectorindex implements the VectorIndex component (spec §4.7): an
// in-memory nearest-neighbour search over stored embeddings, brute-force by
// default with an optional graph-based backend for larger corpora.
package vectorindex

import (
	"sort"
	"sync"

	"github.com/openclaw/memento/internal/deadline"
	"github.com/openclaw/memento/internal/memerr"
	"github.com/openclaw/memento/internal/models"
	"github.com/openclaw/memento/internal/vectorops"
)

// GraphActivationThreshold is T from spec §4.7: the corpus size at which the
// optional graph-based backend is lazily built alongside the brute-force
// buffer. Below T, only brute force is ever used.
const GraphActivationThreshold = 10_000

// DefaultExpansion and MaxExpansion are F and its clamp from spec §4.7's
// filtered-search correction.
const (
	DefaultExpansion = 3
	MaxExpansion     = 20
	RetryExpansion   = 10
)

// Candidate is one VectorIndex search hit: an id and its similarity score.
type Candidate struct {
	ID    string
	Score float64
}

// Index is the brute-force dot-product buffer of spec §4.7, plus a lazily
// built graph backend once the corpus crosses GraphActivationThreshold.
// The graph's answers are not checked for recall at search time: Search
// returns the graph result whenever it yields n candidates, and falls back
// to brute force only when it yields fewer. TestGraphRecallAgainstBruteForce
// in vectorindex_test.go measures the graph's recall@10 against brute force.
//
// Grounded on the teacher's internal/search package (in-memory slice +
// RWMutex pattern for a rebuild-on-open, maintain-in-place index) and on
// github.com/hupe1980/vecgo/hnsw's Node{Connections,Vector,Layer,ID} /
// Options{M,EF,Heuristic,DistanceFunc} naming, reimplemented at the small
// scale spec §4.7 asks for rather than copied wholesale.
type Index struct {
	mu   sync.RWMutex
	ids  []string
	vecs [][]float32 // each len == vectorops.Dim, unit-normalised

	graph *graph // nil until N >= GraphActivationThreshold
}

// New builds an Index from a full (ids, vecs) snapshot, as read from
// Store.AllEmbeddings() on open.
func New(ids []string, vecs [][]float32) (*Index, error) {
	if len(ids) != len(vecs) {
		return nil, memerr.New(memerr.KindInternal, "vectorindex: ids/vecs length mismatch")
	}
	idx := &Index{
		ids:  append([]string(nil), ids...),
		vecs: append([][]float32(nil), vecs...),
	}
	idx.maybeBuildGraphLocked()
	return idx, nil
}

// Len reports the number of indexed vectors.
func (idx *Index) Len() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.ids)
}

// Upsert adds id/vec, or replaces vec if id is already indexed. Maintains
// the buffer in place rather than rebuilding (spec §4.7: "maintained
// in-place on write").
func (idx *Index) Upsert(id string, vec []float32) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	for i, existing := range idx.ids {
		if existing == id {
			idx.vecs[i] = vec
			return
		}
	}
	idx.ids = append(idx.ids, id)
	idx.vecs = append(idx.vecs, vec)
	idx.maybeBuildGraphLocked()
}

// Remove drops id from the index, if present.
func (idx *Index) Remove(id string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	for i, existing := range idx.ids {
		if existing == id {
			last := len(idx.ids) - 1
			idx.ids[i] = idx.ids[last]
			idx.vecs[i] = idx.vecs[last]
			idx.ids = idx.ids[:last]
			idx.vecs = idx.vecs[:last]
			// A removal can shrink back below the activation threshold;
			// dropping the graph is cheap and correctness (brute force)
			// always wins over staying on a stale graph.
			idx.graph = nil
			idx.maybeBuildGraphLocked()
			return
		}
	}
}

func (idx *Index) maybeBuildGraphLocked() {
	if len(idx.ids) < GraphActivationThreshold {
		idx.graph = nil
		return
	}
	idx.graph = buildGraph(idx.ids, idx.vecs)
}

// Search returns the top n candidates by cosine similarity to query
// (query must already be unit-normalised, as all embeddings in this module
// are). dl is checked before the search starts and periodically during a
// brute-force scan, per spec §5's "every 4096 candidates" guidance.
func (idx *Index) Search(query []float32, n int, dl deadline.Deadline) ([]Candidate, error) {
	if n <= 0 {
		return nil, nil
	}
	if err := dl.Check(); err != nil {
		return nil, err
	}
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	if idx.graph != nil {
		out, ok := idx.graph.search(query, n)
		if ok {
			return out, nil
		}
		// Graph couldn't answer confidently (e.g. too few neighbours
		// visited) -- fall through to brute force for correctness.
	}
	return idx.bruteForceLocked(query, n, dl)
}

func (idx *Index) bruteForceLocked(query []float32, n int, dl deadline.Deadline) ([]Candidate, error) {
	scored := make([]vectorops.Scored, 0, len(idx.ids))
	for i, vec := range idx.vecs {
		if i > 0 && i%4096 == 0 {
			if err := dl.Check(); err != nil {
				return nil, err
			}
		}
		scored = append(scored, vectorops.Scored{ID: idx.ids[i], Score: float64(vectorops.Dot(query, vec))})
	}
	top := vectorops.TopK(scored, n)
	out := make([]Candidate, len(top))
	for i, s := range top {
		out[i] = Candidate{ID: s.ID, Score: s.Score}
	}
	return out, nil
}

// ExpansionForRetry returns the next F to retry filtered search with, per
// spec §4.7: "expands F up to 10 and retries once." current is the F that
// was just tried; the result is current doubled (at least current+1), capped
// at RetryExpansion and MaxExpansion, so for current >= RetryExpansion it is
// RetryExpansion.
func ExpansionForRetry(current int) int {
	next := current * 2
	if next < current+1 {
		next = current + 1
	}
	if next > RetryExpansion {
		next = RetryExpansion
	}
	if next > MaxExpansion {
		next = MaxExpansion
	}
	return next
}

// ClampExpansion enforces the F clamp to [1, MaxExpansion] from spec §4.7.
func ClampExpansion(f int) int {
	if f <= 0 {
		return DefaultExpansion
	}
	if f > MaxExpansion {
		return MaxExpansion
	}
	return f
}

// ToResults converts raw candidate scores into models.Result stubs (Memory
// left zero-valued) for callers that hydrate separately. Exists mainly to
// keep a single conversion point for sort stability in tests.
func ToResults(cands []Candidate) []models.Result {
	out := make([]models.Result, len(cands))
	for i, c := range cands {
		out[i] = models.Result{Memory: models.Memory{ID: c.ID}, Score: c.Score}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out
}
