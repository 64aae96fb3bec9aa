package vectorindex

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/openclaw/memento/internal/deadline"
	"github.com/openclaw/memento/internal/vectorops"
)

func randUnit(r *rand.Rand) []float32 {
	v := make([]float32, vectorops.Dim)
	for i := range v {
		v[i] = r.Float32()*2 - 1
	}
	out, _ := vectorops.Normalise(v)
	return out
}

func TestSearchReturnsExactNearestBruteForce(t *testing.T) {
	r := rand.New(rand.NewSource(1))
	ids := make([]string, 200)
	vecs := make([][]float32, 200)
	for i := range ids {
		ids[i] = fmt.Sprintf("id-%d", i)
		vecs[i] = randUnit(r)
	}
	idx, err := New(ids, vecs)
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	query := vecs[42]
	results, err := idx.Search(query, 1, deadline.New(0))
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(results) != 1 || results[0].ID != "id-42" {
		t.Fatalf("expected exact self-match id-42, got %+v", results)
	}
}

func TestUpsertAndRemove(t *testing.T) {
	idx, err := New(nil, nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	v := make([]float32, vectorops.Dim)
	v[0] = 1
	idx.Upsert("a", v)
	if idx.Len() != 1 {
		t.Fatalf("expected len 1, got %d", idx.Len())
	}
	v2 := make([]float32, vectorops.Dim)
	v2[1] = 1
	idx.Upsert("a", v2) // replace, not append
	if idx.Len() != 1 {
		t.Fatalf("expected upsert to replace, got len %d", idx.Len())
	}
	idx.Remove("a")
	if idx.Len() != 0 {
		t.Fatalf("expected len 0 after remove, got %d", idx.Len())
	}
}

func TestSearchHonoursDeadline(t *testing.T) {
	r := rand.New(rand.NewSource(2))
	n := 10000
	ids := make([]string, n)
	vecs := make([][]float32, n)
	for i := range ids {
		ids[i] = fmt.Sprintf("id-%d", i)
		vecs[i] = randUnit(r)
	}
	idx, err := New(ids, vecs)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	dl := deadline.New(0)
	// Force immediate expiry by constructing a deadline already in the past.
	dl = deadline.New(1)
	for dl.Check() == nil {
	}
	_, err = idx.Search(vecs[0], 5, dl)
	if err == nil {
		t.Fatalf("expected timeout error from expired deadline")
	}
}

func TestExpansionForRetryGrowsAndClamps(t *testing.T) {
	if got := ExpansionForRetry(DefaultExpansion); got <= DefaultExpansion {
		t.Fatalf("expected retry expansion to grow past %d, got %d", DefaultExpansion, got)
	}
	if got := ExpansionForRetry(MaxExpansion); got > RetryExpansion {
		t.Fatalf("expected retry expansion clamped to %d, got %d", RetryExpansion, got)
	}
}

func TestClampExpansionBounds(t *testing.T) {
	if ClampExpansion(0) != DefaultExpansion {
		t.Fatalf("expected zero to fall back to default expansion")
	}
	if ClampExpansion(1000) != MaxExpansion {
		t.Fatalf("expected large F to clamp to %d", MaxExpansion)
	}
	if ClampExpansion(5) != 5 {
		t.Fatalf("expected in-range F to pass through unchanged")
	}
}

func TestGraphRecallAgainstBruteForce(t *testing.T) {
	r := rand.New(rand.NewSource(3))
	n := GraphActivationThreshold + 500
	ids := make([]string, n)
	vecs := make([][]float32, n)
	for i := range ids {
		ids[i] = fmt.Sprintf("id-%d", i)
		vecs[i] = randUnit(r)
	}
	idx, err := New(ids, vecs)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if idx.graph == nil {
		t.Fatalf("expected graph backend to be built above activation threshold")
	}

	const topK = 10
	const queries = 20
	var hits, total int
	for q := 0; q < queries; q++ {
		query := randUnit(r)

		brute, err := idx.bruteForceLocked(query, topK, deadline.New(0))
		if err != nil {
			t.Fatalf("brute force: %v", err)
		}
		graphOut, ok := idx.graph.search(query, topK)
		if !ok {
			continue
		}
		want := make(map[string]bool, len(brute))
		for _, c := range brute {
			want[c.ID] = true
		}
		for _, c := range graphOut {
			total++
			if want[c.ID] {
				hits++
			}
		}
	}
	if total == 0 {
		t.Skip("graph search never returned a full candidate set")
	}
	recall := float64(hits) / float64(total)
	if recall < 0.95 {
		t.Fatalf("graph recall@10 = %.3f, want >= 0.95", recall)
	}
}
