package querypipeline

import (
	"context"
	"testing"

	"github.com/openclaw/memento/internal/deadline"
	"github.com/openclaw/memento/internal/memerr"
	"github.com/openclaw/memento/internal/models"
	"github.com/openclaw/memento/internal/vectorindex"
)

type fakeEmbedder struct {
	vec []float32
	err error
}

func (f *fakeEmbedder) Embed(ctx context.Context, text string, bypassCache bool) ([]float32, error) {
	return f.vec, f.err
}

type fakeIndex struct {
	candidates []vectorindex.Candidate
}

func (f *fakeIndex) Search(query []float32, n int, dl deadline.Deadline) ([]vectorindex.Candidate, error) {
	if n > len(f.candidates) {
		n = len(f.candidates)
	}
	return f.candidates[:n], nil
}
func (f *fakeIndex) Len() int { return len(f.candidates) }

type fakeStore struct {
	rows map[string]models.Memory
}

func (f *fakeStore) HydrateMany(ids []string) (map[string]models.Memory, error) {
	out := make(map[string]models.Memory, len(ids))
	for _, id := range ids {
		if m, ok := f.rows[id]; ok {
			out[id] = m
		}
	}
	return out, nil
}

func TestRecallOrdersByScoreThenTimestampThenID(t *testing.T) {
	store := &fakeStore{rows: map[string]models.Memory{
		"a": {ID: "a", Text: "alpha", Collection: models.DefaultCollection, Timestamp: 100},
		"b": {ID: "b", Text: "beta", Collection: models.DefaultCollection, Timestamp: 200},
		"c": {ID: "c", Text: "gamma", Collection: models.DefaultCollection, Timestamp: 200},
	}}
	idx := &fakeIndex{candidates: []vectorindex.Candidate{
		{ID: "a", Score: 0.5},
		{ID: "b", Score: 0.9},
		{ID: "c", Score: 0.9},
	}}
	p := New(&fakeEmbedder{vec: make([]float32, 384)}, idx, store)

	results, err := p.Recall(context.Background(), "query", models.RecallOptions{TopK: 3})
	if err != nil {
		t.Fatalf("recall: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	if results[0].ID != "b" || results[1].ID != "c" || results[2].ID != "a" {
		t.Fatalf("unexpected order: %v %v %v", results[0].ID, results[1].ID, results[2].ID)
	}
}

func TestRecallAppliesCollectionAndFilters(t *testing.T) {
	store := &fakeStore{rows: map[string]models.Memory{
		"a": {ID: "a", Text: "relevant memory", Collection: "work", Source: "cli", Timestamp: 100},
		"b": {ID: "b", Text: "other", Collection: "personal", Source: "cli", Timestamp: 100},
	}}
	idx := &fakeIndex{candidates: []vectorindex.Candidate{
		{ID: "a", Score: 0.8},
		{ID: "b", Score: 0.9},
	}}
	p := New(&fakeEmbedder{vec: make([]float32, 384)}, idx, store)

	results, err := p.Recall(context.Background(), "query", models.RecallOptions{
		TopK:       5,
		Collection: "work",
	})
	if err != nil {
		t.Fatalf("recall: %v", err)
	}
	if len(results) != 1 || results[0].ID != "a" {
		t.Fatalf("expected only collection-matching result, got %+v", results)
	}
}

func TestRecallRetriesExpansionWhenFilteredSetTooShort(t *testing.T) {
	rows := map[string]models.Memory{}
	var candidates []vectorindex.Candidate
	// Only every fourth candidate matches the filter; with the default F=3
	// expansion and topk=5 the first pass (15 candidates, 4 matches) should
	// come up short and retry.
	for i := 0; i < 30; i++ {
		id := string(rune('a' + i))
		source := "other"
		if i%4 == 0 {
			source = "wanted"
		}
		rows[id] = models.Memory{ID: id, Text: "x", Collection: models.DefaultCollection, Source: source, Timestamp: int64(i)}
		candidates = append(candidates, vectorindex.Candidate{ID: id, Score: 1.0 - float64(i)*0.01})
	}
	store := &fakeStore{rows: rows}
	idx := &fakeIndex{candidates: candidates}
	p := New(&fakeEmbedder{vec: make([]float32, 384)}, idx, store)

	results, err := p.Recall(context.Background(), "query", models.RecallOptions{
		TopK:    5,
		Filters: models.Filters{Source: "wanted"},
	})
	if err != nil {
		t.Fatalf("recall: %v", err)
	}
	if len(results) != 5 {
		t.Fatalf("expected expansion retry to surface 5 matches, got %d", len(results))
	}
	for _, r := range results {
		if r.Source != "wanted" {
			t.Fatalf("unexpected unfiltered result: %+v", r)
		}
	}
}

func TestRecallPropagatesEmbedderError(t *testing.T) {
	p := New(&fakeEmbedder{err: memerr.New(memerr.KindEmbeddingUnavailable, "down")}, &fakeIndex{}, &fakeStore{rows: map[string]models.Memory{}})
	_, err := p.Recall(context.Background(), "q", models.RecallOptions{})
	if err == nil || memerr.KindOf(err) != memerr.KindEmbeddingUnavailable {
		t.Fatalf("expected embedding-unavailable error, got %v", err)
	}
}

func TestParseFiltersRejectsUnknownKey(t *testing.T) {
	_, err := ParseFilters(map[string]any{"bogus": "x"})
	if memerr.KindOf(err) != memerr.KindValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestParseFiltersRelativeDuration(t *testing.T) {
	f, err := ParseFilters(map[string]any{"since": "7d"})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if f.Since == 0 {
		t.Fatalf("expected since to resolve to a non-zero absolute timestamp")
	}
}

func TestParseFiltersTagsAndTextLike(t *testing.T) {
	f, err := ParseFilters(map[string]any{
		"tags":      []any{"a", "b"},
		"text_like": "Hello",
	})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(f.Tags) != 2 || f.TextLike != "Hello" {
		t.Fatalf("unexpected filters: %+v", f)
	}
}

func TestMatchesIsCaseInsensitiveForTextLike(t *testing.T) {
	m := models.Memory{Text: "Remember to Deploy"}
	if !Matches(m, "", models.Filters{TextLike: "deploy"}) {
		t.Fatalf("expected case-insensitive substring match")
	}
}
