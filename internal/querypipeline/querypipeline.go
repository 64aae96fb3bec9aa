// Package querypipeline implements the QueryPipeline component (spec §4.8):
// embed a query, search the vector index, hydrate and filter rows, rank,
// and return results within a deadline.
//
// Grounded on the teacher's internal/search.HybridSearcher (compose an
// embedder + multiple stores + ranking into one recall entry point), pared
// down to the single local VectorIndex this module uses in place of the
// teacher's Qdrant long-term tier; recall does not consult the FTS table.
package querypipeline

import (
	"context"
	"sort"

	"github.com/openclaw/memento/internal/deadline"
	"github.com/openclaw/memento/internal/memerr"
	"github.com/openclaw/memento/internal/models"
	"github.com/openclaw/memento/internal/vectorindex"
)

// Embedder is the subset of *embedder.Embedder the pipeline needs.
type Embedder interface {
	Embed(ctx context.Context, text string, bypassCache bool) ([]float32, error)
}

// Index is the subset of *vectorindex.Index the pipeline needs.
type Index interface {
	Search(query []float32, n int, dl deadline.Deadline) ([]vectorindex.Candidate, error)
	Len() int
}

// Hydrator is the subset of *store.Store the pipeline needs to turn
// candidate ids back into full records.
type Hydrator interface {
	HydrateMany(ids []string) (map[string]models.Memory, error)
}

// Pipeline composes an Embedder, a vector Index, and a Hydrator into the
// recall() operation of spec §4.8.
type Pipeline struct {
	embedder Embedder
	index    Index
	store    Hydrator
}

func New(embedder Embedder, index Index, store Hydrator) *Pipeline {
	return &Pipeline{embedder: embedder, index: index, store: store}
}

// DefaultTopK and DefaultTimeoutMS mirror spec §4.8's documented defaults.
const (
	DefaultTopK      = 5
	DefaultTimeoutMS = 5000
)

// Recall runs the full spec §4.8 algorithm for a single query.
func (p *Pipeline) Recall(ctx context.Context, query string, opts models.RecallOptions) ([]models.Result, error) {
	timeoutMS := opts.TimeoutMS
	if timeoutMS == 0 {
		timeoutMS = DefaultTimeoutMS
	}
	dl := deadline.New(timeoutMS)

	if err := dl.Check(); err != nil {
		return nil, err
	}

	vec, err := p.embedder.Embed(ctx, query, false)
	if err != nil {
		return nil, err
	}
	if err := dl.Check(); err != nil {
		return nil, err
	}

	return p.recallWithVector(vec, opts, dl)
}

// RecallWithVector runs steps 4-6 of spec §4.8 against an already-computed
// query vector, skipping the embed step — used by BatchRecall (§4.6) so a
// batch of queries can share one Embedder.EmbedBatch call instead of
// embedding one at a time.
func (p *Pipeline) RecallWithVector(ctx context.Context, vec []float32, opts models.RecallOptions) ([]models.Result, error) {
	timeoutMS := opts.TimeoutMS
	if timeoutMS == 0 {
		timeoutMS = DefaultTimeoutMS
	}
	dl := deadline.New(timeoutMS)
	if err := dl.Check(); err != nil {
		return nil, err
	}
	return p.recallWithVector(vec, opts, dl)
}

func (p *Pipeline) recallWithVector(vec []float32, opts models.RecallOptions, dl deadline.Deadline) ([]models.Result, error) {
	topK := opts.TopK
	if topK <= 0 {
		topK = DefaultTopK
	}

	hasFilter := !filtersEmpty(opts.Filters) || opts.Collection != ""
	f := vectorindex.DefaultExpansion
	if !hasFilter {
		f = 1
	}

	var filtered []models.Result
	attempted := 0
	for {
		attempted++
		n := topK * f
		candidates, err := p.index.Search(vec, n, dl)
		if err != nil {
			return nil, err
		}
		if err := dl.Check(); err != nil {
			return nil, err
		}

		ids := make([]string, len(candidates))
		for i, c := range candidates {
			ids[i] = c.ID
		}
		hydrated, err := p.store.HydrateMany(ids)
		if err != nil {
			return nil, err
		}

		filtered = filtered[:0]
		for _, c := range candidates {
			m, ok := hydrated[c.ID]
			if !ok {
				continue
			}
			if !Matches(m, opts.Collection, opts.Filters) {
				continue
			}
			filtered = append(filtered, models.Result{Memory: m, Score: c.Score})
		}

		if len(filtered) >= topK || !hasFilter || attempted > 1 || f >= vectorindex.MaxExpansion {
			break
		}
		f = vectorindex.ExpansionForRetry(f)
	}

	sortResults(filtered)
	if len(filtered) > topK {
		filtered = filtered[:topK]
	}
	// A dot product of two float32 unit vectors can overshoot ±1 by rounding;
	// that slack is clamped, anything further out means a non-unit embedding.
	const scoreSlack = 1e-4
	for i := range filtered {
		s := filtered[i].Score
		if s < -1-scoreSlack || s > 1+scoreSlack {
			return nil, memerr.New(memerr.KindInternal, "recall score outside [-1, 1]")
		}
		if s > 1 {
			filtered[i].Score = 1
		} else if s < -1 {
			filtered[i].Score = -1
		}
	}
	return filtered, nil
}

// filtersEmpty reports whether f carries no active predicate (models.Filters
// holds a slice field, so it cannot be compared with == directly).
func filtersEmpty(f models.Filters) bool {
	return len(f.Tags) == 0 && f.Source == "" && f.SessionID == "" && f.TextLike == "" &&
		f.MinImportance == 0 && f.Since == 0 && f.Before == 0
}

// sortResults ranks by descending score, tie-broken by descending timestamp
// then ascending id (spec §4.8 step 5).
func sortResults(results []models.Result) {
	sort.SliceStable(results, func(i, j int) bool {
		a, b := results[i], results[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.Timestamp != b.Timestamp {
			return a.Timestamp > b.Timestamp
		}
		return a.ID < b.ID
	})
}
