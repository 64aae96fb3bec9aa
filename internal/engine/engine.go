// Package engine composes Store, Embedder, VectorIndex, and QueryPipeline
// into the transport-agnostic public operations of spec §6: remember,
// recall, batch_recall, get_recent, delete, backup, export_json, stats.
// Thin collaborators (cmd/memento-cli, cmd/memento-server) call only this
// package, never the internal components directly — mirroring the way the
// teacher's cmd/server/main.go wires internal/memory.Service once and hands
// it to the router instead of letting handlers reach into stores directly.
package engine

import (
	"context"
	"time"

	"github.com/openclaw/memento/internal/embedder"
	"github.com/openclaw/memento/internal/memerr"
	"github.com/openclaw/memento/internal/models"
	"github.com/openclaw/memento/internal/querypipeline"
	"github.com/openclaw/memento/internal/store"
	"github.com/openclaw/memento/internal/vectorindex"
)

// Engine is the single entry point thin collaborators depend on.
type Engine struct {
	store    *store.Store
	embedder *embedder.Embedder
	index    *vectorindex.Index
	pipeline *querypipeline.Pipeline
}

// Open builds an Engine over an already-opened Store and Embedder,
// rebuilding the VectorIndex from the database per spec §4.7 ("refreshed
// from the database on open"). A Store left in the degraded Corrupt state
// (spec §7/§8 scenario 5) yields an Engine with an empty index instead of
// failing outright, so the caller still has a handle on which to call
// Recover.
func Open(s *store.Store, e *embedder.Embedder) (*Engine, error) {
	var ids []string
	var vecs [][]float32
	if !s.IsCorrupt() {
		var err error
		ids, vecs, err = s.AllEmbeddings()
		if err != nil {
			return nil, err
		}
	}
	idx, err := vectorindex.New(ids, vecs)
	if err != nil {
		return nil, err
	}
	return &Engine{
		store:    s,
		embedder: e,
		index:    idx,
		pipeline: querypipeline.New(e, idx, s),
	}, nil
}

// Remember embeds text and persists it, then adds the vector to the
// in-memory VectorIndex. The index is updated after Store.Remember has
// committed, not inside the write transaction: a Recall that runs between
// the commit and the Upsert does not see the new row.
func (en *Engine) Remember(ctx context.Context, text string, opts models.RememberOptions) (string, error) {
	vec, err := en.embedder.Embed(ctx, text, false)
	if err != nil {
		return "", err
	}
	id, err := en.store.Remember(text, vec, opts)
	if err != nil {
		return "", err
	}
	en.index.Upsert(id, vec)
	return id, nil
}

// Recall runs the full query pipeline for a single query.
func (en *Engine) Recall(ctx context.Context, query string, opts models.RecallOptions) ([]models.Result, error) {
	return en.pipeline.Recall(ctx, query, opts)
}

// BatchRecall runs Recall for each query, preserving order. Per spec §4.6
// ("internally embeds as one batch") the embed step is batched; the
// remaining pipeline stages still run per-query since each has its own
// filter/collection scope.
func (en *Engine) BatchRecall(ctx context.Context, queries []string, opts models.RecallOptions) ([][]models.Result, error) {
	vecs, err := en.embedder.EmbedBatch(ctx, queries, false)
	if err != nil {
		return nil, err
	}
	out := make([][]models.Result, len(queries))
	for i, vec := range vecs {
		results, err := en.pipeline.RecallWithVector(ctx, vec, opts)
		if err != nil {
			return nil, err
		}
		out[i] = results
	}
	return out, nil
}

// GetRecent delegates to Store.GetRecent.
func (en *Engine) GetRecent(collection string, n int) ([]models.Memory, error) {
	if collection == "" {
		collection = models.DefaultCollection
	}
	return en.store.GetRecent(collection, n)
}

// Delete removes id from the database and the in-memory index.
func (en *Engine) Delete(id string) (bool, error) {
	ok, err := en.store.Delete(id)
	if err != nil {
		return false, err
	}
	if ok {
		en.index.Remove(id)
	}
	return ok, nil
}

// Stats aggregates Store and EmbedCache statistics.
func (en *Engine) Stats() (models.Stats, error) {
	return en.store.Stats()
}

// Backup writes a consistent snapshot (path="" picks the default location).
func (en *Engine) Backup(path string) (string, error) {
	return en.store.Backup(path)
}

// Recover restores the Store from its most recent backup after a
// Storage{Corrupt} error (spec §7/§8 scenario 5's explicit "recover" call),
// then rebuilds the in-memory VectorIndex from the recovered database so I1
// holds immediately afterward. maxAge bounds how old the chosen backup may
// be; zero or negative disables the bound.
func (en *Engine) Recover(maxAge time.Duration) (string, error) {
	backupPath, err := en.store.Recover(maxAge)
	if err != nil {
		return "", err
	}
	ids, vecs, err := en.store.AllEmbeddings()
	if err != nil {
		return backupPath, err
	}
	idx, err := vectorindex.New(ids, vecs)
	if err != nil {
		return backupPath, err
	}
	en.index = idx
	en.pipeline = querypipeline.New(en.embedder, idx, en.store)
	return backupPath, nil
}

// ExportJSON streams every memory row as newline-delimited JSON.
func (en *Engine) ExportJSON(path string) (string, error) {
	return en.store.ExportJSON(path)
}

// ImportJSON re-inserts memories from a file written by ExportJSON,
// recomputing each embedding through this Engine's Embedder rather than
// trusting an externally supplied vector.
func (en *Engine) ImportJSON(ctx context.Context, path string) (int, error) {
	return en.store.ImportJSON(path, func(text string) ([]float32, error) {
		return en.embedder.Embed(ctx, text, false)
	})
}

// Close releases the Embedder and Store.
func (en *Engine) Close() error {
	if err := en.embedder.Close(); err != nil {
		return memerr.Wrap(memerr.KindInternal, "closing embedder", err)
	}
	return en.store.Close()
}
