package store

import (
	"github.com/openclaw/memento/internal/memerr"
)

// FTSResult holds one full-text match. Score is BM25-derived, higher is
// better (FTS5's bm25() returns lower-is-better; this negates it, the way
// the teacher's BM25Store.Search does).
type FTSResult struct {
	ID    string
	Score float64
}

// FullTextSearch runs a BM25-ranked match against memories_fts, the
// auxiliary lexical index kept in lock-step with the primary table (spec's
// FullTextIndex component). Every memories_fts row shares its rowid with
// the memories row it was inserted alongside (see memories.go's Remember),
// so a JOIN on rowid never needs the rowid<->id mapping sqlite's
// last_insert_rowid() would silently get wrong.
//
// Grounded on the teacher's internal/store/bm25.go (bm25() negation, the
// JOIN-back-to-primary-table shape), generalised from workspace scoping to
// this module's collection-less corpus.
func (s *Store) FullTextSearch(query string, limit int) ([]FTSResult, error) {
	if query == "" {
		return nil, nil
	}
	rows, err := s.db.Query(`
		SELECT m.id, -bm25(memories_fts) AS score
		FROM memories_fts
		JOIN memories m ON m.rowid = memories_fts.rowid
		WHERE memories_fts MATCH ?
		ORDER BY score DESC
		LIMIT ?
	`, query, limit)
	if err != nil {
		return nil, memerr.Wrap(memerr.KindStorageIO, "full text search", err)
	}
	defer rows.Close()

	var out []FTSResult
	for rows.Next() {
		var r FTSResult
		if err := rows.Scan(&r.ID, &r.Score); err != nil {
			return nil, memerr.Wrap(memerr.KindStorageIO, "scanning fts result", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// FTSContains reports whether id's indexed FTS text still contains needle —
// used by tests to assert I1 (deleted ids leave no trace in FTS).
func (s *Store) FTSContains(needle string) ([]string, error) {
	rows, err := s.db.Query(`SELECT id FROM memories_fts WHERE memories_fts MATCH ?`, needle)
	if err != nil {
		return nil, memerr.Wrap(memerr.KindStorageIO, "querying fts", err)
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, memerr.Wrap(memerr.KindStorageIO, "scanning fts id", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
