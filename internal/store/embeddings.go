package store

import (
	"database/sql"
	"time"

	"github.com/openclaw/memento/internal/memerr"
	"github.com/openclaw/memento/internal/vectorops"
)

// GetEmbedding implements embedcache.PersistentStore: it backs the
// persistent tier of the two-tier EmbedCache (spec §4.3) with the
// embed_cache table, upserting last-writer-wins since the embedding for a
// given text is deterministic (spec's EmbedCacheEntry note).
//
// Grounded on the teacher's internal/store/embeddings.go
// (EmbeddingCacheStore.Get/Put's ON CONFLICT upsert shape).
func (s *Store) GetEmbedding(hash [32]byte) ([]float32, bool, error) {
	var blob []byte
	err := s.db.QueryRow(`SELECT vec FROM embed_cache WHERE h = ?`, hash[:]).Scan(&blob)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, memerr.Wrap(memerr.KindStorageIO, "reading embed_cache", err)
	}
	return vectorops.BytesToFloat32(blob), true, nil
}

// PutEmbedding upserts (hash, vec) into the persistent embed cache.
func (s *Store) PutEmbedding(hash [32]byte, vec []float32) error {
	if err := s.checkWritable(); err != nil {
		return err
	}
	if err := s.acquireWriter(); err != nil {
		return err
	}
	blob := vectorops.Float32ToBytes(vec)
	return withLockedRetry(func() error {
		_, err := s.db.Exec(`INSERT INTO embed_cache(h, vec, ts) VALUES (?, ?, ?)
			ON CONFLICT(h) DO UPDATE SET vec = excluded.vec, ts = excluded.ts`,
			hash[:], blob, time.Now().Unix())
		if err != nil {
			return memerr.Wrap(memerr.KindStorageIO, "writing embed_cache", err)
		}
		return nil
	})
}

// ClearCache truncates the persistent embed cache table (spec §3's explicit
// clear_cache administrative operation).
func (s *Store) ClearCache() error {
	if err := s.checkWritable(); err != nil {
		return err
	}
	if err := s.acquireWriter(); err != nil {
		return err
	}
	_, err := s.db.Exec(`DELETE FROM embed_cache`)
	if err != nil {
		return memerr.Wrap(memerr.KindStorageIO, "clearing embed_cache", err)
	}
	return nil
}
