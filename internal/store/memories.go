package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/blake2b"
	"golang.org/x/text/unicode/norm"

	"github.com/openclaw/memento/internal/memerr"
	"github.com/openclaw/memento/internal/models"
	"github.com/openclaw/memento/internal/vectorops"
)

const maxTextBytes = 100_000
const maxTags = 50
const maxTagBytes = 64
const maxShortFieldBytes = 128

// DeriveID computes the 128-bit memory id: blake2b(text ∥ source ∥ session
// ∥ timestamp) truncated to 16 bytes. Replaces the source's 16-hex-char SHA
// truncation (spec §3, §9 "Id hashing").
func DeriveID(text, source, session string, ts int64) string {
	h, _ := blake2b.New(16, nil)
	h.Write([]byte(text))
	h.Write([]byte{0})
	h.Write([]byte(source))
	h.Write([]byte{0})
	h.Write([]byte(session))
	h.Write([]byte{0})
	fmt.Fprintf(h, "%d", ts)
	return fmt.Sprintf("%x", h.Sum(nil))
}

// ValidateText enforces the text constraints of spec §3/§4.6: non-empty
// after trim, NFC-normalised, at most 100,000 bytes.
func ValidateText(text string) (string, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return "", memerr.New(memerr.KindValidation, "text must not be empty after trimming whitespace")
	}
	normalised := norm.NFC.String(text)
	if len(normalised) > maxTextBytes {
		return "", memerr.New(memerr.KindValidation, fmt.Sprintf("text exceeds %d bytes", maxTextBytes))
	}
	return normalised, nil
}

func validateTags(tags []string) ([]string, error) {
	if len(tags) > maxTags {
		return nil, memerr.New(memerr.KindValidation, fmt.Sprintf("at most %d tags allowed", maxTags))
	}
	seen := make(map[string]struct{}, len(tags))
	out := make([]string, 0, len(tags))
	for _, tag := range tags {
		if len(tag) > maxTagBytes {
			return nil, memerr.New(memerr.KindValidation, fmt.Sprintf("tag %q exceeds %d bytes", tag, maxTagBytes))
		}
		if _, dup := seen[tag]; dup {
			continue
		}
		seen[tag] = struct{}{}
		out = append(out, tag)
	}
	return out, nil
}

func clampImportance(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func shortField(v, fallback string) (string, error) {
	if v == "" {
		v = fallback
	}
	if len(v) > maxShortFieldBytes {
		return "", memerr.New(memerr.KindValidation, fmt.Sprintf("field %q exceeds %d bytes", v, maxShortFieldBytes))
	}
	return v, nil
}

// Remember validates and inserts a memory with the given pre-computed
// embedding, inside one transaction covering the primary row, the FTS
// index, and (implicitly, since embedding lives in the same row) the
// vector index — tying all three together atomically per spec's I1.
//
// Duplicate (text, source, session, ts) is idempotent: the existing id is
// returned with no-op, resolving the source's unclear duplicate-insert
// semantics in favour of determinism (spec §9 open question).
func (s *Store) Remember(text string, vec []float32, opts models.RememberOptions) (string, error) {
	normalised, err := ValidateText(text)
	if err != nil {
		return "", err
	}
	if !vectorops.IsUnit(vec) {
		return "", memerr.New(memerr.KindInternal, "embedding is not unit-normalised")
	}

	collection, err := shortField(opts.Collection, models.DefaultCollection)
	if err != nil {
		return "", err
	}
	source, err := shortField(opts.Source, models.DefaultSource)
	if err != nil {
		return "", err
	}
	session, err := shortField(opts.SessionID, models.DefaultSessionID)
	if err != nil {
		return "", err
	}
	tags, err := validateTags(opts.Tags)
	if err != nil {
		return "", err
	}
	importance := opts.Importance
	if importance == 0 {
		importance = 0.5 // spec default when the caller leaves Importance unset
	}
	importance = clampImportance(importance)

	ts := opts.Timestamp
	if ts == 0 {
		ts = time.Now().Unix()
	}

	id := DeriveID(normalised, source, session, ts)

	if err := s.checkWritable(); err != nil {
		return "", err
	}
	if err := s.acquireWriter(); err != nil {
		return "", err
	}

	var resultID string
	err = withLockedRetry(func() error {
		tx, err := s.db.Begin()
		if err != nil {
			return memerr.Wrap(memerr.KindStorageIO, "beginning remember transaction", err)
		}
		defer tx.Rollback()

		var existing string
		row := tx.QueryRow(`SELECT id FROM memories WHERE text = ? AND source = ? AND session = ? AND ts = ?`,
			normalised, source, session, ts)
		switch scanErr := row.Scan(&existing); scanErr {
		case nil:
			resultID = existing
			return tx.Commit()
		case sql.ErrNoRows:
			// fall through to insert
		default:
			return memerr.Wrap(memerr.KindStorageIO, "checking dedup", scanErr)
		}

		tagsJSON, jerr := json.Marshal(tags)
		if jerr != nil {
			return memerr.Wrap(memerr.KindInternal, "marshalling tags", jerr)
		}
		embBlob := vectorops.Float32ToBytes(vec)

		if _, err := tx.Exec(`INSERT INTO memories(id, text, ts, source, session, importance, tags, collection, embedding)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			id, normalised, ts, source, session, importance, string(tagsJSON), collection, embBlob); err != nil {
			return memerr.Wrap(memerr.KindStorageIO, "inserting memory", err)
		}
		// Insert into FTS keyed by the SAME explicit id, not sqlite's
		// last_insert_rowid() (spec §9's FTS-sync bug fix).
		if _, err := tx.Exec(`INSERT INTO memories_fts(rowid, id, text) VALUES ((SELECT rowid FROM memories WHERE id = ?), ?, ?)`,
			id, id, normalised); err != nil {
			return memerr.Wrap(memerr.KindStorageIO, "inserting fts row", err)
		}

		if err := tx.Commit(); err != nil {
			return memerr.Wrap(memerr.KindStorageIO, "committing remember transaction", err)
		}
		resultID = id
		return nil
	})
	if err != nil {
		return "", err
	}
	return resultID, nil
}

// GetByID fetches a single memory by id.
func (s *Store) GetByID(id string) (*models.Memory, error) {
	row := s.db.QueryRow(`SELECT id, text, ts, source, session, importance, tags, collection, embedding FROM memories WHERE id = ?`, id)
	m, err := scanMemory(row)
	if err == sql.ErrNoRows {
		return nil, memerr.New(memerr.KindNotFound, "memory not found: "+id)
	}
	if err != nil {
		var typed *memerr.Error
		if errors.As(err, &typed) {
			return nil, typed
		}
		return nil, memerr.Wrap(memerr.KindStorageIO, "scanning memory", err)
	}
	return m, nil
}

// Delete removes id from memories and FTS atomically (implicitly from the
// vector index too, since the in-memory buffer is rebuilt from this table —
// see internal/vectorindex). Missing id returns (false, nil), not an error
// (spec §4.6).
func (s *Store) Delete(id string) (bool, error) {
	if err := s.checkWritable(); err != nil {
		return false, err
	}
	if err := s.acquireWriter(); err != nil {
		return false, err
	}
	var deleted bool
	err := withLockedRetry(func() error {
		tx, err := s.db.Begin()
		if err != nil {
			return memerr.Wrap(memerr.KindStorageIO, "beginning delete transaction", err)
		}
		defer tx.Rollback()

		res, err := tx.Exec(`DELETE FROM memories WHERE id = ?`, id)
		if err != nil {
			return memerr.Wrap(memerr.KindStorageIO, "deleting memory", err)
		}
		n, _ := res.RowsAffected()
		if n == 0 {
			deleted = false
			return tx.Commit()
		}
		if _, err := tx.Exec(`DELETE FROM memories_fts WHERE id = ?`, id); err != nil {
			return memerr.Wrap(memerr.KindStorageIO, "deleting fts row", err)
		}
		if err := tx.Commit(); err != nil {
			return memerr.Wrap(memerr.KindStorageIO, "committing delete transaction", err)
		}
		deleted = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return deleted, nil
}

// GetRecent returns up to n memories from collection, newest first, ties
// broken by ascending id.
func (s *Store) GetRecent(collection string, n int) ([]models.Memory, error) {
	rows, err := s.db.Query(`SELECT id, text, ts, source, session, importance, tags, collection, embedding
		FROM memories WHERE collection = ? ORDER BY ts DESC, id ASC LIMIT ?`, collection, n)
	if err != nil {
		return nil, memerr.Wrap(memerr.KindStorageIO, "querying recent memories", err)
	}
	defer rows.Close()
	return scanMemories(rows)
}

// AllEmbeddings loads every (id, embedding) pair into memory, used to
// (re)build the brute-force VectorIndex buffer on open.
func (s *Store) AllEmbeddings() (ids []string, vecs [][]float32, err error) {
	rows, err := s.db.Query(`SELECT id, embedding FROM memories WHERE embedding IS NOT NULL`)
	if err != nil {
		return nil, nil, memerr.Wrap(memerr.KindStorageIO, "querying all embeddings", err)
	}
	defer rows.Close()
	for rows.Next() {
		var id string
		var blob []byte
		if err := rows.Scan(&id, &blob); err != nil {
			return nil, nil, memerr.Wrap(memerr.KindStorageIO, "scanning embedding row", err)
		}
		ids = append(ids, id)
		vecs = append(vecs, vectorops.BytesToFloat32(blob))
	}
	return ids, vecs, rows.Err()
}

// HydrateMany fetches full Memory rows for the given ids, in no particular
// order — callers re-sort as needed.
func (s *Store) HydrateMany(ids []string) (map[string]models.Memory, error) {
	out := make(map[string]models.Memory, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = "?"
		args[i] = id
	}
	query := fmt.Sprintf(`SELECT id, text, ts, source, session, importance, tags, collection, embedding
		FROM memories WHERE id IN (%s)`, strings.Join(placeholders, ","))
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, memerr.Wrap(memerr.KindStorageIO, "hydrating memories", err)
	}
	defer rows.Close()
	mems, err := scanMemories(rows)
	if err != nil {
		return nil, err
	}
	for _, m := range mems {
		out[m.ID] = m
	}
	return out, nil
}

// CountByCollection returns per-collection row counts for Stats().
func (s *Store) CountByCollection() ([]models.CollectionStats, error) {
	rows, err := s.db.Query(`SELECT collection, COUNT(*) FROM memories GROUP BY collection ORDER BY collection`)
	if err != nil {
		return nil, memerr.Wrap(memerr.KindStorageIO, "counting by collection", err)
	}
	defer rows.Close()
	var out []models.CollectionStats
	for rows.Next() {
		var cs models.CollectionStats
		if err := rows.Scan(&cs.Collection, &cs.Count); err != nil {
			return nil, memerr.Wrap(memerr.KindStorageIO, "scanning collection stats", err)
		}
		out = append(out, cs)
	}
	return out, rows.Err()
}

// Stats aggregates the Store's top-level stats (spec §6 stats()).
func (s *Store) Stats() (models.Stats, error) {
	collections, err := s.CountByCollection()
	if err != nil {
		return models.Stats{}, err
	}
	var total int64
	for _, c := range collections {
		total += c.Count
	}
	return models.Stats{Collections: collections, TotalVectors: total, Backend: "sqlite"}, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMemory(row rowScanner) (*models.Memory, error) {
	var m models.Memory
	var tagsJSON string
	var embBlob []byte
	if err := row.Scan(&m.ID, &m.Text, &m.Timestamp, &m.Source, &m.SessionID, &m.Importance, &tagsJSON, &m.Collection, &embBlob); err != nil {
		return nil, err
	}
	if tagsJSON != "" {
		if err := json.Unmarshal([]byte(tagsJSON), &m.Tags); err != nil {
			return nil, memerr.Wrap(memerr.KindStorageSchema, "decoding stored tags JSON for memory "+m.ID, err)
		}
	}
	if embBlob != nil {
		m.Embedding = vectorops.BytesToFloat32(embBlob)
	}
	return &m, nil
}

func scanMemories(rows *sql.Rows) ([]models.Memory, error) {
	var out []models.Memory
	for rows.Next() {
		m, err := scanMemory(rows)
		if err != nil {
			var typed *memerr.Error
			if errors.As(err, &typed) {
				return nil, typed
			}
			return nil, memerr.Wrap(memerr.KindStorageIO, "scanning memory row", err)
		}
		out = append(out, *m)
	}
	return out, rows.Err()
}
