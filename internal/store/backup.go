package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/openclaw/memento/internal/memerr"
	"github.com/openclaw/memento/internal/models"
	"github.com/openclaw/memento/internal/schema"
)

// Backup writes a consistent snapshot of the database to path (or, if path
// is empty, to backups/<YYYYMMDD-HHMMSS>.db next to the primary file per
// spec §6's persisted-state layout). Implemented via SQLite's "VACUUM INTO"
// online backup, which sqlite3 (and thus mattn/go-sqlite3) guarantees is a
// point-in-time consistent copy even against a live writer.
func (s *Store) Backup(path string) (string, error) {
	if path == "" {
		dir := filepath.Join(filepath.Dir(s.path), "backups")
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", memerr.Wrap(memerr.KindStorageIO, "creating backups directory", err)
		}
		path = filepath.Join(dir, fmt.Sprintf("%s.db", time.Now().UTC().Format("20060102-150405")))
	}
	if _, err := s.db.Exec(`VACUUM INTO ?`, path); err != nil {
		return "", memerr.Wrap(memerr.KindStorageIO, "vacuum into backup file", err)
	}
	return path, nil
}

// RetainBackups deletes all but the most recent `retain` backups in dir
// (spec §6: "retain last 7").
func RetainBackups(dir string, retain int) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return memerr.Wrap(memerr.KindStorageIO, "listing backups directory", err)
	}
	if len(entries) <= retain {
		return nil
	}
	// Directory entries from os.ReadDir are sorted by filename, and backup
	// filenames are YYYYMMDD-HHMMSS.db, so lexical order is chronological.
	toDelete := entries[:len(entries)-retain]
	for _, e := range toDelete {
		if err := os.Remove(filepath.Join(dir, e.Name())); err != nil {
			return memerr.Wrap(memerr.KindStorageIO, "removing old backup", err)
		}
	}
	return nil
}

// Recover restores the newest backup under the database's backups directory
// over a corrupt primary file and re-opens it, implementing spec §7/§8
// scenario 5's explicit "recover" call: "if backups exist... restore the
// most recent backup on the next explicit recover call; after recovery, I1
// must hold." maxAge bounds how old the chosen backup may be (spec §7's
// "configured horizon"); zero or negative disables the bound. Returns the
// path of the backup that was restored.
func (s *Store) Recover(maxAge time.Duration) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.corrupt {
		return "", memerr.New(memerr.KindValidation, "store is not marked corrupt; nothing to recover")
	}

	dir := filepath.Join(filepath.Dir(s.path), "backups")
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return "", memerr.New(memerr.KindStorageCorrupt, "no backups directory configured; cannot recover")
		}
		return "", memerr.Wrap(memerr.KindStorageCorrupt, "listing backups directory", err)
	}
	if len(entries) == 0 {
		return "", memerr.New(memerr.KindStorageCorrupt, "no backup available to recover from")
	}
	// os.ReadDir sorts by filename, and backup filenames are
	// YYYYMMDD-HHMMSS.db (see Backup above), so the last entry is newest.
	latest := entries[len(entries)-1]
	backupPath := filepath.Join(dir, latest.Name())

	if maxAge > 0 {
		info, err := latest.Info()
		if err != nil {
			return "", memerr.Wrap(memerr.KindStorageCorrupt, "statting latest backup", err)
		}
		if time.Since(info.ModTime()) > maxAge {
			return "", memerr.New(memerr.KindStorageCorrupt, "latest backup is older than the configured recovery horizon")
		}
	}

	if err := s.db.Close(); err != nil {
		return "", memerr.Wrap(memerr.KindStorageIO, "closing corrupt database before recovery", err)
	}
	if err := copyFile(backupPath, s.path); err != nil {
		return "", memerr.Wrap(memerr.KindStorageIO, "restoring backup over primary database", err)
	}

	db, err := sql.Open("sqlite3", dsn(s.path))
	if err != nil {
		return "", memerr.Wrap(memerr.KindStorageIO, "reopening recovered database", err)
	}
	db.SetMaxOpenConns(1)
	if err := schema.Open(db); err != nil {
		db.Close()
		return "", err
	}

	s.db = db
	s.corrupt = false
	return backupPath, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Sync()
}

// ExportJSON streams every memory row, newline-delimited JSON, to path.
func (s *Store) ExportJSON(path string) (string, error) {
	if path == "" {
		path = filepath.Join(filepath.Dir(s.path), fmt.Sprintf("export-%s.jsonl", time.Now().UTC().Format("20060102-150405")))
	}
	f, err := os.Create(path)
	if err != nil {
		return "", memerr.Wrap(memerr.KindStorageIO, "creating export file", err)
	}
	defer f.Close()

	rows, err := s.db.Query(`SELECT id, text, ts, source, session, importance, tags, collection, embedding FROM memories ORDER BY ts, id`)
	if err != nil {
		return "", memerr.Wrap(memerr.KindStorageIO, "querying memories for export", err)
	}
	defer rows.Close()

	enc := json.NewEncoder(f)
	for rows.Next() {
		m, err := scanMemory(rows)
		if err != nil {
			return "", memerr.Wrap(memerr.KindStorageIO, "scanning memory for export", err)
		}
		if err := enc.Encode(m); err != nil {
			return "", memerr.Wrap(memerr.KindStorageIO, "encoding export row", err)
		}
	}
	if err := rows.Err(); err != nil {
		return "", memerr.Wrap(memerr.KindStorageIO, "iterating export rows", err)
	}
	return path, nil
}

// ImportJSON reads newline-delimited JSON memory rows from path (as written
// by ExportJSON) and re-inserts each via Remember, preserving the round-trip
// law: export then import into an empty store yields identical stats() and
// recall() results. embed recomputes each row's vector rather than trusting
// an externally supplied blob, keeping the determinism invariant (I2)
// honest end to end.
func (s *Store) ImportJSON(path string, embed func(text string) ([]float32, error)) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, memerr.Wrap(memerr.KindStorageIO, "opening import file", err)
	}
	defer f.Close()

	dec := json.NewDecoder(f)
	var count int
	for {
		var rec struct {
			Text       string   `json:"text"`
			Timestamp  int64    `json:"timestamp"`
			Source     string   `json:"source"`
			SessionID  string   `json:"session_id"`
			Importance float64  `json:"importance"`
			Tags       []string `json:"tags"`
			Collection string   `json:"collection"`
		}
		if err := dec.Decode(&rec); err == io.EOF {
			break
		} else if err != nil {
			return count, memerr.Wrap(memerr.KindStorageIO, "decoding import row", err)
		}

		vec, err := embed(rec.Text)
		if err != nil {
			return count, err
		}
		opts := models.RememberOptions{
			Collection: rec.Collection,
			Importance: rec.Importance,
			Source:     rec.Source,
			SessionID:  rec.SessionID,
			Tags:       rec.Tags,
			Timestamp:  rec.Timestamp,
		}
		if _, err := s.Remember(rec.Text, vec, opts); err != nil {
			return count, err
		}
		count++
	}
	return count, nil
}
