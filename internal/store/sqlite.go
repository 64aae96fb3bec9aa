// Package store implements the single-writer, WAL-journaled storage engine
// (spec §4.6): CRUD on memory records, the embed cache table, BM25 full-text
// search, rate limiting, and backup/export.
//
// Grounded on the teacher's internal/store/sqlite.go for the WAL pragma
// string and SetMaxOpenConns(1) single-writer discipline, and
// internal/store/memories.go for CRUD shape and the canonical column list.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"golang.org/x/time/rate"

	"github.com/openclaw/memento/internal/memerr"
	"github.com/openclaw/memento/internal/schema"
)

// Store is the single-writer handle owning the database connection and its
// derived index structures. One Store per database file; the rate limiter
// lives on the instance, not in process-global state (spec §9's fix for the
// source's global-counter bug).
type Store struct {
	db      *sql.DB
	path    string
	limiter *rate.Limiter

	mu      sync.RWMutex
	corrupt bool // set when Open's integrity check fails; cleared by Recover
}

// dsn builds the sqlite3 connection string shared by Open and Recover.
func dsn(path string) string {
	return fmt.Sprintf("file:%s?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000&_foreign_keys=ON", path)
}

// Open opens (creating if necessary) the database at path, applies pending
// migrations, and runs an integrity check. limiter may be nil to disable
// throttling (spec default: no throttle).
//
// On Storage{Corrupt} (spec §7/§8 scenario 5), Open still returns a non-nil
// Store alongside the error: the handle refuses writes until an explicit
// Recover call restores it, rather than leaving the caller with nothing to
// recover from.
func Open(path string, limiter *rate.Limiter) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, memerr.Wrap(memerr.KindStorageIO, "creating database directory", err)
		}
	}

	db, err := sql.Open("sqlite3", dsn(path))
	if err != nil {
		return nil, memerr.Wrap(memerr.KindStorageIO, "opening database", err)
	}
	db.SetMaxOpenConns(1)

	if err := schema.Open(db); err != nil {
		if memerr.KindOf(err) == memerr.KindStorageCorrupt {
			return &Store{db: db, path: path, limiter: limiter, corrupt: true}, err
		}
		db.Close()
		return nil, err
	}

	return &Store{db: db, path: path, limiter: limiter}, nil
}

// IsCorrupt reports whether this handle is in the degraded state left by a
// failed integrity check, awaiting an explicit Recover call.
func (s *Store) IsCorrupt() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.corrupt
}

// checkWritable reports Storage.Corrupt if the store is in the degraded
// read-only state left by a failed integrity check (spec §7: "Corrupt
// triggers read-only mode... refuses writes until an operator replaces the
// file" or an explicit Recover call succeeds).
func (s *Store) checkWritable() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.corrupt {
		return memerr.New(memerr.KindStorageCorrupt, "database failed its integrity check; call Recover before writing")
	}
	return nil
}

// Close releases the database handle. Safe to call once during shutdown
// (spec §9's note on replacing implicit __del__ cleanup with an explicit,
// guaranteed release).
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database file path this Store owns.
func (s *Store) Path() string { return s.path }

// acquireWriter enforces the per-instance rate limit before a write,
// returning Storage.Locked if no token becomes available within a bounded
// back-off window. A nil limiter disables throttling entirely.
func (s *Store) acquireWriter() error {
	if s.limiter == nil {
		return nil
	}
	if s.limiter.Allow() {
		return nil
	}
	deadlineAt := time.Now().Add(250 * time.Millisecond)
	for time.Now().Before(deadlineAt) {
		if s.limiter.Allow() {
			return nil
		}
		time.Sleep(5 * time.Millisecond)
	}
	return memerr.New(memerr.KindStorageLocked, "rate limiter: no tokens available after back-off")
}

// isLockedErr reports whether err is sqlite's "database is locked" error.
func isLockedErr(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "database table is locked")
}

// withLockedRetry retries fn for up to ~250ms while it fails with a
// Storage.Locked condition (spec §7: "Locked is retried with bounded
// back-off inside the Store, then surfaced").
func withLockedRetry(fn func() error) error {
	deadlineAt := time.Now().Add(250 * time.Millisecond)
	for {
		err := fn()
		if err == nil || !isLockedErr(err) {
			return err
		}
		if time.Now().After(deadlineAt) {
			return memerr.Wrap(memerr.KindStorageLocked, "database locked after back-off", err)
		}
		time.Sleep(10 * time.Millisecond)
	}
}
