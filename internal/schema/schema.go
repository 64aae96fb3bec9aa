// Package schema owns the on-disk DDL and its versioned migration scripts
// (spec §4.5): a single schema_version table, monotonic numbered upgrade
// scripts applied together in one transaction, and an integrity check on
// open.
//
// Grounded on internal/store/sqlite.go's initSchema/runMigrations pair
// (teacher), collapsed from the teacher's several ad-hoc runXMigrations
// passes into the single monotonic version table spec §4.5 calls for.
package schema

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/openclaw/memento/internal/memerr"
)

// TargetVersion is the highest schema version this build knows how to
// migrate to.
const TargetVersion = 1

// migrations[i] upgrades from version i to version i+1. Index 0 is the
// script from v0 (no tables) to v1.
var migrations = []string{
	// v1: memories, memories_fts (contentless FTS5 keyed by the same id,
	// not sqlite's autoincrement rowid — fixing the "last insert rowid"
	// bug spec §9 calls out), embed_cache.
	`
CREATE TABLE IF NOT EXISTS memories (
	id BLOB PRIMARY KEY,
	text TEXT NOT NULL,
	ts INTEGER NOT NULL,
	source TEXT NOT NULL,
	session TEXT NOT NULL,
	importance REAL NOT NULL,
	tags TEXT NOT NULL,
	collection TEXT NOT NULL,
	embedding BLOB
);
CREATE INDEX IF NOT EXISTS idx_memories_collection_ts ON memories(collection, ts DESC);
CREATE INDEX IF NOT EXISTS idx_memories_dedup ON memories(text, source, session, ts);

CREATE VIRTUAL TABLE IF NOT EXISTS memories_fts USING fts5(
	id UNINDEXED,
	text,
	content='',
	tokenize='unicode61'
);

CREATE TABLE IF NOT EXISTS embed_cache (
	h BLOB PRIMARY KEY,
	vec BLOB NOT NULL,
	ts INTEGER NOT NULL
);
`,
}

// Open applies outstanding migrations to db (already connected) and runs an
// integrity check, returning a StorageError{Corrupt} if it fails.
func Open(db *sql.DB) error {
	if err := ensureVersionTable(db); err != nil {
		return classifyErr(err)
	}
	current, err := currentVersion(db)
	if err != nil {
		return classifyErr(err)
	}
	if current < TargetVersion {
		if err := applyMigrations(db, current, TargetVersion); err != nil {
			return classifyErr(err)
		}
	}
	return integrityCheck(db)
}

// classifyErr reclassifies a schema-stage failure as Storage.Corrupt when
// its underlying cause is sqlite reporting a malformed file (e.g. a zeroed
// header, spec §8 scenario 5) rather than a genuine DDL/migration problem —
// mirroring isLockedErr's message-sniffing in internal/store/sqlite.go,
// since database/sql gives no typed way to distinguish these from
// mattn/go-sqlite3.
func classifyErr(err error) error {
	if err == nil {
		return nil
	}
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "not a database") || strings.Contains(msg, "malformed") || strings.Contains(msg, "file is encrypted") {
		return memerr.Wrap(memerr.KindStorageCorrupt, "database file is corrupt", err)
	}
	return err
}

func ensureVersionTable(db *sql.DB) error {
	_, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (v INTEGER NOT NULL)`)
	if err != nil {
		return memerr.Wrap(memerr.KindStorageSchema, "creating schema_version table", err)
	}
	var count int
	if err := db.QueryRow(`SELECT COUNT(*) FROM schema_version`).Scan(&count); err != nil {
		return memerr.Wrap(memerr.KindStorageSchema, "counting schema_version rows", err)
	}
	if count == 0 {
		if _, err := db.Exec(`INSERT INTO schema_version(v) VALUES (0)`); err != nil {
			return memerr.Wrap(memerr.KindStorageSchema, "seeding schema_version", err)
		}
	}
	return nil
}

func currentVersion(db *sql.DB) (int, error) {
	var v int
	if err := db.QueryRow(`SELECT v FROM schema_version LIMIT 1`).Scan(&v); err != nil {
		return 0, memerr.Wrap(memerr.KindStorageSchema, "reading schema_version", err)
	}
	return v, nil
}

func applyMigrations(db *sql.DB, from, to int) error {
	tx, err := db.Begin()
	if err != nil {
		return memerr.Wrap(memerr.KindStorageIO, "beginning migration transaction", err)
	}
	defer tx.Rollback()

	for v := from; v < to; v++ {
		script := migrations[v]
		if _, err := tx.Exec(script); err != nil {
			return memerr.Wrap(memerr.KindStorageSchema, fmt.Sprintf("applying migration v%d->v%d", v, v+1), err)
		}
	}
	if _, err := tx.Exec(`UPDATE schema_version SET v = ?`, to); err != nil {
		return memerr.Wrap(memerr.KindStorageSchema, "updating schema_version", err)
	}
	if err := tx.Commit(); err != nil {
		return memerr.Wrap(memerr.KindStorageSchema, "committing migration transaction", err)
	}
	return nil
}

func integrityCheck(db *sql.DB) error {
	var result string
	if err := db.QueryRow(`PRAGMA integrity_check`).Scan(&result); err != nil {
		return memerr.Wrap(memerr.KindStorageCorrupt, "running integrity_check", err)
	}
	if result != "ok" {
		return memerr.New(memerr.KindStorageCorrupt, "integrity_check reported: "+result)
	}
	return nil
}
