package store

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/openclaw/memento/internal/memerr"
	"github.com/openclaw/memento/internal/models"
)

// TestRecoverRestoresFromBackupAfterCorruption exercises spec §8 scenario 5
// literally: zero the primary file's header, open the store (expect
// Storage{Corrupt} and refused writes), then call Recover and check I1
// holds again.
func TestRecoverRestoresFromBackupAfterCorruption(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "memory.db")

	s, err := Open(path, nil)
	if err != nil {
		t.Fatalf("initial open: %v", err)
	}
	id, err := s.Remember("Deploy new model", unitVec(1), models.RememberOptions{Tags: []string{"todo"}})
	if err != nil {
		t.Fatalf("remember: %v", err)
	}
	if _, err := s.Backup(""); err != nil {
		t.Fatalf("backup: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	// Zero the SQLite header (first 100 bytes hold the magic string and page
	// size), per spec §8 scenario 5's literal corruption recipe.
	f, err := os.OpenFile(path, os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatalf("opening db file to corrupt: %v", err)
	}
	if _, err := f.WriteAt(make([]byte, 100), 0); err != nil {
		t.Fatalf("zeroing header: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("closing corrupted file: %v", err)
	}

	s2, err := Open(path, nil)
	if err == nil {
		t.Fatalf("expected Storage.Corrupt reopening a corrupted database")
	}
	if memerr.KindOf(err) != memerr.KindStorageCorrupt {
		t.Fatalf("expected KindStorageCorrupt, got %v (%v)", memerr.KindOf(err), err)
	}
	if s2 == nil {
		t.Fatalf("expected a degraded handle to recover from, got nil")
	}
	if !s2.IsCorrupt() {
		t.Fatalf("expected IsCorrupt() to report true")
	}
	defer s2.Close()

	if _, err := s2.Remember("should be refused", unitVec(2), models.RememberOptions{}); err == nil {
		t.Fatalf("expected writes to be refused on a corrupt store")
	} else if memerr.KindOf(err) != memerr.KindStorageCorrupt {
		t.Fatalf("expected KindStorageCorrupt refusing a write, got %v", err)
	}

	restoredFrom, err := s2.Recover(0)
	if err != nil {
		t.Fatalf("recover: %v", err)
	}
	if restoredFrom == "" {
		t.Fatalf("expected a non-empty restored-from path")
	}
	if s2.IsCorrupt() {
		t.Fatalf("expected IsCorrupt() to clear after a successful recovery")
	}

	m, err := s2.GetByID(id)
	if err != nil {
		t.Fatalf("get by id after recovery: %v", err)
	}
	if m.Text != "Deploy new model" {
		t.Fatalf("unexpected recovered text: %q", m.Text)
	}
	matches, err := s2.FTSContains("Deploy")
	if err != nil {
		t.Fatalf("fts contains after recovery: %v", err)
	}
	if len(matches) != 1 {
		t.Fatalf("expected I1 (fts entry matching vector-index row) to hold after recovery, got %v", matches)
	}

	if _, err := s2.Remember("writes work again", unitVec(3), models.RememberOptions{}); err != nil {
		t.Fatalf("expected writes to succeed after recovery: %v", err)
	}
}

// TestRecoverWithNoBackupReportsCorrupt covers the "otherwise it reports
// Corrupt" half of spec §7's user-visible behaviour clause.
func TestRecoverWithNoBackupReportsCorrupt(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "memory.db")

	s, err := Open(path, nil)
	if err != nil {
		t.Fatalf("initial open: %v", err)
	}
	if _, err := s.Remember("no backup taken", unitVec(1), models.RememberOptions{}); err != nil {
		t.Fatalf("remember: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	f, err := os.OpenFile(path, os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatalf("opening db file to corrupt: %v", err)
	}
	if _, err := f.WriteAt(make([]byte, 100), 0); err != nil {
		t.Fatalf("zeroing header: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("closing corrupted file: %v", err)
	}

	s2, err := Open(path, nil)
	if memerr.KindOf(err) != memerr.KindStorageCorrupt || s2 == nil {
		t.Fatalf("expected a degraded corrupt handle, got store=%v err=%v", s2, err)
	}
	defer s2.Close()

	if _, err := s2.Recover(0); err == nil {
		t.Fatalf("expected recover to fail with no backups directory")
	} else if memerr.KindOf(err) != memerr.KindStorageCorrupt {
		t.Fatalf("expected KindStorageCorrupt, got %v", err)
	}
}
