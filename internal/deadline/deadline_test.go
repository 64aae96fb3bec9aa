package deadline

import (
	"testing"
	"time"

	"github.com/openclaw/memento/internal/memerr"
)

func TestNoDeadlineNeverExpires(t *testing.T) {
	d := New(0)
	if err := d.Check(); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if !d.None() {
		t.Fatalf("expected None() true for timeoutMS=0")
	}
}

func TestDeadlineExpires(t *testing.T) {
	d := New(1)
	time.Sleep(5 * time.Millisecond)
	err := d.Check()
	if err == nil {
		t.Fatalf("expected timeout error")
	}
	if !memerr.Is(err, memerr.KindTimeout) {
		t.Fatalf("expected KindTimeout, got %v", err)
	}
}

func TestDeadlineCheckedFromAnyGoroutine(t *testing.T) {
	d := New(5)
	done := make(chan error, 1)
	go func() {
		time.Sleep(20 * time.Millisecond)
		done <- d.Check()
	}()
	err := <-done
	if err == nil {
		t.Fatalf("expected timeout error when checked from a worker goroutine")
	}
}
