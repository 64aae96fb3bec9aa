package vectorops

import (
	"math"
	"testing"
)

func TestNormaliseUnit(t *testing.T) {
	v := []float32{3, 4, 0}
	out, ok := Normalise(v)
	if !ok {
		t.Fatalf("expected ok=true for non-zero vector")
	}
	if !IsUnit(out) {
		t.Fatalf("normalised vector not unit: %v", out)
	}
	if math.Abs(float64(out[0])-0.6) > 1e-6 || math.Abs(float64(out[1])-0.8) > 1e-6 {
		t.Fatalf("unexpected normalised values: %v", out)
	}
}

func TestNormaliseZero(t *testing.T) {
	v := []float32{0, 0, 0}
	out, ok := Normalise(v)
	if ok {
		t.Fatalf("expected ok=false for zero vector")
	}
	if len(out) != len(v) {
		t.Fatalf("expected unchanged length")
	}
}

func TestDotIsCosineForUnitVectors(t *testing.T) {
	a, _ := Normalise([]float32{1, 1, 0})
	b, _ := Normalise([]float32{1, 0, 0})
	got := Dot(a, b)
	want := Cosine(a, b)
	if math.Abs(got-want) > 1e-6 {
		t.Fatalf("dot %v != cosine %v", got, want)
	}
}

func TestTopKOrderingAndTieBreak(t *testing.T) {
	scores := []Scored{
		{ID: "b", Score: 0.5},
		{ID: "a", Score: 0.5},
		{ID: "c", Score: 0.9},
		{ID: "d", Score: 0.1},
	}
	top := TopK(scores, 3)
	if len(top) != 3 {
		t.Fatalf("expected 3 results, got %d", len(top))
	}
	if top[0].ID != "c" {
		t.Fatalf("expected highest score first, got %+v", top[0])
	}
	// a and b tie at 0.5; ascending id breaks the tie.
	if top[1].ID != "a" || top[2].ID != "b" {
		t.Fatalf("tie-break failed: %+v", top[1:3])
	}
}

func TestFloat32BytesRoundTrip(t *testing.T) {
	v := make([]float32, Dim)
	for i := range v {
		v[i] = float32(i) * 0.01
	}
	b := Float32ToBytes(v)
	if len(b) != Dim*4 {
		t.Fatalf("expected %d bytes, got %d", Dim*4, len(b))
	}
	back := BytesToFloat32(b)
	for i := range v {
		if back[i] != v[i] {
			t.Fatalf("round trip mismatch at %d: %v != %v", i, back[i], v[i])
		}
	}
}
