// Package vectorops implements pure functions over fixed-width float32
// vectors: normalisation, dot/cosine, and top-k selection. No allocation in
// the hot paths; SIMD is a freedom, not a contract.
//
// Grounded on internal/search/vectors.go from the teacher (CosineSimilarity,
// Float32ToBytes/BytesToFloat32), generalised to the fixed-384 contract and
// extended with Normalise and TopK.
package vectorops

import (
	"encoding/binary"
	"math"

	"github.com/openclaw/memento/internal/models"
)

// Dim is the fixed vector width this module operates on.
const Dim = models.EmbeddingDim

// Epsilon bounds how far a "unit" vector's L2 norm may drift (spec I3).
const Epsilon = 1e-5

// Normalise returns a unit-L2-normalised copy of v. A zero vector is
// returned unchanged with ok=false; callers must reject it rather than
// silently dividing by zero.
func Normalise(v []float32) (out []float32, ok bool) {
	var sumSq float64
	for _, x := range v {
		sumSq += float64(x) * float64(x)
	}
	norm := math.Sqrt(sumSq)
	if norm == 0 {
		cp := make([]float32, len(v))
		copy(cp, v)
		return cp, false
	}
	out = make([]float32, len(v))
	invNorm := 1.0 / norm
	for i, x := range v {
		out[i] = float32(float64(x) * invNorm)
	}
	return out, true
}

// IsUnit reports whether v's L2 norm is within Epsilon of 1.
func IsUnit(v []float32) bool {
	var sumSq float64
	for _, x := range v {
		sumSq += float64(x) * float64(x)
	}
	return math.Abs(math.Sqrt(sumSq)-1.0) < Epsilon
}

// Dot computes the inner product of a and b. Production code maintains the
// unit-length invariant on every stored vector, so Dot doubles as Cosine.
func Dot(a, b []float32) float64 {
	var sum float64
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}

// Cosine computes true cosine similarity without assuming unit length.
// Production code relies on the unit-length invariant and calls Dot.
func Cosine(a, b []float32) float64 {
	dot := Dot(a, b)
	var na, nb float64
	for _, x := range a {
		na += float64(x) * float64(x)
	}
	for _, x := range b {
		nb += float64(x) * float64(x)
	}
	denom := math.Sqrt(na) * math.Sqrt(nb)
	if denom == 0 {
		return 0
	}
	return dot / denom
}

// Scored pairs a candidate id with its score for TopK selection.
type Scored struct {
	ID    string
	Score float64
}

// TopK returns the k highest-scoring entries from scores, stable tie-broken
// by ascending id. scores is not mutated.
func TopK(scores []Scored, k int) []Scored {
	if k <= 0 || len(scores) == 0 {
		return nil
	}
	cp := make([]Scored, len(scores))
	copy(cp, scores)
	sortScored(cp)
	if k > len(cp) {
		k = len(cp)
	}
	return cp[:k]
}

func sortScored(s []Scored) {
	// Insertion sort over the whole input; for the brute-force scan that is
	// every indexed vector, not only the F*k expansion.
	for i := 1; i < len(s); i++ {
		j := i
		for j > 0 && less(s[j], s[j-1]) {
			s[j], s[j-1] = s[j-1], s[j]
			j--
		}
	}
}

func less(a, b Scored) bool {
	if a.Score != b.Score {
		return a.Score > b.Score // descending score
	}
	return a.ID < b.ID // ascending id tie-break
}

// Float32ToBytes encodes a float32 slice as a little-endian byte blob, the
// on-disk embedding representation (spec §6).
func Float32ToBytes(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, x := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(x))
	}
	return buf
}

// BytesToFloat32 decodes a little-endian byte blob into a float32 slice.
func BytesToFloat32(b []byte) []float32 {
	n := len(b) / 4
	out := make([]float32, n)
	for i := 0; i < n; i++ {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return out
}
