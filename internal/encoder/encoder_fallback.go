package encoder

import (
	"context"
	"encoding/binary"

	"golang.org/x/crypto/blake2b"

	"github.com/openclaw/memento/internal/models"
	"github.com/openclaw/memento/internal/vectorops"
)

// FallbackEncoder produces a deterministic pseudo-embedding from
// blake2b(text), expanded to 384 dimensions and L2-normalised, for use when
// the ONNX encoder is permanently unavailable and the caller opted in
// (spec §4.4 "Deterministic fallback"). Vectors from this encoder are never
// semantically meaningful and are never written to the persistent embed
// cache — callers must tag them as fallback-sourced before any caching
// decision.
type FallbackEncoder struct{}

// NewFallback constructs a FallbackEncoder. It never fails and never blocks.
func NewFallback() *FallbackEncoder { return &FallbackEncoder{} }

func (f *FallbackEncoder) Dimensions() int { return models.EmbeddingDim }
func (f *FallbackEncoder) Close() error    { return nil }

func (f *FallbackEncoder) Encode(_ context.Context, text string) ([]float32, error) {
	return expand(text), nil
}

func (f *FallbackEncoder) EncodeBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		v, err := f.Encode(ctx, text)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// expand deterministically stretches a blake2b digest of text into a
// 384-dim float32 vector by re-hashing with an incrementing counter as a
// domain-separated salt, then L2-normalises the result.
func expand(text string) []float32 {
	dim := models.EmbeddingDim
	out := make([]float32, dim)

	var counter uint32
	buf := make([]byte, 0, dim*4)
	for len(buf) < dim*4 {
		h, _ := blake2b.New256(nil)
		h.Write([]byte(text))
		var ctrBytes [4]byte
		binary.LittleEndian.PutUint32(ctrBytes[:], counter)
		h.Write(ctrBytes[:])
		buf = append(buf, h.Sum(nil)...)
		counter++
	}
	for i := 0; i < dim; i++ {
		// Map each 4-byte chunk to a signed float in roughly [-1, 1].
		u := binary.LittleEndian.Uint32(buf[i*4:])
		out[i] = float32(int32(u)) / float32(1<<31)
	}

	normalised, ok := vectorops.Normalise(out)
	if !ok {
		// Astronomically unlikely for a hash-derived vector; fall back to
		// a fixed unit vector rather than propagate a zero embedding.
		normalised[0] = 1
	}
	return normalised
}
