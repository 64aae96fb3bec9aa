// Package encoder defines the text-to-vector interface shared by the ONNX
// backend (encoder_onnx.go, build-tag gated) and the deterministic fallback
// backend (encoder_fallback.go).
package encoder

import "context"

// Encoder turns text into a 384-dim, unit-L2-normalised vector.
type Encoder interface {
	// Encode embeds a single text.
	Encode(ctx context.Context, text string) ([]float32, error)
	// EncodeBatch embeds many texts in input order. Implementations must
	// route singleton calls and batch calls through the same
	// shape-construction path (spec §4.2/§9's batch-shape bug).
	EncodeBatch(ctx context.Context, texts []string) ([][]float32, error)
	// Dimensions reports the output width.
	Dimensions() int
	// Close releases any native resources (ONNX session, tensors).
	Close() error
}
