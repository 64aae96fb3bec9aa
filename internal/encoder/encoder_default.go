//go:build !onnx

package encoder

import "github.com/openclaw/memento/internal/memerr"

// Config mirrors the onnx-tagged Config so callers (cmd/memento-server,
// cmd/memento-cli) compile identically with or without the "onnx" build
// tag. Without it, New always reports the encoder as unavailable, leaving
// the Embedder's AllowFallback path (spec §4.4, §9) as the only route to a
// vector.
type Config struct {
	ModelPath     string
	TokenizerPath string
}

// New reports KindEmbeddingUnavailable: this build was compiled without the
// "onnx" tag, so no real encoder backend is linked in. Build with
// `-tags onnx` (and the onnxruntime shared library installed) to use a real
// model; otherwise the Embedder falls back to its deterministic encoder.
func New(cfg Config) (Encoder, error) {
	return nil, memerr.New(memerr.KindEmbeddingUnavailable, "built without the \"onnx\" tag: no encoder backend linked in")
}
