//go:build onnx

// Package encoder: ONNX-backed implementation, gated behind the "onnx"
// build tag the way nico-hyperjump-sagasu's internal/embedding/onnx.go and
// becomeliminal-nim-go-sdk's memory/embedder/onnx/onnx.go both gate their
// cgo-dependent encoders.
package encoder

import (
	"context"
	"fmt"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/openclaw/memento/internal/memerr"
	"github.com/openclaw/memento/internal/models"
	"github.com/openclaw/memento/internal/tokenizer"
	"github.com/openclaw/memento/internal/vectorops"
)

// Config configures the ONNX encoder.
type Config struct {
	ModelPath     string
	TokenizerPath string
}

// ONNXEncoder wraps an ONNX Runtime session producing mean-pooled,
// L2-normalised sentence embeddings. The session is shared and re-entrant
// per spec §4.2, serialised here by mu the way becomeliminal's BERTTokenizer
// wrapper serialises tensor reuse.
type ONNXEncoder struct {
	mu   sync.Mutex
	tok  *tokenizer.Tokenizer
	sess *ort.AdvancedSession

	inputIDs      *ort.Tensor[int64]
	attentionMask *ort.Tensor[int64]
	tokenTypeIDs  *ort.Tensor[int64]
	output        *ort.Tensor[float32]

	dim int
}

// New initialises the ONNX runtime, loads the tokenizer vocabulary, and
// builds a session plus pre-allocated singleton-shaped tensors. EncodeBatch
// loops over Encode rather than holding a second tensor set, keeping
// exactly one shape-construction path (spec §4.2/§9).
func New(cfg Config) (*ONNXEncoder, error) {
	tok, err := tokenizer.Load(cfg.TokenizerPath)
	if err != nil {
		return nil, err
	}

	if err := ort.InitializeEnvironment(); err != nil {
		return nil, memerr.Wrap(memerr.KindEmbeddingEncoder, "initializing onnx runtime", err)
	}

	inputShape := ort.NewShape(1, int64(tokenizer.MaxTokens))
	inputIDs, err := ort.NewEmptyTensor[int64](inputShape)
	if err != nil {
		return nil, memerr.Wrap(memerr.KindEmbeddingEncoder, "allocating input_ids tensor", err)
	}
	attentionMask, err := ort.NewEmptyTensor[int64](inputShape)
	if err != nil {
		return nil, memerr.Wrap(memerr.KindEmbeddingEncoder, "allocating attention_mask tensor", err)
	}
	tokenTypeIDs, err := ort.NewEmptyTensor[int64](inputShape)
	if err != nil {
		return nil, memerr.Wrap(memerr.KindEmbeddingEncoder, "allocating token_type_ids tensor", err)
	}
	outputShape := ort.NewShape(1, int64(tokenizer.MaxTokens), int64(models.EmbeddingDim))
	output, err := ort.NewEmptyTensor[float32](outputShape)
	if err != nil {
		return nil, memerr.Wrap(memerr.KindEmbeddingEncoder, "allocating output tensor", err)
	}

	sess, err := ort.NewAdvancedSession(cfg.ModelPath,
		[]string{"input_ids", "attention_mask", "token_type_ids"},
		[]string{"last_hidden_state"},
		[]ort.Value{inputIDs, attentionMask, tokenTypeIDs},
		[]ort.Value{output},
		nil)
	if err != nil {
		return nil, memerr.Wrap(memerr.KindEmbeddingEncoder, "creating onnx session", err)
	}

	return &ONNXEncoder{
		tok:           tok,
		sess:          sess,
		inputIDs:      inputIDs,
		attentionMask: attentionMask,
		tokenTypeIDs:  tokenTypeIDs,
		output:        output,
		dim:           models.EmbeddingDim,
	}, nil
}

func (e *ONNXEncoder) Dimensions() int { return e.dim }

func (e *ONNXEncoder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.sess != nil {
		e.sess.Destroy()
	}
	e.inputIDs.Destroy()
	e.attentionMask.Destroy()
	e.tokenTypeIDs.Destroy()
	e.output.Destroy()
	return nil
}

// Encode runs one forward pass. EncodeBatch below is defined purely in
// terms of Encode, so there is exactly one tensor-shape-construction path
// regardless of call site.
func (e *ONNXEncoder) Encode(ctx context.Context, text string) ([]float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, memerr.Wrap(memerr.KindEmbeddingEncoder, "context cancelled before encode", err)
	}

	enc := e.tok.Encode(text)
	copy(e.inputIDs.GetData(), enc.InputIDs)
	copy(e.attentionMask.GetData(), enc.AttentionMask)
	copy(e.tokenTypeIDs.GetData(), enc.TokenTypeIDs)

	if err := e.sess.Run(); err != nil {
		return nil, memerr.Wrap(memerr.KindEmbeddingEncoder, "onnx forward pass", err)
	}

	pooled := meanPool(e.output.GetData(), enc.AttentionMask, e.dim)
	v, ok := vectorops.Normalise(pooled)
	if !ok {
		return nil, memerr.New(memerr.KindEmbeddingEncoder, "encoder produced a zero vector")
	}
	return v, nil
}

func (e *ONNXEncoder) EncodeBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		v, err := e.Encode(ctx, text)
		if err != nil {
			return nil, fmt.Errorf("encoding batch item %d: %w", i, err)
		}
		out[i] = v
	}
	return out, nil
}

// meanPool averages token-level hidden states over attention-masked
// positions. hidden is a flat [seqLen*dim] row-major buffer for one
// sequence; mask marks real (1) vs pad (0) tokens.
func meanPool(hidden []float32, mask []int64, dim int) []float32 {
	sum := make([]float32, dim)
	var count float32
	seqLen := len(mask)
	for t := 0; t < seqLen; t++ {
		if mask[t] == 0 {
			continue
		}
		base := t * dim
		for d := 0; d < dim; d++ {
			sum[d] += hidden[base+d]
		}
		count++
	}
	if count == 0 {
		return sum
	}
	for d := range sum {
		sum[d] /= count
	}
	return sum
}
