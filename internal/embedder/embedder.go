// Package embedder glues the Encoder and EmbedCache behind the state
// machine of spec §4.4.1: Cold -> Loading -> Ready -> Unloading -> Cold,
// with background warm-up, idle unload, and an optional deterministic
// fallback path.
//
// Grounded on the teacher's internal/embedding/cache.go (CachedEmbedder's
// wrap-encoder-with-cache shape) and cmd/server/main.go's
// background-goroutine idiom (the skill auto-sync goroutine), generalised
// into an explicit state machine the teacher does not have.
package embedder

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/openclaw/memento/internal/deadline"
	"github.com/openclaw/memento/internal/embedcache"
	"github.com/openclaw/memento/internal/encoder"
	"github.com/openclaw/memento/internal/memerr"
)

// State is one of the embedder's lifecycle states.
type State int

const (
	Cold State = iota
	Loading
	Ready
	Unloading
)

func (s State) String() string {
	switch s {
	case Loading:
		return "Loading"
	case Ready:
		return "Ready"
	case Unloading:
		return "Unloading"
	default:
		return "Cold"
	}
}

// Factory builds a fresh Encoder on demand; constructing the ONNX session
// is deferred to background warm-up so New() itself never blocks.
type Factory func() (encoder.Encoder, error)

// Config tunes warm-up/idle-unload timing and fallback behaviour.
type Config struct {
	WarmupTimeout time.Duration // default 30s
	IdleTimeout   time.Duration // default 30min
	AllowFallback bool
	Logger        *slog.Logger
}

// Embedder is the long-lived glue described by spec §4.4.
type Embedder struct {
	factory Factory
	cache   *embedcache.Cache
	cfg     Config
	logger  *slog.Logger

	mu         sync.Mutex
	state      State
	enc        encoder.Encoder
	readyCh    chan struct{} // closed when a Loading->Ready (or ->Cold) transition completes
	loadErr    error
	idleTimer  *time.Timer
	stopped    bool
	unloadDone chan struct{} // closed when an in-flight Unloading->Cold transition completes
}

// New constructs an Embedder and immediately kicks off background warm-up
// (Cold -construct/warmup-> Loading).
func New(factory Factory, cache *embedcache.Cache, cfg Config) *Embedder {
	if cfg.WarmupTimeout <= 0 {
		cfg.WarmupTimeout = 30 * time.Second
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 30 * time.Minute
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	e := &Embedder{
		factory: factory,
		cache:   cache,
		cfg:     cfg,
		logger:  cfg.Logger,
		state:   Cold,
	}
	e.startLoadLocked()
	return e
}

// startLoadLocked transitions Cold->Loading and spawns the warm-up
// goroutine. Caller must hold e.mu... except on first call from New, where
// no other goroutine can yet observe e.
func (e *Embedder) startLoadLocked() {
	e.state = Loading
	e.readyCh = make(chan struct{})
	ch := e.readyCh
	go e.load(ch)
}

func (e *Embedder) load(ch chan struct{}) {
	enc, err := e.factory()
	e.mu.Lock()
	defer e.mu.Unlock()
	if err != nil {
		e.loadErr = err
		e.state = Cold
		e.logger.Warn("embedder load failed", "error", err)
		close(ch)
		return
	}
	e.enc = enc
	e.loadErr = nil
	e.state = Ready
	e.resetIdleTimerLocked()
	close(ch)
}

// Ready reports whether the encoder is currently loaded.
func (e *Embedder) Ready() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state == Ready
}

// WaitUntilReady blocks until the encoder is Ready or d expires, whichever
// comes first.
func (e *Embedder) WaitUntilReady(d deadline.Deadline) error {
	e.mu.Lock()
	if e.state == Ready {
		e.mu.Unlock()
		return nil
	}
	ch := e.readyCh
	e.mu.Unlock()

	if ch == nil {
		return memerr.New(memerr.KindEmbeddingUnavailable, "embedder not loading")
	}

	timer := time.NewTimer(d.Remaining())
	defer timer.Stop()
	select {
	case <-ch:
		e.mu.Lock()
		ready := e.state == Ready
		loadErr := e.loadErr
		e.mu.Unlock()
		if ready {
			return nil
		}
		return memerr.Wrap(memerr.KindEmbeddingUnavailable, "encoder failed to load", loadErr)
	case <-timer.C:
		return memerr.Timeout("timed out waiting for encoder readiness", d.ElapsedMS())
	}
}

// ensureLoaded triggers a re-warm if the embedder is Cold (including after
// idle unload) and waits for readiness within the warm-up timeout.
func (e *Embedder) ensureLoaded(ctx context.Context) error {
	e.mu.Lock()
	switch e.state {
	case Ready:
		e.resetIdleTimerLocked()
		e.mu.Unlock()
		return nil
	case Cold:
		e.startLoadLocked()
	case Unloading:
		// Any incoming embed during Unloading queues and becomes a Loading
		// transition after Cold (spec §4.4.1): wait for the in-flight
		// Unloading->Cold transition onIdle is running, then start a fresh
		// load cycle ourselves. e.mu is released while waiting so onIdle
		// can make progress.
		done := e.unloadDone
		e.mu.Unlock()
		if done != nil {
			<-done
		}
		e.mu.Lock()
		if e.state == Cold {
			e.startLoadLocked()
		}
	case Loading:
		// already loading; fall through to wait
	}
	e.mu.Unlock()

	d := deadline.New(e.cfg.WarmupTimeout.Milliseconds())
	if err := e.WaitUntilReady(d); err != nil {
		if e.cfg.AllowFallback {
			return nil // caller falls back to FallbackEncoder
		}
		return err
	}
	return ctx.Err()
}

func (e *Embedder) resetIdleTimerLocked() {
	if e.idleTimer != nil {
		e.idleTimer.Stop()
	}
	if e.stopped {
		return
	}
	e.idleTimer = time.AfterFunc(e.cfg.IdleTimeout, e.onIdle)
}

// onIdle fires Ready->Unloading->Cold. The source's unload_model bug
// referenced a not-yet-initialised timer variable (spec §9); here the timer
// is only ever created by resetIdleTimerLocked after a successful load, so
// onIdle can never run before the timer it came from exists.
func (e *Embedder) onIdle() {
	e.mu.Lock()
	if e.state != Ready {
		e.mu.Unlock()
		return
	}
	e.state = Unloading
	enc := e.enc
	e.enc = nil
	done := make(chan struct{})
	e.unloadDone = done
	e.mu.Unlock()

	if enc != nil {
		if err := enc.Close(); err != nil {
			e.logger.Warn("error closing idle encoder", "error", err)
		}
	}

	e.mu.Lock()
	e.state = Cold
	e.unloadDone = nil
	e.mu.Unlock()
	close(done)
}

// Embed embeds text, consulting the cache first (spec dataflow: Embedder ->
// EmbedCache -> (miss) Encoder -> normalise). Fallback-sourced vectors are
// deliberately computed outside cache.GetOrCompute so they are never
// written to the persistent tier (spec §4.4: "Fallback vectors ... never
// written to the persistent embed cache").
func (e *Embedder) Embed(ctx context.Context, text string, bypassCache bool) ([]float32, error) {
	if v, ok, err := e.cache.Get(text, bypassCache); err != nil {
		return nil, err
	} else if ok {
		return v, nil
	}

	if err := e.ensureLoaded(ctx); err != nil {
		return nil, err
	}
	e.mu.Lock()
	enc := e.enc
	state := e.state
	e.mu.Unlock()

	if state != Ready || enc == nil {
		if e.cfg.AllowFallback {
			return fallbackEncode(text), nil
		}
		return nil, memerr.New(memerr.KindEmbeddingUnavailable, "encoder unavailable")
	}

	return e.cache.GetOrCompute(text, bypassCache, func() ([]float32, error) {
		return enc.Encode(ctx, text)
	})
}

// EmbedBatch embeds many texts, preserving order. Cache hits and misses are
// resolved independently but misses are gathered and encoded with one
// EncodeBatch call to amortise the lock cost (spec §5's batch amortisation
// scenario).
func (e *Embedder) EmbedBatch(ctx context.Context, texts []string, bypassCache bool) ([][]float32, error) {
	out := make([][]float32, len(texts))
	var missIdx []int
	var missTexts []string

	for i, text := range texts {
		v, ok, err := e.cacheGet(text, bypassCache)
		if err != nil {
			return nil, err
		}
		if ok {
			out[i] = v
			continue
		}
		missIdx = append(missIdx, i)
		missTexts = append(missTexts, text)
	}

	if len(missTexts) == 0 {
		return out, nil
	}

	if err := e.ensureLoaded(ctx); err != nil {
		return nil, err
	}
	e.mu.Lock()
	enc := e.enc
	state := e.state
	e.mu.Unlock()

	var vecs [][]float32
	var err error
	usingFallback := false
	if state == Ready && enc != nil {
		vecs, err = enc.EncodeBatch(ctx, missTexts)
	} else if e.cfg.AllowFallback {
		usingFallback = true
		vecs = make([][]float32, len(missTexts))
		for i, t := range missTexts {
			vecs[i] = fallbackEncode(t)
		}
	} else {
		return nil, memerr.New(memerr.KindEmbeddingUnavailable, "encoder unavailable")
	}
	if err != nil {
		return nil, err
	}

	for j, idx := range missIdx {
		if !usingFallback {
			if err := e.cache.Put(missTexts[j], vecs[j], bypassCache); err != nil {
				return nil, err
			}
		}
		out[idx] = vecs[j]
	}
	return out, nil
}

func (e *Embedder) cacheGet(text string, bypass bool) ([]float32, bool, error) {
	return e.cache.Get(text, bypass)
}

func fallbackEncode(text string) []float32 {
	fb := encoder.NewFallback()
	v, _ := fb.Encode(context.Background(), text)
	return v
}

// CurrentState reports the embedder's lifecycle state, for diagnostics.
func (e *Embedder) CurrentState() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Close stops the idle timer and releases the encoder if loaded. Safe to
// call once during shutdown.
func (e *Embedder) Close() error {
	e.mu.Lock()
	e.stopped = true
	if e.idleTimer != nil {
		e.idleTimer.Stop()
	}
	enc := e.enc
	e.enc = nil
	e.mu.Unlock()
	if enc != nil {
		return enc.Close()
	}
	return nil
}
