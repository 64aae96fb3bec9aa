package embedder

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/openclaw/memento/internal/deadline"
	"github.com/openclaw/memento/internal/embedcache"
	"github.com/openclaw/memento/internal/encoder"
	"github.com/openclaw/memento/internal/models"
	"github.com/openclaw/memento/internal/vectorops"
)

type fakeEncoder struct {
	mu    sync.Mutex
	calls int
}

func (f *fakeEncoder) Dimensions() int { return models.EmbeddingDim }
func (f *fakeEncoder) Close() error    { return nil }

func (f *fakeEncoder) Encode(_ context.Context, text string) ([]float32, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	v := make([]float32, models.EmbeddingDim)
	for i := range text {
		v[i%models.EmbeddingDim] += float32(text[i])
	}
	v[0] += 1 // avoid an all-zero vector for empty text
	out, _ := vectorops.Normalise(v)
	return out, nil
}

func (f *fakeEncoder) EncodeBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := f.Encode(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

type fakeStore struct {
	mu   sync.Mutex
	data map[[32]byte][]float32
}

func newFakeStore() *fakeStore { return &fakeStore{data: make(map[[32]byte][]float32)} }

func (f *fakeStore) GetEmbedding(h [32]byte) ([]float32, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.data[h]
	return v, ok, nil
}

func (f *fakeStore) PutEmbedding(h [32]byte, vec []float32) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.data[h] = vec
	return nil
}

func newTestEmbedder(t *testing.T, fe *fakeEncoder) *Embedder {
	t.Helper()
	cache := embedcache.New(newFakeStore(), 100)
	e := New(func() (encoder.Encoder, error) { return fe, nil }, cache, Config{
		WarmupTimeout: time.Second,
		IdleTimeout:   time.Hour,
	})
	d := deadline.New(1000)
	if err := e.WaitUntilReady(d); err != nil {
		t.Fatalf("embedder never became ready: %v", err)
	}
	return e
}

func TestEmbedBecomesReadyAndCachesSecondCall(t *testing.T) {
	fe := &fakeEncoder{}
	e := newTestEmbedder(t, fe)

	v1, err := e.Embed(context.Background(), "hello", false)
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	v2, err := e.Embed(context.Background(), "hello", false)
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	if !vectorops.IsUnit(v1) || !vectorops.IsUnit(v2) {
		t.Fatalf("expected unit vectors")
	}
	for i := range v1 {
		if v1[i] != v2[i] {
			t.Fatalf("expected deterministic cached vector, mismatch at %d", i)
		}
	}
	if fe.calls != 1 {
		t.Fatalf("expected exactly one encoder call across warm+cold cache hits, got %d", fe.calls)
	}
}

func TestEmbedBatchPreservesOrder(t *testing.T) {
	fe := &fakeEncoder{}
	e := newTestEmbedder(t, fe)

	texts := []string{"alpha", "beta", "gamma"}
	vecs, err := e.EmbedBatch(context.Background(), texts, false)
	if err != nil {
		t.Fatalf("embed batch: %v", err)
	}
	if len(vecs) != 3 {
		t.Fatalf("expected 3 vectors, got %d", len(vecs))
	}
	single, err := e.Embed(context.Background(), "beta", false)
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	for i := range single {
		if single[i] != vecs[1][i] {
			t.Fatalf("batch result for 'beta' diverges from singleton encode at %d", i)
		}
	}
}

func TestFallbackWhenUnavailable(t *testing.T) {
	store := newFakeStore()
	cache := embedcache.New(store, 100)
	e := New(func() (encoder.Encoder, error) {
		return nil, &testLoadErr{}
	}, cache, Config{
		WarmupTimeout: 20 * time.Millisecond,
		IdleTimeout:   time.Hour,
		AllowFallback: true,
	})
	v, err := e.Embed(context.Background(), "hello", false)
	if err != nil {
		t.Fatalf("expected fallback to succeed, got %v", err)
	}
	if !vectorops.IsUnit(v) {
		t.Fatalf("expected unit fallback vector")
	}

	// Fallback vectors must never be written to the persistent cache.
	h := embedcache.Hash("hello")
	if _, ok, _ := store.GetEmbedding(h); ok {
		t.Fatalf("fallback vector must not be persisted to the embed cache")
	}
}

type testLoadErr struct{}

func (e *testLoadErr) Error() string { return "load failed" }

// slowCloseEncoder delays Close() so a test can observe the Unloading state
// before onIdle finishes its Ready->Unloading->Cold transition.
type slowCloseEncoder struct {
	*fakeEncoder
	closeDelay time.Duration
}

func (f *slowCloseEncoder) Close() error {
	time.Sleep(f.closeDelay)
	return nil
}

// TestEmbedDuringUnloadingStartsFreshLoadCycle exercises spec §4.4.1's
// "any incoming embed during Unloading queues and becomes a Loading
// transition after Cold": an Embed call that lands while onIdle is still
// mid-unload must wait for Cold and kick off a fresh load, not read the
// stale closed readyCh from the prior cycle.
func TestEmbedDuringUnloadingStartsFreshLoadCycle(t *testing.T) {
	fe := &fakeEncoder{}
	var mu sync.Mutex
	var factoryCalls int

	cache := embedcache.New(newFakeStore(), 100)
	e := New(func() (encoder.Encoder, error) {
		mu.Lock()
		factoryCalls++
		n := factoryCalls
		mu.Unlock()
		if n == 1 {
			return &slowCloseEncoder{fakeEncoder: fe, closeDelay: 150 * time.Millisecond}, nil
		}
		return fe, nil
	}, cache, Config{
		WarmupTimeout: time.Second,
		IdleTimeout:   10 * time.Millisecond,
	})

	d := deadline.New(1000)
	if err := e.WaitUntilReady(d); err != nil {
		t.Fatalf("embedder never became ready: %v", err)
	}

	waitUntil := time.Now().Add(time.Second)
	for e.CurrentState() != Unloading {
		if time.Now().After(waitUntil) {
			t.Fatalf("embedder never reached Unloading before timeout")
		}
		time.Sleep(time.Millisecond)
	}

	v, err := e.Embed(context.Background(), "hello during unload", false)
	if err != nil {
		t.Fatalf("embed during Unloading should queue and succeed, got: %v", err)
	}
	if !vectorops.IsUnit(v) {
		t.Fatalf("expected unit vector")
	}

	mu.Lock()
	calls := factoryCalls
	mu.Unlock()
	if calls < 2 {
		t.Fatalf("expected a fresh load cycle triggered while Unloading, factory called %d times", calls)
	}
}
