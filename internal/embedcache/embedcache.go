// Package embedcache implements the two-tier content-addressed embedding
// cache: an in-memory LRU front end over a persistent SQLite-backed table.
//
// Grounded on internal/store/embeddings.go's EmbeddingCacheStore (the
// teacher's upsert-on-conflict persistent tier, Get/Put shape) with an LRU
// front end added — the teacher has no in-memory tier of its own. Content
// addressing uses golang.org/x/crypto/blake2b per spec §3's
// text_hash = blake2b(nfc(text)) rule, replacing the teacher's SHA-256
// ContentHash.
package embedcache

import (
	"container/list"
	"sync"

	"golang.org/x/crypto/blake2b"
	"golang.org/x/text/unicode/norm"

	"github.com/openclaw/memento/internal/memerr"
	"github.com/openclaw/memento/internal/models"
	"github.com/openclaw/memento/internal/vectorops"
)

// Hash computes the 256-bit content-address of text: blake2b over its NFC
// normal form.
func Hash(text string) [32]byte {
	normalised := norm.NFC.String(text)
	return blake2b.Sum256([]byte(normalised))
}

// PersistentStore is the subset of store behaviour embedcache needs; the
// concrete implementation lives in internal/store to keep the single
// writer-discipline in one place.
type PersistentStore interface {
	GetEmbedding(hash [32]byte) ([]float32, bool, error)
	PutEmbedding(hash [32]byte, vec []float32) error
}

type lruEntry struct {
	hash [32]byte
	vec  []float32
}

// Cache is the two-tier EmbedCache of spec §4.3.
type Cache struct {
	mu       sync.Mutex
	capacity int
	ll       *list.List
	items    map[[32]byte]*list.Element
	store    PersistentStore

	inflight map[[32]byte]chan struct{}

	stats models.CacheStats
}

// New builds a Cache with the given LRU capacity (spec default 1000) over
// store.
func New(store PersistentStore, capacity int) *Cache {
	if capacity <= 0 {
		capacity = 1000
	}
	return &Cache{
		capacity: capacity,
		ll:       list.New(),
		items:    make(map[[32]byte]*list.Element),
		store:    store,
		inflight: make(map[[32]byte]chan struct{}),
		stats:    models.CacheStats{Backend: "sqlite+lru"},
	}
}

// Get looks up text's cached vector. bypass disables both reads and
// writes for this call (spec §4.3's bypass flag).
func (c *Cache) Get(text string, bypass bool) ([]float32, bool, error) {
	if bypass {
		return nil, false, nil
	}
	h := Hash(text)

	c.mu.Lock()
	if el, ok := c.items[h]; ok {
		c.ll.MoveToFront(el)
		v := el.Value.(*lruEntry).vec
		c.stats.Hits++
		c.stats.LRUHits++
		c.mu.Unlock()
		return v, true, nil
	}
	c.mu.Unlock()

	vec, ok, err := c.store.GetEmbedding(h)
	if err != nil {
		return nil, false, memerr.Wrap(memerr.KindStorageIO, "reading embed cache", err)
	}
	if !ok {
		c.mu.Lock()
		c.stats.Misses++
		c.mu.Unlock()
		return nil, false, nil
	}

	c.mu.Lock()
	c.stats.Hits++
	c.stats.DiskHits++
	c.promoteLocked(h, vec)
	c.mu.Unlock()
	return vec, true, nil
}

// Put inserts (text, vec) into both tiers. Insertion is last-writer-wins:
// the embedding for a given text is deterministic, so concurrent writers
// agree on the value (spec's EmbedCacheEntry note).
func (c *Cache) Put(text string, vec []float32, bypass bool) error {
	if bypass {
		return nil
	}
	h := Hash(text)
	if err := c.store.PutEmbedding(h, vec); err != nil {
		return memerr.Wrap(memerr.KindStorageIO, "writing embed cache", err)
	}
	c.mu.Lock()
	c.promoteLocked(h, vec)
	c.mu.Unlock()
	return nil
}

// promoteLocked inserts/refreshes h in the LRU, evicting the least-recently
// used entry if capacity is exceeded. c.mu must be held.
func (c *Cache) promoteLocked(h [32]byte, vec []float32) {
	if el, ok := c.items[h]; ok {
		el.Value.(*lruEntry).vec = vec
		c.ll.MoveToFront(el)
		return
	}
	el := c.ll.PushFront(&lruEntry{hash: h, vec: vec})
	c.items[h] = el
	if c.ll.Len() > c.capacity {
		oldest := c.ll.Back()
		if oldest != nil {
			c.ll.Remove(oldest)
			delete(c.items, oldest.Value.(*lruEntry).hash)
		}
	}
}

// Stats reports hit/miss counters (spec §4.3 stats()).
func (c *Cache) Stats() models.CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.stats
	total := s.Hits + s.Misses
	if total > 0 {
		s.HitRate = float64(s.Hits) / float64(total)
	}
	return s
}

// GetOrCompute returns the cached vector for text, or calls compute exactly
// once per content-hash even under concurrent callers — in-flight misses
// for the same hash are de-duplicated so N concurrent callers trigger one
// encoder call (spec §4.3 concurrency note).
func (c *Cache) GetOrCompute(text string, bypass bool, compute func() ([]float32, error)) ([]float32, error) {
	if v, ok, err := c.Get(text, bypass); err != nil {
		return nil, err
	} else if ok {
		return v, nil
	}

	h := Hash(text)

	c.mu.Lock()
	if wait, ok := c.inflight[h]; ok {
		c.mu.Unlock()
		<-wait
		if v, ok, err := c.Get(text, bypass); err == nil && ok {
			return v, nil
		}
		// Fall through: the leader's compute failed; try again ourselves.
	} else {
		wait = make(chan struct{})
		c.inflight[h] = wait
		c.mu.Unlock()
		defer func() {
			c.mu.Lock()
			delete(c.inflight, h)
			c.mu.Unlock()
			close(wait)
		}()
	}

	vec, err := compute()
	if err != nil {
		return nil, err
	}
	normalised, ok := vectorops.Normalise(vec)
	if !ok {
		return nil, memerr.New(memerr.KindInternal, "encoder produced a zero vector")
	}
	if err := c.Put(text, normalised, bypass); err != nil {
		return nil, err
	}
	return normalised, nil
}
