// Package models holds the domain types shared by store, embedder, and
// querypipeline: the atomic Memory record, its cache counterpart, and the
// closed result/stats shapes returned across package boundaries.
package models

// EmbeddingDim is the fixed output width of the encoder (all-MiniLM-L6-v2
// equivalent). Every vector that crosses a package boundary in this module
// has exactly this many components.
const EmbeddingDim = 384

// DefaultCollection is used when a caller does not specify one.
const DefaultCollection = "knowledge"

// DefaultSource and DefaultSessionID are applied when remember() callers
// omit those fields.
const (
	DefaultSource    = "unknown"
	DefaultSessionID = "default"
)

// Memory is the atomic record (spec §3). ID is a 16-byte blake2b truncation,
// Embedding is always EmbeddingDim float32s, unit-L2-normalised.
type Memory struct {
	ID         string   `json:"id"`
	Text       string   `json:"text"`
	Timestamp  int64    `json:"timestamp"`
	Source     string   `json:"source"`
	SessionID  string   `json:"session_id"`
	Importance float64  `json:"importance"`
	Tags       []string `json:"tags"`
	Collection string   `json:"collection"`
	Embedding  []float32 `json:"-"`
}

// Result augments a Memory with its recall score. It is a closed record —
// every score component this engine produces is a named field here, never a
// dynamically attached map (see DESIGN.md note on dynamic-field grafting).
type Result struct {
	Memory
	Score float64 `json:"score"`
}

// EmbedCacheEntry is the persistent-tier row (spec §3). TextHash is a
// 32-byte blake2b digest of NFC-normalised text.
type EmbedCacheEntry struct {
	TextHash   [32]byte
	Vector     []float32
	InsertedAt int64
}

// CollectionStats reports per-collection counts.
type CollectionStats struct {
	Collection string `json:"collection"`
	Count      int64  `json:"count"`
}

// Stats is the aggregate returned by Store.Stats().
type Stats struct {
	Collections  []CollectionStats `json:"collections"`
	TotalVectors int64             `json:"total_vectors"`
	Backend      string            `json:"backend"`
}

// CacheStats reports EmbedCache hit/miss behaviour (spec §4.3 stats()).
type CacheStats struct {
	Hits     int64   `json:"hits"`
	Misses   int64   `json:"misses"`
	LRUHits  int64   `json:"lru_hits"`
	DiskHits int64   `json:"disk_hits"`
	HitRate  float64 `json:"hit_rate"`
	Backend  string  `json:"backend"`
}

// RememberOptions carries the optional fields of Store.Remember.
type RememberOptions struct {
	Collection string
	Importance float64
	Source     string
	SessionID  string
	Tags       []string
	// Timestamp overrides the wall-clock time; zero means "now". Exposed
	// for deterministic tests and for callers replaying an export.
	Timestamp int64
}

// Filters is the closed set of recognised recall predicates (spec §4.8).
type Filters struct {
	Tags          []string
	Source        string
	SessionID     string
	TextLike      string
	MinImportance float64
	Since         int64 // absolute unix seconds, 0 = unset
	Before        int64 // absolute unix seconds, 0 = unset
}

// RecallOptions carries the optional fields of QueryPipeline.Recall.
type RecallOptions struct {
	Collection string
	TopK       int
	Filters    Filters
	TimeoutMS  int64
}
