package engine

import (
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/openclaw/memento/internal/config"
	"github.com/openclaw/memento/internal/embedcache"
	"github.com/openclaw/memento/internal/embedder"
	"github.com/openclaw/memento/internal/encoder"
	"github.com/openclaw/memento/internal/memerr"
	"github.com/openclaw/memento/internal/store"
)

// Bootstrap wires a full Engine from a loaded Config: the Store (opened with
// a nil rate limiter, so writes are not throttled), the persistent+LRU
// EmbedCache, the background-warming Embedder,
// and the VectorIndex rebuilt from what's on disk. Shared by
// cmd/memento-cli and cmd/memento-server so both thin collaborators
// construct the core identically (spec §6's public operations are
// transport-agnostic).
//
// On Storage{Corrupt} (spec §7/§8 scenario 5), Bootstrap still returns a
// usable *Engine alongside the error: the caller can inspect
// memerr.KindOf(err) and, if it's KindStorageCorrupt, call Engine.Recover
// before doing anything else instead of losing the handle entirely.
func Bootstrap(cfg *config.Config, logger *slog.Logger) (*Engine, error) {
	var limiter *rate.Limiter // nil: no throttle, spec §4.6 default

	s, openErr := store.Open(cfg.Storage.DBPath, limiter)
	if openErr != nil && s == nil {
		return nil, openErr
	}

	cache := embedcache.New(s, cfg.Embed.CacheLRUSize)

	factory := func() (encoder.Encoder, error) {
		return encoder.New(encoder.Config{
			ModelPath:     cfg.Embed.ModelPath,
			TokenizerPath: cfg.Embed.TokenizerPath,
		})
	}

	emb := embedder.New(factory, cache, embedder.Config{
		WarmupTimeout: time.Duration(cfg.Embed.WarmupTimeoutMS) * time.Millisecond,
		IdleTimeout:   time.Duration(cfg.Embed.IdleTimeoutMS) * time.Millisecond,
		AllowFallback: cfg.Embed.AllowFallback,
		Logger:        logger,
	})

	en, err := Open(s, emb)
	if err != nil {
		emb.Close()
		s.Close()
		return nil, err
	}
	if openErr != nil && memerr.KindOf(openErr) == memerr.KindStorageCorrupt {
		return en, openErr
	}
	return en, nil
}
