// Package config loads the nested engine configuration: system config file,
// then user config file, then environment variable overrides — in that
// order, each layer overriding the last.
//
// Grounded on original_source/memento/config.py's MementoConfig dataclass
// (nested StorageConfig/EmbedConfig/SearchConfig, DEFAULT_HOME,
// SYSTEM_CONFIG_PATH, the system->user->env load order) for the *shape* of
// the config, and on the teacher's internal/config/config.go for the
// *mechanics* (envStr/envInt/envFloat/envBool helpers, a validate() method
// returning a typed error). gopkg.in/yaml.v3 parses the on-disk file (spec
// §6 names config.<ext> as YAML).
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/openclaw/memento/internal/memerr"
)

// DefaultHome is the default persisted-state directory (spec §6).
func DefaultHome() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, ".openclaw", "memento")
}

// SystemConfigPath is checked before the user config file.
const SystemConfigPath = "/etc/memento/config.yaml"

// StorageConfig groups the storage.* keys. The backup settings are the flat
// keys storage.backup_enabled and storage.backup_retain; there is no nested
// storage.backup section.
type StorageConfig struct {
	DBPath        string `yaml:"db_path"`
	BackupEnabled bool   `yaml:"backup_enabled"`
	BackupRetain  int    `yaml:"backup_retain"`
}

// EmbedConfig groups the embedding.* keys. The cache settings live here as
// embedding.cache_lru_size and embedding.cache_bypass; there is no top-level
// cache section.
type EmbedConfig struct {
	ModelPath       string `yaml:"model_path"`
	TokenizerPath   string `yaml:"tokenizer_path"`
	IdleTimeoutMS   int64  `yaml:"idle_timeout_ms"`
	WarmupTimeoutMS int64  `yaml:"warmup_timeout_ms"`
	CacheLRUSize    int    `yaml:"cache_lru_size"`
	CacheBypass     bool   `yaml:"cache_bypass"`
	AllowFallback   bool   `yaml:"allow_fallback"`
}

// QueryConfig groups the query.* keys.
type QueryConfig struct {
	DefaultTimeoutMS int64 `yaml:"default_timeout_ms"`
	FilterExpansion  int   `yaml:"filter_expansion"`
}

// Config is the top-level nested configuration (spec §6).
type Config struct {
	Storage  StorageConfig `yaml:"storage"`
	Embed    EmbedConfig   `yaml:"embedding"`
	Query    QueryConfig   `yaml:"query"`
	LogLevel string        `yaml:"log_level"`
}

func defaults() *Config {
	home := DefaultHome()
	return &Config{
		Storage: StorageConfig{
			DBPath:        filepath.Join(home, "memory.db"),
			BackupEnabled: true,
			BackupRetain:  7,
		},
		Embed: EmbedConfig{
			IdleTimeoutMS:   1_800_000,
			WarmupTimeoutMS: 30_000,
			CacheLRUSize:    1000,
			CacheBypass:     false,
			AllowFallback:   false,
		},
		Query: QueryConfig{
			DefaultTimeoutMS: 5000,
			FilterExpansion:  3,
		},
		LogLevel: "info",
	}
}

// Load builds a Config from system config -> user config -> environment
// variable overrides, validating the merged result.
func Load() (*Config, error) {
	cfg := defaults()

	if err := mergeFile(cfg, SystemConfigPath); err != nil {
		return nil, err
	}
	if err := mergeFile(cfg, filepath.Join(DefaultHome(), "config.yaml")); err != nil {
		return nil, err
	}
	applyEnvOverrides(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func mergeFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return memerr.Wrap(memerr.KindStorageIO, "reading config file "+path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return memerr.Wrap(memerr.KindValidation, "parsing config file "+path, err)
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	cfg.Storage.DBPath = envStr("MEMENTO_STORAGE_DB_PATH", cfg.Storage.DBPath)
	cfg.Storage.BackupEnabled = envBool("MEMENTO_STORAGE_BACKUP_ENABLED", cfg.Storage.BackupEnabled)
	cfg.Storage.BackupRetain = envInt("MEMENTO_STORAGE_BACKUP_RETAIN", cfg.Storage.BackupRetain)

	cfg.Embed.ModelPath = envStr("MEMENTO_EMBEDDING_MODEL_PATH", cfg.Embed.ModelPath)
	cfg.Embed.TokenizerPath = envStr("MEMENTO_EMBEDDING_TOKENIZER_PATH", cfg.Embed.TokenizerPath)
	cfg.Embed.IdleTimeoutMS = envInt64("MEMENTO_EMBEDDING_IDLE_TIMEOUT_MS", cfg.Embed.IdleTimeoutMS)
	cfg.Embed.WarmupTimeoutMS = envInt64("MEMENTO_EMBEDDING_WARMUP_TIMEOUT_MS", cfg.Embed.WarmupTimeoutMS)
	cfg.Embed.CacheLRUSize = envInt("MEMENTO_CACHE_LRU_SIZE", cfg.Embed.CacheLRUSize)
	cfg.Embed.CacheBypass = envBool("MEMENTO_CACHE_BYPASS", cfg.Embed.CacheBypass)
	cfg.Embed.AllowFallback = envBool("MEMENTO_EMBEDDING_ALLOW_FALLBACK", cfg.Embed.AllowFallback)

	cfg.Query.DefaultTimeoutMS = envInt64("MEMENTO_QUERY_DEFAULT_TIMEOUT_MS", cfg.Query.DefaultTimeoutMS)
	cfg.Query.FilterExpansion = envInt("MEMENTO_QUERY_FILTER_EXPANSION", cfg.Query.FilterExpansion)

	cfg.LogLevel = envStr("MEMENTO_LOG_LEVEL", cfg.LogLevel)
}

func (c *Config) validate() error {
	if c.Storage.DBPath == "" {
		return memerr.New(memerr.KindValidation, "storage.db_path must not be empty")
	}
	if c.Storage.BackupRetain < 0 {
		return memerr.New(memerr.KindValidation, "storage.backup_retain must not be negative")
	}
	if c.Embed.CacheLRUSize <= 0 {
		return memerr.New(memerr.KindValidation, "embedding.cache_lru_size must be positive")
	}
	if c.Query.FilterExpansion <= 0 || c.Query.FilterExpansion > 10 {
		return memerr.New(memerr.KindValidation, "query.filter_expansion must be in (0,10]")
	}
	return nil
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func envInt64(key string, fallback int64) int64 {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.ParseInt(v, 10, 64); err == nil {
			return i
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

// String renders the config for diagnostics logging.
func (c *Config) String() string {
	return fmt.Sprintf("Config{db=%s, idle_timeout=%dms, lru=%d, timeout=%dms}",
		c.Storage.DBPath, c.Embed.IdleTimeoutMS, c.Embed.CacheLRUSize, c.Query.DefaultTimeoutMS)
}
