package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	defaultCacheTTL         = 30 * time.Minute
	defaultCacheMaxSize     = 10000
	defaultPersistDelay     = time.Second
	defaultStorageTTL       = 7 * 24 * time.Hour
	defaultSweepProbability = 0.01
	defaultPreviewLength    = 200
	defaultContextMessages  = 10
)

// HistoryConfig configures the session history cache and debounced persistence.
// Durations are Go duration strings ("30m", "1s", "168h").
type HistoryConfig struct {
	// CacheTTL is the idle window after which a cached transcript is dropped. Default 30m.
	CacheTTL string `yaml:"cache-ttl,omitempty" json:"cache-ttl,omitempty"`

	// CacheMaxSize bounds the number of cached transcripts; the least recently used
	// entry is evicted first. Default 10000, 0 or less keeps the default.
	CacheMaxSize *int `yaml:"cache-max-size,omitempty" json:"cache-max-size,omitempty"`

	// PersistDelay is the debounce delay before a durable write. Default 1s.
	PersistDelay string `yaml:"persist-delay,omitempty" json:"persist-delay,omitempty"`

	// StorageTTL is the durable record expiry. Default 168h.
	StorageTTL string `yaml:"storage-ttl,omitempty" json:"storage-ttl,omitempty"`

	// SweepProbability is the chance a lookup also sweeps expired cache entries. Default 0.01.
	SweepProbability *float64 `yaml:"sweep-probability,omitempty" json:"sweep-probability,omitempty"`

	// PreviewLength truncates each summarized message. Default 200.
	PreviewLength *int `yaml:"preview-length,omitempty" json:"preview-length,omitempty"`

	// ContextMessages is how many recent messages are summarized upstream. Default 10.
	ContextMessages *int `yaml:"context-messages,omitempty" json:"context-messages,omitempty"`
}

func parseDurationOr(raw string, fallback time.Duration) time.Duration {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fallback
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// GetCacheTTL returns the cache idle TTL.
func (h *HistoryConfig) GetCacheTTL() time.Duration {
	if h == nil {
		return defaultCacheTTL
	}
	return parseDurationOr(h.CacheTTL, defaultCacheTTL)
}

// GetCacheMaxSize returns the cache entry bound.
func (h *HistoryConfig) GetCacheMaxSize() int {
	if h == nil || h.CacheMaxSize == nil || *h.CacheMaxSize <= 0 {
		return defaultCacheMaxSize
	}
	return *h.CacheMaxSize
}

// GetPersistDelay returns the write-behind debounce delay.
func (h *HistoryConfig) GetPersistDelay() time.Duration {
	if h == nil {
		return defaultPersistDelay
	}
	return parseDurationOr(h.PersistDelay, defaultPersistDelay)
}

// GetStorageTTL returns the durable record expiry.
func (h *HistoryConfig) GetStorageTTL() time.Duration {
	if h == nil {
		return defaultStorageTTL
	}
	return parseDurationOr(h.StorageTTL, defaultStorageTTL)
}

// GetSweepProbability returns the sampled sweep probability.
func (h *HistoryConfig) GetSweepProbability() float64 {
	if h == nil || h.SweepProbability == nil {
		return defaultSweepProbability
	}
	return *h.SweepProbability
}

// GetPreviewLength returns the per-message preview cap.
func (h *HistoryConfig) GetPreviewLength() int {
	if h == nil || h.PreviewLength == nil || *h.PreviewLength <= 0 {
		return defaultPreviewLength
	}
	return *h.PreviewLength
}

// GetContextMessages returns how many recent messages are summarized.
func (h *HistoryConfig) GetContextMessages() int {
	if h == nil || h.ContextMessages == nil || *h.ContextMessages <= 0 {
		return defaultContextMessages
	}
	return *h.ContextMessages
}

func (h *HistoryConfig) durationWarnings() []string {
	var out []string
	check := func(key, raw string) {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			return
		}
		if d, err := time.ParseDuration(raw); err != nil || d <= 0 {
			out = append(out, fmt.Sprintf("history.%s %q is not a positive duration; using default", key, raw))
		}
	}
	check("cache-ttl", h.CacheTTL)
	check("persist-delay", h.PersistDelay)
	check("storage-ttl", h.StorageTTL)
	return out
}

const (
	StorageMemory      = "memory"
	StorageFile        = "file"
	StorageRedis       = "redis"
	StorageSQLite      = "sqlite"
	StoragePostgres    = "postgres"
	StorageObjectStore = "objectstore"
)

// StorageConfig selects the durable key-value backend for transcripts.
type StorageConfig struct {
	// Driver is one of memory (default), file, redis, sqlite, postgres, objectstore.
	Driver string `yaml:"driver,omitempty" json:"driver,omitempty"`

	File        FileStorageConfig        `yaml:"file,omitempty" json:"file,omitempty"`
	Redis       RedisStorageConfig       `yaml:"redis,omitempty" json:"redis,omitempty"`
	SQLite      SQLiteStorageConfig      `yaml:"sqlite,omitempty" json:"sqlite,omitempty"`
	Postgres    PostgresStorageConfig    `yaml:"postgres,omitempty" json:"postgres,omitempty"`
	ObjectStore ObjectStoreStorageConfig `yaml:"objectstore,omitempty" json:"objectstore,omitempty"`
}

// FileStorageConfig stores one JSON file per key.
type FileStorageConfig struct {
	Dir string `yaml:"dir,omitempty" json:"dir,omitempty"`
}

// RedisStorageConfig configures the redis driver.
type RedisStorageConfig struct {
	Addr      string `yaml:"addr,omitempty" json:"addr,omitempty"`
	Password  string `yaml:"password,omitempty" json:"-"`
	DB        int    `yaml:"db,omitempty" json:"db,omitempty"`
	KeyPrefix string `yaml:"key-prefix,omitempty" json:"key-prefix,omitempty"`
}

// SQLiteStorageConfig configures the embedded sqlite driver.
type SQLiteStorageConfig struct {
	Path string `yaml:"path,omitempty" json:"path,omitempty"`
}

// PostgresStorageConfig configures the postgres driver.
type PostgresStorageConfig struct {
	DSN string `yaml:"dsn,omitempty" json:"-"`
}

// ObjectStoreStorageConfig configures an S3-compatible bucket.
type ObjectStoreStorageConfig struct {
	Endpoint  string `yaml:"endpoint,omitempty" json:"endpoint,omitempty"`
	AccessKey string `yaml:"access-key,omitempty" json:"-"`
	SecretKey string `yaml:"secret-key,omitempty" json:"-"`
	Bucket    string `yaml:"bucket,omitempty" json:"bucket,omitempty"`
	Region    string `yaml:"region,omitempty" json:"region,omitempty"`
	UseSSL    bool   `yaml:"use-ssl" json:"use-ssl"`
}

// GetDriver returns the normalized driver name, defaulting to memory.
func (s *StorageConfig) GetDriver() string {
	if s == nil || strings.TrimSpace(s.Driver) == "" {
		return StorageMemory
	}
	return strings.ToLower(strings.TrimSpace(s.Driver))
}

// GetFileDir returns the file driver directory, defaulting to "data/history".
func (s *StorageConfig) GetFileDir() string {
	if s == nil || strings.TrimSpace(s.File.Dir) == "" {
		return "data/history"
	}
	return s.File.Dir
}

// GetSQLitePath returns the sqlite database path, defaulting to "data/history.db".
func (s *StorageConfig) GetSQLitePath() string {
	if s == nil || strings.TrimSpace(s.SQLite.Path) == "" {
		return "data/history.db"
	}
	return s.SQLite.Path
}

func (s *StorageConfig) validate() error {
	switch s.GetDriver() {
	case StorageMemory, StorageFile, StorageSQLite:
		return nil
	case StorageRedis:
		if strings.TrimSpace(s.Redis.Addr) == "" {
			return errors.New("storage.redis.addr is required for the redis driver")
		}
	case StoragePostgres:
		if strings.TrimSpace(s.Postgres.DSN) == "" {
			return errors.New("storage.postgres.dsn is required for the postgres driver")
		}
	case StorageObjectStore:
		if strings.TrimSpace(s.ObjectStore.Endpoint) == "" || strings.TrimSpace(s.ObjectStore.Bucket) == "" {
			return errors.New("storage.objectstore.endpoint and bucket are required for the objectstore driver")
		}
	default:
		return fmt.Errorf("unsupported storage.driver %q", s.Driver)
	}
	return nil
}
