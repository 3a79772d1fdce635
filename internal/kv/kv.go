// Package kv provides the durable key-value backends that hold session transcripts.
// Every driver honours a per-key expiry: an expired key reads as ErrNotFound.
package kv

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/router-for-me/chatrelay/internal/config"
)

// ErrNotFound is returned by Get when the key is absent or expired.
var ErrNotFound = errors.New("kv: key not found")

// Store is a string-keyed byte store with per-key expiry.
type Store interface {
	// Get returns the stored value or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)
	// Put stores value under key. A non-positive ttl stores without expiry.
	Put(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
	// Ping checks that the backend is reachable.
	Ping(ctx context.Context) error
	// Close releases backend resources.
	Close() error
}

// Sweeper is implemented by drivers that keep expired rows until purged.
type Sweeper interface {
	PurgeExpired(ctx context.Context) (int, error)
}

// Open builds the store selected by cfg.
func Open(ctx context.Context, cfg config.StorageConfig) (Store, error) {
	switch driver := cfg.GetDriver(); driver {
	case config.StorageMemory:
		return NewMemoryStore(), nil
	case config.StorageFile:
		return NewFileStore(cfg.GetFileDir())
	case config.StorageRedis:
		return NewRedisStore(ctx, cfg.Redis)
	case config.StorageSQLite:
		return OpenSQLite(ctx, cfg.GetSQLitePath())
	case config.StoragePostgres:
		return OpenPostgres(ctx, cfg.Postgres.DSN)
	case config.StorageObjectStore:
		return NewObjectStore(ctx, cfg.ObjectStore)
	default:
		return nil, fmt.Errorf("kv: unsupported driver %q", driver)
	}
}

// expiryFor converts a ttl into an absolute deadline; zero means no expiry.
func expiryFor(now time.Time, ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return now.Add(ttl)
}

func isExpired(now, expiresAt time.Time) bool {
	return !expiresAt.IsZero() && !now.Before(expiresAt)
}
