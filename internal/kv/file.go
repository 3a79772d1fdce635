package kv

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// FileStore writes one JSON document per key under BaseDir.
type FileStore struct {
	BaseDir string

	mu  sync.Mutex
	now func() time.Time
}

type fileRecord struct {
	Key       string    `json:"key"`
	Value     []byte    `json:"value"`
	ExpiresAt time.Time `json:"expiresAt,omitzero"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// NewFileStore creates the base directory and returns a store rooted there.
func NewFileStore(baseDir string) (*FileStore, error) {
	if strings.TrimSpace(baseDir) == "" {
		return nil, errors.New("kv: file store directory not configured")
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("kv: create file store directory: %w", err)
	}
	return &FileStore{BaseDir: baseDir, now: time.Now}, nil
}

// SetClock overrides the time source. Intended for tests.
func (s *FileStore) SetClock(now func() time.Time) { s.now = now }

// Get implements Store.
func (s *FileStore) Get(_ context.Context, key string) ([]byte, error) {
	rec, err := s.read(s.pathFor(key))
	if err != nil {
		return nil, err
	}
	if isExpired(s.now(), rec.ExpiresAt) {
		return nil, ErrNotFound
	}
	return rec.Value, nil
}

// Put implements Store. Writes go to a temp file then rename for atomicity.
func (s *FileStore) Put(_ context.Context, key string, value []byte, ttl time.Duration) error {
	now := s.now()
	data, err := json.Marshal(fileRecord{
		Key:       key,
		Value:     value,
		ExpiresAt: expiryFor(now, ttl),
		UpdatedAt: now,
	})
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.pathFor(key)
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	return nil
}

// Delete implements Store.
func (s *FileStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.Remove(s.pathFor(key)); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// Ping implements Store.
func (s *FileStore) Ping(context.Context) error {
	st, err := os.Stat(s.BaseDir)
	if err != nil {
		return err
	}
	if !st.IsDir() {
		return fmt.Errorf("kv: %s is not a directory", s.BaseDir)
	}
	return nil
}

// Close implements Store.
func (s *FileStore) Close() error { return nil }

// PurgeExpired implements Sweeper.
func (s *FileStore) PurgeExpired(ctx context.Context) (int, error) {
	paths, err := filepath.Glob(filepath.Join(s.BaseDir, "*.json"))
	if err != nil {
		return 0, err
	}
	now := s.now()
	purged := 0
	for _, path := range paths {
		if ctx.Err() != nil {
			return purged, ctx.Err()
		}
		rec, errRead := s.read(path)
		if errRead != nil {
			if !errors.Is(errRead, ErrNotFound) {
				log.Debugf("kv file store: skip unreadable %s: %v", filepath.Base(path), errRead)
			}
			continue
		}
		if !isExpired(now, rec.ExpiresAt) {
			continue
		}
		s.mu.Lock()
		errRemove := os.Remove(path)
		s.mu.Unlock()
		if errRemove == nil {
			purged++
		}
	}
	return purged, nil
}

func (s *FileStore) read(path string) (*fileRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	var rec fileRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("kv: decode %s: %w", filepath.Base(path), err)
	}
	return &rec, nil
}

func (s *FileStore) pathFor(key string) string {
	return filepath.Join(s.BaseDir, fileNameForKey(key)+".json")
}

// fileNameForKey keeps filesystem-safe characters. Keys that had to be rewritten
// get a short hash suffix so distinct keys never share a file.
func fileNameForKey(key string) string {
	var b strings.Builder
	b.Grow(len(key))
	for _, r := range key {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '_' || r == '-':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	out := b.String()
	if len(out) > 120 {
		out = out[:120]
	}
	if out == key {
		return out
	}
	sum := sha256.Sum256([]byte(key))
	return out + "-" + hex.EncodeToString(sum[:4])
}
