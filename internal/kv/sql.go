package kv

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	log "github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"
)

//go:embed migrations
var migrationsFS embed.FS

// SQLStore keeps values in a kv_entries table on sqlite or postgres.
// Expired rows read as absent and are removed by PurgeExpired.
type SQLStore struct {
	db        *sql.DB
	dialect   goose.Dialect
	closeFunc func() error
	now       func() time.Time
}

// OpenSQLite opens (or creates) a sqlite database file and applies migrations.
func OpenSQLite(ctx context.Context, path string) (*SQLStore, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("kv: create sqlite directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("kv: open sqlite: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("kv: ping sqlite: %w", err)
	}
	store := &SQLStore{db: db, dialect: goose.DialectSQLite3, closeFunc: db.Close, now: time.Now}
	if err := store.migrate(ctx, "sqlite"); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// OpenPostgres connects through a pgx pool and applies migrations.
func OpenPostgres(ctx context.Context, dsn string) (*SQLStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("kv: create postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("kv: ping postgres: %w", err)
	}
	db := stdlib.OpenDBFromPool(pool)
	store := &SQLStore{
		db:      db,
		dialect: goose.DialectPostgres,
		closeFunc: func() error {
			errClose := db.Close()
			pool.Close()
			return errClose
		},
		now: time.Now,
	}
	if err := store.migrate(ctx, "postgres"); err != nil {
		_ = store.Close()
		return nil, err
	}
	return store, nil
}

func (s *SQLStore) migrate(ctx context.Context, dir string) error {
	sub, err := fs.Sub(migrationsFS, "migrations/"+dir)
	if err != nil {
		return fmt.Errorf("kv: load migrations: %w", err)
	}
	provider, err := goose.NewProvider(s.dialect, s.db, sub)
	if err != nil {
		return fmt.Errorf("kv: init migrations: %w", err)
	}
	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("kv: apply migrations: %w", err)
	}
	for _, r := range results {
		if r.Source != nil {
			log.Infof("kv: applied migration %s in %s", filepath.Base(r.Source.Path), r.Duration)
		}
	}
	return nil
}

// SetClock overrides the time source. Intended for tests.
func (s *SQLStore) SetClock(now func() time.Time) { s.now = now }

// Get implements Store.
func (s *SQLStore) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	var expiresAt sql.NullInt64
	err := s.db.QueryRowContext(ctx, s.rebind(`SELECT value, expires_at FROM kv_entries WHERE key = ?`), key).
		Scan(&value, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if expiresAt.Valid && isExpired(s.now(), time.UnixMilli(expiresAt.Int64)) {
		return nil, ErrNotFound
	}
	return value, nil
}

// Put implements Store.
func (s *SQLStore) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	now := s.now()
	var expiresAt sql.NullInt64
	if deadline := expiryFor(now, ttl); !deadline.IsZero() {
		expiresAt = sql.NullInt64{Int64: deadline.UnixMilli(), Valid: true}
	}
	_, err := s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO kv_entries (key, value, expires_at, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT (key) DO UPDATE SET
			value = excluded.value,
			expires_at = excluded.expires_at,
			updated_at = excluded.updated_at`),
		key, value, expiresAt, now.UnixMilli())
	return err
}

// Delete implements Store.
func (s *SQLStore) Delete(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, s.rebind(`DELETE FROM kv_entries WHERE key = ?`), key)
	return err
}

// Ping implements Store.
func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close implements Store.
func (s *SQLStore) Close() error {
	return s.closeFunc()
}

// PurgeExpired implements Sweeper.
func (s *SQLStore) PurgeExpired(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx,
		s.rebind(`DELETE FROM kv_entries WHERE expires_at IS NOT NULL AND expires_at <= ?`),
		s.now().UnixMilli())
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

// rebind rewrites ? placeholders to $n for postgres.
func (s *SQLStore) rebind(query string) string {
	if s.dialect != goose.DialectPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
