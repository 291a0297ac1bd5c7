// Package cache is an opt-in sqlite store for immutable on-chain lookups
// such as factory pool addresses and token metadata.
package cache

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gofrs/flock"
	_ "modernc.org/sqlite"
)

const DefaultTTL = 24 * time.Hour

type Store struct {
	db   *sql.DB
	lock *flock.Flock
	ttl  time.Duration
	now  func() time.Time
}

type Entry struct {
	Hit     bool
	Value   []byte
	Age     time.Duration
	Expired bool
}

func Open(path, lockPath string, ttl time.Duration) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create cache directory: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(lockPath), 0o755); err != nil {
		return nil, fmt.Errorf("create lock directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite cache: %w", err)
	}

	queries := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
		"CREATE TABLE IF NOT EXISTS lookups (key TEXT PRIMARY KEY, value BLOB NOT NULL, created_at INTEGER NOT NULL, ttl_seconds INTEGER NOT NULL);",
	}
	for _, query := range queries {
		if _, err := db.Exec(query); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("init cache schema: %w", err)
		}
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	store := &Store{db: db, lock: flock.New(lockPath), ttl: ttl, now: time.Now}
	_ = store.Prune(context.Background())
	return store, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Prune deletes expired entries.
func (s *Store) Prune(ctx context.Context) error {
	if s == nil || s.db == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx, "DELETE FROM lookups WHERE created_at + ttl_seconds < ?", s.now().UTC().Unix())
	if err != nil {
		return fmt.Errorf("prune cache: %w", err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, key string) (Entry, error) {
	var (
		value       []byte
		createdUnix int64
		ttlSeconds  int64
	)
	err := s.db.QueryRowContext(ctx, "SELECT value, created_at, ttl_seconds FROM lookups WHERE key = ?", key).Scan(&value, &createdUnix, &ttlSeconds)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Entry{}, nil
		}
		return Entry{}, fmt.Errorf("cache read: %w", err)
	}
	age := s.now().Sub(time.Unix(createdUnix, 0))
	if age < 0 {
		age = 0
	}
	return Entry{
		Hit:     true,
		Value:   value,
		Age:     age,
		Expired: age > time.Duration(ttlSeconds)*time.Second,
	}, nil
}

// Set writes an entry. Writers across processes are serialized by a file lock.
func (s *Store) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	locked, err := s.lock.TryLockContext(ctx, 50*time.Millisecond)
	if err != nil {
		return fmt.Errorf("lock cache: %w", err)
	}
	if !locked {
		return fmt.Errorf("lock cache: timeout acquiring lock")
	}
	defer func() { _ = s.lock.Unlock() }()

	if ttl <= 0 {
		ttl = s.ttl
	}
	ttlSeconds := int64(ttl.Seconds())
	if ttlSeconds <= 0 {
		ttlSeconds = 1
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO lookups (key, value, created_at, ttl_seconds)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			value=excluded.value,
			created_at=excluded.created_at,
			ttl_seconds=excluded.ttl_seconds
	`, key, value, s.now().UTC().Unix(), ttlSeconds)
	if err != nil {
		return fmt.Errorf("cache write: %w", err)
	}
	return nil
}

// Lookup decodes a live entry into dst and reports whether one was found.
func (s *Store) Lookup(ctx context.Context, key string, dst any) (bool, error) {
	if s == nil {
		return false, nil
	}
	entry, err := s.Get(ctx, key)
	if err != nil || !entry.Hit || entry.Expired {
		return false, err
	}
	if err := json.Unmarshal(entry.Value, dst); err != nil {
		return false, fmt.Errorf("decode cache entry %s: %w", key, err)
	}
	return true, nil
}

// Remember stores value as JSON under key with the store TTL.
func (s *Store) Remember(ctx context.Context, key string, value any) error {
	if s == nil {
		return nil
	}
	buf, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode cache entry %s: %w", key, err)
	}
	return s.Set(ctx, key, buf, s.ttl)
}

// PoolKey identifies a factory getPool lookup. Token order is preserved so
// the sorted and reversed queries are cached separately.
func PoolKey(chainID int64, factory, tokenA, tokenB common.Address, fee uint32) string {
	return strings.ToLower(fmt.Sprintf("pool:%d:%s:%s:%s:%d", chainID, factory.Hex(), tokenA.Hex(), tokenB.Hex(), fee))
}

func TokenKey(chainID int64, token common.Address) string {
	return strings.ToLower(fmt.Sprintf("token:%d:%s", chainID, token.Hex()))
}
