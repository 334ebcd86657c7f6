// Package diskcache provides a file-backed TTL cache for remote metadata
// documents. Entries are JSON payloads keyed by opaque strings; freshness is
// derived from file modification time so the cache survives process restarts
// without an index.
package diskcache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
)

// Clock abstracts time for freshness checks.
type Clock func() time.Time

// Cache is a TTL document cache rooted at a single directory.
type Cache struct {
	dir    string
	ttl    time.Duration
	now    Clock
	logger *zap.Logger
}

// Config holds cache settings.
type Config struct {
	Dir string
	TTL time.Duration
}

// New creates a cache rooted at cfg.Dir, creating the directory if needed.
func New(cfg Config, logger *zap.Logger) (*Cache, error) {
	if cfg.Dir == "" {
		return nil, fmt.Errorf("cache directory is required")
	}
	if cfg.TTL <= 0 {
		return nil, fmt.Errorf("cache TTL must be positive, got %s", cfg.TTL)
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory %s: %w", cfg.Dir, err)
	}
	return &Cache{
		dir:    cfg.Dir,
		ttl:    cfg.TTL,
		now:    time.Now,
		logger: logger.Named("diskcache"),
	}, nil
}

// WithClock overrides the cache's time source. Intended for tests.
func (c *Cache) WithClock(now Clock) *Cache {
	c.now = now
	return c
}

// path maps a key to a file path. Keys are hashed so arbitrary strings
// (URLs, ids with slashes) never escape the cache directory.
func (c *Cache) path(key string) string {
	sum := sha256.Sum256([]byte(key))
	return filepath.Join(c.dir, hex.EncodeToString(sum[:])+".json")
}

// Get returns the cached payload for key if present and fresh. The second
// return value reports a usable hit; stale or missing entries return false.
func (c *Cache) Get(key string) ([]byte, bool) {
	p := c.path(key)
	info, err := os.Stat(p)
	if err != nil {
		return nil, false
	}
	if c.now().Sub(info.ModTime()) > c.ttl {
		c.logger.Debug("cache entry expired", zap.String("key", key))
		return nil, false
	}
	data, err := os.ReadFile(p)
	if err != nil {
		c.logger.Warn("failed to read cache entry", zap.String("key", key), zap.Error(err))
		return nil, false
	}
	return data, true
}

// Put stores a payload under key. The write goes to a temp file in the same
// directory and is renamed into place so readers never observe a partial
// entry.
func (c *Cache) Put(key string, data []byte) error {
	tmp, err := os.CreateTemp(c.dir, "put-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp cache file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write cache entry: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close cache entry: %w", err)
	}
	if err := os.Rename(tmpName, c.path(key)); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to publish cache entry: %w", err)
	}
	return nil
}

// Delete removes the entry for key. Missing entries are not an error.
func (c *Cache) Delete(key string) error {
	if err := os.Remove(c.path(key)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete cache entry: %w", err)
	}
	return nil
}

// Purge removes every expired entry and returns the count removed. Entries
// that cannot be statted or removed are skipped with a warning.
func (c *Cache) Purge() (int, error) {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return 0, fmt.Errorf("failed to list cache directory: %w", err)
	}
	removed := 0
	cutoff := c.now().Add(-c.ttl)
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(c.dir, e.Name())); err != nil {
			c.logger.Warn("failed to purge cache entry", zap.String("file", e.Name()), zap.Error(err))
			continue
		}
		removed++
	}
	return removed, nil
}
