package diskcache

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestCache(t *testing.T, ttl time.Duration) *Cache {
	t.Helper()
	c, err := New(Config{Dir: t.TempDir(), TTL: ttl}, zap.NewNop())
	require.NoError(t, err)
	return c
}

func TestCacheRoundTrip(t *testing.T) {
	c := newTestCache(t, time.Hour)

	_, ok := c.Get("missing")
	assert.False(t, ok)

	require.NoError(t, c.Put("dandiset:000003", []byte(`{"name":"test"}`)))

	data, ok := c.Get("dandiset:000003")
	require.True(t, ok)
	assert.JSONEq(t, `{"name":"test"}`, string(data))
}

func TestCacheExpiry(t *testing.T) {
	c := newTestCache(t, time.Hour)
	require.NoError(t, c.Put("key", []byte(`{}`)))

	base := time.Now()
	c.WithClock(func() time.Time { return base.Add(30 * time.Minute) })
	_, ok := c.Get("key")
	assert.True(t, ok, "entry inside TTL should hit")

	c.WithClock(func() time.Time { return base.Add(2 * time.Hour) })
	_, ok = c.Get("key")
	assert.False(t, ok, "entry past TTL should miss")
}

func TestCacheOverwrite(t *testing.T) {
	c := newTestCache(t, time.Hour)
	require.NoError(t, c.Put("key", []byte(`"v1"`)))
	require.NoError(t, c.Put("key", []byte(`"v2"`)))

	data, ok := c.Get("key")
	require.True(t, ok)
	assert.Equal(t, `"v2"`, string(data))
}

func TestCacheKeysDoNotEscapeDirectory(t *testing.T) {
	dir := t.TempDir()
	c, err := New(Config{Dir: dir, TTL: time.Hour}, zap.NewNop())
	require.NoError(t, err)

	require.NoError(t, c.Put("../../etc/passwd", []byte(`{}`)))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, ".json", filepath.Ext(entries[0].Name()))
}

func TestCacheDelete(t *testing.T) {
	c := newTestCache(t, time.Hour)
	require.NoError(t, c.Put("key", []byte(`{}`)))
	require.NoError(t, c.Delete("key"))
	require.NoError(t, c.Delete("key"), "deleting a missing entry is not an error")

	_, ok := c.Get("key")
	assert.False(t, ok)
}

func TestCachePurge(t *testing.T) {
	c := newTestCache(t, time.Hour)
	require.NoError(t, c.Put("stale", []byte(`{}`)))
	require.NoError(t, c.Put("fresh", []byte(`{}`)))

	// Backdate one entry past the TTL.
	old := time.Now().Add(-2 * time.Hour)
	require.NoError(t, os.Chtimes(c.path("stale"), old, old))

	removed, err := c.Purge()
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	_, ok := c.Get("fresh")
	assert.True(t, ok)
	_, ok = c.Get("stale")
	assert.False(t, ok)
}

func TestNewValidation(t *testing.T) {
	_, err := New(Config{Dir: "", TTL: time.Hour}, zap.NewNop())
	assert.Error(t, err)

	_, err = New(Config{Dir: t.TempDir(), TTL: 0}, zap.NewNop())
	assert.Error(t, err)
}
