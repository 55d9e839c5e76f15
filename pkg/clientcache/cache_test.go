package clientcache

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func withNow(t *testing.T, now *time.Time) {
	t.Helper()
	timeNowFunc = func() time.Time { return *now }
	t.Cleanup(func() { timeNowFunc = time.Now })
}

func newMemoryCache(t *testing.T) (*Cache, *MemoryStore) {
	t.Helper()
	store, err := NewMemoryStore(16)
	require.NoError(t, err)
	return New(store), store
}

func TestCache_ShouldServeFreshEntry(t *testing.T) {
	// given
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	withNow(t, &now)
	cache, _ := newMemoryCache(t)
	require.NoError(t, cache.Put("u1", "full", []byte("png"), "https://castmedia.test/avatar/u1"))

	// when
	now = now.Add(23 * time.Hour)
	blob, ok := cache.Get("u1", "full")

	// then
	assert.True(t, ok)
	assert.Equal(t, []byte("png"), blob)
}

func TestCache_ShouldDeleteExpiredEntryOnRead(t *testing.T) {
	// given
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	withNow(t, &now)
	cache, store := newMemoryCache(t)
	require.NoError(t, cache.Put("u1", "full", []byte("png"), ""))

	// when
	now = now.Add(24 * time.Hour)
	_, ok := cache.Get("u1", "full")

	// then
	assert.False(t, ok)
	assert.Equal(t, 0, store.Len())
}

func TestCache_ShouldKeepOneEntryPerVariant(t *testing.T) {
	cache, store := newMemoryCache(t)

	require.NoError(t, cache.Put("u1", "full", []byte("old"), ""))
	require.NoError(t, cache.Put("u1", "full", []byte("new"), ""))
	require.NoError(t, cache.Put("u1", "thumb", []byte("small"), ""))

	full, _ := cache.Get("u1", "full")
	thumb, _ := cache.Get("u1", "thumb")
	assert.Equal(t, []byte("new"), full)
	assert.Equal(t, []byte("small"), thumb)
	assert.Equal(t, 2, store.Len())
}

func TestCache_ShouldRejectEmptyKey(t *testing.T) {
	cache, _ := newMemoryCache(t)

	assert.ErrorIs(t, cache.Put("", "full", []byte("x"), ""), ErrEmptyKey)
	_, ok := cache.Get("u1", "")
	assert.False(t, ok)
}

func TestDirStore_ShouldPersistAcrossInstances(t *testing.T) {
	// given
	dir := t.TempDir()
	first, err := NewDirStore(dir)
	require.NoError(t, err)
	require.NoError(t, New(first).Put("u1", "full", []byte{0x89, 'P', 'N', 'G'}, "https://castmedia.test/avatar/u1"))

	// when
	second, err := NewDirStore(dir)
	require.NoError(t, err)
	blob, ok := New(second).Get("u1", "full")

	// then
	assert.True(t, ok)
	assert.Equal(t, []byte{0x89, 'P', 'N', 'G'}, blob)
}

func TestDirStore_ShouldRemoveExpiredFile(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	withNow(t, &now)
	dir := t.TempDir()
	store, err := NewDirStore(dir)
	require.NoError(t, err)
	cache := New(store)
	require.NoError(t, cache.Put("u1", "full", []byte("png"), ""))

	now = now.Add(25 * time.Hour)
	_, ok := cache.Get("u1", "full")

	assert.False(t, ok)
	files, err := filepath.Glob(filepath.Join(dir, "*.json"))
	require.NoError(t, err)
	assert.Empty(t, files)
}

func TestDirStore_ShouldTreatCorruptEntryAsMiss(t *testing.T) {
	dir := t.TempDir()
	store, err := NewDirStore(dir)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(store.path(key("u1", "full")), []byte("{not json"), 0o600))

	_, ok := New(store).Get("u1", "full")

	assert.False(t, ok)
}
