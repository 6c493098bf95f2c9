package local_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/docverify/internal/cache"
	"github.com/JakeFAU/docverify/internal/document"
	"github.com/JakeFAU/docverify/internal/storage/local"
)

func TestNew(t *testing.T) {
	t.Run("ValidConfig", func(t *testing.T) {
		store, err := local.New(local.Config{BaseDir: t.TempDir()})
		require.NoError(t, err)
		assert.NotNil(t, store)
	})

	t.Run("CreatesMissingDir", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "nested", "cache")
		_, err := local.New(local.Config{BaseDir: dir})
		require.NoError(t, err)
		info, err := os.Stat(dir)
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	})

	t.Run("MissingBaseDir", func(t *testing.T) {
		_, err := local.New(local.Config{})
		assert.Error(t, err)
	})

	t.Run("BaseDirIsNotADirectory", func(t *testing.T) {
		file := filepath.Join(t.TempDir(), "file")
		require.NoError(t, os.WriteFile(file, []byte("x"), 0o600))
		_, err := local.New(local.Config{BaseDir: file})
		assert.Error(t, err)
	})
}

func TestRoundTrip(t *testing.T) {
	ctx := context.Background()
	store, err := local.New(local.Config{BaseDir: t.TempDir()})
	require.NoError(t, err)

	fetched := time.Date(2025, 2, 3, 4, 5, 6, 0, time.UTC)
	key := document.NewCacheKey("Sheet 1", 4, "https://example.com/a.pdf").String()
	in := document.CachedBlob{
		Key:            key,
		Bytes:          []byte("%PDF-1.4 body"),
		SourceURL:      "https://example.com/a.pdf",
		SizeBytes:      13,
		ContentType:    "application/pdf",
		FetchedAt:      fetched,
		LastAccessedAt: fetched,
	}
	require.NoError(t, store.Put(ctx, in))

	out, err := store.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, in, out)

	touched := fetched.Add(time.Hour)
	require.NoError(t, store.Touch(ctx, key, touched))
	metas, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, metas, 1)
	assert.Equal(t, touched, metas[0].LastAccessedAt)
	assert.Equal(t, key, metas[0].Key)

	require.NoError(t, store.Delete(ctx, key))
	require.ErrorIs(t, store.Delete(ctx, key), document.ErrNotFound)
	_, err = store.Get(ctx, key)
	require.ErrorIs(t, err, document.ErrNotFound)
	require.ErrorIs(t, store.Touch(ctx, key, touched), document.ErrNotFound)
}

func TestCacheSurvivesRestart(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	store, err := local.New(local.Config{BaseDir: dir})
	require.NoError(t, err)
	c, err := cache.New(store, cache.Options{MaxBytes: 1024})
	require.NoError(t, err)
	require.NoError(t, c.Put(ctx, document.CachedBlob{Key: "k", Bytes: []byte("payload")}))

	reopened, err := local.New(local.Config{BaseDir: dir})
	require.NoError(t, err)
	c2, err := cache.New(reopened, cache.Options{MaxBytes: 1024})
	require.NoError(t, err)

	stats, err := c2.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Count)
	assert.Equal(t, int64(7), stats.TotalBytes)

	got, err := c2.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "payload", string(got.Bytes))
}
