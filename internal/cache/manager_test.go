package cache

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	dir := t.TempDir()
	db, err := NewDB(Config{
		Path:         filepath.Join(dir, "cache.db"),
		MaxOpenConns: 5,
		MaxIdleConns: 2,
	})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	m, err := NewManager(db, filepath.Join(dir, "cache"), filepath.Join(dir, "permanent"), nil)
	require.NoError(t, err)
	return m
}

func writeTempFile(t *testing.T, dir, contents string) string {
	t.Helper()
	f, err := os.CreateTemp(dir, "incoming-*.bin")
	require.NoError(t, err)
	_, err = f.WriteString(contents)
	require.NoError(t, err)
	require.NoError(t, f.Close())
	return f.Name()
}

func TestStoreThenIsAvailableAndFileURL(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	tmp := writeTempFile(t, t.TempDir(), "hello")
	lf, err := m.Store(ctx, "r1", Mirror{ID: "m1", Location: "https://example.com/a.bin"}, tmp, StoreOptions{StorageClass: StorageCached})
	require.NoError(t, err)
	assert.Equal(t, StorageCached, lf.StorageClass)

	assert.True(t, m.IsAvailable(ctx, "r1"))
	url, ok := m.FileURL(ctx, "r1")
	require.True(t, ok)
	assert.Equal(t, lf.LocalPath, url)

	contents, err := os.ReadFile(url)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(contents))
}

func TestIsAvailableFalseForUnknownResource(t *testing.T) {
	m := newTestManager(t)
	assert.False(t, m.IsAvailable(context.Background(), "missing"))
}

func TestStoreReplacesPriorFileAtNewPath(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	src := t.TempDir()

	tmp1 := writeTempFile(t, src, "first")
	first, err := m.Store(ctx, "r1", Mirror{ID: "m1", Location: "a.bin"}, tmp1, StoreOptions{StorageClass: StorageCached})
	require.NoError(t, err)

	tmp2 := writeTempFile(t, src, "second")
	second, err := m.Store(ctx, "r1", Mirror{ID: "m2", Location: "a.bin"}, tmp2, StoreOptions{StorageClass: StorageCached})
	require.NoError(t, err)

	assert.NotEqual(t, first.LocalPath, second.LocalPath)
	_, statErr := os.Stat(first.LocalPath)
	assert.True(t, os.IsNotExist(statErr))

	url, ok := m.FileURL(ctx, "r1")
	require.True(t, ok)
	assert.Equal(t, second.LocalPath, url)
}

func TestUpdateStorageMovesToPermanentAndSkipsAlreadyThere(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	src := t.TempDir()

	tmp := writeTempFile(t, src, "data")
	lf, err := m.Store(ctx, "r1", Mirror{ID: "m1", Location: "a.bin"}, tmp, StoreOptions{StorageClass: StorageCached})
	require.NoError(t, err)
	assert.Contains(t, lf.LocalPath, "cache")

	moved, err := m.UpdateStorage(ctx, []string{"r1", "r2"}, StoragePermanent)
	require.NoError(t, err)
	assert.Equal(t, []string{"r1"}, moved)

	class, ok := m.StorageClassOf(ctx, "r1")
	require.True(t, ok)
	assert.Equal(t, StoragePermanent, class)

	url, _ := m.FileURL(ctx, "r1")
	assert.Contains(t, url, "permanent")

	movedAgain, err := m.UpdateStorage(ctx, []string{"r1"}, StoragePermanent)
	require.NoError(t, err)
	assert.Empty(t, movedAgain)
}

func TestDownloadsFromReturnsOnlyMissing(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	src := t.TempDir()

	tmp := writeTempFile(t, src, "data")
	_, err := m.Store(ctx, "r1", Mirror{ID: "m1", Location: "a.bin"}, tmp, StoreOptions{StorageClass: StorageCached})
	require.NoError(t, err)

	missing := m.DownloadsFrom(ctx, []string{"r1", "r2", "r3"})
	assert.ElementsMatch(t, []string{"r2", "r3"}, missing)
}

func TestCleanupRemovesUnexcludedRecordsAndFiles(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	src := t.TempDir()

	for _, id := range []string{"r1", "r2"} {
		tmp := writeTempFile(t, src, id)
		_, err := m.Store(ctx, id, Mirror{ID: "m1", Location: "a.bin"}, tmp, StoreOptions{StorageClass: StorageCached})
		require.NoError(t, err)
	}

	err := m.Cleanup(ctx, map[string]bool{"r1": true})
	require.NoError(t, err)

	assert.True(t, m.IsAvailable(ctx, "r1"))
	assert.False(t, m.IsAvailable(ctx, "r2"))
}

func TestResetRemovesEverything(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	src := t.TempDir()

	tmp := writeTempFile(t, src, "data")
	_, err := m.Store(ctx, "r1", Mirror{ID: "m1", Location: "a.bin"}, tmp, StoreOptions{StorageClass: StorageCached})
	require.NoError(t, err)

	require.NoError(t, m.Reset(ctx))
	assert.False(t, m.IsAvailable(ctx, "r1"))
}

func TestDominates(t *testing.T) {
	assert.True(t, Dominates(StoragePermanent, StorageCached))
	assert.True(t, Dominates(StorageCached, StorageCached))
	assert.False(t, Dominates(StorageCached, StoragePermanent))
}
