package storage_test

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AlaingToul/mybinder-arrete-secheresse/internal/config"
	"github.com/AlaingToul/mybinder-arrete-secheresse/internal/storage"
	"github.com/AlaingToul/mybinder-arrete-secheresse/internal/storage/memory"
)

func TestOpenMemoryWithPrefix(t *testing.T) {
	t.Parallel()

	store, closeFn, err := storage.Open(context.Background(), config.StorageConfig{Backend: "memory", Prefix: "/secheresse/"})
	require.NoError(t, err)
	defer func() { require.NoError(t, closeFn()) }()

	uri, err := store.PutObject(context.Background(), "raw/zones.geojson", "application/geo+json", strings.NewReader("{}"))
	require.NoError(t, err)
	assert.Equal(t, "memory://secheresse/raw/zones.geojson", uri)
}

func TestOpenLocal(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	store, closeFn, err := storage.Open(context.Background(), config.StorageConfig{Backend: "local", BaseDir: dir})
	require.NoError(t, err)
	defer func() { require.NoError(t, closeFn()) }()

	uri, err := store.PutObject(context.Background(), "exports/map.html", "text/html", strings.NewReader("<html></html>"))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(uri, "file://"+dir))
}

func TestOpenUnknownBackend(t *testing.T) {
	t.Parallel()

	_, closeFn, err := storage.Open(context.Background(), config.StorageConfig{Backend: "s3"})
	require.Error(t, err)
	require.NotNil(t, closeFn)
}

func TestWithPrefixEmptyReturnsStore(t *testing.T) {
	t.Parallel()

	base := memory.NewBlobStore()
	assert.Same(t, base, storage.WithPrefix(base, ""))
}
