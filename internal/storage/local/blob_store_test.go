package local_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/sessioncrawler/internal/storage/local"
)

func newStore(t *testing.T) (*local.BlobStore, string) {
	t.Helper()
	dir := t.TempDir()
	store, err := local.New(local.Config{BaseDir: dir})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store, dir
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	// #nosec G304 -- test reads from its own temp directory.
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}

func TestNewValidatesBaseDir(t *testing.T) {
	t.Parallel()

	_, err := local.New(local.Config{BaseDir: " "})
	require.ErrorContains(t, err, "base directory is required")

	plain := filepath.Join(t.TempDir(), "plain")
	require.NoError(t, os.WriteFile(plain, []byte("x"), 0o600))
	_, err = local.New(local.Config{BaseDir: plain})
	require.Error(t, err)
}

func TestNewCreatesMissingDirAndLeavesNoProbe(t *testing.T) {
	t.Parallel()

	dir := filepath.Join(t.TempDir(), "nested", "archive")
	store, err := local.New(local.Config{BaseDir: dir})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestPutObjectWritesUnderSessionDir(t *testing.T) {
	t.Parallel()

	store, dir := newStore(t)
	uri, err := store.PutObject(context.Background(), "/results/sess-1/abc.html", "text/html", strings.NewReader("<p>hi</p>"))
	require.NoError(t, err)

	want := filepath.Join(dir, "results", "sess-1", "abc.html")
	assert.Equal(t, "file://"+want, uri)
	assert.Equal(t, "<p>hi</p>", readFile(t, want))

	entries, err := os.ReadDir(filepath.Dir(want))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temporary part files are renamed away")
}

func TestPutObjectReplacesExisting(t *testing.T) {
	t.Parallel()

	store, dir := newStore(t)
	ctx := context.Background()
	for _, body := range []string{"one", "two"} {
		_, err := store.PutObject(ctx, "same.txt", "", strings.NewReader(body))
		require.NoError(t, err)
	}
	assert.Equal(t, "two", readFile(t, filepath.Join(dir, "same.txt")))
}

func TestPutObjectRejectsBadPaths(t *testing.T) {
	t.Parallel()

	store, dir := newStore(t)
	ctx := context.Background()

	_, err := store.PutObject(ctx, "", "", strings.NewReader("x"))
	require.ErrorContains(t, err, "object path is required")

	_, err = store.PutObject(ctx, "../escape.txt", "", strings.NewReader("x"))
	require.Error(t, err)
	_, statErr := os.Stat(filepath.Join(filepath.Dir(dir), "escape.txt"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestPutObjectReaderFailureLeavesNothing(t *testing.T) {
	t.Parallel()

	store, dir := newStore(t)
	_, err := store.PutObject(context.Background(), "sess/broken.txt", "", failingReader{})
	require.ErrorContains(t, err, "read failed")

	entries, err := os.ReadDir(filepath.Join(dir, "sess"))
	require.NoError(t, err)
	assert.Empty(t, entries)
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("read failed") }
