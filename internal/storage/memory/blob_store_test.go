package memory

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBlobStoreKeepsPrivateCopy(t *testing.T) {
	t.Parallel()

	store := NewBlobStore()
	payload := []byte("content")
	uri, err := store.PutObject(context.Background(), "s/1.html", "text/html", bytes.NewReader(payload))
	require.NoError(t, err)
	assert.Equal(t, "memory://s/1.html", uri)

	payload[0] = 'C'
	got, contentType, ok := store.Object("s/1.html")
	require.True(t, ok)
	assert.Equal(t, "content", string(got))
	assert.Equal(t, "text/html", contentType)

	got[0] = 'X'
	again, _, _ := store.Object("s/1.html")
	assert.Equal(t, "content", string(again))

	_, _, ok = store.Object("missing")
	assert.False(t, ok)
}

func TestBlobStoreOverwriteAndPaths(t *testing.T) {
	t.Parallel()

	store := NewBlobStore()
	ctx := context.Background()
	for _, p := range []string{"s/b.txt", "s/a.html", "s/b.txt"} {
		_, err := store.PutObject(ctx, p, "text/plain", strings.NewReader(p))
		require.NoError(t, err)
	}
	assert.Equal(t, []string{"s/a.html", "s/b.txt"}, store.Paths())
}

func TestBlobStoreCanceledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	store := NewBlobStore()
	_, err := store.PutObject(ctx, "s/1.html", "", strings.NewReader("x"))
	require.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, store.Paths())
}
