package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/sessioncrawler/internal/crawler"
)

func TestResultStoreInsertIsAppendOnly(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := NewResultStore()

	resp := &crawler.ResponseData{SessionID: "s", URL: "http://a.com/", HTTPStatusCode: 200}
	result := crawler.NewAccessResult(resp, &crawler.ResultData{TransformerName: "html", Data: []byte("abc")}, time.Now())
	require.NoError(t, store.Insert(ctx, result))
	require.NoError(t, store.Insert(ctx, result))

	result.Data.Data[0] = 'X'
	got := store.List("s")
	require.Len(t, got, 2)
	assert.Equal(t, "abc", string(got[0].Data.Data))
	assert.NotEqual(t, got[0].ID, got[1].ID)

	require.Error(t, store.Insert(ctx, nil))
}

func TestResultStoreDelete(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := NewResultStore()

	for _, s := range []string{"a", "b"} {
		require.NoError(t, store.Insert(ctx, &crawler.AccessResult{SessionID: s}))
	}
	require.NoError(t, store.DeleteBySession(ctx, "a"))
	n, err := store.Count(ctx, "a")
	require.NoError(t, err)
	assert.Zero(t, n)
	n, err = store.Count(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	require.NoError(t, store.DeleteAll(ctx))
	n, err = store.Count(ctx, "b")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestFilterStoreSnapshots(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := NewFilterStore()

	require.NoError(t, store.AddPatterns(ctx, "s", crawler.FilterInclude, []string{"a", "b"}))
	require.NoError(t, store.AddPatterns(ctx, "s", crawler.FilterExclude, []string{"c"}))

	got, err := store.Patterns(ctx, "s", crawler.FilterInclude)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, got)
	got[0] = "mutated"
	again, err := store.Patterns(ctx, "s", crawler.FilterInclude)
	require.NoError(t, err)
	assert.Equal(t, "a", again[0])

	require.NoError(t, store.DeleteBySession(ctx, "s"))
	got, err = store.Patterns(ctx, "s", crawler.FilterExclude)
	require.NoError(t, err)
	assert.Empty(t, got)
}
