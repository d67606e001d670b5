package redis

import (
	"context"
	"errors"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/sessioncrawler/internal/crawler"
)

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

var testNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func newFrontier(t *testing.T) (*Frontier, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return New(rdb, fixedClock{testNow}, "test:"), mr
}

func TestFrontierPushPop(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f, _ := newFrontier(t)

	ok, err := f.Push(ctx, "s", crawler.RequestData{URL: "http://a.com/", MetaData: map[string]string{"k": "v"}}, nil)
	require.NoError(t, err)
	require.True(t, ok)

	seed, ok, err := f.Pop(ctx, "s")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(1), seed.ID)
	assert.Equal(t, "GET", seed.Method)
	assert.Equal(t, map[string]string{"k": "v"}, seed.MetaData)
	assert.True(t, testNow.Equal(seed.CreateTime))

	ok, err = f.Push(ctx, "s", crawler.NewGetRequest("http://a.com/b"), &seed)
	require.NoError(t, err)
	require.True(t, ok)
	child, ok, err := f.Pop(ctx, "s")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 1, child.Depth)
	assert.Equal(t, int64(2), child.ID)

	_, ok, err = f.Pop(ctx, "s")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestFrontierDuplicateSuppression(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f, _ := newFrontier(t)

	ok, err := f.Push(ctx, "s", crawler.NewGetRequest("http://a.com/"), nil)
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = f.Push(ctx, "s", crawler.NewGetRequest("http://a.com/"), nil)
	require.NoError(t, err)
	assert.False(t, ok)

	_, _, err = f.Pop(ctx, "s")
	require.NoError(t, err)
	ok, err = f.Push(ctx, "s", crawler.NewGetRequest("http://a.com/"), nil)
	require.NoError(t, err)
	assert.False(t, ok, "visited entries stay suppressed")

	n, err := f.Count(ctx, "s")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestFrontierDeleteBySessionAndAll(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f, mr := newFrontier(t)

	for _, s := range []string{"a", "b"} {
		_, err := f.Push(ctx, s, crawler.NewGetRequest("http://x.com/"), nil)
		require.NoError(t, err)
	}
	require.NoError(t, f.DeleteBySession(ctx, "a"))
	assert.False(t, mr.Exists("test:a:queue"))
	assert.False(t, mr.Exists("test:a:seen"))

	n, err := f.Count(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	require.NoError(t, f.DeleteAll(ctx))
	assert.False(t, mr.Exists("test:b:queue"))
	assert.False(t, mr.Exists("test:sessions"))
}

func TestFrontierStoreUnavailable(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f, mr := newFrontier(t)
	mr.Close()

	_, err := f.Push(ctx, "s", crawler.NewGetRequest("http://a.com/"), nil)
	require.ErrorIs(t, err, crawler.ErrStoreUnavailable)
	_, _, err = f.Pop(ctx, "s")
	require.ErrorIs(t, err, crawler.ErrStoreUnavailable)
}

// failOnce fails the first command with the given name.
type failOnce struct {
	name  string
	fired atomic.Bool
}

func (h *failOnce) DialHook(next redis.DialHook) redis.DialHook {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		return next(ctx, network, addr)
	}
}

func (h *failOnce) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		if cmd.Name() == h.name && h.fired.CompareAndSwap(false, true) {
			err := errors.New("connection reset")
			cmd.SetErr(err)
			return err
		}
		return next(ctx, cmd)
	}
}

func (h *failOnce) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return next
}

func TestFrontierFailedPushCanBeRetried(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f, mr := newFrontier(t)
	f.client.AddHook(&failOnce{name: "evalsha"})

	_, err := f.Push(ctx, "s", crawler.NewGetRequest("http://a.com/"), nil)
	require.ErrorIs(t, err, crawler.ErrStoreUnavailable)
	assert.False(t, mr.Exists("test:s:seen"))

	ok, err := f.Push(ctx, "s", crawler.NewGetRequest("http://a.com/"), nil)
	require.NoError(t, err)
	assert.True(t, ok)

	n, err := f.Count(ctx, "s")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	entry, ok, err := f.Pop(ctx, "s")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(1), entry.ID)
	assert.Equal(t, "http://a.com/", entry.URL)
}

func TestFrontierPing(t *testing.T) {
	t.Parallel()
	f, mr := newFrontier(t)

	require.NoError(t, f.Ping(context.Background()))
	mr.Close()
	require.ErrorIs(t, f.Ping(context.Background()), crawler.ErrStoreUnavailable)
}
