package hostguard

import (
	"net/http"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGuardBlocksAfterThreshold(t *testing.T) {
	t.Parallel()

	g := New(2)
	assert.True(t, g.Allow("https://Example.com/a"))
	assert.False(t, g.Observe("https://example.com/a", http.StatusForbidden))
	assert.False(t, g.Observe("https://example.com/b", http.StatusOK))
	assert.True(t, g.Observe("https://EXAMPLE.com/c", http.StatusTooManyRequests))

	assert.False(t, g.Allow("https://example.com/d"))
	assert.True(t, g.Allow("https://other.com/"))
	assert.Equal(t, 1, g.Blocked())
}

func TestGuardIgnoresFileURLs(t *testing.T) {
	t.Parallel()

	g := New(1)
	assert.False(t, g.Observe("file:///srv/docs/a.html", http.StatusForbidden))
	assert.True(t, g.Allow("file:///srv/docs/b.html"))
	assert.Zero(t, g.Blocked())
}

func TestNilGuardAllowsEverything(t *testing.T) {
	t.Parallel()

	g := New(0)
	assert.Nil(t, g)
	assert.True(t, g.Allow("https://example.com/"))
	assert.False(t, g.Observe("https://example.com/", http.StatusForbidden))
	assert.Zero(t, g.Blocked())
}

func TestGuardConcurrentObserve(t *testing.T) {
	t.Parallel()

	g := New(50)
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			g.Observe("https://busy.example/", http.StatusForbidden)
		}()
	}
	wg.Wait()
	assert.False(t, g.Allow("https://busy.example/"))
}
