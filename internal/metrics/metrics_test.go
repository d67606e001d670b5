package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestSanitizeSite(t *testing.T) {
	cases := map[string]string{
		"http://example.com/path":  "example.com",
		"https://Example.com/path": "example.com",
		"example.com/path":         "example.com",
		"example.com:8080":         "example.com",
		"file:///tmp/a.txt":        "local",
		"http://%":                 "unknown",
		"":                         "unknown",
	}
	for in, want := range cases {
		assert.Equal(t, want, SanitizeSite(in), "input %q", in)
	}
}

// delta runs fn and returns how much c moved.
func delta(c prometheus.Collector, fn func()) float64 {
	before := testutil.ToFloat64(c)
	fn()
	return testutil.ToFloat64(c) - before
}

func TestObservers(t *testing.T) {
	Init()
	Init()

	assert.Equal(t, 1.0, delta(crawlerPagesTotal.WithLabelValues("metrics-test.example", "ok"), func() {
		ObservePage("http://Metrics-Test.example/a", "ok", 10)
	}))
	assert.Equal(t, 0.0, delta(crawlerBytesTotal.WithLabelValues("metrics-test.example"), func() {
		ObservePage("http://metrics-test.example/b", "ok", 0)
	}), "empty bodies add no bytes")

	assert.Equal(t, 1.0, delta(crawlerQueuePushesTotal.WithLabelValues("duplicate"), func() { ObservePush(false) }))
	assert.Equal(t, 1.0, delta(crawlerQueuePushesTotal.WithLabelValues("queued"), func() { ObservePush(true) }))
	assert.Equal(t, 1.0, delta(crawlerFilterRejectionsTotal, ObserveFilterRejection))
	assert.Equal(t, 1.0, delta(crawlerFetchErrorsTotal.WithLabelValues("access"), func() { ObserveFetchError("access") }))
	assert.Equal(t, 1.0, delta(crawlerSessionsTotal.WithLabelValues("completed"), func() { ObserveSession("completed") }))
	assert.Equal(t, 1.0, delta(crawlerRobotsFallbacksTotal.WithLabelValues("timeout"), func() { ObserveRobotsFallback("timeout") }))
	assert.Equal(t, 0.0, delta(crawlerActiveWorkers, func() {
		IncActiveWorkers()
		DecActiveWorkers()
	}))

	ObserveRateLimitDelay("example.com", 5*time.Millisecond)
	assert.GreaterOrEqual(t, testutil.CollectAndCount(crawlerRateLimitDelaysSeconds), 1)
}

func FuzzSanitizeSite(f *testing.F) {
	for _, seed := range []string{"http://example.com", "https://google.com", "file:///x"} {
		f.Add(seed)
	}
	f.Fuzz(func(t *testing.T, in string) {
		if SanitizeSite(in) == "" {
			t.Errorf("SanitizeSite(%q) returned an empty string", in)
		}
	})
}
