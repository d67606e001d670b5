package session

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/sessioncrawler/internal/clock/system"
	"github.com/JakeFAU/sessioncrawler/internal/crawler"
	"github.com/JakeFAU/sessioncrawler/internal/fetcher"
	"github.com/JakeFAU/sessioncrawler/internal/fetcher/fs"
	"github.com/JakeFAU/sessioncrawler/internal/filter"
	"github.com/JakeFAU/sessioncrawler/internal/id/uuid"
	queuememory "github.com/JakeFAU/sessioncrawler/internal/queue/memory"
	"github.com/JakeFAU/sessioncrawler/internal/storage/memory"
	"github.com/JakeFAU/sessioncrawler/internal/transformer"
)

type fixture struct {
	crawler *Crawler
	queue   *queuememory.Queue
	results *memory.ResultStore
	filters *memory.FilterStore
	root    string
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o750))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
}

func newFixture(t *testing.T, filterCfg filter.Config) *fixture {
	t.Helper()
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "index.html"), `<html><body><a href="other.html">other</a><a href="sub/a.txt">a</a></body></html>`)
	writeFile(t, filepath.Join(root, "other.html"), `<html><body><a href="index.html">back</a></body></html>`)
	writeFile(t, filepath.Join(root, "sub", "a.txt"), "hello")

	router := fetcher.NewRouter()
	router.Register(fs.New(fs.Config{}, zap.NewNop()), "file")
	html, err := transformer.NewHTML(transformer.Config{TempDir: t.TempDir()}, zap.NewNop())
	require.NoError(t, err)

	clock := system.New()
	f := &fixture{
		queue:   queuememory.NewQueue(clock),
		results: memory.NewResultStore(),
		filters: memory.NewFilterStore(),
		root:    root,
	}
	f.crawler, err = New(Deps{
		IDs:         uuid.New(),
		Queue:       f.queue,
		Results:     f.results,
		Filters:     f.filters,
		FilterCfg:   filterCfg,
		Client:      router,
		Transformer: html,
		Clock:       clock,
	}, zap.NewNop())
	require.NoError(t, err)
	return f
}

func (f *fixture) seed() string {
	return "file://" + filepath.ToSlash(f.root) + "/"
}

func (f *fixture) resultURLs(sessionID string) []string {
	var urls []string
	for _, r := range f.results.List(sessionID) {
		urls = append(urls, r.URL)
	}
	sort.Strings(urls)
	return urls
}

func TestRunCrawlsFileTree(t *testing.T) {
	t.Parallel()
	f := newFixture(t, filter.Config{})

	summary, err := f.crawler.Run(context.Background(), []string{f.seed()}, Options{
		Concurrency:  3,
		MaxDepth:     -1,
		PollInterval: time.Millisecond,
	})
	require.NoError(t, err)
	assert.Equal(t, OutcomeCompleted, summary.Outcome)
	assert.NotEmpty(t, summary.SessionID)
	// Root, index.html, other.html, sub/ and sub/a.txt.
	assert.EqualValues(t, 5, summary.Processed)
	assert.EqualValues(t, 3, summary.Results)

	seed := f.seed()
	assert.Equal(t, []string{seed + "index.html", seed + "other.html", seed + "sub/a.txt"}, f.resultURLs(summary.SessionID))

	pending, err := f.crawler.Pending(context.Background(), summary.SessionID)
	require.NoError(t, err)
	assert.Zero(t, pending)
}

func TestRunAppliesExcludes(t *testing.T) {
	t.Parallel()
	f := newFixture(t, filter.Config{})

	summary, err := f.crawler.Run(context.Background(), []string{f.seed()}, Options{
		MaxDepth: -1,
		Excludes: []string{`.*\.txt`},
	})
	require.NoError(t, err)
	seed := f.seed()
	assert.Equal(t, []string{seed + "index.html", seed + "other.html"}, f.resultURLs(summary.SessionID))
}

func TestRunDerivesIncludesFromSeeds(t *testing.T) {
	t.Parallel()
	f := newFixture(t, filter.Config{IncludeTemplate: "${1}${2}${3}.*"})

	summary, err := f.crawler.Run(context.Background(), []string{f.seed() + "sub/"}, Options{MaxDepth: -1})
	require.NoError(t, err)
	assert.Equal(t, []string{f.seed() + "sub/a.txt"}, f.resultURLs(summary.SessionID))

	includes, err := f.filters.Patterns(context.Background(), summary.SessionID, crawler.FilterInclude)
	require.NoError(t, err)
	assert.Equal(t, []string{f.seed() + "sub/.*"}, includes)
}

func TestRunStopsAtMaxAccessCount(t *testing.T) {
	t.Parallel()
	f := newFixture(t, filter.Config{})

	summary, err := f.crawler.Run(context.Background(), []string{f.seed()}, Options{
		MaxDepth:       -1,
		MaxAccessCount: 2,
	})
	require.NoError(t, err)
	assert.EqualValues(t, 2, summary.Processed)
}

func TestRunClearOnFinishKeepsResults(t *testing.T) {
	t.Parallel()
	f := newFixture(t, filter.Config{})

	summary, err := f.crawler.Run(context.Background(), []string{f.seed()}, Options{
		MaxDepth:       -1,
		MaxAccessCount: 2,
		ClearOnFinish:  true,
		Includes:       []string{"file:.*"},
	})
	require.NoError(t, err)

	pending, err := f.queue.Count(context.Background(), summary.SessionID)
	require.NoError(t, err)
	assert.Zero(t, pending)
	includes, err := f.filters.Patterns(context.Background(), summary.SessionID, crawler.FilterInclude)
	require.NoError(t, err)
	assert.Empty(t, includes)
	assert.Equal(t, summary.Results, int64(len(f.results.List(summary.SessionID))))
}

func TestCleanupRemovesEverything(t *testing.T) {
	t.Parallel()
	f := newFixture(t, filter.Config{})

	summary, err := f.crawler.Run(context.Background(), []string{f.seed()}, Options{
		SessionID: "fixed-session",
		MaxDepth:  -1,
		Includes:  []string{"file:.*"},
	})
	require.NoError(t, err)
	assert.Equal(t, "fixed-session", summary.SessionID)
	require.NotEmpty(t, f.results.List("fixed-session"))

	require.NoError(t, f.crawler.Cleanup(context.Background(), "fixed-session"))
	assert.Empty(t, f.results.List("fixed-session"))
	includes, err := f.filters.Patterns(context.Background(), "fixed-session", crawler.FilterInclude)
	require.NoError(t, err)
	assert.Empty(t, includes)

	require.ErrorIs(t, f.crawler.Cleanup(context.Background(), " "), crawler.ErrConfiguration)
	require.NoError(t, f.crawler.CleanupAll(context.Background()))
}

func TestCleanupAllDropsFilterPatterns(t *testing.T) {
	t.Parallel()
	f := newFixture(t, filter.Config{})
	ctx := context.Background()

	first, err := f.crawler.Run(ctx, []string{f.seed()}, Options{
		SessionID: "reused",
		MaxDepth:  -1,
		Excludes:  []string{`.*other.*`},
	})
	require.NoError(t, err)
	assert.EqualValues(t, 2, first.Results)

	require.NoError(t, f.crawler.CleanupAll(ctx))
	excludes, err := f.filters.Patterns(ctx, "reused", crawler.FilterExclude)
	require.NoError(t, err)
	assert.Empty(t, excludes)

	second, err := f.crawler.Run(ctx, []string{f.seed()}, Options{SessionID: "reused", MaxDepth: -1})
	require.NoError(t, err)
	assert.EqualValues(t, 3, second.Results)
}

func TestRunCanceled(t *testing.T) {
	t.Parallel()
	f := newFixture(t, filter.Config{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	summary, err := f.crawler.Run(ctx, []string{f.seed()}, Options{MaxDepth: -1})
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Equal(t, OutcomeCanceled, summary.Outcome)
}

func TestNewValidatesDeps(t *testing.T) {
	t.Parallel()
	_, err := New(Deps{}, nil)
	require.ErrorIs(t, err, crawler.ErrConfiguration)
}
