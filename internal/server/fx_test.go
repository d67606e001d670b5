package server

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/sessioncrawler/internal/config"
	"github.com/JakeFAU/sessioncrawler/internal/crawler"
	"github.com/JakeFAU/sessioncrawler/internal/session"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o750))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
}

func loadConfig(t *testing.T, extra string) config.Config {
	t.Helper()
	dir := t.TempDir()
	yaml := fmt.Sprintf(`
logging:
  development: false
  level: error
crawler:
  concurrency: 2
  poll_interval: 1ms
  respect_robots: false
store:
  queue: memory
  result: sqlite
sqlite:
  dir: %s
archive:
  backend: local
  base_dir: %s
  prefix: results
  render: true
transformer:
  temp_dir: %s
%s`, filepath.Join(dir, "db"), filepath.Join(dir, "archive"), t.TempDir(), extra)
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))
	cfg, err := config.Load(path)
	require.NoError(t, err)
	return cfg
}

func fileTree(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "index.html"), `<html><body><a href="other.html">other</a></body></html>`)
	writeFile(t, filepath.Join(root, "other.html"), `<html><body>leaf</body></html>`)
	return "file://" + filepath.ToSlash(root) + "/index.html"
}

func TestBuildCrawlAndReset(t *testing.T) {
	cfg := loadConfig(t, "")
	app, err := Build(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.Close(context.Background()) })

	seed := fileTree(t)
	summary, err := app.Crawl(context.Background(), []string{seed}, "")
	require.NoError(t, err)
	assert.Equal(t, session.OutcomeCompleted, summary.Outcome)
	assert.EqualValues(t, 2, summary.Results)

	var rendered, raw int
	require.NoError(t, filepath.WalkDir(cfg.Archive.BaseDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		switch {
		case strings.HasSuffix(path, ".utf8.txt"):
			rendered++
		case strings.HasSuffix(path, ".html"):
			raw++
		}
		return nil
	}))
	assert.Equal(t, 2, raw)
	assert.Equal(t, 2, rendered)

	require.NoError(t, app.Reset(context.Background(), summary.SessionID))
	count, err := app.crawler.Results(context.Background(), summary.SessionID)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestCrawlUsesConfiguredSeeds(t *testing.T) {
	seed := fileTree(t)
	cfg := loadConfig(t, "")
	cfg.Crawler.Seeds = []string{seed}
	app, err := Build(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.Close(context.Background()) })

	summary, err := app.Crawl(context.Background(), nil, "fixed-session")
	require.NoError(t, err)
	assert.Equal(t, "fixed-session", summary.SessionID)
	assert.EqualValues(t, 2, summary.Results)

	require.NoError(t, app.Reset(context.Background(), ""))
	count, err := app.crawler.Results(context.Background(), "fixed-session")
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestCrawlWithoutSeeds(t *testing.T) {
	app, err := Build(context.Background(), loadConfig(t, ""))
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.Close(context.Background()) })

	_, err = app.Crawl(context.Background(), nil, "")
	require.ErrorIs(t, err, crawler.ErrConfiguration)
}

func TestBuildFailsOnUnwritableArchive(t *testing.T) {
	cfg := loadConfig(t, "")
	blocker := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o600))
	cfg.Archive.BaseDir = blocker

	_, err := Build(context.Background(), cfg)
	require.Error(t, err)
}

func TestOptionsFromConfig(t *testing.T) {
	cfg := loadConfig(t, "filter:\n  exclude:\n    - \".*\\\\.pdf\"\npubsub:\n  project_id: p\n  topic_name: \"\"\n")
	cfg.Crawler.MaxAccessCount = 5
	app := &App{cfg: cfg}

	opts := app.Options()
	assert.Equal(t, 2, opts.Concurrency)
	assert.EqualValues(t, 5, opts.MaxAccessCount)
	assert.Equal(t, []string{`.*\.pdf`}, opts.Excludes)
	assert.Empty(t, opts.Topic)
}
