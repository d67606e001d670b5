package filter

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/sessioncrawler/internal/crawler"
)

// DefaultURLPattern splits a URL into scheme+separator, host and the remainder.
const DefaultURLPattern = `^(.*:/+)([^/]*)(.*)$`

// Config controls structural pattern derivation.
type Config struct {
	// URLPattern captures the groups referenced by the templates.
	URLPattern string
	// IncludeTemplate and ExcludeTemplate are regexp replacement templates
	// (${1}, ${2}, ${3}); an empty template disables that side.
	IncludeTemplate string
	ExcludeTemplate string
}

// URLFilter is a session-scoped include/exclude filter.
type URLFilter struct {
	store  crawler.URLFilterStore
	cache  *patternCache
	cfg    Config
	urlRe  *regexp.Regexp
	logger *zap.Logger

	mu             sync.Mutex
	sessionID      string
	cachedIncludes []string
	cachedExcludes []string
}

// New builds a URLFilter backed by store.
func New(store crawler.URLFilterStore, cfg Config, logger *zap.Logger) (*URLFilter, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: url filter store is required", crawler.ErrConfiguration)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.URLPattern == "" {
		cfg.URLPattern = DefaultURLPattern
	}
	urlRe, err := regexp.Compile(cfg.URLPattern)
	if err != nil {
		return nil, fmt.Errorf("%w: url pattern: %w", crawler.ErrConfiguration, err)
	}
	return &URLFilter{
		store:  store,
		cache:  newPatternCache(),
		cfg:    cfg,
		urlRe:  urlRe,
		logger: logger,
	}, nil
}

// AddInclude registers an include pattern. Invalid patterns are logged and dropped.
func (f *URLFilter) AddInclude(ctx context.Context, pattern string) error {
	return f.add(ctx, crawler.FilterInclude, pattern)
}

// AddExclude registers an exclude pattern. Invalid patterns are logged and dropped.
func (f *URLFilter) AddExclude(ctx context.Context, pattern string) error {
	return f.add(ctx, crawler.FilterExclude, pattern)
}

func (f *URLFilter) add(ctx context.Context, kind crawler.FilterKind, pattern string) error {
	if _, err := f.cache.get(pattern); err != nil {
		f.logger.Warn("invalid filter pattern dropped",
			zap.String("kind", string(kind)),
			zap.String("pattern", pattern),
			zap.Error(err),
		)
		return nil
	}

	f.mu.Lock()
	sessionID := f.sessionID
	if sessionID == "" {
		if kind == crawler.FilterInclude {
			f.cachedIncludes = append(f.cachedIncludes, pattern)
		} else {
			f.cachedExcludes = append(f.cachedExcludes, pattern)
		}
		f.mu.Unlock()
		return nil
	}
	f.mu.Unlock()

	if err := f.store.AddPatterns(ctx, sessionID, kind, []string{pattern}); err != nil {
		return fmt.Errorf("add %s pattern: %w", kind, err)
	}
	return nil
}

// Init attaches the filter to sessionID and flushes cached patterns once.
func (f *URLFilter) Init(ctx context.Context, sessionID string) error {
	if strings.TrimSpace(sessionID) == "" {
		return fmt.Errorf("%w: session id is empty", crawler.ErrConfiguration)
	}
	f.mu.Lock()
	f.sessionID = sessionID
	includes, excludes := f.cachedIncludes, f.cachedExcludes
	f.cachedIncludes, f.cachedExcludes = nil, nil
	f.mu.Unlock()

	var errs []error
	if len(includes) > 0 {
		if err := f.store.AddPatterns(ctx, sessionID, crawler.FilterInclude, includes); err != nil {
			f.logger.Warn("failed to flush include patterns", zap.String("session_id", sessionID), zap.Error(err))
			errs = append(errs, fmt.Errorf("flush include patterns: %w", err))
		}
	}
	if len(excludes) > 0 {
		if err := f.store.AddPatterns(ctx, sessionID, crawler.FilterExclude, excludes); err != nil {
			f.logger.Warn("failed to flush exclude patterns", zap.String("session_id", sessionID), zap.Error(err))
			errs = append(errs, fmt.Errorf("flush exclude patterns: %w", err))
		}
	}
	return errors.Join(errs...)
}

// SessionID returns the attached session, or "" before Init.
func (f *URLFilter) SessionID() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sessionID
}

// Match reports whether url passes the session's patterns. With no include
// patterns every URL is a candidate; any matching exclude rejects it.
func (f *URLFilter) Match(ctx context.Context, url string) (bool, error) {
	sessionID := f.SessionID()
	if sessionID == "" {
		return f.matchCached(url), nil
	}
	includes, err := f.store.Patterns(ctx, sessionID, crawler.FilterInclude)
	if err != nil {
		return false, fmt.Errorf("load include patterns: %w", err)
	}
	excludes, err := f.store.Patterns(ctx, sessionID, crawler.FilterExclude)
	if err != nil {
		return false, fmt.Errorf("load exclude patterns: %w", err)
	}
	return f.evaluate(url, includes, excludes), nil
}

func (f *URLFilter) matchCached(url string) bool {
	f.mu.Lock()
	includes := append([]string(nil), f.cachedIncludes...)
	excludes := append([]string(nil), f.cachedExcludes...)
	f.mu.Unlock()
	return f.evaluate(url, includes, excludes)
}

func (f *URLFilter) evaluate(url string, includes, excludes []string) bool {
	if len(includes) > 0 && !f.anyMatch(url, includes) {
		return false
	}
	return !f.anyMatch(url, excludes)
}

func (f *URLFilter) anyMatch(url string, patterns []string) bool {
	for _, pattern := range patterns {
		re, err := f.cache.get(pattern)
		if err != nil {
			// Only reachable for patterns written to the store by another process.
			f.logger.Warn("skipping uncompilable stored pattern", zap.String("pattern", pattern), zap.Error(err))
			continue
		}
		if re.MatchString(url) {
			return true
		}
	}
	return false
}

// ProcessURL derives structural include/exclude patterns from url using the
// configured templates, e.g. "stay on this host" rules from a seed.
func (f *URLFilter) ProcessURL(ctx context.Context, url string) error {
	if f.cfg.IncludeTemplate != "" {
		if err := f.AddInclude(ctx, f.urlRe.ReplaceAllString(url, f.cfg.IncludeTemplate)); err != nil {
			return err
		}
	}
	if f.cfg.ExcludeTemplate != "" {
		if err := f.AddExclude(ctx, f.urlRe.ReplaceAllString(url, f.cfg.ExcludeTemplate)); err != nil {
			return err
		}
	}
	return nil
}

// Clear empties both the local caches and the session's stored patterns.
func (f *URLFilter) Clear(ctx context.Context) error {
	f.mu.Lock()
	f.cachedIncludes, f.cachedExcludes = nil, nil
	sessionID := f.sessionID
	f.mu.Unlock()
	if sessionID == "" {
		return nil
	}
	if err := f.store.DeleteBySession(ctx, sessionID); err != nil {
		return fmt.Errorf("clear url filter: %w", err)
	}
	return nil
}
