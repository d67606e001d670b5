package filter

import (
	"fmt"
	"regexp"
	"sync"
)

// patternCache memoizes full-match compilations keyed by the raw pattern.
type patternCache struct {
	mu       sync.RWMutex
	compiled map[string]*regexp.Regexp
}

func newPatternCache() *patternCache {
	return &patternCache{compiled: make(map[string]*regexp.Regexp)}
}

// compileFull anchors pattern so it must match the entire input.
func compileFull(pattern string) (*regexp.Regexp, error) {
	re, err := regexp.Compile(`^(?:` + pattern + `)$`)
	if err != nil {
		return nil, fmt.Errorf("compile pattern %q: %w", pattern, err)
	}
	return re, nil
}

func (c *patternCache) get(pattern string) (*regexp.Regexp, error) {
	c.mu.RLock()
	re, ok := c.compiled[pattern]
	c.mu.RUnlock()
	if ok {
		return re, nil
	}
	re, err := compileFull(pattern)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.compiled[pattern] = re
	c.mu.Unlock()
	return re, nil
}

func (c *patternCache) len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.compiled)
}
