// Package hostguard stops a session from hammering hosts that keep refusing it.
package hostguard

import (
	"net/http"
	"net/url"
	"strings"
	"sync"
)

// Guard counts refusals (403 and 429) per host and blocks a host once the
// count reaches the threshold. It is safe for concurrent use.
type Guard struct {
	mu        sync.Mutex
	threshold int
	counts    map[string]int
	blocked   map[string]struct{}
}

// New returns a Guard. A non-positive threshold yields nil, which allows everything.
func New(threshold int) *Guard {
	if threshold <= 0 {
		return nil
	}
	return &Guard{
		threshold: threshold,
		counts:    make(map[string]int),
		blocked:   make(map[string]struct{}),
	}
}

// Allow reports whether rawURL's host is still eligible for fetching.
func (g *Guard) Allow(rawURL string) bool {
	if g == nil {
		return true
	}
	key := hostKey(rawURL)
	if key == "" {
		return true
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	_, blocked := g.blocked[key]
	return !blocked
}

// Observe records a response status for rawURL and reports whether the host
// is now blocked.
func (g *Guard) Observe(rawURL string, statusCode int) bool {
	if g == nil || !refused(statusCode) {
		return false
	}
	key := hostKey(rawURL)
	if key == "" {
		return false
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, blocked := g.blocked[key]; blocked {
		return true
	}
	g.counts[key]++
	if g.counts[key] >= g.threshold {
		g.blocked[key] = struct{}{}
		return true
	}
	return false
}

// Blocked returns the number of blocked hosts.
func (g *Guard) Blocked() int {
	if g == nil {
		return 0
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.blocked)
}

func refused(statusCode int) bool {
	return statusCode == http.StatusForbidden || statusCode == http.StatusTooManyRequests
}

// hostKey is empty for file URLs, which are never blocked.
func hostKey(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}
