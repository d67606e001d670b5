// Package ratelimit spaces out requests to the same host.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/JakeFAU/sessioncrawler/internal/metrics"
	"golang.org/x/time/rate"
)

// Config sets the token bucket every host starts with.
type Config struct {
	// RPS is the sustained rate per host. Zero or negative disables limiting.
	RPS   float64
	Burst int
}

// Limiter hands out one token bucket per host, shared by all sessions.
type Limiter struct {
	limit rate.Limit
	burst int

	mu      sync.Mutex
	buckets map[string]*rate.Limiter
}

// New creates a Limiter from cfg.
func New(cfg Config) *Limiter {
	metrics.Init()
	l := &Limiter{limit: rate.Inf, burst: max(cfg.Burst, 1), buckets: make(map[string]*rate.Limiter)}
	if cfg.RPS > 0 {
		l.limit = rate.Limit(cfg.RPS)
	}
	return l
}

// Wait blocks until the host of address may be contacted again or ctx ends.
// A canceled wait returns its token to the bucket.
func (l *Limiter) Wait(ctx context.Context, address string) error {
	if l.limit == rate.Inf {
		return nil
	}
	host := metrics.SanitizeSite(address)
	r := l.bucket(host).Reserve()
	if !r.OK() {
		return fmt.Errorf("rate limit %s: burst %d too small", host, l.burst)
	}
	delay := r.Delay()
	if delay <= 0 {
		return nil
	}
	metrics.ObserveRateLimitDelay(host, delay)

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		r.Cancel()
		return fmt.Errorf("rate limit %s: %w", host, ctx.Err())
	}
}

// Hosts reports how many hosts have been seen.
func (l *Limiter) Hosts() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

func (l *Limiter) bucket(host string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.buckets[host]
	if !ok {
		b = rate.NewLimiter(l.limit, l.burst)
		l.buckets[host] = b
	}
	return b
}
