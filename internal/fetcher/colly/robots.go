package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/sessioncrawler/internal/metrics"
)

const (
	robotsAttempts    = 3
	robotsBaseBackoff = 250 * time.Millisecond
	robotsAllowAll    = "User-agent: *\nAllow: /\n"
)

// robotsProbe sits under colly's robots.txt check. A probe that keeps timing
// out or keeps answering 5xx is retried with doubling backoff and then
// answered with an allow-all file so the host is still crawled.
type robotsProbe struct {
	next      http.RoundTripper
	logger    *zap.Logger
	attempts  int
	backoff   time.Duration
	fallbacks atomic.Int64
}

func newRobotsProbe(next http.RoundTripper, logger *zap.Logger) *robotsProbe {
	return &robotsProbe{next: next, logger: logger, attempts: robotsAttempts, backoff: robotsBaseBackoff}
}

func (p *robotsProbe) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.URL == nil || !strings.EqualFold(req.URL.Path, "/robots.txt") {
		return p.next.RoundTrip(req)
	}

	var reason string
	for attempt := range p.attempts {
		if attempt > 0 {
			if err := pause(req.Context(), p.backoff<<(attempt-1)); err != nil {
				return nil, fmt.Errorf("robots.txt %s: %w", req.URL.Host, err)
			}
		}
		resp, err := p.next.RoundTrip(req.Clone(req.Context()))
		reason = indeterminate(resp, err)
		if reason == "" {
			if err != nil {
				return nil, fmt.Errorf("robots.txt %s: %w", req.URL.Host, err)
			}
			return resp, nil
		}
		if resp != nil {
			_, _ = io.Copy(io.Discard, resp.Body)
			_ = resp.Body.Close()
		}
	}
	return p.allowAll(req, reason), nil
}

func (p *robotsProbe) allowAll(req *http.Request, reason string) *http.Response {
	p.fallbacks.Add(1)
	metrics.ObserveRobotsFallback(reason)
	p.logger.Warn("robots.txt unavailable, allowing all paths",
		zap.String("host", req.URL.Host),
		zap.String("reason", reason),
		zap.Int("attempts", p.attempts),
	)
	return &http.Response{
		Status:        "200 OK",
		StatusCode:    http.StatusOK,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        http.Header{"Content-Type": []string{"text/plain"}},
		Body:          io.NopCloser(strings.NewReader(robotsAllowAll)),
		ContentLength: int64(len(robotsAllowAll)),
		Request:       req,
	}
}

// indeterminate names why a probe result says nothing about the rules, or
// returns "" when the result should be used as is.
func indeterminate(resp *http.Response, err error) string {
	if err != nil {
		var netErr net.Error
		if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) ||
			strings.Contains(err.Error(), "handshake timeout") {
			return "timeout"
		}
		return ""
	}
	if resp.StatusCode >= http.StatusInternalServerError {
		return "server_error"
	}
	return ""
}

func pause(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
