// Package collyfetcher implements the HTTP(S) protocol client on top of gocolly.
package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"math"
	"mime"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/sessioncrawler/internal/crawler"
)

// DefaultTimeout bounds a single request when Config.Timeout is zero.
const DefaultTimeout = 15 * time.Second

// Config controls collector behavior.
type Config struct {
	UserAgent     string
	RespectRobots bool
	Timeout       time.Duration
	Limits        crawler.ContentLengthLimits
}

// Waiter blocks until a request to url may proceed.
type Waiter interface {
	Wait(ctx context.Context, url string) error
}

// Client implements crawler.Client for http and https addresses.
type Client struct {
	cfg           Config
	limiter       Waiter
	logger        *zap.Logger
	baseCollector *colly.Collector
}

type collectorHooks interface {
	OnResponseHeaders(colly.ResponseHeadersCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// fetchState collects what the collector callbacks observed for one request.
type fetchState struct {
	address        string
	includeContent bool
	start          time.Time
	contentType    string
	result         *crawler.ResponseData
	tooLarge       *crawler.MaxLengthExceededError
	err            error
}

// New builds a Client. A nil limiter disables politeness delays.
func New(cfg Config, limiter Waiter, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := colly.NewCollector(colly.Async(false))
	if cfg.UserAgent != "" {
		c.UserAgent = cfg.UserAgent
	}
	c.IgnoreRobotsTxt = !cfg.RespectRobots
	c.AllowURLRevisit = true
	c.ParseHTTPErrorResponse = true
	// colly truncates silently at MaxBodySize, so one extra byte marks a body
	// that went past every limit. Per-type limits are checked after download.
	c.MaxBodySize = bodyCap(cfg.Limits)
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	c.SetRequestTimeout(timeout)

	c.WithTransport(newRobotsProbe(newHTTPTransport(), logger.Named("robots")))
	// Redirects are surfaced to the transformer through the Location header.
	c.SetRedirectHandler(func(_ *http.Request, _ []*http.Request) error {
		return http.ErrUseLastResponse
	})

	return &Client{
		cfg:           cfg,
		limiter:       limiter,
		logger:        logger,
		baseCollector: c,
	}
}

// Fetch retrieves address. Without content a HEAD request is issued.
func (f *Client) Fetch(ctx context.Context, address string, includeContent bool) (*crawler.ResponseData, error) {
	method := http.MethodGet
	if !includeContent {
		method = http.MethodHead
	}
	return f.fetch(ctx, address, method, includeContent)
}

// FetchHead retrieves metadata only.
func (f *Client) FetchHead(ctx context.Context, address string) (*crawler.ResponseData, error) {
	return f.fetch(ctx, address, http.MethodHead, false)
}

func (f *Client) fetch(ctx context.Context, address, method string, includeContent bool) (*crawler.ResponseData, error) {
	address = strings.TrimSpace(address)
	if address == "" {
		return nil, fmt.Errorf("%w: url is empty", crawler.ErrConfiguration)
	}
	u, err := url.Parse(address)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("%w: not an http url: %q", crawler.ErrConfiguration, address)
	}
	if f.limiter != nil {
		if err := f.limiter.Wait(ctx, address); err != nil {
			return nil, fmt.Errorf("wait for %s: %w", u.Host, err)
		}
	}

	state := &fetchState{address: address, includeContent: includeContent, start: time.Now()}
	collector := f.baseCollector.Clone()
	collector.Context = ctx
	f.configureCollectorHooks(collector, state)

	runErr := f.runCollector(ctx, collector, method, address)
	switch {
	case state.tooLarge != nil:
		return nil, state.tooLarge
	case ctx.Err() != nil:
		return nil, fmt.Errorf("fetch %s: %w", address, ctx.Err())
	case runErr != nil:
		return nil, crawler.NewCrawlAccessError(address, runErr)
	case state.err != nil:
		return nil, crawler.NewCrawlAccessError(address, state.err)
	case state.result == nil:
		return nil, crawler.NewCrawlAccessError(address, errors.New("no response received"))
	}
	return state.result, nil
}

func (f *Client) configureCollectorHooks(hooks collectorHooks, state *fetchState) {
	hooks.OnResponseHeaders(func(r *colly.Response) {
		state.contentType = r.Headers.Get("Content-Type")
		mediaType, _ := splitContentType(state.contentType)
		// colly transcodes bodies that declare a charset; keep the raw bytes.
		if mediaType != "" {
			r.Headers.Set("Content-Type", mediaType)
		}
		length, ok := parseContentLength(r.Headers.Get("Content-Length"))
		if limit := f.cfg.Limits.MaxLength(mediaType); ok && state.includeContent && length > limit {
			state.tooLarge = &crawler.MaxLengthExceededError{URL: state.address, Length: length, Max: limit}
			r.Request.Abort()
		}
	})

	hooks.OnResponse(func(r *colly.Response) {
		resp, err := f.buildResponse(r, state)
		if err != nil {
			state.tooLarge = err
			return
		}
		state.result = resp
	})

	hooks.OnError(func(_ *colly.Response, err error) {
		state.err = err
	})
}

func (f *Client) buildResponse(r *colly.Response, state *fetchState) (*crawler.ResponseData, *crawler.MaxLengthExceededError) {
	headers := http.Header{}
	if r.Headers != nil {
		headers = r.Headers.Clone()
	}
	if state.contentType != "" {
		headers.Set("Content-Type", state.contentType)
	}
	mediaType, charsetName := splitContentType(headers.Get("Content-Type"))
	if mediaType == "" && len(r.Body) > 0 {
		mediaType, _ = splitContentType(mimetype.Detect(r.Body).String())
	}

	resp := &crawler.ResponseData{
		Method:         r.Request.Method,
		URL:            state.address,
		HTTPStatusCode: r.StatusCode,
		MimeType:       mediaType,
		CharSet:        charsetName,
		ExecutionTime:  time.Since(state.start),
		MetaData:       firstValues(headers),
	}
	if location := resp.MetaData["Location"]; location != "" && r.Request.URL != nil {
		if abs, err := r.Request.URL.Parse(location); err == nil {
			resp.MetaData["Location"] = abs.String()
		}
	}
	if lm := headers.Get("Last-Modified"); lm != "" {
		if t, err := http.ParseTime(lm); err == nil {
			t = t.UTC()
			resp.LastModified = &t
		}
	}
	length, ok := parseContentLength(headers.Get("Content-Length"))
	if !ok {
		length = int64(len(r.Body))
	}
	resp.ContentLength = length

	if state.includeContent && r.Request.Method == http.MethodGet {
		if limit := f.cfg.Limits.MaxLength(mediaType); int64(len(r.Body)) > limit {
			return nil, &crawler.MaxLengthExceededError{URL: state.address, Length: int64(len(r.Body)), Max: limit}
		}
		resp.SetBody(append([]byte(nil), r.Body...))
	}
	return resp, nil
}

func (f *Client) runCollector(ctx context.Context, collector *colly.Collector, method, address string) error {
	done := make(chan error, 1)
	go func() {
		if method == http.MethodHead {
			done <- collector.Head(address)
			return
		}
		done <- collector.Visit(address)
	}()

	select {
	case <-ctx.Done():
		// The collector shares ctx, so the in-flight request unwinds promptly.
		<-done
		return fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return fmt.Errorf("colly visit failed: %w", err)
		}
		return nil
	}
}

func bodyCap(limits crawler.ContentLengthLimits) int {
	largest := limits.Largest()
	if largest >= math.MaxInt-1 {
		return 0
	}
	return int(largest + 1)
}

func splitContentType(value string) (string, string) {
	if strings.TrimSpace(value) == "" {
		return "", ""
	}
	mediaType, params, err := mime.ParseMediaType(value)
	if err != nil {
		if idx := strings.IndexByte(value, ';'); idx >= 0 {
			value = value[:idx]
		}
		return strings.ToLower(strings.TrimSpace(value)), ""
	}
	return mediaType, params["charset"]
}

func parseContentLength(value string) (int64, bool) {
	if value == "" {
		return 0, false
	}
	n, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

func firstValues(h http.Header) map[string]string {
	if len(h) == 0 {
		return nil
	}
	out := make(map[string]string, len(h))
	for key, values := range h {
		if len(values) > 0 {
			out[http.CanonicalHeaderKey(key)] = values[0]
		}
	}
	return out
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
