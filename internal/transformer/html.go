package transformer

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"
	"golang.org/x/text/encoding"
	"golang.org/x/text/transform"

	"github.com/JakeFAU/sessioncrawler/internal/charset"
	"github.com/JakeFAU/sessioncrawler/internal/crawler"
)

const (
	// DefaultName identifies data produced by the HTML transformer.
	DefaultName = "htmlTransformer"
	// DefaultPreloadSize is how many leading bytes are searched for a charset token.
	DefaultPreloadSize = 2048

	locationHeader = "Location"
)

var charsetPattern = regexp.MustCompile(`(?i); *charset *= *([a-zA-Z0-9\-_]+)`)

// Config tunes the HTML transformer.
type Config struct {
	Name            string
	DefaultEncoding string
	PreloadSize     int
	CharsetAliases  map[string]string
	ChildURLRules   []ChildURLRule
	URLConvertRules []ConvertRule
	// KeepDuplicateVariant disables removal of the fetched URL's trailing-slash twin.
	KeepDuplicateVariant bool
	// TempDir holds spooled bodies; empty means os.TempDir().
	TempDir string
}

// HTML is the HTML content transformer. It holds no per-request state.
type HTML struct {
	name       string
	cfg        Config
	normalizer *charset.Normalizer
	converter  *URLConverter
	rules      []compiledChildRule
	logger     *zap.Logger
}

// NewHTML builds an HTML transformer.
func NewHTML(cfg Config, logger *zap.Logger) (*HTML, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Name == "" {
		cfg.Name = DefaultName
	}
	if cfg.PreloadSize <= 0 {
		cfg.PreloadSize = DefaultPreloadSize
	}
	if cfg.ChildURLRules == nil {
		cfg.ChildURLRules = DefaultChildURLRules
	}
	converter, err := NewURLConverter(cfg.URLConvertRules)
	if err != nil {
		return nil, err
	}
	return &HTML{
		name:       cfg.Name,
		cfg:        cfg,
		normalizer: charset.NewNormalizer(cfg.CharsetAliases),
		converter:  converter,
		rules:      compileRules(cfg.ChildURLRules, logger),
		logger:     logger,
	}, nil
}

// Name returns the transformer name recorded with stored data.
func (h *HTML) Name() string {
	return h.name
}

// Transform runs the charset, store and link stages over a spooled copy of the body.
func (h *HTML) Transform(ctx context.Context, resp *crawler.ResponseData) (*crawler.ResultData, error) {
	if resp == nil || !resp.HasBody() {
		url := ""
		if resp != nil {
			url = resp.URL
		}
		return nil, crawler.NewCrawlAccessError(url, errors.New("no response body"))
	}

	spool, err := h.spool(resp)
	if err != nil {
		return nil, crawler.NewCrawlAccessError(resp.URL, err)
	}
	defer func() {
		if err := os.Remove(spool); err != nil && !errors.Is(err, os.ErrNotExist) {
			h.logger.Warn("could not delete temp file", zap.String("path", spool), zap.Error(err))
		}
	}()

	if err := h.updateCharset(resp, spool); err != nil {
		return nil, crawler.NewCrawlAccessError(resp.URL, err)
	}

	result := &crawler.ResultData{TransformerName: h.name, Encoding: resp.CharSet}
	if result.Data, err = os.ReadFile(spool); err != nil {
		return nil, crawler.NewCrawlAccessError(resp.URL, fmt.Errorf("store data: %w", err))
	}

	if isHTML(resp.MimeType) {
		h.storeChildURLs(ctx, resp, spool, result)
	}

	if location, ok := resp.MetaData[locationHeader]; ok && strings.TrimSpace(location) != "" {
		result.AddURL(crawler.NewGetRequest(h.converter.Convert(strings.TrimSpace(location))))
	}

	result.RemoveURL(resp.URL)
	if !h.cfg.KeepDuplicateVariant {
		result.RemoveURL(crawler.DuplicateVariant(resp.URL))
	}
	return result, nil
}

// RenderStored decodes data this transformer produced.
func (h *HTML) RenderStored(data *crawler.AccessResultData) (string, error) {
	if data == nil {
		return "", errors.New("access result data is nil")
	}
	if data.TransformerName != h.name {
		return "", fmt.Errorf("%w: data produced by %q, not %q", crawler.ErrTransformerMismatch, data.TransformerName, h.name)
	}
	if text, err := charset.Decode(data.Data, data.Encoding); err == nil {
		return text, nil
	}
	text, err := charset.Decode(data.Data, charset.UTF8)
	if err != nil {
		return "", fmt.Errorf("decode stored data: %w", err)
	}
	return text, nil
}

func (h *HTML) spool(resp *crawler.ResponseData) (path string, err error) {
	body, err := resp.OpenBody()
	if err != nil {
		return "", fmt.Errorf("open response body: %w", err)
	}
	defer body.Close()

	f, err := os.CreateTemp(h.cfg.TempDir, "crawler-body-*")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	defer func() {
		if closeErr := f.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("close temp file: %w", closeErr)
		}
		if err != nil {
			_ = os.Remove(f.Name())
		}
	}()
	if _, err := io.Copy(f, body); err != nil {
		return "", fmt.Errorf("spool response body: %w", err)
	}
	return f.Name(), nil
}

// updateCharset resolves the charset from the leading bytes, then the default
// encoding, and forces UTF-8 when the result is unsupported.
func (h *HTML) updateCharset(resp *crawler.ResponseData, spool string) error {
	f, err := os.Open(spool)
	if err != nil {
		return fmt.Errorf("open spooled body: %w", err)
	}
	defer f.Close()

	buf := make([]byte, h.cfg.PreloadSize)
	n, err := io.ReadFull(f, buf)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		return fmt.Errorf("preload body: %w", err)
	}

	var name string
	if m := charsetPattern.FindSubmatch(buf[:n]); m != nil {
		name = h.normalizer.Normalize(string(m[1]))
	} else if h.cfg.DefaultEncoding == "" {
		name = charset.UTF8
	} else if resp.CharSet == "" {
		name = h.cfg.DefaultEncoding
	} else {
		name = resp.CharSet
	}

	if _, canonical, ok := charset.Lookup(name); ok {
		resp.CharSet = canonical
	} else {
		resp.CharSet = charset.UTF8
	}
	return nil
}

func isHTML(mimeType string) bool {
	media, _, _ := strings.Cut(mimeType, ";")
	switch strings.ToLower(strings.TrimSpace(media)) {
	case "text/html", "application/xhtml+xml":
		return true
	}
	return false
}

// storeChildURLs never fails the transform; problems are logged and skipped.
func (h *HTML) storeChildURLs(_ context.Context, resp *crawler.ResponseData, spool string, result *crawler.ResultData) {
	doc, err := h.parse(spool, resp.CharSet)
	if err != nil {
		h.logger.Warn("could not parse html", zap.String("url", resp.URL), zap.Error(err))
		return
	}

	base, err := h.baseURL(doc, resp.URL)
	if err != nil {
		h.logger.Warn("could not resolve base url", zap.String("url", resp.URL), zap.Error(err))
		return
	}

	enc := charset.Encoding(resp.CharSet)
	for _, rule := range h.rules {
		doc.FindMatcher(rule.sel).Each(func(_ int, s *goquery.Selection) {
			value, ok := s.Attr(rule.Attr)
			if !ok || !crawler.IsFetchableLink(value) {
				return
			}
			child, err := resolveChild(base, value, enc)
			if err != nil {
				h.logger.Warn("could not resolve child url",
					zap.String("url", resp.URL),
					zap.String("selector", rule.Selector),
					zap.String("value", value),
					zap.Error(err),
				)
				return
			}
			if child == "" {
				return
			}
			result.AddURL(crawler.NewGetRequest(h.converter.Convert(child)))
		})
	}
}

func (h *HTML) parse(spool, charsetName string) (*goquery.Document, error) {
	f, err := os.Open(spool)
	if err != nil {
		return nil, fmt.Errorf("open spooled body: %w", err)
	}
	defer f.Close()

	p := acquireParser()
	defer releaseParser(p)
	decoded := transform.NewReader(bufio.NewReader(f), charset.Encoding(charsetName).NewDecoder())
	if _, err := p.buf.ReadFrom(decoded); err != nil {
		return nil, fmt.Errorf("read spooled body: %w", err)
	}
	doc, err := goquery.NewDocumentFromReader(&p.buf)
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	return doc, nil
}

// baseURL prefers <base href>; a value starting with "www." is given http://.
func (h *HTML) baseURL(doc *goquery.Document, pageURL string) (*url.URL, error) {
	page, err := url.Parse(pageURL)
	if err != nil {
		return nil, fmt.Errorf("parse page url: %w", err)
	}
	href, ok := doc.Find("base").First().Attr("href")
	href = strings.TrimSpace(href)
	if !ok || href == "" {
		return page, nil
	}
	if strings.HasPrefix(href, "www.") {
		href = "http://" + href
	}
	base, err := page.Parse(href)
	if err != nil {
		return nil, fmt.Errorf("parse base href %q: %w", href, err)
	}
	return base, nil
}

// resolveChild turns an attribute value into an absolute, normalized and
// percent-encoded URL. An empty result means the value is dropped.
func resolveChild(base *url.URL, value string, enc encoding.Encoding) (string, error) {
	value = strings.TrimSpace(value)
	if value == "" || strings.ContainsRune(value, ' ') {
		return "", nil
	}
	// Encode first so non-ASCII characters keep the page's byte sequence.
	value = charset.PercentEncode(value, crawler.IsURLChar, enc)

	var (
		child *url.URL
		err   error
	)
	if strings.HasPrefix(value, "?") {
		child, err = url.Parse(base.String() + value)
	} else {
		child, err = base.Parse(value)
	}
	if err != nil {
		return "", fmt.Errorf("resolve %q: %w", value, err)
	}
	normalized := crawler.NormalizeURL(child.String())
	if normalized == "" {
		return "", nil
	}
	return charset.PercentEncode(normalized, crawler.IsURLChar, enc), nil
}
