// Package fs implements the file-system protocol client. Directories are
// reported as *crawler.ChildURLsError listing their immediate children.
package fs

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"go.uber.org/zap"

	"github.com/JakeFAU/sessioncrawler/internal/charset"
	"github.com/JakeFAU/sessioncrawler/internal/crawler"
)

const (
	// DefaultMaxCachedContentSize is the size below which content is loaded into memory.
	DefaultMaxCachedContentSize int64 = 1024 * 1024

	octetStream = "application/octet-stream"
)

// Config tunes the client.
type Config struct {
	// Charset is reported for every file and used to percent-encode addresses.
	Charset              string
	MaxCachedContentSize int64
	Limits               crawler.ContentLengthLimits
}

// Client reads resources from the local file system.
type Client struct {
	cfg    Config
	logger *zap.Logger
}

// New builds a Client.
func New(cfg Config, logger *zap.Logger) *Client {
	if cfg.Charset == "" {
		cfg.Charset = charset.UTF8
	}
	if cfg.MaxCachedContentSize <= 0 {
		cfg.MaxCachedContentSize = DefaultMaxCachedContentSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{cfg: cfg, logger: logger}
}

// Fetch resolves address as a file URI.
func (c *Client) Fetch(_ context.Context, address string, includeContent bool) (*crawler.ResponseData, error) {
	uri, err := c.FileURI(address)
	if err != nil {
		return nil, err
	}
	resp := &crawler.ResponseData{Method: crawler.MethodGet, URL: uri}

	path, err := pathFromURI(uri)
	if err != nil {
		c.logger.Warn("could not parse file uri", zap.String("url", uri), zap.Error(err))
		return c.notFound(resp), nil
	}
	info, err := os.Stat(path)
	switch {
	case err != nil:
		return c.notFound(resp), nil
	case info.Mode().IsRegular():
		return c.fetchFile(resp, path, info, includeContent)
	case info.IsDir():
		return nil, c.listChildren(uri, path, includeContent)
	default:
		return c.notFound(resp), nil
	}
}

// FetchHead resolves metadata only. Directories yield nil with no error.
func (c *Client) FetchHead(ctx context.Context, address string) (*crawler.ResponseData, error) {
	resp, err := c.Fetch(ctx, address, false)
	var children *crawler.ChildURLsError
	if errors.As(err, &children) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	resp.Method = crawler.MethodHead
	return resp, nil
}

// FileURI turns an address into a file URI: spaces and characters outside
// printable ASCII are percent-encoded one by one and a missing scheme becomes file://.
func (c *Client) FileURI(address string) (string, error) {
	if strings.TrimSpace(address) == "" {
		return "", fmt.Errorf("%w: the uri is empty", crawler.ErrConfiguration)
	}
	if !strings.HasPrefix(address, "file:") {
		address = "file://" + address
	}
	printable := func(r rune) bool { return r > ' ' && r < 0x7f }
	return charset.PercentEncode(address, printable, charset.Encoding(c.cfg.Charset)), nil
}

func (c *Client) notFound(resp *crawler.ResponseData) *crawler.ResponseData {
	resp.HTTPStatusCode = http.StatusNotFound
	resp.CharSet = c.cfg.Charset
	resp.ContentLength = 0
	return resp
}

func (c *Client) fetchFile(resp *crawler.ResponseData, path string, info fs.FileInfo, includeContent bool) (*crawler.ResponseData, error) {
	resp.ContentLength = info.Size()
	resp.MimeType = detectMIME(path)
	if limit := c.cfg.Limits.MaxLength(resp.MimeType); resp.ContentLength > limit {
		return nil, &crawler.MaxLengthExceededError{URL: resp.URL, Length: resp.ContentLength, Max: limit}
	}

	resp.HTTPStatusCode = http.StatusOK
	resp.CharSet = c.cfg.Charset
	modified := info.ModTime().UTC()
	resp.LastModified = &modified

	f, err := os.Open(path)
	if err != nil {
		resp.HTTPStatusCode = http.StatusForbidden
		resp.MimeType = octetStream
		return resp, nil
	}
	_ = f.Close()

	if !includeContent {
		return resp, nil
	}
	if info.Size() < c.cfg.MaxCachedContentSize {
		data, err := os.ReadFile(path)
		if err != nil {
			c.logger.Warn("failed to read file", zap.String("url", resp.URL), zap.Error(err))
			resp.HTTPStatusCode = http.StatusInternalServerError
			return resp, nil
		}
		resp.SetBody(data)
		return resp, nil
	}
	resp.SetBodyFile(path)
	return resp, nil
}

func (c *Client) listChildren(uri, dir string, includeContent bool) error {
	signal := &crawler.ChildURLsError{URL: uri}
	if !includeContent {
		return signal
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		c.logger.Warn("failed to list directory", zap.String("url", uri), zap.Error(err))
		return signal
	}
	for _, e := range entries {
		child := filepath.Join(dir, e.Name())
		if e.IsDir() {
			child += string(filepath.Separator)
		}
		signal.ChildURLs = append(signal.ChildURLs, crawler.NewGetRequest(toFileURI(child)))
	}
	return signal
}

// pathFromURI extracts the local path. A host part is treated as the first
// segment of a relative path so "file://docs/a.txt" means ./docs/a.txt.
func pathFromURI(uri string) (string, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return "", fmt.Errorf("parse file uri: %w", err)
	}
	if u.Scheme != "file" {
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	path := u.Path
	if path == "" {
		path = u.Opaque
	}
	if u.Host != "" && u.Host != "localhost" {
		path = u.Host + path
	}
	return filepath.FromSlash(path), nil
}

func toFileURI(path string) string {
	abs, err := filepath.Abs(path)
	if err == nil {
		if strings.HasSuffix(path, string(filepath.Separator)) {
			abs += string(filepath.Separator)
		}
		path = abs
	}
	return (&url.URL{Scheme: "file", Path: filepath.ToSlash(path)}).String()
}

func detectMIME(path string) string {
	mt, err := mimetype.DetectFile(path)
	if err != nil {
		return octetStream
	}
	media, _, _ := strings.Cut(mt.String(), ";")
	return strings.TrimSpace(media)
}
