// Package archive copies stored result payloads into a blob store.
package archive

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"mime"
	"path"
	"strings"

	"github.com/JakeFAU/sessioncrawler/internal/crawler"
	"github.com/JakeFAU/sessioncrawler/internal/hash/sha256"
)

// Renderer decodes stored data into text.
type Renderer interface {
	Render(data *crawler.AccessResultData) (string, error)
}

// Archiver names payloads by content digest and writes them under a session prefix.
type Archiver struct {
	blobs    crawler.BlobStore
	hasher   *sha256.Hasher
	prefix   string
	renderer Renderer
}

// New wraps blobs. prefix is prepended to every object path.
func New(blobs crawler.BlobStore, prefix string) (*Archiver, error) {
	if blobs == nil {
		return nil, fmt.Errorf("%w: blob store is required", crawler.ErrConfiguration)
	}
	return &Archiver{
		blobs:  blobs,
		hasher: sha256.New(),
		prefix: strings.Trim(prefix, "/"),
	}, nil
}

// WithRenderer makes Archive also write a UTF-8 text rendering of each payload.
func (a *Archiver) WithRenderer(r Renderer) *Archiver {
	a.renderer = r
	return a
}

// Archive writes the result payload and returns its URI. Results without data
// are skipped and return an empty URI.
func (a *Archiver) Archive(ctx context.Context, result *crawler.AccessResult) (string, error) {
	if result == nil {
		return "", errors.New("archive: nil result")
	}
	if len(result.Data.Data) == 0 {
		return "", nil
	}
	digest, err := a.hasher.Hash(result.Data.Data)
	if err != nil {
		return "", fmt.Errorf("archive: %w", err)
	}
	objectPath := a.ObjectPath(result.SessionID, digest, result.MimeType)
	uri, err := a.blobs.PutObject(ctx, objectPath, contentType(result), bytes.NewReader(result.Data.Data))
	if err != nil {
		return "", fmt.Errorf("archive %s: %w", result.URL, err)
	}
	if a.renderer != nil {
		if err := a.archiveText(ctx, result, digest); err != nil {
			return uri, err
		}
	}
	return uri, nil
}

func (a *Archiver) archiveText(ctx context.Context, result *crawler.AccessResult, digest string) error {
	text, err := a.renderer.Render(&result.Data)
	if err != nil {
		return fmt.Errorf("render %s: %w", result.URL, err)
	}
	objectPath := a.join(result.SessionID, digest+textSuffix)
	if _, err := a.blobs.PutObject(ctx, objectPath, "text/plain; charset=utf-8", strings.NewReader(text)); err != nil {
		return fmt.Errorf("archive text of %s: %w", result.URL, err)
	}
	return nil
}

// ObjectPath builds prefix/session/digest.ext.
func (a *Archiver) ObjectPath(sessionID, digest, mimeType string) string {
	return a.join(sessionID, digest+extension(mimeType))
}

func (a *Archiver) join(sessionID, name string) string {
	if a.prefix == "" {
		return path.Join(sessionID, name)
	}
	return path.Join(a.prefix, sessionID, name)
}

const textSuffix = ".utf8.txt"

func extension(mimeType string) string {
	switch strings.ToLower(mimeType) {
	case "text/html", "application/xhtml+xml":
		return ".html"
	case "text/plain":
		return ".txt"
	case "":
		return ".bin"
	}
	exts, err := mime.ExtensionsByType(mimeType)
	if err != nil || len(exts) == 0 {
		return ".bin"
	}
	return exts[0]
}

func contentType(result *crawler.AccessResult) string {
	if result.MimeType == "" {
		return "application/octet-stream"
	}
	if result.Data.Encoding == "" {
		return result.MimeType
	}
	return mime.FormatMediaType(result.MimeType, map[string]string{"charset": result.Data.Encoding})
}
