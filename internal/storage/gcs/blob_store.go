// Package gcs archives fetched result bodies in a Google Cloud Storage bucket.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"cloud.google.com/go/storage"
)

const defaultContentType = "application/octet-stream"

// Config names the bucket and the object prefix archived bodies live under.
type Config struct {
	Bucket string
	Prefix string
	// CacheControl is copied onto every object when set.
	CacheControl string
}

// BlobStore implements crawler.BlobStore on a single bucket.
type BlobStore struct {
	client *storage.Client
	bucket *storage.BucketHandle
	cfg    Config
}

// New wraps client. The store owns the client and closes it in Close.
func New(client *storage.Client, cfg Config) (*BlobStore, error) {
	switch {
	case client == nil:
		return nil, errors.New("gcs: storage client is required")
	case strings.TrimSpace(cfg.Bucket) == "":
		return nil, errors.New("gcs: bucket name is required")
	}
	cfg.Prefix = strings.Trim(cfg.Prefix, "/")
	return &BlobStore{client: client, bucket: client.Bucket(cfg.Bucket), cfg: cfg}, nil
}

// ObjectName maps an archive path onto the bucket's object namespace.
func (s *BlobStore) ObjectName(p string) string {
	p = strings.TrimLeft(p, "/")
	if s.cfg.Prefix == "" {
		return p
	}
	return path.Join(s.cfg.Prefix, p)
}

// PutObject streams r into the bucket and returns its gs:// URI.
func (s *BlobStore) PutObject(ctx context.Context, p string, contentType string, r io.Reader) (string, error) {
	if strings.TrimSpace(p) == "" {
		return "", errors.New("gcs: object path is required")
	}
	name := s.ObjectName(p)
	w := s.bucket.Object(name).NewWriter(ctx)
	w.ContentType = contentType
	if w.ContentType == "" {
		w.ContentType = defaultContentType
	}
	w.CacheControl = s.cfg.CacheControl

	if _, err := io.Copy(w, r); err != nil {
		// Close aborts the resumable upload; its error adds nothing.
		_ = w.Close()
		return "", fmt.Errorf("upload %s: %w", name, err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("finalize %s: %w", name, err)
	}
	return "gs://" + s.cfg.Bucket + "/" + name, nil
}

// Close releases the client.
func (s *BlobStore) Close() error {
	if err := s.client.Close(); err != nil {
		return fmt.Errorf("close gcs client: %w", err)
	}
	return nil
}
