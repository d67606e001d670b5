package memory

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"slices"
	"sync"
)

type blob struct {
	data        []byte
	contentType string
}

// BlobStore is a crawler.BlobStore that keeps archived bodies in a map.
type BlobStore struct {
	mu    sync.RWMutex
	blobs map[string]blob
}

// NewBlobStore returns an empty store.
func NewBlobStore() *BlobStore {
	return &BlobStore{blobs: make(map[string]blob)}
}

// PutObject reads r fully and stores it under path, replacing any previous body.
func (s *BlobStore) PutObject(ctx context.Context, path string, contentType string, r io.Reader) (string, error) {
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(r); err != nil {
		return "", fmt.Errorf("read object %s: %w", path, err)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.mu.Lock()
	s.blobs[path] = blob{data: buf.Bytes(), contentType: contentType}
	s.mu.Unlock()
	return "memory://" + path, nil
}

// Object returns a copy of the body stored under path.
func (s *BlobStore) Object(path string) ([]byte, string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.blobs[path]
	if !ok {
		return nil, "", false
	}
	return bytes.Clone(b.data), b.contentType, true
}

// Paths lists stored paths in lexical order.
func (s *BlobStore) Paths() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	paths := make([]string, 0, len(s.blobs))
	for p := range s.blobs {
		paths = append(paths, p)
	}
	slices.Sort(paths)
	return paths
}
