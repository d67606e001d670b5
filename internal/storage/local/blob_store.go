// Package local archives result payloads under a directory on disk.
package local

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	googleuuid "github.com/google/uuid"
)

// Config names the archive directory.
type Config struct {
	BaseDir string `mapstructure:"base_dir" yaml:"base_dir"`
}

// BlobStore writes each object through an os.Root so no path can leave BaseDir.
type BlobStore struct {
	dir  string
	root *os.Root
}

// New creates BaseDir when missing and fails early if it cannot be written.
func New(cfg Config) (*BlobStore, error) {
	if strings.TrimSpace(cfg.BaseDir) == "" {
		return nil, errors.New("local archive: base directory is required")
	}
	dir, err := filepath.Abs(cfg.BaseDir)
	if err != nil {
		return nil, fmt.Errorf("local archive: resolve %s: %w", cfg.BaseDir, err)
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("local archive: create %s: %w", dir, err)
	}
	root, err := os.OpenRoot(dir)
	if err != nil {
		return nil, fmt.Errorf("local archive: open %s: %w", dir, err)
	}
	s := &BlobStore{dir: dir, root: root}

	probe := ".writable-" + googleuuid.NewString()
	if err := root.WriteFile(probe, nil, 0o600); err != nil {
		_ = root.Close()
		return nil, fmt.Errorf("local archive: %s is not writable: %w", dir, err)
	}
	_ = root.Remove(probe)
	return s, nil
}

// PutObject writes data to BaseDir/p and returns a file:// URI. The object
// is renamed into place, so readers never observe a partial file.
func (s *BlobStore) PutObject(_ context.Context, p string, _ string, data io.Reader) (string, error) {
	name := path.Clean(strings.TrimLeft(filepath.ToSlash(p), "/"))
	if name == "." || name == "" {
		return "", errors.New("local archive: object path is required")
	}
	if parent := path.Dir(name); parent != "." {
		if err := s.root.MkdirAll(parent, 0o750); err != nil {
			return "", fmt.Errorf("local archive: mkdir %s: %w", parent, err)
		}
	}

	tmp := path.Join(path.Dir(name), ".part-"+googleuuid.NewString())
	f, err := s.root.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o640)
	if err != nil {
		return "", fmt.Errorf("local archive: create %s: %w", name, err)
	}
	_, copyErr := io.Copy(f, data)
	closeErr := f.Close()
	if err := errors.Join(copyErr, closeErr); err != nil {
		_ = s.root.Remove(tmp)
		return "", fmt.Errorf("local archive: write %s: %w", name, err)
	}
	if err := s.root.Rename(tmp, name); err != nil {
		_ = s.root.Remove(tmp)
		return "", fmt.Errorf("local archive: publish %s: %w", name, err)
	}
	return "file://" + filepath.Join(s.dir, filepath.FromSlash(name)), nil
}

// Close releases the directory handle.
func (s *BlobStore) Close() error {
	return s.root.Close()
}
