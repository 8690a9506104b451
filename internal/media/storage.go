// Package media implements local-disk storage for uploads and server/role icons. There is no multi-process fleet
// to offload thumbnailing to, so icons are resized synchronously with disintegration/imaging on the request
// goroutine rather than queued to a background worker.
package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// ErrStorageKeyNotFound is returned by Get when the key does not exist.
var ErrStorageKeyNotFound = errors.New("media: storage key not found")

// LocalStorage stores files on the local filesystem under basePath, serving them from baseURL.
type LocalStorage struct {
	basePath string
	baseURL  string
}

// NewLocalStorage creates a storage provider rooted at basePath.
func NewLocalStorage(basePath, baseURL string) *LocalStorage {
	return &LocalStorage{basePath: basePath, baseURL: strings.TrimRight(baseURL, "/")}
}

// Put writes the contents of r to the file identified by key, creating parent directories as needed. The data is
// written to a temporary file in the same directory and renamed into place, so a crash mid-upload never leaves a
// truncated file under key; the temporary file is removed on failure.
func (s *LocalStorage) Put(_ context.Context, key string, r io.Reader) (int64, error) {
	fullPath := filepath.Join(s.basePath, key)

	if err := os.MkdirAll(filepath.Dir(fullPath), 0o755); err != nil {
		return 0, fmt.Errorf("create storage directory: %w", err)
	}

	f, err := os.CreateTemp(filepath.Dir(fullPath), ".upload-*")
	if err != nil {
		return 0, fmt.Errorf("create storage file: %w", err)
	}
	tmpPath := f.Name()

	n, err := io.Copy(f, r)
	if err != nil {
		_ = f.Close()
		_ = os.Remove(tmpPath)
		return 0, fmt.Errorf("write storage file: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return 0, fmt.Errorf("close storage file: %w", err)
	}
	if err := os.Rename(tmpPath, fullPath); err != nil {
		_ = os.Remove(tmpPath)
		return 0, fmt.Errorf("rename storage file: %w", err)
	}
	return n, nil
}

// Get opens the file identified by key for reading.
func (s *LocalStorage) Get(_ context.Context, key string) (io.ReadCloser, error) {
	f, err := os.Open(filepath.Join(s.basePath, key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrStorageKeyNotFound
		}
		return nil, fmt.Errorf("open storage file: %w", err)
	}
	return f, nil
}

// Delete removes the file at key. A missing file is not an error: callers delete best-effort after the database
// record is already gone, and the file may have been removed by a previous crashed attempt.
func (s *LocalStorage) Delete(_ context.Context, key string) error {
	if err := os.Remove(filepath.Join(s.basePath, key)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete storage file: %w", err)
	}
	return nil
}

// URL returns the public URL for the given storage key under the given route prefix (e.g. "uploads" or
// "role-icons", per spec.md §6's static file routes).
func (s *LocalStorage) URL(routePrefix, key string) string {
	return s.baseURL + "/" + routePrefix + "/" + key
}
