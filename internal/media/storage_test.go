package media

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
)

func TestLocalStoragePutAndGet(t *testing.T) {
	ctx := context.Background()
	store := NewLocalStorage(t.TempDir(), "http://localhost:8080")

	content := []byte("hello world")
	n, err := store.Put(ctx, "a/b.txt", bytes.NewReader(content))
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if n != int64(len(content)) {
		t.Errorf("expected %d bytes written, got %d", len(content), n)
	}

	rc, err := store.Get(ctx, "a/b.txt")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	defer rc.Close()
	got, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if !bytes.Equal(got, content) {
		t.Errorf("got %q, want %q", got, content)
	}
}

func TestLocalStorageGetMissing(t *testing.T) {
	store := NewLocalStorage(t.TempDir(), "http://localhost:8080")
	_, err := store.Get(context.Background(), "nope.txt")
	if !errors.Is(err, ErrStorageKeyNotFound) {
		t.Errorf("expected ErrStorageKeyNotFound, got %v", err)
	}
}

func TestLocalStorageDeleteMissingIsNotError(t *testing.T) {
	store := NewLocalStorage(t.TempDir(), "http://localhost:8080")
	if err := store.Delete(context.Background(), "nope.txt"); err != nil {
		t.Errorf("expected nil error deleting missing file, got %v", err)
	}
}

func TestLocalStorageURL(t *testing.T) {
	store := NewLocalStorage(t.TempDir(), "http://localhost:8080/")
	got := store.URL("uploads", "abc.png")
	want := "http://localhost:8080/uploads/abc.png"
	if got != want {
		t.Errorf("URL() = %q, want %q", got, want)
	}
}

func TestLocalStoragePutCreatesNestedDirectories(t *testing.T) {
	dir := t.TempDir()
	store := NewLocalStorage(dir, "http://localhost:8080")
	if _, err := store.Put(context.Background(), "nested/deep/file.txt", bytes.NewReader([]byte("x"))); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "nested/deep/file.txt")); err != nil {
		t.Errorf("expected nested file to exist: %v", err)
	}
}
