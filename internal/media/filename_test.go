package media

import (
	"errors"
	"strings"
	"testing"
)

func TestSanitizeFilenameRejectsBlockedExtension(t *testing.T) {
	_, err := SanitizeFilename("payload.exe")
	var blocked *ErrBlockedExtension
	if !errors.As(err, &blocked) {
		t.Fatalf("expected ErrBlockedExtension, got %v", err)
	}
}

func TestSanitizeFilenameProducesUniqueNames(t *testing.T) {
	a, err := SanitizeFilename("photo.png")
	if err != nil {
		t.Fatalf("SanitizeFilename: %v", err)
	}
	b, err := SanitizeFilename("photo.png")
	if err != nil {
		t.Fatalf("SanitizeFilename: %v", err)
	}
	if a == b {
		t.Error("expected two sanitizations of the same name to differ")
	}
	if !strings.HasSuffix(a, "photo.png") || !strings.HasSuffix(b, "photo.png") {
		t.Errorf("expected sanitized names to retain original name and extension, got %q, %q", a, b)
	}
}

func TestSanitizeFilenameStripsUnsafeCharacters(t *testing.T) {
	got, err := SanitizeFilename("../../etc/passwd??.png")
	if err != nil {
		t.Fatalf("SanitizeFilename: %v", err)
	}
	if strings.ContainsAny(got, "/?") {
		t.Errorf("expected unsafe characters stripped, got %q", got)
	}
}

func TestSanitizeFilenameTruncatesLongNames(t *testing.T) {
	long := strings.Repeat("a", 300) + ".png"
	got, err := SanitizeFilename(long)
	if err != nil {
		t.Fatalf("SanitizeFilename: %v", err)
	}
	if len(got) > maxSanitizedNameLength+60 {
		t.Errorf("expected truncated name, got length %d", len(got))
	}
}
