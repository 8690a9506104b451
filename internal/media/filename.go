package media

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

// maxSanitizedNameLength is the cap on the human-readable portion of a stored filename (spec.md §4.4).
const maxSanitizedNameLength = 120

// blockedExtensions rejects uploads that could be executed if served directly (spec.md §4.4 "Upload validation").
var blockedExtensions = map[string]struct{}{
	".exe": {}, ".bat": {}, ".cmd": {}, ".com": {}, ".scr": {}, ".vbs": {},
	".js": {}, ".jar": {}, ".msi": {}, ".dll": {}, ".so": {}, ".dylib": {},
	".sh": {}, ".ps1": {},
}

// ErrBlockedExtension is returned for a filename whose extension is not allowed.
type ErrBlockedExtension struct{ Extension string }

func (e *ErrBlockedExtension) Error() string {
	return fmt.Sprintf("media: extension %q is not allowed", e.Extension)
}

var unsafeNameChars = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)

// SanitizeFilename validates original against the extension blocklist and produces a storage-safe name of the
// form "<unix timestamp>-<uuid>-<sanitized original name>" (spec.md §4.4), unique enough to avoid collisions
// without needing a database round-trip first.
func SanitizeFilename(original string) (string, error) {
	ext := strings.ToLower(filepath.Ext(original))
	if _, blocked := blockedExtensions[ext]; blocked {
		return "", &ErrBlockedExtension{Extension: ext}
	}

	base := strings.TrimSuffix(filepath.Base(original), filepath.Ext(original))
	base = unsafeNameChars.ReplaceAllString(base, "_")
	if base == "" {
		base = "file"
	}
	if len(base) > maxSanitizedNameLength {
		base = base[:maxSanitizedNameLength]
	}

	return fmt.Sprintf("%d-%s-%s%s", time.Now().Unix(), uuid.NewString(), base, ext), nil
}
