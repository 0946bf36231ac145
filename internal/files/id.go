package files

import (
	"regexp"
	"strings"

	"github.com/oklog/ulid/v2"
)

// File ids are "df-" plus a lowercase ULID: time-ordered, lexically
// sortable and globally unique.
const idPrefix = "df-"

var fileIDPattern = regexp.MustCompile(`^df-[0-9a-hjkmnp-tv-z]{26}$`)

// NewFileID generates a fresh file id.
func NewFileID() string {
	return idPrefix + strings.ToLower(ulid.Make().String())
}

// ValidFileID reports whether a caller-supplied string has the exact id
// shape. Checked before any index lookup.
func ValidFileID(id string) bool {
	return fileIDPattern.MatchString(id)
}

// BackendPath derives the backend-relative path for a file: the id's
// ULID part as a directory plus the sanitized filename, so identically
// named uploads never collide.
func BackendPath(id, filename string) string {
	return strings.TrimPrefix(id, idPrefix) + "/" + filename
}

// SanitizeFilename strips path separators and null bytes from an
// original filename, falling back to a placeholder when nothing usable
// is left. "." and ".." are placeholders too: joined onto a backend
// path they would resolve to a directory, not a file.
func SanitizeFilename(filename string) string {
	filename = strings.ReplaceAll(filename, "/", "_")
	filename = strings.ReplaceAll(filename, "\\", "_")
	filename = strings.ReplaceAll(filename, "\x00", "")
	if filename == "" || filename == "." || filename == ".." {
		return "unnamed"
	}
	return filename
}
