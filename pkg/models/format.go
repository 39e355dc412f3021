package models

import (
	"path/filepath"
	"strings"
)

// FormatFromPath resolves the library format of a file by its name. Zipped
// FB2 files (".fb2.zip") count as FB2. An empty string means the file is not
// a book the library understands.
func FormatFromPath(path string) string {
	name := strings.ToLower(filepath.Base(path))
	switch {
	case strings.HasSuffix(name, ".fb2.zip"):
		return FormatFB2
	case strings.HasSuffix(name, ".fb2"):
		return FormatFB2
	case strings.HasSuffix(name, ".epub"):
		return FormatEPUB
	default:
		return ""
	}
}

// IsZippedFB2 reports whether the path names a zip archive holding an FB2 book.
func IsZippedFB2(path string) bool {
	return strings.HasSuffix(strings.ToLower(path), ".fb2.zip")
}
