// Package domain category.go maps MIME types onto blob resource categories.
package domain

import "strings"

// Category is the blob resource category used as a retrieval hint.
type Category string

// Known categories. Audio is served through the video category like most
// media CDNs do.
const (
	CategoryImage Category = "image"
	CategoryVideo Category = "video"
	CategoryRaw   Category = "raw"
)

// CategoryFor returns the category for a MIME type. Parameters are ignored.
func CategoryFor(mime string) Category {
	m := strings.ToLower(strings.TrimSpace(mime))
	if i := strings.IndexByte(m, ';'); i >= 0 {
		m = strings.TrimSpace(m[:i])
	}
	switch {
	case strings.HasPrefix(m, "image/"):
		return CategoryImage
	case strings.HasPrefix(m, "video/"), strings.HasPrefix(m, "audio/"):
		return CategoryVideo
	default:
		return CategoryRaw
	}
}

// ParseCategory normalizes a stored category. Unknown or empty values fall
// back to raw so legacy rows can still be deleted.
func ParseCategory(s string) Category {
	switch c := Category(strings.ToLower(strings.TrimSpace(s))); c {
	case CategoryImage, CategoryVideo, CategoryRaw:
		return c
	default:
		return CategoryRaw
	}
}
