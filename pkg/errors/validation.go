package errors

import (
	"strings"
	"unicode"
)

// ValidatePath validates a source-relative image path for safety.
// It prevents path traversal out of the source asset root.
//
// Validation rules:
//   - Path cannot be empty
//   - Maximum length of 500 characters
//   - No null bytes or control characters
//   - No absolute paths (must be relative)
//   - No path traversal sequences (..)
//   - No backslashes (Windows-style paths)
func ValidatePath(path string) error {
	if path == "" {
		return New(ErrCodeInvalidPath, "path cannot be empty")
	}

	const maxPathLength = 500
	if len(path) > maxPathLength {
		return New(ErrCodeInvalidPath, "path too long (max %d characters)", maxPathLength)
	}

	for _, r := range path {
		if r == '\x00' || unicode.IsControl(r) {
			return New(ErrCodeInvalidPath, "path contains invalid characters")
		}
	}

	if strings.HasPrefix(path, "/") {
		return New(ErrCodeInvalidPath, "path must be relative (cannot start with /)")
	}

	for _, seg := range strings.Split(path, "/") {
		if seg == ".." {
			return New(ErrCodeInvalidPath, "path cannot contain path traversal sequences (..)")
		}
	}

	if strings.Contains(path, "\\") {
		return New(ErrCodeInvalidPath, "path cannot contain backslashes")
	}

	return nil
}

// ValidateQuality checks that q is an encoder quality in [0, 100].
func ValidateQuality(q int) error {
	if q < 0 || q > 100 {
		return New(ErrCodeInvalidQuality, "quality must be between 0 and 100, got %d", q)
	}
	return nil
}

// MaxWidth is the largest accepted target width. The 2x variant of a
// MaxWidth request stays within MaxDimension.
const MaxWidth = 16384

// MaxDimension bounds either side of any generated image.
const MaxDimension = 2 * MaxWidth

// ValidateWidth checks that w is a pixel width in [1, MaxWidth].
func ValidateWidth(w int) error {
	if w <= 0 {
		return New(ErrCodeInvalidWidth, "width must be a positive integer, got %d", w)
	}
	if w > MaxWidth {
		return New(ErrCodeInvalidWidth, "width %d exceeds the maximum of %d", w, MaxWidth)
	}
	return nil
}
