// Package cache derives the content-addressed keys that name generated
// image variants.
//
// A key is a fingerprint of the source image bytes together with the
// transform parameters that produced a variant. Identical inputs always map
// to the identical key, which is what makes re-running the pipeline target
// the same output paths instead of minting new names.
//
// Keys are truncated to [KeyLength] characters of base64url (48 bits) to keep
// filenames short. Unrelated images that share a basename and directory may
// collide with a small probability.
package cache

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"slices"
	"strconv"
	"strings"
)

// KeyLength is the number of characters in a variant key.
const KeyLength = 8

// Key returns the variant key for data transformed to width and quality in
// the given formats. Format order does not matter; the list is sorted before
// hashing.
func Key(data []byte, width, quality int, formats []string) string {
	sorted := slices.Clone(formats)
	slices.Sort(sorted)

	h := sha256.New()
	h.Write(data)
	h.Write([]byte("w:" + strconv.Itoa(width)))
	h.Write([]byte("q:" + strconv.Itoa(quality)))
	h.Write([]byte("f:" + strings.Join(sorted, ",")))

	return base64.RawURLEncoding.EncodeToString(h.Sum(nil))[:KeyLength]
}

// Hash computes a SHA-256 hash of the input data.
// Returns the full 64-character hex string.
func Hash(data []byte) string {
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:])
}
