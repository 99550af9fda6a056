// Package sha256 names archived pages by the SHA-256 digest of their body.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"
	"path"
)

// Hasher derives content-addressed keys.
type Hasher struct{}

// New returns a SHA-256 hasher.
func New() *Hasher {
	return &Hasher{}
}

// Hash returns the hex digest of data.
func (h *Hasher) Hash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// PageKey returns the relative key pages/<digest>.html for a page body.
// Identical bodies share a key.
func (h *Hasher) PageKey(body []byte) string {
	return path.Join("pages", h.Hash(body)+".html")
}
