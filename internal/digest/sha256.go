package digest

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"

	"dtm-go/internal/dtm"
)

// SHA256Hasher computes streaming SHA-256 digests as lowercase hex.
type SHA256Hasher struct{}

// NewSHA256Hasher creates a SHA256Hasher.
func NewSHA256Hasher() *SHA256Hasher {
	return &SHA256Hasher{}
}

// Hash returns the digest of the file at path.
func (h *SHA256Hasher) Hash(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("opening file: %w", err)
	}
	defer f.Close()
	return h.HashReader(f)
}

// HashReader returns the digest of everything read from r.
func (h *SHA256Hasher) HashReader(r io.Reader) (string, error) {
	sum := sha256.New()
	if _, err := io.Copy(sum, r); err != nil {
		return "", fmt.Errorf("reading content: %w", err)
	}
	return hex.EncodeToString(sum.Sum(nil)), nil
}

func (h *SHA256Hasher) Algorithm() string { return "sha256" }

// Compile-time check that SHA256Hasher implements dtm.Hasher interface
var _ dtm.Hasher = (*SHA256Hasher)(nil)
