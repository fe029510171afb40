package dtm

import "io"

// Hasher computes content digests as lowercase hex strings.
type Hasher interface {
	Hash(path string) (string, error)
	HashReader(r io.Reader) (string, error)
	Algorithm() string
}
