package dtm

import "context"

// Compressor turns a file into a compressed artifact next to it.
type Compressor interface {
	// Compress writes <dir>/<stem><Extension()> from path, deletes path on
	// success and returns the artifact path. On failure the original is
	// untouched, no partial artifact remains and the error is a
	// *CompressionError.
	Compress(ctx context.Context, path string, level int) (string, error)

	// Decompress restores the artifact at src into a new file at dst.
	Decompress(ctx context.Context, src, dst string) error

	// Extension is the suffix of produced artifacts, including the dot.
	Extension() string
}
