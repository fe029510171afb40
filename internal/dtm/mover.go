package dtm

import (
	"context"
	"io"
)

// Mover places a copy of a local file at a destination and can read it back.
// Movers never delete the source: the Archivist does that once the
// destination copy has been verified.
type Mover interface {
	Name() string

	// ValidateDestination checks that dir is usable as a destination.
	ValidateDestination(ctx context.Context, dir string) error

	// Move places the content of src at dst.
	Move(ctx context.Context, src, dst string) error

	// Open reads back the content stored at dst.
	Open(ctx context.Context, dst string) (io.ReadCloser, error)
}
