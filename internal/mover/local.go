package mover

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"golang.org/x/time/rate"

	"dtm-go/internal/dtm"
)

// LocalMover copies files to a directory on a mounted filesystem (typically
// a NAS share) using an atomic write: temp file in the destination
// directory, fsync, rename.
type LocalMover struct {
	limiter *rate.Limiter
}

// NewLocalMover creates a LocalMover.
func NewLocalMover() *LocalMover {
	return &LocalMover{}
}

// SetBandwidthLimit caps copy throughput at kbps KiB/s. 0 removes the cap.
func (m *LocalMover) SetBandwidthLimit(kbps int) {
	m.limiter = NewBandwidthLimiter(kbps)
}

func (m *LocalMover) Name() string { return "local" }

// ValidateDestination verifies that dir exists, is a directory and is writable.
func (m *LocalMover) ValidateDestination(_ context.Context, dir string) error {
	return validateDir(dir)
}

// Move copies src to dst, preserving src's modification time.
// It refuses to overwrite an existing dst.
func (m *LocalMover) Move(ctx context.Context, src, dst string) error {
	if _, err := os.Lstat(dst); err == nil {
		return fmt.Errorf("destination already exists: %s", dst)
	}

	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("opening source: %w", err)
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return fmt.Errorf("stat source: %w", err)
	}

	if err := writeFile(ctx, dst, throttle(ctx, in, m.limiter), info.Size()); err != nil {
		return err
	}
	if err := os.Chtimes(dst, info.ModTime(), info.ModTime()); err != nil {
		return fmt.Errorf("preserving mtime: %w", err)
	}
	return nil
}

// Open opens the file at dst for reading.
func (m *LocalMover) Open(_ context.Context, dst string) (io.ReadCloser, error) {
	return os.Open(dst)
}

// writeFile writes data from r to destPath using atomic write (temp file + rename).
func writeFile(ctx context.Context, destPath string, r io.Reader, expectedSize int64) error {
	tmpFile, err := os.CreateTemp(filepath.Dir(destPath), dtm.TempPrefix+"*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	written, err := io.Copy(tmpFile, dtm.ContextReader(ctx, r))
	if err != nil {
		tmpFile.Close()
		return fmt.Errorf("failed to write data: %w", err)
	}
	if err := tmpFile.Sync(); err != nil {
		tmpFile.Close()
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	if written != expectedSize {
		return fmt.Errorf("size mismatch: expected %d bytes, got %d", expectedSize, written)
	}

	if err := os.Rename(tmpPath, destPath); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}

	success = true
	return nil
}

// validateDir checks that dir is an existing, writable directory.
func validateDir(dir string) error {
	info, err := os.Stat(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("destination does not exist: %s", dir)
		}
		return fmt.Errorf("destination not accessible: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("destination is not a directory: %s", dir)
	}

	check, err := os.CreateTemp(dir, dtm.TempPrefix+"check-*")
	if err != nil {
		return fmt.Errorf("destination not writable: %w", err)
	}
	check.Close()
	os.Remove(check.Name())
	return nil
}

// Compile-time check that LocalMover implements dtm.Mover interface
var _ dtm.Mover = (*LocalMover)(nil)
