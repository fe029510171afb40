package dtm

import (
	"fmt"
	"path/filepath"
	"time"
)

// State is a step of the per-file archival lifecycle.
type State string

const (
	StateDiscovered State = "discovered"
	StateRenamed    State = "renamed"
	StateCompressed State = "compressed"
	StateMoved      State = "moved"
	StateVerified   State = "verified"
	StateDone       State = "done"
	StateFailed     State = "failed"
)

// ArchivableFile is a file the inventory found at the top level of a
// working directory. Path is absolute and identifies the file.
type ArchivableFile struct {
	Path    string
	ModTime time.Time
	Size    int64

	digest string
}

// NewArchivableFile creates an ArchivableFile for the given path.
func NewArchivableFile(path string, modTime time.Time, size int64) *ArchivableFile {
	return &ArchivableFile{Path: path, ModTime: modTime, Size: size}
}

// Name returns the base name of the file.
func (f *ArchivableFile) Name() string {
	return filepath.Base(f.Path)
}

// Digest returns the file's content digest, computing it on first use.
// Renaming the file keeps the cached digest since the content is unchanged.
func (f *ArchivableFile) Digest(h Hasher) (string, error) {
	if f.digest != "" {
		return f.digest, nil
	}
	d, err := h.Hash(f.Path)
	if err != nil {
		return "", fmt.Errorf("hashing %s: %w", f.Path, err)
	}
	f.digest = d
	return d, nil
}
