package fs

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"dtm-go/internal/dtm"
)

// IgnoreFileName is the per-directory file listing extra ignore patterns.
const IgnoreFileName = ".dtmignore"

// OSInventory is the real filesystem implementation of dtm.Inventory.
// Only regular files at the top level of a directory are listed.
type OSInventory struct {
	extension string
	ignore    []string
}

// NewOSInventory creates an inventory that selects files ending in extension
// (case-insensitive; empty matches every file) and skips files matching any
// of the ignore patterns.
func NewOSInventory(extension string, ignore []string) *OSInventory {
	return &OSInventory{
		extension: strings.ToLower(extension),
		ignore:    ignore,
	}
}

// ListFiles returns the regular, non-ignored files directly inside dir,
// oldest first. Files with equal modification times are ordered by name.
func (inv *OSInventory) ListFiles(dir string) ([]*dtm.ArchivableFile, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading directory: %w", err)
	}

	matcher, err := inv.matcher(dir)
	if err != nil {
		return nil, err
	}

	var files []*dtm.ArchivableFile
	for _, entry := range entries {
		if !entry.Type().IsRegular() || matcher.Match(entry.Name()) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				// removed between ReadDir and Info
				continue
			}
			return nil, fmt.Errorf("stat %s: %w", entry.Name(), err)
		}
		files = append(files, dtm.NewArchivableFile(filepath.Join(dir, entry.Name()), info.ModTime(), info.Size()))
	}

	sort.SliceStable(files, func(i, j int) bool {
		if files[i].ModTime.Equal(files[j].ModTime) {
			return files[i].Path < files[j].Path
		}
		return files[i].ModTime.Before(files[j].ModTime)
	})
	return files, nil
}

// CountFiles returns the number of files ListFiles would return without
// stat-ing each of them.
func (inv *OSInventory) CountFiles(dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, fmt.Errorf("reading directory: %w", err)
	}

	matcher, err := inv.matcher(dir)
	if err != nil {
		return 0, err
	}

	n := 0
	for _, entry := range entries {
		if entry.Type().IsRegular() && !matcher.Match(entry.Name()) {
			n++
		}
	}
	return n, nil
}

// SelectArchivable returns the files matching the extension filter, oldest
// first, minus the most recently modified of them. The newest file may still
// be open by whatever is producing the data.
func (inv *OSInventory) SelectArchivable(dir string) ([]*dtm.ArchivableFile, error) {
	count, err := inv.CountFiles(dir)
	if err != nil {
		return nil, err
	}
	if count <= 1 {
		return []*dtm.ArchivableFile{}, nil
	}

	files, err := inv.ListFiles(dir)
	if err != nil {
		return nil, err
	}

	matching := make([]*dtm.ArchivableFile, 0, len(files))
	for _, f := range files {
		if inv.Matches(f.Name()) {
			matching = append(matching, f)
		}
	}
	if len(matching) <= 1 {
		return []*dtm.ArchivableFile{}, nil
	}
	return matching[:len(matching)-1], nil
}

// Matches reports whether name ends with the configured extension.
func (inv *OSInventory) Matches(name string) bool {
	if inv.extension == "" {
		return true
	}
	return strings.HasSuffix(strings.ToLower(name), inv.extension)
}

// Stat returns fresh file info for a path.
func (inv *OSInventory) Stat(path string) (fs.FileInfo, error) {
	return os.Stat(path)
}

// Rename renames a file, refusing to overwrite an existing one.
func (inv *OSInventory) Rename(oldPath, newPath string) error {
	if _, err := os.Lstat(newPath); err == nil {
		return fmt.Errorf("rename target already exists: %s", newPath)
	}
	return os.Rename(oldPath, newPath)
}

// Remove deletes a file.
func (inv *OSInventory) Remove(path string) error {
	return os.Remove(path)
}

// matcher builds the ignore matcher for dir from the configured patterns and
// the directory's own ignore file.
func (inv *OSInventory) matcher(dir string) (*IgnoreMatcher, error) {
	patterns, err := ParseIgnoreFile(filepath.Join(dir, IgnoreFileName))
	if err != nil {
		return nil, err
	}
	all := make([]string, 0, len(defaultIgnorePatterns)+len(inv.ignore)+len(patterns))
	all = append(all, defaultIgnorePatterns...)
	all = append(all, inv.ignore...)
	all = append(all, patterns...)
	return NewIgnoreMatcher(all), nil
}

// Compile-time check that OSInventory implements dtm.Inventory interface
var _ dtm.Inventory = (*OSInventory)(nil)
