package dtm

import "io/fs"

// Inventory lists and manipulates the files of a working directory.
// Only regular files at the top level of a directory are considered.
type Inventory interface {
	// ListFiles returns the directory's regular files that are not ignored,
	// oldest first.
	ListFiles(dir string) ([]*ArchivableFile, error)

	// CountFiles returns the number of files ListFiles would return.
	CountFiles(dir string) (int, error)

	// SelectArchivable returns every file matching the extension filter
	// except the most recently modified one. It returns an empty slice when
	// at most one file matches.
	SelectArchivable(dir string) ([]*ArchivableFile, error)

	// Matches reports whether a file name passes the extension filter.
	Matches(name string) bool

	Stat(path string) (fs.FileInfo, error)
	Rename(oldPath, newPath string) error
	Remove(path string) error
}
