package dtm

import (
	"fmt"
	"time"
)

// Planned actions reported by Plan.
const (
	ActionArchive    = "archive"
	ActionKeepNewest = "keep-newest"
	ActionSkip       = "skip"
)

// PlanEntry describes what a run would do with one file.
type PlanEntry struct {
	Name    string
	Action  string
	ModTime time.Time
	Size    int64
}

// Plan reports, without touching anything, what Run would do with each file
// currently in dir.
func (a *Archivist) Plan(dir string) ([]*PlanEntry, error) {
	a.logger.Debug("computing plan", "dir", dir)

	if err := a.checkSource(dir); err != nil {
		return nil, err
	}

	files, err := a.inventory.ListFiles(dir)
	if err != nil {
		return nil, fmt.Errorf("listing files: %w", err)
	}

	selected, err := a.inventory.SelectArchivable(dir)
	if err != nil {
		return nil, fmt.Errorf("selecting files: %w", err)
	}
	archive := make(map[string]bool, len(selected))
	for _, f := range selected {
		archive[f.Path] = true
	}

	entries := make([]*PlanEntry, 0, len(files))
	for _, f := range files {
		action := ActionSkip
		switch {
		case archive[f.Path]:
			action = ActionArchive
		case a.inventory.Matches(f.Name()):
			action = ActionKeepNewest
		}
		entries = append(entries, &PlanEntry{
			Name:    f.Name(),
			Action:  action,
			ModTime: f.ModTime,
			Size:    f.Size,
		})
	}
	return entries, nil
}
