package app

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"dtm-go/internal/dtm"
)

// Daemon runs the move pipeline from src to dst on every interval tick and
// once filesystem activity in src has been quiet for debounce, while the
// window is open. Runs never overlap. Daemon returns nil when ctx is done.
func (a *DTMApp) Daemon(ctx context.Context, rawSrc, dst string, interval, debounce time.Duration) error {
	src, err := filepath.Abs(rawSrc)
	if err != nil {
		return fmt.Errorf("resolving source: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(src); err != nil {
		return &dtm.ConfigError{Field: "source", Err: fmt.Errorf("watching %s: %w", src, err)}
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var settle *time.Timer
	var settled <-chan time.Time
	defer func() {
		if settle != nil {
			settle.Stop()
		}
	}()

	a.logger.Info("daemon started", "source", src, "destination", dst, "interval", interval, "window", a.gate.Window())
	a.scheduledRun(ctx, src, dst, "startup")

	for {
		select {
		case <-ctx.Done():
			a.logger.Info("daemon stopped")
			return nil

		case <-ticker.C:
			a.scheduledRun(ctx, src, dst, "tick")

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !a.relevant(event) {
				continue
			}
			a.logger.Debug("change detected", "path", event.Name, "op", event.Op.String())
			if settle == nil {
				settle = time.NewTimer(debounce)
			} else {
				settle.Reset(debounce)
			}
			settled = settle.C

		case <-settled:
			settled = nil
			a.scheduledRun(ctx, src, dst, "change")

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			a.logger.Warn("watcher error", "error", err)
		}
	}
}

// relevant reports whether a filesystem event may change what a run selects.
func (a *DTMApp) relevant(event fsnotify.Event) bool {
	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) && !event.Has(fsnotify.Rename) && !event.Has(fsnotify.Remove) {
		return false
	}
	name := filepath.Base(event.Name)
	if strings.HasPrefix(name, dtm.TempPrefix) {
		return false
	}
	return a.inventory.Matches(name)
}

// scheduledRun runs one move if the window is open and there is something to
// archive. Failures are logged and the daemon keeps going.
func (a *DTMApp) scheduledRun(ctx context.Context, src, dst, trigger string) {
	if ctx.Err() != nil {
		return
	}
	if !a.gate.Open() {
		a.logger.Debug("window closed, skipping run", "trigger", trigger, "window", a.gate.Window())
		return
	}

	files, err := a.inventory.SelectArchivable(src)
	if err != nil {
		a.logger.Error("scheduled run failed", "trigger", trigger, "error", err)
		return
	}
	if len(files) == 0 {
		a.logger.Debug("nothing to archive", "trigger", trigger)
		return
	}

	report, err := a.Move(ctx, src, dst, true)
	switch {
	case err != nil && ctx.Err() != nil:
		a.logger.Info("scheduled run interrupted", "trigger", trigger)
	case err != nil:
		a.logger.Error("scheduled run failed", "trigger", trigger, "error", err)
	default:
		a.logger.Info("scheduled run finished", "trigger", trigger, "archived", report.Archived(), "failed", report.Failed())
	}
}
