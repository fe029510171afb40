package dtm

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
)

// DefaultCompressionLevel is the compression effort used when none is configured.
const DefaultCompressionLevel = 6

// Archivist runs the safe-archival protocol over a working directory:
// select, rename, compress, move, verify, clean up.
//
// An Archivist owns the files of a source directory while a run is in
// progress. Callers must not run two Archivists against the same source
// directory at the same time.
type Archivist struct {
	inventory  Inventory
	compressor Compressor
	mover      Mover
	hasher     Hasher
	journal    Journal
	logger     Logger
	clock      Clock
	idgen      IDGenerator
	level      int
}

// NewArchivist creates an Archivist with the provided dependencies.
func NewArchivist(inventory Inventory, compressor Compressor, mover Mover, hasher Hasher, journal Journal, logger Logger, clock Clock, idgen IDGenerator) *Archivist {
	return &Archivist{
		inventory:  inventory,
		compressor: compressor,
		mover:      mover,
		hasher:     hasher,
		journal:    journal,
		logger:     logger,
		clock:      clock,
		idgen:      idgen,
		level:      DefaultCompressionLevel,
	}
}

// SetCompressionLevel sets the effort passed to the compressor.
func (a *Archivist) SetCompressionLevel(level int) {
	a.level = level
}

// Run archives every eligible file of b.SourceDir into b.DestDir.
//
// A failure on one file is recorded in the report and the batch moves on to
// the next file. Configuration problems (missing directories, unusable
// destination) abort the run with a *ConfigError. If ctx is cancelled the
// current file is abandoned before anything is deleted and Run returns the
// partial report together with ctx.Err().
func (a *Archivist) Run(ctx context.Context, b Batch) (*Report, error) {
	report := &Report{RunID: b.RunID, Stage: StageLocal}

	if err := a.checkSource(b.SourceDir); err != nil {
		return report, err
	}

	files, err := a.inventory.SelectArchivable(b.SourceDir)
	if err != nil {
		return report, fmt.Errorf("selecting files: %w", err)
	}
	if len(files) == 0 {
		a.logger.Info("no files to move", "dir", b.SourceDir)
		return report, nil
	}

	if err := a.mover.ValidateDestination(ctx, b.DestDir); err != nil {
		return report, &ConfigError{Field: "destination", Err: err}
	}

	a.logger.Info("archival started", "source", b.SourceDir, "destination", b.DestDir, "files", len(files), "mover", a.mover.Name())

	for _, f := range files {
		if err := ctx.Err(); err != nil {
			a.logger.Warn("archival cancelled", "remaining", len(files)-len(report.Results))
			return report, err
		}

		res := a.archiveFile(ctx, b.DestDir, f)
		report.Results = append(report.Results, res)
		a.record(b.RunID, StageLocal, res)

		if res.Err != nil && ctx.Err() != nil {
			a.logger.Warn("archival cancelled", "remaining", len(files)-len(report.Results))
			return report, ctx.Err()
		}
	}

	a.logger.Info("archival finished", "archived", report.Archived(), "failed", report.Failed())
	return report, nil
}

// ArchiveDirectory moves every file at the top of b.SourceDir to b.DestDir
// with the same move, verify and delete contract as Run, without renaming or
// compressing. It is the NAS to cloud stage of the pipeline.
func (a *Archivist) ArchiveDirectory(ctx context.Context, b Batch) (*Report, error) {
	report := &Report{RunID: b.RunID, Stage: StageCloud}

	if err := a.checkSource(b.SourceDir); err != nil {
		return report, err
	}

	files, err := a.inventory.ListFiles(b.SourceDir)
	if err != nil {
		return report, fmt.Errorf("listing files: %w", err)
	}
	if len(files) == 0 {
		a.logger.Info("no files to move", "dir", b.SourceDir)
		return report, nil
	}

	if err := a.mover.ValidateDestination(ctx, b.DestDir); err != nil {
		return report, &ConfigError{Field: "destination", Err: err}
	}

	a.logger.Info("directory transfer started", "source", b.SourceDir, "destination", b.DestDir, "files", len(files), "mover", a.mover.Name())

	for _, f := range files {
		if err := ctx.Err(); err != nil {
			a.logger.Warn("directory transfer cancelled", "remaining", len(files)-len(report.Results))
			return report, err
		}

		res := &FileResult{Source: f.Path, Artifact: f.Path, State: StateDiscovered}
		a.transfer(ctx, res, b.DestDir)
		report.Results = append(report.Results, res)
		a.record(b.RunID, StageCloud, res)

		if res.Err != nil && ctx.Err() != nil {
			return report, ctx.Err()
		}
	}

	a.logger.Info("directory transfer finished", "moved", report.Archived(), "failed", report.Failed())
	return report, nil
}

func (a *Archivist) checkSource(dir string) error {
	info, err := a.inventory.Stat(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return &ConfigError{Field: "source", Err: fmt.Errorf("directory does not exist: %w", err)}
		}
		return &ConfigError{Field: "source", Err: err}
	}
	if !info.IsDir() {
		return &ConfigError{Field: "source", Err: fmt.Errorf("not a directory: %s", dir)}
	}
	return nil
}

// archiveFile takes one file from discovered to done, or to failed.
func (a *Archivist) archiveFile(ctx context.Context, destDir string, f *ArchivableFile) *FileResult {
	res := &FileResult{Source: f.Path, State: StateDiscovered}
	a.logger.Debug("file discovered", "path", f.Path, "size", f.Size)

	original := f.Path
	renamed := filepath.Join(filepath.Dir(f.Path), TimestampPrefix(a.clock.Now())+f.Name())
	if err := a.inventory.Rename(f.Path, renamed); err != nil {
		return a.fail(res, &CompressionError{Path: f.Path, Err: fmt.Errorf("renaming: %w", err)})
	}
	f.Path = renamed
	res.Artifact = renamed
	a.advance(res, StateRenamed, "path", renamed)

	// Until the artifact exists the renamed file still matches the
	// extension filter, so every failure below puts the original name back.
	contentDigest, err := f.Digest(a.hasher)
	if err != nil {
		a.undoRename(f, res, original)
		return a.fail(res, &CompressionError{Path: renamed, Err: err})
	}
	res.ContentDigest = contentDigest

	if err := ctx.Err(); err != nil {
		a.undoRename(f, res, original)
		return a.fail(res, err)
	}

	artifact, err := a.compressor.Compress(ctx, renamed, a.level)
	if err != nil {
		a.undoRename(f, res, original)
		return a.fail(res, err)
	}
	res.Artifact = artifact
	a.advance(res, StateCompressed, "artifact", artifact)

	return a.transfer(ctx, res, destDir)
}

// transfer moves res.Artifact into destDir, verifies the copy and deletes
// the local artifact.
func (a *Archivist) transfer(ctx context.Context, res *FileResult, destDir string) *FileResult {
	src := res.Artifact
	dst := filepath.Join(destDir, filepath.Base(src))
	res.Destination = dst

	before, err := a.hasher.Hash(src)
	if err != nil {
		return a.fail(res, &MoveError{Source: src, Destination: dst, Err: fmt.Errorf("hashing source: %w", err)})
	}
	res.DigestBefore = before

	if err := ctx.Err(); err != nil {
		return a.fail(res, err)
	}

	if err := a.mover.Move(ctx, src, dst); err != nil {
		return a.fail(res, &MoveError{Source: src, Destination: dst, Err: err})
	}
	a.advance(res, StateMoved, "destination", dst)

	after, err := a.destinationDigest(ctx, dst)
	if err != nil {
		return a.fail(res, &MoveError{Source: src, Destination: dst, Err: fmt.Errorf("hashing destination: %w", err)})
	}
	res.DigestAfter = after

	if after != before {
		return a.fail(res, &IntegrityError{Path: dst, Want: before, Got: after})
	}
	a.advance(res, StateVerified, "digest", after)

	if err := ctx.Err(); err != nil {
		return a.fail(res, err)
	}

	if err := a.inventory.Remove(src); err != nil {
		return a.fail(res, &MoveError{Source: src, Destination: dst, Err: fmt.Errorf("removing source: %w", err)})
	}
	a.advance(res, StateDone, "source", res.Source)
	return res
}

func (a *Archivist) destinationDigest(ctx context.Context, dst string) (string, error) {
	rc, err := a.mover.Open(ctx, dst)
	if err != nil {
		return "", err
	}
	defer rc.Close()
	return a.hasher.HashReader(rc)
}

// undoRename moves a renamed but uncompressed file back to its original path.
func (a *Archivist) undoRename(f *ArchivableFile, res *FileResult, original string) {
	if err := a.inventory.Rename(f.Path, original); err != nil {
		a.logger.Error("failed to restore original name", "path", f.Path, "original", original, "error", err)
		return
	}
	a.logger.Debug("original name restored", "path", original)
	f.Path = original
	res.Artifact = original
}

func (a *Archivist) advance(res *FileResult, state State, args ...any) {
	res.State = state
	a.logger.Info("file "+string(state), append([]any{"file", res.Source}, args...)...)
}

func (a *Archivist) fail(res *FileResult, err error) *FileResult {
	res.FailedAt = res.State
	res.State = StateFailed
	res.Err = err

	var ierr *IntegrityError
	if errors.As(err, &ierr) {
		a.logger.Critical("integrity check failed", "file", res.Source, "destination", ierr.Path, "want", ierr.Want, "got", ierr.Got)
		return res
	}
	a.logger.Error("file failed", "file", res.Source, "state", res.FailedAt, "error", err)
	return res
}

// record writes the transfer record for res. Journal failures are logged
// and do not affect the file's outcome.
func (a *Archivist) record(runID int64, stage Stage, res *FileResult) {
	rec := &TransferRecord{
		ID:            a.idgen.New(),
		RunID:         runID,
		Stage:         stage,
		Source:        res.Source,
		Artifact:      filepath.Base(res.Artifact),
		Destination:   res.Destination,
		State:         res.State,
		Outcome:       OutcomeSuccess,
		ContentDigest: res.ContentDigest,
		DigestBefore:  res.DigestBefore,
		DigestAfter:   res.DigestAfter,
		RecordedAt:    a.clock.Now(),
	}
	if res.Err != nil {
		rec.Outcome = OutcomeFailure
		rec.State = res.FailedAt
		rec.Error = res.Err.Error()
	}

	a.logger.Info("transfer recorded", "file", rec.Source, "stage", rec.Stage, "outcome", rec.Outcome, "state", rec.State)
	if err := a.journal.RecordTransfer(rec); err != nil {
		a.logger.Warn("failed to journal transfer", "file", rec.Source, "error", err)
	}
}
