package app

import (
	"context"
	"fmt"
	"io"
	"path/filepath"

	"dtm-go/internal/compress"
	"dtm-go/internal/config"
	"dtm-go/internal/database"
	"dtm-go/internal/digest"
	"dtm-go/internal/dtm"
	"dtm-go/internal/fs"
	"dtm-go/internal/mover"
)

// Mover config sections, also used as run operation names.
const (
	stageMove  = "move"
	stageCloud = "cloud"
)

// DTMApp is the application layer between the CLI and the Archivist.
// It constructs all dependencies from config, exposes high-level operations
// that accept raw string paths, and manages the journal lifecycle on Close.
type DTMApp struct {
	cfg        *config.Config
	journal    *database.SQLiteJournal
	inventory  *fs.OSInventory
	compressor *compress.XZCompressor
	hasher     *digest.SHA256Hasher
	gate       *dtm.Gate
	logger     dtm.Logger
	logCloser  io.Closer
	clock      dtm.Clock
	idgen      dtm.IDGenerator
	movers     map[string]dtm.Mover
}

// NewDTMApp creates a fully wired DTMApp from the given config.
// The caller must call Close when done.
func NewDTMApp(cfg *config.Config) (*DTMApp, error) {
	logger, logCloser, err := newLogger(cfg.LogDir, cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("creating logger: %w", err)
	}

	a, err := newDTMApp(cfg, &slogAdapter{l: logger}, dtm.RealClock{})
	if err != nil {
		logCloser.Close()
		return nil, err
	}
	a.logCloser = logCloser
	return a, nil
}

func newDTMApp(cfg *config.Config, logger dtm.Logger, clock dtm.Clock) (*DTMApp, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	journal, err := database.NewJournalFromConfig(cfg.Database, clock)
	if err != nil {
		return nil, fmt.Errorf("creating journal: %w", err)
	}

	if err := journal.CheckMigrations(); err != nil {
		journal.Close()
		return nil, fmt.Errorf("journal schema out of date: %w", err)
	}

	return &DTMApp{
		cfg:        cfg,
		journal:    journal,
		inventory:  fs.NewOSInventory(cfg.Archive.Extension, cfg.Archive.Ignore),
		compressor: compress.NewXZCompressor(),
		hasher:     digest.NewSHA256Hasher(),
		gate:       dtm.NewGate(cfg.Window.TimeWindow(), clock),
		logger:     logger,
		clock:      clock,
		idgen:      dtm.UUIDGenerator{},
		movers:     make(map[string]dtm.Mover),
	}, nil
}

// archivist builds an Archivist around m. m may be nil for operations that
// never transfer (plan, history, restore).
func (a *DTMApp) archivist(m dtm.Mover) *dtm.Archivist {
	arch := dtm.NewArchivist(a.inventory, a.compressor, m, a.hasher, a.journal, a.logger, a.clock, a.idgen)
	arch.SetCompressionLevel(a.cfg.Archive.CompressionLevel)
	return arch
}

// mover returns the mover for a stage, creating it on first use so that the
// cloud credentials are only needed by the cloud stage.
func (a *DTMApp) mover(ctx context.Context, stage string) (dtm.Mover, error) {
	if m, ok := a.movers[stage]; ok {
		return m, nil
	}

	cfg, section := a.cfg.Mover, "mover"
	if stage == stageCloud {
		cfg, section = a.cfg.Cloud, "cloud"
	}

	m, err := mover.NewMoverFromConfig(ctx, cfg, a.logger)
	if err != nil {
		return nil, &dtm.ConfigError{Field: section, Err: err}
	}
	a.movers[stage] = m
	return m, nil
}

type stageFunc func(*dtm.Archivist, context.Context, dtm.Batch) (*dtm.Report, error)

// Move runs the working directory to NAS pipeline once. Unless force is set
// it returns an error wrapping dtm.ErrOutsideWindow while the window is
// closed, without touching any file.
func (a *DTMApp) Move(ctx context.Context, rawSrc, rawDst string, force bool) (*dtm.Report, error) {
	return a.runStage(ctx, stageMove, rawSrc, rawDst, force, (*dtm.Archivist).Run)
}

// Cloud runs the NAS to cloud stage once, gated like Move.
func (a *DTMApp) Cloud(ctx context.Context, rawSrc, rawDst string, force bool) (*dtm.Report, error) {
	return a.runStage(ctx, stageCloud, rawSrc, rawDst, force, (*dtm.Archivist).ArchiveDirectory)
}

func (a *DTMApp) runStage(ctx context.Context, stage, rawSrc, rawDst string, force bool, run stageFunc) (*dtm.Report, error) {
	if !force {
		if err := a.gate.Check(); err != nil {
			a.logger.Info("outside transfer window, nothing done", "window", a.gate.Window())
			return nil, err
		}
	}

	src, err := filepath.Abs(rawSrc)
	if err != nil {
		return nil, fmt.Errorf("resolving source: %w", err)
	}

	m, err := a.mover(ctx, stage)
	if err != nil {
		return nil, err
	}

	dst := rawDst
	if isLocalDestination(m) {
		if dst, err = filepath.Abs(rawDst); err != nil {
			return nil, fmt.Errorf("resolving destination: %w", err)
		}
	}

	op := NewOperation(stage, src, dst)
	if err := a.persistOperation(op); err != nil {
		return nil, err
	}
	a.logger.Info("run started", "run", op.ID, "operation", op.Operation, "source", src, "destination", dst)

	report, err := run(a.archivist(m), ctx, dtm.Batch{RunID: op.ID, SourceDir: src, DestDir: dst})
	if err != nil || report.Failed() > 0 {
		op.Fail()
	}

	if ferr := a.journal.FinishRun(op.ID, op.Status); ferr != nil {
		a.logger.Warn("failed to finish run", "run", op.ID, "error", ferr)
	}
	a.logger.Info("run finished", "run", op.ID, "status", op.Status)
	return report, err
}

// isLocalDestination reports whether m writes to the local filesystem, in
// which case the destination is resolved to an absolute path. Object store
// destinations are key prefixes and are kept as given.
func isLocalDestination(m dtm.Mover) bool {
	switch m.Name() {
	case "s3", "memory":
		return false
	}
	return true
}

// persistOperation saves the operation to the journal, giving it an auto-increment ID.
func (a *DTMApp) persistOperation(op *Operation) error {
	if op.Persisted() {
		return nil
	}
	run, err := a.journal.CreateRun(op.Operation, op.Parameters)
	if err != nil {
		return fmt.Errorf("persisting run: %w", err)
	}
	op.ID = run.ID
	return nil
}

// Window returns the configured transfer window and whether it is open now.
func (a *DTMApp) Window() (dtm.TimeWindow, bool) {
	return a.gate.Window(), a.gate.Open()
}

// Status resolves dir and reports what a move run would do with each file in it.
func (a *DTMApp) Status(rawDir string) ([]*dtm.PlanEntry, error) {
	dir, err := filepath.Abs(rawDir)
	if err != nil {
		return nil, fmt.Errorf("resolving path: %w", err)
	}
	return a.archivist(nil).Plan(dir)
}

// GetHistory returns the most recent runs.
func (a *DTMApp) GetHistory(limit int) ([]*dtm.Run, error) {
	return a.archivist(nil).GetHistory(limit)
}

// GetTransfers returns the transfer records of one run.
func (a *DTMApp) GetTransfers(runID int64) ([]*dtm.TransferRecord, error) {
	return a.archivist(nil).GetTransfers(runID)
}

// Restore resolves both paths and decompresses artifact into output.
func (a *DTMApp) Restore(ctx context.Context, rawArtifact, rawOutput string) error {
	artifact, err := filepath.Abs(rawArtifact)
	if err != nil {
		return fmt.Errorf("resolving artifact: %w", err)
	}
	output, err := filepath.Abs(rawOutput)
	if err != nil {
		return fmt.Errorf("resolving output: %w", err)
	}
	return a.archivist(nil).Restore(ctx, artifact, output)
}

// BackupJournal writes a consistent snapshot of the journal to rawPath.
func (a *DTMApp) BackupJournal(rawPath string) error {
	path, err := filepath.Abs(rawPath)
	if err != nil {
		return fmt.Errorf("resolving path: %w", err)
	}
	if err := a.journal.BackupTo(path); err != nil {
		return err
	}
	a.logger.Info("journal backed up", "path", path)
	return nil
}

// Close closes the journal and the log file.
func (a *DTMApp) Close() error {
	var firstErr error

	if err := a.journal.Close(); err != nil {
		firstErr = fmt.Errorf("closing journal: %w", err)
	}

	if a.logCloser != nil {
		if err := a.logCloser.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("closing log: %w", err)
		}
	}

	return firstErr
}
