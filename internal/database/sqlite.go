package database

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"dtm-go/internal/database/migrations"
	"dtm-go/internal/dtm"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// SQLiteJournal implements dtm.Journal on top of SQLite.
// Timestamps are stored as Unix microseconds.
type SQLiteJournal struct {
	db    *sql.DB
	path  string
	clock dtm.Clock
}

// NewSQLiteJournal opens (creating if needed) the journal at path and brings
// its schema up to date. path can be ":memory:". A nil clock uses the real time.
func NewSQLiteJournal(path string, clock dtm.Clock) (*SQLiteJournal, error) {
	db, err := OpenConnection(path)
	if err != nil {
		return nil, err
	}

	if err := migrations.MigrateUp(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating journal: %w", err)
	}

	if clock == nil {
		clock = dtm.RealClock{}
	}
	return &SQLiteJournal{db: db, path: path, clock: clock}, nil
}

// OpenConnection opens and configures a SQLite connection with the PRAGMAs
// the journal relies on. A single connection is used so that ":memory:"
// databases are shared by every query.
func OpenConnection(path string) (*sql.DB, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	if path != ":memory:" {
		pragmas = append(pragmas, "PRAGMA journal_mode = WAL", "PRAGMA synchronous = NORMAL")
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", p, err)
		}
	}

	return db, nil
}

// Run operations

func (j *SQLiteJournal) CreateRun(operation, parameters string) (*dtm.Run, error) {
	now := j.clock.Now()
	res, err := j.db.Exec(
		`INSERT INTO runs (operation, parameters, status, started_at) VALUES (?, ?, 'running', ?)`,
		operation, parameters, now.UnixMicro(),
	)
	if err != nil {
		return nil, fmt.Errorf("creating run: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("reading run id: %w", err)
	}
	return &dtm.Run{
		ID:         id,
		Operation:  operation,
		Parameters: parameters,
		Status:     "running",
		StartedAt:  time.UnixMicro(now.UnixMicro()),
	}, nil
}

func (j *SQLiteJournal) FinishRun(id int64, status string) error {
	res, err := j.db.Exec(
		`UPDATE runs SET status = ?, finished_at = ? WHERE id = ?`,
		status, j.clock.Now().UnixMicro(), id,
	)
	if err != nil {
		return fmt.Errorf("finishing run: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("run not found: %d", id)
	}
	return nil
}

// ListRuns returns up to limit runs, newest first. A limit <= 0 returns all runs.
func (j *SQLiteJournal) ListRuns(limit int) ([]*dtm.Run, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := j.db.Query(
		`SELECT id, operation, parameters, status, started_at, finished_at
		 FROM runs ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	defer rows.Close()

	var runs []*dtm.Run
	for rows.Next() {
		var (
			r        dtm.Run
			started  int64
			finished sql.NullInt64
		)
		if err := rows.Scan(&r.ID, &r.Operation, &r.Parameters, &r.Status, &started, &finished); err != nil {
			return nil, fmt.Errorf("scanning run: %w", err)
		}
		r.StartedAt = time.UnixMicro(started)
		if finished.Valid {
			t := time.UnixMicro(finished.Int64)
			r.FinishedAt = &t
		}
		runs = append(runs, &r)
	}
	return runs, rows.Err()
}

// Transfer operations

const transferColumns = `id, run_id, stage, source, artifact, destination, state, outcome,
	content_digest, digest_before, digest_after, error, recorded_at`

func (j *SQLiteJournal) RecordTransfer(rec *dtm.TransferRecord) error {
	var runID sql.NullInt64
	if rec.RunID != 0 {
		runID = sql.NullInt64{Int64: rec.RunID, Valid: true}
	}
	recordedAt := rec.RecordedAt
	if recordedAt.IsZero() {
		recordedAt = j.clock.Now()
	}

	_, err := j.db.Exec(
		`INSERT INTO transfers (`+transferColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, runID, string(rec.Stage), rec.Source, rec.Artifact, rec.Destination,
		string(rec.State), rec.Outcome, rec.ContentDigest, rec.DigestBefore, rec.DigestAfter,
		rec.Error, recordedAt.UnixMicro(),
	)
	if err != nil {
		return fmt.Errorf("recording transfer: %w", err)
	}
	return nil
}

// ListTransfers returns the transfers of one run in the order they were recorded.
func (j *SQLiteJournal) ListTransfers(runID int64) ([]*dtm.TransferRecord, error) {
	rows, err := j.db.Query(
		`SELECT `+transferColumns+` FROM transfers WHERE run_id = ? ORDER BY recorded_at, rowid`, runID)
	if err != nil {
		return nil, fmt.Errorf("listing transfers: %w", err)
	}
	defer rows.Close()

	var recs []*dtm.TransferRecord
	for rows.Next() {
		rec, err := scanTransfer(rows)
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// FindTransferByArtifact returns the most recent successful transfer of the
// named artifact that recorded a content digest, or nil if there is none.
func (j *SQLiteJournal) FindTransferByArtifact(name string) (*dtm.TransferRecord, error) {
	row := j.db.QueryRow(
		`SELECT `+transferColumns+` FROM transfers
		 WHERE artifact = ? AND outcome = 'success' AND content_digest != ''
		 ORDER BY recorded_at DESC, rowid DESC LIMIT 1`, name)
	rec, err := scanTransfer(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return rec, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTransfer(s scanner) (*dtm.TransferRecord, error) {
	var (
		rec        dtm.TransferRecord
		runID      sql.NullInt64
		stage      string
		state      string
		recordedAt int64
	)
	err := s.Scan(&rec.ID, &runID, &stage, &rec.Source, &rec.Artifact, &rec.Destination,
		&state, &rec.Outcome, &rec.ContentDigest, &rec.DigestBefore, &rec.DigestAfter,
		&rec.Error, &recordedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scanning transfer: %w", err)
	}
	rec.RunID = runID.Int64
	rec.Stage = dtm.Stage(stage)
	rec.State = dtm.State(state)
	rec.RecordedAt = time.UnixMicro(recordedAt)
	return &rec, nil
}

// Path returns the database file path.
func (j *SQLiteJournal) Path() string {
	return j.path
}

// CheckMigrations reports whether the schema is at the latest version.
func (j *SQLiteJournal) CheckMigrations() error {
	return migrations.CheckDBMigrationStatus(j.db)
}

// BackupTo writes a consistent copy of the journal to destPath using VACUUM INTO.
func (j *SQLiteJournal) BackupTo(destPath string) error {
	if _, err := j.db.Exec("VACUUM INTO ?", destPath); err != nil {
		return fmt.Errorf("backing up journal: %w", err)
	}
	return nil
}

func (j *SQLiteJournal) Close() error {
	return j.db.Close()
}

// Compile-time check that SQLiteJournal implements dtm.Journal interface
var _ dtm.Journal = (*SQLiteJournal)(nil)
