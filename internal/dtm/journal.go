package dtm

import "time"

// Stage identifies which hop of the pipeline produced a transfer.
type Stage string

const (
	StageLocal Stage = "local"
	StageCloud Stage = "cloud"
)

const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// Run is one CLI invocation that moved data.
type Run struct {
	ID         int64
	Operation  string
	Parameters string
	Status     string
	StartedAt  time.Time
	FinishedAt *time.Time
}

// TransferRecord is the per-file audit entry written after each file is
// processed, successfully or not.
type TransferRecord struct {
	ID            string
	RunID         int64
	Stage         Stage
	Source        string
	Artifact      string
	Destination   string
	State         State
	Outcome       string
	ContentDigest string
	DigestBefore  string
	DigestAfter   string
	Error         string
	RecordedAt    time.Time
}

// Journal persists runs and transfer records.
type Journal interface {
	CreateRun(operation, parameters string) (*Run, error)
	FinishRun(id int64, status string) error
	ListRuns(limit int) ([]*Run, error)

	RecordTransfer(rec *TransferRecord) error
	ListTransfers(runID int64) ([]*TransferRecord, error)

	// FindTransferByArtifact returns the latest successful transfer whose
	// artifact has the given base name, or nil if there is none.
	FindTransferByArtifact(name string) (*TransferRecord, error)

	Close() error
}
