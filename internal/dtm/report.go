package dtm

import "errors"

// Batch names the directories of one archival run.
type Batch struct {
	RunID     int64
	SourceDir string
	DestDir   string
}

// FileResult is the outcome of processing one file.
type FileResult struct {
	Source        string
	Artifact      string
	Destination   string
	State         State
	FailedAt      State
	ContentDigest string
	DigestBefore  string
	DigestAfter   string
	Err           error
}

// Report collects the results of a batch.
type Report struct {
	RunID   int64
	Stage   Stage
	Results []*FileResult
}

// Archived returns the number of files that reached StateDone.
func (r *Report) Archived() int {
	n := 0
	for _, res := range r.Results {
		if res.State == StateDone {
			n++
		}
	}
	return n
}

// Failed returns the number of files that ended in StateFailed.
func (r *Report) Failed() int {
	n := 0
	for _, res := range r.Results {
		if res.State == StateFailed {
			n++
		}
	}
	return n
}

// Err joins the per-file errors, or returns nil if every file succeeded.
func (r *Report) Err() error {
	var errs []error
	for _, res := range r.Results {
		if res.Err != nil {
			errs = append(errs, res.Err)
		}
	}
	return errors.Join(errs...)
}
