package dtm

// GetHistory returns the most recent runs, newest first.
func (a *Archivist) GetHistory(limit int) ([]*Run, error) {
	return a.journal.ListRuns(limit)
}

// GetTransfers returns the transfer records of one run.
func (a *Archivist) GetTransfers(runID int64) ([]*TransferRecord, error) {
	return a.journal.ListTransfers(runID)
}
