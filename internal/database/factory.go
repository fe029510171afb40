package database

import (
	"fmt"
	"path/filepath"

	"dtm-go/internal/config"
	"dtm-go/internal/dtm"
)

// JournalFileName is the name of the journal database inside data_dir.
const JournalFileName = "dtm.db"

// NewJournalFromConfig creates a Journal implementation based on the database config type.
func NewJournalFromConfig(cfg config.DatabaseConfig, clock dtm.Clock) (*SQLiteJournal, error) {
	switch cfg.Type {
	case "sqlite":
		if cfg.DataDir == "" {
			return nil, fmt.Errorf("data_dir required for sqlite database")
		}
		return NewSQLiteJournal(filepath.Join(cfg.DataDir, JournalFileName), clock)
	case "memory":
		return NewSQLiteJournal(":memory:", clock)
	default:
		return nil, fmt.Errorf("unknown database type: %s", cfg.Type)
	}
}
