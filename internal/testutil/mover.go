package testutil

import (
	"context"
	"io"
	"path/filepath"
	"strings"

	"dtm-go/internal/dtm"
)

// CorruptingMover wraps a Mover and appends garbage to what Open returns for
// destinations whose base name contains Match, simulating a bad copy.
type CorruptingMover struct {
	dtm.Mover
	Match string
}

func (m *CorruptingMover) Open(ctx context.Context, dst string) (io.ReadCloser, error) {
	rc, err := m.Mover.Open(ctx, dst)
	if err != nil || !strings.Contains(filepath.Base(dst), m.Match) {
		return rc, err
	}
	return struct {
		io.Reader
		io.Closer
	}{io.MultiReader(rc, strings.NewReader("corrupted")), rc}, nil
}

// FailingMover wraps a Mover and fails Move for sources whose base name
// contains Match.
type FailingMover struct {
	dtm.Mover
	Match string
	Err   error
}

func (m *FailingMover) Move(ctx context.Context, src, dst string) error {
	if strings.Contains(filepath.Base(src), m.Match) {
		return m.Err
	}
	return m.Mover.Move(ctx, src, dst)
}

// CancellingMover wraps a Mover and calls Cancel after the first
// successful Move.
type CancellingMover struct {
	dtm.Mover
	Cancel context.CancelFunc
}

func (m *CancellingMover) Move(ctx context.Context, src, dst string) error {
	if err := m.Mover.Move(ctx, src, dst); err != nil {
		return err
	}
	m.Cancel()
	return nil
}
