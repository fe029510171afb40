package mover

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"dtm-go/internal/dtm"
)

// RsyncMover copies files with rsync, the usual tool on Linux hosts.
// Only exit code 0 counts as success.
type RsyncMover struct {
	binary string
	runner CommandRunner
	logger dtm.Logger

	bwlimit int // KiB/s, 0 for unlimited
}

// NewRsyncMover creates an RsyncMover that runs binary through runner.
func NewRsyncMover(binary string, runner CommandRunner, logger dtm.Logger) *RsyncMover {
	return &RsyncMover{binary: binary, runner: runner, logger: logger}
}

// SetBandwidthLimit passes kbps to rsync as --bwlimit. 0 removes the cap.
func (m *RsyncMover) SetBandwidthLimit(kbps int) {
	m.bwlimit = kbps
}

func (m *RsyncMover) Name() string { return "rsync" }

func (m *RsyncMover) ValidateDestination(_ context.Context, dir string) error {
	return validateDir(dir)
}

// Move runs `rsync -a` from src to dst. Partial transfers are kept in a
// temp directory next to dst so that they never show up under dst's name.
func (m *RsyncMover) Move(ctx context.Context, src, dst string) error {
	if _, err := os.Lstat(dst); err == nil {
		return fmt.Errorf("destination already exists: %s", dst)
	}

	args := []string{"-a", "--partial-dir=" + dtm.TempPrefix + "partial"}
	if m.bwlimit > 0 {
		args = append(args, fmt.Sprintf("--bwlimit=%d", m.bwlimit))
	}
	args = append(args, src, dst)
	out, code, err := m.runner.Run(ctx, m.binary, args...)
	m.logger.Debug("rsync finished", "src", src, "dst", dst, "code", code, "output", string(out))
	if err != nil {
		return fmt.Errorf("running rsync: %w", err)
	}
	if code != 0 {
		return fmt.Errorf("rsync exited with code %d: %s", code, lastLine(out))
	}
	return nil
}

func (m *RsyncMover) Open(_ context.Context, dst string) (io.ReadCloser, error) {
	return os.Open(filepath.Clean(dst))
}

// Compile-time check that RsyncMover implements dtm.Mover interface
var _ dtm.Mover = (*RsyncMover)(nil)
