package mover

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"dtm-go/internal/dtm"
)

// robocopyFailure is the lowest robocopy exit code that signals a failure.
// Codes below it are bit flags describing what was copied.
const robocopyFailure = 8

// RobocopyMover copies files with robocopy, the usual tool on Windows hosts.
// robocopy works on directories plus a file name, so dst must keep src's name.
type RobocopyMover struct {
	binary string
	runner CommandRunner
	logger dtm.Logger
}

// NewRobocopyMover creates a RobocopyMover that runs binary through runner.
func NewRobocopyMover(binary string, runner CommandRunner, logger dtm.Logger) *RobocopyMover {
	return &RobocopyMover{binary: binary, runner: runner, logger: logger}
}

func (m *RobocopyMover) Name() string { return "robocopy" }

func (m *RobocopyMover) ValidateDestination(_ context.Context, dir string) error {
	return validateDir(dir)
}

func (m *RobocopyMover) Move(ctx context.Context, src, dst string) error {
	name := filepath.Base(src)
	if filepath.Base(dst) != name {
		return fmt.Errorf("robocopy cannot rename: %s -> %s", name, filepath.Base(dst))
	}
	if _, err := os.Lstat(dst); err == nil {
		return fmt.Errorf("destination already exists: %s", dst)
	}

	args := []string{filepath.Dir(src), filepath.Dir(dst), name, "/COPY:DAT", "/R:2", "/W:5", "/NP", "/NJH", "/NJS"}
	out, code, err := m.runner.Run(ctx, m.binary, args...)
	m.logger.Debug("robocopy finished", "src", src, "dst", dst, "code", code, "output", string(out))
	if err != nil {
		return fmt.Errorf("running robocopy: %w", err)
	}
	if code < 0 || code >= robocopyFailure {
		return fmt.Errorf("robocopy exited with code %d: %s", code, lastLine(out))
	}
	return nil
}

func (m *RobocopyMover) Open(_ context.Context, dst string) (io.ReadCloser, error) {
	return os.Open(dst)
}

// lastLine returns the last non-empty line of a tool's output.
func lastLine(out []byte) string {
	lines := bytes.Split(bytes.TrimSpace(out), []byte("\n"))
	return string(bytes.TrimSpace(lines[len(lines)-1]))
}

// Compile-time check that RobocopyMover implements dtm.Mover interface
var _ dtm.Mover = (*RobocopyMover)(nil)
