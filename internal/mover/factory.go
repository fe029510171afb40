package mover

import (
	"context"
	"fmt"
	"os/exec"
	"runtime"

	"dtm-go/internal/config"
	"dtm-go/internal/dtm"
)

// lookPath is replaced in tests.
var lookPath = exec.LookPath

// bandwidthLimited is implemented by movers that can cap their throughput.
type bandwidthLimited interface {
	SetBandwidthLimit(kbps int)
}

// NewMoverFromConfig creates a Mover implementation based on the mover config type.
// When cfg.Retries > 0 the mover is wrapped in a ResilientMover.
func NewMoverFromConfig(ctx context.Context, cfg config.MoverConfig, logger dtm.Logger) (dtm.Mover, error) {
	m, err := newMover(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	if cfg.BandwidthKBps > 0 {
		if bl, ok := m.(bandwidthLimited); ok {
			bl.SetBandwidthLimit(cfg.BandwidthKBps)
		} else {
			logger.Warn("bandwidth limit not supported, ignoring", "mover", m.Name(), "kbps", cfg.BandwidthKBps)
		}
	}

	if cfg.Retries > 0 {
		delay, err := cfg.RetryDelayDuration()
		if err != nil {
			return nil, fmt.Errorf("parsing retry_delay: %w", err)
		}
		m = NewResilientMover(m, cfg.Retries, delay, uint32(cfg.BreakerThreshold), logger)
	}
	return m, nil
}

func newMover(ctx context.Context, cfg config.MoverConfig, logger dtm.Logger) (dtm.Mover, error) {
	switch cfg.Type {
	case "auto":
		platform := cfg.Platform
		if platform == "" {
			platform = runtime.GOOS
		}
		cfg.Type = ResolveType(platform)
		logger.Debug("mover selected", "platform", platform, "type", cfg.Type)
		return newMover(ctx, cfg, logger)
	case "local":
		return NewLocalMover(), nil
	case "memory":
		return NewMemoryMover(), nil
	case "rsync", "robocopy":
		binary := cfg.Binary
		if binary == "" {
			binary = cfg.Type
		}
		path, err := lookPath(binary)
		if err != nil {
			return nil, fmt.Errorf("%s mover: %w", cfg.Type, err)
		}
		if cfg.Type == "rsync" {
			return NewRsyncMover(path, ExecRunner{}, logger), nil
		}
		return NewRobocopyMover(path, ExecRunner{}, logger), nil
	case "s3":
		return NewS3MoverFromConfig(ctx, cfg)
	default:
		return nil, fmt.Errorf("unknown mover type: %s", cfg.Type)
	}
}

// ResolveType picks the mover type for a platform identifier (a GOOS value):
// robocopy on Windows, rsync on Linux when it is installed, a plain local
// copy everywhere else.
func ResolveType(platform string) string {
	switch platform {
	case "windows":
		return "robocopy"
	case "linux":
		if _, err := lookPath("rsync"); err == nil {
			return "rsync"
		}
	}
	return "local"
}
