package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// Paths are the locations dtm needs before a config file has been read.
type Paths struct {
	ConfigFile string
	BaseDir    string
}

// DefaultPaths resolves Paths from the environment. The config file is
// DTM_CONFIG_PATH, else $XDG_CONFIG_HOME/dtm.toml, else ~/.config/dtm.toml.
// The base directory is DTM_HOME, else $XDG_DATA_HOME/dtm, else
// ~/.local/share/dtm. Relative XDG values are ignored, as the XDG base
// directory spec requires.
func DefaultPaths() (Paths, error) {
	configFile, err := resolvePath("DTM_CONFIG_PATH", "XDG_CONFIG_HOME", "dtm.toml", ".config")
	if err != nil {
		return Paths{}, err
	}
	baseDir, err := resolvePath("DTM_HOME", "XDG_DATA_HOME", "dtm", ".local", "share")
	if err != nil {
		return Paths{}, err
	}
	return Paths{ConfigFile: configFile, BaseDir: baseDir}, nil
}

func resolvePath(override, xdgVar, name string, homeRel ...string) (string, error) {
	if p := os.Getenv(override); p != "" {
		return p, nil
	}
	if dir := os.Getenv(xdgVar); filepath.IsAbs(dir) {
		return filepath.Join(dir, name), nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	parts := append([]string{home}, homeRel...)
	return filepath.Join(append(parts, name)...), nil
}

// LoadDefault loads the config file found by DefaultPaths, falling back to
// defaults rooted at its base directory when the file does not exist.
func LoadDefault() (*Config, Paths, error) {
	paths, err := DefaultPaths()
	if err != nil {
		return nil, Paths{}, err
	}
	cfg, err := Load(paths.ConfigFile, paths.BaseDir)
	if err != nil {
		return nil, paths, err
	}
	return cfg, paths, nil
}
