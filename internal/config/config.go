package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"dtm-go/internal/dtm"
	"dtm-go/internal/fs"
)

// Config represents the main configuration for dtm.
type Config struct {
	BaseDir  string         `toml:"base_dir"`
	LogDir   string         `toml:"log_dir"`
	LogLevel string         `toml:"log_level"` // "debug", "info", "warn", "error" or "critical"
	Window   WindowConfig   `toml:"window"`
	Archive  ArchiveConfig  `toml:"archive"`
	Mover    MoverConfig    `toml:"mover"` // working directory -> NAS
	Cloud    MoverConfig    `toml:"cloud"` // NAS -> cloud
	Database DatabaseConfig `toml:"database"`
	Daemon   DaemonConfig   `toml:"daemon"`
}

// WindowConfig is the daily transfer window in military time (e.g. 1800).
type WindowConfig struct {
	Start int `toml:"start"`
	End   int `toml:"end"`
}

// TimeWindow converts the config to a dtm.TimeWindow.
func (w WindowConfig) TimeWindow() dtm.TimeWindow {
	return dtm.TimeWindow{Start: w.Start, End: w.End}
}

// ArchiveConfig controls which files are archived and how hard they are compressed.
type ArchiveConfig struct {
	Extension        string   `toml:"extension"`
	CompressionLevel int      `toml:"compression_level"` // 0-9
	Ignore           []string `toml:"ignore"`
}

// MoverConfig represents configuration for a mover backend.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type MoverConfig struct {
	Type     string `toml:"type"`               // "auto", "local", "rsync", "robocopy", "s3" or "memory"
	Platform string `toml:"platform,omitempty"` // overrides runtime.GOOS for type=auto
	Binary   string `toml:"binary,omitempty"`   // rsync/robocopy executable, looked up on PATH if empty

	// Retries > 0 wraps the mover with retry and a circuit breaker.
	Retries          int    `toml:"retries"`
	RetryDelay       string `toml:"retry_delay"`
	BreakerThreshold int    `toml:"breaker_threshold"`

	// BandwidthKBps caps copy throughput in KiB/s. 0 means unlimited.
	// Not supported by robocopy.
	BandwidthKBps int `toml:"bandwidth_kbps,omitempty"`

	// S3-specific fields (only used when Type == "s3")
	S3Bucket          string `toml:"s3_bucket,omitempty"`
	S3Prefix          string `toml:"s3_prefix,omitempty"`
	S3Region          string `toml:"s3_region,omitempty"`
	S3Endpoint        string `toml:"s3_endpoint,omitempty"`
	S3AccessKeyID     string `toml:"s3_access_key_id,omitempty"`
	S3SecretAccessKey string `toml:"s3_secret_access_key,omitempty"`
	S3UsePathStyle    bool   `toml:"s3_use_path_style,omitempty"`
}

// RetryDelayDuration parses RetryDelay. An empty value means one second.
func (m MoverConfig) RetryDelayDuration() (time.Duration, error) {
	if m.RetryDelay == "" {
		return time.Second, nil
	}
	return time.ParseDuration(m.RetryDelay)
}

// DatabaseConfig represents configuration for the transfer journal.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type DatabaseConfig struct {
	Type    string `toml:"type"`               // "sqlite" or "memory"
	DataDir string `toml:"data_dir,omitempty"` // only used for type=sqlite
}

// DaemonConfig controls the long-running scheduler.
type DaemonConfig struct {
	Interval string `toml:"interval"` // how often to attempt a run
	Debounce string `toml:"debounce"` // quiet period after a filesystem event before running
}

// Intervals parses Interval and Debounce.
func (d DaemonConfig) Intervals() (interval, debounce time.Duration, err error) {
	if interval, err = time.ParseDuration(d.Interval); err != nil {
		return 0, 0, fmt.Errorf("daemon.interval: %w", err)
	}
	if debounce, err = time.ParseDuration(d.Debounce); err != nil {
		return 0, 0, fmt.Errorf("daemon.debounce: %w", err)
	}
	return interval, debounce, nil
}

var (
	moverTypes    = []string{"auto", "local", "rsync", "robocopy", "s3", "memory"}
	databaseTypes = []string{"sqlite", "memory"}
	logLevels     = []string{"debug", "info", "warn", "error", "critical"}
)

// NewConfig creates a Config holding the defaults for the given base directory.
func NewConfig(baseDir string) *Config {
	return &Config{
		BaseDir:  baseDir,
		LogDir:   filepath.Join(baseDir, "log"),
		LogLevel: "info",
		Window: WindowConfig{
			Start: dtm.DefaultWindow.Start,
			End:   dtm.DefaultWindow.End,
		},
		Archive: ArchiveConfig{
			Extension:        ".hdf5",
			CompressionLevel: dtm.DefaultCompressionLevel,
		},
		Mover: MoverConfig{
			Type:             "auto",
			RetryDelay:       "2s",
			BreakerThreshold: 5,
		},
		Cloud: MoverConfig{
			Type:             "s3",
			RetryDelay:       "5s",
			Retries:          3,
			BreakerThreshold: 5,
		},
		Database: DatabaseConfig{
			Type:    "sqlite",
			DataDir: filepath.Join(baseDir, "db"),
		},
		Daemon: DaemonConfig{
			Interval: "15m",
			Debounce: "30s",
		},
	}
}

// Validate checks the config for values the pipeline cannot run with.
func (c *Config) Validate() error {
	if err := c.Window.TimeWindow().Validate(); err != nil {
		return err
	}
	if l := c.Archive.CompressionLevel; l < 0 || l > 9 {
		return &dtm.ConfigError{Field: "archive.compression_level", Err: fmt.Errorf("%d is outside 0-9", l)}
	}
	if ext := c.Archive.Extension; ext != "" && !strings.HasPrefix(ext, ".") {
		return &dtm.ConfigError{Field: "archive.extension", Err: fmt.Errorf("%q must start with a dot", ext)}
	}
	if err := fs.ValidatePatterns(c.Archive.Ignore); err != nil {
		return &dtm.ConfigError{Field: "archive.ignore", Err: err}
	}
	if err := c.Mover.validate("mover"); err != nil {
		return err
	}
	if err := c.Cloud.validate("cloud"); err != nil {
		return err
	}
	if !contains(databaseTypes, c.Database.Type) {
		return &dtm.ConfigError{Field: "database.type", Err: fmt.Errorf("unknown database type: %s", c.Database.Type)}
	}
	if !contains(logLevels, c.LogLevel) {
		return &dtm.ConfigError{Field: "log_level", Err: fmt.Errorf("unknown log level: %s", c.LogLevel)}
	}
	if _, _, err := c.Daemon.Intervals(); err != nil {
		return &dtm.ConfigError{Field: "daemon", Err: err}
	}
	return nil
}

func (m MoverConfig) validate(section string) error {
	if !contains(moverTypes, m.Type) {
		return &dtm.ConfigError{Field: section + ".type", Err: fmt.Errorf("unknown mover type: %s", m.Type)}
	}
	if m.Retries < 0 {
		return &dtm.ConfigError{Field: section + ".retries", Err: fmt.Errorf("%d is negative", m.Retries)}
	}
	if _, err := m.RetryDelayDuration(); err != nil {
		return &dtm.ConfigError{Field: section + ".retry_delay", Err: err}
	}
	if m.BandwidthKBps < 0 {
		return &dtm.ConfigError{Field: section + ".bandwidth_kbps", Err: fmt.Errorf("%d is negative", m.BandwidthKBps)}
	}
	return nil
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

// Manager handles reading and writing configuration.
type Manager struct{}

// Read decodes a Config from r on top of base, so keys missing from r keep
// base's values. Unknown keys are rejected.
func (m *Manager) Read(r io.Reader, base *Config) (*Config, error) {
	cfg := *base
	md, err := toml.NewDecoder(r).Decode(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		sort.Strings(keys)
		return nil, fmt.Errorf("unknown config keys: %s", strings.Join(keys, ", "))
	}
	return &cfg, nil
}

// Write encodes a Config to the provided writer.
func (m *Manager) Write(w io.Writer, cfg *Config) error {
	if err := toml.NewEncoder(w).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

// Load reads the config at path on top of the defaults for baseDir and
// validates it. A missing file yields the defaults.
func Load(path, baseDir string) (*Config, error) {
	defaults := NewConfig(baseDir)

	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return defaults, nil
		}
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	cfg, err := m.Read(f, defaults)
	if err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// writeToFile writes a Config to the specified file path, creating its directory.
func writeToFile(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	if err := m.Write(f, cfg); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}
	return nil
}

// Init writes cfg to path. It refuses to overwrite an existing file.
func Init(path string, cfg *Config) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := writeToFile(path, cfg); err != nil {
		return fmt.Errorf("initializing config: %w", err)
	}
	return nil
}
