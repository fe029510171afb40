package fs

import (
	"os"
	"path/filepath"
	"testing"

	"dtm-go/internal/dtm"
)

func TestNewIgnoreMatcher(t *testing.T) {
	t.Run("skips blank lines and comments", func(t *testing.T) {
		t.Parallel()
		m := NewIgnoreMatcher([]string{"", "  ", "# comment", "*.log"})
		if len(m.patterns) != 1 {
			t.Fatalf("expected 1 pattern, got %d", len(m.patterns))
		}
		if m.patterns[0] != "*.log" {
			t.Errorf("expected *.log, got %s", m.patterns[0])
		}
	})

	t.Run("drops malformed globs", func(t *testing.T) {
		t.Parallel()
		m := NewIgnoreMatcher([]string{"[unclosed", "*.tmp"})
		if len(m.patterns) != 1 || m.patterns[0] != "*.tmp" {
			t.Errorf("patterns = %v, want [*.tmp]", m.patterns)
		}
	})
}

func TestIgnoreMatcher_Match(t *testing.T) {
	tests := []struct {
		name     string
		patterns []string
		file     string
		want     bool
	}{
		{"glob matches", []string{"*.log"}, "run.log", true},
		{"glob does not match other extension", []string{"*.log"}, "run.hdf5", false},
		{"matches base name of a path", []string{"*.log"}, filepath.Join("data", "run.log"), true},
		{"exact name", []string{"calibration.hdf5"}, "calibration.hdf5", true},
		{"temp files", defaultIgnorePatterns, dtm.TempPrefix + "12345", true},
		{"ignore file itself", defaultIgnorePatterns, IgnoreFileName, true},
		{"regular data file", defaultIgnorePatterns, "A.hdf5", false},
		{"no patterns", nil, "A.hdf5", false},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			m := NewIgnoreMatcher(tt.patterns)
			if got := m.Match(tt.file); got != tt.want {
				t.Errorf("Match(%q) = %v, want %v", tt.file, got, tt.want)
			}
		})
	}
}

func TestValidatePatterns(t *testing.T) {
	if err := ValidatePatterns([]string{"*.tmp", "scratch-?"}); err != nil {
		t.Errorf("ValidatePatterns() unexpected error: %v", err)
	}
	if err := ValidatePatterns([]string{"*.tmp", "[bad"}); err == nil {
		t.Error("ValidatePatterns() expected error for malformed glob")
	}
}

func TestParseIgnoreFile(t *testing.T) {
	t.Run("reads lines", func(t *testing.T) {
		t.Parallel()
		dir := t.TempDir()
		path := filepath.Join(dir, IgnoreFileName)
		if err := os.WriteFile(path, []byte("*.log\n# scratch\nscratch.hdf5\n"), 0644); err != nil {
			t.Fatal(err)
		}

		patterns, err := ParseIgnoreFile(path)
		if err != nil {
			t.Fatalf("ParseIgnoreFile() error = %v", err)
		}
		if len(patterns) != 3 {
			t.Fatalf("expected 3 lines, got %d: %v", len(patterns), patterns)
		}
	})

	t.Run("missing file returns nil", func(t *testing.T) {
		t.Parallel()
		patterns, err := ParseIgnoreFile(filepath.Join(t.TempDir(), IgnoreFileName))
		if err != nil {
			t.Fatalf("ParseIgnoreFile() error = %v", err)
		}
		if patterns != nil {
			t.Errorf("expected nil, got %v", patterns)
		}
	})
}
