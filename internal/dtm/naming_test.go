package dtm_test

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"dtm-go/internal/dtm"
)

func TestTimestampPrefix(t *testing.T) {
	t.Parallel()

	plusOne := time.FixedZone("CET", 3600)
	minusFive := time.FixedZone("EST", -5*3600)

	tests := []struct {
		name string
		t    time.Time
		want string
	}{
		{
			name: "utc with microseconds",
			t:    time.Date(2024, 1, 15, 22, 30, 0, 123000, time.UTC),
			want: "2024_01_15T22_30_00_000123+0000-",
		},
		{
			name: "positive offset",
			t:    time.Date(2024, 1, 15, 10, 30, 0, 0, plusOne),
			want: "2024_01_15T10_30_00_000000+0100-",
		},
		{
			name: "negative offset drops sub-microsecond digits",
			t:    time.Date(2023, 12, 31, 23, 59, 59, 999999999, minusFive),
			want: "2023_12_31T23_59_59_999999-0500-",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := dtm.TimestampPrefix(tt.t); got != tt.want {
				t.Errorf("TimestampPrefix() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestArtifactName(t *testing.T) {
	t.Parallel()

	ts := time.Date(2024, 1, 15, 22, 30, 0, 123000, time.UTC)
	if got, want := dtm.ArtifactName(ts, "run42.hdf5", ".xz"), "2024_01_15T22_30_00_000123+0000-run42.xz"; got != want {
		t.Errorf("ArtifactName() = %q, want %q", got, want)
	}
}

func TestStem(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"a.hdf5":        "a",
		"a.tar.gz":      "a.tar",
		"noext":         "noext",
		".hidden":       ".hidden",
		"trailing.dot.": "trailing.dot",
	}
	for in, want := range tests {
		if got := dtm.Stem(in); got != want {
			t.Errorf("Stem(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestErrors_Unwrap(t *testing.T) {
	t.Parallel()

	cause := errors.New("disk full")

	tests := []struct {
		name string
		err  error
		want error
	}{
		{name: "config", err: &dtm.ConfigError{Field: "source", Err: cause}, want: cause},
		{name: "compression", err: &dtm.CompressionError{Path: "/w/a.hdf5", Err: cause}, want: cause},
		{name: "move", err: &dtm.MoveError{Source: "/w/a.xz", Destination: "/n/a.xz", Err: cause}, want: cause},
		{name: "integrity", err: &dtm.IntegrityError{Path: "/n/a.xz", Want: "aa", Got: "bb"}, want: dtm.ErrDigestMismatch},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wrapped := fmt.Errorf("run: %w", tt.err)
			if !errors.Is(wrapped, tt.want) {
				t.Errorf("errors.Is(%v, %v) = false", wrapped, tt.want)
			}
		})
	}
}
