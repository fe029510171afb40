package app

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"

	"dtm-go/internal/config"
	"dtm-go/internal/testutil"
)

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func startDaemon(t *testing.T, a *DTMApp, src, dst string, interval, debounce time.Duration) (stop func()) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Daemon(ctx, src, dst, interval, debounce) }()

	return func() {
		cancel()
		select {
		case err := <-done:
			if err != nil {
				t.Errorf("Daemon() error = %v", err)
			}
		case <-time.After(5 * time.Second):
			t.Fatal("Daemon() did not stop after cancel")
		}
	}
}

func TestDTMApp_Daemon_RunsOnStartupAndChange(t *testing.T) {
	cfg := newTestConfig(t)
	cfg.Window = config.WindowConfig{Start: 0, End: 2359}
	a, _ := newTestApp(t, cfg, testutil.FixedClock())

	src, dst := t.TempDir(), t.TempDir()
	base := time.Now().Add(-time.Hour)
	testutil.WriteFileAt(t, src, "a.hdf5", []byte("aaa"), base)
	testutil.WriteFileAt(t, src, "b.hdf5", []byte("bbb"), base.Add(time.Minute))

	stop := startDaemon(t, a, src, dst, time.Hour, 20*time.Millisecond)

	waitFor(t, "startup run", func() bool { return len(archivedNames(t, dst)) == 1 })

	testutil.WriteFileAt(t, src, "c.hdf5", []byte("ccc"), base.Add(2*time.Minute))

	waitFor(t, "change run", func() bool { return len(archivedNames(t, dst)) == 2 })

	stop()

	names := testutil.ListNames(t, src)
	if len(names) != 1 || names[0] != "c.hdf5" {
		t.Errorf("source = %v, want [c.hdf5]", names)
	}
}

func TestDTMApp_Daemon_WindowClosed(t *testing.T) {
	a, logger := newTestApp(t, newTestConfig(t), testutil.NewStubClock(noonTime))

	src, dst := t.TempDir(), t.TempDir()
	base := time.Now().Add(-time.Hour)
	testutil.WriteFileAt(t, src, "a.hdf5", []byte("aaa"), base)
	testutil.WriteFileAt(t, src, "b.hdf5", []byte("bbb"), base.Add(time.Minute))

	stop := startDaemon(t, a, src, dst, time.Hour, 20*time.Millisecond)
	waitFor(t, "skipped run", func() bool { return logger.Has("DEBUG", "window closed, skipping run") })
	stop()

	if got := testutil.ListNames(t, src); len(got) != 2 {
		t.Errorf("source = %v, want untouched", got)
	}
	if got := testutil.ListNames(t, dst); len(got) != 0 {
		t.Errorf("destination = %v, want empty", got)
	}
}

func TestDTMApp_Daemon_MissingSource(t *testing.T) {
	a, _ := newTestApp(t, newTestConfig(t), testutil.FixedClock())

	err := a.Daemon(context.Background(), filepath.Join(t.TempDir(), "missing"), t.TempDir(), time.Hour, time.Second)
	if err == nil {
		t.Fatal("Daemon() expected error for missing source")
	}
}

func TestDTMApp_Relevant(t *testing.T) {
	a, _ := newTestApp(t, newTestConfig(t), testutil.FixedClock())

	tests := []struct {
		name  string
		event fsnotify.Event
		want  bool
	}{
		{name: "new data file", event: fsnotify.Event{Name: "/w/a.hdf5", Op: fsnotify.Create}, want: true},
		{name: "data file written", event: fsnotify.Event{Name: "/w/a.HDF5", Op: fsnotify.Write}, want: true},
		{name: "data file removed", event: fsnotify.Event{Name: "/w/a.hdf5", Op: fsnotify.Remove}, want: true},
		{name: "chmod only", event: fsnotify.Event{Name: "/w/a.hdf5", Op: fsnotify.Chmod}, want: false},
		{name: "other extension", event: fsnotify.Event{Name: "/w/a.txt", Op: fsnotify.Create}, want: false},
		{name: "temp file", event: fsnotify.Event{Name: "/w/.dtm-tmp-123.hdf5", Op: fsnotify.Create}, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := a.relevant(tt.event); got != tt.want {
				t.Errorf("relevant(%v) = %v, want %v", tt.event, got, tt.want)
			}
		})
	}
}
