package dtm_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"dtm-go/internal/compress"
	"dtm-go/internal/database"
	"dtm-go/internal/digest"
	"dtm-go/internal/dtm"
	"dtm-go/internal/fs"
	"dtm-go/internal/mover"
	"dtm-go/internal/testutil"
)

var baseTime = time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)

type harness struct {
	src, dst   string
	journal    *database.SQLiteJournal
	logger     *testutil.RecordingLogger
	clock      *testutil.StubClock
	compressor *compress.XZCompressor
	runID      int64
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		src:        t.TempDir(),
		dst:        t.TempDir(),
		journal:    testutil.NewTestJournal(t),
		logger:     testutil.NewRecordingLogger(),
		clock:      testutil.FixedClock(),
		compressor: compress.NewXZCompressor(),
	}
	run, err := h.journal.CreateRun("move", "")
	if err != nil {
		t.Fatalf("CreateRun() error = %v", err)
	}
	h.runID = run.ID
	return h
}

func (h *harness) archivist(m dtm.Mover) *dtm.Archivist {
	inv := fs.NewOSInventory(".hdf5", nil)
	return dtm.NewArchivist(inv, h.compressor, m, digest.NewSHA256Hasher(), h.journal, h.logger, h.clock, testutil.NewStubIDGenerator())
}

func (h *harness) batch() dtm.Batch {
	return dtm.Batch{RunID: h.runID, SourceDir: h.src, DestDir: h.dst}
}

func (h *harness) artifact(name string) string {
	return dtm.ArtifactName(h.clock.Now(), name, compress.Extension)
}

func sameNames(got []string, want ...string) bool {
	if len(got) != len(want) {
		return false
	}
	for i := range got {
		if got[i] != want[i] {
			return false
		}
	}
	return true
}

func TestArchivist_Run_EndToEnd(t *testing.T) {
	h := newHarness(t)
	contentA := []byte(strings.Repeat("older run ", 500))
	testutil.WriteFileAt(t, h.src, "a.hdf5", contentA, baseTime)
	testutil.WriteFileAt(t, h.src, "b.hdf5", []byte("newer run, still being written"), baseTime.Add(time.Minute))

	report, err := h.archivist(mover.NewLocalMover()).Run(context.Background(), h.batch())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if report.Archived() != 1 || report.Failed() != 0 || report.Err() != nil {
		t.Fatalf("Run() archived=%d failed=%d err=%v, want 1/0/nil", report.Archived(), report.Failed(), report.Err())
	}

	if got := testutil.ListNames(t, h.src); !sameNames(got, "b.hdf5") {
		t.Errorf("source = %v, want [b.hdf5]", got)
	}
	artifact := h.artifact("a.hdf5")
	if got := testutil.ListNames(t, h.dst); !sameNames(got, artifact) {
		t.Fatalf("destination = %v, want [%s]", got, artifact)
	}

	res := report.Results[0]
	if res.State != dtm.StateDone {
		t.Errorf("State = %s, want done", res.State)
	}
	if res.ContentDigest != testutil.SHA256Hex(contentA) {
		t.Errorf("ContentDigest = %s, want digest of a.hdf5", res.ContentDigest)
	}
	if res.DigestBefore == "" || res.DigestBefore != res.DigestAfter {
		t.Errorf("DigestBefore = %q, DigestAfter = %q, want equal", res.DigestBefore, res.DigestAfter)
	}
	if res.Destination != filepath.Join(h.dst, artifact) {
		t.Errorf("Destination = %s", res.Destination)
	}

	restored := filepath.Join(t.TempDir(), "a.hdf5")
	if err := h.compressor.Decompress(context.Background(), res.Destination, restored); err != nil {
		t.Fatalf("Decompress() error = %v", err)
	}
	if got := testutil.FileSHA256(t, restored); got != testutil.SHA256Hex(contentA) {
		t.Errorf("restored digest = %s, want %s", got, testutil.SHA256Hex(contentA))
	}

	records, err := h.journal.ListTransfers(h.runID)
	if err != nil {
		t.Fatalf("ListTransfers() error = %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("ListTransfers() = %d records, want 1", len(records))
	}
	rec := records[0]
	if rec.Stage != dtm.StageLocal || rec.Outcome != dtm.OutcomeSuccess || rec.State != dtm.StateDone {
		t.Errorf("record = %+v", rec)
	}
	if rec.Artifact != artifact || rec.ContentDigest != res.ContentDigest {
		t.Errorf("record artifact/digest = %s/%s", rec.Artifact, rec.ContentDigest)
	}

	for _, state := range []string{"file renamed", "file compressed", "file moved", "file verified", "file done"} {
		if !h.logger.Has("INFO", state) {
			t.Errorf("missing log entry %q", state)
		}
	}
}

func TestArchivist_Run_IntegrityFailure(t *testing.T) {
	h := newHarness(t)
	testutil.WriteFileAt(t, h.src, "a.hdf5", []byte("first"), baseTime)
	testutil.WriteFileAt(t, h.src, "b.hdf5", []byte("second"), baseTime.Add(time.Minute))
	testutil.WriteFileAt(t, h.src, "c.hdf5", []byte("third"), baseTime.Add(2*time.Minute))

	m := &testutil.CorruptingMover{Mover: mover.NewLocalMover(), Match: "-a."}
	report, err := h.archivist(m).Run(context.Background(), h.batch())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if len(report.Results) != 2 {
		t.Fatalf("Run() results = %d, want 2", len(report.Results))
	}

	first := report.Results[0]
	var ierr *dtm.IntegrityError
	if !errors.As(first.Err, &ierr) {
		t.Fatalf("first file error = %v, want *IntegrityError", first.Err)
	}
	if !errors.Is(first.Err, dtm.ErrDigestMismatch) {
		t.Error("IntegrityError does not wrap ErrDigestMismatch")
	}
	if first.State != dtm.StateFailed || first.FailedAt != dtm.StateMoved {
		t.Errorf("first file state = %s at %s, want failed at moved", first.State, first.FailedAt)
	}

	if report.Results[1].State != dtm.StateDone {
		t.Errorf("second file state = %s, want done", report.Results[1].State)
	}

	if got := testutil.ListNames(t, h.src); !sameNames(got, h.artifact("a.hdf5"), "c.hdf5") {
		t.Errorf("source = %v, want the failed artifact preserved", got)
	}
	if h.logger.Count("CRITICAL") != 1 {
		t.Errorf("CRITICAL entries = %d, want 1", h.logger.Count("CRITICAL"))
	}
	if report.Err() == nil {
		t.Error("Report.Err() = nil, want the integrity failure")
	}

	records, err := h.journal.ListTransfers(h.runID)
	if err != nil {
		t.Fatalf("ListTransfers() error = %v", err)
	}
	if len(records) != 2 || records[0].Outcome != dtm.OutcomeFailure || records[0].Error == "" {
		t.Errorf("records = %+v, want a failure record first", records)
	}
}

func TestArchivist_Run_MoveFailure(t *testing.T) {
	h := newHarness(t)
	testutil.WriteFileAt(t, h.src, "a.hdf5", []byte("first"), baseTime)
	testutil.WriteFileAt(t, h.src, "b.hdf5", []byte("second"), baseTime.Add(time.Minute))
	testutil.WriteFileAt(t, h.src, "c.hdf5", []byte("third"), baseTime.Add(2*time.Minute))

	m := &testutil.FailingMover{Mover: mover.NewLocalMover(), Match: "-a.", Err: errors.New("nas offline")}
	report, err := h.archivist(m).Run(context.Background(), h.batch())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	first := report.Results[0]
	var merr *dtm.MoveError
	if !errors.As(first.Err, &merr) {
		t.Fatalf("first file error = %v, want *MoveError", first.Err)
	}
	if first.FailedAt != dtm.StateCompressed {
		t.Errorf("FailedAt = %s, want compressed", first.FailedAt)
	}
	if report.Archived() != 1 || report.Failed() != 1 {
		t.Errorf("archived=%d failed=%d, want 1/1", report.Archived(), report.Failed())
	}

	if got := testutil.ListNames(t, h.src); !sameNames(got, h.artifact("a.hdf5"), "c.hdf5") {
		t.Errorf("source = %v", got)
	}
	if got := testutil.ListNames(t, h.dst); !sameNames(got, h.artifact("b.hdf5")) {
		t.Errorf("destination = %v", got)
	}
}

func TestArchivist_Run_NonMatchingUntouched(t *testing.T) {
	h := newHarness(t)
	notes := testutil.WriteFileAt(t, h.src, "notes.txt", []byte("lab notes"), baseTime.Add(-time.Hour))
	testutil.WriteFileAt(t, h.src, "a.hdf5", []byte("a"), baseTime)
	testutil.WriteFileAt(t, h.src, "b.hdf5", []byte("b"), baseTime.Add(time.Minute))

	if _, err := h.archivist(mover.NewLocalMover()).Run(context.Background(), h.batch()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	info, err := os.Stat(notes)
	if err != nil {
		t.Fatalf("notes.txt missing: %v", err)
	}
	if !info.ModTime().Equal(baseTime.Add(-time.Hour)) {
		t.Errorf("notes.txt mtime changed to %v", info.ModTime())
	}
	if got := testutil.ListNames(t, h.src); !sameNames(got, "b.hdf5", "notes.txt") {
		t.Errorf("source = %v", got)
	}
}

func TestArchivist_Run_NothingToDo(t *testing.T) {
	tests := []struct {
		name  string
		files []string
	}{
		{name: "empty directory"},
		{name: "single matching file", files: []string{"only.hdf5"}},
		{name: "one matching file among others", files: []string{"x.txt", "only.hdf5", "y.csv"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			for i, name := range tt.files {
				testutil.WriteFileAt(t, h.src, name, []byte(name), baseTime.Add(time.Duration(i)*time.Minute))
			}

			// A destination that does not exist is never looked at.
			b := h.batch()
			b.DestDir = filepath.Join(h.dst, "missing")

			report, err := h.archivist(mover.NewLocalMover()).Run(context.Background(), b)
			if err != nil {
				t.Fatalf("Run() error = %v", err)
			}
			if len(report.Results) != 0 {
				t.Errorf("Run() results = %d, want 0", len(report.Results))
			}
			if got := testutil.ListNames(t, h.src); len(got) != len(tt.files) {
				t.Errorf("source = %v, want untouched", got)
			}
			if !h.logger.Has("INFO", "no files to move") {
				t.Error("missing 'no files to move' log entry")
			}
		})
	}
}

func TestArchivist_Run_ConfigErrors(t *testing.T) {
	t.Run("missing source", func(t *testing.T) {
		h := newHarness(t)
		b := h.batch()
		b.SourceDir = filepath.Join(h.src, "missing")

		_, err := h.archivist(mover.NewLocalMover()).Run(context.Background(), b)
		var cerr *dtm.ConfigError
		if !errors.As(err, &cerr) || cerr.Field != "source" {
			t.Fatalf("Run() error = %v, want source ConfigError", err)
		}
		if !errors.Is(err, os.ErrNotExist) {
			t.Errorf("Run() error = %v, want it to wrap os.ErrNotExist", err)
		}
	})

	t.Run("source is a file", func(t *testing.T) {
		h := newHarness(t)
		b := h.batch()
		b.SourceDir = testutil.WriteFileAt(t, h.src, "a.hdf5", []byte("a"), baseTime)

		_, err := h.archivist(mover.NewLocalMover()).Run(context.Background(), b)
		var cerr *dtm.ConfigError
		if !errors.As(err, &cerr) || cerr.Field != "source" {
			t.Fatalf("Run() error = %v, want source ConfigError", err)
		}
	})

	t.Run("missing destination", func(t *testing.T) {
		h := newHarness(t)
		testutil.WriteFileAt(t, h.src, "a.hdf5", []byte("a"), baseTime)
		testutil.WriteFileAt(t, h.src, "b.hdf5", []byte("b"), baseTime.Add(time.Minute))
		b := h.batch()
		b.DestDir = filepath.Join(h.dst, "missing")

		_, err := h.archivist(mover.NewLocalMover()).Run(context.Background(), b)
		var cerr *dtm.ConfigError
		if !errors.As(err, &cerr) || cerr.Field != "destination" {
			t.Fatalf("Run() error = %v, want destination ConfigError", err)
		}
		if got := testutil.ListNames(t, h.src); !sameNames(got, "a.hdf5", "b.hdf5") {
			t.Errorf("source = %v, want untouched", got)
		}
	})
}

func TestArchivist_Run_Cancelled(t *testing.T) {
	h := newHarness(t)
	testutil.WriteFileAt(t, h.src, "a.hdf5", []byte("first"), baseTime)
	testutil.WriteFileAt(t, h.src, "b.hdf5", []byte("second"), baseTime.Add(time.Minute))
	testutil.WriteFileAt(t, h.src, "c.hdf5", []byte("third"), baseTime.Add(2*time.Minute))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m := &testutil.CancellingMover{Mover: mover.NewLocalMover(), Cancel: cancel}

	report, err := h.archivist(m).Run(ctx, h.batch())
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Run() error = %v, want context.Canceled", err)
	}
	if len(report.Results) != 1 {
		t.Fatalf("Run() results = %d, want 1", len(report.Results))
	}
	if report.Results[0].FailedAt != dtm.StateVerified {
		t.Errorf("FailedAt = %s, want verified", report.Results[0].FailedAt)
	}

	// The verified copy exists but the local artifact was not deleted, and
	// the next file was never touched.
	if got := testutil.ListNames(t, h.src); !sameNames(got, h.artifact("a.hdf5"), "b.hdf5", "c.hdf5") {
		t.Errorf("source = %v", got)
	}
	if got := testutil.ListNames(t, h.dst); !sameNames(got, h.artifact("a.hdf5")) {
		t.Errorf("destination = %v", got)
	}
}

// failOnceCompressor fails the first Compress call, optionally cancelling
// the run, and delegates afterwards.
type failOnceCompressor struct {
	dtm.Compressor
	cancel context.CancelFunc
	failed bool
}

func (c *failOnceCompressor) Compress(ctx context.Context, path string, level int) (string, error) {
	if c.failed {
		return c.Compressor.Compress(ctx, path, level)
	}
	c.failed = true
	if c.cancel != nil {
		c.cancel()
		return "", &dtm.CompressionError{Path: path, Err: context.Canceled}
	}
	return "", &dtm.CompressionError{Path: path, Err: errors.New("disk full")}
}

func TestArchivist_Run_FailureRestoresOriginalName(t *testing.T) {
	tests := []struct {
		name   string
		cancel bool
	}{
		{name: "compression error"},
		{name: "cancelled during compression", cancel: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			testutil.WriteFileAt(t, h.src, "a.hdf5", []byte("first"), baseTime)
			testutil.WriteFileAt(t, h.src, "b.hdf5", []byte("second"), baseTime.Add(time.Minute))

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			comp := &failOnceCompressor{Compressor: h.compressor}
			if tt.cancel {
				comp.cancel = cancel
			}
			arch := dtm.NewArchivist(fs.NewOSInventory(".hdf5", nil), comp, mover.NewLocalMover(),
				digest.NewSHA256Hasher(), h.journal, h.logger, h.clock, testutil.NewStubIDGenerator())

			report, _ := arch.Run(ctx, h.batch())
			if len(report.Results) != 1 || report.Results[0].FailedAt != dtm.StateRenamed {
				t.Fatalf("first Run() results = %+v, want one failure after rename", report.Results)
			}
			if got := report.Results[0].Artifact; got != filepath.Join(h.src, "a.hdf5") {
				t.Errorf("Artifact = %s, want original path", got)
			}
			if got := testutil.ListNames(t, h.src); !sameNames(got, "a.hdf5", "b.hdf5") {
				t.Fatalf("source after failure = %v, want [a.hdf5 b.hdf5]", got)
			}

			h.clock.Advance(time.Hour)
			report, err := arch.Run(context.Background(), h.batch())
			if err != nil {
				t.Fatalf("second Run() error = %v", err)
			}
			if report.Archived() != 1 {
				t.Fatalf("second Run() archived = %d, want 1", report.Archived())
			}
			if got := testutil.ListNames(t, h.dst); !sameNames(got, h.artifact("a.hdf5")) {
				t.Errorf("destination = %v, want [%s]", got, h.artifact("a.hdf5"))
			}
		})
	}
}

func TestArchivist_ArchiveDirectory(t *testing.T) {
	h := newHarness(t)
	x := []byte("archived x")
	testutil.WriteFileAt(t, h.src, "x.xz", x, baseTime)
	testutil.WriteFileAt(t, h.src, "y.xz", []byte("archived y"), baseTime.Add(time.Minute))

	m := mover.NewMemoryMover()
	b := h.batch()
	b.DestDir = "bucket-prefix"

	report, err := h.archivist(m).ArchiveDirectory(context.Background(), b)
	if err != nil {
		t.Fatalf("ArchiveDirectory() error = %v", err)
	}
	if report.Stage != dtm.StageCloud || report.Archived() != 2 {
		t.Fatalf("stage=%s archived=%d, want cloud/2", report.Stage, report.Archived())
	}

	if got := testutil.ListNames(t, h.src); len(got) != 0 {
		t.Errorf("source = %v, want empty", got)
	}
	data, ok := m.Get(filepath.Join("bucket-prefix", "x.xz"))
	if !ok || string(data) != string(x) {
		t.Errorf("uploaded x.xz = %q, %v", data, ok)
	}

	records, err := h.journal.ListTransfers(h.runID)
	if err != nil {
		t.Fatalf("ListTransfers() error = %v", err)
	}
	for _, rec := range records {
		if rec.Stage != dtm.StageCloud {
			t.Errorf("record stage = %s, want cloud", rec.Stage)
		}
	}
}

func TestArchivist_ArchiveDirectory_IntegrityFailureKeepsSource(t *testing.T) {
	h := newHarness(t)
	testutil.WriteFileAt(t, h.src, "x.xz", []byte("x"), baseTime)

	m := &testutil.CorruptingMover{Mover: mover.NewMemoryMover(), Match: "x"}
	report, err := h.archivist(m).ArchiveDirectory(context.Background(), h.batch())
	if err != nil {
		t.Fatalf("ArchiveDirectory() error = %v", err)
	}
	if report.Failed() != 1 || !errors.Is(report.Err(), dtm.ErrDigestMismatch) {
		t.Errorf("failed=%d err=%v, want one digest mismatch", report.Failed(), report.Err())
	}
	if got := testutil.ListNames(t, h.src); !sameNames(got, "x.xz") {
		t.Errorf("source = %v, want x.xz kept", got)
	}
}

func TestArchivist_Plan(t *testing.T) {
	h := newHarness(t)
	testutil.WriteFileAt(t, h.src, "a.hdf5", []byte("a"), baseTime)
	testutil.WriteFileAt(t, h.src, "b.HDF5", []byte("b"), baseTime.Add(time.Minute))
	testutil.WriteFileAt(t, h.src, "c.hdf5", []byte("c"), baseTime.Add(2*time.Minute))
	testutil.WriteFileAt(t, h.src, "z.log", []byte("z"), baseTime.Add(3*time.Minute))

	plan, err := h.archivist(nil).Plan(h.src)
	if err != nil {
		t.Fatalf("Plan() error = %v", err)
	}

	want := []struct{ name, action string }{
		{"a.hdf5", dtm.ActionArchive},
		{"b.HDF5", dtm.ActionArchive},
		{"c.hdf5", dtm.ActionKeepNewest},
		{"z.log", dtm.ActionSkip},
	}
	if len(plan) != len(want) {
		t.Fatalf("Plan() = %d entries, want %d", len(plan), len(want))
	}
	for i, w := range want {
		if plan[i].Name != w.name || plan[i].Action != w.action {
			t.Errorf("plan[%d] = %s/%s, want %s/%s", i, plan[i].Name, plan[i].Action, w.name, w.action)
		}
	}
}
