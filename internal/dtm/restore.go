package dtm

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// Restore decompresses an archived artifact into output. When the journal
// knows the content digest of the file that produced the artifact, the
// restored bytes are verified against it and output is removed on mismatch.
// output must not exist.
func (a *Archivist) Restore(ctx context.Context, artifact, output string) error {
	if _, err := os.Stat(output); err == nil {
		return fmt.Errorf("output already exists: %s", output)
	} else if !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("checking output: %w", err)
	}

	if err := a.compressor.Decompress(ctx, artifact, output); err != nil {
		return fmt.Errorf("decompressing %s: %w", artifact, err)
	}

	rec, err := a.journal.FindTransferByArtifact(filepath.Base(artifact))
	if err != nil {
		return fmt.Errorf("looking up transfer record: %w", err)
	}
	if rec == nil || rec.ContentDigest == "" {
		a.logger.Warn("restored without verification", "artifact", artifact, "output", output)
		return nil
	}

	got, err := a.hasher.Hash(output)
	if err != nil {
		return fmt.Errorf("hashing restored file: %w", err)
	}
	if got != rec.ContentDigest {
		os.Remove(output)
		ierr := &IntegrityError{Path: output, Want: rec.ContentDigest, Got: got}
		a.logger.Critical("restored file does not match archived digest", "artifact", artifact, "want", ierr.Want, "got", ierr.Got)
		return ierr
	}

	a.logger.Info("file restored", "artifact", artifact, "output", output, "digest", got)
	return nil
}
