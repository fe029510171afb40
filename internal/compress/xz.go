package compress

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/ulikunitz/xz"
	"github.com/ulikunitz/xz/lzma"

	"dtm-go/internal/dtm"
)

// Extension is the suffix of artifacts produced by XZCompressor.
const Extension = ".xz"

const copyBufferSize = 32 * 1024

// presets maps effort levels 0-9 to a match finder and an LZMA2 dictionary
// size. The hash table finder is the fast one; the binary tree finds longer
// matches but allocates 16 bytes per dictionary byte, which caps level 9 at
// an 8 MiB dictionary.
var presets = [10]struct {
	matcher lzma.MatchAlgorithm
	dictCap int
}{
	{lzma.HashTable4, 64 << 10},
	{lzma.HashTable4, 128 << 10},
	{lzma.HashTable4, 256 << 10},
	{lzma.HashTable4, 384 << 10},
	{lzma.HashTable4, 512 << 10},
	{lzma.HashTable4, 768 << 10},
	{lzma.BinaryTree, 1 << 20},
	{lzma.BinaryTree, 2 << 20},
	{lzma.BinaryTree, 4 << 20},
	{lzma.BinaryTree, 8 << 20},
}

// XZCompressor writes .xz (LZMA2) artifacts.
type XZCompressor struct{}

// NewXZCompressor creates an XZCompressor.
func NewXZCompressor() *XZCompressor {
	return &XZCompressor{}
}

func (c *XZCompressor) Extension() string { return Extension }

// Compress writes <dir>/<stem>.xz and removes the original on success.
// The artifact is written to a temporary file in the same directory and
// renamed into place once complete. The original is only removed if its
// size and mtime did not change while it was being read.
func (c *XZCompressor) Compress(ctx context.Context, path string, level int) (string, error) {
	if level < 0 || level > 9 {
		return "", &dtm.CompressionError{Path: path, Err: fmt.Errorf("compression level %d outside 0-9", level)}
	}

	dir := filepath.Dir(path)
	dst := filepath.Join(dir, dtm.Stem(filepath.Base(path))+Extension)
	if _, err := os.Lstat(dst); err == nil {
		return "", &dtm.CompressionError{Path: path, Err: fmt.Errorf("artifact already exists: %s", dst)}
	}

	info1, err := os.Stat(path)
	if err != nil {
		return "", &dtm.CompressionError{Path: path, Err: err}
	}

	if err := c.writeArtifact(ctx, path, dst, level); err != nil {
		return "", &dtm.CompressionError{Path: path, Err: err}
	}

	info2, err := os.Stat(path)
	if err == nil {
		err = validateStatUnchanged(info1, info2)
	}
	if err == nil {
		err = ctx.Err()
	}
	if err == nil {
		err = os.Remove(path)
	}
	if err != nil {
		os.Remove(dst)
		return "", &dtm.CompressionError{Path: path, Err: err}
	}

	return dst, nil
}

// writeArtifact compresses src into dst via a temporary file.
func (c *XZCompressor) writeArtifact(ctx context.Context, src, dst string, level int) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("opening source: %w", err)
	}
	defer in.Close()

	tmpFile, err := os.CreateTemp(filepath.Dir(dst), dtm.TempPrefix+"*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	w, err := writerConfig(level).NewWriter(tmpFile)
	if err != nil {
		tmpFile.Close()
		return fmt.Errorf("creating xz writer: %w", err)
	}

	if _, err := io.CopyBuffer(w, dtm.ContextReader(ctx, in), make([]byte, copyBufferSize)); err != nil {
		tmpFile.Close()
		return fmt.Errorf("compressing: %w", err)
	}
	if err := w.Close(); err != nil {
		tmpFile.Close()
		return fmt.Errorf("finishing xz stream: %w", err)
	}
	if err := tmpFile.Sync(); err != nil {
		tmpFile.Close()
		return fmt.Errorf("syncing temp file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}

	if err := os.Rename(tmpPath, dst); err != nil {
		return fmt.Errorf("renaming temp file: %w", err)
	}
	success = true
	return nil
}

// Decompress restores the .xz artifact at src into a new file at dst.
// dst is removed if decompression fails part way.
func (c *XZCompressor) Decompress(ctx context.Context, src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("opening artifact: %w", err)
	}
	defer in.Close()

	r, err := xz.NewReader(in)
	if err != nil {
		return fmt.Errorf("reading xz header: %w", err)
	}

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return fmt.Errorf("output already exists: %s", dst)
		}
		return fmt.Errorf("creating output: %w", err)
	}

	_, err = io.CopyBuffer(out, dtm.ContextReader(ctx, r), make([]byte, copyBufferSize))
	if closeErr := out.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(dst)
		return fmt.Errorf("decompressing: %w", err)
	}
	return nil
}

func writerConfig(level int) xz.WriterConfig {
	p := presets[level]
	return xz.WriterConfig{
		DictCap: p.dictCap,
		Matcher: p.matcher,
	}
}

// validateStatUnchanged checks that the file was not modified while it was
// being compressed.
func validateStatUnchanged(info1, info2 fs.FileInfo) error {
	if info1.Size() != info2.Size() {
		return fmt.Errorf("size changed during compression: %d -> %d", info1.Size(), info2.Size())
	}
	if !info1.ModTime().Equal(info2.ModTime()) {
		return fmt.Errorf("mtime changed during compression: %v -> %v", info1.ModTime(), info2.ModTime())
	}
	return nil
}

// Compile-time check that XZCompressor implements dtm.Compressor interface
var _ dtm.Compressor = (*XZCompressor)(nil)
