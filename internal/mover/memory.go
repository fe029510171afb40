package mover

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"sync"

	"dtm-go/internal/dtm"
)

// MemoryMover stores moved files in memory. Useful for tests and dry runs.
// This implementation is safe for concurrent use.
type MemoryMover struct {
	mu      sync.RWMutex
	objects map[string][]byte // dst -> content
}

// NewMemoryMover creates an empty MemoryMover.
func NewMemoryMover() *MemoryMover {
	return &MemoryMover{objects: make(map[string][]byte)}
}

func (m *MemoryMover) Name() string { return "memory" }

func (m *MemoryMover) ValidateDestination(context.Context, string) error { return nil }

// Move reads src into memory under the key dst.
func (m *MemoryMover) Move(ctx context.Context, src, dst string) error {
	f, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("opening source: %w", err)
	}
	defer f.Close()

	data, err := io.ReadAll(dtm.ContextReader(ctx, f))
	if err != nil {
		return fmt.Errorf("failed to read content: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.objects[dst]; ok {
		return fmt.Errorf("destination already exists: %s", dst)
	}
	m.objects[dst] = data
	return nil
}

// Open returns the content stored under dst.
func (m *MemoryMover) Open(_ context.Context, dst string) (io.ReadCloser, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	data, ok := m.objects[dst]
	if !ok {
		return nil, fmt.Errorf("not found: %s", dst)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

// Keys returns the stored destinations in sorted order.
func (m *MemoryMover) Keys() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	keys := make([]string, 0, len(m.objects))
	for k := range m.objects {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Get returns a copy of the content stored under dst.
func (m *MemoryMover) Get(dst string) ([]byte, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	data, ok := m.objects[dst]
	return bytes.Clone(data), ok
}

// Compile-time check that MemoryMover implements dtm.Mover interface
var _ dtm.Mover = (*MemoryMover)(nil)
