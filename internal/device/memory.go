package device

import (
	"io"
	"sync"

	"github.com/pkg/errors"

	"github.com/deploymenttheory/go-ntfsbox/internal/interfaces"
)

// MemoryDevice is a resizable device backed by a byte slice. It can inject
// short writes and write failures for tests.
type MemoryDevice struct {
	mu          sync.Mutex
	data        []byte
	writes      int
	failAfter   int
	shortWrites int
	closed      bool
}

var _ interfaces.ResizableDevice = (*MemoryDevice)(nil)

// NewMemory returns a zero-filled device of size bytes.
func NewMemory(size int64) *MemoryDevice {
	return &MemoryDevice{data: make([]byte, size), failAfter: -1}
}

// FailWritesAfter makes every write after the next n successful ones fail.
// A negative n disables the failure.
func (m *MemoryDevice) FailWritesAfter(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failAfter = m.writes + n
	if n < 0 {
		m.failAfter = -1
	}
}

// ShortWrites makes the next n writes store only half of their buffer.
func (m *MemoryDevice) ShortWrites(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.shortWrites = n
}

// Writes returns the number of write calls that stored data.
func (m *MemoryDevice) Writes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writes
}

// Bytes returns a copy of the device contents.
func (m *MemoryDevice) Bytes() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]byte(nil), m.data...)
}

func (m *MemoryDevice) ReadAt(p []byte, off int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, errors.New("device closed")
	}
	if off < 0 || off >= int64(len(m.data)) {
		return 0, io.EOF
	}
	n := copy(p, m.data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (m *MemoryDevice) WriteAt(p []byte, off int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, errors.New("device closed")
	}
	if off < 0 || off+int64(len(p)) > int64(len(m.data)) {
		return 0, errors.Errorf("write at offset %d with length %d exceeds device size %d",
			off, len(p), len(m.data))
	}
	if m.failAfter >= 0 && m.writes >= m.failAfter {
		return 0, errors.Errorf("injected write failure at offset %d", off)
	}
	m.writes++
	if m.shortWrites > 0 && len(p) > 1 {
		m.shortWrites--
		n := copy(m.data[off:], p[:len(p)/2])
		return n, io.ErrShortWrite
	}
	return copy(m.data[off:], p), nil
}

func (m *MemoryDevice) Size() (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.data)), nil
}

// Truncate resizes the device, keeping the common prefix.
func (m *MemoryDevice) Truncate(size int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if size < 0 {
		return errors.Errorf("negative size %d", size)
	}
	if size <= int64(len(m.data)) {
		clear(m.data[size:])
		m.data = m.data[:size]
		return nil
	}
	grown := make([]byte, size)
	copy(grown, m.data)
	m.data = grown
	return nil
}

func (m *MemoryDevice) Sync() error { return nil }

func (m *MemoryDevice) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
