// Package device provides the block devices volumes are built on: a file or
// block special file accessed with pread/pwrite, and an in-memory device.
package device

import (
	"io"

	"github.com/pkg/errors"

	"github.com/deploymenttheory/go-ntfsbox/internal/interfaces"
	"github.com/deploymenttheory/go-ntfsbox/internal/types"
)

// DefaultWriteRetries is the number of times a short write is retried
// before giving up.
const DefaultWriteRetries = 3

// WriteFull writes all of p at off. A write that makes partial progress or
// reports io.ErrShortWrite is retried up to retries times; any other error
// is returned at once. Failures are wrapped in types.ErrDeviceIO.
func WriteFull(dev io.WriterAt, p []byte, off int64, retries int) error {
	attempts := 0
	for len(p) > 0 {
		n, err := dev.WriteAt(p, off)
		p, off = p[n:], off+int64(n)
		if len(p) == 0 {
			return nil
		}
		if err != nil && !errors.Is(err, io.ErrShortWrite) {
			return errors.Wrapf(types.ErrDeviceIO, "write at %d: %v", off, err)
		}
		attempts++
		if attempts > retries {
			return errors.Wrapf(types.ErrDeviceIO, "short write at %d: %d bytes left after %d attempts",
				off, len(p), attempts)
		}
	}
	return nil
}

// ReadFull reads len(p) bytes at off. Running into the end of the device is
// an I/O error.
func ReadFull(dev io.ReaderAt, p []byte, off int64) error {
	n, err := dev.ReadAt(p, off)
	if n == len(p) {
		return nil
	}
	if err == nil {
		err = io.ErrUnexpectedEOF
	}
	return errors.Wrapf(types.ErrDeviceIO, "read %d bytes at %d: %v", len(p), off, err)
}

// Sync flushes dev, mapping failures to types.ErrDeviceIO.
func Sync(dev interfaces.BlockDevice) error {
	if err := dev.Sync(); err != nil {
		return errors.Wrapf(types.ErrDeviceIO, "sync: %v", err)
	}
	return nil
}

// Zero writes n zero bytes at off in chunks.
func Zero(dev io.WriterAt, off, n int64, retries int) error {
	chunk := make([]byte, min(n, 1<<20))
	for n > 0 {
		c := min(n, int64(len(chunk)))
		if err := WriteFull(dev, chunk[:c], off, retries); err != nil {
			return err
		}
		off += c
		n -= c
	}
	return nil
}
