//go:build linux || darwin

package device

import (
	"io"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"github.com/deploymenttheory/go-ntfsbox/internal/interfaces"
	"github.com/deploymenttheory/go-ntfsbox/internal/types"
)

// ErrLocked is returned when another process holds the device lock.
var ErrLocked = errors.New("device is locked by another process")

// FileOptions control how OpenFile opens the backing store.
type FileOptions struct {
	// Create creates the file when it does not exist.
	Create bool
	// ReadOnly opens without write access and takes a shared lock.
	ReadOnly bool
}

// FileDevice is a regular file or block special file accessed with
// pread/pwrite. It holds a flock for its whole lifetime so two processes
// never work on the same volume.
type FileDevice struct {
	fd       int
	path     string
	size     int64
	block    bool
	readOnly bool
}

var _ interfaces.ResizableDevice = (*FileDevice)(nil)

// OpenFile opens path and locks it.
func OpenFile(path string, opts FileOptions) (*FileDevice, error) {
	flags := unix.O_RDWR | unix.O_CLOEXEC
	lock := unix.LOCK_EX
	if opts.ReadOnly {
		flags = unix.O_RDONLY | unix.O_CLOEXEC
		lock = unix.LOCK_SH
	}
	if opts.Create && !opts.ReadOnly {
		flags |= unix.O_CREAT
	}

	fd, err := unix.Open(path, flags, 0o644)
	if err != nil {
		return nil, errors.Wrapf(types.ErrDeviceIO, "opening %s: %v", path, err)
	}

	if err := unix.Flock(fd, lock|unix.LOCK_NB); err != nil {
		unix.Close(fd)
		if err == unix.EWOULDBLOCK {
			return nil, errors.Wrap(ErrLocked, path)
		}
		return nil, errors.Wrapf(types.ErrDeviceIO, "locking %s: %v", path, err)
	}

	d := &FileDevice{fd: fd, path: path, readOnly: opts.ReadOnly}
	var stat unix.Stat_t
	if err := unix.Fstat(fd, &stat); err != nil {
		d.Close()
		return nil, errors.Wrapf(types.ErrDeviceIO, "stat %s: %v", path, err)
	}
	switch stat.Mode & unix.S_IFMT {
	case unix.S_IFREG:
		d.size = stat.Size
	case unix.S_IFBLK:
		d.block = true
		size, err := blockDeviceSize(fd)
		if err != nil {
			d.Close()
			return nil, errors.Wrapf(types.ErrDeviceIO, "sizing block device %s: %v", path, err)
		}
		d.size = size
	default:
		d.Close()
		return nil, errors.Errorf("%s is neither a regular file nor a block device", path)
	}
	return d, nil
}

// Path returns the path the device was opened from.
func (d *FileDevice) Path() string { return d.path }

// IsBlockDevice reports whether the device is a block special file.
func (d *FileDevice) IsBlockDevice() bool { return d.block }

// ReadAt reads len(p) bytes at off, looping over partial reads.
func (d *FileDevice) ReadAt(p []byte, off int64) (int, error) {
	total := 0
	for len(p) > 0 {
		n, err := unix.Pread(d.fd, p, off)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return total, errors.Wrapf(err, "pread at offset %d", off)
		}
		if n == 0 {
			return total, io.EOF
		}
		total += n
		p = p[n:]
		off += int64(n)
	}
	return total, nil
}

// WriteAt writes p at off. A pwrite that stores nothing is reported as
// io.ErrShortWrite so WriteFull can retry it.
func (d *FileDevice) WriteAt(p []byte, off int64) (int, error) {
	if d.readOnly {
		return 0, errors.Errorf("%s is open read-only", d.path)
	}
	total := 0
	for len(p) > 0 {
		n, err := unix.Pwrite(d.fd, p, off)
		if n > 0 {
			total += n
			p = p[n:]
			off += int64(n)
		}
		switch {
		case err == unix.EINTR:
			continue
		case err == unix.EAGAIN:
			return total, io.ErrShortWrite
		case err != nil:
			return total, errors.Wrapf(err, "pwrite at offset %d", off)
		case n == 0:
			return total, io.ErrShortWrite
		}
	}
	if off > d.size && !d.block {
		d.size = off
	}
	return total, nil
}

// Size returns the size of the backing store.
func (d *FileDevice) Size() (int64, error) {
	return d.size, nil
}

// Truncate changes the size of a regular file. Block devices have a fixed
// size and only accept their current size.
func (d *FileDevice) Truncate(size int64) error {
	if d.block {
		if size > d.size {
			return errors.Wrapf(types.ErrNoSpace, "block device %s holds %d bytes, %d requested", d.path, d.size, size)
		}
		return nil
	}
	if err := unix.Ftruncate(d.fd, size); err != nil {
		return errors.Wrapf(types.ErrDeviceIO, "truncating %s to %d bytes: %v", d.path, size, err)
	}
	d.size = size
	return nil
}

// Sync flushes pending writes.
func (d *FileDevice) Sync() error {
	return unix.Fsync(d.fd)
}

// Close releases the lock and the descriptor.
func (d *FileDevice) Close() error {
	if d.fd < 0 {
		return nil
	}
	_ = unix.Flock(d.fd, unix.LOCK_UN)
	err := unix.Close(d.fd)
	d.fd = -1
	if err != nil {
		return errors.Wrapf(types.ErrDeviceIO, "closing %s: %v", d.path, err)
	}
	return nil
}
