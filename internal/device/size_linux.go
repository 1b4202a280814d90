package device

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

// blockDeviceSize reads the byte size of a block device. BLKGETSIZE64
// fills a u64, which an int does not hold on 32-bit targets.
func blockDeviceSize(fd int) (int64, error) {
	var size uint64
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), uintptr(unix.BLKGETSIZE64), uintptr(unsafe.Pointer(&size)))
	if errno != 0 {
		return 0, errno
	}
	return int64(size), nil
}
