package device

import "golang.org/x/sys/unix"

const (
	dkiocGetBlockSize  = 0x40046418
	dkiocGetBlockCount = 0x40086419
)

func blockDeviceSize(fd int) (int64, error) {
	bs, err := unix.IoctlGetInt(fd, dkiocGetBlockSize)
	if err != nil {
		return 0, err
	}
	count, err := unix.IoctlGetInt(fd, dkiocGetBlockCount)
	if err != nil {
		return 0, err
	}
	return int64(bs) * int64(count), nil
}
