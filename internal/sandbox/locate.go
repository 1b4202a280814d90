package sandbox

import (
	"context"
	"io"

	"github.com/containerd/log"
	"github.com/pkg/errors"

	"github.com/deploymenttheory/go-ntfsbox/internal/device"
	"github.com/deploymenttheory/go-ntfsbox/internal/interfaces"
	"github.com/deploymenttheory/go-ntfsbox/internal/types"
)

// scanWindow is how many candidate offsets Locate reads per device read.
const scanWindow = 64 * 1024

// Write stores m at its offset.
func Write(dev io.WriterAt, m *Marker, retries int) error {
	if err := device.WriteFull(dev, m.Encode(), m.Offset(), retries); err != nil {
		return errors.Wrap(err, "writing sandbox marker")
	}
	return nil
}

// Clear zeroes the marker slot of a volume of volumeSize bytes.
func Clear(dev io.WriterAt, volumeSize int64, retries int) error {
	return device.Zero(dev, Offset(volumeSize), MarkerSize, retries)
}

// Locate scans backward from the end of dev for a marker, probing every
// byte offset down to minOffset. It returns the decoded marker and its
// offset. A block whose patterns match but which does not decode is
// reported as corrupt rather than skipped.
func Locate(ctx context.Context, dev interfaces.BlockDevice, minOffset int64) (*Marker, int64, error) {
	size, err := dev.Size()
	if err != nil {
		return nil, 0, errors.Wrapf(types.ErrDeviceIO, "sizing device: %v", err)
	}
	minOffset = max(minOffset, 0)
	last := size - MarkerSize
	if last < minOffset {
		return nil, 0, errors.Wrapf(types.ErrNotFound, "no sandbox marker: device holds %d bytes", size)
	}

	buf := make([]byte, scanWindow+MarkerSize-1)
	for hi := last; hi >= minOffset; hi -= scanWindow {
		if err := ctx.Err(); err != nil {
			return nil, 0, err
		}
		lo := max(hi-scanWindow+1, minOffset)
		window := buf[:hi-lo+MarkerSize]
		if err := device.ReadFull(dev, window, lo); err != nil {
			return nil, 0, err
		}
		for off := hi; off >= lo; off-- {
			b := window[off-lo : off-lo+MarkerSize]
			if !patternsMatch(b) {
				continue
			}
			m, err := Decode(b)
			if err != nil {
				return nil, 0, errors.Wrapf(err, "sandbox marker at %d", off)
			}
			log.G(ctx).WithFields(log.Fields{
				"offset":      off,
				"volume_size": m.VolumeSize,
			}).Debug("found sandbox marker")
			return m, off, nil
		}
	}
	return nil, 0, errors.Wrapf(types.ErrNotFound, "no sandbox marker at or above offset %d", minOffset)
}

// Verify locates the marker and checks it describes a volume of
// volumeSize bytes at the expected offset.
func Verify(ctx context.Context, dev interfaces.BlockDevice, volumeSize int64) (*Marker, error) {
	m, off, err := Locate(ctx, dev, volumeSize)
	if err != nil {
		return nil, err
	}
	if m.VolumeSize != volumeSize {
		return nil, errors.Wrapf(types.ErrCorruptEncoding,
			"sandbox marker declares %d bytes, boot sector %d", m.VolumeSize, volumeSize)
	}
	if off != Offset(volumeSize) {
		return nil, errors.Wrapf(types.ErrCorruptEncoding,
			"sandbox marker at %d, expected %d", off, Offset(volumeSize))
	}
	return m, nil
}
