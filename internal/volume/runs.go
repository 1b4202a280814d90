package volume

import (
	"bytes"
	"io"

	"github.com/pkg/errors"

	"github.com/deploymenttheory/go-ntfsbox/internal/device"
	"github.com/deploymenttheory/go-ntfsbox/internal/runlist"
	"github.com/deploymenttheory/go-ntfsbox/internal/types"
)

const fillChunk = 1 << 20

// WriteRuns writes data through rl starting at VCN rl.StartVCN(). Each run
// is written whole; bytes past the end of data are zero. Sparse runs are
// skipped.
func WriteRuns(dev io.WriterAt, clusterSize uint32, rl runlist.Runlist, data []byte, retries int) error {
	cs := int64(clusterSize)
	base := rl.StartVCN()
	for _, r := range rl {
		if r.IsHole() {
			continue
		}
		start := (r.VCN - base) * cs
		buf := make([]byte, r.Length*cs)
		if start < int64(len(data)) {
			copy(buf, data[start:])
		}
		if err := device.WriteFull(dev, buf, r.LCN*cs, retries); err != nil {
			return errors.Wrapf(err, "writing run %s", r)
		}
	}
	return nil
}

// FillRuns writes every cluster mapped by rl with b.
func FillRuns(dev io.WriterAt, clusterSize uint32, rl runlist.Runlist, b byte, retries int) error {
	cs := int64(clusterSize)
	chunk := bytes.Repeat([]byte{b}, fillChunk)
	for _, r := range rl {
		if r.IsHole() {
			continue
		}
		off, n := r.LCN*cs, r.Length*cs
		for n > 0 {
			c := min(n, int64(len(chunk)))
			if err := device.WriteFull(dev, chunk[:c], off, retries); err != nil {
				return errors.Wrapf(err, "filling run %s", r)
			}
			off += c
			n -= c
		}
	}
	return nil
}

// ReadRuns reads the first size bytes mapped by rl. Sparse runs read as
// zeros.
func ReadRuns(dev io.ReaderAt, clusterSize uint32, rl runlist.Runlist, size int64) ([]byte, error) {
	out := make([]byte, size)
	if err := ReadRange(dev, clusterSize, rl, out, 0); err != nil {
		return nil, err
	}
	return out, nil
}

// ReadRange fills p from byte offset off of the stream mapped by rl. The
// offset counts from VCN 0.
func ReadRange(dev io.ReaderAt, clusterSize uint32, rl runlist.Runlist, p []byte, off int64) error {
	return walkRange(clusterSize, rl, int64(len(p)), off, func(at, pos, n int64) error {
		if at == runlist.LCNHole {
			clear(p[pos : pos+n])
			return nil
		}
		return device.ReadFull(dev, p[pos:pos+n], at)
	})
}

// WriteRange writes p at byte offset off of the stream mapped by rl.
// Writing into a sparse run is an error.
func WriteRange(dev io.WriterAt, clusterSize uint32, rl runlist.Runlist, p []byte, off int64, retries int) error {
	return walkRange(clusterSize, rl, int64(len(p)), off, func(at, pos, n int64) error {
		if at == runlist.LCNHole {
			return errors.Wrapf(types.ErrUnsupportedLayout, "write into sparse run at byte %d", off+pos)
		}
		return device.WriteFull(dev, p[pos:pos+n], at, retries)
	})
}

// walkRange splits the stream range [off, off+length) at run boundaries and
// calls fn with the device byte offset (or LCNHole), the position within
// the range and the piece length.
func walkRange(clusterSize uint32, rl runlist.Runlist, length, off int64, fn func(devOff, pos, n int64) error) error {
	cs := int64(clusterSize)
	pos := int64(0)
	for pos < length {
		stream := off + pos
		vcn, within := stream/cs, stream%cs
		lcn, left, err := rl.LCNAt(vcn)
		if err != nil {
			return errors.Wrapf(types.ErrCorruptEncoding, "byte %d: %v", off+pos, err)
		}
		n := min(left*cs-within, length-pos)
		devOff := int64(runlist.LCNHole)
		if lcn != runlist.LCNHole {
			devOff = lcn*cs + within
		}
		if err := fn(devOff, pos, n); err != nil {
			return err
		}
		pos += n
	}
	return nil
}
