// Package volume gives access to an existing NTFS volume: records through
// the $MFT runlist, cluster data, the allocation bitmaps and the dirty flag.
package volume

import (
	"context"

	"github.com/containerd/log"
	"github.com/pkg/errors"

	"github.com/deploymenttheory/go-ntfsbox/internal/bitmap"
	"github.com/deploymenttheory/go-ntfsbox/internal/bootsector"
	"github.com/deploymenttheory/go-ntfsbox/internal/device"
	"github.com/deploymenttheory/go-ntfsbox/internal/interfaces"
	"github.com/deploymenttheory/go-ntfsbox/internal/record"
	"github.com/deploymenttheory/go-ntfsbox/internal/runlist"
	"github.com/deploymenttheory/go-ntfsbox/internal/types"
)

// Short writes to an existing volume fail at once. Only a format retries
// them.
const noRetries = 0

// DefaultCopyChunk is the number of clusters CopyClusters moves per I/O.
const DefaultCopyChunk = 256

// Option configures a Volume.
type Option func(*Volume)

// WithCopyChunk sets the number of clusters copied per I/O.
func WithCopyChunk(clusters int64) Option {
	return func(v *Volume) {
		if clusters > 0 {
			v.copyChunk = clusters
		}
	}
}

// Volume is an opened NTFS volume.
type Volume struct {
	dev       interfaces.BlockDevice
	boot      types.BootSector
	geo       types.Geometry
	copyChunk int64

	mftRL       runlist.Runlist
	mftSize     int64
	mirrRL      runlist.Runlist
	mirrRecords int64
}

// Open reads the boot sector and the $MFT and $MFTMirr runlists.
func Open(ctx context.Context, dev interfaces.BlockDevice, opts ...Option) (*Volume, error) {
	v := &Volume{dev: dev, copyChunk: DefaultCopyChunk}
	for _, opt := range opts {
		opt(v)
	}

	buf := make([]byte, types.BootSectorFieldsSize)
	if err := device.ReadFull(dev, buf, 0); err != nil {
		return nil, errors.Wrap(err, "reading boot sector")
	}
	bs, err := bootsector.Decode(buf)
	if err != nil {
		return nil, err
	}
	v.boot = *bs
	v.geo = bs.Geometry()

	// Record 0 is found through the boot sector; everything else through
	// the runlist it holds.
	rs := int64(v.geo.RecordSize)
	raw := make([]byte, rs)
	if err := device.ReadFull(dev, raw, v.geo.ClusterOffset(bs.MFTLCN)); err != nil {
		return nil, errors.Wrap(err, "reading $MFT record")
	}
	rec, err := record.Unmarshal(raw)
	if err != nil {
		return nil, errors.Wrap(err, "decoding $MFT record")
	}
	if err := v.loadMFT(rec); err != nil {
		return nil, err
	}
	if err := v.loadMirror(); err != nil {
		return nil, err
	}

	log.G(ctx).WithFields(log.Fields{
		"clusters": v.geo.TotalClusters,
		"records":  v.RecordCount(),
		"mft_lcn":  bs.MFTLCN,
	}).Debug("volume opened")
	return v, nil
}

func (v *Volume) loadMFT(rec *record.Record) error {
	data, err := rec.Find(types.AttrData, "", 0)
	if err != nil {
		return errors.Wrap(err, "$MFT has no data")
	}
	if !data.NonResident() {
		return errors.Wrap(types.ErrCorruptEncoding, "$MFT data is resident")
	}
	rl, err := data.Runlist()
	if err != nil {
		return errors.Wrap(err, "$MFT runlist")
	}
	if len(rl) == 0 || rl[0].IsHole() {
		return errors.Wrap(types.ErrCorruptEncoding, "$MFT runlist is empty")
	}
	v.mftRL = rl
	v.mftSize = data.Sizes().Data
	return nil
}

func (v *Volume) loadMirror() error {
	rec, err := v.ReadRecord(types.RecordMFTMirr)
	if err != nil {
		return errors.Wrap(err, "reading $MFTMirr record")
	}
	data, err := rec.Find(types.AttrData, "", 0)
	if err != nil || !data.NonResident() {
		return errors.Wrap(types.ErrCorruptEncoding, "$MFTMirr has no non-resident data")
	}
	rl, err := data.Runlist()
	if err != nil {
		return errors.Wrap(err, "$MFTMirr runlist")
	}
	v.mirrRL = rl
	v.mirrRecords = data.Sizes().Data / int64(v.geo.RecordSize)
	return nil
}

// Device returns the underlying device.
func (v *Volume) Device() interfaces.BlockDevice { return v.dev }

// Geometry returns the current geometry.
func (v *Volume) Geometry() types.Geometry { return v.geo }

// BootSector returns a copy of the current boot sector.
func (v *Volume) BootSector() types.BootSector { return v.boot }


// RecordCount returns the number of records in the $MFT.
func (v *Volume) RecordCount() int64 { return v.mftSize / int64(v.geo.RecordSize) }

// MFTRunlist returns a copy of the in-memory $MFT runlist.
func (v *Volume) MFTRunlist() runlist.Runlist { return v.mftRL.Clone() }

// MirrorRunlist returns a copy of the $MFTMirr runlist.
func (v *Volume) MirrorRunlist() runlist.Runlist { return v.mirrRL.Clone() }

// SetMFTRunlist replaces the in-memory $MFT runlist after its clusters were
// moved. Record 0 on disk is not touched.
func (v *Volume) SetMFTRunlist(rl runlist.Runlist) { v.mftRL = rl.Clone() }

// SetMirrorRunlist replaces the in-memory $MFTMirr runlist.
func (v *Volume) SetMirrorRunlist(rl runlist.Runlist) { v.mirrRL = rl.Clone() }

// Reload re-reads the $MFT and $MFTMirr runlists from record 0 and 1.
func (v *Volume) Reload() error {
	rec, err := v.ReadRecord(types.RecordMFT)
	if err != nil {
		return err
	}
	if err := v.loadMFT(rec); err != nil {
		return err
	}
	return v.loadMirror()
}

func (v *Volume) recordOffset(n uint64) (int64, error) {
	if int64(n) >= v.RecordCount() {
		return 0, errors.Wrapf(types.ErrNotFound, "record %d of %d", n, v.RecordCount())
	}
	return int64(n) * int64(v.geo.RecordSize), nil
}

// ReadRecord reads record n and removes its fixups.
func (v *Volume) ReadRecord(n uint64) (*record.Record, error) {
	off, err := v.recordOffset(n)
	if err != nil {
		return nil, err
	}
	raw := make([]byte, v.geo.RecordSize)
	if err := ReadRange(v.dev, v.geo.ClusterSize, v.mftRL, raw, off); err != nil {
		return nil, errors.Wrapf(err, "reading record %d", n)
	}
	rec, err := record.Unmarshal(raw)
	if err != nil {
		return nil, errors.Wrapf(err, "record %d", n)
	}
	return rec, nil
}

// WriteRecord protects rec with fixups and writes it to the $MFT, and to
// the $MFTMirr when the record is mirrored.
func (v *Volume) WriteRecord(rec *record.Record) error {
	n := uint64(rec.RecordNumber())
	off, err := v.recordOffset(n)
	if err != nil {
		return err
	}
	raw, err := rec.Marshal()
	if err != nil {
		return err
	}
	if err := WriteRange(v.dev, v.geo.ClusterSize, v.mftRL, raw, off, noRetries); err != nil {
		return errors.Wrapf(err, "writing record %d", n)
	}
	if int64(n) < v.mirrRecords {
		if err := WriteRange(v.dev, v.geo.ClusterSize, v.mirrRL, raw, off, noRetries); err != nil {
			return errors.Wrapf(err, "mirroring record %d", n)
		}
	}
	return nil
}

// SyncMirror copies the mirrored records from the $MFT to the $MFTMirr.
func (v *Volume) SyncMirror() error {
	buf := make([]byte, v.mirrRecords*int64(v.geo.RecordSize))
	if err := ReadRange(v.dev, v.geo.ClusterSize, v.mftRL, buf, 0); err != nil {
		return errors.Wrap(err, "reading mirrored records")
	}
	return WriteRange(v.dev, v.geo.ClusterSize, v.mirrRL, buf, 0, noRetries)
}

// ReadRunlist reads size bytes of attribute data through rl.
func (v *Volume) ReadRunlist(rl runlist.Runlist, size int64) ([]byte, error) {
	return ReadRuns(v.dev, v.geo.ClusterSize, rl, size)
}

// WriteRunlist writes data through rl, zero padding the last cluster.
func (v *Volume) WriteRunlist(rl runlist.Runlist, data []byte) error {
	return WriteRuns(v.dev, v.geo.ClusterSize, rl, data, noRetries)
}

// ReadAttribute returns the value of a resident attribute or the data of a
// non-resident one.
func (v *Volume) ReadAttribute(rec *record.Record, typ types.AttrType, name string) ([]byte, error) {
	a, err := rec.Find(typ, name, 0)
	if err != nil {
		return nil, err
	}
	if !a.NonResident() {
		return append([]byte(nil), a.Value()...), nil
	}
	rl, err := a.Runlist()
	if err != nil {
		return nil, err
	}
	return v.ReadRunlist(rl, a.Sizes().Data)
}

// CopyClusters copies n clusters from src to dst in chunks. The ranges may
// not overlap.
func (v *Volume) CopyClusters(src, dst, n int64) error {
	cs := int64(v.geo.ClusterSize)
	buf := make([]byte, min(n, v.copyChunk)*cs)
	for done := int64(0); done < n; {
		c := min(n-done, v.copyChunk)
		chunk := buf[:c*cs]
		if err := device.ReadFull(v.dev, chunk, (src+done)*cs); err != nil {
			return errors.Wrapf(err, "copying cluster %d", src+done)
		}
		if err := device.WriteFull(v.dev, chunk, (dst+done)*cs, noRetries); err != nil {
			return errors.Wrapf(err, "copying to cluster %d", dst+done)
		}
		done += c
	}
	return nil
}

// Sync flushes the device.
func (v *Volume) Sync() error {
	return device.Sync(v.dev)
}

// ReadClusterBitmap loads $Bitmap into an allocator covering the current
// cluster count.
func (v *Volume) ReadClusterBitmap() (*bitmap.Allocator, error) {
	rec, err := v.ReadRecord(types.RecordBitmap)
	if err != nil {
		return nil, err
	}
	data, err := v.ReadAttribute(rec, types.AttrData, "")
	if err != nil {
		return nil, errors.Wrap(err, "reading $Bitmap")
	}
	return bitmap.Load(data, v.geo.TotalClusters)
}

// WriteClusterBitmap stores the allocator bits into the existing $Bitmap
// clusters.
func (v *Volume) WriteClusterBitmap(a *bitmap.Allocator) error {
	rec, err := v.ReadRecord(types.RecordBitmap)
	if err != nil {
		return err
	}
	attr, err := rec.Find(types.AttrData, "", 0)
	if err != nil {
		return err
	}
	rl, err := attr.Runlist()
	if err != nil {
		return err
	}
	data := a.Bytes()
	if size := attr.Sizes().Data; int64(len(data)) > size {
		data = data[:size]
	}
	return v.WriteRunlist(rl, data)
}

// mftBitmap returns record 0 and its $BITMAP contents.
func (v *Volume) mftBitmap() (*record.Record, []byte, error) {
	rec, err := v.ReadRecord(types.RecordMFT)
	if err != nil {
		return nil, nil, err
	}
	bits, err := v.ReadAttribute(rec, types.AttrBitmap, "")
	if err != nil {
		return nil, nil, errors.Wrap(err, "reading $MFT bitmap")
	}
	return rec, bits, nil
}

// RecordInUse reports whether record n is allocated in the $MFT bitmap.
func (v *Volume) RecordInUse(n uint64) (bool, error) {
	_, bits, err := v.mftBitmap()
	if err != nil {
		return false, err
	}
	if n/8 >= uint64(len(bits)) {
		return false, nil
	}
	return bits[n/8]&(1<<(n%8)) != 0, nil
}

// SetRecordAllocated sets or clears the $MFT bitmap bit of record n.
func (v *Volume) SetRecordAllocated(n uint64, allocated bool) error {
	rec, bits, err := v.mftBitmap()
	if err != nil {
		return err
	}
	if n/8 >= uint64(len(bits)) {
		return errors.Wrapf(types.ErrNoSpace, "record %d is past the $MFT bitmap", n)
	}
	if allocated {
		bits[n/8] |= 1 << (n % 8)
	} else {
		bits[n/8] &^= 1 << (n % 8)
	}

	a, err := rec.Find(types.AttrBitmap, "", 0)
	if err != nil {
		return err
	}
	if !a.NonResident() {
		if err := rec.SetResidentValue(types.AttrBitmap, "", bits); err != nil {
			return err
		}
		return v.WriteRecord(rec)
	}
	rl, err := a.Runlist()
	if err != nil {
		return err
	}
	return v.WriteRunlist(rl, bits)
}

func (v *Volume) volumeInformation() (*record.Record, *record.VolumeInformation, error) {
	rec, err := v.ReadRecord(types.RecordVolume)
	if err != nil {
		return nil, nil, err
	}
	a, err := rec.Find(types.AttrVolumeInformation, "", 0)
	if err != nil {
		return nil, nil, errors.Wrap(err, "$Volume")
	}
	info, err := record.DecodeVolumeInformation(a.Value())
	if err != nil {
		return nil, nil, err
	}
	return rec, info, nil
}

// IsDirty reports the dirty flag of $VOLUME_INFORMATION.
func (v *Volume) IsDirty() (bool, error) {
	_, info, err := v.volumeInformation()
	if err != nil {
		return false, err
	}
	return info.Flags&types.VolumeFlagDirty != 0, nil
}

// SetDirty sets or clears the dirty flag. The caller syncs.
func (v *Volume) SetDirty(dirty bool) error {
	rec, info, err := v.volumeInformation()
	if err != nil {
		return err
	}
	if dirty {
		info.Flags |= types.VolumeFlagDirty
	} else {
		info.Flags &^= types.VolumeFlagDirty
	}
	if err := rec.SetResidentValue(types.AttrVolumeInformation, "", info.Encode()); err != nil {
		return err
	}
	return v.WriteRecord(rec)
}

// Label returns the volume name.
func (v *Volume) Label() (string, error) {
	rec, err := v.ReadRecord(types.RecordVolume)
	if err != nil {
		return "", err
	}
	a, err := rec.Find(types.AttrVolumeName, "", 0)
	if err != nil {
		return "", nil
	}
	return record.DecodeName(a.Value()), nil
}

// WriteBootSector writes bs as the primary boot sector and, when the
// device holds the sector after the volume, as the backup. The in-memory
// geometry follows bs.
func (v *Volume) WriteBootSector(bs types.BootSector) error {
	if err := bootsector.Validate(&bs); err != nil {
		return err
	}
	sector := int64(bs.BytesPerSector)
	buf := bootsector.Encode(&bs, uint32(bs.BytesPerSector))
	if err := device.WriteFull(v.dev, buf, 0, noRetries); err != nil {
		return errors.Wrap(err, "writing boot sector")
	}

	size, err := v.dev.Size()
	if err != nil {
		return errors.Wrapf(types.ErrDeviceIO, "device size: %v", err)
	}
	if backup := bootsector.BackupOffset(&bs); backup+sector <= size {
		if err := device.WriteFull(v.dev, buf, backup, noRetries); err != nil {
			return errors.Wrap(err, "writing backup boot sector")
		}
	}
	v.boot = bs
	v.geo = bs.Geometry()
	return nil
}

// FindFreeRecord returns the first record at or after from that the $MFT
// bitmap marks free.
func (v *Volume) FindFreeRecord(from uint64) (uint64, error) {
	_, bits, err := v.mftBitmap()
	if err != nil {
		return 0, err
	}
	for n := from; int64(n) < v.RecordCount() && n/8 < uint64(len(bits)); n++ {
		if bits[n/8]&(1<<(n%8)) == 0 {
			return n, nil
		}
	}
	return 0, errors.Wrap(types.ErrNoSpace, "no free record in the $MFT")
}
