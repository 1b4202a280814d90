// Package layout formats an empty NTFS volume onto a block device.
package layout

import (
	"context"
	"encoding/binary"
	"time"

	"github.com/containerd/log"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/deploymenttheory/go-ntfsbox/internal/bitmap"
	"github.com/deploymenttheory/go-ntfsbox/internal/device"
	"github.com/deploymenttheory/go-ntfsbox/internal/interfaces"
	"github.com/deploymenttheory/go-ntfsbox/internal/record"
	"github.com/deploymenttheory/go-ntfsbox/internal/runlist"
	"github.com/deploymenttheory/go-ntfsbox/internal/types"
)

// Options control a format. Zero sizes select the defaults.
type Options struct {
	Size           int64
	SectorSize     uint32
	ClusterSize    uint32
	RecordSize     uint32
	IndexBlockSize uint32
	Label          string

	// WriteRetries bounds the retries of a short write. Zero selects
	// device.DefaultWriteRetries, a negative value disables retries.
	WriteRetries int

	// Serial overrides the random volume serial number when not zero.
	Serial uint64

	// Now supplies the timestamps of the system files. time.Now is used
	// when nil.
	Now func() time.Time
}

func (o Options) retries() int {
	switch {
	case o.WriteRetries == 0:
		return device.DefaultWriteRetries
	case o.WriteRetries < 0:
		return 0
	}
	return o.WriteRetries
}

// Result describes a freshly formatted volume.
type Result struct {
	Geometry     types.Geometry
	Serial       uint64
	MFTLCN       int64
	MFTMirrLCN   int64
	MFTRecords   int
	UsedClusters int64
	FreeClusters int64
}

// Planner formats volumes. Each Format call works on its own plan, so one
// Planner can format several devices concurrently.
type Planner struct{}

// NewPlanner returns a Planner.
func NewPlanner() *Planner {
	return &Planner{}
}

// Format lays out an empty volume of opts.Size bytes at the start of dev.
// Everything is built in memory first; nothing is written when the geometry
// is rejected. The boot sector is written last so an interrupted format
// never leaves a mountable volume.
func (p *Planner) Format(ctx context.Context, dev interfaces.BlockDevice, opts Options) (*Result, error) {
	g, err := DeriveGeometry(opts)
	if err != nil {
		return nil, err
	}
	devSize, err := dev.Size()
	if err != nil {
		return nil, errors.Wrapf(types.ErrDeviceIO, "device size: %v", err)
	}
	if devSize < opts.Size {
		return nil, errors.Wrapf(types.ErrInvalidGeometry, "device holds %d bytes, volume needs %d", devSize, opts.Size)
	}

	logger := log.G(ctx).WithFields(log.Fields{
		"size":     opts.Size,
		"cluster":  g.ClusterSize,
		"clusters": g.TotalClusters,
	})
	logger.Info("formatting volume")

	pl := newPlan(g, opts)
	if err := pl.build(); err != nil {
		return nil, err
	}
	logger.WithFields(log.Fields{
		"mft_lcn":     pl.mftRL[0].LCN,
		"mftmirr_lcn": pl.mirrRL[0].LCN,
		"records":     len(pl.records),
	}).Debug("layout planned")

	if err := pl.write(ctx, dev); err != nil {
		return nil, err
	}

	used := pl.alloc.AllocatedCount(0, g.TotalClusters)
	logger.WithField("used_clusters", used).Info("volume formatted")
	return &Result{
		Geometry:     g,
		Serial:       pl.serial,
		MFTLCN:       pl.mftRL[0].LCN,
		MFTMirrLCN:   pl.mirrRL[0].LCN,
		MFTRecords:   len(pl.records),
		UsedClusters: used,
		FreeClusters: g.TotalClusters - used,
	}, nil
}

// extent is file content waiting to be written through its runlist.
type extent struct {
	rl   runlist.Runlist
	data []byte
	fill byte
}

// plan is the in-memory state of one format.
type plan struct {
	geo     types.Geometry
	opts    Options
	now     time.Time
	serial  uint64
	alloc   *bitmap.Allocator
	builder *record.Builder

	bootRL, mftRL, mirrRL, logRL runlist.Runlist
	bitmapRL                     runlist.Runlist
	mirrRecords                  int

	records []*record.Record
	names   map[uint64]record.FileName
	extents []extent
}

func newPlan(g types.Geometry, opts Options) *plan {
	now := time.Now
	if opts.Now != nil {
		now = opts.Now
	}
	serial := opts.Serial
	if serial == 0 {
		id := uuid.New()
		serial = binary.LittleEndian.Uint64(id[:8])
	}
	alloc := bitmap.New(g.TotalClusters)
	return &plan{
		geo:     g,
		opts:    opts,
		now:     now().UTC(),
		serial:  serial,
		alloc:   alloc,
		builder: record.NewBuilder(alloc, g.ClusterSize),
		names:   make(map[uint64]record.FileName),
	}
}

func (p *plan) clusters(n int64) int64 {
	return p.geo.ClustersFor(n)
}

func (p *plan) bytes(clusters int64) int64 {
	return clusters * int64(p.geo.ClusterSize)
}

// reserve claims clusters at a fixed location.
func (p *plan) reserve(start, n int64) (runlist.Runlist, error) {
	r := types.ClusterRange{Start: start, Length: n}
	if r.End() > p.geo.TotalClusters {
		return nil, errors.Wrapf(types.ErrInvalidGeometry, "clusters %d-%d do not fit in %d", r.Start, r.End(), p.geo.TotalClusters)
	}
	if err := p.alloc.MarkRange(r, true); err != nil {
		return nil, err
	}
	return runlist.FromRanges(0, []types.ClusterRange{r}), nil
}

// allocate claims clusters for size bytes near hint.
func (p *plan) allocate(size, hint int64, what string) (runlist.Runlist, error) {
	rl, err := p.builder.AllocateRunlist(size, hint)
	if err != nil {
		if errors.Is(err, types.ErrNoSpace) {
			return nil, errors.Wrapf(types.ErrInvalidGeometry, "volume too small for %s", what)
		}
		return nil, err
	}
	return rl, nil
}

// placeFixed positions $Boot, $MFT, $MFTMirr and $LogFile and allocates the
// remaining system file data.
func (p *plan) placeFixed() error {
	g := p.geo
	var err error

	if p.bootRL, err = p.reserve(0, p.clusters(types.BootRegionSize)); err != nil {
		return err
	}

	mftClusters := p.clusters(int64(types.InitialMFTRecords) * int64(g.RecordSize))
	if p.mftRL, err = p.reserve(p.bootRL.EndVCN(), mftClusters); err != nil {
		return err
	}
	mftRecords := int(p.bytes(mftClusters) / int64(g.RecordSize))
	p.records = make([]*record.Record, mftRecords)

	p.mirrRecords = max(types.MinMirrorRecords, int(g.ClusterSize/g.RecordSize))
	mirrClusters := p.clusters(int64(p.mirrRecords) * int64(g.RecordSize))
	mirr, err := p.alloc.Allocate(mirrClusters, g.TotalClusters/2)
	if err != nil {
		return errors.Wrapf(types.ErrInvalidGeometry, "no room for $MFTMirr: %v", err)
	}
	p.mirrRL = runlist.FromRanges(0, []types.ClusterRange{mirr})

	logSize := LogFileSize(g.VolumeSize(), g.ClusterSize)
	if p.logRL, err = p.allocate(logSize, mirr.End(), "$LogFile"); err != nil {
		return err
	}
	p.extents = append(p.extents, extent{rl: p.logRL, fill: 0xFF})
	return nil
}

// build plans every cluster and every record in memory.
func (p *plan) build() error {
	if err := p.placeFixed(); err != nil {
		return err
	}
	g := p.geo
	hint := p.mftRL.EndVCN()

	attrDef := AttrDefTable()
	attrDefRL, err := p.allocate(int64(len(attrDef)), hint, "$AttrDef")
	if err != nil {
		return err
	}
	p.extents = append(p.extents, extent{rl: attrDefRL, data: attrDef})

	upcase := record.UpcaseTable()
	upcaseRL, err := p.allocate(int64(len(upcase)), hint, "$UpCase")
	if err != nil {
		return err
	}
	p.extents = append(p.extents, extent{rl: upcaseRL, data: upcase})

	bitmapSize := bitmap.Size(g.TotalClusters)
	if p.bitmapRL, err = p.allocate(bitmapSize, hint, "$Bitmap"); err != nil {
		return err
	}

	mftSizes := p.sizesOf(p.mftRL, int64(len(p.records))*int64(g.RecordSize))
	files := []struct {
		number uint64
		rl     runlist.Runlist
		sizes  record.Sizes
	}{
		{types.RecordMFT, p.mftRL, mftSizes},
		{types.RecordMFTMirr, p.mirrRL, p.sizesOf(p.mirrRL, int64(p.mirrRecords)*int64(g.RecordSize))},
		{types.RecordLogFile, p.logRL, p.sizesOf(p.logRL, p.bytes(p.logRL.AllocatedClusters()))},
		{types.RecordAttrDef, attrDefRL, p.sizesOf(attrDefRL, int64(len(attrDef)))},
		{types.RecordBitmap, p.bitmapRL, p.sizesOf(p.bitmapRL, bitmapSize)},
		{types.RecordBoot, p.bootRL, p.sizesOf(p.bootRL, types.BootRegionSize)},
		{types.RecordUpCase, upcaseRL, p.sizesOf(upcaseRL, int64(len(upcase)))},
	}
	for _, f := range files {
		rec, err := p.baseRecord(f.number, f.sizes, false)
		if err != nil {
			return err
		}
		if _, err := rec.InsertNonResident(types.AttrData, "", 0, f.rl, f.sizes); err != nil {
			return errors.Wrapf(err, "building %s", types.SystemFileNames[f.number])
		}
		p.records[f.number] = rec
	}

	mftBitmap := make([]byte, 8)
	for n := 0; n < types.SystemRecordCount; n++ {
		mftBitmap[n/8] |= 1 << uint(n%8)
	}
	if _, err := p.records[types.RecordMFT].InsertResident(types.AttrBitmap, "", 0, mftBitmap); err != nil {
		return errors.Wrap(err, "building $MFT bitmap")
	}

	steps := []func() error{p.buildVolume, p.buildBadClus, p.buildSecure, p.buildExtend, p.buildReserved, p.buildRoot}
	for _, step := range steps {
		if err := step(); err != nil {
			return err
		}
	}

	for n := types.SystemRecordCount; n < len(p.records); n++ {
		rec, err := record.New(g.RecordSize, uint32(n), 1)
		if err != nil {
			return err
		}
		p.records[n] = rec
	}
	for n := 0; n < types.SystemRecordCount; n++ {
		if err := p.records[n].SetInUse(); err != nil {
			return err
		}
	}

	// Every cluster is claimed by now, so the snapshot is final.
	p.extents = append(p.extents, extent{rl: p.bitmapRL, data: p.alloc.Bytes()[:bitmapSize]})
	return nil
}

func (p *plan) sizesOf(rl runlist.Runlist, size int64) record.Sizes {
	return record.Sizes{Allocated: p.bytes(rl.AllocatedClusters()), Data: size, Initialized: size}
}

// sequence returns the sequence number of system record n.
func sequence(n uint64) uint16 {
	if n == types.RecordMFT {
		return 1
	}
	return uint16(n)
}

func (p *plan) fileAttributes(dir bool) uint32 {
	attrs := types.FileAttrHidden | types.FileAttrSystem
	if dir {
		attrs |= types.FileAttrDupFileNameIdx
	}
	return attrs
}

// baseRecord starts system record n with $STANDARD_INFORMATION and its
// $FILE_NAME in the root directory.
func (p *plan) baseRecord(n uint64, sizes record.Sizes, dir bool) (*record.Record, error) {
	rec, err := record.New(p.geo.RecordSize, uint32(n), sequence(n))
	if err != nil {
		return nil, err
	}
	si := record.StandardInformation{
		Created:        p.now,
		Modified:       p.now,
		MFTModified:    p.now,
		Accessed:       p.now,
		FileAttributes: types.FileAttrHidden | types.FileAttrSystem,
	}
	if _, err := rec.InsertResident(types.AttrStandardInformation, "", 0, si.Encode()); err != nil {
		return nil, err
	}

	fn := record.FileName{
		Parent:         record.NewFileReference(types.RecordRoot, sequence(types.RecordRoot)),
		Created:        p.now,
		Modified:       p.now,
		MFTModified:    p.now,
		Accessed:       p.now,
		AllocatedSize:  sizes.Allocated,
		DataSize:       sizes.Data,
		FileAttributes: p.fileAttributes(dir),
		Namespace:      types.NamespaceWin32AndDOS,
		Name:           types.SystemFileNames[n],
	}
	if _, err := rec.InsertResident(types.AttrFileName, "", 0, fn.Encode()); err != nil {
		return nil, err
	}
	rec.SetLinkCount(1)
	if dir {
		rec.SetFlag(types.RecordFlagDirectory, true)
	}
	p.names[n] = fn
	return rec, nil
}
