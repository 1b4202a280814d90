// Package resize checks and resizes existing volumes. A shrink moves every
// run past the new end of the volume below it before the special files and
// the boot sector are rewritten.
package resize

import (
	"context"

	"github.com/containerd/log"
	"github.com/pkg/errors"

	"github.com/deploymenttheory/go-ntfsbox/internal/bitmap"
	"github.com/deploymenttheory/go-ntfsbox/internal/bootsector"
	"github.com/deploymenttheory/go-ntfsbox/internal/device"
	"github.com/deploymenttheory/go-ntfsbox/internal/record"
	"github.com/deploymenttheory/go-ntfsbox/internal/runlist"
	"github.com/deploymenttheory/go-ntfsbox/internal/types"
	"github.com/deploymenttheory/go-ntfsbox/internal/volume"
)

// Option configures an Engine.
type Option func(*Engine)

// WithForce lets Resize run on a volume whose dirty flag is set.
func WithForce(force bool) Option {
	return func(e *Engine) { e.force = force }
}

// Engine checks and resizes one opened volume. It is not safe for
// concurrent use; the caller holds the volume lock.
type Engine struct {
	vol   *volume.Volume
	force bool
}

// NewEngine returns an Engine for vol.
func NewEngine(vol *volume.Volume, opts ...Option) *Engine {
	e := &Engine{vol: vol}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Report is the outcome of a check.
type Report struct {
	Geometry     types.Geometry
	UsedClusters int64
	FreeClusters int64
	RecordsInUse int64
	Dirty        bool
	Label        string
}

// Result describes a resize.
type Result struct {
	OldSectors        int64
	NewSectors        int64
	OldClusters       int64
	NewClusters       int64
	Relocated         int
	RelocatedClusters int64
	Delayed           int
	NoOp              bool
}

// Check runs the read-only accounting pass and compares it with $Bitmap.
func (e *Engine) Check(ctx context.Context) (*Report, error) {
	derived, usage, err := BuildAllocationBitmap(ctx, e.vol)
	if err != nil {
		return nil, err
	}
	if err := verifyBitmap(e.vol, derived); err != nil {
		return nil, err
	}
	dirty, err := e.vol.IsDirty()
	if err != nil {
		return nil, err
	}
	label, err := e.vol.Label()
	if err != nil {
		return nil, err
	}
	g := e.vol.Geometry()
	return &Report{
		Geometry:     g,
		UsedClusters: usage.UsedClusters,
		FreeClusters: g.TotalClusters - usage.UsedClusters,
		RecordsInUse: usage.RecordsInUse,
		Dirty:        dirty,
		Label:        label,
	}, nil
}

// Resize changes the volume to newSize bytes, the last sector of which
// holds the backup boot sector. Nothing is written until every check has
// passed; from then on the volume stays marked dirty until the final sync.
// The context is only honoured before the first write.
func (e *Engine) Resize(ctx context.Context, newSize int64) (*Result, error) {
	g := e.vol.Geometry()
	sector := int64(g.SectorSize)
	newSectors := newSize/sector - 1
	res := &Result{
		OldSectors:  g.TotalSectors,
		NewSectors:  newSectors,
		OldClusters: g.TotalClusters,
		NewClusters: newSectors / int64(g.SectorsPerCluster()),
	}
	logger := log.G(ctx).WithFields(log.Fields{
		"old_clusters": res.OldClusters,
		"new_clusters": res.NewClusters,
	})

	if newSectors == g.TotalSectors {
		res.NoOp = true
		logger.Info("volume already has the requested size")
		return res, nil
	}
	if newSize < types.MinVolumeSize {
		return nil, errors.Wrapf(types.ErrInvalidGeometry, "volume size %d is below the %d byte minimum",
			newSize, types.MinVolumeSize)
	}

	logger.WithField("phase", "check").Info("resizing volume")
	derived, err := e.preflight(ctx, res)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	logger.WithField("phase", "write").Info("relocating")
	if err := e.vol.SetDirty(true); err != nil {
		return nil, err
	}
	if err := e.vol.Sync(); err != nil {
		return nil, err
	}
	if newSectors > g.TotalSectors {
		// The old backup boot sector becomes ordinary space.
		old := e.vol.BootSector()
		if err := device.Zero(e.vol.Device(), bootsector.BackupOffset(&old), sector, 0); err != nil {
			return nil, err
		}
	}

	// Work over the larger of the two sizes so runs past a shrinking
	// boundary can still be freed.
	alloc := derived.Resized(max(res.OldClusters, res.NewClusters))
	alloc.SetLimit(res.NewClusters)

	rel := &relocator{vol: e.vol, alloc: alloc, boundary: res.NewClusters, queue: &Queue{}}
	if res.NewClusters < res.OldClusters {
		if err := rel.relocateAll(ctx); err != nil {
			return nil, err
		}
		res.Delayed = rel.queue.Len()
		if err := rel.replay(ctx); err != nil {
			return nil, err
		}
	}
	res.Relocated = rel.runs
	res.RelocatedClusters = rel.clusters

	logger.WithField("phase", "special files").Info("rewriting $BadClus and $Bitmap")
	if err := e.resizeBadClus(res.NewClusters); err != nil {
		return nil, err
	}
	if err := e.resizeBitmap(alloc, res.NewClusters); err != nil {
		return nil, err
	}

	logger.WithField("phase", "boot sector").Info("updating boot sector")
	if err := e.writeBootSector(newSectors); err != nil {
		return nil, err
	}
	if err := e.vol.SyncMirror(); err != nil {
		return nil, err
	}
	if err := e.vol.Sync(); err != nil {
		return nil, err
	}
	if err := e.vol.SetDirty(false); err != nil {
		return nil, err
	}
	if err := e.vol.Sync(); err != nil {
		return nil, err
	}

	logger.WithFields(log.Fields{
		"relocated": res.Relocated,
		"clusters":  res.RelocatedClusters,
		"delayed":   res.Delayed,
	}).Info("volume resized")
	return res, nil
}

// preflight runs every read-only check and returns the derived bitmap.
func (e *Engine) preflight(ctx context.Context, res *Result) (*bitmap.Allocator, error) {
	dirty, err := e.vol.IsDirty()
	if err != nil {
		return nil, err
	}
	if dirty && !e.force {
		return nil, errors.Wrap(types.ErrUnsupportedLayout, "volume is marked dirty and needs a consistency check")
	}

	derived, usage, err := BuildAllocationBitmap(ctx, e.vol)
	if err != nil {
		return nil, err
	}
	if err := verifyBitmap(e.vol, derived); err != nil {
		return nil, err
	}

	if res.NewClusters < res.OldClusters {
		if usage.UsedClusters > res.NewClusters {
			return nil, errors.Wrapf(types.ErrUnsupportedLayout,
				"%d clusters are in use, the new size holds %d", usage.UsedClusters, res.NewClusters)
		}
		if err := e.checkShrinkLayout(); err != nil {
			return nil, err
		}
	}

	devSize, err := e.vol.Device().Size()
	if err != nil {
		return nil, errors.Wrapf(types.ErrDeviceIO, "device size: %v", err)
	}
	need := (res.NewSectors + 1) * int64(e.vol.Geometry().SectorSize)
	if devSize < need {
		return nil, errors.Wrapf(types.ErrInvalidGeometry, "device holds %d bytes, volume needs %d", devSize, need)
	}
	return derived, nil
}

// checkShrinkLayout rejects layouts the relocation cannot handle.
func (e *Engine) checkShrinkLayout() error {
	mft, err := e.vol.ReadRecord(types.RecordMFT)
	if err != nil {
		return err
	}
	if _, err := mft.Find(types.AttrAttributeList, "", 0); err == nil {
		return errors.Wrap(types.ErrUnsupportedLayout, "$MFT has an attribute list")
	}
	if len(e.vol.MirrorRunlist()) != 1 {
		return errors.Wrapf(types.ErrUnsupportedLayout, "$MFTMirr is fragmented into %d runs", len(e.vol.MirrorRunlist()))
	}
	boot, err := e.vol.ReadRecord(types.RecordBoot)
	if err != nil {
		return err
	}
	a, err := boot.Find(types.AttrData, "", 0)
	if err != nil {
		return errors.Wrap(err, "$Boot")
	}
	rl, err := a.Runlist()
	if err != nil {
		return err
	}
	if len(rl) != 1 || rl[0].LCN != 0 {
		return errors.Wrapf(types.ErrUnsupportedLayout, "$Boot is not a single run at LCN 0: %v", rl)
	}
	return nil
}

// resizeBadClus maps $BadClus:$Bad over the new cluster count as one
// sparse run.
func (e *Engine) resizeBadClus(clusters int64) error {
	rec, err := e.vol.ReadRecord(types.RecordBadClus)
	if err != nil {
		return err
	}
	size := clusters * int64(e.vol.Geometry().ClusterSize)
	bad := runlist.Runlist{{VCN: 0, LCN: runlist.LCNHole, Length: clusters}}
	sizes := &record.Sizes{Allocated: size, Data: size, Initialized: size}
	if err := rec.UpdateRunlist(types.AttrData, types.StreamBad, bad, sizes); err != nil {
		if errors.Is(err, types.ErrNoSpace) {
			return errors.Wrap(types.ErrUnsupportedLayout, "$BadClus has no room for the new $Bad runlist")
		}
		return err
	}
	return e.vol.WriteRecord(rec)
}

// resizeBitmap grows or truncates the $Bitmap runlist to cover clusters and
// writes the new bitmap through it.
func (e *Engine) resizeBitmap(alloc *bitmap.Allocator, clusters int64) error {
	g := e.vol.Geometry()
	rec, err := e.vol.ReadRecord(types.RecordBitmap)
	if err != nil {
		return err
	}
	a, err := rec.Find(types.AttrData, "", 0)
	if err != nil {
		return errors.Wrap(err, "$Bitmap")
	}
	rl, err := a.Runlist()
	if err != nil {
		return err
	}

	size := bitmap.Size(clusters)
	need := g.ClustersFor(size)
	have := rl.EndVCN()
	switch {
	case need > have:
		ranges, err := alloc.AllocateFragmented(need-have, rl[len(rl)-1].EndLCN())
		if err != nil {
			return errors.Wrap(err, "growing $Bitmap")
		}
		if rl, err = runlist.Merge(rl, runlist.FromRanges(have, ranges)); err != nil {
			return err
		}
	case need < have:
		var released []types.ClusterRange
		rl, released = runlist.TruncateVCN(rl, need)
		for _, r := range released {
			if err := alloc.MarkRange(r, false); err != nil {
				return err
			}
		}
	}

	sizes := &record.Sizes{Allocated: need * int64(g.ClusterSize), Data: size, Initialized: size}
	if err := rec.UpdateRunlist(types.AttrData, "", rl, sizes); err != nil {
		if errors.Is(err, types.ErrNoSpace) {
			return errors.Wrap(types.ErrUnsupportedLayout, "$Bitmap record has no room for its runlist")
		}
		return err
	}
	if err := e.vol.WriteRecord(rec); err != nil {
		return err
	}
	return e.vol.WriteClusterBitmap(alloc.Resized(clusters))
}

func (e *Engine) writeBootSector(sectors int64) error {
	bs := e.vol.BootSector()
	bs.TotalSectors = sectors
	bs.MFTLCN = e.vol.MFTRunlist()[0].LCN
	bs.MFTMirrLCN = e.vol.MirrorRunlist()[0].LCN
	return e.vol.WriteBootSector(bs)
}
