package services

import (
	"context"

	"github.com/containerd/log"
	"github.com/pkg/errors"

	"github.com/deploymenttheory/go-ntfsbox/internal/config"
	"github.com/deploymenttheory/go-ntfsbox/internal/device"
	"github.com/deploymenttheory/go-ntfsbox/internal/interfaces"
	"github.com/deploymenttheory/go-ntfsbox/internal/layout"
	"github.com/deploymenttheory/go-ntfsbox/internal/resize"
	"github.com/deploymenttheory/go-ntfsbox/internal/sandbox"
	"github.com/deploymenttheory/go-ntfsbox/internal/types"
	"github.com/deploymenttheory/go-ntfsbox/internal/volume"
)

// containerService implements the ContainerService interface on files and
// block devices.
type containerService struct {
	cfg     config.Config
	planner *layout.Planner
}

// NewContainerService creates a container service using cfg for defaults.
// A nil cfg selects config.Defaults.
func NewContainerService(cfg *config.Config) ContainerService {
	c := config.Defaults()
	if cfg != nil {
		c = *cfg
	}
	return &containerService{cfg: c, planner: layout.NewPlanner()}
}

func (cs *containerService) volumeOptions() []volume.Option {
	return []volume.Option{volume.WithCopyChunk(cs.cfg.CopyChunkClusters)}
}

func orDefault(v, def uint32) uint32 {
	if v != 0 {
		return v
	}
	return def
}

// Format creates or truncates the backing file, lays out an empty volume
// and writes the marker behind it.
func (cs *containerService) Format(ctx context.Context, opts FormatOptions) (*ContainerInfo, error) {
	if opts.Path == "" {
		return nil, errors.New("container path is required")
	}
	label := opts.Label
	if label == "" {
		label = cs.cfg.Label
	}
	lopts := layout.Options{
		Size:           opts.Size,
		SectorSize:     orDefault(opts.SectorSize, cs.cfg.SectorSize),
		ClusterSize:    orDefault(opts.ClusterSize, cs.cfg.ClusterSize),
		RecordSize:     orDefault(opts.RecordSize, cs.cfg.RecordSize),
		IndexBlockSize: orDefault(opts.IndexBlockSize, cs.cfg.IndexBlockSize),
		Label:          label,
		WriteRetries:   cs.cfg.WriteRetries,
	}
	// Reject bad geometry before the file is touched.
	g, err := layout.DeriveGeometry(lopts)
	if err != nil {
		return nil, err
	}
	lopts.Size = g.VolumeSize()

	dev, err := device.OpenFile(opts.Path, device.FileOptions{Create: true})
	if err != nil {
		return nil, err
	}
	defer dev.Close()

	logger := log.G(ctx).WithField("path", opts.Path)
	containerSize := sandbox.ContainerSize(g.VolumeSize())
	if err := dev.Truncate(containerSize); err != nil {
		return nil, err
	}
	logger.WithField("container_size", containerSize).Debug("backing store sized")

	res, err := cs.planner.Format(ctx, dev, lopts)
	if err != nil {
		return nil, err
	}

	m := sandbox.New(res.Geometry.VolumeSize())
	if err := sandbox.Write(dev, m, cs.cfg.WriteRetries); err != nil {
		return nil, err
	}
	if err := device.Sync(dev); err != nil {
		return nil, err
	}
	logger.WithField("container_id", m.ID).Info("container formatted")

	return &ContainerInfo{
		Path:          opts.Path,
		ContainerID:   m.ID,
		ContainerSize: containerSize,
		VolumeSize:    res.Geometry.VolumeSize(),
		Geometry:      res.Geometry,
		Serial:        res.Serial,
		MFTLCN:        res.MFTLCN,
		MFTMirrLCN:    res.MFTMirrLCN,
		Label:         label,
		UsedClusters:  res.UsedClusters,
		FreeClusters:  res.FreeClusters,
		RecordsInUse:  types.SystemRecordCount,
	}, nil
}

// Check verifies the marker against the boot sector and runs the
// accounting pass. Nothing is written.
func (cs *containerService) Check(ctx context.Context, path string) (*ContainerInfo, error) {
	dev, err := device.OpenFile(path, device.FileOptions{ReadOnly: true})
	if err != nil {
		return nil, err
	}
	defer dev.Close()

	vol, m, err := cs.open(ctx, dev)
	if err != nil {
		return nil, err
	}
	report, err := resize.NewEngine(vol).Check(ctx)
	if err != nil {
		return nil, err
	}
	size, err := dev.Size()
	if err != nil {
		return nil, err
	}
	boot := vol.BootSector()
	return &ContainerInfo{
		Path:          path,
		ContainerID:   m.ID,
		ContainerSize: size,
		VolumeSize:    report.Geometry.VolumeSize(),
		Geometry:      report.Geometry,
		Serial:        boot.SerialNumber,
		MFTLCN:        boot.MFTLCN,
		MFTMirrLCN:    boot.MFTMirrLCN,
		Label:         report.Label,
		UsedClusters:  report.UsedClusters,
		FreeClusters:  report.FreeClusters,
		RecordsInUse:  report.RecordsInUse,
		Dirty:         report.Dirty,
	}, nil
}

// open reads the volume on dev and verifies its marker.
func (cs *containerService) open(ctx context.Context, dev interfaces.BlockDevice) (*volume.Volume, *sandbox.Marker, error) {
	vol, err := volume.Open(ctx, dev, cs.volumeOptions()...)
	if err != nil {
		return nil, nil, err
	}
	m, err := sandbox.Verify(ctx, dev, vol.Geometry().VolumeSize())
	if err != nil {
		return nil, nil, err
	}
	return vol, m, nil
}

// Resize grows the backing store before the engine runs and shrinks it
// after, so the volume always fits inside it. The marker keeps its id and
// payload and moves to the new tail. Unlike Format, no write is retried.
func (cs *containerService) Resize(ctx context.Context, opts ResizeOptions) (*ResizeInfo, error) {
	dev, err := device.OpenFile(opts.Path, device.FileOptions{})
	if err != nil {
		return nil, err
	}
	defer dev.Close()

	vol, m, err := cs.open(ctx, dev)
	if err != nil {
		return nil, err
	}
	g := vol.Geometry()
	sector := int64(g.SectorSize)
	oldSize := g.VolumeSize()
	newSize := opts.Size / sector * sector
	info := &ResizeInfo{Path: opts.Path, OldVolumeSize: oldSize, NewVolumeSize: newSize}
	logger := log.G(ctx).WithFields(log.Fields{
		"path":     opts.Path,
		"old_size": oldSize,
		"new_size": newSize,
	})

	wasDirty, err := vol.IsDirty()
	if err != nil {
		return nil, err
	}
	grow := newSize > oldSize
	if grow {
		if err := dev.Truncate(sandbox.ContainerSize(newSize)); err != nil {
			return nil, err
		}
	}

	res, err := resize.NewEngine(vol, resize.WithForce(opts.Force)).Resize(ctx, newSize)
	if err != nil {
		if grow {
			cs.rollbackGrow(ctx, vol, dev, oldSize, wasDirty && !opts.Force)
		}
		return nil, err
	}
	info.OldClusters = res.OldClusters
	info.NewClusters = res.NewClusters
	info.Relocated = res.Relocated
	info.RelocatedClusters = res.RelocatedClusters
	info.Delayed = res.Delayed
	info.NoOp = res.NoOp
	if res.NoOp {
		return info, nil
	}

	moved := *m
	moved.VolumeSize = newSize
	if err := sandbox.Write(dev, &moved, 0); err != nil {
		return nil, err
	}
	if grow {
		if err := clearStaleMarker(vol, oldSize); err != nil {
			return nil, err
		}
	} else if err := sandbox.Clear(dev, oldSize, 0); err != nil {
		return nil, err
	}
	if err := device.Sync(dev); err != nil {
		return nil, err
	}
	if !grow {
		if err := dev.Truncate(sandbox.ContainerSize(newSize)); err != nil {
			return nil, err
		}
	}
	logger.WithField("relocated_clusters", res.RelocatedClusters).Info("container resized")
	return info, nil
}

// rollbackGrow gives back the space added for a grow the engine refused.
// A volume the engine marked dirty may have been partly written and keeps
// its new size. refusedDirty is set when the volume was dirty already and
// the engine turned it away before writing.
func (cs *containerService) rollbackGrow(ctx context.Context, vol *volume.Volume, dev interfaces.ResizableDevice, oldSize int64, refusedDirty bool) {
	dirty, err := vol.IsDirty()
	if err != nil || (dirty && !refusedDirty) {
		return
	}
	if err := dev.Truncate(sandbox.ContainerSize(oldSize)); err != nil {
		log.G(ctx).WithError(err).Warn("could not shrink the backing store back after a failed grow")
	}
}

// clearStaleMarker zeroes the marker left behind by a grow. The old slot
// now lies inside the volume, so bytes in allocated clusters or in the
// backup boot sector are left alone.
func clearStaleMarker(vol *volume.Volume, oldSize int64) error {
	g := vol.Geometry()
	alloc, err := vol.ReadClusterBitmap()
	if err != nil {
		return err
	}
	cs := int64(g.ClusterSize)
	clustered := g.TotalClusters * cs
	backup := g.VolumeSize() - int64(g.SectorSize)

	off, end := sandbox.Offset(oldSize), sandbox.Offset(oldSize)+sandbox.MarkerSize
	for off < end {
		next := end
		protected := false
		switch {
		case off < clustered:
			next = min(next, (off/cs+1)*cs)
			protected = alloc.IsAllocated(off / cs)
		case off < backup:
			next = min(next, backup)
		case off < g.VolumeSize():
			next = min(next, g.VolumeSize())
			protected = true
		}
		if !protected {
			if err := device.Zero(vol.Device(), off, next-off, 0); err != nil {
				return err
			}
		}
		off = next
	}
	return nil
}
