package layout

import (
	"context"

	"github.com/containerd/log"

	"github.com/deploymenttheory/go-ntfsbox/internal/bootsector"
	"github.com/deploymenttheory/go-ntfsbox/internal/device"
	"github.com/deploymenttheory/go-ntfsbox/internal/interfaces"
	"github.com/deploymenttheory/go-ntfsbox/internal/types"
	"github.com/deploymenttheory/go-ntfsbox/internal/volume"
)

func (p *plan) bootSector() *types.BootSector {
	g := p.geo
	return &types.BootSector{
		BytesPerSector:        uint16(g.SectorSize),
		SectorsPerCluster:     uint8(g.SectorsPerCluster()),
		MediaDescriptor:       types.MediaFixedDisk,
		SectorsPerTrack:       63,
		NumberOfHeads:         255,
		TotalSectors:          g.TotalSectors,
		MFTLCN:                p.mftRL[0].LCN,
		MFTMirrLCN:            p.mirrRL[0].LCN,
		ClustersPerRecord:     types.EncodeClustersPer(g.RecordSize, g.ClusterSize),
		ClustersPerIndexBlock: types.EncodeClustersPer(g.IndexBlockSize, g.ClusterSize),
		SerialNumber:          p.serial,
	}
}

// mftImage marshals every record into the on-disk $MFT contents. Each
// record is marshalled once so the mirror carries identical bytes.
func (p *plan) mftImage() ([]byte, error) {
	size := int(p.geo.RecordSize)
	out := make([]byte, len(p.records)*size)
	for i, rec := range p.records {
		raw, err := rec.Marshal()
		if err != nil {
			return nil, err
		}
		copy(out[i*size:], raw)
	}
	return out, nil
}

func (p *plan) write(ctx context.Context, dev interfaces.BlockDevice) error {
	g := p.geo
	retries := p.opts.retries()
	sector := int64(g.SectorSize)
	backup := g.TotalSectors * sector

	// Stale boot sectors go first.
	if err := device.Zero(dev, 0, sector, retries); err != nil {
		return err
	}
	if err := device.Zero(dev, backup, sector, retries); err != nil {
		return err
	}

	for _, e := range p.extents {
		if err := ctx.Err(); err != nil {
			return err
		}
		var err error
		if e.data == nil {
			err = volume.FillRuns(dev, g.ClusterSize, e.rl, e.fill, retries)
		} else {
			err = volume.WriteRuns(dev, g.ClusterSize, e.rl, e.data, retries)
		}
		if err != nil {
			return err
		}
	}

	image, err := p.mftImage()
	if err != nil {
		return err
	}
	if err := volume.WriteRuns(dev, g.ClusterSize, p.mftRL, image, retries); err != nil {
		return err
	}
	mirror := image[:p.mirrRecords*int(g.RecordSize)]
	if err := volume.WriteRuns(dev, g.ClusterSize, p.mirrRL, mirror, retries); err != nil {
		return err
	}
	if err := device.Sync(dev); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	boot := bootsector.Encode(p.bootSector(), g.SectorSize)
	if err := device.WriteFull(dev, boot, 0, retries); err != nil {
		return err
	}
	if err := device.WriteFull(dev, boot, backup, retries); err != nil {
		return err
	}
	log.G(ctx).WithField("serial", p.serial).Debug("boot sectors written")
	return device.Sync(dev)
}
