package layout

import (
	"github.com/pkg/errors"

	"github.com/deploymenttheory/go-ntfsbox/internal/types"
)

// DeriveGeometry validates the requested sizes, fills in defaults and
// computes the sector and cluster counts for a volume of opts.Size bytes.
func DeriveGeometry(opts Options) (types.Geometry, error) {
	var g types.Geometry

	sector := opts.SectorSize
	if sector == 0 {
		sector = types.MinSectorSize
	}
	if !types.IsPowerOfTwo(sector) || sector < types.MinSectorSize || sector > types.MaxSectorSize {
		return g, errors.Wrapf(types.ErrInvalidGeometry, "sector size %d", sector)
	}

	cluster := opts.ClusterSize
	if cluster == 0 {
		cluster = max(types.DefaultCluster, sector)
	}
	if !types.IsPowerOfTwo(cluster) || cluster < sector || cluster > types.MaxClusterSize {
		return g, errors.Wrapf(types.ErrInvalidGeometry, "cluster size %d with %d byte sectors", cluster, sector)
	}

	record := opts.RecordSize
	if record == 0 {
		record = max(types.DefaultRecordSize, sector)
	}
	if !types.IsPowerOfTwo(record) || record < max(sector, types.MinRecordSize) || record > types.MaxRecordSize {
		return g, errors.Wrapf(types.ErrInvalidGeometry, "record size %d", record)
	}

	index := opts.IndexBlockSize
	if index == 0 {
		index = types.DefaultIndexBlock
	}
	if !types.IsPowerOfTwo(index) || index < sector || index > types.MaxIndexBlockSize {
		return g, errors.Wrapf(types.ErrInvalidGeometry, "index block size %d", index)
	}

	if opts.Size < types.MinVolumeSize {
		return g, errors.Wrapf(types.ErrInvalidGeometry, "volume size %d is below the %d byte minimum",
			opts.Size, types.MinVolumeSize)
	}

	g = types.Geometry{
		SectorSize:     sector,
		ClusterSize:    cluster,
		RecordSize:     record,
		IndexBlockSize: index,
		TotalSectors:   opts.Size/int64(sector) - 1,
	}
	g.TotalClusters = g.TotalSectors / int64(g.SectorsPerCluster())
	return g, nil
}

// LogFileSize returns the $LogFile size for a volume of size bytes, rounded
// up to whole clusters.
func LogFileSize(size int64, clusterSize uint32) int64 {
	const (
		minLog = 256 * 1024
		maxLog = 64 * 1024 * 1024
	)
	n := min(max(size/100, minLog), maxLog)
	cs := int64(clusterSize)
	return (n + cs - 1) / cs * cs
}
