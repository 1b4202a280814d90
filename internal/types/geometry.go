package types

// Geometry bounds
const (
	MinSectorSize     = 512
	MaxSectorSize     = 4096
	MaxClusterSize    = 64 * 1024
	DefaultCluster    = 4096
	MinRecordSize     = 1024
	MaxRecordSize     = 4096
	DefaultRecordSize = 1024
	MaxIndexBlockSize = 4096
	DefaultIndexBlock = 4096
	MinVolumeSize     = 1024 * 1024

	// BootRegionSize is the span covered by $Boot at the start of the volume.
	BootRegionSize = 8192

	// FixupStride is the sector size used by update sequence arrays,
	// independent of the device sector size.
	FixupStride = 512
)

// Geometry is the immutable shape of a volume. Only TotalSectors and
// TotalClusters change, and only through a resize.
type Geometry struct {
	SectorSize     uint32
	ClusterSize    uint32
	RecordSize     uint32
	IndexBlockSize uint32
	TotalSectors   int64
	TotalClusters  int64
}

// SectorsPerCluster returns the number of sectors in one cluster.
func (g Geometry) SectorsPerCluster() uint32 {
	return g.ClusterSize / g.SectorSize
}

// VolumeSize returns the declared byte size of the volume, including the
// trailing sector that holds the backup boot sector.
func (g Geometry) VolumeSize() int64 {
	return (g.TotalSectors + 1) * int64(g.SectorSize)
}

// ClustersFor returns the number of clusters needed to hold n bytes.
func (g Geometry) ClustersFor(n int64) int64 {
	cs := int64(g.ClusterSize)
	return (n + cs - 1) / cs
}

// ClusterOffset returns the byte offset of cluster lcn.
func (g Geometry) ClusterOffset(lcn int64) int64 {
	return lcn * int64(g.ClusterSize)
}

// IsPowerOfTwo reports whether v is a positive power of two.
func IsPowerOfTwo(v uint32) bool {
	return v != 0 && v&(v-1) == 0
}

// ClusterRange is an in-memory run of physical clusters produced by the
// allocator. It is never persisted on its own, only as part of a runlist.
type ClusterRange struct {
	Start  int64
	Length int64
}

// End returns the first cluster past the range.
func (r ClusterRange) End() int64 {
	return r.Start + r.Length
}
