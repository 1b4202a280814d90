package types

// NTFS boot sector layout. All multi-byte fields are little-endian.
const (
	BootOffsetJump              = 0x00
	BootOffsetOEMID             = 0x03
	BootOffsetBytesPerSector    = 0x0B
	BootOffsetSectorsPerCluster = 0x0D
	BootOffsetMediaDescriptor   = 0x15
	BootOffsetSectorsPerTrack   = 0x18
	BootOffsetNumberOfHeads     = 0x1A
	BootOffsetPhysicalDrive     = 0x24
	BootOffsetExtendedSignature = 0x26
	BootOffsetTotalSectors      = 0x28
	BootOffsetMFTLCN            = 0x30
	BootOffsetMFTMirrLCN        = 0x38
	BootOffsetClustersPerRecord = 0x40
	BootOffsetClustersPerIndex  = 0x44
	BootOffsetSerialNumber      = 0x48
	BootOffsetChecksum          = 0x50
	BootOffsetSignature         = 0x1FE

	BootSectorFieldsSize = 512
	BootSignature        = 0xAA55
	MediaFixedDisk       = 0xF8
)

// NTFSOEMID is the eight byte OEM identifier of an NTFS boot sector.
const NTFSOEMID = "NTFS    "

// BootSector holds the decoded fields of an NTFS boot sector that this
// package reads or writes. The checksum is reserved and always zero.
type BootSector struct {
	BytesPerSector    uint16
	SectorsPerCluster uint8
	MediaDescriptor   uint8
	SectorsPerTrack   uint16
	NumberOfHeads     uint16
	TotalSectors      int64
	MFTLCN            int64
	MFTMirrLCN        int64

	// ClustersPerRecord and ClustersPerIndexBlock are stored as a cluster
	// count when positive, or as -log2(bytes) when the unit is smaller than
	// a cluster.
	ClustersPerRecord     int8
	ClustersPerIndexBlock int8

	SerialNumber uint64
	Checksum     uint32
}

// ClusterSize returns the cluster size in bytes.
func (b *BootSector) ClusterSize() uint32 {
	return uint32(b.BytesPerSector) * uint32(b.SectorsPerCluster)
}

// RecordSize decodes ClustersPerRecord into bytes.
func (b *BootSector) RecordSize() uint32 {
	return decodeClustersPer(b.ClustersPerRecord, b.ClusterSize())
}

// IndexBlockSize decodes ClustersPerIndexBlock into bytes.
func (b *BootSector) IndexBlockSize() uint32 {
	return decodeClustersPer(b.ClustersPerIndexBlock, b.ClusterSize())
}

// Geometry derives the volume geometry described by the boot sector.
func (b *BootSector) Geometry() Geometry {
	g := Geometry{
		SectorSize:     uint32(b.BytesPerSector),
		ClusterSize:    b.ClusterSize(),
		RecordSize:     b.RecordSize(),
		IndexBlockSize: b.IndexBlockSize(),
		TotalSectors:   b.TotalSectors,
	}
	if b.SectorsPerCluster != 0 {
		g.TotalClusters = b.TotalSectors / int64(b.SectorsPerCluster)
	}
	return g
}

// EncodeClustersPer encodes a record or index block size the way the boot
// sector stores it.
func EncodeClustersPer(size, clusterSize uint32) int8 {
	if size >= clusterSize {
		return int8(size / clusterSize)
	}
	shift := int8(0)
	for v := size; v > 1; v >>= 1 {
		shift++
	}
	return -shift
}

func decodeClustersPer(v int8, clusterSize uint32) uint32 {
	if v > 0 {
		return uint32(v) * clusterSize
	}
	if v < 0 && v > -32 {
		return 1 << uint(-v)
	}
	return 0
}
