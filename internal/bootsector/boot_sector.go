// Package bootsector reads and writes the NTFS boot sector.
package bootsector

import (
	"encoding/binary"

	"github.com/pkg/errors"

	"github.com/deploymenttheory/go-ntfsbox/internal/types"
)

var jump = []byte{0xEB, 0x52, 0x90}

// bootCode halts the machine when the volume is booted: cli; hlt; jmp $-1.
var bootCode = []byte{0xFA, 0xF4, 0xEB, 0xFD}

const bootCodeOffset = 0x54

// Encode serializes bs into a sector of sectorSize bytes. The signature is
// placed at 0x1FE regardless of the sector size.
func Encode(bs *types.BootSector, sectorSize uint32) []byte {
	if sectorSize < types.BootSectorFieldsSize {
		sectorSize = types.BootSectorFieldsSize
	}
	buf := make([]byte, sectorSize)
	le := binary.LittleEndian

	copy(buf[types.BootOffsetJump:], jump)
	copy(buf[types.BootOffsetOEMID:], types.NTFSOEMID)
	le.PutUint16(buf[types.BootOffsetBytesPerSector:], bs.BytesPerSector)
	buf[types.BootOffsetSectorsPerCluster] = bs.SectorsPerCluster
	buf[types.BootOffsetMediaDescriptor] = bs.MediaDescriptor
	le.PutUint16(buf[types.BootOffsetSectorsPerTrack:], bs.SectorsPerTrack)
	le.PutUint16(buf[types.BootOffsetNumberOfHeads:], bs.NumberOfHeads)
	buf[types.BootOffsetPhysicalDrive] = 0x80
	buf[types.BootOffsetExtendedSignature] = 0x80
	le.PutUint64(buf[types.BootOffsetTotalSectors:], uint64(bs.TotalSectors))
	le.PutUint64(buf[types.BootOffsetMFTLCN:], uint64(bs.MFTLCN))
	le.PutUint64(buf[types.BootOffsetMFTMirrLCN:], uint64(bs.MFTMirrLCN))
	buf[types.BootOffsetClustersPerRecord] = byte(bs.ClustersPerRecord)
	buf[types.BootOffsetClustersPerIndex] = byte(bs.ClustersPerIndexBlock)
	le.PutUint64(buf[types.BootOffsetSerialNumber:], bs.SerialNumber)
	le.PutUint32(buf[types.BootOffsetChecksum:], bs.Checksum)
	copy(buf[bootCodeOffset:], bootCode)
	le.PutUint16(buf[types.BootOffsetSignature:], types.BootSignature)
	return buf
}

// Decode parses and validates a boot sector.
func Decode(buf []byte) (*types.BootSector, error) {
	if len(buf) < types.BootSectorFieldsSize {
		return nil, errors.Wrapf(types.ErrCorruptEncoding, "boot sector of %d bytes", len(buf))
	}
	le := binary.LittleEndian
	if string(buf[types.BootOffsetOEMID:types.BootOffsetOEMID+8]) != types.NTFSOEMID {
		return nil, errors.Wrapf(types.ErrCorruptEncoding, "not an NTFS boot sector: OEM id %q",
			buf[types.BootOffsetOEMID:types.BootOffsetOEMID+8])
	}
	if sig := le.Uint16(buf[types.BootOffsetSignature:]); sig != types.BootSignature {
		return nil, errors.Wrapf(types.ErrCorruptEncoding, "boot signature 0x%04x", sig)
	}

	bs := &types.BootSector{
		BytesPerSector:        le.Uint16(buf[types.BootOffsetBytesPerSector:]),
		SectorsPerCluster:     buf[types.BootOffsetSectorsPerCluster],
		MediaDescriptor:       buf[types.BootOffsetMediaDescriptor],
		SectorsPerTrack:       le.Uint16(buf[types.BootOffsetSectorsPerTrack:]),
		NumberOfHeads:         le.Uint16(buf[types.BootOffsetNumberOfHeads:]),
		TotalSectors:          int64(le.Uint64(buf[types.BootOffsetTotalSectors:])),
		MFTLCN:                int64(le.Uint64(buf[types.BootOffsetMFTLCN:])),
		MFTMirrLCN:            int64(le.Uint64(buf[types.BootOffsetMFTMirrLCN:])),
		ClustersPerRecord:     int8(buf[types.BootOffsetClustersPerRecord]),
		ClustersPerIndexBlock: int8(buf[types.BootOffsetClustersPerIndex]),
		SerialNumber:          le.Uint64(buf[types.BootOffsetSerialNumber:]),
		Checksum:              le.Uint32(buf[types.BootOffsetChecksum:]),
	}
	if err := Validate(bs); err != nil {
		return nil, err
	}
	return bs, nil
}

// Validate checks that the geometry fields describe a usable volume.
func Validate(bs *types.BootSector) error {
	sector := uint32(bs.BytesPerSector)
	if sector < types.MinSectorSize || sector > types.MaxSectorSize || !types.IsPowerOfTwo(sector) {
		return errors.Wrapf(types.ErrCorruptEncoding, "bytes per sector %d", sector)
	}
	if bs.SectorsPerCluster == 0 || !types.IsPowerOfTwo(uint32(bs.SectorsPerCluster)) ||
		bs.ClusterSize() > types.MaxClusterSize {
		return errors.Wrapf(types.ErrCorruptEncoding, "sectors per cluster %d", bs.SectorsPerCluster)
	}
	record := bs.RecordSize()
	if record < types.MinRecordSize || record > types.MaxRecordSize || !types.IsPowerOfTwo(record) {
		return errors.Wrapf(types.ErrCorruptEncoding, "record size %d", record)
	}
	index := bs.IndexBlockSize()
	if index < types.FixupStride || index > types.MaxIndexBlockSize || !types.IsPowerOfTwo(index) {
		return errors.Wrapf(types.ErrCorruptEncoding, "index block size %d", index)
	}
	g := bs.Geometry()
	if g.TotalClusters <= 0 {
		return errors.Wrapf(types.ErrCorruptEncoding, "total sectors %d", bs.TotalSectors)
	}
	if bs.MFTLCN <= 0 || bs.MFTLCN >= g.TotalClusters {
		return errors.Wrapf(types.ErrCorruptEncoding, "$MFT at lcn %d of %d", bs.MFTLCN, g.TotalClusters)
	}
	if bs.MFTMirrLCN <= 0 || bs.MFTMirrLCN >= g.TotalClusters {
		return errors.Wrapf(types.ErrCorruptEncoding, "$MFTMirr at lcn %d of %d", bs.MFTMirrLCN, g.TotalClusters)
	}
	return nil
}

// BackupOffset returns the byte offset of the backup boot sector, the last
// sector of the device.
func BackupOffset(bs *types.BootSector) int64 {
	return bs.TotalSectors * int64(bs.BytesPerSector)
}
