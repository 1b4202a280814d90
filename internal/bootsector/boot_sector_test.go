package bootsector

import (
	"encoding/binary"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deploymenttheory/go-ntfsbox/internal/types"
)

func sampleBootSector() *types.BootSector {
	return &types.BootSector{
		BytesPerSector:        512,
		SectorsPerCluster:     8,
		MediaDescriptor:       types.MediaFixedDisk,
		SectorsPerTrack:       63,
		NumberOfHeads:         255,
		TotalSectors:          2*1024*1024*1024/512 - 1,
		MFTLCN:                2,
		MFTMirrLCN:            262143,
		ClustersPerRecord:     types.EncodeClustersPer(1024, 4096),
		ClustersPerIndexBlock: types.EncodeClustersPer(4096, 4096),
		SerialNumber:          0x1122334455667788,
	}
}

func TestEncodeDecode(t *testing.T) {
	bs := sampleBootSector()
	buf := Encode(bs, 512)
	require.Len(t, buf, 512)

	assert.Equal(t, "NTFS    ", string(buf[3:11]))
	assert.Equal(t, uint16(0xAA55), binary.LittleEndian.Uint16(buf[0x1FE:]))
	assert.Equal(t, int8(-10), int8(buf[0x40]))
	assert.Equal(t, byte(1), buf[0x44])

	got, err := Decode(buf)
	require.NoError(t, err)
	assert.Equal(t, bs, got)

	g := got.Geometry()
	assert.Equal(t, uint32(4096), g.ClusterSize)
	assert.Equal(t, uint32(1024), g.RecordSize)
	assert.Equal(t, uint32(4096), g.IndexBlockSize)
	assert.Equal(t, int64(524287), g.TotalClusters)
}

func TestEncodeLargeSector(t *testing.T) {
	bs := sampleBootSector()
	bs.BytesPerSector = 4096
	bs.SectorsPerCluster = 1
	bs.TotalSectors = 1000
	bs.MFTMirrLCN = 500
	buf := Encode(bs, 4096)
	require.Len(t, buf, 4096)
	assert.Equal(t, uint16(0xAA55), binary.LittleEndian.Uint16(buf[0x1FE:]))

	got, err := Decode(buf)
	require.NoError(t, err)
	assert.Equal(t, uint32(4096), got.ClusterSize())
}

func TestDecodeRejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(bs *types.BootSector, buf []byte)
	}{
		{"short buffer", nil},
		{"oem id", func(_ *types.BootSector, buf []byte) { copy(buf[3:], "EXFAT   ") }},
		{"signature", func(_ *types.BootSector, buf []byte) { buf[0x1FF] = 0 }},
		{"sector size", func(_ *types.BootSector, buf []byte) { binary.LittleEndian.PutUint16(buf[0x0B:], 768) }},
		{"cluster size", func(_ *types.BootSector, buf []byte) { buf[0x0D] = 3 }},
		{"record size", func(_ *types.BootSector, buf []byte) { buf[0x40] = byte(0xF7) }},
		{"zero sectors", func(_ *types.BootSector, buf []byte) { binary.LittleEndian.PutUint64(buf[0x28:], 0) }},
		{"mft past end", func(_ *types.BootSector, buf []byte) { binary.LittleEndian.PutUint64(buf[0x30:], 1<<40) }},
		{"mirror at zero", func(_ *types.BootSector, buf []byte) { binary.LittleEndian.PutUint64(buf[0x38:], 0) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bs := sampleBootSector()
			buf := Encode(bs, 512)
			if tt.mutate == nil {
				buf = buf[:100]
			} else {
				tt.mutate(bs, buf)
			}
			_, err := Decode(buf)
			require.Error(t, err)
			assert.True(t, errors.Is(err, types.ErrCorruptEncoding))
		})
	}
}

func TestBackupOffset(t *testing.T) {
	bs := sampleBootSector()
	assert.Equal(t, int64(2*1024*1024*1024-512), BackupOffset(bs))
}
