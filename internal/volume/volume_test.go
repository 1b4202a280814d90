package volume_test

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deploymenttheory/go-ntfsbox/internal/bootsector"
	"github.com/deploymenttheory/go-ntfsbox/internal/device"
	"github.com/deploymenttheory/go-ntfsbox/internal/layout"
	"github.com/deploymenttheory/go-ntfsbox/internal/record"
	"github.com/deploymenttheory/go-ntfsbox/internal/runlist"
	"github.com/deploymenttheory/go-ntfsbox/internal/types"
	"github.com/deploymenttheory/go-ntfsbox/internal/volume"
)

const mib = 1024 * 1024

func openFormatted(t *testing.T, size int64) (*device.MemoryDevice, *volume.Volume) {
	t.Helper()
	dev := device.NewMemory(size)
	_, err := layout.NewPlanner().Format(context.Background(), dev, layout.Options{
		Size:  size,
		Label: "box",
		Now:   func() time.Time { return time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC) },
	})
	require.NoError(t, err)
	vol, err := volume.Open(context.Background(), dev)
	require.NoError(t, err)
	return dev, vol
}

func TestOpenUnformatted(t *testing.T) {
	_, err := volume.Open(context.Background(), device.NewMemory(4*mib))
	assert.Error(t, err)
}

func TestOpen(t *testing.T) {
	_, vol := openFormatted(t, 10*mib)
	g := vol.Geometry()
	assert.Equal(t, int64(10*mib/512-1), g.TotalSectors)
	assert.Equal(t, g.TotalSectors/8, g.TotalClusters)
	assert.Equal(t, int64(10*mib), g.VolumeSize())
	assert.Equal(t, int64(types.InitialMFTRecords), vol.RecordCount())
	assert.Equal(t, runlist.Runlist{{VCN: 0, LCN: 2, Length: 8}}, vol.MFTRunlist())

	mirr := vol.MirrorRunlist()
	require.Len(t, mirr, 1)
	assert.Equal(t, vol.BootSector().MFTMirrLCN, mirr[0].LCN)

	_, err := vol.ReadRecord(uint64(vol.RecordCount()))
	assert.True(t, errors.Is(err, types.ErrNotFound))
}

func TestWriteRecordMirrors(t *testing.T) {
	dev, vol := openFormatted(t, 10*mib)
	g := vol.Geometry()
	mirrOff := vol.MirrorRunlist()[0].LCN * int64(g.ClusterSize)
	rs := int64(g.RecordSize)

	require.NoError(t, vol.SetDirty(true))
	dirty, err := vol.IsDirty()
	require.NoError(t, err)
	assert.True(t, dirty)

	raw := dev.Bytes()
	mirrored, err := record.Unmarshal(raw[mirrOff+3*rs : mirrOff+4*rs])
	require.NoError(t, err)
	a, err := mirrored.Find(types.AttrVolumeInformation, "", 0)
	require.NoError(t, err)
	info, err := record.DecodeVolumeInformation(a.Value())
	require.NoError(t, err)
	assert.Equal(t, types.VolumeFlagDirty, info.Flags)

	require.NoError(t, vol.SetDirty(false))
	dirty, err = vol.IsDirty()
	require.NoError(t, err)
	assert.False(t, dirty)

	// Records past the mirror only change in the $MFT.
	before := dev.Bytes()[mirrOff : mirrOff+4*rs]
	root, err := vol.ReadRecord(types.RecordRoot)
	require.NoError(t, err)
	root.SetLinkCount(2)
	require.NoError(t, vol.WriteRecord(root))
	assert.Equal(t, before, dev.Bytes()[mirrOff:mirrOff+4*rs])

	again, err := vol.ReadRecord(types.RecordRoot)
	require.NoError(t, err)
	assert.Equal(t, uint16(2), again.LinkCount())
}

func TestSyncMirror(t *testing.T) {
	dev, vol := openFormatted(t, 10*mib)
	g := vol.Geometry()
	rs := int64(g.RecordSize)
	mirrOff := vol.MirrorRunlist()[0].LCN * int64(g.ClusterSize)
	mftOff := vol.MFTRunlist()[0].LCN * int64(g.ClusterSize)

	require.NoError(t, device.Zero(dev, mirrOff, 4*rs, 0))
	require.NoError(t, vol.SyncMirror())
	raw := dev.Bytes()
	assert.Equal(t, raw[mftOff:mftOff+4*rs], raw[mirrOff:mirrOff+4*rs])
}

func TestRecordAllocation(t *testing.T) {
	_, vol := openFormatted(t, 10*mib)

	n, err := vol.FindFreeRecord(0)
	require.NoError(t, err)
	assert.Equal(t, uint64(types.SystemRecordCount), n)

	require.NoError(t, vol.SetRecordAllocated(n, true))
	inUse, err := vol.RecordInUse(n)
	require.NoError(t, err)
	assert.True(t, inUse)

	next, err := vol.FindFreeRecord(0)
	require.NoError(t, err)
	assert.Equal(t, n+1, next)

	require.NoError(t, vol.SetRecordAllocated(n, false))
	inUse, err = vol.RecordInUse(n)
	require.NoError(t, err)
	assert.False(t, inUse)

	err = vol.SetRecordAllocated(64, true)
	assert.True(t, errors.Is(err, types.ErrNoSpace))
}

func TestClusterBitmapRoundTrip(t *testing.T) {
	_, vol := openFormatted(t, 10*mib)
	alloc, err := vol.ReadClusterBitmap()
	require.NoError(t, err)
	free := alloc.FreeCount()

	r, err := alloc.Allocate(5, 0)
	require.NoError(t, err)
	require.NoError(t, vol.WriteClusterBitmap(alloc))

	reread, err := vol.ReadClusterBitmap()
	require.NoError(t, err)
	assert.Equal(t, free-5, reread.FreeCount())
	for c := r.Start; c < r.End(); c++ {
		assert.True(t, reread.IsAllocated(c))
	}
}

func TestCopyClusters(t *testing.T) {
	dev, _ := openFormatted(t, 10*mib)
	vol, err := volume.Open(context.Background(), dev, volume.WithCopyChunk(3))
	require.NoError(t, err)

	cs := int64(vol.Geometry().ClusterSize)
	data := make([]byte, 7*cs)
	for i := range data {
		data[i] = byte(i % 251)
	}
	src := int64(1500)
	require.NoError(t, device.WriteFull(dev, data, src*cs, 0))
	require.NoError(t, vol.CopyClusters(src, 2000, 7))
	assert.Equal(t, data, dev.Bytes()[2000*cs:2007*cs])
}

func TestWriteBootSector(t *testing.T) {
	dev, vol := openFormatted(t, 10*mib)

	bs := vol.BootSector()
	bs.TotalSectors -= 8 * 100
	require.NoError(t, vol.WriteBootSector(bs))
	assert.Equal(t, bs.TotalSectors, vol.Geometry().TotalSectors)
	assert.Equal(t, bs.TotalSectors/8, vol.Geometry().TotalClusters)

	raw := dev.Bytes()
	primary, err := bootsector.Decode(raw[:512])
	require.NoError(t, err)
	assert.Equal(t, bs.TotalSectors, primary.TotalSectors)
	backupOff := bs.TotalSectors * 512
	backup, err := bootsector.Decode(raw[backupOff : backupOff+512])
	require.NoError(t, err)
	assert.Equal(t, primary, backup)

	bad := vol.BootSector()
	bad.MFTLCN = bad.TotalSectors
	assert.Error(t, vol.WriteBootSector(bad))
	assert.Equal(t, bs.TotalSectors, vol.BootSector().TotalSectors)
}

func TestReloadAfterMove(t *testing.T) {
	dev, vol := openFormatted(t, 10*mib)
	cs := int64(vol.Geometry().ClusterSize)
	old := vol.MFTRunlist()

	moved := runlist.Runlist{{VCN: 0, LCN: 2100, Length: old[0].Length}}
	require.NoError(t, vol.CopyClusters(old[0].LCN, 2100, old[0].Length))
	vol.SetMFTRunlist(moved)

	rec, err := vol.ReadRecord(types.RecordMFT)
	require.NoError(t, err)
	require.NoError(t, rec.UpdateRunlist(types.AttrData, "", moved, nil))
	require.NoError(t, vol.WriteRecord(rec))

	// Clobber the old location so a stale runlist would be noticed.
	require.NoError(t, device.Zero(dev, old[0].LCN*cs, old[0].Length*cs, 0))
	require.NoError(t, vol.Reload())
	assert.Equal(t, moved, vol.MFTRunlist())

	root, err := vol.ReadRecord(types.RecordRoot)
	require.NoError(t, err)
	assert.True(t, root.InUse())
}

func TestLabel(t *testing.T) {
	_, vol := openFormatted(t, 10*mib)
	label, err := vol.Label()
	require.NoError(t, err)
	assert.Equal(t, "box", label)
}

func TestShortWritesAreNotRetried(t *testing.T) {
	dev, vol := openFormatted(t, 4*mib)
	rec, err := vol.ReadRecord(types.RecordVolume)
	require.NoError(t, err)

	dev.ShortWrites(1)
	err = vol.WriteRecord(rec)
	assert.True(t, errors.Is(err, types.ErrDeviceIO), "%v", err)

	require.NoError(t, vol.WriteRecord(rec))
}
