package layout

import (
	"context"
	"sort"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deploymenttheory/go-ntfsbox/internal/bitmap"
	"github.com/deploymenttheory/go-ntfsbox/internal/bootsector"
	"github.com/deploymenttheory/go-ntfsbox/internal/device"
	"github.com/deploymenttheory/go-ntfsbox/internal/record"
	"github.com/deploymenttheory/go-ntfsbox/internal/runlist"
	"github.com/deploymenttheory/go-ntfsbox/internal/types"
	"github.com/deploymenttheory/go-ntfsbox/internal/volume"
)

const mib = 1024 * 1024

var formatTime = time.Date(2024, 5, 1, 8, 30, 0, 0, time.UTC)

func formatMemory(t *testing.T, opts Options) (*device.MemoryDevice, *Result) {
	t.Helper()
	if opts.Now == nil {
		opts.Now = func() time.Time { return formatTime }
	}
	dev := device.NewMemory(opts.Size)
	res, err := NewPlanner().Format(context.Background(), dev, opts)
	require.NoError(t, err)
	return dev, res
}

// directoryNames returns the names indexed by a directory record, in index
// order.
func directoryNames(t *testing.T, vol *volume.Volume, rec *record.Record) []string {
	t.Helper()
	a, err := rec.Find(types.AttrIndexRoot, types.IndexNameI30, 0)
	require.NoError(t, err)
	root, err := record.DecodeIndexRoot(a.Value())
	require.NoError(t, err)

	name := func(e record.IndexEntry) string {
		fn, err := record.DecodeFileName(e.Key)
		require.NoError(t, err)
		return fn.Name
	}
	if !root.Node.Large {
		var names []string
		for _, e := range root.Node.Entries {
			names = append(names, name(e))
		}
		return names
	}

	data, err := vol.ReadAttribute(rec, types.AttrIndexAllocation, types.IndexNameI30)
	require.NoError(t, err)
	bs := int(root.BlockSize)
	blocks := map[int64]*record.IndexNode{}
	for off := 0; off+bs <= len(data); off += bs {
		vcn, node, err := record.DecodeIndexBlock(data[off:off+bs], false)
		require.NoError(t, err)
		blocks[vcn] = node
	}
	var names []string
	for i, e := range root.Node.Entries {
		for _, be := range blocks[root.Node.Subnodes[i]].Entries {
			names = append(names, name(be))
		}
		names = append(names, name(e))
	}
	for _, be := range blocks[root.Node.EndSubnode].Entries {
		names = append(names, name(be))
	}
	return names
}

// referencedClusters marks every cluster mapped by an in-use record.
func referencedClusters(t *testing.T, vol *volume.Volume) *bitmap.Allocator {
	t.Helper()
	g := vol.Geometry()
	refs := bitmap.New(g.TotalClusters)
	for n := uint64(0); int64(n) < vol.RecordCount(); n++ {
		rec, err := vol.ReadRecord(n)
		require.NoError(t, err)
		if !rec.InUse() {
			continue
		}
		attrs, err := rec.Attributes()
		require.NoError(t, err)
		for _, a := range attrs {
			if !a.NonResident() {
				continue
			}
			rl, err := a.Runlist()
			require.NoError(t, err)
			for _, r := range rl.Ranges() {
				require.NoError(t, refs.MarkRange(r, true), "record %d %s", n, a.Type())
			}
		}
	}
	return refs
}

func TestFormatDefaultGeometry(t *testing.T) {
	dev, res := formatMemory(t, Options{Size: 10 * mib, Label: "sandbox"})

	bs, err := bootsector.Decode(dev.Bytes()[:512])
	require.NoError(t, err)
	assert.Equal(t, int64(10*mib/512-1), bs.TotalSectors)
	assert.Equal(t, uint32(4096), bs.ClusterSize())
	assert.Equal(t, uint32(1024), bs.RecordSize())
	assert.Equal(t, res.MFTLCN, bs.MFTLCN)
	assert.Equal(t, int64(2), bs.MFTLCN)
	assert.Equal(t, res.Geometry.TotalClusters/2, bs.MFTMirrLCN)
	assert.Equal(t, res.Serial, bs.SerialNumber)
	assert.Zero(t, bs.Checksum)

	backup, err := bootsector.Decode(dev.Bytes()[10*mib-512:])
	require.NoError(t, err)
	assert.Equal(t, bs, backup)

	vol, err := volume.Open(context.Background(), dev)
	require.NoError(t, err)
	assert.Equal(t, int64(types.InitialMFTRecords), vol.RecordCount())

	root, err := vol.ReadRecord(types.RecordRoot)
	require.NoError(t, err)
	assert.True(t, root.InUse())
	assert.True(t, root.IsDirectory())
	assert.Equal(t, record.StateInUse, root.State())

	names := directoryNames(t, vol, root)
	want := append([]string(nil), types.SystemFileNames...)
	assert.ElementsMatch(t, want, names)
	assert.True(t, sort.SliceIsSorted(names, func(i, j int) bool {
		return record.CompareNames(names[i], names[j]) < 0
	}), "index order %v", names)
}

func TestFormatSystemRecords(t *testing.T) {
	dev, _ := formatMemory(t, Options{Size: 10 * mib, Label: "sandbox"})
	vol, err := volume.Open(context.Background(), dev)
	require.NoError(t, err)

	for n := uint64(0); n < types.SystemRecordCount; n++ {
		rec, err := vol.ReadRecord(n)
		require.NoError(t, err)
		assert.True(t, rec.InUse(), "record %d", n)
		require.NoError(t, rec.Validate())
		want := uint16(n)
		if n == types.RecordMFT {
			want = 1
		}
		assert.Equal(t, want, rec.SequenceNumber(), "record %d", n)

		inUse, err := vol.RecordInUse(n)
		require.NoError(t, err)
		assert.True(t, inUse)
	}
	for n := uint64(types.SystemRecordCount); int64(n) < vol.RecordCount(); n++ {
		rec, err := vol.ReadRecord(n)
		require.NoError(t, err)
		assert.Equal(t, record.StateLaidOut, rec.State(), "record %d", n)
		inUse, err := vol.RecordInUse(n)
		require.NoError(t, err)
		assert.False(t, inUse)
	}

	dirty, err := vol.IsDirty()
	require.NoError(t, err)
	assert.False(t, dirty)
	label, err := vol.Label()
	require.NoError(t, err)
	assert.Equal(t, "sandbox", label)

	bad, err := vol.ReadRecord(types.RecordBadClus)
	require.NoError(t, err)
	a, err := bad.Find(types.AttrData, types.StreamBad, 0)
	require.NoError(t, err)
	rl, err := a.Runlist()
	require.NoError(t, err)
	assert.Equal(t, runlist.Runlist{{VCN: 0, LCN: runlist.LCNHole, Length: vol.Geometry().TotalClusters}}, rl)

	secure, err := vol.ReadRecord(types.RecordSecure)
	require.NoError(t, err)
	assert.NotZero(t, secure.Flags()&types.RecordFlagViewIndex)
	for _, name := range []string{types.IndexNameSDH, types.IndexNameSII} {
		a, err := secure.Find(types.AttrIndexRoot, name, 0)
		require.NoError(t, err)
		root, err := record.DecodeIndexRoot(a.Value())
		require.NoError(t, err)
		assert.Empty(t, root.Node.Entries)
	}

	upcase, err := vol.ReadRecord(types.RecordUpCase)
	require.NoError(t, err)
	table, err := vol.ReadAttribute(upcase, types.AttrData, "")
	require.NoError(t, err)
	assert.Equal(t, record.UpcaseTable(), table)

	logFile, err := vol.ReadRecord(types.RecordLogFile)
	require.NoError(t, err)
	content, err := vol.ReadAttribute(logFile, types.AttrData, "")
	require.NoError(t, err)
	assert.Equal(t, int64(256*1024), int64(len(content)))
	assert.Equal(t, byte(0xFF), content[0])
	assert.Equal(t, byte(0xFF), content[len(content)-1])

	attrDef, err := vol.ReadRecord(types.RecordAttrDef)
	require.NoError(t, err)
	defs, err := vol.ReadAttribute(attrDef, types.AttrData, "")
	require.NoError(t, err)
	assert.Equal(t, AttrDefTable(), defs)
}

func TestFormatMirrorMatchesMFT(t *testing.T) {
	dev, _ := formatMemory(t, Options{Size: 10 * mib})
	vol, err := volume.Open(context.Background(), dev)
	require.NoError(t, err)

	g := vol.Geometry()
	n := int64(types.MinMirrorRecords) * int64(g.RecordSize)
	mft, err := vol.ReadRunlist(vol.MFTRunlist(), n)
	require.NoError(t, err)
	mirr, err := vol.ReadRunlist(vol.MirrorRunlist(), n)
	require.NoError(t, err)
	if diff := cmp.Diff(mft, mirr); diff != "" {
		t.Errorf("$MFTMirr differs from $MFT (-mft +mirr):\n%s", diff)
	}
}

func TestFormatBitmapMatchesExtents(t *testing.T) {
	tests := []struct {
		name string
		opts Options
	}{
		{"minimum size", Options{Size: types.MinVolumeSize}},
		{"default", Options{Size: 10 * mib}},
		{"512 byte clusters", Options{Size: 4 * mib, ClusterSize: 512}},
		{"64k clusters", Options{Size: 32 * mib, ClusterSize: 64 * 1024}},
		{"4k sectors", Options{Size: 16 * mib, SectorSize: 4096}},
		{"4k records", Options{Size: 8 * mib, RecordSize: 4096}},
		{"small index blocks", Options{Size: 8 * mib, IndexBlockSize: 512}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dev, res := formatMemory(t, tt.opts)
			vol, err := volume.Open(context.Background(), dev)
			require.NoError(t, err)

			onDisk, err := vol.ReadClusterBitmap()
			require.NoError(t, err)
			refs := referencedClusters(t, vol)
			g := vol.Geometry()
			assert.Empty(t, onDisk.Diff(refs, g.TotalClusters))
			assert.Equal(t, res.UsedClusters, onDisk.AllocatedCount(0, g.TotalClusters))

			bitmapRec, err := vol.ReadRecord(types.RecordBitmap)
			require.NoError(t, err)
			raw, err := vol.ReadAttribute(bitmapRec, types.AttrData, "")
			require.NoError(t, err)
			require.Equal(t, bitmap.Size(g.TotalClusters), int64(len(raw)))
			for c := g.TotalClusters; c < int64(len(raw))*8; c++ {
				require.NotZero(t, raw[c/8]&(1<<uint(c%8)), "tail bit %d", c)
			}

			root, err := vol.ReadRecord(types.RecordRoot)
			require.NoError(t, err)
			assert.ElementsMatch(t, types.SystemFileNames, directoryNames(t, vol, root))
		})
	}
}

func TestFormatRejectsGeometry(t *testing.T) {
	tests := []struct {
		name string
		opts Options
	}{
		{"too small", Options{Size: types.MinVolumeSize - 1}},
		{"odd sector", Options{Size: 10 * mib, SectorSize: 768}},
		{"huge sector", Options{Size: 10 * mib, SectorSize: 8192}},
		{"cluster below sector", Options{Size: 10 * mib, SectorSize: 4096, ClusterSize: 2048}},
		{"cluster too large", Options{Size: 10 * mib, ClusterSize: 128 * 1024}},
		{"record too small", Options{Size: 10 * mib, RecordSize: 512}},
		{"record below sector", Options{Size: 10 * mib, SectorSize: 4096, RecordSize: 2048}},
		{"index block too large", Options{Size: 10 * mib, IndexBlockSize: 8192}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dev := device.NewMemory(10 * mib)
			_, err := NewPlanner().Format(context.Background(), dev, tt.opts)
			require.Error(t, err)
			assert.True(t, errors.Is(err, types.ErrInvalidGeometry))
			assert.Zero(t, dev.Writes())
		})
	}
}

func TestFormatDeviceTooSmall(t *testing.T) {
	dev := device.NewMemory(2 * mib)
	_, err := NewPlanner().Format(context.Background(), dev, Options{Size: 4 * mib})
	assert.True(t, errors.Is(err, types.ErrInvalidGeometry))
	assert.Zero(t, dev.Writes())
}

func TestFailedFormatLeavesNoBootSector(t *testing.T) {
	dev, _ := formatMemory(t, Options{Size: 10 * mib})
	_, err := bootsector.Decode(dev.Bytes()[:512])
	require.NoError(t, err)

	dev.FailWritesAfter(6)
	_, err = NewPlanner().Format(context.Background(), dev, Options{Size: 10 * mib})
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrDeviceIO))

	_, err = bootsector.Decode(dev.Bytes()[:512])
	assert.Error(t, err)
	_, err = bootsector.Decode(dev.Bytes()[10*mib-512:])
	assert.Error(t, err)
}

func TestFormatRetriesShortWrites(t *testing.T) {
	dev := device.NewMemory(10 * mib)
	dev.ShortWrites(2)
	_, err := NewPlanner().Format(context.Background(), dev, Options{Size: 10 * mib, WriteRetries: 3})
	require.NoError(t, err)

	_, err = volume.Open(context.Background(), dev)
	require.NoError(t, err)
}

func TestFormatCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	dev := device.NewMemory(10 * mib)
	_, err := NewPlanner().Format(ctx, dev, Options{Size: 10 * mib})
	assert.ErrorIs(t, err, context.Canceled)
	_, err = bootsector.Decode(dev.Bytes()[:512])
	assert.Error(t, err)
}

func TestLogFileSize(t *testing.T) {
	tests := []struct {
		size    int64
		cluster uint32
		want    int64
	}{
		{10 * mib, 4096, 256 * 1024},
		{200 * mib, 4096, 2 * mib},
		{301 * mib, 64 * 1024, 49 * 64 * 1024},
		{100 * 1024 * mib, 4096, 64 * mib},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, LogFileSize(tt.size, tt.cluster), "size %d", tt.size)
	}
}
