package resize

import (
	"context"
	"fmt"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/deploymenttheory/go-ntfsbox/internal/device"
	"github.com/deploymenttheory/go-ntfsbox/internal/layout"
	"github.com/deploymenttheory/go-ntfsbox/internal/record"
	"github.com/deploymenttheory/go-ntfsbox/internal/runlist"
	"github.com/deploymenttheory/go-ntfsbox/internal/types"
	"github.com/deploymenttheory/go-ntfsbox/internal/volume"
)

const mib = 1024 * 1024

// tb is the part of testing.T and rapid.T the helpers need.
type tb interface {
	require.TestingT
	Helper()
}

func formatVolume(t tb, devSize, size int64) (*device.MemoryDevice, *volume.Volume, *layout.Result) {
	t.Helper()
	dev := device.NewMemory(devSize)
	res, err := layout.NewPlanner().Format(context.Background(), dev, layout.Options{
		Size:  size,
		Label: "resize",
		Now:   func() time.Time { return time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC) },
	})
	require.NoError(t, err)
	return dev, reopen(t, dev), res
}

func reopen(t tb, dev *device.MemoryDevice) *volume.Volume {
	t.Helper()
	vol, err := volume.Open(context.Background(), dev)
	require.NoError(t, err)
	return vol
}

type file struct {
	record uint64
	rl     runlist.Runlist
	data   []byte
}

// writeFileRecord writes an in-use record whose unnamed $DATA maps rl and
// fills the mapped clusters. The cluster bitmap is not touched. With pad set
// the record is filled with a resident stream until fewer than 8 bytes are
// free.
func writeFileRecord(t tb, vol *volume.Volume, rl runlist.Runlist, pad bool) file {
	t.Helper()
	g := vol.Geometry()
	n, rec := buildFileRecord(t, vol, rl, pad)

	data := make([]byte, rl.EndVCN()*int64(g.ClusterSize))
	for i := range data {
		data[i] = byte(int(n)*31 + i/int(g.ClusterSize))
	}
	require.NoError(t, vol.WriteRunlist(rl, data))
	linkRecord(t, vol, n, rec)
	return file{record: n, rl: rl, data: data}
}

// mapFileRecord writes an in-use record whose unnamed $DATA maps rl
// without writing the mapped clusters, so rl may point into live metadata.
func mapFileRecord(t tb, vol *volume.Volume, rl runlist.Runlist) uint64 {
	t.Helper()
	n, rec := buildFileRecord(t, vol, rl, false)
	linkRecord(t, vol, n, rec)
	return n
}

func buildFileRecord(t tb, vol *volume.Volume, rl runlist.Runlist, pad bool) (uint64, *record.Record) {
	t.Helper()
	g := vol.Geometry()
	n, err := vol.FindFreeRecord(types.SystemRecordCount)
	require.NoError(t, err)

	rec, err := record.New(g.RecordSize, uint32(n), 1)
	require.NoError(t, err)
	si := record.StandardInformation{FileAttributes: types.FileAttrArchive}
	_, err = rec.InsertResident(types.AttrStandardInformation, "", 0, si.Encode())
	require.NoError(t, err)

	size := rl.EndVCN() * int64(g.ClusterSize)
	sizes := record.Sizes{Allocated: rl.AllocatedClusters() * int64(g.ClusterSize), Data: size, Initialized: size}
	_, err = rec.InsertNonResident(types.AttrData, "", 0, rl, sizes)
	require.NoError(t, err)
	if pad {
		for v := rec.FreeSpace(); v >= 0; v-- {
			if _, err := rec.InsertResident(types.AttrData, "pad", 0, make([]byte, v)); err == nil {
				break
			}
		}
		require.Less(t, rec.FreeSpace(), 8)
	}
	require.NoError(t, rec.SetInUse())
	return n, rec
}

func linkRecord(t tb, vol *volume.Volume, n uint64, rec *record.Record) {
	t.Helper()
	require.NoError(t, vol.WriteRecord(rec))
	require.NoError(t, vol.SetRecordAllocated(n, true))
}

// addFile claims ranges in $Bitmap and writes a file record mapping them.
func addFile(t tb, vol *volume.Volume, ranges []types.ClusterRange, pad bool) file {
	t.Helper()
	alloc, err := vol.ReadClusterBitmap()
	require.NoError(t, err)
	for _, r := range ranges {
		require.NoError(t, alloc.MarkRange(r, true))
	}
	f := writeFileRecord(t, vol, runlist.FromRanges(0, ranges), pad)
	require.NoError(t, vol.WriteClusterBitmap(alloc))
	return f
}

// allocateFile adds a file of clusters clusters wherever the allocator
// puts it.
func allocateFile(t tb, vol *volume.Volume, clusters, hint int64) file {
	t.Helper()
	alloc, err := vol.ReadClusterBitmap()
	require.NoError(t, err)
	ranges, err := alloc.AllocateFragmented(clusters, hint)
	require.NoError(t, err)
	return addFile(t, vol, ranges, false)
}

// freeRanges returns the free runs of $Bitmap below limit.
func freeRanges(t tb, vol *volume.Volume, limit int64) []types.ClusterRange {
	t.Helper()
	alloc, err := vol.ReadClusterBitmap()
	require.NoError(t, err)
	var out []types.ClusterRange
	for c := int64(0); c < limit; {
		if alloc.IsAllocated(c) {
			c++
			continue
		}
		start := c
		for c < limit && !alloc.IsAllocated(c) {
			c++
		}
		out = append(out, types.ClusterRange{Start: start, Length: c - start})
	}
	return out
}

// extents returns the runlist of every non-resident attribute of every
// in-use record.
func extents(t tb, vol *volume.Volume) map[string]runlist.Runlist {
	t.Helper()
	out := make(map[string]runlist.Runlist)
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
			out[fmt.Sprintf("%d %s %q", n, a.Type(), a.Name())] = rl
		}
	}
	return out
}

func readData(t tb, vol *volume.Volume, n uint64) []byte {
	t.Helper()
	rec, err := vol.ReadRecord(n)
	require.NoError(t, err)
	data, err := vol.ReadAttribute(rec, types.AttrData, "")
	require.NoError(t, err)
	return data
}
