package record

import (
	"encoding/binary"
	"fmt"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deploymenttheory/go-ntfsbox/internal/bitmap"
	"github.com/deploymenttheory/go-ntfsbox/internal/types"
)

func dirSpec() IndexSpec {
	return IndexSpec{
		Name:        types.IndexNameI30,
		IndexedType: types.AttrFileName,
		Collation:   types.CollationFileName,
		BlockSize:   4096,
		ClusterSize: 4096,
	}
}

func dirEntry(name string, rec uint64) IndexEntry {
	fn := FileName{Parent: NewFileReference(5, 5), Name: name, Namespace: types.NamespaceWin32AndDOS}
	return IndexEntry{FileReference: NewFileReference(rec, uint16(rec)), Key: fn.Encode()}
}

func entryName(t *testing.T, e IndexEntry) string {
	t.Helper()
	fn, err := DecodeFileName(e.Key)
	require.NoError(t, err)
	return fn.Name
}

func TestBuildIndexInline(t *testing.T) {
	rec := newTestRecord(t)
	b := NewBuilder(bitmap.New(64), 4096)

	entries := []IndexEntry{dirEntry("zeta", 30), dirEntry("Alpha", 31), dirEntry("beta", 32)}
	large, err := b.BuildIndex(rec, dirSpec(), entries, 0)
	require.NoError(t, err)
	assert.Nil(t, large)

	a, err := rec.Find(types.AttrIndexRoot, types.IndexNameI30, 0)
	require.NoError(t, err)
	root, err := DecodeIndexRoot(a.Value())
	require.NoError(t, err)
	assert.Equal(t, types.AttrFileName, root.IndexedType)
	assert.Equal(t, types.CollationFileName, root.Collation)
	assert.Equal(t, uint32(4096), root.BlockSize)
	assert.False(t, root.Node.Large)
	assert.Equal(t, int64(-1), root.Node.EndSubnode)

	require.Len(t, root.Node.Entries, 3)
	assert.Equal(t, "Alpha", entryName(t, root.Node.Entries[0]))
	assert.Equal(t, "beta", entryName(t, root.Node.Entries[1]))
	assert.Equal(t, "zeta", entryName(t, root.Node.Entries[2]))
	assert.Equal(t, NewFileReference(31, 31), root.Node.Entries[0].FileReference)
}

func TestBuildIndexRejectsDuplicateKeys(t *testing.T) {
	rec := newTestRecord(t)
	err := BuildIndexRoot(rec, dirSpec(), []IndexEntry{dirEntry("same", 20), dirEntry("SAME", 21), dirEntry("same", 22)})
	assert.True(t, errors.Is(err, types.ErrExists))
}

func TestUpgradeToLargeIndex(t *testing.T) {
	rec := newTestRecord(t)
	alloc := bitmap.New(1000)
	b := NewBuilder(alloc, 4096)

	const n = 200
	var entries []IndexEntry
	for i := n - 1; i >= 0; i-- {
		entries = append(entries, dirEntry(fmt.Sprintf("file%03d", i), uint64(100+i)))
	}

	large, err := b.BuildIndex(rec, dirSpec(), entries, 100)
	require.NoError(t, err)
	require.NotNil(t, large)
	assert.Greater(t, large.Blocks, 1)
	assert.Equal(t, int64(large.Blocks), large.Runlist.AllocatedClusters())
	assert.Len(t, large.Data, large.Blocks*4096)
	for _, r := range large.Runlist.Ranges() {
		assert.Equal(t, r.Length, alloc.AllocatedCount(r.Start, r.End()))
	}

	a, err := rec.Find(types.AttrIndexRoot, types.IndexNameI30, 0)
	require.NoError(t, err)
	root, err := DecodeIndexRoot(a.Value())
	require.NoError(t, err)
	assert.True(t, root.Node.Large)
	require.Len(t, root.Node.Entries, large.Blocks-1)
	assert.Equal(t, int64(large.Blocks-1), root.Node.EndSubnode)

	var names []string
	for i := 0; i < large.Blocks; i++ {
		vcn, node, err := DecodeIndexBlock(large.Data[i*4096:(i+1)*4096], false)
		require.NoError(t, err)
		assert.Equal(t, int64(i), vcn)
		for _, e := range node.Entries {
			names = append(names, entryName(t, e))
		}
		if i < len(root.Node.Entries) {
			assert.Equal(t, int64(i), root.Node.Subnodes[i])
			names = append(names, entryName(t, root.Node.Entries[i]))
		}
	}
	require.Len(t, names, n)
	for i, name := range names {
		assert.Equal(t, fmt.Sprintf("file%03d", i), name)
	}

	alloca, err := rec.Find(types.AttrIndexAllocation, types.IndexNameI30, 0)
	require.NoError(t, err)
	rl, err := alloca.Runlist()
	require.NoError(t, err)
	assert.Equal(t, large.Runlist, rl)

	bm, err := rec.Find(types.AttrBitmap, types.IndexNameI30, 0)
	require.NoError(t, err)
	assert.Len(t, bm.Value(), 8)
	assert.Equal(t, byte(1<<uint(large.Blocks))-1, bm.Value()[0])
	assertRecordInvariants(t, rec)
}

func TestUpgradeWithoutRoomRestoresRecord(t *testing.T) {
	rec := newTestRecord(t)
	fill := rec.FreeSpace() - 200 - residentHeaderSize
	_, err := rec.InsertResident(types.AttrData, "", 0, make([]byte, fill))
	require.NoError(t, err)

	alloc := bitmap.New(1000)
	free := alloc.FreeCount()
	b := NewBuilder(alloc, 4096)

	var entries []IndexEntry
	for i := 0; i < 200; i++ {
		entries = append(entries, dirEntry(fmt.Sprintf("file%03d", i), uint64(100+i)))
	}
	before := append([]byte(nil), rec.Bytes()...)
	_, err = b.BuildIndex(rec, dirSpec(), entries, 0)
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrUnsupportedLayout))
	assert.Equal(t, before, rec.Bytes())
	assert.Equal(t, free, alloc.FreeCount())
}

func TestViewIndexRoot(t *testing.T) {
	rec := newTestRecord(t)
	spec := IndexSpec{Name: types.IndexNameSII, Collation: types.CollationNtofsULong, BlockSize: 4096, ClusterSize: 4096}

	key := func(v uint32) []byte {
		b := make([]byte, 4)
		binary.LittleEndian.PutUint32(b, v)
		return b
	}
	entries := []IndexEntry{
		{Key: key(0x102), Data: []byte("second")},
		{Key: key(0x101), Data: []byte("first")},
	}
	require.NoError(t, BuildIndexRoot(rec, spec, entries))

	a, err := rec.Find(types.AttrIndexRoot, types.IndexNameSII, 0)
	require.NoError(t, err)
	root, err := DecodeIndexRoot(a.Value())
	require.NoError(t, err)
	assert.Equal(t, types.AttrType(0), root.IndexedType)
	require.Len(t, root.Node.Entries, 2)
	assert.Equal(t, key(0x101), root.Node.Entries[0].Key)
	assert.Equal(t, []byte("first"), root.Node.Entries[0].Data)
	assert.Equal(t, []byte("second"), root.Node.Entries[1].Data)
}

func TestInsertNonResidentValue(t *testing.T) {
	alloc := bitmap.New(100)
	b := NewBuilder(alloc, 4096)
	rec := newTestRecord(t)

	rl, err := b.InsertNonResidentValue(rec, types.AttrData, "", 0, 10000, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(3), rl.AllocatedClusters())
	assert.Equal(t, int64(10), rl[0].LCN)
	assert.Equal(t, int64(3), alloc.AllocatedCount(10, 13))

	a, err := rec.Find(types.AttrData, "", 0)
	require.NoError(t, err)
	assert.Equal(t, Sizes{Allocated: 3 * 4096, Data: 10000, Initialized: 10000}, a.Sizes())

	full := newTestRecord(t)
	_, err = full.InsertResident(types.AttrData, "", 0, make([]byte, full.FreeSpace()-residentHeaderSize))
	require.NoError(t, err)
	free := alloc.FreeCount()
	_, err = b.InsertNonResidentValue(full, types.AttrData, "$Bad", 0, 8192, 0)
	assert.True(t, errors.Is(err, types.ErrNoSpace))
	assert.Equal(t, free, alloc.FreeCount())
}
