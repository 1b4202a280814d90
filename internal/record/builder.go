package record

import (
	"github.com/pkg/errors"

	"github.com/deploymenttheory/go-ntfsbox/internal/interfaces"
	"github.com/deploymenttheory/go-ntfsbox/internal/runlist"
	"github.com/deploymenttheory/go-ntfsbox/internal/types"
)

// Builder edits records whose attributes need clusters from an allocator.
type Builder struct {
	alloc       interfaces.ClusterAllocator
	clusterSize uint32
}

// NewBuilder returns a Builder that takes clusters from alloc.
func NewBuilder(alloc interfaces.ClusterAllocator, clusterSize uint32) *Builder {
	return &Builder{alloc: alloc, clusterSize: clusterSize}
}

// AllocateRunlist claims enough clusters for size bytes, contiguously when
// possible, and returns them as a runlist starting at VCN 0.
func (b *Builder) AllocateRunlist(size, hint int64) (runlist.Runlist, error) {
	cs := int64(b.clusterSize)
	clusters := (size + cs - 1) / cs
	if clusters == 0 {
		return nil, nil
	}
	ranges, err := b.alloc.AllocateFragmented(clusters, hint)
	if err != nil {
		return nil, err
	}
	return runlist.FromRanges(0, ranges), nil
}

// Release returns the clusters of rl to the allocator.
func (b *Builder) Release(rl runlist.Runlist) error {
	for _, r := range rl.Ranges() {
		if err := b.alloc.MarkRange(r, false); err != nil {
			return err
		}
	}
	return nil
}

// InsertNonResidentValue allocates clusters for a value of size bytes and
// inserts a non-resident attribute mapping them. On failure the clusters
// are released and the record is unchanged.
func (b *Builder) InsertNonResidentValue(rec *Record, typ types.AttrType, name string, flags uint16, size, hint int64) (runlist.Runlist, error) {
	rl, err := b.AllocateRunlist(size, hint)
	if err != nil {
		return nil, errors.Wrapf(err, "record %d: allocating %d bytes for %s", rec.RecordNumber(), size, typ)
	}
	sizes := Sizes{
		Allocated:   rl.AllocatedClusters() * int64(b.clusterSize),
		Data:        size,
		Initialized: size,
	}
	if _, err := rec.InsertNonResident(typ, name, flags, rl, sizes); err != nil {
		if rerr := b.Release(rl); rerr != nil {
			return nil, rerr
		}
		return nil, err
	}
	return rl, nil
}

// LargeIndex is the out-of-record part of an upgraded index: the INDX
// blocks, already fixup protected, and the clusters they go to.
type LargeIndex struct {
	Runlist runlist.Runlist
	Data    []byte
	Blocks  int
}

// BuildIndex builds an inline index and upgrades it to a large index when
// the entries do not fit in the record. The returned LargeIndex is nil when
// the index stayed inline.
func (b *Builder) BuildIndex(rec *Record, spec IndexSpec, entries []IndexEntry, hint int64) (*LargeIndex, error) {
	err := BuildIndexRoot(rec, spec, entries)
	if err == nil {
		return nil, nil
	}
	if !errors.Is(err, types.ErrNoSpace) {
		return nil, err
	}
	return b.UpgradeToLargeIndex(rec, spec, entries, hint)
}

// UpgradeToLargeIndex moves entries into INDX blocks. The root keeps one
// separator entry per block boundary plus an end entry pointing at the last
// block, so the collation order is preserved across blocks.
func (b *Builder) UpgradeToLargeIndex(rec *Record, spec IndexSpec, entries []IndexEntry, hint int64) (*LargeIndex, error) {
	sorted, err := sortEntries(spec.Collation, entries)
	if err != nil {
		return nil, err
	}

	capacity := indexBlockCapacity(spec.BlockSize) - len(endEntry(-1))
	var blocks [][]IndexEntry
	var separators []IndexEntry
	var cur []IndexEntry
	used := 0
	for _, e := range sorted {
		sz := e.size(false)
		if used+sz > capacity {
			if len(cur) == 0 {
				return nil, errors.Wrapf(types.ErrUnsupportedLayout,
					"index entry of %d bytes does not fit in a %d byte block", sz, spec.BlockSize)
			}
			blocks = append(blocks, cur)
			separators = append(separators, e)
			cur, used = nil, 0
			continue
		}
		cur = append(cur, e)
		used += sz
	}
	blocks = append(blocks, cur)

	rl, err := b.AllocateRunlist(int64(len(blocks))*int64(spec.BlockSize), hint)
	if err != nil {
		return nil, errors.Wrapf(err, "record %d: allocating index %s", rec.RecordNumber(), spec.Name)
	}

	large := &LargeIndex{Runlist: rl, Blocks: len(blocks)}
	for i, blk := range blocks {
		data, err := encodeIndexBlock(spec, spec.blockVCN(i), encodeEntries(spec.view(), blk, nil, -1), false)
		if err != nil {
			_ = b.Release(rl)
			return nil, err
		}
		large.Data = append(large.Data, data...)
	}

	subnodes := make([]int64, len(separators))
	for i := range separators {
		subnodes[i] = spec.blockVCN(i)
	}
	rootEntries := encodeEntries(spec.view(), separators, subnodes, spec.blockVCN(len(blocks)-1))
	rootValue := encodeIndexRoot(spec, rootEntries, true)

	bitmap := make([]byte, align8((len(blocks)+7)/8))
	for i := range blocks {
		bitmap[i/8] |= 1 << uint(i%8)
	}

	saved, savedState := append([]byte(nil), rec.buf...), rec.state
	restore := func(cause error) (*LargeIndex, error) {
		copy(rec.buf, saved)
		rec.state = savedState
		if rerr := b.Release(rl); rerr != nil {
			return nil, rerr
		}
		if errors.Is(cause, types.ErrNoSpace) {
			return nil, errors.Wrapf(types.ErrUnsupportedLayout,
				"record %d: index %s does not fit after upgrade: %v", rec.RecordNumber(), spec.Name, cause)
		}
		return nil, cause
	}

	if _, err := rec.Find(types.AttrIndexRoot, spec.Name, 0); err == nil {
		if err := rec.Remove(types.AttrIndexRoot, spec.Name); err != nil {
			return restore(err)
		}
	}
	if _, err := rec.InsertResident(types.AttrIndexRoot, spec.Name, 0, rootValue); err != nil {
		return restore(err)
	}
	sizes := Sizes{
		Allocated:   rl.AllocatedClusters() * int64(b.clusterSize),
		Data:        int64(len(large.Data)),
		Initialized: int64(len(large.Data)),
	}
	if _, err := rec.InsertNonResident(types.AttrIndexAllocation, spec.Name, 0, rl, sizes); err != nil {
		return restore(err)
	}
	if _, err := rec.InsertResident(types.AttrBitmap, spec.Name, 0, bitmap); err != nil {
		return restore(err)
	}
	return large, nil
}
