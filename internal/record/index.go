package record

import (
	"encoding/binary"
	"sort"

	"github.com/pkg/errors"

	"github.com/deploymenttheory/go-ntfsbox/internal/types"
)

// Index entry header offsets
const (
	entryOffDataOffset = 0x00
	entryOffDataLength = 0x02
	entryOffLength     = 0x08
	entryOffKeyLength  = 0x0A
	entryOffFlags      = 0x0C
	entryHeaderSize    = 0x10

	indexHeaderSize     = 0x10
	indexRootHeaderSize = 0x10
	indexBlockHeaderOff = 0x18
	indexBlockUSAOffset = 0x28
)

// IndexSpec describes one index of a record.
type IndexSpec struct {
	Name        string
	IndexedType types.AttrType // 0 for view indexes
	Collation   types.CollationRule
	BlockSize   uint32
	ClusterSize uint32
}

func (s IndexSpec) view() bool { return s.IndexedType == 0 }

// vcnSize is the unit index block VCNs are counted in.
func (s IndexSpec) vcnSize() uint32 {
	if s.BlockSize >= s.ClusterSize {
		return s.ClusterSize
	}
	return types.FixupStride
}

func (s IndexSpec) blockVCN(i int) int64 {
	return int64(i) * int64(s.BlockSize) / int64(s.vcnSize())
}

// IndexEntry is one key of an index. Directory indexes carry a file
// reference, view indexes carry Data.
type IndexEntry struct {
	FileReference FileReference
	Key           []byte
	Data          []byte
}

func (e IndexEntry) size(node bool) int {
	n := align8(entryHeaderSize + len(e.Key) + len(e.Data))
	if node {
		n += 8
	}
	return n
}

func (e IndexEntry) encode(view bool, subnode int64) []byte {
	node := subnode >= 0
	b := make([]byte, e.size(node))
	le := binary.LittleEndian
	if view {
		le.PutUint16(b[entryOffDataOffset:], uint16(entryHeaderSize+len(e.Key)))
		le.PutUint16(b[entryOffDataLength:], uint16(len(e.Data)))
	} else {
		le.PutUint64(b[0:], uint64(e.FileReference))
	}
	le.PutUint16(b[entryOffLength:], uint16(len(b)))
	le.PutUint16(b[entryOffKeyLength:], uint16(len(e.Key)))
	copy(b[entryHeaderSize:], e.Key)
	copy(b[entryHeaderSize+len(e.Key):], e.Data)
	if node {
		le.PutUint16(b[entryOffFlags:], types.IndexEntryNode)
		le.PutUint64(b[len(b)-8:], uint64(subnode))
	}
	return b
}

func endEntry(subnode int64) []byte {
	size := entryHeaderSize
	if subnode >= 0 {
		size += 8
	}
	b := make([]byte, size)
	le := binary.LittleEndian
	le.PutUint16(b[entryOffLength:], uint16(size))
	flags := types.IndexEntryEnd
	if subnode >= 0 {
		flags |= types.IndexEntryNode
		le.PutUint64(b[size-8:], uint64(subnode))
	}
	le.PutUint16(b[entryOffFlags:], flags)
	return b
}

// encodeEntries serializes entries followed by the end entry. subnodes is
// either nil or holds one child VCN per entry.
func encodeEntries(view bool, entries []IndexEntry, subnodes []int64, endSubnode int64) []byte {
	var out []byte
	for i, e := range entries {
		sub := int64(-1)
		if subnodes != nil {
			sub = subnodes[i]
		}
		out = append(out, e.encode(view, sub)...)
	}
	return append(out, endEntry(endSubnode)...)
}

// sortEntries returns entries ordered under rule. Equal keys are rejected.
func sortEntries(rule types.CollationRule, entries []IndexEntry) ([]IndexEntry, error) {
	sorted := make([]IndexEntry, len(entries))
	copy(sorted, entries)
	var cerr error
	sort.SliceStable(sorted, func(i, j int) bool {
		c, err := Collate(rule, sorted[i].Key, sorted[j].Key)
		if err != nil && cerr == nil {
			cerr = err
		}
		return c < 0
	})
	if cerr != nil {
		return nil, cerr
	}
	for i := 1; i < len(sorted); i++ {
		if c, _ := Collate(rule, sorted[i-1].Key, sorted[i].Key); c == 0 {
			return nil, errors.Wrap(types.ErrExists, "duplicate index key")
		}
	}
	return sorted, nil
}

func encodeIndexRoot(spec IndexSpec, entries []byte, large bool) []byte {
	b := make([]byte, indexRootHeaderSize+indexHeaderSize+len(entries))
	le := binary.LittleEndian
	le.PutUint32(b[0x00:], uint32(spec.IndexedType))
	le.PutUint32(b[0x04:], uint32(spec.Collation))
	le.PutUint32(b[0x08:], spec.BlockSize)
	if spec.BlockSize >= spec.ClusterSize {
		b[0x0C] = byte(spec.BlockSize / spec.ClusterSize)
	} else {
		b[0x0C] = byte(spec.BlockSize / types.FixupStride)
	}
	h := b[indexRootHeaderSize:]
	le.PutUint32(h[0x00:], indexHeaderSize)
	le.PutUint32(h[0x04:], uint32(indexHeaderSize+len(entries)))
	le.PutUint32(h[0x08:], uint32(indexHeaderSize+len(entries)))
	if large {
		h[0x0C] = types.IndexFlagLargeIndex
	}
	copy(b[indexRootHeaderSize+indexHeaderSize:], entries)
	return b
}

// indexBlockEntriesOffset is the offset of the first entry relative to the
// index header of an INDX block.
func indexBlockEntriesOffset(blockSize uint32) int {
	usaCount := int(blockSize)/types.FixupStride + 1
	return align8(indexBlockUSAOffset+2*usaCount) - indexBlockHeaderOff
}

func indexBlockCapacity(blockSize uint32) int {
	return int(blockSize) - indexBlockHeaderOff - indexBlockEntriesOffset(blockSize)
}

// encodeIndexBlock builds a fixup-protected INDX block.
func encodeIndexBlock(spec IndexSpec, vcn int64, entries []byte, hasChildren bool) ([]byte, error) {
	if len(entries) > indexBlockCapacity(spec.BlockSize) {
		return nil, errors.Wrapf(types.ErrNoSpace, "index block needs %d bytes, holds %d",
			len(entries), indexBlockCapacity(spec.BlockSize))
	}
	b := make([]byte, spec.BlockSize)
	le := binary.LittleEndian
	copy(b[0:], types.IndexBlockMagic)
	le.PutUint16(b[0x04:], indexBlockUSAOffset)
	le.PutUint16(b[0x06:], uint16(int(spec.BlockSize)/types.FixupStride+1))
	le.PutUint64(b[0x10:], uint64(vcn))

	entriesOff := indexBlockEntriesOffset(spec.BlockSize)
	h := b[indexBlockHeaderOff:]
	le.PutUint32(h[0x00:], uint32(entriesOff))
	le.PutUint32(h[0x04:], uint32(entriesOff+len(entries)))
	le.PutUint32(h[0x08:], spec.BlockSize-indexBlockHeaderOff)
	if hasChildren {
		h[0x0C] = 1
	}
	copy(h[entriesOff:], entries)
	if err := ApplyFixups(b); err != nil {
		return nil, err
	}
	return b, nil
}

// BuildIndexRoot inserts a resident $INDEX_ROOT holding entries sorted under
// the spec's collation rule. ErrNoSpace means the index does not fit in the
// record and must be upgraded.
func BuildIndexRoot(rec *Record, spec IndexSpec, entries []IndexEntry) error {
	sorted, err := sortEntries(spec.Collation, entries)
	if err != nil {
		return err
	}
	value := encodeIndexRoot(spec, encodeEntries(spec.view(), sorted, nil, -1), false)
	_, err = rec.InsertResident(types.AttrIndexRoot, spec.Name, 0, value)
	return err
}

// IndexNode is a decoded index root or index block.
type IndexNode struct {
	Entries    []IndexEntry
	Subnodes   []int64 // -1 for entries without a child
	EndSubnode int64
	Large      bool
}

// IndexRoot is a decoded $INDEX_ROOT value.
type IndexRoot struct {
	IndexedType types.AttrType
	Collation   types.CollationRule
	BlockSize   uint32
	Node        IndexNode
}

// DecodeIndexRoot parses an $INDEX_ROOT value.
func DecodeIndexRoot(value []byte) (*IndexRoot, error) {
	if len(value) < indexRootHeaderSize+indexHeaderSize {
		return nil, errors.Wrapf(types.ErrCorruptEncoding, "index root of %d bytes", len(value))
	}
	le := binary.LittleEndian
	root := &IndexRoot{
		IndexedType: types.AttrType(le.Uint32(value[0x00:])),
		Collation:   types.CollationRule(le.Uint32(value[0x04:])),
		BlockSize:   le.Uint32(value[0x08:]),
	}
	node, err := decodeNode(value[indexRootHeaderSize:], root.IndexedType == 0)
	if err != nil {
		return nil, err
	}
	root.Node = *node
	return root, nil
}

// DecodeIndexBlock removes the fixups from a copy of block and parses it.
func DecodeIndexBlock(block []byte, view bool) (int64, *IndexNode, error) {
	b := make([]byte, len(block))
	copy(b, block)
	if string(b[0:4]) != types.IndexBlockMagic {
		return 0, nil, errors.Wrapf(types.ErrCorruptEncoding, "bad index block magic %q", b[0:4])
	}
	if err := RemoveFixups(b); err != nil {
		return 0, nil, err
	}
	vcn := int64(binary.LittleEndian.Uint64(b[0x10:]))
	node, err := decodeNode(b[indexBlockHeaderOff:], view)
	if err != nil {
		return 0, nil, err
	}
	return vcn, node, nil
}

// decodeNode parses an index header and the entries it covers.
func decodeNode(h []byte, view bool) (*IndexNode, error) {
	le := binary.LittleEndian
	entriesOff := int(le.Uint32(h[0x00:]))
	length := int(le.Uint32(h[0x04:]))
	if entriesOff < indexHeaderSize || length > len(h) || entriesOff > length {
		return nil, errors.Wrapf(types.ErrCorruptEncoding,
			"index header: entries at %d, length %d, buffer %d", entriesOff, length, len(h))
	}
	node := &IndexNode{EndSubnode: -1, Large: h[0x0C]&types.IndexFlagLargeIndex != 0}

	off := entriesOff
	for {
		if off+entryHeaderSize > length {
			return nil, errors.Wrap(types.ErrCorruptEncoding, "index entries not terminated")
		}
		size := int(le.Uint16(h[off+entryOffLength:]))
		keyLen := int(le.Uint16(h[off+entryOffKeyLength:]))
		flags := le.Uint16(h[off+entryOffFlags:])
		if size < entryHeaderSize || off+size > length || entryHeaderSize+keyLen > size {
			return nil, errors.Wrapf(types.ErrCorruptEncoding, "index entry at %d has length %d", off, size)
		}
		sub := int64(-1)
		if flags&types.IndexEntryNode != 0 {
			if size < entryHeaderSize+8 {
				return nil, errors.Wrapf(types.ErrCorruptEncoding, "index node entry at %d too short", off)
			}
			sub = int64(le.Uint64(h[off+size-8:]))
		}
		if flags&types.IndexEntryEnd != 0 {
			node.EndSubnode = sub
			return node, nil
		}

		e := IndexEntry{Key: append([]byte(nil), h[off+entryHeaderSize:off+entryHeaderSize+keyLen]...)}
		if view {
			dataOff := int(le.Uint16(h[off+entryOffDataOffset:]))
			dataLen := int(le.Uint16(h[off+entryOffDataLength:]))
			if dataOff+dataLen > size {
				return nil, errors.Wrapf(types.ErrCorruptEncoding, "index entry at %d data overruns entry", off)
			}
			e.Data = append([]byte(nil), h[off+dataOff:off+dataOff+dataLen]...)
		} else {
			e.FileReference = FileReference(le.Uint64(h[off:]))
		}
		node.Entries = append(node.Entries, e)
		node.Subnodes = append(node.Subnodes, sub)
		off += size
	}
}
