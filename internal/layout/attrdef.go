package layout

import (
	"encoding/binary"

	"github.com/deploymenttheory/go-ntfsbox/internal/record"
	"github.com/deploymenttheory/go-ntfsbox/internal/types"
)

// $AttrDef entry layout
const (
	attrDefEntrySize   = 0xA0
	attrDefNameSize    = 0x80
	attrDefOffType     = 0x80
	attrDefOffDisplay  = 0x84
	attrDefOffCollate  = 0x88
	attrDefOffFlags    = 0x8C
	attrDefOffMinSize  = 0x90
	attrDefOffMaxSize  = 0x98
	attrDefIndexable   = 0x02
	attrDefResident    = 0x40
	attrDefNonResident = 0x80
)

type attrDef struct {
	typ       types.AttrType
	collation types.CollationRule
	flags     uint32
	minSize   int64
	maxSize   int64
}

var attrDefs = []attrDef{
	{types.AttrStandardInformation, 0, attrDefResident, 0x30, 0x48},
	{types.AttrAttributeList, 0, attrDefNonResident, 0, -1},
	{types.AttrFileName, types.CollationFileName, attrDefIndexable | attrDefResident, 0x44, 0x242},
	{types.AttrObjectID, 0, attrDefResident, 0, 0x100},
	{types.AttrSecurityDescriptor, 0, attrDefNonResident, 0, -1},
	{types.AttrVolumeName, 0, attrDefResident, 2, 0x100},
	{types.AttrVolumeInformation, 0, attrDefResident, 0x0C, 0x0C},
	{types.AttrData, 0, 0, 0, -1},
	{types.AttrIndexRoot, 0, attrDefResident, 0, -1},
	{types.AttrIndexAllocation, 0, attrDefNonResident, 0, -1},
	{types.AttrBitmap, 0, attrDefNonResident, 0, -1},
	{types.AttrReparsePoint, 0, attrDefNonResident, 0, 0x4000},
	{types.AttrEAInformation, 0, attrDefResident, 8, 8},
	{types.AttrEA, 0, 0, 0, 0x10000},
	{types.AttrLoggedUtilityStream, 0, attrDefNonResident, 0, 0x10000},
}

// AttrDefTable returns the $AttrDef contents: one 160 byte entry per
// attribute type followed by an all-zero terminator entry.
func AttrDefTable() []byte {
	out := make([]byte, (len(attrDefs)+1)*attrDefEntrySize)
	le := binary.LittleEndian
	for i, d := range attrDefs {
		e := out[i*attrDefEntrySize:]
		copy(e[:attrDefNameSize], record.EncodeName(d.typ.String()))
		le.PutUint32(e[attrDefOffType:], uint32(d.typ))
		le.PutUint32(e[attrDefOffDisplay:], 0)
		le.PutUint32(e[attrDefOffCollate:], uint32(d.collation))
		le.PutUint32(e[attrDefOffFlags:], d.flags)
		le.PutUint64(e[attrDefOffMinSize:], uint64(d.minSize))
		le.PutUint64(e[attrDefOffMaxSize:], uint64(d.maxSize))
	}
	return out
}
