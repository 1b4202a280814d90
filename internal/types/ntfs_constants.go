package types

// AttrType is an NTFS attribute type code.
type AttrType uint32

// Attribute type codes
const (
	AttrStandardInformation AttrType = 0x10
	AttrAttributeList       AttrType = 0x20
	AttrFileName            AttrType = 0x30
	AttrObjectID            AttrType = 0x40
	AttrSecurityDescriptor  AttrType = 0x50
	AttrVolumeName          AttrType = 0x60
	AttrVolumeInformation   AttrType = 0x70
	AttrData                AttrType = 0x80
	AttrIndexRoot           AttrType = 0x90
	AttrIndexAllocation     AttrType = 0xA0
	AttrBitmap              AttrType = 0xB0
	AttrReparsePoint        AttrType = 0xC0
	AttrEAInformation       AttrType = 0xD0
	AttrEA                  AttrType = 0xE0
	AttrLoggedUtilityStream AttrType = 0x100
	AttrEnd                 AttrType = 0xFFFFFFFF
)

var attrTypeNames = map[AttrType]string{
	AttrStandardInformation: "$STANDARD_INFORMATION",
	AttrAttributeList:       "$ATTRIBUTE_LIST",
	AttrFileName:            "$FILE_NAME",
	AttrObjectID:            "$OBJECT_ID",
	AttrSecurityDescriptor:  "$SECURITY_DESCRIPTOR",
	AttrVolumeName:          "$VOLUME_NAME",
	AttrVolumeInformation:   "$VOLUME_INFORMATION",
	AttrData:                "$DATA",
	AttrIndexRoot:           "$INDEX_ROOT",
	AttrIndexAllocation:     "$INDEX_ALLOCATION",
	AttrBitmap:              "$BITMAP",
	AttrReparsePoint:        "$REPARSE_POINT",
	AttrEAInformation:       "$EA_INFORMATION",
	AttrEA:                  "$EA",
	AttrLoggedUtilityStream: "$LOGGED_UTILITY_STREAM",
}

func (t AttrType) String() string {
	if name, ok := attrTypeNames[t]; ok {
		return name
	}
	return "$UNKNOWN"
}

// Attribute header flags
const (
	AttrFlagCompressed uint16 = 0x0001
	AttrFlagEncrypted  uint16 = 0x4000
	AttrFlagSparse     uint16 = 0x8000
)

// ResidentFlagIndexed marks a resident attribute that is referenced by an index.
const ResidentFlagIndexed uint8 = 0x01

// Record header flags
const (
	RecordFlagInUse     uint16 = 0x0001
	RecordFlagDirectory uint16 = 0x0002
	RecordFlagExtension uint16 = 0x0004
	RecordFlagViewIndex uint16 = 0x0008
)

const (
	RecordMagic     = "FILE"
	IndexBlockMagic = "INDX"

	RecordEndMarker uint32 = 0xFFFFFFFF

	SystemRecordCount = 16
	InitialMFTRecords = 32
	MinMirrorRecords  = 4

	RecordNumberMask      uint64 = 0x0000FFFFFFFFFFFF
	FileReferenceSeqShift        = 48
)

// Well-known system record numbers
const (
	RecordMFT     uint64 = 0
	RecordMFTMirr uint64 = 1
	RecordLogFile uint64 = 2
	RecordVolume  uint64 = 3
	RecordAttrDef uint64 = 4
	RecordRoot    uint64 = 5
	RecordBitmap  uint64 = 6
	RecordBoot    uint64 = 7
	RecordBadClus uint64 = 8
	RecordSecure  uint64 = 9
	RecordUpCase  uint64 = 10
	RecordExtend  uint64 = 11
)

// System file names, indexed by record number.
var SystemFileNames = []string{
	"$MFT", "$MFTMirr", "$LogFile", "$Volume", "$AttrDef", ".",
	"$Bitmap", "$Boot", "$BadClus", "$Secure", "$UpCase", "$Extend",
}

// Well-known attribute and index names
const (
	IndexNameI30 = "$I30"
	IndexNameSDH = "$SDH"
	IndexNameSII = "$SII"
	StreamSDS    = "$SDS"
	StreamBad    = "$Bad"
)

// CollationRule selects how index keys are ordered.
type CollationRule uint32

const (
	CollationBinary            CollationRule = 0x00
	CollationFileName          CollationRule = 0x01
	CollationUnicodeString     CollationRule = 0x02
	CollationNtofsULong        CollationRule = 0x10
	CollationNtofsSID          CollationRule = 0x11
	CollationNtofsSecurityHash CollationRule = 0x12
	CollationNtofsULongs       CollationRule = 0x13
)

// File attribute flags stored in $STANDARD_INFORMATION and $FILE_NAME.
const (
	FileAttrReadOnly       uint32 = 0x00000001
	FileAttrHidden         uint32 = 0x00000002
	FileAttrSystem         uint32 = 0x00000004
	FileAttrDirectory      uint32 = 0x00000010
	FileAttrArchive        uint32 = 0x00000020
	FileAttrNormal         uint32 = 0x00000080
	FileAttrDupFileNameIdx uint32 = 0x10000000
	FileAttrDupViewIdx     uint32 = 0x20000000
)

// File name namespaces
const (
	NamespacePOSIX       uint8 = 0
	NamespaceWin32       uint8 = 1
	NamespaceDOS         uint8 = 2
	NamespaceWin32AndDOS uint8 = 3
)

// Volume information flags
const (
	VolumeFlagDirty uint16 = 0x0001
)

// NTFS version written by the planner.
const (
	NTFSMajorVersion = 3
	NTFSMinorVersion = 1
)

// Index header flags
const (
	IndexFlagLargeIndex uint8  = 0x01
	IndexEntryNode      uint16 = 0x0001
	IndexEntryEnd       uint16 = 0x0002
)
