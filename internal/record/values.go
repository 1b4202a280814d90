package record

import (
	"encoding/binary"
	"time"
	"unicode/utf16"

	"github.com/pkg/errors"

	"github.com/deploymenttheory/go-ntfsbox/internal/types"
)

// FileReference is a 48-bit record number plus a 16-bit sequence number.
type FileReference uint64

// NewFileReference packs a record number and sequence number.
func NewFileReference(record uint64, sequence uint16) FileReference {
	return FileReference(record&types.RecordNumberMask | uint64(sequence)<<types.FileReferenceSeqShift)
}

func (f FileReference) Record() uint64   { return uint64(f) & types.RecordNumberMask }
func (f FileReference) Sequence() uint16 { return uint16(uint64(f) >> types.FileReferenceSeqShift) }

// ntEpochDelta is the number of 100ns intervals between 1601-01-01 and the
// Unix epoch.
const ntEpochDelta = 116444736000000000

// NTTime converts t to 100ns intervals since 1601-01-01 UTC. The zero time
// maps to 0.
func NTTime(t time.Time) uint64 {
	if t.IsZero() {
		return 0
	}
	return uint64(t.Unix()*1e7 + int64(t.Nanosecond())/100 + ntEpochDelta)
}

// FromNTTime is the inverse of NTTime.
func FromNTTime(v uint64) time.Time {
	if v == 0 {
		return time.Time{}
	}
	d := int64(v) - ntEpochDelta
	sec, rem := d/1e7, d%1e7
	if rem < 0 {
		sec--
		rem += 1e7
	}
	return time.Unix(sec, rem*100).UTC()
}

// EncodeName encodes s as UTF-16LE.
func EncodeName(s string) []byte {
	units := utf16.Encode([]rune(s))
	out := make([]byte, 2*len(units))
	for i, u := range units {
		binary.LittleEndian.PutUint16(out[2*i:], u)
	}
	return out
}

// DecodeName decodes UTF-16LE bytes.
func DecodeName(b []byte) string {
	units := make([]uint16, len(b)/2)
	for i := range units {
		units[i] = binary.LittleEndian.Uint16(b[2*i:])
	}
	return string(utf16.Decode(units))
}

// StandardInformationSize is the NTFS 3.x size of $STANDARD_INFORMATION.
const StandardInformationSize = 72

// StandardInformation is the $STANDARD_INFORMATION value.
type StandardInformation struct {
	Created        time.Time
	Modified       time.Time
	MFTModified    time.Time
	Accessed       time.Time
	FileAttributes uint32
	OwnerID        uint32
	SecurityID     uint32
}

// Encode serializes the value.
func (s StandardInformation) Encode() []byte {
	b := make([]byte, StandardInformationSize)
	le := binary.LittleEndian
	le.PutUint64(b[0x00:], NTTime(s.Created))
	le.PutUint64(b[0x08:], NTTime(s.Modified))
	le.PutUint64(b[0x10:], NTTime(s.MFTModified))
	le.PutUint64(b[0x18:], NTTime(s.Accessed))
	le.PutUint32(b[0x20:], s.FileAttributes)
	le.PutUint32(b[0x30:], s.OwnerID)
	le.PutUint32(b[0x34:], s.SecurityID)
	return b
}

// DecodeStandardInformation parses a $STANDARD_INFORMATION value. The short
// NTFS 1.x form is accepted.
func DecodeStandardInformation(b []byte) (*StandardInformation, error) {
	if len(b) < 0x30 {
		return nil, errors.Wrapf(types.ErrCorruptEncoding, "standard information too small: %d bytes", len(b))
	}
	le := binary.LittleEndian
	s := &StandardInformation{
		Created:        FromNTTime(le.Uint64(b[0x00:])),
		Modified:       FromNTTime(le.Uint64(b[0x08:])),
		MFTModified:    FromNTTime(le.Uint64(b[0x10:])),
		Accessed:       FromNTTime(le.Uint64(b[0x18:])),
		FileAttributes: le.Uint32(b[0x20:]),
	}
	if len(b) >= StandardInformationSize {
		s.OwnerID = le.Uint32(b[0x30:])
		s.SecurityID = le.Uint32(b[0x34:])
	}
	return s, nil
}

// fileNameHeaderSize is the fixed part of a $FILE_NAME value.
const fileNameHeaderSize = 0x42

// FileName is the $FILE_NAME value. It also serves as the key of directory
// index entries.
type FileName struct {
	Parent         FileReference
	Created        time.Time
	Modified       time.Time
	MFTModified    time.Time
	Accessed       time.Time
	AllocatedSize  int64
	DataSize       int64
	FileAttributes uint32
	Namespace      uint8
	Name           string
}

// Encode serializes the value.
func (f FileName) Encode() []byte {
	name := EncodeName(f.Name)
	b := make([]byte, fileNameHeaderSize+len(name))
	le := binary.LittleEndian
	le.PutUint64(b[0x00:], uint64(f.Parent))
	le.PutUint64(b[0x08:], NTTime(f.Created))
	le.PutUint64(b[0x10:], NTTime(f.Modified))
	le.PutUint64(b[0x18:], NTTime(f.MFTModified))
	le.PutUint64(b[0x20:], NTTime(f.Accessed))
	le.PutUint64(b[0x28:], uint64(f.AllocatedSize))
	le.PutUint64(b[0x30:], uint64(f.DataSize))
	le.PutUint32(b[0x38:], f.FileAttributes)
	b[0x40] = byte(len(name) / 2)
	b[0x41] = f.Namespace
	copy(b[fileNameHeaderSize:], name)
	return b
}

// DecodeFileName parses a $FILE_NAME value.
func DecodeFileName(b []byte) (*FileName, error) {
	if len(b) < fileNameHeaderSize {
		return nil, errors.Wrapf(types.ErrCorruptEncoding, "file name too small: %d bytes", len(b))
	}
	n := int(b[0x40])
	if fileNameHeaderSize+2*n > len(b) {
		return nil, errors.Wrapf(types.ErrCorruptEncoding, "file name length %d overruns value", n)
	}
	le := binary.LittleEndian
	return &FileName{
		Parent:         FileReference(le.Uint64(b[0x00:])),
		Created:        FromNTTime(le.Uint64(b[0x08:])),
		Modified:       FromNTTime(le.Uint64(b[0x10:])),
		MFTModified:    FromNTTime(le.Uint64(b[0x18:])),
		Accessed:       FromNTTime(le.Uint64(b[0x20:])),
		AllocatedSize:  int64(le.Uint64(b[0x28:])),
		DataSize:       int64(le.Uint64(b[0x30:])),
		FileAttributes: le.Uint32(b[0x38:]),
		Namespace:      b[0x41],
		Name:           DecodeName(b[fileNameHeaderSize : fileNameHeaderSize+2*n]),
	}, nil
}

// VolumeInformationSize is the size of the $VOLUME_INFORMATION value.
const VolumeInformationSize = 12

// VolumeInformation is the $VOLUME_INFORMATION value.
type VolumeInformation struct {
	MajorVersion uint8
	MinorVersion uint8
	Flags        uint16
}

// Encode serializes the value.
func (v VolumeInformation) Encode() []byte {
	b := make([]byte, VolumeInformationSize)
	b[0x08] = v.MajorVersion
	b[0x09] = v.MinorVersion
	binary.LittleEndian.PutUint16(b[0x0A:], v.Flags)
	return b
}

// DecodeVolumeInformation parses a $VOLUME_INFORMATION value.
func DecodeVolumeInformation(b []byte) (*VolumeInformation, error) {
	if len(b) < VolumeInformationSize {
		return nil, errors.Wrapf(types.ErrCorruptEncoding, "volume information too small: %d bytes", len(b))
	}
	return &VolumeInformation{
		MajorVersion: b[0x08],
		MinorVersion: b[0x09],
		Flags:        binary.LittleEndian.Uint16(b[0x0A:]),
	}, nil
}
