package record

import (
	"encoding/binary"

	"github.com/pkg/errors"

	"github.com/deploymenttheory/go-ntfsbox/internal/runlist"
	"github.com/deploymenttheory/go-ntfsbox/internal/types"
)

// Attribute header offsets, relative to the start of the attribute
const (
	attrOffType        = 0x00
	attrOffLength      = 0x04
	attrOffNonResident = 0x08
	attrOffNameLength  = 0x09
	attrOffNameOffset  = 0x0A
	attrOffFlags       = 0x0C
	attrOffInstance    = 0x0E

	// resident
	attrOffValueLength   = 0x10
	attrOffValueOffset   = 0x14
	attrOffResidentFlags = 0x16
	residentHeaderSize   = 0x18

	// non-resident
	attrOffLowestVCN       = 0x10
	attrOffHighestVCN      = 0x18
	attrOffMappingPairs    = 0x20
	attrOffCompUnit        = 0x22
	attrOffAllocatedSize   = 0x28
	attrOffDataSize        = 0x30
	attrOffInitializedSize = 0x38
	nonResidentHeaderSize  = 0x40
)

// Sizes are the byte sizes stored in a non-resident attribute header.
type Sizes struct {
	Allocated   int64
	Data        int64
	Initialized int64
}

// Attribute is a validated view of one attribute inside a record. It is
// invalidated by any edit of the record.
type Attribute struct {
	rec    *Record
	off    int
	length int
}

// attributeAt validates the attribute header at off. It returns nil at the
// end marker.
func (r *Record) attributeAt(off int) (*Attribute, error) {
	used := r.BytesInUse()
	if off+4 > used {
		return nil, errors.Wrapf(types.ErrCorruptEncoding,
			"record %d: attribute at 0x%x runs past bytes in use", r.RecordNumber(), off)
	}
	if types.AttrType(r.u32(off)) == types.AttrEnd {
		return nil, nil
	}
	if off+residentHeaderSize > used {
		return nil, errors.Wrapf(types.ErrCorruptEncoding,
			"record %d: truncated attribute header at 0x%x", r.RecordNumber(), off)
	}

	length := int(r.u32(off + attrOffLength))
	if length < residentHeaderSize || length%8 != 0 || off+length+4 > used {
		return nil, errors.Wrapf(types.ErrCorruptEncoding,
			"record %d: attribute at 0x%x has bad length %d", r.RecordNumber(), off, length)
	}

	nameLen := int(r.buf[off+attrOffNameLength])
	nameOff := int(r.u16(off + attrOffNameOffset))
	if nameLen > 0 && nameOff+2*nameLen > length {
		return nil, errors.Wrapf(types.ErrCorruptEncoding,
			"record %d: attribute at 0x%x name overruns attribute", r.RecordNumber(), off)
	}

	if r.buf[off+attrOffNonResident] != 0 {
		mpOff := int(r.u16(off + attrOffMappingPairs))
		if length < nonResidentHeaderSize || mpOff < nonResidentHeaderSize || mpOff >= length {
			return nil, errors.Wrapf(types.ErrCorruptEncoding,
				"record %d: non-resident attribute at 0x%x has mapping pairs at 0x%x", r.RecordNumber(), off, mpOff)
		}
	} else {
		valueLen := int(r.u32(off + attrOffValueLength))
		valueOff := int(r.u16(off + attrOffValueOffset))
		if valueOff+valueLen > length || (valueLen > 0 && valueOff < residentHeaderSize) {
			return nil, errors.Wrapf(types.ErrCorruptEncoding,
				"record %d: resident value at 0x%x overruns attribute", r.RecordNumber(), off)
		}
	}
	return &Attribute{rec: r, off: off, length: length}, nil
}

// Attributes returns every attribute in on-disk order.
func (r *Record) Attributes() ([]*Attribute, error) {
	var out []*Attribute
	off := r.AttrsOffset()
	for {
		a, err := r.attributeAt(off)
		if err != nil {
			return nil, err
		}
		if a == nil {
			return out, nil
		}
		out = append(out, a)
		off += a.length
	}
}

// Find returns the first attribute of type typ named name at or after
// offset cursor. A cursor of 0 starts at the first attribute.
func (r *Record) Find(typ types.AttrType, name string, cursor int) (*Attribute, error) {
	return r.find(typ, &name, cursor)
}

// FindType is Find without the name filter.
func (r *Record) FindType(typ types.AttrType, cursor int) (*Attribute, error) {
	return r.find(typ, nil, cursor)
}

func (r *Record) find(typ types.AttrType, name *string, cursor int) (*Attribute, error) {
	off := r.AttrsOffset()
	if cursor > off {
		off = cursor
	}
	for {
		a, err := r.attributeAt(off)
		if err != nil {
			return nil, err
		}
		if a == nil || a.Type() > typ {
			break
		}
		if a.Type() == typ && (name == nil || a.Name() == *name) {
			return a, nil
		}
		off += a.length
	}
	label := "*"
	if name != nil {
		label = *name
	}
	return nil, errors.Wrapf(types.ErrNotFound, "record %d: attribute %s %q", r.RecordNumber(), typ, label)
}

func (a *Attribute) u16(off int) uint16 { return binary.LittleEndian.Uint16(a.rec.buf[a.off+off:]) }
func (a *Attribute) u32(off int) uint32 { return binary.LittleEndian.Uint32(a.rec.buf[a.off+off:]) }
func (a *Attribute) i64(off int) int64 { return int64(binary.LittleEndian.Uint64(a.rec.buf[a.off+off:])) }

// Offset returns the attribute's byte offset inside the record.
func (a *Attribute) Offset() int { return a.off }

// Length returns the attribute's total length.
func (a *Attribute) Length() int { return a.length }

func (a *Attribute) Type() types.AttrType { return types.AttrType(a.u32(attrOffType)) }
func (a *Attribute) NonResident() bool { return a.rec.buf[a.off+attrOffNonResident] != 0 }
func (a *Attribute) Flags() uint16 { return a.u16(attrOffFlags) }
func (a *Attribute) Instance() uint16 { return a.u16(attrOffInstance) }

// Name decodes the attribute name.
func (a *Attribute) Name() string {
	n := int(a.rec.buf[a.off+attrOffNameLength])
	if n == 0 {
		return ""
	}
	start := a.off + int(a.u16(attrOffNameOffset))
	return DecodeName(a.rec.buf[start : start+2*n])
}

// Value returns the resident value. The slice aliases the record buffer.
func (a *Attribute) Value() []byte {
	if a.NonResident() {
		return nil
	}
	start := a.off + int(a.u16(attrOffValueOffset))
	return a.rec.buf[start : start+int(a.u32(attrOffValueLength))]
}

// ResidentFlags returns the resident attribute flags.
func (a *Attribute) ResidentFlags() uint8 {
	if a.NonResident() {
		return 0
	}
	return a.rec.buf[a.off+attrOffResidentFlags]
}

func (a *Attribute) LowestVCN() int64 { return a.i64(attrOffLowestVCN) }
func (a *Attribute) HighestVCN() int64 { return a.i64(attrOffHighestVCN) }

// Sizes returns the allocated, data and initialized sizes. For resident
// attributes all three are the value length.
func (a *Attribute) Sizes() Sizes {
	if !a.NonResident() {
		n := int64(a.u32(attrOffValueLength))
		return Sizes{Allocated: n, Data: n, Initialized: n}
	}
	return Sizes{
		Allocated:   a.i64(attrOffAllocatedSize),
		Data:        a.i64(attrOffDataSize),
		Initialized: a.i64(attrOffInitializedSize),
	}
}

// MappingPairs returns the raw mapping pairs bytes, including any padding.
func (a *Attribute) MappingPairs() []byte {
	if !a.NonResident() {
		return nil
	}
	return a.rec.buf[a.off+int(a.u16(attrOffMappingPairs)) : a.off+a.length]
}

// Runlist decodes the attribute's mapping pairs.
func (a *Attribute) Runlist() (runlist.Runlist, error) {
	if !a.NonResident() {
		return nil, errors.Errorf("attribute %s is resident", a.Type())
	}
	rl, err := runlist.Decompress(a.MappingPairs(), a.LowestVCN())
	if err != nil {
		return nil, errors.Wrapf(err, "record %d attribute %s %q", a.rec.RecordNumber(), a.Type(), a.Name())
	}
	return rl, nil
}

func putName(buf []byte, off int, name []byte) {
	copy(buf[off:], name)
}

func encodeResident(typ types.AttrType, name string, flags, instance uint16, residentFlags uint8, value []byte) []byte {
	nameBytes := EncodeName(name)
	valueOff := align8(residentHeaderSize + len(nameBytes))
	length := align8(valueOff + len(value))

	buf := make([]byte, length)
	le := binary.LittleEndian
	le.PutUint32(buf[attrOffType:], uint32(typ))
	le.PutUint32(buf[attrOffLength:], uint32(length))
	buf[attrOffNameLength] = byte(len(nameBytes) / 2)
	le.PutUint16(buf[attrOffNameOffset:], residentHeaderSize)
	le.PutUint16(buf[attrOffFlags:], flags)
	le.PutUint16(buf[attrOffInstance:], instance)
	le.PutUint32(buf[attrOffValueLength:], uint32(len(value)))
	le.PutUint16(buf[attrOffValueOffset:], uint16(valueOff))
	buf[attrOffResidentFlags] = residentFlags
	putName(buf, residentHeaderSize, nameBytes)
	copy(buf[valueOff:], value)
	return buf
}

func encodeNonResident(typ types.AttrType, name string, flags, instance uint16, lowestVCN int64, rl runlist.Runlist, sizes Sizes) ([]byte, error) {
	mp, err := runlist.Compress(rl)
	if err != nil {
		return nil, err
	}
	nameBytes := EncodeName(name)
	mpOff := align8(nonResidentHeaderSize + len(nameBytes))
	length := align8(mpOff + len(mp))

	highest := lowestVCN - 1
	if len(rl) > 0 {
		highest = rl.EndVCN() - 1
	}

	buf := make([]byte, length)
	le := binary.LittleEndian
	le.PutUint32(buf[attrOffType:], uint32(typ))
	le.PutUint32(buf[attrOffLength:], uint32(length))
	buf[attrOffNonResident] = 1
	buf[attrOffNameLength] = byte(len(nameBytes) / 2)
	le.PutUint16(buf[attrOffNameOffset:], nonResidentHeaderSize)
	le.PutUint16(buf[attrOffFlags:], flags)
	le.PutUint16(buf[attrOffInstance:], instance)
	le.PutUint64(buf[attrOffLowestVCN:], uint64(lowestVCN))
	le.PutUint64(buf[attrOffHighestVCN:], uint64(highest))
	le.PutUint16(buf[attrOffMappingPairs:], uint16(mpOff))
	buf[attrOffCompUnit] = 0
	le.PutUint64(buf[attrOffAllocatedSize:], uint64(sizes.Allocated))
	le.PutUint64(buf[attrOffDataSize:], uint64(sizes.Data))
	le.PutUint64(buf[attrOffInitializedSize:], uint64(sizes.Initialized))
	putName(buf, nonResidentHeaderSize, nameBytes)
	copy(buf[mpOff:], mp)
	return buf, nil
}

// attrLess orders attributes by type, then by name.
func attrLess(t1 types.AttrType, n1 string, t2 types.AttrType, n2 string) bool {
	if t1 != t2 {
		return t1 < t2
	}
	return CompareNames(n1, n2) < 0
}
