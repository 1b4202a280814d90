// File: internal/record/record.go

// Package record builds and edits MFT records. A Record is a typed view over
// a fixed-size buffer; offsets read from the buffer are validated when an
// attribute view is created and trusted afterwards.
package record

import (
	"encoding/binary"
	"fmt"

	"github.com/pkg/errors"

	"github.com/deploymenttheory/go-ntfsbox/internal/types"
)

// Record header offsets
const (
	offMagic          = 0x00
	offUSAOffset      = 0x04
	offUSACount       = 0x06
	offLSN            = 0x08
	offSequence       = 0x10
	offLinkCount      = 0x12
	offAttrsOffset    = 0x14
	offFlags          = 0x16
	offBytesInUse     = 0x18
	offBytesAllocated = 0x1C
	offBaseRecord     = 0x20
	offNextInstance   = 0x28
	offRecordNumber   = 0x2C
	offUSA            = 0x30

	endMarkerSize = 8
)

// State tracks where a record is in its lifecycle.
type State int

const (
	StateEmpty State = iota
	StateLaidOut
	StatePopulated
	StateInUse
	StateUnlinked
)

func (s State) String() string {
	switch s {
	case StateEmpty:
		return "EMPTY"
	case StateLaidOut:
		return "LAID_OUT"
	case StatePopulated:
		return "POPULATED"
	case StateInUse:
		return "IN_USE"
	case StateUnlinked:
		return "UNLINKED"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Record is one MFT record held in memory without fixups applied.
type Record struct {
	buf   []byte
	state State
}

func align8(n int) int {
	return (n + 7) &^ 7
}

// New lays out an empty record of size bytes: header, update sequence array
// and end marker.
func New(size uint32, number uint32, sequence uint16) (*Record, error) {
	if size < types.FixupStride || !types.IsPowerOfTwo(size) {
		return nil, errors.Wrapf(types.ErrInvalidGeometry, "record size %d", size)
	}
	r := &Record{buf: make([]byte, size), state: StateLaidOut}
	usaCount := int(size)/types.FixupStride + 1
	attrs := align8(offUSA + 2*usaCount)

	copy(r.buf[offMagic:], types.RecordMagic)
	r.put16(offUSAOffset, offUSA)
	r.put16(offUSACount, uint16(usaCount))
	r.put16(offUSA, 1)
	r.put16(offSequence, sequence)
	r.put16(offAttrsOffset, uint16(attrs))
	r.put32(offBytesAllocated, size)
	r.put32(offRecordNumber, number)
	r.writeEndMarker(attrs)
	return r, nil
}

// Parse wraps buf, which must already have its fixups removed. A buffer with
// no magic is returned as an EMPTY record.
func Parse(buf []byte) (*Record, error) {
	if len(buf) < types.FixupStride {
		return nil, errors.Wrapf(types.ErrCorruptEncoding, "record buffer too small: %d bytes", len(buf))
	}
	r := &Record{buf: buf}
	if binary.LittleEndian.Uint32(buf) == 0 {
		r.state = StateEmpty
		return r, nil
	}
	if err := r.Validate(); err != nil {
		return nil, err
	}

	attrs, _ := r.Attributes()
	switch {
	case r.InUse():
		r.state = StateInUse
	case len(attrs) == 0:
		r.state = StateLaidOut
	case r.SequenceNumber() > 1:
		// Unlinking advances the sequence number.
		r.state = StateUnlinked
	default:
		r.state = StatePopulated
	}
	return r, nil
}

// Validate checks the header invariants and walks every attribute.
func (r *Record) Validate() error {
	if string(r.buf[offMagic:offMagic+4]) != types.RecordMagic {
		return errors.Wrapf(types.ErrCorruptEncoding, "bad record magic %q", r.buf[offMagic:offMagic+4])
	}
	usaOff := int(r.u16(offUSAOffset))
	usaCount := int(r.u16(offUSACount))
	if usaOff < offUSA || usaCount < 2 || (usaCount-1)*types.FixupStride != len(r.buf) {
		return errors.Wrapf(types.ErrCorruptEncoding,
			"bad update sequence array: offset %d count %d for %d byte record", usaOff, usaCount, len(r.buf))
	}
	header := usaOff + 2*usaCount
	attrs := r.AttrsOffset()
	used := r.BytesInUse()
	allocated := r.BytesAllocated()
	if header > attrs || attrs >= used || used > allocated || allocated > len(r.buf) || attrs%8 != 0 {
		return errors.Wrapf(types.ErrCorruptEncoding,
			"record %d header: size %d attrs %d used %d allocated %d",
			r.RecordNumber(), header, attrs, used, allocated)
	}

	list, err := r.Attributes()
	if err != nil {
		return err
	}
	for i, a := range list {
		if i == 0 && r.BaseRecord() == 0 && a.Type() != types.AttrStandardInformation {
			return errors.Wrapf(types.ErrCorruptEncoding,
				"record %d: first attribute is %s", r.RecordNumber(), a.Type())
		}
		if i > 0 && attrLess(a.Type(), a.Name(), list[i-1].Type(), list[i-1].Name()) {
			return errors.Wrapf(types.ErrCorruptEncoding,
				"record %d: attribute %s at 0x%x out of order", r.RecordNumber(), a.Type(), a.Offset())
		}
	}
	return nil
}

func (r *Record) u16(off int) uint16 { return binary.LittleEndian.Uint16(r.buf[off:]) }
func (r *Record) u32(off int) uint32 { return binary.LittleEndian.Uint32(r.buf[off:]) }
func (r *Record) u64(off int) uint64 { return binary.LittleEndian.Uint64(r.buf[off:]) }

func (r *Record) put16(off int, v uint16) { binary.LittleEndian.PutUint16(r.buf[off:], v) }
func (r *Record) put32(off int, v uint32) { binary.LittleEndian.PutUint32(r.buf[off:], v) }
func (r *Record) put64(off int, v uint64) { binary.LittleEndian.PutUint64(r.buf[off:], v) }

func (r *Record) writeEndMarker(off int) {
	r.put32(off, types.RecordEndMarker)
	r.put32(off+4, 0)
	r.put32(offBytesInUse, uint32(off+endMarkerSize))
}

// Size returns the record size in bytes.
func (r *Record) Size() int { return len(r.buf) }

// Bytes returns the live buffer without fixups.
func (r *Record) Bytes() []byte { return r.buf }

// State returns the lifecycle state.
func (r *Record) State() State { return r.state }

func (r *Record) RecordNumber() uint32 { return r.u32(offRecordNumber) }
func (r *Record) SequenceNumber() uint16 { return r.u16(offSequence) }
func (r *Record) LinkCount() uint16 { return r.u16(offLinkCount) }
func (r *Record) Flags() uint16 { return r.u16(offFlags) }
func (r *Record) AttrsOffset() int { return int(r.u16(offAttrsOffset)) }
func (r *Record) BytesInUse() int { return int(r.u32(offBytesInUse)) }
func (r *Record) BytesAllocated() int { return int(r.u32(offBytesAllocated)) }
func (r *Record) BaseRecord() uint64 { return r.u64(offBaseRecord) }
func (r *Record) LSN() uint64 { return r.u64(offLSN) }
func (r *Record) InUse() bool { return r.Flags()&types.RecordFlagInUse != 0 }
func (r *Record) IsDirectory() bool { return r.Flags()&types.RecordFlagDirectory != 0 }
func (r *Record) FreeSpace() int { return r.BytesAllocated() - r.BytesInUse() }
func (r *Record) nextInstance() uint16 { return r.u16(offNextInstance) }
func (r *Record) SetLinkCount(n uint16) { r.put16(offLinkCount, n) }
func (r *Record) SetSequenceNumber(n uint16) { r.put16(offSequence, n) }

// HeaderSize returns the size of the header including the update sequence
// array.
func (r *Record) HeaderSize() int {
	return int(r.u16(offUSAOffset)) + 2*int(r.u16(offUSACount))
}

// Reference returns the file reference that points at this record.
func (r *Record) Reference() FileReference {
	return NewFileReference(uint64(r.RecordNumber()), r.SequenceNumber())
}

// SetFlag sets or clears header flags other than the in-use flag, which
// only changes through SetInUse and MarkUnlinked.
func (r *Record) SetFlag(flag uint16, on bool) {
	flag &^= types.RecordFlagInUse
	if on {
		r.put16(offFlags, r.Flags()|flag)
	} else {
		r.put16(offFlags, r.Flags()&^flag)
	}
}

// SetInUse marks a populated record as in use.
func (r *Record) SetInUse() error {
	if r.state != StatePopulated && r.state != StateUnlinked {
		return errors.Errorf("record %d: cannot mark %s record in use", r.RecordNumber(), r.state)
	}
	r.put16(offFlags, r.Flags()|types.RecordFlagInUse)
	r.state = StateInUse
	return nil
}

// MarkUnlinked clears the in-use flag of an in-use record and advances its
// sequence number, so references to the old file no longer match.
func (r *Record) MarkUnlinked() error {
	if r.state != StateInUse {
		return errors.Errorf("record %d: cannot unlink %s record", r.RecordNumber(), r.state)
	}
	r.put16(offFlags, r.Flags()&^types.RecordFlagInUse)
	seq := r.SequenceNumber() + 1
	if seq == 0 {
		seq = 1
	}
	r.SetSequenceNumber(seq)
	r.state = StateUnlinked
	return nil
}

// Marshal returns a copy of the record with fixups applied, ready to be
// written. The update sequence number advances on every call.
func (r *Record) Marshal() ([]byte, error) {
	out := make([]byte, len(r.buf))
	copy(out, r.buf)
	if err := ApplyFixups(out); err != nil {
		return nil, errors.Wrapf(err, "record %d", r.RecordNumber())
	}
	usaOff := int(r.u16(offUSAOffset))
	copy(r.buf[usaOff:usaOff+2], out[usaOff:usaOff+2])
	return out, nil
}

// Unmarshal removes the fixups from a copy of raw and parses it.
func Unmarshal(raw []byte) (*Record, error) {
	buf := make([]byte, len(raw))
	copy(buf, raw)
	if binary.LittleEndian.Uint32(buf) == 0 {
		return Parse(buf)
	}
	if err := RemoveFixups(buf); err != nil {
		return nil, err
	}
	return Parse(buf)
}
