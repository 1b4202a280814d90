package record

import (
	"github.com/pkg/errors"

	"github.com/deploymenttheory/go-ntfsbox/internal/runlist"
	"github.com/deploymenttheory/go-ntfsbox/internal/types"
)

// InsertResident inserts a resident attribute at its sorted position and
// returns its offset. When the record lacks room ErrNoSpace is returned and
// the buffer is not modified.
func (r *Record) InsertResident(typ types.AttrType, name string, flags uint16, value []byte) (int, error) {
	var residentFlags uint8
	if typ == types.AttrFileName {
		residentFlags = types.ResidentFlagIndexed
	}
	return r.insert(typ, name, func(instance uint16) ([]byte, error) {
		return encodeResident(typ, name, flags, instance, residentFlags, value), nil
	})
}

// InsertNonResident inserts a non-resident attribute described by rl.
func (r *Record) InsertNonResident(typ types.AttrType, name string, flags uint16, rl runlist.Runlist, sizes Sizes) (int, error) {
	return r.insert(typ, name, func(instance uint16) ([]byte, error) {
		return encodeNonResident(typ, name, flags, instance, rl.StartVCN(), rl, sizes)
	})
}

func (r *Record) insert(typ types.AttrType, name string, encode func(instance uint16) ([]byte, error)) (int, error) {
	switch r.state {
	case StateEmpty:
		return 0, errors.Errorf("record %d is not laid out", r.RecordNumber())
	case StateLaidOut:
		if typ != types.AttrStandardInformation && r.BaseRecord() == 0 {
			return 0, errors.Errorf("record %d: first attribute must be %s, not %s",
				r.RecordNumber(), types.AttrStandardInformation, typ)
		}
	default:
		if typ == types.AttrStandardInformation {
			return 0, errors.Errorf("record %d: %s can only be added to a laid out record",
				r.RecordNumber(), typ)
		}
	}

	off, err := r.insertionPoint(typ, name)
	if err != nil {
		return 0, err
	}
	attr, err := encode(r.nextInstance())
	if err != nil {
		return 0, err
	}

	used := r.BytesInUse()
	if used+len(attr) > r.BytesAllocated() {
		return 0, errors.Wrapf(types.ErrNoSpace, "record %d: %s needs %d bytes, %d free",
			r.RecordNumber(), typ, len(attr), r.FreeSpace())
	}

	copy(r.buf[off+len(attr):used+len(attr)], r.buf[off:used])
	copy(r.buf[off:], attr)
	r.put32(offBytesInUse, uint32(used+len(attr)))
	r.put16(offNextInstance, r.nextInstance()+1)
	if r.state == StateLaidOut {
		r.state = StatePopulated
	}
	return off, nil
}

// insertionPoint returns the offset before which an attribute of typ and
// name belongs.
func (r *Record) insertionPoint(typ types.AttrType, name string) (int, error) {
	off := r.AttrsOffset()
	for {
		a, err := r.attributeAt(off)
		if err != nil {
			return 0, err
		}
		if a == nil {
			return off, nil
		}
		if a.Type() == typ && a.Name() == name {
			return 0, errors.Wrapf(types.ErrExists, "record %d: attribute %s %q",
				r.RecordNumber(), typ, name)
		}
		if attrLess(typ, name, a.Type(), a.Name()) {
			return off, nil
		}
		off += a.length
	}
}

// Remove deletes an attribute and compacts the record.
func (r *Record) Remove(typ types.AttrType, name string) error {
	a, err := r.Find(typ, name, 0)
	if err != nil {
		return err
	}
	used := r.BytesInUse()
	copy(r.buf[a.off:], r.buf[a.off+a.length:used])
	clear(r.buf[used-a.length : used])
	r.put32(offBytesInUse, uint32(used-a.length))

	if r.state == StatePopulated && r.BytesInUse() == r.AttrsOffset()+endMarkerSize {
		r.state = StateLaidOut
	}
	return nil
}

// replace swaps attribute a for encoded bytes, shifting everything after it.
func (r *Record) replace(a *Attribute, encoded []byte) error {
	used := r.BytesInUse()
	delta := len(encoded) - a.length
	if used+delta > r.BytesAllocated() {
		return errors.Wrapf(types.ErrNoSpace, "record %d: %s grows by %d bytes, %d free",
			r.RecordNumber(), a.Type(), delta, r.FreeSpace())
	}
	copy(r.buf[a.off+len(encoded):used+delta], r.buf[a.off+a.length:used])
	copy(r.buf[a.off:], encoded)
	if delta < 0 {
		clear(r.buf[used+delta : used])
	}
	r.put32(offBytesInUse, uint32(used+delta))
	return nil
}

// UpdateRunlist rewrites the mapping pairs of a non-resident attribute. When
// sizes is nil the stored sizes are kept. ErrNoSpace leaves the record
// unchanged.
func (r *Record) UpdateRunlist(typ types.AttrType, name string, rl runlist.Runlist, sizes *Sizes) error {
	a, err := r.Find(typ, name, 0)
	if err != nil {
		return err
	}
	if !a.NonResident() {
		return errors.Errorf("record %d: attribute %s %q is resident", r.RecordNumber(), typ, name)
	}
	s := a.Sizes()
	if sizes != nil {
		s = *sizes
	}
	lowest := a.LowestVCN()
	if len(rl) > 0 && rl.StartVCN() != lowest {
		return errors.Errorf("record %d: runlist starts at vcn %d, attribute at %d",
			r.RecordNumber(), rl.StartVCN(), lowest)
	}
	encoded, err := encodeNonResident(typ, name, a.Flags(), a.Instance(), lowest, rl, s)
	if err != nil {
		return err
	}
	return r.replace(a, encoded)
}

// SetResidentValue replaces the value of a resident attribute.
func (r *Record) SetResidentValue(typ types.AttrType, name string, value []byte) error {
	a, err := r.Find(typ, name, 0)
	if err != nil {
		return err
	}
	if a.NonResident() {
		return errors.Errorf("record %d: attribute %s %q is non-resident", r.RecordNumber(), typ, name)
	}
	encoded := encodeResident(typ, name, a.Flags(), a.Instance(), a.ResidentFlags(), value)
	return r.replace(a, encoded)
}
