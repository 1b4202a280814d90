package record

import (
	"encoding/binary"

	"github.com/pkg/errors"

	"github.com/deploymenttheory/go-ntfsbox/internal/types"
)

// usaBounds reads and checks the update sequence array location shared by
// FILE records and INDX blocks.
func usaBounds(buf []byte) (int, int, error) {
	if len(buf) < types.FixupStride {
		return 0, 0, errors.Wrapf(types.ErrCorruptEncoding, "multi-sector buffer of %d bytes", len(buf))
	}
	off := int(binary.LittleEndian.Uint16(buf[0x04:]))
	count := int(binary.LittleEndian.Uint16(buf[0x06:]))
	if count < 2 || (count-1)*types.FixupStride > len(buf) || off+2*count > types.FixupStride-2 {
		return 0, 0, errors.Wrapf(types.ErrCorruptEncoding,
			"update sequence array at %d with %d entries", off, count)
	}
	return off, count, nil
}

// ApplyFixups protects buf before it is written: the last two bytes of
// every 512-byte stride are saved in the update sequence array and replaced
// by the next update sequence number.
func ApplyFixups(buf []byte) error {
	off, count, err := usaBounds(buf)
	if err != nil {
		return err
	}
	le := binary.LittleEndian
	usn := le.Uint16(buf[off:]) + 1
	if usn == 0 || usn == 0xFFFF {
		usn = 1
	}
	le.PutUint16(buf[off:], usn)
	for i := 1; i < count; i++ {
		end := i*types.FixupStride - 2
		copy(buf[off+2*i:off+2*i+2], buf[end:end+2])
		le.PutUint16(buf[end:], usn)
	}
	return nil
}

// RemoveFixups verifies and undoes ApplyFixups after a read. A stride whose
// trailing bytes do not carry the update sequence number was torn.
func RemoveFixups(buf []byte) error {
	off, count, err := usaBounds(buf)
	if err != nil {
		return err
	}
	le := binary.LittleEndian
	usn := le.Uint16(buf[off:])
	for i := 1; i < count; i++ {
		end := i*types.FixupStride - 2
		if le.Uint16(buf[end:]) != usn {
			return errors.Wrapf(types.ErrCorruptEncoding,
				"fixup mismatch in stride %d: have 0x%04x want 0x%04x", i-1, le.Uint16(buf[end:]), usn)
		}
	}
	for i := 1; i < count; i++ {
		end := i*types.FixupStride - 2
		copy(buf[end:end+2], buf[off+2*i:off+2*i+2])
	}
	return nil
}
