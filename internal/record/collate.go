package record

import (
	"bytes"
	"encoding/binary"
	"unicode"
	"unicode/utf16"

	"github.com/pkg/errors"

	"github.com/deploymenttheory/go-ntfsbox/internal/types"
)

var upcase = buildUpcase()

func buildUpcase() []uint16 {
	t := make([]uint16, 1<<16)
	for i := range t {
		r := rune(i)
		u := unicode.ToUpper(r)
		if utf16.IsSurrogate(r) || u > 0xFFFF {
			u = r
		}
		t[i] = uint16(u)
	}
	return t
}

// UpcaseTable returns the $UpCase file contents: one little-endian upper
// case mapping per UTF-16 code unit.
func UpcaseTable() []byte {
	out := make([]byte, 2*len(upcase))
	for i, u := range upcase {
		binary.LittleEndian.PutUint16(out[2*i:], u)
	}
	return out
}

func units(b []byte) []uint16 {
	out := make([]uint16, len(b)/2)
	for i := range out {
		out[i] = binary.LittleEndian.Uint16(b[2*i:])
	}
	return out
}

func compareUnits(a, b []uint16, fold bool) int {
	for i := 0; i < len(a) && i < len(b); i++ {
		x, y := a[i], b[i]
		if fold {
			x, y = upcase[x], upcase[y]
		}
		if x != y {
			if x < y {
				return -1
			}
			return 1
		}
	}
	switch {
	case len(a) < len(b):
		return -1
	case len(a) > len(b):
		return 1
	}
	return 0
}

// CompareNames orders two names ignoring case first and falls back to an
// exact comparison.
func CompareNames(a, b string) int {
	ua, ub := utf16.Encode([]rune(a)), utf16.Encode([]rune(b))
	if c := compareUnits(ua, ub, true); c != 0 {
		return c
	}
	return compareUnits(ua, ub, false)
}

// Collate compares two index keys under rule.
func Collate(rule types.CollationRule, a, b []byte) (int, error) {
	switch rule {
	case types.CollationBinary:
		return bytes.Compare(a, b), nil
	case types.CollationFileName:
		na, err := fileNameKey(a)
		if err != nil {
			return 0, err
		}
		nb, err := fileNameKey(b)
		if err != nil {
			return 0, err
		}
		if c := compareUnits(na, nb, true); c != 0 {
			return c, nil
		}
		return compareUnits(na, nb, false), nil
	case types.CollationNtofsULong:
		if len(a) < 4 || len(b) < 4 {
			return 0, errors.Wrap(types.ErrCorruptEncoding, "ULONG key shorter than 4 bytes")
		}
		return compareU32(binary.LittleEndian.Uint32(a), binary.LittleEndian.Uint32(b)), nil
	case types.CollationNtofsULongs, types.CollationNtofsSecurityHash:
		for i := 0; i+4 <= len(a) && i+4 <= len(b); i += 4 {
			if c := compareU32(binary.LittleEndian.Uint32(a[i:]), binary.LittleEndian.Uint32(b[i:])); c != 0 {
				return c, nil
			}
		}
		return compareU32(uint32(len(a)), uint32(len(b))), nil
	}
	return 0, errors.Wrapf(types.ErrUnsupportedLayout, "collation rule 0x%x", uint32(rule))
}

func compareU32(a, b uint32) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func fileNameKey(key []byte) ([]uint16, error) {
	if len(key) < fileNameHeaderSize {
		return nil, errors.Wrapf(types.ErrCorruptEncoding, "file name key of %d bytes", len(key))
	}
	n := int(key[0x40])
	if fileNameHeaderSize+2*n > len(key) {
		return nil, errors.Wrap(types.ErrCorruptEncoding, "file name key overruns its length")
	}
	return units(key[fileNameHeaderSize : fileNameHeaderSize+2*n]), nil
}
