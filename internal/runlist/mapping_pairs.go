package runlist

import (
	"github.com/pkg/errors"

	"github.com/deploymenttheory/go-ntfsbox/internal/types"
)

// Decompress decodes a mapping pairs array into a runlist whose first run
// starts at startVCN.
//
// Each run is a header byte followed by the run length and the LCN delta.
// The low nibble of the header is the byte count of the length and the high
// nibble the byte count of the delta. Both are little-endian and signed. A
// zero delta byte count marks a sparse run. The first delta is relative to
// LCN 0 and a zero header byte terminates the array.
func Decompress(mp []byte, startVCN int64) (Runlist, error) {
	var rl Runlist
	vcn := startVCN
	var lcn int64
	pos := 0

	for pos < len(mp) {
		header := mp[pos]
		if header == 0 {
			return rl, nil
		}
		lenBytes := int(header & 0x0F)
		lcnBytes := int(header >> 4)
		if lenBytes == 0 || lenBytes > 8 || lcnBytes > 8 {
			return nil, errors.Wrapf(types.ErrCorruptEncoding,
				"mapping pairs offset %d: bad header 0x%02x", pos, header)
		}
		if pos+1+lenBytes+lcnBytes > len(mp) {
			return nil, errors.Wrapf(types.ErrCorruptEncoding,
				"mapping pairs offset %d: run needs %d bytes, %d left",
				pos, 1+lenBytes+lcnBytes, len(mp)-pos)
		}

		length := readSigned(mp[pos+1 : pos+1+lenBytes])
		if length <= 0 {
			return nil, errors.Wrapf(types.ErrCorruptEncoding,
				"mapping pairs offset %d: run length %d", pos, length)
		}

		run := Run{VCN: vcn, LCN: LCNHole, Length: length}
		if lcnBytes > 0 {
			lcn += readSigned(mp[pos+1+lenBytes : pos+1+lenBytes+lcnBytes])
			if lcn < 0 {
				return nil, errors.Wrapf(types.ErrCorruptEncoding,
					"mapping pairs offset %d: negative lcn %d", pos, lcn)
			}
			run.LCN = lcn
		}
		rl = append(rl, run)
		vcn += length
		pos += 1 + lenBytes + lcnBytes
	}
	return nil, errors.Wrap(types.ErrCorruptEncoding, "mapping pairs not terminated")
}

// Compress encodes rl as a mapping pairs array, including the terminator.
func Compress(rl Runlist) ([]byte, error) {
	if err := rl.Validate(); err != nil {
		return nil, err
	}
	out := make([]byte, 0, CompressedSizeHint(rl))
	var prev int64
	for _, r := range rl {
		lenBytes := signedWidth(r.Length)
		if r.IsHole() {
			out = append(out, byte(lenBytes))
			out = appendSigned(out, r.Length, lenBytes)
			continue
		}
		delta := r.LCN - prev
		lcnBytes := signedWidth(delta)
		out = append(out, byte(lcnBytes<<4|lenBytes))
		out = appendSigned(out, r.Length, lenBytes)
		out = appendSigned(out, delta, lcnBytes)
		prev = r.LCN
	}
	return append(out, 0), nil
}

// CompressedSize returns the encoded size of rl, including the terminator.
func CompressedSize(rl Runlist) (int, error) {
	if err := rl.Validate(); err != nil {
		return 0, err
	}
	return CompressedSizeHint(rl), nil
}

// CompressedSizeHint is CompressedSize without validation.
func CompressedSizeHint(rl Runlist) int {
	size := 1
	var prev int64
	for _, r := range rl {
		size += 1 + signedWidth(r.Length)
		if !r.IsHole() {
			size += signedWidth(r.LCN - prev)
			prev = r.LCN
		}
	}
	return size
}

// signedWidth returns the smallest byte count, at least one, that holds v
// as a two's complement value.
func signedWidth(v int64) int {
	n := 1
	for n < 8 {
		limit := int64(1) << (uint(n)*8 - 1)
		if v >= -limit && v < limit {
			break
		}
		n++
	}
	return n
}

func appendSigned(out []byte, v int64, n int) []byte {
	for i := 0; i < n; i++ {
		out = append(out, byte(v>>(uint(i)*8)))
	}
	return out
}

func readSigned(b []byte) int64 {
	var v int64
	for i := len(b) - 1; i >= 0; i-- {
		v = v<<8 | int64(b[i])
	}
	if shift := uint(64 - len(b)*8); shift > 0 {
		v = v << shift >> shift
	}
	return v
}
