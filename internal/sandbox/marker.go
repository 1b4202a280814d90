// Package sandbox reads and writes the marker block that identifies a
// volume file as a sandbox container. The marker sits past the end of the
// declared volume, so NTFS readers never see it.
package sandbox

import (
	"bytes"
	"encoding/binary"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/zeebo/blake3"

	"github.com/deploymenttheory/go-ntfsbox/internal/types"
)

const (
	// MarkerSize is the encoded size of a marker.
	MarkerSize = 512
	// MarkerGap is the distance from the end of the declared volume to the
	// marker.
	MarkerGap = 1024
	// TailSize is the number of bytes a container holds past the declared
	// volume.
	TailSize = MarkerGap + MarkerSize

	// Magic identifies the marker format.
	Magic = "NBOX"
	// Version is the marker version written by Encode.
	Version uint32 = 1

	// FileTypeVolume tags a container that holds a plain NTFS volume.
	FileTypeVolume uint32 = 1

	// PayloadSize is the size of the opaque payload area.
	PayloadSize = offEndPattern - offPayload
)

const (
	patternSize = 32

	offStartPattern = 0x000
	offMagic        = 0x020
	offVersion      = 0x024
	offHeadSize     = 0x028
	offFileType     = 0x02C
	offID           = 0x030
	offVolumeSize   = 0x040
	offDigest       = 0x048
	offPayload      = 0x068
	offEndPattern   = 0x1E0
)

var (
	startPattern = repeat(0xA5, 0x5A)
	endPattern   = repeat(0x5A, 0xA5)

	// digestKey separates marker digests from any other BLAKE3 use.
	digestKey = [32]byte{
		'n', 't', 'f', 's', 'b', 'o', 'x', '.', 's', 'a', 'n', 'd', 'b', 'o', 'x', '.',
		'm', 'a', 'r', 'k', 'e', 'r', 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
	}
)

func repeat(a, b byte) []byte {
	p := make([]byte, patternSize)
	for i := range p {
		if i%2 == 0 {
			p[i] = a
		} else {
			p[i] = b
		}
	}
	return p
}

// Marker is the decoded marker block.
type Marker struct {
	Version    uint32
	HeadSize   uint32
	FileType   uint32
	ID         uuid.UUID
	VolumeSize int64
	Payload    [PayloadSize]byte
}

// New returns a marker for a volume of volumeSize bytes with a fresh
// container id.
func New(volumeSize int64) *Marker {
	return &Marker{
		Version:    Version,
		HeadSize:   MarkerSize,
		FileType:   FileTypeVolume,
		ID:         uuid.New(),
		VolumeSize: volumeSize,
	}
}

// Offset is where the marker of a volume of volumeSize bytes lives.
func Offset(volumeSize int64) int64 { return volumeSize + MarkerGap }

// ContainerSize is the backing file size for a volume of volumeSize bytes.
func ContainerSize(volumeSize int64) int64 { return volumeSize + TailSize }

// Offset is where m is written.
func (m *Marker) Offset() int64 { return Offset(m.VolumeSize) }

func digest(b []byte) []byte {
	h, err := blake3.NewKeyed(digestKey[:])
	if err != nil {
		panic(err)
	}
	h.Write(b[offMagic:offDigest])
	h.Write(b[offPayload:offEndPattern])
	return h.Sum(nil)
}

// Encode serializes m into MarkerSize bytes.
func (m *Marker) Encode() []byte {
	b := make([]byte, MarkerSize)
	le := binary.LittleEndian
	copy(b[offStartPattern:], startPattern)
	copy(b[offMagic:], Magic)
	le.PutUint32(b[offVersion:], m.Version)
	le.PutUint32(b[offHeadSize:], m.HeadSize)
	le.PutUint32(b[offFileType:], m.FileType)
	copy(b[offID:], m.ID[:])
	le.PutUint64(b[offVolumeSize:], uint64(m.VolumeSize))
	copy(b[offPayload:], m.Payload[:])
	copy(b[offEndPattern:], endPattern)
	copy(b[offDigest:], digest(b))
	return b
}

// patternsMatch reports whether b starts with both marker patterns in
// place.
func patternsMatch(b []byte) bool {
	return bytes.Equal(b[offStartPattern:offStartPattern+patternSize], startPattern) &&
		bytes.Equal(b[offEndPattern:offEndPattern+patternSize], endPattern)
}

// Decode parses and verifies a marker.
func Decode(b []byte) (*Marker, error) {
	if len(b) < MarkerSize {
		return nil, errors.Wrapf(types.ErrCorruptEncoding, "marker of %d bytes", len(b))
	}
	b = b[:MarkerSize]
	if !patternsMatch(b) {
		return nil, errors.Wrap(types.ErrCorruptEncoding, "marker patterns do not match")
	}
	if string(b[offMagic:offMagic+4]) != Magic {
		return nil, errors.Wrapf(types.ErrCorruptEncoding, "marker magic %q", b[offMagic:offMagic+4])
	}
	if !bytes.Equal(b[offDigest:offPayload], digest(b)) {
		return nil, errors.Wrap(types.ErrCorruptEncoding, "marker digest mismatch")
	}

	le := binary.LittleEndian
	m := &Marker{
		Version:    le.Uint32(b[offVersion:]),
		HeadSize:   le.Uint32(b[offHeadSize:]),
		FileType:   le.Uint32(b[offFileType:]),
		VolumeSize: int64(le.Uint64(b[offVolumeSize:])),
	}
	if m.Version == 0 || m.Version > Version {
		return nil, errors.Wrapf(types.ErrUnsupportedLayout, "marker version %d", m.Version)
	}
	copy(m.ID[:], b[offID:])
	copy(m.Payload[:], b[offPayload:offEndPattern])
	return m, nil
}
