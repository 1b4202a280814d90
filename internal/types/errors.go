package types

import "github.com/pkg/errors"

// Error taxonomy shared by every layer. Lower layers wrap these sentinels with
// context using errors.Wrapf so callers can classify failures with errors.Is.
var (
	// ErrInvalidGeometry is returned when format-time parameters are rejected.
	// Nothing has been written when it is returned.
	ErrInvalidGeometry = errors.New("invalid geometry")

	// ErrNoSpace is returned when an allocation or an in-record insertion
	// cannot be satisfied.
	ErrNoSpace = errors.New("no space left")

	// ErrCorruptEncoding is returned when a mapping-pairs array, record,
	// index block or marker fails structural validation while being read.
	ErrCorruptEncoding = errors.New("corrupt encoding")

	// ErrAccountingMismatch is returned when cluster accounting finds
	// double-referenced or out-of-range clusters.
	ErrAccountingMismatch = errors.New("cluster accounting mismatch")

	// ErrUnsupportedLayout is returned for layouts that cannot be handled
	// safely, such as a fragmented $MFTMirr or attribute list overflow.
	ErrUnsupportedLayout = errors.New("unsupported layout")

	// ErrDeviceIO is returned for any underlying read, write or sync failure.
	ErrDeviceIO = errors.New("device I/O error")

	// ErrNotFound is returned when a lookup does not match anything.
	ErrNotFound = errors.New("not found")

	// ErrExists is returned when inserting something that is already present.
	ErrExists = errors.New("already exists")
)
