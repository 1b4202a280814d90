// File: internal/interfaces/block_device.go
package interfaces

import (
	"io"

	"github.com/deploymenttheory/go-ntfsbox/internal/types"
)

// BlockDevice is the device collaborator every core component issues I/O
// through. Offsets are absolute byte offsets into the backing store.
type BlockDevice interface {
	io.ReaderAt
	io.WriterAt
	io.Closer

	// Size returns the current byte size of the backing store
	Size() (int64, error)

	// Sync flushes all written data to stable storage
	Sync() error
}

// ResizableDevice is a device whose backing store can change size, such as
// a regular container file.
type ResizableDevice interface {
	BlockDevice

	// Truncate sets the backing store size to size bytes
	Truncate(size int64) error
}

// ClusterAllocator hands out and reclaims physical clusters.
type ClusterAllocator interface {
	// FindFreeRange returns a free run of at least length clusters without claiming it
	FindFreeRange(length, hint int64) (types.ClusterRange, error)

	// MarkRange claims or releases every cluster in r
	MarkRange(r types.ClusterRange, allocated bool) error

	// IsAllocated reports whether cluster is claimed
	IsAllocated(cluster int64) bool

	// Allocate finds and claims a contiguous run of length clusters
	Allocate(length, hint int64) (types.ClusterRange, error)

	// AllocateFragmented claims length clusters, split over several runs if needed
	AllocateFragmented(length, hint int64) ([]types.ClusterRange, error)
}
