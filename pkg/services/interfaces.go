package services

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/deploymenttheory/go-ntfsbox/internal/types"
)

// ErrServiceNotInitialized is returned by a factory that was shut down.
var ErrServiceNotInitialized = errors.New("services not initialized")

// FormatOptions describe a new container. Zero geometry fields fall back
// to the configured defaults.
type FormatOptions struct {
	Path           string
	Size           int64
	Label          string
	SectorSize     uint32
	ClusterSize    uint32
	RecordSize     uint32
	IndexBlockSize uint32
}

// ResizeOptions describe a resize of an existing container.
type ResizeOptions struct {
	Path  string
	Size  int64
	Force bool
}

// ContainerInfo describes a container and the volume inside it.
type ContainerInfo struct {
	Path          string
	ContainerID   uuid.UUID
	ContainerSize int64
	VolumeSize    int64
	Geometry      types.Geometry
	Serial        uint64
	MFTLCN        int64
	MFTMirrLCN    int64
	Label         string
	UsedClusters  int64
	FreeClusters  int64
	RecordsInUse  int64
	Dirty         bool
}

// ResizeInfo describes a finished resize.
type ResizeInfo struct {
	Path              string
	OldVolumeSize     int64
	NewVolumeSize     int64
	OldClusters       int64
	NewClusters       int64
	Relocated         int
	RelocatedClusters int64
	Delayed           int
	NoOp              bool
}

// ContainerService builds and maintains sandbox containers.
type ContainerService interface {
	// Format creates or replaces the container at opts.Path
	Format(ctx context.Context, opts FormatOptions) (*ContainerInfo, error)

	// Check verifies the marker and the allocation accounting of a container
	Check(ctx context.Context, path string) (*ContainerInfo, error)

	// Resize grows or shrinks the volume and moves the marker to the new tail
	Resize(ctx context.Context, opts ResizeOptions) (*ResizeInfo, error)
}
