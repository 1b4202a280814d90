package container

import (
	"math"
	"strconv"
	"strings"

	"github.com/docker/go-units"
	"github.com/pkg/errors"

	"github.com/deploymenttheory/go-ntfsbox/pkg/app"
)

// Validate validates a format request
func (r *FormatRequest) Validate() error {
	if r.ContainerPath == "" {
		return app.NewError(app.ErrCodeInvalidInput, "container path is required", nil)
	}
	if r.Size == "" {
		return app.NewError(app.ErrCodeInvalidInput, "size is required", nil)
	}
	if _, err := ParseSize(r.Size); err != nil {
		return app.NewError(app.ErrCodeInvalidInput, "invalid size", err)
	}
	for name, v := range map[string]string{
		"cluster-size":     r.ClusterSize,
		"sector-size":      r.SectorSize,
		"record-size":      r.RecordSize,
		"index-block-size": r.IndexBlockSize,
	} {
		if _, err := parseBlockSize(v); err != nil {
			return app.NewError(app.ErrCodeInvalidInput, "invalid "+name, err)
		}
	}
	if len(r.Label) > 128 {
		return app.NewError(app.ErrCodeInvalidInput, "label is longer than 128 characters", nil)
	}
	return nil
}

// Validate validates a check request
func (r *CheckRequest) Validate() error {
	if r.ContainerPath == "" {
		return app.NewError(app.ErrCodeInvalidInput, "container path is required", nil)
	}
	return nil
}

// Validate validates a resize request
func (r *ResizeRequest) Validate() error {
	if r.ContainerPath == "" {
		return app.NewError(app.ErrCodeInvalidInput, "container path is required", nil)
	}
	if r.Size == "" {
		return app.NewError(app.ErrCodeInvalidInput, "size is required", nil)
	}
	if _, err := ParseSize(r.Size); err != nil {
		return app.NewError(app.ErrCodeInvalidInput, "invalid size", err)
	}
	return nil
}

// ParseSize converts a size argument to bytes. A plain number counts
// mebibytes; anything else goes through units.RAMInBytes, so "512k",
// "10MB" and "2GiB" are all binary sizes.
func ParseSize(size string) (int64, error) {
	size = strings.TrimSpace(size)
	if size == "" {
		return 0, errors.New("empty size")
	}
	if n, err := strconv.ParseInt(size, 10, 64); err == nil {
		if n <= 0 {
			return 0, errors.Errorf("size must be positive, got %d", n)
		}
		if n > math.MaxInt64/units.MiB {
			return 0, errors.Errorf("size of %d MiB is too large", n)
		}
		return n * units.MiB, nil
	}
	n, err := units.RAMInBytes(size)
	if err != nil {
		return 0, err
	}
	if n <= 0 {
		return 0, errors.Errorf("size must be positive, got %s", size)
	}
	return n, nil
}

// parseBlockSize parses an optional geometry field. Empty means default.
func parseBlockSize(v string) (uint32, error) {
	if v == "" {
		return 0, nil
	}
	n, err := units.RAMInBytes(v)
	if err != nil {
		return 0, err
	}
	if n <= 0 || n > 1<<30 {
		return 0, errors.Errorf("size %s out of range", v)
	}
	return uint32(n), nil
}
