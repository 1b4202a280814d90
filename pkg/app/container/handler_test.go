package container

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deploymenttheory/go-ntfsbox/internal/types"
	"github.com/deploymenttheory/go-ntfsbox/pkg/app"
	"github.com/deploymenttheory/go-ntfsbox/pkg/services"
)

// fakeService records the calls made by the handlers.
type fakeService struct {
	format *services.FormatOptions
	resize *services.ResizeOptions
	checks int
	err    error
	info   services.ContainerInfo
}

func (f *fakeService) Format(_ context.Context, opts services.FormatOptions) (*services.ContainerInfo, error) {
	f.format = &opts
	if f.err != nil {
		return nil, f.err
	}
	return &f.info, nil
}

func (f *fakeService) Check(_ context.Context, path string) (*services.ContainerInfo, error) {
	f.checks++
	if f.err != nil {
		return nil, f.err
	}
	info := f.info
	info.Path = path
	return &info, nil
}

func (f *fakeService) Resize(_ context.Context, opts services.ResizeOptions) (*services.ResizeInfo, error) {
	f.resize = &opts
	if f.err != nil {
		return nil, f.err
	}
	return &services.ResizeInfo{Path: opts.Path, OldVolumeSize: 10 << 20, NewVolumeSize: opts.Size, Relocated: 2}, nil
}

func testInfo() services.ContainerInfo {
	return services.ContainerInfo{
		Path:         "box.img",
		ContainerID:  uuid.MustParse("6f1c2b8e-9d4a-4c53-8e21-0a7b5c3d2e1f"),
		VolumeSize:   10 << 20,
		Geometry:     types.Geometry{SectorSize: 512, ClusterSize: 4096, RecordSize: 1024, IndexBlockSize: 4096, TotalSectors: 20479, TotalClusters: 2559},
		Serial:       0xABCD,
		UsedClusters: 100,
		FreeClusters: 2459,
		Label:        "box",
	}
}

func TestHandleFormat(t *testing.T) {
	svc := &fakeService{info: testInfo()}
	resp, err := HandleFormat(app.NewContext(), svc, &FormatRequest{
		ContainerPath: "box.img",
		Size:          "10",
		Label:         "box",
		ClusterSize:   "8k",
	})
	require.NoError(t, err)
	require.NotNil(t, svc.format)
	assert.Equal(t, int64(10<<20), svc.format.Size)
	assert.Equal(t, uint32(8192), svc.format.ClusterSize)
	assert.Zero(t, svc.format.SectorSize)
	assert.Equal(t, "format", resp.Operation)
	assert.Equal(t, "6f1c2b8e-9d4a-4c53-8e21-0a7b5c3d2e1f", resp.Container.ContainerID)
	assert.Equal(t, "000000000000ABCD", resp.Container.Serial)
	assert.Equal(t, int64(2559), resp.Container.TotalClusters)
}

func TestHandleInvalidRequest(t *testing.T) {
	svc := &fakeService{}
	_, err := HandleFormat(app.NewContext(), svc, &FormatRequest{ContainerPath: "box.img"})
	require.Error(t, err)
	assert.Nil(t, svc.format, "service called with an invalid request")
}

func TestHandleMapsErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code string
	}{
		{"geometry", errors.Wrap(types.ErrInvalidGeometry, "cluster size 3"), app.ErrCodeInvalidInput},
		{"accounting", errors.Wrap(types.ErrAccountingMismatch, "cluster 5"), app.ErrCodeInconsistent},
		{"layout", types.ErrUnsupportedLayout, app.ErrCodeUnsupported},
		{"marker", errors.Wrap(types.ErrNotFound, "no sandbox marker"), app.ErrCodeNotFound},
		{"other", errors.New("boom"), app.ErrCodeInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := HandleCheck(app.NewContext(), &fakeService{err: tt.err}, &CheckRequest{ContainerPath: "box.img"})
			var ce *app.CommonError
			require.True(t, errors.As(err, &ce), "%v", err)
			assert.Equal(t, tt.code, ce.Code)
			assert.True(t, errors.Is(err, tt.err))
		})
	}
}

func TestHandleResize(t *testing.T) {
	svc := &fakeService{info: testInfo()}
	resp, err := HandleResize(app.NewContext(), svc, &ResizeRequest{ContainerPath: "box.img", Size: "20MB", Force: true})
	require.NoError(t, err)
	require.NotNil(t, svc.resize)
	assert.True(t, svc.resize.Force)
	assert.Equal(t, int64(20<<20), svc.resize.Size)
	assert.Equal(t, 1, svc.checks)
	assert.Equal(t, int64(20<<20), resp.Resize.NewVolumeSize)
	assert.Equal(t, 2, resp.Resize.RelocatedRuns)
	assert.Equal(t, "box.img", resp.Container.Path)
}
