package container

import (
	"fmt"
	"time"

	"github.com/deploymenttheory/go-ntfsbox/pkg/app"
	"github.com/deploymenttheory/go-ntfsbox/pkg/services"
)

// HandleFormat processes a format request
func HandleFormat(ctx *app.Context, svc services.ContainerService, req *FormatRequest) (*Response, error) {
	startTime := time.Now()

	if err := req.Validate(); err != nil {
		return nil, err
	}
	size, _ := ParseSize(req.Size)
	opts := services.FormatOptions{Path: req.ContainerPath, Size: size, Label: req.Label}
	opts.ClusterSize, _ = parseBlockSize(req.ClusterSize)
	opts.SectorSize, _ = parseBlockSize(req.SectorSize)
	opts.RecordSize, _ = parseBlockSize(req.RecordSize)
	opts.IndexBlockSize, _ = parseBlockSize(req.IndexBlockSize)

	ctx.Log(fmt.Sprintf("Formatting %s with a %d byte volume", req.ContainerPath, size))
	ctx.Progress("Formatting volume...", 10)

	info, err := svc.Format(ctx, opts)
	if err != nil {
		return nil, app.FromError("format failed", err)
	}

	ctx.Progress("Complete", 100)
	return &Response{
		Operation: "format",
		Container: summarize(info),
		Elapsed:   time.Since(startTime),
	}, nil
}

// HandleCheck processes a check request
func HandleCheck(ctx *app.Context, svc services.ContainerService, req *CheckRequest) (*Response, error) {
	startTime := time.Now()

	if err := req.Validate(); err != nil {
		return nil, err
	}

	ctx.Log(fmt.Sprintf("Checking %s", req.ContainerPath))
	ctx.Progress("Checking allocation accounting...", 10)

	info, err := svc.Check(ctx, req.ContainerPath)
	if err != nil {
		return nil, app.FromError("check failed", err)
	}

	ctx.Progress("Complete", 100)
	return &Response{
		Operation: "check",
		Container: summarize(info),
		Elapsed:   time.Since(startTime),
	}, nil
}

// HandleResize processes a resize request. The container is checked
// again afterwards so the response shows the new layout.
func HandleResize(ctx *app.Context, svc services.ContainerService, req *ResizeRequest) (*Response, error) {
	startTime := time.Now()

	if err := req.Validate(); err != nil {
		return nil, err
	}
	size, _ := ParseSize(req.Size)

	ctx.Log(fmt.Sprintf("Resizing %s to %d bytes", req.ContainerPath, size))
	ctx.Progress("Resizing volume...", 10)

	res, err := svc.Resize(ctx, services.ResizeOptions{Path: req.ContainerPath, Size: size, Force: req.Force})
	if err != nil {
		return nil, app.FromError("resize failed", err)
	}

	ctx.Progress("Verifying...", 90)
	info, err := svc.Check(ctx, req.ContainerPath)
	if err != nil {
		return nil, app.FromError("check after resize failed", err)
	}

	ctx.Progress("Complete", 100)
	return &Response{
		Operation: "resize",
		Container: summarize(info),
		Resize: &ResizeSummary{
			Path:              res.Path,
			OldVolumeSize:     res.OldVolumeSize,
			NewVolumeSize:     res.NewVolumeSize,
			OldClusters:       res.OldClusters,
			NewClusters:       res.NewClusters,
			RelocatedRuns:     res.Relocated,
			RelocatedClusters: res.RelocatedClusters,
			DelayedRewrites:   res.Delayed,
			NoOp:              res.NoOp,
		},
		Elapsed: time.Since(startTime),
	}, nil
}

func summarize(info *services.ContainerInfo) *ContainerSummary {
	g := info.Geometry
	return &ContainerSummary{
		Path:           info.Path,
		ContainerID:    info.ContainerID.String(),
		ContainerSize:  info.ContainerSize,
		VolumeSize:     info.VolumeSize,
		Label:          info.Label,
		Serial:         fmt.Sprintf("%016X", info.Serial),
		SectorSize:     g.SectorSize,
		ClusterSize:    g.ClusterSize,
		RecordSize:     g.RecordSize,
		IndexBlockSize: g.IndexBlockSize,
		TotalClusters:  g.TotalClusters,
		UsedClusters:   info.UsedClusters,
		FreeClusters:   info.FreeClusters,
		RecordsInUse:   info.RecordsInUse,
		MFTLCN:         info.MFTLCN,
		MFTMirrLCN:     info.MFTMirrLCN,
		Dirty:          info.Dirty,
	}
}
