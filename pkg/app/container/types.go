package container

import "time"

// FormatRequest represents a container format request
type FormatRequest struct {
	ContainerPath  string
	Size           string
	Label          string
	ClusterSize    string
	SectorSize     string
	RecordSize     string
	IndexBlockSize string
}

// CheckRequest represents a container check request
type CheckRequest struct {
	ContainerPath string
}

// ResizeRequest represents a container resize request
type ResizeRequest struct {
	ContainerPath string
	Size          string
	Force         bool
}

// Response represents the outcome of a container command
type Response struct {
	Operation string            `json:"operation" yaml:"operation"`
	Container *ContainerSummary `json:"container,omitempty" yaml:"container,omitempty"`
	Resize    *ResizeSummary    `json:"resize,omitempty" yaml:"resize,omitempty"`
	Elapsed   time.Duration     `json:"elapsed" yaml:"elapsed"`
}

// ContainerSummary represents a container and its volume
type ContainerSummary struct {
	Path           string `json:"path" yaml:"path"`
	ContainerID    string `json:"container_id" yaml:"container_id"`
	ContainerSize  int64  `json:"container_size" yaml:"container_size"`
	VolumeSize     int64  `json:"volume_size" yaml:"volume_size"`
	Label          string `json:"label" yaml:"label"`
	Serial         string `json:"serial" yaml:"serial"`
	SectorSize     uint32 `json:"sector_size" yaml:"sector_size"`
	ClusterSize    uint32 `json:"cluster_size" yaml:"cluster_size"`
	RecordSize     uint32 `json:"record_size" yaml:"record_size"`
	IndexBlockSize uint32 `json:"index_block_size" yaml:"index_block_size"`
	TotalClusters  int64  `json:"total_clusters" yaml:"total_clusters"`
	UsedClusters   int64  `json:"used_clusters" yaml:"used_clusters"`
	FreeClusters   int64  `json:"free_clusters" yaml:"free_clusters"`
	RecordsInUse   int64  `json:"records_in_use" yaml:"records_in_use"`
	MFTLCN         int64  `json:"mft_lcn" yaml:"mft_lcn"`
	MFTMirrLCN     int64  `json:"mftmirr_lcn" yaml:"mftmirr_lcn"`
	Dirty          bool   `json:"dirty" yaml:"dirty"`
}

// ResizeSummary represents a finished resize
type ResizeSummary struct {
	Path              string `json:"path" yaml:"path"`
	OldVolumeSize     int64  `json:"old_volume_size" yaml:"old_volume_size"`
	NewVolumeSize     int64  `json:"new_volume_size" yaml:"new_volume_size"`
	OldClusters       int64  `json:"old_clusters" yaml:"old_clusters"`
	NewClusters       int64  `json:"new_clusters" yaml:"new_clusters"`
	RelocatedRuns     int    `json:"relocated_runs" yaml:"relocated_runs"`
	RelocatedClusters int64  `json:"relocated_clusters" yaml:"relocated_clusters"`
	DelayedRewrites   int    `json:"delayed_rewrites" yaml:"delayed_rewrites"`
	NoOp              bool   `json:"no_op" yaml:"no_op"`
}

// UsedPercent returns the share of clusters in use
func (s *ContainerSummary) UsedPercent() float64 {
	if s.TotalClusters == 0 {
		return 0
	}
	return float64(s.UsedClusters) * 100 / float64(s.TotalClusters)
}
