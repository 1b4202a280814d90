package container

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/docker/go-units"
	"gopkg.in/yaml.v3"
)

// FormatOutput writes a response to w in the requested format
func FormatOutput(w io.Writer, response *Response, format string) error {
	switch format {
	case "json":
		return formatJSON(w, response)
	case "yaml":
		return formatYAML(w, response)
	case "table":
		return formatTable(w, response)
	default:
		return fmt.Errorf("unsupported output format: %s", format)
	}
}

// formatTable writes the response as aligned key/value rows
func formatTable(w io.Writer, response *Response) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)

	if r := response.Resize; r != nil {
		if r.NoOp {
			fmt.Fprintf(tw, "RESIZE\tnothing to do, volume already %s\n", units.BytesSize(float64(r.NewVolumeSize)))
		} else {
			fmt.Fprintf(tw, "RESIZE\t%s -> %s\n",
				units.BytesSize(float64(r.OldVolumeSize)), units.BytesSize(float64(r.NewVolumeSize)))
			fmt.Fprintf(tw, "CLUSTERS\t%d -> %d\n", r.OldClusters, r.NewClusters)
			fmt.Fprintf(tw, "RELOCATED\t%d runs, %d clusters\n", r.RelocatedRuns, r.RelocatedClusters)
			if r.DelayedRewrites > 0 {
				fmt.Fprintf(tw, "DELAYED\t%d rewrites\n", r.DelayedRewrites)
			}
		}
		fmt.Fprintln(tw)
	}

	if c := response.Container; c != nil {
		fmt.Fprintf(tw, "PATH\t%s\n", c.Path)
		fmt.Fprintf(tw, "CONTAINER ID\t%s\n", c.ContainerID)
		fmt.Fprintf(tw, "LABEL\t%s\n", c.Label)
		fmt.Fprintf(tw, "SERIAL\t%s\n", c.Serial)
		fmt.Fprintf(tw, "VOLUME SIZE\t%s (%d bytes)\n", units.BytesSize(float64(c.VolumeSize)), c.VolumeSize)
		fmt.Fprintf(tw, "CONTAINER SIZE\t%s\n", units.BytesSize(float64(c.ContainerSize)))
		fmt.Fprintf(tw, "GEOMETRY\tsector %d, cluster %d, record %d, index block %d\n",
			c.SectorSize, c.ClusterSize, c.RecordSize, c.IndexBlockSize)
		fmt.Fprintf(tw, "CLUSTERS\t%d used, %d free of %d (%.1f%%)\n",
			c.UsedClusters, c.FreeClusters, c.TotalClusters, c.UsedPercent())
		fmt.Fprintf(tw, "RECORDS IN USE\t%d\n", c.RecordsInUse)
		fmt.Fprintf(tw, "$MFT\tLCN %d\n", c.MFTLCN)
		fmt.Fprintf(tw, "$MFTMirr\tLCN %d\n", c.MFTMirrLCN)
		state := "clean"
		if c.Dirty {
			state = "dirty"
		}
		fmt.Fprintf(tw, "STATE\t%s\n", state)
	}
	return tw.Flush()
}

// formatJSON writes the response as indented JSON
func formatJSON(w io.Writer, response *Response) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(response)
}

// formatYAML writes the response as YAML
func formatYAML(w io.Writer, response *Response) error {
	encoder := yaml.NewEncoder(w)
	defer encoder.Close()
	encoder.SetIndent(2)
	return encoder.Encode(response)
}
