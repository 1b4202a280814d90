package resize

import (
	"context"

	"github.com/containerd/log"
	"github.com/pkg/errors"

	"github.com/deploymenttheory/go-ntfsbox/internal/bitmap"
	"github.com/deploymenttheory/go-ntfsbox/internal/record"
	"github.com/deploymenttheory/go-ntfsbox/internal/types"
	"github.com/deploymenttheory/go-ntfsbox/internal/volume"
)

// Usage summarizes an accounting pass.
type Usage struct {
	UsedClusters int64
	RecordsInUse int64
}

// BuildAllocationBitmap derives the cluster bitmap from the records alone:
// every non-sparse run of every non-resident attribute of every in-use
// record is marked. A cluster claimed twice, or a run past the end of the
// volume, is an ErrAccountingMismatch.
func BuildAllocationBitmap(ctx context.Context, vol *volume.Volume) (*bitmap.Allocator, *Usage, error) {
	g := vol.Geometry()
	derived := bitmap.New(g.TotalClusters)
	usage := &Usage{}

	for n := uint64(0); int64(n) < vol.RecordCount(); n++ {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
		rec, err := vol.ReadRecord(n)
		if err != nil {
			return nil, nil, err
		}
		if !rec.InUse() {
			continue
		}
		usage.RecordsInUse++
		if err := markRecord(derived, rec); err != nil {
			return nil, nil, err
		}
	}
	usage.UsedClusters = derived.AllocatedCount(0, g.TotalClusters)

	log.G(ctx).WithFields(log.Fields{
		"records":  usage.RecordsInUse,
		"clusters": usage.UsedClusters,
	}).Debug("allocation bitmap derived")
	return derived, usage, nil
}

func markRecord(derived *bitmap.Allocator, rec *record.Record) error {
	attrs, err := rec.Attributes()
	if err != nil {
		return err
	}
	for _, a := range attrs {
		if !a.NonResident() {
			continue
		}
		rl, err := a.Runlist()
		if err != nil {
			return errors.Wrapf(err, "record %d %s %q", rec.RecordNumber(), a.Type(), a.Name())
		}
		for _, r := range rl.Ranges() {
			if err := derived.MarkRange(r, true); err != nil {
				return errors.Wrapf(err, "record %d %s %q", rec.RecordNumber(), a.Type(), a.Name())
			}
		}
	}
	return nil
}

// verifyBitmap compares a derived bitmap with $Bitmap.
func verifyBitmap(vol *volume.Volume, derived *bitmap.Allocator) error {
	onDisk, err := vol.ReadClusterBitmap()
	if err != nil {
		return err
	}
	diff := derived.Diff(onDisk, vol.Geometry().TotalClusters)
	if len(diff) > 0 {
		return errors.Wrapf(types.ErrAccountingMismatch,
			"%d clusters disagree with $Bitmap, first is %d", len(diff), diff[0])
	}
	return nil
}
