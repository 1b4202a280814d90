package resize

import (
	"context"
	"slices"

	"github.com/containerd/log"
	"github.com/pkg/errors"

	"github.com/deploymenttheory/go-ntfsbox/internal/bitmap"
	"github.com/deploymenttheory/go-ntfsbox/internal/record"
	"github.com/deploymenttheory/go-ntfsbox/internal/runlist"
	"github.com/deploymenttheory/go-ntfsbox/internal/types"
	"github.com/deploymenttheory/go-ntfsbox/internal/volume"
)

// relocator moves every run that lies at or past the boundary into free
// clusters below it.
type relocator struct {
	vol      *volume.Volume
	alloc    *bitmap.Allocator
	boundary int64
	queue    *Queue

	runs     int
	clusters int64
}

// relocateAll walks the records in order, so the $MFT is moved before any
// other record is rewritten through it.
func (r *relocator) relocateAll(ctx context.Context) error {
	for n := uint64(0); int64(n) < r.vol.RecordCount(); n++ {
		rec, err := r.vol.ReadRecord(n)
		if err != nil {
			return err
		}
		if !rec.InUse() {
			continue
		}
		if err := r.relocateRecord(ctx, rec); err != nil {
			return err
		}
	}
	return nil
}

type rewrite struct {
	typ  types.AttrType
	name string
	rl   runlist.Runlist
}

func (r *relocator) relocateRecord(ctx context.Context, rec *record.Record) error {
	n := uint64(rec.RecordNumber())
	attrs, err := rec.Attributes()
	if err != nil {
		return err
	}

	// Attribute views go stale once the record is edited, so every move is
	// planned before the first rewrite.
	var rewrites []rewrite
	for _, a := range attrs {
		if !a.NonResident() {
			continue
		}
		rl, err := a.Runlist()
		if err != nil {
			return errors.Wrapf(err, "record %d %s", n, a.Type())
		}
		if !r.beyond(rl) {
			continue
		}
		contiguous := n == types.RecordMFTMirr && a.Type() == types.AttrData
		moved, err := r.relocateRunlist(ctx, rl, contiguous)
		if err != nil {
			return errors.Wrapf(err, "record %d %s %q", n, a.Type(), a.Name())
		}
		rewrites = append(rewrites, rewrite{typ: a.Type(), name: a.Name(), rl: moved})
	}
	if len(rewrites) == 0 {
		return nil
	}

	for _, w := range rewrites {
		if w.typ == types.AttrData && w.name == "" {
			switch n {
			case types.RecordMFT:
				r.vol.SetMFTRunlist(w.rl)
			case types.RecordMFTMirr:
				r.vol.SetMirrorRunlist(w.rl)
			}
		}
		err := rec.UpdateRunlist(w.typ, w.name, w.rl, nil)
		if errors.Is(err, types.ErrNoSpace) {
			log.G(ctx).WithFields(log.Fields{"record": n, "attr": w.typ.String()}).Debug("runlist rewrite delayed")
			r.queue.Add(Delayed{Record: n, Type: w.typ, Name: w.name, Runlist: w.rl})
			continue
		}
		if err != nil {
			return err
		}
	}
	return r.vol.WriteRecord(rec)
}

func (r *relocator) beyond(rl runlist.Runlist) bool {
	for _, run := range rl {
		if !run.IsHole() && run.EndLCN() > r.boundary {
			return true
		}
	}
	return false
}

// relocateRunlist copies every cluster of rl at or past the boundary to
// newly allocated clusters, frees the old ones and returns the new runlist.
// A run that straddles the boundary is split there first.
func (r *relocator) relocateRunlist(ctx context.Context, rl runlist.Runlist, contiguous bool) (runlist.Runlist, error) {
	work := rl.Clone()
	for i := 0; i < len(work); i++ {
		run := work[i]
		if run.IsHole() || run.EndLCN() <= r.boundary {
			continue
		}
		if run.LCN < r.boundary {
			var err error
			if work, i, err = runlist.SplitAt(work, i, r.boundary); err != nil {
				return nil, err
			}
			run = work[i]
		}

		ranges, err := r.allocate(run.Length, contiguous)
		if err != nil {
			return nil, err
		}
		src := run.LCN
		for _, dst := range ranges {
			if err := r.vol.CopyClusters(src, dst.Start, dst.Length); err != nil {
				return nil, err
			}
			src += dst.Length
		}
		if err := r.alloc.MarkRange(types.ClusterRange{Start: run.LCN, Length: run.Length}, false); err != nil {
			return nil, err
		}
		log.G(ctx).WithFields(log.Fields{
			"vcn":      run.VCN,
			"lcn":      run.LCN,
			"clusters": run.Length,
			"to":       ranges[0].Start,
			"pieces":   len(ranges),
		}).Debug("run relocated")

		pieces := runlist.FromRanges(run.VCN, ranges)
		work = slices.Concat(work[:i], pieces, work[i+1:])
		i += len(pieces) - 1
		r.runs++
		r.clusters += run.Length
	}
	return coalesce(work), nil
}

func (r *relocator) allocate(length int64, contiguous bool) ([]types.ClusterRange, error) {
	if contiguous {
		got, err := r.alloc.Allocate(length, 0)
		if errors.Is(err, types.ErrNoSpace) {
			return nil, errors.Wrapf(types.ErrUnsupportedLayout, "no contiguous run of %d clusters for $MFTMirr", length)
		}
		if err != nil {
			return nil, err
		}
		return []types.ClusterRange{got}, nil
	}
	return r.alloc.AllocateFragmented(length, 0)
}

// coalesce merges runs that became physically contiguous.
func coalesce(rl runlist.Runlist) runlist.Runlist {
	var out runlist.Runlist
	for _, run := range rl {
		merged, err := runlist.Merge(out, runlist.Runlist{run})
		if err != nil {
			// Virtual gaps cannot occur in a list built from a valid one.
			return rl
		}
		out = merged
	}
	return out
}

// replay applies the delayed rewrites. Record table entries go first and
// the record table is reloaded before anything else is replayed.
func (r *relocator) replay(ctx context.Context) error {
	if r.queue.Len() == 0 {
		return nil
	}
	table, rest := r.queue.Split()
	for _, d := range table {
		if err := r.apply(ctx, d); err != nil {
			return err
		}
	}
	if err := r.vol.Reload(); err != nil {
		return errors.Wrap(err, "reloading the record table")
	}
	for _, d := range rest {
		if err := r.apply(ctx, d); err != nil {
			return err
		}
	}
	return nil
}

// apply writes a delayed rewrite. When the runlist still does not fit,
// the attribute is moved once more into a single free run so its mapping
// pairs shrink to one pair per sparse gap.
func (r *relocator) apply(ctx context.Context, d Delayed) error {
	rec, err := r.vol.ReadRecord(d.Record)
	if err != nil {
		return err
	}
	err = rec.UpdateRunlist(d.Type, d.Name, d.Runlist, nil)
	if errors.Is(err, types.ErrNoSpace) {
		var compacted runlist.Runlist
		compacted, err = r.compact(ctx, d)
		if err != nil {
			return err
		}
		err = rec.UpdateRunlist(d.Type, d.Name, compacted, nil)
		if errors.Is(err, types.ErrNoSpace) {
			return errors.Wrapf(types.ErrUnsupportedLayout,
				"record %d: relocated %s %q needs an attribute list: %v", d.Record, d.Type, d.Name, err)
		}
		d.Runlist = compacted
	}
	if err != nil {
		return err
	}
	if d.Type == types.AttrData && d.Name == "" {
		switch d.Record {
		case types.RecordMFT:
			r.vol.SetMFTRunlist(d.Runlist)
		case types.RecordMFTMirr:
			r.vol.SetMirrorRunlist(d.Runlist)
		}
	}
	log.G(ctx).WithFields(log.Fields{"record": d.Record, "attr": d.Type.String()}).Debug("delayed rewrite replayed")
	return r.vol.WriteRecord(rec)
}

// compact copies the allocated clusters of d into one free run below the
// boundary and frees the clusters they came from. Without such a run the
// rewrite cannot be completed.
func (r *relocator) compact(ctx context.Context, d Delayed) (runlist.Runlist, error) {
	total := d.Runlist.AllocatedClusters()
	dst, err := r.alloc.Allocate(total, 0)
	if errors.Is(err, types.ErrNoSpace) {
		return nil, errors.Wrapf(types.ErrUnsupportedLayout,
			"record %d: relocated %s %q does not fit and no run of %d clusters is free", d.Record, d.Type, d.Name, total)
	}
	if err != nil {
		return nil, err
	}

	out := make(runlist.Runlist, 0, len(d.Runlist))
	next := dst.Start
	for _, run := range d.Runlist {
		if run.IsHole() {
			out = append(out, run)
			continue
		}
		if err := r.vol.CopyClusters(run.LCN, next, run.Length); err != nil {
			return nil, err
		}
		out = append(out, runlist.Run{VCN: run.VCN, LCN: next, Length: run.Length})
		next += run.Length
	}
	for _, run := range d.Runlist {
		if run.IsHole() {
			continue
		}
		if err := r.alloc.MarkRange(types.ClusterRange{Start: run.LCN, Length: run.Length}, false); err != nil {
			return nil, err
		}
	}
	log.G(ctx).WithFields(log.Fields{
		"record":   d.Record,
		"attr":     d.Type.String(),
		"to":       dst.Start,
		"clusters": total,
	}).Debug("delayed runlist compacted")
	r.clusters += total
	return coalesce(out), nil
}
