// Package runlist maps an attribute's virtual clusters to physical clusters
// and converts between the in-memory form and the on-disk mapping pairs.
package runlist

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/deploymenttheory/go-ntfsbox/internal/types"
)

// LCNHole is the physical cluster of a sparse run. It is the only marker for
// unmapped data.
const LCNHole int64 = -1

// Run maps Length virtual clusters starting at VCN to physical clusters
// starting at LCN.
type Run struct {
	VCN    int64
	LCN    int64
	Length int64
}

// IsHole reports whether the run is sparse.
func (r Run) IsHole() bool {
	return r.LCN == LCNHole
}

// EndVCN returns the first virtual cluster past the run.
func (r Run) EndVCN() int64 {
	return r.VCN + r.Length
}

// EndLCN returns the first physical cluster past the run.
func (r Run) EndLCN() int64 {
	return r.LCN + r.Length
}

func (r Run) String() string {
	if r.IsHole() {
		return fmt.Sprintf("{vcn=%d hole len=%d}", r.VCN, r.Length)
	}
	return fmt.Sprintf("{vcn=%d lcn=%d len=%d}", r.VCN, r.LCN, r.Length)
}

// Runlist is an ordered list of runs with contiguous virtual clusters. An
// empty list describes an attribute with no clusters.
type Runlist []Run

// Clone returns an independent copy.
func (rl Runlist) Clone() Runlist {
	if rl == nil {
		return nil
	}
	out := make(Runlist, len(rl))
	copy(out, rl)
	return out
}

// StartVCN returns the first virtual cluster, or 0 for an empty list.
func (rl Runlist) StartVCN() int64 {
	if len(rl) == 0 {
		return 0
	}
	return rl[0].VCN
}

// EndVCN returns the first virtual cluster past the list.
func (rl Runlist) EndVCN() int64 {
	if len(rl) == 0 {
		return 0
	}
	return rl[len(rl)-1].EndVCN()
}

// AllocatedClusters returns the number of clusters backed by storage.
func (rl Runlist) AllocatedClusters() int64 {
	var n int64
	for _, r := range rl {
		if !r.IsHole() {
			n += r.Length
		}
	}
	return n
}

// Ranges returns the physical ranges of the non-sparse runs.
func (rl Runlist) Ranges() []types.ClusterRange {
	var out []types.ClusterRange
	for _, r := range rl {
		if !r.IsHole() {
			out = append(out, types.ClusterRange{Start: r.LCN, Length: r.Length})
		}
	}
	return out
}

// Validate checks that runs are positive, contiguous and physically sane.
func (rl Runlist) Validate() error {
	for i, r := range rl {
		if r.Length <= 0 {
			return errors.Wrapf(types.ErrCorruptEncoding, "run %d: length %d", i, r.Length)
		}
		if r.LCN < 0 && r.LCN != LCNHole {
			return errors.Wrapf(types.ErrCorruptEncoding, "run %d: lcn %d", i, r.LCN)
		}
		if i > 0 && rl[i-1].EndVCN() != r.VCN {
			return errors.Wrapf(types.ErrCorruptEncoding,
				"run %d: vcn %d does not follow %d", i, r.VCN, rl[i-1].EndVCN())
		}
	}
	return nil
}

// LCNAt returns the physical cluster backing vcn and the number of clusters
// left in its run. A sparse vcn yields LCNHole.
func (rl Runlist) LCNAt(vcn int64) (int64, int64, error) {
	for _, r := range rl {
		if vcn >= r.VCN && vcn < r.EndVCN() {
			left := r.EndVCN() - vcn
			if r.IsHole() {
				return LCNHole, left, nil
			}
			return r.LCN + (vcn - r.VCN), left, nil
		}
	}
	return 0, 0, errors.Wrapf(types.ErrNotFound, "vcn %d not mapped", vcn)
}

// FromRanges builds a runlist starting at startVCN that maps the ranges in
// order, merging physically contiguous neighbours.
func FromRanges(startVCN int64, ranges []types.ClusterRange) Runlist {
	var rl Runlist
	vcn := startVCN
	for _, r := range ranges {
		if r.Length <= 0 {
			continue
		}
		if n := len(rl); n > 0 && rl[n-1].EndLCN() == r.Start {
			rl[n-1].Length += r.Length
		} else {
			rl = append(rl, Run{VCN: vcn, LCN: r.Start, Length: r.Length})
		}
		vcn += r.Length
	}
	return rl
}

func contiguous(a, b Run) bool {
	if a.EndVCN() != b.VCN {
		return false
	}
	if a.IsHole() || b.IsHole() {
		return a.IsHole() && b.IsHole()
	}
	return a.EndLCN() == b.LCN
}

// Merge appends b to a. The lists must be virtually contiguous; a physically
// contiguous seam is coalesced into one run.
func Merge(a, b Runlist) (Runlist, error) {
	if len(a) == 0 {
		return b.Clone(), nil
	}
	if len(b) == 0 {
		return a.Clone(), nil
	}
	if a.EndVCN() != b[0].VCN {
		return nil, errors.Errorf("cannot merge: first list ends at vcn %d, second starts at %d",
			a.EndVCN(), b[0].VCN)
	}
	out := make(Runlist, 0, len(a)+len(b))
	out = append(out, a...)
	for _, r := range b {
		last := &out[len(out)-1]
		if contiguous(*last, r) {
			last.Length += r.Length
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

// SplitAt divides run idx at physical cluster lcn, which must fall strictly
// inside the run. It returns the new list and the index of the second half.
func SplitAt(rl Runlist, idx int, lcn int64) (Runlist, int, error) {
	if idx < 0 || idx >= len(rl) {
		return nil, 0, errors.Errorf("run index %d out of range", idx)
	}
	r := rl[idx]
	if r.IsHole() {
		return nil, 0, errors.Errorf("cannot split sparse run %d at a physical cluster", idx)
	}
	if lcn <= r.LCN || lcn >= r.EndLCN() {
		return nil, 0, errors.Errorf("lcn %d not inside run %s", lcn, r)
	}
	head := lcn - r.LCN
	out := make(Runlist, 0, len(rl)+1)
	out = append(out, rl[:idx]...)
	out = append(out,
		Run{VCN: r.VCN, LCN: r.LCN, Length: head},
		Run{VCN: r.VCN + head, LCN: lcn, Length: r.Length - head},
	)
	out = append(out, rl[idx+1:]...)
	return out, idx + 1, nil
}

// Truncate keeps the first n runs.
func Truncate(rl Runlist, n int) (Runlist, error) {
	if n < 0 || n > len(rl) {
		return nil, errors.Errorf("cannot truncate %d runs to %d", len(rl), n)
	}
	return rl[:n].Clone(), nil
}

// TruncateVCN keeps the clusters below vcn and returns the physical ranges
// that were cut off.
func TruncateVCN(rl Runlist, vcn int64) (Runlist, []types.ClusterRange) {
	var kept Runlist
	var released []types.ClusterRange
	for _, r := range rl {
		switch {
		case r.EndVCN() <= vcn:
			kept = append(kept, r)
		case r.VCN >= vcn:
			if !r.IsHole() {
				released = append(released, types.ClusterRange{Start: r.LCN, Length: r.Length})
			}
		default:
			head := vcn - r.VCN
			kept = append(kept, Run{VCN: r.VCN, LCN: r.LCN, Length: head})
			if !r.IsHole() {
				released = append(released, types.ClusterRange{Start: r.LCN + head, Length: r.Length - head})
			}
		}
	}
	return kept, released
}
