// File: internal/bitmap/allocator.go

// Package bitmap implements the cluster allocation map. One bit represents
// one cluster and a set bit means the cluster is allocated.
package bitmap

import (
	"github.com/pkg/errors"

	"github.com/deploymenttheory/go-ntfsbox/internal/types"
)

// Allocator owns an in-memory cluster bitmap and hands out cluster ranges
// from it. Persisting the bitmap is the caller's job.
type Allocator struct {
	bits     []byte
	clusters int64
	limit    int64
	cursor   int64

	// ceiling is an upper bound on the longest free run below limit. It is
	// lowered after a full scan proves nothing longer exists and reset when
	// clusters are released.
	ceiling int64
}

// Size returns the on-disk byte size of a bitmap covering clusters. The size
// is always a multiple of 8.
func Size(clusters int64) int64 {
	n := (clusters + 7) / 8
	return (n + 7) &^ 7
}

// New creates an empty bitmap for clusters. Padding bits past the last
// cluster are marked allocated so they can never be handed out.
func New(clusters int64) *Allocator {
	a := &Allocator{
		bits:     make([]byte, Size(clusters)),
		clusters: clusters,
		limit:    clusters,
		ceiling:  clusters,
	}
	a.reserveTail()
	return a
}

// Load builds an allocator from an existing on-disk bitmap.
func Load(data []byte, clusters int64) (*Allocator, error) {
	if int64(len(data)) < (clusters+7)/8 {
		return nil, errors.Wrapf(types.ErrCorruptEncoding,
			"bitmap too small: %d bytes for %d clusters", len(data), clusters)
	}
	a := &Allocator{
		bits:     make([]byte, Size(clusters)),
		clusters: clusters,
		limit:    clusters,
		ceiling:  clusters,
	}
	copy(a.bits, data)
	return a, nil
}

func (a *Allocator) reserveTail() {
	for c := a.clusters; c < int64(len(a.bits))*8; c++ {
		a.bits[c/8] |= 1 << uint(c%8)
	}
}

// Resized returns a copy covering clusters. Bits of clusters both bitmaps
// cover are kept, clusters added by a grow start free and the new tail is
// reserved. The allocation limit is the new cluster count.
func (a *Allocator) Resized(clusters int64) *Allocator {
	b := New(clusters)
	for c := int64(0); c < min(a.clusters, clusters); c++ {
		b.set(c, a.IsAllocated(c))
	}
	return b
}

// Clusters returns the number of clusters the bitmap covers.
func (a *Allocator) Clusters() int64 {
	return a.clusters
}

// SetLimit restricts future allocations to clusters below n. Marking and
// freeing are not affected.
func (a *Allocator) SetLimit(n int64) {
	if n > a.clusters {
		n = a.clusters
	}
	if n < 0 {
		n = 0
	}
	a.limit = n
	a.ceiling = n
	if a.cursor >= n {
		a.cursor = 0
	}
}

// Limit returns the current allocation limit.
func (a *Allocator) Limit() int64 {
	return a.limit
}

// IsAllocated reports whether cluster c is allocated. Clusters outside the
// bitmap are reported as allocated.
func (a *Allocator) IsAllocated(c int64) bool {
	if c < 0 || c >= a.clusters {
		return true
	}
	return a.bits[c/8]&(1<<uint(c%8)) != 0
}

func (a *Allocator) set(c int64, v bool) {
	if v {
		a.bits[c/8] |= 1 << uint(c%8)
	} else {
		a.bits[c/8] &^= 1 << uint(c%8)
	}
}

// MarkRange marks every cluster in r as allocated or free. Claiming a cluster
// that is already claimed, or releasing one that is already free, means two
// owners disagree about the same cluster; the bitmap is left untouched and an
// accounting error is returned.
func (a *Allocator) MarkRange(r types.ClusterRange, allocated bool) error {
	if r.Length <= 0 {
		return errors.Wrapf(types.ErrAccountingMismatch, "invalid range length %d", r.Length)
	}
	if r.Start < 0 || r.End() > a.clusters {
		return errors.Wrapf(types.ErrAccountingMismatch,
			"range [%d,%d) outside bitmap of %d clusters", r.Start, r.End(), a.clusters)
	}
	for c := r.Start; c < r.End(); c++ {
		if a.IsAllocated(c) == allocated {
			if allocated {
				return errors.Wrapf(types.ErrAccountingMismatch, "cluster %d already allocated", c)
			}
			return errors.Wrapf(types.ErrAccountingMismatch, "cluster %d already free", c)
		}
	}
	for c := r.Start; c < r.End(); c++ {
		a.set(c, allocated)
	}
	if !allocated {
		a.ceiling = a.limit
	}
	return nil
}

// FindFreeRange returns the first free run of length clusters, scanning
// forward from hint (or from the rolling cursor when hint is negative) and
// wrapping around once. The range is not claimed.
func (a *Allocator) FindFreeRange(length, hint int64) (types.ClusterRange, error) {
	if length <= 0 {
		return types.ClusterRange{}, errors.Errorf("invalid allocation length %d", length)
	}
	if length > a.ceiling {
		return types.ClusterRange{}, errors.Wrapf(types.ErrNoSpace,
			"no free run of %d clusters (longest is at most %d)", length, a.ceiling)
	}

	start := a.cursor
	if hint >= 0 && hint < a.limit {
		start = hint
	}

	r, longest, ok := a.scan(start, a.limit, length)
	if ok {
		return r, nil
	}
	r, longestWrapped, ok := a.scan(0, start, length)
	if ok {
		return r, nil
	}

	if longestWrapped > longest {
		longest = longestWrapped
	}
	a.ceiling = longest
	return types.ClusterRange{}, errors.Wrapf(types.ErrNoSpace,
		"no free run of %d clusters (longest is %d)", length, longest)
}

// scan looks for a free run of length clusters that starts in [from, to).
// Runs may extend past to, up to the allocation limit. It also returns the
// longest free run it saw.
func (a *Allocator) scan(from, to, length int64) (types.ClusterRange, int64, bool) {
	var longest int64
	c := from
	for c < to {
		if c%8 == 0 && a.bits[c/8] == 0xFF {
			c += 8
			continue
		}
		if a.IsAllocated(c) {
			c++
			continue
		}
		runStart := c
		for c < a.limit && !a.IsAllocated(c) && c-runStart < length {
			c++
		}
		run := c - runStart
		if run >= length {
			return types.ClusterRange{Start: runStart, Length: length}, run, true
		}
		if run > longest {
			longest = run
		}
	}
	return types.ClusterRange{}, longest, false
}

// Allocate finds and claims a contiguous run of length clusters.
func (a *Allocator) Allocate(length, hint int64) (types.ClusterRange, error) {
	r, err := a.FindFreeRange(length, hint)
	if err != nil {
		return types.ClusterRange{}, err
	}
	if err := a.MarkRange(r, true); err != nil {
		return types.ClusterRange{}, err
	}
	a.cursor = r.End()
	if a.cursor >= a.limit {
		a.cursor = 0
	}
	return r, nil
}

// AllocateFragmented claims length clusters, preferring one contiguous run
// and otherwise taking free runs in scan order. Either every cluster is
// claimed or none is.
func (a *Allocator) AllocateFragmented(length, hint int64) ([]types.ClusterRange, error) {
	if r, err := a.Allocate(length, hint); err == nil {
		return []types.ClusterRange{r}, nil
	} else if !errors.Is(err, types.ErrNoSpace) {
		return nil, err
	}

	start := a.cursor
	if hint >= 0 && hint < a.limit {
		start = hint
	}

	var ranges []types.ClusterRange
	remaining := length
	collect := func(from, to int64) {
		c := from
		for c < to && remaining > 0 {
			if a.IsAllocated(c) {
				c++
				continue
			}
			runStart := c
			for c < to && !a.IsAllocated(c) && c-runStart < remaining {
				c++
			}
			ranges = append(ranges, types.ClusterRange{Start: runStart, Length: c - runStart})
			remaining -= c - runStart
		}
	}
	collect(start, a.limit)
	collect(0, start)

	if remaining > 0 {
		return nil, errors.Wrapf(types.ErrNoSpace,
			"need %d clusters, only %d free", length, length-remaining)
	}
	for _, r := range ranges {
		for c := r.Start; c < r.End(); c++ {
			a.set(c, true)
		}
	}
	last := ranges[len(ranges)-1]
	a.cursor = last.End()
	if a.cursor >= a.limit {
		a.cursor = 0
	}
	return ranges, nil
}

// AllocatedCount returns the number of allocated clusters in [from, to).
func (a *Allocator) AllocatedCount(from, to int64) int64 {
	if from < 0 {
		from = 0
	}
	if to > a.clusters {
		to = a.clusters
	}
	var n int64
	for c := from; c < to; c++ {
		if a.IsAllocated(c) {
			n++
		}
	}
	return n
}

// FreeCount returns the number of free clusters below the allocation limit.
func (a *Allocator) FreeCount() int64 {
	return a.limit - a.AllocatedCount(0, a.limit)
}

// Bytes returns a copy of the bitmap in its on-disk form.
func (a *Allocator) Bytes() []byte {
	out := make([]byte, len(a.bits))
	copy(out, a.bits)
	return out
}

// Diff returns the clusters below n whose state differs between a and b.
func (a *Allocator) Diff(b *Allocator, n int64) []int64 {
	var diffs []int64
	for c := int64(0); c < n; c++ {
		if a.IsAllocated(c) != b.IsAllocated(c) {
			diffs = append(diffs, c)
		}
	}
	return diffs
}
