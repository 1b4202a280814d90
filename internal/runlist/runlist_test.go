package runlist

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deploymenttheory/go-ntfsbox/internal/types"
)

func TestValidate(t *testing.T) {
	assert.NoError(t, Runlist{}.Validate())
	assert.NoError(t, Runlist{{0, 10, 4}, {4, LCNHole, 2}}.Validate())

	err := Runlist{{0, 10, 4}, {5, 20, 2}}.Validate()
	assert.True(t, errors.Is(err, types.ErrCorruptEncoding))

	err = Runlist{{0, 10, 0}}.Validate()
	assert.True(t, errors.Is(err, types.ErrCorruptEncoding))

	err = Runlist{{0, -5, 1}}.Validate()
	assert.True(t, errors.Is(err, types.ErrCorruptEncoding))
}

func TestMerge(t *testing.T) {
	a := Runlist{{0, 10, 4}}

	t.Run("physically contiguous seam coalesces", func(t *testing.T) {
		got, err := Merge(a, Runlist{{4, 14, 6}})
		require.NoError(t, err)
		if diff := cmp.Diff(Runlist{{0, 10, 10}}, got); diff != "" {
			t.Fatal(diff)
		}
	})

	t.Run("separate runs stay separate", func(t *testing.T) {
		got, err := Merge(a, Runlist{{4, 40, 2}, {6, LCNHole, 3}})
		require.NoError(t, err)
		if diff := cmp.Diff(Runlist{{0, 10, 4}, {4, 40, 2}, {6, LCNHole, 3}}, got); diff != "" {
			t.Fatal(diff)
		}
	})

	t.Run("holes coalesce", func(t *testing.T) {
		got, err := Merge(Runlist{{0, LCNHole, 2}}, Runlist{{2, LCNHole, 5}})
		require.NoError(t, err)
		assert.Equal(t, Runlist{{0, LCNHole, 7}}, got)
	})

	t.Run("virtual gap rejected", func(t *testing.T) {
		_, err := Merge(a, Runlist{{5, 14, 6}})
		assert.Error(t, err)
	})

	t.Run("empty operands", func(t *testing.T) {
		got, err := Merge(nil, a)
		require.NoError(t, err)
		assert.Equal(t, a, got)
		got, err = Merge(a, nil)
		require.NoError(t, err)
		assert.Equal(t, a, got)
	})

	assert.Equal(t, Runlist{{0, 10, 4}}, a, "inputs are not mutated")
}

func TestSplitAt(t *testing.T) {
	rl := Runlist{{0, 100, 10}, {10, 300, 5}}

	got, idx, err := SplitAt(rl, 0, 104)
	require.NoError(t, err)
	assert.Equal(t, 1, idx)
	want := Runlist{{0, 100, 4}, {4, 104, 6}, {10, 300, 5}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatal(diff)
	}
	assert.NoError(t, got.Validate())

	_, _, err = SplitAt(rl, 0, 100)
	assert.Error(t, err, "split at run start")
	_, _, err = SplitAt(rl, 1, 305)
	assert.Error(t, err, "split at run end")
	_, _, err = SplitAt(Runlist{{0, LCNHole, 4}}, 0, 2)
	assert.Error(t, err, "sparse runs have no physical clusters")
	_, _, err = SplitAt(rl, 2, 0)
	assert.Error(t, err)
}

func TestTruncate(t *testing.T) {
	rl := Runlist{{0, 100, 10}, {10, 300, 5}, {15, LCNHole, 5}}
	got, err := Truncate(rl, 1)
	require.NoError(t, err)
	assert.Equal(t, Runlist{{0, 100, 10}}, got)

	got, err = Truncate(rl, 0)
	require.NoError(t, err)
	assert.Empty(t, got)

	_, err = Truncate(rl, 4)
	assert.Error(t, err)
}

func TestTruncateVCN(t *testing.T) {
	rl := Runlist{{0, 100, 10}, {10, 300, 5}, {15, LCNHole, 5}}
	kept, released := TruncateVCN(rl, 12)
	assert.Equal(t, Runlist{{0, 100, 10}, {10, 300, 2}}, kept)
	assert.Equal(t, []types.ClusterRange{{Start: 302, Length: 3}}, released)
}

func TestLCNAt(t *testing.T) {
	rl := Runlist{{0, 100, 10}, {10, LCNHole, 5}}
	lcn, left, err := rl.LCNAt(3)
	require.NoError(t, err)
	assert.Equal(t, int64(103), lcn)
	assert.Equal(t, int64(7), left)

	lcn, left, err = rl.LCNAt(12)
	require.NoError(t, err)
	assert.Equal(t, LCNHole, lcn)
	assert.Equal(t, int64(3), left)

	_, _, err = rl.LCNAt(15)
	assert.True(t, errors.Is(err, types.ErrNotFound))
}

func TestFromRanges(t *testing.T) {
	rl := FromRanges(0, []types.ClusterRange{
		{Start: 10, Length: 2},
		{Start: 12, Length: 3},
		{Start: 40, Length: 1},
	})
	assert.Equal(t, Runlist{{0, 10, 5}, {5, 40, 1}}, rl)
	assert.Equal(t, int64(6), rl.AllocatedClusters())
	assert.Equal(t, []types.ClusterRange{{Start: 10, Length: 5}, {Start: 40, Length: 1}}, rl.Ranges())
}
