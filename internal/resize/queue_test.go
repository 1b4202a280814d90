package resize

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/deploymenttheory/go-ntfsbox/internal/runlist"
	"github.com/deploymenttheory/go-ntfsbox/internal/types"
)

func TestQueueSplitOrder(t *testing.T) {
	var q Queue
	entries := []Delayed{
		{Record: 40, Type: types.AttrData},
		{Record: types.RecordMFT, Type: types.AttrBitmap},
		{Record: 17, Type: types.AttrIndexAllocation, Name: types.IndexNameI30},
		{Record: types.RecordMFTMirr, Type: types.AttrData},
		{Record: types.RecordMFT, Type: types.AttrData, Runlist: runlist.Runlist{{VCN: 0, LCN: 4, Length: 8}}},
	}
	for _, d := range entries {
		q.Add(d)
	}
	assert.Equal(t, 5, q.Len())

	table, rest := q.Split()
	assert.Equal(t, []Delayed{entries[1], entries[3], entries[4]}, table)
	assert.Equal(t, []Delayed{entries[0], entries[2]}, rest)
}

func TestQueueEmpty(t *testing.T) {
	var q Queue
	table, rest := q.Split()
	assert.Zero(t, q.Len())
	assert.Empty(t, table)
	assert.Empty(t, rest)
}

func TestCoalesce(t *testing.T) {
	rl := runlist.Runlist{
		{VCN: 0, LCN: 10, Length: 2},
		{VCN: 2, LCN: 12, Length: 3},
		{VCN: 5, LCN: runlist.LCNHole, Length: 1},
		{VCN: 6, LCN: runlist.LCNHole, Length: 2},
		{VCN: 8, LCN: 40, Length: 1},
	}
	want := runlist.Runlist{
		{VCN: 0, LCN: 10, Length: 5},
		{VCN: 5, LCN: runlist.LCNHole, Length: 3},
		{VCN: 8, LCN: 40, Length: 1},
	}
	assert.Equal(t, want, coalesce(rl))
}
