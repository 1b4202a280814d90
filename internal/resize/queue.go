package resize

import (
	"github.com/deploymenttheory/go-ntfsbox/internal/runlist"
	"github.com/deploymenttheory/go-ntfsbox/internal/types"
)

// Delayed is a runlist rewrite that did not fit in its record when the
// clusters were moved. The data already lives at the new location.
type Delayed struct {
	Record  uint64
	Type    types.AttrType
	Name    string
	Runlist runlist.Runlist
}

// touchesRecordTable reports whether replaying d changes where records
// are read from.
func (d Delayed) touchesRecordTable() bool {
	return d.Record == types.RecordMFT || d.Record == types.RecordMFTMirr
}

// Queue holds delayed rewrites in the order they were added.
type Queue struct {
	entries []Delayed
}

// Add appends d.
func (q *Queue) Add(d Delayed) {
	q.entries = append(q.entries, d)
}

// Len returns the number of queued rewrites.
func (q *Queue) Len() int {
	return len(q.entries)
}

// Split returns the entries for the record table and its mirror, followed
// by the others. Both groups keep insertion order.
func (q *Queue) Split() (table, rest []Delayed) {
	for _, d := range q.entries {
		if d.touchesRecordTable() {
			table = append(table, d)
		} else {
			rest = append(rest, d)
		}
	}
	return table, rest
}
