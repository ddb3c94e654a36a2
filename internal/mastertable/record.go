// Package mastertable implements the Master Table of spec.md §4.3: the
// physical row store combining the Page Store and Index Store, the row
// state machine, and the rowAdded/rowRemoved broadcast to registered
// listeners. Grounded on the teacher's cache-invalidation listener
// registries (service/monitor/cache.go), generalized to the
// rowAdded/rowRemoved contract spec.md names.
package mastertable

import "github.com/IllayDevel/pondb/internal/pondb"

// RowState is a record's position in the state machine of spec.md §3.
type RowState int

const (
	Uncommitted RowState = iota
	CommittedAdded
	CommittedRemoved
	Deleted
)

func (s RowState) String() string {
	switch s {
	case Uncommitted:
		return "UNCOMMITTED"
	case CommittedAdded:
		return "COMMITTED_ADDED"
	case CommittedRemoved:
		return "COMMITTED_REMOVED"
	case Deleted:
		return "DELETED"
	default:
		return "UNKNOWN"
	}
}

// record is the physical image of one row plus its state-machine
// position. Slot ids are monotonic and never reused while any snapshot
// can observe them (spec.md invariant).
type record struct {
	slot      int64
	row       []pondb.Cell
	state     RowState
	addedBy   int64 // commit id that produced COMMITTED_ADDED, 0 while UNCOMMITTED
	removedBy int64 // commit id that produced COMMITTED_REMOVED, 0 until superseded
}

// transition validates and applies one state-machine edge. An invalid
// edge (e.g. DELETED -> anything) is an invariant breach, per spec §7.
func (r *record) transition(to RowState) error {
	valid := map[RowState]map[RowState]bool{
		Uncommitted:      {CommittedAdded: true, Deleted: true}, // Deleted models rollback-discard
		CommittedAdded:   {CommittedRemoved: true},
		CommittedRemoved: {Deleted: true},
	}
	if edges, ok := valid[r.state]; !ok || !edges[to] {
		return pondb.NewInvariantError("invalid row state transition " + r.state.String() + " -> " + to.String())
	}
	r.state = to
	return nil
}
