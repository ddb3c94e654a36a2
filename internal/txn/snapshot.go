package txn

// Snapshot fixes the set of commit ids a transaction can see, captured
// once at Begin and held fixed for the transaction's lifetime — snapshot
// isolation per spec.md §4.6. Grounded on service/mvcc/manager.go's
// NewSnapshot(xid, activeXIDs, level) construction.
type Snapshot struct {
	xmin   int64   // smallest XID still active when the snapshot was taken
	xmax   int64   // the snapshot owner's own XID; anything >= this is invisible
	active []int64 // XIDs in progress at snapshot time, also invisible
}

func newSnapshot(xmax int64, active []int64) *Snapshot {
	xmin := xmax
	for _, a := range active {
		if a < xmin {
			xmin = a
		}
	}
	cp := make([]int64, len(active))
	copy(cp, active)
	return &Snapshot{xmin: xmin, xmax: xmax, active: cp}
}

func (s *Snapshot) wasActive(xid int64) bool {
	for _, a := range s.active {
		if a == xid {
			return true
		}
	}
	return false
}

// Visible reports whether a row stamped with commitXID is visible under
// this snapshot: it must have committed, and it must not have been
// produced by a transaction that was either not yet started or still in
// progress when the snapshot was taken.
func (s *Snapshot) Visible(commitXID int64, clog *CommitLog) bool {
	if commitXID == 0 {
		return false // never committed
	}
	if commitXID >= s.xmax {
		return false
	}
	if s.wasActive(commitXID) {
		return false
	}
	return clog.IsCommitted(commitXID)
}
