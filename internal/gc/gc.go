// Package gc implements the Master GC of spec.md §4.4: it reclaims rows
// that no live snapshot can see. Grounded on service/mvcc/manager.go's
// ticker-driven gcLoop/GC() pattern, generalized from snapshot-age
// eviction to row reclamation.
package gc

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/IllayDevel/pondb/internal/indexstore"
	"github.com/IllayDevel/pondb/internal/mastertable"
	"github.com/IllayDevel/pondb/internal/pondb"
)

// RootLockChecker reports whether any outstanding reader might still be
// examining physically-reclaimed slots ("root locked"), and whether any
// transaction has pending (uncommitted) changes against the table —
// both gate a collection event per spec.md §4.4.
type RootLockChecker interface {
	IsRootLocked(table mastertable.TableName) bool
	HasTransactionChangesPending(table mastertable.TableName) bool
}

// Config tunes the GC's sweep cadence.
type Config struct {
	Interval time.Duration
}

func DefaultConfig() Config {
	return Config{Interval: 30 * time.Second}
}

// GC tracks the set of slots committed-removed since the last sweep for
// one table, plus a full-sweep flag, and performs collection events.
type GC struct {
	mu           sync.Mutex
	table        *mastertable.Table
	pending      map[int64]struct{}
	fullSweepDue bool
	log          zerolog.Logger
}

func New(table *mastertable.Table, log zerolog.Logger) *GC {
	return &GC{table: table, pending: make(map[int64]struct{}), log: log}
}

// MarkRowAsDeleted records slot as committed-removed since the last
// sweep. A duplicate insert is a fatal invariant breach: the same slot
// can only be superseded once before GC reclaims it.
func (g *GC) MarkRowAsDeleted(slot int64) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, exists := g.pending[slot]; exists {
		return pondb.NewInvariantError("slot already marked for deletion")
	}
	g.pending[slot] = struct{}{}
	return nil
}

// MarkFullSweep clears the pending set and requests a full physical scan
// on the next collection event, used after bulk operations (e.g.
// recovery) where tracking individual slots isn't worthwhile.
func (g *GC) MarkFullSweep() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.pending = make(map[int64]struct{})
	g.fullSweepDue = true
}

// PerformCollectionEvent runs one collection pass under the table
// monitor (the Master Table's own mutex serializes this implicitly
// because every call below is made through Table's exported,
// mutex-guarded methods). If force is false, the sweep is skipped when
// the table is root-locked or has pending transaction changes, per
// spec.md §4.4.
func (g *GC) PerformCollectionEvent(force bool, checker RootLockChecker) (reclaimed int, err error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !force {
		if checker != nil && checker.IsRootLocked(g.table.Name()) {
			return 0, nil
		}
		if checker != nil && checker.HasTransactionChangesPending(g.table.Name()) {
			return 0, nil
		}
	}
	if g.table.HasRowsLocked() {
		return 0, nil
	}

	var candidates []int64
	if g.fullSweepDue {
		// Slot ids are handed out densely from 0 and a freed record stays
		// in the table as DELETED, so probing upward until the first
		// unknown slot visits every physical row.
		for slot := int64(0); ; slot++ {
			if _, ok := g.table.RowState(slot); !ok {
				break
			}
			candidates = append(candidates, slot)
		}
		g.fullSweepDue = false
	} else {
		for slot := range g.pending {
			candidates = append(candidates, slot)
		}
	}

	for _, slot := range candidates {
		state, ok := g.table.RowState(slot)
		if !ok || state != mastertable.CommittedRemoved {
			continue
		}
		if err := g.hardRemoveRow(slot); err != nil {
			g.log.Error().Err(err).Int64("slot", slot).Msg("gc: failed to reclaim row")
			continue
		}
		delete(g.pending, slot)
		reclaimed++
	}
	return reclaimed, nil
}

// hardCheckAndReclaimRow verifies slot is still eligible (COMMITTED_REMOVED
// and not visible to any snapshot, expressed by the caller passing a
// snapshot oracle) before calling hardRemoveRow. The current design
// trusts the caller's candidate set (pending / full sweep) to already
// respect transaction visibility, so this is exposed for callers that
// want an explicit, re-checked reclaim of a single slot (e.g. tests).
func (g *GC) hardCheckAndReclaimRow(slot int64, set *indexstore.IndexSet) error {
	if state, ok := g.table.RowState(slot); !ok || state != mastertable.CommittedRemoved {
		return pondb.NewInvariantError("slot is not COMMITTED_REMOVED, cannot reclaim")
	}
	if set != nil && set.MasterIndex().Contains(slot) {
		return pondb.NewInvariantError("slot still present in master index, cannot reclaim")
	}
	return g.hardRemoveRow(slot)
}

func (g *GC) hardRemoveRow(slot int64) error {
	return g.table.FreeSlot(slot)
}

// HardCheckAndReclaimRow is the exported form of hardCheckAndReclaimRow,
// named to match spec.md §4.4's operation list.
func (g *GC) HardCheckAndReclaimRow(slot int64, set *indexstore.IndexSet) error {
	return g.hardCheckAndReclaimRow(slot, set)
}
