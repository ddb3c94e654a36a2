package txn

import (
	"github.com/rs/zerolog"

	"github.com/IllayDevel/pondb/internal/indexstore"
	"github.com/IllayDevel/pondb/internal/journal"
	"github.com/IllayDevel/pondb/internal/mastertable"
	"github.com/IllayDevel/pondb/internal/pondb"
)

// tableWork bundles everything one Transaction has open against one
// table: its private journal and the GC sink to notify on commit. The
// Index Set it publishes at commit is taken fresh from the store's
// current generation at apply time (see applyCommit) — never from a
// snapshot captured when the transaction began.
type tableWork struct {
	table   *mastertable.Table
	gc      GCSink
	journal *journal.Journal
}

// Transaction is one unit of work across possibly many tables, per
// spec.md §4.6. Never shared between goroutines.
type Transaction struct {
	xid      int64
	snapshot *Snapshot
	manager  *Manager
	tables   map[mastertable.TableName]*tableWork
	done     bool
	log      zerolog.Logger
}

// XID exposes the transaction's assigned identifier.
func (tx *Transaction) XID() int64 { return tx.xid }

// Snapshot exposes the fixed visibility snapshot this transaction reads
// under.
func (tx *Transaction) Snapshot() *Snapshot { return tx.snapshot }

func (tx *Transaction) workFor(table *mastertable.Table, gc GCSink) *tableWork {
	name := table.Name()
	w, ok := tx.tables[name]
	if !ok {
		w = &tableWork{
			table:   table,
			gc:      gc,
			journal: journal.New(),
		}
		tx.tables[name] = w
		tx.manager.registry.touch(tx.xid, name)
	}
	return w
}

// Insert adds row to table under this transaction and records the ADD
// journal entry. The row is physically written immediately as
// UNCOMMITTED; it becomes visible to other transactions only at Commit.
func (tx *Transaction) Insert(table *mastertable.Table, gc GCSink, row []pondb.Cell) (int64, error) {
	if tx.done {
		return 0, pondb.NewUsageError("transaction already committed or rolled back")
	}
	w := tx.workFor(table, gc)
	slot, err := table.AddRow(row)
	if err != nil {
		return 0, err
	}
	w.journal.AddRow(slot)
	return slot, nil
}

// Delete marks slot for removal at commit. The row stays physically
// present (and visible to earlier snapshots) until the GC reclaims it.
func (tx *Transaction) Delete(table *mastertable.Table, gc GCSink, slot int64) error {
	if tx.done {
		return pondb.NewUsageError("transaction already committed or rolled back")
	}
	if err := table.RemoveRow(slot); err != nil {
		return err
	}
	w := tx.workFor(table, gc)
	w.journal.RemoveRow(slot)
	return nil
}

// Update decomposes an in-place update into a REMOVE of oldSlot plus an
// ADD of newRow, the UPDATE-REMOVE/UPDATE-ADD pair spec.md's Table
// Journal names. For conflict purposes the pair is a single atomic
// substitution: it conflicts with a concurrent plain REMOVE of oldSlot,
// but two UPDATEs of different slots never conflict merely because both
// touch the same column's secondary index.
func (tx *Transaction) Update(table *mastertable.Table, gc GCSink, oldSlot int64, newRow []pondb.Cell) (int64, error) {
	if tx.done {
		return 0, pondb.NewUsageError("transaction already committed or rolled back")
	}
	if err := table.RemoveRow(oldSlot); err != nil {
		return 0, err
	}
	newSlot, err := table.AddRow(newRow)
	if err != nil {
		return 0, err
	}
	w := tx.workFor(table, gc)
	w.journal.UpdateRow(oldSlot, newSlot)
	return newSlot, nil
}

// Commit runs the commit protocol of spec.md §4.6: under the manager's
// global commit section, every touched table is conflict-checked (first
// committer wins), then state is rewritten and the new index snapshot
// published. Tables are visited in no particular order; the global
// commit section is held throughout.
func (tx *Transaction) Commit() error {
	if tx.done {
		return pondb.NewUsageError("transaction already committed or rolled back")
	}

	release := tx.manager.acquireCommitSlot()
	defer release()

	for _, w := range tx.tables {
		if err := tx.checkConflicts(w); err != nil {
			tx.abortLocked()
			return err
		}
	}

	for _, w := range tx.tables {
		if err := tx.applyCommit(w); err != nil {
			// Partial application past this point would corrupt state;
			// spec.md treats this as an invariant breach rather than a
			// recoverable conflict.
			return err
		}
	}

	tx.manager.finish(tx.xid, Committed)
	tx.manager.registry.release(tx.xid)
	tx.done = true
	return nil
}

// checkConflicts verifies every slot this transaction intends to
// supersede is still COMMITTED_ADDED — if a concurrent transaction
// already superseded it, that is a write-write conflict.
func (tx *Transaction) checkConflicts(w *tableWork) error {
	for _, e := range w.journal.Entries() {
		if e.Op != journal.Remove && e.Op != journal.UpdateRemove {
			continue
		}
		state, ok := w.table.RowState(e.Slot)
		if !ok || state != mastertable.CommittedAdded {
			return pondb.NewConflictError("concurrent transaction already modified slot " + w.table.Name().String())
		}
	}
	return nil
}

// applyCommit performs the actual state-machine transitions, index
// updates, and GC hand-off for one table's journal.
//
// The Index Set applied here is taken fresh from the store's current
// published generation, not the snapshot the transaction read under.
// Commit.acquireCommitSlot holds the manager's single global commit
// section across every table's conflict check and apply, so no other
// transaction can publish a newer generation between this fetch and
// this transaction's own CommitIndexSet below — fetching late is what
// makes it safe to build on top of whatever the last committer left
// behind instead of silently clobbering it.
func (tx *Transaction) applyCommit(w *tableWork) error {
	set := w.table.IndexStore().GetSnapshotIndexSet()
	master := set.MasterIndex()
	cols := w.table.Def().IndexableColumns()

	for _, e := range w.journal.Entries() {
		switch e.Op {
		case journal.Add, journal.UpdateAdd:
			if err := w.table.PromoteAdded(e.Slot, tx.xid); err != nil {
				return err
			}
			master.UniqueInsertSort(e.Slot)
			if err := tx.indexColumns(w, set, cols, e.Slot, true); err != nil {
				return err
			}
		case journal.Remove, journal.UpdateRemove:
			if err := w.table.Supersede(e.Slot, tx.xid); err != nil {
				return err
			}
			master.Remove(e.Slot)
			if err := tx.indexColumns(w, set, cols, e.Slot, false); err != nil {
				return err
			}
			if w.gc != nil {
				if err := w.gc.MarkRowAsDeleted(e.Slot); err != nil {
					return err
				}
			}
		}
	}

	w.journal.SetCommitID(tx.xid)
	return w.table.IndexStore().CommitIndexSet(set)
}

// indexColumns adds or removes slot from every indexable column's
// secondary index (ids 1..len(cols), in cols order — the convention
// mastertable.Create and recovery.LoadLegacyTable both declare and
// populate). On add, a NULL cell is skipped rather than indexed, per
// spec.md §3: "per-column index contains s iff column type is
// indexable and cell is not null." On remove the slot is dropped
// unconditionally; SortedIntList.Remove is a harmless no-op if it was
// never present.
func (tx *Transaction) indexColumns(w *tableWork, set *indexstore.IndexSet, cols []int, slot int64, add bool) error {
	for i, col := range cols {
		list := set.GetIndex(i + 1)
		if !add {
			list.Remove(slot)
			continue
		}
		cell, err := w.table.GetCellContents(col, slot)
		if err != nil {
			return err
		}
		if cell.IsNull() {
			continue
		}
		list.UniqueInsertSort(slot)
	}
	return nil
}

func (tx *Transaction) abortLocked() {
	tx.manager.finish(tx.xid, Aborted)
	tx.manager.registry.release(tx.xid)
	tx.done = true
}

// Rollback discards every uncommitted ADD this transaction made. No
// Index Set is ever taken until commit, so a rollback never touches
// the master table beyond freeing the slots it itself created, per
// spec.md §4.6.
func (tx *Transaction) Rollback() error {
	if tx.done {
		return nil // idempotent
	}

	for _, w := range tx.tables {
		for _, e := range w.journal.Entries() {
			if e.Op == journal.Add || e.Op == journal.UpdateAdd {
				if err := w.table.FreeSlot(e.Slot); err != nil {
					tx.log.Error().Err(err).Int64("slot", e.Slot).Msg("rollback: failed to free uncommitted slot")
				}
			}
		}
	}

	tx.manager.finish(tx.xid, Aborted)
	tx.manager.registry.release(tx.xid)
	tx.done = true
	return nil
}
