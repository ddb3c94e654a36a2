package mastertable

import (
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"github.com/IllayDevel/pondb/internal/indexstore"
	"github.com/IllayDevel/pondb/internal/pagestore"
	"github.com/IllayDevel/pondb/internal/pondb"
)

// Listener receives row-add/row-remove notifications under the table
// monitor. Implementations must be pure and must not re-enter the table
// (spec.md §5, "Shared-resource policy").
type Listener interface {
	RowAdded(slot int64, data []pondb.Cell)
	RowRemoved(slot int64)
}

// Table is the Master Table of spec.md §4.3: a page file plus per-column
// schemes plus a master presence index, wrapped in the row state
// machine. All mutating operations and GC events are serialized by mu,
// the "table monitor" spec.md §5 requires.
type Table struct {
	mu  sync.Mutex
	def *DataTableDef

	pages *pagestore.Store
	index *indexstore.Store

	records map[int64]*record
	nextRow int64

	listeners []Listener
	log       zerolog.Logger

	shutDown bool
	dropping bool
	lockCnt  int // addRowsLock/removeRowsLock depth, inhibits slot reuse
}

// Create initializes a brand-new table backed by freshly created page
// and index stores.
func Create(def *DataTableDef, pages *pagestore.Store, log zerolog.Logger) *Table {
	idx := indexstore.Create(pages)
	idx.AddIndexLists(len(def.IndexableColumns()))
	return &Table{
		def:     def,
		pages:   pages,
		index:   idx,
		records: make(map[int64]*record),
		log:     log,
	}
}

// Load attaches to an already-created page/index store pair, e.g. after
// process restart or legacy upgrade.
func Load(def *DataTableDef, pages *pagestore.Store, idx *indexstore.Store, log zerolog.Logger) *Table {
	return &Table{
		def:     def,
		pages:   pages,
		index:   idx,
		records: make(map[int64]*record),
		log:     log,
	}
}

// Update swaps the table's column definition, returning true if the
// topology changed (columns added/removed/retyped) and callers must
// re-index affected schemes.
func (t *Table) Update(def *DataTableDef) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	changed := len(def.Columns) != len(t.def.Columns)
	if !changed {
		for i := range def.Columns {
			if def.Columns[i] != t.def.Columns[i] {
				changed = true
				break
			}
		}
	}
	t.def = def
	return changed
}

func (t *Table) Def() *DataTableDef {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.def
}

// AddListener registers a MasterTableListener.
func (t *Table) AddListener(l Listener) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.listeners = append(t.listeners, l)
}

// RemoveListener unregisters a previously added listener, severing the
// table/listener cycle spec.md §9 calls out, e.g. before Drop.
func (t *Table) RemoveListener(l Listener) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, existing := range t.listeners {
		if existing == l {
			t.listeners = append(t.listeners[:i], t.listeners[i+1:]...)
			return
		}
	}
}

// AddRow writes row as a new UNCOMMITTED record and returns its slot.
// The caller (the owning Transaction) is responsible for the journal
// entry and for eventually committing or rolling back.
func (t *Table) AddRow(row []pondb.Cell) (int64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.shutDown || t.dropping {
		return 0, pondb.NewUsageError("table is shut down or being dropped")
	}

	slot := t.nextRow
	t.nextRow++

	payload, err := encodeRow(row)
	if err != nil {
		return 0, err
	}
	if err := t.pages.WriteAcross(slot, payload); err != nil {
		return 0, err
	}

	t.records[slot] = &record{slot: slot, row: row, state: Uncommitted}
	return slot, nil
}

// RemoveRow marks an existing record's intent to be removed. The actual
// COMMITTED_ADDED -> COMMITTED_REMOVED transition happens at commit,
// driven by the owning Transaction.
func (t *Table) RemoveRow(slot int64) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	r, ok := t.records[slot]
	if !ok {
		return pondb.NewUsageError("remove of unknown slot")
	}
	if r.state != CommittedAdded {
		return pondb.NewInvariantError("remove targets a row that is not COMMITTED_ADDED")
	}
	return nil
}

// PromoteAdded transitions slot UNCOMMITTED -> COMMITTED_ADDED, called
// by the Transaction commit protocol.
func (t *Table) PromoteAdded(slot int64, commitID int64) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	r, ok := t.records[slot]
	if !ok {
		return pondb.NewUsageError("promote of unknown slot")
	}
	if err := r.transition(CommittedAdded); err != nil {
		return err
	}
	r.addedBy = commitID
	t.notifyAdded(slot, r.row)
	return nil
}

// Supersede transitions slot COMMITTED_ADDED -> COMMITTED_REMOVED.
func (t *Table) Supersede(slot int64, commitID int64) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	r, ok := t.records[slot]
	if !ok {
		return pondb.NewUsageError("supersede of unknown slot")
	}
	if err := r.transition(CommittedRemoved); err != nil {
		return err
	}
	r.removedBy = commitID
	t.notifyRemoved(slot)
	return nil
}

// FreeSlot transitions slot to DELETED and returns its sector to the
// page store's free-list. Used both for rollback (UNCOMMITTED -> DELETED)
// and for GC reclamation (COMMITTED_REMOVED -> DELETED).
func (t *Table) FreeSlot(slot int64) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	r, ok := t.records[slot]
	if !ok {
		return pondb.NewUsageError("discard of unknown slot")
	}
	if err := r.transition(Deleted); err != nil {
		return err
	}
	return t.pages.FreeSector(slot)
}

// notifyAdded/notifyRemoved run under t.mu, matching spec.md's
// "listeners execute under the notifier's monitor" rule. Listeners must
// not call back into the table.
func (t *Table) notifyAdded(slot int64, row []pondb.Cell) {
	for _, l := range t.listeners {
		l.RowAdded(slot, row)
	}
}

func (t *Table) notifyRemoved(slot int64) {
	for _, l := range t.listeners {
		l.RowRemoved(slot)
	}
}

// IsRowValid reports whether slot is currently COMMITTED_ADDED.
func (t *Table) IsRowValid(slot int64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	r, ok := t.records[slot]
	return ok && r.state == CommittedAdded
}

// RowState exposes a slot's current state machine position, used by the
// GC to decide reclaimability.
func (t *Table) RowState(slot int64) (RowState, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	r, ok := t.records[slot]
	if !ok {
		return Deleted, false
	}
	return r.state, true
}

// RowCount returns the number of COMMITTED_ADDED rows.
func (t *Table) RowCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, r := range t.records {
		if r.state == CommittedAdded {
			n++
		}
	}
	return n
}

// RowEnumeration returns every COMMITTED_ADDED slot, ascending.
func (t *Table) RowEnumeration() []int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []int64
	for slot, r := range t.records {
		if r.state == CommittedAdded {
			out = append(out, slot)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// GetCellContents resolves one cell from the in-memory record when it is
// cached, otherwise by decoding the immutable physical payload from the
// page store.
func (t *Table) GetCellContents(col int, slot int64) (pondb.Cell, error) {
	t.mu.Lock()
	r, ok := t.records[slot]
	t.mu.Unlock()
	if ok && r.row != nil {
		if col < 0 || col >= len(r.row) {
			return pondb.Cell{}, pondb.NewUsageError("column out of range")
		}
		return r.row[col], nil
	}

	payload, err := t.pages.ReadAcross(slot)
	if err != nil {
		return pondb.Cell{}, err
	}
	row, err := decodeRow(payload)
	if err != nil {
		return pondb.Cell{}, err
	}
	if col < 0 || col >= len(row) {
		return pondb.Cell{}, pondb.NewUsageError("column out of range")
	}
	return row[col], nil
}

// NextUniqueKey delegates to the index store's monotonic counter.
func (t *Table) NextUniqueKey() (uint64, error) {
	return t.index.NextUniqueKey()
}

// AddRowsLock / RemoveRowsLock inhibit slot reuse while external readers
// may still be examining reclaimed slots, per spec.md §4.3. The depth
// counter lets nested lock/unlock pairs compose.
func (t *Table) AddRowsLock() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lockCnt++
}

func (t *Table) RemoveRowsLock() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.lockCnt > 0 {
		t.lockCnt--
	}
}

// HasRowsLocked is interrogated by the GC before a sweep.
func (t *Table) HasRowsLocked() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lockCnt > 0
}

// IndexStore exposes the backing index store for the Transaction and GC
// packages; callers must respect the snapshot/commit protocol.
func (t *Table) IndexStore() *indexstore.Store { return t.index }

// Name returns the table's (schema, name) identity.
func (t *Table) Name() TableName {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.def.Name
}

// DoMaintenance performs light housekeeping (currently: fsync of both
// stores) and reports whether any work was done.
func (t *Table) DoMaintenance() (bool, error) {
	t.mu.Lock()
	shutDown := t.shutDown
	t.mu.Unlock()
	if shutDown {
		return false, nil
	}
	if err := t.pages.HardSynch(); err != nil {
		return false, err
	}
	if err := t.index.HardSynch(); err != nil {
		return false, err
	}
	return true, nil
}

// Shutdown rejects future writes. Per spec.md §4.3, a shut-down table
// still serves reads.
func (t *Table) Shutdown() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.shutDown = true
}

// Drop marks the table for removal, severing listener registration
// first (spec.md §9's cyclic-reference note) and deleting its backing
// store.
func (t *Table) Drop() error {
	t.mu.Lock()
	t.dropping = true
	t.listeners = nil
	t.mu.Unlock()
	return t.pages.Delete()
}

// UpdateFile fsyncs the table's page store; callers in the excluded DDL
// layer invoke this after add/drop column. The column definition is held
// in memory only and is not written by this call.
func (t *Table) UpdateFile() error {
	return t.pages.HardSynch()
}
