package txn

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/IllayDevel/pondb/internal/mastertable"
)

// GCSink receives per-slot notifications when a row transitions to
// COMMITTED_REMOVED, the hand-off point into the Master GC (spec.md
// §4.4/§4.6). One Table's GC instance satisfies this.
type GCSink interface {
	MarkRowAsDeleted(slot int64) error
}

// Manager owns the single monotonic XID counter, the CommitLog, and the
// set of currently in-progress XIDs new snapshots must exclude.
// Grounded on service/mvcc/manager.go's Manager, stripped of its
// multi-datasource and non-MVCC fallback concerns spec.md doesn't name.
type Manager struct {
	mu       sync.Mutex
	commitMu sync.Mutex // the global commit section, see acquireCommitSlot
	xid      int64
	active   map[int64]struct{}
	clog     *CommitLog
	registry *txnRegistry
	log      zerolog.Logger
}

func NewManager(log zerolog.Logger) *Manager {
	return &Manager{
		active:   make(map[int64]struct{}),
		clog:     NewCommitLog(),
		registry: newTxnRegistry(),
		log:      log,
	}
}

// Begin allocates a new XID, captures a snapshot of the XIDs currently
// in progress, and returns an open Transaction.
func (m *Manager) Begin() *Transaction {
	m.mu.Lock()
	m.xid++
	xid := m.xid
	active := make([]int64, 0, len(m.active))
	for a := range m.active {
		active = append(active, a)
	}
	m.active[xid] = struct{}{}
	m.mu.Unlock()

	return &Transaction{
		xid:      xid,
		snapshot: newSnapshot(xid, active),
		manager:  m,
		tables:   make(map[mastertable.TableName]*tableWork),
		log:      m.log,
	}
}

// CommitLog exposes the shared ledger for read-path visibility checks.
func (m *Manager) CommitLog() *CommitLog { return m.clog }

func (m *Manager) finish(xid int64, status Status) {
	m.mu.Lock()
	delete(m.active, xid)
	m.mu.Unlock()
	m.clog.SetStatus(xid, status)
}

// acquireCommitSlot serializes the conflict-check-then-apply critical
// section across every concurrent Commit, matching spec.md's "first
// committer wins" rule: two transactions racing to commit touching
// the same slot must be strictly ordered.
func (m *Manager) acquireCommitSlot() func() {
	m.commitMu.Lock()
	return m.commitMu.Unlock
}

// HasTransactionChangesPending reports whether any open transaction has
// touched table, the second half of the gc.RootLockChecker contract.
func (m *Manager) HasTransactionChangesPending(table mastertable.TableName) bool {
	return m.registry.hasPending(table)
}

// txnRegistry indexes open transactions by the tables they've touched,
// so the GC can ask "does anyone have pending changes against table?"
// without scanning every open Transaction.
type txnRegistry struct {
	mu    sync.Mutex
	byXID map[int64]map[mastertable.TableName]struct{}
}

func newTxnRegistry() *txnRegistry {
	return &txnRegistry{byXID: make(map[int64]map[mastertable.TableName]struct{})}
}

func (r *txnRegistry) touch(xid int64, table mastertable.TableName) {
	r.mu.Lock()
	defer r.mu.Unlock()
	set, ok := r.byXID[xid]
	if !ok {
		set = make(map[mastertable.TableName]struct{})
		r.byXID[xid] = set
	}
	set[table] = struct{}{}
}

func (r *txnRegistry) release(xid int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.byXID, xid)
}

func (r *txnRegistry) hasPending(table mastertable.TableName) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, tables := range r.byXID {
		if _, ok := tables[table]; ok {
			return true
		}
	}
	return false
}

// Checker adapts a Manager plus a fixed table lookup into a
// gc.RootLockChecker: IsRootLocked defers to the table's own row-lock
// counter, HasTransactionChangesPending defers to the registry.
type Checker struct {
	manager *Manager
	tables  map[mastertable.TableName]*mastertable.Table
}

func NewChecker(manager *Manager, tables map[mastertable.TableName]*mastertable.Table) *Checker {
	return &Checker{manager: manager, tables: tables}
}

func (c *Checker) IsRootLocked(table mastertable.TableName) bool {
	t, ok := c.tables[table]
	return ok && t.HasRowsLocked()
}

func (c *Checker) HasTransactionChangesPending(table mastertable.TableName) bool {
	return c.manager.HasTransactionChangesPending(table)
}
