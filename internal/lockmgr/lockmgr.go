// Package lockmgr implements the Locking Mechanism of spec.md §4.7: a
// per-table FIFO of reader/writer lock claims delivered through a
// LockHandle that owns the entire batch. Grounded on the corpus's
// sync.Cond-guarded wait-queue patterns for snapshot/lock handles (see
// DESIGN.md); no teacher in this pack implements table-granularity
// locking directly.
package lockmgr

import (
	"runtime"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/IllayDevel/pondb/internal/mastertable"
	"github.com/IllayDevel/pondb/internal/pondb"
)

// Mode is the claim type: shared READ or exclusive WRITE.
type Mode int

const (
	Read Mode = iota
	Write
)

func (m Mode) String() string {
	if m == Write {
		return "WRITE"
	}
	return "READ"
}

func (m Mode) compatibleWith(o Mode) bool {
	return m == Read && o == Read
}

// claim is one queued request against a table.
type claim struct {
	mode    Mode
	granted bool
}

// tableQueue is the FIFO of claims against one table, guarded by cond.
type tableQueue struct {
	mu      sync.Mutex
	cond    *sync.Cond
	queue   []*claim
	holders map[*claim]bool
}

func newTableQueue() *tableQueue {
	q := &tableQueue{}
	q.cond = sync.NewCond(&q.mu)
	q.holders = make(map[*claim]bool)
	return q
}

// acquire blocks until c, having been appended to the queue, reaches a
// position where it is compatible with every claim ahead of it (writers
// block everyone; readers may share with other readers), per spec.md's
// "Lock claims on the same table are served in enqueue order" rule.
func (q *tableQueue) acquire(c *claim) {
	q.mu.Lock()
	q.queue = append(q.queue, c)
	for !q.canGrant(c) {
		q.cond.Wait()
	}
	c.granted = true
	q.holders[c] = true
	q.mu.Unlock()
}

func (q *tableQueue) canGrant(c *claim) bool {
	for _, ahead := range q.queue {
		if ahead == c {
			return true
		}
		if !ahead.granted {
			return false
		}
		if !ahead.mode.compatibleWith(c.mode) || !c.mode.compatibleWith(ahead.mode) {
			return false
		}
	}
	return true
}

func (q *tableQueue) release(c *claim) {
	q.mu.Lock()
	delete(q.holders, c)
	for i, existing := range q.queue {
		if existing == c {
			q.queue = append(q.queue[:i], q.queue[i+1:]...)
			break
		}
	}
	q.cond.Broadcast()
	q.mu.Unlock()
}

// Mechanism owns one FIFO per table name.
type Mechanism struct {
	mu     sync.Mutex
	queues map[mastertable.TableName]*tableQueue
	log    zerolog.Logger
}

func New(log zerolog.Logger) *Mechanism {
	return &Mechanism{queues: make(map[mastertable.TableName]*tableQueue), log: log}
}

func (m *Mechanism) queueFor(name mastertable.TableName) *tableQueue {
	m.mu.Lock()
	defer m.mu.Unlock()
	q, ok := m.queues[name]
	if !ok {
		q = newTableQueue()
		m.queues[name] = q
	}
	return q
}

// Lock is one granted claim, bundled inside a LockHandle.
type Lock struct {
	Table mastertable.TableName
	Mode  Mode
	claim *claim
	queue *tableQueue
}

// LockHandle bundles every Lock granted by one LockTables call. Release
// is required via UnlockAll; a finalizer is the last-resort safety net
// spec.md §9 describes, not the normal path.
type LockHandle struct {
	ID     uuid.UUID
	locks  []*Lock
	mu     sync.Mutex
	done   bool
	log    zerolog.Logger
}

// LockTables enqueues one claim per table named in reads/writes, in a
// stable (schema, name) order to avoid deadlock cycles (spec.md §4.7),
// and blocks until every claim is granted.
func (m *Mechanism) LockTables(reads []mastertable.TableName, writes []mastertable.TableName) *LockHandle {
	type req struct {
		name mastertable.TableName
		mode Mode
	}
	reqs := make([]req, 0, len(reads)+len(writes))
	for _, t := range reads {
		reqs = append(reqs, req{t, Read})
	}
	for _, t := range writes {
		reqs = append(reqs, req{t, Write})
	}
	sort.Slice(reqs, func(i, j int) bool {
		a, b := reqs[i].name, reqs[j].name
		if a.Schema != b.Schema {
			return a.Schema < b.Schema
		}
		return a.Name < b.Name
	})

	h := &LockHandle{ID: uuid.New(), log: m.log}
	for _, r := range reqs {
		q := m.queueFor(r.name)
		c := &claim{mode: r.mode}
		q.acquire(c)
		lock := &Lock{Table: r.name, Mode: r.mode, claim: c, queue: q}
		h.locks = append(h.locks, lock)
	}

	runtime.SetFinalizer(h, func(h *LockHandle) {
		h.mu.Lock()
		leaked := !h.done
		h.mu.Unlock()
		if leaked {
			h.log.Error().Str("handle", h.ID.String()).Msg("lockhandle finalized without UnlockAll; releasing as a safety net")
			h.unlockAllLocked()
		}
	})

	return h
}

// CheckAccess is the assertion callers make before touching table: it
// must find table in the handle and the mode must match or be weaker
// than what was granted (WRITE satisfies a READ check).
func (h *LockHandle) CheckAccess(table mastertable.TableName, mode Mode) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, l := range h.locks {
		if l.Table.Equal(table) {
			if l.Mode == Write || l.Mode == mode {
				return nil
			}
			return pondb.NewUsageError("lock handle holds READ but WRITE access was requested for " + table.String())
		}
	}
	return pondb.NewUsageError("lock handle does not cover table " + table.String())
}

// UnlockAll releases every lock in LIFO order. Idempotent: a second call
// is a no-op, per spec.md §8's testable property.
func (h *LockHandle) UnlockAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.unlockAllLocked()
}

func (h *LockHandle) unlockAllLocked() {
	if h.done {
		return
	}
	for i := len(h.locks) - 1; i >= 0; i-- {
		l := h.locks[i]
		l.queue.release(l.claim)
	}
	h.done = true
}
