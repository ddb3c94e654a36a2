package indexstore

import (
	"encoding/binary"
	"sync"

	"github.com/IllayDevel/pondb/internal/pagestore"
)

// MasterIndexID is the reserved index id for the live-slot set, index 0
// per spec.md's Index Set definition.
const MasterIndexID = 0

// Store owns a generation of sorted integer lists (index 0 = master,
// 1..N = per-column secondary indices) plus a monotonic 64-bit counter
// persisted in the page store's reserved header.
type Store struct {
	mu         sync.Mutex
	pages      *pagestore.Store
	lists      []*SortedIntList // current committed generation
	generation uint64
	uniqueID   uint64
}

// Create initializes a new index store over an already-created page
// store.
func Create(pages *pagestore.Store) *Store {
	return &Store{pages: pages, lists: []*SortedIntList{NewSortedIntList(nil)}}
}

// AddIndexLists declares n additional empty lists. It takes no type
// argument; callers record each list's scheme externally via the master
// table's column definitions.
func (s *Store) AddIndexLists(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := 0; i < n; i++ {
		s.lists = append(s.lists, NewSortedIntList(nil))
	}
}

// SetUniqueID sets the monotonic counter exposed via NextUniqueKey,
// persisting it into the page store's reserved header.
func (s *Store) SetUniqueID(id uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.uniqueID = id
	return s.persistUniqueID()
}

// NextUniqueKey returns the next value of the monotonic counter.
func (s *Store) NextUniqueKey() (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.uniqueID++
	if err := s.persistUniqueID(); err != nil {
		return 0, err
	}
	return s.uniqueID, nil
}

func (s *Store) persistUniqueID() error {
	buf, err := s.pages.ReadReservedBuffer()
	if err != nil {
		return err
	}
	if len(buf) < 16 {
		buf = append(buf, make([]byte, 16-len(buf))...)
	}
	binary.BigEndian.PutUint64(buf[8:16], s.uniqueID)
	return s.pages.WriteReservedBuffer(buf)
}

// Flush does nothing: the unique-id counter is already written to the
// page store on every change, and the lists are not written to the page
// store at all. Kept as a named operation because spec.md §4.2 names it
// explicitly.
func (s *Store) Flush() error { return nil }

// HardSynch fsyncs the backing page store.
func (s *Store) HardSynch() error { return s.pages.HardSynch() }

// IndexSet is an immutable snapshot of every list in the store at a
// point in logical time. Mutation requires GetSnapshotIndexSet, editing
// the returned working copy, then CommitIndexSet.
type IndexSet struct {
	generation uint64
	lists      []*SortedIntList
	disposed   bool
	mu         sync.Mutex
}

// GetSnapshotIndexSet returns a handle sharing the store's current lists
// by reference (copy-on-write: a list is cloned when GetIndex hands it
// out, never when the snapshot is taken).
func (s *Store) GetSnapshotIndexSet() *IndexSet {
	s.mu.Lock()
	defer s.mu.Unlock()
	lists := make([]*SortedIntList, len(s.lists))
	copy(lists, s.lists)
	return &IndexSet{lists: lists}
}

// GetIndex returns a mutable working copy of list i so concurrent readers
// of the snapshot this IndexSet was built from are unaffected. Every call
// clones the set's current copy of list i and stores the clone in the
// set, so only the list returned by the latest call is the one
// CommitIndexSet publishes.
func (set *IndexSet) GetIndex(i int) *SortedIntList {
	set.mu.Lock()
	defer set.mu.Unlock()
	if set.disposed {
		panic("indexstore: use of disposed snapshot")
	}
	if i < 0 || i >= len(set.lists) {
		panic("indexstore: index id out of range")
	}
	clone := set.lists[i].Clone()
	set.lists[i] = clone
	return clone
}

// IndexCount returns how many lists (master + secondary) this snapshot
// carries.
func (set *IndexSet) IndexCount() int {
	set.mu.Lock()
	defer set.mu.Unlock()
	return len(set.lists)
}

// MasterIndex is shorthand for GetIndex(MasterIndexID).
func (set *IndexSet) MasterIndex() *SortedIntList { return set.GetIndex(MasterIndexID) }

// Dispose releases the snapshot. After Dispose, GetIndex panics; callers
// must not retain references past this point.
func (set *IndexSet) Dispose() {
	set.mu.Lock()
	defer set.mu.Unlock()
	set.disposed = true
	set.lists = nil
}

// CommitIndexSet publishes a working IndexSet as the store's new current
// generation. The master index is validated ascending first; a
// violation is an invariant breach per spec.md §7.
func (s *Store) CommitIndexSet(set *IndexSet) error {
	set.mu.Lock()
	lists := make([]*SortedIntList, len(set.lists))
	copy(lists, set.lists)
	set.mu.Unlock()

	if len(lists) > MasterIndexID {
		if err := lists[MasterIndexID].AssertAscending(); err != nil {
			return err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.generation++
	s.lists = lists
	return nil
}

// IndexCount returns the number of lists currently in the store's
// published generation.
func (s *Store) IndexCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.lists)
}
