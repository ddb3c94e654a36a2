// Package indexstore keeps a set of sorted integer lists with
// copy-on-write snapshots, per spec.md §4.2. The lists are held in memory
// only; of the store's state, just the unique-id counter is written to
// the page store. Grounded on
// pkg/resource/badger/index.go's IndexManager, generalized from named
// composite indexes over row values to spec.md's integer-list-per-
// column-id model, and given the copy-on-write snapshot semantics the
// teacher's index manager did not need.
package indexstore

import (
	"sort"

	"github.com/IllayDevel/pondb/internal/pondb"
)

// SortedIntList is an ordered, duplicate-free (optionally) bag of slot
// ids. The zero value is an empty list ready to use.
type SortedIntList struct {
	values []int64
}

// NewSortedIntList builds a list from already-sorted, caller-owned
// values without copying.
func NewSortedIntList(sorted []int64) *SortedIntList {
	return &SortedIntList{values: sorted}
}

func (l *SortedIntList) Size() int { return len(l.values) }

func (l *SortedIntList) Get(i int) int64 { return l.values[i] }

// Values returns the list's backing slice. Callers must not mutate it;
// use Clone to obtain a private copy for mutation.
func (l *SortedIntList) Values() []int64 { return l.values }

// Clone returns a deep copy suitable for mutation, the mechanism behind
// getSnapshotIndexSet's "mutable working copy" contract.
func (l *SortedIntList) Clone() *SortedIntList {
	cp := make([]int64, len(l.values))
	copy(cp, l.values)
	return &SortedIntList{values: cp}
}

func (l *SortedIntList) search(v int64) (idx int, found bool) {
	idx = sort.Search(len(l.values), func(i int) bool { return l.values[i] >= v })
	found = idx < len(l.values) && l.values[idx] == v
	return
}

// InsertSorted inserts v keeping the list ascending, allowing duplicates.
func (l *SortedIntList) InsertSorted(v int64) {
	idx, _ := l.search(v)
	l.values = append(l.values, 0)
	copy(l.values[idx+1:], l.values[idx:])
	l.values[idx] = v
}

// UniqueInsertSort inserts v if absent, returning false if v was already
// present (matching spec.md's duplicate-detection contract).
func (l *SortedIntList) UniqueInsertSort(v int64) bool {
	idx, found := l.search(v)
	if found {
		return false
	}
	l.values = append(l.values, 0)
	copy(l.values[idx+1:], l.values[idx:])
	l.values[idx] = v
	return true
}

// Remove deletes the first occurrence of v, returning false if absent.
func (l *SortedIntList) Remove(v int64) bool {
	idx, found := l.search(v)
	if !found {
		return false
	}
	l.values = append(l.values[:idx], l.values[idx+1:]...)
	return true
}

// Contains reports whether v is present.
func (l *SortedIntList) Contains(v int64) bool {
	_, found := l.search(v)
	return found
}

// Range returns the slots in [lo, hi) as a new slice.
func (l *SortedIntList) Range(lo, hi int64) []int64 {
	start, _ := l.search(lo)
	end, _ := l.search(hi)
	out := make([]int64, end-start)
	copy(out, l.values[start:end])
	return out
}

// AssertAscending verifies the list is strictly ascending, the invariant
// spec.md §8 requires be tested after every commit for the master index.
// A violation is an invariant breach, not a recoverable error.
func (l *SortedIntList) AssertAscending() error {
	for i := 1; i < len(l.values); i++ {
		if l.values[i-1] >= l.values[i] {
			return pondb.NewInvariantError("index list is not strictly ascending")
		}
	}
	return nil
}
