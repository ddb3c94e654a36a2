package indexstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/IllayDevel/pondb/internal/logging"
	"github.com/IllayDevel/pondb/internal/pagestore"
)

func newTestPageStore(t *testing.T) *pagestore.Store {
	t.Helper()
	ps, err := pagestore.Create(context.Background(), "", 128, logging.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = ps.Close() })
	return ps
}

func TestIndexSetCopyOnWrite(t *testing.T) {
	pages := newTestPageStore(t)
	store := Create(pages)
	store.AddIndexLists(1)

	setA := store.GetSnapshotIndexSet()
	masterA := setA.MasterIndex()
	masterA.InsertSorted(10)

	setB := store.GetSnapshotIndexSet()
	require.Equal(t, 0, setB.MasterIndex().Size(), "snapshot taken before commit must not see uncommitted mutation")

	require.NoError(t, store.CommitIndexSet(setA))

	setC := store.GetSnapshotIndexSet()
	require.Equal(t, []int64{10}, setC.MasterIndex().Values())
}

func TestCommitIndexSetRejectsNonAscendingMaster(t *testing.T) {
	pages := newTestPageStore(t)
	store := Create(pages)

	set := store.GetSnapshotIndexSet()
	master := set.MasterIndex()
	// InsertSorted keeps the list ascending by construction, so force a
	// violation the way corrupt input would: build a fresh, deliberately
	// unsorted list and swap it in via the same slot GetIndex would hand
	// back, exercising CommitIndexSet's own AssertAscending check.
	_ = master
	set2 := store.GetSnapshotIndexSet()
	bad := NewSortedIntList([]int64{5, 1})
	set2.lists[MasterIndexID] = bad

	err := store.CommitIndexSet(set2)
	require.Error(t, err)
}

func TestDisposedSnapshotPanics(t *testing.T) {
	pages := newTestPageStore(t)
	store := Create(pages)
	set := store.GetSnapshotIndexSet()
	set.Dispose()
	require.Panics(t, func() { set.MasterIndex() })
}

func TestNextUniqueKeyPersists(t *testing.T) {
	pages := newTestPageStore(t)
	store := Create(pages)

	k1, err := store.NextUniqueKey()
	require.NoError(t, err)
	k2, err := store.NextUniqueKey()
	require.NoError(t, err)
	require.Equal(t, k1+1, k2)
}
