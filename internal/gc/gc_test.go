package gc

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/IllayDevel/pondb/internal/logging"
	"github.com/IllayDevel/pondb/internal/mastertable"
	"github.com/IllayDevel/pondb/internal/pagestore"
	"github.com/IllayDevel/pondb/internal/pondb"
)

type alwaysClear struct{}

func (alwaysClear) IsRootLocked(mastertable.TableName) bool                 { return false }
func (alwaysClear) HasTransactionChangesPending(mastertable.TableName) bool { return false }

func newTestTable(t *testing.T) *mastertable.Table {
	t.Helper()
	pages, err := pagestore.Create(context.Background(), "", 128, logging.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = pages.Close() })

	def := &mastertable.DataTableDef{
		Name:    mastertable.TableName{Schema: "public", Name: "t"},
		Columns: []mastertable.ColumnDef{{Name: "id", Tag: pondb.CellNumeric}},
	}
	return mastertable.Create(def, pages, logging.Nop())
}

func committedRemovedRow(t *testing.T, tbl *mastertable.Table) int64 {
	t.Helper()
	slot, err := tbl.AddRow([]pondb.Cell{{Tag: pondb.CellNumeric, Value: int64(1)}})
	require.NoError(t, err)
	require.NoError(t, tbl.PromoteAdded(slot, 1))
	require.NoError(t, tbl.RemoveRow(slot))
	require.NoError(t, tbl.Supersede(slot, 2))
	return slot
}

func TestMarkRowAsDeletedRejectsDuplicate(t *testing.T) {
	tbl := newTestTable(t)
	g := New(tbl, logging.Nop())
	require.NoError(t, g.MarkRowAsDeleted(5))
	err := g.MarkRowAsDeleted(5)
	require.Error(t, err)
}

func TestPerformCollectionEventReclaimsPendingSlot(t *testing.T) {
	tbl := newTestTable(t)
	g := New(tbl, logging.Nop())

	slot := committedRemovedRow(t, tbl)
	require.NoError(t, g.MarkRowAsDeleted(slot))

	reclaimed, err := g.PerformCollectionEvent(false, alwaysClear{})
	require.NoError(t, err)
	assert.Equal(t, 1, reclaimed)

	state, _ := tbl.RowState(slot)
	assert.Equal(t, mastertable.Deleted, state)
}

func TestPerformCollectionEventSkipsWhenRootLocked(t *testing.T) {
	tbl := newTestTable(t)
	g := New(tbl, logging.Nop())
	slot := committedRemovedRow(t, tbl)
	require.NoError(t, g.MarkRowAsDeleted(slot))

	reclaimed, err := g.PerformCollectionEvent(false, lockedChecker{})
	require.NoError(t, err)
	assert.Equal(t, 0, reclaimed)
}

func TestPerformCollectionEventFullSweep(t *testing.T) {
	tbl := newTestTable(t)
	g := New(tbl, logging.Nop())
	slot := committedRemovedRow(t, tbl)
	g.MarkFullSweep()

	reclaimed, err := g.PerformCollectionEvent(true, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, reclaimed)
	state, _ := tbl.RowState(slot)
	assert.Equal(t, mastertable.Deleted, state)
}

type lockedChecker struct{}

func (lockedChecker) IsRootLocked(mastertable.TableName) bool                 { return true }
func (lockedChecker) HasTransactionChangesPending(mastertable.TableName) bool { return false }
