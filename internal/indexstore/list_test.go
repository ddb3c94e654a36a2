package indexstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSortedIntListInsertAndSearch(t *testing.T) {
	l := NewSortedIntList(nil)
	assert.True(t, l.UniqueInsertSort(5))
	assert.True(t, l.UniqueInsertSort(1))
	assert.True(t, l.UniqueInsertSort(3))
	assert.False(t, l.UniqueInsertSort(3))

	assert.Equal(t, []int64{1, 3, 5}, l.Values())
	assert.True(t, l.Contains(3))
	assert.False(t, l.Contains(4))
	require.NoError(t, l.AssertAscending())
}

func TestSortedIntListRemove(t *testing.T) {
	l := NewSortedIntList([]int64{1, 2, 3})
	assert.True(t, l.Remove(2))
	assert.False(t, l.Remove(2))
	assert.Equal(t, []int64{1, 3}, l.Values())
}

func TestSortedIntListRange(t *testing.T) {
	l := NewSortedIntList([]int64{1, 2, 3, 4, 5})
	assert.Equal(t, []int64{2, 3, 4}, l.Range(2, 5))
}

func TestSortedIntListAssertAscendingFailsOnViolation(t *testing.T) {
	l := NewSortedIntList([]int64{1, 3, 2})
	err := l.AssertAscending()
	assert.Error(t, err)
}

func TestSortedIntListCloneIsIndependent(t *testing.T) {
	l := NewSortedIntList([]int64{1, 2})
	clone := l.Clone()
	clone.InsertSorted(3)
	assert.Equal(t, []int64{1, 2}, l.Values())
	assert.Equal(t, []int64{1, 2, 3}, clone.Values())
}
