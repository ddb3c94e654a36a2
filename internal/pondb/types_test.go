package pondb

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCellCompareNumeric(t *testing.T) {
	a := Cell{Tag: CellNumeric, Value: int64(1)}
	b := Cell{Tag: CellNumeric, Value: int64(2)}
	assert.Negative(t, a.Compare(b))
	assert.Positive(t, b.Compare(a))
	assert.Zero(t, a.Compare(a))
}

func TestCellCompareString(t *testing.T) {
	a := Cell{Tag: CellString, Value: "abc"}
	b := Cell{Tag: CellString, Value: "abd"}
	assert.Negative(t, a.Compare(b))
}

func TestCellIsNull(t *testing.T) {
	var c Cell
	assert.True(t, c.IsNull())
	c = Cell{Tag: CellNumeric, Value: int64(0)}
	assert.False(t, c.IsNull())
}

func TestCellCompareBinary(t *testing.T) {
	a := Cell{Tag: CellBinary, Value: []byte{1, 2}}
	b := Cell{Tag: CellBinary, Value: []byte{1, 3}}
	assert.Negative(t, a.Compare(b))
	assert.Zero(t, a.Compare(a))
}
