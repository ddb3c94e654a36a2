package mastertable

import (
	"strings"

	"github.com/IllayDevel/pondb/internal/pondb"
)

// ColumnDef is one column of a DataTableDef: name, cell tag, nullability,
// and whether the column participates in a secondary index (spec.md's
// "indexable-type flag").
type ColumnDef struct {
	Name       string
	Tag        pondb.CellTag
	Nullable   bool
	Indexable  bool
}

// TableName identifies a table by (schema, name). Equality is
// case-sensitive; Matches is the case-insensitive comparison spec.md
// requires for lookup.
type TableName struct {
	Schema string
	Name   string
}

func (t TableName) Equal(o TableName) bool {
	return t.Schema == o.Schema && t.Name == o.Name
}

func (t TableName) Matches(o TableName) bool {
	return strings.EqualFold(t.Schema, o.Schema) && strings.EqualFold(t.Name, o.Name)
}

func (t TableName) String() string {
	return t.Schema + "." + t.Name
}

// DataTableDef is the ordered column definition of a table.
type DataTableDef struct {
	Name    TableName
	Columns []ColumnDef
}

// IndexableColumns returns the ordinal position of every column flagged
// indexable, in definition order — these are the columns that get a
// secondary index list (index ids 1..N).
func (d *DataTableDef) IndexableColumns() []int {
	var out []int
	for i, c := range d.Columns {
		if c.Indexable {
			out = append(out, i)
		}
	}
	return out
}

// ColumnIndex returns the ordinal of a column by name, or -1.
func (d *DataTableDef) ColumnIndex(name string) int {
	for i, c := range d.Columns {
		if c.Name == name {
			return i
		}
	}
	return -1
}
