// Package frame provides a minimal ordered-column table used as the local
// side of a transfer. It is deliberately small: ordered column names,
// row-major values and an optional named index, which is everything the
// column model and the bulk-load channels need.
package frame

import (
	"fmt"
)

// Frame is an in-memory table with ordered columns and an optional named
// index. Column order is preserved from construction; two passes over the
// same frame observe identical order.
type Frame struct {
	cols     []string
	colIndex map[string]int
	rows     [][]interface{}

	indexName string
	index     []interface{}
}

// New creates an empty frame with the given column order.
func New(cols ...string) (*Frame, error) {
	colIndex := make(map[string]int, len(cols))
	for i, c := range cols {
		if _, dup := colIndex[c]; dup {
			return nil, fmt.Errorf("duplicate column %q", c)
		}
		colIndex[c] = i
	}
	return &Frame{
		cols:     append([]string(nil), cols...),
		colIndex: colIndex,
	}, nil
}

// AppendRow adds one row. The value count must match the column count.
func (f *Frame) AppendRow(values ...interface{}) error {
	if len(values) != len(f.cols) {
		return fmt.Errorf("row has %d values, frame has %d columns", len(values), len(f.cols))
	}
	f.rows = append(f.rows, append([]interface{}(nil), values...))
	return nil
}

// NumRows returns the number of rows.
func (f *Frame) NumRows() int {
	return len(f.rows)
}

// NumCols returns the number of data columns (the index is not a data column).
func (f *Frame) NumCols() int {
	return len(f.cols)
}

// Columns returns the ordered column names.
func (f *Frame) Columns() []string {
	return append([]string(nil), f.cols...)
}

// HasColumn reports whether a data column with the given name exists.
func (f *Frame) HasColumn(name string) bool {
	_, ok := f.colIndex[name]
	return ok
}

// At returns the value at (row, column name). The second return is false
// when the column does not exist.
func (f *Frame) At(row int, col string) (interface{}, bool) {
	i, ok := f.colIndex[col]
	if !ok {
		return nil, false
	}
	return f.rows[row][i], true
}

// Column returns all values of a column in row order.
func (f *Frame) Column(name string) ([]interface{}, bool) {
	i, ok := f.colIndex[name]
	if !ok {
		return nil, false
	}
	out := make([]interface{}, len(f.rows))
	for r, row := range f.rows {
		out[r] = row[i]
	}
	return out, true
}

// Row returns the values of one row in column order.
func (f *Frame) Row(i int) []interface{} {
	return append([]interface{}(nil), f.rows[i]...)
}

// SetIndex attaches a named index. The value count must match the row count.
func (f *Frame) SetIndex(name string, values []interface{}) error {
	if len(values) != len(f.rows) {
		return fmt.Errorf("index has %d values, frame has %d rows", len(values), len(f.rows))
	}
	f.indexName = name
	f.index = append([]interface{}(nil), values...)
	return nil
}

// PromoteIndex moves a data column out of the columns and into the index,
// the way a downloaded identifier column becomes the row index.
func (f *Frame) PromoteIndex(name string) error {
	i, ok := f.colIndex[name]
	if !ok {
		return fmt.Errorf("no column %q", name)
	}

	f.index = make([]interface{}, len(f.rows))
	for r := range f.rows {
		f.index[r] = f.rows[r][i]
		f.rows[r] = append(f.rows[r][:i], f.rows[r][i+1:]...)
	}
	f.indexName = name

	f.cols = append(f.cols[:i], f.cols[i+1:]...)
	f.colIndex = make(map[string]int, len(f.cols))
	for j, c := range f.cols {
		f.colIndex[c] = j
	}
	return nil
}

// IndexName returns the index name, or "" when no index is set.
func (f *Frame) IndexName() string {
	return f.indexName
}

// Index returns the index values in row order, or nil when no index is set.
func (f *Frame) Index() []interface{} {
	if f.index == nil {
		return nil
	}
	return append([]interface{}(nil), f.index...)
}

// IndexValue returns the index value for a row: the named index value when
// one is set, the positional row number otherwise.
func (f *Frame) IndexValue(row int) interface{} {
	if f.index != nil {
		return f.index[row]
	}
	return row
}
