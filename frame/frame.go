// Package frame implements the engine's tabular value: an eager, immutable
// column-major table with a schema and the small relational algebra the
// transform compiler emits. Frames are replaced whole, never mutated, so a
// Frame handle is always safe to share across stages.
package frame

import (
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/capport/capport/errors"
)

// Field is one (name, dtype) entry of a Schema.
type Field struct {
	Name string
	Type DType
}

// Schema is the ordered list of a Frame's fields.
type Schema []Field

// Index returns the position of the named field, or -1.
func (s Schema) Index(name string) int {
	for i, f := range s {
		if f.Name == name {
			return i
		}
	}
	return -1
}

// Names returns the field names in order.
func (s Schema) Names() []string {
	names := make([]string, len(s))
	for i, f := range s {
		names[i] = f.Name
	}
	return names
}

// Equal reports whether both schemas list the same fields in the same order.
func (s Schema) Equal(other Schema) bool {
	if len(s) != len(other) {
		return false
	}
	for i := range s {
		if s[i].Name != other[i].Name || !s[i].Type.Equal(other[i].Type) {
			return false
		}
	}
	return true
}

func (s Schema) String() string {
	parts := make([]string, len(s))
	for i, f := range s {
		parts[i] = f.Name + ":" + f.Type.String()
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

// Frame is an immutable column-major table. The zero value is the empty
// frame (no columns, no rows), the same value Empty returns; build populated
// frames with New or FromRecords.
type Frame struct {
	schema Schema
	cols   [][]interface{}
}

// New builds a Frame from a schema and matching column data. Every column
// must have the same length and fit its declared dtype.
func New(schema Schema, cols [][]interface{}) (*Frame, error) {
	if len(schema) != len(cols) {
		return nil, errors.New(errors.SchemaType, "", "schema has %d fields but %d columns given", len(schema), len(cols))
	}
	seen := map[string]bool{}
	n := -1
	for i, f := range schema {
		if f.Name == "" {
			return nil, errors.New(errors.SchemaMissing, "", "field %d has an empty name", i)
		}
		if seen[f.Name] {
			return nil, errors.New(errors.SchemaDup, "", "duplicate column %q", f.Name)
		}
		seen[f.Name] = true
		if n == -1 {
			n = len(cols[i])
		} else if len(cols[i]) != n {
			return nil, errors.New(errors.SchemaType, "", "column %q has %d rows, expected %d", f.Name, len(cols[i]), n)
		}
		for _, v := range cols[i] {
			if err := checkValue(v, f.Type); err != nil {
				return nil, errors.New(errors.SchemaType, "", "column %q: %s", f.Name, err)
			}
		}
	}
	return &Frame{schema: append(Schema{}, schema...), cols: cols}, nil
}

// Empty returns a Frame with no columns and no rows.
func Empty() *Frame {
	return &Frame{}
}

// FromRecords builds a Frame from row maps, in schema order. Missing keys
// become nulls.
func FromRecords(schema Schema, recs []map[string]interface{}) (*Frame, error) {
	cols := make([][]interface{}, len(schema))
	for i, f := range schema {
		col := make([]interface{}, len(recs))
		for j, rec := range recs {
			col[j] = rec[f.Name]
		}
		cols[i] = col
	}
	return New(schema, cols)
}

// NumRows returns the row count.
func (f *Frame) NumRows() int {
	if len(f.cols) == 0 {
		return 0
	}
	return len(f.cols[0])
}

// NumCols returns the column count.
func (f *Frame) NumCols() int {
	return len(f.cols)
}

// Schema returns a copy of the frame's schema.
func (f *Frame) Schema() Schema {
	return append(Schema{}, f.schema...)
}

// HasColumn reports whether the named column exists.
func (f *Frame) HasColumn(name string) bool {
	return f.schema.Index(name) >= 0
}

// Column returns the values and dtype of the named column.
func (f *Frame) Column(name string) ([]interface{}, DType, error) {
	i := f.schema.Index(name)
	if i < 0 {
		return nil, DType{}, errors.New(errors.SchemaMissing, "", "column %q not found in schema %s", name, f.schema)
	}
	return f.cols[i], f.schema[i].Type, nil
}

// At returns the value at (column name, row index).
func (f *Frame) At(name string, row int) (interface{}, error) {
	col, _, err := f.Column(name)
	if err != nil {
		return nil, err
	}
	if row < 0 || row >= len(col) {
		return nil, fmt.Errorf("row %d out of range [0,%d)", row, len(col))
	}
	return col[row], nil
}

// Records materializes the frame as row maps, mostly for sinks and tests.
func (f *Frame) Records() []map[string]interface{} {
	recs := make([]map[string]interface{}, f.NumRows())
	for j := range recs {
		rec := make(map[string]interface{}, len(f.schema))
		for i, fld := range f.schema {
			rec[fld.Name] = f.cols[i][j]
		}
		recs[j] = rec
	}
	return recs
}

// Equal reports whether two frames have identical schemas and cell values.
func (f *Frame) Equal(other *Frame) bool {
	if !f.schema.Equal(other.schema) || f.NumRows() != other.NumRows() {
		return false
	}
	for i := range f.cols {
		for j := range f.cols[i] {
			if !reflect.DeepEqual(f.cols[i][j], other.cols[i][j]) {
				return false
			}
		}
	}
	return true
}

// Concat appends other's rows below f. Schemas must match field for field.
func (f *Frame) Concat(other *Frame) (*Frame, error) {
	if f.NumCols() == 0 {
		return other, nil
	}
	if other.NumCols() == 0 {
		return f, nil
	}
	if !f.schema.Equal(other.schema) {
		return nil, errors.New(errors.SchemaType, "", "concat schema mismatch: %s vs %s", f.schema, other.schema)
	}
	cols := make([][]interface{}, len(f.cols))
	for i := range f.cols {
		cols[i] = append(append([]interface{}{}, f.cols[i]...), other.cols[i]...)
	}
	return &Frame{schema: f.Schema(), cols: cols}, nil
}

// SortBy orders rows by the given columns ascending. Used by sinks honoring
// an order_by hint.
func (f *Frame) SortBy(cols []string) (*Frame, error) {
	idxs := make([]int, len(cols))
	for i, c := range cols {
		k := f.schema.Index(c)
		if k < 0 {
			return nil, errors.New(errors.SchemaMissing, "", "order_by column %q not found in schema %s", c, f.schema)
		}
		idxs[i] = k
	}
	order := make([]int, f.NumRows())
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		for _, k := range idxs {
			va, vb := f.cols[k][order[a]], f.cols[k][order[b]]
			c := compareValues(va, vb)
			if c != 0 {
				return c < 0
			}
		}
		return false
	})
	return f.takeRows(order), nil
}

func (f *Frame) takeRows(rows []int) *Frame {
	cols := make([][]interface{}, len(f.cols))
	for i := range f.cols {
		col := make([]interface{}, len(rows))
		for j, r := range rows {
			col[j] = f.cols[i][r]
		}
		cols[i] = col
	}
	return &Frame{schema: f.Schema(), cols: cols}
}

// Compare orders two cell values: nulls first, then by value within the
// canonical families.
func Compare(a, b interface{}) int {
	return compareValues(a, b)
}

// compareValues orders nulls first, then by value within the canonical
// families; mixed families fall back to string order.
func compareValues(a, b interface{}) int {
	if a == nil && b == nil {
		return 0
	}
	if a == nil {
		return -1
	}
	if b == nil {
		return 1
	}
	switch x := a.(type) {
	case int64:
		if y, ok := b.(int64); ok {
			switch {
			case x < y:
				return -1
			case x > y:
				return 1
			}
			return 0
		}
	case uint64:
		if y, ok := b.(uint64); ok {
			switch {
			case x < y:
				return -1
			case x > y:
				return 1
			}
			return 0
		}
	case float64:
		if y, ok := b.(float64); ok {
			switch {
			case x < y:
				return -1
			case x > y:
				return 1
			}
			return 0
		}
	case string:
		if y, ok := b.(string); ok {
			return strings.Compare(x, y)
		}
	case bool:
		if y, ok := b.(bool); ok {
			switch {
			case !x && y:
				return -1
			case x && !y:
				return 1
			}
			return 0
		}
	}
	return strings.Compare(fmt.Sprint(a), fmt.Sprint(b))
}
