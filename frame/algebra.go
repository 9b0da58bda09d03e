package frame

import (
	"github.com/capport/capport/errors"
)

// Project selects the named columns in the given order.
func (f *Frame) Project(cols []string) (*Frame, error) {
	schema := make(Schema, 0, len(cols))
	data := make([][]interface{}, 0, len(cols))
	for _, name := range cols {
		i := f.schema.Index(name)
		if i < 0 {
			return nil, errors.New(errors.SchemaMissing, "", "project: column %q not found in schema %s", name, f.schema)
		}
		schema = append(schema, f.schema[i])
		data = append(data, f.cols[i])
	}
	if err := checkDup(schema); err != nil {
		return nil, err
	}
	return &Frame{schema: schema, cols: data}, nil
}

// WithColumn appends or overwrites the named column. Overwriting with a
// different dtype fails unless retype is set.
func (f *Frame) WithColumn(name string, dt DType, vals []interface{}, retype bool) (*Frame, error) {
	if f.NumCols() > 0 && len(vals) != f.NumRows() {
		return nil, errors.New(errors.SchemaType, "", "with_columns: column %q has %d rows, frame has %d", name, len(vals), f.NumRows())
	}
	for _, v := range vals {
		if err := checkValue(v, dt); err != nil {
			return nil, errors.New(errors.SchemaType, "", "with_columns: column %q: %s", name, err)
		}
	}
	schema := f.Schema()
	cols := append([][]interface{}{}, f.cols...)
	if i := schema.Index(name); i >= 0 {
		if !schema[i].Type.Equal(dt) && !retype {
			return nil, errors.New(errors.SchemaType, "", "with_columns: column %q is %s, cannot overwrite with %s", name, schema[i].Type, dt)
		}
		schema[i] = Field{Name: name, Type: dt}
		cols[i] = vals
	} else {
		schema = append(schema, Field{Name: name, Type: dt})
		cols = append(cols, vals)
	}
	return &Frame{schema: schema, cols: cols}, nil
}

// Drop removes the named columns. Repeated names are harmless; a missing
// name is an error unless ignoreMissing is set.
func (f *Frame) Drop(cols []string, ignoreMissing bool) (*Frame, error) {
	dropped := map[string]bool{}
	for _, name := range cols {
		if f.schema.Index(name) < 0 {
			if ignoreMissing {
				continue
			}
			return nil, errors.New(errors.SchemaMissing, "", "drop: column %q not found in schema %s", name, f.schema)
		}
		dropped[name] = true
	}
	schema := make(Schema, 0, len(f.schema))
	data := make([][]interface{}, 0, len(f.cols))
	for i, fld := range f.schema {
		if dropped[fld.Name] {
			continue
		}
		schema = append(schema, fld)
		data = append(data, f.cols[i])
	}
	return &Frame{schema: schema, cols: data}, nil
}

// Rename maps old column names to new ones. The mapping must be bijective
// within a single call.
func (f *Frame) Rename(mapping map[string]string) (*Frame, error) {
	// resolve every old name against the original schema first, so that a
	// swap such as {a: b, b: a} renames both columns
	idx := make(map[string]int, len(mapping))
	for old := range mapping {
		i := f.schema.Index(old)
		if i < 0 {
			return nil, errors.New(errors.SchemaMissing, "", "rename: column %q not found in schema %s", old, f.schema)
		}
		idx[old] = i
	}
	schema := f.Schema()
	for old, next := range mapping {
		i := idx[old]
		schema[i] = Field{Name: next, Type: schema[i].Type}
	}
	if err := checkDup(schema); err != nil {
		return nil, err
	}
	return &Frame{schema: schema, cols: f.cols}, nil
}

// Filter keeps the rows for which keep returns true.
func (f *Frame) Filter(keep func(row int) (bool, error)) (*Frame, error) {
	var rows []int
	for i := 0; i < f.NumRows(); i++ {
		ok, err := keep(i)
		if err != nil {
			return nil, err
		}
		if ok {
			rows = append(rows, i)
		}
	}
	return f.takeRows(rows), nil
}

// StructPath resolves a struct-access chain rooted at a column: the first
// path element names a struct-typed column, the rest descend its fields.
// Returns the leaf values and dtype.
func (f *Frame) StructPath(path []string) ([]interface{}, DType, error) {
	if len(path) == 0 {
		return nil, DType{}, errors.New(errors.SchemaMissing, "", "empty struct path")
	}
	vals, dt, err := f.Column(path[0])
	if err != nil {
		return nil, DType{}, err
	}
	for _, seg := range path[1:] {
		if dt.Kind != Struct {
			return nil, DType{}, errors.New(errors.SchemaType, "", "path %v: %q is %s, not a struct", path, seg, dt)
		}
		var next *Field
		for i := range dt.Fields {
			if dt.Fields[i].Name == seg {
				next = &dt.Fields[i]
				break
			}
		}
		if next == nil {
			return nil, DType{}, errors.New(errors.SchemaMissing, "", "path %v: struct %s has no field %q", path, dt, seg)
		}
		out := make([]interface{}, len(vals))
		for i, v := range vals {
			if v == nil {
				continue
			}
			m, ok := v.(map[string]interface{})
			if !ok {
				return nil, DType{}, errors.New(errors.SchemaType, "", "path %v: value %v is not a struct", path, v)
			}
			out[i] = m[seg]
		}
		vals, dt = out, next.Type
	}
	return vals, dt, nil
}

func checkDup(s Schema) error {
	seen := map[string]bool{}
	for _, f := range s {
		if seen[f.Name] {
			return errors.New(errors.SchemaDup, "", "duplicate column %q in schema %s", f.Name, s)
		}
		seen[f.Name] = true
	}
	return nil
}
