package frame

import (
	"github.com/capport/capport/errors"
)

// UnnestStruct promotes the fields of a struct column to top-level columns
// and removes the source column.
func (f *Frame) UnnestStruct(name string) (*Frame, error) {
	vals, dt, err := f.Column(name)
	if err != nil {
		return nil, err
	}
	if dt.Kind != Struct {
		return nil, errors.New(errors.SchemaType, "", "unnest: column %q is %s, not a struct", name, dt)
	}
	out, err := f.Drop([]string{name}, false)
	if err != nil {
		return nil, err
	}
	for _, fld := range dt.Fields {
		col := make([]interface{}, len(vals))
		for i, v := range vals {
			if v == nil {
				continue
			}
			m, ok := v.(map[string]interface{})
			if !ok {
				return nil, errors.New(errors.SchemaType, "", "unnest: value %v in %q is not a struct", v, name)
			}
			col[i] = m[fld.Name]
		}
		out, err = out.WithColumn(fld.Name, fld.Type, col, false)
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

// UnnestListOfStruct explodes a list<struct> column into one row per list
// element, merging the struct fields as new columns. Rows whose list is
// null or empty are dropped; outer row multiplicity is otherwise preserved.
func (f *Frame) UnnestListOfStruct(name string) (*Frame, error) {
	vals, dt, err := f.Column(name)
	if err != nil {
		return nil, err
	}
	if dt.Kind != List || dt.Elem == nil || dt.Elem.Kind != Struct {
		return nil, errors.New(errors.SchemaType, "", "unnest: column %q is %s, not a list<struct>", name, dt)
	}
	elem := *dt.Elem

	var rows []int
	var elems []map[string]interface{}
	for i, v := range vals {
		if v == nil {
			continue
		}
		list, ok := v.([]interface{})
		if !ok {
			return nil, errors.New(errors.SchemaType, "", "unnest: value %v in %q is not a list", v, name)
		}
		for _, ev := range list {
			m, _ := ev.(map[string]interface{})
			rows = append(rows, i)
			elems = append(elems, m)
		}
	}

	exploded := f.takeRows(rows)
	out, err := exploded.Drop([]string{name}, false)
	if err != nil {
		return nil, err
	}
	for _, fld := range elem.Fields {
		col := make([]interface{}, len(elems))
		for i, m := range elems {
			if m != nil {
				col[i] = m[fld.Name]
			}
		}
		out, err = out.WithColumn(fld.Name, fld.Type, col, false)
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}
