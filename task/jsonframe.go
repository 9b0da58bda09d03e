package task

import (
	"encoding/json"
	"sort"

	"github.com/capport/capport/errors"
	"github.com/capport/capport/frame"
	"github.com/capport/capport/model"
)

// FrameFromJSON decodes a JSON payload (an object or an array of objects)
// into a Frame. When a model is given its fields select and type the
// columns; otherwise the schema is inferred from the records.
func FrameFromJSON(data []byte, m *model.Model) (*frame.Frame, error) {
	var recs []map[string]interface{}
	if len(data) > 0 && data[0] == '[' {
		if err := json.Unmarshal(data, &recs); err != nil {
			return nil, err
		}
	} else {
		var rec map[string]interface{}
		if err := json.Unmarshal(data, &rec); err != nil {
			return nil, err
		}
		recs = []map[string]interface{}{rec}
	}
	return FrameFromRecords(recs, m)
}

// FrameFromRecords builds a Frame from decoded row maps, coercing values
// into the canonical families, per the model when given.
func FrameFromRecords(recs []map[string]interface{}, m *model.Model) (*frame.Frame, error) {
	var schema frame.Schema
	if m != nil {
		schema = m.Schema()
	} else {
		schema = inferSchema(recs)
	}
	cols := make([][]interface{}, len(schema))
	for i, fld := range schema {
		col := make([]interface{}, len(recs))
		for j, rec := range recs {
			v, err := coerceCell(rec[fld.Name], fld.Type)
			if err != nil {
				return nil, errors.New(errors.Coercion, "", "column %q row %d: %s", fld.Name, j, err)
			}
			col[j] = v
		}
		cols[i] = col
	}
	return frame.New(schema, cols)
}

// inferSchema derives a schema from the union of record keys, typing each
// column from its first non-null value.
func inferSchema(recs []map[string]interface{}) frame.Schema {
	keys := map[string]bool{}
	for _, rec := range recs {
		for k := range rec {
			keys[k] = true
		}
	}
	names := make([]string, 0, len(keys))
	for k := range keys {
		names = append(names, k)
	}
	sort.Strings(names)

	schema := make(frame.Schema, 0, len(names))
	for _, name := range names {
		dt := frame.Scalar(frame.Str)
		for _, rec := range recs {
			if v := rec[name]; v != nil {
				dt = inferValueDType(v)
				break
			}
		}
		schema = append(schema, frame.Field{Name: name, Type: dt})
	}
	return schema
}

func inferValueDType(v interface{}) frame.DType {
	switch x := v.(type) {
	case bool:
		return frame.Scalar(frame.Bool)
	case float64:
		return frame.Scalar(frame.Float64)
	case string:
		return frame.Scalar(frame.Str)
	case map[string]interface{}:
		names := make([]string, 0, len(x))
		for k := range x {
			names = append(names, k)
		}
		sort.Strings(names)
		fields := make([]frame.Field, 0, len(names))
		for _, k := range names {
			fields = append(fields, frame.Field{Name: k, Type: inferValueDType(x[k])})
		}
		return frame.StructOf(fields...)
	case []interface{}:
		elem := frame.Scalar(frame.Str)
		for _, ev := range x {
			if ev != nil {
				elem = inferValueDType(ev)
				break
			}
		}
		return frame.ListOf(elem)
	}
	return frame.Scalar(frame.Str)
}

// coerceCell converts a decoded JSON value into the canonical
// representation of the target dtype.
func coerceCell(v interface{}, dt frame.DType) (interface{}, error) {
	if v == nil {
		return nil, nil
	}
	switch dt.Kind {
	case frame.Bool:
		if b, ok := v.(bool); ok {
			return b, nil
		}
	case frame.Int8, frame.Int16, frame.Int32, frame.Int64,
		frame.UInt8, frame.UInt16, frame.UInt32, frame.UInt64:
		return frame.CoerceInteger(v, dt)
	case frame.Float32, frame.Float64:
		switch n := v.(type) {
		case float64:
			return n, nil
		case int64:
			return float64(n), nil
		}
	case frame.Str:
		if s, ok := v.(string); ok {
			return s, nil
		}
		return frame.Stringify(v), nil
	case frame.Date, frame.Time, frame.Datetime:
		return v, nil
	case frame.List:
		list, ok := v.([]interface{})
		if !ok {
			return nil, errors.New(errors.Coercion, "", "value %v is not a list", v)
		}
		out := make([]interface{}, len(list))
		for i, ev := range list {
			cv, err := coerceCell(ev, *dt.Elem)
			if err != nil {
				return nil, err
			}
			out[i] = cv
		}
		return out, nil
	case frame.Struct:
		rec, ok := v.(map[string]interface{})
		if !ok {
			return nil, errors.New(errors.Coercion, "", "value %v is not a struct", v)
		}
		out := make(map[string]interface{}, len(dt.Fields))
		for _, fld := range dt.Fields {
			cv, err := coerceCell(rec[fld.Name], fld.Type)
			if err != nil {
				return nil, err
			}
			out[fld.Name] = cv
		}
		return out, nil
	}
	return nil, errors.New(errors.Coercion, "", "cannot coerce %v (%T) to %s", v, v, dt)
}
