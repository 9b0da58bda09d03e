package transform

import (
	"strings"
	"time"

	"github.com/capport/capport/errors"
	"github.com/capport/capport/frame"
)

// expr is a compiled column expression, evaluated against the working frame
// into a column of values plus its dtype.
type expr interface {
	eval(f *frame.Frame) ([]interface{}, frame.DType, error)
}

// compileExpr compiles one select/with_columns expression. target names the
// column being defined; an empty body means target equals source.
func compileExpr(label, target string, raw interface{}) (expr, error) {
	switch x := raw.(type) {
	case nil:
		return colExpr{ref: target}, nil
	case string:
		return compileColRef(x), nil
	case map[string]interface{}:
		if len(x) != 1 {
			return nil, errors.New(errors.ConfigValidate, label, "expression for %q must have exactly one action key, got %v", target, x)
		}
		var action string
		var body interface{}
		for k, v := range x {
			action, body = k, v
		}
		return compileAction(label, target, action, body)
	default:
		// bare scalar literals type themselves
		dt, v, err := frame.InferDType(normalizeScalar(raw))
		if err != nil {
			return nil, errors.New(errors.ConfigValidate, label, "expression for %q: %s", target, err)
		}
		return litExpr{value: v, dtype: dt}, nil
	}
}

// compileColRef distinguishes a ^name$ exact-match reference from a dotted
// struct path.
func compileColRef(s string) expr {
	if strings.HasPrefix(s, "^") && strings.HasSuffix(s, "$") && len(s) > 1 {
		return colExpr{ref: s[1 : len(s)-1], exact: true}
	}
	return colExpr{ref: s}
}

func compileAction(label, target, action string, body interface{}) (expr, error) {
	switch action {
	case "format":
		cfg, ok := body.(map[string]interface{})
		if !ok {
			return nil, errors.New(errors.ConfigValidate, label, "format for %q must be a map with template and cols", target)
		}
		template, _ := cfg["template"].(string)
		colsRaw, ok := cfg["columns"]
		if !ok {
			colsRaw = cfg["cols"]
		}
		cols, err := compileColList(label, target, colsRaw)
		if err != nil {
			return nil, err
		}
		if n := strings.Count(template, "{}"); n != len(cols) {
			return nil, errors.New(errors.TemplateArity, label, "format for %q has %d placeholders but %d columns", target, n, len(cols))
		}
		return formatExpr{template: template, cols: cols}, nil
	case "concat":
		cfg, ok := body.(map[string]interface{})
		if !ok {
			return nil, errors.New(errors.ConfigValidate, label, "concat for %q must be a map with cols", target)
		}
		sep := " "
		if s, ok := cfg["separator"].(string); ok {
			sep = s
		}
		colsRaw, ok := cfg["columns"]
		if !ok {
			colsRaw = cfg["cols"]
		}
		cols, err := compileColList(label, target, colsRaw)
		if err != nil {
			return nil, err
		}
		return concatExpr{cols: cols, sep: sep}, nil
	case "lit":
		return compileLit(label, target, body)
	case "to_list":
		col, ok := body.(string)
		if !ok {
			return nil, errors.New(errors.ConfigValidate, label, "to_list for %q must name a column", target)
		}
		return toListExpr{inner: compileColRef(col)}, nil
	default:
		if dt, err := frame.ParseDType(litAlias(action)); err == nil {
			return compileTypedLit(label, target, dt, body)
		}
		return nil, errors.New(errors.ConfigValidate, label, "unrecognized action %q for %q", action, target)
	}
}

func compileColList(label, target string, raw interface{}) ([]expr, error) {
	list, ok := raw.([]interface{})
	if !ok {
		return nil, errors.New(errors.ConfigValidate, label, "cols for %q must be a list, got %v", target, raw)
	}
	cols := make([]expr, len(list))
	for i, c := range list {
		s, ok := c.(string)
		if !ok {
			return nil, errors.New(errors.ConfigValidate, label, "cols for %q must be column names, got %v", target, c)
		}
		cols[i] = compileColRef(s)
	}
	return cols, nil
}

// compileLit handles {lit: value} and {lit: {value, dtype}}.
func compileLit(label, target string, body interface{}) (expr, error) {
	if m, ok := body.(map[string]interface{}); ok {
		if _, hasValue := m["value"]; hasValue {
			if ds, ok := m["dtype"].(string); ok {
				dt, err := frame.ParseDType(ds)
				if err != nil {
					return nil, errors.New(errors.ConfigValidate, label, "lit for %q: %s", target, err)
				}
				return compileTypedLit(label, target, dt, m["value"])
			}
			body = m["value"]
		}
	}
	dt, v, err := frame.InferDType(normalizeScalar(body))
	if err != nil {
		return nil, errors.New(errors.ConfigValidate, label, "lit for %q: %s", target, err)
	}
	return litExpr{value: v, dtype: dt}, nil
}

// compileTypedLit handles dtype-shorthand literals like {uint64: 3}.
func compileTypedLit(label, target string, dt frame.DType, body interface{}) (expr, error) {
	v, err := coerceLiteral(normalizeScalar(body), dt)
	if err != nil {
		return nil, errors.New(errors.Coercion, label, "literal for %q: %s", target, err)
	}
	return litExpr{value: v, dtype: dt}, nil
}

// litAlias maps the short literal action names onto their full dtypes.
func litAlias(action string) string {
	switch action {
	case "int":
		return "int64"
	case "uint":
		return "uint64"
	case "float":
		return "float64"
	}
	return action
}

// normalizeScalar maps YAML scalar representations onto the canonical
// value families.
func normalizeScalar(v interface{}) interface{} {
	switch x := v.(type) {
	case int:
		return int64(x)
	case int32:
		return int64(x)
	case float32:
		return float64(x)
	case uint:
		return uint64(x)
	}
	return v
}

func coerceLiteral(v interface{}, dt frame.DType) (interface{}, error) {
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
	case frame.Date:
		if s, ok := v.(string); ok {
			t, err := time.Parse("2006-01-02", s)
			if err != nil {
				return nil, err
			}
			return t, nil
		}
	case frame.Datetime:
		if s, ok := v.(string); ok {
			t, err := time.Parse(time.RFC3339, s)
			if err != nil {
				return nil, err
			}
			return t, nil
		}
	case frame.Time:
		if s, ok := v.(string); ok {
			t, err := time.Parse("15:04:05", s)
			if err != nil {
				return nil, err
			}
			return t, nil
		}
	}
	return nil, errors.New(errors.Coercion, "", "cannot build %s literal from %v (%T)", dt, v, v)
}

// colExpr references a column, either exactly or through a dotted struct
// path.
type colExpr struct {
	ref   string
	exact bool
}

func (e colExpr) eval(f *frame.Frame) ([]interface{}, frame.DType, error) {
	if e.exact || f.HasColumn(e.ref) {
		vals, dt, err := f.Column(e.ref)
		return vals, dt, err
	}
	if strings.Contains(e.ref, ".") {
		return f.StructPath(strings.Split(e.ref, "."))
	}
	_, _, err := f.Column(e.ref)
	return nil, frame.DType{}, err
}

// litExpr materializes a scalar constant column broadcast to the frame's
// row count.
type litExpr struct {
	value interface{}
	dtype frame.DType
}

func (e litExpr) eval(f *frame.Frame) ([]interface{}, frame.DType, error) {
	vals := make([]interface{}, f.NumRows())
	for i := range vals {
		vals[i] = e.value
	}
	return vals, e.dtype, nil
}

// formatExpr substitutes {} placeholders left-to-right with stringified
// column values.
type formatExpr struct {
	template string
	cols     []expr
}

func (e formatExpr) eval(f *frame.Frame) ([]interface{}, frame.DType, error) {
	colVals := make([][]interface{}, len(e.cols))
	for i, c := range e.cols {
		vals, _, err := c.eval(f)
		if err != nil {
			return nil, frame.DType{}, err
		}
		colVals[i] = vals
	}
	out := make([]interface{}, f.NumRows())
	for row := range out {
		s := e.template
		for _, vals := range colVals {
			s = strings.Replace(s, "{}", frame.Stringify(vals[row]), 1)
		}
		out[row] = s
	}
	return out, frame.Scalar(frame.Str), nil
}

// concatExpr joins stringified column values with a separator.
type concatExpr struct {
	cols []expr
	sep  string
}

func (e concatExpr) eval(f *frame.Frame) ([]interface{}, frame.DType, error) {
	colVals := make([][]interface{}, len(e.cols))
	for i, c := range e.cols {
		vals, _, err := c.eval(f)
		if err != nil {
			return nil, frame.DType{}, err
		}
		colVals[i] = vals
	}
	out := make([]interface{}, f.NumRows())
	for row := range out {
		parts := make([]string, len(colVals))
		for i, vals := range colVals {
			parts[i] = frame.Stringify(vals[row])
		}
		out[row] = strings.Join(parts, e.sep)
	}
	return out, frame.Scalar(frame.Str), nil
}

// toListExpr wraps a scalar column as a singleton list column.
type toListExpr struct {
	inner expr
}

func (e toListExpr) eval(f *frame.Frame) ([]interface{}, frame.DType, error) {
	vals, dt, err := e.inner.eval(f)
	if err != nil {
		return nil, frame.DType{}, err
	}
	out := make([]interface{}, len(vals))
	for i, v := range vals {
		if v == nil {
			continue
		}
		out[i] = []interface{}{v}
	}
	return out, frame.ListOf(dt), nil
}
