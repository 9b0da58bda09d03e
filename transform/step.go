package transform

import (
	"sort"

	"github.com/capport/capport/config"
	"github.com/capport/capport/errors"
	"github.com/capport/capport/frame"
)

func compileStep(label, action string, body interface{}) (step, error) {
	switch action {
	case "select":
		return compileSelect(label, body, true)
	case "with_columns":
		return compileSelect(label, body, false)
	case "join":
		return compileJoin(label, body)
	case "drop":
		return compileDrop(label, body)
	case "rename":
		return compileRename(label, body)
	case "filter":
		p, err := compilePred(label, body)
		if err != nil {
			return nil, err
		}
		return filterStep{p}, nil
	case "unnest":
		col, ok := body.(string)
		if !ok {
			return nil, errors.New(errors.ConfigValidate, label, "unnest takes a column name, got %v", body)
		}
		return unnestStep{col}, nil
	case "time":
		return compileTime(label, body)
	case "uniform_id":
		return compileUniformID(label, body)
	default:
		return nil, errors.New(errors.ConfigValidate, label, "unknown step %q", action)
	}
}

type namedExpr struct {
	target string
	e      expr
}

// compileSelect handles both select (replace the frame with the targets)
// and with_columns (append or overwrite). Targets evaluate in sorted order
// so the output schema is deterministic. with_columns fails on a dtype
// conflict during overwrite unless the wrapped {columns, retype} form sets
// retype.
func compileSelect(label string, body interface{}, replace bool) (step, error) {
	m, ok := body.(map[string]interface{})
	if !ok {
		return nil, errors.New(errors.ConfigValidate, label, "select must map targets to expressions, got %v", body)
	}
	retype := false
	if cols, wrapped := m["columns"].(map[string]interface{}); wrapped && !replace && len(m) <= 2 {
		retype, _ = m["retype"].(bool)
		m = cols
	}
	targets := make([]string, 0, len(m))
	for t := range m {
		targets = append(targets, t)
	}
	sort.Strings(targets)
	exprs := make([]namedExpr, len(targets))
	for i, t := range targets {
		e, err := compileExpr(label, t, m[t])
		if err != nil {
			return nil, err
		}
		exprs[i] = namedExpr{target: t, e: e}
	}
	return selectStep{exprs: exprs, replace: replace, retype: retype}, nil
}

type selectStep struct {
	exprs   []namedExpr
	replace bool
	retype  bool
}

func (s selectStep) name() string {
	if s.replace {
		return "select"
	}
	return "with_columns"
}

func (s selectStep) apply(env Env, f *frame.Frame) (*frame.Frame, error) {
	out := f
	if s.replace {
		out = frame.Empty()
	}
	for _, ne := range s.exprs {
		vals, dt, err := ne.e.eval(f)
		if err != nil {
			return nil, err
		}
		out, err = out.WithColumn(ne.target, dt, vals, s.retype)
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

type joinStep struct {
	right       string
	how         string
	leftOn      []string
	rightOn     []string
	rightSelect map[string]string
}

type joinSpec struct {
	Right       string            `json:"right"`
	How         string            `json:"how"`
	LeftOn      []string          `json:"left_on"`
	RightOn     []string          `json:"right_on"`
	RightSelect map[string]string `json:"right_select"`
}

func compileJoin(label string, body interface{}) (step, error) {
	cfg := config.AsConfig(body)
	if cfg == nil {
		return nil, errors.New(errors.ConfigValidate, label, "join must be a map, got %v", body)
	}
	var spec joinSpec
	if err := cfg.Construct(&spec); err != nil {
		return nil, errors.New(errors.ConfigValidate, label, "malformed join: %s", err)
	}
	if spec.Right == "" {
		return nil, errors.New(errors.ConfigValidate, label, "join has no right frame")
	}
	if spec.How == "" {
		spec.How = frame.JoinInner
	}
	return joinStep{
		right:       spec.Right,
		how:         spec.How,
		leftOn:      spec.LeftOn,
		rightOn:     spec.RightOn,
		rightSelect: spec.RightSelect,
	}, nil
}

func (s joinStep) name() string     { return "join" }
func (s joinStep) inputs() []string { return []string{s.right} }

func (s joinStep) apply(env Env, f *frame.Frame) (*frame.Frame, error) {
	right, err := env.Read(s.right)
	if err != nil {
		return nil, err
	}
	return f.Join(right, s.how, s.leftOn, s.rightOn, s.rightSelect)
}

type dropStep struct {
	cols          []string
	ignoreMissing bool
}

// compileDrop accepts the list form [a, b], the map form {a: true, b:
// false} where false entries are no-ops, and an optional trailing
// ignore_missing flag in the map form.
func compileDrop(label string, body interface{}) (step, error) {
	switch x := body.(type) {
	case []interface{}:
		cols := make([]string, 0, len(x))
		for _, c := range x {
			s, ok := c.(string)
			if !ok {
				return nil, errors.New(errors.ConfigValidate, label, "drop entries must be column names, got %v", c)
			}
			cols = append(cols, s)
		}
		return dropStep{cols: cols}, nil
	case map[string]interface{}:
		var cols []string
		ignoreMissing := false
		names := make([]string, 0, len(x))
		for name := range x {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			if name == "ignore_missing" {
				ignoreMissing, _ = x[name].(bool)
				continue
			}
			if keep, ok := x[name].(bool); ok && !keep {
				continue
			}
			cols = append(cols, name)
		}
		return dropStep{cols: cols, ignoreMissing: ignoreMissing}, nil
	default:
		return nil, errors.New(errors.ConfigValidate, label, "drop must be a list or map, got %v", body)
	}
}

func (s dropStep) name() string { return "drop" }

func (s dropStep) apply(env Env, f *frame.Frame) (*frame.Frame, error) {
	return f.Drop(s.cols, s.ignoreMissing)
}

type renameStep struct {
	mapping map[string]string
}

func compileRename(label string, body interface{}) (step, error) {
	m, ok := body.(map[string]interface{})
	if !ok {
		return nil, errors.New(errors.ConfigValidate, label, "rename must map old names to new, got %v", body)
	}
	mapping := make(map[string]string, len(m))
	for old, next := range m {
		s, ok := next.(string)
		if !ok {
			return nil, errors.New(errors.ConfigValidate, label, "rename target for %q must be a string, got %v", old, next)
		}
		mapping[old] = s
	}
	return renameStep{mapping}, nil
}

func (s renameStep) name() string { return "rename" }

func (s renameStep) apply(env Env, f *frame.Frame) (*frame.Frame, error) {
	return f.Rename(s.mapping)
}

type filterStep struct {
	p pred
}

func (s filterStep) name() string { return "filter" }

func (s filterStep) apply(env Env, f *frame.Frame) (*frame.Frame, error) {
	return f.Filter(func(row int) (bool, error) {
		return s.p.eval(f, row)
	})
}

type unnestStep struct {
	col string
}

func (s unnestStep) name() string { return "unnest" }

func (s unnestStep) apply(env Env, f *frame.Frame) (*frame.Frame, error) {
	_, dt, err := f.Column(s.col)
	if err != nil {
		return nil, err
	}
	if dt.Kind == frame.List {
		return f.UnnestListOfStruct(s.col)
	}
	return f.UnnestStruct(s.col)
}

type timeStep struct {
	col    string
	format string
	into   frame.DType
}

func compileTime(label string, body interface{}) (step, error) {
	cfg := config.AsConfig(body)
	if cfg == nil {
		return nil, errors.New(errors.ConfigValidate, label, "time must be a map, got %v", body)
	}
	col := cfg.GetString("column")
	format := cfg.GetString("format")
	intoStr := cfg.GetString("into")
	if col == "" || format == "" {
		return nil, errors.New(errors.ConfigValidate, label, "time needs column and format")
	}
	if intoStr == "" {
		intoStr = "datetime"
	}
	into, err := frame.ParseDType(intoStr)
	if err != nil {
		return nil, errors.New(errors.ConfigValidate, label, "time: %s", err)
	}
	return timeStep{col: col, format: format, into: into}, nil
}

func (s timeStep) name() string { return "time" }

func (s timeStep) apply(env Env, f *frame.Frame) (*frame.Frame, error) {
	return f.TimeParse(s.col, s.format, s.into)
}

type uniformIDStep struct {
	cols []string
	into frame.DType
}

func compileUniformID(label string, body interface{}) (step, error) {
	cfg := config.AsConfig(body)
	if cfg == nil {
		return nil, errors.New(errors.ConfigValidate, label, "uniform_id must be a map, got %v", body)
	}
	rawCols, _ := cfg["columns"].([]interface{})
	if rawCols == nil {
		rawCols, _ = cfg["cols"].([]interface{})
	}
	if len(rawCols) == 0 {
		return nil, errors.New(errors.ConfigValidate, label, "uniform_id needs columns")
	}
	cols := make([]string, len(rawCols))
	for i, c := range rawCols {
		s, ok := c.(string)
		if !ok {
			return nil, errors.New(errors.ConfigValidate, label, "uniform_id columns must be names, got %v", c)
		}
		cols[i] = s
	}
	intoStr := cfg.GetString("into")
	if intoStr == "" {
		intoStr = "uint64"
	}
	into, err := frame.ParseDType(intoStr)
	if err != nil {
		return nil, errors.New(errors.ConfigValidate, label, "uniform_id: %s", err)
	}
	return uniformIDStep{cols: cols, into: into}, nil
}

func (s uniformIDStep) name() string { return "uniform_id" }

func (s uniformIDStep) apply(env Env, f *frame.Frame) (*frame.Frame, error) {
	return f.UniformIDType(s.cols, s.into)
}
