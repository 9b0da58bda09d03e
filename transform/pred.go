package transform

import (
	"reflect"

	"github.com/capport/capport/errors"
	"github.com/capport/capport/frame"
)

// pred is a compiled row predicate.
type pred interface {
	eval(f *frame.Frame, row int) (bool, error)
}

// compilePred compiles the filter DSL: column/literal equality, comparison
// maps, and/or/not combinators and null tests. Multiple keys in one map
// conjoin.
func compilePred(label string, raw interface{}) (pred, error) {
	m, ok := raw.(map[string]interface{})
	if !ok {
		return nil, errors.New(errors.ConfigValidate, label, "filter must be a map, got %v", raw)
	}
	var ps []pred
	for k, body := range m {
		p, err := compilePredKey(label, k, body)
		if err != nil {
			return nil, err
		}
		ps = append(ps, p)
	}
	if len(ps) == 1 {
		return ps[0], nil
	}
	return andPred{ps}, nil
}

func compilePredKey(label, key string, body interface{}) (pred, error) {
	switch key {
	case "and", "or":
		list, ok := body.([]interface{})
		if !ok {
			return nil, errors.New(errors.ConfigValidate, label, "%s takes a list of predicates", key)
		}
		subs := make([]pred, len(list))
		for i, sub := range list {
			p, err := compilePred(label, sub)
			if err != nil {
				return nil, err
			}
			subs[i] = p
		}
		if key == "and" {
			return andPred{subs}, nil
		}
		return orPred{subs}, nil
	case "not":
		p, err := compilePred(label, body)
		if err != nil {
			return nil, err
		}
		return notPred{p}, nil
	case "is_null", "not_null":
		col, ok := body.(string)
		if !ok {
			return nil, errors.New(errors.ConfigValidate, label, "%s takes a column name", key)
		}
		return nullPred{col: compileColRef(col).(colExpr), want: key == "is_null"}, nil
	default:
		// key is a column; body is either a literal or {op: literal}
		col := compileColRef(key).(colExpr)
		if opMap, ok := body.(map[string]interface{}); ok {
			if len(opMap) != 1 {
				return nil, errors.New(errors.ConfigValidate, label, "comparison for %q must have exactly one operator", key)
			}
			for op, lit := range opMap {
				switch op {
				case "gt", "ge", "lt", "le", "ne", "eq":
					return cmpPred{col: col, op: op, lit: normalizeScalar(lit)}, nil
				}
				return nil, errors.New(errors.ConfigValidate, label, "unknown comparison operator %q for %q", op, key)
			}
		}
		return cmpPred{col: col, op: "eq", lit: normalizeScalar(body)}, nil
	}
}

type andPred struct{ subs []pred }

func (p andPred) eval(f *frame.Frame, row int) (bool, error) {
	for _, s := range p.subs {
		ok, err := s.eval(f, row)
		if err != nil || !ok {
			return false, err
		}
	}
	return true, nil
}

type orPred struct{ subs []pred }

func (p orPred) eval(f *frame.Frame, row int) (bool, error) {
	for _, s := range p.subs {
		ok, err := s.eval(f, row)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

type notPred struct{ sub pred }

func (p notPred) eval(f *frame.Frame, row int) (bool, error) {
	ok, err := p.sub.eval(f, row)
	return !ok, err
}

type nullPred struct {
	col  colExpr
	want bool
}

func (p nullPred) eval(f *frame.Frame, row int) (bool, error) {
	vals, _, err := p.col.eval(f)
	if err != nil {
		return false, err
	}
	return (vals[row] == nil) == p.want, nil
}

type cmpPred struct {
	col colExpr
	op  string
	lit interface{}
}

func (p cmpPred) eval(f *frame.Frame, row int) (bool, error) {
	vals, _, err := p.col.eval(f)
	if err != nil {
		return false, err
	}
	v := vals[row]
	if v == nil {
		// null never satisfies a comparison
		return false, nil
	}
	switch p.op {
	case "eq":
		return reflect.DeepEqual(v, p.lit), nil
	case "ne":
		return !reflect.DeepEqual(v, p.lit), nil
	}
	c := frame.Compare(v, p.lit)
	switch p.op {
	case "gt":
		return c > 0, nil
	case "ge":
		return c >= 0, nil
	case "lt":
		return c < 0, nil
	case "le":
		return c <= 0, nil
	}
	return false, errors.New(errors.ConfigValidate, "", "unknown comparison %q", p.op)
}
