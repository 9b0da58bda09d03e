package frame

import (
	"fmt"
	"strings"

	"github.com/capport/capport/errors"
)

// Join how-strategies.
const (
	JoinInner = "inner"
	JoinLeft  = "left"
	JoinRight = "right"
	JoinFull  = "full"
	JoinCross = "cross"
)

// Join equi-joins f with right on the given key column vectors. rightSelect,
// when non-nil, projects and renames the right side (target -> source)
// before joining; join keys are always carried through the projection. A
// null key never equals another null; unmatched rows appear only as
// outer-side padding.
func (f *Frame) Join(right *Frame, how string, leftOn, rightOn []string, rightSelect map[string]string) (*Frame, error) {
	switch how {
	case JoinInner, JoinLeft, JoinRight, JoinFull:
		if len(leftOn) == 0 || len(leftOn) != len(rightOn) {
			return nil, errors.New(errors.SchemaType, "", "join: left_on and right_on must be non-empty and of equal arity, got %v and %v", leftOn, rightOn)
		}
	case JoinCross:
		if len(leftOn) != 0 || len(rightOn) != 0 {
			return nil, errors.New(errors.SchemaType, "", "join: cross join requires empty left_on/right_on")
		}
	default:
		return nil, errors.New(errors.SchemaType, "", "join: unknown how %q", how)
	}

	if rightSelect != nil {
		proj := append([]string{}, rightOn...)
		renames := map[string]string{}
		for target, source := range rightSelect {
			keep := true
			for _, k := range rightOn {
				if k == source {
					keep = false
				}
			}
			if keep {
				proj = append(proj, source)
			}
			if target != source {
				renames[source] = target
			}
		}
		var err error
		right, err = right.Project(proj)
		if err != nil {
			return nil, err
		}
		if len(renames) > 0 {
			right, err = right.Rename(renames)
			if err != nil {
				return nil, err
			}
			for i, k := range rightOn {
				if n, ok := renames[k]; ok {
					rightOn = append(append([]string{}, rightOn[:i]...), append([]string{n}, rightOn[i+1:]...)...)
				}
			}
		}
	}

	// output schema: all of left, then right minus its key columns
	rightKey := map[string]bool{}
	for _, k := range rightOn {
		rightKey[k] = true
	}
	schema := f.Schema()
	var rightCols []int
	for i, fld := range right.schema {
		if rightKey[fld.Name] {
			continue
		}
		if schema.Index(fld.Name) >= 0 {
			return nil, errors.New(errors.SchemaDup, "", "join: column %q exists on both sides", fld.Name)
		}
		schema = append(schema, fld)
		rightCols = append(rightCols, i)
	}

	type pair struct{ li, ri int }
	var pairs []pair

	if how == JoinCross {
		for li := 0; li < f.NumRows(); li++ {
			for ri := 0; ri < right.NumRows(); ri++ {
				pairs = append(pairs, pair{li, ri})
			}
		}
	} else {
		leftKeys, err := keyColumns(f, leftOn)
		if err != nil {
			return nil, err
		}
		rightKeys, err := keyColumns(right, rightOn)
		if err != nil {
			return nil, err
		}
		index := map[string][]int{}
		for ri := 0; ri < right.NumRows(); ri++ {
			k, ok := encodeKey(rightKeys, ri)
			if !ok {
				continue
			}
			index[k] = append(index[k], ri)
		}
		rightMatched := make([]bool, right.NumRows())
		for li := 0; li < f.NumRows(); li++ {
			k, ok := encodeKey(leftKeys, li)
			var matches []int
			if ok {
				matches = index[k]
			}
			if len(matches) == 0 {
				if how == JoinLeft || how == JoinFull {
					pairs = append(pairs, pair{li, -1})
				}
				continue
			}
			for _, ri := range matches {
				rightMatched[ri] = true
				pairs = append(pairs, pair{li, ri})
			}
		}
		if how == JoinRight || how == JoinFull {
			for ri, matched := range rightMatched {
				if !matched {
					pairs = append(pairs, pair{-1, ri})
				}
			}
		}
		if how == JoinRight {
			// right join keeps only inner matches plus unmatched right rows
			kept := pairs[:0]
			for _, p := range pairs {
				if p.ri >= 0 {
					kept = append(kept, p)
				}
			}
			pairs = kept
		}
	}

	cols := make([][]interface{}, len(schema))
	for i := range cols {
		cols[i] = make([]interface{}, len(pairs))
	}
	for j, p := range pairs {
		for i := range f.cols {
			if p.li >= 0 {
				cols[i][j] = f.cols[i][p.li]
			} else if ki := indexOf(leftOn, i, f, rightOn); ki >= 0 {
				// key columns of unmatched right rows surface through the
				// left-side key column
				rvals, _, _ := right.Column(rightOn[ki])
				cols[i][j] = rvals[p.ri]
			}
		}
		for n, ri := range rightCols {
			if p.ri >= 0 {
				cols[len(f.cols)+n][j] = right.cols[ri][p.ri]
			}
		}
	}
	return &Frame{schema: schema, cols: cols}, nil
}

// indexOf maps a left column index to its position in the join key vector,
// or -1 when the column is not a key.
func indexOf(leftOn []string, col int, f *Frame, rightOn []string) int {
	name := f.schema[col].Name
	for i, k := range leftOn {
		if k == name {
			return i
		}
	}
	return -1
}

func keyColumns(f *Frame, on []string) ([][]interface{}, error) {
	keys := make([][]interface{}, len(on))
	for i, name := range on {
		col, _, err := f.Column(name)
		if err != nil {
			return nil, err
		}
		keys[i] = col
	}
	return keys, nil
}

// encodeKey builds a hashable composite key for one row. Rows with a null
// in any key column never match.
func encodeKey(keys [][]interface{}, row int) (string, bool) {
	var b strings.Builder
	for _, col := range keys {
		v := col[row]
		if v == nil {
			return "", false
		}
		fmt.Fprintf(&b, "%T\x1e%v\x1f", v, v)
	}
	return b.String(), true
}
