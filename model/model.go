// Package model implements the declarative schemas sinks validate frames
// against before writing.
package model

import (
	"fmt"
	"strings"

	"github.com/capport/capport/errors"
	"github.com/capport/capport/frame"
)

// Field constraints.
const (
	Primary = "primary"
	Unique  = "unique"
	NotNull = "notnull"
	Foreign = "foreign"
)

// Field is one named, typed, constrained column of a model.
type Field struct {
	Name        string
	Type        frame.DType
	Constraints []string
}

// Has reports whether the field carries the given constraint.
func (f Field) Has(constraint string) bool {
	for _, c := range f.Constraints {
		if c == constraint {
			return true
		}
	}
	return false
}

// Model is a named ordered field set with constraints.
type Model struct {
	Label  string
	Fields []Field
}

// PrimaryKey returns the names of the primary fields, in declaration order.
func (m *Model) PrimaryKey() []string {
	var keys []string
	for _, f := range m.Fields {
		if f.Has(Primary) {
			keys = append(keys, f.Name)
		}
	}
	return keys
}

// Names returns the field names in declaration order.
func (m *Model) Names() []string {
	names := make([]string, len(m.Fields))
	for i, f := range m.Fields {
		names[i] = f.Name
	}
	return names
}

// Schema returns the model's fields as a frame schema.
func (m *Model) Schema() frame.Schema {
	s := make(frame.Schema, len(m.Fields))
	for i, f := range m.Fields {
		s[i] = frame.Field{Name: f.Name, Type: f.Type}
	}
	return s
}

// Validate checks a frame against the model: the frame's column set must
// cover every model field with a compatible dtype, primary and notnull
// columns must contain no nulls, and unique columns no duplicates. All
// violations are collected into one MODEL_VALIDATION error.
func (m *Model) Validate(f *frame.Frame) error {
	var violations []string
	for _, fld := range m.Fields {
		vals, dt, err := f.Column(fld.Name)
		if err != nil {
			violations = append(violations, fmt.Sprintf("missing column %q", fld.Name))
			continue
		}
		if !dtypeCompatible(dt, fld.Type) {
			violations = append(violations, fmt.Sprintf("column %q is %s, model wants %s", fld.Name, dt, fld.Type))
			continue
		}
		if fld.Has(Primary) || fld.Has(NotNull) {
			for i, v := range vals {
				if v == nil {
					violations = append(violations, fmt.Sprintf("null in column %q at row %d", fld.Name, i))
					break
				}
			}
		}
		if (fld.Has(Primary) || fld.Has(Unique)) && fld.Type.Kind != frame.List && fld.Type.Kind != frame.Struct {
			seen := make(map[interface{}]int, len(vals))
			for i, v := range vals {
				if v == nil {
					continue
				}
				if first, dup := seen[v]; dup {
					violations = append(violations, fmt.Sprintf("duplicate value %v in column %q at rows %d and %d", v, fld.Name, first, i))
					break
				}
				seen[v] = i
			}
		}
	}
	if len(violations) > 0 {
		return errors.New(errors.ModelValidation, m.Label, strings.Join(violations, "; "))
	}
	return nil
}

// dtypeCompatible allows exact matches, any width (wider or narrower)
// within the same integer signedness family, and float32/float64 in either
// direction.
func dtypeCompatible(have, want frame.DType) bool {
	if have.Equal(want) {
		return true
	}
	if have.IsInteger() && want.IsInteger() {
		return have.IsUnsigned() == want.IsUnsigned()
	}
	if (have.Kind == frame.Float32 && want.Kind == frame.Float64) ||
		(have.Kind == frame.Float64 && want.Kind == frame.Float32) {
		return true
	}
	return false
}
