package frame

import (
	"fmt"
	"strings"
	"time"
)

// Kind enumerates the primitive and composite column types a Frame can hold.
type Kind uint8

const (
	Invalid Kind = iota
	Bool
	Int8
	Int16
	Int32
	Int64
	UInt8
	UInt16
	UInt32
	UInt64
	Float32
	Float64
	Str
	Date
	Time
	Datetime
	List
	Struct
)

var kindNames = map[Kind]string{
	Bool:     "bool",
	Int8:     "int8",
	Int16:    "int16",
	Int32:    "int32",
	Int64:    "int64",
	UInt8:    "uint8",
	UInt16:   "uint16",
	UInt32:   "uint32",
	UInt64:   "uint64",
	Float32:  "float32",
	Float64:  "float64",
	Str:      "str",
	Date:     "date",
	Time:     "time",
	Datetime: "datetime",
}

var namedKinds = func() map[string]Kind {
	m := make(map[string]Kind, len(kindNames))
	for k, n := range kindNames {
		m[n] = k
	}
	return m
}()

// DType is the type of a column. List and Struct kinds carry their element
// and field types respectively.
type DType struct {
	Kind   Kind
	Elem   *DType
	Fields []Field
}

// Scalar returns the DType for a non-composite kind.
func Scalar(k Kind) DType {
	return DType{Kind: k}
}

// ListOf returns the DType of a list with the given element type.
func ListOf(elem DType) DType {
	return DType{Kind: List, Elem: &elem}
}

// StructOf returns the DType of a struct with the given fields.
func StructOf(fields ...Field) DType {
	return DType{Kind: Struct, Fields: fields}
}

func (d DType) String() string {
	switch d.Kind {
	case List:
		return fmt.Sprintf("list<%s>", d.Elem.String())
	case Struct:
		parts := make([]string, len(d.Fields))
		for i, f := range d.Fields {
			parts[i] = f.Name + ":" + f.Type.String()
		}
		return fmt.Sprintf("struct<%s>", strings.Join(parts, ","))
	default:
		if n, ok := kindNames[d.Kind]; ok {
			return n
		}
		return "invalid"
	}
}

// Equal reports whether two dtypes are identical, fields included.
func (d DType) Equal(other DType) bool {
	if d.Kind != other.Kind {
		return false
	}
	switch d.Kind {
	case List:
		return d.Elem.Equal(*other.Elem)
	case Struct:
		if len(d.Fields) != len(other.Fields) {
			return false
		}
		for i := range d.Fields {
			if d.Fields[i].Name != other.Fields[i].Name || !d.Fields[i].Type.Equal(other.Fields[i].Type) {
				return false
			}
		}
		return true
	default:
		return true
	}
}

// IsInteger reports whether the dtype is any signed or unsigned integer.
func (d DType) IsInteger() bool {
	switch d.Kind {
	case Int8, Int16, Int32, Int64, UInt8, UInt16, UInt32, UInt64:
		return true
	}
	return false
}

// IsUnsigned reports whether the dtype is an unsigned integer.
func (d DType) IsUnsigned() bool {
	switch d.Kind {
	case UInt8, UInt16, UInt32, UInt64:
		return true
	}
	return false
}

// ParseDType parses the configuration string form of a dtype, e.g. "str",
// "uint64", "list<struct<id:int64,name:str>>".
func ParseDType(s string) (DType, error) {
	p := &dtypeParser{src: strings.TrimSpace(s)}
	d, err := p.parse()
	if err != nil {
		return DType{}, err
	}
	if p.pos != len(p.src) {
		return DType{}, fmt.Errorf("trailing characters in dtype %q at offset %d", s, p.pos)
	}
	return d, nil
}

type dtypeParser struct {
	src string
	pos int
}

func (p *dtypeParser) parse() (DType, error) {
	name := p.ident()
	switch name {
	case "list":
		if !p.eat('<') {
			return DType{}, fmt.Errorf("expected '<' after list in %q", p.src)
		}
		elem, err := p.parse()
		if err != nil {
			return DType{}, err
		}
		if !p.eat('>') {
			return DType{}, fmt.Errorf("expected '>' closing list in %q", p.src)
		}
		return ListOf(elem), nil
	case "struct":
		if !p.eat('<') {
			return DType{}, fmt.Errorf("expected '<' after struct in %q", p.src)
		}
		var fields []Field
		for {
			fname := p.ident()
			if fname == "" {
				return DType{}, fmt.Errorf("expected field name in struct dtype %q", p.src)
			}
			if !p.eat(':') {
				return DType{}, fmt.Errorf("expected ':' after field %q in %q", fname, p.src)
			}
			ftype, err := p.parse()
			if err != nil {
				return DType{}, err
			}
			fields = append(fields, Field{Name: fname, Type: ftype})
			if p.eat(',') {
				continue
			}
			break
		}
		if !p.eat('>') {
			return DType{}, fmt.Errorf("expected '>' closing struct in %q", p.src)
		}
		return StructOf(fields...), nil
	default:
		if k, ok := namedKinds[name]; ok {
			return Scalar(k), nil
		}
		return DType{}, fmt.Errorf("unknown dtype %q", name)
	}
}

func (p *dtypeParser) ident() string {
	start := p.pos
	for p.pos < len(p.src) {
		c := p.src[p.pos]
		if c == '<' || c == '>' || c == ',' || c == ':' {
			break
		}
		p.pos++
	}
	return strings.TrimSpace(p.src[start:p.pos])
}

func (p *dtypeParser) eat(c byte) bool {
	if p.pos < len(p.src) && p.src[p.pos] == c {
		p.pos++
		return true
	}
	return false
}

// checkValue verifies that v belongs to the canonical Go representation of
// the dtype: bool, int64, uint64, float64, string, time.Time,
// []interface{} and map[string]interface{}. nil is a null of any dtype.
func checkValue(v interface{}, d DType) error {
	if v == nil {
		return nil
	}
	switch d.Kind {
	case Bool:
		if _, ok := v.(bool); ok {
			return nil
		}
	case Int8, Int16, Int32, Int64:
		if _, ok := v.(int64); ok {
			return nil
		}
	case UInt8, UInt16, UInt32, UInt64:
		if _, ok := v.(uint64); ok {
			return nil
		}
	case Float32, Float64:
		if _, ok := v.(float64); ok {
			return nil
		}
	case Str:
		if _, ok := v.(string); ok {
			return nil
		}
	case Date, Time, Datetime:
		if _, ok := v.(time.Time); ok {
			return nil
		}
	case List:
		if vs, ok := v.([]interface{}); ok {
			for _, ev := range vs {
				if err := checkValue(ev, *d.Elem); err != nil {
					return err
				}
			}
			return nil
		}
	case Struct:
		if m, ok := v.(map[string]interface{}); ok {
			for _, f := range d.Fields {
				if err := checkValue(m[f.Name], f.Type); err != nil {
					return err
				}
			}
			return nil
		}
	}
	return fmt.Errorf("value %v (%T) does not fit dtype %s", v, v, d)
}

// InferDType guesses the dtype of a scalar literal from its Go value.
func InferDType(v interface{}) (DType, interface{}, error) {
	switch x := v.(type) {
	case nil:
		return Scalar(Str), nil, nil
	case bool:
		return Scalar(Bool), x, nil
	case int:
		return Scalar(Int64), int64(x), nil
	case int64:
		return Scalar(Int64), x, nil
	case uint64:
		return Scalar(UInt64), x, nil
	case float64:
		return Scalar(Float64), x, nil
	case string:
		return Scalar(Str), x, nil
	case time.Time:
		return Scalar(Datetime), x, nil
	}
	return DType{}, nil, fmt.Errorf("cannot infer dtype of %v (%T)", v, v)
}
