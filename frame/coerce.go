package frame

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/capport/capport/errors"
)

// strftime-like tokens accepted by time_parse, mapped onto Go reference
// layout fragments.
var strftimeReplacer = strings.NewReplacer(
	"%Y", "2006",
	"%y", "06",
	"%m", "01",
	"%d", "02",
	"%H", "15",
	"%M", "04",
	"%S", "05",
	"%b", "Jan",
	"%B", "January",
	"%f", "000000",
	"%z", "-0700",
	"%Z", "MST",
	"%%", "%",
)

// GoLayout converts a strftime-like format to a Go time layout.
func GoLayout(format string) string {
	return strftimeReplacer.Replace(format)
}

// TimeParse parses a string column per the strftime-like format into the
// given time-family dtype.
func (f *Frame) TimeParse(name, format string, into DType) (*Frame, error) {
	switch into.Kind {
	case Date, Time, Datetime:
	default:
		return nil, errors.New(errors.SchemaType, "", "time_parse: target dtype %s is not a time type", into)
	}
	vals, dt, err := f.Column(name)
	if err != nil {
		return nil, err
	}
	if dt.Kind != Str {
		return nil, errors.New(errors.SchemaType, "", "time_parse: column %q is %s, not str", name, dt)
	}
	layout := GoLayout(format)
	out := make([]interface{}, len(vals))
	for i, v := range vals {
		if v == nil {
			continue
		}
		t, err := time.Parse(layout, v.(string))
		if err != nil {
			return nil, errors.New(errors.Coercion, "", "time_parse: row %d: cannot parse %q with format %q: %s", i, v, format, err)
		}
		out[i] = t
	}
	return f.WithColumn(name, into, out, true)
}

// UniformIDType coerces a set of identifier columns to a common integer
// dtype. Values already integral, integral floats and numeric strings all
// convert; anything else fails.
func (f *Frame) UniformIDType(cols []string, into DType) (*Frame, error) {
	if !into.IsInteger() {
		return nil, errors.New(errors.SchemaType, "", "uniform_id: target dtype %s is not an integer type", into)
	}
	out := f
	for _, name := range cols {
		vals, _, err := out.Column(name)
		if err != nil {
			return nil, err
		}
		converted := make([]interface{}, len(vals))
		for i, v := range vals {
			if v == nil {
				continue
			}
			cv, err := CoerceInteger(v, into)
			if err != nil {
				return nil, errors.New(errors.Coercion, "", "uniform_id: column %q row %d: %s", name, i, err)
			}
			converted[i] = cv
		}
		out, err = out.WithColumn(name, into, converted, true)
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

// CoerceInteger converts a value to the canonical representation of an
// integer dtype, failing on sign or integrality loss.
func CoerceInteger(v interface{}, into DType) (interface{}, error) {
	unsigned := into.IsUnsigned()
	switch x := v.(type) {
	case int64:
		if unsigned {
			if x < 0 {
				return nil, errors.New(errors.Coercion, "", "cannot convert negative %d to %s", x, into)
			}
			return uint64(x), nil
		}
		return x, nil
	case uint64:
		if unsigned {
			return x, nil
		}
		if x > math.MaxInt64 {
			return nil, errors.New(errors.Coercion, "", "%d overflows %s", x, into)
		}
		return int64(x), nil
	case float64:
		if x != math.Trunc(x) {
			return nil, errors.New(errors.Coercion, "", "cannot convert non-integral %v to %s", x, into)
		}
		return CoerceInteger(int64(x), into)
	case string:
		s := strings.TrimSpace(x)
		if unsigned {
			u, err := strconv.ParseUint(s, 10, 64)
			if err != nil {
				return nil, errors.New(errors.Coercion, "", "cannot convert %q to %s", x, into)
			}
			return u, nil
		}
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return nil, errors.New(errors.Coercion, "", "cannot convert %q to %s", x, into)
		}
		return n, nil
	}
	return nil, errors.New(errors.Coercion, "", "cannot convert %v (%T) to %s", v, v, into)
}

// Stringify renders a cell value for format templates and concatenation.
func Stringify(v interface{}) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case time.Time:
		return x.Format(time.RFC3339)
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64)
	case int64:
		return strconv.FormatInt(x, 10)
	case uint64:
		return strconv.FormatUint(x, 10)
	case bool:
		return strconv.FormatBool(x)
	}
	return fmt.Sprint(v)
}
