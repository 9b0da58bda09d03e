package file

import (
	"encoding/csv"
	"io/ioutil"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/capport/capport/errors"
	"github.com/capport/capport/frame"
	"github.com/capport/capport/model"
	"github.com/capport/capport/task"
)

// Read loads the file, builds a frame (enforcing the model schema when one
// is declared) and publishes it whole to the output cell. On any failure
// nothing is published.
func (f *File) Read(ctx *task.Context) error {
	if f.Output == "" {
		return errors.New(errors.ConfigValidate, ctx.Stage, "file source has no output cell")
	}
	var m *model.Model
	if f.Model != "" {
		var err error
		if m, err = ctx.Model(f.Model); err != nil {
			return err
		}
	}

	var (
		out *frame.Frame
		err error
	)
	switch f.format() {
	case "json":
		out, err = f.readJSON(m)
	default:
		out, err = f.readCSV(m)
	}
	if err != nil {
		return errors.Wrap(errors.SourceFail, ctx.Stage, err)
	}
	ctx.Logger().With("rows", out.NumRows()).With("filepath", f.Filepath).Infoln("file read")
	return ctx.Publish(f.Output, out)
}

func (f *File) readJSON(m *model.Model) (*frame.Frame, error) {
	data, err := ioutil.ReadFile(f.Filepath)
	if err != nil {
		return nil, err
	}
	return task.FrameFromJSON(data, m)
}

func (f *File) readCSV(m *model.Model) (*frame.Frame, error) {
	fh, err := os.Open(f.Filepath)
	if err != nil {
		return nil, err
	}
	defer fh.Close()

	rows, err := csv.NewReader(fh).ReadAll()
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		if m != nil {
			return frame.New(m.Schema(), make([][]interface{}, len(m.Fields)))
		}
		return frame.Empty(), nil
	}
	header := rows[0]

	var schema frame.Schema
	if m != nil {
		schema = m.Schema()
	} else {
		schema = make(frame.Schema, len(header))
		for i, name := range header {
			schema[i] = frame.Field{Name: name, Type: frame.Scalar(frame.Str)}
		}
	}

	colOf := map[string]int{}
	for i, name := range header {
		colOf[name] = i
	}
	cols := make([][]interface{}, len(schema))
	for i, fld := range schema {
		src, ok := colOf[fld.Name]
		if !ok {
			return nil, errors.New(errors.SchemaMissing, "", "csv %s has no column %q", f.Filepath, fld.Name)
		}
		col := make([]interface{}, len(rows)-1)
		for j, row := range rows[1:] {
			v, err := parseCSVValue(row[src], fld.Type)
			if err != nil {
				return nil, err
			}
			col[j] = v
		}
		cols[i] = col
	}
	return frame.New(schema, cols)
}

// parseCSVValue coerces a csv cell string into the canonical value of the
// target dtype. The empty string is null for every non-str dtype.
func parseCSVValue(s string, dt frame.DType) (interface{}, error) {
	if s == "" && dt.Kind != frame.Str {
		return nil, nil
	}
	switch dt.Kind {
	case frame.Str:
		return s, nil
	case frame.Bool:
		b, err := strconv.ParseBool(strings.TrimSpace(s))
		if err != nil {
			return nil, errors.New(errors.Coercion, "", "cannot parse %q as bool", s)
		}
		return b, nil
	case frame.Float32, frame.Float64:
		n, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return nil, errors.New(errors.Coercion, "", "cannot parse %q as %s", s, dt)
		}
		return n, nil
	case frame.Date:
		t, err := time.Parse("2006-01-02", strings.TrimSpace(s))
		if err != nil {
			return nil, errors.New(errors.Coercion, "", "cannot parse %q as date", s)
		}
		return t, nil
	case frame.Datetime:
		t, err := time.Parse(time.RFC3339, strings.TrimSpace(s))
		if err != nil {
			return nil, errors.New(errors.Coercion, "", "cannot parse %q as datetime", s)
		}
		return t, nil
	default:
		if dt.IsInteger() {
			return frame.CoerceInteger(s, dt)
		}
	}
	return nil, errors.New(errors.Coercion, "", "csv cannot carry dtype %s", dt)
}
