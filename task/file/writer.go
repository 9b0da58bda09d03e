package file

import (
	"encoding/csv"
	"encoding/json"
	"io/ioutil"
	"os"

	"github.com/capport/capport/errors"
	"github.com/capport/capport/frame"
	"github.com/capport/capport/task"
)

// Write reads the input cell, optionally validates against the declared
// model, and emits the frame to disk. Merge policies: replace overwrites
// the file, append adds rows. In dry-run mode the intended operation is
// logged and the write skipped, validation still runs.
func (f *File) Write(ctx *task.Context) error {
	if f.Input == "" {
		return errors.New(errors.ConfigValidate, ctx.Stage, "file sink has no input cell")
	}
	in, err := ctx.Read(f.Input)
	if err != nil {
		return err
	}
	if f.Model != "" && f.Strict {
		m, err := ctx.Model(f.Model)
		if err != nil {
			return err
		}
		if err := m.Validate(in); err != nil {
			return err
		}
	}
	if len(f.OrderBy) > 0 {
		if in, err = in.SortBy(f.OrderBy); err != nil {
			return err
		}
	}

	merge := f.MergeType
	if merge == "" {
		merge = "replace"
	}
	if !ctx.Execute {
		ctx.Logger().
			With("intent", "write").
			With("filepath", f.Filepath).
			With("merge_type", merge).
			With("rows", in.NumRows()).
			Infoln("dry-run: skipping file write")
		return nil
	}

	switch f.format() {
	case "json":
		if merge != "replace" {
			return errors.New(errors.SinkFail, ctx.Stage, "json sink only supports merge_type replace, got %q", merge)
		}
		err = f.writeJSON(in)
	default:
		err = f.writeCSV(in, merge)
	}
	if err != nil {
		return errors.Wrap(errors.SinkFail, ctx.Stage, err)
	}
	ctx.Logger().With("rows", in.NumRows()).With("filepath", f.Filepath).Infoln("file written")
	return nil
}

func (f *File) writeJSON(in *frame.Frame) error {
	data, err := json.MarshalIndent(in.Records(), "", "  ")
	if err != nil {
		return err
	}
	return ioutil.WriteFile(f.Filepath, data, 0644)
}

func (f *File) writeCSV(in *frame.Frame, merge string) error {
	flags := os.O_CREATE | os.O_WRONLY
	writeHeader := true
	switch merge {
	case "replace":
		flags |= os.O_TRUNC
	case "append":
		if fi, err := os.Stat(f.Filepath); err == nil && fi.Size() > 0 {
			writeHeader = false
		}
		flags |= os.O_APPEND
	default:
		return errors.New(errors.SinkFail, "", "csv sink does not support merge_type %q", merge)
	}

	fh, err := os.OpenFile(f.Filepath, flags, 0644)
	if err != nil {
		return err
	}
	defer fh.Close()

	w := csv.NewWriter(fh)
	names := in.Schema().Names()
	if writeHeader {
		if err := w.Write(names); err != nil {
			return err
		}
	}
	for row := 0; row < in.NumRows(); row++ {
		rec := make([]string, len(names))
		for i, name := range names {
			v, err := in.At(name, row)
			if err != nil {
				return err
			}
			rec[i] = frame.Stringify(v)
		}
		if err := w.Write(rec); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}
