// Package mongodb provides the mongodb source and sink drivers on top of
// mgo.
package mongodb

import (
	"time"

	mgo "gopkg.in/mgo.v2"
	"gopkg.in/mgo.v2/bson"

	"github.com/capport/capport/errors"
	"github.com/capport/capport/model"
	"github.com/capport/capport/task"
)

const defaultTimeout = "1m"

var (
	_ task.Source = &MongoDB{}
	_ task.Sink   = &MongoDB{}
)

// MongoDB reads a filtered collection into a frame, or emits a frame into
// a collection document by document.
type MongoDB struct {
	Connection string                 `json:"connection"`
	Collection string                 `json:"collection"`
	Filter     map[string]interface{} `json:"filter"`
	Output     string                 `json:"output"`
	Input      string                 `json:"input"`
	Model      string                 `json:"model"`
	MergeType  string                 `json:"merge_type"`
	Strict     bool                   `json:"strict"`
	PrimaryKey []string               `json:"primary_key"`
	Timeout    string                 `json:"timeout"`
}

func init() {
	task.Add("mongodb", func() task.Task { return &MongoDB{} })
}

// Description for mongodb driver
func (m *MongoDB) Description() string {
	return "a mongodb source / sink"
}

// SampleConfig for mongodb driver
func (m *MongoDB) SampleConfig() string {
	return `    type: mongodb
    connection: docstore
    collection: players
    filter: {active: true}
    output: PLAYERS`
}

// Inputs reports the cell read when used as a sink.
func (m *MongoDB) Inputs() []string {
	if m.Input == "" {
		return nil
	}
	return []string{m.Input}
}

// Outputs reports the cell written when used as a source.
func (m *MongoDB) Outputs() []string {
	if m.Output == "" {
		return nil
	}
	return []string{m.Output}
}

func (m *MongoDB) dial(ctx *task.Context) (*mgo.Session, *mgo.Collection, error) {
	info, err := ctx.Connection(m.Connection)
	if err != nil {
		return nil, nil, err
	}
	timeout := m.Timeout
	if timeout == "" {
		timeout = defaultTimeout
	}
	d, err := time.ParseDuration(timeout)
	if err != nil {
		return nil, nil, errors.New(errors.ConfigValidate, ctx.Stage, "invalid timeout %q: %s", m.Timeout, err)
	}
	sess, err := mgo.DialWithTimeout(info.URL, d)
	if err != nil {
		return nil, nil, errors.Wrap(errors.SourceFail, ctx.Stage, err)
	}
	sess.SetSyncTimeout(d)
	db := info.DB
	if db == "" {
		db = sess.DB("").Name
	}
	return sess, sess.DB(db).C(m.Collection), nil
}

// Read runs the document filter and publishes the matching documents as
// one frame.
func (m *MongoDB) Read(ctx *task.Context) error {
	if m.Collection == "" || m.Output == "" {
		return errors.New(errors.ConfigValidate, ctx.Stage, "mongodb source needs collection and output")
	}
	sess, coll, err := m.dial(ctx)
	if err != nil {
		return err
	}
	defer sess.Close()

	var docs []bson.M
	if err := coll.Find(bson.M(m.Filter)).All(&docs); err != nil {
		return errors.Wrap(errors.SourceFail, ctx.Stage, err)
	}
	recs := make([]map[string]interface{}, len(docs))
	for i, doc := range docs {
		delete(doc, "_id")
		recs[i] = normalizeDoc(doc)
	}

	var mo *model.Model
	if m.Model != "" {
		if mo, err = ctx.Model(m.Model); err != nil {
			return err
		}
	}
	out, err := task.FrameFromRecords(recs, mo)
	if err != nil {
		return err
	}
	ctx.Logger().With("rows", out.NumRows()).With("collection", m.Collection).Infoln("mongodb read")
	return ctx.Publish(m.Output, out)
}

// normalizeDoc rewrites bson documents into the canonical value families.
func normalizeDoc(doc bson.M) map[string]interface{} {
	out := make(map[string]interface{}, len(doc))
	for k, v := range doc {
		out[k] = normalizeValue(v)
	}
	return out
}

func normalizeValue(v interface{}) interface{} {
	switch x := v.(type) {
	case bson.M:
		return normalizeDoc(x)
	case map[string]interface{}:
		return normalizeDoc(bson.M(x))
	case []interface{}:
		out := make([]interface{}, len(x))
		for i, ev := range x {
			out[i] = normalizeValue(ev)
		}
		return out
	case int:
		return int64(x)
	case int32:
		return int64(x)
	case float32:
		return float64(x)
	}
	return v
}

// Write emits the input frame into the collection under the chosen merge
// policy: replace removes every document first, append inserts, upsert
// updates by primary key.
func (m *MongoDB) Write(ctx *task.Context) error {
	if m.Input == "" || m.Collection == "" {
		return errors.New(errors.ConfigValidate, ctx.Stage, "mongodb sink needs input and collection")
	}
	in, err := ctx.Read(m.Input)
	if err != nil {
		return err
	}
	var mo *model.Model
	if m.Model != "" {
		if mo, err = ctx.Model(m.Model); err != nil {
			return err
		}
		if m.Strict {
			if err := mo.Validate(in); err != nil {
				return err
			}
		}
	}

	merge := m.MergeType
	if merge == "" {
		merge = "replace"
	}
	if !ctx.Execute {
		ctx.Logger().
			With("intent", "write").
			With("collection", m.Collection).
			With("merge_type", merge).
			With("rows", in.NumRows()).
			Infoln("dry-run: skipping mongodb write")
		return nil
	}

	sess, coll, err := m.dial(ctx)
	if err != nil {
		return err
	}
	defer sess.Close()

	recs := in.Records()
	switch merge {
	case "replace":
		if _, err := coll.RemoveAll(nil); err != nil {
			return errors.Wrap(errors.SinkFail, ctx.Stage, err)
		}
		fallthrough
	case "append":
		for _, rec := range recs {
			if err := coll.Insert(bson.M(rec)); err != nil {
				return errors.Wrap(errors.SinkFail, ctx.Stage, err)
			}
		}
	case "upsert":
		pk := m.PrimaryKey
		if len(pk) == 0 && mo != nil {
			pk = mo.PrimaryKey()
		}
		if len(pk) == 0 {
			return errors.New(errors.ConfigValidate, ctx.Stage, "upsert needs a primary key")
		}
		for _, rec := range recs {
			sel := bson.M{}
			for _, k := range pk {
				sel[k] = rec[k]
			}
			if _, err := coll.Upsert(sel, bson.M(rec)); err != nil {
				return errors.Wrap(errors.SinkFail, ctx.Stage, err)
			}
		}
	default:
		return errors.New(errors.ConfigValidate, ctx.Stage, "unknown merge_type %q", merge)
	}
	ctx.Logger().With("rows", len(recs)).With("collection", m.Collection).With("merge_type", merge).Infoln("mongodb written")
	return nil
}
