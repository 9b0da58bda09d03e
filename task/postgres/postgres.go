// Package postgres provides the postgres source and sink drivers on top of
// database/sql and lib/pq.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	_ "github.com/lib/pq" // register the postgres database/sql driver

	"github.com/capport/capport/errors"
	"github.com/capport/capport/frame"
	"github.com/capport/capport/model"
	"github.com/capport/capport/task"
)

const defaultTimeout = "1m"

var (
	_ task.Source = &Postgres{}
	_ task.Sink   = &Postgres{}
)

// Postgres executes a query into a frame, or emits a frame into a table.
type Postgres struct {
	Connection  string   `json:"connection"`
	Query       string   `json:"query"`
	Output      string   `json:"output"`
	Input       string   `json:"input"`
	Table       string   `json:"table"`
	Model       string   `json:"model"`
	MergeType   string   `json:"merge_type"`
	Strict      bool     `json:"strict"`
	CreateTable bool     `json:"create_table_if_not_exists"`
	PrimaryKey  []string `json:"primary_key"`
	OrderBy     []string `json:"order_by"`
	Timeout     string   `json:"timeout"`
}

func init() {
	task.Add("postgres", func() task.Task { return &Postgres{} })
}

// Description for postgres driver
func (p *Postgres) Description() string {
	return "a postgres source / sink"
}

// SampleConfig for postgres driver
func (p *Postgres) SampleConfig() string {
	return `    type: postgres
    connection: warehouse
    table: players
    input: PLAYERS
    merge_type: upsert`
}

// Inputs reports the cell read when used as a sink.
func (p *Postgres) Inputs() []string {
	if p.Input == "" {
		return nil
	}
	return []string{p.Input}
}

// Outputs reports the cell written when used as a source.
func (p *Postgres) Outputs() []string {
	if p.Output == "" {
		return nil
	}
	return []string{p.Output}
}

func (p *Postgres) open(ctx *task.Context) (*sql.DB, context.Context, context.CancelFunc, error) {
	info, err := ctx.Connection(p.Connection)
	if err != nil {
		return nil, nil, nil, err
	}
	db, err := sql.Open("postgres", dsn(info))
	if err != nil {
		return nil, nil, nil, err
	}
	timeout := p.Timeout
	if timeout == "" {
		timeout = defaultTimeout
	}
	d, err := time.ParseDuration(timeout)
	if err != nil {
		db.Close()
		return nil, nil, nil, errors.New(errors.ConfigValidate, ctx.Stage, "invalid timeout %q: %s", p.Timeout, err)
	}
	qctx, cancel := context.WithTimeout(context.Background(), d)
	go func() {
		select {
		case <-ctx.Done:
			cancel()
		case <-qctx.Done():
		}
	}()
	return db, qctx, cancel, nil
}

// dsn builds a connection string from a resolved connection template. A
// full URL wins; user/password/db fill in around it otherwise.
func dsn(info task.ConnectionInfo) string {
	if strings.Contains(info.URL, "://") {
		return info.URL
	}
	u := url.URL{Scheme: "postgres", Host: info.URL, Path: "/" + info.DB}
	if info.User != "" {
		u.User = url.UserPassword(info.User, info.Password)
	}
	q := u.Query()
	q.Set("sslmode", "disable")
	u.RawQuery = q.Encode()
	return u.String()
}

// Read streams the query result into a frame and publishes it whole.
func (p *Postgres) Read(ctx *task.Context) error {
	if p.Query == "" || p.Output == "" {
		return errors.New(errors.ConfigValidate, ctx.Stage, "postgres source needs query and output")
	}
	db, qctx, cancel, err := p.open(ctx)
	if err != nil {
		return err
	}
	defer cancel()
	defer db.Close()

	rows, err := db.QueryContext(qctx, p.Query)
	if err != nil {
		return wrapIOErr(errors.SourceFail, ctx.Stage, qctx, err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return errors.Wrap(errors.SourceFail, ctx.Stage, err)
	}
	var recs []map[string]interface{}
	for rows.Next() {
		vals := make([]interface{}, len(cols))
		ptrs := make([]interface{}, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return errors.Wrap(errors.SourceFail, ctx.Stage, err)
		}
		rec := make(map[string]interface{}, len(cols))
		for i, c := range cols {
			rec[c] = normalizeSQLValue(vals[i])
		}
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return wrapIOErr(errors.SourceFail, ctx.Stage, qctx, err)
	}

	var m *model.Model
	if p.Model != "" {
		if m, err = ctx.Model(p.Model); err != nil {
			return err
		}
	}
	out, err := task.FrameFromRecords(recs, m)
	if err != nil {
		return err
	}
	ctx.Logger().With("rows", out.NumRows()).With("connection", p.Connection).Infoln("postgres read")
	return ctx.Publish(p.Output, out)
}

func normalizeSQLValue(v interface{}) interface{} {
	switch x := v.(type) {
	case []byte:
		return string(x)
	case int32:
		return int64(x)
	}
	return v
}

func wrapIOErr(kind errors.Kind, stage string, qctx context.Context, err error) error {
	if qctx.Err() == context.DeadlineExceeded {
		return errors.Wrap(errors.Timeout, stage, err)
	}
	if qctx.Err() == context.Canceled {
		return errors.Wrap(errors.Cancelled, stage, err)
	}
	return errors.Wrap(kind, stage, err)
}

// Write emits the input frame into the configured table under the chosen
// merge policy. No partial write survives a failure: every merge runs in
// one transaction.
func (p *Postgres) Write(ctx *task.Context) error {
	if p.Input == "" || p.Table == "" {
		return errors.New(errors.ConfigValidate, ctx.Stage, "postgres sink needs input and table")
	}
	in, err := ctx.Read(p.Input)
	if err != nil {
		return err
	}
	var m *model.Model
	if p.Model != "" {
		if m, err = ctx.Model(p.Model); err != nil {
			return err
		}
		if p.Strict {
			if err := m.Validate(in); err != nil {
				return err
			}
		}
	}
	if len(p.OrderBy) > 0 {
		if in, err = in.SortBy(p.OrderBy); err != nil {
			return err
		}
	}

	merge := p.MergeType
	if merge == "" {
		merge = "replace"
	}
	if !ctx.Execute {
		ctx.Logger().
			With("intent", "write").
			With("table", p.Table).
			With("merge_type", merge).
			With("rows", in.NumRows()).
			Infoln("dry-run: skipping postgres write")
		return nil
	}

	db, qctx, cancel, err := p.open(ctx)
	if err != nil {
		return err
	}
	defer cancel()
	defer db.Close()

	tx, err := db.BeginTx(qctx, nil)
	if err != nil {
		return wrapIOErr(errors.SinkFail, ctx.Stage, qctx, err)
	}
	if err := p.writeTx(ctx, qctx, tx, in, m, merge); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return wrapIOErr(errors.SinkFail, ctx.Stage, qctx, err)
	}
	ctx.Logger().With("rows", in.NumRows()).With("table", p.Table).With("merge_type", merge).Infoln("postgres written")
	return nil
}

func (p *Postgres) writeTx(ctx *task.Context, qctx context.Context, tx *sql.Tx, in *frame.Frame, m *model.Model, merge string) error {
	if p.CreateTable && m != nil {
		if _, err := tx.ExecContext(qctx, createTableStmt(p.Table, m, p.primaryKey(m))); err != nil {
			return wrapIOErr(errors.SinkFail, ctx.Stage, qctx, err)
		}
	}

	names := in.Schema().Names()
	if m != nil {
		names = m.Names()
	}

	var stmt string
	switch merge {
	case "replace":
		if _, err := tx.ExecContext(qctx, fmt.Sprintf("DELETE FROM %s", quoteIdent(p.Table))); err != nil {
			return wrapIOErr(errors.SinkFail, ctx.Stage, qctx, err)
		}
		stmt = insertStmt(p.Table, names)
	case "append":
		stmt = insertStmt(p.Table, names)
	case "upsert":
		pk := p.primaryKey(m)
		if len(pk) == 0 {
			return errors.New(errors.ConfigValidate, ctx.Stage, "upsert needs a primary key")
		}
		stmt = upsertStmt(p.Table, names, pk)
	default:
		return errors.New(errors.ConfigValidate, ctx.Stage, "unknown merge_type %q", merge)
	}

	for row := 0; row < in.NumRows(); row++ {
		args := make([]interface{}, len(names))
		for i, name := range names {
			v, err := in.At(name, row)
			if err != nil {
				return err
			}
			args[i] = sqlValue(v)
		}
		if _, err := tx.ExecContext(qctx, stmt, args...); err != nil {
			return wrapIOErr(errors.SinkFail, ctx.Stage, qctx, err)
		}
	}
	return nil
}

func (p *Postgres) primaryKey(m *model.Model) []string {
	if len(p.PrimaryKey) > 0 {
		return p.PrimaryKey
	}
	if m != nil {
		return m.PrimaryKey()
	}
	return nil
}

// sqlValue converts canonical cell values into driver-friendly ones;
// composites serialize as json.
func sqlValue(v interface{}) interface{} {
	switch v.(type) {
	case []interface{}, map[string]interface{}:
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprint(v)
		}
		return string(b)
	}
	return v
}

func quoteIdent(name string) string {
	return `"` + strings.Replace(name, `"`, `""`, -1) + `"`
}

func insertStmt(table string, names []string) string {
	quoted := make([]string, len(names))
	params := make([]string, len(names))
	for i, n := range names {
		quoted[i] = quoteIdent(n)
		params[i] = fmt.Sprintf("$%d", i+1)
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		quoteIdent(table), strings.Join(quoted, ", "), strings.Join(params, ", "))
}

func upsertStmt(table string, names, pk []string) string {
	isKey := map[string]bool{}
	for _, k := range pk {
		isKey[k] = true
	}
	quotedPK := make([]string, len(pk))
	for i, k := range pk {
		quotedPK[i] = quoteIdent(k)
	}
	var sets []string
	for _, n := range names {
		if !isKey[n] {
			sets = append(sets, fmt.Sprintf("%s = EXCLUDED.%s", quoteIdent(n), quoteIdent(n)))
		}
	}
	base := insertStmt(table, names)
	if len(sets) == 0 {
		return fmt.Sprintf("%s ON CONFLICT (%s) DO NOTHING", base, strings.Join(quotedPK, ", "))
	}
	return fmt.Sprintf("%s ON CONFLICT (%s) DO UPDATE SET %s",
		base, strings.Join(quotedPK, ", "), strings.Join(sets, ", "))
}

func createTableStmt(table string, m *model.Model, pk []string) string {
	cols := make([]string, 0, len(m.Fields)+1)
	for _, fld := range m.Fields {
		cols = append(cols, fmt.Sprintf("%s %s", quoteIdent(fld.Name), pgType(fld.Type)))
	}
	if len(pk) > 0 {
		quoted := make([]string, len(pk))
		for i, k := range pk {
			quoted[i] = quoteIdent(k)
		}
		cols = append(cols, fmt.Sprintf("PRIMARY KEY (%s)", strings.Join(quoted, ", ")))
	}
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", quoteIdent(table), strings.Join(cols, ", "))
}

func pgType(dt frame.DType) string {
	switch dt.Kind {
	case frame.Bool:
		return "BOOLEAN"
	case frame.Int8, frame.Int16:
		return "SMALLINT"
	case frame.Int32:
		return "INTEGER"
	case frame.Int64, frame.UInt8, frame.UInt16, frame.UInt32, frame.UInt64:
		return "BIGINT"
	case frame.Float32:
		return "REAL"
	case frame.Float64:
		return "DOUBLE PRECISION"
	case frame.Date:
		return "DATE"
	case frame.Time:
		return "TIME"
	case frame.Datetime:
		return "TIMESTAMPTZ"
	case frame.List, frame.Struct:
		return "JSONB"
	default:
		return "TEXT"
	}
}
