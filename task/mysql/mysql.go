// Package mysql provides the mysql source and sink drivers on top of
// database/sql and go-sql-driver.
package mysql

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql" // register the mysql database/sql driver

	"github.com/capport/capport/errors"
	"github.com/capport/capport/frame"
	"github.com/capport/capport/model"
	"github.com/capport/capport/task"
)

const defaultTimeout = "1m"

var (
	_ task.Source = &MySQL{}
	_ task.Sink   = &MySQL{}
)

// MySQL executes a query into a frame, or emits a frame into a table.
type MySQL struct {
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
	task.Add("mysql", func() task.Task { return &MySQL{} })
}

// Description for mysql driver
func (m *MySQL) Description() string {
	return "a mysql source / sink"
}

// SampleConfig for mysql driver
func (m *MySQL) SampleConfig() string {
	return `    type: mysql
    connection: warehouse
    query: SELECT id, name FROM players
    output: PLAYERS`
}

// Inputs reports the cell read when used as a sink.
func (m *MySQL) Inputs() []string {
	if m.Input == "" {
		return nil
	}
	return []string{m.Input}
}

// Outputs reports the cell written when used as a source.
func (m *MySQL) Outputs() []string {
	if m.Output == "" {
		return nil
	}
	return []string{m.Output}
}

func (m *MySQL) open(ctx *task.Context) (*sql.DB, context.Context, context.CancelFunc, error) {
	info, err := ctx.Connection(m.Connection)
	if err != nil {
		return nil, nil, nil, err
	}
	db, err := sql.Open("mysql", dsn(info))
	if err != nil {
		return nil, nil, nil, err
	}
	timeout := m.Timeout
	if timeout == "" {
		timeout = defaultTimeout
	}
	d, err := time.ParseDuration(timeout)
	if err != nil {
		db.Close()
		return nil, nil, nil, errors.New(errors.ConfigValidate, ctx.Stage, "invalid timeout %q: %s", m.Timeout, err)
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

// dsn builds a go-sql-driver connection string: a value already carrying
// an @ passes through; host/db/credentials assemble otherwise.
func dsn(info task.ConnectionInfo) string {
	if strings.Contains(info.URL, "@") {
		return info.URL
	}
	cred := ""
	if info.User != "" {
		cred = info.User
		if info.Password != "" {
			cred += ":" + info.Password
		}
		cred += "@"
	}
	return fmt.Sprintf("%stcp(%s)/%s?parseTime=true", cred, info.URL, info.DB)
}

// Read streams the query result into a frame and publishes it whole.
func (m *MySQL) Read(ctx *task.Context) error {
	if m.Query == "" || m.Output == "" {
		return errors.New(errors.ConfigValidate, ctx.Stage, "mysql source needs query and output")
	}
	db, qctx, cancel, err := m.open(ctx)
	if err != nil {
		return err
	}
	defer cancel()
	defer db.Close()

	rows, err := db.QueryContext(qctx, m.Query)
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
	ctx.Logger().With("rows", out.NumRows()).With("connection", m.Connection).Infoln("mysql read")
	return ctx.Publish(m.Output, out)
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
// merge policy, transactionally.
func (m *MySQL) Write(ctx *task.Context) error {
	if m.Input == "" || m.Table == "" {
		return errors.New(errors.ConfigValidate, ctx.Stage, "mysql sink needs input and table")
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
	if len(m.OrderBy) > 0 {
		if in, err = in.SortBy(m.OrderBy); err != nil {
			return err
		}
	}

	merge := m.MergeType
	if merge == "" {
		merge = "replace"
	}
	if !ctx.Execute {
		ctx.Logger().
			With("intent", "write").
			With("table", m.Table).
			With("merge_type", merge).
			With("rows", in.NumRows()).
			Infoln("dry-run: skipping mysql write")
		return nil
	}

	db, qctx, cancel, err := m.open(ctx)
	if err != nil {
		return err
	}
	defer cancel()
	defer db.Close()

	tx, err := db.BeginTx(qctx, nil)
	if err != nil {
		return wrapIOErr(errors.SinkFail, ctx.Stage, qctx, err)
	}
	if err := m.writeTx(ctx, qctx, tx, in, mo, merge); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return wrapIOErr(errors.SinkFail, ctx.Stage, qctx, err)
	}
	ctx.Logger().With("rows", in.NumRows()).With("table", m.Table).With("merge_type", merge).Infoln("mysql written")
	return nil
}

func (m *MySQL) writeTx(ctx *task.Context, qctx context.Context, tx *sql.Tx, in *frame.Frame, mo *model.Model, merge string) error {
	if m.CreateTable && mo != nil {
		if _, err := tx.ExecContext(qctx, createTableStmt(m.Table, mo, m.primaryKey(mo))); err != nil {
			return wrapIOErr(errors.SinkFail, ctx.Stage, qctx, err)
		}
	}

	names := in.Schema().Names()
	if mo != nil {
		names = mo.Names()
	}

	var stmt string
	switch merge {
	case "replace":
		if _, err := tx.ExecContext(qctx, fmt.Sprintf("DELETE FROM %s", quoteIdent(m.Table))); err != nil {
			return wrapIOErr(errors.SinkFail, ctx.Stage, qctx, err)
		}
		stmt = insertStmt(m.Table, names)
	case "append":
		stmt = insertStmt(m.Table, names)
	case "upsert":
		pk := m.primaryKey(mo)
		if len(pk) == 0 {
			return errors.New(errors.ConfigValidate, ctx.Stage, "upsert needs a primary key")
		}
		stmt = upsertStmt(m.Table, names, pk)
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

func (m *MySQL) primaryKey(mo *model.Model) []string {
	if len(m.PrimaryKey) > 0 {
		return m.PrimaryKey
	}
	if mo != nil {
		return mo.PrimaryKey()
	}
	return nil
}

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
	return "`" + strings.Replace(name, "`", "``", -1) + "`"
}

func insertStmt(table string, names []string) string {
	quoted := make([]string, len(names))
	params := make([]string, len(names))
	for i, n := range names {
		quoted[i] = quoteIdent(n)
		params[i] = "?"
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		quoteIdent(table), strings.Join(quoted, ", "), strings.Join(params, ", "))
}

func upsertStmt(table string, names, pk []string) string {
	isKey := map[string]bool{}
	for _, k := range pk {
		isKey[k] = true
	}
	var sets []string
	for _, n := range names {
		if !isKey[n] {
			sets = append(sets, fmt.Sprintf("%s = VALUES(%s)", quoteIdent(n), quoteIdent(n)))
		}
	}
	base := insertStmt(table, names)
	if len(sets) == 0 {
		sets = []string{fmt.Sprintf("%s = %s", quoteIdent(pk[0]), quoteIdent(pk[0]))}
	}
	return fmt.Sprintf("%s ON DUPLICATE KEY UPDATE %s", base, strings.Join(sets, ", "))
}

func createTableStmt(table string, mo *model.Model, pk []string) string {
	cols := make([]string, 0, len(mo.Fields)+1)
	for _, fld := range mo.Fields {
		cols = append(cols, fmt.Sprintf("%s %s", quoteIdent(fld.Name), mysqlType(fld.Type)))
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

func mysqlType(dt frame.DType) string {
	switch dt.Kind {
	case frame.Bool:
		return "BOOLEAN"
	case frame.Int8:
		return "TINYINT"
	case frame.Int16:
		return "SMALLINT"
	case frame.Int32:
		return "INT"
	case frame.Int64:
		return "BIGINT"
	case frame.UInt8, frame.UInt16, frame.UInt32, frame.UInt64:
		return "BIGINT UNSIGNED"
	case frame.Float32:
		return "FLOAT"
	case frame.Float64:
		return "DOUBLE"
	case frame.Date:
		return "DATE"
	case frame.Time:
		return "TIME"
	case frame.Datetime:
		return "DATETIME"
	case frame.List, frame.Struct:
		return "JSON"
	default:
		return "TEXT"
	}
}
