package postgres

import (
	"testing"

	"github.com/capport/capport/frame"
	"github.com/capport/capport/model"
	"github.com/capport/capport/task"
)

func TestInsertStmt(t *testing.T) {
	got := insertStmt("players", []string{"id", "name"})
	expected := `INSERT INTO "players" ("id", "name") VALUES ($1, $2)`
	if got != expected {
		t.Errorf("wrong insert, expected %s, got %s", expected, got)
	}
}

func TestUpsertStmt(t *testing.T) {
	got := upsertStmt("players", []string{"id", "name", "team"}, []string{"id"})
	expected := `INSERT INTO "players" ("id", "name", "team") VALUES ($1, $2, $3) ` +
		`ON CONFLICT ("id") DO UPDATE SET "name" = EXCLUDED."name", "team" = EXCLUDED."team"`
	if got != expected {
		t.Errorf("wrong upsert, expected %s, got %s", expected, got)
	}

	keysOnly := upsertStmt("t", []string{"id"}, []string{"id"})
	if keysOnly != `INSERT INTO "t" ("id") VALUES ($1) ON CONFLICT ("id") DO NOTHING` {
		t.Errorf("key-only upsert should do nothing on conflict, got %s", keysOnly)
	}
}

func TestCreateTableStmt(t *testing.T) {
	m := &model.Model{Label: "player", Fields: []model.Field{
		{Name: "id", Type: frame.Scalar(frame.UInt64), Constraints: []string{model.Primary}},
		{Name: "name", Type: frame.Scalar(frame.Str)},
		{Name: "joined", Type: frame.Scalar(frame.Date)},
	}}
	got := createTableStmt("players", m, m.PrimaryKey())
	expected := `CREATE TABLE IF NOT EXISTS "players" ("id" BIGINT, "name" TEXT, "joined" DATE, PRIMARY KEY ("id"))`
	if got != expected {
		t.Errorf("wrong create table, expected %s, got %s", expected, got)
	}
}

func TestDSN(t *testing.T) {
	full := dsn(task.ConnectionInfo{URL: "postgres://u:p@db:5432/nhl"})
	if full != "postgres://u:p@db:5432/nhl" {
		t.Errorf("full urls pass through, got %s", full)
	}
	built := dsn(task.ConnectionInfo{URL: "db:5432", User: "u", Password: "p", DB: "nhl"})
	if built != "postgres://u:p@db:5432/nhl?sslmode=disable" {
		t.Errorf("wrong built dsn, got %s", built)
	}
}

func TestSQLValueSerializesComposites(t *testing.T) {
	if got := sqlValue([]interface{}{int64(1), int64(2)}); got != "[1,2]" {
		t.Errorf("lists should serialize as json, got %v", got)
	}
	if got := sqlValue(int64(7)); got != int64(7) {
		t.Errorf("scalars pass through, got %v", got)
	}
}
