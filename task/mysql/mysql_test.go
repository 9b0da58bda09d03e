package mysql

import (
	"testing"

	"github.com/capport/capport/task"
)

func TestInsertStmt(t *testing.T) {
	got := insertStmt("players", []string{"id", "name"})
	expected := "INSERT INTO `players` (`id`, `name`) VALUES (?, ?)"
	if got != expected {
		t.Errorf("wrong insert, expected %s, got %s", expected, got)
	}
}

func TestUpsertStmt(t *testing.T) {
	got := upsertStmt("players", []string{"id", "name"}, []string{"id"})
	expected := "INSERT INTO `players` (`id`, `name`) VALUES (?, ?) ON DUPLICATE KEY UPDATE `name` = VALUES(`name`)"
	if got != expected {
		t.Errorf("wrong upsert, expected %s, got %s", expected, got)
	}
}

func TestDSN(t *testing.T) {
	passthrough := dsn(task.ConnectionInfo{URL: "u:p@tcp(db:3306)/nhl"})
	if passthrough != "u:p@tcp(db:3306)/nhl" {
		t.Errorf("full dsn should pass through, got %s", passthrough)
	}
	built := dsn(task.ConnectionInfo{URL: "db:3306", User: "u", Password: "p", DB: "nhl"})
	if built != "u:p@tcp(db:3306)/nhl?parseTime=true" {
		t.Errorf("wrong built dsn, got %s", built)
	}
}
