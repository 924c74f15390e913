package database

import (
	"path/filepath"
	"strings"
	"testing"
)

func TestBuildPostgresDSNDefaults(t *testing.T) {
	dsn, err := buildPostgresDSN(Config{User: "candor", Name: "candor"})
	if err != nil {
		t.Fatalf("build dsn: %v", err)
	}

	expected := "postgres://candor@localhost:5432/candor?TimeZone=UTC&application_name=candor&sslmode=disable"
	if dsn != expected {
		t.Fatalf("expected %q, got %q", expected, dsn)
	}
}

func TestBuildPostgresDSNEscapesCredentials(t *testing.T) {
	dsn, err := buildPostgresDSN(Config{
		User:     "feedback",
		Password: "p@ss/word",
		Name:     "candor",
		Host:     "db.internal",
		Port:     6543,
		Options:  map[string]string{"sslmode": "require"},
	})
	if err != nil {
		t.Fatalf("build dsn: %v", err)
	}

	if !containsAll(dsn, "feedback:p%40ss%2Fword@db.internal:6543/candor", "sslmode=require") {
		t.Fatalf("dsn missing expected components: %q", dsn)
	}
	if strings.Contains(dsn, "sslmode=disable") {
		t.Fatalf("option override ignored: %q", dsn)
	}
}

func TestBuildPostgresDSNValidatesOverride(t *testing.T) {
	if _, err := buildPostgresDSN(Config{}); err == nil {
		t.Fatalf("expected error for missing credentials")
	}
	if _, err := buildPostgresDSN(Config{DSN: "postgres://u@h:notaport/db"}); err == nil {
		t.Fatalf("expected error for malformed dsn")
	}
	dsn, err := buildPostgresDSN(Config{DSN: "host=db user=u dbname=d"})
	if err != nil || dsn != "host=db user=u dbname=d" {
		t.Fatalf("expected override to pass through, got %q, %v", dsn, err)
	}
}

func TestBuildMySQLDSN(t *testing.T) {
	dsn, err := buildMySQLDSN(Config{
		User:     "candor",
		Password: "secret",
		Name:     "feedback",
		Host:     "mysql.internal",
		Options:  map[string]string{"tls": "skip-verify"},
	})
	if err != nil {
		t.Fatalf("build dsn: %v", err)
	}

	if !containsAll(dsn, "candor:secret@tcp(mysql.internal:3306)/feedback?", "charset=utf8mb4", "parseTime=true", "tls=skip-verify") {
		t.Fatalf("dsn missing expected components: %q", dsn)
	}
}

func TestBuildMySQLDSNRequiresUserAndName(t *testing.T) {
	if _, err := buildMySQLDSN(Config{Host: "localhost"}); err == nil {
		t.Fatalf("expected error for missing credentials")
	}
}

func TestSQLiteDSN(t *testing.T) {
	dsn, memory, err := sqliteDSN(Config{})
	if err != nil || !memory || dsn != sqliteMemoryDSN {
		t.Fatalf("expected shared memory dsn, got %q (memory=%v, err=%v)", dsn, memory, err)
	}

	path := filepath.Join(t.TempDir(), "nested", "candor.sqlite")
	dsn, memory, err = sqliteDSN(Config{Path: path})
	if err != nil {
		t.Fatalf("file dsn: %v", err)
	}
	if memory || !strings.HasPrefix(dsn, "file:"+filepath.ToSlash(path)) || !strings.Contains(dsn, "_journal_mode=WAL") {
		t.Fatalf("unexpected file dsn %q", dsn)
	}
}

func containsAll(value string, parts ...string) bool {
	for _, part := range parts {
		if !strings.Contains(value, part) {
			return false
		}
	}
	return true
}
