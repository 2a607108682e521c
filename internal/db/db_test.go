package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"testing/fstest"
)

func openMemory(t *testing.T) *sql.DB {
	t.Helper()

	conn, err := sql.Open("sqlite", fmt.Sprintf("file:db_%s?mode=memory&cache=shared", t.Name()))
	if err != nil {
		t.Fatalf("sql.Open: %v", err)
	}

	conn.SetMaxOpenConns(1)
	t.Cleanup(func() { conn.Close() })

	return conn
}

func TestOpen_CreatesSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "acsbridge.db")

	conn, err := Open(context.Background(), Config{Path: path})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer conn.Close()

	for _, table := range []string{"devices", "access_events", "sync_cursors", "schema_migrations"} {
		var name string

		err := conn.QueryRow(`SELECT name FROM sqlite_master WHERE type='table' AND name=?`, table).Scan(&name)
		if err != nil {
			t.Errorf("table %s missing: %v", table, err)
		}
	}
}

func TestMigrate_Idempotent(t *testing.T) {
	conn := openMemory(t)
	ctx := context.Background()

	if err := Migrate(ctx, conn); err != nil {
		t.Fatalf("first Migrate: %v", err)
	}

	if err := Migrate(ctx, conn); err != nil {
		t.Fatalf("second Migrate: %v", err)
	}

	var n int
	if err := conn.QueryRow(`SELECT COUNT(*) FROM schema_migrations`).Scan(&n); err != nil {
		t.Fatalf("count: %v", err)
	}

	if n != 1 {
		t.Errorf("expected 1 applied migration, got %d", n)
	}
}

func TestMigrate_OrderAndFailureRollback(t *testing.T) {
	conn := openMemory(t)

	fsys := fstest.MapFS{
		"0002_second.sql": {Data: []byte(`INSERT INTO t(v) VALUES ('second');`)},
		"0001_first.sql":  {Data: []byte(`CREATE TABLE t (v TEXT);`)},
		"0003_broken.sql": {Data: []byte(`INSERT INTO missing(v) VALUES (1);`)},
		"README.md":       {Data: []byte(`ignored`)},
	}

	err := migrate(context.Background(), conn, fsys)
	if err == nil {
		t.Fatal("expected error from broken migration")
	}

	var n int
	if err := conn.QueryRow(`SELECT COUNT(*) FROM schema_migrations`).Scan(&n); err != nil {
		t.Fatalf("count: %v", err)
	}

	if n != 2 {
		t.Errorf("expected versions 1 and 2 applied, got %d", n)
	}
}

func TestParseVersion(t *testing.T) {
	tests := []struct {
		in      string
		want    int
		wantErr bool
	}{
		{"0001_init.sql", 1, false},
		{"0010_events.sql", 10, false},
		{"0000_base.sql", 0, false},
		{"init.sql", 0, true},
		{"abc_init.sql", 0, true},
	}

	for _, tt := range tests {
		got, err := parseVersion(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("parseVersion(%q) err = %v", tt.in, err)
			continue
		}

		if got != tt.want {
			t.Errorf("parseVersion(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestWorker_CommitRollbackAndClose(t *testing.T) {
	conn := openMemory(t)
	ctx := context.Background()

	if _, err := conn.Exec(`CREATE TABLE kv (k TEXT PRIMARY KEY)`); err != nil {
		t.Fatalf("create: %v", err)
	}

	w := NewWorker(conn)

	if err := w.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `INSERT INTO kv(k) VALUES ('a')`)
		return err
	}); err != nil {
		t.Fatalf("commit job: %v", err)
	}

	boom := errors.New("boom")
	if err := w.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `INSERT INTO kv(k) VALUES ('b')`); err != nil {
			return err
		}
		return boom
	}); !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}

	w.Close()
	w.Close()

	if err := w.Do(ctx, func(context.Context, *sql.Tx) error { return nil }); !errors.Is(err, ErrWorkerClosed) {
		t.Errorf("expected ErrWorkerClosed, got %v", err)
	}

	var n int
	if err := conn.QueryRow(`SELECT COUNT(*) FROM kv`).Scan(&n); err != nil {
		t.Fatalf("count: %v", err)
	}

	if n != 1 {
		t.Errorf("expected only the committed row, got %d", n)
	}
}
