package postgres

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"testing"
	"time"

	"metarecon/internal/infra/persistence/postgres/testutil"
	"metarecon/internal/ledger/core"
	"metarecon/pkg/domain"
)

func finishedRun(op string) core.Run {
	run := core.NewRun(op, []string{"Program/Program.json"}, time.Now())
	rep := domain.NewReport(op)
	rep.Changed = 2
	run.Finish(rep, time.Now())
	return run
}

func TestNewStoreCreatesTableAndHydrates(t *testing.T) {
	ctx := context.Background()
	_, conn := testutil.NewStubDB()
	restore := OverrideSQLOpen(func(_, _ string) (*sql.DB, error) { return testutil.Open(conn), nil })
	defer restore()

	store, err := NewStore(ctx, "")
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	var sawDDL bool
	for _, stmt := range conn.Execs {
		if strings.Contains(stmt, "CREATE TABLE IF NOT EXISTS metarecon_runs") {
			sawDDL = true
		}
	}
	if !sawDDL {
		t.Fatalf("expected runs table DDL, got %v", conn.Execs)
	}
	run := finishedRun("assign")
	if err := store.Save(ctx, run); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := store.Save(ctx, run); err != nil {
		t.Fatalf("resave: %v", err)
	}
	if n := len(conn.Tables["metarecon_runs"]); n != 1 {
		t.Fatalf("expected upsert to keep one row, got %d", n)
	}
	_ = store.Close()

	reopened, err := NewStore(ctx, "ignored")
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	got, err := reopened.Get(ctx, run.ID)
	if err != nil || got.Report.Changed != 2 || reopened.Driver() != core.DriverPostgres {
		t.Fatalf("run not hydrated: %+v %v", got, err)
	}
}

func TestNewStoreErrors(t *testing.T) {
	ctx := context.Background()
	cases := []struct {
		name  string
		setup func(c *testutil.StubConn)
		open  error
	}{
		{name: "open", open: errors.New("dial")},
		{name: "ping", setup: func(c *testutil.StubConn) { c.FailPing = true }},
		{name: "ddl", setup: func(c *testutil.StubConn) { c.FailExec = true }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			db, conn := testutil.NewStubDB()
			if tc.setup != nil {
				tc.setup(conn)
			}
			restore := OverrideSQLOpen(func(_, _ string) (*sql.DB, error) { return db, tc.open })
			defer restore()
			if _, err := NewStore(ctx, ""); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}

func TestSaveFailuresLeaveReadModelUntouched(t *testing.T) {
	ctx := context.Background()
	cases := map[string]func(c *testutil.StubConn){
		"begin":  func(c *testutil.StubConn) { c.FailBegin = true },
		"exec":   func(c *testutil.StubConn) { c.FailExec = true },
		"commit": func(c *testutil.StubConn) { c.FailCommit = true },
	}
	for name, fail := range cases {
		t.Run(name, func(t *testing.T) {
			db, conn := testutil.NewStubDB()
			restore := OverrideSQLOpen(func(_, _ string) (*sql.DB, error) { return db, nil })
			defer restore()
			store, err := NewStore(ctx, "")
			if err != nil {
				t.Fatalf("NewStore: %v", err)
			}
			fail(conn)
			if err := store.Save(ctx, finishedRun("dedupe")); err == nil {
				t.Fatalf("expected save error")
			}
			runs, _ := store.List(ctx, core.ListOptions{})
			if len(runs) != 0 {
				t.Fatalf("read model updated despite failure")
			}
		})
	}
}
