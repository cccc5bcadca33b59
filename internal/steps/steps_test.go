package steps

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/shaiso/Nightly/internal/config"
)

// Registry Tests

func TestRegistry(t *testing.T) {
	r := NewRegistry()

	if len(r.Types()) != 0 {
		t.Errorf("expected empty registry")
	}

	r.Register(StepTypeCommand, newCommandFromDef)
	if !r.Has(StepTypeCommand) {
		t.Error("should have command")
	}

	_, err := r.Get("unknown")
	if !errors.Is(err, ErrStepNotFound) {
		t.Errorf("expected ErrStepNotFound, got %v", err)
	}

	r.Unregister(StepTypeCommand)
	if r.Has(StepTypeCommand) {
		t.Error("should not have command after unregister")
	}
}

func TestDefaultRegistry(t *testing.T) {
	r := DefaultRegistry()

	types := r.Types()
	if len(types) != 2 || types[0] != StepTypeCommand || types[1] != StepTypeSQL {
		t.Errorf("unexpected types: %v", types)
	}
}

func TestRegistry_BuildKeepsOrder(t *testing.T) {
	r := DefaultRegistry()
	defs := []config.StepDef{
		{Name: "generate", Type: StepTypeCommand, Command: []string{"true"}},
		{Name: "load", Type: StepTypeSQL, SQL: "SELECT 1"},
		{Name: "aggregate", Type: StepTypeCommand, Command: []string{"true"}},
	}

	built, err := r.Build(defs, Deps{DB: &fakeDB{}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got := strings.Join(Names(built), ",")
	if got != "generate,load,aggregate" {
		t.Errorf("expected declaration order, got %s", got)
	}
}

func TestRegistry_BuildUnknownType(t *testing.T) {
	_, err := DefaultRegistry().Build([]config.StepDef{{Name: "x", Type: "http"}}, Deps{})
	if !errors.Is(err, ErrStepNotFound) {
		t.Errorf("expected ErrStepNotFound, got %v", err)
	}
}

func TestRegistry_BuildSQLWithoutDatabase(t *testing.T) {
	_, err := DefaultRegistry().Build([]config.StepDef{{Name: "x", Type: StepTypeSQL, SQL: "SELECT 1"}}, Deps{})
	if !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("expected ErrInvalidConfig, got %v", err)
	}
}

func TestRegistry_BuildSQLFromFile(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "load.sql"), []byte("INSERT INTO t VALUES (1);"), 0o644); err != nil {
		t.Fatal(err)
	}

	db := &fakeDB{}
	built, err := DefaultRegistry().Build(
		[]config.StepDef{{Name: "load", Type: StepTypeSQL, File: "load.sql"}},
		Deps{DB: db, BaseDir: dir},
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := built[0].Run(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if db.tx.executed != "INSERT INTO t VALUES (1);" {
		t.Errorf("unexpected sql: %q", db.tx.executed)
	}
}

func TestRegistry_BuildSQLMissingFile(t *testing.T) {
	_, err := DefaultRegistry().Build(
		[]config.StepDef{{Name: "load", Type: StepTypeSQL, File: "absent.sql"}},
		Deps{DB: &fakeDB{}, BaseDir: t.TempDir()},
	)
	if !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("expected ErrInvalidConfig, got %v", err)
	}
}

// Func Tests

func TestFunc(t *testing.T) {
	called := false
	s := NewFunc("noop", func(context.Context) error {
		called = true
		return nil
	})

	if s.Name() != "noop" {
		t.Errorf("expected noop, got %s", s.Name())
	}
	if err := s.Run(context.Background()); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if !called {
		t.Error("function was not called")
	}
}

// Command Step Tests

func TestCommandStep_Success(t *testing.T) {
	s, err := NewCommandStep("ok", []string{"sh", "-c", "exit 0"}, "", nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Run(context.Background()); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestCommandStep_NonZeroExit(t *testing.T) {
	s, err := NewCommandStep("bad", []string{"sh", "-c", "echo boom >&2; exit 3"}, "", nil)
	if err != nil {
		t.Fatal(err)
	}

	err = s.Run(context.Background())
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "exit status 3") || !strings.Contains(err.Error(), "boom") {
		t.Errorf("expected exit code and output in error, got %q", err)
	}
}

func TestCommandStep_EnvAndDir(t *testing.T) {
	dir := t.TempDir()
	s, err := NewCommandStep("env",
		[]string{"sh", "-c", `test "$NIGHTLY_TEST" = "yes" && touch marker`},
		dir,
		map[string]string{"NIGHTLY_TEST": "yes"},
	)
	if err != nil {
		t.Fatal(err)
	}

	if err := s.Run(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "marker")); err != nil {
		t.Errorf("expected marker in step dir: %v", err)
	}
}

func TestCommandStep_Cancelled(t *testing.T) {
	s, err := NewCommandStep("sleep", []string{"sleep", "10"}, "", nil)
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err = s.Run(ctx)
	if !errors.Is(err, ErrStepCancelled) {
		t.Errorf("expected ErrStepCancelled, got %v", err)
	}
}

func TestCommandStep_EmptyCommand(t *testing.T) {
	_, err := NewCommandStep("empty", nil, "", nil)
	if !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("expected ErrInvalidConfig, got %v", err)
	}
}

func TestMergeEnv(t *testing.T) {
	got := mergeEnv([]string{"A=1", "B=2"}, map[string]string{"B": "3", "C": "4"})
	want := "A=1,B=3,C=4"
	if strings.Join(got, ",") != want {
		t.Errorf("expected %s, got %v", want, got)
	}
}

// SQL Step Tests

func TestSQLStep_Commit(t *testing.T) {
	db := &fakeDB{}
	s, err := NewSQLStep("load", "SELECT 1", db)
	if err != nil {
		t.Fatal(err)
	}

	if err := s.Run(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !db.tx.committed {
		t.Error("expected commit")
	}
}

func TestSQLStep_ExecErrorRollsBack(t *testing.T) {
	db := &fakeDB{tx: &fakeTx{execErr: errors.New("relation does not exist")}}
	s, err := NewSQLStep("load", "SELECT * FROM missing", db)
	if err != nil {
		t.Fatal(err)
	}

	err = s.Run(context.Background())
	if err == nil || !strings.Contains(err.Error(), "relation does not exist") {
		t.Fatalf("expected exec error, got %v", err)
	}
	if db.tx.committed {
		t.Error("should not commit")
	}
	if !db.tx.rolledBack {
		t.Error("expected rollback")
	}
}

func TestSQLStep_BeginError(t *testing.T) {
	s, err := NewSQLStep("load", "SELECT 1", &fakeDB{beginErr: errors.New("connection refused")})
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Run(context.Background()); err == nil {
		t.Error("expected error")
	}
}

// fakes

type fakeDB struct {
	tx       *fakeTx
	beginErr error
}

func (f *fakeDB) Begin(context.Context) (pgx.Tx, error) {
	if f.beginErr != nil {
		return nil, f.beginErr
	}
	if f.tx == nil {
		f.tx = &fakeTx{}
	}
	return f.tx, nil
}

// fakeTx реализует только методы, которые вызывает SQLStep.
type fakeTx struct {
	pgx.Tx

	execErr    error
	executed   string
	committed  bool
	rolledBack bool
}

func (f *fakeTx) Exec(_ context.Context, sql string, _ ...any) (pgconn.CommandTag, error) {
	f.executed = sql
	return pgconn.CommandTag{}, f.execErr
}

func (f *fakeTx) Commit(context.Context) error {
	f.committed = true
	return nil
}

func (f *fakeTx) Rollback(context.Context) error {
	if !f.committed {
		f.rolledBack = true
	}
	return nil
}
