package sqlstore

import (
	"context"
	"errors"
	"io"
	"testing"

	"gocell/internal/storage"
	"gocell/internal/value"
)

func openMemory(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), DefaultDriver, ":memory:")
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { _ = s.Shutdown() })
	return s
}

func TestQueryStreamsRows(t *testing.T) {
	s := openMemory(t)
	schema := value.MustSchema("id", "name", "amount")
	if err := s.CreateTable("orders", schema); err != nil {
		t.Fatalf("CreateTable failed: %v", err)
	}
	err := s.Insert("orders",
		value.MustRecord(schema, value.Int(1), value.Str("a"), value.Float(10.5)),
		value.MustRecord(schema, value.Int(2), value.Null(), value.Float(20)),
		value.MustRecord(schema, value.Int(3), value.Str("c"), value.Float(5)),
	)
	if err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	ctx := context.Background()
	c, err := storage.OpenCursor(ctx, s, `SELECT id, name FROM orders WHERE amount > 6 ORDER BY id`)
	if err != nil {
		t.Fatalf("OpenCursor failed: %v", err)
	}
	if got := c.Schema().String(); got != "(id, name)" {
		t.Fatalf("unexpected schema %s", got)
	}
	tab, err := c.Fetch(ctx, 0)
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	want := `table(id, name)[{id: 1, name: "a"}, {id: 2, name: null}]`
	if got := value.Tab(tab).String(); got != want {
		t.Fatalf("expected %s, got %s", want, got)
	}
	if _, err := c.Next(ctx); err != io.EOF {
		t.Fatalf("expected io.EOF, got %v", err)
	}
}

func TestCloseBeforeExhaustion(t *testing.T) {
	s := openMemory(t)
	ctx := context.Background()
	c, err := storage.OpenCursor(ctx, s, `SELECT 1 AS n UNION ALL SELECT 2`)
	if err != nil {
		t.Fatalf("OpenCursor failed: %v", err)
	}
	if _, err := c.Next(ctx); err != nil {
		t.Fatalf("Next failed: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	// The single connection must be free again after Close.
	if _, err := s.Exec(ctx, `CREATE TABLE t (x)`); err != nil {
		t.Fatalf("Exec after close failed: %v", err)
	}
}

func TestQueryErrors(t *testing.T) {
	s := openMemory(t)
	if _, err := s.Open(context.Background(), `SELECT * FROM missing`); err == nil {
		t.Fatalf("expected error for missing table")
	}
	rec := value.MustRecord(value.MustSchema("x"), value.List(value.Int(1)))
	_ = s.CreateTable("t", rec.Schema())
	if err := s.Insert("t", rec); !errors.Is(err, value.ErrTypeMismatch) {
		t.Fatalf("expected type mismatch for sequence column, got %v", err)
	}
}
