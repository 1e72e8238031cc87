package filestore

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"gocell/internal/storage"
	"gocell/internal/value"
)

var users = value.MustSchema("id", "name", "score")

func newStore(t *testing.T) (*Store, string) {
	t.Helper()
	dir := t.TempDir()
	fs, err := New(dir)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	t.Cleanup(func() { _ = fs.Shutdown() })
	return fs, dir
}

// Basic: create table, verify file exists, read schema.
func TestFilestore_CreateTableAndSchema(t *testing.T) {
	fs, dir := newStore(t)

	if err := fs.CreateTable("users", users); err != nil {
		t.Fatalf("CreateTable failed: %v", err)
	}
	if err := fs.CreateTable("users", users); err == nil {
		t.Fatalf("expected error creating a table twice")
	}

	tables, err := fs.ListTables()
	if err != nil {
		t.Fatalf("ListTables failed: %v", err)
	}
	if len(tables) != 1 || tables[0] != "users" {
		t.Fatalf("unexpected tables: %v", tables)
	}

	schema, err := fs.TableSchema("users")
	if err != nil {
		t.Fatalf("TableSchema failed: %v", err)
	}
	if !schema.Equal(users) {
		t.Fatalf("unexpected schema: %v", schema)
	}

	if _, err := os.Stat(filepath.Join(dir, "users.gcb")); err != nil {
		t.Fatalf("file not created: %v", err)
	}
}

func TestFilestore_RejectsPathNames(t *testing.T) {
	fs, _ := newStore(t)
	for _, name := range []string{"", "../x", "a/b", ".hidden"} {
		if err := fs.CreateTable(name, users); err == nil {
			t.Fatalf("expected invalid table name error for %q", name)
		}
	}
}

// Insert → re-open → stream rows through a cursor.
func TestFilestore_InsertAndStream(t *testing.T) {
	fs, dir := newStore(t)
	if err := fs.CreateTable("users", users); err != nil {
		t.Fatalf("CreateTable failed: %v", err)
	}

	rows := []*value.Record{
		value.MustRecord(users, value.Int(1), value.Str("Alice"), value.Decimal(decimal.RequireFromString("9.5"))),
		value.MustRecord(users, value.Int(2), value.Str("Bob"), value.Null()),
	}
	if err := fs.Insert("users", rows[0]); err != nil {
		t.Fatalf("Insert row1 failed: %v", err)
	}
	if err := fs.Insert("users", rows[1]); err != nil {
		t.Fatalf("Insert row2 failed: %v", err)
	}
	if err := fs.Shutdown(); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}

	fs2, err := New(dir)
	if err != nil {
		t.Fatalf("re-open failed: %v", err)
	}
	defer fs2.Shutdown()

	ctx := context.Background()
	c, err := storage.OpenCursor(ctx, fs2, "users")
	if err != nil {
		t.Fatalf("OpenCursor failed: %v", err)
	}
	for i, want := range rows {
		got, err := c.Next(ctx)
		if err != nil {
			t.Fatalf("Next %d failed: %v", i, err)
		}
		if got.String() != want.String() {
			t.Fatalf("row %d: expected %s, got %s", i, want, got)
		}
	}
	if _, err := c.Next(ctx); err != io.EOF {
		t.Fatalf("expected io.EOF, got %v", err)
	}
	if c.State() != value.CursorExhausted {
		t.Fatalf("expected exhausted cursor, got %s", c.State())
	}
	if err := c.Close(); err != nil {
		t.Fatalf("Close after exhaustion failed: %v", err)
	}
}

func TestFilestore_InsertRejectsForeignSchema(t *testing.T) {
	fs, _ := newStore(t)
	if err := fs.CreateTable("users", users); err != nil {
		t.Fatalf("CreateTable failed: %v", err)
	}
	other := value.MustRecord(value.MustSchema("id"), value.Int(1))
	if err := fs.Insert("users", other); err == nil {
		t.Fatalf("expected schema mismatch error")
	}
	tab, err := fs.Scan(context.Background(), "users")
	if err != nil {
		t.Fatalf("Scan failed: %v", err)
	}
	if tab.Len() != 0 {
		t.Fatalf("rejected insert must not write rows, got %d", tab.Len())
	}
}

// A logged append that never reached the table file is replayed on startup.
func TestFilestore_RecoversLoggedAppend(t *testing.T) {
	fs, dir := newStore(t)
	if err := fs.CreateTable("users", users); err != nil {
		t.Fatalf("CreateTable failed: %v", err)
	}
	schemaOnly, err := os.Stat(filepath.Join(dir, "users.gcb"))
	if err != nil {
		t.Fatalf("stat failed: %v", err)
	}

	var payload bytes.Buffer
	row := value.MustRecord(users, value.Int(7), value.Str("Eve"), value.Float(1.5))
	if err := writeRow(&payload, row); err != nil {
		t.Fatalf("writeRow failed: %v", err)
	}
	// Simulate a crash between journaling and appending: garbage after the header stands
	// for a torn write.
	if err := fs.wal.logAppend(walRecord{table: "users", baseSize: schemaOnly.Size(), payload: payload.Bytes()}); err != nil {
		t.Fatalf("logAppend failed: %v", err)
	}
	f, err := os.OpenFile(filepath.Join(dir, "users.gcb"), os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	_, _ = f.Write([]byte{tagInt, 1, 2})
	_ = f.Close()
	_ = fs.Shutdown()

	fs2, err := New(dir)
	if err != nil {
		t.Fatalf("recovery failed: %v", err)
	}
	defer fs2.Shutdown()

	tab, err := fs2.Scan(context.Background(), "users")
	if err != nil {
		t.Fatalf("Scan failed: %v", err)
	}
	if tab.Len() != 1 || tab.Row(0).String() != row.String() {
		t.Fatalf("unexpected rows after recovery: %v", value.Tab(tab))
	}
	if rec, err := fs2.wal.pending(); err != nil || rec != nil {
		t.Fatalf("journal should be empty after recovery, got %v, %v", rec, err)
	}
}

func TestCodecRoundTripNestedValues(t *testing.T) {
	day := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	tab, err := value.TableOf(users,
		[]value.Value{value.Int(1), value.Str("a"), value.Float(0.5)},
		[]value.Value{value.Int(2), value.Null(), value.Bool(true)},
	)
	if err != nil {
		t.Fatalf("TableOf failed: %v", err)
	}
	in := value.List(
		value.Date(day),
		value.SetOf(value.NewSet(value.Int(1), value.Str("x"))),
		value.Tab(tab),
		value.Decimal(decimal.RequireFromString("-12.25")),
	)

	var buf bytes.Buffer
	if err := (Codec{}).Encode(&buf, in); err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	out, err := (Codec{}).Decode(&buf)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if !value.Equal(in, out) || in.String() != out.String() {
		t.Fatalf("expected %s, got %s", in, out)
	}
}

func TestCodecRejectsCursor(t *testing.T) {
	tab, _ := value.TableOf(users)
	err := (Codec{}).Encode(io.Discard, value.Cur(value.TableCursor(tab)))
	if !errors.Is(err, value.ErrTypeMismatch) {
		t.Fatalf("expected type mismatch, got %v", err)
	}
}

func TestSpillRunReadsBackAndRemovesFile(t *testing.T) {
	dir := t.TempDir()
	rec, err := value.NewRecord(users, []value.Value{value.Int(7), value.Str("g"), value.Decimal(decimal.RequireFromString("1.5"))})
	if err != nil {
		t.Fatalf("NewRecord failed: %v", err)
	}
	items := []value.Value{
		value.List(value.Rec(rec), value.Int(3)),
		value.List(value.Rec(rec), value.Null()),
	}

	run, err := Spill(dir, items)
	if err != nil {
		t.Fatalf("Spill failed: %v", err)
	}
	files, _ := filepath.Glob(filepath.Join(dir, "gocell-run-*"))
	if len(files) != 1 {
		t.Fatalf("expected one run file, got %v", files)
	}
	for i, want := range items {
		got, err := run.Next()
		if err != nil {
			t.Fatalf("item %d: Next failed: %v", i, err)
		}
		if got.String() != want.String() {
			t.Fatalf("item %d: expected %s, got %s", i, want, got)
		}
	}
	if _, err := run.Next(); err != io.EOF {
		t.Fatalf("expected io.EOF after the last item, got %v", err)
	}
	if err := run.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if _, err := os.Stat(files[0]); !os.IsNotExist(err) {
		t.Fatalf("run file should be removed on Close, got %v", err)
	}
}
