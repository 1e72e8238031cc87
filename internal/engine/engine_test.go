package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"gocell/internal/cellset"
	"gocell/internal/config"
	"gocell/internal/eval"
	"gocell/internal/fork"
	"gocell/internal/log"
	"gocell/internal/storage"
	"gocell/internal/storage/memstore"
	"gocell/internal/value"
)

func grid(rows ...string) string { return strings.Join(rows, "\n") + "\n" }

func salesStore(t *testing.T) *memstore.Store {
	t.Helper()
	tab, err := value.TableOf(value.MustSchema("id", "amount"),
		[]value.Value{value.Int(1), value.Int(10)},
		[]value.Value{value.Int(2), value.Int(20)},
		[]value.Value{value.Int(1), value.Int(5)},
	)
	if err != nil {
		t.Fatalf("TableOf failed: %v", err)
	}
	store := memstore.New()
	store.Put("sales", tab)
	return store
}

// startEngine returns a started engine with the sales table behind connector "db".
func startEngine(t *testing.T, cfg config.Config) *Engine {
	t.Helper()
	eng := New(cfg, WithLogger(&log.Testing{TB: t}), WithConnector("db", salesStore(t)))
	if err := eng.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	t.Cleanup(func() { _ = eng.Shutdown() })
	return eng
}

func load(t *testing.T, eng *Engine, src string) *cellset.Program {
	t.Helper()
	prog, err := eng.Load("test", src)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	return prog
}

func TestEngineStart(t *testing.T) {
	eng := New(config.Default())
	prog, err := cellset.Load("p", grid("1"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if _, err := eng.Invoke(context.Background(), prog, "", nil); err == nil {
		t.Fatalf("expected error invoking before Start")
	}
	if err := eng.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := eng.Start(); err == nil {
		t.Fatalf("expected error on second Start")
	}
	v, err := eng.Invoke(context.Background(), prog, "", nil)
	if err != nil {
		t.Fatalf("Invoke failed: %v", err)
	}
	if v.String() != "1" {
		t.Fatalf("expected 1, got %s", v)
	}
}

// infoCounter counts info messages, including those of loggers derived with With.
type infoCounter struct {
	log.Discard
	n *int
}

func (c infoCounter) Info(string, ...interface{})   { *c.n++ }
func (c infoCounter) With(...interface{}) log.Logger { return c }

func TestEngineLogsToRootByDefault(t *testing.T) {
	prev := log.Root
	t.Cleanup(func() { log.Root = prev })
	n := 0
	log.Root = infoCounter{n: &n}

	eng := New(config.Default())
	if err := eng.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected the start message on the root logger, got %d messages", n)
	}
}

func TestEnginePrograms(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want string
	}{
		{
			name: "loop body runs n times",
			src:  grid(">n = 0", "for 5", "\t>n = n + 1", "end", "return n"),
			want: "5",
		},
		{
			name: "zero iterations",
			src:  grid(">n = 0", "for 0", "\t>n = n + 1", "end", "return n"),
			want: "0",
		},
		{
			name: "loop over a sequence",
			src:  grid(`>s = ""`, `for ["a", "b", "c"]`, "\t>s = s + A2", "end", "return s"),
			want: "abc",
		},
		{
			name: "while loop",
			src:  grid(">i = 1", "for i < 100", "\t>i = i * 2", "end", "return i"),
			want: "128",
		},
		{
			name: "break keeps the loop value",
			src:  grid("for 10", "\tif A1 > 3", "\t\tbreak", "\tend", "end", "return A1"),
			want: "4",
		},
		{
			name: "next skips the rest of the body",
			src: grid(">s = 0", "for 6", "\tif A2 % 2 == 1", "\t\tnext", "\tend",
				"\t>s = s + A2", "end", "return s"),
			want: "12",
		},
		{
			name: "endless loop left by break",
			src:  grid(">n = 0", "for", "\t>n = n + 1", "\tif n == 7", "\t\tbreak", "\tend", "end", "return n"),
			want: "7",
		},
		{
			name: "if else",
			src:  grid("3", "if A1 > 5", `	"big"`, "else", `	"small"`, "end"),
			want: "small",
		},
		{
			name: "goto",
			src:  grid(">i = 0", ">i = i + 1", "if i < 4", "\tgoto A2", "end", "return i"),
			want: "4",
		},
		{
			name: "falling off the end returns the last value",
			src:  grid("1", "=A1 + 1", "// done"),
			want: "2",
		},
		{
			name: "assignment invalidates readers",
			src:  grid("1\t=A1 + 1", ">A1 = 10", "return isnull(B1)"),
			want: "true",
		},
		{
			name: "cursor loop",
			src:  grid(">s = 0", `for open("db", "sales")`, "\t>s = s + A2.amount", "end", "return s"),
			want: "35",
		},
		{
			name: "group and sum",
			src:  grid(`=open("db", "sales").groups(id, total=sum(amount)).fetch()`),
			want: "table(id, total)[{id: 1, total: 15}, {id: 2, total: 20}]",
		},
	}

	eng := startEngine(t, config.Default())
	for _, tt := range tests {
		prog := load(t, eng, tt.src)
		v, err := eng.Invoke(context.Background(), prog, "", nil)
		if err != nil {
			t.Fatalf("%s: Invoke failed: %+v", tt.name, err)
		}
		if v.String() != tt.want {
			t.Fatalf("%s: expected %s, got %s", tt.name, tt.want, v)
		}
	}
}

func TestEngineCollect(t *testing.T) {
	eng := startEngine(t, config.Default())
	prog := load(t, eng, grid("for 1..3", "return A1"))

	// 1. Collect mode gathers every return.
	v, err := eng.Collect(context.Background(), prog, "", nil)
	if err != nil {
		t.Fatalf("Collect failed: %v", err)
	}
	if v.String() != "[1, 2, 3]" {
		t.Fatalf("expected [1, 2, 3], got %s", v)
	}

	// 2. A plain invocation stops at the first return.
	v, err = eng.Invoke(context.Background(), prog, "", nil)
	if err != nil {
		t.Fatalf("Invoke failed: %v", err)
	}
	if v.String() != "1" {
		t.Fatalf("expected 1, got %s", v)
	}

	// 3. call@c collects inside a program too.
	prog = load(t, eng, grid("@cellset main", "call@c evens(6)", "return A1", "@cellset evens(n)",
		"for n", "\tif A1 % 2 == 0", "\t\treturn A1", "\tend", "end"))
	v, err = eng.Invoke(context.Background(), prog, "", nil)
	if err != nil {
		t.Fatalf("Invoke failed: %v", err)
	}
	if v.String() != "[2, 4, 6]" {
		t.Fatalf("expected [2, 4, 6], got %s", v)
	}
}

func TestEngineCall(t *testing.T) {
	eng := startEngine(t, config.Default())
	ctx := context.Background()

	prog := load(t, eng, grid(
		"@cellset main",
		"call add(2, 3)",
		"return A1 * 10",
		"@cellset add(a, b)",
		"return a + b",
		"@cellset fact(n)",
		"if n <= 1",
		"\treturn 1",
		"end",
		"call fact(n - 1)",
		"return n * A4",
		"@cellset second(a, b)",
		"return isnull(b)",
	))
	tests := []struct {
		cellset string
		args    []value.Value
		want    string
	}{
		{"main", nil, "50"},
		{"fact", []value.Value{value.Int(5)}, "120"},
		{"second", []value.Value{value.Int(1)}, "true"},
		{"second", []value.Value{value.Int(1), value.Int(2)}, "false"},
	}
	for _, tt := range tests {
		v, err := eng.Invoke(ctx, prog, tt.cellset, tt.args)
		if err != nil {
			t.Fatalf("%s: Invoke failed: %v", tt.cellset, err)
		}
		if v.String() != tt.want {
			t.Fatalf("%s: expected %s, got %s", tt.cellset, tt.want, v)
		}
	}

	if _, err := eng.Invoke(ctx, prog, "add", []value.Value{value.Int(1), value.Int(2), value.Int(3)}); err == nil {
		t.Fatalf("expected error for too many arguments")
	}
	if _, err := eng.Invoke(ctx, prog, "nowhere", nil); err == nil {
		t.Fatalf("expected error for unknown cellset")
	}
}

func TestEngineCallDepth(t *testing.T) {
	cfg := config.Default()
	cfg.MaxCallDepth = 10
	eng := startEngine(t, cfg)
	prog := load(t, eng, grid("@cellset down(n)", "call down(n + 1)"))

	_, err := eng.Invoke(context.Background(), prog, "down", []value.Value{value.Int(0)})
	if !errors.Is(err, ErrCallDepth) {
		t.Fatalf("expected ErrCallDepth, got %v", err)
	}
}

func TestEngineFailure(t *testing.T) {
	eng := startEngine(t, config.Default())
	ctx := context.Background()

	// 1. A failing cell fails the invocation with its coordinate.
	prog := load(t, eng, grid("1", "=A1 / 0", "return 2"))
	_, err := eng.Invoke(ctx, prog, "", nil)
	var rt *RuntimeError
	if !errors.As(err, &rt) || rt.Cell.String() != "A2" {
		t.Fatalf("expected RuntimeError at A2, got %v", err)
	}
	var ee *eval.EvalError
	if !errors.As(err, &ee) || ee.Kind != eval.DivideByZero {
		t.Fatalf("expected divide by zero, got %v", err)
	}

	// 2. A callee failure fails the call cell; Failure finds where it began.
	prog = load(t, eng, grid("@cellset main", "1", "call bad()", "@cellset bad", `=error("bad input")`))
	_, err = eng.Invoke(ctx, prog, "", nil)
	if !errors.As(err, &rt) || rt.Cellset != "main" || rt.Cell.String() != "A2" {
		t.Fatalf("expected failure of main!A2, got %v", err)
	}
	inner, ok := Failure(err)
	if !ok || inner.Cellset != "bad" || inner.Cell.String() != "A1" {
		t.Fatalf("expected innermost failure bad!A1, got %v", inner)
	}
	if full := fmt.Sprintf("%+v", err); !strings.Contains(full, "bad input") {
		t.Fatalf("expected cause chain in %q", full)
	}
}

func TestEngineOnError(t *testing.T) {
	eng := startEngine(t, config.Default())
	ctx := context.Background()

	tests := []struct {
		name string
		src  string
		want string
	}{
		{
			name: "divide by zero resumes at the handler",
			src:  grid("onerror A4", "=1 / 0", `return "unreached"`, "return A1"),
			want: "divide by zero",
		},
		{
			name: "callee failure is handled by the caller",
			src: grid("@cellset main", "onerror A4", "call bad()", `return "unreached"`, "return A1",
				"@cellset bad", `=error("no data")`),
			want: "no data",
		},
		{
			name: "handler inside a loop",
			src: grid(">n = 0", "for [1, 0, 2, 0]", "\tonerror B5", "\t=1 / A2", "\t>n = n + 1", "end",
				"return n"),
			want: "4",
		},
	}
	for _, tt := range tests {
		prog := load(t, eng, tt.src)
		v, err := eng.Invoke(ctx, prog, "", nil)
		if err != nil {
			t.Fatalf("%s: Invoke failed: %v", tt.name, err)
		}
		if !strings.Contains(v.String(), tt.want) {
			t.Fatalf("%s: expected %q, got %s", tt.name, tt.want, v)
		}
	}

	// A handler fires once; the next failure fails the frame.
	prog := load(t, eng, grid("onerror A3", "=1 / 0", "=1 / 0"))
	if _, err := eng.Invoke(ctx, prog, "", nil); err == nil {
		t.Fatalf("expected the second failure to fail the frame")
	}

	// A bare onerror disarms.
	prog = load(t, eng, grid("onerror A4", "onerror", "=1 / 0", "return 1"))
	if _, err := eng.Invoke(ctx, prog, "", nil); err == nil {
		t.Fatalf("expected failure after disarming")
	}
}

func TestEngineFork(t *testing.T) {
	cfg := config.Default()
	cfg.Workers = 4
	cfg.BlockSize = 1
	eng := startEngine(t, cfg)
	ctx := context.Background()

	// 1. Per-partition results of a sequence come back in partition order.
	prog := load(t, eng, grid("=[1, 2, 3, 4, 5, 6]", "fork A1, 3", "\t=A2.sum()", "end", "return A2"))
	v, err := eng.Invoke(ctx, prog, "", nil)
	if err != nil {
		t.Fatalf("Invoke failed: %+v", err)
	}
	if v.String() != "[3, 7, 11]" {
		t.Fatalf("expected [3, 7, 11], got %s", v)
	}

	// 2. Cursor partitions merge into one cursor in source order, for any partition count.
	serial, err := eng.Invoke(ctx, load(t, eng, grid(`=open("db", "sales").select(amount > 5).fetch()`)), "", nil)
	if err != nil {
		t.Fatalf("serial Invoke failed: %v", err)
	}
	for n := 1; n <= 5; n++ {
		prog = load(t, eng, grid(`=open("db", "sales")`, fmt.Sprintf("fork A1, %d", n),
			"\t=A2.select(amount > 5)", "end", "return A2.fetch()"))
		v, err = eng.Invoke(ctx, prog, "", nil)
		if err != nil {
			t.Fatalf("n=%d: Invoke failed: %+v", n, err)
		}
		if v.String() != serial.String() {
			t.Fatalf("n=%d: expected %s, got %s", n, serial, v)
		}
	}

	// 3. Table results of a cursor fork keep source order.
	want := "table(id, amount)[{id: 1, amount: 10}, {id: 2, amount: 20}, {id: 1, amount: 5}]"
	for n := 1; n <= 3; n++ {
		prog = load(t, eng, grid(`=open("db", "sales")`, fmt.Sprintf("fork A1, %d", n),
			"\t=A2.select(amount > 0).fetch()", "end", "return A2"))
		v, err = eng.Invoke(ctx, prog, "", nil)
		if err != nil {
			t.Fatalf("n=%d: Invoke failed: %+v", n, err)
		}
		if v.String() != want {
			t.Fatalf("n=%d: expected %s, got %s", n, want, v)
		}
	}

	// 4. Partitions read the parent's cells and variables.
	prog = load(t, eng, grid(">k = 100", "=[1, 2]", "fork A2", "\t=A3.sum() + k", "end", "return A3"))
	v, err = eng.Invoke(ctx, prog, "", nil)
	if err != nil {
		t.Fatalf("Invoke failed: %v", err)
	}
	if v.String() != "[101, 102]" {
		t.Fatalf("expected [101, 102], got %s", v)
	}
}

func TestEngineForkFailures(t *testing.T) {
	cfg := config.Default()
	cfg.Workers = 4
	eng := startEngine(t, cfg)
	ctx := context.Background()

	// 1. Nested fork fails the outer fork cell.
	prog := load(t, eng, grid("=[1, 2, 3, 4]", "fork A1, 2", "\tfork A2, 2", "\t\t=B3", "\tend", "end"))
	_, err := eng.Invoke(ctx, prog, "", nil)
	var rt *RuntimeError
	if !errors.Is(err, fork.ErrNestedFork) || !errors.As(err, &rt) || rt.Cell.String() != "A2" {
		t.Fatalf("expected nested fork failure at A2, got %v", err)
	}

	// 2. A failing partition is reported through ForkError and can be handled.
	prog = load(t, eng, grid("onerror A6", "=[1, 0, 2]", "fork A2, 3", "\t=1 / A3.m(1)", "end",
		"return A1"))
	v, err := eng.Invoke(ctx, prog, "", nil)
	if err != nil {
		t.Fatalf("Invoke failed: %v", err)
	}
	if !strings.Contains(v.String(), "divide by zero") {
		t.Fatalf("expected handled divide by zero, got %s", v)
	}

	prog = load(t, eng, grid("=[1, 0, 2]", "fork A1, 3", "\t=1 / A2.m(1)", "end"))
	_, err = eng.Invoke(ctx, prog, "", nil)
	var fe *fork.ForkError
	if !errors.As(err, &fe) || fe.Partition != 2 {
		t.Fatalf("expected partition 2 to fail, got %v", err)
	}
}

// countingStore counts the reads opened on and released by a memstore.
type countingStore struct {
	*memstore.Store
	opens, closes int
}

func (c *countingStore) Open(ctx context.Context, descriptor string) (storage.Handle, error) {
	c.opens++
	return c.Store.Open(ctx, descriptor)
}

func (c *countingStore) Close(h storage.Handle) error {
	c.closes++
	return c.Store.Close(h)
}

func TestEngineReleasesCursors(t *testing.T) {
	cnt := &countingStore{Store: salesStore(t)}
	eng := New(config.Default(), WithLogger(&log.Testing{TB: t}), WithConnector("cnt", cnt))
	if err := eng.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	t.Cleanup(func() { _ = eng.Shutdown() })
	ctx := context.Background()

	// 1. An unread cursor is closed when the frame returns.
	if _, err := eng.Invoke(ctx, load(t, eng, grid(`=open("cnt", "sales")`, "return 1")), "", nil); err != nil {
		t.Fatalf("Invoke failed: %v", err)
	}
	if cnt.opens != 1 || cnt.closes != 1 {
		t.Fatalf("return path: opens=%d closes=%d", cnt.opens, cnt.closes)
	}

	// 2. And when it fails.
	if _, err := eng.Invoke(ctx, load(t, eng, grid(`>c = open("cnt", "sales")`, "=1 / 0")), "", nil); err == nil {
		t.Fatalf("expected divide by zero")
	}
	if cnt.opens != 2 || cnt.closes != 2 {
		t.Fatalf("error path: opens=%d closes=%d", cnt.opens, cnt.closes)
	}

	// 3. A callee releases its own cursors but not the ones it was passed.
	prog := load(t, eng, grid(
		"@cellset main",
		`=open("cnt", "sales")`,
		"call peek(A1)",
		"return A1.fetch().len() * 10 + A2",
		"@cellset peek(p)",
		`=open("cnt", "sales")`,
		"return p.fetch(1).len()",
	))
	v, err := eng.Invoke(ctx, prog, "", nil)
	if err != nil {
		t.Fatalf("Invoke failed: %+v", err)
	}
	if v.String() != "21" {
		t.Fatalf("expected 21, got %s", v)
	}
	if cnt.opens != 4 || cnt.closes != 4 {
		t.Fatalf("call path: opens=%d closes=%d", cnt.opens, cnt.closes)
	}

	// 4. A returned cursor stays open along with the cursor it reads from.
	v, err = eng.Invoke(ctx, load(t, eng, grid(`=open("cnt", "sales")`, "=A1.select(amount > 5)", "return A2")), "", nil)
	if err != nil {
		t.Fatalf("Invoke failed: %v", err)
	}
	if v.Kind != value.KindCursor || cnt.closes != 4 {
		t.Fatalf("expected an open cursor result, got %s with closes=%d", v.Kind, cnt.closes)
	}
	tab, err := v.Cur.Fetch(ctx, 0)
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if tab.Len() != 2 || cnt.closes != 5 {
		t.Fatalf("expected 2 rows and the read released, got %d rows closes=%d", tab.Len(), cnt.closes)
	}
}

func TestEngineForkOwnership(t *testing.T) {
	cfg := config.Default()
	cfg.Workers = 4
	cfg.BlockSize = 1
	eng := startEngine(t, cfg)
	ctx := context.Background()

	// 1. Partitions cannot pull the parent's cursors.
	for _, src := range []string{
		grid(`=open("db", "sales")`, "fork [1, 2, 3], 3", "	=A1.fetch(1)", "end"),
		grid(`>c = open("db", "sales")`, "fork [1, 2, 3], 3", "	=c.fetch(1)", "end"),
	} {
		_, err := eng.Invoke(ctx, load(t, eng, src), "", nil)
		var fe *fork.ForkError
		if !errors.As(err, &fe) || !errors.Is(err, fork.ErrParentCursor) {
			t.Fatalf("expected a partition to fail on the parent cursor, got %v", err)
		}
	}

	// 2. The parent's cursor is untouched by the fork.
	prog := load(t, eng, grid(`=open("db", "sales")`, "fork [1, 2, 3], 3", "	=A2.sum() * 2", "end",
		"return A1.fetch().len()"))
	v, err := eng.Invoke(ctx, prog, "", nil)
	if err != nil {
		t.Fatalf("Invoke failed: %+v", err)
	}
	if v.String() != "3" {
		t.Fatalf("expected 3, got %s", v)
	}
}

func TestEngineCancel(t *testing.T) {
	eng := startEngine(t, config.Default())
	prog := load(t, eng, grid("for", "\t>n = 1"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := eng.Invoke(ctx, prog, "", nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestEngineConfiguredConnectors(t *testing.T) {
	cfg := config.Default()
	cfg.Connectors = map[string]config.Connector{
		"lite":  {Driver: "sqlite", DSN: ":memory:"},
		"files": {Driver: "file", Dir: t.TempDir()},
		"mem":   {Driver: "mem"},
	}
	eng := startEngine(t, cfg)
	if names := eng.Connectors().Names(); len(names) != 4 {
		t.Fatalf("expected 4 connectors, got %v", names)
	}

	prog := load(t, eng, grid(
		`=open("db", "sales").fetch()`,
		`=write("lite", "sales", A1)`,
		`=write("files", "sales", A1) + write("files", "sales", A1)`,
		`=open("lite", "SELECT id, amount FROM sales ORDER BY amount").fetch().amount`,
		`=open("files", "sales").fetch().sum(amount)`,
		"return [A2, A3, A4, A5]",
	))
	v, err := eng.Invoke(context.Background(), prog, "", nil)
	if err != nil {
		t.Fatalf("Invoke failed: %+v", err)
	}
	if v.String() != "[3, 6, [5, 10, 20], 70]" {
		t.Fatalf("unexpected result %s", v)
	}

	bad := New(config.Config{Connectors: map[string]config.Connector{"x": {Driver: "carrier-pigeon"}}})
	if err := bad.Start(); err == nil {
		t.Fatalf("expected error for an unknown driver")
	}
}
