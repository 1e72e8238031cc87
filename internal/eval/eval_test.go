package eval

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"gocell/internal/fork"
	"gocell/internal/lang"
	"gocell/internal/log"
	"gocell/internal/storage"
	"gocell/internal/storage/memstore"
	"gocell/internal/value"
)

type testEnv struct {
	cells map[lang.Coord]value.Value
	vars  map[string]value.Value
}

func (e *testEnv) Cell(c lang.Coord) value.Value { return e.cells[c] }

func (e *testEnv) Var(name string) (value.Value, bool) {
	v, ok := e.vars[name]
	return v, ok
}

func salesEnv(t *testing.T) *testEnv {
	t.Helper()
	sales, err := value.TableOf(value.MustSchema("id", "amount"),
		[]value.Value{value.Int(1), value.Int(10)},
		[]value.Value{value.Int(2), value.Int(20)},
		[]value.Value{value.Int(1), value.Int(5)},
	)
	if err != nil {
		t.Fatalf("TableOf: %v", err)
	}
	names, err := value.TableOf(value.MustSchema("id", "name"),
		[]value.Value{value.Int(1), value.Str("a")},
		[]value.Value{value.Int(2), value.Str("b")},
	)
	if err != nil {
		t.Fatalf("TableOf: %v", err)
	}
	return &testEnv{
		cells: map[lang.Coord]value.Value{{Row: 1, Col: 1}: value.Int(42)},
		vars:  map[string]value.Value{"T": value.Tab(sales), "N": value.Tab(names)},
	}
}

func evalString(t *testing.T, c *Context, env Env, src string) (value.Value, error) {
	t.Helper()
	n, err := lang.ParseExpr(src, lang.Coord{Row: 2, Col: 2})
	if err != nil {
		t.Fatalf("parse %q: %v", src, err)
	}
	return Eval(c, env, n)
}

func mustEval(t *testing.T, c *Context, env Env, src string) value.Value {
	t.Helper()
	v, err := evalString(t, c, env, src)
	if err != nil {
		t.Fatalf("eval %q: %v", src, err)
	}
	return v
}

func TestExpressions(t *testing.T) {
	env := salesEnv(t)
	c := &Context{Ctx: context.Background()}
	tests := []struct {
		src  string
		want string
	}{
		{"1 + 2 * 3", "7"},
		{"7 / 2", "3.5"},
		{"7 \\ 2", "3"},
		{`"a" + "b"`, "ab"},
		{"null + 1", "null"},
		{"null < 1", "true"},
		{"not null", "true"},
		{"1 < 2 and null", "false"},
		{"A1 + 1", "43"},
		{"1..4", "[1, 2, 3, 4]"},
		{"3..1", "[]"},
		{"[3, 1, 2].sort()", "[1, 2, 3]"},
		{"[3, 1, 2].sort@z()", "[3, 2, 1]"},
		{"[3, 1, 2].sort(desc=true)", "[3, 2, 1]"},
		{`{a: 1, b: "x"}.b`, "x"},
		{"[10, 20, 30][-1]", "30"},
		{"[10, 20, 30].m(2)", "20"},
		{`if(1 > 2, error("not lazy"), "lazy")`, "lazy"},
		{"ifn(null, 5)", "5"},
		{"isnull(null)", "true"},
		{`upper("abc")`, "ABC"},
		{`mid("hello", 2, 3)`, "ell"},
		{`left("hello", 2)`, "he"},
		{`"hello".pos("ll")`, "3"},
		{`split("a,b", ",")`, `["a", "b"]`},
		{`like("report.txt", "*.txt")`, "true"},
		{`regex("2024-05", "(\\d+)-(\\d+)")`, `["2024", "05"]`},
		{"round(2.345, 2)", "2.35"},
		{"power(2, 10)", "1024"},
		{"lcm(4, 6)", "12"},
		{"bitxor(6, 3)", "5"},
		{"permut(5, 2)", "20"},
		{"mae([1, 2], [4, 6])", "3.5"},
		{"dis([3, 4])", "5"},
		{"dis([1, 2], [4, 6])", "5"},
		{"dis@a([1, 2], [4, 6])", "7"},
		{"dis@am([1, 2], [4, 6])", "3.5"},
		{"abs(-3)", "3"},
		{"len([1, 2, 3])", "3"},
		{"type(1.5)", "float"},
		{`year(date("2024-03-05"))`, "2024"},
		{"month(date(2024, 3, 5))", "3"},
		{"to(3)", "[1, 2, 3]"},
		{"[1, 2, 2, 3].id()", "[1, 2, 3]"},
		{"[1, 2].union([2, 3])", "[1, 2, 3]"},
		{"[1, 2, 3].isect([2, 3, 4])", "[2, 3]"},
		{"[1, 2, 3].diff([2])", "[1, 3]"},
		{"[1, 2].conj([2])", "[1, 2, 2]"},
		{"set(1, 1, 2)", "set[1, 2]"},
		{"[1, 2, 3].iterate(~~ + ~, 0)", "6"},
		{"[1, 2, 3, 4].iterate(~~ + ~, 0, ~~ >= 3)", "3"},
		{"[1, 2, 3].select(~ > 1)", "[2, 3]"},
		{"[5, 6, 7].select(# != 2)", "[5, 7]"},
		{"[5, 6, 7].pos(6)", "2"},
		{"[1, 2].insert(1, 0)", "[0, 1, 2]"},
		{"[1, 2].insert(0, 3, 4)", "[1, 2, 3, 4]"},
		{"sum(1, null, 2)", "3"},
		{"max([4, 9, 2])", "9"},
		{"[1, null].count()", "2"},
		{"[1, null].count(~)", "1"},
		{"[].sum()", "null"},
	}
	for _, tt := range tests {
		got := mustEval(t, c, env, tt.src)
		if got.String() != tt.want {
			t.Fatalf("%s: expected %s, got %s", tt.src, tt.want, got)
		}
	}
}

func TestTableAlgebra(t *testing.T) {
	env := salesEnv(t)
	c := &Context{Ctx: context.Background()}
	tests := []struct {
		src  string
		want string
	}{
		{"T.groups(id, total=sum(amount))", "table(id, total)[{id: 1, total: 15}, {id: 2, total: 20}]"},
		{"T.groups(id, n=count())", "table(id, n)[{id: 1, n: 2}, {id: 2, n: 1}]"},
		{"T.select(amount > 5).sum(amount)", "30"},
		{"T.sort(amount).amount", "[5, 10, 20]"},
		{"T.sort@z(amount).m(1).amount", "20"},
		{"T.count()", "3"},
		{"T.avg(amount)", "11.666666666666666"},
		{"T.new(id, double=amount * 2)", "table(id, double)[{id: 1, double: 20}, {id: 2, double: 40}, {id: 1, double: 10}]"},
		{"T.derive(big=amount > 8).big", "[true, true, false]"},
		{"T.group(id).len()", "2"},
		{"T.group(id).m(1)", "table(id, amount)[{id: 1, amount: 10}, {id: 1, amount: 5}]"},
		{"T.join(N, id).name", `["a", "b", "a"]`},
		{"T.join(N.select(id == 2), id, id).len()", "1"},
		{"T.join@1(N.select(id == 2), id).name", `[null, "b", null]`},
		{"T.select(# > 1).len()", "2"},
		{"T.top(-1, amount).amount", "[20]"},
		{"T.fields()", `["id", "amount"]`},
		{"T.pivot(id, id, amount).fields()", `["id", "1", "2"]`},
	}
	for _, tt := range tests {
		got := mustEval(t, c, env, tt.src)
		if got.String() != tt.want {
			t.Fatalf("%s: expected %s, got %s", tt.src, tt.want, got)
		}
	}
}

func TestCursorPipeline(t *testing.T) {
	env := salesEnv(t)
	c := &Context{Ctx: context.Background()}
	tests := []struct {
		src  string
		want string
	}{
		{"cursor(T).select(amount > 5).groups(id, total=sum(amount)).fetch()", "table(id, total)[{id: 1, total: 10}, {id: 2, total: 20}]"},
		{"cursor(T).sum(amount)", "35"},
		{"cursor(T).fetch(2).len()", "2"},
		{"cursor(T).new(x=amount).fetch().x", "[10, 20, 5]"},
		{"cursor(T).derive(k=id * 10).fetch().k", "[10, 20, 10]"},
		{"cursor(T).join(N, id).fetch().name", `["a", "b", "a"]`},
		{"cursor(T).iterate(~~ + amount, 0)", "35"},
		{"cursor(T).sort(amount).amount", "[5, 10, 20]"},
	}
	for _, tt := range tests {
		got := mustEval(t, c, env, tt.src)
		if got.String() != tt.want {
			t.Fatalf("%s: expected %s, got %s", tt.src, tt.want, got)
		}
	}

	cur := mustEval(t, c, env, "cursor(T).select(amount > 5)")
	if cur.Kind != value.KindCursor {
		t.Fatalf("select on a cursor must stay lazy, got %s", cur.Kind)
	}
	env.vars["C"] = cur
	if got := mustEval(t, c, env, "C.skip(1)"); got.String() != "1" {
		t.Fatalf("skip: expected 1, got %s", got)
	}
	mustEval(t, c, env, "C.close()")
	if _, err := evalString(t, c, env, "C.fetch()"); !errors.Is(err, value.ErrCursorClosed) {
		t.Fatalf("fetch after close: expected ErrCursorClosed, got %v", err)
	}
}

func TestSortxSpillsRuns(t *testing.T) {
	env := salesEnv(t)
	dir := t.TempDir()
	c := &Context{Ctx: context.Background(), BlockSize: 2, TempDir: dir, Log: &log.Testing{TB: t}}

	cur := mustEval(t, c, env, "cursor(T).sortx(amount)")
	if cur.Kind != value.KindCursor {
		t.Fatalf("sortx must return a cursor, got %s", cur.Kind)
	}
	env.vars["S"] = cur
	if got := mustEval(t, c, env, "S.fetch(1).amount"); got.String() != "[5]" {
		t.Fatalf("first sorted row: got %s", got)
	}
	if runs, _ := filepath.Glob(filepath.Join(dir, "*")); len(runs) != 2 {
		t.Fatalf("expected 2 spilled runs while merging, got %v", runs)
	}
	if got := mustEval(t, c, env, "S.fetch().amount"); got.String() != "[10, 20]" {
		t.Fatalf("remaining sorted rows: got %s", got)
	}
	if runs, _ := filepath.Glob(filepath.Join(dir, "*")); len(runs) != 0 {
		t.Fatalf("runs must be removed once the cursor is exhausted, got %v", runs)
	}

	if got := mustEval(t, c, env, "cursor(T).sortx@z(id, amount).fetch().amount"); got.String() != "[20, 10, 5]" {
		t.Fatalf("descending sortx: got %s", got)
	}
	if _, err := evalString(t, c, env, "T.sortx(amount)"); err == nil {
		t.Fatalf("expected sortx on a table to fail")
	}
}

func TestErrorKinds(t *testing.T) {
	env := salesEnv(t)
	c := &Context{Ctx: context.Background(), Conns: storage.NewRegistry()}
	tests := []struct {
		src  string
		kind ErrorKind
	}{
		{"1 / 0", DivideByZero},
		{"5.5 % 0", DivideByZero},
		{"nope", UnknownName},
		{"nope(1)", UnknownName},
		{"~", UnknownName},
		{"[1][5]", Bounds},
		{"upper(1)", TypeMismatch},
		{`1 < "a"`, TypeMismatch},
		{`left("a")`, Arity},
		{"null.select(~ > 1)", NullOperation},
		{`error("boom")`, Raised},
		{`open("missing", "x")`, Connector},
		{`T.groups(id, total=amount)`, TypeMismatch},
	}
	for _, tt := range tests {
		_, err := evalString(t, c, env, tt.src)
		var ee *EvalError
		if !errors.As(err, &ee) {
			t.Fatalf("%s: expected EvalError, got %v", tt.src, err)
		}
		if ee.Kind != tt.kind {
			t.Fatalf("%s: expected kind %s, got %s (%v)", tt.src, tt.kind, ee.Kind, err)
		}
	}

	_, err := evalString(t, c, env, `error("boom")`)
	if err.Error() != "boom" {
		t.Fatalf("raised error message: got %q", err.Error())
	}
	_, err = evalString(t, c, env, "1 / 0")
	if err.Error() != "divide by zero" {
		t.Fatalf("divide error message: got %q", err.Error())
	}

	closed := value.TableCursor(env.vars["T"].Tab)
	closed.Close()
	env.vars["C"] = value.Cur(closed)
	_, err = evalString(t, c, env, "C.fetch(1)")
	var ee *EvalError
	if !errors.As(err, &ee) || ee.Kind != ClosedCursor {
		t.Fatalf("pull on a closed cursor: expected ClosedCursor, got %v", err)
	}
	if err.Error() != "cursor is closed" {
		t.Fatalf("closed cursor message: got %q", err.Error())
	}
}

func TestOpenAndWrite(t *testing.T) {
	env := salesEnv(t)
	reg := storage.NewRegistry()
	if err := reg.Register("mem", memstore.New()); err != nil {
		t.Fatalf("Register: %v", err)
	}
	c := &Context{Ctx: context.Background(), Conns: reg, Log: &log.Testing{TB: t}}

	if got := mustEval(t, c, env, `write("mem", "sales", T)`); got.String() != "3" {
		t.Fatalf("write: expected 3 rows, got %s", got)
	}
	if got := mustEval(t, c, env, `write("mem", "sales", T.select(id == 2))`); got.String() != "1" {
		t.Fatalf("append: expected 1 row, got %s", got)
	}
	got := mustEval(t, c, env, `open("mem", "sales").select(amount > 5).fetch().amount`)
	if got.String() != "[10, 20, 20]" {
		t.Fatalf("open: got %s", got)
	}
	if _, err := evalString(t, c, env, `open("mem", "missing")`); err == nil {
		t.Fatalf("expected error opening a missing table")
	}
}

func TestExportImport(t *testing.T) {
	env := salesEnv(t)
	c := &Context{Ctx: context.Background()}
	got := mustEval(t, c, env, `import(export(T)).groups(id, total=sum(amount))`)
	if got.String() != "table(id, total)[{id: 1, total: 15}, {id: 2, total: 20}]" {
		t.Fatalf("yaml round trip: got %s", got)
	}
	text := mustEval(t, c, env, `export(N, "text")`)
	if text.S != "id\tname\n1\ta\n2\tb\n" {
		t.Fatalf("text export: got %q", text.S)
	}
	if _, err := evalString(t, c, env, `export(T, "xml")`); err == nil {
		t.Fatalf("expected unknown format error")
	}
}

func TestForkFunction(t *testing.T) {
	env := salesEnv(t)
	c := &Context{Ctx: context.Background(), Fork: fork.New(4, 2, &log.Testing{TB: t})}

	if got := mustEval(t, c, env, "fork(T, 3, ~.sum(amount))"); got.String() != "[10, 20, 5]" {
		t.Fatalf("range fork: got %s", got)
	}
	if got := mustEval(t, c, env, "fork(T, 2, ~.select(amount > 5))"); got.String() != "table(id, amount)[{id: 1, amount: 10}, {id: 2, amount: 20}]" {
		t.Fatalf("table fork: got %s", got)
	}
	got := mustEval(t, c, env, "fork(cursor(T), 2, ~.select(amount > 5)).fetch()")
	if got.String() != "table(id, amount)[{id: 1, amount: 10}, {id: 2, amount: 20}]" {
		t.Fatalf("cursor fork: got %s", got)
	}

	_, err := evalString(t, c, env, "fork(T, 2, fork(~, 2, 1))")
	var fe *fork.ForkError
	if !errors.As(err, &fe) || !errors.Is(err, fork.ErrNestedFork) {
		t.Fatalf("expected a ForkError caused by a nested fork, got %v", err)
	}

	_, err = evalString(t, c, env, "fork(T, 3, 1 / (~.m(1).amount - 20))")
	if !errors.As(err, &fe) || fe.Partition != 2 {
		t.Fatalf("expected partition 2 to fail, got %v", err)
	}
	var ee *EvalError
	if !errors.As(err, &ee) || ee.Kind != DivideByZero {
		t.Fatalf("expected divide by zero cause, got %v", err)
	}
}
