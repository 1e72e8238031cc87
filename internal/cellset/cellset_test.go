package cellset

import (
	"errors"
	"strings"
	"testing"

	"gocell/internal/lang"
)

func grid(rows ...string) string { return strings.Join(rows, "\n") + "\n" }

func mustLoad(t *testing.T, src string) *Program {
	t.Helper()
	p, err := Load("test", src)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	return p
}

func coord(t *testing.T, s string) lang.Coord {
	t.Helper()
	c, err := lang.ParseCoord(s)
	if err != nil {
		t.Fatalf("ParseCoord(%q): %v", s, err)
	}
	return c
}

func TestLoadWithoutHeaderIsMain(t *testing.T) {
	p := mustLoad(t, grid("1\t=A1+1", "", "\t=B1*2"))
	cs, ok := p.Cellset(MainName)
	if !ok {
		t.Fatalf("expected cellset main, got %v", p.Names())
	}
	if cs.Len() != 3 {
		t.Fatalf("expected 3 non-empty cells, got %d", cs.Len())
	}
	i, ok := cs.Lookup(coord(t, "B3"))
	if !ok || i != 2 {
		t.Fatalf("Lookup(B3): got %d, %v", i, ok)
	}
	if _, ok := cs.Lookup(coord(t, "A3")); ok {
		t.Fatalf("empty cell A3 should not be present")
	}
	if cs.Next(0) != 1 || cs.Next(2) != 3 {
		t.Fatalf("unexpected Next: %d %d", cs.Next(0), cs.Next(2))
	}
}

func TestLoadMultipleCellsets(t *testing.T) {
	src := grid(
		"@cellset main",
		"call sub(1, 2)",
		"@cellset sub(a, b)",
		"return a + b",
	)
	p := mustLoad(t, src)
	if names := p.Names(); len(names) != 2 || names[0] != "main" || names[1] != "sub" {
		t.Fatalf("unexpected cellsets %v", names)
	}
	sub, _ := p.Cellset("sub")
	if params := sub.Params(); len(params) != 2 || params[1] != "b" {
		t.Fatalf("unexpected params %v", params)
	}
	if p.Main().Name != "main" {
		t.Fatalf("Main should be main, got %s", p.Main().Name)
	}
}

func TestBlockMatching(t *testing.T) {
	src := grid(
		"for 3",
		"\tif A1 > 1",
		"\t\tnext",
		"\telse",
		"\t\tbreak",
		"\tend",
		"end",
		"return",
	)
	cs := mustLoad(t, src).Main()
	idx := func(s string) int {
		i, ok := cs.Lookup(coord(t, s))
		if !ok {
			t.Fatalf("no cell %s", s)
		}
		return i
	}
	loop, cond := cs.Cell(idx("A1")), cs.Cell(idx("B2"))
	if loop.End != idx("A7") || cond.End != idx("B6") || cond.Else != idx("B4") {
		t.Fatalf("unexpected links: loop.End=%d cond.End=%d cond.Else=%d", loop.End, cond.End, cond.Else)
	}
	if cs.Cell(idx("C3")).Owner != loop.Index || cs.Cell(idx("C5")).Owner != loop.Index {
		t.Fatalf("break/next should belong to the loop")
	}
	if loop.After(cs.Len()) != idx("A8") {
		t.Fatalf("loop should continue at A8, got %d", loop.After(cs.Len()))
	}
}

func TestImplicitBlockClose(t *testing.T) {
	cs := mustLoad(t, grid("for 1..3", "return A1")).Main()
	loop := cs.Cell(0)
	if loop.End != cs.Len() || loop.After(cs.Len()) != cs.Len() {
		t.Fatalf("open loop should close at the end: End=%d", loop.End)
	}
}

func TestStructuralErrors(t *testing.T) {
	tests := []struct {
		name string
		src  string
		cell string
	}{
		{"end without block", grid("1", "end"), "A2"},
		{"else without if", grid("for", "else"), "A2"},
		{"break outside loop", grid("if true", "break"), "A2"},
		{"break across fork", grid("for", "\tfork A1", "\t\tbreak"), "C3"},
		{"goto empty cell", grid("goto C9"), "A1"},
		{"bad cell text", grid("1", "\t=1 +"), "B2"},
		{"unknown call target", grid("call nowhere()"), "A1"},
	}
	for _, tt := range tests {
		_, err := Load("bad", tt.src)
		var se *lang.SyntaxError
		if !errors.As(err, &se) {
			t.Fatalf("%s: expected SyntaxError, got %v", tt.name, err)
		}
		if se.Cell.String() != tt.cell {
			t.Fatalf("%s: expected error at %s, got %s (%v)", tt.name, tt.cell, se.Cell, err)
		}
	}
}

func TestDependentsAndCycles(t *testing.T) {
	src := grid(
		"1\t=A1+1\t=B1*2",
		"=C1\t=B2+A2",
	)
	cs := mustLoad(t, src).Main()
	a1, _ := cs.Lookup(coord(t, "A1"))
	deps := map[string]bool{}
	for _, d := range cs.Dependents(a1) {
		deps[cs.Cell(d).Coord.String()] = true
	}
	for _, want := range []string{"B1", "C1", "A2"} {
		if !deps[want] {
			t.Fatalf("A1 dependents %v missing %s", deps, want)
		}
	}
	if deps["A1"] {
		t.Fatalf("a cell is not its own dependent")
	}
	cycles := cs.Cycles()
	if len(cycles) != 1 || len(cycles[0]) != 1 || cycles[0][0].String() != "B2" {
		t.Fatalf("expected the self reference of B2 as the only cycle, got %v", cycles)
	}
}

func TestDuplicateCellsetRejected(t *testing.T) {
	_, err := Load("dup", grid("@cellset a", "1", "@cellset a", "2"))
	var se *lang.SyntaxError
	if !errors.As(err, &se) {
		t.Fatalf("expected SyntaxError, got %v", err)
	}
}
