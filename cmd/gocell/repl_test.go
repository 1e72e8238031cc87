package main

import (
	"context"
	"testing"

	"gocell/internal/config"
	"gocell/internal/engine"
	"gocell/internal/lang"
	"gocell/internal/value"
)

func TestSessionExec(t *testing.T) {
	eng := engine.New(config.Default())
	if err := eng.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	s := &session{eng: eng, cells: make(map[lang.Coord]value.Value), vars: make(map[string]value.Value)}
	ctx := context.Background()

	steps := []struct {
		text string
		cell string
		want string
	}{
		{"3", "A1", "3"},
		{"=A1 * 2", "A2", "6"},
		{">x = A2 + 1", "A3", "7"},
		{"=to(x).sum()", "A4", "28"},
	}
	for _, st := range steps {
		at, v, err := s.exec(ctx, st.text)
		if err != nil {
			t.Fatalf("exec %q failed: %v", st.text, err)
		}
		if at.String() != st.cell || v.String() != st.want {
			t.Fatalf("exec %q: expected %s = %s, got %s = %s", st.text, st.cell, st.want, at, v)
		}
	}

	// Directives and bad cells leave the row unchanged.
	if _, _, err := s.exec(ctx, "for 3"); err == nil {
		t.Fatalf("expected for to be rejected")
	}
	if _, _, err := s.exec(ctx, "=1 +"); err == nil {
		t.Fatalf("expected a syntax error")
	}
	if at, _, _ := s.exec(ctx, "1"); at.String() != "A5" {
		t.Fatalf("expected A5 after rejected lines, got %s", at)
	}
}
