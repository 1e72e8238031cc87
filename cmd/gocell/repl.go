package main

import (
	"context"
	"fmt"
	"io"
	stdlog "log"
	"strings"

	"github.com/peterh/liner"

	"gocell/internal/engine"
	"gocell/internal/lang"
	"gocell/internal/value"
)

// session is the REPL grid: every accepted line fills the next cell of column A.
type session struct {
	eng   *engine.Engine
	cells map[lang.Coord]value.Value
	vars  map[string]value.Value
	row   int
}

func (s *session) Cell(c lang.Coord) value.Value { return s.cells[c] }

func (s *session) Var(name string) (value.Value, bool) {
	v, ok := s.vars[name]
	return v, ok
}

// exec evaluates one line as the cell at the next row. Only value cells are accepted;
// control directives need a program file.
func (s *session) exec(ctx context.Context, text string) (lang.Coord, value.Value, error) {
	at := lang.Coord{Row: s.row + 1, Col: 1}
	st, err := lang.ParseCell(text, at)
	if err != nil {
		return at, value.Null(), err
	}

	var v value.Value
	switch st.Kind {
	case lang.StmtConst:
		v = st.Const
	case lang.StmtExpr, lang.StmtExec, lang.StmtAssign:
		if v, err = s.eng.Eval(ctx, s, st.X); err != nil {
			return at, value.Null(), err
		}
		if st.Kind == lang.StmtAssign {
			if st.HasTarget {
				s.cells[st.Target] = v
			} else {
				s.vars[st.Var] = v
			}
		}
	default:
		return at, value.Null(), fmt.Errorf("%s cells are not supported in the repl", st.Kind)
	}
	s.row++
	s.cells[at] = v
	return at, v, nil
}

func repl(args []string) error {
	eng, err := start()
	if err != nil {
		return err
	}
	defer eng.Shutdown()

	s := &session{eng: eng, cells: make(map[lang.Coord]value.Value), vars: make(map[string]value.Value)}
	lin := liner.NewLiner()
	defer lin.Close()
	lin.SetCtrlCAborts(true)

	ctx := context.Background()
	for {
		got, err := lin.Prompt(fmt.Sprintf("A%d> ", s.row+1))
		if err != nil {
			if err == io.EOF || err == liner.ErrPromptAborted {
				fmt.Println()
				return nil
			}
			stdlog.Printf("unexpected error reading prompt: %v", err)
			continue
		}
		if strings.TrimSpace(got) == "" {
			continue
		}
		lin.AppendHistory(got)
		at, v, err := s.exec(ctx, got)
		if err != nil {
			stdlog.Printf("error in %s: %v", at, err)
			continue
		}
		if v.Kind == value.KindCursor {
			// Show a cursor without consuming it.
			fmt.Printf("%s = cursor(%s)\n\n", at, strings.Join(v.Cur.Schema().Fields(), ", "))
			continue
		}
		fmt.Printf("%s = %s\n\n", at, v)
	}
}
