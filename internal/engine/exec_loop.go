package engine

import (
	"context"
	"fmt"
	"io"

	"gocell/internal/cellset"
	"gocell/internal/eval"
	"gocell/internal/value"
)

type loopKind int

const (
	loopCount   loopKind = iota // for n: 1..n
	loopItems                   // sequence, table or set members
	loopCursor                  // records pulled one at a time
	loopWhile                   // condition checked before every pass
	loopEndless                 // bare for
)

// loop is the iterator state of an active for cell.
type loop struct {
	cell  *cellset.Cell
	kind  loopKind
	n     int64
	i     int64
	items []value.Value
	cur   *value.Cursor

	// primed holds the first while condition, already evaluated on arrival.
	primed bool
	cond   bool
}

// contains reports whether cell i lies in the loop body.
func (l *loop) contains(i int) bool {
	return i > l.cell.Index && i <= l.cell.End
}

func (l *loop) close() {
	if l.cur != nil {
		_ = l.cur.Close()
		l.cur = nil
	}
}

// enterLoop starts the loop of cell c. Arriving at a loop that is already active restarts it.
func (e *Engine) enterLoop(ctx context.Context, f *frame, c *cellset.Cell) error {
	f.exitLoop(c.Index)

	l := &loop{cell: c, kind: loopEndless}
	if c.Stmt.X != nil {
		v, err := f.eval(c.Stmt.X)
		if err != nil {
			return f.fail(c, err)
		}
		switch v.Kind {
		case value.KindNull:
			l.kind = loopItems
		case value.KindInt:
			l.kind, l.n = loopCount, v.I64
		case value.KindBool:
			l.kind, l.primed, l.cond = loopWhile, true, v.B
		case value.KindCursor:
			l.kind, l.cur = loopCursor, v.Cur
		default:
			items, ok := v.Items()
			if !ok {
				return f.fail(c, &eval.EvalError{Kind: eval.TypeMismatch, Msg: fmt.Sprintf("cannot loop over %s", v.Kind)})
			}
			l.kind, l.items = loopItems, items
		}
	}
	f.loops = append(f.loops, l)
	f.log.Debug("loop start", "cell", c.Coord.String())
	return e.step(ctx, f, l)
}

// step moves l to its next element: the body runs again with the element as the loop
// cell's value, or the loop ends and execution continues past its end.
func (e *Engine) step(ctx context.Context, f *frame, l *loop) error {
	v, ok, err := l.next(ctx, f)
	if err != nil {
		f.exitLoop(l.cell.Index)
		return f.fail(l.cell, err)
	}
	if !ok {
		f.exitLoop(l.cell.Index)
		f.pc = l.cell.After(f.cs.Len())
		return nil
	}
	f.set(l.cell.Index, v)
	f.pc = l.cell.Index + 1
	return nil
}

func (l *loop) next(ctx context.Context, f *frame) (value.Value, bool, error) {
	switch l.kind {
	case loopCount:
		if l.i >= l.n {
			return value.Null(), false, nil
		}
		l.i++
		return value.Int(l.i), true, nil

	case loopItems:
		if l.i >= int64(len(l.items)) {
			return value.Null(), false, nil
		}
		v := l.items[l.i]
		l.i++
		return v, true, nil

	case loopCursor:
		r, err := l.cur.Next(ctx)
		if err == io.EOF {
			return value.Null(), false, nil
		}
		if err != nil {
			return value.Null(), false, err
		}
		l.i++
		return value.Rec(r), true, nil

	case loopWhile:
		cond := l.cond
		if !l.primed {
			v, err := f.eval(l.cell.Stmt.X)
			if err != nil {
				return value.Null(), false, err
			}
			cond = v.Truthy()
		}
		l.primed = false
		if !cond {
			return value.Null(), false, nil
		}
		l.i++
		return value.Int(l.i), true, nil
	}

	l.i++
	return value.Int(l.i), true, nil
}
