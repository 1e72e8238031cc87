package engine

import (
	"context"

	"github.com/pkg/errors"

	"gocell/internal/cellset"
	"gocell/internal/lang"
	"gocell/internal/value"
)

// run executes f until it returns, falls off its last cell or fails. Whatever the exit, the
// frame's loops are closed and the cursors it owns are released.
func (e *Engine) run(ctx context.Context, f *frame) (out value.Value, err error) {
	f.ec = e.evalContext(ctx, f.log)
	f.state = Running
	f.log.Debug("frame start", "pc", f.pc)
	defer func() {
		f.closeLoops()
		f.release(out)
	}()

	for f.state == Running {
		if err := ctx.Err(); err != nil {
			f.state = Failed
			return value.Null(), err
		}

		if f.pc < f.lo || f.pc >= f.hi {
			// A loop left open to the end of the cellset closes here.
			if n := len(f.loops); n > 0 && f.pc == f.hi && f.loops[n-1].cell.End >= f.hi {
				if err := e.step(ctx, f, f.loops[n-1]); err != nil {
					if !f.recover(ctx, err) {
						return e.failed(f, err)
					}
				}
				continue
			}
			f.state = Returned
			break
		}

		c := f.cs.Cell(f.pc)
		if err := e.execute(ctx, f, c); err != nil {
			if !f.recover(ctx, err) {
				return e.failed(f, err)
			}
		}
	}

	f.log.Debug("frame done", "state", f.state.String())
	return f.outcome(), nil
}

func (e *Engine) failed(f *frame, err error) (value.Value, error) {
	f.state = Failed
	f.log.Debug("frame failed", "err", err.Error())
	return value.Null(), err
}

// execute runs one cell. Errors come back as *RuntimeError for the failing cell.
func (e *Engine) execute(ctx context.Context, f *frame, c *cellset.Cell) error {
	st := c.Stmt
	switch st.Kind {
	case lang.StmtNone, lang.StmtComment:
		f.pc++

	case lang.StmtConst:
		f.produce(c.Index, st.Const)
		f.pc++

	case lang.StmtExpr, lang.StmtExec:
		v, err := f.eval(st.X)
		if err != nil {
			return f.fail(c, err)
		}
		f.produce(c.Index, v)
		f.pc++

	case lang.StmtAssign:
		v, err := f.eval(st.X)
		if err != nil {
			return f.fail(c, err)
		}
		if st.HasTarget {
			f.set(c.Jump, v)
		} else {
			f.vars[st.Var] = v
		}
		f.produce(c.Index, v)
		f.pc++

	case lang.StmtFor:
		return e.enterLoop(ctx, f, c)

	case lang.StmtEnd:
		owner := f.cs.Cell(c.Owner)
		if owner.Stmt.Kind == lang.StmtFor {
			if l := f.loopOf(owner.Index); l != nil {
				return e.step(ctx, f, l)
			}
		}
		f.pc++

	case lang.StmtNext:
		if l := f.loopOf(c.Owner); l != nil {
			return e.step(ctx, f, l)
		}
		f.pc = f.cs.Cell(c.Owner).After(f.cs.Len())

	case lang.StmtBreak:
		f.exitLoop(c.Owner)
		f.pc = f.cs.Cell(c.Owner).After(f.cs.Len())

	case lang.StmtIf:
		v, err := f.eval(st.X)
		if err != nil {
			return f.fail(c, err)
		}
		f.set(c.Index, v)
		switch {
		case v.Truthy():
			f.pc++
		case c.Else >= 0:
			f.pc = c.Else + 1
		default:
			f.pc = c.After(f.cs.Len())
		}

	case lang.StmtElse:
		// Reached from the true branch.
		f.pc = f.cs.Cell(c.Owner).After(f.cs.Len())

	case lang.StmtGoto:
		f.jump(c.Jump)

	case lang.StmtOnError:
		if st.HasTarget {
			f.onerror = c.Index
		} else {
			f.onerror = -1
		}
		f.pc++

	case lang.StmtCall:
		return e.call(ctx, f, c)

	case lang.StmtReturn:
		v := value.Null()
		if st.X != nil {
			var err error
			if v, err = f.eval(st.X); err != nil {
				return f.fail(c, err)
			}
		}
		f.set(c.Index, v)
		if f.collect {
			f.collected = append(f.collected, v)
			f.pc++
			return nil
		}
		f.result, f.hasResult = v, true
		f.state = Returned

	case lang.StmtFork:
		return e.forkBlock(ctx, f, c)

	default:
		return f.fail(c, errors.Errorf("unsupported directive %s", st.Kind))
	}
	return nil
}
