package engine

import (
	"context"
	"fmt"

	"github.com/pkg/errors"

	"gocell/internal/cellset"
	"gocell/internal/eval"
	"gocell/internal/value"
)

// ErrCallDepth is the cause of a call that would nest deeper than the configured limit.
var ErrCallDepth = errors.New("maximum call depth exceeded")

// call runs the target cellset in a child frame and binds its result to cell c. Positional
// arguments bind in parameter order, named ones by name; parameters left over are null.
func (e *Engine) call(ctx context.Context, f *frame, c *cellset.Cell) error {
	st := c.Stmt
	target, ok := f.prog.Cellset(st.Cellset)
	if !ok {
		return f.fail(c, &eval.EvalError{Kind: eval.UnknownName, Msg: fmt.Sprintf("cellset %s is not defined", st.Cellset)})
	}
	if f.depth+1 > e.cfg.MaxCallDepth {
		return f.fail(c, errors.Wrapf(ErrCallDepth, "call %s at depth %d", target.Name, f.depth+1))
	}

	params := target.Params()
	args := make([]value.Value, len(params))
	pos := 0
	for _, a := range st.Args {
		v, err := f.eval(a.X)
		if err != nil {
			return f.fail(c, err)
		}
		if a.Name == "" {
			if pos >= len(params) {
				return f.fail(c, &eval.EvalError{Kind: eval.Arity,
					Msg: fmt.Sprintf("%s takes %d arguments, got more", target.Name, len(params))})
			}
			args[pos] = v
			pos++
			continue
		}
		i := indexOf(params, a.Name)
		if i < 0 {
			return f.fail(c, &eval.EvalError{Kind: eval.UnknownName,
				Msg: fmt.Sprintf("%s has no parameter %s", target.Name, a.Name)})
		}
		args[i] = v
	}

	child := e.newFrame(f.prog, target, args, f.depth+1, st.Collect)
	f.state = Suspended
	v, err := e.run(ctx, child)
	f.state = Running
	if err != nil {
		return f.fail(c, err)
	}
	f.produce(c.Index, v)
	f.pc++
	return nil
}

func indexOf(names []string, name string) int {
	for i, n := range names {
		if n == name {
			return i
		}
	}
	return -1
}
