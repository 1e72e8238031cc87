package engine

import (
	"context"
	"fmt"

	"gocell/internal/cellset"
	"gocell/internal/eval"
	"gocell/internal/value"
)

// forkBlock runs the body of fork cell c once per partition of its source, binds the merged
// result to c and continues after the block. The frame is suspended meanwhile; partition
// frames only read it.
func (e *Engine) forkBlock(ctx context.Context, f *frame, c *cellset.Cell) error {
	src, err := f.eval(c.Stmt.X)
	if err != nil {
		return f.fail(c, err)
	}
	n := 0
	if c.Stmt.N != nil {
		v, err := f.eval(c.Stmt.N)
		if err != nil {
			return f.fail(c, err)
		}
		switch v.Kind {
		case value.KindNull:
		case value.KindInt:
			n = int(v.I64)
		default:
			return f.fail(c, &eval.EvalError{Kind: eval.TypeMismatch, Msg: fmt.Sprintf("fork partition count must be int, got %s", v.Kind)})
		}
	}

	f.log.Debug("fork", "cell", c.Coord.String(), "source", src.Kind.String(), "partitions", n)
	f.state = Suspended
	v, err := e.fork.Run(ctx, src, n, func(ctx context.Context, part int, sub value.Value) (value.Value, error) {
		return e.run(ctx, f.partition(c, part, sub))
	})
	f.state = Running
	if err != nil {
		return f.fail(c, err)
	}

	f.produce(c.Index, v)
	f.jump(c.After(f.cs.Len()))
	return nil
}
