package engine

import (
	"context"
	"fmt"

	"gocell/internal/cellset"
	"gocell/internal/eval"
	"gocell/internal/fork"
	"gocell/internal/lang"
	"gocell/internal/log"
	"gocell/internal/value"
)

// State is the lifecycle state of a frame.
type State int

const (
	Running State = iota
	Suspended // waiting on a call or fork
	Returned
	Failed
)

var stateNames = [...]string{
	Running:   "running",
	Suspended: "suspended",
	Returned:  "returned",
	Failed:    "failed",
}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// frame is one execution of a cellset. The cell cache lives only as long as the frame.
type frame struct {
	prog *cellset.Program
	cs   *cellset.Cellset

	// pc is the flat index of the next cell. The frame may execute cells in [lo, hi);
	// partition frames are limited to their fork body.
	pc     int
	lo, hi int

	vals  []value.Value
	valid []bool
	vars  map[string]value.Value

	// borrowed holds cursors the frame reads but does not own: cursor arguments of a call
	// and the sub-cursor of a partition.
	borrowed []*value.Cursor

	// loops holds the active loops, innermost last.
	loops []*loop

	// onerror is the index of the armed onerror cell, -1 when none.
	onerror int

	state State
	depth int

	collect   bool
	collected []value.Value
	result    value.Value
	hasResult bool
	last      value.Value

	log log.Logger
	ec  *eval.Context
}

func (e *Engine) newFrame(prog *cellset.Program, cs *cellset.Cellset, args []value.Value, depth int, collect bool) *frame {
	f := &frame{
		prog:    prog,
		cs:      cs,
		hi:      cs.Len(),
		vals:    make([]value.Value, cs.Len()),
		valid:   make([]bool, cs.Len()),
		vars:    make(map[string]value.Value),
		onerror: -1,
		depth:   depth,
		collect: collect,
		log:     e.log.With("cellset", cs.Name, "depth", depth),
	}
	for i, p := range cs.Params() {
		f.vars[p] = args[i]
		if args[i].Kind == value.KindCursor {
			f.borrowed = append(f.borrowed, args[i].Cur)
		}
	}
	return f
}

// partition returns a frame that runs the body of the fork cell c over one partition. It
// starts from a copy of f's cells and variables and has no loops or handler of its own.
// Cursors in the copy are detached: they stay with f.
func (f *frame) partition(c *cellset.Cell, part int, sub value.Value) *frame {
	hi := f.cs.Len()
	if c.End < hi {
		// The body stops short of the end cell.
		hi = c.End
	}
	p := &frame{
		prog:    f.prog,
		cs:      f.cs,
		pc:      c.Index + 1,
		lo:      c.Index + 1,
		hi:      hi,
		vals:    make([]value.Value, len(f.vals)),
		valid:   make([]bool, len(f.valid)),
		vars:    make(map[string]value.Value, len(f.vars)),
		onerror: -1,
		depth:   f.depth,
		log:     f.log.With("partition", part),
	}
	for i, v := range f.vals {
		p.vals[i] = fork.Detach(v)
	}
	copy(p.valid, f.valid)
	for k, v := range f.vars {
		p.vars[k] = fork.Detach(v)
	}
	if sub.Kind == value.KindCursor {
		p.borrowed = append(p.borrowed, sub.Cur)
	}
	p.set(c.Index, sub)
	return p
}

// Cell implements eval.Env. Cells not executed yet, or invalidated since, are null.
func (f *frame) Cell(c lang.Coord) value.Value {
	i, ok := f.cs.Lookup(c)
	if !ok || !f.valid[i] {
		return value.Null()
	}
	return f.vals[i]
}

// Var implements eval.Env.
func (f *frame) Var(name string) (value.Value, bool) {
	v, ok := f.vars[name]
	return v, ok
}

func (f *frame) eval(n lang.Node) (value.Value, error) {
	return eval.Eval(f.ec, f, n)
}

// set caches v as the value of cell i and invalidates every cell that reads it.
func (f *frame) set(i int, v value.Value) {
	f.vals[i] = v
	f.valid[i] = true
	for _, d := range f.cs.Dependents(i) {
		if d != i {
			f.valid[d] = false
		}
	}
}

// produce is set for cells whose value counts as the frame result on fall-through.
func (f *frame) produce(i int, v value.Value) {
	f.set(i, v)
	f.last = v
}

// jump moves the program counter, leaving every loop whose body does not hold target.
func (f *frame) jump(target int) {
	for len(f.loops) > 0 {
		l := f.loops[len(f.loops)-1]
		if l.contains(target) {
			break
		}
		f.popLoop()
	}
	f.pc = target
}

func (f *frame) popLoop() {
	l := f.loops[len(f.loops)-1]
	f.loops = f.loops[:len(f.loops)-1]
	l.close()
}

// exitLoop leaves the loop opened by cell i and every loop nested in it.
func (f *frame) exitLoop(i int) {
	for k := len(f.loops) - 1; k >= 0; k-- {
		if f.loops[k].cell.Index != i {
			continue
		}
		for len(f.loops) > k {
			f.popLoop()
		}
		return
	}
}

func (f *frame) loopOf(i int) *loop {
	for k := len(f.loops) - 1; k >= 0; k-- {
		if f.loops[k].cell.Index == i {
			return f.loops[k]
		}
	}
	return nil
}

func (f *frame) closeLoops() {
	for len(f.loops) > 0 {
		f.popLoop()
	}
}

// release closes the cursors left in the frame's cells and variables when it exits. Cursors
// the result still reads from and borrowed ones stay open.
func (f *frame) release(out value.Value) {
	keep := make(map[*value.Cursor]bool)
	retain(keep, out)
	for _, c := range f.borrowed {
		keep[c] = true
	}
	n := 0
	closeCursor := func(v value.Value) {
		if v.Kind != value.KindCursor || keep[v.Cur] || v.Cur.State() != value.CursorOpen {
			return
		}
		if err := v.Cur.Close(); err != nil {
			f.log.Error("closing cursor", "err", err)
		}
		n++
	}
	for _, v := range f.vals {
		closeCursor(v)
	}
	for _, v := range f.vars {
		closeCursor(v)
	}
	if n > 0 {
		f.log.Debug("cursors released", "count", n)
	}
}

// retain marks the cursors of v and everything they read from.
func retain(keep map[*value.Cursor]bool, v value.Value) {
	switch v.Kind {
	case value.KindCursor:
		if keep[v.Cur] {
			return
		}
		keep[v.Cur] = true
		for _, in := range v.Cur.Inputs() {
			retain(keep, value.Cur(in))
		}
	case value.KindSequence:
		for _, it := range v.Seq.Items {
			retain(keep, it)
		}
	}
}

// fail turns err into a failure of cell c.
func (f *frame) fail(c *cellset.Cell, err error) error {
	return &RuntimeError{Cellset: f.cs.Name, Cell: c.Coord, Cause: err}
}

// recover fires the armed handler for err. It reports false when the frame has to fail.
func (f *frame) recover(ctx context.Context, err error) bool {
	if f.onerror < 0 || ctx.Err() != nil || canceled(err) {
		return false
	}
	h := f.cs.Cell(f.onerror)
	msg := err.Error()
	if rt, ok := err.(*RuntimeError); ok {
		msg = rt.Cause.Error()
	}
	f.log.Error("cell failed, resuming at handler", "cell", h.Coord.String(), "err", msg)
	f.set(h.Index, value.Str(msg))
	f.onerror = -1
	f.jump(h.Jump)
	return true
}

// outcome is the frame result once it stops running.
func (f *frame) outcome() value.Value {
	switch {
	case f.collect:
		return value.List(f.collected...)
	case f.hasResult:
		return f.result
	}
	return f.last
}
