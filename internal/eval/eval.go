// Package eval evaluates cell expressions against the data model.
//
// The evaluator is stateless: everything it reads comes from an Env (cell values and
// variables of the running frame) and a Context (cancellation, connectors, fork manager and
// logger). Member expressions such as the predicate of select run in a nested scope where
// "~" is the current element, "#" its position and "~~" the iterate accumulator.
package eval

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gocell/internal/fork"
	"gocell/internal/lang"
	"gocell/internal/log"
	"gocell/internal/storage"
	"gocell/internal/value"
)

// ErrorKind classifies evaluation failures.
type ErrorKind int

const (
	TypeMismatch ErrorKind = iota
	Arity
	DivideByZero
	NullOperation
	UnknownName
	Bounds
	Connector
	ClosedCursor
	Raised // error() called by the program
)

var kindNames = [...]string{
	TypeMismatch:  "type mismatch",
	Arity:         "arity",
	DivideByZero:  "divide by zero",
	NullOperation: "null operation",
	UnknownName:   "unknown name",
	Bounds:        "out of bounds",
	Connector:     "connector",
	ClosedCursor:  "closed cursor",
	Raised:        "raised",
}

// sentinels are the value errors whose text already names their kind.
var sentinels = map[ErrorKind]error{
	TypeMismatch:  value.ErrTypeMismatch,
	DivideByZero:  value.ErrDivideByZero,
	NullOperation: value.ErrNullOperation,
	ClosedCursor:  value.ErrCursorClosed,
}

func (k ErrorKind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// EvalError is an expression failure. Err is the underlying cause, if any.
type EvalError struct {
	Kind ErrorKind
	Msg  string
	Err  error
}

func (e *EvalError) Error() string {
	if e.Kind == Raised {
		return e.Msg
	}
	if s, ok := sentinels[e.Kind]; ok && e.Err != nil && errors.Is(e.Err, s) {
		return e.Msg
	}
	return e.Kind.String() + ": " + e.Msg
}

func (e *EvalError) Unwrap() error { return e.Err }

func errorf(kind ErrorKind, format string, args ...interface{}) *EvalError {
	return &EvalError{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// wrap classifies an error returned by the value, algebra or storage layers. Evaluation
// errors, cancellation and fork failures pass through unchanged.
func wrap(err error) error {
	if err == nil {
		return nil
	}
	var ee *EvalError
	var fe *fork.ForkError
	switch {
	case errors.As(err, &ee), errors.As(err, &fe), errors.Is(err, fork.ErrNestedFork),
		errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	case errors.Is(err, value.ErrDivideByZero):
		return &EvalError{Kind: DivideByZero, Msg: err.Error(), Err: err}
	case errors.Is(err, value.ErrNullOperation):
		return &EvalError{Kind: NullOperation, Msg: err.Error(), Err: err}
	case errors.Is(err, value.ErrCursorClosed):
		return &EvalError{Kind: ClosedCursor, Msg: err.Error(), Err: err}
	}
	return &EvalError{Kind: TypeMismatch, Msg: err.Error(), Err: err}
}

// Env gives an expression access to the running frame.
type Env interface {
	// Cell returns the current value of a cell; cells not yet executed are null.
	Cell(c lang.Coord) value.Value

	// Var looks up a parameter or variable.
	Var(name string) (value.Value, bool)
}

// Context carries what evaluation needs beyond the frame.
type Context struct {
	Ctx   context.Context
	Conns *storage.Registry
	Fork  *fork.Manager
	Log   log.Logger

	// Now is the clock behind now(); nil means time.Now.
	Now func() time.Time

	// BlockSize is the number of records sortx sorts in memory before spilling a run.
	// TempDir holds the spilled runs; empty means the system temp dir.
	BlockSize int
	TempDir   string
}

func (c *Context) ctx() context.Context {
	if c.Ctx == nil {
		return context.Background()
	}
	return c.Ctx
}

func (c *Context) logger() log.Logger {
	if c.Log == nil {
		return log.Discard{}
	}
	return c.Log
}

// with returns a copy bound to another context.Context.
func (c *Context) with(ctx context.Context) *Context {
	cp := *c
	cp.Ctx = ctx
	return &cp
}

// Eval evaluates n.
func Eval(c *Context, env Env, n lang.Node) (value.Value, error) {
	v, err := (&evaluator{c: c}).eval(env, n)
	if err != nil {
		return value.Null(), wrap(err)
	}
	return v, nil
}

// Element evaluates n as a member expression with elem as "~" and pos as "#". The engine
// uses it to run fork bodies and loop conditions the way collection methods do.
func Element(c *Context, env Env, n lang.Node, elem value.Value, pos int) (value.Value, error) {
	return Eval(c, member(env, elem, pos), n)
}

type evaluator struct {
	c *Context
}

// scope is the environment of a member expression. Bare identifiers resolve to fields of a
// record element before falling back to the enclosing environment.
type scope struct {
	Env
	elem   value.Value
	pos    int
	acc    value.Value
	hasAcc bool
}

func member(env Env, elem value.Value, pos int) *scope {
	s := &scope{Env: env, elem: elem, pos: pos}
	if p, ok := env.(*scope); ok {
		s.acc, s.hasAcc = p.acc, p.hasAcc
	}
	return s
}

func (s *scope) Var(name string) (value.Value, bool) {
	if s.elem.Kind == value.KindRecord {
		if v, ok := s.elem.Rec.Get(name); ok {
			return v, true
		}
	}
	return s.Env.Var(name)
}

func (e *evaluator) eval(env Env, n lang.Node) (value.Value, error) {
	if err := e.c.ctx().Err(); err != nil {
		return value.Null(), err
	}

	switch n := n.(type) {
	case *lang.Literal:
		return n.Val, nil
	case *lang.Ident:
		v, ok := env.Var(n.Name)
		if !ok {
			return value.Null(), errorf(UnknownName, "%s is not defined", n.Name)
		}
		return v, nil
	case *lang.CellRef:
		return env.Cell(n.Target), nil
	case *lang.Elem:
		s, ok := env.(*scope)
		if !ok {
			return value.Null(), errorf(UnknownName, "~ used outside a member expression")
		}
		return s.elem, nil
	case *lang.PosRef:
		s, ok := env.(*scope)
		if !ok {
			return value.Null(), errorf(UnknownName, "# used outside a member expression")
		}
		return value.Int(int64(s.pos)), nil
	case *lang.Acc:
		s, ok := env.(*scope)
		if !ok || !s.hasAcc {
			return value.Null(), errorf(UnknownName, "~~ used outside iterate")
		}
		return s.acc, nil
	case *lang.Unary:
		return e.unary(env, n)
	case *lang.Binary:
		return e.binary(env, n)
	case *lang.Range:
		return e.rangeExpr(env, n)
	case *lang.SeqLit:
		items := make([]value.Value, len(n.Items))
		for i, it := range n.Items {
			v, err := e.eval(env, it)
			if err != nil {
				return value.Null(), err
			}
			items[i] = v
		}
		return value.List(items...), nil
	case *lang.RecLit:
		return e.record(env, n.Keys, n.Vals)
	case *lang.FieldRef:
		recv, err := e.eval(env, n.Recv)
		if err != nil {
			return value.Null(), err
		}
		return field(recv, n.Name)
	case *lang.Index:
		x, err := e.eval(env, n.X)
		if err != nil {
			return value.Null(), err
		}
		i, err := e.eval(env, n.I)
		if err != nil {
			return value.Null(), err
		}
		return index(x, i)
	case *lang.Call:
		return e.call(&call{e: e, env: env, name: n.Name, opts: n.Opts, args: n.Args})
	case *lang.Method:
		recv, err := e.eval(env, n.Recv)
		if err != nil {
			return value.Null(), err
		}
		return e.call(&call{e: e, env: env, name: n.Name, opts: n.Opts, args: n.Args, recv: &recv})
	}
	return value.Null(), errorf(TypeMismatch, "cannot evaluate %T", n)
}

func (e *evaluator) unary(env Env, n *lang.Unary) (value.Value, error) {
	x, err := e.eval(env, n.X)
	if err != nil {
		return value.Null(), err
	}
	switch n.Op {
	case "-":
		return value.Neg(x)
	case "not":
		return value.Bool(!x.Truthy()), nil
	}
	return value.Null(), errorf(TypeMismatch, "unknown operator %s", n.Op)
}

func (e *evaluator) binary(env Env, n *lang.Binary) (value.Value, error) {
	l, err := e.eval(env, n.L)
	if err != nil {
		return value.Null(), err
	}
	// Null counts as false on both sides of and/or.
	switch n.Op {
	case "and":
		if !l.Truthy() {
			return value.Bool(false), nil
		}
		r, err := e.eval(env, n.R)
		if err != nil {
			return value.Null(), err
		}
		return value.Bool(r.Truthy()), nil
	case "or":
		if l.Truthy() {
			return value.Bool(true), nil
		}
		r, err := e.eval(env, n.R)
		if err != nil {
			return value.Null(), err
		}
		return value.Bool(r.Truthy()), nil
	}

	r, err := e.eval(env, n.R)
	if err != nil {
		return value.Null(), err
	}
	switch n.Op {
	case "==":
		return value.Bool(value.Equal(l, r)), nil
	case "!=":
		return value.Bool(!value.Equal(l, r)), nil
	case "<", "<=", ">", ">=":
		c, err := value.Compare(l, r)
		if err != nil {
			return value.Null(), err
		}
		switch n.Op {
		case "<":
			return value.Bool(c < 0), nil
		case "<=":
			return value.Bool(c <= 0), nil
		case ">":
			return value.Bool(c > 0), nil
		}
		return value.Bool(c >= 0), nil
	case "+":
		return value.Add(l, r)
	case "-":
		return value.Sub(l, r)
	case "*":
		return value.Mul(l, r)
	case "/":
		return value.Div(l, r)
	case "\\":
		return value.IntDiv(l, r)
	case "%":
		return value.Mod(l, r)
	}
	return value.Null(), errorf(TypeMismatch, "unknown operator %s", n.Op)
}

func (e *evaluator) rangeExpr(env Env, n *lang.Range) (value.Value, error) {
	lo, err := e.eval(env, n.Lo)
	if err != nil {
		return value.Null(), err
	}
	hi, err := e.eval(env, n.Hi)
	if err != nil {
		return value.Null(), err
	}
	return intRange(lo, hi)
}

// intRange builds the inclusive sequence lo..hi; it is empty when hi < lo.
func intRange(lo, hi value.Value) (value.Value, error) {
	a, ok1 := lo.AsInt()
	b, ok2 := hi.AsInt()
	if !ok1 || !ok2 {
		return value.Null(), errorf(TypeMismatch, "range bounds must be integers, got %s and %s", lo.Kind, hi.Kind)
	}
	if b < a {
		return value.List(), nil
	}
	items := make([]value.Value, 0, b-a+1)
	for i := a; i <= b; i++ {
		items = append(items, value.Int(i))
	}
	return value.List(items...), nil
}

func (e *evaluator) record(env Env, keys []string, vals []lang.Node) (value.Value, error) {
	s, err := value.NewSchema(keys...)
	if err != nil {
		return value.Null(), err
	}
	out := make([]value.Value, len(vals))
	for i, x := range vals {
		v, err := e.eval(env, x)
		if err != nil {
			return value.Null(), err
		}
		out[i] = v
	}
	r, err := value.NewRecord(s, out)
	if err != nil {
		return value.Null(), err
	}
	return value.Rec(r), nil
}

// field reads recv.name. On tables and sequences of records it yields the column.
func field(recv value.Value, name string) (value.Value, error) {
	switch recv.Kind {
	case value.KindNull:
		return value.Null(), nil
	case value.KindRecord:
		v, ok := recv.Rec.Get(name)
		if !ok {
			return value.Null(), errorf(UnknownName, "record has no field %s", name)
		}
		return v, nil
	case value.KindTable:
		col, err := recv.Tab.Column(name)
		if err != nil {
			return value.Null(), errorf(UnknownName, "table has no field %s", name)
		}
		return value.List(col...), nil
	case value.KindSequence:
		out := make([]value.Value, len(recv.Seq.Items))
		for i, it := range recv.Seq.Items {
			v, err := field(it, name)
			if err != nil {
				return value.Null(), err
			}
			out[i] = v
		}
		return value.List(out...), nil
	}
	return value.Null(), errorf(TypeMismatch, "field %s of %s", name, recv.Kind)
}

// index reads x[i] with 1-based positions; negative positions count from the end. Records
// also accept a field name.
func index(x, i value.Value) (value.Value, error) {
	if x.IsNull() {
		return value.Null(), nil
	}
	if x.Kind == value.KindRecord && i.Kind == value.KindString {
		return field(x, i.S)
	}
	p, ok := i.AsInt()
	if !ok {
		return value.Null(), errorf(TypeMismatch, "index must be an integer, got %s", i.Kind)
	}
	switch x.Kind {
	case value.KindRecord:
		n := int64(x.Rec.Len())
		if p < 0 {
			p = n + p + 1
		}
		if p < 1 || p > n {
			return value.Null(), errorf(Bounds, "field %d out of range 1..%d", p, n)
		}
		return x.Rec.At(int(p - 1)), nil
	case value.KindSequence, value.KindTable, value.KindSet:
		items, _ := x.Items()
		v, err := value.NewSequence(items...).Pos(p)
		if err != nil {
			return value.Null(), &EvalError{Kind: Bounds, Msg: err.Error(), Err: err}
		}
		return v, nil
	}
	return value.Null(), errorf(TypeMismatch, "cannot index %s", x.Kind)
}
