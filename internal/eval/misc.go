package eval

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"gocell/internal/codec"
	"gocell/internal/fork"
	"gocell/internal/lang"
	"gocell/internal/storage"
	"gocell/internal/value"
)

var miscFuncs = map[string]builtin{
	"to":     toFunc,
	"table":  tableFunc,
	"set":    setFunc,
	"cursor": cursorFunc,
	"open":   openFunc,
	"if":     ifFunc,
	"ifn":    ifnFunc,
	"isnull": isnullFunc,
	"error":  errorFunc,
	"type":   typeFunc,
	"export": exportFunc,
	"import": importFunc,
	"write":  writeFunc,
	"fork":   forkFunc,
}

// toFunc is to(n) for 1..n or to(a, b) for a..b.
func toFunc(c *call) (value.Value, error) {
	if err := c.arity(1, 2); err != nil {
		return value.Null(), err
	}
	args, err := c.all()
	if err != nil {
		return value.Null(), err
	}
	if len(args) == 1 {
		return intRange(value.Int(1), args[0])
	}
	return intRange(args[0], args[1])
}

// tableFunc is table(x) converting a collection or cursor, or table("f1", "f2", ...) for an
// empty table with those fields.
func tableFunc(c *call) (value.Value, error) {
	args, err := c.all()
	if err != nil {
		return value.Null(), err
	}
	if len(args) == 1 && args[0].Kind != value.KindString {
		if args[0].Kind == value.KindSet {
			return tableFromItems(args[0].Set.Items())
		}
		t, err := c.asTable(args[0])
		if err != nil {
			return value.Null(), err
		}
		return value.Tab(t), nil
	}
	fields := make([]string, len(args))
	for i, a := range args {
		if a.Kind != value.KindString {
			return value.Null(), errorf(TypeMismatch, "table: field name %d must be a string, got %s", i+1, a.Kind)
		}
		fields[i] = a.S
	}
	s, err := value.NewSchema(fields...)
	if err != nil {
		return value.Null(), err
	}
	t, err := value.NewTable(s, nil)
	if err != nil {
		return value.Null(), err
	}
	return value.Tab(t), nil
}

func tableFromItems(items []value.Value) (value.Value, error) {
	t, err := value.TableFromSequence(value.NewSequence(items...), nil)
	if err != nil {
		return value.Null(), err
	}
	return value.Tab(t), nil
}

// setFunc is set(collection) or set(x, y, ...).
func setFunc(c *call) (value.Value, error) {
	args, err := c.all()
	if err != nil {
		return value.Null(), err
	}
	if len(args) == 1 {
		if args[0].Kind == value.KindCursor {
			_, items, err := c.materialize(args[0])
			if err != nil {
				return value.Null(), err
			}
			return value.SetOf(value.NewSet(items...)), nil
		}
		if items, ok := args[0].Items(); ok {
			return value.SetOf(value.NewSet(items...)), nil
		}
	}
	return value.SetOf(value.NewSet(args...)), nil
}

// cursorFunc streams a table or a sequence of records.
func cursorFunc(c *call) (value.Value, error) {
	if err := c.arity(1, 1); err != nil {
		return value.Null(), err
	}
	v, err := c.arg(0)
	if err != nil {
		return value.Null(), err
	}
	if v.Kind == value.KindCursor {
		return v, nil
	}
	if v.Kind == value.KindSet {
		if v, err = tableFromItems(v.Set.Items()); err != nil {
			return value.Null(), err
		}
	}
	t, err := c.asTable(v)
	if err != nil {
		return value.Null(), err
	}
	return value.Cur(value.TableCursor(t)), nil
}

// connectorError marks a failure reported by an external source.
func connectorError(name string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return &EvalError{Kind: Connector, Msg: fmt.Sprintf("%s: %v", name, err), Err: err}
}

func (c *call) connector(i int) (string, storage.Connector, error) {
	name, ok, err := c.stringArg(i)
	if err != nil {
		return "", nil, err
	}
	if !ok {
		return "", nil, errorf(NullOperation, "%s: connector name is null", c.name)
	}
	if c.e.c.Conns == nil {
		return "", nil, errorf(Connector, "%s: no connectors configured", c.name)
	}
	conn, err := c.e.c.Conns.Get(name)
	if err != nil {
		return "", nil, connectorError(name, err)
	}
	return name, conn, nil
}

// openFunc is open(connector, descriptor): a cursor over an external read.
func openFunc(c *call) (value.Value, error) {
	if err := c.arity(2, 2); err != nil {
		return value.Null(), err
	}
	name, conn, err := c.connector(0)
	if err != nil {
		return value.Null(), err
	}
	desc, ok, err := c.stringArg(1)
	if err != nil {
		return value.Null(), err
	}
	if !ok {
		return value.Null(), errorf(NullOperation, "open: descriptor is null")
	}
	cur, err := storage.OpenCursor(c.e.c.ctx(), conn, desc)
	if err != nil {
		return value.Null(), connectorError(name, err)
	}
	c.e.c.logger().Debug("cursor opened", "connector", name, "descriptor", desc)
	return value.Cur(value.Derive(&connectorSource{name: name, in: cur}, cur)), nil
}

// connectorSource classifies pull failures of a connector cursor.
type connectorSource struct {
	name string
	in   *value.Cursor
}

func (s *connectorSource) Schema() *value.Schema { return s.in.Schema() }

func (s *connectorSource) Next(ctx context.Context) (*value.Record, error) {
	r, err := s.in.Next(ctx)
	if err != nil && err != io.EOF {
		return nil, connectorError(s.name, err)
	}
	return r, err
}

func (s *connectorSource) Close() error { return s.in.Close() }

// detachedEnv hides the cursors of the forking scope from partitions.
type detachedEnv struct{ Env }

func (d detachedEnv) Cell(c lang.Coord) value.Value { return fork.Detach(d.Env.Cell(c)) }

func (d detachedEnv) Var(name string) (value.Value, bool) {
	v, ok := d.Env.Var(name)
	return fork.Detach(v), ok
}

// ifFunc is if(cond, then[, else]); only the chosen branch is evaluated.
func ifFunc(c *call) (value.Value, error) {
	if err := c.arity(2, 3); err != nil {
		return value.Null(), err
	}
	cond, err := c.arg(0)
	if err != nil {
		return value.Null(), err
	}
	if cond.Truthy() {
		return c.arg(1)
	}
	return c.arg(2)
}

// ifnFunc is ifn(x, y): x unless it is null, then y.
func ifnFunc(c *call) (value.Value, error) {
	if err := c.arity(2, 2); err != nil {
		return value.Null(), err
	}
	x, err := c.arg(0)
	if err != nil || !x.IsNull() {
		return x, err
	}
	return c.arg(1)
}

func isnullFunc(c *call) (value.Value, error) {
	if err := c.arity(1, 1); err != nil {
		return value.Null(), err
	}
	x, err := c.arg(0)
	if err != nil {
		return value.Null(), err
	}
	return value.Bool(x.IsNull()), nil
}

func errorFunc(c *call) (value.Value, error) {
	args, err := c.all()
	if err != nil {
		return value.Null(), err
	}
	parts := make([]string, len(args))
	for i, a := range args {
		parts[i] = a.String()
	}
	msg := strings.Join(parts, " ")
	if msg == "" {
		msg = "error raised"
	}
	return value.Null(), &EvalError{Kind: Raised, Msg: msg}
}

func typeFunc(c *call) (value.Value, error) {
	if err := c.arity(1, 1); err != nil {
		return value.Null(), err
	}
	x, err := c.arg(0)
	if err != nil {
		return value.Null(), err
	}
	return value.Str(x.Kind.String()), nil
}

func (c *call) serializer(i int) (codec.Serializer, error) {
	format, ok, err := c.stringArg(i)
	if err != nil {
		return nil, err
	}
	if !ok {
		format = "yaml"
	}
	s, err := codec.ByName(format)
	if err != nil {
		return nil, errorf(UnknownName, "%s: %v", c.name, err)
	}
	return s, nil
}

// exportFunc is export(x[, format]): x encoded as a string, yaml by default. Cursors are
// read to the end first.
func exportFunc(c *call) (value.Value, error) {
	if err := c.arity(1, 2); err != nil {
		return value.Null(), err
	}
	v, err := c.arg(0)
	if err != nil {
		return value.Null(), err
	}
	if v.Kind == value.KindCursor {
		if v, _, err = c.materialize(v); err != nil {
			return value.Null(), err
		}
	}
	s, err := c.serializer(1)
	if err != nil {
		return value.Null(), err
	}
	var buf bytes.Buffer
	if err := s.Encode(&buf, v); err != nil {
		return value.Null(), err
	}
	return value.Str(buf.String()), nil
}

// importFunc is import(text[, format]).
func importFunc(c *call) (value.Value, error) {
	if err := c.arity(1, 2); err != nil {
		return value.Null(), err
	}
	text, ok, err := c.stringArg(0)
	if err != nil || !ok {
		return value.Null(), err
	}
	s, err := c.serializer(1)
	if err != nil {
		return value.Null(), err
	}
	v, err := s.Decode(strings.NewReader(text))
	if err != nil {
		return value.Null(), err
	}
	return v, nil
}

// writeFunc is write(connector, name, data). The table is created when missing and rows
// are appended; the result is the number of rows written.
func writeFunc(c *call) (value.Value, error) {
	if err := c.arity(3, 3); err != nil {
		return value.Null(), err
	}
	conn, store, err := c.connector(0)
	if err != nil {
		return value.Null(), err
	}
	w, ok := store.(storage.Writer)
	if !ok {
		return value.Null(), errorf(Connector, "write: connector %s is read-only", conn)
	}
	name, ok, err := c.stringArg(1)
	if err != nil {
		return value.Null(), err
	}
	if !ok {
		return value.Null(), errorf(NullOperation, "write: table name is null")
	}
	t, err := c.table(2)
	if err != nil {
		return value.Null(), err
	}
	if err := w.CreateTable(name, t.Schema()); err != nil && !errors.Is(err, storage.ErrTableExists) {
		return value.Null(), connectorError(conn, err)
	}
	if err := w.Insert(name, t.Rows()...); err != nil {
		return value.Null(), connectorError(conn, err)
	}
	c.e.c.logger().Debug("table written", "connector", conn, "table", name, "rows", t.Len())
	return value.Int(int64(t.Len())), nil
}

// forkFunc is fork(src, n, expr): expr runs once per partition of src with the partition
// as ~ and its 1-based number as #.
func forkFunc(c *call) (value.Value, error) {
	if err := c.arity(3, 3); err != nil {
		return value.Null(), err
	}
	src, err := c.arg(0)
	if err != nil {
		return value.Null(), err
	}
	n, err := c.intArg(1, 0)
	if err != nil {
		return value.Null(), err
	}
	m := c.e.c.Fork
	if m == nil {
		m = fork.New(1, 1, c.e.c.logger())
	}
	expr, env := c.node(2), detachedEnv{c.env}
	return m.Run(c.e.c.ctx(), src, int(n), func(ctx context.Context, part int, sub value.Value) (value.Value, error) {
		e := &evaluator{c: c.e.c.with(ctx)}
		v, err := e.eval(member(env, sub, part), expr)
		return v, wrap(err)
	})
}
