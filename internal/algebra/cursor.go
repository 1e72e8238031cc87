package algebra

import (
	"context"
	"io"

	"gocell/internal/value"
)

// The sources below compose cursors lazily. Each owns its input cursor and closes it when
// closed itself; exhaustion of the input ends the output.

type filterSource struct {
	in   *value.Cursor
	pred Func
	pos  int
}

// FilterCursor keeps records whose predicate is truthy.
func FilterCursor(in *value.Cursor, pred Func) *value.Cursor {
	return value.Derive(&filterSource{in: in, pred: pred}, in)
}

func (f *filterSource) Schema() *value.Schema { return f.in.Schema() }

func (f *filterSource) Next(ctx context.Context) (*value.Record, error) {
	for {
		r, err := f.in.Next(ctx)
		if err != nil {
			return nil, err
		}
		f.pos++
		ok, err := f.pred(value.Rec(r), f.pos)
		if err != nil {
			return nil, err
		}
		if ok.Truthy() {
			return r, nil
		}
	}
}

func (f *filterSource) Close() error { return f.in.Close() }

// RecordFunc maps one input record to one output record.
type RecordFunc func(r *value.Record, pos int) (*value.Record, error)

type mapSource struct {
	in     *value.Cursor
	fn     RecordFunc
	schema *value.Schema
	pos    int
}

// MapCursor transforms each record with fn. schema is the output schema when known.
func MapCursor(in *value.Cursor, schema *value.Schema, fn RecordFunc) *value.Cursor {
	return value.Derive(&mapSource{in: in, fn: fn, schema: schema}, in)
}

func (m *mapSource) Schema() *value.Schema { return m.schema }

func (m *mapSource) Next(ctx context.Context) (*value.Record, error) {
	r, err := m.in.Next(ctx)
	if err != nil {
		return nil, err
	}
	m.pos++
	return m.fn(r, m.pos)
}

func (m *mapSource) Close() error { return m.in.Close() }

type groupSource struct {
	in     *value.Cursor
	st     *GroupState
	sorted bool
	out    *value.Cursor
}

// GroupsCursor aggregates its input on the first pull and then serves the grouped rows.
func GroupsCursor(in *value.Cursor, keyNames []string, keys []Func, aggs []Agg, sorted bool) (*value.Cursor, error) {
	st, err := NewGroupState(keyNames, keys, aggs)
	if err != nil {
		return nil, err
	}
	return value.Derive(&groupSource{in: in, st: st, sorted: sorted}, in), nil
}

func (g *groupSource) Schema() *value.Schema { return g.st.schema }

func (g *groupSource) Next(ctx context.Context) (*value.Record, error) {
	if g.out == nil {
		t, err := DrainGroups(ctx, g.in, g.st, g.sorted)
		if err != nil {
			return nil, err
		}
		g.out = value.TableCursor(t)
	}
	return g.out.Next(ctx)
}

func (g *groupSource) Close() error {
	if g.out != nil {
		g.out.Close()
	}
	return g.in.Close()
}

// DrainGroups folds every remaining record of in into st.
func DrainGroups(ctx context.Context, in *value.Cursor, st *GroupState, sorted bool) (*value.Table, error) {
	pos := 0
	for {
		r, err := in.Next(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		pos++
		if err := st.Add(value.Rec(r), pos); err != nil {
			return nil, err
		}
	}
	return st.Table(sorted)
}

type joinSource struct {
	in      *value.Cursor
	h       *HashJoin
	lkey    Func
	pos     int
	pending []*value.Record
	schema  *value.Schema
}

// JoinCursor streams in against the in-memory right side indexed by h.
func JoinCursor(in *value.Cursor, h *HashJoin, lkey Func) *value.Cursor {
	j := &joinSource{in: in, h: h, lkey: lkey}
	if s := in.Schema(); s != nil {
		j.schema, _ = h.Schema(s)
	}
	return value.Derive(j, in)
}

func (j *joinSource) Schema() *value.Schema { return j.schema }

func (j *joinSource) Next(ctx context.Context) (*value.Record, error) {
	for len(j.pending) == 0 {
		l, err := j.in.Next(ctx)
		if err != nil {
			return nil, err
		}
		j.pos++
		if j.schema == nil {
			if j.schema, err = j.h.Schema(l.Schema()); err != nil {
				return nil, err
			}
		}
		k, err := j.lkey(value.Rec(l), j.pos)
		if err != nil {
			return nil, err
		}
		if j.pending, err = j.h.Probe(j.schema, l, k); err != nil {
			return nil, err
		}
	}
	r := j.pending[0]
	j.pending = j.pending[1:]
	return r, nil
}

func (j *joinSource) Close() error { return j.in.Close() }

// Drain pulls every remaining record of c into a slice of record values.
func Drain(ctx context.Context, c *value.Cursor) ([]value.Value, error) {
	var out []value.Value
	for {
		r, err := c.Next(ctx)
		if err == io.EOF {
			return nonNil(out), nil
		}
		if err != nil {
			return nil, err
		}
		out = append(out, value.Rec(r))
	}
}

// AggregateCursor consumes c and aggregates fn over its records.
func AggregateCursor(ctx context.Context, c *value.Cursor, op AggOp, fn Func) (value.Value, error) {
	acc := NewAccumulator(op)
	pos := 0
	for {
		r, err := c.Next(ctx)
		if err == io.EOF {
			return acc.Result()
		}
		if err != nil {
			return value.Null(), err
		}
		pos++
		v := value.Rec(r)
		if fn != nil {
			if v, err = fn(v, pos); err != nil {
				return value.Null(), err
			}
		}
		if err := acc.Add(v); err != nil {
			return value.Null(), err
		}
	}
}

// IterateCursor folds the records of c like Iterate. The cursor is closed if stop ends the
// fold early.
func IterateCursor(ctx context.Context, c *value.Cursor, init value.Value, step Step, stop func(acc value.Value) (bool, error)) (value.Value, error) {
	acc := init
	pos := 0
	for {
		if stop != nil {
			done, err := stop(acc)
			if err != nil {
				return value.Null(), err
			}
			if done {
				return acc, c.Close()
			}
		}
		r, err := c.Next(ctx)
		if err == io.EOF {
			return acc, nil
		}
		if err != nil {
			return value.Null(), err
		}
		pos++
		if acc, err = step(acc, value.Rec(r), pos); err != nil {
			return value.Null(), err
		}
	}
}
