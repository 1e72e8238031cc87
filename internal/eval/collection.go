package eval

import (
	"unicode/utf8"

	"gocell/internal/algebra"
	"gocell/internal/lang"
	"gocell/internal/storage/filestore"
	"gocell/internal/value"
)

const defaultBlockSize = 1024

var collectionFuncs = map[string]builtin{
	"select":  selectFunc,
	"sort":    sortFunc,
	"sortx":   sortxFunc,
	"group":   groupFunc,
	"groups":  groupsFunc,
	"join":    joinFunc,
	"id":      idFunc,
	"new":     newFunc,
	"derive":  deriveFunc,
	"iterate": iterateFunc,
	"pivot":   pivotFunc,
	"top":     topFunc,
	"insert":  insertFunc,
	"m":       mFunc,
	"pos":     posFunc,
	"len":     lenFunc,
	"fields":  fieldsFunc,
	"fetch":   fetchFunc,
	"skip":    skipFunc,
	"close":   closeFunc,
	"sum":     aggregate(algebra.AggSum),
	"count":   aggregate(algebra.AggCount),
	"avg":     aggregate(algebra.AggAvg),
	"min":     aggregate(algebra.AggMin),
	"max":     aggregate(algebra.AggMax),
	"icount":  aggregate(algebra.AggICount),
	"union":   setOp(algebra.Union),
	"isect":   setOp(algebra.Isect),
	"diff":    setOp(algebra.Diff),
	"conj":    setOp(func(a, b []value.Value) []value.Value { return algebra.Conj(a, b) }),
}

// materialize returns the members of a collection. Cursors are read to the end and turned
// into a table, which replaces v.
func (c *call) materialize(v value.Value) (value.Value, []value.Value, error) {
	switch v.Kind {
	case value.KindNull:
		return v, nil, errorf(NullOperation, "%s on null", c.name)
	case value.KindCursor:
		t, err := v.Cur.Fetch(c.e.c.ctx(), 0)
		if err != nil {
			return v, nil, err
		}
		v = value.Tab(t)
	}
	items, ok := v.Items()
	if !ok {
		return v, nil, errorf(TypeMismatch, "%s needs a collection, got %s", c.name, v.Kind)
	}
	return v, items, nil
}

func (c *call) collection(i int) (value.Value, []value.Value, error) {
	v, err := c.arg(i)
	if err != nil {
		return v, nil, err
	}
	return c.materialize(v)
}

// table reads argument i as a table. Sequences of records and cursors are converted.
func (c *call) table(i int) (*value.Table, error) {
	v, err := c.arg(i)
	if err != nil {
		return nil, err
	}
	return c.asTable(v)
}

func (c *call) asTable(v value.Value) (*value.Table, error) {
	switch v.Kind {
	case value.KindTable:
		return v.Tab, nil
	case value.KindSequence:
		return value.TableFromSequence(v.Seq, nil)
	case value.KindCursor:
		return v.Cur.Fetch(c.e.c.ctx(), 0)
	case value.KindNull:
		return nil, errorf(NullOperation, "%s on null", c.name)
	}
	return nil, errorf(TypeMismatch, "%s needs a table, got %s", c.name, v.Kind)
}

// rebuild returns items in the shape of src: a table keeps its schema, a set stays a set
// and everything else becomes a sequence.
func rebuild(src value.Value, items []value.Value) (value.Value, error) {
	switch src.Kind {
	case value.KindTable:
		rows := make([]*value.Record, len(items))
		for i, it := range items {
			if it.Kind != value.KindRecord {
				return value.List(items...), nil
			}
			rows[i] = it.Rec
		}
		t, err := value.NewTable(src.Tab.Schema(), rows)
		if err != nil {
			return value.Null(), err
		}
		return value.Tab(t), nil
	case value.KindSet:
		return value.SetOf(value.NewSet(items...)), nil
	}
	return value.List(items...), nil
}

func selectFunc(c *call) (value.Value, error) {
	if err := c.arity(2, 2); err != nil {
		return value.Null(), err
	}
	src, err := c.arg(0)
	if err != nil {
		return value.Null(), err
	}
	pred := c.memberArg(1)
	if src.Kind == value.KindCursor {
		return value.Cur(algebra.FilterCursor(src.Cur, pred)), nil
	}
	src, items, err := c.materialize(src)
	if err != nil {
		return value.Null(), err
	}
	out, err := algebra.Select(items, pred)
	if err != nil {
		return value.Null(), err
	}
	return rebuild(src, out)
}

func sortFunc(c *call) (value.Value, error) {
	src, items, err := c.collection(0)
	if err != nil {
		return value.Null(), err
	}
	keys, err := c.sortKeys()
	if err != nil {
		return value.Null(), err
	}
	out, err := algebra.Sort(items, keys)
	if err != nil {
		return value.Null(), err
	}
	return rebuild(src, out)
}

// sortKeys reads the keys of sort and sortx: member expressions from argument 1 on, all
// descending with @z or desc=true.
func (c *call) sortKeys() ([]algebra.SortKey, error) {
	desc, err := c.flag("desc")
	if err != nil {
		return nil, err
	}
	desc = desc || c.opt('z')
	keys := []algebra.SortKey{{Desc: desc}}
	if fns := c.members(1); len(fns) > 0 {
		keys = keys[:0]
		for _, fn := range fns {
			keys = append(keys, algebra.SortKey{Fn: fn, Desc: desc})
		}
	}
	return keys, nil
}

// sortxFunc is C.sortx(keys...): an external sort of a cursor. Blocks of BlockSize records
// are sorted in memory and spilled to run files, which the result cursor merges as it is
// pulled.
func sortxFunc(c *call) (value.Value, error) {
	src, err := c.arg(0)
	if err != nil {
		return value.Null(), err
	}
	switch src.Kind {
	case value.KindCursor:
	case value.KindNull:
		return value.Null(), errorf(NullOperation, "sortx on null")
	default:
		return value.Null(), errorf(TypeMismatch, "sortx needs a cursor, got %s", src.Kind)
	}
	keys, err := c.sortKeys()
	if err != nil {
		return value.Null(), err
	}
	block := c.e.c.BlockSize
	if block <= 0 {
		block = defaultBlockSize
	}
	dir, logger := c.e.c.TempDir, c.e.c.logger()
	spill := func(items []value.Value) (algebra.Run, error) {
		run, err := filestore.Spill(dir, items)
		if err != nil {
			return nil, err
		}
		logger.Debug("sort run spilled", "rows", len(items))
		return run, nil
	}
	return value.Cur(algebra.SortxCursor(src.Cur, keys, block, spill)), nil
}

func groupFunc(c *call) (value.Value, error) {
	if err := c.arity(2, -1); err != nil {
		return value.Null(), err
	}
	src, items, err := c.collection(0)
	if err != nil {
		return value.Null(), err
	}
	groups, err := algebra.GroupBy(items, c.members(1), c.opt('s'))
	if err != nil {
		return value.Null(), err
	}
	out := make([]value.Value, len(groups))
	for i, g := range groups {
		if out[i], err = rebuild(src, g.Items); err != nil {
			return value.Null(), err
		}
	}
	return value.List(out...), nil
}

// groupsSpec reads the key and aggregate columns of groups. Positional arguments are keys;
// named arguments must be aggregate calls such as total=sum(amount).
func (c *call) groupsSpec() ([]string, []algebra.Func, []algebra.Agg, error) {
	var names []string
	var keys []algebra.Func
	for i := 1; i < c.n(); i++ {
		names = append(names, fieldName(c.node(i), i))
		keys = append(keys, c.memberArg(i))
	}
	var aggs []algebra.Agg
	for _, a := range c.named() {
		call, ok := a.X.(*lang.Call)
		if !ok {
			return nil, nil, nil, errorf(TypeMismatch, "groups: %s must be an aggregate call", a.Name)
		}
		op, ok := algebra.ParseAggOp(call.Name)
		if !ok {
			return nil, nil, nil, errorf(TypeMismatch, "groups: %s is not an aggregate", call.Name)
		}
		if len(call.Args) > 1 {
			return nil, nil, nil, errorf(Arity, "groups: %s takes at most one argument", call.Name)
		}
		var fn algebra.Func
		if len(call.Args) == 1 {
			fn = c.member(call.Args[0].X)
		} else if op == algebra.AggCount {
			op = algebra.AggCountAll
		}
		aggs = append(aggs, algebra.Agg{Name: a.Name, Op: op, Fn: fn})
	}
	return names, keys, aggs, nil
}

func groupsFunc(c *call) (value.Value, error) {
	src, err := c.arg(0)
	if err != nil {
		return value.Null(), err
	}
	names, keys, aggs, err := c.groupsSpec()
	if err != nil {
		return value.Null(), err
	}
	if src.Kind == value.KindCursor {
		cur, err := algebra.GroupsCursor(src.Cur, names, keys, aggs, c.opt('s'))
		if err != nil {
			return value.Null(), err
		}
		return value.Cur(cur), nil
	}
	_, items, err := c.materialize(src)
	if err != nil {
		return value.Null(), err
	}
	t, err := algebra.Groups(items, names, keys, aggs, c.opt('s'))
	if err != nil {
		return value.Null(), err
	}
	return value.Tab(t), nil
}

// joinFunc is L.join(R, lkey[, rkey]). The right key defaults to the left key expression.
func joinFunc(c *call) (value.Value, error) {
	if err := c.arity(3, 4); err != nil {
		return value.Null(), err
	}
	left, err := c.arg(0)
	if err != nil {
		return value.Null(), err
	}
	right, err := c.table(1)
	if err != nil {
		if left.Kind == value.KindCursor {
			left.Cur.Close()
		}
		return value.Null(), err
	}
	outer, err := c.flag("outer")
	if err != nil {
		return value.Null(), err
	}
	outer = outer || c.opt('1')
	lkey := c.memberArg(2)
	rkey := lkey
	if c.n() == 4 {
		rkey = c.memberArg(3)
	}

	if left.Kind == value.KindCursor {
		h, err := algebra.NewHashJoin(right, rkey, outer)
		if err != nil {
			left.Cur.Close()
			return value.Null(), err
		}
		return value.Cur(algebra.JoinCursor(left.Cur, h, lkey)), nil
	}
	lt, err := c.asTable(left)
	if err != nil {
		return value.Null(), err
	}
	t, err := algebra.Join(lt, right, lkey, rkey, outer)
	if err != nil {
		return value.Null(), err
	}
	return value.Tab(t), nil
}

func idFunc(c *call) (value.Value, error) {
	src, items, err := c.collection(0)
	if err != nil {
		return value.Null(), err
	}
	return rebuild(src, algebra.Distinct(items))
}

// projection lists the fields new and derive compute, in argument order.
type projection struct {
	names []string
	exprs []lang.Node
}

func (c *call) projection() projection {
	var p projection
	for i, a := range c.args {
		name := a.Name
		if name == "" {
			name = fieldName(a.X, i+1)
		}
		p.names = append(p.names, name)
		p.exprs = append(p.exprs, a.X)
	}
	return p
}

func (c *call) project(p projection, elem value.Value, pos int) ([]value.Value, error) {
	env := member(c.env, elem, pos)
	out := make([]value.Value, len(p.exprs))
	for i, x := range p.exprs {
		v, err := c.e.eval(env, x)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// newFunc builds one record per element holding only the listed fields.
func newFunc(c *call) (value.Value, error) {
	if c.recv == nil {
		return value.Null(), errorf(Arity, "new must be called on a collection")
	}
	p := c.projection()
	schema, err := value.NewSchema(p.names...)
	if err != nil {
		return value.Null(), err
	}
	src := *c.recv
	if src.Kind == value.KindCursor {
		return value.Cur(algebra.MapCursor(src.Cur, schema, func(r *value.Record, pos int) (*value.Record, error) {
			vals, err := c.project(p, value.Rec(r), pos)
			if err != nil {
				return nil, err
			}
			return value.NewRecord(schema, vals)
		})), nil
	}
	_, items, err := c.materialize(src)
	if err != nil {
		return value.Null(), err
	}
	rows := make([]*value.Record, len(items))
	for i, it := range items {
		vals, err := c.project(p, it, i+1)
		if err != nil {
			return value.Null(), err
		}
		if rows[i], err = value.NewRecord(schema, vals); err != nil {
			return value.Null(), err
		}
	}
	t, err := value.NewTable(schema, rows)
	if err != nil {
		return value.Null(), err
	}
	return value.Tab(t), nil
}

// deriveFunc appends the listed fields to every record.
func deriveFunc(c *call) (value.Value, error) {
	if c.recv == nil {
		return value.Null(), errorf(Arity, "derive must be called on a collection")
	}
	p := c.projection()
	schemas := map[*value.Schema]*value.Schema{}
	extend := func(s *value.Schema) (*value.Schema, error) {
		if out, ok := schemas[s]; ok {
			return out, nil
		}
		out, err := value.NewSchema(append(s.Fields(), p.names...)...)
		if err != nil {
			return nil, err
		}
		schemas[s] = out
		return out, nil
	}
	derive := func(r *value.Record, pos int) (*value.Record, error) {
		s, err := extend(r.Schema())
		if err != nil {
			return nil, err
		}
		vals, err := c.project(p, value.Rec(r), pos)
		if err != nil {
			return nil, err
		}
		return value.NewRecord(s, append(r.Values(), vals...))
	}

	src := *c.recv
	if src.Kind == value.KindCursor {
		var out *value.Schema
		if in := src.Cur.Schema(); in != nil {
			var err error
			if out, err = extend(in); err != nil {
				src.Cur.Close()
				return value.Null(), err
			}
		}
		return value.Cur(algebra.MapCursor(src.Cur, out, derive)), nil
	}
	src, items, err := c.materialize(src)
	if err != nil {
		return value.Null(), err
	}
	out := make([]value.Value, len(items))
	for i, it := range items {
		if it.Kind != value.KindRecord {
			return value.Null(), errorf(TypeMismatch, "derive needs records, item %d is %s", i+1, it.Kind)
		}
		r, err := derive(it.Rec, i+1)
		if err != nil {
			return value.Null(), err
		}
		out[i] = value.Rec(r)
	}
	if src.Kind == value.KindTable {
		s, err := extend(src.Tab.Schema())
		if err != nil {
			return value.Null(), err
		}
		rows := make([]*value.Record, len(out))
		for i, v := range out {
			rows[i] = v.Rec
		}
		t, err := value.NewTable(s, rows)
		if err != nil {
			return value.Null(), err
		}
		return value.Tab(t), nil
	}
	return value.List(out...), nil
}

// iterateFunc folds S.iterate(expr, init, stop): expr sees the element as ~ and the
// accumulator as ~~; the fold ends before an element once stop is true.
func iterateFunc(c *call) (value.Value, error) {
	if err := c.arity(2, 4); err != nil {
		return value.Null(), err
	}
	src, err := c.arg(0)
	if err != nil {
		return value.Null(), err
	}
	init, err := c.arg(2)
	if err != nil {
		return value.Null(), err
	}
	expr := c.node(1)
	step := func(acc, elem value.Value, pos int) (value.Value, error) {
		s := member(c.env, elem, pos)
		s.acc, s.hasAcc = acc, true
		return c.e.eval(s, expr)
	}
	var stop func(value.Value) (bool, error)
	if x := c.node(3); x != nil {
		stop = func(acc value.Value) (bool, error) {
			s := member(c.env, value.Null(), 0)
			s.acc, s.hasAcc = acc, true
			v, err := c.e.eval(s, x)
			return v.Truthy(), err
		}
	}
	if src.Kind == value.KindCursor {
		return algebra.IterateCursor(c.e.c.ctx(), src.Cur, init, step, stop)
	}
	_, items, err := c.materialize(src)
	if err != nil {
		return value.Null(), err
	}
	return algebra.Iterate(items, init, step, stop)
}

func pivotFunc(c *call) (value.Value, error) {
	if err := c.arity(4, 4); err != nil {
		return value.Null(), err
	}
	t, err := c.table(0)
	if err != nil {
		return value.Null(), err
	}
	var names [3]string
	for i := range names {
		if names[i], err = c.nameArg(i + 1); err != nil {
			return value.Null(), err
		}
	}
	out, err := algebra.Pivot(t, names[0], names[1], names[2])
	if err != nil {
		return value.Null(), err
	}
	return value.Tab(out), nil
}

// topFunc is S.top(n[, key]): the n smallest by key, or the -n largest.
func topFunc(c *call) (value.Value, error) {
	if err := c.arity(2, 3); err != nil {
		return value.Null(), err
	}
	src, items, err := c.collection(0)
	if err != nil {
		return value.Null(), err
	}
	n, err := c.intArg(1, 1)
	if err != nil {
		return value.Null(), err
	}
	out, err := algebra.Top(items, int(n), c.memberArg(2))
	if err != nil {
		return value.Null(), err
	}
	return rebuild(src, out)
}

// insertFunc is S.insert(k, x...): the values are inserted before position k, or appended
// when k is 0.
func insertFunc(c *call) (value.Value, error) {
	if err := c.arity(3, -1); err != nil {
		return value.Null(), err
	}
	src, items, err := c.collection(0)
	if err != nil {
		return value.Null(), err
	}
	k, err := c.intArg(1, 0)
	if err != nil {
		return value.Null(), err
	}
	if k == 0 {
		k = int64(len(items)) + 1
	}
	if k < 1 || k > int64(len(items))+1 {
		return value.Null(), errorf(Bounds, "insert position %d out of range 1..%d", k, len(items)+1)
	}
	var extra []value.Value
	for i := 2; i < c.n(); i++ {
		v, err := c.arg(i)
		if err != nil {
			return value.Null(), err
		}
		extra = append(extra, v)
	}
	out := make([]value.Value, 0, len(items)+len(extra))
	out = append(out, items[:k-1]...)
	out = append(out, extra...)
	out = append(out, items[k-1:]...)
	return rebuild(src, out)
}

// mFunc is S.m(i...): one position gives the member, several give a sequence.
func mFunc(c *call) (value.Value, error) {
	if err := c.arity(2, -1); err != nil {
		return value.Null(), err
	}
	src, err := c.arg(0)
	if err != nil {
		return value.Null(), err
	}
	if src.Kind == value.KindCursor {
		if src, _, err = c.materialize(src); err != nil {
			return value.Null(), err
		}
	}
	var out []value.Value
	for i := 1; i < c.n(); i++ {
		p, err := c.arg(i)
		if err != nil {
			return value.Null(), err
		}
		v, err := index(src, p)
		if err != nil {
			return value.Null(), err
		}
		out = append(out, v)
	}
	if len(out) == 1 {
		return out[0], nil
	}
	return value.List(out...), nil
}

// posFunc finds x in a collection, or a substring in a string. Positions are 1-based; 0
// means not found.
func posFunc(c *call) (value.Value, error) {
	if err := c.arity(2, 2); err != nil {
		return value.Null(), err
	}
	args, err := c.all()
	if err != nil {
		return value.Null(), err
	}
	src, x := args[0], args[1]
	switch src.Kind {
	case value.KindNull:
		return value.Null(), nil
	case value.KindString:
		if x.Kind != value.KindString {
			return value.Null(), errorf(TypeMismatch, "pos of %s in a string", x.Kind)
		}
		return value.Int(int64(runeIndex(src.S, x.S))), nil
	}
	_, items, err := c.materialize(src)
	if err != nil {
		return value.Null(), err
	}
	return value.Int(int64(value.NewSequence(items...).Find(x))), nil
}

func lenFunc(c *call) (value.Value, error) {
	if err := c.arity(1, 1); err != nil {
		return value.Null(), err
	}
	v, err := c.arg(0)
	if err != nil {
		return value.Null(), err
	}
	switch v.Kind {
	case value.KindNull:
		return value.Null(), nil
	case value.KindString:
		return value.Int(int64(utf8.RuneCountInString(v.S))), nil
	case value.KindRecord:
		return value.Int(int64(v.Rec.Len())), nil
	}
	_, items, err := c.materialize(v)
	if err != nil {
		return value.Null(), err
	}
	return value.Int(int64(len(items))), nil
}

func fieldsFunc(c *call) (value.Value, error) {
	if err := c.arity(1, 1); err != nil {
		return value.Null(), err
	}
	v, err := c.arg(0)
	if err != nil {
		return value.Null(), err
	}
	var s *value.Schema
	switch v.Kind {
	case value.KindRecord:
		s = v.Rec.Schema()
	case value.KindTable:
		s = v.Tab.Schema()
	case value.KindCursor:
		s = v.Cur.Schema()
	default:
		return value.Null(), errorf(TypeMismatch, "fields of %s", v.Kind)
	}
	if s == nil {
		return value.Null(), nil
	}
	names := s.Fields()
	out := make([]value.Value, len(names))
	for i, n := range names {
		out[i] = value.Str(n)
	}
	return value.List(out...), nil
}

// fetchFunc reads up to n records of a cursor (all when n is absent) into a table. On an
// in-memory collection it returns the first n members.
func fetchFunc(c *call) (value.Value, error) {
	if err := c.arity(1, 2); err != nil {
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
	if src.Kind == value.KindCursor {
		t, err := src.Cur.Fetch(c.e.c.ctx(), int(n))
		if err != nil {
			return value.Null(), err
		}
		return value.Tab(t), nil
	}
	src, items, err := c.materialize(src)
	if err != nil {
		return value.Null(), err
	}
	if n > 0 && int(n) < len(items) {
		items = items[:n]
	}
	return rebuild(src, items)
}

func skipFunc(c *call) (value.Value, error) {
	if err := c.arity(1, 2); err != nil {
		return value.Null(), err
	}
	src, err := c.arg(0)
	if err != nil {
		return value.Null(), err
	}
	if src.Kind != value.KindCursor {
		return value.Null(), errorf(TypeMismatch, "skip needs a cursor, got %s", src.Kind)
	}
	n, err := c.intArg(1, 1)
	if err != nil {
		return value.Null(), err
	}
	k, err := src.Cur.Skip(c.e.c.ctx(), int(n))
	if err != nil {
		return value.Null(), err
	}
	return value.Int(int64(k)), nil
}

func closeFunc(c *call) (value.Value, error) {
	if err := c.arity(1, 1); err != nil {
		return value.Null(), err
	}
	src, err := c.arg(0)
	if err != nil {
		return value.Null(), err
	}
	if src.Kind != value.KindCursor {
		return value.Null(), errorf(TypeMismatch, "close needs a cursor, got %s", src.Kind)
	}
	return value.Null(), src.Cur.Close()
}

// aggregate builds sum, count, avg, min, max and icount. Over a collection or cursor the
// optional second argument is evaluated per member; over plain values the arguments
// themselves are aggregated.
func aggregate(op algebra.AggOp) builtin {
	return func(c *call) (value.Value, error) {
		if err := c.arity(1, -1); err != nil {
			return value.Null(), err
		}
		src, err := c.arg(0)
		if err != nil {
			return value.Null(), err
		}
		switch src.Kind {
		case value.KindCursor, value.KindSequence, value.KindTable, value.KindSet:
			if c.n() > 2 {
				return value.Null(), errorf(Arity, "%s over a collection takes one expression", c.name)
			}
			fn := c.memberArg(1)
			o := op
			if o == algebra.AggCount && fn == nil {
				o = algebra.AggCountAll
			}
			if src.Kind == value.KindCursor {
				return algebra.AggregateCursor(c.e.c.ctx(), src.Cur, o, fn)
			}
			items, _ := src.Items()
			return algebra.Aggregate(items, o, fn)
		}
		args, err := c.all()
		if err != nil {
			return value.Null(), err
		}
		return algebra.Aggregate(args, op, nil)
	}
}

// setOp builds union, isect, diff and conj over two or more collections. The result has
// the shape of the first.
func setOp(fn func(a, b []value.Value) []value.Value) builtin {
	return func(c *call) (value.Value, error) {
		if err := c.arity(2, -1); err != nil {
			return value.Null(), err
		}
		src, acc, err := c.collection(0)
		if err != nil {
			return value.Null(), err
		}
		for i := 1; i < c.n(); i++ {
			_, items, err := c.collection(i)
			if err != nil {
				return value.Null(), err
			}
			acc = fn(acc, items)
		}
		return rebuild(src, acc)
	}
}
