package algebra

import (
	"fmt"
	"sort"
	"strings"

	"gocell/internal/value"
)

// AggOp is an aggregate function.
type AggOp int

const (
	AggSum AggOp = iota
	AggCount
	AggCountAll
	AggAvg
	AggMin
	AggMax
	AggICount
)

// ParseAggOp maps a function name to its aggregate. count with no argument is AggCountAll;
// callers decide that before calling.
func ParseAggOp(name string) (AggOp, bool) {
	switch strings.ToLower(name) {
	case "sum":
		return AggSum, true
	case "count":
		return AggCount, true
	case "avg":
		return AggAvg, true
	case "min":
		return AggMin, true
	case "max":
		return AggMax, true
	case "icount":
		return AggICount, true
	}
	return 0, false
}

// Accumulator folds values into one aggregate. Nulls are skipped by every op except
// AggCountAll.
type Accumulator struct {
	op    AggOp
	acc   value.Value
	n     int64
	set   *value.Set
	empty bool
}

func NewAccumulator(op AggOp) *Accumulator {
	a := &Accumulator{op: op, empty: true}
	if op == AggICount {
		a.set = value.NewSet()
	}
	return a
}

// Add folds one value.
func (a *Accumulator) Add(v value.Value) error {
	if a.op == AggCountAll {
		a.n++
		return nil
	}
	if v.IsNull() {
		return nil
	}
	a.n++
	switch a.op {
	case AggSum, AggAvg:
		if a.empty {
			if !v.IsNumeric() {
				return fmt.Errorf("%w: cannot sum %s", value.ErrTypeMismatch, v.Kind)
			}
			a.acc = v
			break
		}
		s, err := value.Add(a.acc, v)
		if err != nil {
			return err
		}
		a.acc = s
	case AggMin, AggMax:
		if a.empty {
			a.acc = v
			break
		}
		c, err := value.Compare(v, a.acc)
		if err != nil {
			return err
		}
		if (a.op == AggMin && c < 0) || (a.op == AggMax && c > 0) {
			a.acc = v
		}
	case AggICount:
		a.set.Add(v)
	}
	a.empty = false
	return nil
}

// Result returns the aggregate. Sum, avg, min and max of no values are null; counts are 0.
func (a *Accumulator) Result() (value.Value, error) {
	switch a.op {
	case AggCount, AggCountAll:
		return value.Int(a.n), nil
	case AggICount:
		return value.Int(int64(a.set.Len())), nil
	case AggAvg:
		if a.n == 0 {
			return value.Null(), nil
		}
		return value.Div(a.acc, value.Int(a.n))
	}
	if a.empty {
		return value.Null(), nil
	}
	return a.acc, nil
}

// Aggregate computes one aggregate over items. A nil fn aggregates the elements themselves.
func Aggregate(items []value.Value, op AggOp, fn Func) (value.Value, error) {
	acc := NewAccumulator(op)
	for i, it := range items {
		v := it
		if fn != nil {
			var err error
			if v, err = fn(it, i+1); err != nil {
				return value.Null(), err
			}
		}
		if err := acc.Add(v); err != nil {
			return value.Null(), err
		}
	}
	return acc.Result()
}

// Group is one bucket of a grouping.
type Group struct {
	Key   []value.Value
	Items []value.Value
}

// GroupBy buckets items by the composite key of keys. Groups keep first-seen key order;
// with sorted set they are ordered by key instead.
func GroupBy(items []value.Value, keys []Func, sorted bool) ([]*Group, error) {
	g := newGrouper()
	for i, it := range items {
		k, err := evalKeys(keys, it, i+1)
		if err != nil {
			return nil, err
		}
		grp := g.lookup(k)
		grp.Items = append(grp.Items, it)
	}
	if sorted {
		if err := sortGroups(g.groups); err != nil {
			return nil, err
		}
	}
	return g.groups, nil
}

// Agg names one aggregate column of Groups.
type Agg struct {
	Name string
	Op   AggOp
	Fn   Func
}

// Groups groups items by keys and aggregates each group in a single pass. The result has the
// key columns followed by one column per aggregate, one row per group in first-seen order
// (key order when sorted is set).
func Groups(items []value.Value, keyNames []string, keys []Func, aggs []Agg, sorted bool) (*value.Table, error) {
	st, err := NewGroupState(keyNames, keys, aggs)
	if err != nil {
		return nil, err
	}
	for i, it := range items {
		if err := st.Add(it, i+1); err != nil {
			return nil, err
		}
	}
	return st.Table(sorted)
}

// GroupState is the incremental form of Groups, shared by the in-memory kernel and the
// grouping cursor.
type GroupState struct {
	schema *value.Schema
	keys   []Func
	aggs   []Agg
	g      *grouper
	accs   map[*Group][]*Accumulator
}

func NewGroupState(keyNames []string, keys []Func, aggs []Agg) (*GroupState, error) {
	if len(keyNames) != len(keys) {
		return nil, fmt.Errorf("groups: %d key names for %d keys", len(keyNames), len(keys))
	}
	fields := append([]string{}, keyNames...)
	for _, a := range aggs {
		fields = append(fields, a.Name)
	}
	s, err := value.NewSchema(fields...)
	if err != nil {
		return nil, err
	}
	return &GroupState{
		schema: s,
		keys:   keys,
		aggs:   aggs,
		g:      newGrouper(),
		accs:   make(map[*Group][]*Accumulator),
	}, nil
}

// Add folds one element into its group.
func (st *GroupState) Add(elem value.Value, pos int) error {
	k, err := evalKeys(st.keys, elem, pos)
	if err != nil {
		return err
	}
	grp := st.g.lookup(k)
	accs, ok := st.accs[grp]
	if !ok {
		accs = make([]*Accumulator, len(st.aggs))
		for i, a := range st.aggs {
			accs[i] = NewAccumulator(a.Op)
		}
		st.accs[grp] = accs
	}
	for i, a := range st.aggs {
		v := elem
		if a.Fn != nil {
			if v, err = a.Fn(elem, pos); err != nil {
				return err
			}
		}
		if err := accs[i].Add(v); err != nil {
			return err
		}
	}
	return nil
}

// Table materialises the grouped result.
func (st *GroupState) Table(sorted bool) (*value.Table, error) {
	groups := st.g.groups
	if sorted {
		groups = append([]*Group(nil), groups...)
		if err := sortGroups(groups); err != nil {
			return nil, err
		}
	}
	rows := make([]*value.Record, 0, len(groups))
	for _, grp := range groups {
		vals := make([]value.Value, 0, st.schema.Len())
		vals = append(vals, grp.Key...)
		for _, acc := range st.accs[grp] {
			v, err := acc.Result()
			if err != nil {
				return nil, err
			}
			vals = append(vals, v)
		}
		r, err := value.NewRecord(st.schema, vals)
		if err != nil {
			return nil, err
		}
		rows = append(rows, r)
	}
	return value.NewTable(st.schema, rows)
}

type grouper struct {
	index  map[string]*Group
	groups []*Group
}

func newGrouper() *grouper {
	return &grouper{index: make(map[string]*Group)}
}

func (g *grouper) lookup(key []value.Value) *Group {
	k := value.Key(value.List(key...))
	grp, ok := g.index[k]
	if !ok {
		grp = &Group{Key: key}
		g.index[k] = grp
		g.groups = append(g.groups, grp)
	}
	return grp
}

func evalKeys(keys []Func, elem value.Value, pos int) ([]value.Value, error) {
	out := make([]value.Value, len(keys))
	for i, k := range keys {
		v, err := k(elem, pos)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func sortGroups(groups []*Group) error {
	var cmpErr error
	sort.SliceStable(groups, func(a, b int) bool {
		c, err := value.Compare(value.List(groups[a].Key...), value.List(groups[b].Key...))
		if err != nil && cmpErr == nil {
			cmpErr = err
		}
		return c < 0
	})
	return cmpErr
}
