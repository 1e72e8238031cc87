package algebra

import (
	"fmt"

	"gocell/internal/value"
)

// JoinSchema concatenates left and right fields. Right fields whose names collide with a left
// field get the suffix "_r".
func JoinSchema(left, right *value.Schema) (*value.Schema, error) {
	fields := left.Fields()
	seen := make(map[string]bool, len(fields))
	for _, f := range fields {
		seen[f] = true
	}
	for _, f := range right.Fields() {
		name := f
		for seen[name] {
			name += "_r"
		}
		seen[name] = true
		fields = append(fields, name)
	}
	return value.NewSchema(fields...)
}

// HashJoin is a built hash index over the right side of an equality join. It is read-only
// once built and may be probed from several goroutines.
type HashJoin struct {
	right *value.Schema
	index map[string][]*value.Record
	outer bool
	nulls []value.Value
}

// NewHashJoin indexes right by rkey. Matches for one key keep right order.
func NewHashJoin(right *value.Table, rkey Func, outer bool) (*HashJoin, error) {
	h := &HashJoin{
		right: right.Schema(),
		index: make(map[string][]*value.Record),
		outer: outer,
		nulls: make([]value.Value, right.Schema().Len()),
	}
	for i, r := range right.Rows() {
		k, err := rkey(value.Rec(r), i+1)
		if err != nil {
			return nil, err
		}
		// Null keys never match.
		if k.IsNull() {
			continue
		}
		key := value.Key(k)
		h.index[key] = append(h.index[key], r)
	}
	return h, nil
}

// Schema returns the output schema for a given left schema.
func (h *HashJoin) Schema(left *value.Schema) (*value.Schema, error) {
	return JoinSchema(left, h.right)
}

// Probe returns the joined rows for one left record with key k.
func (h *HashJoin) Probe(out *value.Schema, left *value.Record, k value.Value) ([]*value.Record, error) {
	var matches []*value.Record
	if !k.IsNull() {
		matches = h.index[value.Key(k)]
	}
	if len(matches) == 0 {
		if !h.outer {
			return nil, nil
		}
		r, err := value.NewRecord(out, append(left.Values(), h.nulls...))
		if err != nil {
			return nil, err
		}
		return []*value.Record{r}, nil
	}
	rows := make([]*value.Record, 0, len(matches))
	for _, m := range matches {
		r, err := value.NewRecord(out, append(left.Values(), m.Values()...))
		if err != nil {
			return nil, err
		}
		rows = append(rows, r)
	}
	return rows, nil
}

// Join performs an equality join of two tables. Output follows left order, and for each left
// row its right matches in right order. With outer set, unmatched left rows are kept with
// null right fields.
func Join(left, right *value.Table, lkey, rkey Func, outer bool) (*value.Table, error) {
	h, err := NewHashJoin(right, rkey, outer)
	if err != nil {
		return nil, err
	}
	out, err := h.Schema(left.Schema())
	if err != nil {
		return nil, err
	}
	var rows []*value.Record
	for i, l := range left.Rows() {
		k, err := lkey(value.Rec(l), i+1)
		if err != nil {
			return nil, err
		}
		joined, err := h.Probe(out, l, k)
		if err != nil {
			return nil, err
		}
		rows = append(rows, joined...)
	}
	return value.NewTable(out, rows)
}

// Pivot turns rows into columns: one output row per distinct key (first-seen order), with
// one column per distinct value of nameField holding valueField. Missing cells are null; a
// repeated key/name pair keeps the last value.
func Pivot(t *value.Table, key, nameField, valueField string) (*value.Table, error) {
	ki, ok := t.Schema().Index(key)
	if !ok {
		return nil, fmt.Errorf("pivot: unknown field %q", key)
	}
	ni, ok := t.Schema().Index(nameField)
	if !ok {
		return nil, fmt.Errorf("pivot: unknown field %q", nameField)
	}
	vi, ok := t.Schema().Index(valueField)
	if !ok {
		return nil, fmt.Errorf("pivot: unknown field %q", valueField)
	}

	// Collect the column names first so every row gets the full width.
	cols := []string{key}
	colIndex := map[string]int{}
	for _, r := range t.Rows() {
		name := r.At(ni).String()
		if _, ok := colIndex[name]; ok {
			continue
		}
		if name == key {
			return nil, fmt.Errorf("pivot: column %q collides with key field", name)
		}
		colIndex[name] = len(cols)
		cols = append(cols, name)
	}
	s, err := value.NewSchema(cols...)
	if err != nil {
		return nil, err
	}

	g := newGrouper()
	cells := map[*Group][]value.Value{}
	for _, r := range t.Rows() {
		grp := g.lookup([]value.Value{r.At(ki)})
		vals, ok := cells[grp]
		if !ok {
			vals = make([]value.Value, len(cols))
			vals[0] = r.At(ki)
			cells[grp] = vals
		}
		vals[colIndex[r.At(ni).String()]] = r.At(vi)
	}
	rows := make([]*value.Record, 0, len(g.groups))
	for _, grp := range g.groups {
		rec, err := value.NewRecord(s, cells[grp])
		if err != nil {
			return nil, err
		}
		rows = append(rows, rec)
	}
	return value.NewTable(s, rows)
}
