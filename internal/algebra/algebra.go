// Package algebra implements the relational kernels shared by sequences, tables and
// cursors: filter, sort, group, aggregate, join, pivot and set operations.
//
// Kernels never evaluate cell expressions themselves. Callers pass a Func that computes a
// member expression for one element; the evaluator builds those closures.
package algebra

import (
	"fmt"
	"sort"

	"gocell/internal/value"
)

// Func evaluates a member expression for one element at its 1-based position.
type Func func(elem value.Value, pos int) (value.Value, error)

// Field returns a Func reading the named field of a record element.
func Field(name string) Func {
	return func(elem value.Value, _ int) (value.Value, error) {
		if elem.Kind != value.KindRecord {
			return value.Null(), fmt.Errorf("%w: field %q of %s", value.ErrTypeMismatch, name, elem.Kind)
		}
		v, ok := elem.Rec.Get(name)
		if !ok {
			return value.Null(), fmt.Errorf("%w: record has no field %q", value.ErrTypeMismatch, name)
		}
		return v, nil
	}
}

// Select keeps the elements whose predicate is truthy, in their original order.
func Select(items []value.Value, pred Func) ([]value.Value, error) {
	out := make([]value.Value, 0, len(items))
	for i, it := range items {
		ok, err := pred(it, i+1)
		if err != nil {
			return nil, err
		}
		if ok.Truthy() {
			out = append(out, it)
		}
	}
	return out, nil
}

// Map evaluates fn for every element.
func Map(items []value.Value, fn Func) ([]value.Value, error) {
	out := make([]value.Value, len(items))
	for i, it := range items {
		v, err := fn(it, i+1)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// SortKey is one ordering key. A nil Fn orders by the element itself.
type SortKey struct {
	Fn   Func
	Desc bool
}

// compareKeys orders two rows of evaluated keys, honoring each key's direction.
func compareKeys(a, b []value.Value, keys []SortKey) (int, error) {
	for j, k := range keys {
		c, err := value.Compare(a[j], b[j])
		if err != nil {
			return 0, err
		}
		if c == 0 {
			continue
		}
		if k.Desc {
			return -c, nil
		}
		return c, nil
	}
	return 0, nil
}

// Sort orders items by keys. The sort is stable and nulls come first in ascending order.
func Sort(items []value.Value, keys []SortKey) ([]value.Value, error) {
	if len(keys) == 0 {
		keys = []SortKey{{}}
	}
	// Evaluate every key once up front so the comparator cannot fail midway.
	type keyed struct {
		item value.Value
		keys []value.Value
	}
	rows := make([]keyed, len(items))
	for i, it := range items {
		rows[i] = keyed{item: it, keys: make([]value.Value, len(keys))}
		for j, k := range keys {
			if k.Fn == nil {
				rows[i].keys[j] = it
				continue
			}
			v, err := k.Fn(it, i+1)
			if err != nil {
				return nil, err
			}
			rows[i].keys[j] = v
		}
	}

	var cmpErr error
	sort.SliceStable(rows, func(a, b int) bool {
		c, err := compareKeys(rows[a].keys, rows[b].keys, keys)
		if err != nil && cmpErr == nil {
			cmpErr = err
		}
		return c < 0
	})
	if cmpErr != nil {
		return nil, cmpErr
	}

	out := make([]value.Value, len(rows))
	for i, r := range rows {
		out[i] = r.item
	}
	return out, nil
}

// Top returns the n smallest elements by key, or the -n largest when n is negative. Ties keep
// their original order.
func Top(items []value.Value, n int, key Func) ([]value.Value, error) {
	desc := n < 0
	if desc {
		n = -n
	}
	sorted, err := Sort(items, []SortKey{{Fn: key, Desc: desc}})
	if err != nil {
		return nil, err
	}
	if n < len(sorted) {
		sorted = sorted[:n]
	}
	return sorted, nil
}

// Step folds one element into the accumulator.
type Step func(acc, elem value.Value, pos int) (value.Value, error)

// Iterate folds items from init. When stop is non-nil it is checked against the accumulator
// before each element and ends the fold once truthy.
func Iterate(items []value.Value, init value.Value, step Step, stop func(acc value.Value) (bool, error)) (value.Value, error) {
	acc := init
	for i, it := range items {
		if stop != nil {
			done, err := stop(acc)
			if err != nil {
				return value.Null(), err
			}
			if done {
				break
			}
		}
		next, err := step(acc, it, i+1)
		if err != nil {
			return value.Null(), err
		}
		acc = next
	}
	return acc, nil
}
