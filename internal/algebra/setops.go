package algebra

import "gocell/internal/value"

// Distinct drops repeated values, keeping first occurrences in order.
func Distinct(items []value.Value) []value.Value {
	seen := value.NewSet()
	out := make([]value.Value, 0, len(items))
	for _, it := range items {
		if seen.Add(it) {
			out = append(out, it)
		}
	}
	return out
}

// Union returns the distinct members of a followed by members of b not in a.
func Union(a, b []value.Value) []value.Value {
	all := make([]value.Value, 0, len(a)+len(b))
	all = append(all, a...)
	all = append(all, b...)
	return Distinct(all)
}

// Isect returns the distinct members of a that are also in b, in a's order.
func Isect(a, b []value.Value) []value.Value {
	in := value.NewSet(b...)
	seen := value.NewSet()
	var out []value.Value
	for _, it := range a {
		if in.Contains(it) && seen.Add(it) {
			out = append(out, it)
		}
	}
	return nonNil(out)
}

// Diff returns the members of a not in b, keeping duplicates of a.
func Diff(a, b []value.Value) []value.Value {
	in := value.NewSet(b...)
	var out []value.Value
	for _, it := range a {
		if !in.Contains(it) {
			out = append(out, it)
		}
	}
	return nonNil(out)
}

// Conj concatenates sequences.
func Conj(seqs ...[]value.Value) []value.Value {
	var out []value.Value
	for _, s := range seqs {
		out = append(out, s...)
	}
	return nonNil(out)
}

func nonNil(v []value.Value) []value.Value {
	if v == nil {
		return []value.Value{}
	}
	return v
}
