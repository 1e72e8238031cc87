package value

import "fmt"

// Sequence is an ordered collection of values that may contain duplicates.
type Sequence struct {
	Items []Value
}

func NewSequence(items ...Value) *Sequence {
	if items == nil {
		items = []Value{}
	}
	return &Sequence{Items: items}
}

func (s *Sequence) Len() int { return len(s.Items) }

// Pos returns the item at 1-based position p. Negative positions count from the end.
func (s *Sequence) Pos(p int64) (Value, error) {
	n := int64(len(s.Items))
	if p < 0 {
		p = n + p + 1
	}
	if p < 1 || p > n {
		return Null(), fmt.Errorf("position %d out of range 1..%d", p, n)
	}
	return s.Items[p-1], nil
}

// Find returns the 1-based position of the first item equal to v, or 0.
func (s *Sequence) Find(v Value) int {
	for i, it := range s.Items {
		if Equal(it, v) {
			return i + 1
		}
	}
	return 0
}

// Records reports whether every item is a record. An empty sequence counts.
func (s *Sequence) Records() bool {
	for _, it := range s.Items {
		if it.Kind != KindRecord {
			return false
		}
	}
	return true
}

// Set is an unordered collection of unique values keyed by Key. Members are kept in
// insertion order so output is stable.
type Set struct {
	keys  map[string]int
	items []Value
}

func NewSet(items ...Value) *Set {
	s := &Set{keys: make(map[string]int, len(items))}
	for _, it := range items {
		s.Add(it)
	}
	return s
}

// Add inserts v and reports whether it was new.
func (s *Set) Add(v Value) bool {
	k := Key(v)
	if _, ok := s.keys[k]; ok {
		return false
	}
	s.keys[k] = len(s.items)
	s.items = append(s.items, v)
	return true
}

func (s *Set) Contains(v Value) bool {
	_, ok := s.keys[Key(v)]
	return ok
}

func (s *Set) Len() int { return len(s.items) }

// Items returns a copy of the members.
func (s *Set) Items() []Value {
	out := make([]Value, len(s.items))
	copy(out, s.items)
	return out
}
