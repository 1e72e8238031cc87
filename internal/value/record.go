package value

import (
	"fmt"
	"strings"
)

// Schema is an ordered list of unique field names.
type Schema struct {
	fields []string
	index  map[string]int
}

// NewSchema builds a schema; field names must be unique and non-empty.
func NewSchema(fields ...string) (*Schema, error) {
	s := &Schema{
		fields: make([]string, len(fields)),
		index:  make(map[string]int, len(fields)),
	}
	for i, f := range fields {
		if f == "" {
			return nil, fmt.Errorf("schema: empty field name at position %d", i+1)
		}
		if _, dup := s.index[f]; dup {
			return nil, fmt.Errorf("schema: duplicate field %q", f)
		}
		s.fields[i] = f
		s.index[f] = i
	}
	return s, nil
}

// MustSchema is NewSchema for fixed field lists; it panics on invalid input.
func MustSchema(fields ...string) *Schema {
	s, err := NewSchema(fields...)
	if err != nil {
		panic(err)
	}
	return s
}

func (s *Schema) Len() int { return len(s.fields) }

func (s *Schema) Field(i int) string { return s.fields[i] }

// Fields returns a copy of the field names in order.
func (s *Schema) Fields() []string {
	out := make([]string, len(s.fields))
	copy(out, s.fields)
	return out
}

// Index returns the position of the named field.
func (s *Schema) Index(name string) (int, bool) {
	i, ok := s.index[name]
	return i, ok
}

// Equal reports whether both schemas list the same fields in the same order.
func (s *Schema) Equal(o *Schema) bool {
	if s == o {
		return true
	}
	if s == nil || o == nil || len(s.fields) != len(o.fields) {
		return false
	}
	for i, f := range s.fields {
		if o.fields[i] != f {
			return false
		}
	}
	return true
}

func (s *Schema) String() string {
	return "(" + strings.Join(s.fields, ", ") + ")"
}

// Record maps field names to values in schema order.
type Record struct {
	schema *Schema
	vals   []Value
}

// NewRecord binds values to a schema. The slice is retained; callers must not modify it.
func NewRecord(s *Schema, vals []Value) (*Record, error) {
	if len(vals) != s.Len() {
		return nil, fmt.Errorf("record: schema %s has %d fields, got %d values", s, s.Len(), len(vals))
	}
	return &Record{schema: s, vals: vals}, nil
}

// MustRecord is NewRecord for values built to match; it panics on a length mismatch.
func MustRecord(s *Schema, vals ...Value) *Record {
	r, err := NewRecord(s, vals)
	if err != nil {
		panic(err)
	}
	return r
}

func (r *Record) Schema() *Schema { return r.schema }
func (r *Record) Len() int        { return len(r.vals) }
func (r *Record) At(i int) Value  { return r.vals[i] }

// Get looks a field up by name.
func (r *Record) Get(name string) (Value, bool) {
	i, ok := r.schema.Index(name)
	if !ok {
		return Null(), false
	}
	return r.vals[i], true
}

// Values returns a copy of the field values in schema order.
func (r *Record) Values() []Value {
	out := make([]Value, len(r.vals))
	copy(out, r.vals)
	return out
}

func (r *Record) String() string {
	var b strings.Builder
	r.write(&b)
	return b.String()
}

func (r *Record) write(b *strings.Builder) {
	b.WriteString("{")
	for i, v := range r.vals {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(r.schema.fields[i])
		b.WriteString(": ")
		v.write(b)
	}
	b.WriteString("}")
}
