package value

import "fmt"

// Table is an ordered list of records sharing one schema. The schema is fixed for the
// lifetime of the table.
type Table struct {
	schema *Schema
	rows   []*Record
}

// NewTable builds a table; every row must carry a schema equal to s.
func NewTable(s *Schema, rows []*Record) (*Table, error) {
	for i, r := range rows {
		if !r.schema.Equal(s) {
			return nil, fmt.Errorf("table: row %d has schema %s, expected %s", i+1, r.schema, s)
		}
	}
	if rows == nil {
		rows = []*Record{}
	}
	return &Table{schema: s, rows: rows}, nil
}

// TableOf builds a table from rows of raw values.
func TableOf(s *Schema, rows ...[]Value) (*Table, error) {
	recs := make([]*Record, 0, len(rows))
	for i, vals := range rows {
		r, err := NewRecord(s, vals)
		if err != nil {
			return nil, fmt.Errorf("table: row %d: %w", i+1, err)
		}
		recs = append(recs, r)
	}
	return &Table{schema: s, rows: recs}, nil
}

func (t *Table) Schema() *Schema { return t.schema }
func (t *Table) Len() int        { return len(t.rows) }
func (t *Table) Row(i int) *Record {
	return t.rows[i]
}

// Rows returns the rows. The slice is shared; callers must not modify it.
func (t *Table) Rows() []*Record { return t.rows }

// Slice returns the rows [from, to) as a new table sharing the records.
func (t *Table) Slice(from, to int) *Table {
	return &Table{schema: t.schema, rows: t.rows[from:to:to]}
}

// Append returns a new table with extra rows after the existing ones.
func (t *Table) Append(rows ...*Record) (*Table, error) {
	out := make([]*Record, 0, len(t.rows)+len(rows))
	out = append(out, t.rows...)
	out = append(out, rows...)
	return NewTable(t.schema, out)
}

// Column returns the values of one field.
func (t *Table) Column(name string) ([]Value, error) {
	i, ok := t.schema.Index(name)
	if !ok {
		return nil, fmt.Errorf("table: unknown field %q", name)
	}
	out := make([]Value, len(t.rows))
	for j, r := range t.rows {
		out[j] = r.vals[i]
	}
	return out, nil
}

// TableFromSequence turns a sequence of records into a table. The first record's schema is
// used; an empty sequence yields a table with schema s (or an empty schema when s is nil).
func TableFromSequence(seq *Sequence, s *Schema) (*Table, error) {
	rows := make([]*Record, 0, seq.Len())
	for i, it := range seq.Items {
		if it.Kind != KindRecord {
			return nil, fmt.Errorf("%w: item %d is %s, expected record", ErrTypeMismatch, i+1, it.Kind)
		}
		if s == nil {
			s = it.Rec.schema
		}
		rows = append(rows, it.Rec)
	}
	if s == nil {
		s = MustSchema()
	}
	return NewTable(s, rows)
}
