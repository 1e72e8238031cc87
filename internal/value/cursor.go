package value

import (
	"context"
	"io"
)

// Source produces the records behind a Cursor. Next returns io.EOF when no records remain.
// Close releases the source's resources; the Cursor calls it exactly once.
type Source interface {
	Schema() *Schema
	Next(ctx context.Context) (*Record, error)
	Close() error
}

// CursorState is the lifecycle of a cursor.
type CursorState int

const (
	CursorOpen CursorState = iota
	CursorExhausted
	CursorClosed
)

func (s CursorState) String() string {
	switch s {
	case CursorOpen:
		return "open"
	case CursorExhausted:
		return "exhausted"
	default:
		return "closed"
	}
}

// Cursor is a single-pass, pull-based record iterator. It is not safe for concurrent use;
// exactly one goroutine owns a cursor at a time.
//
// Once Next has returned io.EOF every later call returns io.EOF; the source is released at
// that point. Next on a closed cursor returns ErrCursorClosed. Close is idempotent.
type Cursor struct {
	src    Source
	state  CursorState
	inputs []*Cursor
}

// NewCursor wraps src.
func NewCursor(src Source) *Cursor {
	return &Cursor{src: src}
}

// Derive wraps src, which reads from and closes the cursors in inputs.
func Derive(src Source, inputs ...*Cursor) *Cursor {
	return &Cursor{src: src, inputs: inputs}
}

// Inputs returns the cursors c was derived from.
func (c *Cursor) Inputs() []*Cursor { return c.inputs }

func (c *Cursor) State() CursorState { return c.state }

// Schema returns the record schema when the source knows it ahead of time, else nil.
func (c *Cursor) Schema() *Schema { return c.src.Schema() }

// Next pulls one record.
func (c *Cursor) Next(ctx context.Context) (*Record, error) {
	switch c.state {
	case CursorClosed:
		return nil, ErrCursorClosed
	case CursorExhausted:
		return nil, io.EOF
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r, err := c.src.Next(ctx)
	if err == io.EOF {
		c.state = CursorExhausted
		if cerr := c.src.Close(); cerr != nil {
			return nil, cerr
		}
		return nil, io.EOF
	}
	if err != nil {
		return nil, err
	}
	return r, nil
}

// Close releases the cursor. Closing an exhausted or already closed cursor is a no-op.
func (c *Cursor) Close() error {
	prev := c.state
	c.state = CursorClosed
	if prev != CursorOpen {
		return nil
	}
	return c.src.Close()
}

// Fetch pulls up to n records (all remaining when n <= 0) into a table.
func (c *Cursor) Fetch(ctx context.Context, n int) (*Table, error) {
	var rows []*Record
	schema := c.Schema()
	for n <= 0 || len(rows) < n {
		r, err := c.Next(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		if schema == nil {
			schema = r.schema
		}
		rows = append(rows, r)
	}
	if schema == nil {
		schema = MustSchema()
	}
	return NewTable(schema, rows)
}

// Skip discards up to n records and returns how many were skipped.
func (c *Cursor) Skip(ctx context.Context, n int) (int, error) {
	skipped := 0
	for skipped < n {
		_, err := c.Next(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			return skipped, err
		}
		skipped++
	}
	return skipped, nil
}

// MemSource serves records from memory.
type MemSource struct {
	schema *Schema
	rows   []*Record
	pos    int
}

// NewMemSource serves rows in order. The schema may be nil when unknown.
func NewMemSource(s *Schema, rows []*Record) *MemSource {
	return &MemSource{schema: s, rows: rows}
}

func (m *MemSource) Schema() *Schema { return m.schema }

func (m *MemSource) Next(ctx context.Context) (*Record, error) {
	if m.pos >= len(m.rows) {
		return nil, io.EOF
	}
	r := m.rows[m.pos]
	m.pos++
	return r, nil
}

func (m *MemSource) Close() error {
	m.rows = nil
	return nil
}

// TableCursor returns a cursor over the rows of t.
func TableCursor(t *Table) *Cursor {
	return NewCursor(NewMemSource(t.schema, t.rows))
}
