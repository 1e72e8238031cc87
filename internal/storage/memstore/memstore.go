package memstore

import (
	"context"
	"fmt"
	"io"
	"sync"

	"gocell/internal/storage"
	"gocell/internal/value"
)

type table struct {
	name   string
	schema *value.Schema
	rows   []*value.Record // stored rows
}

// Store is an in-memory connector of named tables.
type Store struct {
	mu     sync.RWMutex
	tables map[string]*table
}

var (
	_ storage.Connector = (*Store)(nil)
	_ storage.Writer    = (*Store)(nil)
)

// New creates a new in-memory store.
func New() *Store {
	return &Store{
		tables: make(map[string]*table),
	}
}

// CreateTable creates a new empty table.
func (s *Store) CreateTable(name string, schema *value.Schema) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.tables[name]; exists {
		return fmt.Errorf("memstore: table %s: %w", name, storage.ErrTableExists)
	}

	s.tables[name] = &table{
		name:   name,
		schema: schema,
		rows:   make([]*value.Record, 0),
	}
	return nil
}

// Insert appends rows to a table.
func (s *Store) Insert(name string, rows ...*value.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tables[name]
	if !ok {
		return fmt.Errorf("memstore: table %s does not exist", name)
	}

	// Check every row before storing any so a bad batch leaves the table unchanged.
	for i, r := range rows {
		if !r.Schema().Equal(t.schema) {
			return fmt.Errorf("memstore: row %d has schema %s, table %s expects %s", i+1, r.Schema(), name, t.schema)
		}
	}
	t.rows = append(t.rows, rows...)
	return nil
}

// Put replaces a whole table, creating it when missing.
func (s *Store) Put(name string, t *value.Table) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows := make([]*value.Record, t.Len())
	copy(rows, t.Rows())
	s.tables[name] = &table{name: name, schema: t.Schema(), rows: rows}
}

// Scan returns a snapshot of a table.
func (s *Store) Scan(name string) (*value.Table, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.tables[name]
	if !ok {
		return nil, fmt.Errorf("memstore: table %s does not exist", name)
	}

	// Records are immutable, so copying the slice is enough to isolate the snapshot.
	rows := make([]*value.Record, len(t.rows))
	copy(rows, t.rows)
	return value.NewTable(t.schema, rows)
}

type handle struct {
	schema *value.Schema
	rows   []*value.Record
	pos    int
	closed bool
}

func (h *handle) Schema() *value.Schema { return h.schema }

// Open starts a read of the table named by descriptor. The read sees the table as it was
// when opened.
func (s *Store) Open(ctx context.Context, descriptor string) (storage.Handle, error) {
	t, err := s.Scan(descriptor)
	if err != nil {
		return nil, err
	}
	return &handle{schema: t.Schema(), rows: t.Rows()}, nil
}

func (s *Store) Pull(ctx context.Context, h storage.Handle) (*value.Record, error) {
	mh, err := asHandle(h)
	if err != nil {
		return nil, err
	}
	if mh.closed {
		return nil, fmt.Errorf("memstore: pull on closed handle")
	}
	if mh.pos >= len(mh.rows) {
		return nil, io.EOF
	}
	r := mh.rows[mh.pos]
	mh.pos++
	return r, nil
}

func (s *Store) Close(h storage.Handle) error {
	mh, err := asHandle(h)
	if err != nil {
		return err
	}
	mh.closed = true
	mh.rows = nil
	return nil
}

func asHandle(h storage.Handle) (*handle, error) {
	mh, ok := h.(*handle)
	if !ok {
		return nil, fmt.Errorf("memstore: foreign handle %T", h)
	}
	return mh, nil
}
