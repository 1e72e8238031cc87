// Package storage defines the connector interface cursors pull external data through, and a
// registry of named connectors.
package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"gocell/internal/value"
)

// Handle is one open read on a connector. Schema returns the record schema when the
// connector knows it up front, else nil.
type Handle interface {
	Schema() *value.Schema
}

// Connector is an external record source.
//
// Different implementations are possible:
//   - in-memory tables (for tests and scratch data)
//   - binary table files streamed from disk
//   - SQL databases
type Connector interface {
	// Open starts a read described by descriptor, e.g. a table name or a query.
	Open(ctx context.Context, descriptor string) (Handle, error)

	// Pull returns the next record, or io.EOF when the read is done.
	Pull(ctx context.Context, h Handle) (*value.Record, error)

	// Close releases the handle. It must be safe to call after Pull returned io.EOF.
	Close(h Handle) error
}

// ErrTableExists is wrapped by CreateTable when the table is already present.
var ErrTableExists = errors.New("table already exists")

// Writer is implemented by connectors that can store tables.
type Writer interface {
	// CreateTable creates a new empty table with the given schema. It fails with an error
	// wrapping ErrTableExists when the name is taken.
	CreateTable(name string, s *value.Schema) error

	// Insert appends rows to an existing table. Rows must match the table schema.
	Insert(name string, rows ...*value.Record) error
}

// Shutdowner is implemented by connectors that hold resources beyond single handles, such
// as database pools or journals.
type Shutdowner interface {
	Shutdown() error
}

// Registry maps connector names to connectors.
type Registry struct {
	mu    sync.RWMutex
	conns map[string]Connector
}

func NewRegistry() *Registry {
	return &Registry{conns: make(map[string]Connector)}
}

// Register adds a connector under name.
func (r *Registry) Register(name string, c Connector) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.conns[name]; exists {
		return fmt.Errorf("connector %q already registered", name)
	}
	r.conns[name] = c
	return nil
}

// Get looks a connector up by name.
func (r *Registry) Get(name string) (Connector, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.conns[name]
	if !ok {
		return nil, fmt.Errorf("unknown connector %q", name)
	}
	return c, nil
}

// Names returns the registered names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.conns))
	for n := range r.conns {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Shutdown shuts down every connector that holds resources of its own.
func (r *Registry) Shutdown() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var first error
	for name, c := range r.conns {
		if sd, ok := c.(Shutdowner); ok {
			if err := sd.Shutdown(); err != nil && first == nil {
				first = fmt.Errorf("shut down connector %q: %w", name, err)
			}
		}
	}
	return first
}

// OpenCursor opens descriptor on c and wraps the read in a cursor. The handle is closed
// when the cursor is exhausted or closed, whichever comes first.
func OpenCursor(ctx context.Context, c Connector, descriptor string) (*value.Cursor, error) {
	h, err := c.Open(ctx, descriptor)
	if err != nil {
		return nil, err
	}
	return value.NewCursor(&connSource{conn: c, h: h}), nil
}

type connSource struct {
	conn Connector
	h    Handle
}

func (s *connSource) Schema() *value.Schema { return s.h.Schema() }

func (s *connSource) Next(ctx context.Context) (*value.Record, error) {
	return s.conn.Pull(ctx, s.h)
}

func (s *connSource) Close() error { return s.conn.Close(s.h) }
