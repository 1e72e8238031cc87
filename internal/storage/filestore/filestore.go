package filestore

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"gocell/internal/storage"
	"gocell/internal/value"
)

const tableExt = ".gcb"

// Store keeps one binary file per table in a directory. Reads stream rows from disk, so a
// table never has to fit in memory to be consumed through a cursor.
//
// Layout:
//
//	[header][rows...]
//
// Header:
//
//	magic:     4 bytes "GCB1"
//	numFields: uint16
//	per field:
//	  nameLen: uint16
//	  name:    nameLen bytes (UTF-8)
//
// Rows:
//
//	For each row, one tagged value per field (see writeValue).
type Store struct {
	dir string
	wal *walLogger

	mu sync.Mutex // serialises appends
}

var (
	_ storage.Connector = (*Store)(nil)
	_ storage.Writer    = (*Store)(nil)
)

// New creates a Store over dir, creating the directory when missing. An append interrupted
// by a crash is completed before New returns.
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("filestore: create dir: %w", err)
	}

	w, err := newWAL(dir)
	if err != nil {
		return nil, fmt.Errorf("filestore: init WAL: %w", err)
	}

	s := &Store{dir: dir, wal: w}
	if err := s.recoverFromWAL(); err != nil {
		_ = w.Close()
		return nil, fmt.Errorf("filestore: recovery failed: %w", err)
	}
	return s, nil
}

// Shutdown closes the journal. The store must not be used afterwards.
func (s *Store) Shutdown() error {
	return s.wal.Close()
}

// ListTables returns the table names in the directory, sorted.
func (s *Store) ListTables() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("filestore: list tables: %w", err)
	}

	var tables []string
	for _, ent := range entries {
		name := ent.Name()
		if !ent.IsDir() && strings.HasSuffix(name, tableExt) {
			tables = append(tables, strings.TrimSuffix(name, tableExt))
		}
	}
	sort.Strings(tables)
	return tables, nil
}

// TableSchema reads the header of the given table.
func (s *Store) TableSchema(name string) (*value.Schema, error) {
	path, err := s.tablePath(name)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("filestore: open table for schema: %w", err)
	}
	defer f.Close()

	schema, err := readHeader(f)
	if err != nil {
		return nil, fmt.Errorf("filestore: read header of %s: %w", name, err)
	}
	return schema, nil
}

func (s *Store) tablePath(name string) (string, error) {
	if name == "" || name != filepath.Base(name) || strings.HasPrefix(name, ".") {
		return "", fmt.Errorf("filestore: invalid table name %q", name)
	}
	return filepath.Join(s.dir, name+tableExt), nil
}

// CreateTable creates a new table file with the given schema.
func (s *Store) CreateTable(name string, schema *value.Schema) error {
	path, err := s.tablePath(name)
	if err != nil {
		return err
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if errors.Is(err, os.ErrExist) {
		return fmt.Errorf("filestore: table %q: %w", name, storage.ErrTableExists)
	}
	if err != nil {
		return fmt.Errorf("filestore: create table file: %w", err)
	}
	defer f.Close()

	if err := writeHeader(f, schema); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return fmt.Errorf("filestore: write header: %w", err)
	}
	return f.Sync()
}

// Insert appends rows to a table. Rows are encoded in memory first so a row that cannot be
// stored leaves the file untouched.
func (s *Store) Insert(name string, rows ...*value.Record) error {
	schema, err := s.TableSchema(name)
	if err != nil {
		return err
	}

	var buf bytes.Buffer
	for i, r := range rows {
		if !r.Schema().Equal(schema) {
			return fmt.Errorf("filestore: row %d has schema %s, table %s expects %s", i+1, r.Schema(), name, schema)
		}
		if err := writeRow(&buf, r); err != nil {
			return fmt.Errorf("filestore: encode row %d: %w", i+1, err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	path, _ := s.tablePath(name)
	f, err := os.OpenFile(path, os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("filestore: open table for append: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("filestore: stat table: %w", err)
	}
	payload := buf.Bytes()
	if err := s.wal.logAppend(walRecord{table: name, baseSize: info.Size(), payload: payload}); err != nil {
		return fmt.Errorf("filestore: WAL append: %w", err)
	}
	if _, err := f.WriteAt(payload, info.Size()); err != nil {
		return fmt.Errorf("filestore: append rows: %w", err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("filestore: sync table: %w", err)
	}
	return s.wal.reset()
}

// WriteTable stores t as a new table file.
func (s *Store) WriteTable(name string, t *value.Table) error {
	if err := s.CreateTable(name, t.Schema()); err != nil {
		return err
	}
	return s.Insert(name, t.Rows()...)
}

// Scan reads a whole table into memory.
func (s *Store) Scan(ctx context.Context, name string) (*value.Table, error) {
	c, err := storage.OpenCursor(ctx, s, name)
	if err != nil {
		return nil, err
	}
	defer c.Close()
	return c.Fetch(ctx, 0)
}

type handle struct {
	name   string
	f      *os.File
	r      *bufio.Reader
	schema *value.Schema
	rows   int
}

func (h *handle) Schema() *value.Schema { return h.schema }

// Open starts a streaming read of the table named by descriptor.
func (s *Store) Open(ctx context.Context, descriptor string) (storage.Handle, error) {
	path, err := s.tablePath(descriptor)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("filestore: open table %s: %w", descriptor, err)
	}
	r := bufio.NewReader(f)
	schema, err := readHeader(r)
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("filestore: read header of %s: %w", descriptor, err)
	}
	return &handle{name: descriptor, f: f, r: r, schema: schema}, nil
}

func (s *Store) Pull(ctx context.Context, h storage.Handle) (*value.Record, error) {
	fh, err := asHandle(h)
	if err != nil {
		return nil, err
	}
	if fh.f == nil {
		return nil, fmt.Errorf("filestore: pull on closed handle for %s", fh.name)
	}
	rec, err := readRow(fh.r, fh.schema)
	if err == io.EOF {
		return nil, io.EOF
	}
	if err != nil {
		return nil, fmt.Errorf("filestore: %s row %d: %w", fh.name, fh.rows+1, err)
	}
	fh.rows++
	return rec, nil
}

func (s *Store) Close(h storage.Handle) error {
	fh, err := asHandle(h)
	if err != nil {
		return err
	}
	if fh.f == nil {
		return nil
	}
	err = fh.f.Close()
	fh.f, fh.r = nil, nil
	return err
}

func asHandle(h storage.Handle) (*handle, error) {
	fh, ok := h.(*handle)
	if !ok {
		return nil, fmt.Errorf("filestore: foreign handle %T", h)
	}
	return fh, nil
}
