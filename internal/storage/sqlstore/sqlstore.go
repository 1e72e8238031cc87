// Package sqlstore reads query results from database/sql databases. The SQLite driver is
// registered by this package; other drivers registered by the binary work the same way.
package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"gocell/internal/storage"
	"gocell/internal/value"
)

// DefaultDriver is the database/sql driver name of the bundled SQLite driver.
const DefaultDriver = "sqlite"

// Store is a connector whose descriptors are SQL queries.
type Store struct {
	db     *sql.DB
	driver string
}

var (
	_ storage.Connector = (*Store)(nil)
	_ storage.Writer    = (*Store)(nil)
)

// Open connects to dsn through driver and checks the connection.
func Open(ctx context.Context, driver, dsn string) (*Store, error) {
	if driver == "" {
		driver = DefaultDriver
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: open %s: %w", driver, err)
	}
	if driver == DefaultDriver && isMemory(dsn) {
		// Every connection to an in-memory SQLite database gets its own database.
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlstore: ping %s: %w", driver, err)
	}
	return &Store{db: db, driver: driver}, nil
}

func isMemory(dsn string) bool {
	return dsn == ":memory:" || strings.Contains(dsn, "mode=memory")
}

// Shutdown closes the connection pool.
func (s *Store) Shutdown() error { return s.db.Close() }

// Exec runs a statement that returns no rows.
func (s *Store) Exec(ctx context.Context, query string, args ...value.Value) (int64, error) {
	params, err := sqlArgs(args)
	if err != nil {
		return 0, err
	}
	res, err := s.db.ExecContext(ctx, query, params...)
	if err != nil {
		return 0, fmt.Errorf("sqlstore: exec: %w", err)
	}
	// Not every driver reports affected rows.
	n, _ := res.RowsAffected()
	return n, nil
}

type handle struct {
	rows   *sql.Rows
	schema *value.Schema
	buf    []interface{}
	ptrs   []interface{}
}

func (h *handle) Schema() *value.Schema { return h.schema }

// Open runs the query and returns a handle over its result rows. Rows are scanned one at a
// time as they are pulled.
func (s *Store) Open(ctx context.Context, descriptor string) (storage.Handle, error) {
	rows, err := s.db.QueryContext(ctx, descriptor)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: query: %w", err)
	}
	columns, err := rows.Columns()
	if err != nil {
		rows.Close()
		return nil, fmt.Errorf("sqlstore: columns: %w", err)
	}
	schema, err := value.NewSchema(columns...)
	if err != nil {
		rows.Close()
		return nil, fmt.Errorf("sqlstore: result columns: %w", err)
	}

	h := &handle{
		rows:   rows,
		schema: schema,
		buf:    make([]interface{}, len(columns)),
		ptrs:   make([]interface{}, len(columns)),
	}
	for i := range h.buf {
		h.ptrs[i] = &h.buf[i]
	}
	return h, nil
}

func (s *Store) Pull(ctx context.Context, h storage.Handle) (*value.Record, error) {
	sh, err := asHandle(h)
	if err != nil {
		return nil, err
	}
	if !sh.rows.Next() {
		if err := sh.rows.Err(); err != nil {
			return nil, fmt.Errorf("sqlstore: next row: %w", err)
		}
		return nil, io.EOF
	}
	if err := sh.rows.Scan(sh.ptrs...); err != nil {
		return nil, fmt.Errorf("sqlstore: scan: %w", err)
	}
	vals := make([]value.Value, len(sh.buf))
	for i, raw := range sh.buf {
		v, err := value.FromGo(raw)
		if err != nil {
			return nil, fmt.Errorf("sqlstore: column %s: %w", sh.schema.Field(i), err)
		}
		vals[i] = v
	}
	return value.NewRecord(sh.schema, vals)
}

func (s *Store) Close(h storage.Handle) error {
	sh, err := asHandle(h)
	if err != nil {
		return err
	}
	return sh.rows.Close()
}

func asHandle(h storage.Handle) (*handle, error) {
	sh, ok := h.(*handle)
	if !ok {
		return nil, fmt.Errorf("sqlstore: foreign handle %T", h)
	}
	return sh, nil
}

// CreateTable creates a table with untyped columns named after the schema fields.
func (s *Store) CreateTable(name string, schema *value.Schema) error {
	cols := make([]string, schema.Len())
	for i, f := range schema.Fields() {
		cols[i] = quoteIdent(f)
	}
	probe := fmt.Sprintf("SELECT * FROM %s WHERE 1 = 0", quoteIdent(name))
	if rows, err := s.db.Query(probe); err == nil {
		rows.Close()
		return fmt.Errorf("sqlstore: table %s: %w", name, storage.ErrTableExists)
	}
	q := fmt.Sprintf("CREATE TABLE %s (%s)", quoteIdent(name), strings.Join(cols, ", "))
	if _, err := s.db.Exec(q); err != nil {
		return fmt.Errorf("sqlstore: create table %s: %w", name, err)
	}
	return nil
}

// Insert writes rows in one transaction.
func (s *Store) Insert(name string, rows ...*value.Record) error {
	if len(rows) == 0 {
		return nil
	}
	schema := rows[0].Schema()
	cols := make([]string, schema.Len())
	marks := make([]string, schema.Len())
	for i, f := range schema.Fields() {
		cols[i], marks[i] = quoteIdent(f), "?"
	}
	q := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", quoteIdent(name), strings.Join(cols, ", "), strings.Join(marks, ", "))

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("sqlstore: begin: %w", err)
	}
	stmt, err := tx.Prepare(q)
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("sqlstore: prepare insert: %w", err)
	}
	defer stmt.Close()

	for i, r := range rows {
		if !r.Schema().Equal(schema) {
			_ = tx.Rollback()
			return fmt.Errorf("sqlstore: row %d has schema %s, expected %s", i+1, r.Schema(), schema)
		}
		args, err := sqlArgs(r.Values())
		if err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("sqlstore: row %d: %w", i+1, err)
		}
		if _, err := stmt.Exec(args...); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("sqlstore: insert row %d: %w", i+1, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlstore: commit: %w", err)
	}
	return nil
}

func quoteIdent(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

// sqlArgs converts scalar values to driver arguments. Decimals travel as text so no
// precision is lost.
func sqlArgs(vals []value.Value) ([]interface{}, error) {
	out := make([]interface{}, len(vals))
	for i, v := range vals {
		switch v.Kind {
		case value.KindNull:
			out[i] = nil
		case value.KindInt:
			out[i] = v.I64
		case value.KindFloat:
			out[i] = v.F64
		case value.KindDecimal:
			out[i] = v.Dec.String()
		case value.KindString:
			out[i] = v.S
		case value.KindDate:
			out[i] = v.T.Format(time.RFC3339Nano)
		case value.KindBool:
			out[i] = v.B
		default:
			return nil, fmt.Errorf("%w: %s is not a column value", value.ErrTypeMismatch, v.Kind)
		}
	}
	return out, nil
}
