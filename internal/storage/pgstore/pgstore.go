// Package pgstore reads query results from PostgreSQL through a pgx connection pool.
package pgstore

import (
	"context"
	"database/sql/driver"
	"fmt"
	"io"

	"github.com/jackc/pgx"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"gocell/internal/log"
	"gocell/internal/storage"
	"gocell/internal/value"
)

// Store is a connector whose descriptors are SQL queries.
type Store struct {
	DB *pgx.ConnPool
}

var _ storage.Connector = (*Store)(nil)

// Open parses dsn, creates a pool and checks the first connection. Driver messages of
// warning level and above go to logger when it is not nil.
func Open(dsn string, logger log.Logger) (*Store, error) {
	conf, err := pgx.ParseDSN(dsn)
	if err != nil {
		return nil, errors.Wrap(err, "parsing postgres dsn")
	}
	if logger != nil {
		conf.Logger = pgxLogger{logger}
		conf.LogLevel = pgx.LogLevelWarn
	}
	db, err := pgx.NewConnPool(pgx.ConnPoolConfig{ConnConfig: conf})
	if err != nil {
		return nil, errors.Wrap(err, "creating pgx connection pool")
	}
	_, err = db.Exec("SELECT 1")
	if err != nil {
		db.Close()
		return nil, errors.Wrap(err, "opening first pgx connection")
	}
	return &Store{DB: db}, nil
}

// Shutdown closes the pool.
func (s *Store) Shutdown() error {
	s.DB.Close()
	return nil
}

type handle struct {
	rows   *pgx.Rows
	schema *value.Schema
}

func (h *handle) Schema() *value.Schema { return h.schema }

func (s *Store) Open(ctx context.Context, descriptor string) (storage.Handle, error) {
	rows, err := s.DB.QueryEx(ctx, descriptor, nil)
	if err != nil {
		return nil, errors.Wrap(err, "pgstore: query")
	}
	fds := rows.FieldDescriptions()
	names := make([]string, len(fds))
	for i, fd := range fds {
		names[i] = fd.Name
	}
	schema, err := value.NewSchema(names...)
	if err != nil {
		rows.Close()
		return nil, errors.Wrap(err, "pgstore: result columns")
	}
	return &handle{rows: rows, schema: schema}, nil
}

func (s *Store) Pull(ctx context.Context, h storage.Handle) (*value.Record, error) {
	ph, ok := h.(*handle)
	if !ok {
		return nil, fmt.Errorf("pgstore: foreign handle %T", h)
	}
	if !ph.rows.Next() {
		if err := ph.rows.Err(); err != nil {
			return nil, errors.Wrap(err, "pgstore: next row")
		}
		return nil, io.EOF
	}
	raw, err := ph.rows.Values()
	if err != nil {
		return nil, errors.Wrap(err, "pgstore: decode row")
	}
	vals := make([]value.Value, len(raw))
	for i, x := range raw {
		v, err := convert(x)
		if err != nil {
			return nil, errors.Wrapf(err, "pgstore: column %s", ph.schema.Field(i))
		}
		vals[i] = v
	}
	return value.NewRecord(ph.schema, vals)
}

func (s *Store) Close(h storage.Handle) error {
	ph, ok := h.(*handle)
	if !ok {
		return fmt.Errorf("pgstore: foreign handle %T", h)
	}
	ph.rows.Close()
	return nil
}

// convert maps decoded pgx values. Types without a native mapping, such as numeric, are
// taken through their driver value.
func convert(x interface{}) (value.Value, error) {
	v, err := value.FromGo(x)
	if err == nil {
		return v, nil
	}
	dv, ok := x.(driver.Valuer)
	if !ok {
		return value.Null(), err
	}
	raw, verr := dv.Value()
	if verr != nil {
		return value.Null(), verr
	}
	if s, ok := raw.(string); ok {
		if d, derr := decimal.NewFromString(s); derr == nil {
			return value.Decimal(d), nil
		}
	}
	return value.FromGo(raw)
}

// pgxLogger forwards driver log messages.
type pgxLogger struct {
	log log.Logger
}

func (l pgxLogger) Log(level pgx.LogLevel, msg string, data map[string]interface{}) {
	kv := make([]interface{}, 0, 2*len(data))
	for k, v := range data {
		kv = append(kv, k, v)
	}
	switch {
	case level >= pgx.LogLevelDebug:
		l.log.Debug(msg, kv...)
	case level >= pgx.LogLevelWarn:
		l.log.Info(msg, kv...)
	default:
		l.log.Error(msg, kv...)
	}
}
