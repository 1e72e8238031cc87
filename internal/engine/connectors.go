package engine

import (
	"context"

	"github.com/pkg/errors"

	"gocell/internal/config"
	"gocell/internal/log"
	"gocell/internal/storage"
	"gocell/internal/storage/filestore"
	"gocell/internal/storage/memstore"
	"gocell/internal/storage/pgstore"
	"gocell/internal/storage/sqlstore"
)

// openConnector builds the connector for one config entry.
func openConnector(ctx context.Context, name string, c config.Connector, logger log.Logger) (storage.Connector, error) {
	switch c.Driver {
	case "mem":
		return memstore.New(), nil
	case "file":
		s, err := filestore.New(c.Dir)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "sqlite":
		s, err := sqlstore.Open(ctx, sqlstore.DefaultDriver, c.DSN)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "postgres":
		s, err := pgstore.Open(c.DSN, logger.With("connector", name))
		if err != nil {
			return nil, err
		}
		return s, nil
	}
	return nil, errors.Errorf("unknown driver %q", c.Driver)
}
