package store

import (
	"database/sql"
	"fmt"

	goredis "github.com/redis/go-redis/v9"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"

	"github.com/hoistq/hoist"
	bunstore "github.com/hoistq/hoist/store/bun"
	"github.com/hoistq/hoist/store/memory"
	redisstore "github.com/hoistq/hoist/store/redis"
	sqlitestore "github.com/hoistq/hoist/store/sqlite"
)

// Open constructs the backend selected by cfg.Driver. The returned
// Backend owns the connection it opened; Close releases it. An empty
// driver selects memory.
func Open(cfg hoist.BackendConfig) (Backend, error) {
	switch cfg.Driver {
	case "", "memory":
		return memory.New(), nil

	case "redis":
		addr := cfg.Addr
		if addr == "" {
			addr = "localhost:6379"
		}
		client := goredis.NewClient(&goredis.Options{Addr: addr, DB: cfg.DB})
		return &ownedBackend{
			Backend: redisstore.New(client),
			closeFn: client.Close,
		}, nil

	case "postgres":
		if cfg.DSN == "" {
			return nil, fmt.Errorf("store: postgres driver requires a DSN")
		}
		sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(cfg.DSN)))
		db := bun.NewDB(sqldb, pgdialect.New())
		return &ownedBackend{
			Backend: bunstore.New(db),
			closeFn: db.Close,
		}, nil

	case "sqlite":
		path := cfg.Path
		if path == "" {
			path = ":memory:"
		}
		backend, err := sqlitestore.Open(path)
		if err != nil {
			return nil, fmt.Errorf("store: open sqlite %q: %w", path, err)
		}
		return backend, nil

	default:
		return nil, fmt.Errorf("store: unknown backend driver %q", cfg.Driver)
	}
}

// ownedBackend wraps a backend whose connection was opened by Open, so
// that Close tears the connection down as well.
type ownedBackend struct {
	Backend
	closeFn func() error
}

func (b *ownedBackend) Close() error {
	if err := b.Backend.Close(); err != nil {
		return err
	}
	return b.closeFn()
}
