package repository

import (
	"context"
	"fmt"
)

// Config selects and configures a store backend.
type Config struct {
	Backend  string // badger, mongo or postgres
	Badger   BadgerConfig
	Mongo    MongoConfig
	Postgres PostgresConfig
}

// Open returns the stores of the configured backend.
func Open(ctx context.Context, cfg Config) (*Stores, error) {
	switch cfg.Backend {
	case "", backendBadger:
		return OpenBadger(cfg.Badger)
	case backendMongo:
		return OpenMongo(ctx, cfg.Mongo)
	case backendPostgres:
		return OpenPostgres(ctx, cfg.Postgres)
	default:
		return nil, fmt.Errorf("%w: %q", ErrBackend, cfg.Backend)
	}
}
