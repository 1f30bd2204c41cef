package docstore

import (
	"context"
	"fmt"
)

// Driver identifies a concrete persistence backend.
type Driver string

const (
	DriverMemory   Driver = "memory"   // in-memory only (tests / ephemeral)
	DriverFile     Driver = "file"     // json-server style db.json
	DriverSQLite   Driver = "sqlite"   // embedded sqlite file
	DriverPostgres Driver = "postgres" // PostgreSQL server
)

// Options carries the per-driver connection settings.
type Options struct {
	Driver      Driver
	FilePath    string
	SQLitePath  string
	PostgresDSN string
}

// OpenDriver opens the store selected by opts.Driver and hydrates it from the backend.
func OpenDriver(ctx context.Context, opts Options) (*Memory, error) {
	var (
		p   Persister
		err error
	)
	switch opts.Driver {
	case DriverMemory, "":
		return NewMemory(), nil
	case DriverFile:
		p, err = OpenFile(opts.FilePath)
	case DriverSQLite:
		p, err = OpenSQLite(ctx, opts.SQLitePath)
	case DriverPostgres:
		p, err = OpenPostgres(ctx, opts.PostgresDSN)
	default:
		return nil, fmt.Errorf("unknown storage driver %s", opts.Driver)
	}
	if err != nil {
		return nil, err
	}

	store, err := Open(ctx, p)
	if err != nil {
		_ = p.Close()
		return nil, err
	}
	return store, nil
}
