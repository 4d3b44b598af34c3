package store

import (
	"context"
	"embed"
	"errors"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	sqlitemigrate "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/samber/oops"
)

//go:embed migrations
var migrationFS embed.FS

// Migrate applies all pending migrations for the store's dialect and
// returns the resulting schema version.
func (s *Store) Migrate(ctx context.Context) (uint, error) {
	source, err := iofs.New(migrationFS, "migrations/"+string(s.dialect))
	if err != nil {
		return 0, oops.In("store").With("dialect", s.dialect).Wrapf(err, "creating migration source")
	}

	var driver database.Driver
	switch s.dialect {
	case DialectPostgres:
		conn, err := s.db.Conn(ctx)
		if err != nil {
			return 0, oops.In("store").Wrapf(err, "acquiring migration connection")
		}
		defer conn.Close()
		driver, err = postgres.WithConnection(ctx, conn, &postgres.Config{})
		if err != nil {
			return 0, oops.In("store").Wrapf(err, "creating postgres migration driver")
		}
	default:
		// Closing this driver would close the shared handle, so it is left open.
		driver, err = sqlitemigrate.WithInstance(s.db, &sqlitemigrate.Config{})
		if err != nil {
			return 0, oops.In("store").Wrapf(err, "creating sqlite migration driver")
		}
	}

	m, err := migrate.NewWithInstance("iofs", source, string(s.dialect), driver)
	if err != nil {
		return 0, oops.In("store").With("dialect", s.dialect).Wrapf(err, "creating migrate instance")
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return 0, oops.In("store").With("dialect", s.dialect).Wrapf(err, "running migrations")
	}

	version, dirty, err := m.Version()
	if err != nil {
		return 0, oops.In("store").Wrapf(err, "reading migration version")
	}
	if dirty {
		return version, oops.In("store").With("version", version).Errorf("database schema is dirty")
	}
	return version, nil
}
