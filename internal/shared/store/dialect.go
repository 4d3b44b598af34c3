package store

import (
	"errors"
	"strings"

	sqlbuilder "github.com/huandu/go-sqlbuilder"
	"github.com/lib/pq"
	"github.com/samber/oops"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	apperrors "github.com/reshetovitsme/rss-notify/internal/shared/errors"
)

// Dialect selects the SQL driver, placeholder flavor and migration set.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

// ParseDialect maps a configured driver name to a Dialect.
func ParseDialect(name string) (Dialect, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "sqlite", "sqlite3":
		return DialectSQLite, nil
	case "postgres", "postgresql", "pq":
		return DialectPostgres, nil
	default:
		return "", oops.In("store").With("driver", name).Wrapf(apperrors.ErrInvalidConfig, "unsupported database driver")
	}
}

func (d Dialect) flavor() sqlbuilder.Flavor {
	if d == DialectPostgres {
		return sqlbuilder.PostgreSQL
	}
	return sqlbuilder.SQLite
}

func (d Dialect) driverName() string {
	return string(d)
}

// dsn adds the pragmas every SQLite connection needs. Foreign keys are off by
// default in SQLite and the delivery history cascade depends on them.
func (d Dialect) dsn(dsn string) string {
	if d != DialectSQLite || strings.Contains(dsn, "foreign_keys") {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + "_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
}

// isUniqueViolation reports whether err was raised by a primary key or unique
// constraint of either supported driver.
func isUniqueViolation(err error) bool {
	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3.SQLITE_CONSTRAINT_UNIQUE:
			return true
		}
		return strings.Contains(sqliteErr.Error(), "UNIQUE constraint failed")
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}

	return false
}
