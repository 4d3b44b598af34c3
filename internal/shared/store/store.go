package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	sqlbuilder "github.com/huandu/go-sqlbuilder"
	"github.com/samber/lo"
	"github.com/samber/oops"

	apperrors "github.com/reshetovitsme/rss-notify/internal/shared/errors"
)

const crossJoin sqlbuilder.JoinOption = "CROSS"

// Config describes how to reach the database.
type Config struct {
	Dialect         Dialect
	DSN             string
	ConnectAttempts uint64
}

// Store builds parameterized statements from structured descriptions and
// executes them. Every call commits on its own; there are no multi-statement
// transactions.
type Store struct {
	db      *sql.DB
	dialect Dialect
	flavor  sqlbuilder.Flavor
}

// Open connects to the database, retrying with exponential backoff. It fails
// when the database stays unreachable after cfg.ConnectAttempts retries.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	db, err := sql.Open(cfg.Dialect.driverName(), cfg.Dialect.dsn(cfg.DSN))
	if err != nil {
		return nil, oops.In("store").With("dialect", cfg.Dialect).Wrapf(err, "opening database")
	}

	if cfg.Dialect == DialectSQLite {
		// SQLite only supports one writer at a time
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
		db.SetConnMaxLifetime(time.Hour)
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), cfg.ConnectAttempts), ctx)
	err = backoff.RetryNotify(func() error {
		return db.PingContext(ctx)
	}, policy, func(err error, wait time.Duration) {
		slog.Warn("Database not reachable, retrying", "dialect", cfg.Dialect, "retry_in", wait, "error", err)
	})
	if err != nil {
		_ = db.Close()
		return nil, oops.In("store").With("dialect", cfg.Dialect, "attempts", cfg.ConnectAttempts).Wrapf(err, "connecting to database")
	}

	return New(db, cfg.Dialect), nil
}

// New wraps an already opened database handle.
func New(db *sql.DB, dialect Dialect) *Store {
	return &Store{
		db:      db,
		dialect: dialect,
		flavor:  dialect.flavor(),
	}
}

// Dialect returns the SQL dialect of the store.
func (s *Store) Dialect() Dialect {
	return s.dialect
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Insert writes exactly one row. A uniqueness violation is reported as
// errors.ErrRowExists.
func (s *Store) Insert(ctx context.Context, table string, values Values) error {
	if len(values) == 0 {
		return oops.In("store").With("table", table).Wrapf(apperrors.ErrInvalidInput, "insert without values")
	}

	cols := values.columns()
	ib := s.flavor.NewInsertBuilder()
	ib.InsertInto(table).Cols(cols...).Values(lo.Map(cols, func(c string, _ int) any { return values[c] })...)
	query, args := ib.Build()

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return s.wrapWriteError(err, table, query)
	}
	return nil
}

// Update assigns values to every row matching where and returns the number
// of affected rows. Zero affected rows is not an error.
func (s *Store) Update(ctx context.Context, table string, values Values, where Filter) (int64, error) {
	if len(values) == 0 {
		return 0, oops.In("store").With("table", table).Wrapf(apperrors.ErrInvalidInput, "update without values")
	}
	if len(where) == 0 {
		return 0, oops.In("store").With("table", table).Wrap(apperrors.ErrEmptyFilter)
	}

	ub := s.flavor.NewUpdateBuilder()
	ub.Update(table)
	ub.Set(lo.Map(values.columns(), func(c string, _ int) string { return ub.Assign(c, values[c]) })...)
	exprs, err := where.exprs(ub)
	if err != nil {
		return 0, oops.In("store").With("table", table).Wrap(err)
	}
	ub.Where(exprs...)
	query, args := ub.Build()

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, s.wrapWriteError(err, table, query)
	}
	return res.RowsAffected()
}

// Delete removes every row matching where and returns the number of
// affected rows.
func (s *Store) Delete(ctx context.Context, table string, where Filter) (int64, error) {
	if len(where) == 0 {
		return 0, oops.In("store").With("table", table).Wrap(apperrors.ErrEmptyFilter)
	}

	del := s.flavor.NewDeleteBuilder()
	del.DeleteFrom(table)
	exprs, err := where.exprs(del)
	if err != nil {
		return 0, oops.In("store").With("table", table).Wrap(err)
	}
	del.Where(exprs...)
	query, args := del.Build()

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, s.wrapWriteError(err, table, query)
	}
	return res.RowsAffected()
}

// Select runs q and returns its rows in result order.
func (s *Store) Select(ctx context.Context, q Query) ([]Row, error) {
	if len(q.Tables) == 0 {
		return nil, oops.In("store").Wrapf(apperrors.ErrInvalidInput, "select without tables")
	}
	query, args, err := s.buildSelect(q)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, oops.In("store").With("tables", q.Tables, "query", query).Wrap(err)
	}
	defer rows.Close()

	result, err := scanRows(rows)
	if err != nil {
		return nil, oops.In("store").With("tables", q.Tables, "query", query).Wrap(err)
	}
	return result, nil
}

func scanRows(rows *sql.Rows) ([]Row, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	result := []Row{}
	for rows.Next() {
		values := make([]any, len(cols))
		targets := make([]any, len(cols))
		for i := range values {
			targets[i] = &values[i]
		}
		if err := rows.Scan(targets...); err != nil {
			return nil, err
		}

		row := make(Row, len(cols))
		for i, col := range cols {
			if b, ok := values[i].([]byte); ok {
				row[col] = string(b)
				continue
			}
			row[col] = values[i]
		}
		result = append(result, row)
	}
	return result, rows.Err()
}

func (s *Store) wrapWriteError(err error, table, query string) error {
	if isUniqueViolation(err) {
		return oops.In("store").Code("row_exists").With("table", table).Wrap(fmt.Errorf("%w: %w", apperrors.ErrRowExists, err))
	}
	return oops.In("store").With("table", table, "query", query).Wrap(err)
}

// buildSelect renders q. Tables past the joined ones are cross joined after
// the joins so ON clauses may reference any earlier table.
func (s *Store) buildSelect(q Query) (string, []any, error) {
	if len(q.Joins) > len(q.Tables)-1 {
		return "", nil, oops.In("store").With("tables", q.Tables, "joins", q.Joins).Wrapf(apperrors.ErrInvalidInput, "more joins than joined tables")
	}

	cols := q.Columns
	if len(cols) == 0 {
		cols = []string{"*"}
	}

	sb := s.flavor.NewSelectBuilder()
	sb.Select(cols...)
	sb.From(q.Tables[0])
	for i, on := range q.Joins {
		sb.Join(q.Tables[i+1], on)
	}
	for _, table := range q.Tables[1+len(q.Joins):] {
		sb.JoinWithOption(crossJoin, table)
	}
	if len(q.Where) > 0 {
		exprs, err := q.Where.exprs(sb)
		if err != nil {
			return "", nil, oops.In("store").With("tables", q.Tables).Wrap(err)
		}
		sb.Where(exprs...)
	}
	if len(q.GroupBy) > 0 {
		sb.GroupBy(q.GroupBy...)
	}
	if len(q.OrderBy) > 0 {
		sb.OrderBy(q.OrderBy...)
	}
	if q.Limit > 0 {
		sb.Limit(q.Limit)
	}
	query, args := sb.Build()
	return query, args, nil
}
