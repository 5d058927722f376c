// Package sqlexec runs validated read-only SQL against the analytical
// database over a pgx connection pool.
package sqlexec

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/mahdi-taghi/business-assistant-ari/internal/logging"
	"github.com/mahdi-taghi/business-assistant-ari/internal/sqlguard"
)

// ErrArgsWithMultipleStatements is returned when bind arguments are passed
// with a query that splits into more than one statement.
var ErrArgsWithMultipleStatements = errors.New("bind arguments require a single statement")

// Querier executes a read-only query and returns its rows.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (*ResultSet, error)
}

// Executor executes SQL statements using a connection pool.
type Executor struct {
	Pool    *pgxpool.Pool
	timeout time.Duration
	logger  zerolog.Logger
}

// Connect opens a pool to databaseURL and verifies it with a ping.
func Connect(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}

// New creates an Executor from an existing pgx pool. A positive timeout is
// applied as the statement_timeout of every query.
func New(pool *pgxpool.Pool, timeout time.Duration, logger zerolog.Logger) *Executor {
	return &Executor{
		Pool:    pool,
		timeout: timeout,
		logger:  logger.With().Str("component", "sqlexec").Logger(),
	}
}

// Ping checks the analytical database connection.
func (e *Executor) Ping(ctx context.Context) error {
	return e.Pool.Ping(ctx)
}

// Close releases the pool.
func (e *Executor) Close() {
	e.Pool.Close()
}

// Query runs sql inside a read-only transaction that is always rolled back.
// Multi-statement text is split and run in order; the last statement's rows
// are returned.
func (e *Executor) Query(ctx context.Context, sql string, args ...any) (*ResultSet, error) {
	stmts := sqlguard.Texts(sql)
	if len(stmts) == 0 {
		return nil, errors.New("no statements to execute")
	}
	if len(args) > 0 && len(stmts) > 1 {
		return nil, ErrArgsWithMultipleStatements
	}

	conn, err := e.Pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	tx, err := conn.BeginTx(ctx, pgx.TxOptions{AccessMode: pgx.ReadOnly})
	if err != nil {
		return nil, fmt.Errorf("begin read-only transaction: %w", err)
	}
	defer tx.Rollback(context.WithoutCancel(ctx)) //nolint:errcheck

	if e.timeout > 0 {
		if _, err := tx.Exec(ctx, fmt.Sprintf("SET LOCAL statement_timeout = %d", e.timeout.Milliseconds())); err != nil {
			return nil, fmt.Errorf("set statement timeout: %w", err)
		}
	}

	var res *ResultSet
	for i, stmt := range stmts {
		e.logger.Debug().Int("statement", i).Str("sql", logging.Truncate(stmt)).Msg("executing")
		res, err = collect(ctx, tx, stmt, args...)
		if err != nil {
			return nil, fmt.Errorf("statement %d: %w", i, err)
		}
	}
	return res, nil
}

func collect(ctx context.Context, tx pgx.Tx, sql string, args ...any) (*ResultSet, error) {
	rows, err := tx.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	res := &ResultSet{Columns: []string{}, Rows: [][]any{}}
	for _, fd := range rows.FieldDescriptions() {
		res.Columns = append(res.Columns, fd.Name)
	}
	for rows.Next() {
		vals, err := rows.Values()
		if err != nil {
			return nil, err
		}
		res.Rows = append(res.Rows, vals)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return res, nil
}
