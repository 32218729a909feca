package store

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rotisserie/eris"

	"github.com/lucy-a11y/shuffle/internal/db"
)

type scannable interface {
	Scan(dest ...any) error
}

type rowIter interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
	Close()
}

// runner hides the driver difference between pgx and database/sql so query
// code is written once.
type runner interface {
	exec(ctx context.Context, query string, args ...any) (int64, error)
	query(ctx context.Context, query string, args ...any) (rowIter, error)
	queryRow(ctx context.Context, query string, args ...any) scannable
	inTx(ctx context.Context, fn func(r runner) error) error
}

func isNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows) || errors.Is(err, sql.ErrNoRows)
}

// --- pgx ---

type pgxQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type pgxRunner struct {
	q    pgxQuerier
	pool db.Pool // nil inside a transaction
}

func (r pgxRunner) exec(ctx context.Context, query string, args ...any) (int64, error) {
	tag, err := r.q.Exec(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (r pgxRunner) query(ctx context.Context, query string, args ...any) (rowIter, error) {
	return r.q.Query(ctx, query, args...)
}

func (r pgxRunner) queryRow(ctx context.Context, query string, args ...any) scannable {
	return r.q.QueryRow(ctx, query, args...)
}

func (r pgxRunner) inTx(ctx context.Context, fn func(runner) error) error {
	if r.pool == nil {
		return fn(r)
	}
	return db.InTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(pgxRunner{q: tx})
	})
}

// --- database/sql ---

type sqlQuerier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type sqlRunner struct {
	q  sqlQuerier
	db *sql.DB // nil inside a transaction
}

type sqlRows struct {
	*sql.Rows
}

func (r sqlRows) Close() {
	_ = r.Rows.Close()
}

func (r sqlRunner) exec(ctx context.Context, query string, args ...any) (int64, error) {
	res, err := r.q.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, eris.Wrap(err, "rows affected")
	}
	return n, nil
}

func (r sqlRunner) query(ctx context.Context, query string, args ...any) (rowIter, error) {
	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return sqlRows{rows}, nil
}

func (r sqlRunner) queryRow(ctx context.Context, query string, args ...any) scannable {
	return r.q.QueryRowContext(ctx, query, args...)
}

func (r sqlRunner) inTx(ctx context.Context, fn func(runner) error) (err error) {
	if r.db == nil {
		return fn(r)
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "begin tx")
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()
	if err = fn(sqlRunner{q: tx}); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return eris.Wrap(err, "commit tx")
	}
	return nil
}
