package database

import (
	"context"
	"database/sql"
	"fmt"

	entsql "entgo.io/ent/dialect/sql"
)

// Executor is satisfied by both *sql.DB and *sql.Tx
type Executor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// Exec runs a built statement and returns the number of affected rows
func Exec(ctx context.Context, ex Executor, q entsql.Querier) (int64, error) {
	query, args := q.Query()
	res, err := ex.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return n, nil
}

// ScanAll runs a built query and scans every row into dest, a pointer to a slice
// of structs tagged with `sql:"column"`.
func ScanAll(ctx context.Context, ex Executor, q entsql.Querier, dest any) error {
	query, args := q.Query()
	rows, err := ex.QueryContext(ctx, query, args...)
	if err != nil {
		return err
	}
	defer rows.Close()
	return entsql.ScanSlice(rows, dest)
}

// ScanInt64 runs a built query returning a single integer column
func ScanInt64(ctx context.Context, ex Executor, q entsql.Querier) (int64, error) {
	query, args := q.Query()
	rows, err := ex.QueryContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	defer rows.Close()
	return entsql.ScanInt64(rows)
}
