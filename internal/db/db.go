// Package db is the query layer over Postgres. It follows the sqlc shape
// (DBTX, Queries, Querier) so that queries run identically on a *sql.DB and
// on a *sql.Tx, and so that handlers and services depend on the Querier
// interface rather than on a concrete connection.
package db

import (
	"context"
	"database/sql"
)

// DBTX is the subset of *sql.DB / *sql.Tx the queries need.
type DBTX interface {
	ExecContext(context.Context, string, ...any) (sql.Result, error)
	QueryContext(context.Context, string, ...any) (*sql.Rows, error)
	QueryRowContext(context.Context, string, ...any) *sql.Row
}

// Queries executes all SQL against the given DBTX. Construct with New.
type Queries struct {
	db DBTX
}

// New returns a Queries bound to the given connection or transaction.
func New(db DBTX) *Queries {
	return &Queries{db: db}
}

// WithTx returns a Queries scoped to the given transaction.
func (q *Queries) WithTx(tx *sql.Tx) *Queries {
	return &Queries{db: tx}
}
