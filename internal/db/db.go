// Package db provides the PostgreSQL repositories of the escalation engine.
// Every repository accepts a DBTX, satisfied by both *pgxpool.Pool and
// pgx.Tx, so the same code works inside or outside a transaction.
//
// All entity queries carry tenant_id as a mandatory predicate.
package db

import (
	"context"
	_ "embed"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DBTX is the minimal interface shared by *pgxpool.Pool and pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Schema is the DDL for every table the repositories touch. It is
// idempotent.
//
//go:embed schema.sql
var Schema string

// ApplySchema executes Schema.
func ApplySchema(ctx context.Context, db DBTX) error {
	if _, err := db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("applying schema: %w", err)
	}
	return nil
}

// clockString renders a time-of-day offset as a Postgres TIME literal.
func clockString(d time.Duration) string {
	d = d.Truncate(time.Second)
	h := int(d / time.Hour)
	m := int(d % time.Hour / time.Minute)
	s := int(d % time.Minute / time.Second)
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}
