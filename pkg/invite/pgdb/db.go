// Package pgdb provides an invite.Store & an invite.IdentityProvider that keep data in a PostgreSQL database.
package pgdb

import (
	"context"
	_ "embed"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PGDB is implemented by pgx.Tx, pgx.Conn & pgxpool.Pool
// accessing a postgres database through this common interface simplifies testing
type PGDB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

var (
	_ PGDB = &pgx.Conn{}
	_ PGDB = &pgxpool.Pool{}
)

//go:embed schema.sql
var schemaScriptTpl string

// Migrate creates the dbschema schema & its tables if they do not exist.
func Migrate(ctx context.Context, db PGDB, dbschema string) error {
	schemaName := pgx.Identifier{dbschema}.Sanitize()
	schemaScript := strings.ReplaceAll(schemaScriptTpl, "${schema_name}", schemaName)

	_, err := db.Exec(ctx, schemaScript)

	return wrapError(err, "failed db schema initialization") // nil if err is nil...
}

// Connect returns a connection pool to the dsn database whose connections use the dbschema search path.
// The pool is shared by the Store & Identity of a server.
func Connect(ctx context.Context, dsn string, dbschema string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if nil != err {
		return nil, wrapError(err, "invalid dsn")
	}
	if "" != dbschema {
		cfg.ConnConfig.RuntimeParams["search_path"] = pgx.Identifier{dbschema}.Sanitize() + ",public"
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if nil != err {
		return nil, wrapError(err, "failed connection pool creation")
	}
	err = pool.Ping(ctx)
	if nil != err {
		pool.Close()
		return nil, wrapError(err, "failed database ping")
	}

	return pool, nil
}
