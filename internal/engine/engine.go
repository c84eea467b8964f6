// Package engine wraps the embedded DuckDB database: parameterized
// execution, column introspection, Appender bulk loads and atomic
// publication of staged tables.
package engine

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/marcboeker/go-duckdb/v2"

	"github.com/mtgsql/mtgsql/internal/errors"
	"github.com/mtgsql/mtgsql/internal/schema"
	"github.com/mtgsql/mtgsql/pkg/types"
)

// Options configures the database.
type Options struct {
	// Path is the database file; empty means in-memory
	Path string

	// Threads is DuckDB's worker thread count (0 = engine default)
	Threads int

	// MemoryLimit is DuckDB's memory_limit setting, e.g. "2GB"
	MemoryLimit string

	// MaxOpenConns bounds the connection pool (default: 4)
	MaxOpenConns int
}

// Engine is a DuckDB database shared by one session.
type Engine struct {
	connector *duckdb.Connector
	db        *sql.DB
}

// DSN renders the connection string for opts.
func DSN(opts Options) string {
	v := url.Values{}
	if opts.Threads > 0 {
		v.Set("threads", strconv.Itoa(opts.Threads))
	}
	if opts.MemoryLimit != "" {
		v.Set("memory_limit", opts.MemoryLimit)
	}
	if len(v) == 0 {
		return opts.Path
	}
	return opts.Path + "?" + v.Encode()
}

// Open opens the database. Every pooled connection shares the same
// database, in-memory or not.
func Open(opts Options) (*Engine, error) {
	if opts.MaxOpenConns <= 0 {
		opts.MaxOpenConns = 4
	}

	connector, err := duckdb.NewConnector(DSN(opts), nil)
	if err != nil {
		return nil, errors.NewEngineError("failed to open duckdb", err)
	}

	db := sql.OpenDB(connector)
	db.SetMaxOpenConns(opts.MaxOpenConns)

	if err := db.Ping(); err != nil {
		db.Close()
		connector.Close()
		return nil, errors.NewEngineError("failed to ping duckdb", err)
	}

	return &Engine{connector: connector, db: db}, nil
}

// DB exposes the underlying pool for callers that need raw access.
func (e *Engine) DB() *sql.DB {
	return e.db
}

// Close closes the pool and the database.
func (e *Engine) Close() error {
	dbErr := e.db.Close()
	connErr := e.connector.Close()
	if dbErr != nil {
		return dbErr
	}
	return connErr
}

// Query runs a parameterized query and materialises the result.
// Engine errors are returned verbatim inside an ENGINE_EXECUTION error.
func (e *Engine) Query(ctx context.Context, text string, params ...any) (*RowSet, error) {
	rows, err := e.db.QueryContext(ctx, text, params...)
	if err != nil {
		return nil, engineError("query failed", text, err)
	}
	defer rows.Close()

	rs, err := scanRows(rows)
	if err != nil {
		return nil, engineError("scan failed", text, err)
	}
	return rs, nil
}

// Exec runs a statement that returns no rows.
func (e *Engine) Exec(ctx context.Context, text string, params ...any) error {
	if _, err := e.db.ExecContext(ctx, text, params...); err != nil {
		return engineError("exec failed", text, err)
	}
	return nil
}

// ExecTx runs statements in a single transaction.
func (e *Engine) ExecTx(ctx context.Context, stmts ...string) error {
	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.NewEngineError("begin failed", err)
	}
	for _, stmt := range stmts {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			tx.Rollback()
			return engineError("exec failed", stmt, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return errors.NewEngineError("commit failed", err)
	}
	return nil
}

// Columns introspects relation (table or view) in column order.
func (e *Engine) Columns(ctx context.Context, relation string) ([]types.ColumnDescriptor, error) {
	const q = `SELECT column_name, data_type FROM information_schema.columns
WHERE table_schema = 'main' AND table_name = ?
ORDER BY ordinal_position`

	rows, err := e.db.QueryContext(ctx, q, relation)
	if err != nil {
		return nil, engineError("describe failed", q, err)
	}
	defer rows.Close()

	var out []types.ColumnDescriptor
	for rows.Next() {
		var name, typ string
		if err := rows.Scan(&name, &typ); err != nil {
			return nil, engineError("describe failed", q, err)
		}
		out = append(out, types.ColumnDescriptor{
			Name:        name,
			StorageType: typ,
			Nested:      types.IsNestedType(typ),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, engineError("describe failed", q, err)
	}
	return out, nil
}

// Relations lists every table and view with its columns.
func (e *Engine) Relations(ctx context.Context) (map[string][]string, error) {
	const q = `SELECT table_name, column_name FROM information_schema.columns
WHERE table_schema = 'main'
ORDER BY table_name, ordinal_position`

	rows, err := e.db.QueryContext(ctx, q)
	if err != nil {
		return nil, engineError("list relations failed", q, err)
	}
	defer rows.Close()

	out := make(map[string][]string)
	for rows.Next() {
		var table, column string
		if err := rows.Scan(&table, &column); err != nil {
			return nil, engineError("list relations failed", q, err)
		}
		out[table] = append(out[table], column)
	}
	if err := rows.Err(); err != nil {
		return nil, engineError("list relations failed", q, err)
	}
	return out, nil
}

// Count returns the row count of relation.
func (e *Engine) Count(ctx context.Context, relation string) (int64, error) {
	if !schema.ValidateIdentifier(relation) {
		return 0, errors.NewIdentifierError(relation, "from")
	}
	q := "SELECT count(*) FROM " + schema.QuoteIdentifier(relation)
	var n int64
	if err := e.db.QueryRowContext(ctx, q).Scan(&n); err != nil {
		return 0, engineError("count failed", q, err)
	}
	return n, nil
}

// Publish replaces final with the fully written staging table in one
// transaction, so readers see either the old relation or the new one.
func (e *Engine) Publish(ctx context.Context, staging, final string) error {
	if !schema.ValidateIdentifier(staging) || !schema.ValidateIdentifier(final) {
		return errors.NewInvalidArgument(fmt.Sprintf("cannot publish %q as %q", staging, final))
	}
	stmts, err := e.dropStatements(ctx, final)
	if err != nil {
		return err
	}
	stmts = append(stmts, fmt.Sprintf("ALTER TABLE %s RENAME TO %s",
		schema.QuoteIdentifier(staging), schema.QuoteIdentifier(final)))
	return e.ExecTx(ctx, stmts...)
}

// Drop removes a table or view if present.
func (e *Engine) Drop(ctx context.Context, relation string) error {
	if !schema.ValidateIdentifier(relation) {
		return errors.NewInvalidArgument(fmt.Sprintf("cannot drop %q", relation))
	}
	stmts, err := e.dropStatements(ctx, relation)
	if err != nil || len(stmts) == 0 {
		return err
	}
	return e.ExecTx(ctx, stmts...)
}

// dropStatements returns the DROP matching the catalog type of relation.
// DuckDB refuses DROP VIEW on a table and the other way round.
func (e *Engine) dropStatements(ctx context.Context, relation string) ([]string, error) {
	const q = `SELECT table_type FROM information_schema.tables
WHERE table_schema = 'main' AND table_name = ?`

	rs, err := e.Query(ctx, q, relation)
	if err != nil {
		return nil, err
	}
	var stmts []string
	for _, row := range rs.Rows {
		if row[0] == "VIEW" {
			stmts = append(stmts, "DROP VIEW IF EXISTS "+schema.QuoteIdentifier(relation))
		} else {
			stmts = append(stmts, "DROP TABLE IF EXISTS "+schema.QuoteIdentifier(relation))
		}
	}
	return stmts, nil
}

// QuoteLiteral renders s as a SQL string literal. It is only used for
// file paths handed to table functions such as read_parquet, which do not
// accept bound parameters in view definitions.
func QuoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

func engineError(message, query string, cause error) error {
	return errors.NewEngineError(message, cause).
		WithDetails(map[string]interface{}{"query": query})
}
