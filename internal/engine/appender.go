package engine

import (
	"context"
	"database/sql/driver"
	"fmt"

	"github.com/marcboeker/go-duckdb/v2"

	"github.com/mtgsql/mtgsql/internal/errors"
)

// RowSource yields rows for a bulk load. Next returns false when the
// source is exhausted or failed; Err reports the failure.
type RowSource interface {
	Next() ([]driver.Value, bool)
	Err() error
}

// flushEvery bounds how many rows the appender buffers before flushing.
const flushEvery = 100000

// Append bulk-loads src into an existing table through the DuckDB
// Appender on a dedicated connection. The source is pulled row by row, so
// memory stays bounded by the appender's buffer.
func (e *Engine) Append(ctx context.Context, table string, src RowSource) (int64, error) {
	conn, err := e.db.Conn(ctx)
	if err != nil {
		return 0, errors.NewEngineError("failed to acquire connection", err)
	}
	defer conn.Close()

	var n int64
	err = conn.Raw(func(dc any) error {
		driverConn, ok := dc.(driver.Conn)
		if !ok {
			return fmt.Errorf("unexpected driver connection %T", dc)
		}
		app, err := duckdb.NewAppenderFromConn(driverConn, "", table)
		if err != nil {
			return err
		}

		for {
			if err := ctx.Err(); err != nil {
				app.Close()
				return err
			}
			row, ok := src.Next()
			if !ok {
				break
			}
			if err := app.AppendRow(row...); err != nil {
				app.Close()
				return err
			}
			n++
			if n%flushEvery == 0 {
				if err := app.Flush(); err != nil {
					app.Close()
					return err
				}
			}
		}
		if err := src.Err(); err != nil {
			app.Close()
			return err
		}
		return app.Close()
	})
	if err != nil {
		if errors.GetCategory(err) != "" {
			return n, err
		}
		return n, errors.NewEngineError(fmt.Sprintf("append to %s failed", table), err).
			WithDetails(map[string]interface{}{"table": table, "rows": n})
	}
	return n, nil
}
