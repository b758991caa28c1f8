package core

import (
	"context"
	"database/sql"
	"time"

	"github.com/coregx/ormica/internal/errs"
	"github.com/coregx/ormica/internal/tracer"
)

// statement is a compiled SQL text with its positional arguments.
type statement struct {
	sql  string
	args []any
	// columns[i] names the column args[i] is bound to, or "" when unbound.
	// It drives log masking.
	columns []string
	table   string
	raw     bool
}

// runner is the subset shared by *sql.DB and *sql.Tx.
type runner interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

const errStmtClosed = "sql: statement is closed"

func (db *DB) maskedParams(st *statement) []any {
	if st.raw {
		return db.sanitizer.MaskRawParams(st.sql, st.args)
	}
	return db.sanitizer.MaskParams(st.columns, st.args)
}

// cachedStmt returns a prepared statement for non-transactional use, or nil
// when caching is disabled.
func (db *DB) cachedStmt(ctx context.Context, query string) (*sql.Stmt, error) {
	if db.stmtCache == nil {
		return nil, nil
	}
	if stmt, ok := db.stmtCache.Get(query); ok {
		return stmt, nil
	}
	stmt, err := db.sqlDB.PrepareContext(ctx, query)
	if err != nil {
		return nil, err
	}
	return db.stmtCache.Add(query, stmt), nil
}

func (db *DB) runExec(ctx context.Context, tx *sql.Tx, st *statement) (sql.Result, error) {
	if tx != nil {
		return tx.ExecContext(ctx, st.sql, st.args...)
	}
	stmt, err := db.cachedStmt(ctx, st.sql)
	if err != nil {
		return nil, err
	}
	if stmt != nil {
		res, err := stmt.ExecContext(ctx, st.args...)
		if err == nil || err.Error() != errStmtClosed {
			return res, err
		}
		// evicted between lookup and use
	}
	return db.sqlDB.ExecContext(ctx, st.sql, st.args...)
}

func (db *DB) runQuery(ctx context.Context, tx *sql.Tx, st *statement) (*sql.Rows, error) {
	if tx != nil {
		return tx.QueryContext(ctx, st.sql, st.args...)
	}
	stmt, err := db.cachedStmt(ctx, st.sql)
	if err != nil {
		return nil, err
	}
	if stmt != nil {
		rows, err := stmt.QueryContext(ctx, st.args...)
		if err == nil || err.Error() != errStmtClosed {
			return rows, err
		}
	}
	return db.sqlDB.QueryContext(ctx, st.sql, st.args...)
}

// exec runs a statement that returns no rows.
func (db *DB) exec(ctx context.Context, tx *sql.Tx, st *statement) (sql.Result, error) {
	ctx, span := db.tracer.StartSpan(ctx, tracer.SpanQuery)
	defer span.End()

	start := time.Now()
	res, err := db.runExec(ctx, tx, st)
	elapsed := time.Since(start)

	var affected int64
	if err == nil && res != nil {
		affected, _ = res.RowsAffected()
	}
	if err != nil {
		err = &errs.ExecutionError{Op: "exec", SQL: st.sql, Err: err}
	}
	db.observe(ctx, span, st, elapsed, affected, err)
	return res, err
}

// query runs a statement and hands the open rows to fn. Rows are closed and
// their iteration error checked before returning.
func (db *DB) query(ctx context.Context, tx *sql.Tx, st *statement, fn func(*sql.Rows) error) error {
	ctx, span := db.tracer.StartSpan(ctx, tracer.SpanQuery)
	defer span.End()

	start := time.Now()
	rows, err := db.runQuery(ctx, tx, st)
	if err != nil {
		err = &errs.ExecutionError{Op: "query", SQL: st.sql, Err: err}
		db.observe(ctx, span, st, time.Since(start), 0, err)
		return err
	}

	err = fn(rows)
	closeErr := rows.Close()
	if err == nil {
		if rowsErr := rows.Err(); rowsErr != nil {
			err = &errs.ExecutionError{Op: "query", SQL: st.sql, Err: rowsErr}
		} else if closeErr != nil {
			err = &errs.ExecutionError{Op: "query", SQL: st.sql, Err: closeErr}
		}
	}
	db.observe(ctx, span, st, time.Since(start), 0, err)
	return err
}

// observe logs, traces and reports a finished statement.
func (db *DB) observe(ctx context.Context, span tracer.Span, st *statement, elapsed time.Duration, affected int64, err error) {
	params := db.maskedParams(st)
	op := tracer.DetectOperation(st.sql)

	if err != nil {
		db.logger.Error("query execution failed",
			"sql", st.sql,
			"params", db.sanitizer.FormatParams(params),
			"duration_ms", elapsed.Milliseconds(),
			"database", db.dialect.Name(),
			"error", err,
		)
	} else {
		db.logger.Info("query executed",
			"sql", st.sql,
			"params", db.sanitizer.FormatParams(params),
			"duration_ms", elapsed.Milliseconds(),
			"rows_affected", affected,
			"database", db.dialect.Name(),
		)
	}

	tracer.AddQueryAttributes(span, &tracer.QueryMetadata{
		SQL:          st.sql,
		Duration:     elapsed,
		RowsAffected: affected,
		Err:          err,
		Database:     db.dialect.Name(),
		Operation:    op,
		Table:        st.table,
	})

	db.invokeHook(ctx, QueryEvent{
		SQL:          st.sql,
		Args:         params,
		Duration:     elapsed,
		RowsAffected: affected,
		Err:          err,
		Operation:    op,
		Table:        st.table,
	})
}
