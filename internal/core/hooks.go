package core

import (
	"context"
	"time"
)

// QueryEvent describes one executed statement.
type QueryEvent struct {
	SQL string
	// Args are the bound parameters after masking.
	Args         []any
	Duration     time.Duration
	RowsAffected int64
	Err          error
	// Operation is SELECT, INSERT, UPDATE, DELETE, CREATE, ALTER or UNKNOWN.
	Operation string
	// Table is the base table of builder statements; empty for raw SQL.
	Table string
}

// QueryHook is invoked after every statement, successful or not.
//
// Example:
//
//	db, _ := ormica.Connect(uri,
//	    ormica.WithQueryHook(func(ctx context.Context, e ormica.QueryEvent) {
//	        metrics.Observe(e.Operation, e.Duration)
//	    }))
type QueryHook func(ctx context.Context, event QueryEvent)

func (db *DB) invokeHook(ctx context.Context, event QueryEvent) {
	if db.queryHook != nil {
		db.queryHook(ctx, event)
	}
}

// ChainHooks combines hooks into one that calls each in order. Nil hooks are
// skipped.
func ChainHooks(hooks ...QueryHook) QueryHook {
	return func(ctx context.Context, event QueryEvent) {
		for _, h := range hooks {
			if h != nil {
				h(ctx, event)
			}
		}
	}
}
