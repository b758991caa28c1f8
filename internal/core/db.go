// Package core provides the database handle, transactions, the model query
// builder and raw query execution.
package core

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/coregx/ormica/internal/cache"
	"github.com/coregx/ormica/internal/dialects"
	"github.com/coregx/ormica/internal/errs"
	"github.com/coregx/ormica/internal/logger"
	"github.com/coregx/ormica/internal/migrate"
	"github.com/coregx/ormica/internal/schema"
	"github.com/coregx/ormica/internal/tracer"

	// Drivers reachable through Connect URIs.
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// DB is a connection pool bound to one dialect and one schema registry.
// It is safe for concurrent use.
type DB struct {
	sqlDB      *sql.DB
	driverName string
	dialect    dialects.Dialect
	registry   *schema.Registry
	stmtCache  *cache.LRU[string, *sql.Stmt]
	logger     logger.Logger
	sanitizer  *logger.Sanitizer
	tracer     tracer.Tracer
	queryHook  QueryHook
	ctx        context.Context

	// set by options, applied once the pool exists
	maxOpen     *int
	maxIdle     *int
	maxLifetime *time.Duration
	noCache     bool
	cacheCap    int

	healthInterval time.Duration
	health         *healthMonitor
}

// Option configures a DB.
type Option func(*DB)

// WithMaxOpenConns sets the maximum number of open connections.
func WithMaxOpenConns(n int) Option {
	return func(db *DB) { db.maxOpen = &n }
}

// WithMaxIdleConns sets the maximum number of idle connections.
func WithMaxIdleConns(n int) Option {
	return func(db *DB) { db.maxIdle = &n }
}

// WithConnMaxLifetime sets how long a connection may be reused.
func WithConnMaxLifetime(d time.Duration) Option {
	return func(db *DB) { db.maxLifetime = &d }
}

// WithStmtCacheCapacity sets the prepared statement cache capacity.
func WithStmtCacheCapacity(capacity int) Option {
	return func(db *DB) { db.cacheCap = capacity }
}

// WithoutStmtCache disables prepared statement caching; statements are sent
// to the driver directly.
func WithoutStmtCache() Option {
	return func(db *DB) { db.noCache = true }
}

// WithLogger sets the logger for executed statements.
func WithLogger(l logger.Logger) Option {
	return func(db *DB) {
		if l != nil {
			db.logger = l
		}
	}
}

// WithTracer sets the tracer for executed statements.
func WithTracer(t tracer.Tracer) Option {
	return func(db *DB) {
		if t != nil {
			db.tracer = t
		}
	}
}

// WithQueryHook registers a callback invoked after every statement.
func WithQueryHook(h QueryHook) Option {
	return func(db *DB) { db.queryHook = h }
}

// WithSensitiveFields replaces the column name fragments whose bound values
// are masked in logs.
func WithSensitiveFields(fields []string) Option {
	return func(db *DB) { db.sanitizer = logger.NewSanitizer(fields) }
}

// WithRegistry shares an existing schema registry.
func WithRegistry(r *schema.Registry) Option {
	return func(db *DB) {
		if r != nil {
			db.registry = r
		}
	}
}

// Connect opens a database from a URI such as postgres://..., mysql://...,
// sqlite://app.db or sqlite::memory:.
func Connect(uri string, opts ...Option) (*DB, error) {
	target, err := dialects.ParseURI(uri)
	if err != nil {
		return nil, &errs.ConfigError{Kind: errs.ErrConfiguration, Msg: err.Error()}
	}
	if target.InMemory {
		// every pooled connection would otherwise see its own empty database
		opts = append(opts, WithMaxOpenConns(1))
	}
	return Open(target.Driver, target.DSN, opts...)
}

// Open opens a database with a registered driver name and DSN.
func Open(driverName, dsn string, opts ...Option) (*DB, error) {
	d, err := dialects.Lookup(driverName)
	if err != nil {
		return nil, &errs.ConfigError{Kind: errs.ErrConfiguration, Msg: err.Error()}
	}
	sqlDB, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, errs.Wrap(err, "ormica: open "+driverName)
	}
	return newDB(sqlDB, driverName, d, opts), nil
}

// WrapDB wraps an existing *sql.DB. The caller keeps ownership of the pool's
// lifecycle settings; options still apply.
func WrapDB(sqlDB *sql.DB, driverName string, opts ...Option) (*DB, error) {
	d, err := dialects.Lookup(driverName)
	if err != nil {
		return nil, &errs.ConfigError{Kind: errs.ErrConfiguration, Msg: err.Error()}
	}
	return newDB(sqlDB, driverName, d, opts), nil
}

func newDB(sqlDB *sql.DB, driverName string, d dialects.Dialect, opts []Option) *DB {
	db := &DB{
		sqlDB:      sqlDB,
		driverName: driverName,
		dialect:    d,
		registry:   schema.NewRegistry(),
		logger:     &logger.NoopLogger{},
		sanitizer:  logger.NewSanitizer(nil),
		tracer:     &tracer.NoopTracer{},
	}
	for _, opt := range opts {
		opt(db)
	}

	if db.maxOpen != nil {
		sqlDB.SetMaxOpenConns(*db.maxOpen)
	}
	if db.maxIdle != nil {
		sqlDB.SetMaxIdleConns(*db.maxIdle)
	}
	if db.maxLifetime != nil {
		sqlDB.SetConnMaxLifetime(*db.maxLifetime)
	}
	if !db.noCache {
		db.stmtCache = cache.New(db.cacheCap, func(_ string, stmt *sql.Stmt) {
			_ = stmt.Close()
		})
	}
	if db.healthInterval > 0 && sqlDB != nil {
		l := logger.With(db.logger, "component", "health", "database", d.Name())
		db.health = startHealthMonitor(sqlDB, l, db.healthInterval)
	}
	return db
}

// Close stops the health check, releases cached statements and closes the
// pool.
func (db *DB) Close() error {
	if db.health != nil {
		db.health.stop()
	}
	if db.stmtCache != nil {
		db.stmtCache.Purge()
	}
	return db.sqlDB.Close()
}

// DB returns the underlying *sql.DB.
func (db *DB) DB() *sql.DB { return db.sqlDB }

// Dialect returns the dialect profile selected at connect time.
func (db *DB) Dialect() dialects.Dialect { return db.dialect }

// Registry returns the schema registry used for lookups.
func (db *DB) Registry() *schema.Registry { return db.registry }

// DriverName returns the driver name the pool was opened with.
func (db *DB) DriverName() string { return db.driverName }

// Register derives and registers schemas for the given struct models, in order.
func (db *DB) Register(models ...any) error {
	return db.registry.RegisterModels(models...)
}

// Migrate creates every registered table and attaches foreign keys. It is
// safe to run repeatedly.
func (db *DB) Migrate(ctx context.Context) error {
	ctx, span := db.tracer.StartSpan(ctx, tracer.SpanMigrate)
	defer span.End()

	err := migrate.NewPlanner(db.registry, db.dialect, migrate.WithLogger(db.logger)).Run(ctx, db)
	if err != nil {
		span.RecordError(err)
	}
	return err
}

// WithContext returns a shallow copy of db whose operations default to ctx.
func (db *DB) WithContext(ctx context.Context) *DB {
	c := *db
	c.ctx = ctx
	return &c
}

func (db *DB) context() context.Context {
	if db.ctx != nil {
		return db.ctx
	}
	return context.Background()
}

// CacheStats returns prepared statement cache counters; zero when disabled.
func (db *DB) CacheStats() cache.Stats {
	if db.stmtCache == nil {
		return cache.Stats{}
	}
	return db.stmtCache.Stats()
}

// ExecContext runs a statement with driver-native placeholders, observed like
// every other statement. The migration planner executes through it.
func (db *DB) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return db.exec(ctx, nil, &statement{sql: query, args: args, raw: true})
}

// Tx is a transaction. Every query built from it runs on its connection.
type Tx struct {
	db  *DB
	tx  *sql.Tx
	ctx context.Context
}

// TxOptions configures a transaction.
type TxOptions struct {
	Isolation sql.IsolationLevel
	ReadOnly  bool
}

// Begin starts a transaction with default options.
func (db *DB) Begin(ctx context.Context) (*Tx, error) {
	return db.BeginTx(ctx, nil)
}

// BeginTx starts a transaction with the given isolation level and mode.
func (db *DB) BeginTx(ctx context.Context, opts *TxOptions) (*Tx, error) {
	var sqlOpts *sql.TxOptions
	if opts != nil {
		sqlOpts = &sql.TxOptions{Isolation: opts.Isolation, ReadOnly: opts.ReadOnly}
	}

	tx, err := db.sqlDB.BeginTx(ctx, sqlOpts)
	if err != nil {
		return nil, &errs.ExecutionError{Op: "begin", Err: err}
	}
	return &Tx{db: db, tx: tx, ctx: ctx}, nil
}

// Commit commits the transaction.
func (tx *Tx) Commit() error {
	return txErr("commit", tx.tx.Commit())
}

// Rollback aborts the transaction.
func (tx *Tx) Rollback() error {
	return txErr("rollback", tx.tx.Rollback())
}

// ExecContext runs a driver-native statement inside the transaction.
func (tx *Tx) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return tx.db.exec(ctx, tx.tx, &statement{sql: query, args: args, raw: true})
}

func txErr(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, sql.ErrTxDone):
		return errs.ErrTxDone
	}
	return &errs.ExecutionError{Op: op, Err: err}
}

// Transactional runs fn inside a transaction. It commits when fn returns nil
// and rolls back when fn returns an error or panics; panics are re-raised
// after the rollback. fn may end the transaction itself with Commit or
// Rollback, in which case nothing more is done and fn's result is returned.
func (db *DB) Transactional(ctx context.Context, fn func(tx *Tx) error) (err error) {
	return db.TransactionalTx(ctx, nil, fn)
}

// TransactionalTx is Transactional with explicit transaction options.
func (db *DB) TransactionalTx(ctx context.Context, opts *TxOptions, fn func(tx *Tx) error) (err error) {
	ctx, span := db.tracer.StartSpan(ctx, tracer.SpanTx)
	defer span.End()

	tx, err := db.BeginTx(ctx, opts)
	if err != nil {
		span.RecordError(err)
		return err
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			span.RecordError(err)
			if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, errs.ErrTxDone) {
				err = fmt.Errorf("%w (rollback failed: %v)", err, rbErr)
			}
			return
		}
		if err = tx.Commit(); errors.Is(err, errs.ErrTxDone) {
			err = nil
		}
	}()

	return fn(tx)
}
