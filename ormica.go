// Package ormica maps Go structs to tables on PostgreSQL, MySQL and SQLite.
// It derives schemas from struct tags, migrates them in two phases and offers
// a chainable query builder with soft deletes, pagination, joins and raw SQL.
//
//	db, err := ormica.Connect("sqlite::memory:")
//	if err != nil {
//		return err
//	}
//	defer db.Close()
//
//	if err := db.Register(&User{}); err != nil {
//		return err
//	}
//	if err := db.Migrate(ctx); err != nil {
//		return err
//	}
//
//	var adults []User
//	err = db.Model(&User{}).Filter("age", ormica.Gte, 18).Order("name").Scan(&adults)
package ormica

import (
	"github.com/coregx/ormica/internal/audit"
	"github.com/coregx/ormica/internal/config"
	"github.com/coregx/ormica/internal/core"
	"github.com/coregx/ormica/internal/errs"
	"github.com/coregx/ormica/internal/logger"
	"github.com/coregx/ormica/internal/tracer"
)

type (
	// DB is a connection pool bound to one dialect and one schema registry.
	DB = core.DB
	// Option is a functional option for configuring DB.
	Option = core.Option
	// Tx is a database transaction.
	Tx = core.Tx
	// TxOptions carries the isolation level and read-only flag.
	TxOptions = core.TxOptions
	// HealthStatus is the latest background ping result.
	HealthStatus = core.HealthStatus

	// ModelQuery builds and runs statements against registered tables.
	ModelQuery = core.ModelQuery
	// Operator is a filter comparison.
	Operator = core.Operator
	// JoinKind selects the join type.
	JoinKind = core.JoinKind

	// RawQuery runs hand-written SQL.
	RawQuery = core.RawQuery
	// Params binds {:name} placeholders in raw SQL.
	Params = core.Params
	// NullStringMap is one raw result row keyed by column name.
	NullStringMap = core.NullStringMap

	// QueryEvent describes an executed statement.
	QueryEvent = core.QueryEvent
	// QueryHook observes every executed statement.
	QueryHook = core.QueryHook

	// Logger receives structured query logs.
	Logger = logger.Logger
	// Tracer starts spans around queries.
	Tracer = tracer.Tracer

	// Config is a YAML connection config.
	Config = config.Config

	// Auditor writes an audit trail from query hook events.
	Auditor = audit.Auditor
	// AuditLevel selects which statements are audited.
	AuditLevel = audit.Level
)

// Paginated is one page of results plus totals.
type Paginated[T any] = core.Paginated[T]

// Filter operators.
const (
	Eq      = core.Eq
	Ne      = core.Ne
	Gt      = core.Gt
	Gte     = core.Gte
	Lt      = core.Lt
	Lte     = core.Lte
	Like    = core.Like
	NotLike = core.NotLike
	In      = core.In
	NotIn   = core.NotIn
)

// Join kinds.
const (
	JoinInner = core.JoinInner
	JoinLeft  = core.JoinLeft
	JoinRight = core.JoinRight
	JoinFull  = core.JoinFull
)

// Audit levels.
const (
	AuditNone   = audit.None
	AuditWrites = audit.Writes
	AuditReads  = audit.Reads
	AuditAll    = audit.All
)

// Re-export core functions.
var (
	Connect = core.Connect
	Open    = core.Open
	WrapDB  = core.WrapDB

	WithMaxOpenConns      = core.WithMaxOpenConns
	WithMaxIdleConns      = core.WithMaxIdleConns
	WithConnMaxLifetime   = core.WithConnMaxLifetime
	WithStmtCacheCapacity = core.WithStmtCacheCapacity
	WithoutStmtCache      = core.WithoutStmtCache
	WithLogger            = core.WithLogger
	WithTracer            = core.WithTracer
	WithQueryHook         = core.WithQueryHook
	WithSensitiveFields   = core.WithSensitiveFields
	WithRegistry          = core.WithRegistry
	WithHealthCheck       = core.WithHealthCheck

	ChainHooks    = core.ChainHooks
	ClampPageSize = core.ClampPageSize

	NewAuditor    = audit.New
	WithUser      = audit.WithUser
	WithRequestID = audit.WithRequestID

	NewSlogAdapter = logger.NewSlogAdapter
	NewOtelTracer  = tracer.NewOtelTracer

	LoadConfig  = config.LoadFile
	ParseConfig = config.Parse
)

// Errors. Typed errors match these through errors.Is.
var (
	ErrConfiguration  = errs.ErrConfiguration
	ErrDuplicateTable = errs.ErrDuplicateTable
	ErrUnknownModel   = errs.ErrUnknownModel
	ErrSchema         = errs.ErrSchema
	ErrValidation     = errs.ErrValidation
	ErrUnknownColumn  = errs.ErrUnknownColumn
	ErrTypeMismatch   = errs.ErrTypeMismatch
	ErrConversion     = errs.ErrConversion
	ErrNotFound       = errs.ErrNotFound
	ErrExecution      = errs.ErrExecution
	ErrTxDone         = errs.ErrTxDone

	IsNotFound      = errs.IsNotFound
	IsConfiguration = errs.IsConfiguration
	IsValidation    = errs.IsValidation
	IsConversion    = errs.IsConversion
)

// Error types, for errors.As.
type (
	ConfigError     = errs.ConfigError
	ValidationError = errs.ValidationError
	ConversionError = errs.ConversionError
	NotFoundError   = errs.NotFoundError
	ExecutionError  = errs.ExecutionError
)

// Paginate loads one 1-based page of q together with the total row count.
func Paginate[T any](q *ModelQuery, page, pageSize int) (*Paginated[T], error) {
	return core.Paginate[T](q, page, pageSize)
}

// OpenConfig connects using cfg. Pool, cache and masking settings become
// options; opts are applied after them and win on conflict.
func OpenConfig(cfg *Config, opts ...Option) (*DB, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	base := []Option{WithSensitiveFields(cfg.SensitiveFields)}
	if cfg.MaxOpenConns > 0 {
		base = append(base, WithMaxOpenConns(cfg.MaxOpenConns))
	}
	if cfg.MaxIdleConns > 0 {
		base = append(base, WithMaxIdleConns(cfg.MaxIdleConns))
	}
	if cfg.ConnMaxLifetime > 0 {
		base = append(base, WithConnMaxLifetime(cfg.ConnMaxLifetime))
	}
	if cfg.HealthCheckInterval > 0 {
		base = append(base, WithHealthCheck(cfg.HealthCheckInterval))
	}
	switch {
	case cfg.DisableStmtCache:
		base = append(base, WithoutStmtCache())
	case cfg.StmtCacheCapacity > 0:
		base = append(base, WithStmtCacheCapacity(cfg.StmtCacheCapacity))
	}
	opts = append(base, opts...)

	if cfg.URL != "" {
		return Connect(cfg.URL, opts...)
	}
	return Open(cfg.Driver, cfg.DSN, opts...)
}
