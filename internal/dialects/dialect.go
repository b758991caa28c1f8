// Package dialects provides the per-database profiles for PostgreSQL, MySQL and
// SQLite: identifier quoting, placeholders, type names, constraint DDL and the
// casts needed to move temporal, UUID and JSON values through a generic driver.
package dialects

import (
	"fmt"
	"sync"

	"github.com/coregx/ormica/internal/schema"
)

// Capabilities describes what a dialect supports. The migration planner and
// query compiler branch on these flags instead of on dialect names.
type Capabilities struct {
	// InlineForeignKeys means foreign keys must be declared inside CREATE TABLE.
	InlineForeignKeys bool
	// InlineIndexes means secondary indexes are declared inside CREATE TABLE.
	InlineIndexes bool
	// Returning means INSERT ... RETURNING is available for generated keys.
	Returning bool
	// FullJoin means FULL [OUTER] JOIN is available.
	FullJoin bool
}

// Dialect defines database-specific behaviors.
type Dialect interface {
	// Name is the canonical dialect name: postgres, mysql or sqlite.
	Name() string
	QuoteIdentifier(string) string
	Placeholder(int) string
	Capabilities() Capabilities

	// SQLType returns the column type for a logical type. keyed is true for
	// columns that take part in a key or index.
	SQLType(t schema.LogicalType, size int, keyed bool) string
	// AutoIncrement returns the full type and key clause of a generated primary key.
	AutoIncrement(t schema.LogicalType) string
	// CurrentTimestamp returns the DEFAULT expression for create-time columns.
	CurrentTimestamp(t schema.LogicalType) string
	// TimeLayout returns the text layout temporal values are bound with.
	TimeLayout(k schema.Kind) string

	// PlaceholderCast returns a suffix appended to placeholders, e.g. "::UUID".
	PlaceholderCast(t schema.LogicalType) string
	// SelectExpr wraps a quoted column so that it decodes from text uniformly.
	SelectExpr(column string, t schema.LogicalType) string
	// NoLimit is the LIMIT value used when only OFFSET is requested.
	NoLimit() string

	// ForeignKeyDDL returns an inline constraint clause when the dialect has
	// InlineForeignKeys, and a standalone ALTER TABLE statement otherwise.
	ForeignKeyDDL(table, column, refTable, refColumn string) string
	// IndexDDL returns an inline index clause when the dialect has
	// InlineIndexes, and a standalone CREATE INDEX statement otherwise.
	IndexDDL(table, column string, unique bool) string
	// IsDuplicateObject reports whether err means a constraint or index already exists.
	IsDuplicateObject(err error) bool
}

var (
	mu       sync.RWMutex
	registry = make(map[string]Dialect)
)

// RegisterDialect registers a database dialect by driver name.
func RegisterDialect(name string, d Dialect) {
	mu.Lock()
	defer mu.Unlock()
	registry[name] = d
}

// GetDialect retrieves a registered dialect by driver name, panics if not found.
func GetDialect(name string) Dialect {
	d, err := Lookup(name)
	if err != nil {
		panic(err.Error())
	}
	return d
}

// Lookup retrieves a registered dialect by driver name.
func Lookup(name string) (Dialect, error) {
	mu.RLock()
	defer mu.RUnlock()
	if d, ok := registry[name]; ok {
		return d, nil
	}
	return nil, fmt.Errorf("unsupported dialect: %s", name)
}

// ForeignKeyName is the constraint name used for a foreign key column.
func ForeignKeyName(table, column string) string {
	return "fk_" + table + "_" + column
}

// IndexName is the index name used for an indexed column.
func IndexName(table, column string) string {
	return "idx_" + table + "_" + column
}

func varchar(size int) string {
	return fmt.Sprintf("VARCHAR(%d)", size)
}
