package dialects

import (
	"strings"

	"github.com/coregx/ormica/internal/schema"
)

// SQLiteDialect implements SQLite-specific SQL dialect.
type SQLiteDialect struct{}

func init() {
	d := &SQLiteDialect{}
	RegisterDialect("sqlite", d)
	RegisterDialect("sqlite3", d)
}

// Name returns "sqlite".
func (d *SQLiteDialect) Name() string { return "sqlite" }

// QuoteIdentifier quotes a SQLite identifier using double quotes.
func (d *SQLiteDialect) QuoteIdentifier(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

// Placeholder returns SQLite placeholder format (?).
func (d *SQLiteDialect) Placeholder(_ int) string {
	return "?"
}

// Capabilities reports inline foreign keys and FULL JOIN (SQLite 3.39+).
func (d *SQLiteDialect) Capabilities() Capabilities {
	return Capabilities{InlineForeignKeys: true, FullJoin: true}
}

// SQLType maps a logical type to a SQLite column type. Temporal, UUID and JSON
// values are stored as fixed-layout text.
func (d *SQLiteDialect) SQLType(t schema.LogicalType, size int, _ bool) string {
	switch t.Kind {
	case schema.Integer32, schema.Integer64:
		return "INTEGER"
	case schema.Text:
		if size > 0 {
			return varchar(size)
		}
		return "TEXT"
	case schema.Boolean:
		return "BOOLEAN"
	case schema.Float64:
		return "REAL"
	}
	return "TEXT"
}

// AutoIncrement requires the exact INTEGER PRIMARY KEY form.
func (d *SQLiteDialect) AutoIncrement(_ schema.LogicalType) string {
	return "INTEGER PRIMARY KEY AUTOINCREMENT"
}

// CurrentTimestamp returns the default expression for the temporal variant.
func (d *SQLiteDialect) CurrentTimestamp(t schema.LogicalType) string {
	return currentTimestamp(t.Kind, "CURRENT_TIMESTAMP")
}

// TimeLayout binds temporal values as zone-less, fixed-width text so that
// lexical order matches chronological order.
func (d *SQLiteDialect) TimeLayout(k schema.Kind) string {
	return nativeLayout(k)
}

// PlaceholderCast returns nothing.
func (d *SQLiteDialect) PlaceholderCast(_ schema.LogicalType) string { return "" }

// SelectExpr returns the column unchanged.
func (d *SQLiteDialect) SelectExpr(column string, _ schema.LogicalType) string { return column }

// NoLimit returns -1.
func (d *SQLiteDialect) NoLimit() string { return "-1" }

// ForeignKeyDDL returns an inline CONSTRAINT clause.
func (d *SQLiteDialect) ForeignKeyDDL(table, column, refTable, refColumn string) string {
	return inlineForeignKey(d, table, column, refTable, refColumn)
}

// IndexDDL returns a CREATE INDEX IF NOT EXISTS statement.
func (d *SQLiteDialect) IndexDDL(table, column string, unique bool) string {
	return createIndex(d, table, column, unique)
}

// IsDuplicateObject matches SQLite's "already exists" messages.
func (d *SQLiteDialect) IsDuplicateObject(err error) bool {
	return err != nil && strings.Contains(err.Error(), "already exists")
}
