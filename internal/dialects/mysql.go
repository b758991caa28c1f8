package dialects

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-sql-driver/mysql"

	"github.com/coregx/ormica/internal/schema"
)

// MySQL server error numbers for objects that already exist.
const (
	myDupTable   = 1050
	myDupKeyName = 1061
	myDupFKName  = 1826
)

// keyedTextSize is the VARCHAR length used for keyed text columns without a
// size hint, since MySQL cannot index TEXT without a prefix length.
const keyedTextSize = 255

// MySQLDialect implements MySQL-specific SQL dialect.
type MySQLDialect struct{}

func init() {
	RegisterDialect("mysql", &MySQLDialect{})
}

// Name returns "mysql".
func (d *MySQLDialect) Name() string { return "mysql" }

// QuoteIdentifier quotes a MySQL identifier using backticks.
func (d *MySQLDialect) QuoteIdentifier(s string) string {
	return "`" + strings.ReplaceAll(s, "`", "``") + "`"
}

// Placeholder returns MySQL placeholder format (?).
func (d *MySQLDialect) Placeholder(_ int) string {
	return "?"
}

// Capabilities reports inline constraints and indexes, no RETURNING, no FULL JOIN.
func (d *MySQLDialect) Capabilities() Capabilities {
	return Capabilities{InlineForeignKeys: true, InlineIndexes: true}
}

// SQLType maps a logical type to a MySQL column type.
func (d *MySQLDialect) SQLType(t schema.LogicalType, size int, keyed bool) string {
	switch t.Kind {
	case schema.Integer32:
		return "INT"
	case schema.Integer64:
		return "BIGINT"
	case schema.Text:
		if size > 0 {
			return varchar(size)
		}
		if keyed {
			return varchar(keyedTextSize)
		}
		return "TEXT"
	case schema.Boolean:
		return "BOOLEAN"
	case schema.Float64:
		return "DOUBLE"
	case schema.Timestamp, schema.TimestampTZ:
		return "DATETIME(6)"
	case schema.Date:
		return "DATE"
	case schema.Time:
		return "TIME(6)"
	case schema.UUID:
		return "CHAR(36)"
	case schema.JSON:
		return "JSON"
	}
	return "TEXT"
}

// AutoIncrement uses AUTO_INCREMENT.
func (d *MySQLDialect) AutoIncrement(t schema.LogicalType) string {
	return d.SQLType(t, 0, true) + " NOT NULL AUTO_INCREMENT PRIMARY KEY"
}

// CurrentTimestamp returns the default expression for the temporal variant.
func (d *MySQLDialect) CurrentTimestamp(t schema.LogicalType) string {
	switch t.Kind {
	case schema.Date:
		return "(CURRENT_DATE)"
	case schema.Time:
		return "(CURRENT_TIME(6))"
	}
	return "CURRENT_TIMESTAMP(6)"
}

// TimeLayout binds temporal values as zone-less text.
func (d *MySQLDialect) TimeLayout(k schema.Kind) string {
	return nativeLayout(k)
}

// PlaceholderCast returns nothing; MySQL converts text implicitly.
func (d *MySQLDialect) PlaceholderCast(_ schema.LogicalType) string { return "" }

// SelectExpr returns the column unchanged.
func (d *MySQLDialect) SelectExpr(column string, _ schema.LogicalType) string { return column }

// NoLimit returns the largest unsigned BIGINT, MySQL's documented idiom.
func (d *MySQLDialect) NoLimit() string { return "18446744073709551615" }

// ForeignKeyDDL returns an inline CONSTRAINT clause.
func (d *MySQLDialect) ForeignKeyDDL(table, column, refTable, refColumn string) string {
	return inlineForeignKey(d, table, column, refTable, refColumn)
}

// IndexDDL returns an inline INDEX clause; MySQL has no CREATE INDEX IF NOT EXISTS.
func (d *MySQLDialect) IndexDDL(table, column string, unique bool) string {
	kw := "INDEX"
	if unique {
		kw = "UNIQUE INDEX"
	}
	return fmt.Sprintf("%s %s (%s)", kw, d.QuoteIdentifier(IndexName(table, column)), d.QuoteIdentifier(column))
}

// IsDuplicateObject recognises duplicate key/constraint name errors.
func (d *MySQLDialect) IsDuplicateObject(err error) bool {
	var myErr *mysql.MySQLError
	if !errors.As(err, &myErr) {
		return false
	}
	switch myErr.Number {
	case myDupTable, myDupKeyName, myDupFKName:
		return true
	}
	return false
}
