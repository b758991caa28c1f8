package dialects

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"

	"github.com/coregx/ormica/internal/schema"
)

// PostgreSQL SQLSTATE codes for objects that already exist.
const (
	pgDuplicateObject = "42710"
	pgDuplicateTable  = "42P07"
)

// PostgresDialect implements PostgreSQL-specific SQL dialect.
type PostgresDialect struct{}

func init() {
	d := &PostgresDialect{}
	RegisterDialect("postgres", d)
	RegisterDialect("postgresql", d)
	RegisterDialect("pgx", d)
}

// Name returns "postgres".
func (d *PostgresDialect) Name() string { return "postgres" }

// QuoteIdentifier quotes a PostgreSQL identifier using double quotes.
func (d *PostgresDialect) QuoteIdentifier(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

// Placeholder returns PostgreSQL placeholder format ($1, $2, etc.).
func (d *PostgresDialect) Placeholder(index int) string {
	return fmt.Sprintf("$%d", index)
}

// Capabilities reports separable constraints, RETURNING and FULL JOIN.
func (d *PostgresDialect) Capabilities() Capabilities {
	return Capabilities{Returning: true, FullJoin: true}
}

// SQLType maps a logical type to a PostgreSQL column type.
func (d *PostgresDialect) SQLType(t schema.LogicalType, size int, _ bool) string {
	switch t.Kind {
	case schema.Integer32:
		return "INTEGER"
	case schema.Integer64:
		return "BIGINT"
	case schema.Text:
		if size > 0 {
			return varchar(size)
		}
		return "TEXT"
	case schema.Boolean:
		return "BOOLEAN"
	case schema.Float64:
		return "DOUBLE PRECISION"
	case schema.Timestamp:
		return "TIMESTAMP"
	case schema.TimestampTZ:
		return "TIMESTAMPTZ"
	case schema.Date:
		return "DATE"
	case schema.Time:
		return "TIME"
	case schema.UUID:
		return "UUID"
	case schema.JSON:
		return "JSONB"
	}
	return "TEXT"
}

// AutoIncrement uses SERIAL/BIGSERIAL.
func (d *PostgresDialect) AutoIncrement(t schema.LogicalType) string {
	if t.Kind == schema.Integer32 {
		return "SERIAL PRIMARY KEY"
	}
	return "BIGSERIAL PRIMARY KEY"
}

// CurrentTimestamp returns the default expression for the temporal variant.
func (d *PostgresDialect) CurrentTimestamp(t schema.LogicalType) string {
	return currentTimestamp(t.Kind, "CURRENT_TIMESTAMP")
}

// TimeLayout binds instants as RFC3339 and naive values with microseconds.
func (d *PostgresDialect) TimeLayout(k schema.Kind) string {
	if k == schema.TimestampTZ {
		return time.RFC3339Nano
	}
	return nativeLayout(k)
}

// PlaceholderCast returns the explicit cast for text-bound temporal, UUID and JSON values.
func (d *PostgresDialect) PlaceholderCast(t schema.LogicalType) string {
	switch t.Kind {
	case schema.Timestamp:
		return "::TIMESTAMP"
	case schema.TimestampTZ:
		return "::TIMESTAMPTZ"
	case schema.Date:
		return "::DATE"
	case schema.Time:
		return "::TIME"
	case schema.UUID:
		return "::UUID"
	case schema.JSON:
		return "::JSONB"
	}
	return ""
}

// SelectExpr renders temporal columns through to_json so every driver sees the
// same ISO text, and UUID/JSON columns as text.
func (d *PostgresDialect) SelectExpr(column string, t schema.LogicalType) string {
	switch {
	case t.Kind.IsTemporal():
		return "to_json(" + column + ") #>> '{}'"
	case t.Kind == schema.UUID || t.Kind == schema.JSON:
		return column + "::text"
	}
	return column
}

// NoLimit returns ALL.
func (d *PostgresDialect) NoLimit() string { return "ALL" }

// ForeignKeyDDL returns an ALTER TABLE ... ADD CONSTRAINT statement.
func (d *PostgresDialect) ForeignKeyDDL(table, column, refTable, refColumn string) string {
	return fmt.Sprintf("ALTER TABLE %s ADD CONSTRAINT %s FOREIGN KEY (%s) REFERENCES %s (%s)",
		d.QuoteIdentifier(table),
		d.QuoteIdentifier(ForeignKeyName(table, column)),
		d.QuoteIdentifier(column),
		d.QuoteIdentifier(refTable),
		d.QuoteIdentifier(refColumn))
}

// IndexDDL returns a CREATE INDEX IF NOT EXISTS statement.
func (d *PostgresDialect) IndexDDL(table, column string, unique bool) string {
	return createIndex(d, table, column, unique)
}

// IsDuplicateObject recognises duplicate_object errors from lib/pq and pgx.
func (d *PostgresDialect) IsDuplicateObject(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == pgDuplicateObject || pqErr.Code == pgDuplicateTable
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgDuplicateObject || pgErr.Code == pgDuplicateTable
	}
	return false
}

// Helpers shared by the dialects.

func currentTimestamp(k schema.Kind, ts string) string {
	switch k {
	case schema.Date:
		return "CURRENT_DATE"
	case schema.Time:
		return "CURRENT_TIME"
	}
	return ts
}

func nativeLayout(k schema.Kind) string {
	switch k {
	case schema.Date:
		return "2006-01-02"
	case schema.Time:
		return "15:04:05.000000"
	}
	return "2006-01-02 15:04:05.000000"
}

func createIndex(d Dialect, table, column string, unique bool) string {
	kw := "INDEX"
	if unique {
		kw = "UNIQUE INDEX"
	}
	return fmt.Sprintf("CREATE %s IF NOT EXISTS %s ON %s (%s)", kw,
		d.QuoteIdentifier(IndexName(table, column)),
		d.QuoteIdentifier(table),
		d.QuoteIdentifier(column))
}

func inlineForeignKey(d Dialect, table, column, refTable, refColumn string) string {
	return fmt.Sprintf("CONSTRAINT %s FOREIGN KEY (%s) REFERENCES %s (%s)",
		d.QuoteIdentifier(ForeignKeyName(table, column)),
		d.QuoteIdentifier(column),
		d.QuoteIdentifier(refTable),
		d.QuoteIdentifier(refColumn))
}
