package schema

import (
	"reflect"
	"strings"

	"github.com/coregx/ormica/internal/errs"
	"github.com/coregx/ormica/internal/util"
)

// ForeignKey is the (table, column) a column references.
type ForeignKey struct {
	Table  string
	Column string
}

// Column describes one mapped struct field.
type Column struct {
	Table      string
	Name       string
	Field      string
	Index      []int // reflect field index path
	Type       LogicalType
	Size       int
	PrimaryKey bool
	Auto       bool
	Unique     bool
	Indexed    bool
	CreateTime bool
	UpdateTime bool
	SoftDelete bool
	Omit       bool
	ForeignKey *ForeignKey
	GoType     reflect.Type
}

// Nullable reports whether the column accepts NULL.
func (c *Column) Nullable() bool { return c.Type.Nullable }

// Keyed reports whether the column takes part in a key or index.
func (c *Column) Keyed() bool {
	return c.PrimaryKey || c.Unique || c.Indexed || c.ForeignKey != nil
}

// Table is the immutable schema of one registered record type.
type Table struct {
	Name    string
	Type    reflect.Type
	Columns []*Column

	byName     map[string]*Column
	pk         *Column
	softDelete *Column
}

// TableModel lets a record type choose its table name.
type TableModel interface {
	TableName() string
}

// TableName returns the table name for a record value: TableName() when
// implemented, the snake_case type name otherwise.
func TableName(model any) string {
	if tm, ok := model.(TableModel); ok {
		return tm.TableName()
	}
	t := reflect.TypeOf(model)
	for t.Kind() == reflect.Ptr || t.Kind() == reflect.Slice {
		t = t.Elem()
	}
	if tm, ok := reflect.Zero(t).Interface().(TableModel); ok {
		return tm.TableName()
	}
	return util.SnakeCase(t.Name())
}

// Column returns the column with the given name.
func (t *Table) Column(name string) (*Column, bool) {
	c, ok := t.byName[name]
	return c, ok
}

// PrimaryKey returns the primary key column.
func (t *Table) PrimaryKey() *Column { return t.pk }

// SoftDelete returns the soft-delete marker column, or nil.
func (t *Table) SoftDelete() *Column { return t.softDelete }

// Selectable returns the columns included in default projections.
func (t *Table) Selectable() []*Column {
	cols := make([]*Column, 0, len(t.Columns))
	for _, c := range t.Columns {
		if !c.Omit {
			cols = append(cols, c)
		}
	}
	return cols
}

// ForeignKeys returns the columns carrying a foreign key, in column order.
func (t *Table) ForeignKeys() []*Column {
	var cols []*Column
	for _, c := range t.Columns {
		if c.ForeignKey != nil {
			cols = append(cols, c)
		}
	}
	return cols
}

// NewTable validates columns and builds a Table. Column names must be unique
// and exactly one column must be the primary key.
func NewTable(name string, typ reflect.Type, columns []*Column) (*Table, error) {
	if name == "" {
		return nil, errs.Schema(name, "", "table name is empty")
	}

	t := &Table{
		Name:    name,
		Type:    typ,
		Columns: columns,
		byName:  make(map[string]*Column, len(columns)),
	}

	pkCount := 0
	for _, c := range columns {
		c.Table = name
		if _, dup := t.byName[c.Name]; dup {
			return nil, errs.Schema(name, c.Name, "duplicate column")
		}
		t.byName[c.Name] = c

		if c.PrimaryKey {
			pkCount++
			t.pk = c
			if c.Type.Nullable {
				return nil, errs.Schema(name, c.Name, "primary key cannot be nullable")
			}
		}
		if c.Auto && (!c.PrimaryKey || !c.Type.Kind.IsInteger()) {
			return nil, errs.Schema(name, c.Name, "auto requires an integer primary key")
		}
		if c.SoftDelete {
			if t.softDelete != nil {
				return nil, errs.Schema(name, c.Name, "more than one soft-delete column")
			}
			if !c.Type.Kind.IsTemporal() || !c.Type.Nullable {
				return nil, errs.Schema(name, c.Name, "soft-delete column must be a nullable timestamp")
			}
			t.softDelete = c
		}
		if (c.CreateTime || c.UpdateTime) && !c.Type.Kind.IsTemporal() {
			return nil, errs.Schema(name, c.Name, "create_time/update_time require a temporal column")
		}
	}

	if pkCount != 1 {
		return nil, errs.Schema(name, "", "expected exactly one primary key column, found %d", pkCount)
	}

	return t, nil
}

// FromStruct derives a Table from a struct type using `db` tags.
func FromStruct(model any) (*Table, error) {
	typ := reflect.TypeOf(model)
	if typ == nil {
		return nil, errs.Schema("", "", "nil model")
	}
	for typ.Kind() == reflect.Ptr {
		typ = typ.Elem()
	}
	if typ.Kind() != reflect.Struct {
		return nil, errs.Schema(typ.String(), "", "model must be a struct, got %s", typ.Kind())
	}

	name := TableName(reflect.New(typ).Interface())
	columns := make([]*Column, 0, typ.NumField())

	for i := 0; i < typ.NumField(); i++ {
		f := typ.Field(i)
		if !f.IsExported() {
			continue
		}

		tag, err := util.ParseTag(f.Name, f.Tag.Get("db"))
		if err != nil {
			return nil, errs.Schema(name, f.Name, "%v", err)
		}
		if tag.Skip {
			continue
		}

		lt, ok := TypeOf(f.Type, tag.Type)
		if !ok {
			return nil, errs.Schema(name, tag.Column, "unsupported field type %s", f.Type)
		}

		col := &Column{
			Name:       tag.Column,
			Field:      f.Name,
			Index:      f.Index,
			Type:       lt,
			Size:       tag.Size,
			PrimaryKey: tag.PrimaryKey,
			Auto:       tag.Auto,
			Unique:     tag.Unique,
			Indexed:    tag.Index,
			CreateTime: tag.CreateTime,
			UpdateTime: tag.UpdateTime,
			SoftDelete: tag.SoftDelete,
			Omit:       tag.Omit,
			GoType:     f.Type,
		}
		if tag.ForeignKey != "" {
			ref, refCol, _ := strings.Cut(tag.ForeignKey, ".")
			col.ForeignKey = &ForeignKey{Table: ref, Column: refCol}
		}
		columns = append(columns, col)
	}

	return NewTable(name, typ, columns)
}
