package core

import (
	"database/sql"
	"fmt"
	"reflect"
	"strings"

	"github.com/coregx/ormica/internal/binder"
	"github.com/coregx/ormica/internal/dialects"
	"github.com/coregx/ormica/internal/errs"
	"github.com/coregx/ormica/internal/schema"
)

// tupleSep separates table and column in tuple-mode aliases: user__id.
const tupleSep = "__"

// fieldRef locates the destination of one result column. Record fields carry
// their column; projection fields carry the logical type to decode with.
type fieldRef struct {
	elem  int // tuple element
	col   *schema.Column
	index []int
	typ   schema.LogicalType
	name  string
}

// recordScanner decodes rows into records of one or more registered tables,
// or into a projection struct. With a single table, result columns are
// matched by name; with several, by their table__column alias.
type recordScanner struct {
	dialect dialects.Dialect
	tables  []*schema.Table
	refs    []*fieldRef // per result column; nil entries are skipped
}

func newRecordScanner(d dialects.Dialect, rows *sql.Rows, tables []*schema.Table) (*recordScanner, error) {
	names, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	s := &recordScanner{dialect: d, tables: tables, refs: make([]*fieldRef, len(names))}
	for i, name := range names {
		if len(tables) == 1 {
			if c, ok := tables[0].Column(name); ok {
				s.refs[i] = &fieldRef{col: c}
			}
			continue
		}
		table, column, ok := strings.Cut(name, tupleSep)
		if !ok {
			continue
		}
		for e, t := range tables {
			if t.Name != table {
				continue
			}
			if c, ok := t.Column(column); ok {
				s.refs[i] = &fieldRef{elem: e, col: c}
			}
			break
		}
	}
	return s, nil
}

// scanRow decodes the current row into dests, one settable struct per table.
func (s *recordScanner) scanRow(rows *sql.Rows, dests []reflect.Value) error {
	raw := make([]any, len(s.refs))
	ptrs := make([]any, len(s.refs))
	for i := range raw {
		ptrs[i] = &raw[i]
	}
	if err := rows.Scan(ptrs...); err != nil {
		return err
	}

	for i, ref := range s.refs {
		if ref == nil {
			continue
		}
		if ref.col == nil {
			field := dests[ref.elem].FieldByIndex(ref.index)
			if err := binder.DecodeType(s.dialect, ref.typ, ref.name, raw[i], field); err != nil {
				return err
			}
			continue
		}
		field := dests[ref.elem].FieldByIndex(ref.col.Index)
		if err := binder.Decode(s.dialect, ref.col, raw[i], field); err != nil {
			return err
		}
	}
	return nil
}

// sliceDest is a *[]T or *[]*T destination for a record or projection type.
type sliceDest struct {
	slice reflect.Value
	elem  reflect.Type
	ptr   bool
}

func newSliceDest(dest any) (*sliceDest, error) {
	v := reflect.ValueOf(dest)
	if v.Kind() != reflect.Ptr || v.IsNil() || v.Elem().Kind() != reflect.Slice {
		return nil, errs.Invalid("destination must be a non-nil pointer to a slice, got %T", dest)
	}
	slice := v.Elem()
	elem := slice.Type().Elem()
	ptr := elem.Kind() == reflect.Ptr
	if ptr {
		elem = elem.Elem()
	}
	if elem.Kind() != reflect.Struct {
		return nil, errs.Invalid("slice element must be a struct or struct pointer, got %s", elem)
	}
	return &sliceDest{slice: slice, elem: elem, ptr: ptr}, nil
}

// next allocates a new element and returns the struct value to decode into.
func (d *sliceDest) next() reflect.Value {
	return reflect.New(d.elem).Elem()
}

func (d *sliceDest) append(v reflect.Value) {
	if d.ptr {
		v = v.Addr()
	}
	d.slice.Set(reflect.Append(d.slice, v))
}

func (d *sliceDest) reset() {
	d.slice.Set(reflect.MakeSlice(d.slice.Type(), 0, 0))
}

// structDest returns the settable struct behind a *T destination.
func structDest(dest any) (reflect.Value, error) {
	v := reflect.ValueOf(dest)
	if v.Kind() != reflect.Ptr || v.IsNil() || v.Elem().Kind() != reflect.Struct {
		return reflect.Value{}, errs.Invalid("destination must be a non-nil pointer to a struct, got %T", dest)
	}
	return v.Elem(), nil
}

// scanMapRows reads every row as column name -> nullable text.
func scanMapRows(rows *sql.Rows) ([]NullStringMap, error) {
	columns, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("scanner: failed to get columns: %w", err)
	}

	var out []NullStringMap
	for rows.Next() {
		values := make([]sql.NullString, len(columns))
		dests := make([]any, len(columns))
		for i := range values {
			dests[i] = &values[i]
		}
		if err := rows.Scan(dests...); err != nil {
			return nil, fmt.Errorf("scanner: scan failed: %w", err)
		}

		m := make(NullStringMap, len(columns))
		for i, col := range columns {
			m[col] = values[i]
		}
		out = append(out, m)
	}
	return out, nil
}
