package core

import (
	"database/sql"
	"errors"
	"reflect"
	"sync"

	"github.com/coregx/ormica/internal/dialects"
	"github.com/coregx/ormica/internal/errs"
	"github.com/coregx/ormica/internal/schema"
	"github.com/coregx/ormica/internal/util"
)

// dtoField is one tagged field of an unregistered destination struct.
type dtoField struct {
	column string
	index  []int
	goType reflect.Type
	hint   string // type= tag option
}

// dtoShape describes a projection struct: any struct that is not a
// registered model, decoded by matching `db` tags against result columns.
type dtoShape struct {
	typ    reflect.Type
	fields []*dtoField
	byName map[string]*dtoField
}

var dtoShapes sync.Map // reflect.Type -> *dtoShape

func dtoShapeOf(typ reflect.Type) (*dtoShape, error) {
	if s, ok := dtoShapes.Load(typ); ok {
		return s.(*dtoShape), nil
	}

	s := &dtoShape{typ: typ, byName: make(map[string]*dtoField)}
	for i := 0; i < typ.NumField(); i++ {
		f := typ.Field(i)
		if !f.IsExported() {
			continue
		}
		tag, err := util.ParseTag(f.Name, f.Tag.Get("db"))
		if err != nil {
			return nil, errs.Invalid("projection %s: %v", typ, err)
		}
		if tag.Skip {
			continue
		}
		if _, dup := s.byName[tag.Column]; dup {
			return nil, errs.Invalid("projection %s maps column %q twice", typ, tag.Column)
		}
		df := &dtoField{column: tag.Column, index: f.Index, goType: f.Type, hint: tag.Type}
		s.fields = append(s.fields, df)
		s.byName[tag.Column] = df
	}
	if len(s.fields) == 0 {
		return nil, errs.Invalid("projection %s has no db fields", typ)
	}

	actual, _ := dtoShapes.LoadOrStore(typ, s)
	return actual.(*dtoShape), nil
}

// logicalType is the type a field decodes with when no projected column
// backs it, as in raw queries.
func (f *dtoField) logicalType() (schema.LogicalType, error) {
	t, ok := schema.TypeOf(f.goType, f.hint)
	if !ok {
		return t, errs.Invalid("unsupported projection field type %s for column %q", f.goType, f.column)
	}
	return t, nil
}

// newDTOScanner matches result columns to the fields of s by name. columns
// maps a result label to the column it was projected from; labels absent
// from it decode by the field's Go type. Result columns without a field are
// skipped.
func newDTOScanner(d dialects.Dialect, rows *sql.Rows, s *dtoShape, columns map[string]*schema.Column) (*recordScanner, error) {
	names, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	sc := &recordScanner{dialect: d, refs: make([]*fieldRef, len(names))}
	for i, name := range names {
		f, ok := s.byName[name]
		if !ok {
			continue
		}
		ref := &fieldRef{index: f.index, name: name}
		if c, ok := columns[name]; ok {
			ref.typ = c.Type
		} else if ref.typ, err = f.logicalType(); err != nil {
			return nil, err
		}
		sc.refs[i] = ref
	}
	return sc, nil
}

// readPlan is how a SELECT decodes: into registered tables, or into a
// single projection struct.
type readPlan struct {
	tables []*schema.Table
	dto    *dtoShape
	projs  []projection
}

func (p *readPlan) scanner(d dialects.Dialect, rows *sql.Rows) (*recordScanner, error) {
	if p.dto == nil {
		return newRecordScanner(d, rows, p.tables)
	}
	columns := make(map[string]*schema.Column, len(p.projs))
	for _, pr := range p.projs {
		columns[pr.label()] = pr.col
	}
	return newDTOScanner(d, rows, p.dto, columns)
}

// label is the name the column carries in the result set.
func (p projection) label() string {
	if p.alias != "" {
		return p.alias
	}
	return p.col.Name
}

// dtoPlan projects the query into typ. Explicitly selected columns are used
// as they are; otherwise each field's column is resolved against the query,
// qualified names such as account.email reaching joined tables.
func (q *ModelQuery) dtoPlan(typ reflect.Type) (*readPlan, error) {
	shape, err := dtoShapeOf(typ)
	if err != nil {
		return nil, err
	}

	var projs []projection
	if len(q.selected) > 0 {
		for _, c := range q.selected {
			p := projection{col: c}
			if len(q.joins) > 0 {
				p.alias = c.Name
			}
			projs = append(projs, p)
		}
	} else {
		for _, f := range shape.fields {
			c, err := q.resolve(f.column)
			if err != nil {
				return nil, err
			}
			p := projection{col: c}
			if len(q.joins) > 0 || f.column != c.Name {
				p.alias = f.column
			}
			projs = append(projs, p)
		}
	}

	seen := make(map[string]bool, len(projs))
	for _, p := range projs {
		if seen[p.label()] {
			return nil, errs.Invalid("column %q is projected twice into %s", p.label(), typ)
		}
		seen[p.label()] = true
	}
	return &readPlan{dto: shape, projs: projs}, nil
}

// plan resolves the destinations of First or Scan. A single struct that
// is not a registered model is decoded as a projection.
func (q *ModelQuery) plan(types []reflect.Type) (*readPlan, error) {
	if len(types) == 1 {
		if _, err := q.db.registry.LookupType(types[0]); errors.Is(err, errs.ErrUnknownModel) {
			return q.dtoPlan(types[0])
		}
	}
	tables, err := q.destTables(types)
	if err != nil {
		return nil, err
	}
	return &readPlan{tables: tables, projs: q.projections(tables)}, nil
}

// rawPlan is plan for a raw statement, whose columns are not known
// until it runs.
func (db *DB) rawPlan(typ reflect.Type) (*readPlan, string, error) {
	t, err := db.registry.LookupType(typ)
	switch {
	case err == nil:
		return &readPlan{tables: []*schema.Table{t}}, t.Name, nil
	case !errors.Is(err, errs.ErrUnknownModel):
		return nil, "", err
	}
	shape, err := dtoShapeOf(typ)
	if err != nil {
		return nil, "", err
	}
	return &readPlan{dto: shape}, "", nil
}
