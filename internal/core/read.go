package core

import (
	"database/sql"
	"reflect"

	"github.com/coregx/ormica/internal/binder"
	"github.com/coregx/ormica/internal/errs"
	"github.com/coregx/ormica/internal/schema"
)

// destTables maps each destination to the base or a joined table by its
// element type.
func (q *ModelQuery) destTables(types []reflect.Type) ([]*schema.Table, error) {
	available := q.tables()
	out := make([]*schema.Table, len(types))
	for i, typ := range types {
		t, err := q.db.registry.LookupType(typ)
		if err != nil {
			return nil, err
		}
		found := false
		for _, a := range available {
			if a == t {
				found = true
				break
			}
		}
		if !found {
			return nil, errs.Invalid("table %q is not part of the query", t.Name)
		}
		for _, prev := range out[:i] {
			if prev == t {
				return nil, errs.Invalid("table %q appears twice in the destination", t.Name)
			}
		}
		out[i] = t
	}
	return out, nil
}

// First loads the first matching row into dest, a pointer to a record. With
// several destinations (one per joined table) each receives its part of the
// row. A struct that is not a registered model is filled as a projection:
// its `db` tags name the columns to select, or match the Select list. Without an explicit order the primary key of the base table is used.
// It returns a NotFoundError when nothing matches.
func (q *ModelQuery) First(dests ...any) error {
	if q.err != nil {
		return q.err
	}
	if len(dests) == 0 {
		return errs.Invalid("First requires a destination")
	}

	values := make([]reflect.Value, len(dests))
	types := make([]reflect.Type, len(dests))
	for i, d := range dests {
		v, err := structDest(d)
		if err != nil {
			return err
		}
		values[i], types[i] = v, v.Type()
	}
	plan, err := q.plan(types)
	if err != nil {
		return err
	}

	c := q.clone()
	one := int64(1)
	c.limit = &one
	order := c.order
	if len(order) == 0 {
		order = []orderItem{{col: q.table.PrimaryKey()}}
	}
	st := c.compileProjection(plan.projs, order)

	found := false
	err = q.db.query(q.ctx, q.tx, st, func(rows *sql.Rows) error {
		if !rows.Next() {
			return nil
		}
		found = true
		s, err := plan.scanner(q.db.dialect, rows)
		if err != nil {
			return err
		}
		return s.scanRow(rows, values)
	})
	if err != nil {
		return err
	}
	if !found {
		return &errs.NotFoundError{Table: q.table.Name}
	}
	return nil
}

// Scalar loads the single selected column of the first matching row into
// dest, decoded with that column's type. It requires exactly one Select
// column and returns a NotFoundError when nothing matches.
//
//	var email string
//	err := db.Model(&Account{}).Select("email").Where("id", 7).Scalar(&email)
func (q *ModelQuery) Scalar(dest any) error {
	if q.err != nil {
		return q.err
	}
	if len(q.selected) != 1 {
		return errs.Invalid("Scalar requires exactly one selected column, got %d", len(q.selected))
	}
	dv := reflect.ValueOf(dest)
	if dv.Kind() != reflect.Ptr || dv.IsNil() {
		return errs.Invalid("Scalar destination must be a non-nil pointer, got %T", dest)
	}

	col := q.selected[0]
	c := q.clone()
	one := int64(1)
	c.limit = &one
	st := c.compileProjection([]projection{{col: col}}, c.order)

	found := false
	err := c.scanAggregate(st, func(raw any) error {
		if found {
			return nil
		}
		found = true
		return binder.DecodeType(q.db.dialect, col.Type, col.Name, raw, dv.Elem())
	})
	if err != nil {
		return err
	}
	if !found {
		return &errs.NotFoundError{Table: q.table.Name}
	}
	return nil
}

// Scan loads every matching row. Each destination is a pointer to a slice of
// records; with several destinations (one per joined table) the slices are
// filled in parallel, element i of each coming from row i. A slice of an
// unregistered struct is filled as a projection, as in First. The result is
// fully materialised.
func (q *ModelQuery) Scan(dests ...any) error {
	if q.err != nil {
		return q.err
	}
	if len(dests) == 0 {
		return errs.Invalid("Scan requires a destination")
	}

	slices := make([]*sliceDest, len(dests))
	types := make([]reflect.Type, len(dests))
	for i, d := range dests {
		s, err := newSliceDest(d)
		if err != nil {
			return err
		}
		slices[i], types[i] = s, s.elem
	}
	plan, err := q.plan(types)
	if err != nil {
		return err
	}

	st := q.compileProjection(plan.projs, q.order)
	for _, s := range slices {
		s.reset()
	}
	return q.db.query(q.ctx, q.tx, st, func(rows *sql.Rows) error {
		scanner, err := plan.scanner(q.db.dialect, rows)
		if err != nil {
			return err
		}
		values := make([]reflect.Value, len(slices))
		for rows.Next() {
			for i, s := range slices {
				values[i] = s.next()
			}
			if err := scanner.scanRow(rows, values); err != nil {
				return err
			}
			for i, s := range slices {
				s.append(values[i])
			}
		}
		return nil
	})
}
