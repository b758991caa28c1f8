package core

import (
	"database/sql"
	"reflect"

	"github.com/coregx/ormica/internal/binder"
	"github.com/coregx/ormica/internal/errs"
)

// Count returns the number of matching rows. With GroupBy it counts groups;
// with Distinct it counts distinct projected rows.
func (q *ModelQuery) Count() (int64, error) {
	if q.err != nil {
		return 0, q.err
	}
	var n int64
	err := q.scanAggregate(q.compileAggregate("COUNT", nil), func(raw any) error {
		return binder.DecodeScalar(q.db.dialect, "count", raw, reflect.ValueOf(&n).Elem())
	})
	return n, err
}

// Sum computes SUM(column) into dest. dest is a pointer to a number, or a
// pointer to a slice of numbers to receive one value per group. An empty
// input decodes as zero, or nil for pointer destinations.
func (q *ModelQuery) Sum(column string, dest any) error {
	return q.aggregate("SUM", column, dest, false)
}

// Avg computes AVG(column) into dest. See Sum for destinations.
func (q *ModelQuery) Avg(column string, dest any) error {
	return q.aggregate("AVG", column, dest, false)
}

// Min computes MIN(column) into dest, decoded with the column's own type.
func (q *ModelQuery) Min(column string, dest any) error {
	return q.aggregate("MIN", column, dest, true)
}

// Max computes MAX(column) into dest, decoded with the column's own type.
func (q *ModelQuery) Max(column string, dest any) error {
	return q.aggregate("MAX", column, dest, true)
}

func (q *ModelQuery) aggregate(fn, column string, dest any, typed bool) error {
	if q.err != nil {
		return q.err
	}
	col, err := q.resolve(column)
	if err != nil {
		return err
	}

	dv := reflect.ValueOf(dest)
	if dv.Kind() != reflect.Ptr || dv.IsNil() {
		return errs.Invalid("%s destination must be a non-nil pointer, got %T", fn, dest)
	}
	dv = dv.Elem()

	// MIN/MAX of an empty set is NULL even for NOT NULL columns
	t := col.Type
	t.Nullable = true
	decode := func(raw any, dst reflect.Value) error {
		if typed {
			return binder.DecodeType(q.db.dialect, t, col.Name, raw, dst)
		}
		return binder.DecodeScalar(q.db.dialect, col.Name, raw, dst)
	}

	st := q.compileAggregate(fn, col)
	if dv.Kind() == reflect.Slice && dv.Type().Elem().Kind() != reflect.Uint8 {
		dv.Set(reflect.MakeSlice(dv.Type(), 0, 0))
		return q.scanAggregate(st, func(raw any) error {
			elem := reflect.New(dv.Type().Elem()).Elem()
			if err := decode(raw, elem); err != nil {
				return err
			}
			dv.Set(reflect.Append(dv, elem))
			return nil
		})
	}

	first := true
	return q.scanAggregate(st, func(raw any) error {
		if !first {
			return nil
		}
		first = false
		return decode(raw, dv)
	})
}

// scanAggregate runs a single-column query and passes each raw value to fn.
func (q *ModelQuery) scanAggregate(st *statement, fn func(raw any) error) error {
	return q.db.query(q.ctx, q.tx, st, func(rows *sql.Rows) error {
		for rows.Next() {
			var raw any
			if err := rows.Scan(&raw); err != nil {
				return &errs.ConversionError{Dialect: q.db.dialect.Name(), Err: err}
			}
			if err := fn(raw); err != nil {
				return err
			}
		}
		return nil
	})
}
