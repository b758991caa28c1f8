package core

import (
	"database/sql"
	"reflect"
	"time"

	"github.com/coregx/ormica/internal/binder"
	"github.com/coregx/ormica/internal/errs"
	"github.com/coregx/ormica/internal/schema"
	"github.com/coregx/ormica/internal/util"
)

var timeType = reflect.TypeOf(time.Time{})

// now is the instant written to create_time, update_time and soft-delete
// columns, truncated to what every dialect stores.
func now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}

// recordValue returns the settable struct behind record, which must be a
// pointer to the base table's type.
func (q *ModelQuery) recordValue(record any) (reflect.Value, error) {
	v := reflect.ValueOf(record)
	if v.Kind() != reflect.Ptr || v.IsNil() {
		return reflect.Value{}, errs.Invalid("record must be a non-nil pointer, got %T", record)
	}
	v = v.Elem()
	if v.Type() != q.table.Type {
		return reflect.Value{}, errs.TypeMismatch(q.table.Name, "", q.table.Type.String(), record)
	}
	return v, nil
}

// isZero reports whether a field holds its zero value; nil pointers count.
func isZero(field reflect.Value) bool {
	if field.Kind() == reflect.Ptr {
		return field.IsNil() || field.Elem().IsZero()
	}
	return field.IsZero()
}

// setTime stores ts into a temporal field of c: time.Time, *time.Time, or
// the string forms in the dialect's layout.
func (q *ModelQuery) setTime(field reflect.Value, c *schema.Column, ts time.Time) {
	switch {
	case field.Type() == timeType:
		field.Set(reflect.ValueOf(ts))
	case field.Kind() == reflect.Ptr && field.Type().Elem() == timeType:
		field.Set(reflect.ValueOf(&ts))
	case field.Kind() == reflect.String:
		field.SetString(binder.FormatTemporal(q.db.dialect, c.Type.Kind, ts))
	case field.Kind() == reflect.Ptr && field.Type().Elem().Kind() == reflect.String:
		s := binder.FormatTemporal(q.db.dialect, c.Type.Kind, ts)
		p := reflect.New(field.Type().Elem())
		p.Elem().SetString(s)
		field.Set(p)
	}
}

// insertColumns returns the columns an INSERT writes. The auto key is left
// out when omitAuto is set so the database generates it.
func (q *ModelQuery) insertColumns(omitAuto bool) []*schema.Column {
	var cols []*schema.Column
	for _, c := range q.table.Columns {
		if c.Omit || (c.Auto && omitAuto) {
			continue
		}
		cols = append(cols, c)
	}
	return cols
}

// prepareRow fills unset create/update times and binds the row's values.
func (q *ModelQuery) prepareRow(v reflect.Value, cols []*schema.Column, ts time.Time) ([]any, error) {
	row := make([]any, len(cols))
	for i, c := range cols {
		field := v.FieldByIndex(c.Index)
		if (c.CreateTime || c.UpdateTime) && isZero(field) {
			q.setTime(field, c, ts)
		}
		bound, err := binder.Bind(q.db.dialect, c, field.Interface())
		if err != nil {
			return nil, err
		}
		row[i] = bound
	}
	return row, nil
}

// Insert writes record, a pointer to a record of the query's table. Unset
// create_time and update_time fields are set to the current instant. A zero
// auto primary key is generated by the database and stored back into record.
func (q *ModelQuery) Insert(record any) error {
	if q.err != nil {
		return q.err
	}
	v, err := q.recordValue(record)
	if err != nil {
		return err
	}

	pk := q.table.PrimaryKey()
	generate := pk.Auto && util.IsPrimaryKeyZero(v.FieldByIndex(pk.Index))
	cols := q.insertColumns(generate)
	row, err := q.prepareRow(v, cols, now())
	if err != nil {
		return err
	}

	if !generate {
		_, err := q.db.exec(q.ctx, q.tx, q.compileInsert(cols, [][]any{row}, nil))
		return err
	}
	ids, err := q.insertReturning(cols, [][]any{row}, pk)
	if err != nil {
		return err
	}
	return q.storeKey(v, pk, ids[0])
}

// InsertMany writes records (a slice of records or record pointers) in one
// statement. Generated keys are stored back on dialects with RETURNING;
// elsewhere only the rows are written. Records must either all carry an
// explicit auto key or all leave it zero.
func (q *ModelQuery) InsertMany(records any) error {
	if q.err != nil {
		return q.err
	}
	rv := reflect.ValueOf(records)
	if rv.Kind() != reflect.Slice {
		return errs.Invalid("InsertMany requires a slice, got %T", records)
	}
	if rv.Len() == 0 {
		return nil
	}

	values := make([]reflect.Value, rv.Len())
	for i := range values {
		e := rv.Index(i)
		if e.Kind() == reflect.Ptr {
			if e.IsNil() {
				return errs.Invalid("InsertMany: record %d is nil", i)
			}
			e = e.Elem()
		} else {
			// copy so generated fields land in an addressable value
			cp := reflect.New(e.Type()).Elem()
			cp.Set(e)
			e = cp
		}
		if e.Type() != q.table.Type {
			return errs.TypeMismatch(q.table.Name, "", q.table.Type.String(), e.Interface())
		}
		values[i] = e
	}

	pk := q.table.PrimaryKey()
	generate := false
	if pk.Auto {
		zeros := 0
		for _, v := range values {
			if util.IsPrimaryKeyZero(v.FieldByIndex(pk.Index)) {
				zeros++
			}
		}
		if zeros != 0 && zeros != len(values) {
			return errs.Invalid("InsertMany: records mix generated and explicit %q values", pk.Name)
		}
		generate = zeros > 0
	}

	cols := q.insertColumns(generate)
	ts := now()
	rows := make([][]any, len(values))
	for i, v := range values {
		row, err := q.prepareRow(v, cols, ts)
		if err != nil {
			return err
		}
		rows[i] = row
	}

	if !generate || !q.db.dialect.Capabilities().Returning {
		_, err := q.db.exec(q.ctx, q.tx, q.compileInsert(cols, rows, nil))
		return err
	}
	ids, err := q.insertReturning(cols, rows, pk)
	if err != nil {
		return err
	}
	if rv.Index(0).Kind() != reflect.Ptr {
		return nil
	}
	for i, v := range values {
		if i < len(ids) {
			if err := q.storeKey(v, pk, ids[i]); err != nil {
				return err
			}
		}
	}
	return nil
}

// insertReturning runs the INSERT and returns the generated keys, through
// RETURNING where available and LastInsertId otherwise.
func (q *ModelQuery) insertReturning(cols []*schema.Column, rows [][]any, pk *schema.Column) ([]int64, error) {
	if !q.db.dialect.Capabilities().Returning {
		res, err := q.db.exec(q.ctx, q.tx, q.compileInsert(cols, rows, nil))
		if err != nil {
			return nil, err
		}
		id, err := res.LastInsertId()
		if err != nil {
			return nil, &errs.ExecutionError{Op: "last insert id", Err: err}
		}
		return []int64{id}, nil
	}

	var ids []int64
	st := q.compileInsert(cols, rows, pk)
	err := q.db.query(q.ctx, q.tx, st, func(r *sql.Rows) error {
		for r.Next() {
			var id int64
			if err := r.Scan(&id); err != nil {
				return err
			}
			ids = append(ids, id)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, &errs.ExecutionError{Op: "insert", SQL: st.sql, Err: sql.ErrNoRows}
	}
	return ids, nil
}

func (q *ModelQuery) storeKey(v reflect.Value, pk *schema.Column, id int64) error {
	if err := util.SetPrimaryKeyValue(v.FieldByIndex(pk.Index), id); err != nil {
		return &errs.ConversionError{Column: pk.Name, Dialect: q.db.dialect.Name(), Value: id, Err: err}
	}
	return nil
}

// updateTimes returns assignments for update_time columns not already set.
func (q *ModelQuery) updateTimes(sets []assignment, ts time.Time) ([]assignment, error) {
	for _, c := range q.table.Columns {
		if !c.UpdateTime {
			continue
		}
		explicit := false
		for _, s := range sets {
			if s.col == c {
				explicit = true
				break
			}
		}
		if explicit {
			continue
		}
		v, err := binder.Bind(q.db.dialect, c, ts)
		if err != nil {
			return nil, err
		}
		sets = append(sets, assignment{col: c, value: v})
	}
	return sets, nil
}

func (q *ModelQuery) runUpdate(op string, sets []assignment, softDelete bool) (int64, error) {
	if err := q.checkWritable(op); err != nil {
		return 0, err
	}
	if len(sets) == 0 {
		return 0, errs.Invalid("%s has no columns to set", op)
	}
	res, err := q.db.exec(q.ctx, q.tx, q.compileUpdate(sets, softDelete))
	if err != nil {
		return 0, err
	}
	return rowsAffected(res)
}

func rowsAffected(res sql.Result) (int64, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return 0, &errs.ExecutionError{Op: "rows affected", Err: err}
	}
	return n, nil
}

func (q *ModelQuery) assign(c *schema.Column, value any) (assignment, error) {
	if c.PrimaryKey {
		return assignment{}, errs.Invalid("primary key %q cannot be updated", c.Name)
	}
	v, err := binder.Bind(q.db.dialect, c, value)
	if err != nil {
		return assignment{}, err
	}
	return assignment{col: c, value: v}, nil
}

// Update sets one column on every matching row and returns the number of
// rows changed. update_time columns are refreshed.
func (q *ModelQuery) Update(column string, value any) (int64, error) {
	if q.err != nil {
		return 0, q.err
	}
	c, ok := q.table.Column(column)
	if !ok {
		return 0, errs.UnknownColumn(q.table.Name, column)
	}
	s, err := q.assign(c, value)
	if err != nil {
		return 0, err
	}
	sets, err := q.updateTimes([]assignment{s}, now())
	if err != nil {
		return 0, err
	}
	return q.runUpdate("Update", sets, true)
}

// Updates writes every column of record except the primary key, create_time
// and soft-delete columns to the matching rows. update_time columns are set
// to the current instant, in the database and in record.
func (q *ModelQuery) Updates(record any) (int64, error) {
	if q.err != nil {
		return 0, q.err
	}
	v, err := q.recordValue(record)
	if err != nil {
		return 0, err
	}

	ts := now()
	var sets []assignment
	for _, c := range q.table.Columns {
		if c.PrimaryKey || c.CreateTime || c.SoftDelete || c.Omit {
			continue
		}
		field := v.FieldByIndex(c.Index)
		if c.UpdateTime {
			q.setTime(field, c, ts)
		}
		s, err := q.assign(c, field.Interface())
		if err != nil {
			return 0, err
		}
		sets = append(sets, s)
	}
	return q.runUpdate("Updates", sets, true)
}

// UpdatePartial sets a subset of columns from a map keyed by column name or
// from a struct with db tags. Keys are applied in sorted order.
func (q *ModelQuery) UpdatePartial(partial any) (int64, error) {
	if q.err != nil {
		return 0, q.err
	}

	var values map[string]any
	switch p := partial.(type) {
	case map[string]any:
		values = p
	default:
		m, err := util.StructToMap(partial)
		if err != nil {
			return 0, errs.Invalid("UpdatePartial: %v", err)
		}
		values = m
	}

	var sets []assignment
	for _, name := range util.SortedKeys(values) {
		c, ok := q.table.Column(name)
		if !ok {
			return 0, errs.UnknownColumn(q.table.Name, name)
		}
		s, err := q.assign(c, values[name])
		if err != nil {
			return 0, err
		}
		sets = append(sets, s)
	}
	sets, err := q.updateTimes(sets, now())
	if err != nil {
		return 0, err
	}
	return q.runUpdate("UpdatePartial", sets, true)
}

// Delete removes the matching rows. On tables with a soft-delete column it
// sets that column to the current instant instead; use HardDelete to remove
// such rows physically.
func (q *ModelQuery) Delete() (int64, error) {
	if q.err != nil {
		return 0, q.err
	}
	sd := q.table.SoftDelete()
	if sd == nil {
		return q.HardDelete()
	}
	v, err := binder.Bind(q.db.dialect, sd, now())
	if err != nil {
		return 0, err
	}
	return q.runUpdate("Delete", []assignment{{col: sd, value: v}}, true)
}

// HardDelete issues DELETE for the matching rows regardless of any
// soft-delete column. Soft-deleted rows only match after WithDeleted.
func (q *ModelQuery) HardDelete() (int64, error) {
	if err := q.checkWritable("HardDelete"); err != nil {
		return 0, err
	}
	res, err := q.db.exec(q.ctx, q.tx, q.compileDelete())
	if err != nil {
		return 0, err
	}
	return rowsAffected(res)
}

// Restore clears the soft-delete marker of the matching rows.
func (q *ModelQuery) Restore() (int64, error) {
	if q.err != nil {
		return 0, q.err
	}
	sd := q.table.SoftDelete()
	if sd == nil {
		return 0, errs.Invalid("table %q has no soft-delete column", q.table.Name)
	}
	return q.runUpdate("Restore", []assignment{{col: sd}}, false)
}
