// Package binder converts Go values to driver parameters and raw driver values
// back to Go fields, following each column's logical type and the dialect's
// wire conventions. Temporal, UUID and JSON values travel as text everywhere so
// that generic drivers decode them the same way.
package binder

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"reflect"
	"time"

	"github.com/google/uuid"

	"github.com/coregx/ormica/internal/dialects"
	"github.com/coregx/ormica/internal/errs"
	"github.com/coregx/ormica/internal/schema"
)

var errOutOfRange = errors.New("value out of range")

// Bind converts value to the parameter passed to the driver for col.
// A nil value (or nil pointer) binds as NULL.
func Bind(d dialects.Dialect, col *schema.Column, value any) (any, error) {
	return BindType(d, col.Type, col.Table, col.Name, value)
}

// BindType is Bind for an explicit logical type, used for values that are not
// tied to a registered column.
func BindType(d dialects.Dialect, t schema.LogicalType, table, column string, value any) (any, error) {
	rv, ok := indirect(value)
	if !ok {
		return nil, nil
	}

	conv := func(err error) error {
		return &errs.ConversionError{Column: column, Dialect: d.Name(), Value: value, Err: err}
	}
	mismatch := func() error {
		return errs.TypeMismatch(table, column, t.Kind.String(), value)
	}

	switch t.Kind {
	case schema.Integer32, schema.Integer64:
		n, err := toInt64(rv)
		if err != nil {
			if errors.Is(err, errOutOfRange) {
				return nil, conv(err)
			}
			return nil, mismatch()
		}
		if t.Kind == schema.Integer32 && (n < math.MinInt32 || n > math.MaxInt32) {
			return nil, conv(fmt.Errorf("%d does not fit a 32-bit integer column", n))
		}
		return n, nil

	case schema.Text:
		if rv.Kind() != reflect.String {
			return nil, mismatch()
		}
		return rv.String(), nil

	case schema.Boolean:
		if rv.Kind() != reflect.Bool {
			return nil, mismatch()
		}
		return rv.Bool(), nil

	case schema.Float64:
		switch rv.Kind() {
		case reflect.Float32, reflect.Float64:
			return rv.Float(), nil
		}
		n, err := toInt64(rv)
		if err != nil {
			return nil, mismatch()
		}
		return float64(n), nil

	case schema.Timestamp, schema.TimestampTZ, schema.Date, schema.Time:
		var ts time.Time
		switch v := rv.Interface().(type) {
		case time.Time:
			ts = v
		case string:
			parsed, err := ParseTemporal(v)
			if err != nil {
				return nil, conv(err)
			}
			ts = parsed
		default:
			return nil, mismatch()
		}
		return FormatTemporal(d, t.Kind, ts), nil

	case schema.UUID:
		switch v := rv.Interface().(type) {
		case uuid.UUID:
			return v.String(), nil
		case [16]byte:
			return uuid.UUID(v).String(), nil
		case string:
			id, err := uuid.Parse(v)
			if err != nil {
				return nil, conv(err)
			}
			return id.String(), nil
		}
		return nil, mismatch()

	case schema.JSON:
		switch v := rv.Interface().(type) {
		case json.RawMessage:
			return validJSON(v, conv)
		case []byte:
			return validJSON(v, conv)
		case string:
			return validJSON([]byte(v), conv)
		}
		b, err := json.Marshal(rv.Interface())
		if err != nil {
			return nil, conv(err)
		}
		return string(b), nil
	}

	return nil, mismatch()
}

// FormatTemporal renders ts in the dialect's layout. Instants are normalised
// to UTC; naive variants are formatted as given.
func FormatTemporal(d dialects.Dialect, k schema.Kind, ts time.Time) string {
	if k == schema.TimestampTZ {
		ts = ts.UTC()
	}
	return ts.Format(d.TimeLayout(k))
}

// Infer returns the logical type for an arbitrary Go value, used to bind
// HAVING and raw parameters.
func Infer(value any) (schema.LogicalType, bool) {
	rv, ok := indirect(value)
	if !ok {
		return schema.LogicalType{Nullable: true}, false
	}
	return schema.TypeOf(rv.Type(), "")
}

func validJSON(b []byte, conv func(error) error) (any, error) {
	if !json.Valid(b) {
		return nil, conv(errors.New("invalid JSON text"))
	}
	return string(b), nil
}

// indirect dereferences pointers; ok is false for nil.
func indirect(value any) (reflect.Value, bool) {
	if value == nil {
		return reflect.Value{}, false
	}
	rv := reflect.ValueOf(value)
	for rv.Kind() == reflect.Ptr {
		if rv.IsNil() {
			return reflect.Value{}, false
		}
		rv = rv.Elem()
	}
	return rv, true
}

func toInt64(rv reflect.Value) (int64, error) {
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int(), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		u := rv.Uint()
		if u > math.MaxInt64 {
			return 0, fmt.Errorf("%w: %d exceeds a 64-bit signed integer", errOutOfRange, u)
		}
		return int64(u), nil
	}
	return 0, fmt.Errorf("not an integer: %s", rv.Kind())
}
