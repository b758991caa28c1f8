package binder

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/coregx/ormica/internal/dialects"
	"github.com/coregx/ormica/internal/errs"
	"github.com/coregx/ormica/internal/schema"
)

// temporalLayouts are tried in order. Fractional seconds are accepted by Go's
// parser even when the layout omits them.
var temporalLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02 15:04:05-07",
	"2006-01-02 15:04:05",
	"2006-01-02",
	"15:04:05",
}

// ParseTemporal parses the textual forms produced by the supported dialects.
func ParseTemporal(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range temporalLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised temporal text %q", s)
}

// Decode stores raw (as returned by the driver) into dst, which must be
// settable, according to col's logical type.
func Decode(d dialects.Dialect, col *schema.Column, raw any, dst reflect.Value) error {
	return DecodeType(d, col.Type, col.Name, raw, dst)
}

// DecodeType is Decode for an explicit logical type. Text is parsed first and
// native driver types are the fallback.
func DecodeType(d dialects.Dialect, t schema.LogicalType, column string, raw any, dst reflect.Value) error {
	if raw == nil {
		dst.Set(reflect.Zero(dst.Type()))
		return nil
	}
	if dst.Kind() == reflect.Ptr {
		elem := reflect.New(dst.Type().Elem())
		if err := DecodeType(d, t, column, raw, elem.Elem()); err != nil {
			return err
		}
		dst.Set(elem)
		return nil
	}

	var err error
	switch t.Kind {
	case schema.Integer32, schema.Integer64:
		err = decodeInt(raw, dst)
	case schema.Text:
		err = decodeText(raw, dst)
	case schema.Boolean:
		err = decodeBool(raw, dst)
	case schema.Float64:
		err = decodeFloat(raw, dst)
	case schema.Timestamp, schema.TimestampTZ, schema.Date, schema.Time:
		err = decodeTemporal(d, t.Kind, raw, dst)
	case schema.UUID:
		err = decodeUUID(raw, dst)
	case schema.JSON:
		err = decodeJSON(raw, dst)
	default:
		err = fmt.Errorf("unsupported logical type %s", t)
	}
	if err != nil {
		return &errs.ConversionError{Column: column, Dialect: d.Name(), Value: raw, Err: err}
	}
	return nil
}

// DecodeScalar decodes an aggregate or raw scalar into dst using the logical
// type implied by dst's Go type.
func DecodeScalar(d dialects.Dialect, column string, raw any, dst reflect.Value) error {
	t, ok := schema.TypeOf(dst.Type(), "")
	if !ok {
		return &errs.ConversionError{Column: column, Dialect: d.Name(), Value: raw,
			Err: fmt.Errorf("unsupported destination %s", dst.Type())}
	}
	return DecodeType(d, t, column, raw, dst)
}

func text(raw any) (string, bool) {
	switch v := raw.(type) {
	case string:
		return v, true
	case []byte:
		return string(v), true
	}
	return "", false
}

func decodeInt(raw any, dst reflect.Value) error {
	var n int64
	switch v := raw.(type) {
	case int64:
		n = v
	case int32:
		n = int64(v)
	case int:
		n = int64(v)
	case uint64:
		if v > 1<<63-1 {
			return errors.New("unsigned value exceeds int64")
		}
		n = int64(v)
	case float64:
		if v != float64(int64(v)) {
			return fmt.Errorf("%v is not an integer", v)
		}
		n = int64(v)
	case bool:
		if v {
			n = 1
		}
	default:
		s, ok := text(raw)
		if !ok {
			return fmt.Errorf("cannot decode %T as integer", raw)
		}
		parsed, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
		if err != nil {
			return err
		}
		n = parsed
	}

	switch dst.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if dst.OverflowInt(n) {
			return fmt.Errorf("%d overflows %s", n, dst.Type())
		}
		dst.SetInt(n)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		if n < 0 || dst.OverflowUint(uint64(n)) {
			return fmt.Errorf("%d overflows %s", n, dst.Type())
		}
		dst.SetUint(uint64(n))
	case reflect.Float32, reflect.Float64:
		dst.SetFloat(float64(n))
	default:
		return fmt.Errorf("cannot store integer in %s", dst.Type())
	}
	return nil
}

func decodeText(raw any, dst reflect.Value) error {
	s, ok := text(raw)
	if !ok {
		switch v := raw.(type) {
		case int64, float64, bool:
			s = fmt.Sprint(v)
		case time.Time:
			s = v.Format(time.RFC3339Nano)
		default:
			return fmt.Errorf("cannot decode %T as text", raw)
		}
	}
	if dst.Kind() != reflect.String {
		return fmt.Errorf("cannot store text in %s", dst.Type())
	}
	dst.SetString(s)
	return nil
}

func decodeBool(raw any, dst reflect.Value) error {
	var b bool
	switch v := raw.(type) {
	case bool:
		b = v
	case int64:
		b = v != 0
	default:
		s, ok := text(raw)
		if !ok {
			return fmt.Errorf("cannot decode %T as boolean", raw)
		}
		parsed, err := strconv.ParseBool(strings.TrimSpace(s))
		if err != nil {
			return err
		}
		b = parsed
	}
	if dst.Kind() != reflect.Bool {
		return fmt.Errorf("cannot store boolean in %s", dst.Type())
	}
	dst.SetBool(b)
	return nil
}

func decodeFloat(raw any, dst reflect.Value) error {
	var f float64
	switch v := raw.(type) {
	case float64:
		f = v
	case float32:
		f = float64(v)
	case int64:
		f = float64(v)
	default:
		s, ok := text(raw)
		if !ok {
			return fmt.Errorf("cannot decode %T as float", raw)
		}
		parsed, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return err
		}
		f = parsed
	}
	if dst.Kind() != reflect.Float32 && dst.Kind() != reflect.Float64 {
		return fmt.Errorf("cannot store float in %s", dst.Type())
	}
	if dst.OverflowFloat(f) {
		return fmt.Errorf("%v overflows %s", f, dst.Type())
	}
	dst.SetFloat(f)
	return nil
}

func decodeTemporal(d dialects.Dialect, k schema.Kind, raw any, dst reflect.Value) error {
	var ts time.Time
	if s, ok := text(raw); ok {
		parsed, err := ParseTemporal(s)
		if err != nil {
			return err
		}
		ts = parsed
	} else if native, ok := raw.(time.Time); ok {
		ts = native
	} else {
		return fmt.Errorf("cannot decode %T as %s", raw, k)
	}

	if k == schema.TimestampTZ {
		ts = ts.UTC()
	}

	switch {
	case dst.Type() == reflect.TypeOf(time.Time{}):
		dst.Set(reflect.ValueOf(ts))
	case dst.Kind() == reflect.String:
		dst.SetString(ts.Format(d.TimeLayout(k)))
	default:
		return fmt.Errorf("cannot store %s in %s", k, dst.Type())
	}
	return nil
}

func decodeUUID(raw any, dst reflect.Value) error {
	var id uuid.UUID
	var err error
	switch v := raw.(type) {
	case string:
		id, err = uuid.Parse(v)
	case []byte:
		id, err = uuid.ParseBytes(v)
		if err != nil && len(v) == 16 {
			id, err = uuid.FromBytes(v)
		}
	case [16]byte:
		id = uuid.UUID(v)
	default:
		return fmt.Errorf("cannot decode %T as uuid", raw)
	}
	if err != nil {
		return err
	}

	switch {
	case dst.Type() == reflect.TypeOf(uuid.UUID{}):
		dst.Set(reflect.ValueOf(id))
	case dst.Kind() == reflect.String:
		dst.SetString(id.String())
	default:
		return fmt.Errorf("cannot store uuid in %s", dst.Type())
	}
	return nil
}

func decodeJSON(raw any, dst reflect.Value) error {
	s, ok := text(raw)
	if !ok {
		return fmt.Errorf("cannot decode %T as json", raw)
	}
	b := []byte(s)

	switch {
	case dst.Kind() == reflect.String:
		dst.SetString(s)
		return nil
	case dst.Kind() == reflect.Slice && dst.Type().Elem().Kind() == reflect.Uint8:
		if !json.Valid(b) {
			return errors.New("invalid JSON text")
		}
		buf := reflect.MakeSlice(dst.Type(), len(b), len(b))
		reflect.Copy(buf, reflect.ValueOf(b))
		dst.Set(buf)
		return nil
	case dst.CanAddr():
		return json.Unmarshal(b, dst.Addr().Interface())
	}
	target := reflect.New(dst.Type())
	if err := json.Unmarshal(b, target.Interface()); err != nil {
		return err
	}
	dst.Set(target.Elem())
	return nil
}
