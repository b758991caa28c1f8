package core

import (
	"database/sql"
	"errors"
	"strconv"
	"time"

	"github.com/coregx/ormica/internal/binder"
	"github.com/coregx/ormica/internal/errs"
	"github.com/coregx/ormica/internal/util"
)

// NullStringMap is one row of a raw query keyed by column name, every value
// in its text form. It is meant for ad-hoc reports whose shape is not a
// registered record.
//
//	rows, err := db.Raw("SELECT name, COUNT(*) AS n FROM {{user}} GROUP BY [[name]]").Maps()
//	for _, r := range rows {
//	    n, err := r.Int64("n")
//	    ...
//	}
type NullStringMap map[string]sql.NullString

// String returns the text of key, or "" when the key is absent or NULL.
func (m NullStringMap) String(key string) string {
	if v, ok := m[key]; ok && v.Valid {
		return v.String
	}
	return ""
}

// IsNull reports whether key is NULL or absent.
func (m NullStringMap) IsNull(key string) bool {
	v, ok := m[key]
	return !ok || !v.Valid
}

// Has reports whether the row has the column, NULL or not.
func (m NullStringMap) Has(key string) bool {
	_, ok := m[key]
	return ok
}

// Keys returns the column names in sorted order.
func (m NullStringMap) Keys() []string {
	return util.SortedKeys(m)
}

// Get returns the raw value of key.
func (m NullStringMap) Get(key string) (sql.NullString, bool) {
	v, ok := m[key]
	return v, ok
}

// text returns the non-NULL value of key. Absent keys are an unknown column.
func (m NullStringMap) text(key string) (string, error) {
	v, ok := m[key]
	if !ok {
		return "", errs.UnknownColumn("", key)
	}
	if !v.Valid {
		return "", &errs.ConversionError{Column: key, Err: errNullValue}
	}
	return v.String, nil
}

var errNullValue = errors.New("value is NULL")

func (m NullStringMap) parse(key string, fn func(string) error) error {
	s, err := m.text(key)
	if err != nil {
		return err
	}
	if err := fn(s); err != nil {
		return &errs.ConversionError{Column: key, Value: s, Err: err}
	}
	return nil
}

// Int64 parses key as a base-10 integer.
func (m NullStringMap) Int64(key string) (n int64, err error) {
	err = m.parse(key, func(s string) (err error) {
		n, err = strconv.ParseInt(s, 10, 64)
		return err
	})
	return n, err
}

// Float64 parses key as a float.
func (m NullStringMap) Float64(key string) (f float64, err error) {
	err = m.parse(key, func(s string) (err error) {
		f, err = strconv.ParseFloat(s, 64)
		return err
	})
	return f, err
}

// Bool parses key as a boolean; 1/0 and t/f are accepted.
func (m NullStringMap) Bool(key string) (b bool, err error) {
	err = m.parse(key, func(s string) (err error) {
		b, err = strconv.ParseBool(s)
		return err
	})
	return b, err
}

// Time parses key with the layouts used for temporal columns.
func (m NullStringMap) Time(key string) (t time.Time, err error) {
	err = m.parse(key, func(s string) (err error) {
		t, err = binder.ParseTemporal(s)
		return err
	})
	return t, err
}
