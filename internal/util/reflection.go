// Package util provides struct tag parsing and reflection helpers used by the
// schema registry and the query builder.
package util

import (
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"unicode"
)

// Tag is the parsed form of a `db` struct tag.
//
// Grammar: db:"name,opt,opt=value,..." where the first element is the column
// name (empty keeps the snake_case field name) and options are:
//
//	pk, auto, unique, index, omit, create_time, update_time, soft_delete,
//	size=N, fk=table.column, type=timestamp|timestamptz|date|time|json
//
// db:"-" skips the field entirely.
type Tag struct {
	Column     string
	Skip       bool
	PrimaryKey bool
	Auto       bool
	Unique     bool
	Index      bool
	Omit       bool
	CreateTime bool
	UpdateTime bool
	SoftDelete bool
	Size       int
	ForeignKey string
	Type       string
}

// ParseTag parses the db tag of a field. fieldName provides the default column.
func ParseTag(fieldName, tag string) (Tag, error) {
	if strings.TrimSpace(tag) == "-" {
		return Tag{Column: "-", Skip: true}, nil
	}

	parts := strings.Split(tag, ",")
	t := Tag{Column: strings.TrimSpace(parts[0])}
	if t.Column == "" {
		t.Column = SnakeCase(fieldName)
	}

	for _, raw := range parts[1:] {
		opt := strings.TrimSpace(raw)
		key, value, hasValue := strings.Cut(opt, "=")
		switch key {
		case "":
		case "pk", "primary_key":
			t.PrimaryKey = true
		case "auto", "autoincrement":
			t.Auto = true
		case "unique":
			t.Unique = true
		case "index":
			t.Index = true
		case "omit":
			t.Omit = true
		case "create_time":
			t.CreateTime = true
		case "update_time":
			t.UpdateTime = true
		case "soft_delete":
			t.SoftDelete = true
		case "size":
			n, err := strconv.Atoi(value)
			if !hasValue || err != nil || n <= 0 {
				return Tag{}, fmt.Errorf("invalid size %q on field %s", value, fieldName)
			}
			t.Size = n
		case "fk", "foreign_key":
			if !hasValue || !strings.Contains(value, ".") {
				return Tag{}, fmt.Errorf("foreign key on field %s must be table.column, got %q", fieldName, value)
			}
			t.ForeignKey = value
		case "type":
			t.Type = strings.ToLower(value)
		default:
			return Tag{}, fmt.Errorf("unknown db tag option %q on field %s", key, fieldName)
		}
	}

	return t, nil
}

// SnakeCase converts a Go identifier to snake_case, keeping acronyms together:
// UserID -> user_id, HTTPServer -> http_server.
func SnakeCase(name string) string {
	runes := []rune(name)
	var b strings.Builder
	b.Grow(len(name) + 4)
	for i, r := range runes {
		if unicode.IsUpper(r) {
			if i > 0 {
				prev := runes[i-1]
				nextLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
				if unicode.IsLower(prev) || unicode.IsDigit(prev) || (unicode.IsUpper(prev) && nextLower) {
					b.WriteByte('_')
				}
			}
			b.WriteRune(unicode.ToLower(r))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// StructToMap converts a struct to map[string]any keyed by column name.
//
// Rules:
//   - Unexported fields are skipped.
//   - db:"-" fields are skipped.
//   - Fields without a db tag use the snake_case field name.
//   - Zero values are included.
func StructToMap(data any) (map[string]any, error) {
	v := reflect.ValueOf(data)
	if v.Kind() == reflect.Ptr {
		if v.IsNil() {
			return nil, errors.New("StructToMap: nil pointer")
		}
		v = v.Elem()
	}

	if v.Kind() != reflect.Struct {
		return nil, errors.New("StructToMap: expected struct, got " + v.Kind().String())
	}

	t := v.Type()
	result := make(map[string]any, t.NumField())

	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if !field.IsExported() {
			continue
		}

		tag, err := ParseTag(field.Name, field.Tag.Get("db"))
		if err != nil {
			return nil, err
		}
		if tag.Skip {
			continue
		}

		result[tag.Column] = v.Field(i).Interface()
	}

	return result, nil
}

// SortedKeys returns map keys in lexical order for deterministic SQL.
func SortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// IsPrimaryKeyZero checks if a primary key value is zero (needs auto-population).
// Returns false for non-numeric types (string, UUID, etc).
func IsPrimaryKeyZero(v reflect.Value) bool {
	if !v.IsValid() {
		return true
	}

	switch v.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return v.Int() == 0
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return v.Uint() == 0
	case reflect.Ptr:
		if v.IsNil() {
			return true
		}
		return IsPrimaryKeyZero(v.Elem())
	default:
		return false
	}
}

// SetPrimaryKeyValue stores a generated key into an integer field, allocating
// pointers as needed. It fails on overflow instead of truncating.
func SetPrimaryKeyValue(field reflect.Value, id int64) error {
	if !field.IsValid() {
		return errors.New("SetPrimaryKeyValue: invalid field")
	}
	if !field.CanSet() {
		return errors.New("SetPrimaryKeyValue: field is not settable")
	}

	if field.Kind() == reflect.Ptr {
		if field.IsNil() {
			field.Set(reflect.New(field.Type().Elem()))
		}
		return SetPrimaryKeyValue(field.Elem(), id)
	}

	switch field.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if field.OverflowInt(id) {
			return fmt.Errorf("SetPrimaryKeyValue: %s overflow", field.Kind())
		}
		field.SetInt(id)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		if id < 0 || field.OverflowUint(uint64(id)) {
			return fmt.Errorf("SetPrimaryKeyValue: %s overflow", field.Kind())
		}
		field.SetUint(uint64(id))
	default:
		return errors.New("SetPrimaryKeyValue: unsupported type " + field.Kind().String())
	}

	return nil
}
