// Package schema holds table descriptors derived from Go record types and the
// registry that the migration planner and query builder read from.
package schema

import (
	"encoding/json"
	"reflect"
	"time"

	"github.com/google/uuid"
)

// Kind is the abstract value category of a column, independent of any dialect.
type Kind uint8

// Logical kinds.
const (
	Integer32 Kind = iota + 1
	Integer64
	Text
	Boolean
	Float64
	Timestamp   // naive date and time
	TimestampTZ // instant, stored as UTC
	Date
	Time
	UUID
	JSON
)

var kindNames = map[Kind]string{
	Integer32:   "Integer32",
	Integer64:   "Integer64",
	Text:        "Text",
	Boolean:     "Boolean",
	Float64:     "Float64",
	Timestamp:   "Timestamp",
	TimestampTZ: "TimestampTZ",
	Date:        "Date",
	Time:        "Time",
	UUID:        "Uuid",
	JSON:        "Json",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return "Unknown"
}

// IsTemporal reports whether k is one of the temporal variants.
func (k Kind) IsTemporal() bool {
	return k == Timestamp || k == TimestampTZ || k == Date || k == Time
}

// IsInteger reports whether k is an integer kind.
func (k Kind) IsInteger() bool {
	return k == Integer32 || k == Integer64
}

// LogicalType is a Kind plus optionality.
type LogicalType struct {
	Kind     Kind
	Nullable bool
}

func (t LogicalType) String() string {
	if t.Nullable {
		return "Optional<" + t.Kind.String() + ">"
	}
	return t.Kind.String()
}

var (
	timeType    = reflect.TypeOf(time.Time{})
	uuidType    = reflect.TypeOf(uuid.UUID{})
	rawJSONType = reflect.TypeOf(json.RawMessage(nil))
)

// TypeOf derives the logical type of a Go field type. hint is the `type=`
// tag option and selects temporal variants or forces JSON.
func TypeOf(t reflect.Type, hint string) (LogicalType, bool) {
	var lt LogicalType
	if t.Kind() == reflect.Ptr {
		lt.Nullable = true
		t = t.Elem()
	}

	switch hint {
	case "json":
		lt.Kind = JSON
		return lt, true
	case "timestamp", "timestamptz", "date", "time":
		if t != timeType && t.Kind() != reflect.String {
			return lt, false
		}
		lt.Kind = map[string]Kind{
			"timestamp":   Timestamp,
			"timestamptz": TimestampTZ,
			"date":        Date,
			"time":        Time,
		}[hint]
		return lt, true
	case "":
	default:
		return lt, false
	}

	switch {
	case t == timeType:
		lt.Kind = TimestampTZ
	case t == uuidType:
		lt.Kind = UUID
	case t == rawJSONType:
		lt.Kind = JSON
	default:
		switch t.Kind() {
		case reflect.Int8, reflect.Int16, reflect.Int32,
			reflect.Uint8, reflect.Uint16, reflect.Uint32:
			lt.Kind = Integer32
		case reflect.Int, reflect.Int64, reflect.Uint, reflect.Uint64:
			lt.Kind = Integer64
		case reflect.String:
			lt.Kind = Text
		case reflect.Bool:
			lt.Kind = Boolean
		case reflect.Float32, reflect.Float64:
			lt.Kind = Float64
		case reflect.Map, reflect.Slice, reflect.Struct:
			lt.Kind = JSON
		default:
			return lt, false
		}
	}
	return lt, true
}
