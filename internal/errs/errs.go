// Package errs defines the error taxonomy shared by the schema registry, binder,
// migration planner and query builder.
package errs

import (
	"errors"
	"fmt"
)

// Sentinel errors. Typed errors below match them through errors.Is.
var (
	// ErrConfiguration is the class of registration and setup failures.
	ErrConfiguration = errors.New("configuration error")
	// ErrDuplicateTable is returned when a table name is registered twice.
	ErrDuplicateTable = errors.New("duplicate table")
	// ErrUnknownModel is returned when a type or table was never registered.
	ErrUnknownModel = errors.New("unknown model")
	// ErrSchema is returned for malformed table schemas.
	ErrSchema = errors.New("schema error")

	// ErrValidation is the class of query description failures.
	ErrValidation = errors.New("validation error")
	// ErrUnknownColumn is returned when a column reference cannot be resolved.
	ErrUnknownColumn = errors.New("unknown column")
	// ErrTypeMismatch is returned when a bound value does not fit the column's logical type.
	ErrTypeMismatch = errors.New("type mismatch")

	// ErrConversion is returned when a value fails dialect-specific formatting or parsing.
	ErrConversion = errors.New("conversion error")
	// ErrNotFound is returned when exactly one row was required and none matched.
	ErrNotFound = errors.New("record not found")
	// ErrExecution tags failures reported by the database driver.
	ErrExecution = errors.New("execution error")
	// ErrTxDone is returned when operating on a finished transaction.
	ErrTxDone = errors.New("transaction has already been committed or rolled back")
)

// ConfigError reports a registration or setup problem.
type ConfigError struct {
	Kind   error // ErrDuplicateTable, ErrUnknownModel or ErrSchema
	Table  string
	Column string
	Msg    string
}

func (e *ConfigError) Error() string {
	s := "ormica: " + e.Kind.Error()
	if e.Table != "" {
		s += " " + quoteRef(e.Table, e.Column)
	}
	if e.Msg != "" {
		s += ": " + e.Msg
	}
	return s
}

// Is reports whether target is the error class or the specific kind.
func (e *ConfigError) Is(target error) bool {
	return target == ErrConfiguration || target == e.Kind
}

// ValidationError reports a query description that cannot be compiled.
type ValidationError struct {
	Kind   error // ErrUnknownColumn, ErrTypeMismatch or nil for generic validation
	Table  string
	Column string
	Msg    string
}

func (e *ValidationError) Error() string {
	kind := ErrValidation
	if e.Kind != nil {
		kind = e.Kind
	}
	s := "ormica: " + kind.Error()
	if e.Table != "" || e.Column != "" {
		s += " " + quoteRef(e.Table, e.Column)
	}
	if e.Msg != "" {
		s += ": " + e.Msg
	}
	return s
}

// Is reports whether target is the error class or the specific kind.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation || (e.Kind != nil && target == e.Kind)
}

// ConversionError names the column and dialect a value failed to bind or decode for.
type ConversionError struct {
	Column  string
	Dialect string
	Value   any
	Err     error
}

func (e *ConversionError) Error() string {
	return fmt.Sprintf("ormica: conversion error on column %q (%s): value %v: %v",
		e.Column, e.Dialect, e.Value, e.Err)
}

// Is matches ErrConversion.
func (e *ConversionError) Is(target error) bool { return target == ErrConversion }

// Unwrap returns the underlying parse or range error.
func (e *ConversionError) Unwrap() error { return e.Err }

// NotFoundError is returned when a single-row lookup finds nothing.
type NotFoundError struct {
	Table string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("ormica: %s not found", e.Table)
}

// Is matches ErrNotFound.
func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// ExecutionError wraps a driver failure with the statement that caused it.
type ExecutionError struct {
	Op  string
	SQL string
	Err error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("ormica: %s: %v", e.Op, e.Err)
}

// Is matches ErrExecution.
func (e *ExecutionError) Is(target error) bool { return target == ErrExecution }

// Unwrap returns the driver error.
func (e *ExecutionError) Unwrap() error { return e.Err }

// IsNotFound reports whether err is a not-found error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsConfiguration reports whether err is a registration or setup error.
func IsConfiguration(err error) bool {
	return errors.Is(err, ErrConfiguration)
}

// IsValidation reports whether err is a query validation error.
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation)
}

// IsConversion reports whether err is a conversion error.
func IsConversion(err error) bool {
	return errors.Is(err, ErrConversion)
}

// Wrap wraps an error with additional context message.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return &wrappedError{msg: message, err: err}
}

type wrappedError struct {
	msg string
	err error
}

func (e *wrappedError) Error() string {
	return e.msg + ": " + e.err.Error()
}

func (e *wrappedError) Unwrap() error {
	return e.err
}

// Helpers used across packages.

// DuplicateTable builds a ConfigError for a table registered twice.
func DuplicateTable(table string) error {
	return &ConfigError{Kind: ErrDuplicateTable, Table: table}
}

// UnknownModel builds a ConfigError for an unregistered type or table.
func UnknownModel(name string) error {
	return &ConfigError{Kind: ErrUnknownModel, Table: name}
}

// Schema builds a ConfigError describing a malformed schema.
func Schema(table, column, format string, args ...any) error {
	return &ConfigError{Kind: ErrSchema, Table: table, Column: column, Msg: fmt.Sprintf(format, args...)}
}

// UnknownColumn builds a ValidationError for an unresolvable column reference.
func UnknownColumn(table, column string) error {
	return &ValidationError{Kind: ErrUnknownColumn, Table: table, Column: column}
}

// TypeMismatch builds a ValidationError for a value of the wrong Go type.
func TypeMismatch(table, column string, want string, got any) error {
	return &ValidationError{
		Kind:   ErrTypeMismatch,
		Table:  table,
		Column: column,
		Msg:    fmt.Sprintf("expected %s, got %T", want, got),
	}
}

// Invalid builds a generic ValidationError.
func Invalid(format string, args ...any) error {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

func quoteRef(table, column string) string {
	switch {
	case table == "":
		return fmt.Sprintf("%q", column)
	case column == "":
		return fmt.Sprintf("%q", table)
	default:
		return fmt.Sprintf("%q", table+"."+column)
	}
}
