package logger

import (
	"fmt"
	"regexp"
	"strings"
)

// RedactedValue replaces masked parameters in log output.
const RedactedValue = "***REDACTED***"

// DefaultSensitiveFields are masked when no explicit list is configured.
var DefaultSensitiveFields = []string{
	"password", "passwd", "pwd",
	"token", "api_key", "apikey",
	"secret", "authorization",
	"credit_card", "card_number", "cvv", "cvc",
	"ssn", "private_key",
}

// Sanitizer masks parameter values bound to sensitive columns before they
// reach the logs.
type Sanitizer struct {
	fields   []string
	patterns []*regexp.Regexp
}

// NewSanitizer creates a sanitizer for the given column name fragments.
// An empty list selects DefaultSensitiveFields.
func NewSanitizer(sensitiveFields []string) *Sanitizer {
	if len(sensitiveFields) == 0 {
		sensitiveFields = DefaultSensitiveFields
	}

	fields := make([]string, len(sensitiveFields))
	patterns := make([]*regexp.Regexp, len(sensitiveFields))
	for i, f := range sensitiveFields {
		fields[i] = strings.ToLower(f)
		patterns[i] = regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(f) + `\b`)
	}

	return &Sanitizer{fields: fields, patterns: patterns}
}

// IsSensitive reports whether a column name contains a sensitive fragment,
// so password_hash and api_token are both masked.
func (s *Sanitizer) IsSensitive(column string) bool {
	column = strings.ToLower(column)
	for _, f := range s.fields {
		if strings.Contains(column, f) {
			return true
		}
	}
	return false
}

// MaskParams masks params[i] when columns[i] is sensitive. columns lines up
// with params; an empty entry means the parameter is not bound to a column
// (LIMIT, OFFSET, HAVING values). The input slice is not modified.
func (s *Sanitizer) MaskParams(columns []string, params []any) []any {
	var masked []any
	for i, col := range columns {
		if i >= len(params) || col == "" || !s.IsSensitive(col) {
			continue
		}
		if masked == nil {
			masked = append([]any(nil), params...)
		}
		masked[i] = RedactedValue
	}
	if masked == nil {
		return params
	}
	return masked
}

// MaskRawParams is used for raw SQL, where parameter positions are unknown:
// every parameter is masked when the statement mentions a sensitive field.
func (s *Sanitizer) MaskRawParams(sql string, params []any) []any {
	if len(params) == 0 {
		return params
	}
	for _, p := range s.patterns {
		if p.MatchString(sql) {
			masked := make([]any, len(params))
			for i := range masked {
				masked[i] = RedactedValue
			}
			return masked
		}
	}
	return params
}

// FormatParams renders parameters for logging, truncating long values.
func (s *Sanitizer) FormatParams(params []any) string {
	if len(params) == 0 {
		return "[]"
	}

	parts := make([]string, len(params))
	for i, p := range params {
		parts[i] = formatValue(p)
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

func formatValue(v any) string {
	if v == nil {
		return "NULL"
	}

	str := fmt.Sprintf("%v", v)
	const maxLen = 100
	if len(str) > maxLen {
		return str[:maxLen] + "..."
	}
	return str
}
