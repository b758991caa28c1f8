package logger

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitizer_IsSensitive(t *testing.T) {
	s := NewSanitizer(nil)

	for _, col := range []string{"password", "password_hash", "API_TOKEN", "card_number", "client_secret"} {
		assert.True(t, s.IsSensitive(col), col)
	}
	for _, col := range []string{"name", "email", "id", "created_at"} {
		assert.False(t, s.IsSensitive(col), col)
	}

	custom := NewSanitizer([]string{"salary"})
	assert.True(t, custom.IsSensitive("base_salary"))
	assert.False(t, custom.IsSensitive("password"))
}

func TestSanitizer_MaskParams(t *testing.T) {
	s := NewSanitizer(nil)

	tests := []struct {
		name    string
		columns []string
		params  []any
		want    []any
	}{
		{
			name:    "only the bound column is masked",
			columns: []string{"name", "password_hash", ""},
			params:  []any{"Alice", "$2a$10$abc", 10},
			want:    []any{"Alice", RedactedValue, 10},
		},
		{
			name:    "no sensitive columns",
			columns: []string{"id", "email"},
			params:  []any{1, "a@example.com"},
			want:    []any{1, "a@example.com"},
		},
		{
			name:    "fewer columns than params",
			columns: []string{"token"},
			params:  []any{"abc", 5},
			want:    []any{RedactedValue, 5},
		},
		{
			name:    "empty",
			columns: nil,
			params:  []any{},
			want:    []any{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, s.MaskParams(tt.columns, tt.params))
		})
	}

	params := []any{"secret"}
	_ = s.MaskParams([]string{"password"}, params)
	assert.Equal(t, "secret", params[0], "input must not be modified")
}

func TestSanitizer_MaskRawParams(t *testing.T) {
	s := NewSanitizer(nil)

	assert.Equal(t,
		[]any{RedactedValue, RedactedValue},
		s.MaskRawParams("UPDATE users SET password = ? WHERE id = ?", []any{"pw", 1}))
	assert.Equal(t,
		[]any{1, "Alice"},
		s.MaskRawParams("SELECT * FROM users WHERE id = ? AND name = ?", []any{1, "Alice"}))
	assert.Equal(t,
		[]any{RedactedValue},
		s.MaskRawParams("SELECT * FROM users WHERE PASSWORD = ?", []any{"x"}))
}

func TestSanitizer_FormatParams(t *testing.T) {
	s := NewSanitizer(nil)

	assert.Equal(t, "[]", s.FormatParams(nil))
	assert.Equal(t, "[1, Alice, NULL]", s.FormatParams([]any{1, "Alice", nil}))

	long := s.FormatParams([]any{strings.Repeat("x", 150)})
	assert.Equal(t, "["+strings.Repeat("x", 100)+"...]", long)
}
