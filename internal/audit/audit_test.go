package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coregx/ormica/internal/core"
	"github.com/coregx/ormica/internal/logger"
)

func newBufferAuditor(level Level) (*Auditor, *bytes.Buffer) {
	var buf bytes.Buffer
	l := logger.NewSlogAdapter(slog.New(slog.NewJSONHandler(&buf, nil)))
	a := New(l, level)
	a.now = func() time.Time { return time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC) }
	return a, &buf
}

func TestAuditor_Levels(t *testing.T) {
	tests := []struct {
		name    string
		level   Level
		op      string
		wantLog bool
	}{
		{"WritesLogsInsert", Writes, "INSERT", true},
		{"WritesLogsDelete", Writes, "DELETE", true},
		{"WritesSkipsSelect", Writes, "SELECT", false},
		{"WritesSkipsDDL", Writes, "CREATE", false},
		{"ReadsLogsSelect", Reads, "SELECT", true},
		{"ReadsSkipsDDL", Reads, "ALTER", false},
		{"AllLogsDDL", All, "CREATE", true},
		{"NoneSkipsEverything", None, "INSERT", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, buf := newBufferAuditor(tt.level)
			a.Hook(context.Background(), core.QueryEvent{Operation: tt.op, SQL: tt.op + " ..."})
			assert.Equal(t, tt.wantLog, buf.Len() > 0)
		})
	}
}

func TestAuditor_EventFields(t *testing.T) {
	a, buf := newBufferAuditor(Writes)
	ctx := WithRequestID(WithUser(context.Background(), "alice"), "req-42")

	a.Hook(ctx, core.QueryEvent{
		SQL:          `UPDATE "account" SET "password" = $1 WHERE "id" = $2`,
		Args:         []any{logger.RedactedValue, 7},
		Duration:     15 * time.Millisecond,
		RowsAffected: 1,
		Operation:    "UPDATE",
		Table:        "account",
	})

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "audit_event", entry["msg"])
	assert.Equal(t, "INFO", entry["level"])
	assert.Equal(t, "alice", entry["user"])
	assert.Equal(t, "req-42", entry["request_id"])
	assert.Equal(t, "account", entry["table"])
	assert.Equal(t, float64(1), entry["affected_rows"])
	assert.Equal(t, float64(15), entry["duration_ms"])
	assert.Equal(t, true, entry["success"])
	assert.Len(t, entry["params_hash"], 64)
	assert.NotContains(t, buf.String(), "error")
}

func TestAuditor_Failure(t *testing.T) {
	a, buf := newBufferAuditor(Writes)
	a.Hook(context.Background(), core.QueryEvent{
		SQL:       `DELETE FROM "account"`,
		Operation: "DELETE",
		Err:       errors.New("foreign key violation"),
	})

	out := buf.String()
	assert.Contains(t, out, `"level":"WARN"`)
	assert.Contains(t, out, `"success":false`)
	assert.Contains(t, out, "foreign key violation")
	assert.NotContains(t, out, "params_hash")
}

func TestHashParams(t *testing.T) {
	assert.Empty(t, hashParams(nil))
	assert.Equal(t, hashParams([]any{"a", 1}), hashParams([]any{"a", 1}))
	assert.NotEqual(t, hashParams([]any{"a", 1}), hashParams([]any{"a", 2}))
	// separators keep adjacent values apart
	assert.NotEqual(t, hashParams([]any{"ab", "c"}), hashParams([]any{"a", "bc"}))
}

func TestContextValues(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, User(ctx))
	assert.Empty(t, RequestID(ctx))

	ctx = WithUser(ctx, "bob")
	assert.Equal(t, "bob", User(ctx))
}

func TestAuditor_WiredIntoDB(t *testing.T) {
	type note struct {
		ID   int64  `db:"id,pk,auto"`
		Body string `db:"body"`
	}

	a, buf := newBufferAuditor(Writes)
	db, err := core.Connect("sqlite::memory:", core.WithQueryHook(a.Hook))
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, db.Register(&note{}))
	require.NoError(t, db.Migrate(context.Background()))
	assert.Zero(t, buf.Len(), "DDL is not a write")

	ctx := WithUser(context.Background(), "carol")
	n := &note{Body: "hello"}
	require.NoError(t, db.Model(n).WithContext(ctx).Insert(n))

	var count int64
	count, err = db.Model(&note{}).Count()
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1)
	assert.Contains(t, lines[0], `"user":"carol"`)
	assert.Contains(t, lines[0], `"table":"note"`)
	assert.Contains(t, lines[0], `"operation":"INSERT"`)
}
