// Package audit records executed statements to a structured audit trail.
// It consumes the events delivered to a query hook, so bound values arrive
// already masked; only a digest of them is logged.
package audit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/coregx/ormica/internal/core"
	"github.com/coregx/ormica/internal/logger"
)

// Level selects which statements are audited.
type Level int

const (
	// None disables auditing.
	None Level = iota
	// Writes audits INSERT, UPDATE and DELETE.
	Writes
	// Reads audits SELECT in addition to writes.
	Reads
	// All audits everything, including migration DDL.
	All
)

// Event is one audited statement.
type Event struct {
	Timestamp    time.Time
	User         string
	RequestID    string
	Operation    string
	Table        string
	AffectedRows int64
	SQL          string
	ParamsHash   string
	Success      bool
	Error        string
	Duration     time.Duration
}

// Auditor writes audit events to a logger.
type Auditor struct {
	logger logger.Logger
	level  Level
	now    func() time.Time
}

// New creates an auditor. A nil logger disables it.
func New(l logger.Logger, level Level) *Auditor {
	return &Auditor{logger: l, level: level, now: time.Now}
}

// Hook adapts the auditor to a query hook:
//
//	a := audit.New(l, audit.Writes)
//	db, err := core.Connect(uri, core.WithQueryHook(a.Hook))
func (a *Auditor) Hook(ctx context.Context, e core.QueryEvent) {
	if !a.shouldLog(e.Operation) {
		return
	}

	ev := Event{
		Timestamp:    a.now().UTC(),
		User:         User(ctx),
		RequestID:    RequestID(ctx),
		Operation:    e.Operation,
		Table:        e.Table,
		AffectedRows: e.RowsAffected,
		SQL:          e.SQL,
		ParamsHash:   hashParams(e.Args),
		Success:      e.Err == nil,
		Duration:     e.Duration,
	}
	if e.Err != nil {
		ev.Error = e.Err.Error()
	}
	a.log(ev)
}

func (a *Auditor) shouldLog(op string) bool {
	if a.logger == nil {
		return false
	}
	switch a.level {
	case Writes:
		return op == "INSERT" || op == "UPDATE" || op == "DELETE"
	case Reads:
		return op == "SELECT" || op == "INSERT" || op == "UPDATE" || op == "DELETE"
	case All:
		return true
	default:
		return false
	}
}

func (a *Auditor) log(ev Event) {
	logFunc := a.logger.Info
	if !ev.Success {
		logFunc = a.logger.Warn
	}

	args := []any{
		"timestamp", ev.Timestamp,
		"operation", ev.Operation,
		"affected_rows", ev.AffectedRows,
		"sql", ev.SQL,
		"success", ev.Success,
		"duration_ms", ev.Duration.Milliseconds(),
	}
	if ev.Table != "" {
		args = append(args, "table", ev.Table)
	}
	if ev.User != "" {
		args = append(args, "user", ev.User)
	}
	if ev.RequestID != "" {
		args = append(args, "request_id", ev.RequestID)
	}
	if ev.ParamsHash != "" {
		args = append(args, "params_hash", ev.ParamsHash)
	}
	if ev.Error != "" {
		args = append(args, "error", ev.Error)
	}
	logFunc("audit_event", args...)
}

// hashParams digests parameters so identical calls correlate without
// exposing values.
func hashParams(params []any) string {
	if len(params) == 0 {
		return ""
	}
	h := sha256.New()
	for _, p := range params {
		_, _ = fmt.Fprintf(h, "%v\x00", p)
	}
	return hex.EncodeToString(h.Sum(nil))
}

type contextKey string

const (
	userKey      contextKey = "ormica:user"
	requestIDKey contextKey = "ormica:request_id"
)

// WithUser attaches the acting user to ctx.
func WithUser(ctx context.Context, user string) context.Context {
	return context.WithValue(ctx, userKey, user)
}

// WithRequestID attaches a request identifier to ctx.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// User returns the user attached to ctx, if any.
func User(ctx context.Context) string {
	s, _ := ctx.Value(userKey).(string)
	return s
}

// RequestID returns the request identifier attached to ctx, if any.
func RequestID(ctx context.Context) string {
	s, _ := ctx.Value(requestIDKey).(string)
	return s
}
