// Package tracer wraps query execution in spans. OpenTelemetry is supported
// out of the box; NoopTracer is the default.
package tracer

import (
	"context"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Span names used by the query executor.
const (
	SpanQuery    = "ormica.query.execute"
	SpanTx       = "ormica.tx"
	SpanMigrate  = "ormica.migrate"
	SpanPaginate = "ormica.paginate"
)

// Tracer starts spans.
type Tracer interface {
	StartSpan(ctx context.Context, name string) (context.Context, Span)
}

// Span is the subset of a tracing span the executor needs.
type Span interface {
	SetAttributes(attrs ...attribute.KeyValue)
	RecordError(err error)
	SetStatus(code codes.Code, description string)
	End()
}

// NoopTracer records nothing.
type NoopTracer struct{}

// StartSpan returns ctx unchanged and a span that does nothing.
func (n *NoopTracer) StartSpan(ctx context.Context, _ string) (context.Context, Span) {
	return ctx, &NoopSpan{}
}

// NoopSpan does nothing.
type NoopSpan struct{}

// SetAttributes does nothing.
func (n *NoopSpan) SetAttributes(_ ...attribute.KeyValue) {}

// RecordError does nothing.
func (n *NoopSpan) RecordError(_ error) {}

// SetStatus does nothing.
func (n *NoopSpan) SetStatus(_ codes.Code, _ string) {}

// End does nothing.
func (n *NoopSpan) End() {}

// OtelTracer adapts an OpenTelemetry tracer.
type OtelTracer struct {
	tracer trace.Tracer
}

// NewOtelTracer wraps t, which must not be nil.
func NewOtelTracer(t trace.Tracer) *OtelTracer {
	return &OtelTracer{tracer: t}
}

// StartSpan starts an OpenTelemetry span.
func (t *OtelTracer) StartSpan(ctx context.Context, name string) (context.Context, Span) {
	ctx, span := t.tracer.Start(ctx, name, trace.WithSpanKind(trace.SpanKindClient))
	return ctx, &OtelSpan{span: span}
}

// OtelSpan adapts an OpenTelemetry span.
type OtelSpan struct {
	span trace.Span
}

// SetAttributes forwards to the wrapped span.
func (s *OtelSpan) SetAttributes(attrs ...attribute.KeyValue) {
	s.span.SetAttributes(attrs...)
}

// RecordError forwards to the wrapped span.
func (s *OtelSpan) RecordError(err error) {
	s.span.RecordError(err)
}

// SetStatus forwards to the wrapped span.
func (s *OtelSpan) SetStatus(code codes.Code, desc string) {
	s.span.SetStatus(code, desc)
}

// End ends the wrapped span.
func (s *OtelSpan) End() {
	s.span.End()
}

// QueryMetadata describes one executed statement.
type QueryMetadata struct {
	SQL          string
	Duration     time.Duration
	RowsAffected int64
	Err          error
	// Database is the dialect name.
	Database string
	// Operation is SELECT, INSERT, UPDATE, DELETE, CREATE, ALTER or UNKNOWN.
	Operation string
	// Table is the base table of builder queries; empty for raw SQL.
	Table string
}

// AddQueryAttributes records meta on span using the OpenTelemetry database
// semantic conventions and sets the span status.
func AddQueryAttributes(span Span, meta *QueryMetadata) {
	attrs := []attribute.KeyValue{
		attribute.String("db.system", dbSystem(meta.Database)),
		attribute.String("db.statement", meta.SQL),
		attribute.String("db.operation", meta.Operation),
		attribute.Float64("db.duration_ms", float64(meta.Duration.Microseconds())/1000.0),
	}
	if meta.Table != "" {
		attrs = append(attrs, attribute.String("db.sql.table", meta.Table))
	}
	if meta.RowsAffected > 0 {
		attrs = append(attrs, attribute.Int64("db.rows_affected", meta.RowsAffected))
	}
	span.SetAttributes(attrs...)

	if meta.Err != nil {
		span.RecordError(meta.Err)
		span.SetStatus(codes.Error, meta.Err.Error())
		return
	}
	span.SetStatus(codes.Ok, "")
}

// dbSystem maps a dialect name to its semantic-convention db.system value.
func dbSystem(dialect string) string {
	switch dialect {
	case "postgres", "pgx":
		return "postgresql"
	}
	return dialect
}

// DetectOperation classifies a statement by its leading keyword.
func DetectOperation(sql string) string {
	sql = strings.ToUpper(strings.TrimSpace(sql))
	for _, op := range []string{"SELECT", "INSERT", "UPDATE", "DELETE", "CREATE", "ALTER"} {
		if strings.HasPrefix(sql, op) {
			return op
		}
	}
	if strings.HasPrefix(sql, "WITH") {
		return "SELECT"
	}
	return "UNKNOWN"
}
