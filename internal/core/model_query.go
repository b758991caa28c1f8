package core

import (
	"context"
	"database/sql"
	"reflect"
	"regexp"
	"strings"

	"github.com/coregx/ormica/internal/binder"
	"github.com/coregx/ormica/internal/errs"
	"github.com/coregx/ormica/internal/schema"
)

// Operator is a filter comparison.
type Operator string

// Filter operators. Eq and Ne with a nil value compile to IS NULL / IS NOT NULL.
const (
	Eq      Operator = "="
	Ne      Operator = "<>"
	Gt      Operator = ">"
	Gte     Operator = ">="
	Lt      Operator = "<"
	Lte     Operator = "<="
	Like    Operator = "LIKE"
	NotLike Operator = "NOT LIKE"
	In      Operator = "IN"
	NotIn   Operator = "NOT IN"
)

func (op Operator) valid() bool {
	switch op {
	case Eq, Ne, Gt, Gte, Lt, Lte, Like, NotLike, In, NotIn:
		return true
	}
	return false
}

// JoinKind selects the join type.
type JoinKind string

// Join kinds.
const (
	JoinInner JoinKind = "INNER JOIN"
	JoinLeft  JoinKind = "LEFT JOIN"
	JoinRight JoinKind = "RIGHT JOIN"
	JoinFull  JoinKind = "FULL JOIN"
)

type filterClause struct {
	col    *schema.Column
	op     Operator
	values []any // bound driver values; nil entry means NULL
}

type joinClause struct {
	kind        JoinKind
	table       *schema.Table
	left, right *schema.Column
}

type orderItem struct {
	col  *schema.Column
	desc bool
}

type havingClause struct {
	fn    string // COUNT, SUM, AVG, MIN, MAX or "" for a plain column
	col   *schema.Column
	star  bool
	op    Operator
	value any
}

// ModelQuery accumulates a query against one registered table. It is not
// safe for concurrent use; build and execute it from a single goroutine.
// Chain methods record the first error, which every terminal method returns.
type ModelQuery struct {
	db    *DB
	tx    *sql.Tx
	ctx   context.Context
	table *schema.Table
	err   error

	filters     []filterClause
	joins       []joinClause
	selected    []*schema.Column
	order       []orderItem
	groupBy     []*schema.Column
	having      []havingClause
	limit       *int64
	offset      *int64
	distinct    bool
	withDeleted bool
}

// Model starts a query on the table registered for model's type. model may
// be a struct value, a pointer to one, or a slice of either.
func (db *DB) Model(model any) *ModelQuery {
	q := &ModelQuery{db: db, ctx: db.context()}
	q.table, q.err = db.registry.Lookup(model)
	return q
}

// Table starts a query on a registered table by name.
func (db *DB) Table(name string) *ModelQuery {
	q := &ModelQuery{db: db, ctx: db.context()}
	q.table, q.err = db.registry.Table(name)
	return q
}

// Model starts a query that runs inside the transaction.
func (tx *Tx) Model(model any) *ModelQuery {
	q := tx.db.Model(model)
	q.tx, q.ctx = tx.tx, tx.ctx
	return q
}

// Table starts a query by table name inside the transaction.
func (tx *Tx) Table(name string) *ModelQuery {
	q := tx.db.Table(name)
	q.tx, q.ctx = tx.tx, tx.ctx
	return q
}

// WithContext sets the context for execution.
func (q *ModelQuery) WithContext(ctx context.Context) *ModelQuery {
	q.ctx = ctx
	return q
}

// Err returns the first error recorded while building.
func (q *ModelQuery) Err() error { return q.err }

func (q *ModelQuery) fail(err error) *ModelQuery {
	if q.err == nil {
		q.err = err
	}
	return q
}

// tables returns the base table followed by joined tables.
func (q *ModelQuery) tables() []*schema.Table {
	out := []*schema.Table{q.table}
	for _, j := range q.joins {
		out = append(out, j.table)
	}
	return out
}

// resolve turns "column" (base table) or "table.column" (base or joined
// table) into a column.
func (q *ModelQuery) resolve(ref string) (*schema.Column, error) {
	ref = strings.TrimSpace(ref)
	table, column, qualified := strings.Cut(ref, ".")
	if !qualified {
		if c, ok := q.table.Column(ref); ok {
			return c, nil
		}
		return nil, errs.UnknownColumn(q.table.Name, ref)
	}
	for _, t := range q.tables() {
		if t.Name != table {
			continue
		}
		if c, ok := t.Column(column); ok {
			return c, nil
		}
		break
	}
	return nil, errs.UnknownColumn(table, column)
}

// Filter adds a condition. All filters are combined with AND in call order.
// For In and NotIn, value must be a slice.
func (q *ModelQuery) Filter(column string, op Operator, value any) *ModelQuery {
	if q.err != nil {
		return q
	}
	if !op.valid() {
		return q.fail(errs.Invalid("unknown operator %q", op))
	}
	col, err := q.resolve(column)
	if err != nil {
		return q.fail(err)
	}

	fc := filterClause{col: col, op: op}
	switch op {
	case In, NotIn:
		rv := reflect.ValueOf(value)
		if !rv.IsValid() || (rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array) {
			return q.fail(errs.Invalid("%s on %q requires a slice, got %T", op, column, value))
		}
		for i := 0; i < rv.Len(); i++ {
			v, err := binder.Bind(q.db.dialect, col, rv.Index(i).Interface())
			if err != nil {
				return q.fail(err)
			}
			fc.values = append(fc.values, v)
		}
	case Like, NotLike:
		v, err := binder.BindType(q.db.dialect, schema.LogicalType{Kind: schema.Text}, col.Table, col.Name, value)
		if err != nil {
			return q.fail(err)
		}
		if v == nil {
			return q.fail(errs.Invalid("%s on %q requires a pattern", op, column))
		}
		fc.values = []any{v}
	default:
		v, err := binder.Bind(q.db.dialect, col, value)
		if err != nil {
			return q.fail(err)
		}
		if v == nil && op != Eq && op != Ne {
			return q.fail(errs.Invalid("%s on %q cannot compare with NULL", op, column))
		}
		fc.values = []any{v}
	}
	q.filters = append(q.filters, fc)
	return q
}

// Where is Filter with Eq.
func (q *ModelQuery) Where(column string, value any) *ModelQuery {
	return q.Filter(column, Eq, value)
}

// Join adds a join with a registered table (by name or model) on
// left = right. Both sides are "table.column" references.
func (q *ModelQuery) Join(kind JoinKind, target any, left, right string) *ModelQuery {
	if q.err != nil {
		return q
	}

	var t *schema.Table
	var err error
	if name, ok := target.(string); ok {
		t, err = q.db.registry.Table(name)
	} else {
		t, err = q.db.registry.Lookup(target)
	}
	if err != nil {
		return q.fail(err)
	}

	switch kind {
	case JoinInner, JoinLeft, JoinRight:
	case JoinFull:
		if !q.db.dialect.Capabilities().FullJoin {
			return q.fail(errs.Invalid("%s does not support FULL JOIN", q.db.dialect.Name()))
		}
	default:
		return q.fail(errs.Invalid("unknown join kind %q", kind))
	}
	for _, existing := range q.tables() {
		if existing.Name == t.Name {
			return q.fail(errs.Invalid("table %q is already part of the query", t.Name))
		}
	}

	q.joins = append(q.joins, joinClause{kind: kind, table: t})
	j := &q.joins[len(q.joins)-1]
	if j.left, err = q.resolve(left); err != nil {
		q.joins = q.joins[:len(q.joins)-1]
		return q.fail(err)
	}
	if j.right, err = q.resolve(right); err != nil {
		q.joins = q.joins[:len(q.joins)-1]
		return q.fail(err)
	}
	return q
}

// InnerJoin is Join with JoinInner.
func (q *ModelQuery) InnerJoin(target any, left, right string) *ModelQuery {
	return q.Join(JoinInner, target, left, right)
}

// LeftJoin is Join with JoinLeft.
func (q *ModelQuery) LeftJoin(target any, left, right string) *ModelQuery {
	return q.Join(JoinLeft, target, left, right)
}

// RightJoin is Join with JoinRight.
func (q *ModelQuery) RightJoin(target any, left, right string) *ModelQuery {
	return q.Join(JoinRight, target, left, right)
}

// FullJoin is Join with JoinFull. MySQL rejects it.
func (q *ModelQuery) FullJoin(target any, left, right string) *ModelQuery {
	return q.Join(JoinFull, target, left, right)
}

// Select restricts the projection to the given columns. Omitted columns may
// be selected explicitly.
func (q *ModelQuery) Select(columns ...string) *ModelQuery {
	for _, name := range columns {
		if q.err != nil {
			return q
		}
		col, err := q.resolve(name)
		if err != nil {
			return q.fail(err)
		}
		q.selected = append(q.selected, col)
	}
	return q
}

// Order appends ordering terms: "col", "col DESC", "a ASC, b DESC".
// Repeated calls accumulate in call order.
func (q *ModelQuery) Order(terms string) *ModelQuery {
	for _, term := range strings.Split(terms, ",") {
		if q.err != nil {
			return q
		}
		fields := strings.Fields(term)
		if len(fields) == 0 || len(fields) > 2 {
			return q.fail(errs.Invalid("malformed order term %q", term))
		}
		col, err := q.resolve(fields[0])
		if err != nil {
			return q.fail(err)
		}
		item := orderItem{col: col}
		if len(fields) == 2 {
			switch strings.ToUpper(fields[1]) {
			case "ASC":
			case "DESC":
				item.desc = true
			default:
				return q.fail(errs.Invalid("malformed order direction %q", fields[1]))
			}
		}
		q.order = append(q.order, item)
	}
	return q
}

// GroupBy appends grouping columns.
func (q *ModelQuery) GroupBy(columns ...string) *ModelQuery {
	for _, name := range columns {
		if q.err != nil {
			return q
		}
		col, err := q.resolve(name)
		if err != nil {
			return q.fail(err)
		}
		q.groupBy = append(q.groupBy, col)
	}
	return q
}

var aggregateRef = regexp.MustCompile(`(?i)^(COUNT|SUM|AVG|MIN|MAX)\(\s*([\w.*]+)\s*\)$`)

// Having adds a condition on an aggregate, e.g. Having("COUNT(*)", Gt, 2)
// or Having("SUM(amount)", Gte, 100). Conditions are combined with AND.
func (q *ModelQuery) Having(expr string, op Operator, value any) *ModelQuery {
	if q.err != nil {
		return q
	}
	switch op {
	case Eq, Ne, Gt, Gte, Lt, Lte:
	default:
		return q.fail(errs.Invalid("operator %q is not supported in HAVING", op))
	}

	h := havingClause{op: op}
	target := strings.TrimSpace(expr)
	if m := aggregateRef.FindStringSubmatch(target); m != nil {
		h.fn = strings.ToUpper(m[1])
		target = m[2]
	}
	if target == "*" {
		if h.fn != "COUNT" {
			return q.fail(errs.Invalid("malformed HAVING expression %q", expr))
		}
		h.star = true
	} else {
		col, err := q.resolve(target)
		if err != nil {
			return q.fail(err)
		}
		h.col = col
	}

	t, ok := binder.Infer(value)
	if !ok {
		return q.fail(errs.Invalid("HAVING value for %q must be non-nil and of a supported type", expr))
	}
	v, err := binder.BindType(q.db.dialect, t, q.table.Name, expr, value)
	if err != nil {
		return q.fail(err)
	}
	h.value = v
	q.having = append(q.having, h)
	return q
}

// Limit caps the number of rows.
func (q *ModelQuery) Limit(n int64) *ModelQuery {
	if n < 0 {
		return q.fail(errs.Invalid("limit must not be negative, got %d", n))
	}
	q.limit = &n
	return q
}

// Offset skips rows.
func (q *ModelQuery) Offset(n int64) *ModelQuery {
	if n < 0 {
		return q.fail(errs.Invalid("offset must not be negative, got %d", n))
	}
	q.offset = &n
	return q
}

// Distinct removes duplicate rows.
func (q *ModelQuery) Distinct() *ModelQuery {
	q.distinct = true
	return q
}

// WithDeleted includes soft-deleted rows. It only widens visibility; it
// never changes what Delete does.
func (q *ModelQuery) WithDeleted() *ModelQuery {
	q.withDeleted = true
	return q
}

// clone copies the description so that derived queries do not share slices.
func (q *ModelQuery) clone() *ModelQuery {
	c := *q
	c.filters = append([]filterClause(nil), q.filters...)
	c.joins = append([]joinClause(nil), q.joins...)
	c.selected = append([]*schema.Column(nil), q.selected...)
	c.order = append([]orderItem(nil), q.order...)
	c.groupBy = append([]*schema.Column(nil), q.groupBy...)
	c.having = append([]havingClause(nil), q.having...)
	return &c
}
