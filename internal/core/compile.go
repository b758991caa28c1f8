package core

import (
	"strings"

	"github.com/coregx/ormica/internal/dialects"
	"github.com/coregx/ormica/internal/errs"
	"github.com/coregx/ormica/internal/schema"
)

// argList accumulates positional arguments while SQL is rendered, so that
// placeholder numbers always match emission order.
type argList struct {
	dialect dialects.Dialect
	args    []any
	columns []string
}

// add appends v and returns its placeholder. column names the column v is
// bound to ("" when it is not a column value); cast is the dialect cast.
func (a *argList) add(v any, column, cast string) string {
	a.args = append(a.args, v)
	a.columns = append(a.columns, column)
	return a.dialect.Placeholder(len(a.args)) + cast
}

func (a *argList) statement(sql, table string) *statement {
	return &statement{sql: sql, args: a.args, columns: a.columns, table: table}
}

// projection is one selected column and the table it decodes into.
type projection struct {
	col   *schema.Column
	alias string
}

func (q *ModelQuery) quote(s string) string {
	return q.db.dialect.QuoteIdentifier(s)
}

// colSQL renders a column reference, table-qualified once joins are present.
func (q *ModelQuery) colSQL(c *schema.Column) string {
	if len(q.joins) == 0 {
		return q.quote(c.Name)
	}
	return q.quote(c.Table) + "." + q.quote(c.Name)
}

// selectExpr renders a projected column. Columns the dialect wraps for
// uniform decoding, and all tuple-mode columns, get an alias.
func (q *ModelQuery) selectExpr(p projection) string {
	ref := q.colSQL(p.col)
	expr := q.db.dialect.SelectExpr(ref, p.col.Type)
	alias := p.alias
	if alias == "" && expr != ref {
		alias = p.col.Name
	}
	if alias == "" {
		return expr
	}
	return expr + " AS " + q.quote(alias)
}

// projections returns the columns selected for decoding into tables, which
// must be the base table or joined tables. With more than one table every
// column is aliased table__column.
func (q *ModelQuery) projections(tables []*schema.Table) []projection {
	tuple := len(tables) > 1
	var out []projection
	for _, t := range tables {
		for _, c := range q.columnsFor(t) {
			p := projection{col: c}
			if tuple {
				p.alias = t.Name + tupleSep + c.Name
			}
			out = append(out, p)
		}
	}
	return out
}

// columnsFor returns the explicitly selected columns of t, or its default
// projection when nothing of t was selected.
func (q *ModelQuery) columnsFor(t *schema.Table) []*schema.Column {
	var cols []*schema.Column
	for _, c := range q.selected {
		if c.Table == t.Name {
			cols = append(cols, c)
		}
	}
	if len(cols) == 0 {
		return t.Selectable()
	}
	return cols
}

// fromClause renders FROM and the joins.
func (q *ModelQuery) fromClause(b *strings.Builder) {
	b.WriteString(" FROM ")
	b.WriteString(q.quote(q.table.Name))
	for _, j := range q.joins {
		b.WriteByte(' ')
		b.WriteString(string(j.kind))
		b.WriteByte(' ')
		b.WriteString(q.quote(j.table.Name))
		b.WriteString(" ON ")
		b.WriteString(q.colSQL(j.left))
		b.WriteString(" = ")
		b.WriteString(q.colSQL(j.right))
	}
}

// whereClause renders the filters in call order followed by the soft-delete
// predicate of the base table.
func (q *ModelQuery) whereClause(b *strings.Builder, args *argList, softDelete bool) {
	var conds []string
	for _, f := range q.filters {
		conds = append(conds, q.filterSQL(f, args))
	}
	if softDelete {
		if sd := q.table.SoftDelete(); sd != nil && !q.withDeleted {
			conds = append(conds, q.colSQL(sd)+" IS NULL")
		}
	}
	if len(conds) == 0 {
		return
	}
	b.WriteString(" WHERE ")
	b.WriteString(strings.Join(conds, " AND "))
}

func (q *ModelQuery) filterSQL(f filterClause, args *argList) string {
	col := q.colSQL(f.col)
	cast := q.db.dialect.PlaceholderCast(f.col.Type)

	switch f.op {
	case In, NotIn:
		if len(f.values) == 0 {
			if f.op == In {
				return "1 = 0"
			}
			return "1 = 1"
		}
		phs := make([]string, len(f.values))
		for i, v := range f.values {
			phs[i] = args.add(v, f.col.Name, cast)
		}
		return col + " " + string(f.op) + " (" + strings.Join(phs, ", ") + ")"
	case Like, NotLike:
		return col + " " + string(f.op) + " " + args.add(f.values[0], f.col.Name, "")
	case Eq, Ne:
		if f.values[0] == nil {
			if f.op == Eq {
				return col + " IS NULL"
			}
			return col + " IS NOT NULL"
		}
	}
	return col + " " + string(f.op) + " " + args.add(f.values[0], f.col.Name, cast)
}

func (q *ModelQuery) groupClause(b *strings.Builder, args *argList) {
	if len(q.groupBy) > 0 {
		cols := make([]string, len(q.groupBy))
		for i, c := range q.groupBy {
			cols[i] = q.colSQL(c)
		}
		b.WriteString(" GROUP BY ")
		b.WriteString(strings.Join(cols, ", "))
	}
	if len(q.having) > 0 {
		conds := make([]string, len(q.having))
		for i, h := range q.having {
			target := "*"
			if !h.star {
				target = q.colSQL(h.col)
			}
			if h.fn != "" {
				target = h.fn + "(" + target + ")"
			}
			conds[i] = target + " " + string(h.op) + " " + args.add(h.value, "", "")
		}
		b.WriteString(" HAVING ")
		b.WriteString(strings.Join(conds, " AND "))
	}
}

// orderClause renders ORDER BY. Terms are always table-qualified so they bind
// to the input column and never to a same-named output alias such as the
// text projection of a temporal column.
func (q *ModelQuery) orderClause(b *strings.Builder, order []orderItem) {
	if len(order) == 0 {
		return
	}
	terms := make([]string, len(order))
	for i, o := range order {
		terms[i] = q.quote(o.col.Table) + "." + q.quote(o.col.Name)
		if o.desc {
			terms[i] += " DESC"
		} else {
			terms[i] += " ASC"
		}
	}
	b.WriteString(" ORDER BY ")
	b.WriteString(strings.Join(terms, ", "))
}

func (q *ModelQuery) limitClause(b *strings.Builder, args *argList) {
	switch {
	case q.limit != nil:
		b.WriteString(" LIMIT ")
		b.WriteString(args.add(*q.limit, "", ""))
	case q.offset != nil:
		b.WriteString(" LIMIT ")
		b.WriteString(q.db.dialect.NoLimit())
	}
	if q.offset != nil {
		b.WriteString(" OFFSET ")
		b.WriteString(args.add(*q.offset, "", ""))
	}
}

// compileSelect renders a SELECT decoding into tables.
func (q *ModelQuery) compileSelect(tables []*schema.Table, order []orderItem) *statement {
	return q.compileProjection(q.projections(tables), order)
}

// compileProjection renders a SELECT of projs.
func (q *ModelQuery) compileProjection(projs []projection, order []orderItem) *statement {
	args := &argList{dialect: q.db.dialect}
	var b strings.Builder

	b.WriteString("SELECT ")
	if q.distinct {
		b.WriteString("DISTINCT ")
	}
	exprs := make([]string, len(projs))
	for i, p := range projs {
		exprs[i] = q.selectExpr(p)
	}
	b.WriteString(strings.Join(exprs, ", "))

	q.fromClause(&b)
	q.whereClause(&b, args, true)
	q.groupClause(&b, args)
	q.orderClause(&b, order)
	q.limitClause(&b, args)
	return args.statement(b.String(), q.table.Name)
}

// ToSQL renders the SELECT that Scan would run against the base table,
// without executing it.
func (q *ModelQuery) ToSQL() (string, []any, error) {
	if q.err != nil {
		return "", nil, q.err
	}
	st := q.compileSelect([]*schema.Table{q.table}, q.order)
	return st.sql, st.args, nil
}

// checkWritable rejects description parts UPDATE and DELETE cannot honor.
func (q *ModelQuery) checkWritable(op string) error {
	if q.err != nil {
		return q.err
	}
	switch {
	case len(q.joins) > 0:
		return errs.Invalid("%s does not support joins", op)
	case len(q.groupBy) > 0 || len(q.having) > 0:
		return errs.Invalid("%s does not support GROUP BY or HAVING", op)
	case q.limit != nil || q.offset != nil:
		return errs.Invalid("%s does not support LIMIT or OFFSET", op)
	}
	return nil
}

// assignment is one "col = value" term of an UPDATE.
type assignment struct {
	col   *schema.Column
	value any
}

// compileUpdate renders UPDATE ... SET ... WHERE filters.
func (q *ModelQuery) compileUpdate(sets []assignment, softDelete bool) *statement {
	args := &argList{dialect: q.db.dialect}
	var b strings.Builder

	b.WriteString("UPDATE ")
	b.WriteString(q.quote(q.table.Name))
	b.WriteString(" SET ")
	for i, s := range sets {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(q.quote(s.col.Name))
		b.WriteString(" = ")
		if s.value == nil {
			b.WriteString("NULL")
			continue
		}
		b.WriteString(args.add(s.value, s.col.Name, q.db.dialect.PlaceholderCast(s.col.Type)))
	}
	q.whereClause(&b, args, softDelete)
	return args.statement(b.String(), q.table.Name)
}

// compileDelete renders DELETE FROM ... WHERE filters.
func (q *ModelQuery) compileDelete() *statement {
	args := &argList{dialect: q.db.dialect}
	var b strings.Builder
	b.WriteString("DELETE FROM ")
	b.WriteString(q.quote(q.table.Name))
	q.whereClause(&b, args, true)
	return args.statement(b.String(), q.table.Name)
}

// compileInsert renders a multi-row INSERT. rows[i][j] is the bound value of
// cols[j] in row i.
func (q *ModelQuery) compileInsert(cols []*schema.Column, rows [][]any, returning *schema.Column) *statement {
	d := q.db.dialect
	args := &argList{dialect: d}
	var b strings.Builder

	b.WriteString("INSERT INTO ")
	b.WriteString(q.quote(q.table.Name))
	b.WriteString(" (")
	for i, c := range cols {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(q.quote(c.Name))
	}
	b.WriteString(") VALUES ")
	for r, row := range rows {
		if r > 0 {
			b.WriteString(", ")
		}
		b.WriteByte('(')
		for i, v := range row {
			if i > 0 {
				b.WriteString(", ")
			}
			if v == nil {
				b.WriteString("NULL")
				continue
			}
			b.WriteString(args.add(v, cols[i].Name, d.PlaceholderCast(cols[i].Type)))
		}
		b.WriteByte(')')
	}
	if returning != nil {
		b.WriteString(" RETURNING ")
		b.WriteString(q.quote(returning.Name))
	}
	return args.statement(b.String(), q.table.Name)
}

// compileAggregate renders SELECT fn(col) for Count, Sum, Avg, Min and Max.
func (q *ModelQuery) compileAggregate(fn string, col *schema.Column) *statement {
	args := &argList{dialect: q.db.dialect}
	var b strings.Builder

	if fn == "COUNT" && (len(q.groupBy) > 0 || q.distinct) {
		// count the groups or distinct rows, not the table
		b.WriteString("SELECT COUNT(*) FROM (SELECT ")
		if q.distinct {
			b.WriteString("DISTINCT ")
		}
		var exprs []string
		if len(q.groupBy) > 0 {
			for _, c := range q.groupBy {
				exprs = append(exprs, q.colSQL(c))
			}
		} else {
			for _, p := range q.projections([]*schema.Table{q.table}) {
				exprs = append(exprs, q.colSQL(p.col))
			}
		}
		b.WriteString(strings.Join(exprs, ", "))
		q.fromClause(&b)
		q.whereClause(&b, args, true)
		q.groupClause(&b, args)
		b.WriteString(") AS ")
		b.WriteString(q.quote("sub"))
		return args.statement(b.String(), q.table.Name)
	}

	target := "*"
	if col != nil {
		target = q.colSQL(col)
	}
	expr := fn + "(" + target + ")"
	if (fn == "MIN" || fn == "MAX") && col != nil {
		expr = q.db.dialect.SelectExpr(expr, col.Type)
	}

	b.WriteString("SELECT ")
	b.WriteString(expr)
	b.WriteString(" AS ")
	b.WriteString(q.quote(strings.ToLower(fn)))
	q.fromClause(&b)
	q.whereClause(&b, args, true)
	q.groupClause(&b, args)
	q.orderClause(&b, q.groupedOrder())
	return args.statement(b.String(), q.table.Name)
}

// groupedOrder keeps only order terms on grouping columns, the ones an
// aggregate query can still sort by.
func (q *ModelQuery) groupedOrder() []orderItem {
	var out []orderItem
	for _, o := range q.order {
		for _, g := range q.groupBy {
			if o.col == g {
				out = append(out, o)
				break
			}
		}
	}
	return out
}
