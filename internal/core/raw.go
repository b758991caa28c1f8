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

// Params holds named parameter values for {:name} placeholders.
//
// Example:
//
//	var users []User
//	err := db.Raw("SELECT * FROM {{user}} WHERE [[id]] = {:id} OR [[name]] = {:name}").
//		Bind(core.Params{"id": 1, "name": "alice"}).
//		Scan(&users)
type Params map[string]any

// quoteRegex matches {{table}} and [[column]] references. Dots separate
// schema-qualified parts, each quoted on its own.
var quoteRegex = regexp.MustCompile(`(\{\{[\w\-. ]+\}\}|\[\[[\w\-. ]+\]\])`)

// RawQuery is a hand-written statement. Positional arguments use ?, named
// ones {:name}; both are rewritten to the dialect's placeholders. Quoted
// literals and identifiers are left untouched.
type RawQuery struct {
	db     *DB
	tx     *sql.Tx
	ctx    context.Context
	sql    string
	args   []any
	params Params
}

// Raw starts a raw query.
func (db *DB) Raw(query string, args ...any) *RawQuery {
	return &RawQuery{db: db, ctx: db.context(), sql: query, args: args}
}

// Raw starts a raw query that runs inside the transaction.
func (tx *Tx) Raw(query string, args ...any) *RawQuery {
	r := tx.db.Raw(query, args...)
	r.tx, r.ctx = tx.tx, tx.ctx
	return r
}

// WithContext sets the context for execution.
func (r *RawQuery) WithContext(ctx context.Context) *RawQuery {
	r.ctx = ctx
	return r
}

// Bind supplies values for {:name} placeholders. Repeated calls merge.
func (r *RawQuery) Bind(params Params) *RawQuery {
	if r.params == nil {
		r.params = make(Params, len(params))
	}
	for k, v := range params {
		r.params[k] = v
	}
	return r
}

// compile quotes identifiers and rewrites placeholders in a single pass over
// the text, skipping string literals and already-quoted identifiers.
func (r *RawQuery) compile() (*statement, error) {
	text := quoteRegex.ReplaceAllStringFunc(r.sql, func(match string) string {
		return r.db.quoteIdentifier(match[2 : len(match)-2])
	})

	var (
		b          strings.Builder
		args       []any
		positional int
	)
	add := func(v any) error {
		bound, cast, err := r.db.bindRaw(v)
		if err != nil {
			return err
		}
		args = append(args, bound)
		b.WriteString(r.db.dialect.Placeholder(len(args)))
		b.WriteString(cast)
		return nil
	}

	for i := 0; i < len(text); i++ {
		ch := text[i]
		switch {
		case ch == '\'' || ch == '"' || ch == '`':
			end := closingQuote(text, i)
			b.WriteString(text[i:end])
			i = end - 1
		case ch == '?':
			if positional >= len(r.args) {
				return nil, errs.Invalid("raw query has more ? placeholders than arguments (%d)", len(r.args))
			}
			if err := add(r.args[positional]); err != nil {
				return nil, err
			}
			positional++
		case ch == '{' && strings.HasPrefix(text[i:], "{:"):
			end := strings.IndexByte(text[i:], '}')
			name := ""
			if end > 2 {
				name = text[i+2 : i+end]
			}
			if !isParamName(name) {
				b.WriteByte(ch)
				continue
			}
			v, ok := r.params[name]
			if !ok {
				return nil, errs.Invalid("missing parameter: %s", name)
			}
			if err := add(v); err != nil {
				return nil, err
			}
			i += end
		default:
			b.WriteByte(ch)
		}
	}
	if positional != len(r.args) {
		return nil, errs.Invalid("raw query has %d ? placeholders but %d arguments", positional, len(r.args))
	}
	return &statement{sql: b.String(), args: args, raw: true}, nil
}

// closingQuote returns the index just past the literal or identifier that
// starts at text[start]. A doubled quote character is an escape.
func closingQuote(text string, start int) int {
	q := text[start]
	for i := start + 1; i < len(text); i++ {
		if text[i] != q {
			continue
		}
		if i+1 < len(text) && text[i+1] == q {
			i++
			continue
		}
		return i + 1
	}
	return len(text)
}

func isParamName(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		if c != '_' && (c < 'a' || c > 'z') && (c < 'A' || c > 'Z') && (c < '0' || c > '9') {
			return false
		}
	}
	return true
}

// quoteIdentifier quotes an identifier, each dot-separated part on its own:
// public.users -> "public"."users".
func (db *DB) quoteIdentifier(identifier string) string {
	parts := strings.Split(identifier, ".")
	for i, part := range parts {
		parts[i] = db.dialect.QuoteIdentifier(strings.TrimSpace(part))
	}
	return strings.Join(parts, ".")
}

// bindRaw binds a raw argument. Temporal and UUID values go through the
// binder and carry the dialect cast; everything else passes through.
func (db *DB) bindRaw(v any) (any, string, error) {
	t, ok := binder.Infer(v)
	if !ok {
		return v, "", nil
	}
	switch {
	case t.Kind.IsTemporal(), t.Kind == schema.UUID:
		bound, err := binder.BindType(db.dialect, t, "", "", v)
		if err != nil {
			return nil, "", err
		}
		return bound, db.dialect.PlaceholderCast(t), nil
	}
	return v, "", nil
}

// SQL returns the rewritten statement and its arguments without running it.
func (r *RawQuery) SQL() (string, []any, error) {
	st, err := r.compile()
	if err != nil {
		return "", nil, err
	}
	return st.sql, st.args, nil
}

// Execute runs a statement that returns no rows.
func (r *RawQuery) Execute() (sql.Result, error) {
	st, err := r.compile()
	if err != nil {
		return nil, err
	}
	return r.db.exec(r.ctx, r.tx, st)
}

// Scan decodes rows into records. dest is a pointer to a slice of records,
// or a pointer to one record, which receives the first row and yields a
// NotFoundError when there is none. Registered models match their columns;
// any other struct is a projection whose `db` tags name the result columns
// and whose field types pick the decoding. Columns without a matching field
// are ignored.
func (r *RawQuery) Scan(dest any) error {
	st, err := r.compile()
	if err != nil {
		return err
	}

	var (
		one reflect.Value
		typ reflect.Type
	)
	s, sliceErr := newSliceDest(dest)
	if sliceErr == nil {
		typ = s.elem
	} else {
		if one, err = structDest(dest); err != nil {
			return errs.Invalid("raw Scan destination must be *T or *[]T for a struct, got %T", dest)
		}
		typ = one.Type()
	}
	plan, table, err := r.db.rawPlan(typ)
	if err != nil {
		return err
	}
	st.table = table

	if s != nil {
		s.reset()
		return r.db.query(r.ctx, r.tx, st, func(rows *sql.Rows) error {
			scanner, err := plan.scanner(r.db.dialect, rows)
			if err != nil {
				return err
			}
			dests := make([]reflect.Value, 1)
			for rows.Next() {
				dests[0] = s.next()
				if err := scanner.scanRow(rows, dests); err != nil {
					return err
				}
				s.append(dests[0])
			}
			return nil
		})
	}

	found := false
	err = r.db.query(r.ctx, r.tx, st, func(rows *sql.Rows) error {
		if !rows.Next() {
			return nil
		}
		found = true
		scanner, err := plan.scanner(r.db.dialect, rows)
		if err != nil {
			return err
		}
		return scanner.scanRow(rows, []reflect.Value{one})
	})
	if err != nil {
		return err
	}
	if !found {
		if table == "" {
			table = "row"
		}
		return &errs.NotFoundError{Table: table}
	}
	return nil
}

// Maps returns every row as column name -> nullable text.
func (r *RawQuery) Maps() ([]NullStringMap, error) {
	st, err := r.compile()
	if err != nil {
		return nil, err
	}
	var out []NullStringMap
	err = r.db.query(r.ctx, r.tx, st, func(rows *sql.Rows) error {
		var err error
		out, err = scanMapRows(rows)
		return err
	})
	return out, err
}

// Scalar decodes the first column of the first row into dest, a pointer to
// a supported scalar type. It returns a NotFoundError when there is no row.
func (r *RawQuery) Scalar(dest any) error {
	dv := reflect.ValueOf(dest)
	if dv.Kind() != reflect.Ptr || dv.IsNil() {
		return errs.Invalid("Scalar destination must be a non-nil pointer, got %T", dest)
	}
	st, err := r.compile()
	if err != nil {
		return err
	}

	found := false
	err = r.db.query(r.ctx, r.tx, st, func(rows *sql.Rows) error {
		if !rows.Next() {
			return nil
		}
		found = true
		columns, err := rows.Columns()
		if err != nil {
			return err
		}
		if len(columns) == 0 {
			return errs.Invalid("Scalar query returned no columns")
		}
		raw := make([]any, len(columns))
		ptrs := make([]any, len(columns))
		for i := range raw {
			ptrs[i] = &raw[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return err
		}
		return binder.DecodeScalar(r.db.dialect, columns[0], raw[0], dv.Elem())
	})
	if err != nil {
		return err
	}
	if !found {
		return &errs.NotFoundError{Table: "row"}
	}
	return nil
}
