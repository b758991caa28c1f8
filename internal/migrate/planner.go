// Package migrate plans and applies the DDL for registered tables in two
// phases: table creation (with inline constraints where the dialect requires
// them) and foreign key attachment.
package migrate

import (
	"context"
	"database/sql"
	"strings"

	"github.com/coregx/ormica/internal/dialects"
	"github.com/coregx/ormica/internal/errs"
	"github.com/coregx/ormica/internal/logger"
	"github.com/coregx/ormica/internal/schema"
)

// Statement is one DDL statement and the table it belongs to.
type Statement struct {
	Table string
	SQL   string
}

// Plan is the ordered DDL for one migration run.
type Plan struct {
	// Tables holds CREATE TABLE and CREATE INDEX statements.
	Tables []Statement
	// ForeignKeys holds standalone constraint statements, run after all tables exist.
	ForeignKeys []Statement
}

// Execer executes a statement. *sql.DB, *sql.Tx and the core DB satisfy it.
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Planner computes and applies migration plans.
type Planner struct {
	registry *schema.Registry
	dialect  dialects.Dialect
	logger   logger.Logger
}

// Option configures a Planner.
type Option func(*Planner)

// WithLogger sets the logger used for phase and skip messages.
func WithLogger(l logger.Logger) Option {
	return func(p *Planner) {
		if l != nil {
			p.logger = l
		}
	}
}

// NewPlanner creates a planner for the registry and dialect.
func NewPlanner(registry *schema.Registry, d dialects.Dialect, opts ...Option) *Planner {
	p := &Planner{registry: registry, dialect: d, logger: &logger.NoopLogger{}}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = logger.With(p.logger, "component", "migrate", "database", d.Name())
	return p
}

// Plan renders the DDL. Unregistered foreign key targets are a configuration
// error.
func (p *Planner) Plan() (*Plan, error) {
	if err := p.registry.Validate(); err != nil {
		return nil, err
	}

	caps := p.dialect.Capabilities()
	tables := p.registry.Tables()
	if caps.InlineForeignKeys {
		ordered, err := dependencyOrder(tables)
		if err != nil {
			return nil, err
		}
		tables = ordered
	}

	plan := &Plan{}
	for _, t := range tables {
		plan.Tables = append(plan.Tables, Statement{Table: t.Name, SQL: p.createTable(t)})

		if !caps.InlineIndexes {
			for _, c := range t.Columns {
				if c.Indexed && !c.PrimaryKey {
					plan.Tables = append(plan.Tables, Statement{Table: t.Name, SQL: p.dialect.IndexDDL(t.Name, c.Name, c.Unique)})
				}
			}
		}

		if !caps.InlineForeignKeys {
			for _, c := range t.ForeignKeys() {
				plan.ForeignKeys = append(plan.ForeignKeys, Statement{
					Table: t.Name,
					SQL:   p.dialect.ForeignKeyDDL(t.Name, c.Name, c.ForeignKey.Table, c.ForeignKey.Column),
				})
			}
		}
	}
	return plan, nil
}

// Run plans and applies the migration.
func (p *Planner) Run(ctx context.Context, exec Execer) error {
	plan, err := p.Plan()
	if err != nil {
		return err
	}
	return p.Apply(ctx, exec, plan)
}

// Apply executes a plan. Phase 2 statements that fail because the constraint
// already exists are skipped; any other failure aborts the run.
func (p *Planner) Apply(ctx context.Context, exec Execer, plan *Plan) error {
	p.logger.Info("migration: creating tables", "statements", len(plan.Tables))
	for _, st := range plan.Tables {
		if err := p.exec(ctx, exec, st); err != nil {
			return err
		}
	}

	if len(plan.ForeignKeys) == 0 {
		return nil
	}

	p.logger.Info("migration: attaching foreign keys", "statements", len(plan.ForeignKeys))
	for _, st := range plan.ForeignKeys {
		if err := p.exec(ctx, exec, st); err != nil {
			return err
		}
	}
	return nil
}

func (p *Planner) exec(ctx context.Context, exec Execer, st Statement) error {
	_, err := exec.ExecContext(ctx, st.SQL)
	if err == nil {
		return nil
	}
	if p.dialect.IsDuplicateObject(err) {
		p.logger.Debug("migration: object already exists, skipping", "table", st.Table, "sql", st.SQL)
		return nil
	}
	return errs.Wrap(err, "migrate "+st.Table)
}

func (p *Planner) createTable(t *schema.Table) string {
	d := p.dialect
	caps := d.Capabilities()
	defs := make([]string, 0, len(t.Columns)+2)

	for _, c := range t.Columns {
		defs = append(defs, p.columnDef(c))
	}
	if caps.InlineForeignKeys {
		for _, c := range t.ForeignKeys() {
			defs = append(defs, d.ForeignKeyDDL(t.Name, c.Name, c.ForeignKey.Table, c.ForeignKey.Column))
		}
	}
	if caps.InlineIndexes {
		for _, c := range t.Columns {
			if c.Indexed && !c.PrimaryKey {
				defs = append(defs, d.IndexDDL(t.Name, c.Name, c.Unique))
			}
		}
	}

	return "CREATE TABLE IF NOT EXISTS " + d.QuoteIdentifier(t.Name) + " (" + strings.Join(defs, ", ") + ")"
}

func (p *Planner) columnDef(c *schema.Column) string {
	d := p.dialect
	name := d.QuoteIdentifier(c.Name)
	if c.Auto {
		return name + " " + d.AutoIncrement(c.Type)
	}

	var b strings.Builder
	b.WriteString(name)
	b.WriteByte(' ')
	b.WriteString(d.SQLType(c.Type, c.Size, c.Keyed()))
	if c.PrimaryKey {
		b.WriteString(" PRIMARY KEY")
	} else if !c.Type.Nullable {
		b.WriteString(" NOT NULL")
	}
	if c.CreateTime || c.UpdateTime {
		b.WriteString(" DEFAULT ")
		b.WriteString(d.CurrentTimestamp(c.Type))
	}
	if c.Unique && !c.PrimaryKey && !c.Indexed {
		b.WriteString(" UNIQUE")
	}
	return b.String()
}

// dependencyOrder sorts tables so that foreign key targets come first, keeping
// registration order wherever dependencies allow. Self references are fine.
func dependencyOrder(tables []*schema.Table) ([]*schema.Table, error) {
	placed := make(map[string]bool, len(tables))
	out := make([]*schema.Table, 0, len(tables))
	remaining := append([]*schema.Table(nil), tables...)

	for len(remaining) > 0 {
		progressed := false
		for i, t := range remaining {
			if !depsPlaced(t, placed) {
				continue
			}
			out = append(out, t)
			placed[t.Name] = true
			remaining = append(remaining[:i], remaining[i+1:]...)
			progressed = true
			break
		}
		if !progressed {
			names := make([]string, len(remaining))
			for i, t := range remaining {
				names[i] = t.Name
			}
			return nil, errs.Schema(remaining[0].Name, "",
				"foreign key cycle among %s cannot be created with inline constraints", strings.Join(names, ", "))
		}
	}
	return out, nil
}

func depsPlaced(t *schema.Table, placed map[string]bool) bool {
	for _, c := range t.ForeignKeys() {
		if c.ForeignKey.Table != t.Name && !placed[c.ForeignKey.Table] {
			return false
		}
	}
	return true
}
