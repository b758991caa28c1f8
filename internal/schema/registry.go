package schema

import (
	"reflect"
	"sync"

	"github.com/coregx/ormica/internal/errs"
)

// Registry maps record types and table names to their schemas. Registration
// order is preserved and drives default table creation order.
type Registry struct {
	mu     sync.RWMutex
	tables []*Table
	byType map[reflect.Type]*Table
	byName map[string]*Table
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		byType: make(map[reflect.Type]*Table),
		byName: make(map[string]*Table),
	}
}

// Register adds a table. It fails with DuplicateTable when the name is taken.
func (r *Registry) Register(t *Table) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byName[t.Name]; exists {
		return errs.DuplicateTable(t.Name)
	}
	if t.Type != nil {
		if prev, exists := r.byType[t.Type]; exists {
			return errs.Schema(t.Name, "", "type %s already registered as %q", t.Type, prev.Name)
		}
		r.byType[t.Type] = t
	}
	r.byName[t.Name] = t
	r.tables = append(r.tables, t)
	return nil
}

// RegisterModels derives and registers a table for each struct value.
func (r *Registry) RegisterModels(models ...any) error {
	for _, m := range models {
		t, err := FromStruct(m)
		if err != nil {
			return err
		}
		if err := r.Register(t); err != nil {
			return err
		}
	}
	return nil
}

// Lookup returns the table registered for the type of model. Pointers and
// slices are unwrapped.
func (r *Registry) Lookup(model any) (*Table, error) {
	typ := reflect.TypeOf(model)
	if typ == nil {
		return nil, errs.UnknownModel("<nil>")
	}
	return r.LookupType(typ)
}

// LookupType is Lookup for a reflect.Type.
func (r *Registry) LookupType(typ reflect.Type) (*Table, error) {
	for typ.Kind() == reflect.Ptr || typ.Kind() == reflect.Slice {
		typ = typ.Elem()
	}

	r.mu.RLock()
	t, ok := r.byType[typ]
	r.mu.RUnlock()
	if !ok {
		return nil, errs.UnknownModel(typ.String())
	}
	return t, nil
}

// Table returns the table registered under name.
func (r *Registry) Table(name string) (*Table, error) {
	r.mu.RLock()
	t, ok := r.byName[name]
	r.mu.RUnlock()
	if !ok {
		return nil, errs.UnknownModel(name)
	}
	return t, nil
}

// Tables returns the registered tables in registration order.
func (r *Registry) Tables() []*Table {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Table, len(r.tables))
	copy(out, r.tables)
	return out
}

// Validate checks cross-table invariants: every foreign key must point at a
// registered table and an existing column of it.
func (r *Registry) Validate() error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, t := range r.tables {
		for _, c := range t.ForeignKeys() {
			target, ok := r.byName[c.ForeignKey.Table]
			if !ok {
				return errs.Schema(t.Name, c.Name, "foreign key target table %q is not registered", c.ForeignKey.Table)
			}
			if _, ok := target.Column(c.ForeignKey.Column); !ok {
				return errs.Schema(t.Name, c.Name, "foreign key target column %q.%q does not exist",
					c.ForeignKey.Table, c.ForeignKey.Column)
			}
		}
	}
	return nil
}
