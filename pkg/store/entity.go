package store

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/kittclouds/flexstore/pkg/query"
	"github.com/kittclouds/flexstore/pkg/types"
)

// Entity is one addressable record: typed fixed fields from the kind's main
// table, untyped flexible attributes from the side table (typed lazily on
// first read), and read-only computed fields from registered providers.
// Entities are not safe for concurrent use without external synchronization.
type Entity struct {
	db   *Database
	kind *Kind
	id   int64

	values    map[string]types.Value
	flexRaw   map[string]string
	flexTyped map[string]types.Value

	// dirty holds the names changed since the last load or store. A dirty
	// flexible key absent from flexRaw is a pending deletion.
	dirty map[string]struct{}

	// syncedRev is the database revision this entity was last read under.
	syncedRev int64
}

// Compile-time interface check: entities are the records queries and sorts
// evaluate against.
var _ query.Record = (*Entity)(nil)

// NewEntity constructs an empty, unattached entity of a kind.
func NewEntity(k *Kind) *Entity {
	return &Entity{
		kind:      k,
		values:    make(map[string]types.Value),
		flexRaw:   make(map[string]string),
		flexTyped: make(map[string]types.Value),
		dirty:     make(map[string]struct{}),
	}
}

// convertSQL lifts a driver value into the tagged union.
func convertSQL(raw any) types.Value {
	switch r := raw.(type) {
	case nil:
		return types.Null()
	case int64:
		return types.Int(r)
	case float64:
		return types.Float(r)
	case string:
		return types.Text(r)
	case []byte:
		return types.Blob(r)
	case bool:
		if r {
			return types.Int(1)
		}
		return types.Int(0)
	}
	return types.Text(fmt.Sprint(raw))
}

// sqlBind lowers a value to what the driver expects for a fixed column.
func sqlBind(v types.Value) any {
	switch v.Kind() {
	case types.KindNull:
		return nil
	case types.KindInteger:
		return v.Int64()
	case types.KindFloat:
		return v.Float64()
	case types.KindText:
		return v.Str()
	case types.KindBytes:
		return v.Bytes()
	}
	return v.String()
}

// entityFromRow materializes an entity from fetched rows. The maps are
// copied; cached rows stay immutable.
func entityFromRow(db *Database, k *Kind, cols map[string]any, flex map[string]string, rev int64) *Entity {
	e := NewEntity(k)
	e.db = db
	for _, f := range k.fields {
		e.values[f.Name] = f.Type.Normalize(convertSQL(cols[f.Name]))
	}
	e.id = e.values["id"].Int64()
	for key, val := range flex {
		e.flexRaw[key] = val
	}
	e.syncedRev = rev
	return e
}

func (e *Entity) Kind() *Kind { return e.kind }
func (e *Entity) ID() int64   { return e.id }

// Value implements query.Record: computed fields take precedence, then
// fixed fields (the descriptor's null when unset), then flexible fields.
// Unknown fields are null.
func (e *Entity) Value(field string) types.Value {
	if provider, ok := e.kind.computed[field]; ok {
		return provider(e)
	}
	if typ, ok := e.kind.fieldTypes[field]; ok {
		if v, ok := e.values[field]; ok {
			return v
		}
		return typ.Null()
	}
	if v, ok := e.flexTyped[field]; ok {
		return v
	}
	if raw, ok := e.flexRaw[field]; ok {
		v := e.kind.Type(field).FromStorage(raw)
		e.flexTyped[field] = v
		return v
	}
	return types.Null()
}

// FormattedValue renders a field through its descriptor.
func (e *Entity) FormattedValue(field string) string {
	return e.kind.Type(field).Format(e.Value(field))
}

// Get returns a field's value, or ErrNoSuchField for names that are neither
// computed, fixed, nor present as flexible attributes.
func (e *Entity) Get(field string) (types.Value, error) {
	if !e.Contains(field) {
		return types.Null(), fmt.Errorf("%w: %s", ErrNoSuchField, field)
	}
	return e.Value(field), nil
}

// GetDefault returns the field's value, or def when the field is unknown.
func (e *Entity) GetDefault(field string, def types.Value) types.Value {
	if !e.Contains(field) {
		return def
	}
	return e.Value(field)
}

// Contains reports whether the name is a computed field, a fixed field, or a
// present flexible attribute.
func (e *Entity) Contains(field string) bool {
	if _, ok := e.kind.computed[field]; ok {
		return true
	}
	if _, ok := e.kind.fieldTypes[field]; ok {
		return true
	}
	_, ok := e.flexRaw[field]
	return ok
}

func (e *Entity) markDirty(field string, changed bool) {
	if changed || e.kind.alwaysDirty {
		e.dirty[field] = struct{}{}
	}
}

// Set assigns a field. Fixed fields are normalized by their descriptor and
// stored typed; any other name becomes a flexible attribute stored as text.
// The field turns dirty when the value actually changed, or on every
// assignment for always-dirty kinds.
func (e *Entity) Set(field string, v types.Value) {
	if typ, ok := e.kind.fieldTypes[field]; ok {
		norm := typ.Normalize(v)
		old, had := e.values[field]
		if !had {
			old = typ.Null()
		}
		e.markDirty(field, !norm.Equal(old))
		e.values[field] = norm
		return
	}
	typ := e.kind.Type(field)
	norm := typ.Normalize(v)
	raw := typ.ToStorage(norm)
	old, had := e.flexRaw[field]
	e.markDirty(field, !had || old != raw)
	e.flexRaw[field] = raw
	e.flexTyped[field] = norm
}

// SetParsed assigns from user text using the field's parse rule.
func (e *Entity) SetParsed(field, text string) {
	e.Set(field, e.kind.Type(field).Parse(text))
}

// Update assigns several fields at once.
func (e *Entity) Update(values map[string]types.Value) {
	for field, v := range values {
		e.Set(field, v)
	}
}

// Del removes a flexible attribute (the next Store deletes its row) or
// resets a fixed field to its descriptor's null. Computed and unknown
// fields cannot be deleted.
func (e *Entity) Del(field string) error {
	if _, ok := e.kind.computed[field]; ok {
		return fmt.Errorf("%w: cannot delete computed field %s", ErrNoSuchField, field)
	}
	if typ, ok := e.kind.fieldTypes[field]; ok {
		e.Set(field, typ.Null())
		return nil
	}
	if _, ok := e.flexRaw[field]; !ok {
		return fmt.Errorf("%w: %s", ErrNoSuchField, field)
	}
	delete(e.flexRaw, field)
	delete(e.flexTyped, field)
	e.dirty[field] = struct{}{}
	return nil
}

// FieldNames lists fixed fields in declaration order, then present flexible
// attributes, then (optionally) computed fields, the latter two sorted.
func (e *Entity) FieldNames(computed bool) []string {
	names := make([]string, 0, len(e.kind.fields)+len(e.flexRaw))
	for _, f := range e.kind.fields {
		names = append(names, f.Name)
	}
	flex := make([]string, 0, len(e.flexRaw))
	for k := range e.flexRaw {
		flex = append(flex, k)
	}
	sort.Strings(flex)
	names = append(names, flex...)
	if computed {
		provided := make([]string, 0, len(e.kind.computed))
		for k := range e.kind.computed {
			provided = append(provided, k)
		}
		sort.Strings(provided)
		names = append(names, provided...)
	}
	return names
}

// Copy returns an independent clone sharing the database association.
func (e *Entity) Copy() *Entity {
	c := NewEntity(e.kind)
	c.db = e.db
	c.id = e.id
	c.syncedRev = e.syncedRev
	for k, v := range e.values {
		c.values[k] = v
	}
	for k, v := range e.flexRaw {
		c.flexRaw[k] = v
	}
	for k, v := range e.flexTyped {
		c.flexTyped[k] = v
	}
	for k := range e.dirty {
		c.dirty[k] = struct{}{}
	}
	return c
}

func (e *Entity) requireDB() error {
	if e.db == nil {
		return ErrNoDatabase
	}
	return nil
}

func (e *Entity) requireID() error {
	if e.id == 0 {
		return ErrNoID
	}
	return nil
}

// Add inserts a default row to obtain an identifier, stamps the kind's
// creation timestamp, marks every non-null field dirty and stores them, all
// inside one transaction.
func (e *Entity) Add(db *Database) error {
	if e.id != 0 {
		return fmt.Errorf("add %s: entity already has identifier %d", e.kind.name, e.id)
	}
	if db != nil {
		e.db = db
	}
	if err := e.requireDB(); err != nil {
		return err
	}
	err := e.db.transact(func(tx *Transaction) error {
		id, err := tx.Mutate("INSERT INTO " + e.kind.table + " DEFAULT VALUES")
		if err != nil {
			return err
		}
		e.id = id
		e.values["id"] = types.Int(id)
		if ts := e.kind.timestampField; ts != "" {
			if v, ok := e.values[ts]; !ok || v.IsNull() || v.Float64() == 0 {
				e.Set(ts, types.Float(float64(time.Now().Unix())))
			}
		}
		for _, f := range e.kind.fields {
			if f.Name == "id" {
				continue
			}
			if v, ok := e.values[f.Name]; ok && !v.IsNull() {
				e.dirty[f.Name] = struct{}{}
			}
		}
		for key := range e.flexRaw {
			e.dirty[key] = struct{}{}
		}
		return e.storeFields(tx, nil)
	})
	if err != nil {
		return err
	}
	e.syncedRev = e.db.Revision()
	return nil
}

// Store persists dirty fields inside one transaction: one UPDATE for the
// changed fixed columns, an upsert per changed flexible key, a delete per
// removed flexible key. A non-empty fields argument restricts which dirty
// fields are persisted; only those lose their dirtiness.
func (e *Entity) Store(fields ...string) error {
	if err := e.requireDB(); err != nil {
		return err
	}
	if err := e.requireID(); err != nil {
		return err
	}
	err := e.db.transact(func(tx *Transaction) error {
		return e.storeFields(tx, fields)
	})
	if err != nil {
		return err
	}
	e.db.rowCache.Remove(rowKey{e.kind.name, e.id})
	e.syncedRev = e.db.Revision()
	return nil
}

func (e *Entity) storeFields(tx *Transaction, only []string) error {
	wanted := func(field string) bool {
		if len(only) == 0 {
			return true
		}
		for _, f := range only {
			if f == field {
				return true
			}
		}
		return false
	}

	var assigns []string
	var args []any
	var stored []string
	for _, f := range e.kind.fields {
		if f.Name == "id" {
			continue
		}
		if _, dirty := e.dirty[f.Name]; !dirty || !wanted(f.Name) {
			continue
		}
		assigns = append(assigns, f.Name+" = ?")
		args = append(args, sqlBind(e.values[f.Name]))
		stored = append(stored, f.Name)
	}
	if len(assigns) > 0 {
		stmt := "UPDATE " + e.kind.table + " SET " + strings.Join(assigns, ", ") + " WHERE id = ?"
		if _, err := tx.Mutate(stmt, append(args, e.id)...); err != nil {
			return err
		}
	}

	for field := range e.dirty {
		if e.kind.isFixed(field) || !wanted(field) {
			continue
		}
		if raw, present := e.flexRaw[field]; present {
			_, err := tx.Mutate(
				"INSERT INTO "+e.kind.flexTable+" (entity_id, key, value) VALUES (?, ?, ?)",
				e.id, field, raw)
			if err != nil {
				return err
			}
		} else {
			_, err := tx.Mutate(
				"DELETE FROM "+e.kind.flexTable+" WHERE entity_id = ? AND key = ?",
				e.id, field)
			if err != nil {
				return err
			}
		}
		stored = append(stored, field)
	}

	for _, field := range stored {
		delete(e.dirty, field)
	}
	return nil
}

// Load refreshes the entity from storage, but only when it is dirty or the
// database revision moved past the entity's last sync. In-memory state is
// replaced wholesale and dirtiness cleared.
func (e *Entity) Load() error {
	if err := e.requireDB(); err != nil {
		return err
	}
	if err := e.requireID(); err != nil {
		return err
	}
	if len(e.dirty) == 0 && e.syncedRev == e.db.Revision() {
		return nil
	}
	cols, flex, found, err := e.db.loadRow(e.kind, e.id)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("load %s: entity %d no longer exists", e.kind.name, e.id)
	}
	fresh := entityFromRow(e.db, e.kind, cols, flex, e.db.Revision())
	e.values = fresh.values
	e.flexRaw = fresh.flexRaw
	e.flexTyped = fresh.flexTyped
	e.dirty = make(map[string]struct{})
	e.syncedRev = fresh.syncedRev
	return nil
}

// Remove deletes the entity's rows from both tables inside one transaction.
func (e *Entity) Remove() error {
	if err := e.requireDB(); err != nil {
		return err
	}
	if err := e.requireID(); err != nil {
		return err
	}
	err := e.db.transact(func(tx *Transaction) error {
		if _, err := tx.Mutate("DELETE FROM "+e.kind.table+" WHERE id = ?", e.id); err != nil {
			return err
		}
		_, err := tx.Mutate("DELETE FROM "+e.kind.flexTable+" WHERE entity_id = ?", e.id)
		return err
	})
	if err != nil {
		return err
	}
	e.db.rowCache.Remove(rowKey{e.kind.name, e.id})
	return nil
}
