// Package store implements the SQLite-backed persistence layer: entity
// kinds, the database and its transactions, entities with fixed and flexible
// attributes, and lazy query results.
package store

import (
	"fmt"

	"github.com/kittclouds/flexstore/pkg/query"
	"github.com/kittclouds/flexstore/pkg/types"
)

// ComputedFunc derives a read-only field value from an entity.
type ComputedFunc func(e *Entity) types.Value

// FieldDef declares one fixed column.
type FieldDef struct {
	Name string
	Type types.Type
}

// RelationConfig declares the one statically-known join to a related kind.
// Join is the SQL ON predicate between the two main tables.
type RelationConfig struct {
	Kind string
	Join string
}

// KindConfig is the startup configuration for one entity kind. It replaces
// class-level registries with an explicit builder struct passed to Open.
type KindConfig struct {
	Name   string
	Table  string // defaults to Name
	Fields []FieldDef

	// FlexTypes are descriptors for known flexible attributes; Computed
	// registers provider functions for derived fields.
	FlexTypes map[string]types.Type
	Computed  map[string]ComputedFunc

	// Parser surface: named non-field query classes, per-field query class
	// overrides, extra prefix operators, sort aliases, and the fields
	// searched when a token carries no field prefix (defaults to all fixed
	// text fields).
	NamedQueries   map[string]query.NamedMaker
	QueryOverrides map[string]query.Maker
	Prefixes       map[string]query.Maker
	SortAliases    map[string]string
	AnyFields      []string

	// AlwaysDirty marks a field dirty on every assignment, even when the
	// value did not change.
	AlwaysDirty bool

	// TimestampField, when set, names a date field stamped once at Add time.
	TimestampField string

	Relation *RelationConfig
}

// Kind is a registered, immutable entity kind.
type Kind struct {
	name      string
	table     string
	flexTable string

	fields     []FieldDef
	fieldTypes map[string]types.Type
	flexTypes  map[string]types.Type
	computed   map[string]ComputedFunc

	named       map[string]query.NamedMaker
	overrides   map[string]query.Maker
	prefixes    map[string]query.Maker
	sortAliases map[string]string
	anyFields   []string

	alwaysDirty    bool
	timestampField string

	related      *Kind
	relationJoin string
}

func newKind(cfg KindConfig) (*Kind, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("kind config: missing name")
	}
	table := cfg.Table
	if table == "" {
		table = cfg.Name
	}
	fields := make([]FieldDef, 0, len(cfg.Fields)+1)
	index := make(map[string]types.Type, len(cfg.Fields)+1)
	hasID := false
	for _, f := range cfg.Fields {
		if f.Name == "id" {
			hasID = true
		}
		if f.Type == nil {
			return nil, fmt.Errorf("kind %s: field %s has no type", cfg.Name, f.Name)
		}
		if _, dup := index[f.Name]; dup {
			return nil, fmt.Errorf("kind %s: duplicate field %s", cfg.Name, f.Name)
		}
		fields = append(fields, f)
		index[f.Name] = f.Type
	}
	if !hasID {
		fields = append([]FieldDef{{Name: "id", Type: types.ID}}, fields...)
		index["id"] = types.ID
	}
	anyFields := cfg.AnyFields
	if anyFields == nil {
		for _, f := range fields {
			if f.Type.Affinity() == types.AffinityText {
				anyFields = append(anyFields, f.Name)
			}
		}
	}
	k := &Kind{
		name:           cfg.Name,
		table:          table,
		flexTable:      table + "_attributes",
		fields:         fields,
		fieldTypes:     index,
		flexTypes:      cfg.FlexTypes,
		computed:       cfg.Computed,
		named:          cfg.NamedQueries,
		overrides:      cfg.QueryOverrides,
		prefixes:       cfg.Prefixes,
		sortAliases:    cfg.SortAliases,
		anyFields:      anyFields,
		alwaysDirty:    cfg.AlwaysDirty,
		timestampField: cfg.TimestampField,
	}
	if k.timestampField != "" {
		if _, ok := index[k.timestampField]; !ok {
			return nil, fmt.Errorf("kind %s: timestamp field %s is not a fixed field", cfg.Name, k.timestampField)
		}
	}
	return k, nil
}

func (k *Kind) Name() string  { return k.name }
func (k *Kind) Table() string { return k.table }

// FlexTable is the side table holding untyped key/value attributes.
func (k *Kind) FlexTable() string { return k.flexTable }

// Fields lists the fixed columns in declaration order.
func (k *Kind) Fields() []FieldDef { return k.fields }

// Type resolves a field's descriptor with the documented precedence:
// fixed column, then known flexible or computed descriptor, then the generic
// passthrough default.
func (k *Kind) Type(field string) types.Type {
	if t, ok := k.fieldTypes[field]; ok {
		return t
	}
	if t, ok := k.flexTypes[field]; ok {
		return t
	}
	return types.Default
}

func (k *Kind) isFixed(field string) bool {
	_, ok := k.fieldTypes[field]
	return ok
}

// relatedOnly lists the related kind's fixed fields that do not exist on
// this kind; referencing one forces the static join.
func (k *Kind) relatedOnly() map[string]bool {
	if k.related == nil {
		return nil
	}
	only := make(map[string]bool)
	for _, f := range k.related.fields {
		if _, shadowed := k.fieldTypes[f.Name]; !shadowed {
			only[f.Name] = true
		}
	}
	return only
}

// QueryFields builds the parser description for this kind. Fixed columns are
// table-qualified so the related join can never make them ambiguous.
func (k *Kind) QueryFields() query.Fields {
	fixed := make(map[string]query.Field, len(k.fields))
	for _, f := range k.fields {
		fixed[f.Name] = query.Field{
			Name: f.Name,
			Col:  k.table + "." + f.Name,
			Type: f.Type,
		}
	}
	if k.related != nil {
		for _, f := range k.related.fields {
			if _, shadowed := fixed[f.Name]; !shadowed {
				fixed[f.Name] = query.Field{
					Name: f.Name,
					Col:  k.related.table + "." + f.Name,
					Type: f.Type,
				}
			}
		}
	}
	flex := make(map[string]types.Type, len(k.flexTypes)+len(k.computed))
	for name, t := range k.flexTypes {
		flex[name] = t
	}
	for name := range k.computed {
		if _, ok := flex[name]; !ok {
			flex[name] = types.Default
		}
	}
	prefixes := query.DefaultPrefixes()
	for p, mk := range k.prefixes {
		prefixes[p] = mk
	}
	return query.Fields{
		Fixed:       fixed,
		Flex:        flex,
		Named:       k.named,
		Overrides:   k.overrides,
		Prefixes:    prefixes,
		SortAliases: k.sortAliases,
		AnyFields:   k.anyFields,
	}
}

// touchesRelated reports whether a query or sort references fields unique
// to the related kind.
func (k *Kind) touchesRelated(q query.Query, s query.Sort) bool {
	if k.related == nil {
		return false
	}
	only := k.relatedOnly()
	if lister, ok := q.(query.FieldLister); ok {
		for _, name := range lister.QueryFields() {
			if only[name] {
				return true
			}
		}
	}
	for _, name := range query.SortFields(s) {
		if only[name] {
			return true
		}
	}
	return false
}
