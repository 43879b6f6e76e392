// Package query implements the dual-path query and sort expression trees and
// the user-facing query string parser.
//
// Every Query can render itself as an SQL fragment (the fast path) when all
// the fields it touches are fixed columns, and can always evaluate itself
// in memory against a Record (the slow path). The two paths are semantically
// equivalent wherever the fast path exists.
package query

import (
	"regexp"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/kittclouds/flexstore/pkg/types"
)

// Record is the read surface a query or sort evaluates against. The store's
// Entity implements it.
type Record interface {
	// Value returns the typed value of a field, null when absent.
	Value(field string) types.Value
	// FormattedValue returns the field's value rendered by its descriptor.
	FormattedValue(field string) string
}

// Query is an immutable predicate over records.
type Query interface {
	// Clause returns the SQL fragment and bound arguments for the fast
	// path. ok is false when the query can only run in memory.
	Clause() (clause string, args []any, ok bool)
	// Match evaluates the predicate in memory.
	Match(r Record) bool
}

// FieldLister exposes the field names a query references. The store uses it
// to decide whether the related kind's table must be joined.
type FieldLister interface {
	QueryFields() []string
}

// Field identifies the target of a field query: the user-facing name, the
// SQL column expression (table-qualified by the store), the descriptor, and
// whether the field lives outside the main table (flexible or computed, so
// no fast clause exists).
type Field struct {
	Name string
	Col  string
	Type types.Type
	Slow bool
}

// F builds a fast Field over a plain column of the same name.
func F(name string) Field { return Field{Name: name} }

func (f Field) column() string {
	if f.Col != "" {
		return f.Col
	}
	return f.Name
}

func (f Field) descriptor() types.Type {
	if f.Type != nil {
		return f.Type
	}
	return types.Default
}

// Maker constructs a field query of some variant; the parser resolves which
// Maker applies to a token.
type Maker func(f Field, pattern string) (Query, error)

type fieldQuery struct {
	field   Field
	pattern string
}

func (q fieldQuery) QueryFields() []string { return []string{q.field.Name} }

// FieldName and Pattern expose the target and raw pattern of a field query.
func (q fieldQuery) FieldName() string { return q.field.Name }
func (q fieldQuery) Pattern() string   { return q.pattern }

func bindValue(v types.Value) any {
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

// likeEscape escapes the LIKE metacharacters so patterns match literally
// under ESCAPE '\'.
func likeEscape(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

// MatchQuery matches a field for exact (typed) equality.
type MatchQuery struct {
	fieldQuery
	val types.Value
}

func NewMatch(f Field, pattern string) *MatchQuery {
	return &MatchQuery{fieldQuery{f, pattern}, f.descriptor().Parse(pattern)}
}

// NewMatchValue matches against an already-typed value.
func NewMatchValue(f Field, v types.Value) *MatchQuery {
	return &MatchQuery{fieldQuery{f, v.String()}, f.descriptor().Normalize(v)}
}

func (q *MatchQuery) Clause() (string, []any, bool) {
	if q.field.Slow {
		return "", nil, false
	}
	if q.val.IsNull() {
		return q.field.column() + " IS NULL", nil, true
	}
	return q.field.column() + " = ?", []any{bindValue(q.val)}, true
}

func (q *MatchQuery) Match(r Record) bool {
	return q.val.Equal(r.Value(q.field.Name))
}

// StringQuery matches a whole string, case-insensitively.
type StringQuery struct {
	fieldQuery
}

func NewString(f Field, pattern string) *StringQuery {
	return &StringQuery{fieldQuery{f, pattern}}
}

func (q *StringQuery) Clause() (string, []any, bool) {
	if q.field.Slow {
		return "", nil, false
	}
	return q.field.column() + ` LIKE ? ESCAPE '\'`, []any{likeEscape(q.pattern)}, true
}

func (q *StringQuery) Match(r Record) bool {
	return strings.EqualFold(r.FormattedValue(q.field.Name), q.pattern)
}

// SubstringQuery matches a case-insensitive substring.
type SubstringQuery struct {
	fieldQuery
}

func NewSubstring(f Field, pattern string) *SubstringQuery {
	return &SubstringQuery{fieldQuery{f, pattern}}
}

func (q *SubstringQuery) Clause() (string, []any, bool) {
	if q.field.Slow {
		return "", nil, false
	}
	return q.field.column() + ` LIKE ? ESCAPE '\'`, []any{"%" + likeEscape(q.pattern) + "%"}, true
}

func (q *SubstringQuery) Match(r Record) bool {
	return strings.Contains(
		strings.ToLower(r.FormattedValue(q.field.Name)),
		strings.ToLower(q.pattern),
	)
}

// RegexpQuery matches a regular expression against the formatted field
// value. Patterns and values are NFC-normalized before matching. The storage
// engine exposes no matching function here, so this variant is always slow.
type RegexpQuery struct {
	fieldQuery
	re *regexp.Regexp
}

func NewRegexp(f Field, pattern string) (*RegexpQuery, error) {
	re, err := regexp.Compile(norm.NFC.String(pattern))
	if err != nil {
		return nil, parseErrorf(pattern, "invalid regular expression: %v", err)
	}
	return &RegexpQuery{fieldQuery{f, pattern}, re}, nil
}

func (q *RegexpQuery) Clause() (string, []any, bool) { return "", nil, false }

func (q *RegexpQuery) Match(r Record) bool {
	return q.re.MatchString(norm.NFC.String(r.FormattedValue(q.field.Name)))
}

// BoolQuery matches a boolean field, coercing textual spellings of truth.
type BoolQuery struct {
	fieldQuery
	want bool
}

func NewBool(f Field, pattern string) *BoolQuery {
	want, _ := types.ParseBool(pattern)
	return &BoolQuery{fieldQuery{f, pattern}, want}
}

func (q *BoolQuery) Clause() (string, []any, bool) {
	if q.field.Slow {
		return "", nil, false
	}
	arg := int64(0)
	if q.want {
		arg = 1
	}
	return q.field.column() + " = ?", []any{arg}, true
}

func (q *BoolQuery) Match(r Record) bool {
	v := r.Value(q.field.Name)
	if v.Kind() == types.KindText {
		got, _ := types.ParseBool(v.Str())
		return got == q.want
	}
	return (v.Int64() != 0) == q.want
}

// InQuery matches set membership.
type InQuery struct {
	fieldQuery
	vals []types.Value
}

func NewIn(f Field, vals ...types.Value) *InQuery {
	norms := make([]types.Value, len(vals))
	for i, v := range vals {
		norms[i] = f.descriptor().Normalize(v)
	}
	return &InQuery{fieldQuery{f, ""}, norms}
}

func (q *InQuery) Clause() (string, []any, bool) {
	if q.field.Slow {
		return "", nil, false
	}
	if len(q.vals) == 0 {
		return "0", nil, true
	}
	args := make([]any, len(q.vals))
	marks := make([]string, len(q.vals))
	for i, v := range q.vals {
		args[i] = bindValue(v)
		marks[i] = "?"
	}
	return q.field.column() + " IN (" + strings.Join(marks, ", ") + ")", args, true
}

func (q *InQuery) Match(r Record) bool {
	got := r.Value(q.field.Name)
	for _, v := range q.vals {
		if v.Equal(got) {
			return true
		}
	}
	return false
}

// TrueQuery matches everything; FalseQuery matches nothing. The parser emits
// them for empty patterns and empty OR groups.
type TrueQuery struct{}

func (TrueQuery) Clause() (string, []any, bool) { return "1", nil, true }
func (TrueQuery) Match(Record) bool             { return true }

type FalseQuery struct{}

func (FalseQuery) Clause() (string, []any, bool) { return "0", nil, true }
func (FalseQuery) Match(Record) bool             { return false }

// NotQuery inverts its child. It is fast only when the child is.
type NotQuery struct {
	child Query
}

func NewNot(child Query) *NotQuery { return &NotQuery{child} }

func (q *NotQuery) Child() Query { return q.child }

func (q *NotQuery) Clause() (string, []any, bool) {
	clause, args, ok := q.child.Clause()
	if !ok {
		return "", nil, false
	}
	return "NOT (" + clause + ")", args, true
}

func (q *NotQuery) Match(r Record) bool { return !q.child.Match(r) }

func (q *NotQuery) QueryFields() []string { return listFields(q.child) }

// AndQuery and OrQuery combine children. A composite's fast clause exists
// only when every child has one; a single slow child forces the whole
// composite onto the slow path.
type AndQuery struct {
	subs []Query
}

func NewAnd(subs ...Query) *AndQuery { return &AndQuery{subs} }

func (q *AndQuery) Subqueries() []Query { return q.subs }

func (q *AndQuery) Clause() (string, []any, bool) {
	return combineClause(q.subs, " AND ", "1")
}

func (q *AndQuery) Match(r Record) bool {
	for _, s := range q.subs {
		if !s.Match(r) {
			return false
		}
	}
	return true
}

func (q *AndQuery) QueryFields() []string { return listFieldsAll(q.subs) }

type OrQuery struct {
	subs []Query
}

func NewOr(subs ...Query) *OrQuery { return &OrQuery{subs} }

func (q *OrQuery) Subqueries() []Query { return q.subs }

func (q *OrQuery) Clause() (string, []any, bool) {
	return combineClause(q.subs, " OR ", "0")
}

func (q *OrQuery) Match(r Record) bool {
	for _, s := range q.subs {
		if s.Match(r) {
			return true
		}
	}
	return false
}

func (q *OrQuery) QueryFields() []string { return listFieldsAll(q.subs) }

func combineClause(subs []Query, joiner, empty string) (string, []any, bool) {
	if len(subs) == 0 {
		return empty, nil, true
	}
	clauses := make([]string, 0, len(subs))
	var args []any
	for _, s := range subs {
		clause, sub, ok := s.Clause()
		if !ok {
			return "", nil, false
		}
		clauses = append(clauses, clause)
		args = append(args, sub...)
	}
	return "(" + strings.Join(clauses, joiner) + ")", args, true
}

// AnyFieldQuery matches when any of the listed fields matches the pattern
// under the same query variant. It is a disjunction of per-field queries.
type AnyFieldQuery struct {
	pattern string
	fields  []Field
	inner   *OrQuery
}

func NewAnyField(fields []Field, pattern string, mk Maker) (*AnyFieldQuery, error) {
	subs := make([]Query, 0, len(fields))
	for _, f := range fields {
		q, err := mk(f, pattern)
		if err != nil {
			return nil, err
		}
		subs = append(subs, q)
	}
	return &AnyFieldQuery{pattern, fields, NewOr(subs...)}, nil
}

func (q *AnyFieldQuery) Clause() (string, []any, bool) { return q.inner.Clause() }
func (q *AnyFieldQuery) Match(r Record) bool           { return q.inner.Match(r) }

func (q *AnyFieldQuery) QueryFields() []string {
	names := make([]string, len(q.fields))
	for i, f := range q.fields {
		names[i] = f.Name
	}
	return names
}

func listFields(q Query) []string {
	if l, ok := q.(FieldLister); ok {
		return l.QueryFields()
	}
	return nil
}

func listFieldsAll(subs []Query) []string {
	var names []string
	for _, s := range subs {
		names = append(names, listFields(s)...)
	}
	return names
}
