package query

import (
	"fmt"
	"sort"
	"strings"

	"github.com/kittclouds/flexstore/pkg/types"
)

// Sort is an immutable ordering over records. Like queries, sorts are
// dual-path: OrderClause is the SQL ORDER BY fragment, Sort the in-memory
// stable sort applied when no fragment exists.
type Sort interface {
	// OrderClause returns the ORDER BY fragment. ok is false when the sort
	// must run in memory; an empty fragment with ok means "unordered".
	OrderClause() (string, bool)
	// Sort stable-sorts items in place.
	Sort(items []Record)
}

// NullSort leaves rows in storage order.
type NullSort struct{}

func (NullSort) OrderClause() (string, bool) { return "", true }
func (NullSort) Sort([]Record)               {}

// FieldSort orders by one field. Over a fixed column it produces a fast
// fragment; over a flexible or computed field it only sorts in memory, with
// missing values ordered before all present ones regardless of direction.
type FieldSort struct {
	field           Field
	ascending       bool
	caseInsensitive bool
}

func NewFixedFieldSort(f Field, ascending, caseInsensitive bool) *FieldSort {
	f.Slow = false
	return &FieldSort{f, ascending, caseInsensitive}
}

func NewSlowFieldSort(f Field, ascending, caseInsensitive bool) *FieldSort {
	f.Slow = true
	return &FieldSort{f, ascending, caseInsensitive}
}

func (s *FieldSort) Field() string   { return s.field.Name }
func (s *FieldSort) Ascending() bool { return s.ascending }

func (s *FieldSort) OrderClause() (string, bool) {
	if s.field.Slow {
		return "", false
	}
	expr := s.field.column()
	if s.caseInsensitive {
		expr = fmt.Sprintf(
			"(CASE WHEN TYPEOF(%[1]s)='text' THEN LOWER(%[1]s) "+
				"WHEN TYPEOF(%[1]s)='blob' THEN LOWER(%[1]s) "+
				"ELSE %[1]s END)", expr)
	}
	dir := " ASC"
	if !s.ascending {
		dir = " DESC"
	}
	return expr + dir, true
}

func (s *FieldSort) Sort(items []Record) {
	sort.SliceStable(items, func(i, j int) bool { return s.less(items[i], items[j]) })
}

func (s *FieldSort) less(a, b Record) bool {
	va, vb := a.Value(s.field.Name), b.Value(s.field.Name)
	if va.IsNull() || vb.IsNull() {
		// missing values sort first in either direction
		return va.IsNull() && !vb.IsNull()
	}
	var c int
	if s.caseInsensitive && va.Kind() == types.KindText && vb.Kind() == types.KindText {
		// fold case only for text pairs, mirroring what the SQL fragment's
		// TYPEOF guard does; everything else keeps its typed ordering
		c = strings.Compare(strings.ToLower(va.Str()), strings.ToLower(vb.Str()))
	} else {
		c = va.Compare(vb)
	}
	if !s.ascending {
		c = -c
	}
	return c < 0
}

// MultiSort orders by several keys in listed priority. Its fast fragment is
// the comma-joined fragments of the longest trailing run of fast sub-sorts;
// keys before that run become slow passes applied in listed order on top of
// the SQL-produced ordering.
type MultiSort struct {
	subs []Sort
}

func NewMultiSort(subs ...Sort) *MultiSort { return &MultiSort{subs} }

func (s *MultiSort) Sorts() []Sort { return s.subs }

// Split separates the fast ORDER BY suffix from the slow prefix passes.
func (s *MultiSort) Split() (order string, slow []Sort) {
	run := len(s.subs)
	for run > 0 {
		if _, ok := s.subs[run-1].OrderClause(); !ok {
			break
		}
		run--
	}
	var frags []string
	for _, sub := range s.subs[run:] {
		if frag, _ := sub.OrderClause(); frag != "" {
			frags = append(frags, frag)
		}
	}
	return strings.Join(frags, ", "), append([]Sort(nil), s.subs[:run]...)
}

func (s *MultiSort) OrderClause() (string, bool) {
	order, slow := s.Split()
	if len(slow) > 0 {
		return "", false
	}
	return order, true
}

func (s *MultiSort) Sort(items []Record) {
	for _, sub := range s.subs {
		sub.Sort(items)
	}
}

// Order splits any sort into its SQL fragment and residual slow passes.
// A nil sort means storage order.
func Order(s Sort) (order string, slow []Sort) {
	if s == nil {
		return "", nil
	}
	if ms, ok := s.(*MultiSort); ok {
		return ms.Split()
	}
	if clause, ok := s.OrderClause(); ok {
		return clause, nil
	}
	return "", []Sort{s}
}

// SortFields lists the field names a sort orders by. The store uses it to
// decide whether an ORDER BY fragment needs the related kind joined in.
func SortFields(s Sort) []string {
	switch s := s.(type) {
	case *FieldSort:
		return []string{s.field.Name}
	case *MultiSort:
		var names []string
		for _, sub := range s.subs {
			names = append(names, SortFields(sub)...)
		}
		return names
	}
	return nil
}
