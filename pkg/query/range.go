package query

import (
	"strconv"
	"strings"

	"github.com/kittclouds/flexstore/pkg/types"
)

// rangeBounds holds a parsed "A..B" pattern. A nil endpoint is unbounded;
// point is set when the pattern was a single value.
type rangeBounds struct {
	lo, hi *float64
	point  bool
}

func parseRange(pattern string, endpoint func(string) (float64, error)) (rangeBounds, error) {
	parse := func(s string) (*float64, error) {
		if s == "" {
			return nil, nil
		}
		f, err := endpoint(s)
		if err != nil {
			return nil, parseErrorf(pattern, "invalid range endpoint %q", s)
		}
		return &f, nil
	}
	if lo, hi, found := strings.Cut(pattern, ".."); found {
		var b rangeBounds
		var err error
		if b.lo, err = parse(lo); err != nil {
			return b, err
		}
		if b.hi, err = parse(hi); err != nil {
			return b, err
		}
		return b, nil
	}
	v, err := parse(pattern)
	if err != nil {
		return rangeBounds{}, err
	}
	return rangeBounds{lo: v, hi: v, point: true}, nil
}

func (b rangeBounds) clause(col string) (string, []any, bool) {
	switch {
	case b.point:
		return col + " = ?", []any{*b.lo}, true
	case b.lo != nil && b.hi != nil:
		return "(" + col + " >= ? AND " + col + " <= ?)", []any{*b.lo, *b.hi}, true
	case b.lo != nil:
		return col + " >= ?", []any{*b.lo}, true
	case b.hi != nil:
		return col + " <= ?", []any{*b.hi}, true
	}
	return "1", nil, true
}

func (b rangeBounds) contains(f float64) bool {
	if b.point {
		return f == *b.lo
	}
	if b.lo != nil && f < *b.lo {
		return false
	}
	if b.hi != nil && f > *b.hi {
		return false
	}
	return true
}

// toNumber extracts a numeric interpretation of a record value; textual
// values from unknown flexible fields are parsed on the fly.
func toNumber(v types.Value) (float64, bool) {
	switch v.Kind() {
	case types.KindInteger, types.KindFloat:
		return v.Float64(), true
	case types.KindText:
		f, err := strconv.ParseFloat(strings.TrimSpace(v.Str()), 64)
		return f, err == nil
	}
	return 0, false
}

// NumericQuery matches numeric values against a point or "A..B" range with
// either side optionally unbounded.
type NumericQuery struct {
	fieldQuery
	bounds rangeBounds
}

func NewNumeric(f Field, pattern string) (*NumericQuery, error) {
	b, err := parseRange(pattern, func(s string) (float64, error) {
		return strconv.ParseFloat(strings.TrimSpace(s), 64)
	})
	if err != nil {
		return nil, err
	}
	return &NumericQuery{fieldQuery{f, pattern}, b}, nil
}

func (q *NumericQuery) Clause() (string, []any, bool) {
	if q.field.Slow {
		return "", nil, false
	}
	return q.bounds.clause(q.field.column())
}

func (q *NumericQuery) Match(r Record) bool {
	f, ok := toNumber(r.Value(q.field.Name))
	if !ok {
		return false
	}
	return q.bounds.contains(f)
}

// DurationQuery is a numeric range whose endpoints also accept M:SS clock
// notation, converted to seconds.
type DurationQuery struct {
	fieldQuery
	bounds rangeBounds
}

func NewDurationQuery(f Field, pattern string) (*DurationQuery, error) {
	b, err := parseRange(pattern, types.ParseDuration)
	if err != nil {
		return nil, err
	}
	return &DurationQuery{fieldQuery{f, pattern}, b}, nil
}

func (q *DurationQuery) Clause() (string, []any, bool) {
	if q.field.Slow {
		return "", nil, false
	}
	return q.bounds.clause(q.field.column())
}

func (q *DurationQuery) Match(r Record) bool {
	v := r.Value(q.field.Name)
	f, ok := toNumber(v)
	if !ok {
		if v.Kind() != types.KindText {
			return false
		}
		var err error
		if f, err = types.ParseDuration(v.Str()); err != nil {
			return false
		}
	}
	return q.bounds.contains(f)
}
