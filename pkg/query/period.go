package query

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// A period is a calendar interval at some precision: "2008" covers the whole
// year, "2008-06-13" one day. Its right-open end is the start advanced by one
// unit at the period's precision.
type precision int

const (
	precYear precision = iota
	precMonth
	precDay
	precHour
	precMinute
	precSecond
)

var periodLayouts = []struct {
	layout string
	prec   precision
}{
	{"2006-01-02T15:04:05", precSecond},
	{"2006-01-02T15:04", precMinute},
	{"2006-01-02T15", precHour},
	{"2006-01-02", precDay},
	{"2006-01", precMonth},
	{"2006", precYear},
}

var relativePeriodRe = regexp.MustCompile(`^([+-]?)(\d+)([dwmy])$`)

// relative period units, in days
var relativeUnitDays = map[string]int{"d": 1, "w": 7, "m": 30, "y": 365}

type period struct {
	start time.Time
	prec  precision
}

// parsePeriod reads an absolute calendar period at year through second
// precision, or a relative one ("-2w", "+30d") resolved against now.
func parsePeriod(text string, now time.Time) (period, error) {
	if m := relativePeriodRe.FindStringSubmatch(text); m != nil {
		n, err := strconv.Atoi(m[2])
		if err != nil {
			return period{}, parseErrorf(text, "invalid relative date")
		}
		days := n * relativeUnitDays[m[3]]
		if m[1] == "-" {
			days = -days
		}
		return period{start: now.AddDate(0, 0, days), prec: precDay}, nil
	}
	for _, l := range periodLayouts {
		if t, err := time.ParseInLocation(l.layout, text, time.Local); err == nil {
			return period{start: t, prec: l.prec}, nil
		}
	}
	return period{}, parseErrorf(text, "invalid date")
}

func (p period) openRight() time.Time {
	switch p.prec {
	case precYear:
		return p.start.AddDate(1, 0, 0)
	case precMonth:
		return p.start.AddDate(0, 1, 0)
	case precDay:
		return p.start.AddDate(0, 0, 1)
	case precHour:
		return p.start.Add(time.Hour)
	case precMinute:
		return p.start.Add(time.Minute)
	}
	return p.start.Add(time.Second)
}

// DateQuery matches timestamp fields against a calendar period or an "A..B"
// period range. The interval is closed on the left and open on the right.
type DateQuery struct {
	fieldQuery
	lo *float64 // inclusive
	hi *float64 // exclusive
}

func NewDate(f Field, pattern string) (*DateQuery, error) {
	return newDateAt(f, pattern, time.Now())
}

// newDateAt pins the reference time for relative endpoints.
func newDateAt(f Field, pattern string, now time.Time) (*DateQuery, error) {
	q := &DateQuery{fieldQuery: fieldQuery{f, pattern}}
	ts := func(t time.Time) *float64 {
		f := float64(t.Unix())
		return &f
	}
	lo, hi, ranged := strings.Cut(pattern, "..")
	if !ranged {
		p, err := parsePeriod(pattern, now)
		if err != nil {
			return nil, err
		}
		q.lo, q.hi = ts(p.start), ts(p.openRight())
		return q, nil
	}
	if lo != "" {
		p, err := parsePeriod(lo, now)
		if err != nil {
			return nil, err
		}
		q.lo = ts(p.start)
	}
	if hi != "" {
		p, err := parsePeriod(hi, now)
		if err != nil {
			return nil, err
		}
		q.hi = ts(p.openRight())
	}
	return q, nil
}

func (q *DateQuery) Clause() (string, []any, bool) {
	if q.field.Slow {
		return "", nil, false
	}
	col := q.field.column()
	switch {
	case q.lo != nil && q.hi != nil:
		return "(" + col + " >= ? AND " + col + " < ?)", []any{*q.lo, *q.hi}, true
	case q.lo != nil:
		return col + " >= ?", []any{*q.lo}, true
	case q.hi != nil:
		return col + " < ?", []any{*q.hi}, true
	}
	return "1", nil, true
}

func (q *DateQuery) Match(r Record) bool {
	f, ok := toNumber(r.Value(q.field.Name))
	if !ok {
		return false
	}
	if q.lo != nil && f < *q.lo {
		return false
	}
	if q.hi != nil && f >= *q.hi {
		return false
	}
	return true
}
