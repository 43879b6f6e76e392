package query

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kittclouds/flexstore/pkg/types"
)

var testNow = time.Date(2024, 6, 15, 12, 0, 0, 0, time.Local)

func dateQuery(t *testing.T, pattern string) *DateQuery {
	t.Helper()
	q, err := newDateAt(Field{Name: "added", Type: types.Date}, pattern, testNow)
	require.NoError(t, err)
	return q
}

func epoch(y int, mo time.Month, d, h, mi, s int) types.Value {
	return types.Float(float64(time.Date(y, mo, d, h, mi, s, 0, time.Local).Unix()))
}

// A bare period covers [start, start+unit): "2008" is the whole year.
func TestDateYearPeriod(t *testing.T) {
	q := dateQuery(t, "2008")

	assert.True(t, q.Match(rec(map[string]types.Value{"added": epoch(2008, 1, 1, 0, 0, 0)})))
	assert.True(t, q.Match(rec(map[string]types.Value{"added": epoch(2008, 12, 31, 23, 59, 59)})))
	assert.False(t, q.Match(rec(map[string]types.Value{"added": epoch(2009, 1, 1, 0, 0, 0)})))
	assert.False(t, q.Match(rec(map[string]types.Value{"added": epoch(2007, 12, 31, 23, 59, 59)})))

	clause, args, ok := q.Clause()
	require.True(t, ok)
	assert.Equal(t, "(added >= ? AND added < ?)", clause)
	require.Len(t, args, 2)
	assert.Equal(t, float64(time.Date(2008, 1, 1, 0, 0, 0, 0, time.Local).Unix()), args[0])
	assert.Equal(t, float64(time.Date(2009, 1, 1, 0, 0, 0, 0, time.Local).Unix()), args[1])
}

func TestDateDayPeriod(t *testing.T) {
	q := dateQuery(t, "2008-06-13")
	assert.True(t, q.Match(rec(map[string]types.Value{"added": epoch(2008, 6, 13, 18, 30, 0)})))
	assert.False(t, q.Match(rec(map[string]types.Value{"added": epoch(2008, 6, 14, 0, 0, 0)})))
}

// In a range, the right endpoint's whole period is included: "..2009" covers
// everything before 2010.
func TestDateRange(t *testing.T) {
	q := dateQuery(t, "2008..2009")
	assert.True(t, q.Match(rec(map[string]types.Value{"added": epoch(2009, 12, 31, 23, 0, 0)})))
	assert.False(t, q.Match(rec(map[string]types.Value{"added": epoch(2010, 1, 1, 0, 0, 0)})))
	assert.False(t, q.Match(rec(map[string]types.Value{"added": epoch(2007, 7, 1, 0, 0, 0)})))
}

func TestDateOpenRanges(t *testing.T) {
	lo := dateQuery(t, "2008..")
	clause, _, ok := lo.Clause()
	require.True(t, ok)
	assert.Equal(t, "added >= ?", clause)
	assert.True(t, lo.Match(rec(map[string]types.Value{"added": epoch(2030, 1, 1, 0, 0, 0)})))

	hi := dateQuery(t, "..2008")
	clause, _, ok = hi.Clause()
	require.True(t, ok)
	assert.Equal(t, "added < ?", clause)
	assert.True(t, hi.Match(rec(map[string]types.Value{"added": epoch(2008, 12, 1, 0, 0, 0)})))
	assert.False(t, hi.Match(rec(map[string]types.Value{"added": epoch(2009, 1, 1, 0, 0, 0)})))
}

func TestDateRelativePeriod(t *testing.T) {
	// "-2w" resolves against the pinned reference time
	q := dateQuery(t, "-2w..")
	wantStart := testNow.AddDate(0, 0, -14)
	assert.True(t, q.Match(rec(map[string]types.Value{"added": types.Float(float64(wantStart.Unix()))})))
	assert.False(t, q.Match(rec(map[string]types.Value{
		"added": types.Float(float64(wantStart.AddDate(0, 0, -1).Unix())),
	})))
}

func TestDateBadInput(t *testing.T) {
	_, err := newDateAt(F("added"), "not-a-date", testNow)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrParse)

	_, err = newDateAt(F("added"), "2008..nope", testNow)
	assert.ErrorIs(t, err, ErrParse)
}

func TestPeriodPrecisions(t *testing.T) {
	cases := []struct {
		text string
		next time.Time
	}{
		{"2008", time.Date(2009, 1, 1, 0, 0, 0, 0, time.Local)},
		{"2008-06", time.Date(2008, 7, 1, 0, 0, 0, 0, time.Local)},
		{"2008-06-13", time.Date(2008, 6, 14, 0, 0, 0, 0, time.Local)},
		{"2008-06-13T18", time.Date(2008, 6, 13, 19, 0, 0, 0, time.Local)},
		{"2008-06-13T18:30", time.Date(2008, 6, 13, 18, 31, 0, 0, time.Local)},
		{"2008-06-13T18:30:45", time.Date(2008, 6, 13, 18, 30, 46, 0, time.Local)},
	}
	for _, tc := range cases {
		p, err := parsePeriod(tc.text, testNow)
		require.NoError(t, err, tc.text)
		assert.Equal(t, tc.next, p.openRight(), tc.text)
	}
}
