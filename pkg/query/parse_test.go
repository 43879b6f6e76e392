package query

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kittclouds/flexstore/pkg/types"
)

func testFields() Fields {
	return Fields{
		Fixed: map[string]Field{
			"id":     {Name: "id", Col: "items.id", Type: types.ID},
			"title":  {Name: "title", Col: "items.title", Type: types.String},
			"artist": {Name: "artist", Col: "items.artist", Type: types.String},
			"year":   {Name: "year", Col: "items.year", Type: types.Integer},
			"length": {Name: "length", Col: "items.length", Type: types.Duration},
			"added":  {Name: "added", Col: "items.added", Type: types.Date},
		},
		Flex: map[string]types.Type{
			"color": types.String,
		},
		Prefixes:    DefaultPrefixes(),
		SortAliases: map[string]string{"date": "added"},
		AnyFields:   []string{"title", "artist"},
	}
}

// single tokens always come back wrapped in an AND group
func parseOne(t *testing.T, token string) Query {
	t.Helper()
	q, err := testFields().Parse([]string{token})
	require.NoError(t, err)
	and, ok := q.(*AndQuery)
	require.True(t, ok, "expected AND group, got %T", q)
	require.Len(t, and.Subqueries(), 1)
	return and.Subqueries()[0]
}

func TestParseFixedField(t *testing.T) {
	q := parseOne(t, "title:hello")
	sub, ok := q.(*SubstringQuery)
	require.True(t, ok, "got %T", q)
	assert.Equal(t, "title", sub.FieldName())
	assert.Equal(t, "hello", sub.Pattern())

	clause, args, _ := sub.Clause()
	assert.Equal(t, `items.title LIKE ? ESCAPE '\'`, clause)
	assert.Equal(t, []any{"%hello%"}, args)
}

// a field's descriptor picks the query variant
func TestParseVariantByType(t *testing.T) {
	assert.IsType(t, &NumericQuery{}, parseOne(t, "year:1990..1999"))
	assert.IsType(t, &DurationQuery{}, parseOne(t, "length:4:00..5:00"))
	assert.IsType(t, &DateQuery{}, parseOne(t, "added:2008"))
	assert.IsType(t, &MatchQuery{}, parseOne(t, "id:7"))
	assert.IsType(t, &SubstringQuery{}, parseOne(t, "title:x"))
}

func TestParseNegation(t *testing.T) {
	for _, tok := range []string{"-color:red", "^color:red"} {
		q := parseOne(t, tok)
		not, ok := q.(*NotQuery)
		require.True(t, ok, "%q got %T", tok, q)
		sub, ok := not.Child().(*SubstringQuery)
		require.True(t, ok, "%q child %T", tok, not.Child())
		assert.Equal(t, "color", sub.FieldName())
		assert.Equal(t, "red", sub.Pattern())

		// flexible field, so the negation is slow too
		_, _, fast := not.Clause()
		assert.False(t, fast)
		assert.False(t, not.Match(rec(map[string]types.Value{"color": types.Text("red")})))
		assert.True(t, not.Match(rec(map[string]types.Value{"color": types.Text("blue")})))
	}
}

func TestParseBareToken(t *testing.T) {
	q := parseOne(t, "beatles")
	any, ok := q.(*AnyFieldQuery)
	require.True(t, ok, "got %T", q)
	assert.Equal(t, []string{"title", "artist"}, any.QueryFields())
	assert.True(t, any.Match(rec(map[string]types.Value{"artist": types.Text("The Beatles")})))
	assert.False(t, any.Match(rec(map[string]types.Value{"artist": types.Text("The Kinks")})))
}

func TestParseEmptyToken(t *testing.T) {
	assert.IsType(t, TrueQuery{}, parseOne(t, ""))
}

func TestParseUnknownFieldIsSlow(t *testing.T) {
	q := parseOne(t, "whatever:x")
	sub, ok := q.(*SubstringQuery)
	require.True(t, ok, "got %T", q)
	_, _, fast := sub.Clause()
	assert.False(t, fast)
	assert.True(t, sub.Match(rec(map[string]types.Value{"whatever": types.Text("axb")})))
}

func TestParsePrefixOperators(t *testing.T) {
	// ':' after the field separator selects a regexp
	q := parseOne(t, "title::^Ra.ar")
	re, ok := q.(*RegexpQuery)
	require.True(t, ok, "got %T", q)
	assert.True(t, re.Match(rec(map[string]types.Value{"title": types.Text("Radar Love")})))

	// '=' selects an exact, case-insensitive string match
	q = parseOne(t, "title:=Radar Love")
	se, ok := q.(*StringQuery)
	require.True(t, ok, "got %T", q)
	assert.True(t, se.Match(rec(map[string]types.Value{"title": types.Text("radar love")})))
	assert.False(t, se.Match(rec(map[string]types.Value{"title": types.Text("Radar Loves")})))

	// a prefix with no field name fans out over AnyFields
	q = parseOne(t, "::^Ra.ar")
	any, ok := q.(*AnyFieldQuery)
	require.True(t, ok, "got %T", q)
	assert.True(t, any.Match(rec(map[string]types.Value{"title": types.Text("Radar Love")})))
	_, _, fast := any.Clause()
	assert.False(t, fast)
}

func TestParsePrefixBadRegexp(t *testing.T) {
	_, err := testFields().Parse([]string{"title::[bad"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrParse)
}

func TestParseEscapedColon(t *testing.T) {
	q := parseOne(t, `file\:name:report`)
	sub, ok := q.(*SubstringQuery)
	require.True(t, ok, "got %T", q)
	assert.Equal(t, "file:name", sub.FieldName())
	assert.Equal(t, "report", sub.Pattern())

	// no unescaped colon at all: the whole token is a pattern
	q = parseOne(t, `AC\:DC`)
	any, ok := q.(*AnyFieldQuery)
	require.True(t, ok, "got %T", q)
	assert.True(t, any.Match(rec(map[string]types.Value{"artist": types.Text("AC:DC")})))

	// escaped colons after the separator become literal colons too
	q = parseOne(t, `artist:AC\:DC`)
	sub, ok = q.(*SubstringQuery)
	require.True(t, ok, "got %T", q)
	assert.Equal(t, "artist", sub.FieldName())
	assert.Equal(t, "AC:DC", sub.Pattern())
}

func TestParseNamedQueries(t *testing.T) {
	fs := testFields()
	fs.Named = map[string]NamedMaker{
		"recent": func(pattern string) (Query, error) {
			return NewNumeric(fs.Fixed["year"], "2020..")
		},
	}
	q, err := fs.Parse([]string{"recent:"})
	require.NoError(t, err)
	and := q.(*AndQuery)
	require.Len(t, and.Subqueries(), 1)
	assert.IsType(t, &NumericQuery{}, and.Subqueries()[0])
}

// A named query's maker sees the pattern verbatim; prefix operators are
// never stripped from it.
func TestParseNamedQueryKeepsPrefix(t *testing.T) {
	fs := testFields()
	var got string
	fs.Named = map[string]NamedMaker{
		"recent": func(pattern string) (Query, error) {
			got = pattern
			return TrueQuery{}, nil
		},
	}
	_, err := fs.Parse([]string{"recent::x"})
	require.NoError(t, err)
	assert.Equal(t, ":x", got)
}

func TestParseOverrides(t *testing.T) {
	fs := testFields()
	fs.Overrides = map[string]Maker{
		"title": func(f Field, p string) (Query, error) { return NewString(f, p), nil },
	}
	q, err := fs.Parse([]string{"title:Radar Love"})
	require.NoError(t, err)
	and := q.(*AndQuery)
	assert.IsType(t, &StringQuery{}, and.Subqueries()[0])

	// an explicit prefix still wins over the override
	q, err = fs.Parse([]string{"title::Ra.ar"})
	require.NoError(t, err)
	and = q.(*AndQuery)
	assert.IsType(t, &RegexpQuery{}, and.Subqueries()[0])
}

func TestParseCommaGroups(t *testing.T) {
	q, err := testFields().Parse([]string{"year:1990", "title:love", ",", "year:2000"})
	require.NoError(t, err)
	or, ok := q.(*OrQuery)
	require.True(t, ok, "got %T", q)
	require.Len(t, or.Subqueries(), 2)

	first, ok := or.Subqueries()[0].(*AndQuery)
	require.True(t, ok)
	assert.Len(t, first.Subqueries(), 2)

	second, ok := or.Subqueries()[1].(*AndQuery)
	require.True(t, ok)
	assert.Len(t, second.Subqueries(), 1)
}

func TestParseEmptyGroupMatchesAll(t *testing.T) {
	q, err := testFields().Parse([]string{"year:1990", ","})
	require.NoError(t, err)
	or := q.(*OrQuery)
	require.Len(t, or.Subqueries(), 2)
	assert.IsType(t, TrueQuery{}, or.Subqueries()[1])
	// the empty trailing group makes the whole query match everything
	assert.True(t, q.Match(rec(nil)))
}

func TestParseNoTokens(t *testing.T) {
	q, err := testFields().Parse(nil)
	require.NoError(t, err)
	assert.IsType(t, TrueQuery{}, q)
	assert.True(t, q.Match(rec(nil)))
}

func TestSortTokenDetection(t *testing.T) {
	assert.True(t, isSortToken("year+"))
	assert.True(t, isSortToken("year-"))
	assert.False(t, isSortToken("year"))
	assert.False(t, isSortToken("-"))
	assert.False(t, isSortToken("+"))
	assert.False(t, isSortToken("added:2008-"))
}

func TestParseSorted(t *testing.T) {
	q, s, err := testFields().ParseSorted([]string{"beatles", "year+", "title-"})
	require.NoError(t, err)

	and := q.(*AndQuery)
	require.Len(t, and.Subqueries(), 1)
	assert.IsType(t, &AnyFieldQuery{}, and.Subqueries()[0])

	ms, ok := s.(*MultiSort)
	require.True(t, ok, "got %T", s)
	require.Len(t, ms.Sorts(), 2)
	year := ms.Sorts()[0].(*FieldSort)
	assert.Equal(t, "year", year.Field())
	assert.True(t, year.Ascending())
	title := ms.Sorts()[1].(*FieldSort)
	assert.Equal(t, "title", title.Field())
	assert.False(t, title.Ascending())
}

func TestParseSortedSingleSort(t *testing.T) {
	_, s, err := testFields().ParseSorted([]string{"year-"})
	require.NoError(t, err)
	fs, ok := s.(*FieldSort)
	require.True(t, ok, "got %T", s)
	assert.False(t, fs.Ascending())

	_, s, err = testFields().ParseSorted([]string{"beatles"})
	require.NoError(t, err)
	assert.Nil(t, s)
}

func TestParseSortAliases(t *testing.T) {
	_, s, err := testFields().ParseSorted([]string{"date+"})
	require.NoError(t, err)
	fs := s.(*FieldSort)
	assert.Equal(t, "added", fs.Field())
	// aliases resolve to fixed columns, so the sort pushes down
	_, ok := fs.OrderClause()
	assert.True(t, ok)
}

func TestParseSortUnknownFieldIsSlow(t *testing.T) {
	_, s, err := testFields().ParseSorted([]string{"mood+"})
	require.NoError(t, err)
	fs := s.(*FieldSort)
	_, ok := fs.OrderClause()
	assert.False(t, ok)
}

func TestTokenize(t *testing.T) {
	assert.Equal(t, []string{"a", "b", "c"}, Tokenize("a  b\tc"))
	assert.Equal(t, []string{"title:the one", "year+"}, Tokenize(`title:"the one" year+`))
	assert.Equal(t, []string{"who's there"}, Tokenize(`"who's there"`))
	assert.Equal(t, []string{"runs to end"}, Tokenize(`'runs to end`))
	assert.Empty(t, Tokenize("   "))
}

func TestParseSortedString(t *testing.T) {
	q, s, err := testFields().ParseSortedString(`artist:"The Beatles" year:1960..1969 year+`)
	require.NoError(t, err)

	and := q.(*AndQuery)
	require.Len(t, and.Subqueries(), 2)
	assert.IsType(t, &SubstringQuery{}, and.Subqueries()[0])
	assert.IsType(t, &NumericQuery{}, and.Subqueries()[1])
	assert.IsType(t, &FieldSort{}, s)

	clause, args, ok := and.Clause()
	require.True(t, ok)
	assert.Equal(t, `(items.artist LIKE ? ESCAPE '\' AND (items.year >= ? AND items.year <= ?))`, clause)
	assert.Equal(t, []any{"%The Beatles%", 1960.0, 1969.0}, args)
}
