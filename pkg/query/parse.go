package query

import (
	"sort"
	"strings"
	"unicode"

	"github.com/kittclouds/flexstore/pkg/types"
)

// NamedMaker builds a registered non-field query from its pattern.
type NamedMaker func(pattern string) (Query, error)

// Fields describes the queryable surface of one entity kind: which names are
// fixed columns, which have known flexible or computed descriptors, and the
// kind's registered query classes, prefixes and sort aliases. The store
// builds one per kind.
type Fields struct {
	Fixed       map[string]Field
	Flex        map[string]types.Type
	Named       map[string]NamedMaker
	Overrides   map[string]Maker
	Prefixes    map[string]Maker
	SortAliases map[string]string
	AnyFields   []string
}

// DefaultPrefixes maps the built-in prefix operators: ':' selects a regexp
// query and '=' an exact string match.
func DefaultPrefixes() map[string]Maker {
	return map[string]Maker{
		":": func(f Field, pattern string) (Query, error) { return NewRegexp(f, pattern) },
		"=": func(f Field, pattern string) (Query, error) { return NewString(f, pattern), nil },
	}
}

func substringMaker(f Field, pattern string) (Query, error) {
	return NewSubstring(f, pattern), nil
}

// makerFor maps a descriptor's default query kind to a constructor.
func makerFor(qk types.QueryKind) Maker {
	switch qk {
	case types.QueryExact:
		return func(f Field, p string) (Query, error) { return NewString(f, p), nil }
	case types.QueryMatch:
		return func(f Field, p string) (Query, error) { return NewMatch(f, p), nil }
	case types.QueryNumeric:
		return func(f Field, p string) (Query, error) { return NewNumeric(f, p) }
	case types.QueryBool:
		return func(f Field, p string) (Query, error) { return NewBool(f, p), nil }
	case types.QueryDate:
		return func(f Field, p string) (Query, error) { return NewDate(f, p) }
	case types.QueryDuration:
		return func(f Field, p string) (Query, error) { return NewDurationQuery(f, p) }
	}
	return substringMaker
}

// resolve finds the Field for a name; unknown names become slow passthrough
// fields, so queries on arbitrary flexible attributes still work.
func (fs Fields) resolve(name string) Field {
	if f, ok := fs.Fixed[name]; ok {
		return f
	}
	if t, ok := fs.Flex[name]; ok {
		return Field{Name: name, Type: t, Slow: true}
	}
	return Field{Name: name, Type: types.Default, Slow: true}
}

// prefixKeys returns registered prefixes longest-first so two-character
// operators win over their one-character prefixes.
func prefixKeys(prefixes map[string]Maker) []string {
	keys := make([]string, 0, len(prefixes))
	for k := range prefixes {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if len(keys[i]) != len(keys[j]) {
			return len(keys[i]) > len(keys[j])
		}
		return keys[i] < keys[j]
	})
	return keys
}

// splitFieldPattern splits a token at the first unescaped colon. A "\:"
// sequence is a literal colon in either part.
func splitFieldPattern(token string) (field, pattern string) {
	escaped := false
	for i, r := range token {
		switch {
		case escaped:
			escaped = false
		case r == '\\':
			escaped = true
		case r == ':':
			return unescapeColons(token[:i]), unescapeColons(token[i+1:])
		}
	}
	return "", unescapeColons(token)
}

func unescapeColons(s string) string {
	return strings.ReplaceAll(s, `\:`, ":")
}

// parseToken turns one token into a query: optional leading negation,
// optional field prefix, optional registered prefix operator, then the
// pattern. An entirely empty token is always true.
func (fs Fields) parseToken(token string) (Query, error) {
	negated := false
	if strings.HasPrefix(token, "-") || strings.HasPrefix(token, "^") {
		negated = true
		token = token[1:]
	}
	fieldName, pattern := splitFieldPattern(token)

	// named queries take their pattern verbatim, so only peel a prefix
	// operator off everything else
	named := fs.Named[fieldName]
	var prefixed Maker
	if named == nil {
		for _, p := range prefixKeys(fs.Prefixes) {
			if strings.HasPrefix(pattern, p) {
				prefixed = fs.Prefixes[p]
				pattern = pattern[len(p):]
				break
			}
		}
	}

	var q Query
	var err error
	switch {
	case named != nil:
		q, err = named(pattern)
	case fieldName == "" && pattern == "" && prefixed == nil:
		q = TrueQuery{}
	case fieldName == "":
		mk := prefixed
		if mk == nil {
			mk = substringMaker
		}
		flds := make([]Field, 0, len(fs.AnyFields))
		for _, name := range fs.AnyFields {
			flds = append(flds, fs.resolve(name))
		}
		q, err = NewAnyField(flds, pattern, mk)
	default:
		f := fs.resolve(fieldName)
		mk := prefixed
		if mk == nil {
			mk = fs.Overrides[fieldName]
		}
		if mk == nil {
			mk = makerFor(f.descriptor().QueryKind())
		}
		q, err = mk(f, pattern)
	}
	if err != nil {
		return nil, err
	}
	if negated {
		q = NewNot(q)
	}
	return q, nil
}

// Parse turns query tokens into a tree. Free-standing commas split the
// sequence into OR'd AND-groups; an empty group is always true.
func (fs Fields) Parse(tokens []string) (Query, error) {
	var groups []Query
	var current []Query
	flush := func() {
		if len(current) == 0 {
			groups = append(groups, TrueQuery{})
			return
		}
		groups = append(groups, NewAnd(current...))
		current = nil
	}
	for _, tok := range tokens {
		if tok == "," {
			flush()
			continue
		}
		q, err := fs.parseToken(tok)
		if err != nil {
			return nil, err
		}
		current = append(current, q)
	}
	flush()
	if len(groups) == 1 {
		return groups[0], nil
	}
	return NewOr(groups...), nil
}

// isSortToken reports whether a token names a sort: it ends in an
// orientation marker, carries no colon, and is more than the marker alone.
func isSortToken(tok string) bool {
	return len(tok) > 1 &&
		!strings.Contains(tok, ":") &&
		(strings.HasSuffix(tok, "+") || strings.HasSuffix(tok, "-"))
}

func (fs Fields) parseSortToken(tok string) Sort {
	ascending := strings.HasSuffix(tok, "+")
	name := tok[:len(tok)-1]
	if alias, ok := fs.SortAliases[name]; ok {
		name = alias
	}
	f := fs.resolve(name)
	if f.Slow {
		return NewSlowFieldSort(f, ascending, true)
	}
	return NewFixedFieldSort(f, ascending, true)
}

// ParseSorted splits tokens into a query and a sort: sort-looking tokens are
// pulled out in order, everything else is parsed as the query.
func (fs Fields) ParseSorted(tokens []string) (Query, Sort, error) {
	var queryTokens []string
	var sorts []Sort
	for _, tok := range tokens {
		if isSortToken(tok) {
			sorts = append(sorts, fs.parseSortToken(tok))
			continue
		}
		queryTokens = append(queryTokens, tok)
	}
	q, err := fs.Parse(queryTokens)
	if err != nil {
		return nil, nil, err
	}
	switch len(sorts) {
	case 0:
		return q, nil, nil
	case 1:
		return q, sorts[0], nil
	}
	return q, NewMultiSort(sorts...), nil
}

// ParseSortedString tokenizes a whole search-box string first. Quoted spans
// stay one token; an unclosed quote runs to the end of input.
func (fs Fields) ParseSortedString(s string) (Query, Sort, error) {
	return fs.ParseSorted(Tokenize(s))
}

// Tokenize splits on whitespace while honoring single and double quotes.
func Tokenize(s string) []string {
	var tokens []string
	var current strings.Builder
	var quote rune
	flush := func() {
		if current.Len() > 0 {
			tokens = append(tokens, current.String())
			current.Reset()
		}
	}
	for _, r := range s {
		switch {
		case quote != 0:
			if r == quote {
				quote = 0
			} else {
				current.WriteRune(r)
			}
		case r == '\'' || r == '"':
			quote = r
		case unicode.IsSpace(r):
			flush()
		default:
			current.WriteRune(r)
		}
	}
	flush()
	return tokens
}
