// Package querymatch evaluates search queries against JSON documents in memory.
//
// It understands the subset of the Elasticsearch query DSL produced by the saved objects search
// and by the explorer influencer filters: bool, term, terms, exists, range, match, match_phrase,
// match_all, nested and simple_query_string.
package querymatch

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"
	"unicode"

	"github.com/tidwall/gjson"
)

// ErrInvalidQuery is returned when a query uses an unsupported or malformed clause.
var ErrInvalidQuery = errors.New("invalid query")

type predicate func(doc gjson.Result) bool

// Matcher tests documents against a compiled query.
type Matcher struct {
	match predicate
}

// Compile compiles a query clause, as found under the "query" key of a search request.
// The query can be any value that marshals to a JSON object. A nil query matches every document.
func Compile(query any) (*Matcher, error) {
	if query == nil {
		return &Matcher{match: matchAll}, nil
	}

	raw, err := json.Marshal(query)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidQuery, err)
	}

	p, err := compile(gjson.ParseBytes(raw))
	if err != nil {
		return nil, err
	}
	return &Matcher{match: p}, nil
}

// Match reports whether the JSON document matches the query.
func (m *Matcher) Match(doc []byte) bool {
	return m.match(gjson.ParseBytes(doc))
}

// Filter returns the documents matching the query, in their original order.
func (m *Matcher) Filter(docs [][]byte) [][]byte {
	var out [][]byte
	for _, d := range docs {
		if m.Match(d) {
			out = append(out, d)
		}
	}
	return out
}

func matchAll(gjson.Result) bool { return true }

func compile(q gjson.Result) (predicate, error) {
	if !q.IsObject() {
		return nil, fmt.Errorf("%w: clause must be an object, got %s", ErrInvalidQuery, q.Raw)
	}

	var clauses []predicate
	var err error
	q.ForEach(func(key, value gjson.Result) bool {
		var p predicate
		switch key.String() {
		case "match_all":
			p = matchAll
		case "bool":
			p, err = compileBool(value)
		case "term":
			p, err = compileTerm(value)
		case "terms":
			p, err = compileTerms(value)
		case "exists":
			p, err = compileExists(value)
		case "range":
			p, err = compileRange(value)
		case "match":
			p, err = compileMatch(value, false)
		case "match_phrase":
			p, err = compileMatch(value, true)
		case "nested":
			p, err = compileNested(value)
		case "simple_query_string":
			p, err = compileSimpleQueryString(value)
		default:
			err = fmt.Errorf("%w: unsupported clause %q", ErrInvalidQuery, key.String())
		}
		if err != nil {
			return false
		}
		clauses = append(clauses, p)
		return true
	})
	if err != nil {
		return nil, err
	}

	switch len(clauses) {
	case 0:
		return nil, fmt.Errorf("%w: empty clause", ErrInvalidQuery)
	case 1:
		return clauses[0], nil
	}
	return allOf(clauses), nil
}

func allOf(ps []predicate) predicate {
	return func(doc gjson.Result) bool {
		for _, p := range ps {
			if !p(doc) {
				return false
			}
		}
		return true
	}
}

func compileList(v gjson.Result) ([]predicate, error) {
	if !v.Exists() {
		return nil, nil
	}
	if !v.IsArray() {
		p, err := compile(v)
		if err != nil {
			return nil, err
		}
		return []predicate{p}, nil
	}

	var ps []predicate
	for _, c := range v.Array() {
		p, err := compile(c)
		if err != nil {
			return nil, err
		}
		ps = append(ps, p)
	}
	return ps, nil
}

func compileBool(v gjson.Result) (predicate, error) {
	if !v.IsObject() {
		return nil, fmt.Errorf("%w: bool must be an object", ErrInvalidQuery)
	}

	var must, mustNot, should []predicate
	for key, value := range v.Map() {
		var err error
		switch key {
		case "must", "filter":
			var ps []predicate
			ps, err = compileList(value)
			must = append(must, ps...)
		case "must_not":
			mustNot, err = compileList(value)
		case "should":
			should, err = compileList(value)
		case "minimum_should_match", "boost":
		default:
			err = fmt.Errorf("%w: unsupported bool occurrence %q", ErrInvalidQuery, key)
		}
		if err != nil {
			return nil, err
		}
	}

	minShould := 0
	if len(should) > 0 && len(must) == 0 {
		minShould = 1
	}
	if msm := v.Get("minimum_should_match"); msm.Exists() {
		minShould = int(msm.Int())
	}

	return func(doc gjson.Result) bool {
		for _, p := range must {
			if !p(doc) {
				return false
			}
		}
		for _, p := range mustNot {
			if p(doc) {
				return false
			}
		}
		if minShould == 0 {
			return true
		}
		n := 0
		for _, p := range should {
			if p(doc) {
				n++
				if n >= minShould {
					return true
				}
			}
		}
		return false
	}, nil
}

// singleField extracts the only field of clauses shaped as {"<field>": <params>}.
func singleField(clause string, v gjson.Result) (string, gjson.Result, error) {
	m := v.Map()
	if len(m) != 1 {
		return "", gjson.Result{}, fmt.Errorf("%w: %s expects exactly one field", ErrInvalidQuery, clause)
	}
	for f, p := range m {
		return f, p, nil
	}
	panic("unreachable")
}

func compileTerm(v gjson.Result) (predicate, error) {
	field, want, err := singleField("term", v)
	if err != nil {
		return nil, err
	}
	if want.IsObject() {
		want = want.Get("value")
	}
	if !want.Exists() {
		return nil, fmt.Errorf("%w: term on %q has no value", ErrInvalidQuery, field)
	}

	return func(doc gjson.Result) bool {
		return slices.ContainsFunc(Values(doc, field), func(got gjson.Result) bool {
			return equal(got, want)
		})
	}, nil
}

func compileTerms(v gjson.Result) (predicate, error) {
	field, wants, err := singleField("terms", v)
	if err != nil {
		return nil, err
	}
	if !wants.IsArray() {
		return nil, fmt.Errorf("%w: terms on %q expects an array", ErrInvalidQuery, field)
	}
	want := wants.Array()

	return func(doc gjson.Result) bool {
		return slices.ContainsFunc(Values(doc, field), func(got gjson.Result) bool {
			return slices.ContainsFunc(want, func(w gjson.Result) bool { return equal(got, w) })
		})
	}, nil
}

func compileExists(v gjson.Result) (predicate, error) {
	field := v.Get("field").String()
	if field == "" {
		return nil, fmt.Errorf("%w: exists requires a field", ErrInvalidQuery)
	}
	return func(doc gjson.Result) bool {
		return len(Values(doc, field)) > 0
	}, nil
}

func compileRange(v gjson.Result) (predicate, error) {
	field, bounds, err := singleField("range", v)
	if err != nil {
		return nil, err
	}
	if !bounds.IsObject() {
		return nil, fmt.Errorf("%w: range on %q expects bounds", ErrInvalidQuery, field)
	}

	type bound struct {
		value gjson.Result
		ok    func(cmp int) bool
	}
	var checks []bound
	for op, value := range bounds.Map() {
		var ok func(int) bool
		switch op {
		case "gt":
			ok = func(c int) bool { return c > 0 }
		case "gte":
			ok = func(c int) bool { return c >= 0 }
		case "lt":
			ok = func(c int) bool { return c < 0 }
		case "lte":
			ok = func(c int) bool { return c <= 0 }
		case "format", "time_zone", "boost":
			continue
		default:
			return nil, fmt.Errorf("%w: unsupported range operator %q", ErrInvalidQuery, op)
		}
		checks = append(checks, bound{value: value, ok: ok})
	}

	return func(doc gjson.Result) bool {
		return slices.ContainsFunc(Values(doc, field), func(got gjson.Result) bool {
			for _, b := range checks {
				if !b.ok(compare(got, b.value)) {
					return false
				}
			}
			return true
		})
	}, nil
}

func compileMatch(v gjson.Result, phrase bool) (predicate, error) {
	field, q, err := singleField("match", v)
	if err != nil {
		return nil, err
	}
	if q.IsObject() {
		q = q.Get("query")
	}
	terms := tokenize(q.String())
	if len(terms) == 0 {
		return matchAll, nil
	}

	return func(doc gjson.Result) bool {
		for _, got := range Values(doc, field) {
			for _, text := range leaves(got) {
				tokens := tokenize(text.String())
				if phrase && containsPhrase(tokens, terms) {
					return true
				}
				if !phrase && slices.ContainsFunc(terms, func(t string) bool { return slices.Contains(tokens, t) }) {
					return true
				}
			}
		}
		return false
	}, nil
}

func compileNested(v gjson.Result) (predicate, error) {
	path := v.Get("path").String()
	if path == "" {
		return nil, fmt.Errorf("%w: nested requires a path", ErrInvalidQuery)
	}
	inner, err := compile(v.Get("query"))
	if err != nil {
		return nil, err
	}

	return func(doc gjson.Result) bool {
		for _, elem := range Values(doc, path) {
			if !elem.IsObject() {
				continue
			}
			if inner(wrap(path, elem)) {
				return true
			}
		}
		return false
	}, nil
}

// wrap rebuilds a document holding only elem at path, so inner clauses can use full field paths.
func wrap(path string, elem gjson.Result) gjson.Result {
	var v any = json.RawMessage(elem.Raw)
	segs := strings.Split(path, ".")
	for i := len(segs) - 1; i >= 0; i-- {
		v = map[string]any{segs[i]: v}
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return gjson.Result{}
	}
	return gjson.ParseBytes(raw)
}

// equal compares a document value with a query value, numerically when both are numbers.
func equal(got, want gjson.Result) bool {
	if got.Type == gjson.Number && want.Type == gjson.Number {
		return got.Float() == want.Float()
	}
	if got.IsObject() || got.IsArray() {
		return false
	}
	return got.String() == want.String()
}

// compare orders a against b: numbers numerically, RFC 3339 timestamps chronologically, strings lexically.
func compare(a, b gjson.Result) int {
	if a.Type == gjson.Number && b.Type == gjson.Number {
		switch fa, fb := a.Float(), b.Float(); {
		case fa < fb:
			return -1
		case fa > fb:
			return 1
		}
		return 0
	}
	if ta, err := time.Parse(time.RFC3339Nano, a.String()); err == nil {
		if tb, err := time.Parse(time.RFC3339Nano, b.String()); err == nil {
			return ta.Compare(tb)
		}
	}
	return strings.Compare(a.String(), b.String())
}

func tokenize(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

func containsPhrase(tokens, phrase []string) bool {
	if len(phrase) == 0 {
		return true
	}
	for i := 0; i+len(phrase) <= len(tokens); i++ {
		if slices.Equal(tokens[i:i+len(phrase)], phrase) {
			return true
		}
	}
	return false
}
