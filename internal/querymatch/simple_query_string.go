package querymatch

import (
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
)

// searchTerm is one element of a simple query string: a word, a quoted phrase or a prefix.
type searchTerm struct {
	tokens []string
	prefix bool
	negate bool
}

func compileSimpleQueryString(v gjson.Result) (predicate, error) {
	query := v.Get("query")
	if !query.Exists() {
		return nil, fmt.Errorf("%w: simple_query_string requires a query", ErrInvalidQuery)
	}

	fields := []string{"*"}
	if f := v.Get("fields"); f.Exists() {
		fields = nil
		for _, field := range f.Array() {
			// Boosts only change scoring.
			name, _, _ := strings.Cut(field.String(), "^")
			fields = append(fields, name)
		}
	}

	and := false
	switch op := strings.ToUpper(v.Get("default_operator").String()); op {
	case "", "OR":
	case "AND":
		and = true
	default:
		return nil, fmt.Errorf("%w: unsupported default_operator %q", ErrInvalidQuery, op)
	}

	terms := parseSimpleQuery(query.String())
	if len(terms) == 0 {
		return matchAll, nil
	}

	return func(doc gjson.Result) bool {
		var texts [][]string
		for _, f := range fields {
			for _, val := range Values(doc, f) {
				for _, leaf := range leaves(val) {
					texts = append(texts, tokenize(leaf.String()))
				}
			}
		}

		for _, t := range terms {
			ok := t.matches(texts)
			if and && !ok {
				return false
			}
			if !and && ok {
				return true
			}
		}
		return and
	}, nil
}

// parseSimpleQuery splits a query on whitespace, keeping double-quoted phrases together.
func parseSimpleQuery(q string) []searchTerm {
	var terms []searchTerm
	for q = strings.TrimSpace(q); q != ""; q = strings.TrimSpace(q) {
		var raw string
		negate := false
		if q[0] == '-' || q[0] == '+' {
			negate = q[0] == '-'
			q = q[1:]
		}

		if strings.HasPrefix(q, `"`) {
			end := strings.Index(q[1:], `"`)
			if end < 0 {
				raw, q = q[1:], ""
			} else {
				raw, q = q[1:end+1], q[end+2:]
			}
			if tokens := tokenize(raw); len(tokens) > 0 {
				terms = append(terms, searchTerm{tokens: tokens, negate: negate})
			}
			continue
		}

		raw, q, _ = strings.Cut(q, " ")
		prefix := strings.HasSuffix(raw, "*")
		if tokens := tokenize(raw); len(tokens) > 0 {
			terms = append(terms, searchTerm{tokens: tokens, prefix: prefix, negate: negate})
		}
	}
	return terms
}

func (t searchTerm) matches(texts [][]string) bool {
	found := false
	for _, tokens := range texts {
		if t.in(tokens) {
			found = true
			break
		}
	}
	return found != t.negate
}

func (t searchTerm) in(tokens []string) bool {
	n := len(t.tokens)
	for i := 0; i+n <= len(tokens); i++ {
		ok := true
		for j, want := range t.tokens {
			got := tokens[i+j]
			if j == n-1 && t.prefix {
				ok = strings.HasPrefix(got, want)
			} else {
				ok = got == want
			}
			if !ok {
				break
			}
		}
		if ok {
			return true
		}
	}
	return false
}
