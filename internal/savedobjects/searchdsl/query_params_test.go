package searchdsl_test

import (
	"testing"

	"github.com/ubuntu/anomaly-explorer/internal/savedobjects/mappings"
	"github.com/ubuntu/anomaly-explorer/internal/savedobjects/schema"
	"github.com/ubuntu/anomaly-explorer/internal/savedobjects/searchdsl"
)

func TestGetQueryParams(t *testing.T) {
	t.Parallel()

	s, err := schema.New(
		schema.TypeDefinition{Name: "pending"},
		schema.TypeDefinition{Name: "saved"},
		schema.TypeDefinition{Name: "global", NamespaceAgnostic: true},
	)
	if err != nil {
		t.Fatalf("Setup: could not create schema: %v", err)
	}
	m := mappings.Root(map[string]map[string]mappings.FieldMapping{
		"pending": {"title": {Type: "text"}},
		"saved":   {"title": {Type: "text"}},
		"global":  {"name": {Type: "keyword"}},
	})

	const (
		defaultPending = `{"bool": {"must": [{"term": {"type": "pending"}}], "must_not": [{"exists": {"field": "namespace"}}]}}`
		defaultSaved   = `{"bool": {"must": [{"term": {"type": "saved"}}], "must_not": [{"exists": {"field": "namespace"}}]}}`
		defaultGlobal  = `{"bool": {"must": [{"term": {"type": "global"}}], "must_not": [{"exists": {"field": "namespace"}}]}}`
		globalAnyNS    = `{"bool": {"must": [{"term": {"type": "global"}}]}}`
		pendingInFoo   = `{"bool": {"must": [{"term": {"type": "pending"}}, {"term": {"namespace": "foo"}}]}}`
		savedInFoo     = `{"bool": {"must": [{"term": {"type": "saved"}}, {"term": {"namespace": "foo"}}]}}`
	)

	tests := map[string]struct {
		opts searchdsl.QueryParamsOptions

		want string
	}{
		"Single type in default namespace": {
			opts: searchdsl.QueryParamsOptions{Type: []string{"pending"}},
			want: `{"query": {"bool": {"should": [` + defaultPending + `], "minimum_should_match": 1}}}`,
		},
		"Explicit default namespace is the default namespace": {
			opts: searchdsl.QueryParamsOptions{Type: []string{"pending"}, Namespace: "default"},
			want: `{"query": {"bool": {"should": [` + defaultPending + `], "minimum_should_match": 1}}}`,
		},
		"Several types in a namespace": {
			opts: searchdsl.QueryParamsOptions{Type: []string{"pending", "saved"}, Namespace: "foo"},
			want: `{"query": {"bool": {"should": [` + pendingInFoo + `,` + savedInFoo + `], "minimum_should_match": 1}}}`,
		},
		"Namespace agnostic type ignores namespace": {
			opts: searchdsl.QueryParamsOptions{Type: []string{"global", "saved"}, Namespace: "foo"},
			want: `{"query": {"bool": {"should": [` + globalAnyNS + `,` + savedInFoo + `], "minimum_should_match": 1}}}`,
		},
		"No type searches every type of the mappings": {
			opts: searchdsl.QueryParamsOptions{},
			want: `{"query": {"bool": {"should": [` + defaultGlobal + `,` + defaultPending + `,` + defaultSaved + `], "minimum_should_match": 1}}}`,
		},
		"Search without fields searches all type attributes": {
			opts: searchdsl.QueryParamsOptions{Type: []string{"pending", "saved"}, Search: "us*"},
			want: `{"query": {"bool": {
				"should": [` + defaultPending + `,` + defaultSaved + `],
				"minimum_should_match": 1,
				"must": [{"simple_query_string": {"query": "us*", "fields": ["pending.*", "saved.*"], "default_operator": "OR"}}]
			}}}`,
		},
		"Search fields are prefixed by type and keep boosts": {
			opts: searchdsl.QueryParamsOptions{Type: []string{"pending", "saved"}, Search: "y*", SearchFields: []string{"title^3", "description"}},
			want: `{"query": {"bool": {
				"should": [` + defaultPending + `,` + defaultSaved + `],
				"minimum_should_match": 1,
				"must": [{"simple_query_string": {"query": "y*", "fields": ["pending.title^3", "saved.title^3", "pending.description", "saved.description"], "default_operator": "OR"}}]
			}}}`,
		},
		"Search default operator is forwarded": {
			opts: searchdsl.QueryParamsOptions{Type: []string{"saved"}, Search: "a b", DefaultSearchOperator: "and"},
			want: `{"query": {"bool": {
				"should": [` + defaultSaved + `],
				"minimum_should_match": 1,
				"must": [{"simple_query_string": {"query": "a b", "fields": ["saved.*"], "default_operator": "AND"}}]
			}}}`,
		},
		"Has reference adds a nested filter": {
			opts: searchdsl.QueryParamsOptions{Type: []string{"saved"}, HasReference: &searchdsl.HasReference{Type: "index-pattern", ID: "logs"}},
			want: `{"query": {"bool": {
				"filter": [{"nested": {"path": "references", "query": {"bool": {"must": [
					{"term": {"references.id": "logs"}},
					{"term": {"references.type": "index-pattern"}}
				]}}}}],
				"should": [` + defaultSaved + `],
				"minimum_should_match": 1
			}}}`,
		},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			opts := tc.opts
			opts.Mappings = m
			opts.Schema = s

			requireJSONEq(t, tc.want, searchdsl.GetQueryParams(opts))
		})
	}
}
