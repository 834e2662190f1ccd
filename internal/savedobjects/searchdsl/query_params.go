package searchdsl

import (
	"strings"

	"github.com/ubuntu/anomaly-explorer/internal/savedobjects/mappings"
)

// DefaultNamespace is the namespace objects belong to when none is given.
// Objects of the default namespace are stored without a namespace field.
const DefaultNamespace = "default"

// GetQueryParams builds the bool query restricting a search to the requested types and namespace.
// When no type is requested, every type of the mapping is searched.
func GetQueryParams(opts QueryParamsOptions) DSL {
	types := opts.Type
	if len(types) == 0 {
		types = opts.Mappings.TypeNames()
	}

	should := make([]any, 0, len(types))
	for _, t := range types {
		should = append(should, clauseForType(opts.Schema, opts.Namespace, t))
	}

	b := map[string]any{
		"should":               should,
		"minimum_should_match": 1,
	}

	if ref := opts.HasReference; ref != nil {
		b["filter"] = []any{
			map[string]any{
				"nested": map[string]any{
					"path": mappings.ReferencesField,
					"query": map[string]any{
						"bool": map[string]any{
							"must": []any{
								map[string]any{"term": map[string]any{"references.id": ref.ID}},
								map[string]any{"term": map[string]any{"references.type": ref.Type}},
							},
						},
					},
				},
			},
		}
	}

	if opts.Search != "" {
		operator := strings.ToUpper(opts.DefaultSearchOperator)
		if operator == "" {
			operator = "OR"
		}
		b["must"] = []any{
			map[string]any{
				"simple_query_string": map[string]any{
					"query":            opts.Search,
					"fields":           fieldsForTypes(types, opts.SearchFields),
					"default_operator": operator,
				},
			},
		}
	}

	return DSL{"query": map[string]any{"bool": b}}
}

// clauseForType matches the objects of type t visible from the namespace.
func clauseForType(schema Registry, namespace, t string) map[string]any {
	must := []any{map[string]any{"term": map[string]any{mappings.TypeField: t}}}
	clause := map[string]any{"must": must}

	switch {
	case schema != nil && schema.IsNamespaceAgnostic(t):
	case namespace != "" && namespace != DefaultNamespace:
		clause["must"] = append(must, map[string]any{"term": map[string]any{mappings.NamespaceField: namespace}})
	default:
		clause["must_not"] = []any{map[string]any{"exists": map[string]any{"field": mappings.NamespaceField}}}
	}

	return map[string]any{"bool": clause}
}

// fieldsForTypes prefixes each search field with every type, keeping boosts.
// Without search fields, all the attributes of every type are searched.
func fieldsForTypes(types, searchFields []string) []string {
	if len(searchFields) == 0 {
		fields := make([]string, 0, len(types))
		for _, t := range types {
			fields = append(fields, t+".*")
		}
		return fields
	}

	fields := make([]string, 0, len(types)*len(searchFields))
	for _, f := range searchFields {
		for _, t := range types {
			fields = append(fields, t+"."+f)
		}
	}
	return fields
}
