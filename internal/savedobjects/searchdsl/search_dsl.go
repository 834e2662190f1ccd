// Package searchdsl builds the search requests used to find saved objects.
package searchdsl

import (
	"errors"
	"fmt"
	"maps"

	"github.com/ubuntu/anomaly-explorer/internal/savedobjects/mappings"
)

// ErrBadRequest is wrapped by every error caused by invalid search options.
var ErrBadRequest = errors.New("bad request")

// DSL is a search request body, or a fragment of it.
type DSL map[string]any

// Registry tells how saved object types are scoped.
type Registry interface {
	IsNamespaceAgnostic(t string) bool
}

// HasReference restricts a search to objects referencing the given object.
type HasReference struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

// Options are the search options accepted by GetSearchDSL.
type Options struct {
	Type                  []string
	Namespace             string
	Search                string
	SearchFields          []string
	DefaultSearchOperator string
	HasReference          *HasReference
	SortField             string
	SortOrder             string
}

// QueryParamsOptions are the inputs of the query builder.
type QueryParamsOptions struct {
	Mappings              mappings.IndexMapping
	Schema                Registry
	Namespace             string
	Type                  []string
	Search                string
	SearchFields          []string
	DefaultSearchOperator string
	HasReference          *HasReference
}

// QueryBuilder builds the query part of a search request.
type QueryBuilder func(opts QueryParamsOptions) DSL

// SortBuilder builds the sort part of a search request.
type SortBuilder func(m mappings.IndexMapping, types []string, sortField, sortOrder string) (DSL, error)

// Builder composes a search request from a query builder and a sort builder.
type Builder struct {
	Query QueryBuilder
	Sort  SortBuilder
}

// DefaultBuilder composes GetQueryParams and GetSortingParams.
var DefaultBuilder = Builder{
	Query: GetQueryParams,
	Sort:  GetSortingParams,
}

// GetSearchDSL builds a search request with the default builders.
func GetSearchDSL(m mappings.IndexMapping, schema Registry, opts Options) (DSL, error) {
	return DefaultBuilder.GetSearchDSL(m, schema, opts)
}

// GetSearchDSL validates the options and returns the query merged with the sort.
// Keys of the sort override keys of the query.
func (b Builder) GetSearchDSL(m mappings.IndexMapping, schema Registry, opts Options) (DSL, error) {
	if len(opts.Type) == 0 {
		return nil, fmt.Errorf("%w: type must be specified to find saved objects", ErrBadRequest)
	}
	if opts.SortOrder != "" && opts.SortField == "" {
		return nil, fmt.Errorf("%w: sortOrder requires a sortField", ErrBadRequest)
	}

	query := b.Query(QueryParamsOptions{
		Mappings:              m,
		Schema:                schema,
		Namespace:             opts.Namespace,
		Type:                  opts.Type,
		Search:                opts.Search,
		SearchFields:          opts.SearchFields,
		DefaultSearchOperator: opts.DefaultSearchOperator,
		HasReference:          opts.HasReference,
	})

	sort, err := b.Sort(m, opts.Type, opts.SortField, opts.SortOrder)
	if err != nil {
		return nil, err
	}

	dsl := make(DSL, len(query)+len(sort))
	maps.Copy(dsl, query)
	maps.Copy(dsl, sort)
	return dsl, nil
}
