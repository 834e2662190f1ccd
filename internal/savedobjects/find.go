package savedobjects

import (
	"context"
	"fmt"
	"slices"

	"github.com/ubuntu/anomaly-explorer/internal/database"
	"github.com/ubuntu/anomaly-explorer/internal/models"
	"github.com/ubuntu/anomaly-explorer/internal/querymatch"
	"github.com/ubuntu/anomaly-explorer/internal/savedobjects/searchdsl"
)

// Default pagination of Find.
const (
	DefaultPage    = 1
	DefaultPerPage = 20
)

// FindOptions are the options of Find.
type FindOptions struct {
	Types                 []string
	Search                string
	SearchFields          []string
	DefaultSearchOperator string
	HasReference          *searchdsl.HasReference
	SortField             string
	SortOrder             string
	Page                  int
	PerPage               int
	Namespace             string
	// Fields restricts the returned attributes. All attributes are returned when empty.
	Fields []string
}

// FindResponse is a page of search results.
type FindResponse struct {
	Page         int                  `json:"page"`
	PerPage      int                  `json:"per_page"`
	Total        int                  `json:"total"`
	SavedObjects []models.SavedObject `json:"saved_objects"`
}

// Find searches saved objects.
//
// Hidden types cannot be searched. Unknown types are ignored, and searching only unknown types returns
// an empty page.
func (r *Repository) Find(ctx context.Context, opts FindOptions) (FindResponse, error) {
	if opts.Page == 0 {
		opts.Page = DefaultPage
	}
	if opts.PerPage == 0 {
		opts.PerPage = DefaultPerPage
	}
	if opts.Page < 0 || opts.PerPage < 0 {
		return FindResponse{}, fmt.Errorf("%w: page and per_page must be positive", ErrBadRequest)
	}

	resp := FindResponse{Page: opts.Page, PerPage: opts.PerPage, SavedObjects: []models.SavedObject{}}

	var types []string
	for _, t := range opts.Types {
		if r.schema.IsHidden(t) {
			return FindResponse{}, fmt.Errorf("%w: unsupported saved object type %q", ErrBadRequest, t)
		}
		if !r.schema.Has(t) || slices.Contains(types, t) {
			continue
		}
		types = append(types, t)
	}
	if len(opts.Types) > 0 && len(types) == 0 {
		return resp, nil
	}

	dsl, err := searchdsl.GetSearchDSL(r.mappings, r.schema, searchdsl.Options{
		Type:                  types,
		Namespace:             opts.Namespace,
		Search:                opts.Search,
		SearchFields:          opts.SearchFields,
		DefaultSearchOperator: opts.DefaultSearchOperator,
		HasReference:          opts.HasReference,
		SortField:             opts.SortField,
		SortOrder:             opts.SortOrder,
	})
	if err != nil {
		return FindResponse{}, err
	}

	matcher, err := querymatch.Compile(dsl["query"])
	if err != nil {
		return FindResponse{}, fmt.Errorf("could not evaluate search: %v", err)
	}

	rows, err := r.store.ListObjects(ctx, types)
	if err != nil {
		return FindResponse{}, storeErr(err, "could not list saved objects")
	}

	rows = slices.DeleteFunc(rows, func(row database.StoredObject) bool { return !matcher.Match(row.Doc) })
	if err := querymatch.SortFunc(rows, func(row database.StoredObject) []byte { return row.Doc }, r.documentSort(dsl["sort"])); err != nil {
		return FindResponse{}, fmt.Errorf("could not sort results: %v", err)
	}

	resp.Total = len(rows)
	start := min((opts.Page-1)*opts.PerPage, len(rows))
	end := min(start+opts.PerPage, len(rows))
	for _, row := range rows[start:end] {
		obj, err := fromRaw(row)
		if err != nil {
			return FindResponse{}, err
		}
		resp.SavedObjects = append(resp.SavedObjects, project(obj, opts.Fields))
	}
	return resp, nil
}

// documentSort rewrites the field names of a sort clause into their path in stored documents.
func (r *Repository) documentSort(sort any) any {
	clauses, ok := sort.([]any)
	if !ok {
		return sort
	}

	out := make([]any, 0, len(clauses))
	for _, c := range clauses {
		fields, ok := c.(map[string]any)
		if !ok {
			out = append(out, c)
			continue
		}
		rewritten := make(map[string]any, len(fields))
		for field, order := range fields {
			if p, ok := r.mappings.DocumentPath(field); ok {
				field = p
			}
			rewritten[field] = order
		}
		out = append(out, rewritten)
	}
	return out
}

// project keeps only the given attributes of obj.
func project(obj models.SavedObject, fields []string) models.SavedObject {
	if len(fields) == 0 {
		return obj
	}

	attrs := make(map[string]any, len(fields))
	for _, f := range fields {
		if v, ok := obj.Attributes[f]; ok {
			attrs[f] = v
		}
	}
	obj.Attributes = attrs
	return obj
}
