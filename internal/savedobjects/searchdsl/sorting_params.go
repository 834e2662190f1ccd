package searchdsl

import (
	"fmt"
	"strings"

	"github.com/ubuntu/anomaly-explorer/internal/savedobjects/mappings"
)

// GetSortingParams builds the sort of a search.
//
// Searches over several types can only be sorted by a root field. A search over a single type is
// sorted by the type attribute, or by the root field of the same name when the type has none.
func GetSortingParams(m mappings.IndexMapping, types []string, sortField, sortOrder string) (DSL, error) {
	if sortField == "" {
		return DSL{}, nil
	}
	switch strings.ToLower(sortOrder) {
	case "", "asc", "desc":
	default:
		return nil, fmt.Errorf("%w: Unknown sort order %s", ErrBadRequest, sortOrder)
	}

	if len(types) > 1 {
		root, ok := m.GetProperty(sortField)
		if !ok {
			return nil, fmt.Errorf("%w: Unable to sort multiple types by field %s, not a root property", ErrBadRequest, sortField)
		}
		return sortOn(sortField, sortOrder, root.Type), nil
	}

	var key string
	if len(types) == 1 {
		key = types[0] + "." + sortField
	}
	field, ok := m.GetProperty(key)
	if !ok {
		key = sortField
		field, ok = m.GetProperty(key)
	}
	if !ok {
		return nil, fmt.Errorf("%w: Unknown sort field %s", ErrBadRequest, sortField)
	}
	return sortOn(key, sortOrder, field.Type), nil
}

func sortOn(key, order, unmappedType string) DSL {
	return DSL{
		"sort": []any{
			map[string]any{
				key: map[string]any{
					"order":         order,
					"unmapped_type": unmappedType,
				},
			},
		},
	}
}
