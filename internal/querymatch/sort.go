package querymatch

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"

	"github.com/tidwall/gjson"
)

type sortKey struct {
	field string
	desc  bool
}

// Sort orders docs in place following a sort clause: [{"<field>": {"order": "asc|desc"}}, ...].
//
// Documents missing a sort value come last, whatever the order. Equal documents keep their relative order.
func Sort(docs [][]byte, sort any) error {
	return SortFunc(docs, func(d []byte) []byte { return d }, sort)
}

// SortFunc is like Sort, for items holding a JSON document returned by doc.
func SortFunc[T any](items []T, doc func(T) []byte, sort any) error {
	keys, err := parseSort(sort)
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}

	type entry struct {
		item T
		doc  gjson.Result
	}
	entries := make([]entry, len(items))
	for i, it := range items {
		entries[i] = entry{item: it, doc: gjson.ParseBytes(doc(it))}
	}

	slices.SortStableFunc(entries, func(a, b entry) int {
		for _, k := range keys {
			va, vb := Values(a.doc, k.field), Values(b.doc, k.field)
			switch {
			case len(va) == 0 && len(vb) == 0:
				continue
			case len(va) == 0:
				return 1
			case len(vb) == 0:
				return -1
			}
			c := compare(va[0], vb[0])
			if k.desc {
				c = -c
			}
			if c != 0 {
				return c
			}
		}
		return 0
	})

	for i, e := range entries {
		items[i] = e.item
	}
	return nil
}

func parseSort(sort any) ([]sortKey, error) {
	if sort == nil {
		return nil, nil
	}
	raw, err := json.Marshal(sort)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidQuery, err)
	}

	clauses := gjson.ParseBytes(raw)
	if !clauses.IsArray() {
		clauses = gjson.Parse("[" + clauses.Raw + "]")
	}

	var keys []sortKey
	for _, c := range clauses.Array() {
		if c.Type == gjson.String {
			keys = append(keys, sortKey{field: c.String()})
			continue
		}
		if !c.IsObject() {
			return nil, fmt.Errorf("%w: sort clause must be an object, got %s", ErrInvalidQuery, c.Raw)
		}
		for field, opts := range c.Map() {
			order := opts.String()
			if opts.IsObject() {
				order = opts.Get("order").String()
			}
			switch strings.ToLower(order) {
			case "", "asc":
				keys = append(keys, sortKey{field: field})
			case "desc":
				keys = append(keys, sortKey{field: field, desc: true})
			default:
				return nil, fmt.Errorf("%w: unsupported sort order %q", ErrInvalidQuery, order)
			}
		}
	}
	return keys, nil
}
