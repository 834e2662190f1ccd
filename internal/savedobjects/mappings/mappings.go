// Package mappings describes the field layout of stored saved objects.
//
// A mapping is a tree of field definitions: object fields hold nested Properties while
// leaf fields may declare multi-fields (for instance a keyword variant of a text field).
package mappings

import (
	"maps"
	"slices"
	"strings"
)

// Root field names stored next to the typed attributes of every saved object.
const (
	TypeField       = "type"
	NamespaceField  = "namespace"
	UpdatedAtField  = "updated_at"
	ReferencesField = "references"
)

// FieldMapping is the definition of a single field.
type FieldMapping struct {
	Type       string                  `json:"type,omitempty" yaml:"type,omitempty" toml:"type,omitempty"`
	Dynamic    string                  `json:"dynamic,omitempty" yaml:"dynamic,omitempty" toml:"dynamic,omitempty"`
	Properties map[string]FieldMapping `json:"properties,omitempty" yaml:"properties,omitempty" toml:"properties,omitempty"`
	Fields     map[string]FieldMapping `json:"fields,omitempty" yaml:"fields,omitempty" toml:"fields,omitempty"`
}

// IndexMapping is the mapping of the whole saved objects index.
type IndexMapping struct {
	Properties map[string]FieldMapping `json:"properties"`
}

// Root builds the index mapping from the attribute mappings of each saved object type.
// Every type contributes an object field named after itself, next to the root fields.
func Root(types map[string]map[string]FieldMapping) IndexMapping {
	props := RootProperties()
	for name, attrs := range types {
		props[name] = FieldMapping{
			Dynamic:    "strict",
			Properties: maps.Clone(attrs),
		}
	}
	return IndexMapping{Properties: props}
}

// RootProperties returns the fields shared by all saved objects, whatever their type.
func RootProperties() map[string]FieldMapping {
	return map[string]FieldMapping{
		TypeField:      {Type: "keyword"},
		NamespaceField: {Type: "keyword"},
		UpdatedAtField: {Type: "date"},
		ReferencesField: {
			Type: "nested",
			Properties: map[string]FieldMapping{
				"name": {Type: "keyword"},
				"type": {Type: "keyword"},
				"id":   {Type: "keyword"},
			},
		},
	}
}

// IsRootField reports whether name is one of the fields shared by all saved objects.
func IsRootField(name string) bool {
	_, ok := RootProperties()[name]
	return ok
}

// GetProperty returns the field definition at the dotted path.
// Path segments are resolved against object properties first, then against multi-fields.
func (m IndexMapping) GetProperty(path string) (FieldMapping, bool) {
	if path == "" {
		return FieldMapping{}, false
	}

	current := FieldMapping{Properties: m.Properties}
	for seg := range strings.SplitSeq(path, ".") {
		next, ok := current.Properties[seg]
		if !ok {
			next, ok = current.Fields[seg]
		}
		if !ok {
			return FieldMapping{}, false
		}
		current = next
	}
	return current, true
}

// DocumentPath returns the path holding the value of the field in a stored document.
// Multi-fields index the value of their parent field, so they resolve to the parent path.
func (m IndexMapping) DocumentPath(path string) (string, bool) {
	if path == "" {
		return "", false
	}

	current := FieldMapping{Properties: m.Properties}
	var segs []string
	for seg := range strings.SplitSeq(path, ".") {
		if next, ok := current.Properties[seg]; ok {
			segs = append(segs, seg)
			current = next
			continue
		}
		next, ok := current.Fields[seg]
		if !ok || len(segs) == 0 {
			return "", false
		}
		current = next
	}
	return strings.Join(segs, "."), true
}

// TypeNames returns the sorted names of the saved object types present in the mapping.
func (m IndexMapping) TypeNames() []string {
	var names []string
	for name := range m.Properties {
		if IsRootField(name) {
			continue
		}
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}
