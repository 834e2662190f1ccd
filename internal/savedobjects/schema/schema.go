// Package schema holds the registry of saved object types.
package schema

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/ubuntu/anomaly-explorer/internal/savedobjects/mappings"
	"github.com/ubuntu/decorate"
	"gopkg.in/yaml.v3"
)

// TypeDefinition describes one saved object type.
type TypeDefinition struct {
	Name              string                           `yaml:"name" toml:"name"`
	NamespaceAgnostic bool                             `yaml:"namespaceAgnostic" toml:"namespace_agnostic"`
	Hidden            bool                             `yaml:"hidden" toml:"hidden"`
	Mappings          map[string]mappings.FieldMapping `yaml:"mappings" toml:"mappings"`
}

// Schema is the set of known saved object types.
type Schema struct {
	defs map[string]TypeDefinition
}

// definitionsFile is the layout of a type definition file.
type definitionsFile struct {
	Types []TypeDefinition `yaml:"types" toml:"types"`
}

// New returns a schema holding the given type definitions.
func New(defs ...TypeDefinition) (*Schema, error) {
	s := &Schema{defs: make(map[string]TypeDefinition, len(defs))}
	for _, d := range defs {
		d.Name = strings.TrimSpace(d.Name)
		if d.Name == "" {
			return nil, errors.New("type definition without a name")
		}
		if mappings.IsRootField(d.Name) {
			return nil, fmt.Errorf("type name %q is reserved", d.Name)
		}
		if strings.ContainsAny(d.Name, "./\\") {
			return nil, fmt.Errorf("type name %q contains invalid characters", d.Name)
		}
		if _, exists := s.defs[d.Name]; exists {
			return nil, fmt.Errorf("type %q is defined more than once", d.Name)
		}
		s.defs[d.Name] = d
	}
	return s, nil
}

// Default returns the built-in registry.
func Default() *Schema {
	s, err := New(defaultTypes()...)
	if err != nil {
		panic(fmt.Sprintf("invalid built-in type definitions: %v", err))
	}
	return s
}

// Load reads type definitions from a YAML or TOML file, chosen by extension.
func Load(path string) (s *Schema, err error) {
	defer decorate.OnError(&err, "could not load type definitions from %q", path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var f definitionsFile
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&f); err != nil {
			return nil, err
		}
	case ".toml":
		md, err := toml.Decode(string(data), &f)
		if err != nil {
			return nil, err
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			return nil, fmt.Errorf("unknown keys: %v", undecoded)
		}
	default:
		return nil, fmt.Errorf("unsupported file extension %q", ext)
	}

	if len(f.Types) == 0 {
		return nil, errors.New("no type defined")
	}
	return New(f.Types...)
}

// Has reports whether t is a registered type.
func (s *Schema) Has(t string) bool {
	_, ok := s.defs[t]
	return ok
}

// Definition returns the definition of type t.
func (s *Schema) Definition(t string) (TypeDefinition, bool) {
	d, ok := s.defs[t]
	return d, ok
}

// IsNamespaceAgnostic reports whether objects of type t are shared across namespaces.
// Unknown types are namespaced.
func (s *Schema) IsNamespaceAgnostic(t string) bool {
	return s.defs[t].NamespaceAgnostic
}

// IsHidden reports whether type t is hidden from the public API.
func (s *Schema) IsHidden(t string) bool {
	return s.defs[t].Hidden
}

// Types returns the sorted names of all registered types, hidden ones included.
func (s *Schema) Types() []string {
	names := make([]string, 0, len(s.defs))
	for n := range s.defs {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}

// VisibleTypes returns the sorted names of the types that are not hidden.
func (s *Schema) VisibleTypes() []string {
	return slices.DeleteFunc(s.Types(), s.IsHidden)
}

// Mappings builds the index mapping of every registered type.
func (s *Schema) Mappings() mappings.IndexMapping {
	types := make(map[string]map[string]mappings.FieldMapping, len(s.defs))
	for n, d := range s.defs {
		types[n] = d.Mappings
	}
	return mappings.Root(types)
}
