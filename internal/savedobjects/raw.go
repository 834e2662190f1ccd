package savedobjects

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/ubuntu/anomaly-explorer/internal/database"
	"github.com/ubuntu/anomaly-explorer/internal/models"
	"github.com/ubuntu/anomaly-explorer/internal/savedobjects/mappings"
)

// rawMeta holds the root fields of a raw document.
type rawMeta struct {
	Type       string             `json:"type"`
	Namespace  string             `json:"namespace,omitempty"`
	UpdatedAt  time.Time          `json:"updated_at"`
	References []models.Reference `json:"references"`
}

// toRaw serializes an object as stored and searched: the root fields next to the attributes,
// which are held under the name of the type.
func toRaw(obj models.SavedObject) ([]byte, error) {
	attrs := obj.Attributes
	if attrs == nil {
		attrs = map[string]any{}
	}
	refs := obj.References
	if refs == nil {
		refs = []models.Reference{}
	}

	doc := map[string]any{
		mappings.TypeField:       obj.Type,
		mappings.UpdatedAtField:  obj.UpdatedAt,
		mappings.ReferencesField: refs,
		obj.Type:                 attrs,
	}
	if obj.Namespace != "" {
		doc[mappings.NamespaceField] = obj.Namespace
	}
	return json.Marshal(doc)
}

// fromRaw rebuilds an object from a stored row.
func fromRaw(stored database.StoredObject) (models.SavedObject, error) {
	var meta rawMeta
	if err := json.Unmarshal(stored.Doc, &meta); err != nil {
		return models.SavedObject{}, fmt.Errorf("invalid stored document for %s %q: %v", stored.Type, stored.ID, err)
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(stored.Doc, &fields); err != nil {
		return models.SavedObject{}, fmt.Errorf("invalid stored document for %s %q: %v", stored.Type, stored.ID, err)
	}

	attrs := map[string]any{}
	if raw, ok := fields[stored.Type]; ok {
		if err := json.Unmarshal(raw, &attrs); err != nil {
			return models.SavedObject{}, fmt.Errorf("invalid attributes for %s %q: %v", stored.Type, stored.ID, err)
		}
	}

	updatedAt := stored.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = meta.UpdatedAt
	}

	return normalize(models.SavedObject{
		ID:         stored.ID,
		Type:       stored.Type,
		Namespace:  stored.Namespace,
		Attributes: attrs,
		References: meta.References,
		UpdatedAt:  updatedAt.UTC(),
		Version:    stored.Version,
	}), nil
}
