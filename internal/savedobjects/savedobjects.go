// Package savedobjects provides the repository of saved objects: typed JSON documents persisted
// in the database and searched with the saved objects query language.
package savedobjects

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"time"

	"github.com/google/uuid"
	"github.com/ubuntu/anomaly-explorer/internal/database"
	"github.com/ubuntu/anomaly-explorer/internal/models"
	"github.com/ubuntu/anomaly-explorer/internal/savedobjects/mappings"
	"github.com/ubuntu/anomaly-explorer/internal/savedobjects/schema"
	"github.com/ubuntu/anomaly-explorer/internal/savedobjects/searchdsl"
)

var (
	// ErrNotFound is returned when the requested saved object does not exist.
	ErrNotFound = errors.New("saved object not found")
	// ErrConflict is returned when a write collides with an existing or concurrently modified object.
	ErrConflict = errors.New("saved object conflict")
	// ErrBadRequest is returned for invalid requests.
	ErrBadRequest = searchdsl.ErrBadRequest
)

// Store persists raw saved object documents.
type Store interface {
	GetObject(ctx context.Context, key database.ObjectKey) (database.StoredObject, error)
	InsertObject(ctx context.Context, key database.ObjectKey, doc []byte, updatedAt time.Time, overwrite bool) (int64, error)
	UpdateObject(ctx context.Context, key database.ObjectKey, doc []byte, updatedAt time.Time, version int64) (int64, error)
	DeleteObject(ctx context.Context, key database.ObjectKey) error
	ListObjects(ctx context.Context, types []string) ([]database.StoredObject, error)
}

// Repository creates, reads and searches saved objects.
type Repository struct {
	schema   *schema.Schema
	mappings mappings.IndexMapping
	store    Store

	now   func() time.Time
	newID func() string
}

type options struct {
	now   func() time.Time
	newID func() string
}

// Options represents an optional function to override Repository default values.
type Options func(*options)

// New returns a repository of the types of the schema, persisting objects in store.
func New(s *schema.Schema, store Store, args ...Options) *Repository {
	opts := options{
		now:   time.Now,
		newID: uuid.NewString,
	}
	for _, opt := range args {
		opt(&opts)
	}

	return &Repository{
		schema:   s,
		mappings: s.Mappings(),
		store:    store,
		now:      opts.now,
		newID:    opts.newID,
	}
}

// Schema returns the type registry of the repository.
func (r *Repository) Schema() *schema.Schema {
	return r.schema
}

// CreateOptions are the options of Create.
type CreateOptions struct {
	ID         string
	Overwrite  bool
	Namespace  string
	References []models.Reference
}

// Create stores a new saved object. A random ID is used when none is given.
func (r *Repository) Create(ctx context.Context, objectType string, attributes map[string]any, opts CreateOptions) (models.SavedObject, error) {
	if err := r.checkType(objectType); err != nil {
		return models.SavedObject{}, err
	}

	id := opts.ID
	if id == "" {
		id = r.newID()
	}

	obj := models.SavedObject{
		ID:         id,
		Type:       objectType,
		Namespace:  r.namespaceOf(objectType, opts.Namespace),
		Attributes: attributes,
		References: opts.References,
		UpdatedAt:  r.now().UTC(),
	}

	doc, err := toRaw(obj)
	if err != nil {
		return models.SavedObject{}, fmt.Errorf("%w: %v", ErrBadRequest, err)
	}

	obj.Version, err = r.store.InsertObject(ctx, keyOf(obj), doc, obj.UpdatedAt, opts.Overwrite)
	if err != nil {
		return models.SavedObject{}, storeErr(err, "could not create %s %q", objectType, id)
	}

	slog.Debug("Created saved object", "type", objectType, "id", id, "version", obj.Version)
	return normalize(obj), nil
}

// BaseOptions are the options shared by the single object operations.
type BaseOptions struct {
	Namespace string
}

// Get returns a saved object.
func (r *Repository) Get(ctx context.Context, objectType, id string, opts BaseOptions) (models.SavedObject, error) {
	if err := r.checkType(objectType); err != nil {
		return models.SavedObject{}, err
	}

	key := database.ObjectKey{Type: objectType, ID: id, Namespace: r.namespaceOf(objectType, opts.Namespace)}
	stored, err := r.store.GetObject(ctx, key)
	if err != nil {
		return models.SavedObject{}, storeErr(err, "could not get %s %q", objectType, id)
	}

	obj, err := fromRaw(stored)
	if err != nil {
		return models.SavedObject{}, err
	}
	return obj, nil
}

// UpdateOptions are the options of Update.
type UpdateOptions struct {
	Namespace string
	// Version, when set, must match the stored version of the object.
	Version int64
	// References replace the stored references when not nil.
	References []models.Reference
}

// Update merges the given attributes into a saved object. Attributes that are not given are kept.
func (r *Repository) Update(ctx context.Context, objectType, id string, attributes map[string]any, opts UpdateOptions) (models.SavedObject, error) {
	current, err := r.Get(ctx, objectType, id, BaseOptions{Namespace: opts.Namespace})
	if err != nil {
		return models.SavedObject{}, err
	}
	if opts.Version != 0 && opts.Version != current.Version {
		return models.SavedObject{}, fmt.Errorf("%w: %s %q is at version %d, not %d", ErrConflict, objectType, id, current.Version, opts.Version)
	}

	obj := current
	obj.Attributes = make(map[string]any, len(current.Attributes)+len(attributes))
	maps.Copy(obj.Attributes, current.Attributes)
	maps.Copy(obj.Attributes, attributes)
	if opts.References != nil {
		obj.References = opts.References
	}
	obj.UpdatedAt = r.now().UTC()

	doc, err := toRaw(obj)
	if err != nil {
		return models.SavedObject{}, fmt.Errorf("%w: %v", ErrBadRequest, err)
	}

	obj.Version, err = r.store.UpdateObject(ctx, keyOf(obj), doc, obj.UpdatedAt, current.Version)
	if err != nil {
		return models.SavedObject{}, storeErr(err, "could not update %s %q", objectType, id)
	}
	return normalize(obj), nil
}

// Delete removes a saved object.
func (r *Repository) Delete(ctx context.Context, objectType, id string, opts BaseOptions) error {
	if err := r.checkType(objectType); err != nil {
		return err
	}

	key := database.ObjectKey{Type: objectType, ID: id, Namespace: r.namespaceOf(objectType, opts.Namespace)}
	if err := r.store.DeleteObject(ctx, key); err != nil {
		return storeErr(err, "could not delete %s %q", objectType, id)
	}
	slog.Debug("Deleted saved object", "type", objectType, "id", id)
	return nil
}

// BulkCreateObject is one object of a bulk creation.
type BulkCreateObject struct {
	ID         string             `json:"id,omitempty"`
	Type       string             `json:"type"`
	Attributes map[string]any     `json:"attributes"`
	References []models.Reference `json:"references,omitempty"`
}

// BulkCreateOptions are the options of BulkCreate.
type BulkCreateOptions struct {
	Overwrite bool
	Namespace string
}

// ObjectError describes why one object of a bulk operation failed.
type ObjectError struct {
	StatusCode int    `json:"statusCode"`
	Message    string `json:"message"`
}

// BulkResult is the outcome of the creation of one object.
type BulkResult struct {
	models.SavedObject
	Error *ObjectError `json:"error,omitempty"`
}

// BulkCreate creates several objects. A failing object does not prevent the others from being created:
// its result carries the error instead.
func (r *Repository) BulkCreate(ctx context.Context, objects []BulkCreateObject, opts BulkCreateOptions) ([]BulkResult, error) {
	results := make([]BulkResult, 0, len(objects))
	for _, o := range objects {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		obj, err := r.Create(ctx, o.Type, o.Attributes, CreateOptions{
			ID:         o.ID,
			Overwrite:  opts.Overwrite,
			Namespace:  opts.Namespace,
			References: o.References,
		})
		if err != nil {
			slog.Warn("Failed to create saved object", "type", o.Type, "id", o.ID, "err", err)
			results = append(results, BulkResult{
				SavedObject: models.SavedObject{ID: o.ID, Type: o.Type},
				Error:       &ObjectError{StatusCode: StatusCode(err), Message: err.Error()},
			})
			continue
		}
		results = append(results, BulkResult{SavedObject: obj})
	}
	return results, nil
}

// checkType rejects types that are unknown or hidden.
func (r *Repository) checkType(objectType string) error {
	if !r.schema.Has(objectType) || r.schema.IsHidden(objectType) {
		return fmt.Errorf("%w: unsupported saved object type %q", ErrBadRequest, objectType)
	}
	return nil
}

// namespaceOf returns the namespace an object is stored under.
func (r *Repository) namespaceOf(objectType, namespace string) string {
	if namespace == searchdsl.DefaultNamespace || r.schema.IsNamespaceAgnostic(objectType) {
		return ""
	}
	return namespace
}

func keyOf(obj models.SavedObject) database.ObjectKey {
	return database.ObjectKey{Type: obj.Type, ID: obj.ID, Namespace: obj.Namespace}
}

// normalize returns the object as it reads back from the store.
func normalize(obj models.SavedObject) models.SavedObject {
	if obj.Attributes == nil {
		obj.Attributes = map[string]any{}
	}
	if obj.References == nil {
		obj.References = []models.Reference{}
	}
	return obj
}

// storeErr translates store errors into repository errors.
func storeErr(err error, format string, args ...any) error {
	msg := fmt.Sprintf(format, args...)
	switch {
	case errors.Is(err, database.ErrNotFound):
		return fmt.Errorf("%w: %s", ErrNotFound, msg)
	case errors.Is(err, database.ErrConflict):
		return fmt.Errorf("%w: %s", ErrConflict, msg)
	}
	return fmt.Errorf("%s: %w", msg, err)
}

// StatusCode returns the HTTP status code matching a repository error.
func StatusCode(err error) int {
	switch {
	case err == nil:
		return 200
	case errors.Is(err, ErrBadRequest):
		return 400
	case errors.Is(err, ErrNotFound):
		return 404
	case errors.Is(err, ErrConflict):
		return 409
	}
	return 500
}
