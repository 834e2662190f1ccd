package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/ubuntu/anomaly-explorer/internal/models"
	"github.com/ubuntu/anomaly-explorer/internal/savedobjects"
	"github.com/ubuntu/anomaly-explorer/internal/savedobjects/searchdsl"
	"github.com/ubuntu/anomaly-explorer/internal/webservice/metrics"
)

type objectRepository interface {
	Find(ctx context.Context, opts savedobjects.FindOptions) (savedobjects.FindResponse, error)
	Create(ctx context.Context, objectType string, attributes map[string]any, opts savedobjects.CreateOptions) (models.SavedObject, error)
	BulkCreate(ctx context.Context, objects []savedobjects.BulkCreateObject, opts savedobjects.BulkCreateOptions) ([]savedobjects.BulkResult, error)
	Get(ctx context.Context, objectType, id string, opts savedobjects.BaseOptions) (models.SavedObject, error)
	Update(ctx context.Context, objectType, id string, attributes map[string]any, opts savedobjects.UpdateOptions) (models.SavedObject, error)
	Delete(ctx context.Context, objectType, id string, opts savedobjects.BaseOptions) error
}

// SavedObjects serves the saved objects API.
type SavedObjects struct {
	repo        objectRepository
	maxBodySize int64
}

// NewSavedObjects creates the saved objects handlers. Request bodies are limited to maxBodySize bytes.
func NewSavedObjects(repo objectRepository, maxBodySize int64) *SavedObjects {
	return &SavedObjects{repo: repo, maxBodySize: maxBodySize}
}

type writeRequest struct {
	Attributes map[string]any     `json:"attributes"`
	References []models.Reference `json:"references"`
	Version    int64              `json:"version,omitempty"`
}

func (h *SavedObjects) decode(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBodySize)
	b, err := io.ReadAll(r.Body)
	if err != nil {
		return badRequest(fmt.Errorf("failed to read body: %v", err))
	}
	if err := json.Unmarshal(b, v); err != nil {
		return badRequest(fmt.Errorf("invalid JSON body: %v", err))
	}
	return nil
}

func boolParam(r *http.Request, name string) (bool, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, badRequest(fmt.Errorf("invalid %s: %q", name, v))
	}
	return b, nil
}

func intParam(r *http.Request, name string) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return 0, nil
	}
	i, err := strconv.Atoi(v)
	if err != nil || i < 0 {
		return 0, badRequest(fmt.Errorf("invalid %s: %q", name, v))
	}
	return i, nil
}

// Find handles GET /api/saved_objects/_find.
func (h *SavedObjects) Find(w http.ResponseWriter, r *http.Request) {
	metrics.ApplyLabels(r)

	opts, err := findOptions(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	res, err := h.repo.Find(r.Context(), opts)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func findOptions(r *http.Request) (opts savedobjects.FindOptions, err error) {
	q := r.URL.Query()
	opts = savedobjects.FindOptions{
		Types:                 q["type"],
		Search:                q.Get("search"),
		SearchFields:          q["search_fields"],
		DefaultSearchOperator: q.Get("default_search_operator"),
		SortField:             q.Get("sort_field"),
		SortOrder:             q.Get("sort_order"),
		Namespace:             q.Get("namespace"),
		Fields:                q["fields"],
	}
	if len(opts.Types) == 0 {
		return opts, badRequest(fmt.Errorf("type is required"))
	}
	if opts.Page, err = intParam(r, "page"); err != nil {
		return opts, err
	}
	if opts.PerPage, err = intParam(r, "per_page"); err != nil {
		return opts, err
	}
	if raw := q.Get("has_reference"); raw != "" {
		var ref searchdsl.HasReference
		if err := json.Unmarshal([]byte(raw), &ref); err != nil {
			return opts, badRequest(fmt.Errorf("invalid has_reference: %v", err))
		}
		opts.HasReference = &ref
	}
	return opts, nil
}

// Create handles POST /api/saved_objects/{type} and POST /api/saved_objects/{type}/{id}.
func (h *SavedObjects) Create(w http.ResponseWriter, r *http.Request) {
	metrics.ApplyLabels(r)

	overwrite, err := boolParam(r, "overwrite")
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req writeRequest
	if err := h.decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	obj, err := h.repo.Create(r.Context(), r.PathValue("type"), req.Attributes, savedobjects.CreateOptions{
		ID:         r.PathValue("id"),
		Overwrite:  overwrite,
		Namespace:  r.URL.Query().Get("namespace"),
		References: req.References,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	slog.Info("Saved object created", "type", obj.Type, "id", obj.ID)
	writeJSON(w, http.StatusOK, obj)
}

// BulkCreate handles POST /api/saved_objects/_bulk_create.
func (h *SavedObjects) BulkCreate(w http.ResponseWriter, r *http.Request) {
	metrics.ApplyLabels(r)

	overwrite, err := boolParam(r, "overwrite")
	if err != nil {
		writeError(w, r, err)
		return
	}
	var objects []savedobjects.BulkCreateObject
	if err := h.decode(w, r, &objects); err != nil {
		writeError(w, r, err)
		return
	}

	results, err := h.repo.BulkCreate(r.Context(), objects, savedobjects.BulkCreateOptions{
		Overwrite: overwrite,
		Namespace: r.URL.Query().Get("namespace"),
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"saved_objects": results})
}

// Get handles GET /api/saved_objects/{type}/{id}.
func (h *SavedObjects) Get(w http.ResponseWriter, r *http.Request) {
	metrics.ApplyLabels(r)

	obj, err := h.repo.Get(r.Context(), r.PathValue("type"), r.PathValue("id"),
		savedobjects.BaseOptions{Namespace: r.URL.Query().Get("namespace")})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, obj)
}

// Update handles PUT /api/saved_objects/{type}/{id}.
func (h *SavedObjects) Update(w http.ResponseWriter, r *http.Request) {
	metrics.ApplyLabels(r)

	var req writeRequest
	if err := h.decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	obj, err := h.repo.Update(r.Context(), r.PathValue("type"), r.PathValue("id"), req.Attributes, savedobjects.UpdateOptions{
		Namespace:  r.URL.Query().Get("namespace"),
		Version:    req.Version,
		References: req.References,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	slog.Info("Saved object updated", "type", obj.Type, "id", obj.ID)
	writeJSON(w, http.StatusOK, obj)
}

// Delete handles DELETE /api/saved_objects/{type}/{id}.
func (h *SavedObjects) Delete(w http.ResponseWriter, r *http.Request) {
	metrics.ApplyLabels(r)

	typ, id := r.PathValue("type"), r.PathValue("id")
	if err := h.repo.Delete(r.Context(), typ, id, savedobjects.BaseOptions{Namespace: r.URL.Query().Get("namespace")}); err != nil {
		writeError(w, r, err)
		return
	}
	slog.Info("Saved object deleted", "type", typ, "id", id)
	writeJSON(w, http.StatusOK, map[string]any{})
}
