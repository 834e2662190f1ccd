// Package urlstate reads and writes the state buckets the explorer keeps in its URL.
//
// The `_a` bucket holds the application state and the `_g` bucket the global state shared across pages.
// Both are rison encoded objects.
package urlstate

import (
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"net/url"
	"sync"

	"github.com/go-viper/mapstructure/v2"
)

const (
	// AppStateKey is the query parameter of the application state.
	AppStateKey = "_a"
	// GlobalStateKey is the query parameter of the global state.
	GlobalStateKey = "_g"
)

// ErrInvalidState is returned when a state bucket does not match the structure of its typed view.
var ErrInvalidState = errors.New("state does not match the expected structure")

// Swimlane types of a cell selection.
const (
	SwimlaneTypeOverall = "overall"
	SwimlaneTypeViewBy  = "viewBy"
)

// SwimlaneState is the swimlane part of the application state.
type SwimlaneState struct {
	ViewByFieldName    *string  `json:"viewByFieldName,omitempty" mapstructure:"viewByFieldName"`
	SelectedType       string   `json:"selectedType,omitempty" mapstructure:"selectedType"`
	SelectedLanes      []string `json:"selectedLanes,omitempty" mapstructure:"selectedLanes"`
	SelectedTimes      []int64  `json:"selectedTimes,omitempty" mapstructure:"selectedTimes"`
	ShowTopFieldValues bool     `json:"showTopFieldValues,omitempty" mapstructure:"showTopFieldValues"`
}

// FilterState is the influencer filter part of the application state.
type FilterState struct {
	FilterActive           bool           `json:"filterActive,omitempty" mapstructure:"filterActive"`
	FilteredFields         []string       `json:"filteredFields,omitempty" mapstructure:"filteredFields"`
	InfluencersFilterQuery map[string]any `json:"influencersFilterQuery,omitempty" mapstructure:"influencersFilterQuery"`
	QueryString            string         `json:"queryString,omitempty" mapstructure:"queryString"`
}

// IntervalOption is the selected aggregation interval of the anomalies table.
type IntervalOption struct {
	Display string `json:"display" mapstructure:"display"`
	Val     string `json:"val" mapstructure:"val"`
}

// SeverityOption is the selected minimum severity of the anomalies table.
type SeverityOption struct {
	Display string `json:"display" mapstructure:"display"`
	Val     int    `json:"val" mapstructure:"val"`
}

// LimitOption is the selected number of view by swimlanes.
type LimitOption struct {
	Display string `json:"display" mapstructure:"display"`
	Val     int    `json:"val" mapstructure:"val"`
}

// AppState is the typed view of the `_a` bucket.
type AppState struct {
	MlExplorerSwimlane *SwimlaneState  `json:"mlExplorerSwimlane,omitempty" mapstructure:"mlExplorerSwimlane"`
	MlExplorerFilter   *FilterState    `json:"mlExplorerFilter,omitempty" mapstructure:"mlExplorerFilter"`
	MlShowCharts       *bool           `json:"mlShowCharts,omitempty" mapstructure:"mlShowCharts"`
	MlSelectInterval   *IntervalOption `json:"mlSelectInterval,omitempty" mapstructure:"mlSelectInterval"`
	MlSelectSeverity   *SeverityOption `json:"mlSelectSeverity,omitempty" mapstructure:"mlSelectSeverity"`
	MlSelectLimit      *LimitOption    `json:"mlSelectLimit,omitempty" mapstructure:"mlSelectLimit"`
}

// TimeRange is a time range as typed in the time picker: absolute dates or date math.
type TimeRange struct {
	From string `json:"from" mapstructure:"from"`
	To   string `json:"to" mapstructure:"to"`
}

// RefreshInterval is the auto refresh setting. Value is in milliseconds.
type RefreshInterval struct {
	Pause bool  `json:"pause" mapstructure:"pause"`
	Value int64 `json:"value" mapstructure:"value"`
}

// MLState is the machine learning part of the global state.
type MLState struct {
	JobIDs []string `json:"jobIds" mapstructure:"jobIds"`
}

// GlobalState is the typed view of the `_g` bucket.
type GlobalState struct {
	Time            *TimeRange       `json:"time,omitempty" mapstructure:"time"`
	RefreshInterval *RefreshInterval `json:"refreshInterval,omitempty" mapstructure:"refreshInterval"`
	ML              *MLState         `json:"ml,omitempty" mapstructure:"ml"`
}

// SelectedCells is a selection of swimlane cells.
// Times are the bounds of the selection, in seconds.
type SelectedCells struct {
	Type               string   `json:"type"`
	Lanes              []string `json:"lanes"`
	Times              []int64  `json:"times"`
	ShowTopFieldValues bool     `json:"showTopFieldValues,omitempty"`
	ViewByFieldName    string   `json:"viewByFieldName,omitempty"`
}

// SelectedCells returns the swimlane cell selection of the application state, or nil when nothing is selected.
// Only view by selections carry the view by field.
func (a AppState) SelectedCells() *SelectedCells {
	s := a.MlExplorerSwimlane
	if s == nil || s.SelectedType == "" {
		return nil
	}

	cells := &SelectedCells{
		Type:               s.SelectedType,
		Lanes:              s.SelectedLanes,
		Times:              s.SelectedTimes,
		ShowTopFieldValues: s.ShowTopFieldValues,
	}
	if s.SelectedType == SwimlaneTypeViewBy && s.ViewByFieldName != nil {
		cells.ViewByFieldName = *s.ViewByFieldName
	}
	return cells
}

// URLState holds the decoded state buckets of an explorer URL.
type URLState struct {
	mu      sync.RWMutex
	buckets map[string]map[string]any
}

// New returns an empty URL state.
func New() *URLState {
	return &URLState{buckets: make(map[string]map[string]any)}
}

// Parse decodes the state buckets of the query. Absent buckets stay absent.
func Parse(query url.Values) (*URLState, error) {
	u := New()
	for _, key := range []string{AppStateKey, GlobalStateKey} {
		raw := query.Get(key)
		if raw == "" {
			continue
		}

		v, err := Decode(raw)
		if err != nil {
			return nil, fmt.Errorf("could not decode %s: %w", key, err)
		}
		bucket, ok := v.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("could not decode %s: %w: expected an object", key, ErrInvalidRison)
		}
		u.buckets[key] = bucket
	}
	return u, nil
}

// Get returns a shallow copy of a bucket, or nil when it is absent.
func (u *URLState) Get(key string) map[string]any {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return maps.Clone(u.buckets[key])
}

// Set merges the top level keys of value into a bucket.
// It reports whether the bucket changed.
func (u *URLState) Set(key string, value map[string]any) bool {
	u.mu.Lock()
	defer u.mu.Unlock()

	current := u.buckets[key]
	merged := maps.Clone(current)
	if merged == nil {
		merged = make(map[string]any, len(value))
	}
	maps.Copy(merged, value)

	before, _ := Encode(current)
	after, _ := Encode(merged)
	if current != nil && before == after {
		return false
	}
	u.buckets[key] = merged
	return true
}

// SetValue merges the JSON representation of value into a bucket.
// It reports whether the bucket changed.
func (u *URLState) SetValue(key string, value any) (bool, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return false, fmt.Errorf("could not encode %s value: %v", key, err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return false, fmt.Errorf("%s value is not an object: %v", key, err)
	}
	return u.Set(key, m), nil
}

// AppState decodes the application state.
func (u *URLState) AppState() (AppState, error) {
	return decodeBucket[AppState](u.Get(AppStateKey))
}

// GlobalState decodes the global state.
func (u *URLState) GlobalState() (GlobalState, error) {
	return decodeBucket[GlobalState](u.Get(GlobalStateKey))
}

// Query encodes the present buckets as query parameters.
func (u *URLState) Query() (url.Values, error) {
	u.mu.RLock()
	defer u.mu.RUnlock()

	q := url.Values{}
	for key, bucket := range u.buckets {
		s, err := Encode(bucket)
		if err != nil {
			return nil, fmt.Errorf("could not encode %s: %v", key, err)
		}
		q.Set(key, s)
	}
	return q, nil
}

func decodeBucket[T any](bucket map[string]any) (T, error) {
	var out T
	if bucket == nil {
		return out, nil
	}

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           &out,
	})
	if err != nil {
		return out, fmt.Errorf("failed to create decoder: %v", err)
	}
	if err := decoder.Decode(bucket); err != nil {
		return out, fmt.Errorf("%w: %v", ErrInvalidState, err)
	}
	return out, nil
}
