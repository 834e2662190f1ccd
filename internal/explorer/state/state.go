// Package state holds the explorer state store.
//
// The store is owned by a page session. Every change is published to the subscribers of State and AppState,
// which immediately receive the current value when they subscribe.
package state

import (
	"log/slog"
	"slices"
	"sync"

	"github.com/ubuntu/anomaly-explorer/internal/explorer/data"
	"github.com/ubuntu/anomaly-explorer/internal/explorer/pubsub"
	"github.com/ubuntu/anomaly-explorer/internal/explorer/timefilter"
	"github.com/ubuntu/anomaly-explorer/internal/explorer/urlstate"
	"github.com/ubuntu/anomaly-explorer/internal/models"
)

// maxSwimlaneBuckets is the maximum number of buckets a swimlane shows across the bounds.
const maxSwimlaneBuckets = 100

// State is the explorer state.
type State struct {
	Bounds                  *timefilter.Bounds      `json:"bounds,omitempty"`
	ExplorerData            *data.ExplorerData      `json:"explorerData,omitempty"`
	FilterActive            bool                    `json:"filterActive"`
	FilteredFields          []string                `json:"filteredFields,omitempty"`
	InfluencersFilterQuery  map[string]any          `json:"influencersFilterQuery,omitempty"`
	QueryString             string                  `json:"queryString,omitempty"`
	NoInfluencersConfigured bool                    `json:"noInfluencersConfigured"`
	NoJobsFound             bool                    `json:"noJobsFound"`
	SelectedCells           *urlstate.SelectedCells `json:"selectedCells,omitempty"`
	SelectedJobs            []data.SelectedJob      `json:"selectedJobs"`
	SwimlaneBucketInterval  int64                   `json:"swimlaneBucketInterval"`
	SwimlaneLimit           int                     `json:"swimlaneLimit"`
	ViewBySwimlaneFieldName string                  `json:"viewBySwimlaneFieldName,omitempty"`
	ViewBySwimlaneOptions   []string                `json:"viewBySwimlaneOptions"`
}

// AppState returns the application state to store in the URL for this state.
func (s State) AppState() urlstate.AppState {
	swimlane := &urlstate.SwimlaneState{}
	if s.ViewBySwimlaneFieldName != "" {
		name := s.ViewBySwimlaneFieldName
		swimlane.ViewByFieldName = &name
	}
	if c := s.SelectedCells; c != nil {
		swimlane.SelectedType = c.Type
		swimlane.SelectedLanes = c.Lanes
		swimlane.SelectedTimes = c.Times
		swimlane.ShowTopFieldValues = c.ShowTopFieldValues
	}

	app := urlstate.AppState{MlExplorerSwimlane: swimlane}
	if s.FilterActive {
		app.MlExplorerFilter = &urlstate.FilterState{
			FilterActive:           true,
			FilteredFields:         s.FilteredFields,
			InfluencersFilterQuery: s.InfluencersFilterQuery,
			QueryString:            s.QueryString,
		}
	}
	return app
}

// Store is the explorer state store.
type Store struct {
	mu      sync.Mutex
	catalog map[string]models.JobWithTimeRange
	state   State

	states    *pubsub.Subject[State]
	appStates *pubsub.Subject[urlstate.AppState]
}

// New returns a store selecting jobs among catalog.
func New(catalog []models.JobWithTimeRange) *Store {
	jobs := make(map[string]models.JobWithTimeRange, len(catalog))
	for _, j := range catalog {
		jobs[j.JobID] = j
	}

	s := State{
		NoJobsFound:           true,
		SwimlaneLimit:         data.DefaultSwimlaneLimit,
		ViewBySwimlaneOptions: []string{data.ViewByJobFieldName},
	}
	return &Store{
		catalog:   jobs,
		state:     s,
		states:    pubsub.NewWithValue(s),
		appStates: pubsub.NewWithValue(s.AppState()),
	}
}

// State subscribes to the explorer state.
func (s *Store) State() (<-chan State, func()) {
	return s.states.Subscribe()
}

// AppState subscribes to the application state derived from the explorer state.
func (s *Store) AppState() (<-chan urlstate.AppState, func()) {
	return s.appStates.Subscribe()
}

// Get returns the current explorer state.
func (s *Store) Get() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Close ends all subscriptions.
func (s *Store) Close() {
	s.states.Close()
	s.appStates.Close()
}

// update applies f to the state and publishes the result.
func (s *Store) update(f func(*State)) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f(&s.state)
	s.states.Publish(s.state)
	s.appStates.Publish(s.state.AppState())
}

// SetBounds sets the time bounds of the explorer.
func (s *Store) SetBounds(b timefilter.Bounds) {
	s.update(func(st *State) {
		st.Bounds = &b
		st.SwimlaneBucketInterval = bucketInterval(st.SelectedJobs, st.Bounds)
	})
}

// SetViewBySwimlaneFieldName sets the field the view by swimlane shows lanes for.
// A view by cell selection on another field is cleared.
func (s *Store) SetViewBySwimlaneFieldName(name string) {
	s.update(func(st *State) {
		if c := st.SelectedCells; c != nil && c.Type == urlstate.SwimlaneTypeViewBy && c.ViewByFieldName != name {
			st.SelectedCells = nil
		}
		st.ViewBySwimlaneFieldName = name
	})
}

// SetFilterData sets the influencers filter.
func (s *Store) SetFilterData(f urlstate.FilterState) {
	s.update(func(st *State) {
		st.FilterActive = f.FilterActive
		st.FilteredFields = f.FilteredFields
		st.InfluencersFilterQuery = f.InfluencersFilterQuery
		st.QueryString = f.QueryString
	})
}

// UpdateJobSelection selects the jobs of ids. Unknown jobs are ignored.
func (s *Store) UpdateJobSelection(ids []string) {
	s.update(func(st *State) {
		var selected []data.SelectedJob
		var influencers []string
		for _, id := range ids {
			j, ok := s.catalog[id]
			if !ok {
				slog.Debug("Ignoring unknown job in selection", "id", id)
				continue
			}
			selected = append(selected, data.SelectedJob{ID: j.JobID, BucketSpanSeconds: j.BucketSpanSeconds})
			influencers = append(influencers, j.Influencers...)
		}
		slices.Sort(influencers)
		influencers = slices.Compact(influencers)

		st.SelectedJobs = selected
		st.NoJobsFound = len(selected) == 0
		st.NoInfluencersConfigured = len(influencers) == 0
		st.ViewBySwimlaneOptions = append([]string{data.ViewByJobFieldName}, influencers...)
		st.SwimlaneBucketInterval = bucketInterval(selected, st.Bounds)
		st.SelectedCells = nil

		if !slices.Contains(st.ViewBySwimlaneOptions, st.ViewBySwimlaneFieldName) {
			st.ViewBySwimlaneFieldName = data.ViewByJobFieldName
			if len(influencers) > 0 {
				st.ViewBySwimlaneFieldName = influencers[0]
			}
		}
	})
}

// ClearJobs clears the job selection and everything loaded for it.
func (s *Store) ClearJobs() {
	s.update(func(st *State) {
		st.SelectedJobs = nil
		st.NoJobsFound = true
		st.NoInfluencersConfigured = true
		st.ViewBySwimlaneOptions = []string{data.ViewByJobFieldName}
		st.SwimlaneBucketInterval = 0
		st.SelectedCells = nil
		st.ExplorerData = nil
	})
}

// SetExplorerData sets the loaded data.
func (s *Store) SetExplorerData(d *data.ExplorerData) {
	s.update(func(st *State) {
		st.ExplorerData = d
	})
}

// SetSwimlaneLimit sets the maximum number of view by lanes. Non positive limits reset to the default.
func (s *Store) SetSwimlaneLimit(limit int) {
	if limit <= 0 {
		limit = data.DefaultSwimlaneLimit
	}
	s.update(func(st *State) {
		st.SwimlaneLimit = limit
	})
}

// SetSelectedCells sets the swimlane cell selection. A nil selection clears it.
func (s *Store) SetSelectedCells(cells *urlstate.SelectedCells) {
	s.update(func(st *State) {
		st.SelectedCells = cells
	})
}

// bucketInterval returns the swimlane bucket interval in seconds: the largest bucket span of the jobs,
// widened by a whole factor so that the bounds hold at most maxSwimlaneBuckets buckets.
func bucketInterval(jobs []data.SelectedJob, bounds *timefilter.Bounds) int64 {
	var interval int64
	for _, j := range jobs {
		interval = max(interval, j.BucketSpanSeconds)
	}
	if interval <= 0 || bounds == nil {
		return interval
	}

	span := int64(bounds.Max.Sub(bounds.Min).Seconds())
	if span/interval > maxSwimlaneBuckets {
		width := maxSwimlaneBuckets * interval
		interval *= (span + width - 1) / width
	}
	return interval
}
