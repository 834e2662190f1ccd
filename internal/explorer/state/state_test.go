package state_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/ubuntu/anomaly-explorer/internal/explorer/data"
	"github.com/ubuntu/anomaly-explorer/internal/explorer/state"
	"github.com/ubuntu/anomaly-explorer/internal/explorer/timefilter"
	"github.com/ubuntu/anomaly-explorer/internal/explorer/urlstate"
	"github.com/ubuntu/anomaly-explorer/internal/models"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func job(id string, span int64, influencers ...string) models.JobWithTimeRange {
	return models.JobWithTimeRange{
		Job:               models.Job{JobID: id, Influencers: influencers},
		BucketSpanSeconds: span,
	}
}

var catalog = []models.JobWithTimeRange{
	job("farequote", 900, "airline"),
	job("it-ops", 3600, "host", "airline"),
	job("no-influencers", 60),
}

func day(n int) time.Time {
	return time.Date(2017, time.February, n, 0, 0, 0, 0, time.UTC)
}

func TestNew(t *testing.T) {
	t.Parallel()

	s := state.New(catalog)
	defer s.Close()

	got := s.Get()
	require.True(t, got.NoJobsFound, "No job should be found before a selection")
	require.Equal(t, data.DefaultSwimlaneLimit, got.SwimlaneLimit, "Swimlane limit should default")
	require.Equal(t, []string{data.ViewByJobFieldName}, got.ViewBySwimlaneOptions, "Only jobs can be viewed without selection")
}

func TestUpdateJobSelection(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		ids        []string
		viewBy     string
		selectCell bool

		wantJobs               []data.SelectedJob
		wantNoJobsFound        bool
		wantNoInfluencers      bool
		wantOptions            []string
		wantViewBy             string
		wantSwimlaneBucketSpan int64
	}{
		"Single job": {
			ids:                    []string{"farequote"},
			wantJobs:               []data.SelectedJob{{ID: "farequote", BucketSpanSeconds: 900}},
			wantOptions:            []string{data.ViewByJobFieldName, "airline"},
			wantViewBy:             "airline",
			wantSwimlaneBucketSpan: 900,
		},
		"Multiple jobs merge influencers": {
			ids: []string{"farequote", "it-ops"},
			wantJobs: []data.SelectedJob{
				{ID: "farequote", BucketSpanSeconds: 900},
				{ID: "it-ops", BucketSpanSeconds: 3600},
			},
			wantOptions:            []string{data.ViewByJobFieldName, "airline", "host"},
			wantViewBy:             "airline",
			wantSwimlaneBucketSpan: 3600,
		},
		"Valid view by field is kept": {
			ids:                    []string{"it-ops"},
			viewBy:                 "host",
			wantJobs:               []data.SelectedJob{{ID: "it-ops", BucketSpanSeconds: 3600}},
			wantOptions:            []string{data.ViewByJobFieldName, "airline", "host"},
			wantViewBy:             "host",
			wantSwimlaneBucketSpan: 3600,
		},
		"Invalid view by field is reset": {
			ids:                    []string{"farequote"},
			viewBy:                 "host",
			wantJobs:               []data.SelectedJob{{ID: "farequote", BucketSpanSeconds: 900}},
			wantOptions:            []string{data.ViewByJobFieldName, "airline"},
			wantViewBy:             "airline",
			wantSwimlaneBucketSpan: 900,
		},
		"Jobs without influencers view by job": {
			ids:                    []string{"no-influencers"},
			wantJobs:               []data.SelectedJob{{ID: "no-influencers", BucketSpanSeconds: 60}},
			wantNoInfluencers:      true,
			wantOptions:            []string{data.ViewByJobFieldName},
			wantViewBy:             data.ViewByJobFieldName,
			wantSwimlaneBucketSpan: 60,
		},
		"Unknown jobs are ignored": {
			ids:                    []string{"unknown", "farequote"},
			selectCell:             true,
			wantJobs:               []data.SelectedJob{{ID: "farequote", BucketSpanSeconds: 900}},
			wantOptions:            []string{data.ViewByJobFieldName, "airline"},
			wantViewBy:             "airline",
			wantSwimlaneBucketSpan: 900,
		},
		"Only unknown jobs": {
			ids:               []string{"unknown"},
			wantNoJobsFound:   true,
			wantNoInfluencers: true,
			wantOptions:       []string{data.ViewByJobFieldName},
			wantViewBy:        data.ViewByJobFieldName,
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			s := state.New(catalog)
			defer s.Close()

			if tc.viewBy != "" {
				s.SetViewBySwimlaneFieldName(tc.viewBy)
			}
			if tc.selectCell {
				s.SetSelectedCells(&urlstate.SelectedCells{Type: urlstate.SwimlaneTypeOverall, Lanes: []string{"Overall"}, Times: []int64{1}})
			}
			s.UpdateJobSelection(tc.ids)

			got := s.Get()
			require.Equal(t, tc.wantJobs, got.SelectedJobs, "Selected jobs should be the known ones")
			require.Equal(t, tc.wantNoJobsFound, got.NoJobsFound, "NoJobsFound should match")
			require.Equal(t, tc.wantNoInfluencers, got.NoInfluencersConfigured, "NoInfluencersConfigured should match")
			require.Equal(t, tc.wantOptions, got.ViewBySwimlaneOptions, "View by options should list jobs and influencers")
			require.Equal(t, tc.wantViewBy, got.ViewBySwimlaneFieldName, "View by field should be valid")
			require.Equal(t, tc.wantSwimlaneBucketSpan, got.SwimlaneBucketInterval, "Bucket interval should be the largest bucket span")
			require.Nil(t, got.SelectedCells, "Changing jobs should clear the cell selection")
		})
	}
}

func TestClearJobs(t *testing.T) {
	t.Parallel()

	s := state.New(catalog)
	defer s.Close()

	s.UpdateJobSelection([]string{"it-ops"})
	s.SetExplorerData(&data.ExplorerData{})
	s.ClearJobs()

	got := s.Get()
	require.Empty(t, got.SelectedJobs, "ClearJobs should clear the selection")
	require.True(t, got.NoJobsFound, "ClearJobs should report no jobs")
	require.Nil(t, got.ExplorerData, "ClearJobs should drop loaded data")
	require.Equal(t, []string{data.ViewByJobFieldName}, got.ViewBySwimlaneOptions, "ClearJobs should reset view by options")
	require.Zero(t, got.SwimlaneBucketInterval, "ClearJobs should reset the bucket interval")
}

func TestSetters(t *testing.T) {
	t.Parallel()

	s := state.New(catalog)
	defer s.Close()

	bounds := timefilter.Bounds{Min: day(1), Max: day(2)}
	s.SetBounds(bounds)
	s.SetSwimlaneLimit(5)
	filter := urlstate.FilterState{
		FilterActive:           true,
		FilteredFields:         []string{"airline", "AAL"},
		InfluencersFilterQuery: map[string]any{"term": map[string]any{"airline": "AAL"}},
		QueryString:            "airline:AAL",
	}
	s.SetFilterData(filter)
	cells := &urlstate.SelectedCells{Type: urlstate.SwimlaneTypeOverall, Lanes: []string{"Overall"}, Times: []int64{10, 20}}
	s.SetSelectedCells(cells)
	d := &data.ExplorerData{TableData: data.TableData{Interval: data.IntervalHour}}
	s.SetExplorerData(d)

	got := s.Get()
	require.Equal(t, &bounds, got.Bounds, "SetBounds should set the bounds")
	require.Equal(t, 5, got.SwimlaneLimit, "SetSwimlaneLimit should set the limit")
	require.True(t, got.FilterActive, "SetFilterData should activate the filter")
	require.Equal(t, filter.InfluencersFilterQuery, got.InfluencersFilterQuery, "SetFilterData should set the query")
	require.Equal(t, filter.QueryString, got.QueryString, "SetFilterData should set the query string")
	require.Equal(t, cells, got.SelectedCells, "SetSelectedCells should set the selection")
	require.Same(t, d, got.ExplorerData, "SetExplorerData should set the data")

	s.SetSwimlaneLimit(0)
	require.Equal(t, data.DefaultSwimlaneLimit, s.Get().SwimlaneLimit, "Non positive limits should reset to default")

	s.SetSelectedCells(nil)
	require.Nil(t, s.Get().SelectedCells, "A nil selection should clear it")
}

func TestSetViewBySwimlaneFieldNameClearsViewBySelection(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		cells *urlstate.SelectedCells

		wantCleared bool
	}{
		"Overall selection is kept": {
			cells: &urlstate.SelectedCells{Type: urlstate.SwimlaneTypeOverall, Times: []int64{1}},
		},
		"View by selection on the same field is kept": {
			cells: &urlstate.SelectedCells{Type: urlstate.SwimlaneTypeViewBy, ViewByFieldName: "host", Times: []int64{1}},
		},
		"View by selection on another field is cleared": {
			cells:       &urlstate.SelectedCells{Type: urlstate.SwimlaneTypeViewBy, ViewByFieldName: "airline", Times: []int64{1}},
			wantCleared: true,
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			s := state.New(catalog)
			defer s.Close()

			s.SetSelectedCells(tc.cells)
			s.SetViewBySwimlaneFieldName("host")

			got := s.Get()
			require.Equal(t, "host", got.ViewBySwimlaneFieldName, "View by field should be set")
			if tc.wantCleared {
				require.Nil(t, got.SelectedCells, "Selection should be cleared")
				return
			}
			require.Equal(t, tc.cells, got.SelectedCells, "Selection should be kept")
		})
	}
}

func TestBucketInterval(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		jobs   []data.SelectedJob
		bounds *timefilter.Bounds

		want int64
	}{
		"Largest bucket span":                 {jobs: []data.SelectedJob{{BucketSpanSeconds: 900}, {BucketSpanSeconds: 3600}}, bounds: &timefilter.Bounds{Min: day(1), Max: day(2)}, want: 3600},
		"Without bounds":                      {jobs: []data.SelectedJob{{BucketSpanSeconds: 900}}, want: 900},
		"Widened to keep at most 100 buckets": {jobs: []data.SelectedJob{{BucketSpanSeconds: 3600}}, bounds: &timefilter.Bounds{Min: day(1), Max: day(1).AddDate(0, 0, 30)}, want: 8 * 3600},
		"Exactly 100 buckets":                 {jobs: []data.SelectedJob{{BucketSpanSeconds: 864}}, bounds: &timefilter.Bounds{Min: day(1), Max: day(2)}, want: 864},
		"No jobs":                             {bounds: &timefilter.Bounds{Min: day(1), Max: day(2)}, want: 0},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			got := state.BucketInterval(tc.jobs, tc.bounds)
			require.Equal(t, tc.want, got, "Bucket interval should match")
		})
	}
}

func TestSubscriptions(t *testing.T) {
	t.Parallel()

	s := state.New(catalog)

	states, unsubscribeState := s.State()
	defer unsubscribeState()
	apps, unsubscribeApp := s.AppState()
	defer unsubscribeApp()

	initial := <-states
	require.True(t, initial.NoJobsFound, "Subscribers should receive the current state")
	initialApp := <-apps
	require.Nil(t, initialApp.MlExplorerSwimlane.ViewByFieldName, "Initial app state should not hold a view by field")

	s.UpdateJobSelection([]string{"it-ops"})
	got := <-states
	require.Equal(t, "airline", got.ViewBySwimlaneFieldName, "Subscribers should receive updates")
	app := <-apps
	require.NotNil(t, app.MlExplorerSwimlane.ViewByFieldName, "App state should hold the view by field")
	require.Equal(t, "airline", *app.MlExplorerSwimlane.ViewByFieldName, "App state should hold the view by field")
	require.Nil(t, app.MlExplorerFilter, "Inactive filters should not be in the app state")

	s.Close()
	_, ok := <-states
	require.False(t, ok, "Closing the store should end subscriptions")
}

func TestStateAppState(t *testing.T) {
	t.Parallel()

	st := state.State{
		ViewBySwimlaneFieldName: "host",
		FilterActive:            true,
		FilteredFields:          []string{"host", "h1"},
		QueryString:             "host:h1",
		SelectedCells: &urlstate.SelectedCells{
			Type: urlstate.SwimlaneTypeViewBy, Lanes: []string{"h1"}, Times: []int64{10, 20},
			ShowTopFieldValues: true, ViewByFieldName: "host",
		},
	}

	got := st.AppState()
	require.Equal(t, "host", *got.MlExplorerSwimlane.ViewByFieldName, "View by field should be kept")
	require.Equal(t, urlstate.SwimlaneTypeViewBy, got.MlExplorerSwimlane.SelectedType, "Selected type should be kept")
	require.Equal(t, []string{"h1"}, got.MlExplorerSwimlane.SelectedLanes, "Selected lanes should be kept")
	require.Equal(t, []int64{10, 20}, got.MlExplorerSwimlane.SelectedTimes, "Selected times should be kept")
	require.True(t, got.MlExplorerSwimlane.ShowTopFieldValues, "ShowTopFieldValues should be kept")
	require.NotNil(t, got.MlExplorerFilter, "Active filters should be in the app state")
	require.Equal(t, "host:h1", got.MlExplorerFilter.QueryString, "Query string should be kept")

	cells := got.SelectedCells()
	require.Equal(t, st.SelectedCells, cells, "App state should round trip the cell selection")
}
