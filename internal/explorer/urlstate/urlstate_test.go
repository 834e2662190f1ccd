package urlstate_test

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/ubuntu/anomaly-explorer/internal/explorer/urlstate"
)

func TestParse(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		query url.Values

		wantApp    map[string]any
		wantGlobal map[string]any
		wantErr    bool
	}{
		"Absent buckets are nil": {query: url.Values{}},
		"Both buckets": {
			query: url.Values{
				"_a": {"(mlShowCharts:!t)"},
				"_g": {"(ml:(jobIds:!(farequote)))"},
			},
			wantApp:    map[string]any{"mlShowCharts": true},
			wantGlobal: map[string]any{"ml": map[string]any{"jobIds": []any{"farequote"}}},
		},
		"Other parameters are ignored": {
			query:   url.Values{"_a": {"()"}, "other": {"!!!"}},
			wantApp: map[string]any{},
		},

		"Error on malformed rison":   {query: url.Values{"_g": {"(time:(from:now"}}, wantErr: true},
		"Error on non object bucket": {query: url.Values{"_a": {"!(1,2)"}}, wantErr: true},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			u, err := urlstate.Parse(tc.query)
			if tc.wantErr {
				require.ErrorIs(t, err, urlstate.ErrInvalidRison, "Parse should return an invalid rison error")
				return
			}
			require.NoError(t, err, "Parse should not return an error")
			require.Equal(t, tc.wantApp, u.Get(urlstate.AppStateKey), "Unexpected application state bucket")
			require.Equal(t, tc.wantGlobal, u.Get(urlstate.GlobalStateKey), "Unexpected global state bucket")
		})
	}
}

func TestAppState(t *testing.T) {
	t.Parallel()

	viewBy := "airline"
	tests := map[string]struct {
		appState string

		want          urlstate.AppState
		wantSelection *urlstate.SelectedCells
		wantErr       bool
	}{
		"Absent bucket": {},
		"Full state": {
			appState: "(mlExplorerFilter:(filterActive:!t,filteredFields:!(airline,AAL),influencersFilterQuery:(match_phrase:(airline:AAL)),queryString:'airline:AAL')," +
				"mlExplorerSwimlane:(selectedLanes:!(AAL),selectedTimes:!(1486656000,1486659600),selectedType:viewBy,viewByFieldName:airline)," +
				"mlSelectInterval:(display:Hour,val:hour),mlSelectLimit:(display:'25',val:25),mlSelectSeverity:(display:critical,val:75),mlShowCharts:!f)",
			want: urlstate.AppState{
				MlExplorerSwimlane: &urlstate.SwimlaneState{
					ViewByFieldName: &viewBy,
					SelectedType:    urlstate.SwimlaneTypeViewBy,
					SelectedLanes:   []string{"AAL"},
					SelectedTimes:   []int64{1486656000, 1486659600},
				},
				MlExplorerFilter: &urlstate.FilterState{
					FilterActive:           true,
					FilteredFields:         []string{"airline", "AAL"},
					InfluencersFilterQuery: map[string]any{"match_phrase": map[string]any{"airline": "AAL"}},
					QueryString:            "airline:AAL",
				},
				MlShowCharts:     new(bool),
				MlSelectInterval: &urlstate.IntervalOption{Display: "Hour", Val: "hour"},
				MlSelectSeverity: &urlstate.SeverityOption{Display: "critical", Val: 75},
				MlSelectLimit:    &urlstate.LimitOption{Display: "25", Val: 25},
			},
			wantSelection: &urlstate.SelectedCells{
				Type:            urlstate.SwimlaneTypeViewBy,
				Lanes:           []string{"AAL"},
				Times:           []int64{1486656000, 1486659600},
				ViewByFieldName: "airline",
			},
		},
		"Single selected time is a one element slice": {
			appState: "(mlExplorerSwimlane:(selectedLanes:!(Overall),selectedTimes:1486656000,selectedType:overall))",
			want: urlstate.AppState{
				MlExplorerSwimlane: &urlstate.SwimlaneState{
					SelectedType:  urlstate.SwimlaneTypeOverall,
					SelectedLanes: []string{"Overall"},
					SelectedTimes: []int64{1486656000},
				},
			},
			wantSelection: &urlstate.SelectedCells{
				Type:  urlstate.SwimlaneTypeOverall,
				Lanes: []string{"Overall"},
				Times: []int64{1486656000},
			},
		},
		"View by without selection": {
			appState: "(mlExplorerSwimlane:(viewByFieldName:airline))",
			want:     urlstate.AppState{MlExplorerSwimlane: &urlstate.SwimlaneState{ViewByFieldName: &viewBy}},
		},

		"Error on mismatching structure": {appState: "(mlExplorerSwimlane:!(1,2))", wantErr: true},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			q := url.Values{}
			if tc.appState != "" {
				q.Set(urlstate.AppStateKey, tc.appState)
			}
			u, err := urlstate.Parse(q)
			require.NoError(t, err, "Setup: Parse should not return an error")

			got, err := u.AppState()
			if tc.wantErr {
				require.Error(t, err, "AppState should return an error")
				return
			}
			require.NoError(t, err, "AppState should not return an error")
			require.Equal(t, tc.want, got, "Unexpected application state")
			require.Equal(t, tc.wantSelection, got.SelectedCells(), "Unexpected selected cells")
		})
	}
}

func TestGlobalState(t *testing.T) {
	t.Parallel()

	q := url.Values{urlstate.GlobalStateKey: {"(ml:(jobIds:!(farequote,'group-a')),refreshInterval:(pause:!f,value:30000),time:(from:now-7d,to:now))"}}
	u, err := urlstate.Parse(q)
	require.NoError(t, err, "Setup: Parse should not return an error")

	got, err := u.GlobalState()
	require.NoError(t, err, "GlobalState should not return an error")
	require.Equal(t, urlstate.GlobalState{
		Time:            &urlstate.TimeRange{From: "now-7d", To: "now"},
		RefreshInterval: &urlstate.RefreshInterval{Pause: false, Value: 30000},
		ML:              &urlstate.MLState{JobIDs: []string{"farequote", "group-a"}},
	}, got, "Unexpected global state")
}

func TestSet(t *testing.T) {
	t.Parallel()

	u, err := urlstate.Parse(url.Values{urlstate.AppStateKey: {"(mlShowCharts:!t,mlExplorerSwimlane:(viewByFieldName:airline))"}})
	require.NoError(t, err, "Setup: Parse should not return an error")

	changed := u.Set(urlstate.AppStateKey, map[string]any{"mlShowCharts": true})
	require.False(t, changed, "Setting an identical value should not change the bucket")

	viewBy := "job ID"
	changed, err = u.SetValue(urlstate.AppStateKey, urlstate.AppState{
		MlExplorerSwimlane: &urlstate.SwimlaneState{ViewByFieldName: &viewBy},
	})
	require.NoError(t, err, "SetValue should not return an error")
	require.True(t, changed, "Setting a new value should change the bucket")

	q, err := u.Query()
	require.NoError(t, err, "Query should not return an error")
	require.Equal(t, "(mlExplorerSwimlane:(viewByFieldName:'job ID'),mlShowCharts:!t)", q.Get(urlstate.AppStateKey),
		"Top level keys should be merged")
	require.False(t, q.Has(urlstate.GlobalStateKey), "Absent buckets should not be encoded")

	changed = u.Set(urlstate.GlobalStateKey, map[string]any{})
	require.True(t, changed, "Setting an absent bucket should create it")

	_, err = u.SetValue(urlstate.GlobalStateKey, []int{1})
	require.Error(t, err, "SetValue should reject values which are not objects")
}
