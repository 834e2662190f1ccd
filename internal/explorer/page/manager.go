package page

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/ubuntu/anomaly-explorer/internal/common/config"
	"github.com/ubuntu/anomaly-explorer/internal/explorer/data"
	"github.com/ubuntu/anomaly-explorer/internal/explorer/jobs"
	"github.com/ubuntu/anomaly-explorer/internal/explorer/state"
	"github.com/ubuntu/anomaly-explorer/internal/explorer/timefilter"
	"github.com/ubuntu/anomaly-explorer/internal/explorer/urlstate"
	"github.com/ubuntu/anomaly-explorer/internal/models"
)

type dataLoader interface {
	Load(ctx context.Context, cfg *data.LoadConfig) (*data.ExplorerData, error)
}

// effects remembers the dependency key each effect last ran with.
type effects map[string]string

// changed reports whether deps differs from the dependencies the effect last ran with, and records them.
func (e effects) changed(effect string, deps any) bool {
	b, err := json.Marshal(deps)
	if err != nil {
		slog.Warn("Could not encode effect dependencies", "effect", effect, "err", err)
		return true
	}
	key := string(b)
	if prev, ok := e[effect]; ok && prev == key {
		return false
	}
	e[effect] = key
	return true
}

// manager keeps the explorer store, the time filter and the URL state in sync.
type manager struct {
	url      *urlstate.URLState
	tf       *timefilter.TimeFilter
	store    *state.Store
	loader   dataLoader
	catalog  []models.JobWithTimeRange
	defaults config.ExplorerDefaults

	refreshes   <-chan timefilter.Refresh
	appStates   <-chan urlstate.AppState
	unsubscribe []func()

	effects      effects
	mounted      bool
	refresh      *timefilter.Refresh
	lastRefresh  int64
	explorerData *data.ExplorerData
}

func newManager(u *urlstate.URLState, tf *timefilter.TimeFilter, store *state.Store, loader dataLoader,
	catalog []models.JobWithTimeRange, defaults config.ExplorerDefaults) *manager {
	refreshes, unsubscribeRefresh := tf.Subscribe()
	appStates, unsubscribeApp := store.AppState()

	return &manager{
		url:         u,
		tf:          tf,
		store:       store,
		loader:      loader,
		catalog:     catalog,
		defaults:    defaults,
		refreshes:   refreshes,
		appStates:   appStates,
		unsubscribe: []func(){unsubscribeRefresh, unsubscribeApp},
		effects:     make(effects),
	}
}

func (m *manager) close() {
	for _, f := range m.unsubscribe {
		f()
	}
}

// latest returns the most recent pending value of ch, if any.
func latest[T any](ch <-chan T) (v T, ok bool) {
	for {
		select {
		case next, open := <-ch:
			if !open {
				return v, ok
			}
			v, ok = next, true
		default:
			return v, ok
		}
	}
}

// sync runs every effect whose dependencies changed since the previous pass.
func (m *manager) sync(ctx context.Context) error {
	appState, err := m.url.AppState()
	if err != nil {
		return err
	}
	globalState, err := m.url.GlobalState()
	if err != nil {
		return err
	}

	// Selectors are enabled first so that the active bounds are known on the first refresh.
	if !m.mounted {
		m.mounted = true
		m.tf.EnableTimeRangeSelector()
		m.tf.EnableAutoRefreshSelector()
		if sw := appState.MlExplorerSwimlane; sw != nil && sw.ViewByFieldName != nil {
			m.store.SetViewBySwimlaneFieldName(*sw.ViewByFieldName)
		}
		if appState.MlExplorerFilter != nil {
			m.store.SetFilterData(*appState.MlExplorerFilter)
		}
	}

	if r, ok := latest(m.refreshes); ok {
		m.refresh = &r
	}
	if m.refresh != nil && m.effects.changed("refresh", m.refresh.LastRefresh) {
		m.lastRefresh = m.refresh.LastRefresh
		bounds, err := m.tf.GetActiveBounds(m.tf.Now())
		if err != nil {
			return err
		}
		if bounds != nil {
			m.store.SetBounds(*bounds)
		}
	}

	if t := globalState.Time; t != nil && m.effects.changed("time", t) {
		if err := m.tf.SetTime(*t); err != nil {
			return err
		}
		bounds, err := m.tf.GetBounds(m.tf.Now())
		if err != nil {
			return err
		}
		m.store.SetBounds(bounds)
	}

	if ri := globalState.RefreshInterval; ri != nil && m.effects.changed("refreshInterval", ri) {
		m.tf.SetRefreshInterval(*ri)
	}

	jobIDs := jobs.JobSelection(m.catalog, globalState)
	if m.effects.changed("jobIds", jobIDs) {
		if len(jobIDs) > 0 {
			m.store.UpdateJobSelection(jobIDs)
		} else {
			m.store.ClearJobs()
		}
	}

	if err := m.writeAppState(); err != nil {
		return err
	}

	swimlaneLimit := m.defaults.SwimlaneLimit
	if l := appState.MlSelectLimit; l != nil && l.Val > 0 {
		swimlaneLimit = l.Val
	}
	if m.effects.changed("swimlaneLimit", swimlaneLimit) {
		m.store.SetSwimlaneLimit(swimlaneLimit)
	}

	selectedCells := appState.SelectedCells()
	if m.effects.changed("selectedCells", selectedCells) {
		m.store.SetSelectedCells(selectedCells)
	}

	st := m.store.Get()
	cfg := &data.LoadConfig{
		Bounds:                  st.Bounds,
		LastRefresh:             m.lastRefresh,
		InfluencersFilterQuery:  st.InfluencersFilterQuery,
		NoInfluencersConfigured: st.NoInfluencersConfigured,
		SelectedCells:           selectedCells,
		SelectedJobs:            st.SelectedJobs,
		SwimlaneBucketInterval:  st.SwimlaneBucketInterval,
		SwimlaneLimit:           st.SwimlaneLimit,
		TableInterval:           m.tableInterval(appState),
		TableSeverity:           m.tableSeverity(appState),
		ViewBySwimlaneFieldName: st.ViewBySwimlaneFieldName,
	}
	if m.effects.changed("loadExplorerData", cfg) {
		d, err := m.loader.Load(ctx, cfg)
		if err != nil {
			return err
		}
		m.explorerData = d
	}

	if d := m.explorerData; d != nil && m.effects.changed("explorerData", d) {
		m.store.SetExplorerData(d)
	}

	// The explorer data may have changed the view by field.
	return m.writeAppState()
}

// writeAppState writes the application state of the store back to the URL once it holds a view by field.
func (m *manager) writeAppState() error {
	app, ok := latest(m.appStates)
	if !ok || app.MlExplorerSwimlane == nil || app.MlExplorerSwimlane.ViewByFieldName == nil {
		return nil
	}

	b, err := json.Marshal(app)
	if err != nil {
		return fmt.Errorf("could not encode application state: %v", err)
	}
	var bucket map[string]any
	if err := json.Unmarshal(b, &bucket); err != nil {
		return fmt.Errorf("could not decode application state: %v", err)
	}
	if m.url.Set(urlstate.AppStateKey, bucket) {
		slog.Debug("Application state updated from the explorer state", "viewByFieldName", *app.MlExplorerSwimlane.ViewByFieldName)
	}
	return nil
}

func (m *manager) tableInterval(app urlstate.AppState) string {
	if i := app.MlSelectInterval; i != nil && i.Val != "" {
		return i.Val
	}
	return m.defaults.TableInterval
}

func (m *manager) tableSeverity(app urlstate.AppState) int {
	if s := app.MlSelectSeverity; s != nil {
		return s.Val
	}
	return m.defaults.TableSeverity
}

// showCharts defaults to true when the application state does not set it.
func showCharts(app urlstate.AppState) bool {
	if app.MlShowCharts == nil {
		return true
	}
	return *app.MlShowCharts
}
