// Package page is the anomaly explorer page: its route, the resolution of its prerequisites and the sessions
// keeping the explorer state in sync with the URL state.
package page

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ubuntu/anomaly-explorer/internal/common/config"
	"github.com/ubuntu/anomaly-explorer/internal/explorer/state"
	"github.com/ubuntu/anomaly-explorer/internal/explorer/timefilter"
	"github.com/ubuntu/anomaly-explorer/internal/explorer/urlstate"
	"golang.org/x/text/language"
)

// Path is the path of the explorer route.
const Path = "/explorer"

// Deps are the services the explorer page depends on.
type Deps struct {
	Objects  objectFinder
	Jobs     jobService
	Loader   dataLoader
	Defaults config.ExplorerDefaults
	Location *time.Location
}

// Route is a page of the machine learning application.
type Route struct {
	Path        string
	Breadcrumbs func(lang language.Tag) []Breadcrumb
	Render      func(ctx context.Context, deps Deps, u *urlstate.URLState) (*Session, error)
}

// ExplorerRoute is the anomaly explorer route.
var ExplorerRoute = Route{
	Path:        Path,
	Breadcrumbs: Breadcrumbs,
	Render:      Render,
}

// View is what the explorer page shows.
type View struct {
	Breadcrumbs   []Breadcrumb   `json:"breadcrumbs"`
	ExplorerState state.State    `json:"explorerState"`
	ShowCharts    bool           `json:"showCharts"`
	Severity      int            `json:"severity"`
	LastRefresh   int64          `json:"lastRefresh"`
	DateFormatTZ  string         `json:"dateFormatTz"`
	AppState      map[string]any `json:"_a,omitempty"`
	GlobalState   map[string]any `json:"_g,omitempty"`
	Query         string         `json:"query"`
}

// Session is a rendered explorer page. It owns its store and time filter.
type Session struct {
	mu       sync.Mutex
	url      *urlstate.URLState
	tf       *timefilter.TimeFilter
	store    *state.Store
	manager  *manager
	lang     language.Tag
	tz       string
	closeErr error
	closed   bool
}

// Render resolves the prerequisites of the page and starts a session on the URL state.
func Render(ctx context.Context, deps Deps, u *urlstate.URLState) (*Session, error) {
	r, err := resolve(ctx, deps.Objects, deps.Jobs)
	if err != nil {
		return nil, fmt.Errorf("could not resolve explorer prerequisites: %w", err)
	}
	slog.Debug("Explorer prerequisites resolved", "jobs", len(r.jobs), "tz", r.dateFormatTZ)

	loc := deps.Location
	if loc == nil {
		loc = time.UTC
	}
	tf := timefilter.New(timefilter.WithLocation(loc))
	store := state.New(r.jobsWithTimeRange)

	s := &Session{
		url:     u,
		tf:      tf,
		store:   store,
		manager: newManager(u, tf, store, deps.Loader, r.jobsWithTimeRange, deps.Defaults),
		lang:    MatchLanguage(deps.Defaults.Locale),
		tz:      r.dateFormatTZ,
	}

	// The first refresh makes the page load its data. The manager is subscribed already, so no view is
	// rendered before a refresh is known.
	tf.Refresh()
	return s, nil
}

// View syncs the session and returns what the page shows.
func (s *Session) View(ctx context.Context) (*View, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, errors.New("explorer session is closed")
	}
	if err := s.manager.sync(ctx); err != nil {
		return nil, err
	}

	appState, err := s.url.AppState()
	if err != nil {
		return nil, err
	}
	q, err := s.url.Query()
	if err != nil {
		return nil, err
	}

	return &View{
		Breadcrumbs:   Breadcrumbs(s.lang),
		ExplorerState: s.store.Get(),
		ShowCharts:    showCharts(appState),
		Severity:      s.manager.tableSeverity(appState),
		LastRefresh:   s.manager.lastRefresh,
		DateFormatTZ:  s.tz,
		AppState:      s.url.Get(urlstate.AppStateKey),
		GlobalState:   s.url.Get(urlstate.GlobalStateKey),
		Query:         q.Encode(),
	}, nil
}

// Refreshes subscribes to the refreshes of the session time filter.
func (s *Session) Refreshes() (<-chan timefilter.Refresh, func()) {
	return s.tf.Subscribe()
}

// Stream calls send with a new view on each refresh of the session, until ctx is done or send fails.
func (s *Session) Stream(ctx context.Context, send func(*View) error) error {
	refreshes, unsubscribe := s.Refreshes()
	defer unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return nil
		case _, ok := <-refreshes:
			if !ok {
				return nil
			}
			v, err := s.View(ctx)
			if err != nil {
				return err
			}
			if err := send(v); err != nil {
				return err
			}
		}
	}
}

// Close stops the time filter of the session and ends its subscriptions.
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return s.closeErr
	}
	s.closed = true
	s.manager.close()
	s.store.Close()
	s.closeErr = s.tf.Close(ctx)
	return s.closeErr
}
