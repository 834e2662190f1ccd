package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/ubuntu/anomaly-explorer/internal/common/config"
	"github.com/ubuntu/anomaly-explorer/internal/explorer/page"
	"github.com/ubuntu/anomaly-explorer/internal/explorer/urlstate"
	"github.com/ubuntu/anomaly-explorer/internal/webservice/metrics"
)

// sessionCloseTimeout bounds the time spent stopping the time filter of a session.
const sessionCloseTimeout = 5 * time.Second

type defaultsProvider interface {
	Explorer() config.ExplorerDefaults
}

// Explorer serves the anomaly explorer page.
type Explorer struct {
	route    page.Route
	deps     page.Deps
	defaults defaultsProvider
}

// NewExplorer creates the explorer handlers rendering route with deps.
// The explorer defaults are read from the configuration on each request.
func NewExplorer(route page.Route, deps page.Deps, defaults defaultsProvider) *Explorer {
	return &Explorer{route: route, deps: deps, defaults: defaults}
}

func (h *Explorer) render(r *http.Request) (*page.Session, error) {
	u, err := urlstate.Parse(r.URL.Query())
	if err != nil {
		return nil, err
	}
	deps := h.deps
	deps.Defaults = h.defaults.Explorer()
	return h.route.Render(r.Context(), deps, u)
}

func closeSession(s *page.Session) {
	ctx, cancel := context.WithTimeout(context.Background(), sessionCloseTimeout)
	defer cancel()
	if err := s.Close(ctx); err != nil {
		slog.Warn("Could not close explorer session", "err", err)
	}
}

// View handles GET /app/ml/explorer. It renders the page once from the URL state in the query.
func (h *Explorer) View(w http.ResponseWriter, r *http.Request) {
	metrics.ApplyLabels(r)

	s, err := h.render(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	defer closeSession(s)

	v, err := s.View(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

// Stream handles GET /app/ml/explorer/stream. It sends a server-sent event with the view on each refresh,
// until the client goes away.
func (h *Explorer) Stream(w http.ResponseWriter, r *http.Request) {
	metrics.ApplyLabels(r)

	s, err := h.render(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	defer closeSession(s)

	rc := http.NewResponseController(w)
	// The server write timeout applies to single responses, not to streams.
	if err := rc.SetWriteDeadline(time.Time{}); err != nil && !errors.Is(err, http.ErrNotSupported) {
		slog.Warn("Could not clear the stream write deadline", "err", err)
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	if err := rc.Flush(); err != nil {
		slog.Error("Streaming is not supported by the connection", "err", err)
		return
	}

	err = s.Stream(r.Context(), func(v *page.View) error {
		b, err := json.Marshal(v)
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", b); err != nil {
			return err
		}
		return rc.Flush()
	})
	if err != nil {
		slog.Info("Explorer stream ended", "err", err)
	}
}
