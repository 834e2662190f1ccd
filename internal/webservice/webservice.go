// Package webservice provides the HTTP server of the anomaly explorer: the saved objects API, the explorer
// page and its stream, next to a metrics server.
package webservice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/ubuntu/anomaly-explorer/internal/common/config"
	commonmetrics "github.com/ubuntu/anomaly-explorer/internal/common/metrics"
	"github.com/ubuntu/anomaly-explorer/internal/explorer/page"
	"github.com/ubuntu/anomaly-explorer/internal/models"
	"github.com/ubuntu/anomaly-explorer/internal/savedobjects"
	"github.com/ubuntu/anomaly-explorer/internal/webservice/handlers"
	"github.com/ubuntu/anomaly-explorer/internal/webservice/metrics"
)

// Server is a struct that holds the HTTP servers and their configuration.
type Server struct {
	httpServer    *http.Server
	metricsServer *commonmetrics.Server
	cm            dConfigManager

	mu   sync.RWMutex
	addr net.Addr

	// This context is used to interrupt any action.
	// It must be the parent of gracefulCtx.
	ctx    context.Context
	cancel context.CancelFunc

	// This context waits for in-flight requests to finish.
	gracefulCtx    context.Context
	gracefulCancel context.CancelFunc
}

// StaticConfig holds the static configuration for the server.
type StaticConfig struct {
	ConfigPath string

	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	RequestTimeout time.Duration
	MaxHeaderBytes int
	MaxBodyBytes   int

	ListenHost string
	ListenPort int

	MetricsHost string
	MetricsPort int
}

// Deps are the services behind the handlers.
type Deps struct {
	Objects  objectRepository
	Explorer page.Deps
}

type objectRepository interface {
	Find(ctx context.Context, opts savedobjects.FindOptions) (savedobjects.FindResponse, error)
	Create(ctx context.Context, objectType string, attributes map[string]any, opts savedobjects.CreateOptions) (models.SavedObject, error)
	BulkCreate(ctx context.Context, objects []savedobjects.BulkCreateObject, opts savedobjects.BulkCreateOptions) ([]savedobjects.BulkResult, error)
	Get(ctx context.Context, objectType, id string, opts savedobjects.BaseOptions) (models.SavedObject, error)
	Update(ctx context.Context, objectType, id string, attributes map[string]any, opts savedobjects.UpdateOptions) (models.SavedObject, error)
	Delete(ctx context.Context, objectType, id string, opts savedobjects.BaseOptions) error
}

type dConfigManager interface {
	Load() error
	Watch(context.Context) (<-chan struct{}, <-chan error, error)
	Explorer() config.ExplorerDefaults
}

// New creates a new Server instance with the given configuration manager and dependencies.
func New(ctx context.Context, cm dConfigManager, sc StaticConfig, deps Deps) (*Server, error) {
	if err := cm.Load(); err != nil {
		return nil, fmt.Errorf("failed to load configuration: %v", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	gCtx, gCancel := context.WithCancel(ctx)

	s := Server{
		cm:     cm,
		ctx:    ctx,
		cancel: cancel,

		gracefulCtx:    gCtx,
		gracefulCancel: gCancel}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	endpoints := metrics.NewEndpointMiddleware(registry)

	// The explorer objects are found through the same repository as the API.
	if deps.Explorer.Objects == nil {
		deps.Explorer.Objects = deps.Objects
	}
	objects := handlers.NewSavedObjects(deps.Objects, int64(sc.MaxBodyBytes))
	explorer := handlers.NewExplorer(page.ExplorerRoute, deps.Explorer, cm)

	timeout := func(h http.HandlerFunc) http.Handler {
		return http.TimeoutHandler(h, sc.RequestTimeout, "")
	}

	s.httpServer = &http.Server{
		Addr:           net.JoinHostPort(sc.ListenHost, strconv.Itoa(sc.ListenPort)),
		ReadTimeout:    sc.ReadTimeout,
		WriteTimeout:   sc.WriteTimeout,
		MaxHeaderBytes: sc.MaxHeaderBytes,
	}

	mux := http.NewServeMux()
	mux.Handle("GET /api/saved_objects/_find", timeout(endpoints.Wrap("saved_objects_find", http.HandlerFunc(objects.Find))))
	mux.Handle("POST /api/saved_objects/_bulk_create", timeout(endpoints.Wrap("saved_objects_bulk_create", http.HandlerFunc(objects.BulkCreate))))
	create := timeout(endpoints.Wrap("saved_objects_create", http.HandlerFunc(objects.Create)))
	mux.Handle("POST /api/saved_objects/{type}", create)
	mux.Handle("POST /api/saved_objects/{type}/{id}", create)
	mux.Handle("GET /api/saved_objects/{type}/{id}", timeout(endpoints.Wrap("saved_objects_get", http.HandlerFunc(objects.Get))))
	mux.Handle("PUT /api/saved_objects/{type}/{id}", timeout(endpoints.Wrap("saved_objects_update", http.HandlerFunc(objects.Update))))
	mux.Handle("DELETE /api/saved_objects/{type}/{id}", timeout(endpoints.Wrap("saved_objects_delete", http.HandlerFunc(objects.Delete))))
	mux.Handle("GET /app/ml"+page.Path, timeout(endpoints.Wrap("explorer", http.HandlerFunc(explorer.View))))
	// Streams outlive the request timeout.
	mux.Handle("GET /app/ml"+page.Path+"/stream", endpoints.Wrap("explorer_stream", stopOnShutdown(ctx, s.httpServer, explorer.Stream)))
	mux.Handle("GET /version", timeout(endpoints.Wrap("version", http.HandlerFunc(handlers.VersionHandler))))

	s.httpServer.Handler = metrics.NewMuxMiddleware(registry).Wrap("mux", mux)
	s.metricsServer = commonmetrics.New(commonmetrics.Config{
		Host:         sc.MetricsHost,
		Port:         sc.MetricsPort,
		ReadTimeout:  sc.ReadTimeout,
		WriteTimeout: sc.WriteTimeout,
	}, registry)

	return &s, nil
}

// stopOnShutdown ends the requests handled by h when srv shuts down, as Shutdown does not wait for
// long-lived responses to become idle on its own.
func stopOnShutdown(ctx context.Context, srv *http.Server, h http.HandlerFunc) http.HandlerFunc {
	streams, stopStreams := context.WithCancel(ctx)
	srv.RegisterOnShutdown(stopStreams)

	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()
		stop := context.AfterFunc(streams, cancel)
		defer stop()

		*r = *r.WithContext(ctx)
		h(w, r)
	}
}

// Run starts the HTTP servers and listens for incoming requests.
func (s *Server) Run() error {
	slog.Info("Starting server", "addr", s.httpServer.Addr)

	// already asked to quit?
	select {
	case <-s.gracefulCtx.Done():
		return errors.New("server is already shutting down")
	default:
	}

	_, watchErr, err := s.cm.Watch(s.gracefulCtx)
	if err != nil {
		return fmt.Errorf("failed to start watching configuration: %v", err)
	}

	listener, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		s.cancel()
		return fmt.Errorf("failed to listen on %s: %v", s.httpServer.Addr, err)
	}
	s.mu.Lock()
	s.addr = listener.Addr()
	s.mu.Unlock()

	serverErr := make(chan error, 2)
	go func() {
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()
	go func() {
		if err := s.metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- fmt.Errorf("metrics server: %v", err)
		}
	}()

	select {
	case <-s.gracefulCtx.Done():
		slog.Info("Graceful shutdown initiated")
		// use parent ctx so if you call s.cancel() elsewhere it unblocks Shutdown immediately
		err := errors.Join(s.httpServer.Shutdown(s.ctx), s.metricsServer.Shutdown(s.ctx))
		if err != nil {
			slog.Error("Graceful shutdown failed", "err", err)
			s.cancel()
			return err
		}
		slog.Info("Server shut down gracefully")
		// now kill everything else (watchers, handlers, etc.)
		s.cancel()
		return nil

	case err := <-serverErr:
		slog.Error("Server encountered error", "err", err)
		s.close()
		s.cancel()
		return err

	case err := <-watchErr:
		if err != nil {
			slog.Error("Config watcher encountered unrecoverable error", "err", err)
		}
		errC := s.close()
		s.cancel()

		return errors.Join(err, errC)
	}
}

func (s *Server) close() error {
	return errors.Join(s.httpServer.Close(), s.metricsServer.Close())
}

// Addr returns the address the server is listening on, or an empty string before it listens.
func (s *Server) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.addr == nil {
		return ""
	}
	return s.addr.String()
}

// MetricsAddr returns the address of the metrics server, or an empty string before it listens.
func (s *Server) MetricsAddr() string {
	return s.metricsServer.Addr()
}

// Quit shuts down the HTTP servers. A forced quit drops in-flight requests and streams.
func (s *Server) Quit(force bool) {
	defer s.cancel()

	if force {
		_ = s.close()
		s.cancel()
	} else {
		s.gracefulCancel()
	}
	slog.Info("Server quit")
}
