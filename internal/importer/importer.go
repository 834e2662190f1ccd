// Package importer runs the import service: a pool of workers loading saved objects and anomaly
// records dropped in the import directory, next to a metrics server.
package importer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// Service runs the import workers and the metrics server until one of them stops.
type Service struct {
	workerPool    WorkerPool
	metricsServer MetricsServer

	// ctx interrupts any action. It is the parent of gracefulCtx.
	ctx    context.Context
	cancel context.CancelFunc

	// gracefulCtx lets workers finish the file they are importing.
	gracefulCtx    context.Context
	gracefulCancel context.CancelFunc

	maxDegradedDuration time.Duration

	running chan struct{}
}

// WorkerPool runs the import workers.
type WorkerPool interface {
	Run(ctx context.Context) error
}

// MetricsServer serves the service metrics.
type MetricsServer interface {
	ListenAndServe() error
	Shutdown(ctx context.Context) error
	Close() error
}

type options struct {
	maxDegradedDuration time.Duration
}

// Option is a function which tweaks the creation of the Service.
type Option func(*options)

var (
	// errServiceClosed is returned when running a service which was already stopped.
	errServiceClosed = errors.New("service closed")

	// ErrTeardownTimeout is returned when one sub-service failed and the other did not stop in time.
	// A force Quit may be required to cleanup the service.
	ErrTeardownTimeout = errors.New("service teardown timed out")
)

// New creates an import service.
func New(ctx context.Context, workerPool WorkerPool, metricsServer MetricsServer, args ...Option) *Service {
	opts := options{
		maxDegradedDuration: 2 * time.Minute,
	}
	for _, arg := range args {
		arg(&opts)
	}

	ctx, cancel := context.WithCancel(ctx)
	gCtx, gCancel := context.WithCancel(ctx)

	running := make(chan struct{})
	close(running)
	return &Service{
		workerPool:    workerPool,
		metricsServer: metricsServer,

		ctx:            ctx,
		cancel:         cancel,
		gracefulCtx:    gCtx,
		gracefulCancel: gCancel,

		maxDegradedDuration: opts.maxDegradedDuration,

		running: running,
	}
}

// Run starts the import service.
//
// It returns once both the workers and the metrics server have stopped, or when one of them failed
// and the other did not stop within the maximum degraded duration.
func (s *Service) Run() error {
	slog.Info("Import service started")

	select {
	case <-s.gracefulCtx.Done():
		return errServiceClosed
	default:
	}

	s.running = make(chan struct{})
	defer close(s.running)
	defer s.cancel()

	subServices := []func() error{s.runWorkers, s.runMetrics}
	done := make(chan error, len(subServices))
	var wg sync.WaitGroup
	for _, run := range subServices {
		wg.Add(1)
		go func() {
			defer wg.Done()
			done <- run()
		}()
	}
	go func() { wg.Wait(); close(done) }()

	err := <-done
	slog.Info("Waiting for import sub-services to finish")

	timeout := time.After(s.maxDegradedDuration)
	for range len(subServices) - 1 {
		select {
		case <-timeout:
			slog.Warn("Import service teardown timed out")
			return errors.Join(err, ErrTeardownTimeout)
		case e := <-done:
			err = errors.Join(err, e)
		}
	}
	return err
}

func (s *Service) runWorkers() error {
	slog.Info("Starting import workers")
	defer s.gracefulCancel()

	if err := s.workerPool.Run(s.gracefulCtx); err != nil && !errors.Is(err, s.gracefulCtx.Err()) {
		slog.Error("Import workers encountered an error", "err", err)
		return fmt.Errorf("import workers error: %v", err)
	}
	slog.Info("Import workers stopped")
	return nil
}

func (s *Service) runMetrics() error {
	slog.Info("Starting metrics server")
	defer s.gracefulCancel()

	serveErr := make(chan error, 1)
	go func() {
		defer close(serveErr)
		if err := s.metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	select {
	case <-s.gracefulCtx.Done():
	case err := <-serveErr:
		if err != nil {
			slog.Error("Metrics server failed", "err", err)
			return fmt.Errorf("metrics server error: %v", err)
		}
		slog.Info("Metrics server stopped")
		return nil
	}

	if s.ctx.Err() != nil {
		slog.Info("Closing metrics server", "reason", s.ctx.Err())
		_ = s.metricsServer.Close()
		return nil
	}
	if err := s.metricsServer.Shutdown(s.ctx); err != nil {
		slog.Error("Metrics server graceful shutdown failed", "err", err)
		return fmt.Errorf("metrics server shutdown error: %v", err)
	}
	slog.Info("Metrics server stopped")
	return nil
}

// Quit stops the import service and waits for it to return.
// A forced quit interrupts imports in progress.
func (s *Service) Quit(force bool) {
	slog.Info("Stopping import service", "force", force)

	if force {
		s.cancel()
		_ = s.metricsServer.Close()
	} else {
		s.gracefulCancel()
	}

	<-s.running
}
