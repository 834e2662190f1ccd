// Package workers runs one import worker per allowed kind.
package workers

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Pool starts and stops import workers to match the allow list of the dynamic configuration.
type Pool struct {
	cm   dConfigManager
	proc dProcessor

	pollInterval     time.Duration
	debounceDuration time.Duration
	baseBackoff      time.Duration
	maxBackoff       time.Duration

	mu       sync.Mutex
	workers  map[string]context.CancelFunc
	workerWG sync.WaitGroup

	activeWorkers prometheus.Gauge
}

type dConfigManager interface {
	Watch(context.Context) (<-chan struct{}, <-chan error, error)
	AllowList() []string
	IsAllowed(string) bool
}

type dProcessor interface {
	Process(ctx context.Context, kind string) error
}

type options struct {
	pollInterval     time.Duration
	debounceDuration time.Duration
	baseBackoff      time.Duration
	maxBackoff       time.Duration
}

// Options represents an optional function to override Pool default values.
type Options func(*options)

// WithPollInterval sets how long a worker waits after a successful pass before scanning its directory again.
func WithPollInterval(d time.Duration) Options {
	return func(o *options) {
		o.pollInterval = d
	}
}

// New creates a worker pool with the provided config manager, processor and Prometheus registerer.
func New(cm dConfigManager, proc dProcessor, reg prometheus.Registerer, args ...Options) (*Pool, error) {
	opts := options{
		pollInterval:     5 * time.Second,
		debounceDuration: 5 * time.Second,
		baseBackoff:      5 * time.Second,
		maxBackoff:       30 * time.Second,
	}
	for _, opt := range args {
		opt(&opts)
	}

	activeWorkers := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "import_active_workers",
		Help: "Number of active workers in the import service.",
	})
	if err := reg.Register(activeWorkers); err != nil {
		return nil, fmt.Errorf("failed to register active workers gauge: %v", err)
	}

	return &Pool{
		cm:               cm,
		proc:             proc,
		pollInterval:     opts.pollInterval,
		debounceDuration: opts.debounceDuration,
		baseBackoff:      opts.baseBackoff,
		maxBackoff:       opts.maxBackoff,
		workers:          make(map[string]context.CancelFunc),
		activeWorkers:    activeWorkers,
	}, nil
}

// Run manages the pool of workers.
//
// Each worker scans the import directory of its kind and loads the files it finds into the database.
// Workers are started and stopped when the allow list changes.
//
// This is blocking until an error occurs or the context is canceled and all workers are done.
// It always returns a non-nil error, which is either a context error or a configuration watch error.
func (p *Pool) Run(ctx context.Context) error {
	slog.Info("Import worker pool started")

	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	reloadEventCh, cfgWatchErrCh, err := p.cm.Watch(ctx)
	if err != nil {
		return fmt.Errorf("failed to start watch configuration: %v", err)
	}

	p.syncWorkers(ctx)

	// Bursts of file events collapse into a single resync.
	debounceTimer := time.NewTimer(p.debounceDuration)
	defer debounceTimer.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("Context canceled, stopping worker pool")
			p.workerWG.Wait()
			return ctx.Err()

		case _, ok := <-reloadEventCh:
			if !ok {
				cancel()
				p.workerWG.Wait()
				return fmt.Errorf("reloadEventCh closed unexpectedly")
			}
			if !debounceTimer.Stop() {
				select {
				case <-debounceTimer.C:
				default:
				}
			}
			debounceTimer.Reset(p.debounceDuration)

		case <-debounceTimer.C:
			slog.Info("Resyncing workers after configuration change")
			p.syncWorkers(ctx)
			slog.Debug("Completed resyncing workers")

		case err, ok := <-cfgWatchErrCh:
			if !ok {
				cancel()
				p.workerWG.Wait()
				return fmt.Errorf("cfgWatchErrCh closed unexpectedly")
			}
			if err != nil {
				slog.Error("Configuration watcher error", "err", err)
			}
		}
	}
}

// syncWorkers diffs the allow list against the running workers and starts or stops them.
func (p *Pool) syncWorkers(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for kind, cancel := range p.workers {
		if !p.cm.IsAllowed(kind) {
			slog.Info("Stopping import worker", "kind", kind)
			cancel()
			delete(p.workers, kind)
		}
	}

	for _, kind := range p.cm.AllowList() {
		if _, ok := p.workers[kind]; ok {
			continue
		}

		select {
		case <-ctx.Done():
			slog.Info("Context canceled, stopping worker sync")
			return
		default:
		}
		kindCtx, cancel := context.WithCancel(ctx)
		p.workers[kind] = cancel
		slog.Info("Starting import worker", "kind", kind)
		p.workerWG.Add(1)
		go p.kindWorker(kindCtx, kind)
	}
}

// kindWorker processes the import files of a single kind until ctx is canceled.
func (p *Pool) kindWorker(ctx context.Context, kind string) {
	defer p.workerWG.Done()

	p.activeWorkers.Inc()
	defer p.activeWorkers.Dec()

	backoff := p.baseBackoff
	for {
		wait := p.pollInterval
		if err := p.proc.Process(ctx, kind); err != nil {
			slog.Warn("Import pass failed", "kind", kind, "err", err)
			// #nosec:G404 We don't need cryptographic randomness.
			wait = time.Duration(rand.Int63n(int64(backoff) + 1))
			backoff = min(backoff*2, p.maxBackoff)
		} else {
			backoff = p.baseBackoff
		}

		select {
		case <-time.After(wait):
		case <-ctx.Done():
			slog.Debug("Import worker context canceled", "kind", kind)
			return
		}
	}
}
