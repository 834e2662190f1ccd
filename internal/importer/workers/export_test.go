package workers

import "time"

type (
	DConfigManager = dConfigManager
	DProcessor     = dProcessor
)

// WithDebounce overrides the delay between a configuration change and the workers resync.
func WithDebounce(d time.Duration) Options {
	return func(o *options) {
		o.debounceDuration = d
	}
}

// WithBackoff overrides the retry delays after a failed pass.
func WithBackoff(base, maxBackoff time.Duration) Options {
	return func(o *options) {
		o.baseBackoff = base
		o.maxBackoff = maxBackoff
	}
}

// WorkerNames returns the kinds of active workers.
func (p *Pool) WorkerNames() []string {
	p.mu.Lock()
	defer p.mu.Unlock()

	names := make([]string, 0, len(p.workers))
	for name := range p.workers {
		names = append(names, name)
	}
	return names
}
