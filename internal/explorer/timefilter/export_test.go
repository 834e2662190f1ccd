package timefilter

import "time"

// WithNow overrides the clock of the time filter.
func WithNow(now func() time.Time) Options {
	return func(o *options) {
		o.now = now
	}
}
