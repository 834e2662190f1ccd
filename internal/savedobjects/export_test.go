package savedobjects

import "time"

// WithNow overrides the clock used to stamp updates.
func WithNow(now func() time.Time) Options {
	return func(o *options) {
		o.now = now
	}
}

// WithNewID overrides how object IDs are generated.
func WithNewID(newID func() string) Options {
	return func(o *options) {
		o.newID = newID
	}
}
