package page

import "github.com/ubuntu/anomaly-explorer/internal/explorer/timefilter"

// TimeFilter returns the time filter of the session.
func (s *Session) TimeFilter() *timefilter.TimeFilter {
	return s.tf
}

// Effects exposes the effect dependency tracking for tests.
type Effects = effects

// Latest exposes the draining of a subscription channel for tests.
var Latest = latest[int]

// Changed exposes the effect dependency check for tests.
func (e Effects) Changed(effect string, deps any) bool {
	return e.changed(effect, deps)
}
