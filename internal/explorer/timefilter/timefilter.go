// Package timefilter holds the time range and the auto refresh settings of the explorer.
package timefilter

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/ubuntu/anomaly-explorer/internal/explorer/pubsub"
	"github.com/ubuntu/anomaly-explorer/internal/explorer/urlstate"
)

// DefaultTime is the time range used until one is set.
var DefaultTime = urlstate.TimeRange{From: "now-15m", To: "now"}

// Bounds is a resolved time range.
type Bounds struct {
	Min time.Time `json:"min"`
	Max time.Time `json:"max"`
}

// Refresh is published whenever the data of the page should be reloaded.
// LastRefresh is the time of the refresh, in epoch milliseconds.
type Refresh struct {
	LastRefresh int64 `json:"lastRefresh"`
}

// TimeFilter is the time picker state of a page.
type TimeFilter struct {
	mu                  sync.Mutex
	time                urlstate.TimeRange
	refreshInterval     urlstate.RefreshInterval
	timeRangeSelector   bool
	autoRefreshSelector bool

	scheduler    *cron.Cron
	refreshEntry cron.EntryID
	refresh      *pubsub.Subject[Refresh]

	now func() time.Time
	loc *time.Location
}

type options struct {
	now func() time.Time
	loc *time.Location
}

// Options represents an optional function to override TimeFilter default values.
type Options func(*options)

// WithLocation sets the time zone used for date math rounding.
func WithLocation(loc *time.Location) Options {
	return func(o *options) {
		o.loc = loc
	}
}

// New returns a time filter with the default time range and auto refresh paused.
// Close must be called to stop the auto refresh scheduler.
func New(args ...Options) *TimeFilter {
	opts := options{
		now: time.Now,
		loc: time.UTC,
	}
	for _, opt := range args {
		opt(&opts)
	}

	scheduler := cron.New(cron.WithLocation(opts.loc))
	scheduler.Start()

	return &TimeFilter{
		time:            DefaultTime,
		refreshInterval: urlstate.RefreshInterval{Pause: true},
		scheduler:       scheduler,
		refresh:         pubsub.New[Refresh](),
		now:             opts.now,
		loc:             opts.loc,
	}
}

// Now returns the current time in the location of the filter.
func (tf *TimeFilter) Now() time.Time {
	return tf.now().In(tf.loc)
}

// SetTime changes the time range. Both bounds are validated.
// A change of the time range publishes a refresh.
func (tf *TimeFilter) SetTime(tr urlstate.TimeRange) error {
	if _, err := resolve(tr, tf.Now()); err != nil {
		return err
	}

	tf.mu.Lock()
	changed := tf.time != tr
	tf.time = tr
	tf.mu.Unlock()

	if changed {
		slog.Debug("Time range changed", "from", tr.From, "to", tr.To)
		tf.Refresh()
	}
	return nil
}

// GetTime returns the time range as it was set.
func (tf *TimeFilter) GetTime() urlstate.TimeRange {
	tf.mu.Lock()
	defer tf.mu.Unlock()
	return tf.time
}

// GetBounds resolves the time range at now.
func (tf *TimeFilter) GetBounds(now time.Time) (Bounds, error) {
	return resolve(tf.GetTime(), now.In(tf.loc))
}

// GetActiveBounds resolves the time range at now, or returns nil when the time range selector is disabled.
func (tf *TimeFilter) GetActiveBounds(now time.Time) (*Bounds, error) {
	tf.mu.Lock()
	enabled := tf.timeRangeSelector
	tf.mu.Unlock()
	if !enabled {
		return nil, nil
	}

	b, err := tf.GetBounds(now)
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func resolve(tr urlstate.TimeRange, now time.Time) (Bounds, error) {
	lower, err := ParseDate(tr.From, now, false)
	if err != nil {
		return Bounds{}, fmt.Errorf("invalid time range start: %w", err)
	}
	upper, err := ParseDate(tr.To, now, true)
	if err != nil {
		return Bounds{}, fmt.Errorf("invalid time range end: %w", err)
	}
	return Bounds{Min: lower, Max: upper}, nil
}

// EnableTimeRangeSelector makes the time range apply to the page.
func (tf *TimeFilter) EnableTimeRangeSelector() {
	tf.mu.Lock()
	defer tf.mu.Unlock()
	tf.timeRangeSelector = true
}

// EnableAutoRefreshSelector lets the page be refreshed on the refresh interval.
func (tf *TimeFilter) EnableAutoRefreshSelector() {
	tf.mu.Lock()
	defer tf.mu.Unlock()
	tf.autoRefreshSelector = true
}

// IsTimeRangeSelectorEnabled reports whether the time range applies to the page.
func (tf *TimeFilter) IsTimeRangeSelectorEnabled() bool {
	tf.mu.Lock()
	defer tf.mu.Unlock()
	return tf.timeRangeSelector
}

// IsAutoRefreshSelectorEnabled reports whether the page is refreshed on the refresh interval.
func (tf *TimeFilter) IsAutoRefreshSelectorEnabled() bool {
	tf.mu.Lock()
	defer tf.mu.Unlock()
	return tf.autoRefreshSelector
}

// SetRefreshInterval changes the auto refresh settings.
// While not paused, a refresh is published every interval once the auto refresh selector is enabled.
func (tf *TimeFilter) SetRefreshInterval(ri urlstate.RefreshInterval) {
	tf.mu.Lock()
	defer tf.mu.Unlock()

	if tf.refreshInterval == ri {
		return
	}
	tf.refreshInterval = ri

	if tf.refreshEntry != 0 {
		tf.scheduler.Remove(tf.refreshEntry)
		tf.refreshEntry = 0
	}
	if ri.Pause || ri.Value <= 0 {
		return
	}

	interval := time.Duration(ri.Value) * time.Millisecond
	tf.refreshEntry = tf.scheduler.Schedule(cron.Every(interval), cron.FuncJob(tf.autoRefresh))
	slog.Debug("Auto refresh scheduled", "interval", interval)
}

// GetRefreshInterval returns the auto refresh settings.
func (tf *TimeFilter) GetRefreshInterval() urlstate.RefreshInterval {
	tf.mu.Lock()
	defer tf.mu.Unlock()
	return tf.refreshInterval
}

func (tf *TimeFilter) autoRefresh() {
	if !tf.IsAutoRefreshSelectorEnabled() {
		return
	}
	tf.Refresh()
}

// Refresh publishes a refresh now.
func (tf *TimeFilter) Refresh() {
	tf.refresh.Publish(Refresh{LastRefresh: tf.now().UnixMilli()})
}

// Subscribe returns a channel receiving the last refresh, if any, then every refresh.
// The returned function unsubscribes.
func (tf *TimeFilter) Subscribe() (<-chan Refresh, func()) {
	return tf.refresh.Subscribe()
}

// Close stops the auto refresh and closes the subscriptions.
func (tf *TimeFilter) Close(ctx context.Context) error {
	stopped := tf.scheduler.Stop()
	defer tf.refresh.Close()

	select {
	case <-stopped.Done():
		return nil
	case <-ctx.Done():
		return fmt.Errorf("auto refresh did not stop: %w", ctx.Err())
	}
}
