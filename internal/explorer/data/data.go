// Package data loads the anomaly records of the selected jobs and aggregates them into the swimlanes,
// the anomalies table and the top influencers shown by the explorer.
package data

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/ubuntu/anomaly-explorer/internal/database"
	"github.com/ubuntu/anomaly-explorer/internal/explorer/timefilter"
	"github.com/ubuntu/anomaly-explorer/internal/explorer/urlstate"
	"github.com/ubuntu/anomaly-explorer/internal/models"
)

const (
	// OverallLaneLabel is the label of the single lane of the overall swimlane.
	OverallLaneLabel = "Overall"
	// ViewByJobFieldName is the view by option showing one lane per job.
	ViewByJobFieldName = "job ID"
	// DefaultSwimlaneLimit is the number of view by lanes used when the configuration does not set one.
	DefaultSwimlaneLimit = 10
)

// SelectedJob is a job selected in the explorer.
type SelectedJob struct {
	ID                string `json:"id"`
	BucketSpanSeconds int64  `json:"bucketSpanSeconds"`
}

// LoadConfig is everything a load depends on.
// Two configurations with the same JSON encoding load the same data.
type LoadConfig struct {
	Bounds                  *timefilter.Bounds      `json:"bounds"`
	LastRefresh             int64                   `json:"lastRefresh"`
	InfluencersFilterQuery  map[string]any          `json:"influencersFilterQuery"`
	NoInfluencersConfigured bool                    `json:"noInfluencersConfigured"`
	SelectedCells           *urlstate.SelectedCells `json:"selectedCells"`
	SelectedJobs            []SelectedJob           `json:"selectedJobs"`
	SwimlaneBucketInterval  int64                   `json:"swimlaneBucketInterval"`
	SwimlaneLimit           int                     `json:"swimlaneLimit"`
	TableInterval           string                  `json:"tableInterval"`
	TableSeverity           int                     `json:"tableSeverity"`
	ViewBySwimlaneFieldName string                  `json:"viewBySwimlaneFieldName"`
}

// Key returns the JSON encoding of the configuration.
func (c LoadConfig) Key() (string, error) {
	b, err := json.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("could not encode load configuration: %v", err)
	}
	return string(b), nil
}

// SwimlanePoint is the maximum record score of a lane within a bucket.
// Time is the start of the bucket, in seconds.
type SwimlanePoint struct {
	LaneLabel string  `json:"laneLabel"`
	Time      int64   `json:"time"`
	Value     float64 `json:"value"`
}

// Swimlane is a heat map of record scores per lane and per bucket.
type Swimlane struct {
	FieldName  string          `json:"fieldName,omitempty"`
	LaneLabels []string        `json:"laneLabels"`
	Points     []SwimlanePoint `json:"points"`
	Interval   int64           `json:"interval"`
	Earliest   int64           `json:"earliest"`
	Latest     int64           `json:"latest"`
}

// TableAnomaly is a row of the anomalies table: the highest scoring record of an entity within an interval.
type TableAnomaly struct {
	Time          int64                `json:"time"`
	Severity      float64              `json:"severity"`
	JobID         string               `json:"jobId"`
	DetectorIndex int                  `json:"detectorIndex"`
	EntityName    string               `json:"entityName,omitempty"`
	EntityValue   string               `json:"entityValue,omitempty"`
	Actual        []float64            `json:"actual,omitempty"`
	Typical       []float64            `json:"typical,omitempty"`
	Influencers   []models.Influencer  `json:"influencers,omitempty"`
	Source        models.AnomalyRecord `json:"source"`
}

// TableData is the anomalies table.
type TableData struct {
	Anomalies []TableAnomaly `json:"anomalies"`
	Interval  string         `json:"interval"`
}

// InfluencerValue is the score of an influencer field value.
type InfluencerValue struct {
	Value           string  `json:"influencerFieldValue"`
	MaxAnomalyScore float64 `json:"maxAnomalyScore"`
	SumAnomalyScore float64 `json:"sumAnomalyScore"`
}

// ExplorerData is the result of a load.
type ExplorerData struct {
	OverallSwimlane Swimlane                     `json:"overallSwimlane"`
	ViewBySwimlane  Swimlane                     `json:"viewBySwimlaneData"`
	TableData       TableData                    `json:"tableData"`
	Influencers     map[string][]InfluencerValue `json:"influencers"`
}

type recordsReader interface {
	AnomalyRecords(ctx context.Context, q database.RecordsQuery) ([]models.AnomalyRecord, error)
}

// Loader loads explorer data.
type Loader struct {
	db    recordsReader
	cache *redis.Client
	ttl   time.Duration

	mu      sync.Mutex
	lastKey string
	last    *ExplorerData
}

type options struct {
	cache *redis.Client
	ttl   time.Duration
}

// Options represents an optional function to override Loader default values.
type Options func(*options)

// WithRedis caches load results in Redis for ttl.
func WithRedis(client *redis.Client, ttl time.Duration) Options {
	return func(o *options) {
		o.cache = client
		o.ttl = ttl
	}
}

// New returns a loader reading records from db.
func New(db recordsReader, args ...Options) *Loader {
	opts := options{ttl: 30 * time.Second}
	for _, opt := range args {
		opt(&opts)
	}

	return &Loader{
		db:    db,
		cache: opts.cache,
		ttl:   opts.ttl,
	}
}

// Load returns the explorer data of the configuration.
//
// It returns nil without error when there is nothing to load: no configuration, no selected job or no bounds.
// Loading the same configuration twice in a row returns the previous result.
func (l *Loader) Load(ctx context.Context, cfg *LoadConfig) (*ExplorerData, error) {
	if cfg == nil || len(cfg.SelectedJobs) == 0 || cfg.Bounds == nil {
		return nil, nil
	}

	key, err := cfg.Key()
	if err != nil {
		return nil, err
	}

	if d, ok := l.previous(key); ok {
		slog.Debug("Explorer data already loaded for configuration")
		return d, nil
	}

	cacheKey, err := l.cacheKey(*cfg)
	if err != nil {
		return nil, err
	}
	if d, ok := l.fromCache(ctx, cacheKey); ok {
		l.remember(key, d)
		return d, nil
	}

	ids := make([]string, 0, len(cfg.SelectedJobs))
	for _, j := range cfg.SelectedJobs {
		ids = append(ids, j.ID)
	}
	records, err := l.db.AnomalyRecords(ctx, database.RecordsQuery{
		JobIDs: ids,
		From:   cfg.Bounds.Min,
		To:     cfg.Bounds.Max,
	})
	if err != nil {
		return nil, fmt.Errorf("could not load anomaly records: %w", err)
	}

	d, err := compute(*cfg, records)
	if err != nil {
		return nil, err
	}
	slog.Debug("Loaded explorer data", "jobs", ids, "records", len(records))

	l.toCache(ctx, cacheKey, d)
	l.remember(key, d)
	return d, nil
}

// previous returns the data of the last load if it was for the same configuration key.
func (l *Loader) previous(key string) (*ExplorerData, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if key != l.lastKey || l.last == nil {
		return nil, false
	}
	return l.last, true
}

func (l *Loader) remember(key string, d *ExplorerData) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lastKey, l.last = key, d
}
