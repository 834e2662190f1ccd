// Package models provides the data structures shared by the saved objects and explorer packages.
package models

import (
	"strconv"
	"strings"
	"time"
)

// SavedObject is a persisted, typed document.
type SavedObject struct {
	ID         string         `json:"id" mapstructure:"id"`
	Type       string         `json:"type" mapstructure:"type"`
	Namespace  string         `json:"namespace,omitempty" mapstructure:"namespace"`
	Attributes map[string]any `json:"attributes" mapstructure:"attributes"`
	References []Reference    `json:"references" mapstructure:"references"`
	UpdatedAt  time.Time      `json:"updated_at,omitzero" mapstructure:"updated_at"`
	Version    int64          `json:"version,omitempty" mapstructure:"version"`

	// Extras holds fields that are not part of the model. It is only filled when decoding imports.
	Extras map[string]any `json:"-" mapstructure:",remain"`
}

// Reference points from a saved object to another one.
type Reference struct {
	Name string `json:"name" mapstructure:"name"`
	Type string `json:"type" mapstructure:"type"`
	ID   string `json:"id" mapstructure:"id"`
}

// AnomalyRecord is a single anomaly detection result.
type AnomalyRecord struct {
	JobID               string       `json:"job_id" mapstructure:"job_id"`
	Timestamp           time.Time    `json:"timestamp" mapstructure:"timestamp"`
	BucketSpan          int64        `json:"bucket_span" mapstructure:"bucket_span"`
	DetectorIndex       int          `json:"detector_index" mapstructure:"detector_index"`
	RecordScore         float64      `json:"record_score" mapstructure:"record_score"`
	FunctionDescription string       `json:"function_description,omitempty" mapstructure:"function_description"`
	FieldName           string       `json:"field_name,omitempty" mapstructure:"field_name"`
	ByFieldName         string       `json:"by_field_name,omitempty" mapstructure:"by_field_name"`
	ByFieldValue        string       `json:"by_field_value,omitempty" mapstructure:"by_field_value"`
	PartitionFieldName  string       `json:"partition_field_name,omitempty" mapstructure:"partition_field_name"`
	PartitionFieldValue string       `json:"partition_field_value,omitempty" mapstructure:"partition_field_value"`
	OverFieldName       string       `json:"over_field_name,omitempty" mapstructure:"over_field_name"`
	OverFieldValue      string       `json:"over_field_value,omitempty" mapstructure:"over_field_value"`
	Actual              []float64    `json:"actual,omitempty" mapstructure:"actual"`
	Typical             []float64    `json:"typical,omitempty" mapstructure:"typical"`
	Influencers         []Influencer `json:"influencers,omitempty" mapstructure:"influencers"`

	Extras map[string]any `json:"-" mapstructure:",remain"`
}

// Influencer lists the values of a field that contributed to an anomaly.
type Influencer struct {
	FieldName   string   `json:"influencer_field_name" mapstructure:"influencer_field_name"`
	FieldValues []string `json:"influencer_field_values" mapstructure:"influencer_field_values"`
}

// EntityKey identifies the entity an anomaly record was raised for, within its job and detector.
func (r AnomalyRecord) EntityKey() string {
	return strings.Join([]string{r.JobID, strconv.Itoa(r.DetectorIndex),
		r.PartitionFieldValue, r.OverFieldValue, r.ByFieldValue}, "\x00")
}

// Job is an anomaly detection job, stored as an "ml-job" saved object.
type Job struct {
	JobID       string   `json:"job_id" mapstructure:"job_id"`
	Description string   `json:"description,omitempty" mapstructure:"description"`
	Groups      []string `json:"groups,omitempty" mapstructure:"groups"`
	BucketSpan  string   `json:"bucket_span" mapstructure:"bucket_span"`
	Influencers []string `json:"influencers,omitempty" mapstructure:"influencers"`
}

// TimeRange is the span of results a job holds.
type TimeRange struct {
	From   time.Time `json:"from,omitzero"`
	To     time.Time `json:"to,omitzero"`
	String string    `json:"string,omitempty"`
}

// JobWithTimeRange is a job with the time range of its results.
type JobWithTimeRange struct {
	Job
	BucketSpanSeconds int64     `json:"bucket_span_seconds"`
	IsRunning         bool      `json:"isRunning"`
	IsNotSingleMetric bool      `json:"isNotSingleMetricViewerJob"`
	TimeRange         TimeRange `json:"timeRange"`
}
