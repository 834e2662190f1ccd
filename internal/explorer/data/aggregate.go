package data

import (
	"cmp"
	"encoding/json"
	"fmt"
	"slices"
	"time"

	"github.com/ubuntu/anomaly-explorer/internal/explorer/urlstate"
	"github.com/ubuntu/anomaly-explorer/internal/models"
	"github.com/ubuntu/anomaly-explorer/internal/querymatch"
)

const (
	maxTableRows        = 500
	maxInfluencerValues = 10
	defaultInterval     = 3600
)

// Table intervals.
const (
	IntervalAuto   = "auto"
	IntervalHour   = "hour"
	IntervalDay    = "day"
	IntervalSecond = "second"
)

func compute(cfg LoadConfig, records []models.AnomalyRecord) (*ExplorerData, error) {
	records, err := filterRecords(cfg, records)
	if err != nil {
		return nil, err
	}

	interval := cfg.SwimlaneBucketInterval
	if interval <= 0 {
		for _, j := range cfg.SelectedJobs {
			interval = max(interval, j.BucketSpanSeconds)
		}
	}
	if interval <= 0 {
		interval = defaultInterval
	}

	viewBy := cfg.ViewBySwimlaneFieldName
	if viewBy == "" {
		viewBy = ViewByJobFieldName
	}
	limit := cfg.SwimlaneLimit
	if limit <= 0 {
		limit = DefaultSwimlaneLimit
	}

	selected := selectedRecords(cfg.SelectedCells, viewBy, interval, records)

	return &ExplorerData{
		OverallSwimlane: overallSwimlane(cfg, interval, records),
		ViewBySwimlane:  viewBySwimlane(cfg, viewBy, limit, interval, records),
		TableData:       tableData(cfg, selected),
		Influencers:     topInfluencers(selected),
	}, nil
}

// filterRecords keeps the records matching the influencers filter query.
func filterRecords(cfg LoadConfig, records []models.AnomalyRecord) ([]models.AnomalyRecord, error) {
	if cfg.InfluencersFilterQuery == nil || cfg.NoInfluencersConfigured {
		return records, nil
	}

	m, err := querymatch.Compile(cfg.InfluencersFilterQuery)
	if err != nil {
		return nil, fmt.Errorf("invalid influencers filter query: %w", err)
	}

	var kept []models.AnomalyRecord
	for _, r := range records {
		doc, err := filterDoc(r)
		if err != nil {
			return nil, err
		}
		if m.Match(doc) {
			kept = append(kept, r)
		}
	}
	return kept, nil
}

// filterDoc is the JSON document a filter query is evaluated against: the record, plus one top level
// field per entity and influencer field holding its values.
func filterDoc(r models.AnomalyRecord) ([]byte, error) {
	raw, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("could not encode record of job %q: %v", r.JobID, err)
	}
	doc := make(map[string]any)
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("could not decode record of job %q: %v", r.JobID, err)
	}

	fields := make(map[string][]any)
	add := func(name, value string) {
		if name == "" || value == "" || slices.Contains(fields[name], any(value)) {
			return
		}
		fields[name] = append(fields[name], value)
	}
	add(r.PartitionFieldName, r.PartitionFieldValue)
	add(r.OverFieldName, r.OverFieldValue)
	add(r.ByFieldName, r.ByFieldValue)
	for _, inf := range r.Influencers {
		for _, v := range inf.FieldValues {
			add(inf.FieldName, v)
		}
	}
	for name, values := range fields {
		doc[name] = values
	}
	return json.Marshal(doc)
}

// laneValues returns the lanes a record belongs to when viewing by field.
func laneValues(r models.AnomalyRecord, field string) []string {
	if field == ViewByJobFieldName {
		return []string{r.JobID}
	}

	var values []string
	add := func(v string) {
		if v != "" && !slices.Contains(values, v) {
			values = append(values, v)
		}
	}
	if r.PartitionFieldName == field {
		add(r.PartitionFieldValue)
	}
	if r.OverFieldName == field {
		add(r.OverFieldValue)
	}
	if r.ByFieldName == field {
		add(r.ByFieldValue)
	}
	for _, inf := range r.Influencers {
		if inf.FieldName == field {
			for _, v := range inf.FieldValues {
				add(v)
			}
		}
	}
	return values
}

func bucketStart(t time.Time, interval int64) int64 {
	s := t.Unix()
	return s - ((s%interval)+interval)%interval
}

// selectionRange returns the time range of a cell selection. A single time selects one bucket.
func selectionRange(cells *urlstate.SelectedCells, interval int64) (from, to int64, ok bool) {
	if cells == nil || len(cells.Times) == 0 {
		return 0, 0, false
	}
	from = slices.Min(cells.Times)
	to = slices.Max(cells.Times)
	if from == to {
		to = from + interval
	}
	return from, to, true
}

// selectedRecords returns the records of the selected cells, or all records when nothing is selected.
func selectedRecords(cells *urlstate.SelectedCells, viewBy string, interval int64, records []models.AnomalyRecord) []models.AnomalyRecord {
	from, to, ok := selectionRange(cells, interval)
	if !ok {
		return records
	}

	laneField := viewBy
	if cells.ViewByFieldName != "" {
		laneField = cells.ViewByFieldName
	}

	var kept []models.AnomalyRecord
	for _, r := range records {
		ts := r.Timestamp.Unix()
		if ts < from || ts >= to {
			continue
		}
		if cells.Type == urlstate.SwimlaneTypeViewBy && len(cells.Lanes) > 0 {
			if !slices.ContainsFunc(laneValues(r, laneField), func(v string) bool { return slices.Contains(cells.Lanes, v) }) {
				continue
			}
		}
		kept = append(kept, r)
	}
	return kept
}

type laneBucket struct {
	lane string
	time int64
}

// maxScores returns the points of the lanes, sorted by lane order then time.
func maxScores(scores map[laneBucket]float64, lanes []string) []SwimlanePoint {
	order := make(map[string]int, len(lanes))
	for i, l := range lanes {
		order[l] = i
	}

	points := make([]SwimlanePoint, 0, len(scores))
	for k, v := range scores {
		if _, ok := order[k.lane]; !ok {
			continue
		}
		points = append(points, SwimlanePoint{LaneLabel: k.lane, Time: k.time, Value: v})
	}
	slices.SortFunc(points, func(a, b SwimlanePoint) int {
		return cmp.Or(cmp.Compare(order[a.LaneLabel], order[b.LaneLabel]), cmp.Compare(a.Time, b.Time))
	})
	return points
}

func overallSwimlane(cfg LoadConfig, interval int64, records []models.AnomalyRecord) Swimlane {
	scores := make(map[laneBucket]float64)
	for _, r := range records {
		k := laneBucket{lane: OverallLaneLabel, time: bucketStart(r.Timestamp, interval)}
		scores[k] = max(scores[k], r.RecordScore)
	}

	lanes := []string{OverallLaneLabel}
	return Swimlane{
		LaneLabels: lanes,
		Points:     maxScores(scores, lanes),
		Interval:   interval,
		Earliest:   cfg.Bounds.Min.Unix(),
		Latest:     cfg.Bounds.Max.Unix(),
	}
}

func viewBySwimlane(cfg LoadConfig, viewBy string, limit int, interval int64, records []models.AnomalyRecord) Swimlane {
	// Lanes are ranked on the selected time range when there is one.
	rankFrom, rankTo, ranked := selectionRange(cfg.SelectedCells, interval)

	scores := make(map[laneBucket]float64)
	laneMax := make(map[string]float64)
	for _, r := range records {
		ts := r.Timestamp.Unix()
		inRank := !ranked || (ts >= rankFrom && ts < rankTo)
		for _, lane := range laneValues(r, viewBy) {
			k := laneBucket{lane: lane, time: bucketStart(r.Timestamp, interval)}
			scores[k] = max(scores[k], r.RecordScore)
			if inRank {
				laneMax[lane] = max(laneMax[lane], r.RecordScore)
			}
		}
	}

	lanes := make([]string, 0, len(laneMax))
	for lane := range laneMax {
		lanes = append(lanes, lane)
	}
	slices.SortFunc(lanes, func(a, b string) int {
		return cmp.Or(cmp.Compare(laneMax[b], laneMax[a]), cmp.Compare(a, b))
	})
	if len(lanes) > limit {
		lanes = lanes[:limit]
	}

	return Swimlane{
		FieldName:  viewBy,
		LaneLabels: lanes,
		Points:     maxScores(scores, lanes),
		Interval:   interval,
		Earliest:   cfg.Bounds.Min.Unix(),
		Latest:     cfg.Bounds.Max.Unix(),
	}
}

// tableInterval resolves the auto interval: days for ranges longer than two days, hours otherwise.
func tableInterval(cfg LoadConfig) string {
	switch cfg.TableInterval {
	case IntervalHour, IntervalDay, IntervalSecond:
		return cfg.TableInterval
	}
	if cfg.Bounds.Max.Sub(cfg.Bounds.Min) > 48*time.Hour {
		return IntervalDay
	}
	return IntervalHour
}

// entity returns the field identifying the entity of a record: by, then over, then partition field.
func entity(r models.AnomalyRecord) (name, value string) {
	switch {
	case r.ByFieldValue != "":
		return r.ByFieldName, r.ByFieldValue
	case r.OverFieldValue != "":
		return r.OverFieldName, r.OverFieldValue
	case r.PartitionFieldValue != "":
		return r.PartitionFieldName, r.PartitionFieldValue
	}
	return "", ""
}

func tableData(cfg LoadConfig, records []models.AnomalyRecord) TableData {
	interval := tableInterval(cfg)

	type rowKey struct {
		bucket int64
		entity string
	}
	best := make(map[rowKey]models.AnomalyRecord)
	var order []rowKey
	for _, r := range records {
		if r.RecordScore < float64(cfg.TableSeverity) {
			continue
		}

		k := rowKey{entity: r.EntityKey()}
		switch interval {
		case IntervalHour:
			k.bucket = bucketStart(r.Timestamp, 3600)
		case IntervalDay:
			k.bucket = bucketStart(r.Timestamp, 86400)
		default:
			k.bucket = r.Timestamp.UnixMilli()
		}

		current, ok := best[k]
		if !ok {
			order = append(order, k)
		}
		if !ok || r.RecordScore > current.RecordScore ||
			(r.RecordScore == current.RecordScore && r.Timestamp.Before(current.Timestamp)) {
			best[k] = r
		}
	}

	anomalies := make([]TableAnomaly, 0, len(order))
	for _, k := range order {
		r := best[k]
		name, value := entity(r)
		anomalies = append(anomalies, TableAnomaly{
			Time:          r.Timestamp.UnixMilli(),
			Severity:      r.RecordScore,
			JobID:         r.JobID,
			DetectorIndex: r.DetectorIndex,
			EntityName:    name,
			EntityValue:   value,
			Actual:        r.Actual,
			Typical:       r.Typical,
			Influencers:   r.Influencers,
			Source:        r,
		})
	}
	slices.SortStableFunc(anomalies, func(a, b TableAnomaly) int {
		return cmp.Or(cmp.Compare(b.Severity, a.Severity), cmp.Compare(a.Time, b.Time), cmp.Compare(a.JobID, b.JobID))
	})
	if len(anomalies) > maxTableRows {
		anomalies = anomalies[:maxTableRows]
	}

	return TableData{Anomalies: anomalies, Interval: interval}
}

func topInfluencers(records []models.AnomalyRecord) map[string][]InfluencerValue {
	type fieldValue struct{ field, value string }
	scores := make(map[fieldValue]*InfluencerValue)
	for _, r := range records {
		for _, inf := range r.Influencers {
			for _, v := range inf.FieldValues {
				k := fieldValue{field: inf.FieldName, value: v}
				s, ok := scores[k]
				if !ok {
					s = &InfluencerValue{Value: v}
					scores[k] = s
				}
				s.MaxAnomalyScore = max(s.MaxAnomalyScore, r.RecordScore)
				s.SumAnomalyScore += r.RecordScore
			}
		}
	}

	result := make(map[string][]InfluencerValue)
	for k, s := range scores {
		result[k.field] = append(result[k.field], *s)
	}
	for field, values := range result {
		slices.SortFunc(values, func(a, b InfluencerValue) int {
			return cmp.Or(cmp.Compare(b.MaxAnomalyScore, a.MaxAnomalyScore), cmp.Compare(a.Value, b.Value))
		})
		if len(values) > maxInfluencerValues {
			values = values[:maxInfluencerValues]
		}
		result[field] = values
	}
	return result
}
