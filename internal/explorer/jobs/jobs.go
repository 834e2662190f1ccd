// Package jobs loads the anomaly detection jobs shown in the explorer and resolves the job selection.
package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/ubuntu/anomaly-explorer/internal/explorer/urlstate"
	"github.com/ubuntu/anomaly-explorer/internal/models"
	"github.com/ubuntu/anomaly-explorer/internal/savedobjects"
	"github.com/ubuntu/anomaly-explorer/internal/savedobjects/schema"
)

// pageSize is the number of jobs read per search.
const pageSize = 1000

type objectFinder interface {
	Find(ctx context.Context, opts savedobjects.FindOptions) (savedobjects.FindResponse, error)
}

type timeRanges interface {
	JobTimeRanges(ctx context.Context, jobIDs []string) (map[string]models.TimeRange, error)
}

// Service reads the jobs from the saved objects and the time range of their results from the database.
type Service struct {
	objects objectFinder
	ranges  timeRanges

	mu   sync.RWMutex
	jobs []models.Job
}

// New returns a job service.
func New(objects objectFinder, ranges timeRanges) *Service {
	return &Service{objects: objects, ranges: ranges}
}

// LoadJobs reads every job, sorted by job ID. The result is kept and returned by Jobs.
func (s *Service) LoadJobs(ctx context.Context) ([]models.Job, error) {
	var jobs []models.Job
	for page := 1; ; page++ {
		resp, err := s.objects.Find(ctx, savedobjects.FindOptions{
			Types:   []string{schema.JobType},
			Page:    page,
			PerPage: pageSize,
		})
		if err != nil {
			return nil, fmt.Errorf("could not load jobs: %w", err)
		}

		for _, obj := range resp.SavedObjects {
			job, err := decodeJob(obj)
			if err != nil {
				slog.Warn("Ignoring invalid job", "id", obj.ID, "err", err)
				continue
			}
			jobs = append(jobs, job)
		}
		if page*pageSize >= resp.Total || len(resp.SavedObjects) == 0 {
			break
		}
	}

	slices.SortFunc(jobs, func(a, b models.Job) int { return strings.Compare(a.JobID, b.JobID) })

	s.mu.Lock()
	s.jobs = jobs
	s.mu.Unlock()

	slog.Debug("Loaded jobs", "count", len(jobs))
	return jobs, nil
}

// Jobs returns the jobs of the last successful LoadJobs.
func (s *Service) Jobs() []models.Job {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.jobs)
}

func decodeJob(obj models.SavedObject) (models.Job, error) {
	var job models.Job
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           &job,
	})
	if err != nil {
		return job, fmt.Errorf("failed to create decoder: %v", err)
	}
	if err := decoder.Decode(obj.Attributes); err != nil {
		return job, err
	}
	if job.JobID == "" {
		job.JobID = obj.ID
	}
	return job, nil
}

// JobsWithTimeRange loads the jobs and adds the time range of their results.
// The time range label is formatted in the time zone tz. An empty tz or "Browser" means UTC.
func (s *Service) JobsWithTimeRange(ctx context.Context, tz string) ([]models.JobWithTimeRange, error) {
	loc, err := location(tz)
	if err != nil {
		return nil, err
	}

	jobs, err := s.LoadJobs(ctx)
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(jobs))
	for _, j := range jobs {
		ids = append(ids, j.JobID)
	}
	ranges, err := s.ranges.JobTimeRanges(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("could not load job time ranges: %w", err)
	}

	result := make([]models.JobWithTimeRange, 0, len(jobs))
	for _, j := range jobs {
		span, err := ParseBucketSpan(j.BucketSpan)
		if err != nil {
			slog.Warn("Invalid bucket span", "job", j.JobID, "bucket_span", j.BucketSpan, "err", err)
		}

		jwt := models.JobWithTimeRange{Job: j, BucketSpanSeconds: span}
		if tr, ok := ranges[j.JobID]; ok {
			jwt.TimeRange = models.TimeRange{
				From:   tr.From,
				To:     tr.To,
				String: fmt.Sprintf("%s to %s", formatDate(tr.From.In(loc)), formatDate(tr.To.In(loc))),
			}
		}
		result = append(result, jwt)
	}
	return result, nil
}

func location(tz string) (*time.Location, error) {
	if tz == "" || tz == "Browser" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("invalid time zone %q: %v", tz, err)
	}
	return loc, nil
}

// formatDate formats t as "Feb 9th 2017, 16:00".
func formatDate(t time.Time) string {
	return fmt.Sprintf("%s %d%s %d, %s", t.Format("Jan"), t.Day(), ordinal(t.Day()), t.Year(), t.Format("15:04"))
}

func ordinal(day int) string {
	if day >= 11 && day <= 13 {
		return "th"
	}
	switch day % 10 {
	case 1:
		return "st"
	case 2:
		return "nd"
	case 3:
		return "rd"
	}
	return "th"
}

// ParseBucketSpan converts a bucket span like "15m" or "1d" to seconds.
func ParseBucketSpan(span string) (int64, error) {
	if span == "" {
		return 0, fmt.Errorf("empty bucket span")
	}
	if days, ok := strings.CutSuffix(span, "d"); ok {
		n, err := strconv.ParseInt(days, 10, 64)
		if err != nil || n <= 0 {
			return 0, fmt.Errorf("invalid bucket span %q", span)
		}
		return n * 24 * 3600, nil
	}
	d, err := time.ParseDuration(span)
	if err != nil || d < time.Second {
		return 0, fmt.Errorf("invalid bucket span %q", span)
	}
	return int64(d / time.Second), nil
}

// JobSelection resolves the job IDs of the global state against the known jobs.
//
// An ID naming a group selects every job of the group. Unknown IDs are dropped.
// The result is sorted and holds each job once.
func JobSelection(jobs []models.JobWithTimeRange, gs urlstate.GlobalState) []string {
	if gs.ML == nil {
		return []string{}
	}

	known := make(map[string]struct{}, len(jobs))
	groups := make(map[string][]string)
	for _, j := range jobs {
		known[j.JobID] = struct{}{}
		for _, g := range j.Groups {
			groups[g] = append(groups[g], j.JobID)
		}
	}

	selected := []string{}
	for _, id := range gs.ML.JobIDs {
		if _, ok := known[id]; ok {
			selected = append(selected, id)
			continue
		}
		if members, ok := groups[id]; ok {
			selected = append(selected, members...)
			continue
		}
		slog.Warn("Ignoring unknown job in selection", "job", id)
	}

	slices.Sort(selected)
	return slices.Compact(selected)
}
