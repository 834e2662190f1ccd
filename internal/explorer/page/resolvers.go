package page

import (
	"context"
	"fmt"

	"github.com/ubuntu/anomaly-explorer/internal/models"
	"github.com/ubuntu/anomaly-explorer/internal/savedobjects"
	"golang.org/x/sync/errgroup"
)

const (
	configType        = "config"
	dateFormatTZField = "dateFormat:tz"
	// DefaultDateFormatTZ is the time zone used when the advanced settings do not set one.
	DefaultDateFormatTZ = "Browser"
)

type objectFinder interface {
	Find(ctx context.Context, opts savedobjects.FindOptions) (savedobjects.FindResponse, error)
}

type jobService interface {
	LoadJobs(ctx context.Context) ([]models.Job, error)
	JobsWithTimeRange(ctx context.Context, tz string) ([]models.JobWithTimeRange, error)
}

// resolved holds the prerequisites of the page.
type resolved struct {
	dateFormatTZ      string
	jobs              []models.Job
	jobsWithTimeRange []models.JobWithTimeRange
}

// resolve runs the resolvers of the page concurrently. It fails if any resolver fails.
func resolve(ctx context.Context, objects objectFinder, jobs jobService) (r resolved, err error) {
	g, ctx := errgroup.WithContext(ctx)

	tz := make(chan string, 1)
	g.Go(func() error {
		v, err := dateFormatTZ(ctx, objects)
		if err != nil {
			return err
		}
		r.dateFormatTZ = v
		tz <- v
		return nil
	})
	g.Go(func() error {
		j, err := jobs.LoadJobs(ctx)
		if err != nil {
			return fmt.Errorf("could not load jobs: %w", err)
		}
		r.jobs = j
		return nil
	})
	g.Go(func() error {
		var v string
		select {
		case v = <-tz:
		case <-ctx.Done():
			return ctx.Err()
		}
		j, err := jobs.JobsWithTimeRange(ctx, v)
		if err != nil {
			return fmt.Errorf("could not load jobs with time range: %w", err)
		}
		r.jobsWithTimeRange = j
		return nil
	})

	if err := g.Wait(); err != nil {
		return resolved{}, err
	}
	return r, nil
}

// dateFormatTZ returns the time zone dates are displayed in, from the advanced settings.
func dateFormatTZ(ctx context.Context, objects objectFinder) (string, error) {
	res, err := objects.Find(ctx, savedobjects.FindOptions{Types: []string{configType}, PerPage: 1})
	if err != nil {
		return "", fmt.Errorf("could not load advanced settings: %w", err)
	}
	if len(res.SavedObjects) == 0 {
		return DefaultDateFormatTZ, nil
	}
	if tz, ok := res.SavedObjects[0].Attributes[dateFormatTZField].(string); ok && tz != "" {
		return tz, nil
	}
	return DefaultDateFormatTZ, nil
}
