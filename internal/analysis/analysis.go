package analysis

import (
	"context"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/example/claim-insights/internal/dataset"
)

// Report is the outcome of a standard analysis over a dataset.
type Report struct {
	Rows     int
	Averages Averages
	// Images maps a chart title to its base64 encoded JPEG.
	Images map[string]string
}

// ImageNames returns the chart titles in the report, sorted.
func (r *Report) ImageNames() []string {
	names := make([]string, 0, len(r.Images))
	for name := range r.Images {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

type chartJob struct {
	name   string
	render func() ([]byte, error)
}

// Analyze computes column averages and renders the demographic charts. A
// chart whose source column is missing or empty is left out of the report.
func Analyze(ctx context.Context, ds *dataset.Dataset) (*Report, error) {
	report := &Report{
		Rows:     ds.Len(),
		Averages: ComputeAverages(ds),
		Images:   make(map[string]string),
	}

	var mu sync.Mutex
	g, ctx := errgroup.WithContext(ctx)
	for _, job := range chartJobs(ds) {
		job := job
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			data, err := job.render()
			if err != nil {
				return &ChartError{Chart: job.name, Err: err}
			}
			mu.Lock()
			report.Images[job.name] = EncodeImage(data)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return report, nil
}

func chartJobs(ds *dataset.Dataset) []chartJob {
	var jobs []chartJob
	if ages, ok := ds.Floats("assured_age"); ok && len(ages) > 0 {
		jobs = append(jobs, chartJob{AgeDistributionChart, func() ([]byte, error) { return renderAgeHistogram(ages) }})
	}
	if statuses, ok := ds.Column("holder_marital_status"); ok && len(ValueCounts(statuses)) > 0 {
		jobs = append(jobs, chartJob{MaritalStatusChart, func() ([]byte, error) { return renderMaritalPie(statuses) }})
	}
	if occupations, ok := ds.Column("occupation"); ok && len(ValueCounts(occupations)) > 0 {
		jobs = append(jobs, chartJob{OccupationChart, func() ([]byte, error) { return renderOccupationBars(occupations) }})
	}
	return jobs
}

// ChartError reports which chart failed to render.
type ChartError struct {
	Chart string
	Err   error
}

func (e *ChartError) Error() string {
	return "render " + e.Chart + ": " + e.Err.Error()
}

func (e *ChartError) Unwrap() error {
	return e.Err
}
