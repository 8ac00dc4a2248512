package pipeline

import (
	"errors"
	"fmt"
	"time"

	"github.com/aevon-lab/geoagg/internal/export"
)

// Year statuses.
const (
	StatusOK       = "ok"
	StatusFailed   = "failed"
	StatusCanceled = "canceled"
	StatusSkipped  = "skipped" // not attempted because an earlier year failed
)

// YearResult is the outcome of one year.
type YearResult struct {
	Year      int
	Status    string
	Stage     string // failing stage, empty when Status is ok
	Layer     string // failing layer, when the failure is layer specific
	Err       error
	Columns   []string
	Warnings  []string
	Artifacts export.Artifacts
	Duration  time.Duration
}

// Failed reports whether the year did not complete.
func (r YearResult) Failed() bool {
	return r.Status != StatusOK
}

// RunSummary lists every requested year in order.
type RunSummary struct {
	RunID       string
	StartedAt   time.Time
	FinishedAt  time.Time
	Subcategory bool
	Years       []YearResult
}

// Failed returns the years that did not complete.
func (s RunSummary) Failed() []YearResult {
	var out []YearResult
	for _, y := range s.Years {
		if y.Failed() {
			out = append(out, y)
		}
	}
	return out
}

// Err joins the errors of every failed year, or returns nil.
func (s RunSummary) Err() error {
	var errs []error
	for _, y := range s.Years {
		switch {
		case y.Err != nil:
			errs = append(errs, fmt.Errorf("year %d: %w", y.Year, y.Err))
		case y.Failed():
			errs = append(errs, fmt.Errorf("year %d: %s", y.Year, y.Status))
		}
	}
	return errors.Join(errs...)
}

// Manifest converts the summary into its YAML form.
func (s RunSummary) Manifest() export.Manifest {
	m := export.Manifest{
		RunID:       s.RunID,
		StartedAt:   s.StartedAt,
		FinishedAt:  s.FinishedAt,
		Subcategory: s.Subcategory,
		Years:       make([]export.ManifestYear, 0, len(s.Years)),
	}
	for _, y := range s.Years {
		my := export.ManifestYear{
			Year:      y.Year,
			Status:    y.Status,
			Stage:     y.Stage,
			Layer:     y.Layer,
			Columns:   y.Columns,
			Warnings:  y.Warnings,
			Artifacts: y.Artifacts,
		}
		if y.Err != nil {
			my.Error = y.Err.Error()
		}
		m.Years = append(m.Years, my)
	}
	return m
}
