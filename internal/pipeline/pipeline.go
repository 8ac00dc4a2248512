// Package pipeline drives a run: boundaries are loaded once, then every year
// goes through feature loading, aggregation, export and the optional result
// store, each starting from a clean copy of the boundary table.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aevon-lab/geoagg/internal/core/aggregation"
	coreerrors "github.com/aevon-lab/geoagg/internal/core/errors"
	"github.com/aevon-lab/geoagg/internal/core/storage"
	"github.com/aevon-lab/geoagg/internal/core/table"
	"github.com/aevon-lab/geoagg/internal/export"
	"github.com/aevon-lab/geoagg/internal/metrics"
	"github.com/google/uuid"
)

// Loader reads the boundary source and a year's feature layers in the
// working CRS.
type Loader interface {
	LoadBoundaries(ctx context.Context, path string) (*table.BoundaryTable, error)
	LoadFeatureLayers(ctx context.Context, year int) (map[string]*table.FeatureLayer, error)
}

// Exporter writes one year's table.
type Exporter interface {
	Export(year int, t *table.BoundaryTable) (export.Artifacts, error)
}

// AggregateFunc adds the derived columns of every layer to t.
type AggregateFunc func(
	ctx context.Context,
	t *table.BoundaryTable,
	layers map[string]*table.FeatureLayer,
	opts aggregation.Options,
) (aggregation.Report, error)

// Options controls a Runner.
type Options struct {
	BoundaryPath    string
	Aggregation     aggregation.Options
	ContinueOnError bool
	ManifestPath    string // empty disables the manifest
}

// Deps are the collaborators of a Runner. Store and Recorder are optional.
type Deps struct {
	Loader    Loader
	Exporter  Exporter
	Aggregate AggregateFunc
	Store     storage.ResultStore
	Recorder  metrics.Recorder
}

// Runner executes runs over a list of years.
type Runner struct {
	deps Deps
	opts Options
	now  func() time.Time
}

// NewRunner creates a Runner. A nil Aggregate uses aggregation.Aggregate and
// a nil Recorder records nothing.
func NewRunner(deps Deps, opts Options) *Runner {
	if deps.Aggregate == nil {
		deps.Aggregate = aggregation.Aggregate
	}
	if deps.Recorder == nil {
		deps.Recorder = metrics.NoopRecorder{}
	}
	return &Runner{deps: deps, opts: opts, now: time.Now}
}

// Run processes years in the given order. The summary always lists every
// requested year; the returned error joins all year failures. A boundary
// load failure aborts the run before any year is attempted.
func (r *Runner) Run(ctx context.Context, years []int) (RunSummary, error) {
	summary := RunSummary{
		RunID:       uuid.NewString(),
		StartedAt:   r.now().UTC(),
		Subcategory: r.opts.Aggregation.Subcategory,
	}
	defer func() {
		r.deps.Recorder.ObserveRunDuration(r.now().UTC().Sub(summary.StartedAt))
	}()

	slog.Info("[Pipeline] Starting run",
		"run_id", summary.RunID,
		"years", years,
		"subcategory", summary.Subcategory,
	)

	var boundaries *table.BoundaryTable
	err := r.stage(coreerrors.StageLoadBoundaries, func() error {
		var err error
		boundaries, err = r.deps.Loader.LoadBoundaries(ctx, r.opts.BoundaryPath)
		return err
	})
	if err != nil {
		slog.Error("[Pipeline] Boundary load failed, aborting run", "error", err)
		summary.FinishedAt = r.now().UTC()
		return summary, err
	}
	baseline := table.NewBaseline(boundaries)

	stop := ""
	for _, year := range years {
		if stop != "" {
			summary.Years = append(summary.Years, YearResult{Year: year, Status: stop})
			r.deps.Recorder.IncYearOutcome(outcomeOf(stop))
			continue
		}
		if err := ctx.Err(); err != nil {
			summary.Years = append(summary.Years, YearResult{Year: year, Status: StatusCanceled, Err: err})
			r.deps.Recorder.IncYearOutcome(metrics.OutcomeCanceled)
			stop = StatusCanceled
			continue
		}

		res := r.runYear(ctx, summary.RunID, year, baseline)
		summary.Years = append(summary.Years, res)
		r.deps.Recorder.IncYearOutcome(outcomeOf(res.Status))

		switch {
		case res.Status == StatusCanceled:
			stop = StatusCanceled
		case res.Failed() && !r.opts.ContinueOnError:
			stop = StatusSkipped
		}
	}
	summary.FinishedAt = r.now().UTC()

	runErr := summary.Err()
	if r.opts.ManifestPath != "" {
		if err := export.WriteManifest(r.opts.ManifestPath, summary.Manifest()); err != nil {
			slog.Error("[Pipeline] Failed to write manifest", "path", r.opts.ManifestPath, "error", err)
			runErr = errors.Join(runErr, err)
		}
	}

	slog.Info("[Pipeline] Run complete",
		"run_id", summary.RunID,
		"years", len(summary.Years),
		"failed", len(summary.Failed()),
		"duration", summary.FinishedAt.Sub(summary.StartedAt),
	)
	return summary, runErr
}

func (r *Runner) runYear(ctx context.Context, runID string, year int, baseline *table.Baseline) YearResult {
	start := r.now()
	res := YearResult{Year: year}
	fail := func(stage string, err error) YearResult {
		res.Status = StatusFailed
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			res.Status = StatusCanceled
		}
		res.Stage = stage
		res.Layer = coreerrors.LayerOf(err)
		res.Err = err
		res.Duration = r.now().Sub(start)
		slog.Error("[Pipeline] Year failed",
			"year", year,
			"stage", stage,
			"layer", res.Layer,
			"error", err,
		)
		return res
	}

	// every year starts from the pristine boundary table
	t := baseline.Materialize()

	var layers map[string]*table.FeatureLayer
	if err := r.stage(coreerrors.StageLoadFeatures, func() error {
		var err error
		layers, err = r.deps.Loader.LoadFeatureLayers(ctx, year)
		return err
	}); err != nil {
		return fail(coreerrors.StageLoadFeatures, err)
	}

	var report aggregation.Report
	if err := r.stage(coreerrors.StageAggregate, func() error {
		var err error
		report, err = r.deps.Aggregate(ctx, t, layers, r.opts.Aggregation)
		return err
	}); err != nil {
		return fail(coreerrors.StageAggregate, err)
	}
	res.Columns = report.Columns()
	res.Warnings = report.Warnings
	for _, lr := range report.Layers {
		if len(lr.Columns) > 0 {
			r.deps.Recorder.AddFeatures(lr.Kind.String(), lr.Features)
		}
	}
	if len(report.Warnings) > 0 {
		r.deps.Recorder.IncStageResult(coreerrors.StageAggregate, metrics.ResultWarning)
		for _, w := range report.Warnings {
			slog.Warn("[Pipeline] Aggregation warning", "year", year, "warning", w)
		}
	}

	if err := r.stage(coreerrors.StageExport, func() error {
		var err error
		res.Artifacts, err = r.deps.Exporter.Export(year, t)
		return err
	}); err != nil {
		return fail(coreerrors.StageExport, err)
	}

	if r.deps.Store != nil {
		if err := r.stage(coreerrors.StageStore, func() error {
			return r.save(ctx, runID, year, t)
		}); err != nil {
			return fail(coreerrors.StageStore, err)
		}
	}

	res.Status = StatusOK
	res.Duration = r.now().Sub(start)
	slog.Info("[Pipeline] Year complete",
		"year", year,
		"columns", len(res.Columns),
		"warnings", len(res.Warnings),
		"duration", res.Duration,
	)
	return res
}

func (r *Runner) save(ctx context.Context, runID string, year int, t *table.BoundaryTable) error {
	err := r.deps.Store.SaveYear(ctx, storage.Flatten(runID, year, t))
	if err == nil {
		return nil
	}
	var ee *coreerrors.ExportError
	if errors.As(err, &ee) {
		return err
	}
	return &coreerrors.ExportError{
		Stage: coreerrors.StageStore,
		Path:  fmt.Sprintf("prefecture_metrics year=%d", year),
		Err:   err,
	}
}

// stage times fn and records its result.
func (r *Runner) stage(name string, fn func() error) error {
	start := r.now()
	err := fn()
	r.deps.Recorder.ObserveStageDuration(name, r.now().Sub(start))

	result := metrics.ResultSuccess
	switch {
	case err == nil:
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		result = metrics.ResultCanceled
	default:
		result = metrics.ResultFailed
	}
	r.deps.Recorder.IncStageResult(name, result)
	return err
}

func outcomeOf(status string) string {
	switch status {
	case StatusOK:
		return metrics.OutcomeOK
	case StatusCanceled:
		return metrics.OutcomeCanceled
	default:
		return metrics.OutcomeFailed
	}
}
