package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/aevon-lab/geoagg/internal/core/aggregation"
	"github.com/aevon-lab/geoagg/internal/core/config"
	"github.com/aevon-lab/geoagg/internal/core/storage"
	"github.com/aevon-lab/geoagg/internal/core/storage/postgres"
	"github.com/aevon-lab/geoagg/internal/export"
	"github.com/aevon-lab/geoagg/internal/loader"
	"github.com/aevon-lab/geoagg/internal/metrics"
	"github.com/aevon-lab/geoagg/internal/migrations"
	"github.com/aevon-lab/geoagg/internal/pipeline"
)

// loadConfig applies command line flags on top of file and environment.
func loadConfig(path string, years []string, subcategory bool) (*config.Config, error) {
	return config.LoadWithOverrides(path, cliOverrides(years, subcategory))
}

func cliOverrides(years []string, subcategory bool) map[string]interface{} {
	overrides := make(map[string]interface{})
	if len(years) > 0 {
		overrides["years"] = years
	}
	if subcategory {
		overrides["subcategory"] = true
	}
	return overrides
}

func runAggregation(ctx context.Context, cfg *config.Config) error {
	years, err := cfg.ParsedYears()
	if err != nil {
		return err
	}
	opts, err := loader.OptionsFromConfig(cfg)
	if err != nil {
		return err
	}

	slog.Info("Loaded config",
		"data_root", cfg.DataRoot,
		"boundary", cfg.BoundaryPath(),
		"years", years,
		"subcategory", cfg.Subcategory,
		"database", cfg.Database.Enabled,
	)

	var store storage.ResultStore
	if cfg.Database.Enabled {
		db, err := postgres.Open(cfg.Database.DSN, cfg.Database.MaxOpenConns, cfg.Database.MaxIdleConns)
		if err != nil {
			return fmt.Errorf("initialize database: %w", err)
		}
		results := postgres.NewResultsAdapter(db)
		defer results.Close()

		if err := migrations.RunMigrations(db, cfg.Database.AutoMigrate); err != nil {
			return fmt.Errorf("run migrations: %w", err)
		}
		if err := postgres.ValidateSchema(ctx, db); err != nil {
			return err
		}
		store = results
	}

	var (
		recorder metrics.Recorder = metrics.NoopRecorder{}
		prom     *metrics.PrometheusRecorder
	)
	if cfg.Metrics.Textfile != "" {
		prom = metrics.NewPrometheusRecorder(nil)
		recorder = prom
	}

	exp := export.New(cfg.OutputRoot())
	runOpts := pipeline.Options{
		BoundaryPath: cfg.BoundaryPath(),
		Aggregation: aggregation.Options{
			Subcategory:    cfg.Subcategory,
			CategoryField:  cfg.CategoryField,
			StrictGeometry: cfg.StrictGeometry,
		},
		ContinueOnError: cfg.ContinueOnError,
	}
	if cfg.Manifest {
		runOpts.ManifestPath = exp.ManifestPath()
	}

	runner := pipeline.NewRunner(pipeline.Deps{
		Loader:   loader.New(opts),
		Exporter: exp,
		Store:    store,
		Recorder: recorder,
	}, runOpts)

	summary, runErr := runner.Run(ctx, years)

	if prom != nil {
		if err := prom.WriteTextfile(cfg.Metrics.Textfile); err != nil {
			slog.Error("Failed to write metrics textfile", "path", cfg.Metrics.Textfile, "error", err)
		}
	}

	for _, y := range summary.Years {
		if y.Failed() {
			slog.Error("Year not completed", "year", y.Year, "status", y.Status, "stage", y.Stage, "layer", y.Layer)
		}
	}
	return runErr
}

func runLayers(w io.Writer, cfg *config.Config, year int) error {
	opts, err := loader.OptionsFromConfig(cfg)
	if err != nil {
		return err
	}
	sources, err := loader.New(opts).ListLayerSources(year)
	if err != nil {
		return err
	}
	for _, s := range sources {
		if _, err := fmt.Fprintf(w, "%s\t%s\n", s.Layer, s.Path); err != nil {
			return err
		}
	}
	return nil
}
