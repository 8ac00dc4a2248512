package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"
	"github.com/joho/godotenv"
)

var CLI struct {
	Config  string `short:"c" help:"Configuration file path" default:"geoagg.yaml"`
	Verbose bool   `short:"v" help:"Enable debug logging"`

	Run struct {
		Year        []string `short:"y" help:"Years to process, e.g. 2018 or 2018-2020 (overrides config)"`
		Subcategory bool     `help:"Add per-fclass columns (overrides config)"`
	} `cmd:"" help:"Aggregate every configured year and export the results"`

	Layers struct {
		Year int `short:"y" required:"" help:"Year to inspect"`
	} `cmd:"" help:"List the feature layers discovered for a year without processing them"`
}

func main() {
	// .env is optional
	_ = godotenv.Load()

	kctx := kong.Parse(&CLI,
		kong.Name("geoagg"),
		kong.Description("Aggregate geospatial features per prefecture and year."),
	)

	logLevel := slog.LevelInfo
	if CLI.Verbose {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch kctx.Command() {
	case "run":
		cfg, err := loadConfig(CLI.Config, CLI.Run.Year, CLI.Run.Subcategory)
		if err != nil {
			slog.Error("Failed to load configuration", "error", err)
			os.Exit(1)
		}
		if err := runAggregation(ctx, cfg); err != nil {
			slog.Error("Run failed", "error", err)
			stop()
			os.Exit(1)
		}
	case "layers":
		cfg, err := loadConfig(CLI.Config, nil, false)
		if err != nil {
			slog.Error("Failed to load configuration", "error", err)
			os.Exit(1)
		}
		if err := runLayers(os.Stdout, cfg, CLI.Layers.Year); err != nil {
			slog.Error("Layer listing failed", "error", err)
			os.Exit(1)
		}
	default:
		slog.Error("Unknown command", "command", kctx.Command())
		os.Exit(1)
	}
}
