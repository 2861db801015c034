// Command panelbuild assembles the county-year analysis panel from the
// raw population, mortality, and shipment extracts and writes the
// artifact the estimation commands consume.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"time"

	"rxpanel/internal/config"
	"rxpanel/internal/infrastructure"
	"rxpanel/internal/panel"
	"rxpanel/internal/validation"
)

func main() {
	configFile := flag.String("config", "", "path to rxpanel.yaml (defaults to the standard search locations)")
	populationFile := flag.String("population", "", "override the population input file")
	mortalityFile := flag.String("mortality", "", "override the mortality input file")
	shipmentsFile := flag.String("shipments", "", "override the shipments input file")
	outDir := flag.String("out", "", "override the output directory")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	if *populationFile != "" {
		cfg.Inputs.PopulationFile = *populationFile
	}
	if *mortalityFile != "" {
		cfg.Inputs.MortalityFile = *mortalityFile
	}
	if *shipmentsFile != "" {
		cfg.Inputs.ShipmentsFile = *shipmentsFile
	}
	if *outDir != "" {
		cfg.Output.Dir = *outDir
	}

	logger, err := infrastructure.InitializeLogger(cfg.Logging)
	if err != nil {
		slog.Error("failed to initialize logger", "error", err)
		os.Exit(1)
	}
	defer infrastructure.CloseLogFile()

	ctx := infrastructure.EnsureRunID(context.Background())

	providers, err := infrastructure.InitializeTracing(cfg.Tracing, logger)
	if err != nil {
		logger.ErrorContext(ctx, "failed to initialize tracing", "error", err)
		os.Exit(1)
	}
	defer providers.Shutdown(context.Background())

	if err := cfg.EnsureOutputDir(); err != nil {
		logger.ErrorContext(ctx, "failed to create output directory", "error", err)
		os.Exit(1)
	}

	started := time.Now()
	metrics := infrastructure.NewPipelineMetrics()

	logger.InfoContext(ctx, "starting panel build",
		"population_file", cfg.Inputs.PopulationFile,
		"mortality_file", cfg.Inputs.MortalityFile,
		"shipments_file", cfg.Inputs.ShipmentsFile,
		"year_min", cfg.Pipeline.YearMin,
		"year_max", cfg.Pipeline.YearMax,
	)

	validator := validation.NewFileValidator(logger)
	if err := validator.ValidateInputs(
		cfg.Inputs.PopulationFile,
		cfg.Inputs.MortalityFile,
		cfg.Inputs.ShipmentsFile,
	); err != nil {
		logger.ErrorContext(ctx, "input validation failed", "error", err)
		os.Exit(1)
	}

	loadCtx, loadSpan := infrastructure.StartStage(ctx, "load_sources")
	sources, err := panel.NewLoader(logger).Load(loadCtx,
		cfg.Inputs.PopulationFile,
		cfg.Inputs.MortalityFile,
		cfg.Inputs.ShipmentsFile,
	)
	if err != nil {
		infrastructure.RecordError(loadCtx, err)
		loadSpan.End()
		logger.ErrorContext(ctx, "failed to load input files", "error", err)
		os.Exit(1)
	}
	loadSpan.End()

	builder := panel.NewBuilder(panel.BuildConfig{
		YearMin:           cfg.Pipeline.YearMin,
		YearMax:           cfg.Pipeline.YearMax,
		PopulationCutoff:  int(cfg.Pipeline.PopulationCutoff),
		SuppressionCutoff: cfg.Pipeline.SuppressionCutoff,
		Impute:            cfg.Pipeline.Impute,
		ImputeCeiling:     cfg.Pipeline.ImputeCeiling,
		RatePolicy:        cfg.Pipeline.RatePolicy,
	}, logger)

	buildCtx, buildSpan := infrastructure.StartStage(ctx, "build_panel")
	result, err := builder.Build(buildCtx, sources)
	if err != nil {
		infrastructure.RecordError(buildCtx, err)
		buildSpan.End()
		logger.ErrorContext(ctx, "panel build failed", "error", err)
		os.Exit(1)
	}
	buildSpan.End()

	if err := writePanel(ctx, cfg, result.Panel, logger); err != nil {
		logger.ErrorContext(ctx, "failed to write panel artifact", "error", err)
		os.Exit(1)
	}

	metrics.PanelRows.Set(float64(result.Panel.Len()))
	metrics.PanelCounties.Set(float64(result.CountiesKept))
	metrics.CountiesDropped.Set(float64(result.CountiesDropped))
	if result.Imputation != nil {
		metrics.CellsImputed.Set(float64(result.Imputation.ImputedCells))
		if result.Imputation.Degenerate {
			metrics.ImputationDegenerate.Set(1)
		}
	}
	if err := metrics.WriteTextfile(cfg.MetricsPath(), started); err != nil {
		logger.WarnContext(ctx, "failed to write metrics textfile",
			"error", err,
			"path", cfg.MetricsPath(),
		)
	}

	logger.InfoContext(ctx, "panel build complete",
		"rows", result.Panel.Len(),
		"counties_kept", result.CountiesKept,
		"counties_dropped", result.CountiesDropped,
		"duration", result.Duration.String(),
	)
}

// writePanel persists the panel in the configured artifact format
func writePanel(ctx context.Context, cfg *config.Config, p *panel.Panel, logger *slog.Logger) error {
	if cfg.Output.PanelFormat == "sqlite" {
		path := cfg.OutputPath("panel.db")
		store, err := panel.OpenStore(path)
		if err != nil {
			return err
		}
		defer store.Close()

		meta := map[string]string{
			"run_id":          infrastructure.GetRunID(ctx),
			"population_file": cfg.Inputs.PopulationFile,
			"mortality_file":  cfg.Inputs.MortalityFile,
			"shipments_file":  cfg.Inputs.ShipmentsFile,
		}
		if err := store.SavePanel(ctx, p, meta); err != nil {
			return err
		}
		logger.InfoContext(ctx, "panel written", "path", path, "format", "sqlite")
		return nil
	}

	path := cfg.OutputPath("panel.csv")
	if err := panel.SavePanelCSV(p, path); err != nil {
		return err
	}
	logger.InfoContext(ctx, "panel written", "path", path, "format", "csv")
	return nil
}
