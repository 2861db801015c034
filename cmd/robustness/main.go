// Command robustness re-runs the headline estimates under the
// configured sensitivity checks and writes the combined verdict table.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"rxpanel/internal/config"
	"rxpanel/internal/infrastructure"
	"rxpanel/internal/panel"
	"rxpanel/internal/robustness"
)

func main() {
	configFile := flag.String("config", "", "path to rxpanel.yaml (defaults to the standard search locations)")
	panelPath := flag.String("panel", "", "override the panel artifact path")
	caseName := flag.String("case", "", "check a single named case instead of all configured cases")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
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

	caseConfigs := cfg.Cases
	if *caseName != "" {
		cc, err := cfg.CaseByName(*caseName)
		if err != nil {
			logger.ErrorContext(ctx, "unknown case", "error", err, "case", *caseName)
			os.Exit(1)
		}
		caseConfigs = []config.CaseConfig{*cc}
	}

	started := time.Now()
	metrics := infrastructure.NewPipelineMetrics()

	loadCtx, loadSpan := infrastructure.StartStage(ctx, "load_panel")
	p, err := loadPanel(loadCtx, cfg, *panelPath)
	if err != nil {
		infrastructure.RecordError(loadCtx, err)
		loadSpan.End()
		logger.ErrorContext(ctx, "failed to load panel artifact", "error", err,
			"hint", "run panelbuild first or pass -panel")
		os.Exit(1)
	}
	loadSpan.End()

	checks := make([]robustness.CaseCheck, len(caseConfigs))
	for i, cc := range caseConfigs {
		checks[i] = caseCheck(cc)
	}

	runner := robustness.NewRunner(robustness.RunnerConfig{
		Outcomes:         cfg.Estimation.Outcomes,
		ConfidenceLevel:  cfg.Estimation.ConfidenceLevel,
		MaxParallelCases: cfg.Estimation.MaxParallelCases,
	}, logger)

	checkCtx, checkSpan := infrastructure.StartStage(ctx, "robustness_checks")
	results, err := runner.Run(checkCtx, p, checks)
	if err != nil {
		infrastructure.RecordError(checkCtx, err)
		checkSpan.End()
		logger.ErrorContext(ctx, "robustness checks failed", "error", err)
		os.Exit(1)
	}
	checkSpan.End()

	resultsPath := cfg.OutputPath("robustness_checks.csv")
	if err := robustness.SaveChecksCSV(results, resultsPath); err != nil {
		logger.ErrorContext(ctx, "failed to write checks table", "error", err)
		os.Exit(1)
	}

	var completed, failed int
	for _, res := range results {
		if res.Failure != "" {
			failed++
		} else {
			completed++
		}
	}

	metrics.PanelRows.Set(float64(p.Len()))
	metrics.FitsCompleted.Set(float64(completed))
	metrics.FitFailures.Set(float64(failed))
	if err := metrics.WriteTextfile(metricsPath(cfg), started); err != nil {
		logger.WarnContext(ctx, "failed to write metrics textfile", "error", err)
	}

	logger.InfoContext(ctx, "robustness checks complete",
		"cases", len(checks),
		"rows", len(results),
		"fit_failures", failed,
		"results_file", resultsPath,
	)
}

// caseCheck maps a configured case and its robustness block onto the
// check battery input
func caseCheck(cc config.CaseConfig) robustness.CaseCheck {
	return robustness.CaseCheck{
		Case: panel.PolicyCase{
			Name:             cc.Name,
			PolicyState:      cc.PolicyState,
			PolicyYear:       cc.PolicyYear,
			ComparisonStates: cc.ComparisonStates,
		},
		AltComparisonStates: cc.Robustness.AltComparisonStates,
		PlaceboYear:         cc.Robustness.PlaceboYear,
		PlaceboMaxYear:      cc.Robustness.PlaceboMaxYear,
		BorderFIPS:          cc.Robustness.BorderFIPS,
		CoefMargin:          cc.Robustness.CoefMargin,
	}
}

// loadPanel reads the artifact written by panelbuild. The format
// follows the file extension so a -panel override can point at either
// artifact regardless of the configured default.
func loadPanel(ctx context.Context, cfg *config.Config, override string) (*panel.Panel, error) {
	path := override
	if path == "" {
		if cfg.Output.PanelFormat == "sqlite" {
			path = cfg.OutputPath("panel.db")
		} else {
			path = cfg.OutputPath("panel.csv")
		}
	}

	if filepath.Ext(path) == ".db" {
		store, err := panel.OpenStore(path)
		if err != nil {
			return nil, err
		}
		defer store.Close()
		return store.LoadPanel(ctx)
	}
	return panel.LoadPanelCSV(path)
}

// metricsPath places this command's textfile next to the configured
// one so the commands never clobber each other's gauges
func metricsPath(cfg *config.Config) string {
	base := cfg.MetricsPath()
	if base == "" {
		return ""
	}
	return filepath.Join(filepath.Dir(base), "robustness_metrics.prom")
}
