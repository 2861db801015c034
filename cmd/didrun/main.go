// Command didrun estimates the difference-in-differences battery for
// every configured policy case against the assembled panel. It writes
// a cohort extract and descriptive summaries per case plus the
// combined results table.
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
	"rxpanel/internal/regress"
)

func main() {
	configFile := flag.String("config", "", "path to rxpanel.yaml (defaults to the standard search locations)")
	panelPath := flag.String("panel", "", "override the panel artifact path")
	caseName := flag.String("case", "", "run a single named case instead of all configured cases")
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

	logger.InfoContext(ctx, "panel loaded",
		"rows", p.Len(),
		"counties", len(p.Counties()),
		"cases", len(caseConfigs),
	)

	cases := make([]panel.PolicyCase, len(caseConfigs))
	for i, cc := range caseConfigs {
		cases[i] = policyCase(cc)
	}

	runner := regress.NewRunner(regress.RunnerConfig{
		Outcomes:         cfg.Estimation.Outcomes,
		ConfidenceLevel:  cfg.Estimation.ConfidenceLevel,
		MaxParallelCases: cfg.Estimation.MaxParallelCases,
	}, logger)

	estCtx, estSpan := infrastructure.StartStage(ctx, "estimate")
	runs, err := runner.Run(estCtx, p, cases)
	if err != nil {
		infrastructure.RecordError(estCtx, err)
		estSpan.End()
		logger.ErrorContext(ctx, "estimation failed", "error", err)
		os.Exit(1)
	}
	estSpan.End()

	var results []regress.Result
	var completed, failed int
	for _, run := range runs {
		name := run.Case.Name
		if err := panel.SaveCohortCSV(run.Cohort, cfg.OutputPath(name+"_cohort.csv")); err != nil {
			logger.ErrorContext(ctx, "failed to write cohort extract", "error", err, "case", name)
			os.Exit(1)
		}

		stats := panel.SummarizeStateYears(run.Cohort, cfg.Estimation.Outcomes, cfg.Estimation.ConfidenceLevel)
		if err := panel.SaveStateYearCSV(stats, cfg.OutputPath(name+"_state_year.csv")); err != nil {
			logger.ErrorContext(ctx, "failed to write state-year summary", "error", err, "case", name)
			os.Exit(1)
		}

		means := panel.SummarizePrePost(run.Cohort, cfg.Estimation.Outcomes)
		if err := panel.SavePrePostCSV(means, cfg.OutputPath(name+"_prepost_means.csv")); err != nil {
			logger.ErrorContext(ctx, "failed to write pre/post summary", "error", err, "case", name)
			os.Exit(1)
		}

		for _, res := range run.Results {
			if res.Failed() {
				failed++
			} else {
				completed++
			}
		}
		results = append(results, run.Results...)
	}

	resultsPath := cfg.OutputPath("did_results.csv")
	if err := regress.SaveResultsCSV(results, resultsPath); err != nil {
		logger.ErrorContext(ctx, "failed to write results table", "error", err)
		os.Exit(1)
	}

	metrics.PanelRows.Set(float64(p.Len()))
	metrics.FitsCompleted.Set(float64(completed))
	metrics.FitFailures.Set(float64(failed))
	if err := metrics.WriteTextfile(metricsPath(cfg), started); err != nil {
		logger.WarnContext(ctx, "failed to write metrics textfile", "error", err)
	}

	logger.InfoContext(ctx, "estimation complete",
		"cases", len(runs),
		"fits_completed", completed,
		"fit_failures", failed,
		"results_file", resultsPath,
	)
}

// policyCase maps a configured case onto the estimation type
func policyCase(cc config.CaseConfig) panel.PolicyCase {
	return panel.PolicyCase{
		Name:             cc.Name,
		PolicyState:      cc.PolicyState,
		PolicyYear:       cc.PolicyYear,
		ComparisonStates: cc.ComparisonStates,
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
	return filepath.Join(filepath.Dir(base), "didrun_metrics.prom")
}
