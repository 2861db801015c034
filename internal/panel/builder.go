// Package panel assembles the county-year observation panel from the
// raw population, mortality, and shipment extracts. The builder merges
// the sources onto the population grid, screens counties for
// suppression quality, optionally fills suppressed mortality cells,
// and derives per-capita rates.
package panel

import (
	"context"
	"log/slog"
	"time"
)

// BuildConfig carries the pipeline knobs for one panel build
type BuildConfig struct {
	// YearMin and YearMax bound the study window, inclusive
	YearMin int
	YearMax int

	// PopulationCutoff drops counties whose median population falls
	// below it. Zero disables the screen.
	PopulationCutoff int

	// SuppressionCutoff drops counties whose share of missing
	// mortality years exceeds it. Zero disables the screen.
	SuppressionCutoff float64

	// Impute enables suppression-aware filling of missing mortality
	// counts
	Impute bool

	// ImputeCeiling caps every filled count; suppressed cells are
	// known to sit below the publication threshold
	ImputeCeiling int

	// RatePolicy selects the imputation rate pool, "global" or "state"
	RatePolicy string
}

// BuildResult is the outcome of one panel build
type BuildResult struct {
	Panel      *Panel
	Summaries  []CountySummary
	Imputation *ImputationReport

	CountiesKept    int
	CountiesDropped int
	Duration        time.Duration
}

// Builder runs the merge, filter, impute, and derive stages in order
type Builder struct {
	cfg    BuildConfig
	logger *slog.Logger
}

// NewBuilder creates a panel builder
func NewBuilder(cfg BuildConfig, logger *slog.Logger) *Builder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Builder{cfg: cfg, logger: logger}
}

// Build assembles the panel from the loaded sources
func (b *Builder) Build(ctx context.Context, src *Sources) (*BuildResult, error) {
	start := time.Now()
	b.logger.InfoContext(ctx, "starting panel build",
		"year_min", b.cfg.YearMin,
		"year_max", b.cfg.YearMax,
		"population_cutoff", b.cfg.PopulationCutoff,
		"suppression_cutoff", b.cfg.SuppressionCutoff,
		"impute", b.cfg.Impute,
	)

	merged, err := b.merge(ctx, src)
	if err != nil {
		return nil, err
	}

	filtered, summaries, err := b.filter(ctx, merged)
	if err != nil {
		return nil, err
	}

	var report *ImputationReport
	if b.cfg.Impute {
		report, err = b.impute(ctx, filtered)
		if err != nil {
			return nil, err
		}
	}

	b.derive(filtered)

	kept, dropped := 0, 0
	for _, s := range summaries {
		if s.Kept {
			kept++
		} else {
			dropped++
		}
	}

	result := &BuildResult{
		Panel:           filtered,
		Summaries:       summaries,
		Imputation:      report,
		CountiesKept:    kept,
		CountiesDropped: dropped,
		Duration:        time.Since(start),
	}

	b.logger.InfoContext(ctx, "panel build complete",
		"rows", filtered.Len(),
		"counties_kept", kept,
		"counties_dropped", dropped,
		"duration", result.Duration,
	)
	return result, nil
}
