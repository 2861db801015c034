package regress

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"rxpanel/internal/infrastructure"
	"rxpanel/internal/panel"
)

// RunnerConfig carries the estimation settings
type RunnerConfig struct {
	Outcomes         []string
	ConfidenceLevel  float64
	MaxParallelCases int
}

// CaseRun bundles everything estimated for one policy case
type CaseRun struct {
	Case    panel.PolicyCase
	Cohort  *panel.Cohort
	Results []Result
}

// Runner estimates the full battery: per case, both specifications
// over every configured outcome. Cases are independent and run
// concurrently; a fit that cannot run becomes a failed result row,
// never an aborted batch.
type Runner struct {
	cfg    RunnerConfig
	logger *slog.Logger
}

// NewRunner creates a DiD runner
func NewRunner(cfg RunnerConfig, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxParallelCases < 1 {
		cfg.MaxParallelCases = 1
	}
	return &Runner{cfg: cfg, logger: logger}
}

// Run estimates every policy case against the panel
func (r *Runner) Run(ctx context.Context, p *panel.Panel, cases []panel.PolicyCase) ([]CaseRun, error) {
	start := time.Now()
	r.logger.InfoContext(ctx, "starting estimation",
		"cases", len(cases),
		"outcomes", len(r.cfg.Outcomes),
		"max_parallel", r.cfg.MaxParallelCases,
	)

	runs := make([]CaseRun, len(cases))
	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(r.cfg.MaxParallelCases)
	for i, pc := range cases {
		i, pc := i, pc
		eg.Go(func() error {
			cohort, err := panel.BuildCohort(p, pc)
			if err != nil {
				return err
			}
			runs[i] = CaseRun{
				Case:    pc,
				Cohort:  cohort,
				Results: r.RunCase(egCtx, cohort),
			}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	completed, failed := 0, 0
	for _, run := range runs {
		for _, res := range run.Results {
			if res.Failed() {
				failed++
			} else {
				completed++
			}
		}
	}
	r.logger.InfoContext(ctx, "estimation complete",
		"fits_completed", completed,
		"fit_failures", failed,
		"duration", time.Since(start),
	)
	return runs, nil
}

// RunCase estimates both specifications for every outcome on one
// cohort
func (r *Runner) RunCase(ctx context.Context, cohort *panel.Cohort) []Result {
	results := make([]Result, 0, 2*len(r.cfg.Outcomes))
	for _, outcome := range r.cfg.Outcomes {
		for _, spec := range []string{SpecLevels, SpecTrend} {
			results = append(results, r.runFit(ctx, cohort, outcome, spec))
		}
	}
	return results
}

func (r *Runner) runFit(ctx context.Context, cohort *panel.Cohort, outcome, spec string) Result {
	caseName := cohort.Case.Name

	ctx, span := infrastructure.StartStage(ctx, "fit")
	defer span.End()
	infrastructure.SetSpanAttributes(ctx, map[string]interface{}{
		"case":    caseName,
		"outcome": outcome,
		"spec":    spec,
	})

	design, err := BuildDesign(cohort, outcome, spec, false)
	if err != nil {
		infrastructure.RecordError(ctx, err)
		r.logger.WarnContext(ctx, "fit not possible",
			"case", caseName,
			"outcome", outcome,
			"spec", spec,
			"error", err,
		)
		return failedResult(caseName, outcome, spec, TargetFor(spec), err.Error())
	}

	fit, err := Estimate(design, r.cfg.ConfidenceLevel)
	if err != nil {
		infrastructure.RecordError(ctx, err)
		r.logger.WarnContext(ctx, "fit failed",
			"case", caseName,
			"outcome", outcome,
			"spec", spec,
			"error", err,
		)
		return failedResult(caseName, outcome, spec, design.Target, err.Error())
	}

	target, ok := fit.Coefficient(design.Target)
	if !ok {
		return failedResult(caseName, outcome, spec, design.Target, "coefficient of interest missing from design")
	}

	result := Result{
		CaseName:  caseName,
		Outcome:   outcome,
		Spec:      spec,
		Target:    target,
		NObs:      fit.NObs,
		NClusters: fit.NClusters,
		RSquared:  fit.RSquared,
	}
	if spec == SpecTrend {
		if shift, ok := fit.Coefficient(LabelPostTreated); ok {
			result.LevelShift = &shift
		}
	}

	r.logger.DebugContext(ctx, "fit complete",
		"case", caseName,
		"outcome", outcome,
		"spec", spec,
		"estimate", target.Estimate,
		"p_value", target.PValue,
		"n_obs", fit.NObs,
	)
	return result
}
