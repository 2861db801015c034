// Package robustness re-runs the headline levels estimate under the
// four sensitivity perturbations: an alternate comparison-state
// subset, population weighting, a placebo policy date on pre-period
// data, and border-county exclusion. Verdicts follow the published
// criteria: coefficient stability within a margin for the alternate
// controls, significance at 5% for the weighted and border fits, and
// a null result at 10% for the placebo.
package robustness

import (
	"context"
	"log/slog"
	"math"
	"time"

	"golang.org/x/sync/errgroup"

	"rxpanel/internal/errors"
	"rxpanel/internal/panel"
	"rxpanel/internal/regress"
)

// Check names, one per perturbation
const (
	CheckAltControls = "alternative_controls"
	CheckWeighted    = "population_weighted"
	CheckPlacebo     = "placebo"
	CheckBorder      = "border_exclusion"
)

// Verdict labels
const (
	VerdictConsistent   = "Consistent"
	VerdictSensitive    = "Sensitive"
	VerdictRobust       = "Robust"
	VerdictWeakened     = "Weakened"
	VerdictPasses       = "Passes"
	VerdictFails        = "Fails"
	VerdictInconclusive = "Inconclusive"
)

const (
	// defaultCoefMargin is the alternate-controls stability margin,
	// sized for the shipment-rate coefficient scale
	defaultCoefMargin = 2e6

	// significanceAlpha gates the Robust/Weakened verdicts
	significanceAlpha = 0.05

	// placeboPFloor is the minimum p-value for a passing placebo
	placeboPFloor = 0.10
)

// CaseCheck is the robustness battery configuration for one policy
// case. An empty alternate list, an empty border list, or a zero
// placebo year skips the corresponding check; the population-weighted
// check always runs.
type CaseCheck struct {
	Case                panel.PolicyCase
	AltComparisonStates []string
	PlaceboYear         int
	PlaceboMaxYear      int
	BorderFIPS          []string
	CoefMargin          float64
}

// CheckResult is one (case, check, outcome) row. The verdict is
// decided per check across all its outcomes and repeated on each of
// the check's rows. Failure records a perturbed fit that could not
// run; its statistics are NaN.
type CheckResult struct {
	CaseName string
	Check    string
	Outcome  string

	// Headline levels fit on the unperturbed cohort, for reference
	BaselineEstimate float64
	BaselinePValue   float64

	Estimate float64
	PValue   float64
	Delta    float64

	Verdict string
	Failure string
}

// RunnerConfig carries the estimation settings shared by every check
type RunnerConfig struct {
	Outcomes         []string
	ConfidenceLevel  float64
	MaxParallelCases int
}

// Runner executes the check battery. Cases are independent and run
// concurrently; a perturbed fit that cannot run keeps its result row
// with the failure reason and makes the check Inconclusive.
type Runner struct {
	cfg    RunnerConfig
	logger *slog.Logger
}

// NewRunner creates a robustness runner
func NewRunner(cfg RunnerConfig, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxParallelCases < 1 {
		cfg.MaxParallelCases = 1
	}
	return &Runner{cfg: cfg, logger: logger}
}

// Run executes the battery for every case and returns the flattened
// rows in case order
func (r *Runner) Run(ctx context.Context, p *panel.Panel, cases []CaseCheck) ([]CheckResult, error) {
	start := time.Now()
	r.logger.InfoContext(ctx, "starting robustness checks",
		"cases", len(cases),
		"outcomes", len(r.cfg.Outcomes),
	)

	perCase := make([][]CheckResult, len(cases))
	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(r.cfg.MaxParallelCases)
	for i, cc := range cases {
		i, cc := i, cc
		eg.Go(func() error {
			rows, err := r.RunCase(egCtx, p, cc)
			if err != nil {
				return err
			}
			perCase[i] = rows
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	var results []CheckResult
	for _, rows := range perCase {
		results = append(results, rows...)
	}
	r.logger.InfoContext(ctx, "robustness checks complete",
		"rows", len(results),
		"duration", time.Since(start),
	)
	return results, nil
}

// RunCase executes the configured checks for one case
func (r *Runner) RunCase(ctx context.Context, p *panel.Panel, cc CaseCheck) ([]CheckResult, error) {
	cohort, err := panel.BuildCohort(p, cc.Case)
	if err != nil {
		return nil, err
	}

	baselines := r.baselineFits(ctx, cohort)

	var results []CheckResult
	if rows := r.checkAltControls(ctx, p, cc, baselines); rows != nil {
		results = append(results, rows...)
	}
	results = append(results, r.checkWeighted(ctx, cohort, baselines)...)
	if rows := r.checkPlacebo(ctx, p, cc, baselines); rows != nil {
		results = append(results, rows...)
	}
	if rows := r.checkBorder(ctx, cohort, cc, baselines); rows != nil {
		results = append(results, rows...)
	}
	return results, nil
}

// fitStat is one levels fit reduced to the target coefficient
type fitStat struct {
	coef regress.Coefficient
	err  error
}

// fitLevels runs the levels specification on a cohort and extracts
// the treatment interaction
func (r *Runner) fitLevels(cohort *panel.Cohort, outcome string, weighted bool) fitStat {
	design, err := regress.BuildDesign(cohort, outcome, regress.SpecLevels, weighted)
	if err != nil {
		return fitStat{err: err}
	}
	fit, err := regress.Estimate(design, r.cfg.ConfidenceLevel)
	if err != nil {
		return fitStat{err: err}
	}
	coef, ok := fit.Coefficient(design.Target)
	if !ok {
		return fitStat{err: errors.NewModelFitError("coefficient of interest missing from design", nil)}
	}
	return fitStat{coef: coef}
}

// baselineFits estimates the headline unweighted levels fit per
// outcome on the unperturbed cohort
func (r *Runner) baselineFits(ctx context.Context, cohort *panel.Cohort) map[string]fitStat {
	baselines := make(map[string]fitStat, len(r.cfg.Outcomes))
	for _, outcome := range r.cfg.Outcomes {
		fs := r.fitLevels(cohort, outcome, false)
		if fs.err != nil {
			r.logger.WarnContext(ctx, "baseline fit failed",
				"case", cohort.Case.Name,
				"outcome", outcome,
				"error", fs.err,
			)
		}
		baselines[outcome] = fs
	}
	return baselines
}

// checkAltControls re-estimates against the alternate comparison-state
// subset and compares coefficients to the headline fit
func (r *Runner) checkAltControls(ctx context.Context, p *panel.Panel, cc CaseCheck, baselines map[string]fitStat) []CheckResult {
	if len(cc.AltComparisonStates) == 0 {
		r.logger.DebugContext(ctx, "check skipped, not configured",
			"case", cc.Case.Name, "check", CheckAltControls)
		return nil
	}

	altCase := cc.Case
	altCase.ComparisonStates = cc.AltComparisonStates
	altCohort, err := panel.BuildCohort(p, altCase)
	if err != nil {
		return r.failedCheck(ctx, cc.Case.Name, CheckAltControls, baselines, err)
	}

	margin := cc.CoefMargin
	if margin <= 0 {
		margin = defaultCoefMargin
	}

	rows, stats, allFit := r.perturbedRows(cc.Case.Name, CheckAltControls, baselines, func(outcome string) fitStat {
		return r.fitLevels(altCohort, outcome, false)
	})

	verdict := VerdictInconclusive
	if allFit {
		verdict = VerdictConsistent
		for _, fs := range stats {
			base := baselines[fs.outcome]
			if base.err != nil {
				verdict = VerdictInconclusive
				break
			}
			if math.Abs(fs.coef.Estimate-base.coef.Estimate) >= margin {
				verdict = VerdictSensitive
			}
		}
	}
	return stamped(rows, verdict)
}

// checkWeighted re-estimates with population weights on the same
// cohort
func (r *Runner) checkWeighted(ctx context.Context, cohort *panel.Cohort, baselines map[string]fitStat) []CheckResult {
	rows, stats, allFit := r.perturbedRows(cohort.Case.Name, CheckWeighted, baselines, func(outcome string) fitStat {
		return r.fitLevels(cohort, outcome, true)
	})

	verdict := VerdictInconclusive
	if allFit {
		verdict = VerdictRobust
		for _, fs := range stats {
			if fs.coef.PValue >= significanceAlpha {
				verdict = VerdictWeakened
			}
		}
	}
	return stamped(rows, verdict)
}

// checkPlacebo restricts the cohort to pre-period years and estimates
// against a fictitious earlier policy year; a real policy should show
// no effect there
func (r *Runner) checkPlacebo(ctx context.Context, p *panel.Panel, cc CaseCheck, baselines map[string]fitStat) []CheckResult {
	if cc.PlaceboYear == 0 || cc.PlaceboMaxYear == 0 {
		r.logger.DebugContext(ctx, "check skipped, not configured",
			"case", cc.Case.Name, "check", CheckPlacebo)
		return nil
	}

	placeboCase := cc.Case
	placeboCase.PolicyYear = cc.PlaceboYear
	cohort, err := panel.BuildCohort(p, placeboCase)
	if err != nil {
		return r.failedCheck(ctx, cc.Case.Name, CheckPlacebo, baselines, err)
	}
	cohort = filterCohort(cohort, func(row panel.CohortRow) bool {
		return row.Year <= cc.PlaceboMaxYear
	})

	rows, stats, allFit := r.perturbedRows(cc.Case.Name, CheckPlacebo, baselines, func(outcome string) fitStat {
		return r.fitLevels(cohort, outcome, false)
	})

	verdict := VerdictInconclusive
	if allFit {
		verdict = VerdictPasses
		for _, fs := range stats {
			if fs.coef.PValue <= placeboPFloor {
				verdict = VerdictFails
			}
		}
	}
	return stamped(rows, verdict)
}

// checkBorder drops the configured border counties and re-estimates,
// testing for cross-border spillover
func (r *Runner) checkBorder(ctx context.Context, cohort *panel.Cohort, cc CaseCheck, baselines map[string]fitStat) []CheckResult {
	if len(cc.BorderFIPS) == 0 {
		r.logger.DebugContext(ctx, "check skipped, not configured",
			"case", cc.Case.Name, "check", CheckBorder)
		return nil
	}

	excluded := make(map[string]bool, len(cc.BorderFIPS))
	for _, fips := range cc.BorderFIPS {
		excluded[fips] = true
	}
	trimmed := filterCohort(cohort, func(row panel.CohortRow) bool {
		return !excluded[row.CountyCode]
	})

	rows, stats, allFit := r.perturbedRows(cc.Case.Name, CheckBorder, baselines, func(outcome string) fitStat {
		return r.fitLevels(trimmed, outcome, false)
	})

	verdict := VerdictInconclusive
	if allFit {
		verdict = VerdictRobust
		for _, fs := range stats {
			if fs.coef.PValue >= significanceAlpha {
				verdict = VerdictWeakened
			}
		}
	}
	return stamped(rows, verdict)
}

// outcomeStat pairs an outcome with its perturbed fit
type outcomeStat struct {
	outcome string
	coef    regress.Coefficient
}

// perturbedRows runs the perturbed fit per outcome and assembles the
// result rows, leaving the verdict blank for the caller. The returned
// stats hold only the fits that succeeded; allFit reports whether
// every outcome fit.
func (r *Runner) perturbedRows(caseName, check string, baselines map[string]fitStat, fit func(outcome string) fitStat) ([]CheckResult, []outcomeStat, bool) {
	rows := make([]CheckResult, 0, len(r.cfg.Outcomes))
	stats := make([]outcomeStat, 0, len(r.cfg.Outcomes))
	allFit := true

	for _, outcome := range r.cfg.Outcomes {
		row := CheckResult{
			CaseName:         caseName,
			Check:            check,
			Outcome:          outcome,
			BaselineEstimate: math.NaN(),
			BaselinePValue:   math.NaN(),
			Estimate:         math.NaN(),
			PValue:           math.NaN(),
			Delta:            math.NaN(),
		}
		if base, ok := baselines[outcome]; ok && base.err == nil {
			row.BaselineEstimate = base.coef.Estimate
			row.BaselinePValue = base.coef.PValue
		}

		fs := fit(outcome)
		if fs.err != nil {
			allFit = false
			row.Failure = fs.err.Error()
		} else {
			row.Estimate = fs.coef.Estimate
			row.PValue = fs.coef.PValue
			row.Delta = fs.coef.Estimate - row.BaselineEstimate
			stats = append(stats, outcomeStat{outcome: outcome, coef: fs.coef})
		}
		rows = append(rows, row)
	}
	return rows, stats, allFit
}

// failedCheck emits the check's rows when the perturbation itself
// could not be constructed
func (r *Runner) failedCheck(ctx context.Context, caseName, check string, baselines map[string]fitStat, err error) []CheckResult {
	r.logger.WarnContext(ctx, "check not possible",
		"case", caseName,
		"check", check,
		"error", err,
	)
	rows, _, _ := r.perturbedRows(caseName, check, baselines, func(string) fitStat {
		return fitStat{err: err}
	})
	return stamped(rows, VerdictInconclusive)
}

// stamped sets the shared verdict on every row of a check
func stamped(rows []CheckResult, verdict string) []CheckResult {
	for i := range rows {
		rows[i].Verdict = verdict
	}
	return rows
}

// filterCohort keeps the rows passing the predicate; the case and row
// clones are shared with the source
func filterCohort(c *panel.Cohort, keep func(panel.CohortRow) bool) *panel.Cohort {
	kept := make([]panel.CohortRow, 0, len(c.Rows))
	for _, row := range c.Rows {
		if keep(row) {
			kept = append(kept, row)
		}
	}
	return &panel.Cohort{Case: c.Case, Rows: kept}
}
