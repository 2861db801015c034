// Package regress estimates the difference-in-differences models on
// policy-case cohorts: explicit design matrices, least squares via
// SVD, and cluster-robust inference grouped by county.
package regress

import "math"

// Model specifications
const (
	SpecLevels = "levels"
	SpecTrend  = "trend"
)

// Column labels for the regressors of interest. The estimator
// addresses coefficients by these labels, never by position.
const (
	LabelTrend            = "t"
	LabelTrendTreated     = "t_treated"
	LabelPost             = "post"
	LabelPostTreated      = "post_treated"
	LabelPostTrend        = "post_t"
	LabelPostTrendTreated = "post_t_treated"
)

// Coefficient is one estimated coefficient with its cluster-robust
// inference
type Coefficient struct {
	Label    string
	Estimate float64
	StdErr   float64
	TStat    float64
	PValue   float64
	CILow    float64
	CIHigh   float64
}

// Result is one (case, outcome, spec) estimation row. When Failure is
// set the numeric fields are NaN and the row records why the fit was
// not possible.
type Result struct {
	CaseName string
	Outcome  string
	Spec     string

	// Target is the coefficient of interest: post_treated for the
	// levels spec, post_t_treated for the trend spec
	Target Coefficient

	// LevelShift carries the post_treated coefficient of the trend
	// spec; nil for the levels spec
	LevelShift *Coefficient

	NObs      int
	NClusters int
	RSquared  float64

	Failure string
}

// Failed reports whether this row records a fit failure
func (r *Result) Failed() bool {
	return r.Failure != ""
}

// failedResult builds the NaN row for a fit that could not run
func failedResult(caseName, outcome, spec, target, reason string) Result {
	return Result{
		CaseName: caseName,
		Outcome:  outcome,
		Spec:     spec,
		Target:   nanCoefficient(target),
		NObs:     0,
		RSquared: math.NaN(),
		Failure:  reason,
	}
}

func nanCoefficient(label string) Coefficient {
	nan := math.NaN()
	return Coefficient{
		Label:    label,
		Estimate: nan,
		StdErr:   nan,
		TStat:    nan,
		PValue:   nan,
		CILow:    nan,
		CIHigh:   nan,
	}
}
