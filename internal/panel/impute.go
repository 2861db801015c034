package panel

import (
	"context"
	"math"

	"gonum.org/v1/gonum/stat"

	"rxpanel/internal/errors"
)

// Rate pools for suppression-aware imputation
const (
	RatePolicyGlobal = "global"
	RatePolicyState  = "state"
)

// ImputationReport describes what one imputation pass did
type ImputationReport struct {
	Policy         string
	ObservedRows   int
	ImputedCells   int
	CeilingClipped int

	// Degenerate is set when no observed mortality rows exist to
	// estimate rates from. Suppressed cells are left empty.
	Degenerate bool

	GlobalRate float64
	StateRates map[string]float64
}

// impute fills suppressed mortality cells from the average observed
// rate. Each fill is round(rate * population / 100k), clipped to the
// configured ceiling, and marks the row as imputed. Rows are marked at
// most once; observed counts are never touched.
func (b *Builder) impute(ctx context.Context, p *Panel) (*ImputationReport, error) {
	if b.cfg.RatePolicy != RatePolicyGlobal && b.cfg.RatePolicy != RatePolicyState {
		return nil, errors.NewImputationError("unknown rate policy").
			WithContext("policy", b.cfg.RatePolicy)
	}

	report := &ImputationReport{
		Policy:     b.cfg.RatePolicy,
		StateRates: make(map[string]float64),
	}

	observed := make([]float64, 0, p.Len())
	byState := make(map[string][]float64)
	for _, obs := range p.Rows {
		if !obs.HasMortality() || obs.Population <= 0 {
			continue
		}
		rate := float64(*obs.Mortality) / float64(obs.Population) * RateScale
		observed = append(observed, rate)
		byState[obs.StateCode] = append(byState[obs.StateCode], rate)
	}
	report.ObservedRows = len(observed)

	if len(observed) == 0 {
		report.Degenerate = true
		b.logger.WarnContext(ctx, "no observed mortality rows, leaving suppressed cells empty",
			"policy", b.cfg.RatePolicy,
		)
		return report, nil
	}

	report.GlobalRate = stat.Mean(observed, nil)
	for state, rates := range byState {
		report.StateRates[state] = stat.Mean(rates, nil)
	}

	rateFor := func(state string) float64 {
		if b.cfg.RatePolicy == RatePolicyState {
			if rate, ok := report.StateRates[state]; ok {
				return rate
			}
			b.logger.DebugContext(ctx, "state has no observed rows, falling back to global rate",
				"state", state,
			)
		}
		return report.GlobalRate
	}

	for i := range p.Rows {
		obs := &p.Rows[i]
		if obs.HasMortality() {
			continue
		}

		fill := int(math.Round(rateFor(obs.StateCode) * float64(obs.Population) / RateScale))
		if fill < 0 {
			fill = 0
		}
		if b.cfg.ImputeCeiling > 0 && fill > b.cfg.ImputeCeiling {
			fill = b.cfg.ImputeCeiling
			report.CeilingClipped++
		}

		obs.Mortality = &fill
		obs.Imputed = true
		report.ImputedCells++
	}

	b.logger.InfoContext(ctx, "imputed suppressed mortality cells",
		"policy", b.cfg.RatePolicy,
		"observed_rows", report.ObservedRows,
		"imputed_cells", report.ImputedCells,
		"ceiling_clipped", report.CeilingClipped,
		"global_rate", report.GlobalRate,
	)
	return report, nil
}
