package panel

import (
	"context"
	"sort"

	"gonum.org/v1/gonum/stat"

	"rxpanel/internal/errors"
)

// filter screens counties on data quality. A county is dropped when
// its median population falls below the cutoff or when too large a
// share of its mortality years is suppressed. A zero cutoff disables
// the corresponding screen.
func (b *Builder) filter(ctx context.Context, p *Panel) (*Panel, []CountySummary, error) {
	byCounty := p.ByCounty()
	counties := p.Counties()

	summaries := make([]CountySummary, 0, len(counties))
	kept := make(map[string]bool, len(counties))
	for _, county := range counties {
		idxs := byCounty[county]

		populations := make([]float64, 0, len(idxs))
		missing := 0
		state := ""
		for _, i := range idxs {
			obs := p.Rows[i]
			populations = append(populations, float64(obs.Population))
			if !obs.HasMortality() {
				missing++
			}
			state = obs.StateCode
		}
		sort.Float64s(populations)

		summary := CountySummary{
			CountyCode:      county,
			StateCode:       state,
			Years:           len(idxs),
			MissingYears:    missing,
			SuppressionRate: float64(missing) / float64(len(idxs)),
			MedianPop:       stat.Quantile(0.5, stat.LinInterp, populations, nil),
		}

		summary.Kept = true
		if b.cfg.PopulationCutoff > 0 && summary.MedianPop < float64(b.cfg.PopulationCutoff) {
			summary.Kept = false
		}
		if b.cfg.SuppressionCutoff > 0 && summary.SuppressionRate > b.cfg.SuppressionCutoff {
			summary.Kept = false
		}

		if summary.Kept {
			kept[county] = true
		} else {
			b.logger.DebugContext(ctx, "dropping county",
				"county", county,
				"median_population", summary.MedianPop,
				"suppression_rate", summary.SuppressionRate,
			)
		}
		summaries = append(summaries, summary)
	}

	if len(kept) == 0 {
		return nil, nil, errors.NewInputError("no counties survive the quality screen", nil).
			WithContext("population_cutoff", b.cfg.PopulationCutoff).
			WithContext("suppression_cutoff", b.cfg.SuppressionCutoff)
	}

	rows := make([]Observation, 0, p.Len())
	for _, obs := range p.Rows {
		if kept[obs.CountyCode] {
			rows = append(rows, obs)
		}
	}

	b.logger.InfoContext(ctx, "screened counties",
		"kept", len(kept),
		"dropped", len(counties)-len(kept),
	)
	return NewPanel(rows), summaries, nil
}
