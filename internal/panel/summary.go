package panel

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"
)

// Group and period labels used in the pre/post means table
const (
	GroupPolicy  = "policy"
	GroupControl = "control"
	PeriodPre    = "pre"
	PeriodPost   = "post"
)

// StateYearStat is one row of the state-year summary table: the
// distribution of one outcome across a state's counties in one year,
// plus the state-year aggregates. These tables feed the downstream
// plotting scripts.
type StateYearStat struct {
	StateCode string
	Year      int
	Treated   bool
	Outcome   string

	N      int
	Mean   *float64
	SE     *float64
	CILow  *float64
	CIHigh *float64

	TotalDeaths     int
	TotalPopulation int
	AggregateRate   *float64
}

// PrePostMean is one cell of the group-means table: policy or control
// counties, before or after the policy year
type PrePostMean struct {
	Group   string
	Period  string
	Outcome string
	N       int
	Mean    *float64
}

// SummarizeStateYears computes per-(state, year, outcome) means with
// confidence bands, along with state-year death and population totals
func SummarizeStateYears(c *Cohort, outcomes []string, confidenceLevel float64) []StateYearStat {
	type cellKey struct {
		state string
		year  int
	}
	type cellAgg struct {
		treated    bool
		deaths     int
		population int
		values     map[string][]float64
	}

	cells := make(map[cellKey]*cellAgg)
	for _, row := range c.Rows {
		k := cellKey{row.StateCode, row.Year}
		agg, ok := cells[k]
		if !ok {
			agg = &cellAgg{treated: row.Treated, values: make(map[string][]float64)}
			cells[k] = agg
		}
		if row.Mortality != nil {
			agg.deaths += *row.Mortality
		}
		agg.population += row.Population
		for _, outcome := range outcomes {
			if v, ok := row.Outcome(outcome); ok {
				agg.values[outcome] = append(agg.values[outcome], v)
			}
		}
	}

	z := distuv.Normal{Mu: 0, Sigma: 1}.Quantile(0.5 + confidenceLevel/2)

	out := make([]StateYearStat, 0, len(cells)*len(outcomes))
	for k, agg := range cells {
		var aggregateRate *float64
		if agg.population > 0 {
			r := float64(agg.deaths) / float64(agg.population) * RateScale
			aggregateRate = &r
		}

		for _, outcome := range outcomes {
			row := StateYearStat{
				StateCode:       k.state,
				Year:            k.year,
				Treated:         agg.treated,
				Outcome:         outcome,
				TotalDeaths:     agg.deaths,
				TotalPopulation: agg.population,
				AggregateRate:   aggregateRate,
			}

			values := agg.values[outcome]
			row.N = len(values)
			if len(values) > 0 {
				mean := stat.Mean(values, nil)
				row.Mean = &mean
			}
			if len(values) > 1 {
				se := stat.StdDev(values, nil) / math.Sqrt(float64(len(values)))
				low := *row.Mean - z*se
				high := *row.Mean + z*se
				row.SE = &se
				row.CILow = &low
				row.CIHigh = &high
			}
			out = append(out, row)
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].StateCode != out[j].StateCode {
			return out[i].StateCode < out[j].StateCode
		}
		if out[i].Year != out[j].Year {
			return out[i].Year < out[j].Year
		}
		return out[i].Outcome < out[j].Outcome
	})
	return out
}

// SummarizePrePost computes the four group means per outcome: policy
// and control counties, before and after the policy year
func SummarizePrePost(c *Cohort, outcomes []string) []PrePostMean {
	type groupKey struct {
		treated bool
		pre     bool
		outcome string
	}

	values := make(map[groupKey][]float64)
	for _, row := range c.Rows {
		for _, outcome := range outcomes {
			if v, ok := row.Outcome(outcome); ok {
				k := groupKey{row.Treated, row.Pre, outcome}
				values[k] = append(values[k], v)
			}
		}
	}

	out := make([]PrePostMean, 0, 4*len(outcomes))
	for _, outcome := range outcomes {
		for _, treated := range []bool{true, false} {
			for _, pre := range []bool{true, false} {
				cell := PrePostMean{
					Group:   GroupControl,
					Period:  PeriodPost,
					Outcome: outcome,
				}
				if treated {
					cell.Group = GroupPolicy
				}
				if pre {
					cell.Period = PeriodPre
				}

				vs := values[groupKey{treated, pre, outcome}]
				cell.N = len(vs)
				if len(vs) > 0 {
					mean := stat.Mean(vs, nil)
					cell.Mean = &mean
				}
				out = append(out, cell)
			}
		}
	}
	return out
}
