package regress

import (
	"fmt"
	"sort"

	"gonum.org/v1/gonum/mat"

	"rxpanel/internal/errors"
	"rxpanel/internal/panel"
)

// Design is an assembled regression problem: response, explicit
// design matrix with labeled columns, and the county cluster
// assignment per row.
type Design struct {
	Y         []float64
	X         *mat.Dense
	Labels    []string
	Clusters  []int
	NClusters int

	// Weights holds per-row weights for a weighted fit; nil means
	// ordinary least squares
	Weights []float64

	// Target is the label of the coefficient of interest
	Target string
}

// N returns the number of rows in the design
func (d *Design) N() int {
	return len(d.Y)
}

// K returns the number of columns in the design
func (d *Design) K() int {
	return len(d.Labels)
}

// TargetFor returns the coefficient-of-interest label for a spec
func TargetFor(spec string) string {
	if spec == SpecTrend {
		return LabelPostTrendTreated
	}
	return LabelPostTreated
}

// BuildDesign constructs the design matrix for one cohort, outcome,
// and specification. Rows whose outcome is unknown are dropped from
// this design only. Indicator columns are composed directly: county
// fixed effects always, year fixed effects for the levels spec, and
// the treatment interactions by explicit label.
//
// The levels spec is outcome ~ post x treated + county FE + year FE;
// the post main effect is collinear with the year dummies and is left
// absorbed by them. The trend spec is outcome ~ t + t x treated +
// post + post x treated + post x t + post x t x treated + county FE,
// with t centered on the policy year.
//
// When weighted is set, each row carries its county-year population
// as the fit weight.
func BuildDesign(c *panel.Cohort, outcome, spec string, weighted bool) (*Design, error) {
	if spec != SpecLevels && spec != SpecTrend {
		return nil, errors.NewModelFitError(fmt.Sprintf("unknown specification %q", spec), nil)
	}

	type row struct {
		y       float64
		county  string
		year    int
		treated bool
		post    bool
		weight  float64
	}

	var rows []row
	countySet := make(map[string]bool)
	yearSet := make(map[int]bool)
	for i := range c.Rows {
		cr := &c.Rows[i]
		y, ok := cr.Outcome(outcome)
		if !ok {
			continue
		}
		rows = append(rows, row{
			y:       y,
			county:  cr.CountyCode,
			year:    cr.Year,
			treated: cr.Treated,
			post:    !cr.Pre,
			weight:  float64(cr.Population),
		})
		countySet[cr.CountyCode] = true
		yearSet[cr.Year] = true
	}
	if len(rows) == 0 {
		return nil, errors.NewModelFitError("no observations carry the outcome", nil).
			WithContext("outcome", outcome)
	}

	counties := make([]string, 0, len(countySet))
	for county := range countySet {
		counties = append(counties, county)
	}
	sort.Strings(counties)
	countyIndex := make(map[string]int, len(counties))
	for i, county := range counties {
		countyIndex[county] = i
	}

	years := make([]int, 0, len(yearSet))
	for year := range yearSet {
		years = append(years, year)
	}
	sort.Ints(years)

	labels := []string{"intercept"}
	if spec == SpecLevels {
		labels = append(labels, LabelPostTreated)
	} else {
		labels = append(labels,
			LabelTrend, LabelTrendTreated,
			LabelPost, LabelPostTreated,
			LabelPostTrend, LabelPostTrendTreated,
		)
	}
	// drop-first encoding: the first county (and year) is the reference
	for _, county := range counties[1:] {
		labels = append(labels, "county_"+county)
	}
	if spec == SpecLevels {
		for _, year := range years[1:] {
			labels = append(labels, fmt.Sprintf("year_%d", year))
		}
	}

	n, k := len(rows), len(labels)
	x := mat.NewDense(n, k, nil)
	y := make([]float64, n)
	clusters := make([]int, n)
	weights := make([]float64, n)

	yearPos := make(map[int]int, len(years))
	countyOffset := len(labels) - (len(counties) - 1)
	if spec == SpecLevels {
		countyOffset -= len(years) - 1
		for i, year := range years[1:] {
			yearPos[year] = countyOffset + (len(counties) - 1) + i
		}
	}

	for i, r := range rows {
		y[i] = r.y
		clusters[i] = countyIndex[r.county]
		weights[i] = r.weight

		x.Set(i, 0, 1)
		post := b2f(r.post)
		postTreated := b2f(r.post && r.treated)
		if spec == SpecLevels {
			x.Set(i, 1, postTreated)
		} else {
			t := float64(r.year - c.Case.PolicyYear)
			treated := b2f(r.treated)
			x.Set(i, 1, t)
			x.Set(i, 2, t*treated)
			x.Set(i, 3, post)
			x.Set(i, 4, postTreated)
			x.Set(i, 5, post*t)
			x.Set(i, 6, post*t*treated)
		}
		if ci := countyIndex[r.county]; ci > 0 {
			x.Set(i, countyOffset+ci-1, 1)
		}
		if spec == SpecLevels && r.year != years[0] {
			x.Set(i, yearPos[r.year], 1)
		}
	}

	d := &Design{
		Y:         y,
		X:         x,
		Labels:    labels,
		Clusters:  clusters,
		NClusters: len(counties),
		Target:    TargetFor(spec),
	}
	if weighted {
		d.Weights = weights
	}
	return d, nil
}

func b2f(v bool) float64 {
	if v {
		return 1
	}
	return 0
}
