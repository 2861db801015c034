package panel

import (
	"fmt"
	"sort"
	"strings"
)

// RateScale converts a count per population into a rate per 100,000
const RateScale = 100000.0

// Observation is one county-year cell of the panel. Mortality and
// shipment fields are nil while unknown; a nil mortality count means
// the source value was suppressed, never that it was zero.
type Observation struct {
	CountyCode    string
	StateCode     string
	Year          int
	Population    int
	Mortality     *int
	ShipmentMME   *float64
	Pills         *float64
	MortalityRate *float64
	ShipmentRate  *float64
	Imputed       bool
}

// Key returns the (county, year) identity of the observation
func (o *Observation) Key() string {
	return fmt.Sprintf("%s/%d", o.CountyCode, o.Year)
}

// HasMortality reports whether the mortality count is known, observed
// or imputed
func (o *Observation) HasMortality() bool {
	return o.Mortality != nil
}

// HasShipment reports whether the shipment volume is known
func (o *Observation) HasShipment() bool {
	return o.ShipmentMME != nil
}

// Panel is the assembled county-year dataset: exactly one observation
// per (county, year), ordered by county then year.
type Panel struct {
	Rows []Observation
}

// NewPanel wraps rows into a panel, sorting them into canonical order
func NewPanel(rows []Observation) *Panel {
	p := &Panel{Rows: rows}
	p.sortRows()
	return p
}

func (p *Panel) sortRows() {
	sort.Slice(p.Rows, func(i, j int) bool {
		if p.Rows[i].CountyCode == p.Rows[j].CountyCode {
			return p.Rows[i].Year < p.Rows[j].Year
		}
		return p.Rows[i].CountyCode < p.Rows[j].CountyCode
	})
}

// Len returns the number of observations
func (p *Panel) Len() int {
	return len(p.Rows)
}

// Counties returns the distinct county codes in panel order
func (p *Panel) Counties() []string {
	var counties []string
	seen := make(map[string]bool)
	for i := range p.Rows {
		if !seen[p.Rows[i].CountyCode] {
			seen[p.Rows[i].CountyCode] = true
			counties = append(counties, p.Rows[i].CountyCode)
		}
	}
	return counties
}

// ByCounty groups row indices by county code
func (p *Panel) ByCounty() map[string][]int {
	groups := make(map[string][]int)
	for i := range p.Rows {
		groups[p.Rows[i].CountyCode] = append(groups[p.Rows[i].CountyCode], i)
	}
	return groups
}

// Clone returns a deep copy of the panel
func (p *Panel) Clone() *Panel {
	rows := make([]Observation, len(p.Rows))
	for i := range p.Rows {
		rows[i] = cloneObservation(&p.Rows[i])
	}
	return &Panel{Rows: rows}
}

func cloneObservation(o *Observation) Observation {
	c := *o
	c.Mortality = cloneInt(o.Mortality)
	c.ShipmentMME = cloneFloat(o.ShipmentMME)
	c.Pills = cloneFloat(o.Pills)
	c.MortalityRate = cloneFloat(o.MortalityRate)
	c.ShipmentRate = cloneFloat(o.ShipmentRate)
	return c
}

func cloneInt(v *int) *int {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

func cloneFloat(v *float64) *float64 {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

// CountySummary describes one county's suppression profile, used by
// the filter and reported in diagnostics.
type CountySummary struct {
	CountyCode      string
	StateCode       string
	Years           int
	MissingYears    int
	SuppressionRate float64
	MedianPop       float64
	Kept            bool
}

// PolicyCase names a treated state, its policy year, and the fixed
// comparison states used as controls.
type PolicyCase struct {
	Name             string
	PolicyState      string
	PolicyYear       int
	ComparisonStates []string
}

// States returns the cohort state set, treated state first
func (pc *PolicyCase) States() []string {
	states := make([]string, 0, len(pc.ComparisonStates)+1)
	states = append(states, pc.PolicyState)
	states = append(states, pc.ComparisonStates...)
	return states
}

// String renders the case for logs
func (pc *PolicyCase) String() string {
	return fmt.Sprintf("%s (%s %d vs %s)", pc.Name, pc.PolicyState, pc.PolicyYear,
		strings.Join(pc.ComparisonStates, ","))
}

// CohortRow is one estimation-ready row of a policy-case subpanel
type CohortRow struct {
	Observation
	Treated bool
	Pre     bool
}

// Cohort is the read-only projection of the panel for one policy case.
// Rows missing shipment data are already removed; rows missing a
// mortality outcome remain and drop out per regression instead.
type Cohort struct {
	Case PolicyCase
	Rows []CohortRow
}

// Len returns the number of cohort rows
func (c *Cohort) Len() int {
	return len(c.Rows)
}

// Counties returns the distinct county codes in the cohort
func (c *Cohort) Counties() []string {
	var counties []string
	seen := make(map[string]bool)
	for i := range c.Rows {
		if !seen[c.Rows[i].CountyCode] {
			seen[c.Rows[i].CountyCode] = true
			counties = append(counties, c.Rows[i].CountyCode)
		}
	}
	sort.Strings(counties)
	return counties
}

// Outcome extracts the named outcome value for a row. The second
// return is false when the outcome is unknown for that row.
func (r *CohortRow) Outcome(name string) (float64, bool) {
	switch name {
	case OutcomeMortalityRate:
		if r.MortalityRate == nil {
			return 0, false
		}
		return *r.MortalityRate, true
	case OutcomeShipmentRate:
		if r.ShipmentRate == nil {
			return 0, false
		}
		return *r.ShipmentRate, true
	default:
		return 0, false
	}
}

// Outcome column names shared by the estimator and the artifacts
const (
	OutcomeMortalityRate = "mortality_rate_per_100k"
	OutcomeShipmentRate  = "shipment_rate_per_100k"
)

// KnownOutcome reports whether name is a recognized outcome column
func KnownOutcome(name string) bool {
	return name == OutcomeMortalityRate || name == OutcomeShipmentRate
}
