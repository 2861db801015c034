package panel

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func summaryFixture() *Cohort {
	mk := func(county, state string, year, pop, deaths int, mortRate, shipRate float64, treated, pre bool) CohortRow {
		o := obs(county, state, year, pop)
		o.Mortality = intp(deaths)
		o.MortalityRate = fp(mortRate)
		o.ShipmentRate = fp(shipRate)
		return CohortRow{Observation: o, Treated: treated, Pre: pre}
	}

	return &Cohort{
		Case: PolicyCase{Name: "florida", PolicyState: "FL", PolicyYear: 2010, ComparisonStates: []string{"GA"}},
		Rows: []CohortRow{
			mk("12073", "FL", 2009, 50000, 10, 20.0, 900.0, true, true),
			mk("12086", "FL", 2009, 50000, 5, 10.0, 1100.0, true, true),
			mk("12073", "FL", 2010, 50000, 15, 30.0, 700.0, true, false),
			mk("12086", "FL", 2010, 50000, 10, 20.0, 800.0, true, false),
			mk("13001", "GA", 2009, 40000, 6, 15.0, 700.0, false, true),
			mk("13001", "GA", 2010, 40000, 7, 18.0, 750.0, false, false),
		},
	}
}

func TestSummarizeStateYears(t *testing.T) {
	outcomes := []string{OutcomeMortalityRate, OutcomeShipmentRate}
	stats := SummarizeStateYears(summaryFixture(), outcomes, 0.95)

	// 2 states x 2 years x 2 outcomes
	require.Len(t, stats, 8)

	// sorted by state, year, outcome
	assert.Equal(t, "FL", stats[0].StateCode)
	assert.Equal(t, 2009, stats[0].Year)
	assert.Equal(t, OutcomeMortalityRate, stats[0].Outcome)

	fl2009 := stats[0]
	assert.True(t, fl2009.Treated)
	assert.Equal(t, 2, fl2009.N)
	require.NotNil(t, fl2009.Mean)
	assert.Equal(t, 15.0, *fl2009.Mean)
	require.NotNil(t, fl2009.SE)
	assert.InDelta(t, 5.0, *fl2009.SE, 1e-9)
	require.NotNil(t, fl2009.CILow)
	assert.InDelta(t, 5.2002, *fl2009.CILow, 1e-3)
	assert.InDelta(t, 24.7998, *fl2009.CIHigh, 1e-3)

	assert.Equal(t, 15, fl2009.TotalDeaths)
	assert.Equal(t, 100000, fl2009.TotalPopulation)
	require.NotNil(t, fl2009.AggregateRate)
	assert.Equal(t, 15.0, *fl2009.AggregateRate)

	// single-county state has a mean but no standard error
	var ga2009 StateYearStat
	for _, s := range stats {
		if s.StateCode == "GA" && s.Year == 2009 && s.Outcome == OutcomeMortalityRate {
			ga2009 = s
		}
	}
	assert.False(t, ga2009.Treated)
	assert.Equal(t, 1, ga2009.N)
	require.NotNil(t, ga2009.Mean)
	assert.Equal(t, 15.0, *ga2009.Mean)
	assert.Nil(t, ga2009.SE)
	assert.Nil(t, ga2009.CILow)
}

func TestSummarizePrePost(t *testing.T) {
	outcomes := []string{OutcomeMortalityRate, OutcomeShipmentRate}
	means := SummarizePrePost(summaryFixture(), outcomes)

	// 4 group cells per outcome
	require.Len(t, means, 8)

	byCell := make(map[string]PrePostMean)
	for _, m := range means {
		byCell[m.Outcome+"/"+m.Group+"/"+m.Period] = m
	}

	policyPre := byCell[OutcomeMortalityRate+"/policy/pre"]
	assert.Equal(t, 2, policyPre.N)
	require.NotNil(t, policyPre.Mean)
	assert.Equal(t, 15.0, *policyPre.Mean)

	policyPost := byCell[OutcomeMortalityRate+"/policy/post"]
	assert.Equal(t, 25.0, *policyPost.Mean)

	controlPre := byCell[OutcomeMortalityRate+"/control/pre"]
	assert.Equal(t, 15.0, *controlPre.Mean)

	controlPost := byCell[OutcomeMortalityRate+"/control/post"]
	assert.Equal(t, 18.0, *controlPost.Mean)

	shipPolicyPre := byCell[OutcomeShipmentRate+"/policy/pre"]
	assert.Equal(t, 1000.0, *shipPolicyPre.Mean)
}

func TestSummarizePrePost_EmptyCellHasNoMean(t *testing.T) {
	c := &Cohort{
		Case: PolicyCase{Name: "x", PolicyState: "FL", PolicyYear: 2010, ComparisonStates: []string{"GA"}},
		Rows: []CohortRow{
			{Observation: Observation{StateCode: "FL", Year: 2009, MortalityRate: fp(10)}, Treated: true, Pre: true},
		},
	}

	means := SummarizePrePost(c, []string{OutcomeMortalityRate})
	require.Len(t, means, 4)
	for _, m := range means {
		if m.Group == GroupPolicy && m.Period == PeriodPre {
			assert.Equal(t, 1, m.N)
			continue
		}
		assert.Equal(t, 0, m.N)
		assert.Nil(t, m.Mean)
	}
}
