package panel

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "rxpanel/internal/errors"
)

// observedPanel builds a county with one row per year; years listed in
// missing get no mortality count
func observedPanel(t *testing.T, counties map[string]struct {
	state   string
	pops    []int
	missing map[int]bool
}) *Panel {
	t.Helper()
	var rows []Observation
	for county, spec := range counties {
		for i, pop := range spec.pops {
			year := 2006 + i
			o := obs(county, spec.state, year, pop)
			if !spec.missing[year] {
				o.Mortality = intp(10)
			}
			rows = append(rows, o)
		}
	}
	return NewPanel(rows)
}

func TestFilter_MedianPopulationInterpolates(t *testing.T) {
	p := observedPanel(t, map[string]struct {
		state   string
		pops    []int
		missing map[int]bool
	}{
		"01001": {state: "AL", pops: []int{10000, 20000, 30000, 40000}},
	})

	b := testBuilder(BuildConfig{YearMin: 2006, YearMax: 2015, PopulationCutoff: 26000})
	_, summaries, err := b.filter(context.Background(), p)
	require.Error(t, err) // single county below cutoff leaves nothing
	_ = summaries

	b = testBuilder(BuildConfig{YearMin: 2006, YearMax: 2015, PopulationCutoff: 25000})
	filtered, summaries, err := b.filter(context.Background(), p)
	require.NoError(t, err)
	require.Len(t, summaries, 1)
	assert.Equal(t, 25000.0, summaries[0].MedianPop)
	assert.True(t, summaries[0].Kept)
	assert.Equal(t, 4, filtered.Len())
}

func TestFilter_SuppressionRateCutoff(t *testing.T) {
	p := observedPanel(t, map[string]struct {
		state   string
		pops    []int
		missing map[int]bool
	}{
		// half the years suppressed
		"01001": {state: "AL", pops: []int{60000, 60000, 60000, 60000}, missing: map[int]bool{2006: true, 2007: true}},
		// fully observed
		"01003": {state: "AL", pops: []int{60000, 60000, 60000, 60000}},
	})

	b := testBuilder(BuildConfig{YearMin: 2006, YearMax: 2015, SuppressionCutoff: 0.40})
	filtered, summaries, err := b.filter(context.Background(), p)
	require.NoError(t, err)
	require.Len(t, summaries, 2)

	bySummary := make(map[string]CountySummary)
	for _, s := range summaries {
		bySummary[s.CountyCode] = s
	}
	assert.Equal(t, 0.5, bySummary["01001"].SuppressionRate)
	assert.False(t, bySummary["01001"].Kept)
	assert.Equal(t, 0.0, bySummary["01003"].SuppressionRate)
	assert.True(t, bySummary["01003"].Kept)

	assert.Equal(t, []string{"01003"}, filtered.Counties())
}

func TestFilter_ZeroCutoffsDisableScreens(t *testing.T) {
	p := observedPanel(t, map[string]struct {
		state   string
		pops    []int
		missing map[int]bool
	}{
		"01001": {state: "AL", pops: []int{100, 100}, missing: map[int]bool{2006: true, 2007: true}},
	})

	b := testBuilder(BuildConfig{YearMin: 2006, YearMax: 2015})
	filtered, summaries, err := b.filter(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, 2, filtered.Len())
	require.Len(t, summaries, 1)
	assert.True(t, summaries[0].Kept)
	assert.Equal(t, 1.0, summaries[0].SuppressionRate)
}

func TestFilter_NothingSurvivesIsFatal(t *testing.T) {
	p := observedPanel(t, map[string]struct {
		state   string
		pops    []int
		missing map[int]bool
	}{
		"01001": {state: "AL", pops: []int{100, 100}},
	})

	b := testBuilder(BuildConfig{YearMin: 2006, YearMax: 2015, PopulationCutoff: 50000})
	_, _, err := b.filter(context.Background(), p)
	require.Error(t, err)

	var appErr *apperrors.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, apperrors.ErrTypeInput, appErr.Type)
}
