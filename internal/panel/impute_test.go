package panel

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "rxpanel/internal/errors"
)

// imputeFixture: two observed counties with rates 20 and 10 per 100k,
// so the global average rate is 15
func imputeFixture(missing ...Observation) *Panel {
	rows := []Observation{
		{CountyCode: "01001", StateCode: "AL", Year: 2006, Population: 100000, Mortality: intp(20)},
		{CountyCode: "13001", StateCode: "GA", Year: 2006, Population: 50000, Mortality: intp(5)},
	}
	rows = append(rows, missing...)
	return NewPanel(rows)
}

func TestImpute_GlobalRate(t *testing.T) {
	p := imputeFixture(obs("01003", "AL", 2006, 40000))

	b := testBuilder(BuildConfig{Impute: true, ImputeCeiling: 9, RatePolicy: RatePolicyGlobal})
	report, err := b.impute(context.Background(), p)
	require.NoError(t, err)

	assert.Equal(t, 2, report.ObservedRows)
	assert.Equal(t, 1, report.ImputedCells)
	assert.Equal(t, 15.0, report.GlobalRate)
	assert.False(t, report.Degenerate)

	filled := findRow(t, p, "01003", 2006)
	require.NotNil(t, filled.Mortality)
	assert.Equal(t, 6, *filled.Mortality) // round(15 * 40000 / 100k)
	assert.True(t, filled.Imputed)

	// observed rows untouched
	observed := findRow(t, p, "01001", 2006)
	assert.Equal(t, 20, *observed.Mortality)
	assert.False(t, observed.Imputed)
}

func TestImpute_RoundsHalfAwayFromZero(t *testing.T) {
	p := imputeFixture(obs("01003", "AL", 2006, 30000)) // 15 * 0.3 = 4.5

	b := testBuilder(BuildConfig{Impute: true, ImputeCeiling: 9, RatePolicy: RatePolicyGlobal})
	_, err := b.impute(context.Background(), p)
	require.NoError(t, err)

	filled := findRow(t, p, "01003", 2006)
	require.NotNil(t, filled.Mortality)
	assert.Equal(t, 5, *filled.Mortality)
}

func TestImpute_CeilingClips(t *testing.T) {
	p := imputeFixture(obs("01003", "AL", 2006, 100000)) // raw fill would be 15

	b := testBuilder(BuildConfig{Impute: true, ImputeCeiling: 9, RatePolicy: RatePolicyGlobal})
	report, err := b.impute(context.Background(), p)
	require.NoError(t, err)

	assert.Equal(t, 1, report.CeilingClipped)
	filled := findRow(t, p, "01003", 2006)
	assert.Equal(t, 9, *filled.Mortality)
}

func TestImpute_StateRatePolicy(t *testing.T) {
	p := imputeFixture(
		obs("01003", "AL", 2006, 40000), // AL rate 20 -> fill 8
		obs("47001", "TN", 2006, 40000), // TN unobserved -> global 15 -> fill 6
	)

	b := testBuilder(BuildConfig{Impute: true, ImputeCeiling: 9, RatePolicy: RatePolicyState})
	report, err := b.impute(context.Background(), p)
	require.NoError(t, err)

	assert.Equal(t, 20.0, report.StateRates["AL"])
	assert.Equal(t, 10.0, report.StateRates["GA"])

	assert.Equal(t, 8, *findRow(t, p, "01003", 2006).Mortality)
	assert.Equal(t, 6, *findRow(t, p, "47001", 2006).Mortality)
}

func TestImpute_DegenerateLeavesCellsEmpty(t *testing.T) {
	p := NewPanel([]Observation{
		obs("01001", "AL", 2006, 50000),
		obs("01001", "AL", 2007, 50000),
	})

	b := testBuilder(BuildConfig{Impute: true, ImputeCeiling: 9, RatePolicy: RatePolicyGlobal})
	report, err := b.impute(context.Background(), p)
	require.NoError(t, err)

	assert.True(t, report.Degenerate)
	assert.Equal(t, 0, report.ImputedCells)
	for i := range p.Rows {
		assert.Nil(t, p.Rows[i].Mortality)
		assert.False(t, p.Rows[i].Imputed)
	}
}

func TestImpute_SecondPassIsNoop(t *testing.T) {
	p := imputeFixture(obs("01003", "AL", 2006, 40000))

	b := testBuilder(BuildConfig{Impute: true, ImputeCeiling: 9, RatePolicy: RatePolicyGlobal})
	first, err := b.impute(context.Background(), p)
	require.NoError(t, err)
	require.Equal(t, 1, first.ImputedCells)

	second, err := b.impute(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, 0, second.ImputedCells)
}

func TestImpute_UnknownPolicy(t *testing.T) {
	p := imputeFixture()

	b := testBuilder(BuildConfig{Impute: true, RatePolicy: "county"})
	_, err := b.impute(context.Background(), p)
	require.Error(t, err)

	var appErr *apperrors.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, apperrors.ErrTypeImputation, appErr.Type)
}

func findRow(t *testing.T, p *Panel, county string, year int) *Observation {
	t.Helper()
	for i := range p.Rows {
		if p.Rows[i].CountyCode == county && p.Rows[i].Year == year {
			return &p.Rows[i]
		}
	}
	t.Fatalf("row %s/%d not in panel", county, year)
	return nil
}
