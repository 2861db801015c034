package panel

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "rxpanel/internal/errors"
)

func testBuilder(cfg BuildConfig) *Builder {
	return NewBuilder(cfg, testLogger())
}

func TestMerge_PopulationGridIsAuthority(t *testing.T) {
	src := &Sources{
		Population: []PopulationRow{
			{CountyCode: "01001", StateCode: "AL", Year: 2006, Population: 51328},
			{CountyCode: "01001", StateCode: "AL", Year: 2007, Population: 51910},
			{CountyCode: "12003", StateCode: "FL", Year: 2006, Population: 27538},
		},
		Mortality: []MortalityRow{
			{CountyCode: "01001", Year: 2006, Deaths: 12},
			{CountyCode: "99999", Year: 2006, Deaths: 5}, // no population cell
		},
		Shipments: []ShipmentRow{
			{CountyCode: "01001", Year: 2006, MME: 1500.5},
			{CountyCode: "01001", Year: 2007, MME: 1600.0},
		},
	}

	b := testBuilder(BuildConfig{YearMin: 2006, YearMax: 2015})
	p, err := b.merge(context.Background(), src)
	require.NoError(t, err)
	require.Equal(t, 3, p.Len())

	first := p.Rows[0]
	assert.Equal(t, "01001/2006", first.Key())
	require.NotNil(t, first.Mortality)
	assert.Equal(t, 12, *first.Mortality)
	require.NotNil(t, first.ShipmentMME)
	assert.Equal(t, 1500.5, *first.ShipmentMME)

	// 01001/2007 has shipments but suppressed mortality
	second := p.Rows[1]
	assert.Nil(t, second.Mortality)
	require.NotNil(t, second.ShipmentMME)

	// 12003/2006 has neither
	third := p.Rows[2]
	assert.Nil(t, third.Mortality)
	assert.Nil(t, third.ShipmentMME)

	// the orphan mortality county never materializes a row
	for i := range p.Rows {
		assert.NotEqual(t, "99999", p.Rows[i].CountyCode)
	}
}

func TestMerge_YearWindowFiltersAllInputs(t *testing.T) {
	src := &Sources{
		Population: []PopulationRow{
			{CountyCode: "01001", StateCode: "AL", Year: 2005, Population: 50000},
			{CountyCode: "01001", StateCode: "AL", Year: 2006, Population: 51328},
			{CountyCode: "01001", StateCode: "AL", Year: 2016, Population: 55000},
		},
		Mortality: []MortalityRow{
			{CountyCode: "01001", Year: 2005, Deaths: 9},
			{CountyCode: "01001", Year: 2006, Deaths: 12},
		},
	}

	b := testBuilder(BuildConfig{YearMin: 2006, YearMax: 2015})
	p, err := b.merge(context.Background(), src)
	require.NoError(t, err)
	require.Equal(t, 1, p.Len())
	assert.Equal(t, 2006, p.Rows[0].Year)
}

func TestMerge_DuplicateKeyIsFatal(t *testing.T) {
	tests := []struct {
		name string
		src  *Sources
		file string
	}{
		{
			name: "population",
			src: &Sources{
				Population: []PopulationRow{
					{CountyCode: "01001", StateCode: "AL", Year: 2006, Population: 51328},
					{CountyCode: "01001", StateCode: "AL", Year: 2006, Population: 51329},
				},
				PopulationPath: "population.csv",
			},
			file: "population.csv",
		},
		{
			name: "mortality",
			src: &Sources{
				Population: []PopulationRow{
					{CountyCode: "01001", StateCode: "AL", Year: 2006, Population: 51328},
				},
				Mortality: []MortalityRow{
					{CountyCode: "01001", Year: 2006, Deaths: 12},
					{CountyCode: "01001", Year: 2006, Deaths: 13},
				},
				MortalityPath: "mortality.csv",
			},
			file: "mortality.csv",
		},
		{
			name: "shipments",
			src: &Sources{
				Population: []PopulationRow{
					{CountyCode: "01001", StateCode: "AL", Year: 2006, Population: 51328},
				},
				Shipments: []ShipmentRow{
					{CountyCode: "01001", Year: 2006, MME: 100},
					{CountyCode: "01001", Year: 2006, MME: 200},
				},
				ShipmentsPath: "shipments.csv",
			},
			file: "shipments.csv",
		},
	}

	b := testBuilder(BuildConfig{YearMin: 2006, YearMax: 2015})
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := b.merge(context.Background(), tt.src)
			require.Error(t, err)

			var appErr *apperrors.AppError
			require.ErrorAs(t, err, &appErr)
			assert.Equal(t, apperrors.ErrTypeInput, appErr.Type)
			assert.Equal(t, tt.file, appErr.Context["file"])
			assert.Equal(t, "01001/2006", appErr.Context["key"])
		})
	}
}

func TestMerge_EmptyWindowIsFatal(t *testing.T) {
	src := &Sources{
		Population: []PopulationRow{
			{CountyCode: "01001", StateCode: "AL", Year: 1999, Population: 50000},
		},
	}

	b := testBuilder(BuildConfig{YearMin: 2006, YearMax: 2015})
	_, err := b.merge(context.Background(), src)
	require.Error(t, err)

	var appErr *apperrors.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, apperrors.ErrTypeInput, appErr.Type)
}
