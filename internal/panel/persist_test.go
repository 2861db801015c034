package panel

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "rxpanel/internal/errors"
)

func artifactFixture() *Panel {
	full := Observation{
		CountyCode:    "01001",
		StateCode:     "AL",
		Year:          2006,
		Population:    51328,
		Mortality:     intp(12),
		ShipmentMME:   fp(1250000.5),
		Pills:         fp(480000),
		MortalityRate: fp(23.37897910134441),
		ShipmentRate:  fp(2435318.9682014647),
		Imputed:       false,
	}
	imputed := Observation{
		CountyCode:    "01001",
		StateCode:     "AL",
		Year:          2007,
		Population:    51910,
		Mortality:     intp(6),
		MortalityRate: fp(11.558466576767485),
		Imputed:       true,
	}
	sparse := obs("12003", "FL", 2006, 27538)
	return NewPanel([]Observation{full, imputed, sparse})
}

func TestPanelCSV_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "panel.csv")
	original := artifactFixture()

	require.NoError(t, SavePanelCSV(original, path))

	loaded, err := LoadPanelCSV(path)
	require.NoError(t, err)
	assert.Equal(t, original.Rows, loaded.Rows)
}

func TestSavePanelCSV_EmptyPanel(t *testing.T) {
	err := SavePanelCSV(NewPanel(nil), filepath.Join(t.TempDir(), "panel.csv"))
	require.Error(t, err)

	var appErr *apperrors.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, apperrors.ErrTypeStorage, appErr.Type)
}

func TestLoadPanelCSV_MissingColumn(t *testing.T) {
	path := filepath.Join(t.TempDir(), "panel.csv")
	require.NoError(t, os.WriteFile(path, []byte("county_code,year\n01001,2006\n"), 0o644))

	_, err := LoadPanelCSV(path)
	require.Error(t, err)

	var appErr *apperrors.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, apperrors.ErrTypeStorage, appErr.Type)
	assert.Equal(t, "state_code", appErr.Context["column"])
}

func TestSaveCohortCSV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "florida_cohort.csv")
	c := &Cohort{
		Case: PolicyCase{Name: "florida", PolicyState: "FL", PolicyYear: 2010, ComparisonStates: []string{"GA"}},
		Rows: []CohortRow{
			{
				Observation: Observation{
					CountyCode: "12073", StateCode: "FL", Year: 2009, Population: 50000,
					Mortality: intp(10), MortalityRate: fp(20), ShipmentMME: fp(450), ShipmentRate: fp(900),
				},
				Treated: true,
				Pre:     true,
			},
		},
	}

	require.NoError(t, SaveCohortCSV(c, path))

	rows := readCSVFile(t, path)
	require.Len(t, rows, 2)
	assert.Equal(t, "is_treated", rows[0][len(rows[0])-2])
	assert.Equal(t, "is_pre", rows[0][len(rows[0])-1])
	assert.Equal(t, "true", rows[1][len(rows[1])-2])
	assert.Equal(t, "true", rows[1][len(rows[1])-1])
	assert.Equal(t, "12073", rows[1][0])
}

func TestSaveCohortCSV_EmptyCohortWritesHeaderOnly(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty_cohort.csv")
	c := &Cohort{Case: PolicyCase{Name: "empty"}}

	require.NoError(t, SaveCohortCSV(c, path))

	rows := readCSVFile(t, path)
	require.Len(t, rows, 1)
	assert.Equal(t, "county_code", rows[0][0])
}

func TestSaveStateYearCSV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "florida_state_year.csv")
	stats := []StateYearStat{
		{
			StateCode: "FL", Year: 2009, Treated: true, Outcome: OutcomeMortalityRate,
			N: 2, Mean: fp(15), SE: fp(5), CILow: fp(5.2), CIHigh: fp(24.8),
			TotalDeaths: 15, TotalPopulation: 100000, AggregateRate: fp(15),
		},
		{
			StateCode: "GA", Year: 2009, Outcome: OutcomeMortalityRate,
			N: 1, Mean: fp(15), TotalDeaths: 6, TotalPopulation: 40000, AggregateRate: fp(15),
		},
	}

	require.NoError(t, SaveStateYearCSV(stats, path))

	rows := readCSVFile(t, path)
	require.Len(t, rows, 3)
	assert.Equal(t, []string{
		"state_code", "year", "is_treated", "outcome",
		"n", "mean", "se", "ci_low", "ci_high",
		"total_deaths", "total_population", "aggregate_death_rate_per_100k",
	}, rows[0])
	assert.Equal(t, "FL", rows[1][0])
	assert.Equal(t, "5", rows[1][6])
	// missing SE renders as an empty cell
	assert.Equal(t, "", rows[2][6])
}

func TestSavePrePostCSV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "florida_prepost_means.csv")
	means := []PrePostMean{
		{Group: GroupPolicy, Period: PeriodPre, Outcome: OutcomeMortalityRate, N: 2, Mean: fp(15)},
		{Group: GroupPolicy, Period: PeriodPost, Outcome: OutcomeMortalityRate, N: 2, Mean: fp(25)},
	}

	require.NoError(t, SavePrePostCSV(means, path))

	rows := readCSVFile(t, path)
	require.Len(t, rows, 3)
	assert.Equal(t, []string{"group", "period", "outcome", "n", "mean"}, rows[0])
	assert.Equal(t, []string{"policy", "pre", OutcomeMortalityRate, "2", "15"}, rows[1])
}

func readCSVFile(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	return rows
}
