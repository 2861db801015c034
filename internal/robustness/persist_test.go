package robustness

import (
	"encoding/csv"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rxpanel/internal/panel"
)

func TestSaveChecksCSV(t *testing.T) {
	nan := math.NaN()
	results := []CheckResult{
		{
			CaseName:         "florida",
			Check:            CheckWeighted,
			Outcome:          panel.OutcomeMortalityRate,
			BaselineEstimate: -2.5,
			BaselinePValue:   0.01,
			Estimate:         -2.25,
			PValue:           0.02,
			Delta:            0.25,
			Verdict:          VerdictRobust,
		},
		{
			CaseName:         "florida",
			Check:            CheckPlacebo,
			Outcome:          panel.OutcomeShipmentRate,
			BaselineEstimate: nan,
			BaselinePValue:   nan,
			Estimate:         nan,
			PValue:           nan,
			Delta:            nan,
			Verdict:          VerdictInconclusive,
			Failure:          "design matrix is rank deficient",
		},
	}

	path := filepath.Join(t.TempDir(), "tables", "robustness_checks.csv")
	require.NoError(t, SaveChecksCSV(results, path))

	file, err := os.Open(path)
	require.NoError(t, err)
	defer file.Close()
	rows, err := csv.NewReader(file).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3)

	assert.Equal(t, []string{
		"case", "check", "outcome",
		"baseline_estimate", "baseline_p_value",
		"estimate", "p_value", "delta",
		"verdict", "fit_failure",
	}, rows[0])

	assert.Equal(t, []string{
		"florida", "population_weighted", "mortality_rate_per_100k",
		"-2.5", "0.01", "-2.25", "0.02", "0.25", "Robust", "",
	}, rows[1])

	// NaN statistics serialize as empty cells
	assert.Equal(t, []string{
		"florida", "placebo", "shipment_rate_per_100k",
		"", "", "", "", "", "Inconclusive", "design matrix is rank deficient",
	}, rows[2])
}

func TestFormatStat(t *testing.T) {
	assert.Equal(t, "-2.5", formatStat(-2.5))
	assert.Equal(t, "", formatStat(math.NaN()))
	assert.Equal(t, "", formatStat(math.Inf(1)))
}
