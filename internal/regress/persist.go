package regress

import (
	"encoding/csv"
	"math"
	"os"
	"path/filepath"
	"strconv"

	"rxpanel/internal/errors"
)

// SaveResultsCSV writes the regression-results table. Failed fits keep
// their row with empty numeric cells and the failure reason, so every
// configured (case, outcome, spec) triple is accounted for.
func SaveResultsCSV(results []Result, outputPath string) error {
	if err := os.MkdirAll(filepath.Dir(outputPath), 0o755); err != nil {
		return errors.NewStorageError("create output directory", err).WithContext("file", outputPath)
	}
	file, err := os.Create(outputPath)
	if err != nil {
		return errors.NewStorageError("create results file", err).WithContext("file", outputPath)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{
		"case", "outcome", "spec", "coefficient",
		"estimate", "std_err", "t_stat", "p_value", "ci_low", "ci_high",
		"n_obs", "n_clusters", "r_squared",
		"level_shift_estimate", "level_shift_std_err", "level_shift_p_value",
		"fit_failure",
	}
	if err := writer.Write(header); err != nil {
		return errors.NewStorageError("write results header", err).WithContext("file", outputPath)
	}

	for _, r := range results {
		record := []string{
			r.CaseName,
			r.Outcome,
			r.Spec,
			r.Target.Label,
			formatStat(r.Target.Estimate),
			formatStat(r.Target.StdErr),
			formatStat(r.Target.TStat),
			formatStat(r.Target.PValue),
			formatStat(r.Target.CILow),
			formatStat(r.Target.CIHigh),
			strconv.Itoa(r.NObs),
			strconv.Itoa(r.NClusters),
			formatStat(r.RSquared),
		}
		if r.LevelShift != nil {
			record = append(record,
				formatStat(r.LevelShift.Estimate),
				formatStat(r.LevelShift.StdErr),
				formatStat(r.LevelShift.PValue),
			)
		} else {
			record = append(record, "", "", "")
		}
		record = append(record, r.Failure)

		if err := writer.Write(record); err != nil {
			return errors.NewStorageError("write results row", err).
				WithContext("file", outputPath).
				WithContext("case", r.CaseName)
		}
	}
	return nil
}

// formatStat renders a statistic at full precision; NaN and infinities
// become empty cells
func formatStat(v float64) string {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return ""
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}
