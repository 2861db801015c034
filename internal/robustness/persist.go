package robustness

import (
	"encoding/csv"
	"math"
	"os"
	"path/filepath"
	"strconv"

	"rxpanel/internal/errors"
)

// SaveChecksCSV writes the robustness-results table, one row per
// (case, check, outcome). Rows whose fit failed keep empty statistic
// cells and the failure reason.
func SaveChecksCSV(results []CheckResult, outputPath string) error {
	if err := os.MkdirAll(filepath.Dir(outputPath), 0o755); err != nil {
		return errors.NewStorageError("create output directory", err).WithContext("file", outputPath)
	}
	file, err := os.Create(outputPath)
	if err != nil {
		return errors.NewStorageError("create robustness file", err).WithContext("file", outputPath)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{
		"case", "check", "outcome",
		"baseline_estimate", "baseline_p_value",
		"estimate", "p_value", "delta",
		"verdict", "fit_failure",
	}
	if err := writer.Write(header); err != nil {
		return errors.NewStorageError("write robustness header", err).WithContext("file", outputPath)
	}

	for _, r := range results {
		record := []string{
			r.CaseName,
			r.Check,
			r.Outcome,
			formatStat(r.BaselineEstimate),
			formatStat(r.BaselinePValue),
			formatStat(r.Estimate),
			formatStat(r.PValue),
			formatStat(r.Delta),
			r.Verdict,
			r.Failure,
		}
		if err := writer.Write(record); err != nil {
			return errors.NewStorageError("write robustness row", err).
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
